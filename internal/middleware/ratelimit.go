package middleware

import (
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/radiusdt/vector-split/internal/config"
	"github.com/radiusdt/vector-split/internal/metrics"
)

// RateLimitMiddleware applies token bucket limits. Tracking endpoints
// run against a high-throughput global bucket plus a per-client-IP
// bucket; management endpoints share one stricter bucket.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	trackLimiter *rate.Limiter
	mgmtLimiter  *rate.Limiter

	mu         sync.RWMutex
	ipLimiters map[string]*rate.Limiter
}

// NewRateLimitMiddleware creates a rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:          cfg,
		logger:       logger,
		trackLimiter: rate.NewLimiter(rate.Limit(cfg.TrackRPS), cfg.TrackBurst),
		mgmtLimiter:  rate.NewLimiter(rate.Limit(cfg.MgmtRPS), cfg.MgmtBurst),
		ipLimiters:   make(map[string]*rate.Limiter),
	}
}

// SetMetrics attaches the metrics registry for rejection counting.
func (rl *RateLimitMiddleware) SetMetrics(m *metrics.Metrics) {
	rl.metrics = m
}

// Handler wraps an http.Handler with rate limiting.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/track/") {
			if !rl.trackLimiter.Allow() {
				rl.reject(w, r, "global")
				return
			}
			ip := clientIP(r)
			if !rl.ipLimiter(ip).Allow() {
				rl.reject(w, r, ip)
				return
			}
		} else if !rl.mgmtLimiter.Allow() {
			rl.reject(w, r, "global")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ipLimiter returns the per-IP bucket, creating it at a tenth of the
// global tracking rate.
func (rl *RateLimitMiddleware) ipLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.ipLimiters[ip]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok = rl.ipLimiters[ip]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.cfg.TrackRPS/10), rl.cfg.TrackBurst/10)
	rl.ipLimiters[ip] = limiter
	return limiter
}

func (rl *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, scope string) {
	rl.logger.Warn("rate limit exceeded",
		zap.String("path", r.URL.Path),
		zap.String("scope", scope),
		zap.String("remote_addr", r.RemoteAddr),
	)
	if rl.metrics != nil {
		rl.metrics.RecordRateLimitHit(r.URL.Path, clientIP(r))
	}
	w.Header().Set("Retry-After", "1")
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// CleanupIPLimiters drops the per-IP buckets so the map cannot grow
// without bound. Wired to an hourly ticker in main.
func (rl *RateLimitMiddleware) CleanupIPLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.ipLimiters = make(map[string]*rate.Limiter)
	rl.logger.Debug("per-IP rate limiters reset")
}

// clientIP extracts the originating client IP, trusting proxy headers
// before RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i != -1 {
		addr = addr[:i]
	}
	return addr
}
