package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/config"
)

type contextKey string

// APIKeyContextKey carries the authenticated key through the request
// context.
const APIKeyContextKey contextKey = "api_key"

const (
	authHeader     = "X-API-Key"
	authQueryParam = "api_key"
)

// RecoveryMiddleware turns handler panics into 500 responses instead
// of killing the connection.
type RecoveryMiddleware struct {
	logger *zap.Logger
}

func NewRecoveryMiddleware(logger *zap.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

func (rm *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				rm.logger.Error("handler panic",
					zap.Any("panic", v),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs one line per request. Tracking and
// experiment routes get domain fields so a request can be traced back
// to its experiment.
type LoggingMiddleware struct {
	logger *zap.Logger
}

func NewLoggingMiddleware(logger *zap.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (l *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		}
		if id := experimentIDFromPath(r.URL.Path); id != "" {
			fields = append(fields, zap.String("experiment_id", id))
		}
		if strings.HasPrefix(r.URL.Path, "/track/") {
			fields = append(fields, zap.String("user_agent", r.UserAgent()))
		}

		msg := r.Method + " " + r.URL.Path
		switch {
		case rec.status >= 500:
			l.logger.Error(msg, fields...)
		case rec.status >= 400:
			l.logger.Warn(msg, fields...)
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			l.logger.Debug(msg, fields...)
		default:
			l.logger.Info(msg, fields...)
		}
	})
}

// experimentIDFromPath pulls the experiment ID out of
// /experiments/{id} and /experiments/{id}/{action} paths.
func experimentIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/experiments/")
	if !ok || rest == "" || rest == "active" {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// AuthMiddleware checks the master API key on management routes.
// Tracking endpoints, health and metrics stay open via SkipPaths.
type AuthMiddleware struct {
	cfg    config.AuthConfig
	logger *zap.Logger
}

func NewAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || a.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(authHeader)
		if key == "" {
			key = r.URL.Query().Get(authQueryParam)
		}
		if key == "" {
			w.Header().Set("WWW-Authenticate", "ApiKey")
			writeJSONError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.MasterKey)) != 1 {
			a.logger.Warn("API key rejected",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("WWW-Authenticate", "ApiKey")
			writeJSONError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), APIKeyContextKey, key)))
	})
}

func (a *AuthMiddleware) skipped(path string) bool {
	for _, prefix := range a.cfg.SkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
