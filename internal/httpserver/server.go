package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/config"
	"github.com/radiusdt/vector-split/internal/database"
	"github.com/radiusdt/vector-split/internal/geo"
	"github.com/radiusdt/vector-split/internal/metrics"
	"github.com/radiusdt/vector-split/internal/models"
	"github.com/radiusdt/vector-split/internal/split"
	"github.com/radiusdt/vector-split/internal/storage"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers and split-testing services.
type Server struct {
	trackingService   *split.TrackingService
	reportingService  *split.ReportingService
	experimentService *split.ExperimentService
	logger            *zap.Logger
	config            *config.Config
	metrics           *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	// Initialize stores. PostgreSQL is the system of record; Redis
	// serves counters and assignments when PostgreSQL is absent; the
	// in-memory stores are the last resort.
	var counters storage.CounterStore
	var registry storage.AssignmentRegistry
	var repo storage.ExperimentRepo

	switch {
	case deps.DB != nil:
		counters = storage.NewPostgresCounterStore(deps.DB.Pool)
		registry = storage.NewPostgresAssignmentRegistry(deps.DB.Pool)
		repo = storage.NewPostgresExperimentRepo(deps.DB.Pool)
	case deps.Redis != nil:
		counters = storage.NewRedisCounterStore(deps.Redis.Client)
		registry = storage.NewRedisAssignmentRegistry(deps.Redis.Client)
		repo = storage.NewInMemoryExperimentRepo()
	default:
		counters = storage.NewInMemoryCounterStore()
		registry = storage.NewInMemoryAssignmentRegistry()
		repo = storage.NewInMemoryExperimentRepo()
	}

	var events storage.EventLog = storage.NopEventLog{}
	if deps.ClickHouse != nil {
		events = storage.NewClickHouseEventLog(deps.ClickHouse.Conn)
	}

	var geoProvider geo.Provider = geo.NopProvider{}
	if deps.Config.Geo.Enabled {
		p, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider, country resolution disabled", zap.Error(err))
		} else {
			geoProvider = p
		}
	}

	s := &Server{
		trackingService:   split.NewTrackingService(counters, registry, events, geoProvider, deps.Metrics, deps.Logger),
		reportingService:  split.NewReportingService(counters, registry, repo, deps.Config.Stats, deps.Metrics, deps.Logger),
		experimentService: split.NewExperimentService(repo, registry, deps.Metrics, deps.Logger),
		logger:            deps.Logger,
		config:            deps.Config,
		metrics:           deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tracking endpoints
	mux.HandleFunc("/track/impression", s.handleTrackImpression)
	mux.HandleFunc("/track/click", s.handleTrackClick)
	mux.HandleFunc("/track/conversion", s.handleTrackConversion)

	// Experiment management
	mux.HandleFunc("/experiments", s.handleExperiments)
	mux.HandleFunc("/experiments/active", s.handleActiveExperiments)
	mux.HandleFunc("/experiments/", s.handleExperimentSubroutes)

	// Admin
	mux.HandleFunc("/admin/assignments/", s.handlePurgeAssignments)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Tracking ----

func (s *Server) handleTrackImpression(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req split.ImpressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.UserAgent = r.UserAgent()
	req.IP = clientIP(r)

	result, err := s.trackingService.RecordImpression(r.Context(), req)
	if err != nil {
		s.serviceError(w, "failed to record impression", err)
		return
	}

	s.jsonResponse(w, result)
}

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req split.ClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.UserAgent = r.UserAgent()

	if err := s.trackingService.RecordClick(r.Context(), req); err != nil {
		s.serviceError(w, "failed to record click", err)
		return
	}

	s.jsonResponse(w, map[string]bool{"success": true})
}

func (s *Server) handleTrackConversion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req split.ConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.trackingService.RecordConversion(r.Context(), req); err != nil {
		s.serviceError(w, "failed to record conversion", err)
		return
	}

	s.jsonResponse(w, map[string]bool{"success": true})
}

// ---- Experiments CRUD ----

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.experimentService.List(r.Context())
		if err != nil {
			s.logger.Error("failed to list experiments", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var req split.CreateExperimentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		e, err := s.experimentService.Create(r.Context(), req)
		if err != nil {
			s.serviceError(w, "failed to create experiment", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(e)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActiveExperiments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	list, err := s.experimentService.ListActive(r.Context())
	if err != nil {
		s.logger.Error("failed to list active experiments", zap.Error(err))
		s.errorResponse(w, "failed to list", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, list)
}

// handleExperimentSubroutes dispatches /experiments/{id} and
// /experiments/{id}/{action}.
func (s *Server) handleExperimentSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/experiments/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]

	if len(parts) == 1 {
		s.handleExperimentByID(w, r, id)
		return
	}

	switch parts[1] {
	case "stats":
		s.handleExperimentStats(w, r, id)
	case "audit":
		s.handleExperimentAudit(w, r, id)
	case "start", "pause", "complete", "archive":
		s.handleExperimentTransition(w, r, id, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleExperimentByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		e, err := s.experimentService.Get(r.Context(), id)
		if err != nil {
			s.serviceError(w, "failed to get experiment", err)
			return
		}
		s.jsonResponse(w, e)

	case http.MethodPut:
		var e models.Experiment
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		e.ID = id
		if err := s.experimentService.Update(r.Context(), &e); err != nil {
			s.serviceError(w, "failed to update experiment", err)
			return
		}
		s.jsonResponse(w, e)

	case http.MethodDelete:
		if err := s.experimentService.Delete(r.Context(), id); err != nil {
			s.serviceError(w, "failed to delete experiment", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleExperimentStats(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dr := models.DateRange{
		Start: r.URL.Query().Get("start_date"),
		End:   r.URL.Query().Get("end_date"),
	}

	stats, err := s.reportingService.GetExperimentStats(r.Context(), id, dr)
	if err != nil {
		s.serviceError(w, "failed to get experiment stats", err)
		return
	}

	s.jsonResponse(w, stats)
}

func (s *Server) handleExperimentAudit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := s.reportingService.AuditExperiment(r.Context(), id)
	if err != nil {
		s.serviceError(w, "failed to audit experiment", err)
		return
	}

	s.jsonResponse(w, report)
}

func (s *Server) handleExperimentTransition(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var e *models.Experiment
	var err error
	switch action {
	case "start":
		e, err = s.experimentService.Start(r.Context(), id)
	case "pause":
		e, err = s.experimentService.Pause(r.Context(), id)
	case "complete":
		e, err = s.experimentService.Complete(r.Context(), id)
	case "archive":
		e, err = s.experimentService.Archive(r.Context(), id)
	}
	if err != nil {
		s.serviceError(w, "failed to "+action+" experiment", err)
		return
	}

	s.jsonResponse(w, e)
}

// ---- Admin ----

func (s *Server) handlePurgeAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/admin/assignments/")
	if userID == "" {
		s.errorResponse(w, "user_id required", http.StatusBadRequest)
		return
	}

	if err := s.experimentService.PurgeUserAssignments(r.Context(), userID); err != nil {
		s.serviceError(w, "failed to purge assignments", err)
		return
	}

	s.jsonResponse(w, map[string]bool{"success": true})
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serviceError maps service errors onto HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, split.ErrExperimentNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, split.ErrInvalidRequest), errors.Is(err, split.ErrInvalidTransition):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error(message, zap.Error(err))
		s.errorResponse(w, message, http.StatusInternalServerError)
	}
}

// clientIP extracts the originating client IP from proxy headers, with
// RemoteAddr as the fallback.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
