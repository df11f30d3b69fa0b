package split

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/geo"
	"github.com/radiusdt/vector-split/internal/metrics"
	"github.com/radiusdt/vector-split/internal/models"
	"github.com/radiusdt/vector-split/internal/storage"
	"github.com/radiusdt/vector-split/internal/useragent"
)

// TrackingService ingests impressions, clicks and conversions. Writes
// go through the counter store as atomic increments; the raw event log
// and Prometheus metrics are best-effort side channels.
type TrackingService struct {
	counters storage.CounterStore
	registry storage.AssignmentRegistry
	events   storage.EventLog
	geo      geo.Provider
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewTrackingService creates a tracking service.
func NewTrackingService(
	counters storage.CounterStore,
	registry storage.AssignmentRegistry,
	events storage.EventLog,
	geoProvider geo.Provider,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TrackingService {
	if events == nil {
		events = storage.NopEventLog{}
	}
	if geoProvider == nil {
		geoProvider = geo.NopProvider{}
	}
	return &TrackingService{
		counters: counters,
		registry: registry,
		events:   events,
		geo:      geoProvider,
		metrics:  m,
		logger:   logger,
	}
}

// ImpressionRequest is one pageview report from the storefront.
type ImpressionRequest struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	UserID       string `json:"user_id"`
	Date         string `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
	UserAgent    string `json:"-"`
	IP           string `json:"-"`
}

// ImpressionResult reports what the impression did.
type ImpressionResult struct {
	// VariantID is the variant the user is actually pinned to. Under a
	// race it can differ from the requested variant: the counter row
	// follows the stored assignment so reports stay internally
	// consistent.
	VariantID  string `json:"variant_id"`
	IsNewUser  bool   `json:"is_new_user"`
	DeviceType string `json:"device_type"`
}

// RecordImpression registers a pageview. The first call for a
// (user, experiment) pair creates the assignment; every call increments
// the impression counter, and only the assignment-creating call counts
// the user as unique.
func (s *TrackingService) RecordImpression(ctx context.Context, req ImpressionRequest) (*ImpressionResult, error) {
	if req.ExperimentID == "" || req.VariantID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: experiment_id, variant_id and user_id are required", ErrInvalidRequest)
	}

	date := req.Date
	if date == "" {
		date = models.DateKey(time.Now())
	}

	device := string(useragent.DetectDevice(req.UserAgent))

	country := ""
	if req.IP != "" {
		c, err := s.geo.CountryCode(req.IP)
		if err != nil {
			s.logger.Debug("geo lookup failed", zap.String("ip", req.IP), zap.Error(err))
		} else {
			country = c
		}
	}

	actx := models.AssignmentContext{
		UserAgent:  req.UserAgent,
		DeviceType: device,
		Country:    country,
		IP:         req.IP,
		Method:     "hash",
	}

	assignment, created, err := s.registry.AssignIfAbsent(ctx, req.UserID, req.ExperimentID, req.VariantID, actx)
	if err != nil {
		return nil, fmt.Errorf("assign user: %w", err)
	}

	key := models.CounterKey{
		ExperimentID: req.ExperimentID,
		VariantID:    assignment.VariantID,
		Date:         date,
	}
	if err := s.counters.IncrementImpression(ctx, key, created); err != nil {
		return nil, fmt.Errorf("increment impression: %w", err)
	}

	if device != string(useragent.DeviceUnknown) {
		segKey := key
		segKey.Segment = device
		if err := s.counters.IncrementImpression(ctx, segKey, created); err != nil {
			return nil, fmt.Errorf("increment segment impression: %w", err)
		}
	}

	s.appendEvent(ctx, &models.TrackEvent{
		EventType:    "impression",
		ExperimentID: req.ExperimentID,
		VariantID:    assignment.VariantID,
		UserID:       req.UserID,
		UserAgent:    req.UserAgent,
		DeviceType:   device,
		Country:      country,
		CreatedAt:    time.Now().UTC(),
	})

	if s.metrics != nil {
		s.metrics.RecordImpression(req.ExperimentID, assignment.VariantID, device)
		s.metrics.RecordAssignment(req.ExperimentID, assignment.VariantID, assignment.AssignmentMethod, created)
	}

	return &ImpressionResult{
		VariantID:  assignment.VariantID,
		IsNewUser:  created,
		DeviceType: device,
	}, nil
}

// ClickRequest is one interaction report from the storefront.
type ClickRequest struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	UserID       string `json:"user_id,omitempty"`
	Date         string `json:"date,omitempty"`
	UserAgent    string `json:"-"`
}

// RecordClick registers a click against a variant. When the user is
// known and already assigned, the stored variant takes precedence over
// the reported one.
func (s *TrackingService) RecordClick(ctx context.Context, req ClickRequest) error {
	if req.ExperimentID == "" || req.VariantID == "" {
		return fmt.Errorf("%w: experiment_id and variant_id are required", ErrInvalidRequest)
	}

	date := req.Date
	if date == "" {
		date = models.DateKey(time.Now())
	}

	variantID := req.VariantID
	device := string(useragent.DetectDevice(req.UserAgent))
	if req.UserID != "" {
		if a, err := s.registry.Get(ctx, req.UserID, req.ExperimentID); err == nil && a != nil {
			variantID = a.VariantID
			if a.DeviceType != "" {
				device = a.DeviceType
			}
		}
	}

	key := models.CounterKey{
		ExperimentID: req.ExperimentID,
		VariantID:    variantID,
		Date:         date,
	}
	if err := s.counters.IncrementClick(ctx, key); err != nil {
		return fmt.Errorf("increment click: %w", err)
	}

	if device != string(useragent.DeviceUnknown) && device != "" {
		segKey := key
		segKey.Segment = device
		if err := s.counters.IncrementClick(ctx, segKey); err != nil {
			return fmt.Errorf("increment segment click: %w", err)
		}
	}

	s.appendEvent(ctx, &models.TrackEvent{
		EventType:    "click",
		ExperimentID: req.ExperimentID,
		VariantID:    variantID,
		UserID:       req.UserID,
		UserAgent:    req.UserAgent,
		DeviceType:   device,
		CreatedAt:    time.Now().UTC(),
	})

	if s.metrics != nil {
		s.metrics.RecordClick(req.ExperimentID, variantID)
	}

	return nil
}

// ConversionRequest is one order attribution, typically driven by a
// checkout webhook.
type ConversionRequest struct {
	ExperimentID string          `json:"experiment_id"`
	VariantID    string          `json:"variant_id"`
	UserID       string          `json:"user_id,omitempty"`
	OrderValue   decimal.Decimal `json:"order_value"`
	Date         string          `json:"date,omitempty"`
}

// RecordConversion registers an order and its value. Conversions are
// not deduplicated: a replayed webhook counts twice, matching how the
// checkout pipeline has always behaved. When a user id is present the
// stored assignment supplies the variant and device segment.
func (s *TrackingService) RecordConversion(ctx context.Context, req ConversionRequest) error {
	if req.ExperimentID == "" || req.VariantID == "" {
		return fmt.Errorf("%w: experiment_id and variant_id are required", ErrInvalidRequest)
	}
	if req.OrderValue.IsNegative() {
		return fmt.Errorf("%w: order_value cannot be negative", ErrInvalidRequest)
	}

	date := req.Date
	if date == "" {
		date = models.DateKey(time.Now())
	}

	variantID := req.VariantID
	device := ""
	if req.UserID != "" {
		if a, err := s.registry.Get(ctx, req.UserID, req.ExperimentID); err == nil && a != nil {
			variantID = a.VariantID
			device = a.DeviceType
		}
	}

	key := models.CounterKey{
		ExperimentID: req.ExperimentID,
		VariantID:    variantID,
		Date:         date,
	}
	if err := s.counters.IncrementConversion(ctx, key, req.OrderValue); err != nil {
		return fmt.Errorf("increment conversion: %w", err)
	}

	if device != "" && device != string(useragent.DeviceUnknown) {
		segKey := key
		segKey.Segment = device
		if err := s.counters.IncrementConversion(ctx, segKey, req.OrderValue); err != nil {
			return fmt.Errorf("increment segment conversion: %w", err)
		}
	}

	s.appendEvent(ctx, &models.TrackEvent{
		EventType:    "conversion",
		ExperimentID: req.ExperimentID,
		VariantID:    variantID,
		UserID:       req.UserID,
		OrderValue:   req.OrderValue,
		DeviceType:   device,
		CreatedAt:    time.Now().UTC(),
	})

	if s.metrics != nil {
		s.metrics.RecordConversion(req.ExperimentID, variantID, req.OrderValue.InexactFloat64())
	}

	return nil
}

// appendEvent writes to the raw event log without failing the request.
func (s *TrackingService) appendEvent(ctx context.Context, ev *models.TrackEvent) {
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.Warn("event log append failed",
			zap.String("event_type", ev.EventType),
			zap.String("experiment_id", ev.ExperimentID),
			zap.Error(err),
		)
	}
}
