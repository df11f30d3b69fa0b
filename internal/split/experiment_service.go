package split

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/metrics"
	"github.com/radiusdt/vector-split/internal/models"
	"github.com/radiusdt/vector-split/internal/storage"
)

// ExperimentService owns the experiment lifecycle: CRUD plus the
// status machine draft -> running -> paused/completed -> archived.
type ExperimentService struct {
	repo     storage.ExperimentRepo
	registry storage.AssignmentRegistry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewExperimentService creates an experiment service.
func NewExperimentService(repo storage.ExperimentRepo, registry storage.AssignmentRegistry, m *metrics.Metrics, logger *zap.Logger) *ExperimentService {
	return &ExperimentService{
		repo:     repo,
		registry: registry,
		metrics:  m,
		logger:   logger,
	}
}

// CreateExperimentRequest is the management API create payload.
type CreateExperimentRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Hypothesis  string                `json:"hypothesis,omitempty"`
	Targeting   models.TargetingRules `json:"targeting_rules,omitempty"`
	Variants    []CreateVariantInput  `json:"variants"`
}

// CreateVariantInput is one variant in a create payload.
type CreateVariantInput struct {
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name"`
	IsControl   bool                 `json:"is_control"`
	Weight      int                  `json:"weight"`
	Config      models.VariantConfig `json:"config,omitempty"`
}

// Create persists a draft experiment with its variants. Weight and
// control invariants are enforced at start time, not here, so drafts
// can be assembled incrementally.
func (s *ExperimentService) Create(ctx context.Context, req CreateExperimentRequest) (*models.Experiment, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if len(req.Variants) == 0 {
		return nil, fmt.Errorf("%w: at least one variant is required", ErrInvalidRequest)
	}

	now := time.Now().UTC()
	e := &models.Experiment{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Hypothesis:  req.Hypothesis,
		Status:      models.StatusDraft,
		Targeting:   req.Targeting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, in := range req.Variants {
		if in.Name == "" {
			return nil, fmt.Errorf("%w: variant name is required", ErrInvalidRequest)
		}
		displayName := in.DisplayName
		if displayName == "" {
			displayName = in.Name
		}
		e.Variants = append(e.Variants, models.Variant{
			ID:           uuid.NewString(),
			ExperimentID: e.ID,
			Name:         in.Name,
			DisplayName:  displayName,
			IsControl:    in.IsControl,
			Weight:       in.Weight,
			Config:       in.Config,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	s.logger.Info("experiment created",
		zap.String("experiment_id", e.ID),
		zap.String("name", e.Name),
		zap.Int("variants", len(e.Variants)),
	)

	return e, nil
}

// Get returns one experiment with variants.
func (s *ExperimentService) Get(ctx context.Context, id string) (*models.Experiment, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrExperimentNotFound
	}
	return e, nil
}

// List returns all experiments.
func (s *ExperimentService) List(ctx context.Context) ([]*models.Experiment, error) {
	return s.repo.ListAll(ctx)
}

// ListActive returns running experiments, the set the storefront
// bootstraps from.
func (s *ExperimentService) ListActive(ctx context.Context) ([]*models.Experiment, error) {
	return s.repo.GetByStatus(ctx, models.StatusRunning)
}

// Update replaces an experiment's mutable fields and variants.
func (s *ExperimentService) Update(ctx context.Context, e *models.Experiment) error {
	existing, err := s.repo.GetByID(ctx, e.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrExperimentNotFound
	}

	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, e)
}

// Delete removes an experiment and its variants.
func (s *ExperimentService) Delete(ctx context.Context, id string) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrExperimentNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.refreshActiveGauge(ctx)
	return nil
}

// Start moves a draft or paused experiment to running. Weights must
// sum to 100 with exactly one control before traffic is admitted.
func (s *ExperimentService) Start(ctx context.Context, id string) (*models.Experiment, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.Status != models.StatusDraft && e.Status != models.StatusPaused {
		return nil, fmt.Errorf("%w: cannot start experiment in status %q", ErrInvalidTransition, e.Status)
	}

	if err := models.ValidateWeights(e.Variants); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := time.Now().UTC()
	e.Status = models.StatusRunning
	if e.StartedAt == nil {
		e.StartedAt = &now
	}
	e.UpdatedAt = now

	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("start experiment: %w", err)
	}

	s.logger.Info("experiment started", zap.String("experiment_id", e.ID))
	s.refreshActiveGauge(ctx)
	return e, nil
}

// Pause moves a running experiment to paused.
func (s *ExperimentService) Pause(ctx context.Context, id string) (*models.Experiment, error) {
	return s.transition(ctx, id, models.StatusRunning, models.StatusPaused)
}

// Complete ends a running or paused experiment.
func (s *ExperimentService) Complete(ctx context.Context, id string) (*models.Experiment, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.Status != models.StatusRunning && e.Status != models.StatusPaused {
		return nil, fmt.Errorf("%w: cannot complete experiment in status %q", ErrInvalidTransition, e.Status)
	}

	now := time.Now().UTC()
	e.Status = models.StatusCompleted
	e.EndedAt = &now
	e.UpdatedAt = now

	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("complete experiment: %w", err)
	}

	s.logger.Info("experiment completed", zap.String("experiment_id", e.ID))
	s.refreshActiveGauge(ctx)
	return e, nil
}

// Archive moves a completed experiment to archived.
func (s *ExperimentService) Archive(ctx context.Context, id string) (*models.Experiment, error) {
	return s.transition(ctx, id, models.StatusCompleted, models.StatusArchived)
}

func (s *ExperimentService) transition(ctx context.Context, id string, from, to models.ExperimentStatus) (*models.Experiment, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.Status != from {
		return nil, fmt.Errorf("%w: cannot move experiment from %q to %q", ErrInvalidTransition, e.Status, to)
	}

	e.Status = to
	e.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update experiment status: %w", err)
	}

	s.logger.Info("experiment status changed",
		zap.String("experiment_id", e.ID),
		zap.String("status", string(to)),
	)
	s.refreshActiveGauge(ctx)
	return e, nil
}

// refreshActiveGauge re-counts running experiments after a lifecycle
// change.
func (s *ExperimentService) refreshActiveGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	running, err := s.repo.GetByStatus(ctx, models.StatusRunning)
	if err != nil {
		s.logger.Warn("failed to count running experiments", zap.Error(err))
		return
	}
	s.metrics.UpdateActiveExperiments(len(running))
}

// PurgeUserAssignments removes every assignment for a user, used by
// admin tooling to reset test accounts.
func (s *ExperimentService) PurgeUserAssignments(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if err := s.registry.PurgeUser(ctx, userID); err != nil {
		return fmt.Errorf("purge user assignments: %w", err)
	}
	s.logger.Info("user assignments purged", zap.String("user_id", userID))
	return nil
}
