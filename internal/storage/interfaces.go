package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/radiusdt/vector-split/internal/models"
)

// =============================================
// COUNTER STORE
// =============================================

// CounterStore accumulates per-(experiment, variant, date) counters.
// Every increment is a single atomic read-modify-write applied
// server-side (or under the store's own lock): callers never read,
// compute and write back. Missing rows are created zero-initialized
// before the delta is applied, so increments cannot fail with
// "row not found".
type CounterStore interface {
	// IncrementImpression adds one impression, and one unique user
	// when uniqueUser is set. Unique-user classification is the
	// caller's job, decided by the AssignmentRegistry's
	// assign-if-absent result rather than a per-call set scan.
	IncrementImpression(ctx context.Context, key models.CounterKey, uniqueUser bool) error

	// IncrementClick adds one click.
	IncrementClick(ctx context.Context, key models.CounterKey) error

	// IncrementConversion adds one conversion and its order value.
	IncrementConversion(ctx context.Context, key models.CounterKey, orderValue decimal.Decimal) error

	// TotalsByVariant sums primary rows over the range, grouped by
	// variant. Returns an empty map when no rows exist.
	TotalsByVariant(ctx context.Context, experimentID string, dr models.DateRange) (map[string]models.AggregatedTotals, error)

	// TotalsBySegment is TotalsByVariant over the rows of one device
	// segment.
	TotalsBySegment(ctx context.Context, experimentID, segment string, dr models.DateRange) (map[string]models.AggregatedTotals, error)

	// DailyRows returns the primary rows in range ordered by
	// (date, variant), one row per (date, variant).
	DailyRows(ctx context.Context, experimentID string, dr models.DateRange) ([]models.CounterRow, error)
}

// =============================================
// ASSIGNMENT REGISTRY
// =============================================

// AssignmentRegistry holds at most one (user, experiment) -> variant
// mapping. AssignIfAbsent is a compare-and-swap: under concurrent
// calls for the same pair, exactly one row is created and every caller
// gets the winning row back. The registry also serializes the
// first-assignment decision per user (not just per pair) so the
// is_new_visitor snapshot is deterministic when two experiments race
// on a user's very first pageview.
type AssignmentRegistry interface {
	// AssignIfAbsent returns the stored assignment and whether this
	// call created it. A uniqueness conflict is the expected success
	// path, not an error: the existing row is returned.
	AssignIfAbsent(ctx context.Context, userID, experimentID, variantID string, actx models.AssignmentContext) (*models.Assignment, bool, error)

	// Get returns the assignment for a pair, or nil when absent.
	Get(ctx context.Context, userID, experimentID string) (*models.Assignment, error)

	// HasAnyAssignment reports whether the user has ever been
	// assigned to any experiment.
	HasAnyAssignment(ctx context.Context, userID string) (bool, error)

	// CountByExperiment aggregates an experiment's assignment rows
	// for integrity auditing. Unknown experiments yield an empty
	// breakdown, not an error.
	CountByExperiment(ctx context.Context, experimentID string) (*models.AssignmentBreakdown, error)

	// PurgeUser removes every assignment for a user (administrative).
	PurgeUser(ctx context.Context, userID string) error
}

// =============================================
// EXPERIMENT REPOSITORY
// =============================================

// ExperimentRepo defines CRUD over experiments and their variants.
// Get-style methods return (nil, nil) when the row does not exist.
type ExperimentRepo interface {
	ListAll(ctx context.Context) ([]*models.Experiment, error)
	GetByID(ctx context.Context, id string) (*models.Experiment, error)
	GetByStatus(ctx context.Context, status models.ExperimentStatus) ([]*models.Experiment, error)
	Create(ctx context.Context, e *models.Experiment) error
	Update(ctx context.Context, e *models.Experiment) error
	Delete(ctx context.Context, id string) error
}

// =============================================
// EVENT LOG
// =============================================

// EventLog is an append-only sink for raw tracking events, kept for
// offline analysis. Writes are fire-and-forget from the tracking
// service's perspective.
type EventLog interface {
	Append(ctx context.Context, ev *models.TrackEvent) error
}
