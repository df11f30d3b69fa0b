package storage

import (
	"context"
	"sync"
	"time"

	"github.com/radiusdt/vector-split/internal/models"
)

type assignmentKey struct {
	userID       string
	experimentID string
}

// InMemoryAssignmentRegistry keeps assignments under a single mutex.
// The one lock serializes both the (user, experiment) compare-and-swap
// and the per-user "seen before anywhere" decision, so is_new_visitor
// is frozen atomically even when two experiments race on a user's
// first pageview.
type InMemoryAssignmentRegistry struct {
	mu          sync.RWMutex
	assignments map[assignmentKey]*models.Assignment
	byUser      map[string][]assignmentKey
}

// NewInMemoryAssignmentRegistry creates an empty registry.
func NewInMemoryAssignmentRegistry() *InMemoryAssignmentRegistry {
	return &InMemoryAssignmentRegistry{
		assignments: make(map[assignmentKey]*models.Assignment),
		byUser:      make(map[string][]assignmentKey),
	}
}

func (r *InMemoryAssignmentRegistry) AssignIfAbsent(ctx context.Context, userID, experimentID, variantID string, actx models.AssignmentContext) (*models.Assignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assignmentKey{userID: userID, experimentID: experimentID}
	if existing, ok := r.assignments[key]; ok {
		// First committed write wins; return it unchanged.
		return existing, false, nil
	}

	method := actx.Method
	if method == "" {
		method = "hash"
	}

	a := &models.Assignment{
		UserID:           userID,
		ExperimentID:     experimentID,
		VariantID:        variantID,
		AssignedAt:       time.Now().UTC(),
		AssignmentMethod: method,
		UserAgent:        actx.UserAgent,
		DeviceType:       actx.DeviceType,
		Country:          actx.Country,
		IsNewVisitor:     len(r.byUser[userID]) == 0,
	}

	r.assignments[key] = a
	r.byUser[userID] = append(r.byUser[userID], key)

	return a, true, nil
}

func (r *InMemoryAssignmentRegistry) Get(ctx context.Context, userID, experimentID string) (*models.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[assignmentKey{userID: userID, experimentID: experimentID}]
	if !ok {
		return nil, nil
	}
	return a, nil
}

func (r *InMemoryAssignmentRegistry) HasAnyAssignment(ctx context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID]) > 0, nil
}

func (r *InMemoryAssignmentRegistry) CountByExperiment(ctx context.Context, experimentID string) (*models.AssignmentBreakdown, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b := &models.AssignmentBreakdown{
		ByVariant: make(map[string]int64),
		ByDevice:  make(map[string]int64),
	}

	for key, a := range r.assignments {
		if key.experimentID != experimentID {
			continue
		}
		b.Total++
		b.ByVariant[a.VariantID]++
		device := a.DeviceType
		if device == "" {
			device = "unknown"
		}
		b.ByDevice[device]++
		if a.IsNewVisitor {
			b.NewVisitors++
		} else {
			b.ReturningVisitors++
		}
	}

	return b, nil
}

func (r *InMemoryAssignmentRegistry) PurgeUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.byUser[userID] {
		delete(r.assignments, key)
	}
	delete(r.byUser, userID)
	return nil
}
