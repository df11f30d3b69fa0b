package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/radiusdt/vector-split/internal/models"
)

// InMemoryExperimentRepo provides in-memory storage for experiments.
type InMemoryExperimentRepo struct {
	mu          sync.RWMutex
	experiments map[string]*models.Experiment
}

// NewInMemoryExperimentRepo creates an empty experiment repo.
func NewInMemoryExperimentRepo() *InMemoryExperimentRepo {
	return &InMemoryExperimentRepo{
		experiments: make(map[string]*models.Experiment),
	}
}

func (r *InMemoryExperimentRepo) ListAll(ctx context.Context) ([]*models.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Experiment, 0, len(r.experiments))
	for _, e := range r.experiments {
		result = append(result, copyExperiment(e))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *InMemoryExperimentRepo) GetByID(ctx context.Context, id string) (*models.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.experiments[id]
	if !ok {
		return nil, nil
	}
	return copyExperiment(e), nil
}

func (r *InMemoryExperimentRepo) GetByStatus(ctx context.Context, status models.ExperimentStatus) ([]*models.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Experiment
	for _, e := range r.experiments {
		if e.Status == status {
			result = append(result, copyExperiment(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *InMemoryExperimentRepo) Create(ctx context.Context, e *models.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.experiments[e.ID] = copyExperiment(e)
	return nil
}

func (r *InMemoryExperimentRepo) Update(ctx context.Context, e *models.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.experiments[e.ID] = copyExperiment(e)
	return nil
}

func (r *InMemoryExperimentRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.experiments, id)
	return nil
}

func copyExperiment(e *models.Experiment) *models.Experiment {
	c := *e
	c.Variants = make([]models.Variant, len(e.Variants))
	copy(c.Variants, e.Variants)
	return &c
}
