package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/radiusdt/vector-split/internal/models"
)

// InMemoryCounterStore keeps counter rows in a map guarded by one
// mutex, so each increment is a single atomic read-modify-write per
// key. Used in tests and as the degraded mode when neither PostgreSQL
// nor Redis is reachable.
type InMemoryCounterStore struct {
	mu   sync.RWMutex
	rows map[models.CounterKey]*models.CounterRow

	// Index for range scans: experimentID -> keys, kept sorted lazily.
	byExperiment map[string][]models.CounterKey
}

// NewInMemoryCounterStore creates an empty in-memory counter store.
func NewInMemoryCounterStore() *InMemoryCounterStore {
	return &InMemoryCounterStore{
		rows:         make(map[models.CounterKey]*models.CounterRow),
		byExperiment: make(map[string][]models.CounterKey),
	}
}

// row returns the accumulator for a key, creating it zero-initialized
// if absent. Callers must hold the write lock.
func (s *InMemoryCounterStore) row(key models.CounterKey) *models.CounterRow {
	if r, ok := s.rows[key]; ok {
		return r
	}
	r := &models.CounterRow{
		ExperimentID: key.ExperimentID,
		VariantID:    key.VariantID,
		Date:         key.Date,
		Segment:      key.Segment,
		Revenue:      decimal.Zero,
	}
	s.rows[key] = r
	s.byExperiment[key.ExperimentID] = append(s.byExperiment[key.ExperimentID], key)
	return r
}

func (s *InMemoryCounterStore) IncrementImpression(ctx context.Context, key models.CounterKey, uniqueUser bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.row(key)
	r.Impressions++
	if uniqueUser {
		r.UniqueUsers++
	}
	return nil
}

func (s *InMemoryCounterStore) IncrementClick(ctx context.Context, key models.CounterKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.row(key).Clicks++
	return nil
}

func (s *InMemoryCounterStore) IncrementConversion(ctx context.Context, key models.CounterKey, orderValue decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.row(key)
	r.Conversions++
	r.Revenue = r.Revenue.Add(orderValue)
	return nil
}

func (s *InMemoryCounterStore) TotalsByVariant(ctx context.Context, experimentID string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	return s.totals(experimentID, "", dr)
}

func (s *InMemoryCounterStore) TotalsBySegment(ctx context.Context, experimentID, segment string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	if segment == "" {
		return map[string]models.AggregatedTotals{}, nil
	}
	return s.totals(experimentID, segment, dr)
}

func (s *InMemoryCounterStore) totals(experimentID, segment string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]models.AggregatedTotals)
	for _, key := range s.byExperiment[experimentID] {
		if key.Segment != segment || !dr.Contains(key.Date) {
			continue
		}
		r := s.rows[key]
		t := result[key.VariantID]
		t.Visitors += r.UniqueUsers
		t.Impressions += r.Impressions
		t.Clicks += r.Clicks
		t.Orders += r.Conversions
		t.Revenue = t.Revenue.Add(r.Revenue)
		result[key.VariantID] = t
	}
	return result, nil
}

func (s *InMemoryCounterStore) DailyRows(ctx context.Context, experimentID string, dr models.DateRange) ([]models.CounterRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]models.CounterRow, 0)
	for _, key := range s.byExperiment[experimentID] {
		if key.Segment != "" || !dr.Contains(key.Date) {
			continue
		}
		rows = append(rows, *s.rows[key])
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].VariantID < rows[j].VariantID
	})

	return rows, nil
}
