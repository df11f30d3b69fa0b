package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiusdt/vector-split/internal/models"
)

func TestIncrementCreatesMissingRow(t *testing.T) {
	s := NewInMemoryCounterStore()
	ctx := context.Background()

	key := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-a", Date: "2026-08-01"}
	require.NoError(t, s.IncrementConversion(ctx, key, decimal.RequireFromString("19.99")))

	totals, err := s.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals["var-a"].Orders)
	assert.Equal(t, "19.99", totals["var-a"].Revenue.String())
	assert.Equal(t, int64(0), totals["var-a"].Visitors)
}

func TestTotalsByVariantSumsAcrossDays(t *testing.T) {
	s := NewInMemoryCounterStore()
	ctx := context.Background()

	for _, date := range []string{"2026-08-01", "2026-08-02"} {
		key := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-a", Date: date}
		require.NoError(t, s.IncrementImpression(ctx, key, true))
		require.NoError(t, s.IncrementClick(ctx, key))
		require.NoError(t, s.IncrementConversion(ctx, key, decimal.NewFromInt(50)))
	}

	totals, err := s.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	got := totals["var-a"]
	assert.Equal(t, int64(2), got.Visitors)
	assert.Equal(t, int64(2), got.Impressions)
	assert.Equal(t, int64(2), got.Clicks)
	assert.Equal(t, int64(2), got.Orders)
	assert.Equal(t, "100", got.Revenue.String())
}

func TestTotalsRespectDateRange(t *testing.T) {
	s := NewInMemoryCounterStore()
	ctx := context.Background()

	for _, date := range []string{"2026-07-31", "2026-08-01", "2026-08-02"} {
		key := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-a", Date: date}
		require.NoError(t, s.IncrementImpression(ctx, key, true))
	}

	totals, err := s.TotalsByVariant(ctx, "exp-1", models.DateRange{Start: "2026-08-01"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals["var-a"].Impressions)

	totals, err = s.TotalsByVariant(ctx, "exp-1", models.DateRange{Start: "2026-08-01", End: "2026-08-01"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals["var-a"].Impressions)
}

func TestSegmentRowsStayOutOfPrimaryTotals(t *testing.T) {
	s := NewInMemoryCounterStore()
	ctx := context.Background()

	primary := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-a", Date: "2026-08-01"}
	mobile := primary
	mobile.Segment = "mobile"

	require.NoError(t, s.IncrementImpression(ctx, primary, true))
	require.NoError(t, s.IncrementImpression(ctx, mobile, true))

	totals, err := s.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals["var-a"].Impressions)

	seg, err := s.TotalsBySegment(ctx, "exp-1", "mobile", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seg["var-a"].Impressions)

	empty, err := s.TotalsBySegment(ctx, "exp-1", "", models.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDailyRowsOrdering(t *testing.T) {
	s := NewInMemoryCounterStore()
	ctx := context.Background()

	keys := []models.CounterKey{
		{ExperimentID: "exp-1", VariantID: "var-b", Date: "2026-08-02"},
		{ExperimentID: "exp-1", VariantID: "var-a", Date: "2026-08-02"},
		{ExperimentID: "exp-1", VariantID: "var-a", Date: "2026-08-01"},
	}
	for _, key := range keys {
		require.NoError(t, s.IncrementImpression(ctx, key, true))
	}

	rows, err := s.DailyRows(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-08-01", rows[0].Date)
	assert.Equal(t, "var-a", rows[1].VariantID)
	assert.Equal(t, "var-b", rows[2].VariantID)
}

func TestTotalsUnknownExperimentEmpty(t *testing.T) {
	s := NewInMemoryCounterStore()

	totals, err := s.TotalsByVariant(context.Background(), "missing", models.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestConcurrentIncrementsAreAtomic(t *testing.T) {
	s := NewInMemoryCounterStore()
	ctx := context.Background()
	key := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-a", Date: "2026-08-01"}

	const writers = 100
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementImpression(ctx, key, false))
			assert.NoError(t, s.IncrementConversion(ctx, key, decimal.RequireFromString("0.01")))
		}()
	}
	wg.Wait()

	totals, err := s.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(writers), totals["var-a"].Impressions)
	assert.Equal(t, int64(writers), totals["var-a"].Orders)
	assert.Equal(t, "1", totals["var-a"].Revenue.String())
}
