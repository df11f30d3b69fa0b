package split

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/models"
	"github.com/radiusdt/vector-split/internal/storage"
)

const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

func newTestTracking() (*TrackingService, *storage.InMemoryCounterStore, *storage.InMemoryAssignmentRegistry) {
	counters := storage.NewInMemoryCounterStore()
	registry := storage.NewInMemoryAssignmentRegistry()
	svc := NewTrackingService(counters, registry, nil, nil, nil, zap.NewNop())
	return svc, counters, registry
}

func TestRecordImpressionFirstTouch(t *testing.T) {
	svc, counters, registry := newTestTracking()
	ctx := context.Background()

	res, err := svc.RecordImpression(ctx, ImpressionRequest{
		ExperimentID: "exp-1",
		VariantID:    "var-a",
		UserID:       "user-1",
		Date:         "2026-08-01",
		UserAgent:    desktopUA,
	})
	require.NoError(t, err)
	assert.True(t, res.IsNewUser)
	assert.Equal(t, "var-a", res.VariantID)
	assert.Equal(t, "desktop", res.DeviceType)

	a, err := registry.Get(ctx, "user-1", "exp-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "var-a", a.VariantID)
	assert.True(t, a.IsNewVisitor)

	totals, err := counters.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals["var-a"].Impressions)
	assert.Equal(t, int64(1), totals["var-a"].Visitors)
}

func TestRecordImpressionRepeatVisitsNotUnique(t *testing.T) {
	svc, counters, _ := newTestTracking()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordImpression(ctx, ImpressionRequest{
			ExperimentID: "exp-1",
			VariantID:    "var-a",
			UserID:       "user-1",
			Date:         "2026-08-01",
		})
		require.NoError(t, err)
	}

	totals, err := counters.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals["var-a"].Impressions)
	assert.Equal(t, int64(1), totals["var-a"].Visitors)
}

func TestRecordImpressionStickyVariant(t *testing.T) {
	svc, counters, _ := newTestTracking()
	ctx := context.Background()

	_, err := svc.RecordImpression(ctx, ImpressionRequest{
		ExperimentID: "exp-1", VariantID: "var-a", UserID: "user-1", Date: "2026-08-01",
	})
	require.NoError(t, err)

	// A later report naming a different variant still counts under the
	// stored one.
	res, err := svc.RecordImpression(ctx, ImpressionRequest{
		ExperimentID: "exp-1", VariantID: "var-b", UserID: "user-1", Date: "2026-08-01",
	})
	require.NoError(t, err)
	assert.False(t, res.IsNewUser)
	assert.Equal(t, "var-a", res.VariantID)

	totals, err := counters.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals["var-a"].Impressions)
	assert.NotContains(t, totals, "var-b")
}

func TestRecordImpressionValidation(t *testing.T) {
	svc, _, _ := newTestTracking()

	_, err := svc.RecordImpression(context.Background(), ImpressionRequest{
		ExperimentID: "exp-1", VariantID: "var-a",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRecordImpressionDeviceSegment(t *testing.T) {
	svc, counters, _ := newTestTracking()
	ctx := context.Background()

	_, err := svc.RecordImpression(ctx, ImpressionRequest{
		ExperimentID: "exp-1", VariantID: "var-a", UserID: "user-1",
		Date: "2026-08-01", UserAgent: desktopUA,
	})
	require.NoError(t, err)

	seg, err := counters.TotalsBySegment(ctx, "exp-1", "desktop", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seg["var-a"].Impressions)

	mobile, err := counters.TotalsBySegment(ctx, "exp-1", "mobile", models.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, mobile)
}

func TestRecordConversionAttributesViaAssignment(t *testing.T) {
	svc, counters, _ := newTestTracking()
	ctx := context.Background()

	_, err := svc.RecordImpression(ctx, ImpressionRequest{
		ExperimentID: "exp-1", VariantID: "var-a", UserID: "user-1",
		Date: "2026-08-01", UserAgent: desktopUA,
	})
	require.NoError(t, err)

	// The webhook reports var-b, but the user is pinned to var-a.
	err = svc.RecordConversion(ctx, ConversionRequest{
		ExperimentID: "exp-1", VariantID: "var-b", UserID: "user-1",
		OrderValue: decimal.RequireFromString("99.95"), Date: "2026-08-01",
	})
	require.NoError(t, err)

	totals, err := counters.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals["var-a"].Orders)
	assert.Equal(t, "99.95", totals["var-a"].Revenue.String())

	seg, err := counters.TotalsBySegment(ctx, "exp-1", "desktop", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seg["var-a"].Orders)
}

func TestRecordConversionRejectsNegativeValue(t *testing.T) {
	svc, _, _ := newTestTracking()

	err := svc.RecordConversion(context.Background(), ConversionRequest{
		ExperimentID: "exp-1", VariantID: "var-a",
		OrderValue: decimal.RequireFromString("-1"),
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRecordClick(t *testing.T) {
	svc, counters, _ := newTestTracking()
	ctx := context.Background()

	err := svc.RecordClick(ctx, ClickRequest{
		ExperimentID: "exp-1", VariantID: "var-a", Date: "2026-08-01", UserAgent: desktopUA,
	})
	require.NoError(t, err)

	totals, err := counters.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals["var-a"].Clicks)
}

func TestConcurrentConversionsLoseNoUpdates(t *testing.T) {
	svc, counters, _ := newTestTracking()
	ctx := context.Background()

	const writers = 100
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			err := svc.RecordConversion(ctx, ConversionRequest{
				ExperimentID: "exp-1", VariantID: "var-a",
				OrderValue: decimal.NewFromInt(1), Date: "2026-08-01",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	totals, err := counters.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(writers), totals["var-a"].Orders)
	assert.Equal(t, "100", totals["var-a"].Revenue.String())
}

func TestConcurrentFirstImpressionsSingleAssignment(t *testing.T) {
	svc, counters, registry := newTestTracking()
	ctx := context.Background()

	const racers = 50
	results := make([]*ImpressionResult, racers)

	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := svc.RecordImpression(ctx, ImpressionRequest{
				ExperimentID: "exp-1",
				VariantID:    fmt.Sprintf("var-%d", i%3),
				UserID:       "user-1",
				Date:         "2026-08-01",
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	a, err := registry.Get(ctx, "user-1", "exp-1")
	require.NoError(t, err)
	require.NotNil(t, a)

	created := 0
	for _, res := range results {
		assert.Equal(t, a.VariantID, res.VariantID)
		if res.IsNewUser {
			created++
		}
	}
	assert.Equal(t, 1, created)

	totals, err := counters.TotalsByVariant(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(racers), totals[a.VariantID].Impressions)
	assert.Equal(t, int64(1), totals[a.VariantID].Visitors)
}
