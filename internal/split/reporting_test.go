package split

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/config"
	"github.com/radiusdt/vector-split/internal/models"
	"github.com/radiusdt/vector-split/internal/storage"
)

func testStatsConfig() config.StatsConfig {
	return config.StatsConfig{
		CostRatio:            0.60,
		ConfidenceLevel:      0.95,
		ProjectionWindowDays: 30,
	}
}

func newTestReporting(t *testing.T) (*ReportingService, *storage.InMemoryCounterStore, *storage.InMemoryExperimentRepo) {
	t.Helper()
	counters := storage.NewInMemoryCounterStore()
	repo := storage.NewInMemoryExperimentRepo()
	registry := storage.NewInMemoryAssignmentRegistry()
	svc := NewReportingService(counters, registry, repo, testStatsConfig(), nil, zap.NewNop())
	return svc, counters, repo
}

func seedExperiment(t *testing.T, repo *storage.InMemoryExperimentRepo) *models.Experiment {
	t.Helper()
	started := time.Now().UTC().Add(-10 * 24 * time.Hour)
	e := &models.Experiment{
		ID:        "exp-1",
		Name:      "Checkout Button Color",
		Status:    models.StatusRunning,
		StartedAt: &started,
		CreatedAt: started,
		UpdatedAt: started,
		Variants: []models.Variant{
			{ID: "var-control", ExperimentID: "exp-1", Name: "control", DisplayName: "Original", IsControl: true, Weight: 50},
			{ID: "var-b", ExperimentID: "exp-1", Name: "variant_b", DisplayName: "Green Button", Weight: 50},
		},
	}
	require.NoError(t, repo.Create(context.Background(), e))
	return e
}

// seedCounters loads the canonical two-variant scenario:
// control 50 visitors / 5 orders / $500, variant B 50 / 8 / $880.
func seedCounters(t *testing.T, counters *storage.InMemoryCounterStore) {
	t.Helper()
	ctx := context.Background()

	load := func(variantID string, visitors, orders int, revenuePerOrder string) {
		key := models.CounterKey{ExperimentID: "exp-1", VariantID: variantID, Date: "2026-08-01"}
		for i := 0; i < visitors; i++ {
			require.NoError(t, counters.IncrementImpression(ctx, key, true))
		}
		for i := 0; i < orders; i++ {
			require.NoError(t, counters.IncrementConversion(ctx, key, decimal.RequireFromString(revenuePerOrder)))
		}
	}

	load("var-control", 50, 5, "100")
	load("var-b", 50, 8, "110")
}

func TestGetExperimentStatsEndToEnd(t *testing.T) {
	svc, counters, repo := newTestReporting(t)
	seedExperiment(t, repo)
	seedCounters(t, counters)

	out, err := svc.GetExperimentStats(context.Background(), "exp-1", models.DateRange{})
	require.NoError(t, err)

	summary := out.Summary
	assert.Equal(t, int64(100), summary.TotalVisitors)
	assert.Equal(t, int64(13), summary.TotalOrders)
	assert.InDelta(t, 1380.0, summary.TotalRevenue, 1e-9)

	assert.InDelta(t, 10.0, summary.ControlConversionRate, 1e-9)
	assert.InDelta(t, 10.0, summary.ControlRevenuePerVisitor, 1e-9)
	assert.InDelta(t, 100.0, summary.ControlAvgOrderValue, 1e-9)

	require.Len(t, summary.Variants, 2)
	control, variantB := summary.Variants[0], summary.Variants[1]
	require.True(t, control.IsControl)

	// Control compared against itself carries zero change and nil
	// significance.
	assert.InDelta(t, 0.0, control.ConversionRateChange, 1e-9)
	assert.Nil(t, control.PValue)
	assert.Nil(t, control.ConfidenceLevel)

	assert.InDelta(t, 16.0, variantB.ConversionRate, 1e-9)
	assert.InDelta(t, 60.0, variantB.ConversionRateChange, 1e-9)
	assert.InDelta(t, 17.60, variantB.RevenuePerVisitor, 1e-9)
	assert.InDelta(t, 76.0, variantB.RevenuePerVisitorChange, 1e-9)
	assert.InDelta(t, 110.0, variantB.AvgOrderValue, 1e-9)
	require.NotNil(t, variantB.PValue)
	require.NotNil(t, variantB.ConfidenceLevel)
	assert.InDelta(t, (1-*variantB.PValue)*100, *variantB.ConfidenceLevel, 1e-9)
	assert.GreaterOrEqual(t, variantB.ConversionRateCILower, 0.0)
	assert.LessOrEqual(t, variantB.ConversionRateCILower, variantB.ConversionRate)
	assert.GreaterOrEqual(t, variantB.ConversionRateCIUpper, variantB.ConversionRate)

	// Winner is the non-control with the highest conversion rate.
	require.NotNil(t, summary.WinningVariantID)
	assert.Equal(t, "var-b", *summary.WinningVariantID)
	require.NotNil(t, summary.WinningVariantImprovement)
	assert.InDelta(t, 60.0, *summary.WinningVariantImprovement, 1e-9)
	assert.Equal(t, *variantB.PValue < 0.05, summary.IsStatisticallySignificant)

	require.NotNil(t, summary.DurationDays)
	assert.Equal(t, 10, *summary.DurationDays)

	require.Len(t, out.TimeSeries, 2)
	assert.Equal(t, "var-b", out.TimeSeries[1].VariantID)
	assert.Equal(t, "Green Button", out.TimeSeries[1].VariantName)
	assert.InDelta(t, 16.0, out.TimeSeries[1].ConversionRate, 1e-9)
}

func TestGetExperimentStatsEmptyState(t *testing.T) {
	svc, _, repo := newTestReporting(t)
	seedExperiment(t, repo)

	out, err := svc.GetExperimentStats(context.Background(), "exp-1", models.DateRange{})
	require.NoError(t, err)

	assert.Equal(t, "exp-1", out.Summary.ExperimentID)
	assert.Equal(t, int64(0), out.Summary.TotalVisitors)
	assert.Empty(t, out.Summary.Variants)
	assert.Nil(t, out.Summary.WinningVariantID)
	assert.False(t, out.Summary.IsStatisticallySignificant)
	assert.Empty(t, out.TimeSeries)
	assert.Nil(t, out.Segments)
}

func TestGetExperimentStatsNotFound(t *testing.T) {
	svc, _, _ := newTestReporting(t)

	_, err := svc.GetExperimentStats(context.Background(), "missing", models.DateRange{})
	assert.ErrorIs(t, err, ErrExperimentNotFound)
}

func TestGetExperimentStatsDateRange(t *testing.T) {
	svc, counters, repo := newTestReporting(t)
	seedExperiment(t, repo)
	ctx := context.Background()

	for _, date := range []string{"2026-08-01", "2026-08-02", "2026-08-03"} {
		key := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-control", Date: date}
		require.NoError(t, counters.IncrementImpression(ctx, key, true))
	}

	out, err := svc.GetExperimentStats(ctx, "exp-1", models.DateRange{Start: "2026-08-02", End: "2026-08-03"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Summary.TotalVisitors)
	assert.Len(t, out.TimeSeries, 2)
}

func TestGetExperimentStatsDeviceSegments(t *testing.T) {
	svc, counters, repo := newTestReporting(t)
	seedExperiment(t, repo)
	ctx := context.Background()

	primary := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-control", Date: "2026-08-01"}
	desktop := primary
	desktop.Segment = "desktop"
	require.NoError(t, counters.IncrementImpression(ctx, primary, true))
	require.NoError(t, counters.IncrementImpression(ctx, desktop, true))

	out, err := svc.GetExperimentStats(ctx, "exp-1", models.DateRange{})
	require.NoError(t, err)

	require.NotNil(t, out.Segments)
	require.Len(t, out.Segments.Desktop, 1)
	assert.Equal(t, int64(1), out.Segments.Desktop[0].Visitors)
	assert.Empty(t, out.Segments.Mobile)

	// Segment rows never leak into the primary totals.
	assert.Equal(t, int64(1), out.Summary.TotalVisitors)
}

func TestAggregateVariantMetricsProfit(t *testing.T) {
	svc, _, _ := newTestReporting(t)

	m := svc.AggregateVariantMetrics(models.AggregatedTotals{
		Visitors: 100,
		Orders:   10,
		Revenue:  decimal.NewFromInt(1000),
	}, models.Variant{ID: "v", DisplayName: "V"})

	assert.InDelta(t, 10.0, m.ConversionRate, 1e-9)
	assert.InDelta(t, 10.0, m.RevenuePerVisitor, 1e-9)
	// 40% margin of $1000 spread over 100 visitors.
	assert.InDelta(t, 4.0, m.ProfitPerVisitor, 1e-9)
}

func TestAggregateExperimentSummaryWinnerTieKeepsFirst(t *testing.T) {
	svc, _, repo := newTestReporting(t)
	e := seedExperiment(t, repo)
	e.Variants = append(e.Variants, models.Variant{
		ID: "var-c", ExperimentID: "exp-1", Name: "variant_c", DisplayName: "Blue Button",
	})

	mk := func(id string, isControl bool, cvr float64) models.VariantComparison {
		return models.VariantComparison{
			VariantMetrics: models.VariantMetrics{VariantID: id, IsControl: isControl, ConversionRate: cvr},
		}
	}
	comparisons := []models.VariantComparison{
		mk("var-control", true, 10),
		mk("var-b", false, 12),
		mk("var-c", false, 12),
	}

	summary := svc.AggregateExperimentSummary(e, comparisons)
	require.NotNil(t, summary.WinningVariantID)
	assert.Equal(t, "var-b", *summary.WinningVariantID)
	// No p-value on the winner means no significance claim.
	assert.False(t, summary.IsStatisticallySignificant)
}

func TestAggregateExperimentSummaryNoComparisons(t *testing.T) {
	svc, _, repo := newTestReporting(t)
	e := seedExperiment(t, repo)

	summary := svc.AggregateExperimentSummary(e, nil)

	assert.Zero(t, summary.TotalVisitors)
	assert.Empty(t, summary.Variants)
	assert.Nil(t, summary.WinningVariantID)
	assert.False(t, summary.IsStatisticallySignificant)
}
