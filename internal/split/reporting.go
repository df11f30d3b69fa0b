package split

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/config"
	"github.com/radiusdt/vector-split/internal/metrics"
	"github.com/radiusdt/vector-split/internal/models"
	"github.com/radiusdt/vector-split/internal/stats"
	"github.com/radiusdt/vector-split/internal/storage"
	"github.com/radiusdt/vector-split/internal/useragent"
)

// ReportingService derives experiment reports from counter rows. All
// metrics are recomputed on every request; nothing derived is ever
// persisted, so a report always reflects the rows as they are now.
type ReportingService struct {
	counters    storage.CounterStore
	registry    storage.AssignmentRegistry
	experiments storage.ExperimentRepo
	cfg         config.StatsConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewReportingService creates a reporting service.
func NewReportingService(
	counters storage.CounterStore,
	registry storage.AssignmentRegistry,
	experiments storage.ExperimentRepo,
	cfg config.StatsConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReportingService {
	return &ReportingService{
		counters:    counters,
		registry:    registry,
		experiments: experiments,
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
	}
}

// AggregateVariantMetrics turns summed totals into derived rates.
// Significance fields stay nil: they only exist relative to a control.
func (s *ReportingService) AggregateVariantMetrics(totals models.AggregatedTotals, variant models.Variant) models.VariantMetrics {
	revenue := totals.Revenue.InexactFloat64()

	profitPerVisitor := 0.0
	if totals.Visitors > 0 {
		profitPerVisitor = revenue * (1 - s.cfg.CostRatio) / float64(totals.Visitors)
	}

	return models.VariantMetrics{
		VariantID:   variant.ID,
		VariantName: variant.DisplayName,
		IsControl:   variant.IsControl,

		Visitors:    totals.Visitors,
		Impressions: totals.Impressions,
		Clicks:      totals.Clicks,
		Orders:      totals.Orders,
		Revenue:     revenue,

		ConversionRate:    stats.ConversionRate(totals.Orders, totals.Visitors),
		ClickThroughRate:  stats.ClickThroughRate(totals.Clicks, totals.Impressions),
		RevenuePerVisitor: stats.RevenuePerVisitor(revenue, totals.Visitors),
		ProfitPerVisitor:  profitPerVisitor,
		AvgOrderValue:     stats.AvgOrderValue(revenue, totals.Orders),
	}
}

// CompareVariantToControl measures a variant against the control:
// relative changes, significance, confidence interval and projected
// monthly impact. The control compared against itself keeps nil
// significance fields.
func (s *ReportingService) CompareVariantToControl(variant, control models.VariantMetrics) models.VariantComparison {
	cmp := models.VariantComparison{VariantMetrics: variant}

	cmp.ConversionRateChange = stats.RelativeChange(variant.ConversionRate, control.ConversionRate)
	cmp.RevenuePerVisitorChange = stats.RelativeChange(variant.RevenuePerVisitor, control.RevenuePerVisitor)
	cmp.ProfitPerVisitorChange = stats.RelativeChange(variant.ProfitPerVisitor, control.ProfitPerVisitor)
	cmp.AvgOrderValueChange = stats.RelativeChange(variant.AvgOrderValue, control.AvgOrderValue)

	if !variant.IsControl && variant.Visitors > 0 && control.Visitors > 0 {
		z := stats.ZScore(variant.ConversionRate/100, control.ConversionRate/100, variant.Visitors)
		p := stats.PValue(z)
		conf := (1 - p) * 100
		cmp.PValue = &p
		cmp.ConfidenceLevel = &conf
	}

	cmp.ConversionRateCILower, cmp.ConversionRateCIUpper = stats.ConfidenceInterval(
		variant.ConversionRate/100, variant.Visitors, s.cfg.ConfidenceLevel)

	// Daily visitors estimated over the projection window, matching the
	// dashboard's historical assumption.
	dailyVisitors := float64(variant.Visitors) / float64(s.cfg.ProjectionWindowDays)
	cmp.EstimatedMonthlyOrders = stats.MonthlyImpact(
		dailyVisitors, cmp.ConversionRateChange/100, control.ConversionRate/100)
	cmp.EstimatedMonthlyRevenue = stats.MonthlyImpact(
		dailyVisitors, cmp.RevenuePerVisitorChange/100, control.RevenuePerVisitor)

	return cmp
}

// AggregateExperimentSummary folds variant comparisons into the report
// header: experiment totals, control metrics, winner and significance.
func (s *ReportingService) AggregateExperimentSummary(e *models.Experiment, comparisons []models.VariantComparison) models.ExperimentSummary {
	summary := models.ExperimentSummary{
		ExperimentID:   e.ID,
		ExperimentName: e.Name,
		Status:         e.Status,
		StartedAt:      e.StartedAt,
		Variants:       comparisons,
	}
	if len(comparisons) == 0 {
		summary.Variants = []models.VariantComparison{}
		return summary
	}

	control := &comparisons[0]
	for i := range comparisons {
		if comparisons[i].IsControl {
			control = &comparisons[i]
			break
		}
	}

	for _, c := range comparisons {
		summary.TotalVisitors += c.Visitors
		summary.TotalOrders += c.Orders
		summary.TotalRevenue += c.Revenue
	}

	if e.StartedAt != nil {
		days := int(time.Since(*e.StartedAt).Hours() / 24)
		summary.DurationDays = &days
	}

	summary.ControlConversionRate = control.ConversionRate
	summary.ControlRevenuePerVisitor = control.RevenuePerVisitor
	summary.ControlAvgOrderValue = control.AvgOrderValue

	// The winner is the non-control variant with the highest conversion
	// rate; strict comparison keeps the first on ties.
	var winner *models.VariantComparison
	for i := range comparisons {
		c := &comparisons[i]
		if c.IsControl {
			continue
		}
		if winner == nil || c.ConversionRate > winner.ConversionRate {
			winner = c
		}
	}

	if winner != nil {
		summary.WinningVariantID = &winner.VariantID
		summary.WinningVariantImprovement = &winner.ConversionRateChange
		summary.IsStatisticallySignificant = winner.PValue != nil && *winner.PValue < 0.05
	}

	return summary
}

// BuildTimeSeries converts daily counter rows into trend chart points,
// preserving the store's (date, variant) ordering.
func (s *ReportingService) BuildTimeSeries(rows []models.CounterRow, variants []models.Variant) []models.TimeSeriesDataPoint {
	names := make(map[string]string, len(variants))
	for _, v := range variants {
		names[v.ID] = v.DisplayName
	}

	points := make([]models.TimeSeriesDataPoint, 0, len(rows))
	for _, row := range rows {
		revenue := row.Revenue.InexactFloat64()
		points = append(points, models.TimeSeriesDataPoint{
			Date:              row.Date,
			VariantID:         row.VariantID,
			VariantName:       names[row.VariantID],
			Visitors:          row.UniqueUsers,
			Orders:            row.Conversions,
			Revenue:           revenue,
			ConversionRate:    stats.ConversionRate(row.Conversions, row.UniqueUsers),
			RevenuePerVisitor: stats.RevenuePerVisitor(revenue, row.UniqueUsers),
		})
	}
	return points
}

// GetExperimentStats builds the full report for one experiment:
// summary, time series and device segment breakdowns. An experiment
// with no counter rows yet returns the zero-valued summary with an
// empty variants list rather than an error.
func (s *ReportingService) GetExperimentStats(ctx context.Context, experimentID string, dr models.DateRange) (*models.ExperimentStats, error) {
	start := time.Now()

	e, err := s.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if e == nil {
		return nil, ErrExperimentNotFound
	}

	totals, err := s.counters.TotalsByVariant(ctx, experimentID, dr)
	if err != nil {
		return nil, fmt.Errorf("aggregate totals: %w", err)
	}

	variantMetrics := s.metricsForVariants(e.Variants, totals)
	if len(variantMetrics) == 0 {
		return &models.ExperimentStats{
			Summary:    s.emptySummary(e),
			TimeSeries: []models.TimeSeriesDataPoint{},
		}, nil
	}

	control := variantMetrics[0]
	for _, m := range variantMetrics {
		if m.IsControl {
			control = m
			break
		}
	}

	comparisons := make([]models.VariantComparison, 0, len(variantMetrics))
	for _, m := range variantMetrics {
		comparisons = append(comparisons, s.CompareVariantToControl(m, control))
	}

	summary := s.AggregateExperimentSummary(e, comparisons)

	rows, err := s.counters.DailyRows(ctx, experimentID, dr)
	if err != nil {
		return nil, fmt.Errorf("load time series: %w", err)
	}

	segments := &models.SegmentData{
		Desktop: s.segmentComparisons(ctx, e, string(useragent.DeviceDesktop), dr),
		Mobile:  s.segmentComparisons(ctx, e, string(useragent.DeviceMobile), dr),
	}

	if s.metrics != nil {
		s.metrics.RecordStatsLatency(experimentID, time.Since(start))
	}

	return &models.ExperimentStats{
		Summary:    summary,
		TimeSeries: s.BuildTimeSeries(rows, e.Variants),
		Segments:   segments,
	}, nil
}

// metricsForVariants joins totals onto the experiment's variants in
// variant order; variants without rows are skipped.
func (s *ReportingService) metricsForVariants(variants []models.Variant, totals map[string]models.AggregatedTotals) []models.VariantMetrics {
	out := make([]models.VariantMetrics, 0, len(variants))
	for _, v := range variants {
		t, ok := totals[v.ID]
		if !ok {
			continue
		}
		out = append(out, s.AggregateVariantMetrics(t, v))
	}
	return out
}

// segmentComparisons builds the comparison list for one device
// segment. Segment failures degrade to an empty list: the primary
// report is still worth returning.
func (s *ReportingService) segmentComparisons(ctx context.Context, e *models.Experiment, segment string, dr models.DateRange) []models.VariantComparison {
	totals, err := s.counters.TotalsBySegment(ctx, e.ID, segment, dr)
	if err != nil {
		s.logger.Warn("segment aggregation failed",
			zap.String("experiment_id", e.ID),
			zap.String("segment", segment),
			zap.Error(err),
		)
		return []models.VariantComparison{}
	}

	segMetrics := s.metricsForVariants(e.Variants, totals)
	if len(segMetrics) == 0 {
		return []models.VariantComparison{}
	}

	control := segMetrics[0]
	for _, m := range segMetrics {
		if m.IsControl {
			control = m
			break
		}
	}

	out := make([]models.VariantComparison, 0, len(segMetrics))
	for _, m := range segMetrics {
		out = append(out, s.CompareVariantToControl(m, control))
	}
	return out
}

func (s *ReportingService) emptySummary(e *models.Experiment) models.ExperimentSummary {
	return models.ExperimentSummary{
		ExperimentID:   e.ID,
		ExperimentName: e.Name,
		Status:         e.Status,
		StartedAt:      e.StartedAt,
		Variants:       []models.VariantComparison{},
	}
}
