package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical day granularity used by counter rows.
const DateLayout = "2006-01-02"

// DateKey normalizes a timestamp to the counter-row day key.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// CounterKey addresses one accumulator row. Segment is empty for the
// primary row; device-segment rows carry the device type.
type CounterKey struct {
	ExperimentID string
	VariantID    string
	Date         string // YYYY-MM-DD
	Segment      string // "" | "desktop" | "mobile" | "tablet"
}

// CounterRow is one accumulator record. Fields only ever grow; the
// store applies deltas server-side so concurrent writers never lose
// updates.
type CounterRow struct {
	ExperimentID string          `json:"experiment_id"`
	VariantID    string          `json:"variant_id"`
	Date         string          `json:"date"`
	Segment      string          `json:"segment,omitempty"`
	Impressions  int64           `json:"impressions"`
	UniqueUsers  int64           `json:"unique_users"`
	Clicks       int64           `json:"clicks"`
	Conversions  int64           `json:"conversions"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// DateRange is a closed [Start, End] day range. Zero values mean
// unbounded on that side.
type DateRange struct {
	Start string
	End   string
}

// Contains reports whether a day key falls inside the range.
func (r DateRange) Contains(date string) bool {
	if r.Start != "" && date < r.Start {
		return false
	}
	if r.End != "" && date > r.End {
		return false
	}
	return true
}

// AggregatedTotals is a variant's counters summed over a date range.
// Derived on every stats request, never persisted.
type AggregatedTotals struct {
	Visitors    int64           `json:"visitors"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Orders      int64           `json:"orders"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// VariantMetrics adds derived rates to AggregatedTotals.
// ConfidenceLevel and PValue stay nil until the variant has been
// compared against a control.
type VariantMetrics struct {
	VariantID   string `json:"variant_id"`
	VariantName string `json:"variant_name"`
	IsControl   bool   `json:"is_control"`

	Visitors    int64   `json:"visitors"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Orders      int64   `json:"orders"`
	Revenue     float64 `json:"revenue"`

	ConversionRate    float64 `json:"conversion_rate"`     // %
	ClickThroughRate  float64 `json:"click_through_rate"`  // %
	RevenuePerVisitor float64 `json:"revenue_per_visitor"`
	ProfitPerVisitor  float64 `json:"profit_per_visitor"`
	AvgOrderValue     float64 `json:"avg_order_value"`

	ConfidenceLevel *float64 `json:"confidence_level"` // 0-100, nil until compared
	PValue          *float64 `json:"p_value"`          // nil until compared
}

// VariantComparison is a VariantMetrics measured against the control.
type VariantComparison struct {
	VariantMetrics

	ConversionRateChange    float64 `json:"conversion_rate_change"`     // % vs control
	RevenuePerVisitorChange float64 `json:"revenue_per_visitor_change"` // % vs control
	ProfitPerVisitorChange  float64 `json:"profit_per_visitor_change"`  // % vs control
	AvgOrderValueChange     float64 `json:"avg_order_value_change"`     // % vs control

	ConversionRateCILower float64 `json:"conversion_rate_ci_lower"` // %
	ConversionRateCIUpper float64 `json:"conversion_rate_ci_upper"` // %

	EstimatedMonthlyOrders  float64 `json:"estimated_monthly_orders"`
	EstimatedMonthlyRevenue float64 `json:"estimated_monthly_revenue"`
}

// ExperimentSummary folds all variant comparisons into one report row.
type ExperimentSummary struct {
	ExperimentID   string           `json:"experiment_id"`
	ExperimentName string           `json:"experiment_name"`
	Status         ExperimentStatus `json:"status"`
	StartedAt      *time.Time       `json:"started_at"`
	DurationDays   *int             `json:"duration_days"`

	TotalVisitors int64   `json:"total_visitors"`
	TotalOrders   int64   `json:"total_orders"`
	TotalRevenue  float64 `json:"total_revenue"`

	ControlConversionRate    float64 `json:"control_conversion_rate"`
	ControlRevenuePerVisitor float64 `json:"control_revenue_per_visitor"`
	ControlAvgOrderValue     float64 `json:"control_avg_order_value"`

	Variants []VariantComparison `json:"variants"`

	WinningVariantID           *string  `json:"winning_variant_id"`
	WinningVariantImprovement  *float64 `json:"winning_variant_improvement"`
	IsStatisticallySignificant bool     `json:"is_statistically_significant"`
}

// TimeSeriesDataPoint is one (date, variant) point for trend charts.
type TimeSeriesDataPoint struct {
	Date        string `json:"date"`
	VariantID   string `json:"variant_id"`
	VariantName string `json:"variant_name"`

	Visitors          int64   `json:"visitors"`
	Orders            int64   `json:"orders"`
	Revenue           float64 `json:"revenue"`
	ConversionRate    float64 `json:"conversion_rate"`
	RevenuePerVisitor float64 `json:"revenue_per_visitor"`
}

// SegmentData breaks variant comparisons down by device class.
type SegmentData struct {
	Desktop []VariantComparison `json:"desktop"`
	Mobile  []VariantComparison `json:"mobile"`
}

// ExperimentStats is the reporting boundary payload.
type ExperimentStats struct {
	Summary    ExperimentSummary     `json:"summary"`
	TimeSeries []TimeSeriesDataPoint `json:"time_series"`
	Segments   *SegmentData          `json:"segment_data,omitempty"`
}

// TrackEvent is one raw ingestion event for the append-only event log.
type TrackEvent struct {
	EventType    string          `json:"event_type"` // 'impression', 'click', 'conversion'
	ExperimentID string          `json:"experiment_id"`
	VariantID    string          `json:"variant_id"`
	UserID       string          `json:"user_id,omitempty"`
	OrderValue   decimal.Decimal `json:"order_value"`
	UserAgent    string          `json:"user_agent,omitempty"`
	DeviceType   string          `json:"device_type,omitempty"`
	Country      string          `json:"country,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
