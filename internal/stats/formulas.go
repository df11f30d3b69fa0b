// Package stats holds the pure formula layer of the experiment engine.
// Everything here is side-effect free and defined for degenerate
// inputs: ratios with a zero denominator return 0 rather than erroring.
package stats

import "math"

// Z values for the supported confidence levels.
const (
	z95 = 1.96
	z99 = 2.576

	// zPower80 is the z for 80% statistical power, used in sample
	// size planning.
	zPower80 = 0.84
)

// ConversionRate returns orders/visitors as a percentage.
func ConversionRate(orders, visitors int64) float64 {
	if visitors == 0 {
		return 0
	}
	return float64(orders) / float64(visitors) * 100
}

// RevenuePerVisitor returns revenue/visitors.
func RevenuePerVisitor(revenue float64, visitors int64) float64 {
	if visitors == 0 {
		return 0
	}
	return revenue / float64(visitors)
}

// AvgOrderValue returns revenue/orders.
func AvgOrderValue(revenue float64, orders int64) float64 {
	if orders == 0 {
		return 0
	}
	return revenue / float64(orders)
}

// ClickThroughRate returns clicks/impressions as a percentage.
func ClickThroughRate(clicks, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(clicks) / float64(impressions) * 100
}

// RelativeChange returns the percent change of variant vs control.
// A zero control value yields 0: a deliberate floor to keep renderers
// out of division-by-zero territory, not a claim of "no change".
func RelativeChange(variantValue, controlValue float64) float64 {
	if controlValue == 0 {
		return 0
	}
	return (variantValue - controlValue) / controlValue * 100
}

// ZScore runs a two-proportion z-test of variantRate against
// baselineRate, both expressed as proportions in [0,1].
//
// The sample size n is used for BOTH arms. That reuses the variant's
// own visitor count for the control side instead of the control's true
// sample size; it is how the upstream dashboard has always computed
// significance and is preserved so historical experiments keep their
// reported numbers. Returns 0 when the pooled standard error is 0.
func ZScore(variantRate, baselineRate float64, n int64) float64 {
	if n == 0 {
		return 0
	}

	nf := float64(n)
	pooled := (variantRate*nf + baselineRate*nf) / (nf + nf)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nf + 1/nf))
	if se == 0 {
		return 0
	}

	return (variantRate - baselineRate) / se
}

// PValue converts a z-score into a two-tailed p-value using the
// Zelen/Severo rational approximation to the standard normal CDF
// (Abramowitz & Stegun 26.2.17), accurate to roughly 1e-7.
func PValue(z float64) float64 {
	absZ := math.Abs(z)

	t := 1 / (1 + 0.2316419*absZ)
	d := 0.3989423 * math.Exp(-absZ*absZ/2)
	tail := d * t * (0.3193815 + t*(-0.3565638+t*(1.781478+t*(-1.821256+t*1.330274))))

	p := 2 * tail
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}

// ConfidenceInterval returns the normal-approximation interval for a
// proportion, clipped to [0,1] and rendered as a percentage pair.
// confidence selects the z value: 0.99 and above uses z99, everything
// else z95.
func ConfidenceInterval(proportion float64, n int64, confidence float64) (lower, upper float64) {
	if n == 0 {
		return 0, 0
	}

	z := z95
	if confidence >= 0.99 {
		z = z99
	}

	se := math.Sqrt(proportion * (1 - proportion) / float64(n))

	lower = proportion - z*se
	upper = proportion + z*se
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}

	return lower * 100, upper * 100
}

// MonthlyImpact projects the incremental monthly value of rolling a
// variant out fully: monthly visitors times the difference between the
// improved and baseline metric. improvementRate is a proportion (0.15
// for +15%), baselineMetric the control's metric value.
func MonthlyImpact(dailyVisitors, improvementRate, baselineMetric float64) float64 {
	monthlyVisitors := dailyVisitors * 30
	improved := baselineMetric * (1 + improvementRate)
	return monthlyVisitors*improved - monthlyVisitors*baselineMetric
}

// RequiredSampleSize estimates per-variant sample size for detecting
// mde (absolute proportion) at 95% confidence and 80% power:
// n = 2*(za+zb)^2 * p*(1-p) / mde^2.
func RequiredSampleSize(baselineRate, mde float64) int64 {
	if mde == 0 {
		return 0
	}
	n := 2 * math.Pow(z95+zPower80, 2) * baselineRate * (1 - baselineRate) / (mde * mde)
	return int64(math.Ceil(n))
}
