package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversionRate(t *testing.T) {
	assert.Equal(t, 0.0, ConversionRate(0, 0))
	assert.Equal(t, 0.0, ConversionRate(5, 0))
	assert.Equal(t, 5.0, ConversionRate(5, 100))
	assert.Equal(t, 50.0, ConversionRate(1, 2))
}

func TestRevenuePerVisitor(t *testing.T) {
	assert.Equal(t, 0.0, RevenuePerVisitor(500, 0))
	assert.Equal(t, 10.0, RevenuePerVisitor(500, 50))
}

func TestAvgOrderValue(t *testing.T) {
	assert.Equal(t, 0.0, AvgOrderValue(500, 0))
	assert.Equal(t, 100.0, AvgOrderValue(500, 5))
}

func TestClickThroughRate(t *testing.T) {
	assert.Equal(t, 0.0, ClickThroughRate(10, 0))
	assert.Equal(t, 2.0, ClickThroughRate(20, 1000))
}

func TestRelativeChange(t *testing.T) {
	assert.Equal(t, 0.0, RelativeChange(42, 0))
	assert.Equal(t, 0.0, RelativeChange(0, 0))
	assert.Equal(t, 0.0, RelativeChange(-5, 0))
	assert.InDelta(t, 10.0, RelativeChange(110, 100), 1e-9)
	assert.InDelta(t, -10.0, RelativeChange(90, 100), 1e-9)
}

func TestZScoreAntiSymmetric(t *testing.T) {
	cases := []struct {
		p1, p2 float64
		n      int64
	}{
		{0.16, 0.10, 50},
		{0.05, 0.04, 1000},
		{0.5, 0.5, 200},
		{0.9, 0.1, 30},
	}
	for _, c := range cases {
		assert.InDelta(t, -ZScore(c.p2, c.p1, c.n), ZScore(c.p1, c.p2, c.n), 1e-12)
	}
}

func TestZScoreDegenerate(t *testing.T) {
	// Zero sample size.
	assert.Equal(t, 0.0, ZScore(0.1, 0.2, 0))
	// Identical proportions give z=0.
	assert.Equal(t, 0.0, ZScore(0.1, 0.1, 100))
	// Both rates zero: pooled p is 0, se is 0.
	assert.Equal(t, 0.0, ZScore(0, 0, 100))
	// Both rates one: pooled p is 1, se is 0.
	assert.Equal(t, 0.0, ZScore(1, 1, 100))
}

func TestPValueMonotonicInAbsZ(t *testing.T) {
	zs := []float64{0, 0.25, 0.5, 1.0, 1.645, 1.96, 2.576, 3.5, 5, 8}
	prev := math.Inf(1)
	for _, z := range zs {
		p := PValue(z)
		assert.LessOrEqual(t, p, prev, "p-value must not grow with |z|=%v", z)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		prev = p
	}
	// Two-tailed symmetry.
	assert.InDelta(t, PValue(1.96), PValue(-1.96), 1e-12)
}

func TestPValueKnownPoints(t *testing.T) {
	assert.InDelta(t, 1.0, PValue(0), 1e-4)
	assert.InDelta(t, 0.05, PValue(1.96), 1e-3)
	assert.InDelta(t, 0.01, PValue(2.576), 1e-3)
}

func TestConfidenceIntervalBounds(t *testing.T) {
	cases := []struct {
		p float64
		n int64
	}{
		{0.0, 100}, {0.02, 50}, {0.1, 50}, {0.5, 10}, {0.98, 50}, {1.0, 100},
	}
	for _, c := range cases {
		lower, upper := ConfidenceInterval(c.p, c.n, 0.95)
		assert.GreaterOrEqual(t, lower, 0.0)
		assert.LessOrEqual(t, lower, c.p*100+1e-9)
		assert.GreaterOrEqual(t, upper, c.p*100-1e-9)
		assert.LessOrEqual(t, upper, 100.0)
	}
}

func TestConfidenceIntervalDegenerate(t *testing.T) {
	lower, upper := ConfidenceInterval(0.5, 0, 0.95)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 0.0, upper)
}

func TestConfidenceIntervalWidensAt99(t *testing.T) {
	l95, u95 := ConfidenceInterval(0.1, 200, 0.95)
	l99, u99 := ConfidenceInterval(0.1, 200, 0.99)
	assert.Less(t, l99, l95)
	assert.Greater(t, u99, u95)
}

func TestMonthlyImpact(t *testing.T) {
	// 100 daily visitors, +10% on a 5% baseline CVR:
	// 3000 * (0.055 - 0.050) = 15 extra orders per month.
	assert.InDelta(t, 15.0, MonthlyImpact(100, 0.10, 0.05), 1e-9)
	assert.Equal(t, 0.0, MonthlyImpact(100, 0, 0.05))
	assert.Equal(t, 0.0, MonthlyImpact(0, 0.10, 0.05))
}

func TestRequiredSampleSize(t *testing.T) {
	// n = 2*(1.96+0.84)^2 * 0.1*0.9 / 0.05^2 = 564.48 -> 565
	assert.Equal(t, int64(565), RequiredSampleSize(0.10, 0.05))
	assert.Equal(t, int64(0), RequiredSampleSize(0.10, 0))
	// Larger MDE needs fewer samples.
	assert.Less(t, RequiredSampleSize(0.10, 0.10), RequiredSampleSize(0.10, 0.05))
}
