package split

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/radiusdt/vector-split/internal/models"
)

// Variant assignment balance thresholds: deviation from an even split,
// in percent.
const (
	balanceWarnDeviation = 10.0
	balanceFailDeviation = 20.0
)

// AuditExperiment cross-checks one experiment's assignment rows
// against its counter rows and reports every discrepancy. Audits read
// live stores, so small transient discrepancies from in-flight writes
// grade as warnings rather than failures.
func (s *ReportingService) AuditExperiment(ctx context.Context, experimentID string) (*models.AuditReport, error) {
	e, err := s.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if e == nil {
		return nil, ErrExperimentNotFound
	}

	breakdown, err := s.registry.CountByExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("count assignments: %w", err)
	}

	totals, err := s.counters.TotalsByVariant(ctx, experimentID, models.DateRange{})
	if err != nil {
		return nil, fmt.Errorf("aggregate totals: %w", err)
	}

	checks := []models.AuditCheck{
		visitorConsistencyCheck(breakdown, totals),
		deviceCoverageCheck(breakdown),
		visitorTypeCoverageCheck(breakdown),
		s.segmentCountersCheck(ctx, experimentID, breakdown),
		variantBalanceCheck(breakdown),
	}

	report := &models.AuditReport{
		ExperimentID:  experimentID,
		GeneratedAt:   time.Now().UTC(),
		OverallStatus: models.AuditPass,
		Checks:        checks,
	}

	report.Summary.TotalChecks = len(checks)
	for _, c := range checks {
		switch c.Status {
		case models.AuditPass:
			report.Summary.Passed++
		case models.AuditWarn:
			report.Summary.Warnings++
		case models.AuditFail:
			report.Summary.Failed++
		}
	}
	switch {
	case report.Summary.Failed > 0:
		report.OverallStatus = models.AuditFail
	case report.Summary.Warnings > 0:
		report.OverallStatus = models.AuditWarn
	}

	return report, nil
}

// visitorConsistencyCheck compares the assignment row count against
// the unique-user counters. Equality can lag behind an in-flight
// impression, so a mismatch is a warning.
func visitorConsistencyCheck(b *models.AssignmentBreakdown, totals map[string]models.AggregatedTotals) models.AuditCheck {
	var counted int64
	for _, t := range totals {
		counted += t.Visitors
	}

	status := models.AuditPass
	if counted != b.Total {
		status = models.AuditWarn
	}

	return models.AuditCheck{
		Name:        "Total Visitors Consistency",
		Status:      status,
		Expected:    fmt.Sprintf("%d", b.Total),
		Actual:      fmt.Sprintf("%d", counted),
		Message:     fmt.Sprintf("assignments (%d) vs counter unique users (%d)", b.Total, counted),
		Discrepancy: abs64(b.Total - counted),
	}
}

func deviceCoverageCheck(b *models.AssignmentBreakdown) models.AuditCheck {
	var sum, typed int64
	for device, n := range b.ByDevice {
		sum += n
		if device != "unknown" {
			typed += n
		}
	}

	status := models.AuditPass
	if sum != b.Total {
		status = models.AuditFail
	}

	coverage := 0.0
	if b.Total > 0 {
		coverage = float64(typed) / float64(b.Total) * 100
	}

	return models.AuditCheck{
		Name:     "Device Segmentation Coverage",
		Status:   status,
		Expected: fmt.Sprintf("%d", b.Total),
		Actual:   fmt.Sprintf("%d", sum),
		Message: fmt.Sprintf("desktop (%d) + mobile (%d) + tablet (%d) + unknown (%d) = %d, coverage %.1f%%",
			b.ByDevice["desktop"], b.ByDevice["mobile"], b.ByDevice["tablet"], b.ByDevice["unknown"], sum, coverage),
		Discrepancy: abs64(b.Total - sum),
	}
}

func visitorTypeCoverageCheck(b *models.AssignmentBreakdown) models.AuditCheck {
	sum := b.NewVisitors + b.ReturningVisitors

	status := models.AuditPass
	if sum != b.Total {
		status = models.AuditFail
	}

	return models.AuditCheck{
		Name:     "New/Returning Visitor Coverage",
		Status:   status,
		Expected: fmt.Sprintf("%d", b.Total),
		Actual:   fmt.Sprintf("%d", sum),
		Message: fmt.Sprintf("new (%d) + returning (%d) = %d",
			b.NewVisitors, b.ReturningVisitors, sum),
		Discrepancy: abs64(b.Total - sum),
	}
}

// segmentCountersCheck compares device-typed assignments against the
// unique users recorded in the per-device counter rows. Assignments
// with an unknown device never get a segment row, so they are excluded
// from the expected count.
func (s *ReportingService) segmentCountersCheck(ctx context.Context, experimentID string, b *models.AssignmentBreakdown) models.AuditCheck {
	var expected int64
	var counted int64
	for _, segment := range []string{"desktop", "mobile", "tablet"} {
		expected += b.ByDevice[segment]
		totals, err := s.counters.TotalsBySegment(ctx, experimentID, segment, models.DateRange{})
		if err != nil {
			return models.AuditCheck{
				Name:    "Segment Counter Coverage",
				Status:  models.AuditWarn,
				Message: fmt.Sprintf("segment %q aggregation failed: %v", segment, err),
			}
		}
		for _, t := range totals {
			counted += t.Visitors
		}
	}

	status := models.AuditPass
	if counted != expected {
		status = models.AuditWarn
	}

	return models.AuditCheck{
		Name:        "Segment Counter Coverage",
		Status:      status,
		Expected:    fmt.Sprintf("%d", expected),
		Actual:      fmt.Sprintf("%d", counted),
		Message:     fmt.Sprintf("device-typed assignments (%d) vs segment unique users (%d)", expected, counted),
		Discrepancy: abs64(expected - counted),
	}
}

func variantBalanceCheck(b *models.AssignmentBreakdown) models.AuditCheck {
	if b.Total == 0 || len(b.ByVariant) == 0 {
		return models.AuditCheck{
			Name:     "Variant Assignment Balance",
			Status:   models.AuditPass,
			Expected: "n/a",
			Actual:   "n/a",
			Message:  "no assignments yet",
		}
	}

	expectedPerVariant := float64(b.Total) / float64(len(b.ByVariant))

	variantIDs := make([]string, 0, len(b.ByVariant))
	for id := range b.ByVariant {
		variantIDs = append(variantIDs, id)
	}
	sort.Strings(variantIDs)

	maxDeviation := 0.0
	counts := make([]string, 0, len(variantIDs))
	for _, id := range variantIDs {
		n := b.ByVariant[id]
		counts = append(counts, fmt.Sprintf("%d", n))
		deviation := math.Abs(float64(n)-expectedPerVariant) / expectedPerVariant * 100
		if deviation > maxDeviation {
			maxDeviation = deviation
		}
	}

	status := models.AuditPass
	switch {
	case maxDeviation >= balanceFailDeviation:
		status = models.AuditFail
	case maxDeviation >= balanceWarnDeviation:
		status = models.AuditWarn
	}

	return models.AuditCheck{
		Name:     "Variant Assignment Balance",
		Status:   status,
		Expected: fmt.Sprintf("~%.0f per variant", expectedPerVariant),
		Actual:   strings.Join(counts, ", "),
		Message: fmt.Sprintf("max deviation from even split %.1f%% across %d variants",
			maxDeviation, len(variantIDs)),
	}
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
