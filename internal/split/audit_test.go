package split

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/vector-split/internal/models"
	"github.com/radiusdt/vector-split/internal/storage"
)

const mobileUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"

// newTestAudit wires tracking and reporting over the same stores so
// audits can be run against organically recorded traffic.
func newTestAudit(t *testing.T) (*ReportingService, *TrackingService, *storage.InMemoryCounterStore, *storage.InMemoryExperimentRepo) {
	t.Helper()
	counters := storage.NewInMemoryCounterStore()
	registry := storage.NewInMemoryAssignmentRegistry()
	repo := storage.NewInMemoryExperimentRepo()
	reporting := NewReportingService(counters, registry, repo, testStatsConfig(), nil, zap.NewNop())
	tracking := NewTrackingService(counters, registry, nil, nil, nil, zap.NewNop())
	return reporting, tracking, counters, repo
}

func trackImpressions(t *testing.T, tracking *TrackingService, variantID, userAgent string, n int, userOffset int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := tracking.RecordImpression(context.Background(), ImpressionRequest{
			ExperimentID: "exp-1",
			VariantID:    variantID,
			UserID:       fmt.Sprintf("user-%d", userOffset+i),
			Date:         "2026-08-01",
			UserAgent:    userAgent,
		})
		require.NoError(t, err)
	}
}

func TestAuditCleanDataPasses(t *testing.T) {
	reporting, tracking, _, repo := newTestAudit(t)
	seedExperiment(t, repo)

	trackImpressions(t, tracking, "var-control", desktopUA, 3, 0)
	trackImpressions(t, tracking, "var-control", mobileUA, 2, 3)
	trackImpressions(t, tracking, "var-b", desktopUA, 3, 5)
	trackImpressions(t, tracking, "var-b", mobileUA, 2, 8)

	report, err := reporting.AuditExperiment(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, models.AuditPass, report.OverallStatus)
	assert.Len(t, report.Checks, 5)
	assert.Equal(t, 5, report.Summary.TotalChecks)
	assert.Equal(t, 5, report.Summary.Passed)
	assert.Zero(t, report.Summary.Warnings)
	assert.Zero(t, report.Summary.Failed)

	for _, c := range report.Checks {
		assert.Equal(t, models.AuditPass, c.Status, c.Name)
	}
}

func TestAuditDetectsOrphanedCounterRows(t *testing.T) {
	reporting, tracking, counters, repo := newTestAudit(t)
	seedExperiment(t, repo)

	trackImpressions(t, tracking, "var-control", desktopUA, 2, 0)
	trackImpressions(t, tracking, "var-b", desktopUA, 2, 2)

	// A unique-user increment without a backing assignment row, as a
	// crashed writer would leave behind.
	key := models.CounterKey{ExperimentID: "exp-1", VariantID: "var-b", Date: "2026-08-01"}
	require.NoError(t, counters.IncrementImpression(context.Background(), key, true))

	report, err := reporting.AuditExperiment(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, models.AuditWarn, report.OverallStatus)

	var visitors models.AuditCheck
	for _, c := range report.Checks {
		if c.Name == "Total Visitors Consistency" {
			visitors = c
		}
	}
	assert.Equal(t, models.AuditWarn, visitors.Status)
	assert.Equal(t, "4", visitors.Expected)
	assert.Equal(t, "5", visitors.Actual)
	assert.Equal(t, int64(1), visitors.Discrepancy)
}

func TestAuditFlagsVariantImbalance(t *testing.T) {
	reporting, tracking, _, repo := newTestAudit(t)
	seedExperiment(t, repo)

	// 8 vs 2 on a 50/50 split is a 60% deviation from even.
	trackImpressions(t, tracking, "var-control", desktopUA, 8, 0)
	trackImpressions(t, tracking, "var-b", desktopUA, 2, 8)

	report, err := reporting.AuditExperiment(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, models.AuditFail, report.OverallStatus)

	var balance models.AuditCheck
	for _, c := range report.Checks {
		if c.Name == "Variant Assignment Balance" {
			balance = c
		}
	}
	// Variant IDs sort lexicographically, so var-b's count leads.
	assert.Equal(t, models.AuditFail, balance.Status)
	assert.Equal(t, "2, 8", balance.Actual)
}

func TestAuditEmptyExperimentPasses(t *testing.T) {
	reporting, _, _, repo := newTestAudit(t)
	seedExperiment(t, repo)

	report, err := reporting.AuditExperiment(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, models.AuditPass, report.OverallStatus)
	assert.Equal(t, 5, report.Summary.Passed)
}

func TestAuditUnknownExperiment(t *testing.T) {
	reporting, _, _, _ := newTestAudit(t)

	_, err := reporting.AuditExperiment(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrExperimentNotFound)
}
