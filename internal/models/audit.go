package models

import "time"

// AuditStatus grades one integrity check.
type AuditStatus string

const (
	AuditPass AuditStatus = "pass"
	AuditWarn AuditStatus = "warning"
	AuditFail AuditStatus = "fail"
)

// AuditCheck is one cross-source consistency comparison. Expected and
// actual are rendered as strings because some checks compare counts
// and others compare distributions.
type AuditCheck struct {
	Name        string      `json:"name"`
	Status      AuditStatus `json:"status"`
	Expected    string      `json:"expected"`
	Actual      string      `json:"actual"`
	Message     string      `json:"message"`
	Discrepancy int64       `json:"discrepancy,omitempty"`
}

// AuditSummary counts check outcomes by grade.
type AuditSummary struct {
	TotalChecks int `json:"total_checks"`
	Passed      int `json:"passed"`
	Warnings    int `json:"warnings"`
	Failed      int `json:"failed"`
}

// AuditReport is the result of a data-integrity audit over one
// experiment: assignment rows and counter rows checked against each
// other. Overall status is the worst grade among the checks.
type AuditReport struct {
	ExperimentID  string       `json:"experiment_id"`
	GeneratedAt   time.Time    `json:"generated_at"`
	OverallStatus AuditStatus  `json:"overall_status"`
	Checks        []AuditCheck `json:"checks"`
	Summary       AuditSummary `json:"summary"`
}

// AssignmentBreakdown aggregates one experiment's assignment rows for
// auditing: distinct users in total and sliced by variant, device and
// new/returning classification.
type AssignmentBreakdown struct {
	Total             int64
	ByVariant         map[string]int64
	ByDevice          map[string]int64
	NewVisitors       int64
	ReturningVisitors int64
}
