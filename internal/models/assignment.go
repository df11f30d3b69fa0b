package models

import "time"

// Assignment pins a user to a variant for the lifetime of an
// experiment. Created exactly once per (user, experiment) pair; the
// first committed write wins and later racers observe it unchanged.
type Assignment struct {
	UserID       string `json:"user_id"`
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`

	AssignedAt       time.Time `json:"assigned_at"`
	AssignmentMethod string    `json:"assignment_method"` // 'hash', 'manual', 'override'

	// Context captured at assignment time, immutable afterward.
	UserAgent    string `json:"user_agent,omitempty"`
	DeviceType   string `json:"device_type,omitempty"`
	Country      string `json:"country,omitempty"`
	IsNewVisitor bool   `json:"is_new_visitor"`
}

// AssignmentContext carries the request context an ingestion handler
// knows at first-impression time.
type AssignmentContext struct {
	UserAgent  string
	DeviceType string
	Country    string
	IP         string
	Method     string // assignment method, defaults to 'hash'
}
