package models

import (
	"fmt"
	"time"
)

// ExperimentStatus enumerates the lifecycle states of an experiment.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusRunning   ExperimentStatus = "running"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
	StatusArchived  ExperimentStatus = "archived"
)

// Experiment is a storefront A/B test with two or more variants.
type Experiment struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Hypothesis  string           `json:"hypothesis,omitempty"`
	Status      ExperimentStatus `json:"status"`

	Targeting TargetingRules `json:"targeting_rules"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Variants []Variant `json:"variants,omitempty"`
}

// Variant is one arm of an experiment. Exactly one variant per
// experiment has IsControl set; weights across all variants must sum
// to 100 before the experiment may run.
type Variant struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experiment_id"`
	Name         string `json:"name"`          // 'control', 'variant_a'
	DisplayName  string `json:"display_name"`  // 'Original Button'
	IsControl    bool   `json:"is_control"`
	Weight       int    `json:"weight"`        // 0-100

	Config VariantConfig `json:"config"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetingRules restricts which visitors enter an experiment.
// Empty slices mean no restriction on that dimension.
type TargetingRules struct {
	SchemaVersion int      `json:"schema_version"`
	Countries     []string `json:"countries,omitempty"`
	DeviceTypes   []string `json:"device_types,omitempty"`
	PathPrefixes  []string `json:"path_prefixes,omitempty"`
}

// VariantConfig describes what a variant changes on the storefront.
type VariantConfig struct {
	SchemaVersion int               `json:"schema_version"`
	ComponentKey  string            `json:"component_key,omitempty"`
	Props         map[string]string `json:"props,omitempty"`
}

// ValidateWeights checks the run precondition: weights sum to 100 and
// exactly one variant is the control.
func ValidateWeights(variants []Variant) error {
	if len(variants) < 2 {
		return fmt.Errorf("experiment needs at least 2 variants, got %d", len(variants))
	}

	sum := 0
	controls := 0
	for _, v := range variants {
		if v.Weight < 0 || v.Weight > 100 {
			return fmt.Errorf("variant %q weight %d out of range [0,100]", v.Name, v.Weight)
		}
		sum += v.Weight
		if v.IsControl {
			controls++
		}
	}

	if controls != 1 {
		return fmt.Errorf("experiment must have exactly one control variant, got %d", controls)
	}
	if sum != 100 {
		return fmt.Errorf("variant weights must sum to 100, got %d", sum)
	}
	return nil
}

// ControlVariant returns the control, or the first variant when none
// is flagged (degenerate data tolerated at read time).
func ControlVariant(variants []Variant) *Variant {
	for i := range variants {
		if variants[i].IsControl {
			return &variants[i]
		}
	}
	if len(variants) > 0 {
		return &variants[0]
	}
	return nil
}
