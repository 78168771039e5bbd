package domain

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a run.
//
// Transitions are PENDING → IN_PROGRESS → COMPLETED | FAILED, each enforced
// by a conditional write so that concurrent workers cannot both own a run.
type RunStatus string

const (
	RunPending    RunStatus = "PENDING"
	RunInProgress RunStatus = "IN_PROGRESS"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// Run is one model-against-one-scenario execution instance within a manifest.
type Run struct {
	// RunID is globally unique, generated at dispatch time.
	RunID string `json:"run_id" validate:"required,uuid"`

	// ManifestID back-references the campaign this run belongs to.
	ManifestID string `json:"manifest_id" validate:"required"`

	ModelID    string `json:"model_id" validate:"required"`
	Provider   string `json:"provider" validate:"required"`
	ScenarioID string `json:"scenario_id" validate:"required"`

	Status RunStatus `json:"status" validate:"required,oneof=PENDING IN_PROGRESS COMPLETED FAILED"`

	// TurnCount is the declared number of turns for this run. Set at
	// dispatch time from the campaign parameters; completion detection
	// compares persisted turn and score counts against it.
	TurnCount int `json:"turn_count" validate:"min=1"`

	Params Parameters `json:"parameters"`

	// Error carries the failure reason for FAILED runs.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at" validate:"required"`
	UpdatedAt time.Time `json:"updated_at" validate:"required"`
}

// Validate checks the run against its constraints.
func (r *Run) Validate() error { return validate.Struct(r) }

// Coordinate returns the (manifest, model, scenario) triple that uniquely
// identifies a run within a campaign. Used by the dispatcher's conditional
// create to deduplicate concurrent dispatch attempts.
func (r *Run) Coordinate() string {
	return fmt.Sprintf("%s/%s/%s", r.ManifestID, r.ModelID, r.ScenarioID)
}

// Period returns the reporting period this run contributes to, derived from
// its creation time as an ISO week, e.g. "2026-W35".
func (r *Run) Period() string { return PeriodOf(r.CreatedAt) }

// PeriodOf formats t's ISO week as a reporting period key.
func PeriodOf(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
