package domain

import "time"

// NoHalfLife is the sentinel half-life for runs with no non-compliant turn.
const NoHalfLife = -1

// RunSummary holds a run's derived statistics, created exactly once per run
// via conditional write. That one-time write is the idempotence boundary that
// prevents duplicate completion events from double-counting the run in
// period aggregates.
type RunSummary struct {
	RunID      string `json:"run_id" validate:"required,uuid"`
	ManifestID string `json:"manifest_id" validate:"required"`
	ModelID    string `json:"model_id" validate:"required"`
	ScenarioID string `json:"scenario_id" validate:"required"`

	// Period is the reporting period the run contributes to, e.g. "2026-W35".
	Period string `json:"period" validate:"required"`

	// MeanAggregate is the mean of the valid per-turn aggregate values.
	MeanAggregate float64 `json:"mean_aggregate"`

	// CompliantTurns counts turns whose aggregate met the threshold.
	CompliantTurns int `json:"compliant_turns" validate:"min=0"`

	// HalfLife is the lowest turn index whose aggregate fell below the
	// threshold, or NoHalfLife when every turn was compliant.
	HalfLife int `json:"half_life" validate:"min=-1"`

	// ViolationRate is the fraction of turns whose reply asked no question.
	ViolationRate float64 `json:"violation_rate" validate:"min=0,max=1"`

	// OpenEndedRate is the fraction of turns judged open-ended.
	OpenEndedRate float64 `json:"open_ended_rate" validate:"min=0,max=1"`

	TurnCount int `json:"turn_count" validate:"min=1"`

	TotalInputTokens  int `json:"total_input_tokens" validate:"min=0"`
	TotalOutputTokens int `json:"total_output_tokens" validate:"min=0"`

	CuratedAt time.Time `json:"curated_at" validate:"required"`
}

// Validate checks the summary against its constraints.
func (s *RunSummary) Validate() error { return validate.Struct(s) }

// PeriodAggregate holds rolling statistics of run means grouped by reporting
// period and model. Count, Sum and SumSquares are folded via an atomic
// add-contribution operation and are never overwritten wholesale; mean and
// variance derive from them on read.
type PeriodAggregate struct {
	Period  string `json:"period" validate:"required"`
	ModelID string `json:"model_id" validate:"required"`

	RunCount   int     `json:"run_count" validate:"min=0"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"sum_squares"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the aggregate against its constraints.
func (a *PeriodAggregate) Validate() error { return validate.Struct(a) }

// Mean returns the mean of the contributing run means, or 0 with no runs.
func (a *PeriodAggregate) Mean() float64 {
	if a.RunCount == 0 {
		return 0
	}
	return a.Sum / float64(a.RunCount)
}

// Variance returns the sample variance of the contributing run means,
// computed from the stored sum and sum-of-squares. Zero for fewer than two
// runs.
func (a *PeriodAggregate) Variance() float64 {
	n := float64(a.RunCount)
	if a.RunCount < 2 {
		return 0
	}
	// Sample variance: (Σx² - (Σx)²/n) / (n-1).
	v := (a.SumSquares - a.Sum*a.Sum/n) / (n - 1)
	if v < 0 {
		// Guard against floating-point cancellation near zero.
		return 0
	}
	return v
}
