package domain

import "time"

// UnscoredAggregate is the sentinel aggregate value for turns whose metric
// functions failed on malformed input. Unscored turns still count toward run
// completion but are excluded from mean computation and treated as
// non-compliant.
const UnscoredAggregate = -1.0

// Score holds the per-turn metric values and their reduction.
// Idempotent upsert by (RunID, TurnIndex); immutable thereafter.
type Score struct {
	RunID     string `json:"run_id" validate:"required,uuid"`
	TurnIndex int    `json:"turn_index" validate:"min=0"`

	// Metrics maps metric names to values in [0,1]. Empty for unscored turns.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// Aggregate is a deterministic pure reduction of Metrics (unweighted
	// mean by default), or UnscoredAggregate when Valid is false.
	Aggregate float64 `json:"aggregate"`

	// Valid indicates whether this score participates in aggregation.
	Valid bool `json:"valid"`

	// Error carries the metric failure for unscored turns.
	Error string `json:"error,omitempty"`

	// ScorerVersion tracks the metric set used, for comparability.
	ScorerVersion string `json:"scorer_version" validate:"required"`

	ScoredAt time.Time `json:"scored_at" validate:"required"`
}

// Validate checks the score against its constraints, including metric range.
func (s *Score) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	for name, v := range s.Metrics {
		if v < 0 || v > 1 {
			return &MetricRangeError{Metric: name, Value: v}
		}
	}
	return nil
}

// Compliant reports whether the score's aggregate meets the threshold.
// Unscored turns are never compliant.
func (s *Score) Compliant(threshold float64) bool {
	return s.Valid && s.Aggregate >= threshold
}

// MetricRangeError reports a metric value outside [0,1].
type MetricRangeError struct {
	Metric string
	Value  float64
}

func (e *MetricRangeError) Error() string {
	return "metric " + e.Metric + " outside [0,1]"
}

// MeanReduction is the default score reduction: the unweighted mean of the
// named metrics. Returns (UnscoredAggregate, false) for an empty metric set.
//
// Whether metrics should be weighted or stage-specific is unresolved; the
// scorer accepts any Reducer, and this is merely the default.
func MeanReduction(metrics map[string]float64) (float64, bool) {
	if len(metrics) == 0 {
		return UnscoredAggregate, false
	}
	var sum float64
	for _, v := range metrics {
		sum += v
	}
	return sum / float64(len(metrics)), true
}
