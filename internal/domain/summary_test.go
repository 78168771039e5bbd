package domain //nolint:testpackage // Need access to unexported validate

import (
	"testing"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodAggregate_MeanVariance(t *testing.T) {
	means := []float64{0.2, 0.4, 0.6}

	agg := &PeriodAggregate{Period: "2026-W35", ModelID: "anthropic.claude-3-5-haiku"}
	for _, m := range means {
		agg.RunCount++
		agg.Sum += m
		agg.SumSquares += m * m
	}

	assert.InDelta(t, 0.4, agg.Mean(), 1e-9)

	// Derived variance must match the closed-form sample variance.
	want, err := stats.SampleVariance(means)
	require.NoError(t, err)
	assert.InDelta(t, want, agg.Variance(), 1e-9)
}

func TestPeriodAggregate_Empty(t *testing.T) {
	agg := &PeriodAggregate{Period: "2026-W01", ModelID: "m"}
	assert.Zero(t, agg.Mean())
	assert.Zero(t, agg.Variance())

	agg.RunCount = 1
	agg.Sum = 0.7
	agg.SumSquares = 0.49
	assert.InDelta(t, 0.7, agg.Mean(), 1e-9)
	assert.Zero(t, agg.Variance(), "single contribution has no sample variance")
}

func TestPeriodOf(t *testing.T) {
	// 2026-01-01 falls in ISO week 1 of 2026.
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-W01", PeriodOf(ts))

	// 2023-01-01 is a Sunday belonging to ISO week 52 of 2022.
	ts = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2022-W52", PeriodOf(ts))
}

func TestContiguousTurns(t *testing.T) {
	assert.True(t, ContiguousTurns(nil))
	assert.True(t, ContiguousTurns([]int{0}))
	assert.True(t, ContiguousTurns([]int{0, 1, 2, 3}))
	assert.False(t, ContiguousTurns([]int{0, 1, 3}), "gap at index 2")
	assert.False(t, ContiguousTurns([]int{1, 2, 3}), "missing first turn")
}

func TestRunSummary_Validate(t *testing.T) {
	s := &RunSummary{
		RunID:         "123e4567-e89b-12d3-a456-426614174000",
		ManifestID:    "M-20260830-abc123def456",
		ModelID:       "openai.gpt-4o-mini",
		ScenarioID:    "MAI-BIO-CRISPR-01",
		Period:        "2026-W35",
		MeanAggregate: 0.62,
		HalfLife:      NoHalfLife,
		TurnCount:     5,
		CuratedAt:     time.Now(),
	}
	require.NoError(t, s.Validate())

	s.HalfLife = -2
	assert.Error(t, s.Validate())
}
