package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialecticlabs/dialectic/internal/domain"
)

// forEachStore runs the same conformance checks against both adapters so the
// in-memory store used by tests and the SQLite store used in deployments
// cannot drift apart.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func testParams() domain.Parameters {
	return domain.Parameters{
		MaxTurns:            3,
		MaxTokens:           200,
		Temperature:         0.7,
		ComplianceThreshold: 0.5,
	}
}

func testRun(manifestID string) *domain.Run {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Run{
		RunID:      uuid.NewString(),
		ManifestID: manifestID,
		ModelID:    "anthropic.claude-3-5-haiku",
		Provider:   "anthropic",
		ScenarioID: "MAI-BIO-CRISPR-01",
		Status:     domain.RunPending,
		TurnCount:  3,
		Params:     testParams(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStore_ManifestIdempotence(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m := &domain.Manifest{
			ManifestID: "M-20260830-abc123def456",
			Config: domain.CampaignConfig{
				Models:     []domain.ModelSpec{{ModelID: "anthropic.claude-3-5-haiku", Provider: "anthropic"}},
				Scenarios:  []string{"MAI-BIO-CRISPR-01"},
				Parameters: testParams(),
			},
			CreatedAt: time.Now().UTC(),
			TotalJobs: 1,
		}

		require.NoError(t, s.PutManifest(ctx, m))
		assert.ErrorIs(t, s.PutManifest(ctx, m), ErrAlreadyExists)

		got, err := s.GetManifest(ctx, m.ManifestID)
		require.NoError(t, err)
		assert.Equal(t, m.ManifestID, got.ManifestID)
		assert.Equal(t, m.Config.Scenarios, got.Config.Scenarios)

		_, err = s.GetManifest(ctx, "M-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_CreateRunCoordinateDedup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := testRun("M-1")
		require.NoError(t, s.CreateRun(ctx, run))

		// Same coordinate, fresh run id: concurrent dispatch attempt.
		dup := testRun("M-1")
		assert.ErrorIs(t, s.CreateRun(ctx, dup), ErrAlreadyExists)

		found, err := s.FindRun(ctx, "M-1", run.ModelID, run.ScenarioID)
		require.NoError(t, err)
		assert.Equal(t, run.RunID, found.RunID)

		// Different scenario is a different cell.
		other := testRun("M-1")
		other.ScenarioID = "EL-ETH-UTIL-DEON-01"
		assert.NoError(t, s.CreateRun(ctx, other))
	})
}

func TestStore_ClaimRun(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := testRun("M-1")
		require.NoError(t, s.CreateRun(ctx, run))

		now := time.Now().UTC()
		staleBefore := now.Add(-10 * time.Minute)

		require.NoError(t, s.ClaimRun(ctx, run.RunID, staleBefore, now))

		// Second claim while fresh must fail: another worker owns the run.
		err := s.ClaimRun(ctx, run.RunID, staleBefore, now.Add(time.Second))
		assert.ErrorIs(t, err, ErrConflict)

		// Once the claim is stale the run is reclaimable.
		later := now.Add(time.Hour)
		require.NoError(t, s.ClaimRun(ctx, run.RunID, now.Add(30*time.Minute), later))

		assert.ErrorIs(t, s.ClaimRun(ctx, "123e4567-e89b-12d3-a456-426614174999", staleBefore, now), ErrNotFound)
	})
}

func TestStore_TouchRunRefreshesClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := testRun("M-1")
		require.NoError(t, s.CreateRun(ctx, run))

		claimed := time.Now().UTC()
		require.NoError(t, s.ClaimRun(ctx, run.RunID, claimed.Add(-10*time.Minute), claimed))

		// A heartbeat after the claim keeps a long-running dialogue from
		// looking abandoned.
		touched := claimed.Add(15 * time.Minute)
		require.NoError(t, s.TouchRun(ctx, run.RunID, touched))

		// Reclaim cutoff falls between claim and heartbeat: without the
		// touch this steal would succeed.
		err := s.ClaimRun(ctx, run.RunID, claimed.Add(5*time.Minute), touched.Add(time.Second))
		assert.ErrorIs(t, err, ErrConflict)

		// Past the heartbeat the run is reclaimable again.
		require.NoError(t, s.ClaimRun(ctx, run.RunID, touched.Add(10*time.Minute), touched.Add(time.Hour)))
	})
}

func TestStore_TouchRunRequiresInProgress(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := testRun("M-1")
		require.NoError(t, s.CreateRun(ctx, run))
		now := time.Now().UTC()

		assert.ErrorIs(t, s.TouchRun(ctx, run.RunID, now), ErrConflict)

		require.NoError(t, s.ClaimRun(ctx, run.RunID, now.Add(-time.Minute), now))
		require.NoError(t, s.TransitionRun(ctx, run.RunID, domain.RunInProgress, domain.RunCompleted, "", now))
		assert.ErrorIs(t, s.TouchRun(ctx, run.RunID, now), ErrConflict)

		assert.ErrorIs(t, s.TouchRun(ctx, "123e4567-e89b-12d3-a456-426614174999", now), ErrNotFound)
	})
}

func TestStore_TransitionRun(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := testRun("M-1")
		require.NoError(t, s.CreateRun(ctx, run))

		now := time.Now().UTC()
		require.NoError(t, s.ClaimRun(ctx, run.RunID, now.Add(-time.Minute), now))
		require.NoError(t, s.TransitionRun(ctx, run.RunID, domain.RunInProgress, domain.RunCompleted, "", now))

		// Terminal runs stay terminal.
		err := s.TransitionRun(ctx, run.RunID, domain.RunInProgress, domain.RunFailed, "late failure", now)
		assert.ErrorIs(t, err, ErrConflict)

		got, err := s.GetRun(ctx, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunCompleted, got.Status)
	})
}

func TestStore_TurnIdempotentUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		runID := uuid.NewString()

		first := &domain.Turn{
			RunID:     runID,
			TurnIndex: 0,
			PromptRef: domain.PromptKey(runID, 0),
			ReplyRef:  domain.ReplyKey(runID, 0),
			LatencyMS: 1200,
			WordCount: 42,
			CreatedAt: time.Now().UTC(),
		}
		inserted, err := s.PutTurn(ctx, first)
		require.NoError(t, err)
		assert.True(t, inserted)

		// Duplicate delivery with different content: first write wins.
		dup := *first
		dup.LatencyMS = 9999
		inserted, err = s.PutTurn(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := s.GetTurn(ctx, runID, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), got.LatencyMS)

		n, err := s.CountTurns(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_ScoreIdempotentUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		runID := uuid.NewString()

		score := &domain.Score{
			RunID:         runID,
			TurnIndex:     1,
			Metrics:       map[string]float64{"question": 1, "open_ended": 0.5},
			Aggregate:     0.75,
			Valid:         true,
			ScorerVersion: "heuristic-v1",
			ScoredAt:      time.Now().UTC(),
		}
		inserted, err := s.PutScore(ctx, score)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.PutScore(ctx, score)
		require.NoError(t, err)
		assert.False(t, inserted)

		scores, err := s.ListScores(ctx, runID)
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.InDelta(t, 0.75, scores[0].Aggregate, 1e-9)
		assert.Equal(t, map[string]float64{"question": 1, "open_ended": 0.5}, scores[0].Metrics)
	})
}

func TestStore_RunSummaryOneTimeWrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sum := &domain.RunSummary{
			RunID:         uuid.NewString(),
			ManifestID:    "M-1",
			ModelID:       "openai.gpt-4o-mini",
			ScenarioID:    "APO-PHY-HEAT-TEMP-01",
			Period:        "2026-W35",
			MeanAggregate: 0.6,
			HalfLife:      domain.NoHalfLife,
			TurnCount:     3,
			CuratedAt:     time.Now().UTC(),
		}
		require.NoError(t, s.PutRunSummary(ctx, sum))
		assert.ErrorIs(t, s.PutRunSummary(ctx, sum), ErrAlreadyExists)
	})
}

func TestStore_ListRunSummariesFilterAndPage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Second)

		for i := 0; i < 5; i++ {
			model := "openai.gpt-4o-mini"
			if i%2 == 1 {
				model = "anthropic.claude-3-5-haiku"
			}
			sum := &domain.RunSummary{
				RunID:         uuid.NewString(),
				ManifestID:    "M-1",
				ModelID:       model,
				ScenarioID:    "S",
				Period:        "2026-W35",
				MeanAggregate: float64(i) / 10,
				HalfLife:      domain.NoHalfLife,
				TurnCount:     3,
				CuratedAt:     base.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, s.PutRunSummary(ctx, sum))
		}

		byModel, err := s.ListRunSummaries(ctx, SummaryFilter{ModelID: "openai.gpt-4o-mini", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, byModel, 3)

		page1, err := s.ListRunSummaries(ctx, SummaryFilter{Period: "2026-W35", Limit: 2})
		require.NoError(t, err)
		require.Len(t, page1, 2)

		page2, err := s.ListRunSummaries(ctx, SummaryFilter{Period: "2026-W35", Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.NotEqual(t, page1[0].RunID, page2[0].RunID)

		empty, err := s.ListRunSummaries(ctx, SummaryFilter{Period: "2026-W35", Limit: 2, Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStore_AddContributionAccumulates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		for _, mean := range []float64{0.2, 0.4, 0.6} {
			require.NoError(t, s.AddContribution(ctx, "2026-W35", "m-1", mean, now))
		}

		agg, err := s.GetPeriodAggregate(ctx, "2026-W35", "m-1")
		require.NoError(t, err)
		assert.Equal(t, 3, agg.RunCount)
		assert.InDelta(t, 1.2, agg.Sum, 1e-9)
		assert.InDelta(t, 0.56, agg.SumSquares, 1e-9)
		assert.InDelta(t, 0.4, agg.Mean(), 1e-9)

		_, err = s.GetPeriodAggregate(ctx, "2026-W35", "m-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListPeriodAggregatesRanked(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		require.NoError(t, s.AddContribution(ctx, "2026-W35", "weak", 0.2, now))
		require.NoError(t, s.AddContribution(ctx, "2026-W35", "strong", 0.8, now))
		require.NoError(t, s.AddContribution(ctx, "2026-W01", "other", 0.9, now))

		aggs, err := s.ListPeriodAggregates(ctx, "2026-W35")
		require.NoError(t, err)
		require.Len(t, aggs, 2)
		assert.Equal(t, "strong", aggs[0].ModelID)
		assert.Equal(t, "weak", aggs[1].ModelID)
	})
}

func TestDirObjects(t *testing.T) {
	ctx := context.Background()
	objects, err := NewDirObjects(t.TempDir())
	require.NoError(t, err)

	key := domain.ReplyKey(uuid.NewString(), 0)
	require.NoError(t, objects.Put(ctx, key, []byte("What do you mean by fairness?")))

	ok, err := objects.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	body, err := objects.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "What do you mean by fairness?", string(body))

	_, err = objects.Get(ctx, "runs/none/turn_000_reply")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, objects.Put(ctx, "../escape", []byte("x")), "keys must stay under the root")
}
