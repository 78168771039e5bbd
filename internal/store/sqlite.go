package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dialecticlabs/dialectic/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS manifests (
	manifest_id TEXT PRIMARY KEY,
	config      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	total_jobs  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	manifest_id TEXT NOT NULL,
	model_id    TEXT NOT NULL,
	provider    TEXT NOT NULL,
	scenario_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	turn_count  INTEGER NOT NULL,
	params      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	UNIQUE (manifest_id, model_id, scenario_id)
);
CREATE INDEX IF NOT EXISTS idx_runs_manifest ON runs(manifest_id);
CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model_id);

CREATE TABLE IF NOT EXISTS turns (
	run_id        TEXT NOT NULL,
	turn_index    INTEGER NOT NULL,
	prompt_ref    TEXT NOT NULL,
	reply_ref     TEXT NOT NULL,
	latency_ms    INTEGER NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	has_question  INTEGER NOT NULL,
	word_count    INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, turn_index)
);

CREATE TABLE IF NOT EXISTS scores (
	run_id         TEXT NOT NULL,
	turn_index     INTEGER NOT NULL,
	metrics        TEXT NOT NULL,
	aggregate      REAL NOT NULL,
	valid          INTEGER NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	scorer_version TEXT NOT NULL,
	scored_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, turn_index)
);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id              TEXT PRIMARY KEY,
	manifest_id         TEXT NOT NULL,
	model_id            TEXT NOT NULL,
	scenario_id         TEXT NOT NULL,
	period              TEXT NOT NULL,
	mean_aggregate      REAL NOT NULL,
	compliant_turns     INTEGER NOT NULL,
	half_life           INTEGER NOT NULL,
	violation_rate      REAL NOT NULL DEFAULT 0,
	open_ended_rate     REAL NOT NULL DEFAULT 0,
	turn_count          INTEGER NOT NULL,
	total_input_tokens  INTEGER NOT NULL,
	total_output_tokens INTEGER NOT NULL,
	curated_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_model ON run_summaries(model_id, period);
CREATE INDEX IF NOT EXISTS idx_summaries_period ON run_summaries(period);

CREATE TABLE IF NOT EXISTS period_aggregates (
	period      TEXT NOT NULL,
	model_id    TEXT NOT NULL,
	run_count   INTEGER NOT NULL,
	sum         REAL NOT NULL,
	sum_squares REAL NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (period, model_id)
);
`

// SQLite is a Store backed by a local SQLite database. Conditional writes map
// onto ON CONFLICT clauses and guarded UPDATEs, so the same idempotence
// guarantees hold across process restarts.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs the
// schema migration.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Serialized writes keep the guarded UPDATEs atomic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

var _ Store = (*SQLite)(nil)

func (s *SQLite) PutManifest(ctx context.Context, m *domain.Manifest) error {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO manifests (manifest_id, config, created_at, total_jobs)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(manifest_id) DO NOTHING
	`, m.ManifestID, string(cfg), m.CreatedAt.UTC(), m.TotalJobs)
	if err != nil {
		return err
	}
	return insertedOr(res, ErrAlreadyExists)
}

func (s *SQLite) GetManifest(ctx context.Context, manifestID string) (*domain.Manifest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT manifest_id, config, created_at, total_jobs
		FROM manifests WHERE manifest_id = ?
	`, manifestID)

	var m domain.Manifest
	var cfg string
	if err := row.Scan(&m.ManifestID, &cfg, &m.CreatedAt, &m.TotalJobs); err != nil {
		return nil, mapNoRows(err)
	}
	if err := json.Unmarshal([]byte(cfg), &m.Config); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLite) CreateRun(ctx context.Context, run *domain.Run) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, manifest_id, model_id, provider, scenario_id,
			status, turn_count, params, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		run.RunID, run.ManifestID, run.ModelID, run.Provider, run.ScenarioID,
		string(run.Status), run.TurnCount, string(params), run.Error,
		run.CreatedAt.UTC(), run.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	return insertedOr(res, ErrAlreadyExists)
}

const runColumns = `run_id, manifest_id, model_id, provider, scenario_id,
	status, turn_count, params, error, created_at, updated_at`

func (s *SQLite) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

func (s *SQLite) FindRun(ctx context.Context, manifestID, modelID, scenarioID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE manifest_id = ? AND model_id = ? AND scenario_id = ?`,
		manifestID, modelID, scenarioID)
	return scanRun(row)
}

func (s *SQLite) ListRunsByManifest(ctx context.Context, manifestID string) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE manifest_id = ? ORDER BY model_id, scenario_id`, manifestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLite) ClaimRun(ctx context.Context, runID string, staleBefore, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, updated_at = ?
		WHERE run_id = ?
		  AND (status = ? OR (status = ? AND updated_at < ?))
	`,
		string(domain.RunInProgress), now.UTC(), runID,
		string(domain.RunPending), string(domain.RunInProgress), staleBefore.UTC(),
	)
	if err != nil {
		return err
	}
	if err := insertedOr(res, ErrConflict); errors.Is(err, ErrConflict) {
		return s.conflictOrMissing(ctx, runID)
	}
	return nil
}

func (s *SQLite) TouchRun(ctx context.Context, runID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET updated_at = ?
		WHERE run_id = ? AND status = ?
	`, now.UTC(), runID, string(domain.RunInProgress))
	if err != nil {
		return err
	}
	if err := insertedOr(res, ErrConflict); errors.Is(err, ErrConflict) {
		return s.conflictOrMissing(ctx, runID)
	}
	return nil
}

func (s *SQLite) TransitionRun(ctx context.Context, runID string, from, to domain.RunStatus, errMsg string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = ?
		WHERE run_id = ? AND status = ?
	`, string(to), errMsg, now.UTC(), runID, string(from))
	if err != nil {
		return err
	}
	if err := insertedOr(res, ErrConflict); errors.Is(err, ErrConflict) {
		return s.conflictOrMissing(ctx, runID)
	}
	return nil
}

// conflictOrMissing distinguishes a failed status CAS from a missing run.
func (s *SQLite) conflictOrMissing(ctx context.Context, runID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM runs WHERE run_id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func (s *SQLite) PutTurn(ctx context.Context, t *domain.Turn) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (run_id, turn_index, prompt_ref, reply_ref,
			latency_ms, input_tokens, output_tokens, has_question, word_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, turn_index) DO NOTHING
	`,
		t.RunID, t.TurnIndex, t.PromptRef, t.ReplyRef,
		t.LatencyMS, t.InputTokens, t.OutputTokens, t.HasQuestion, t.WordCount,
		t.CreatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const turnColumns = `run_id, turn_index, prompt_ref, reply_ref,
	latency_ms, input_tokens, output_tokens, has_question, word_count, created_at`

func (s *SQLite) GetTurn(ctx context.Context, runID string, turnIndex int) (*domain.Turn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE run_id = ? AND turn_index = ?`,
		runID, turnIndex)

	var t domain.Turn
	err := row.Scan(&t.RunID, &t.TurnIndex, &t.PromptRef, &t.ReplyRef,
		&t.LatencyMS, &t.InputTokens, &t.OutputTokens, &t.HasQuestion, &t.WordCount,
		&t.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &t, nil
}

func (s *SQLite) ListTurns(ctx context.Context, runID string) ([]*domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE run_id = ? ORDER BY turn_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []*domain.Turn
	for rows.Next() {
		var t domain.Turn
		err := rows.Scan(&t.RunID, &t.TurnIndex, &t.PromptRef, &t.ReplyRef,
			&t.LatencyMS, &t.InputTokens, &t.OutputTokens, &t.HasQuestion, &t.WordCount,
			&t.CreatedAt)
		if err != nil {
			return nil, err
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

func (s *SQLite) CountTurns(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *SQLite) PutScore(ctx context.Context, sc *domain.Score) (bool, error) {
	metrics, err := json.Marshal(sc.Metrics)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scores (run_id, turn_index, metrics, aggregate, valid,
			error, scorer_version, scored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, turn_index) DO NOTHING
	`,
		sc.RunID, sc.TurnIndex, string(metrics), sc.Aggregate, sc.Valid,
		sc.Error, sc.ScorerVersion, sc.ScoredAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) ListScores(ctx context.Context, runID string) ([]*domain.Score, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, turn_index, metrics, aggregate, valid, error, scorer_version, scored_at
		FROM scores WHERE run_id = ? ORDER BY turn_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []*domain.Score
	for rows.Next() {
		var sc domain.Score
		var metrics string
		err := rows.Scan(&sc.RunID, &sc.TurnIndex, &metrics, &sc.Aggregate, &sc.Valid,
			&sc.Error, &sc.ScorerVersion, &sc.ScoredAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metrics), &sc.Metrics); err != nil {
			return nil, err
		}
		scores = append(scores, &sc)
	}
	return scores, rows.Err()
}

func (s *SQLite) CountScores(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scores WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *SQLite) PutRunSummary(ctx context.Context, sum *domain.RunSummary) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_summaries (run_id, manifest_id, model_id, scenario_id,
			period, mean_aggregate, compliant_turns, half_life,
			violation_rate, open_ended_rate, turn_count,
			total_input_tokens, total_output_tokens, curated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		sum.RunID, sum.ManifestID, sum.ModelID, sum.ScenarioID,
		sum.Period, sum.MeanAggregate, sum.CompliantTurns, sum.HalfLife,
		sum.ViolationRate, sum.OpenEndedRate, sum.TurnCount,
		sum.TotalInputTokens, sum.TotalOutputTokens, sum.CuratedAt.UTC(),
	)
	if err != nil {
		return err
	}
	return insertedOr(res, ErrAlreadyExists)
}

const summaryColumns = `run_id, manifest_id, model_id, scenario_id, period,
	mean_aggregate, compliant_turns, half_life, violation_rate, open_ended_rate,
	turn_count, total_input_tokens, total_output_tokens, curated_at`

func (s *SQLite) GetRunSummary(ctx context.Context, runID string) (*domain.RunSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM run_summaries WHERE run_id = ?`, runID)
	return scanSummary(row)
}

func (s *SQLite) ListRunSummaries(ctx context.Context, f SummaryFilter) ([]*domain.RunSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM run_summaries WHERE 1=1`
	var args []any

	if f.ModelID != "" {
		query += " AND model_id = ?"
		args = append(args, f.ModelID)
	}
	if f.Period != "" {
		query += " AND period = ?"
		args = append(args, f.Period)
	}
	query += " ORDER BY curated_at DESC, run_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *SQLite) AddContribution(ctx context.Context, period, modelID string, mean float64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO period_aggregates (period, model_id, run_count, sum, sum_squares, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(period, model_id) DO UPDATE SET
			run_count   = run_count + 1,
			sum         = sum + excluded.sum,
			sum_squares = sum_squares + excluded.sum_squares,
			updated_at  = excluded.updated_at
	`, period, modelID, mean, mean*mean, now.UTC())
	return err
}

func (s *SQLite) GetPeriodAggregate(ctx context.Context, period, modelID string) (*domain.PeriodAggregate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT period, model_id, run_count, sum, sum_squares, updated_at
		FROM period_aggregates WHERE period = ? AND model_id = ?
	`, period, modelID)

	var a domain.PeriodAggregate
	err := row.Scan(&a.Period, &a.ModelID, &a.RunCount, &a.Sum, &a.SumSquares, &a.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &a, nil
}

func (s *SQLite) ListPeriodAggregates(ctx context.Context, period string) ([]*domain.PeriodAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period, model_id, run_count, sum, sum_squares, updated_at
		FROM period_aggregates WHERE period = ?
		ORDER BY sum / run_count DESC, model_id
	`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []*domain.PeriodAggregate
	for rows.Next() {
		var a domain.PeriodAggregate
		if err := rows.Scan(&a.Period, &a.ModelID, &a.RunCount, &a.Sum, &a.SumSquares, &a.UpdatedAt); err != nil {
			return nil, err
		}
		aggs = append(aggs, &a)
	}
	return aggs, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status, params string
	err := row.Scan(&run.RunID, &run.ManifestID, &run.ModelID, &run.Provider, &run.ScenarioID,
		&status, &run.TurnCount, &params, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	run.Status = domain.RunStatus(status)
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, err
	}
	return &run, nil
}

func scanSummary(row scanner) (*domain.RunSummary, error) {
	var sum domain.RunSummary
	err := row.Scan(&sum.RunID, &sum.ManifestID, &sum.ModelID, &sum.ScenarioID, &sum.Period,
		&sum.MeanAggregate, &sum.CompliantTurns, &sum.HalfLife,
		&sum.ViolationRate, &sum.OpenEndedRate, &sum.TurnCount,
		&sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.CuratedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &sum, nil
}

// insertedOr returns nil when the statement affected a row, otherwise miss.
func insertedOr(res sql.Result, miss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return miss
	}
	return nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
