package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dialecticlabs/dialectic/internal/domain"
)

// Memory is an in-memory Store used by tests and local experiments. All
// conditional-write semantics match the SQLite adapter; a single mutex stands
// in for the database's atomicity.
type Memory struct {
	mu sync.Mutex

	manifests  map[string]domain.Manifest
	runs       map[string]domain.Run
	runsByCoor map[string]string // coordinate -> run id
	turns      map[string]map[int]domain.Turn
	scores     map[string]map[int]domain.Score
	summaries  map[string]domain.RunSummary
	aggregates map[string]domain.PeriodAggregate // period + "/" + model
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		manifests:  make(map[string]domain.Manifest),
		runs:       make(map[string]domain.Run),
		runsByCoor: make(map[string]string),
		turns:      make(map[string]map[int]domain.Turn),
		scores:     make(map[string]map[int]domain.Score),
		summaries:  make(map[string]domain.RunSummary),
		aggregates: make(map[string]domain.PeriodAggregate),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) PutManifest(_ context.Context, manifest *domain.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.manifests[manifest.ManifestID]; ok {
		return ErrAlreadyExists
	}
	m.manifests[manifest.ManifestID] = *manifest
	return nil
}

func (m *Memory) GetManifest(_ context.Context, manifestID string) (*domain.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, ok := m.manifests[manifestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &manifest, nil
}

func (m *Memory) CreateRun(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coor := run.Coordinate()
	if _, ok := m.runsByCoor[coor]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.runs[run.RunID]; ok {
		return ErrAlreadyExists
	}
	m.runs[run.RunID] = *run
	m.runsByCoor[coor] = run.RunID
	return nil
}

func (m *Memory) GetRun(_ context.Context, runID string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (m *Memory) FindRun(_ context.Context, manifestID, modelID, scenarioID string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coor := manifestID + "/" + modelID + "/" + scenarioID
	runID, ok := m.runsByCoor[coor]
	if !ok {
		return nil, ErrNotFound
	}
	run := m.runs[runID]
	return &run, nil
}

func (m *Memory) ListRunsByManifest(_ context.Context, manifestID string) ([]*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []*domain.Run
	for _, run := range m.runs {
		if run.ManifestID == manifestID {
			r := run
			runs = append(runs, &r)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].ModelID != runs[j].ModelID {
			return runs[i].ModelID < runs[j].ModelID
		}
		return runs[i].ScenarioID < runs[j].ScenarioID
	})
	return runs, nil
}

func (m *Memory) ClaimRun(_ context.Context, runID string, staleBefore, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	claimable := run.Status == domain.RunPending ||
		(run.Status == domain.RunInProgress && run.UpdatedAt.Before(staleBefore))
	if !claimable {
		return ErrConflict
	}
	run.Status = domain.RunInProgress
	run.UpdatedAt = now
	m.runs[runID] = run
	return nil
}

func (m *Memory) TouchRun(_ context.Context, runID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status != domain.RunInProgress {
		return ErrConflict
	}
	run.UpdatedAt = now
	m.runs[runID] = run
	return nil
}

func (m *Memory) TransitionRun(_ context.Context, runID string, from, to domain.RunStatus, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status != from {
		return ErrConflict
	}
	run.Status = to
	run.Error = errMsg
	run.UpdatedAt = now
	m.runs[runID] = run
	return nil
}

func (m *Memory) PutTurn(_ context.Context, turn *domain.Turn) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIdx, ok := m.turns[turn.RunID]
	if !ok {
		byIdx = make(map[int]domain.Turn)
		m.turns[turn.RunID] = byIdx
	}
	if _, ok := byIdx[turn.TurnIndex]; ok {
		return false, nil
	}
	byIdx[turn.TurnIndex] = *turn
	return true, nil
}

func (m *Memory) GetTurn(_ context.Context, runID string, turnIndex int) (*domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turn, ok := m.turns[runID][turnIndex]
	if !ok {
		return nil, ErrNotFound
	}
	return &turn, nil
}

func (m *Memory) ListTurns(_ context.Context, runID string) ([]*domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var turns []*domain.Turn
	for _, turn := range m.turns[runID] {
		t := turn
		turns = append(turns, &t)
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].TurnIndex < turns[j].TurnIndex })
	return turns, nil
}

func (m *Memory) CountTurns(_ context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns[runID]), nil
}

func (m *Memory) PutScore(_ context.Context, score *domain.Score) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIdx, ok := m.scores[score.RunID]
	if !ok {
		byIdx = make(map[int]domain.Score)
		m.scores[score.RunID] = byIdx
	}
	if _, ok := byIdx[score.TurnIndex]; ok {
		return false, nil
	}
	byIdx[score.TurnIndex] = *score
	return true, nil
}

func (m *Memory) ListScores(_ context.Context, runID string) ([]*domain.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var scores []*domain.Score
	for _, score := range m.scores[runID] {
		s := score
		scores = append(scores, &s)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].TurnIndex < scores[j].TurnIndex })
	return scores, nil
}

func (m *Memory) CountScores(_ context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scores[runID]), nil
}

func (m *Memory) PutRunSummary(_ context.Context, s *domain.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.summaries[s.RunID]; ok {
		return ErrAlreadyExists
	}
	m.summaries[s.RunID] = *s
	return nil
}

func (m *Memory) GetRunSummary(_ context.Context, runID string) (*domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.summaries[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) ListRunSummaries(_ context.Context, f SummaryFilter) ([]*domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*domain.RunSummary
	for _, s := range m.summaries {
		if f.ModelID != "" && s.ModelID != f.ModelID {
			continue
		}
		if f.Period != "" && s.Period != f.Period {
			continue
		}
		v := s
		all = append(all, &v)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CuratedAt.Equal(all[j].CuratedAt) {
			return all[i].CuratedAt.After(all[j].CuratedAt)
		}
		return strings.Compare(all[i].RunID, all[j].RunID) < 0
	})

	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (m *Memory) AddContribution(_ context.Context, period, modelID string, mean float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := period + "/" + modelID
	agg, ok := m.aggregates[key]
	if !ok {
		agg = domain.PeriodAggregate{Period: period, ModelID: modelID}
	}
	agg.RunCount++
	agg.Sum += mean
	agg.SumSquares += mean * mean
	agg.UpdatedAt = now
	m.aggregates[key] = agg
	return nil
}

func (m *Memory) GetPeriodAggregate(_ context.Context, period, modelID string) (*domain.PeriodAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.aggregates[period+"/"+modelID]
	if !ok {
		return nil, ErrNotFound
	}
	return &agg, nil
}

func (m *Memory) ListPeriodAggregates(_ context.Context, period string) ([]*domain.PeriodAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var aggs []*domain.PeriodAggregate
	for _, agg := range m.aggregates {
		if agg.Period == period {
			a := agg
			aggs = append(aggs, &a)
		}
	}
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].Mean() != aggs[j].Mean() {
			return aggs[i].Mean() > aggs[j].Mean()
		}
		return aggs[i].ModelID < aggs[j].ModelID
	})
	return aggs, nil
}

// MemoryObjects is an in-memory ObjectStore for tests.
type MemoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryObjects creates an empty in-memory object store.
func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objects: make(map[string][]byte)}
}

var _ ObjectStore = (*MemoryObjects)(nil)

func (m *MemoryObjects) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(body))
	copy(buf, body)
	m.objects[key] = buf
	return nil
}

func (m *MemoryObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(body))
	copy(buf, body)
	return buf, nil
}

func (m *MemoryObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}
