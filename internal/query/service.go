// Package query serves read-only HTTP access to runs, summaries, and period
// aggregates.
package query

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service exposes the query API. All endpoints are read-only; writes happen
// exclusively through the pipeline workers.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates the query service.
func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger}
}

// Router builds the HTTP routing table.
func (s *Service) Router() http.Handler {
	router := httprouter.New()
	router.GET("/healthz", s.health)
	router.GET("/v1/runs/:run_id", s.getRun)
	router.GET("/v1/summaries", s.listSummaries)
	router.GET("/v1/aggregates/:period/:model", s.getAggregate)
	router.GET("/v1/periods/:period", s.getPeriod)
	return router
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runResponse is the full view of one run: record, turns, scores, and the
// summary when aggregation has caught up.
type runResponse struct {
	Run     *domain.Run        `json:"run"`
	Turns   []*domain.Turn     `json:"turns"`
	Scores  []*domain.Score    `json:"scores"`
	Summary *domain.RunSummary `json:"summary,omitempty"`
}

func (s *Service) getRun(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx := r.Context()
	runID := ps.ByName("run_id")

	run, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		s.internalError(w, "load run", err)
		return
	}

	resp := runResponse{Run: run}
	if resp.Turns, err = s.store.ListTurns(ctx, runID); err != nil {
		s.internalError(w, "list turns", err)
		return
	}
	if resp.Scores, err = s.store.ListScores(ctx, runID); err != nil {
		s.internalError(w, "list scores", err)
		return
	}
	switch summary, err := s.store.GetRunSummary(ctx, runID); {
	case err == nil:
		resp.Summary = summary
	case errors.Is(err, store.ErrNotFound):
		// Aggregation has not run yet, or the run failed.
	default:
		s.internalError(w, "load summary", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type summariesResponse struct {
	Summaries     []*domain.RunSummary `json:"summaries"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

func (s *Service) listSummaries(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()

	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = clampLimit(parsed)
	}

	offset := 0
	if token := q.Get("page_token"); token != "" {
		parsed, err := decodePageToken(token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid page_token")
			return
		}
		offset = parsed
	}

	// Fetch one extra row to learn whether another page exists.
	summaries, err := s.store.ListRunSummaries(r.Context(), store.SummaryFilter{
		ModelID: q.Get("model"),
		Period:  q.Get("period"),
		Limit:   limit + 1,
		Offset:  offset,
	})
	if err != nil {
		s.internalError(w, "list summaries", err)
		return
	}

	resp := summariesResponse{Summaries: summaries}
	if len(summaries) > limit {
		resp.Summaries = summaries[:limit]
		resp.NextPageToken = encodePageToken(offset + limit)
	}
	if resp.Summaries == nil {
		resp.Summaries = []*domain.RunSummary{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// aggregateResponse carries the stored counters plus statistics derived at
// read time; mean and variance are never stored.
type aggregateResponse struct {
	Period   string  `json:"period"`
	ModelID  string  `json:"model_id"`
	RunCount int     `json:"run_count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

func toAggregateResponse(a *domain.PeriodAggregate) aggregateResponse {
	return aggregateResponse{
		Period:   a.Period,
		ModelID:  a.ModelID,
		RunCount: a.RunCount,
		Mean:     a.Mean(),
		Variance: a.Variance(),
	}
}

func (s *Service) getAggregate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	period, model := ps.ByName("period"), ps.ByName("model")

	agg, err := s.store.GetPeriodAggregate(r.Context(), period, model)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("no aggregate for model %s in period %s", model, period))
		return
	}
	if err != nil {
		s.internalError(w, "load aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateResponse(agg))
}

type periodResponse struct {
	Period   string              `json:"period"`
	Rankings []aggregateResponse `json:"rankings"`
}

func (s *Service) getPeriod(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	period := ps.ByName("period")

	aggs, err := s.store.ListPeriodAggregates(r.Context(), period)
	if err != nil {
		s.internalError(w, "list aggregates", err)
		return
	}

	resp := periodResponse{Period: period, Rankings: make([]aggregateResponse, 0, len(aggs))}
	for _, a := range aggs {
		resp.Rankings = append(resp.Rankings, toAggregateResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("query failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// Page tokens are opaque to clients: a base64-wrapped offset.
func encodePageToken(offset int) string {
	return base64.URLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodePageToken(token string) (int, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, err
	}
	s := string(raw)
	if len(s) < 3 || s[:2] != "o:" {
		return 0, errors.New("malformed page token")
	}
	offset, err := strconv.Atoi(s[2:])
	if err != nil || offset < 0 {
		return 0, errors.New("malformed page token")
	}
	return offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
