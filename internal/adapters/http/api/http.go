// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/kickoff/internal/app"
	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/pipeline"
	"github.com/okian/kickoff/internal/domain/predictor"
	"github.com/okian/kickoff/internal/domain/registry"
	"github.com/okian/kickoff/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Ready() bool
	PingDatabase(ctx context.Context) error

	Predict(ctx context.Context, home, away string) (types.Prediction, error)
	ListTeams() ([]string, error)
	HeadToHead(a, b string) ([]types.Meeting, error)

	PipelineStatus() (types.PipelineStatus, error)
	RunPipeline(ctx context.Context) (types.PipelineStatus, error)
	RequestRetrain(ctx context.Context) error
	Runs(ctx context.Context, limit int) ([]types.RunRecord, error)

	RecordPrediction(ctx context.Context, home, away string) (types.JournalEntry, error)
	History(ctx context.Context, limit int) ([]types.JournalEntry, error)
	HistoryStats(ctx context.Context) (types.JournalStats, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	predictHandler  *PredictHandler
	pipelineHandler *PipelineHandler
	historyHandler  *HistoryHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps
// ?limit on list endpoints.
func NewServer(deps Dependencies, maxLimit int) *Server {
	if maxLimit < 1 {
		maxLimit = defaultMaxLimit
	}
	return &Server{
		healthHandler:   NewHealthHandler(deps),
		predictHandler:  NewPredictHandler(deps),
		pipelineHandler: NewPipelineHandler(deps, maxLimit),
		historyHandler:  NewHistoryHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("/predict", MetricsMiddleware(s.predictHandler.HandlePredict, "predict"))
	mux.HandleFunc("/teams", MetricsMiddleware(s.predictHandler.HandleTeams, "teams"))
	mux.HandleFunc("/h2h", MetricsMiddleware(s.predictHandler.HandleHeadToHead, "h2h"))
	mux.HandleFunc("/pipeline/status", MetricsMiddleware(s.pipelineHandler.HandleStatus, "pipeline_status"))
	mux.HandleFunc("/pipeline/run", MetricsMiddleware(s.pipelineHandler.HandleRun, "pipeline_run"))
	mux.HandleFunc("/pipeline/runs", MetricsMiddleware(s.pipelineHandler.HandleRuns, "pipeline_runs"))
	mux.HandleFunc("/history/stats", MetricsMiddleware(s.historyHandler.HandleStats, "history_stats"))
	mux.HandleFunc("/history", MetricsMiddleware(s.historyHandler.HandleHistory, "history"))
}

const (
	defaultMaxLimit = 100
	defaultLimit    = 20
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates engine errors into HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, predictor.ErrTeamNotFound):
		writeError(w, http.StatusNotFound, "team_not_found", err)
	case errors.Is(err, service.ErrLeagueMismatch):
		writeError(w, http.StatusBadRequest, "league_mismatch", err)
	case errors.Is(err, predictor.ErrLeagueUndetermined):
		writeError(w, http.StatusUnprocessableEntity, "league_undetermined", err)
	case errors.Is(err, registry.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_data", err)
	case errors.Is(err, corpus.ErrDataUnavailable), errors.Is(err, service.ErrNotOpen):
		writeError(w, http.StatusServiceUnavailable, "data_unavailable", err)
	case errors.Is(err, service.ErrJournalDisabled):
		writeError(w, http.StatusServiceUnavailable, "journal_disabled", err)
	case errors.Is(err, service.ErrRetrainPending), errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "retrain_pending", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "timeout", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// requireParams returns the trimmed query values of names, or an error
// naming the first blank one.
func requireParams(r *http.Request, names ...string) ([]string, error) {
	q := r.URL.Query()
	out := make([]string, len(names))
	for i, name := range names {
		v := strings.TrimSpace(q.Get(name))
		if v == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingParam, name)
		}
		out[i] = v
	}
	return out, nil
}

// parseLimit reads ?limit, defaulting to defaultLimit and rejecting values
// outside [1, maxLimit].
func parseLimit(r *http.Request, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return min(defaultLimit, maxLimit), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
	}
	if n > maxLimit {
		return 0, fmt.Errorf("%w: limit must not exceed %d", ErrBadRequest, maxLimit)
	}
	return n, nil
}
