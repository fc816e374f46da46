package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/kickoff/internal/domain/types"
)

const maxBodyBytes = 1 << 16

// HistoryDependencies defines the prediction journal operations.
type HistoryDependencies interface {
	RecordPrediction(ctx context.Context, home, away string) (types.JournalEntry, error)
	History(ctx context.Context, limit int) ([]types.JournalEntry, error)
	HistoryStats(ctx context.Context) (types.JournalStats, error)
}

// HistoryHandler handles the prediction journal.
type HistoryHandler struct {
	deps     HistoryDependencies
	maxLimit int
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps HistoryDependencies, maxLimit int) *HistoryHandler {
	return &HistoryHandler{deps: deps, maxLimit: maxLimit}
}

// historyRequest is the body of POST /history.
type historyRequest struct {
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
}

func (q historyRequest) validate() error {
	switch {
	case strings.TrimSpace(q.HomeTeam) == "":
		return fmt.Errorf("%w: home_team", ErrMissingParam)
	case strings.TrimSpace(q.AwayTeam) == "":
		return fmt.Errorf("%w: away_team", ErrMissingParam)
	}
	return nil
}

// HandleHistory handles POST /history and GET /history?limit=N.
func (h *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.record(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *HistoryHandler) record(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	entry, err := h.deps.RecordPrediction(r.Context(), strings.TrimSpace(req.HomeTeam), strings.TrimSpace(req.AwayTeam))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *HistoryHandler) list(w http.ResponseWriter, r *http.Request) {
	n, err := parseLimit(r, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	entries, err := h.deps.History(r.Context(), n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleStats handles GET /history/stats requests.
func (h *HistoryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	stats, err := h.deps.HistoryStats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
