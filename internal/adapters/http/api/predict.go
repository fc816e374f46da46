package api

import (
	"context"
	"net/http"

	"github.com/okian/kickoff/internal/domain/types"
)

// PredictDependencies defines the read operations over the loaded corpus.
type PredictDependencies interface {
	Predict(ctx context.Context, home, away string) (types.Prediction, error)
	ListTeams() ([]string, error)
	HeadToHead(a, b string) ([]types.Meeting, error)
}

// PredictHandler serves predictions, teams and head to head.
type PredictHandler struct {
	deps PredictDependencies
}

// NewPredictHandler creates a new predict handler.
func NewPredictHandler(deps PredictDependencies) *PredictHandler {
	return &PredictHandler{deps: deps}
}

type teamsResponse struct {
	Teams []string `json:"teams"`
	Count int      `json:"count"`
}

type headToHeadResponse struct {
	TeamA    string          `json:"team_a"`
	TeamB    string          `json:"team_b"`
	Meetings []types.Meeting `json:"meetings"`
}

// HandlePredict handles GET /predict?home=&away= requests.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	params, err := requireParams(r, "home", "away")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p, err := h.deps.Predict(r.Context(), params[0], params[1])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleTeams handles GET /teams requests.
func (h *PredictHandler) HandleTeams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	teams, err := h.deps.ListTeams()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, teamsResponse{Teams: teams, Count: len(teams)})
}

// HandleHeadToHead handles GET /h2h?team_a=&team_b= requests.
func (h *PredictHandler) HandleHeadToHead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	params, err := requireParams(r, "team_a", "team_b")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	meetings, err := h.deps.HeadToHead(params[0], params[1])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, headToHeadResponse{TeamA: params[0], TeamB: params[1], Meetings: meetings})
}
