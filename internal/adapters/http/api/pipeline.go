package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/kickoff/internal/domain/types"
)

// PipelineDependencies defines the retrain operations.
type PipelineDependencies interface {
	PipelineStatus() (types.PipelineStatus, error)
	RunPipeline(ctx context.Context) (types.PipelineStatus, error)
	RequestRetrain(ctx context.Context) error
	Runs(ctx context.Context, limit int) ([]types.RunRecord, error)
}

// PipelineHandler handles retrain status and triggers.
type PipelineHandler struct {
	deps     PipelineDependencies
	maxLimit int
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(deps PipelineDependencies, maxLimit int) *PipelineHandler {
	return &PipelineHandler{deps: deps, maxLimit: maxLimit}
}

type acceptedResponse struct {
	Status string `json:"status"`
}

// HandleStatus handles GET /pipeline/status requests.
func (h *PipelineHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	st, err := h.deps.PipelineStatus()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleRun handles POST /pipeline/run. With ?wait=true the run happens on
// the request; otherwise it is queued for the retrain worker.
func (h *PipelineHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		wait = v
	}

	if !wait {
		if err := h.deps.RequestRetrain(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "queued"})
		return
	}

	st, err := h.deps.RunPipeline(r.Context())
	if err != nil && st.State != types.StateFailed {
		writeDomainError(w, err)
		return
	}
	// A failed run still reports its status; the error is in last_error.
	writeJSON(w, http.StatusOK, st)
}

// HandleRuns handles GET /pipeline/runs?limit=N requests.
func (h *PipelineHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n, err := parseLimit(r, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	runs, err := h.deps.Runs(r.Context(), n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
