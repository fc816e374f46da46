package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/kickoff/internal/app"
	"github.com/okian/kickoff/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessProbe reports whether a corpus is loaded and the journal
// database answers.
type ReadinessProbe interface {
	Ready() bool
	PingDatabase(ctx context.Context) error
}

// HealthHandler handles health check and metrics requests.
type HealthHandler struct {
	probe ReadinessProbe
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(probe ReadinessProbe) *HealthHandler {
	return &HealthHandler{probe: probe}
}

type healthResponse struct {
	Status    string `json:"status"`
	DataReady bool   `json:"data_ready"`
	Database  string `json:"database"`
}

// HandleHealth handles GET /healthz. The process is live as long as it
// answers; data_ready tells whether predictions can be served and database
// whether the journal is reachable.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		DataReady: h.probe.Ready(),
		Database:  databaseState(h.probe.PingDatabase(r.Context())),
	})
}

func databaseState(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, service.ErrJournalDisabled):
		return "disabled"
	default:
		return "unavailable"
	}
}

// MetricsHandler serves the custom prometheus registry.
func (h *HealthHandler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
