package health

import (
	"net/http"
	"time"

	"github.com/hilthontt/visper-realtime/internal/infrastructure/json"
)

// Check reports why a dependency is not ready, or nil.
type Check func() error

type Handler struct {
	started time.Time
	checks  map[string]Check
}

func NewHandler(checks map[string]Check) *Handler {
	return &Handler{started: time.Now(), checks: checks}
}

// GetHealth is liveness only: the process answers HTTP.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	json.Write(w, http.StatusOK, healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// GetReady runs every registered check and answers 503 if any fails.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    make(map[string]string, len(h.checks)),
	}

	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = statusUnavailable
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = statusOK
	}

	json.Write(w, status, resp)
}
