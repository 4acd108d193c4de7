// Package health serves the gateway's liveness and readiness probes.
//
// Liveness (/healthz) only proves the process answers HTTP. Readiness
// (/readyz) runs every registered dependency probe and reports 503 until all
// of them pass, so the gateway is not routed traffic before its prompt
// registry, routing table, and provider drivers are usable.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Check probes one dependency. A nil return means the dependency is ready;
// the error text of a non-nil return is surfaced verbatim in the response.
type Check func(ctx context.Context) error

// Handler answers the health endpoints. Probes are registered during startup
// and evaluated in registration order on every readiness request; Add must
// not be called once the handler is serving.
type Handler struct {
	names  []string
	checks map[string]Check
}

// New returns a handler with no probes; until probes are added /readyz
// reports ready unconditionally.
func New() *Handler {
	return &Handler{checks: make(map[string]Check)}
}

// Add registers a named readiness probe. Registering an existing name
// replaces its probe and keeps its position.
func (h *Handler) Add(name string, check Check) {
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// report is the response body for both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe and reports 503 when any dependency is not ready.
// Failed probes keep evaluating the rest so the response names every broken
// dependency at once.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	out := report{Status: "ok", Checks: make(map[string]string, len(h.names))}
	code := http.StatusOK

	for _, name := range h.names {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			out.Checks[name] = err.Error()
			out.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		out.Checks[name] = "ok"
	}

	respond(w, code, out)
}

func respond(w http.ResponseWriter, code int, body report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
