// Package health provides HTTP liveness and readiness probes for the agent
// controller.
//
//   - /healthz — liveness; always returns 200 OK.
//   - /readyz  — readiness; returns 200 only when every registered probe
//     passes, e.g. all configured agents hold a live server connection.
//
// Responses are JSON objects with a "status" field ("ok" or "fail") and a
// "probes" map describing each named probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe reports whether one dependency is ready. Returns nil when healthy.
type Probe func(ctx context.Context) error

// Handler serves the probe endpoints. Probes can be added while the handler
// is serving; agents register theirs as they connect.
type Handler struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// New creates an empty Handler. Without probes /readyz always passes.
func New() *Handler {
	return &Handler{probes: make(map[string]Probe)}
}

// SetProbe registers or replaces the named readiness probe.
func (h *Handler) SetProbe(name string, p Probe) {
	h.mu.Lock()
	h.probes[name] = p
	h.mu.Unlock()
}

// RemoveProbe unregisters the named probe.
func (h *Handler) RemoveProbe(name string) {
	h.mu.Lock()
	delete(h.probes, name)
	h.mu.Unlock()
}

type report struct {
	Status string            `json:"status"`
	Probes map[string]string `json:"probes,omitempty"`
}

// Healthz always returns 200. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz returns 200 only when every registered probe passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	res := report{Status: "ok", Probes: make(map[string]string, len(probes))}
	status := http.StatusOK

	for name, probe := range probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := probe(ctx)
		cancel()

		if err != nil {
			res.Probes[name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Probes[name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
