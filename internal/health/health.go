// Package health serves the liveness and readiness probes for the base
// station.
//
//   - /healthz — liveness; a process that answers HTTP is alive. The
//     response carries the process uptime.
//   - /readyz  — readiness; 200 only while every registered [Checker]
//     passes, 503 otherwise.
//
// Bodies are JSON with a top-level "status" ("ok" or "fail") and, on
// /readyz, a "checks" map with one line per named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check so one stuck dependency
// cannot wedge the probe.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the
// dependency is usable and must respect context cancellation.
type Checker struct {
	// Name labels the check in the /readyz body (e.g. "providers").
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// probeBody is the JSON shape shared by both endpoints.
type probeBody struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. Safe for concurrent use; the
// checker set is fixed at construction.
type Handler struct {
	started  time.Time
	checkers []Checker
}

// New creates a Handler evaluating the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{started: time.Now(), checkers: c}
}

// Healthz always answers 200 with the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeBody{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz runs every checker under a [checkTimeout] deadline derived
// from the request context and answers 503 when any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[c.Name] = "ok"
		}
	}

	body := probeBody{Status: "ok", Checks: checks}
	if status != http.StatusOK {
		body.Status = "fail"
	}
	writeJSON(w, status, body)
}

// Register adds the probe routes to mux.
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
