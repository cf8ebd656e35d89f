package httpapi

import (
	"context"
	"net/http"
	"time"
)

// readyProbeTimeout bounds each readiness probe individually, so one stuck
// dependency cannot hold /readyz past the orchestrator's own deadline.
const readyProbeTimeout = 5 * time.Second

// ReadyCheck is one named readiness probe. Probe returns nil when the
// dependency can serve traffic; it must respect context cancellation.
type ReadyCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// probeReport is the body of both probe endpoints: an overall status plus
// the per-probe verdicts.
type probeReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz is the liveness probe. A process that answers is alive;
// dependency trouble belongs to /readyz.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeReport{Status: "ok"})
}

// handleReadyz runs every configured probe in order. Any failure turns the
// response into a 503 while still reporting the remaining probes.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	report := probeReport{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK

	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		err := c.Probe(ctx)
		cancel()

		if err != nil {
			report.Checks[c.Name] = "fail: " + err.Error()
			report.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		report.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, report)
}
