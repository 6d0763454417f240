package server

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each collaborator probe
const healthCheckTimeout = 3 * time.Second

type collaboratorStatus struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status        string                        `json:"status"` // "ok" or "degraded"
	Collaborators map[string]collaboratorStatus `json:"collaborators"`
}

// handleHealth reports liveness plus collaborator reachability.
// The server itself answering means liveness; collaborator outages
// degrade the status without failing the endpoint.
func (s *ElisServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Collaborators: make(map[string]collaboratorStatus),
	}

	probe := func(name string, checker HealthChecker) {
		status := collaboratorStatus{Reachable: true}
		if err := checker.Health(ctx); err != nil {
			status.Reachable = false
			status.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Collaborators[name] = status
	}

	probe("descriptor", s.descriptorSvc)
	probe("matcher", s.matcherSvc)

	writeJSON(w, http.StatusOK, resp)
}
