// Package http exposes the sprint control API: create and inspect
// sprints, start runs, discard workspaces and stream progress over
// WebSocket.
package http

import (
	"net/http"

	"github.com/Strob0t/forgesprint/internal/adapter/ws"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
	"github.com/Strob0t/forgesprint/internal/service"
)

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	orch   *service.Orchestrator
	runner *service.Runner
	hub    *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(orch *service.Orchestrator, runner *service.Runner, hub *ws.Hub) *Handlers {
	return &Handlers{orch: orch, runner: runner, hub: hub}
}

// ListSprints returns all sprints.
func (h *Handlers) ListSprints(w http.ResponseWriter, r *http.Request) {
	sprints, err := h.orch.ListSprints(r.Context())
	if err != nil {
		writeDomainError(w, err, "list sprints failed")
		return
	}
	if sprints == nil {
		sprints = []sprint.Sprint{}
	}
	writeJSON(w, http.StatusOK, sprints)
}

// CreateSprint registers a new sprint in PENDING.
func (h *Handlers) CreateSprint(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sprint.CreateRequest](w, r)
	if !ok {
		return
	}
	s, err := h.orch.CreateSprint(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create sprint failed")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetSprint returns one sprint with its current phase and counters.
func (h *Handlers) GetSprint(w http.ResponseWriter, r *http.Request) {
	id, ok := sprintID(w, r)
	if !ok {
		return
	}
	s, err := h.orch.GetSprint(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "sprint not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// RunSprint enqueues a sprint run on the worker pool.
func (h *Handlers) RunSprint(w http.ResponseWriter, r *http.Request) {
	id, ok := sprintID(w, r)
	if !ok {
		return
	}
	if _, err := h.orch.GetSprint(r.Context(), id); err != nil {
		writeDomainError(w, err, "sprint not found")
		return
	}
	if err := h.runner.Enqueue(r.Context(), id); err != nil {
		writeDomainError(w, err, "run sprint failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sprint_id": id, "status": "running"})
}

// RollbackSprint discards the sprint's held workspace.
func (h *Handlers) RollbackSprint(w http.ResponseWriter, r *http.Request) {
	id, ok := sprintID(w, r)
	if !ok {
		return
	}
	if err := h.orch.RollbackSprint(r.Context(), id); err != nil {
		writeDomainError(w, err, "no workspace held for sprint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sprint_id": id, "status": "rolled_back"})
}

// ListSprintEvents returns the persisted trajectory for one sprint.
func (h *Handlers) ListSprintEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := sprintID(w, r)
	if !ok {
		return
	}
	events, err := h.orch.Trajectory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "sprint not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Health reports liveness plus the number of connected observers.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": h.hub.ConnectionCount(),
	})
}
