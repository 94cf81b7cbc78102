package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/forgesprint/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/healthz", h.Health)
	r.Get("/ws", hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/sprints", h.ListSprints)
		r.Post("/sprints", h.CreateSprint)
		r.Get("/sprints/{id}", h.GetSprint)
		r.Post("/sprints/{id}/run", h.RunSprint)
		r.Post("/sprints/{id}/rollback", h.RollbackSprint)
		r.Get("/sprints/{id}/events", h.ListSprintEvents)
	})
}
