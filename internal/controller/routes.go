package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/newsletter-backend/internal/handler"
)

// NewRouter wires the operations API.
func NewRouter(campaigns *CampaignController, details *handler.CampaignHandler, bounces *BounceController) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Campaign routes
	r.Get("/campaigns/{id}", details.GetCampaignHandlerWithStats)
	r.Post("/campaigns/{id}/deliver", campaigns.DeliverCampaign)

	// Bounce routes
	r.Post("/bounces/process", bounces.ProcessBounces)
	r.Get("/bounce-rules", bounces.ListRules)

	return r
}
