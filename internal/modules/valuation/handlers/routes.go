package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all valuation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios/{portfolioID}/valuation", h.HandleGetValuation)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/cache/purge", h.HandlePurgeCache)
	})
}
