package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all transaction ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolios/{portfolioID}", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.HandleListTransactions)
			r.Post("/", h.HandleAddTransaction)
			r.Put("/{transactionID}", h.HandleUpdateTransaction)
			r.Delete("/{transactionID}", h.HandleDeleteTransaction)
		})

		r.Get("/asset-classes", h.HandleGetAssetClasses)
	})
}
