// Package handlers provides HTTP handlers for transaction ledger management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/modules/ledger"
)

// Handler handles transaction ledger HTTP requests
type Handler struct {
	repo *ledger.Repository
	log  zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(repo *ledger.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleListTransactions returns a portfolio's transactions ordered by date
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	transactions, err := h.repo.List(portfolioID)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio", portfolioID).Msg("Failed to list transactions")
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if transactions == nil {
		transactions = []ledger.Transaction{}
	}

	h.writeData(w, http.StatusOK, transactions)
}

// HandleAddTransaction records a new BUY or SELL transaction
func (h *Handler) HandleAddTransaction(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	var tx ledger.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx.PortfolioID = portfolioID

	created, err := h.repo.Add(tx)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeData(w, http.StatusCreated, created)
}

// HandleUpdateTransaction replaces a transaction's mutable fields
func (h *Handler) HandleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	transactionID := chi.URLParam(r, "transactionID")

	var tx ledger.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx.PortfolioID = portfolioID
	tx.ID = transactionID

	if err := h.repo.Update(tx); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeData(w, http.StatusOK, tx)
}

// HandleDeleteTransaction removes a transaction from the ledger
func (h *Handler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	transactionID := chi.URLParam(r, "transactionID")

	if err := h.repo.Delete(portfolioID, transactionID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.log.Error().Err(err).Str("transaction", transactionID).Msg("Failed to delete transaction")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete transaction")
		return
	}

	h.writeData(w, http.StatusOK, map[string]string{"deleted": transactionID})
}

// HandleGetAssetClasses returns the distinct asset class labels in a portfolio
func (h *Handler) HandleGetAssetClasses(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	classes, err := h.repo.AssetClasses(portfolioID)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio", portfolioID).Msg("Failed to list asset classes")
		h.writeError(w, http.StatusInternalServerError, "Failed to list asset classes")
		return
	}
	if classes == nil {
		classes = []string{}
	}

	h.writeData(w, http.StatusOK, classes)
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
