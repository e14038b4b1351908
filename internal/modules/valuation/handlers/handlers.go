// Package handlers provides HTTP handlers for portfolio valuation and
// cache administration.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/modules/valuation"
)

// Handler handles valuation HTTP requests
type Handler struct {
	service         *valuation.Service
	defaultCurrency string
	log             zerolog.Logger
}

// NewHandler creates a new valuation handler. defaultCurrency applies when a
// request does not name a reporting currency.
func NewHandler(service *valuation.Service, defaultCurrency string, log zerolog.Logger) *Handler {
	return &Handler{
		service:         service,
		defaultCurrency: defaultCurrency,
		log:             log.With().Str("handler", "valuation").Logger(),
	}
}

// HandleGetValuation returns a portfolio's holdings and daily value series
// in the requested reporting currency
func (h *Handler) HandleGetValuation(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = h.defaultCurrency
	}

	result, err := h.service.GetValuation(portfolioID, currency)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio", portfolioID).Msg("Failed to compute valuation")
		h.writeError(w, http.StatusInternalServerError, "Failed to compute valuation")
		return
	}

	h.writeData(w, http.StatusOK, result)
}

// HandlePurgeCache removes cache entries checked at or after the given
// instant, so the next valuation re-syncs the affected symbols. The body is
// {"since": "<RFC3339>"}; an absent body purges everything checked today.
func (h *Handler) HandlePurgeCache(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Since string `json:"since"`
	}
	// Body is optional
	_ = json.NewDecoder(r.Body).Decode(&body)

	since := startOfToday()
	if body.Since != "" {
		parsed, err := time.Parse(time.RFC3339, body.Since)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'since' timestamp, expected RFC3339")
			return
		}
		since = parsed
	}

	purged, err := h.service.PurgeCheckedSince(since)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to purge cache")
		h.writeError(w, http.StatusInternalServerError, "Failed to purge cache")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"purged": purged,
		"since":  since.UTC().Format(time.RFC3339),
	})
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
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
