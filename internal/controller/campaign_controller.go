// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *slog.Logger
}

// DeliverCampaign queues a submitted campaign for delivery.
func (c *CampaignController) DeliverCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	err = c.CampaignService.Enqueue(r.Context(), campaignID)
	var notFound *appErrors.ErrCampaignNotFound
	var state *appErrors.CampaignStateError
	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.As(err, &state):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		logger(c.Log).Error("⚠️ Failed to queue campaign", "campaign_id", campaignID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": campaignID,
		"status":      "queued",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
