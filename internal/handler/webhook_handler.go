// internal/handler/webhook_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/unclebandit/followup-backend/internal/service"
)

// WebhookHandler receives exit-trigger webhooks from the billing side. The
// same events can also arrive over the message queue; both paths converge on
// the campaign service.
type WebhookHandler struct {
	Campaigns *service.CampaignService
}

// Payment handles a recipient payment: every active Target for the recipient
// exits with reason paid.
func (h *WebhookHandler) Payment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RecipientID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	exited, err := h.Campaigns.HandlePaymentEvent(r.Context(), body.RecipientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recipient_id":   body.RecipientID,
		"targets_exited": exited,
	})
}

// SubscriptionExpired handles a sender's subscription lapse: every Target of
// that sender exits with reason referrer_inactive.
func (h *WebhookHandler) SubscriptionExpired(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SenderID string `json:"sender_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SenderID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	exited, err := h.Campaigns.HandleSubscriptionExpired(r.Context(), body.SenderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sender_id":      body.SenderID,
		"targets_exited": exited,
	})
}
