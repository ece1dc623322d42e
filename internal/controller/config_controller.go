// internal/controller/config_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/repository"
)

type ConfigController struct {
	Configs repository.ConfigRepositoryInterface
}

func (c *ConfigController) GetConfig(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderId")

	cfg, err := c.Configs.Get(senderID)
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*appErrors.ErrConfigNotFound); ok {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// UpdateConfig upserts a sender's operational switches. Counter fields and
// the session/notification state are managed by the schedulers and are not
// writable here.
func (c *ConfigController) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderId")

	var body struct {
		Enabled                    *bool              `json:"enabled"`
		EnrollmentPaused           *bool              `json:"enrollment_paused"`
		SendingPaused              *bool              `json:"sending_paused"`
		AllowSimultaneousCampaigns *bool              `json:"allow_simultaneous_campaigns"`
		MaxMessagesPerDay          *int               `json:"max_messages_per_day"`
		MaxTargetsPerCampaign      *int               `json:"max_targets_per_campaign"`
		DayTemplates               model.DayTemplates `json:"day_templates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	cfg, err := c.Configs.Get(senderID)
	if err != nil {
		if _, ok := err.(*appErrors.ErrConfigNotFound); ok {
			cfg = &model.SenderConfig{
				SenderID:          senderID,
				Enabled:           true,
				MaxMessagesPerDay: 50,
				SessionStatus:     model.SessionDisconnected,
			}
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if body.Enabled != nil {
		cfg.Enabled = *body.Enabled
	}
	if body.EnrollmentPaused != nil {
		cfg.EnrollmentPaused = *body.EnrollmentPaused
	}
	if body.SendingPaused != nil {
		cfg.SendingPaused = *body.SendingPaused
	}
	if body.AllowSimultaneousCampaigns != nil {
		cfg.AllowSimultaneousCampaigns = *body.AllowSimultaneousCampaigns
	}
	if body.MaxMessagesPerDay != nil {
		cfg.MaxMessagesPerDay = *body.MaxMessagesPerDay
	}
	if body.MaxTargetsPerCampaign != nil {
		cfg.MaxTargetsPerCampaign = *body.MaxTargetsPerCampaign
	}
	if body.DayTemplates != nil {
		cfg.DayTemplates = body.DayTemplates
	}

	if err := c.Configs.Upsert(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}
