// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(in)
	if err != nil {
		// Policy errors keep the draft row; surface both.
		switch err.(type) {
		case *appErrors.ErrEmptyFilterMatch, *appErrors.ErrTargetCeilingExceeded:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"campaign": campaign,
				"error":    err.Error(),
			})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	senderID := r.URL.Query().Get("sender_id")
	status := model.CampaignStatus(r.URL.Query().Get("status"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, senderID, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := c.CampaignService.GetCampaignDetailsWithStats(id)
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*appErrors.ErrCampaignNotFound); ok {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	campaign, err := c.CampaignService.StartCampaign(id)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c.transition(w, chi.URLParam(r, "id"), c.CampaignService.PauseCampaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c.transition(w, chi.URLParam(r, "id"), c.CampaignService.ResumeCampaign)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c.transition(w, chi.URLParam(r, "id"), c.CampaignService.CancelCampaign)
}

func (c *CampaignController) transition(w http.ResponseWriter, id string, op func(string) error) {
	if err := op(id); err != nil {
		writeTransitionError(w, err)
		return
	}
	details, err := c.CampaignService.GetCampaignDetailsWithStats(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *appErrors.ErrCampaignNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case *appErrors.ErrInvalidTransition, *appErrors.ErrChainNotReady:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// PreviewFilter returns the match count and a sample before a filtered
// campaign is committed.
func (c *CampaignController) PreviewFilter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SenderID string              `json:"sender_id"`
		Filter   *model.TargetFilter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	count, sample, err := c.CampaignService.PreviewFilter(body.SenderID, body.Filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"match_count": count,
		"sample":      sample,
	})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	var body struct {
		RecipientID      string  `json:"recipient_id"`
		Day              int     `json:"day"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(campaignID, body.RecipientID, body.Day, body.OverrideTemplate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rendered_message": rendered,
		"day":              body.Day,
		"recipient_id":     body.RecipientID,
	})
}
