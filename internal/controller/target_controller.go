// internal/controller/target_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/repository"
)

type TargetController struct {
	Targets repository.TargetRepositoryInterface
}

func (c *TargetController) ListTargets(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	senderID := r.URL.Query().Get("sender_id")
	status := model.TargetStatus(r.URL.Query().Get("status"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	targets, total, err := c.Targets.List(senderID, status, offset, pageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": targets,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

// GetTarget returns one target with its delivery history.
func (c *TargetController) GetTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	target, err := c.Targets.GetByID(id)
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*appErrors.ErrTargetNotFound); ok {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	history, err := c.Targets.ListAttempts(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"target":  target,
		"history": history,
	})
}
