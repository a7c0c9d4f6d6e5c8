package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cadenza-io/cadenza/internal/jobs"
)

type upsertProjectRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

// UpsertProject creates or updates the tenant anchor that jobs hang off.
// Omitting the id creates a project with a generated one.
func (h *Handlers) UpsertProject(w http.ResponseWriter, r *http.Request) {
	var req upsertProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			BadRequest(w, "unknown IANA zone "+req.Timezone)
			return
		}
	}

	project := &jobs.Project{ID: req.ID, Name: req.Name, Timezone: req.Timezone}
	if err := h.service.Store().UpsertProject(r.Context(), project); err != nil {
		serviceError(w, err)
		return
	}

	JSON(w, http.StatusOK, project)
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.service.Store().GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, project)
}
