package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cadenza-io/cadenza/internal/jobs"
)

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var params jobs.CreateJobParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	job, err := h.service.Create(r.Context(), params)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, job)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.ListFilter{
		ProjectID: r.URL.Query().Get("project_id"),
		Status:    jobs.JobStatus(r.URL.Query().Get("status")),
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var params jobs.UpdateJobParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	job, err := h.service.Update(r.Context(), r.PathValue("id"), params)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) PauseJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Pause(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

func (h *Handlers) ResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

func (h *Handlers) TriggerJob(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.TriggerManual(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Store().GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, run)
}
