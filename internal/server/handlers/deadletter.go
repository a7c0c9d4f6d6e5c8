package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cadenza-io/cadenza/internal/jobs"
)

func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	filter := jobs.ListFilter{
		ProjectID: r.URL.Query().Get("project_id"),
		Status:    jobs.StatusDeadLetter,
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

func (h *Handlers) AcknowledgeJob(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}

	job, err := h.service.Acknowledge(r.Context(), r.PathValue("id"), req.AcknowledgedBy)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

type requeueRequest struct {
	// From anchors the recomputed next run; empty means now.
	From *time.Time `json:"from,omitempty"`
}

func (h *Handlers) RequeueJob(w http.ResponseWriter, r *http.Request) {
	var req requeueRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}

	job, err := h.service.Requeue(r.Context(), r.PathValue("id"), req.From)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

func (h *Handlers) RetryJobNow(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.RetryNow(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, run)
}

type bulkRequest struct {
	JobIDs         []string `json:"job_ids"`
	AcknowledgedBy string   `json:"acknowledged_by,omitempty"`
}

func (h *Handlers) AcknowledgeBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if len(req.JobIDs) == 0 {
		BadRequest(w, "job_ids is required")
		return
	}

	result := h.service.AcknowledgeAll(r.Context(), req.JobIDs, req.AcknowledgedBy)
	JSON(w, http.StatusOK, result)
}

func (h *Handlers) RequeueBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if len(req.JobIDs) == 0 {
		BadRequest(w, "job_ids is required")
		return
	}

	result := h.service.RequeueAll(r.Context(), req.JobIDs)
	JSON(w, http.StatusOK, result)
}
