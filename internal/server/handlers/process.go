package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// ProcessDue runs one claim-and-execute batch synchronously. External
// schedulers use it when the in-process worker loop is disabled; it is
// also handy in development.
func (h *Handlers) ProcessDue(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.Scheduler.BatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	result, err := h.processor.ProcessDue(r.Context(), time.Now().UTC(), limit)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}
