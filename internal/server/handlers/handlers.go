// Package handlers implements the HTTP endpoints of the Cadenza API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/jobs"
)

// Handlers carries the shared dependencies of every endpoint.
type Handlers struct {
	db        *database.DB
	service   *jobs.Service
	processor *jobs.Processor
	cfg       *config.Config
}

func New(db *database.DB, service *jobs.Service, processor *jobs.Processor, cfg *config.Config) *Handlers {
	return &Handlers{
		db:        db,
		service:   service,
		processor: processor,
		cfg:       cfg,
	}
}

// serviceError maps domain errors onto HTTP responses.
func serviceError(w http.ResponseWriter, err error) {
	var verr *jobs.ValidationError
	switch {
	case errors.As(err, &verr):
		ErrorWithDetails(w, http.StatusBadRequest, "VALIDATION_FAILED", verr.Error(),
			map[string]string{"field": verr.Field, "message": verr.Message})
	case errors.Is(err, jobs.ErrNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, jobs.ErrNotDeadLettered):
		Error(w, http.StatusConflict, "NOT_DEAD_LETTERED", err.Error())
	default:
		InternalError(w, err.Error())
	}
}
