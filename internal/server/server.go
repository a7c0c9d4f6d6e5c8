package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/jobs"
)

// Server is the HTTP surface over the scheduler: job administration,
// run inspection, dead-letter recovery, and operational endpoints.
type Server struct {
	cfg        *config.Config
	db         *database.DB
	service    *jobs.Service
	processor  *jobs.Processor
	httpServer *http.Server
	router     *Router
}

func New(cfg *config.Config, db *database.DB, service *jobs.Service, processor *jobs.Processor) *Server {
	srv := &Server{
		cfg:       cfg,
		db:        db,
		service:   service,
		processor: processor,
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

func (s *Server) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Msg("Starting server")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) DB() *database.DB {
	return s.db
}

func (s *Server) Service() *jobs.Service {
	return s.service
}

func (s *Server) Processor() *jobs.Processor {
	return s.processor
}

func (s *Server) Config() *config.Config {
	return s.cfg
}
