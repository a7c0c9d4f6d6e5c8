package server

import (
	"net/http"

	"github.com/cadenza-io/cadenza/internal/metrics"
	"github.com/cadenza-io/cadenza/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)

	if r.server.cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	h := handlers.New(r.server.DB(), r.server.Service(), r.server.Processor(), r.server.Config())

	r.mux.HandleFunc("GET /health", h.Health)
	r.mux.HandleFunc("GET /health/live", h.Liveness)
	r.mux.HandleFunc("GET /health/ready", h.Readiness)
	r.mux.HandleFunc("GET /stats", h.Stats)
	r.mux.Handle("GET /metrics", metrics.Handler())

	r.mux.HandleFunc("POST /api/projects", h.UpsertProject)
	r.mux.HandleFunc("GET /api/projects/{id}", h.GetProject)

	r.mux.HandleFunc("POST /api/jobs", h.CreateJob)
	r.mux.HandleFunc("GET /api/jobs", h.ListJobs)
	r.mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	r.mux.HandleFunc("PATCH /api/jobs/{id}", h.UpdateJob)
	r.mux.HandleFunc("DELETE /api/jobs/{id}", h.DeleteJob)

	r.mux.HandleFunc("POST /api/jobs/{id}/pause", h.PauseJob)
	r.mux.HandleFunc("POST /api/jobs/{id}/resume", h.ResumeJob)
	r.mux.HandleFunc("POST /api/jobs/{id}/trigger", h.TriggerJob)
	r.mux.HandleFunc("GET /api/jobs/{id}/runs", h.ListRuns)
	r.mux.HandleFunc("GET /api/runs/{id}", h.GetRun)

	r.mux.HandleFunc("GET /api/dead-letters", h.ListDeadLetters)
	r.mux.HandleFunc("POST /api/jobs/{id}/acknowledge", h.AcknowledgeJob)
	r.mux.HandleFunc("POST /api/jobs/{id}/requeue", h.RequeueJob)
	r.mux.HandleFunc("POST /api/jobs/{id}/retry", h.RetryJobNow)
	r.mux.HandleFunc("POST /api/dead-letters/acknowledge", h.AcknowledgeBulk)
	r.mux.HandleFunc("POST /api/dead-letters/requeue", h.RequeueBulk)

	r.mux.HandleFunc("POST /api/scheduler/process-due", h.ProcessDue)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
