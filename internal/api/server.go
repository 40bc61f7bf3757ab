package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/handler"
	mw "github.com/sergiogordon/unitymdm-prod-sub004/internal/api/middleware"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/artifact"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/config"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/dispatch"
)

type Server struct {
	router      chi.Router
	logger      zerolog.Logger
	services    *core.Services
	pool        *pgxpool.Pool
	artifacts   *artifact.Store
	resolver    *dispatch.Resolver
	supervisor  *dispatch.Supervisor
	cfg         *config.Config
	auditLogger *mw.AuditLogger
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services, artifacts *artifact.Store, resolver *dispatch.Resolver, supervisor *dispatch.Supervisor, cfg *config.Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger,
		services:    services,
		pool:        pool,
		artifacts:   artifacts,
		resolver:    resolver,
		supervisor:  supervisor,
		cfg:         cfg,
		auditLogger: mw.NewAuditLogger(pool, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))
		r.Use(s.auditLogger.Middleware)

		// Dashboard
		dashboard := handler.NewDashboard(s.services.Dashboard)
		r.Get("/dashboard/stats", dashboard.Stats)

		// Audit logs
		audit := handler.NewAudit(s.pool)
		r.Get("/audit-logs", audit.List)

		// Devices
		device := handler.NewDevice(s.services.Device, s.services.Execution)
		r.Post("/devices/enroll", device.Enroll)
		r.Get("/devices", device.List)
		r.Get("/devices/{id}", device.Get)
		r.Put("/devices/{id}/alias", device.Rename)
		r.Post("/devices/{id}/checkin", device.Checkin)

		// Builds and staged rollout
		build := handler.NewBuild(s.services.Build, s.artifacts)
		r.Post("/builds", build.Create)
		r.Get("/builds", build.List)
		r.Get("/builds/{id}", build.Get)
		r.Put("/builds/{id}/artifact", build.UploadArtifact)
		r.Post("/builds/{id}/promote", build.Promote)
		r.Post("/builds/{id}/rollout", build.AdjustRollout)
		r.Post("/packages/{package}/rollback", build.Rollback)
		r.Get("/manifest", build.Manifest)

		// Executions
		execution := handler.NewExecution(s.services.Execution, s.resolver, s.supervisor)
		r.Post("/executions", execution.Create)
		r.Get("/executions", execution.List)
		r.Get("/executions/{id}", execution.Get)
		r.Post("/executions/{id}/cancel", execution.Cancel)
		r.Post("/executions/{id}/results/{deviceID}", execution.ReportResult)
		r.Get("/executions/{id}/watch", execution.Watch)

		// API keys
		apiKey := handler.NewAPIKey(s.services.APIKey)
		r.Get("/api-keys", apiKey.List)
		r.Post("/api-keys", apiKey.Create)
		r.Get("/api-keys/{id}", apiKey.Get)
		r.Delete("/api-keys/{id}", apiKey.Revoke)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// Close flushes the async audit writer.
func (s *Server) Close() {
	s.auditLogger.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
