// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpistream/pipeline/internal/config"
)

// Server is the HTTP surface shared by the pipeline binaries. NewServer
// builds the minimal liveness/metrics variant used by the processor and
// detector; NewQueryServer additionally mounts the read-side query routes.
type Server struct {
	httpServer *http.Server
	checker    *HealthChecker
}

// NewServer builds the router and binds it to cfg.Host:cfg.Port.
func NewServer(cfg *config.ServerConfig, checker *HealthChecker) *Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", healthHandler(checker))
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		checker: checker,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewQueryServer builds the read-side KPI/alert query API in addition to the
// liveness and metrics routes. Used by the query-api binary only; the
// processor and detector binaries use NewServer.
func NewQueryServer(cfg *config.ServerConfig, checker *HealthChecker, db QueryStore) *Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", healthHandler(checker))
	r.Handle("/metrics", promhttp.Handler())
	MountQueryRoutes(r, db)

	return &Server{
		checker: checker,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(checker *HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall := checker.CheckAll(r.Context())

		status := http.StatusOK
		if overall.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(overall)
	}
}
