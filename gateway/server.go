// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

// Package gateway exposes the HTTP API: connecting a database, inspecting
// its schema, and running natural-language or literal queries against it.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sqlpilot/platform/connectors/manager"
	"sqlpilot/platform/credentials"
	"sqlpilot/platform/orchestrator"
	"sqlpilot/platform/shared/logger"
)

// Server wires the HTTP routes to the orchestrator.
type Server struct {
	cfg      *Config
	log      *logger.Logger
	store    *credentials.Store
	executor *orchestrator.Executor
	manager  *manager.Manager
	router   *mux.Router
}

// NewServer assembles the HTTP layer. Dependencies are built at the
// composition root and passed in.
func NewServer(cfg *Config, log *logger.Logger, store *credentials.Store, exec *orchestrator.Executor, mgr *manager.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		executor: exec,
		manager:  mgr,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/database/connect", s.instrument("connect", s.handleConnect)).Methods("POST")
	api.HandleFunc("/database/disconnect", s.instrument("disconnect", s.handleDisconnect)).Methods("POST")
	api.HandleFunc("/database/schema", s.instrument("schema", s.handleSchema)).Methods("GET")
	api.HandleFunc("/database/databases", s.instrument("databases", s.handleListDatabases)).Methods("GET")
	api.HandleFunc("/query", s.instrument("query", s.handleQuery)).Methods("POST")
	api.HandleFunc("/query/execute", s.instrument("execute", s.handleExecute)).Methods("POST")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	return r
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// ListenAndServe runs the server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.Info("", "gateway listening", map[string]interface{}{"port": s.cfg.Port})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// instrument records request counts and latency per endpoint.
func (s *Server) instrument(endpoint string, next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next(sw, r)

		elapsed := time.Since(start)
		requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
		requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", sw.status)).Inc()
		s.log.InfoWithDuration("", "request completed", float64(elapsed.Milliseconds()), map[string]interface{}{
			"endpoint": endpoint,
			"status":   sw.status,
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
