package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the body of GET /status.
type Status struct {
	Command   string `json:"command"`
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	Run       int    `json:"run"`
	TotalRuns int    `json:"total_runs"`
	Attempt   int    `json:"attempt"`
	ExitCode  int    `json:"last_exit_code"`
	Outcome   string `json:"last_outcome,omitempty"`
}

// Server serves /metrics, /status and liveness checks for a session.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger
	status func() Status
}

// NewServer creates a server exposing gatherer on /metrics. status may be
// nil, in which case /status answers 404.
func NewServer(addr string, gatherer prometheus.Gatherer, status func() Status, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger,
		status: status,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}))
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /healthz", handleHealth)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	return s
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.logger.Debug("status_write_failed", "error", err)
	}
}

// Start binds the listen address and serves in the background. A bind
// failure is returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("metrics_server_listening", "addr", s.addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight scrapes up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_stopping", "addr", s.addr)
	return s.server.Shutdown(ctx)
}

// Addr returns the listen address; after Start it is the bound one.
func (s *Server) Addr() string {
	return s.addr
}
