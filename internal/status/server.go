// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package status serves the read-only run status API alongside the
// batch: checkpoint markers and run summaries per run date, a health
// probe, and Prometheus metrics. It exposes nothing that mutates a run.
package status

import (
	"context"
	"errors"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/jobdigest/internal/checkpoint"
	"github.com/tomtom215/jobdigest/internal/logging"
	"github.com/tomtom215/jobdigest/internal/run"
)

// runDatePattern guards the path parameter before it touches storage
// keys or the filesystem.
var runDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Server is the status HTTP server. Start it under a supervisor; it
// shuts down when its Serve context is canceled.
type Server struct {
	addr      string
	outputDir string
	ckpt      *checkpoint.Store
	logger    zerolog.Logger
	http      *http.Server
}

// NewServer creates a status server over the checkpoint store and the
// run output directory.
func NewServer(addr, outputDir string, ckpt *checkpoint.Store) *Server {
	s := &Server{
		addr:      addr,
		outputDir: outputDir,
		ckpt:      ckpt,
		logger:    logging.With().Str("component", "status").Logger(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api/v1/runs/{date}", func(r chi.Router) {
		r.Get("/checkpoints", s.handleCheckpoints)
		r.Get("/summary", s.handleSummary)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Serve runs the server until ctx is canceled, then drains connections.
// It satisfies the suture.Service contract.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "status-server" }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !runDatePattern.MatchString(date) {
		s.writeError(w, http.StatusBadRequest, "invalid run date")
		return
	}
	stage := r.URL.Query().Get("stage")

	markers, err := s.ckpt.List(date, stage)
	if err != nil {
		s.logger.Error().Err(err).Str("run_date", date).Msg("list checkpoints")
		s.writeError(w, http.StatusInternalServerError, "checkpoint store unavailable")
		return
	}
	if markers == nil {
		markers = []checkpoint.Marker{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_date":    date,
		"checkpoints": markers,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !runDatePattern.MatchString(date) {
		s.writeError(w, http.StatusBadRequest, "invalid run date")
		return
	}

	sum, err := run.ReadSummary(s.outputDir, date)
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "no summary for run date")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("run_date", date).Msg("read summary")
		s.writeError(w, http.StatusInternalServerError, "summary unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
