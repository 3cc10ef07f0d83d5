// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package main is the entry point for the Jobdigest batch runner.
//
// Jobdigest scores a catalog of job postings for every registered user
// and allocates a bounded personalized selection into priority-ordered
// digest sections. One invocation executes one run for one run date.
//
// # Run Pipeline
//
// The runner executes the following steps in order:
//
//  1. Configuration: load settings from environment variables and an
//     optional config file (Koanf v2)
//  2. Checkpoints: open the BadgerDB checkpoint store so an interrupted
//     run resumes instead of repeating completed partitions
//  3. Datasets: open the read-only DuckDB database behind a circuit
//     breaker, and the JSONL allocation sink
//  4. Status server: start the read-only status API under a suture
//     supervisor (checkpoints, summaries, health, Prometheus metrics)
//  5. Orchestrator: build the snapshot, score items, and allocate users
//     in parallel partitions under the wall-clock budget
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (JOBDIGEST_*, e.g. JOBDIGEST_RUN__WORKERS)
//   - Config file (config.yaml, or the path in CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the run context. In-flight partitions stop
// at the next user boundary, unfinished partitions keep their pending
// markers, and the run summary is written with a partial or failed
// status so the next invocation can resume.
//
// # Exit Codes
//
// 0 for complete and partial runs, 1 when the run failed or could not
// start.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/jobdigest/internal/checkpoint"
	"github.com/tomtom215/jobdigest/internal/config"
	"github.com/tomtom215/jobdigest/internal/dataset"
	"github.com/tomtom215/jobdigest/internal/logging"
	"github.com/tomtom215/jobdigest/internal/run"
	"github.com/tomtom215/jobdigest/internal/status"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var dateFlag string
	flag.StringVar(&dateFlag, "date", "", "run date (YYYY-MM-DD, default today UTC)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	runDate := time.Now().UTC().Truncate(24 * time.Hour)
	if dateFlag != "" {
		runDate, err = time.Parse("2006-01-02", dateFlag)
		if err != nil {
			logging.Error().Err(err).Str("date", dateFlag).Msg("Invalid run date")
			return 1
		}
	}

	logging.Info().
		Str("run_date", runDate.Format("2006-01-02")).
		Str("duckdb_path", cfg.Dataset.DuckDBPath).
		Str("output_dir", cfg.Dataset.OutputDir).
		Msg("Starting Jobdigest batch runner")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ckpt, err := checkpoint.Open(cfg.Dataset.CheckpointDir)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open checkpoint store")
		return 1
	}
	defer func() {
		if err := ckpt.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close checkpoint store")
		}
	}()

	duck, err := dataset.OpenDuckDB(cfg.Dataset.DuckDBPath)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open dataset database")
		return 1
	}
	defer func() {
		if err := duck.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close dataset database")
		}
	}()

	src := dataset.Guard(duck, dataset.BreakerSettings{
		MaxFailures: cfg.Dataset.BreakerMaxFailures,
		OpenTimeout: cfg.Dataset.BreakerOpenTimeout,
	})

	sink, err := dataset.NewJSONLSink(cfg.Dataset.OutputDir)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open allocation sink")
		return 1
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close allocation sink")
		}
	}()

	// The status server outlives partitions but not the process; it runs
	// under a supervisor so a crashed listener comes back on its own.
	if cfg.Status.Enabled {
		handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
		sup := suture.New("jobdigest", suture.Spec{
			EventHook:      handler.MustHook(),
			FailureBackoff: 15 * time.Second,
			Timeout:        10 * time.Second,
		})
		sup.Add(status.NewServer(cfg.Status.Addr, cfg.Dataset.OutputDir, ckpt))
		sup.ServeBackground(ctx)
	}

	orch, err := run.New(cfg, src, sink, ckpt)
	if err != nil {
		logging.Error().Err(err).Msg("Invalid run configuration")
		return 1
	}

	sum, err := orch.Run(ctx, runDate)
	if err != nil {
		logging.Error().Err(err).
			Str("status", string(sum.Status)).
			Msg("Run did not complete")
	}

	switch sum.Status {
	case run.StatusComplete, run.StatusPartial:
		return 0
	default:
		return 1
	}
}
