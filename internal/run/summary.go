// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package run

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// Status is the terminal state of a whole run.
type Status string

const (
	// StatusComplete means every planned partition finished.
	StatusComplete Status = "complete"
	// StatusPartial means the run produced output but skipped or lost
	// some work (failed allocate partitions, degraded allocations, or a
	// budget cut mid-stage).
	StatusPartial Status = "partial"
	// StatusFailed means the run produced no trustworthy output.
	StatusFailed Status = "failed"
)

// StageSummary counts partition outcomes for one stage.
type StageSummary struct {
	Planned int `json:"planned"`
	Done    int `json:"done"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// PartitionFailure identifies one partition that exhausted its retry
// budget, with the last error it saw.
type PartitionFailure struct {
	Stage        string `json:"stage"`
	PartitionKey string `json:"partition_key"`
	Error        string `json:"error"`
}

// Summary is the run-level report, written next to the allocation
// output and served by the status API.
type Summary struct {
	RunID      string       `json:"run_id"`
	RunDate    string       `json:"run_date"`
	Status     Status       `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Score      StageSummary `json:"score"`
	Allocate   StageSummary `json:"allocate"`

	ItemsScored          int64 `json:"items_scored"`
	ItemsSkipped         int64 `json:"items_skipped"`
	UsersAllocated       int64 `json:"users_allocated"`
	UsersFailed          int64 `json:"users_failed"`
	UsersDegradedProfile int64 `json:"users_degraded_profile"`
	Degraded             bool  `json:"degraded"`

	// FailedPartitions lists every partition that failed for good, so
	// the summary stands on its own without the checkpoint store.
	FailedPartitions []PartitionFailure `json:"failed_partitions,omitempty"`

	Error string `json:"error,omitempty"`
}

// SummaryPath returns where the run summary for a run date lives.
func SummaryPath(outputDir, runDate string) string {
	return filepath.Join(outputDir, "summary-"+runDate+".json")
}

// writeSummary persists the summary atomically via rename so the status
// server never reads a torn file.
func (o *Orchestrator) writeSummary(sum *Summary) error {
	if err := os.MkdirAll(o.cfg.Dataset.OutputDir, 0o755); err != nil {
		return fmt.Errorf("run: create output dir: %w", err)
	}
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("run: marshal summary: %w", err)
	}

	path := SummaryPath(o.cfg.Dataset.OutputDir, sum.RunDate)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("run: write summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("run: rename summary: %w", err)
	}
	return nil
}

// ReadSummary loads a run summary from the output directory.
func ReadSummary(outputDir, runDate string) (*Summary, error) {
	data, err := os.ReadFile(SummaryPath(outputDir, runDate))
	if err != nil {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("run: parse summary: %w", err)
	}
	return &sum, nil
}
