// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package run

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/checkpoint"
	"github.com/tomtom215/jobdigest/internal/config"
	"github.com/tomtom215/jobdigest/internal/dataset"
)

var runDate = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dataset.OutputDir = t.TempDir()
	cfg.Run.Workers = 2
	cfg.Run.ItemPartitionSize = 4
	cfg.Run.UserPartitionSize = 2
	cfg.Run.MaxAttempts = 2
	cfg.Run.Backoff = []time.Duration{time.Millisecond}
	cfg.Run.TimeBudget = 0
	return cfg
}

// testSource populates a small consistent dataset: ten postings above
// the fee threshold across two advertisers' regions, three users, one
// with a profile.
func testSource() *dataset.MemorySource {
	src := dataset.NewMemorySource()
	src.Now = runDate

	for i := int64(1); i <= 10; i++ {
		item := catalog.Item{
			ID:           i,
			AdvertiserID: 100 + i,
			RegionCode:   "13",
			WageMin:      1000 + float64(i)*50,
			Fee:          2000,
			Title:        "warehouse staff",
			PostedAt:     runDate.AddDate(0, 0, -20),
		}
		if i%2 == 0 {
			item.PostedAt = runDate.AddDate(0, 0, -2)
		}
		src.AddItems(item)
	}

	src.AddUsers(
		catalog.User{ID: 1},
		catalog.User{ID: 2},
		catalog.User{ID: 3},
	)

	profile := &catalog.UserProfile{UserID: 1, ActionCount: 20}
	profile.RegionFreq.Add("13", 8)
	profile.CategoryFreq.Add("c1", 5)
	src.SetProfile(profile)

	return src
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, src dataset.Source) (*Orchestrator, *dataset.MemorySink, *checkpoint.Store) {
	t.Helper()
	ckpt, err := checkpoint.Open(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	t.Cleanup(func() { ckpt.Close() })

	sink := dataset.NewMemorySink()
	orch, err := New(cfg, src, sink, ckpt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return orch, sink, ckpt
}

func TestRunComplete(t *testing.T) {
	cfg := testConfig(t)
	orch, sink, ckpt := newTestOrchestrator(t, cfg, testSource())

	sum, err := orch.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != StatusComplete {
		t.Fatalf("status = %q, want complete (error: %s)", sum.Status, sum.Error)
	}
	if sum.ItemsScored != 10 {
		t.Errorf("ItemsScored = %d, want 10", sum.ItemsScored)
	}
	if sum.UsersAllocated != 3 {
		t.Errorf("UsersAllocated = %d, want 3", sum.UsersAllocated)
	}
	if sum.Score.Failed != 0 || sum.Allocate.Failed != 0 {
		t.Errorf("failed partitions: score=%d allocate=%d, want none", sum.Score.Failed, sum.Allocate.Failed)
	}

	// Every user received each eligible item exactly once: ten items,
	// target forty, so all ten land via sections plus backfill.
	for userID := int64(1); userID <= 3; userID++ {
		rows := sink.Rows(userID)
		if len(rows) != 10 {
			t.Errorf("user %d: %d rows, want 10", userID, len(rows))
		}
		seen := make(map[int64]bool)
		for _, r := range rows {
			if seen[r.ItemID] {
				t.Errorf("user %d: duplicate item %d", userID, r.ItemID)
			}
			seen[r.ItemID] = true
			if r.RunDate != "2026-08-01" {
				t.Errorf("user %d: run date %q", userID, r.RunDate)
			}
		}
	}

	// Allocate partitions all carry done markers.
	markers, err := ckpt.List("2026-08-01", StageAllocate)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(markers) != sum.Allocate.Planned {
		t.Fatalf("%d allocate markers, want %d", len(markers), sum.Allocate.Planned)
	}
	for _, m := range markers {
		if m.Status != checkpoint.StatusDone {
			t.Errorf("partition %s status %q, want done", m.PartitionKey, m.Status)
		}
	}

	// The summary file round-trips.
	fromDisk, err := ReadSummary(cfg.Dataset.OutputDir, "2026-08-01")
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if fromDisk.Status != StatusComplete || fromDisk.UsersAllocated != 3 {
		t.Errorf("summary on disk = %+v", fromDisk)
	}
}

func TestRunResumeSkipsDoneAllocatePartitions(t *testing.T) {
	cfg := testConfig(t)
	orch, sink, ckpt := newTestOrchestrator(t, cfg, testSource())

	// Users 2 and 3 live in partition ids-2-4; a previous process
	// already wrote them.
	done := &checkpoint.Marker{
		RunDate:      "2026-08-01",
		Stage:        StageAllocate,
		PartitionKey: "ids-2-4",
		Status:       checkpoint.StatusDone,
	}
	if err := ckpt.Put(done); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sum, err := orch.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != StatusComplete {
		t.Fatalf("status = %q, want complete (error: %s)", sum.Status, sum.Error)
	}
	if sum.Allocate.Skipped != 1 {
		t.Errorf("Allocate.Skipped = %d, want 1", sum.Allocate.Skipped)
	}
	if rows := sink.Rows(1); len(rows) == 0 {
		t.Error("user 1 in an unfinished partition got no rows")
	}
	for _, userID := range []int64{2, 3} {
		if rows := sink.Rows(userID); len(rows) != 0 {
			t.Errorf("user %d in a done partition was re-allocated (%d rows)", userID, len(rows))
		}
	}
}

// brokenItemsSource fails every item read after the snapshot is built.
type brokenItemsSource struct {
	*dataset.MemorySource
	snapshotReads atomic.Int64
}

func (s *brokenItemsSource) ItemRange(ctx context.Context, lo, hi int64) ([]catalog.Item, error) {
	// First read is the snapshot's full sweep; let it through.
	if s.snapshotReads.Add(1) == 1 {
		return s.MemorySource.ItemRange(ctx, lo, hi)
	}
	return nil, errors.New("read items: io error")
}

func TestRunFailureRateAbortsScoreStage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.MaxAttempts = 1
	src := &brokenItemsSource{MemorySource: testSource()}
	orch, sink, _ := newTestOrchestrator(t, cfg, src)

	sum, err := orch.Run(context.Background(), runDate)
	if err == nil {
		t.Fatal("Run succeeded with a broken item source")
	}
	if sum.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", sum.Status)
	}
	if sink.UserCount() != 0 {
		t.Errorf("sink has %d users after a failed score stage, want 0", sink.UserCount())
	}

	// The summary names the lost partitions itself.
	if len(sum.FailedPartitions) == 0 {
		t.Fatal("summary lists no failed partitions")
	}
	for _, f := range sum.FailedPartitions {
		if f.Stage != StageScore {
			t.Errorf("failed partition %s in stage %q, want score", f.PartitionKey, f.Stage)
		}
		if f.Error == "" {
			t.Errorf("failed partition %s carries no error", f.PartitionKey)
		}
	}
}

// corruptProfileSource returns an undecodable profile for user 2.
type corruptProfileSource struct {
	*dataset.MemorySource
}

func (s *corruptProfileSource) Profile(ctx context.Context, userID int64) (*catalog.UserProfile, error) {
	if userID == 2 {
		return nil, fmt.Errorf("profile %d column region_freq: %w", userID, catalog.ErrMalformedFreqMap)
	}
	return s.MemorySource.Profile(ctx, userID)
}

func TestRunCorruptProfileFallsBackToNeutral(t *testing.T) {
	// One user's stored profile does not decode. Retrying cannot repair
	// stored data, so that user alone drops to neutral personalization
	// while the partition, the stage, and the other users proceed.
	cfg := testConfig(t)
	src := &corruptProfileSource{MemorySource: testSource()}
	orch, sink, _ := newTestOrchestrator(t, cfg, src)

	sum, err := orch.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != StatusComplete {
		t.Fatalf("status = %q, want complete (error: %s)", sum.Status, sum.Error)
	}
	if sum.Allocate.Failed != 0 {
		t.Errorf("Allocate.Failed = %d, want 0", sum.Allocate.Failed)
	}
	if sum.UsersAllocated != 3 {
		t.Errorf("UsersAllocated = %d, want 3", sum.UsersAllocated)
	}
	if sum.UsersFailed != 0 {
		t.Errorf("UsersFailed = %d, want 0", sum.UsersFailed)
	}
	if sum.UsersDegradedProfile != 1 {
		t.Errorf("UsersDegradedProfile = %d, want 1", sum.UsersDegradedProfile)
	}
	if rows := sink.Rows(2); len(rows) != 10 {
		t.Errorf("user 2 with corrupt profile got %d rows, want 10", len(rows))
	}
}

// flakyUserSource fails the first user-range read, then recovers.
type flakyUserSource struct {
	*dataset.MemorySource
	calls atomic.Int64
}

func (s *flakyUserSource) UserRange(ctx context.Context, lo, hi int64) ([]catalog.User, error) {
	if s.calls.Add(1) == 1 {
		return nil, errors.New("read users: connection reset")
	}
	return s.MemorySource.UserRange(ctx, lo, hi)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	cfg := testConfig(t)
	src := &flakyUserSource{MemorySource: testSource()}
	orch, _, _ := newTestOrchestrator(t, cfg, src)

	sum, err := orch.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != StatusComplete {
		t.Fatalf("status = %q, want complete (error: %s)", sum.Status, sum.Error)
	}
	if sum.UsersAllocated != 3 {
		t.Errorf("UsersAllocated = %d, want 3", sum.UsersAllocated)
	}
}

func TestRunEmptyCatalog(t *testing.T) {
	cfg := testConfig(t)
	src := dataset.NewMemorySource()
	src.Now = runDate
	src.AddUsers(catalog.User{ID: 1})

	orch, _, _ := newTestOrchestrator(t, cfg, src)
	sum, err := orch.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != StatusComplete {
		t.Fatalf("status = %q, want complete (error: %s)", sum.Status, sum.Error)
	}
	if sum.ItemsScored != 0 {
		t.Errorf("ItemsScored = %d, want 0", sum.ItemsScored)
	}
}

func TestRunLatentModelFallsBack(t *testing.T) {
	// No action history: the latent model cannot train and the run must
	// still complete on the profile-matching fallback.
	cfg := testConfig(t)
	cfg.Personal.Model = "latent"
	orch, _, _ := newTestOrchestrator(t, cfg, testSource())

	sum, err := orch.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != StatusComplete {
		t.Fatalf("status = %q, want complete (error: %s)", sum.Status, sum.Error)
	}
}
