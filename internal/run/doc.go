// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package run orchestrates a batch run end to end: snapshot build,
// parallel item scoring, and parallel per-user allocation, under a
// wall-clock budget with per-partition checkpoints and retries.
//
// A run moves through three stages in order:
//
//  1. snapshot: load reference data (wage statistics, advertiser rates,
//     the keyword index) into an immutable in-memory snapshot.
//  2. score: partition the active item-id space and compute the
//     user-independent sub-scores for every item in parallel.
//  3. allocate: partition the user-id space, complete per-user scores,
//     and allocate sections, writing one durable record per user.
//
// Partitions retry transient failures with a backoff schedule. A stage
// aborts the run when its partition failure rate crosses the configured
// threshold. When the time budget nears exhaustion the allocator
// degrades (backfill first, then low-priority sections) instead of
// aborting, provided degradation is enabled.
package run
