// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package snapshot builds the run-scoped reference snapshot: per-region
// wage statistics, per-advertiser trailing interaction rates, and the
// compiled keyword index used for relevance matching.
//
// A snapshot is computed exactly once per run by the orchestrator's
// snapshot stage and passed by pointer to every worker. It is immutable
// after Build returns; there is no process-wide singleton and no cache
// invalidation. Missing data never fails the build: regions and
// advertisers without sufficient history resolve to documented neutral
// fallbacks instead.
package snapshot
