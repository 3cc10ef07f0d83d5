// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package allocation turns a user's scored candidates into the final
// deduplicated, capacity-bounded, priority-ordered allocation across
// named sections, with shortfall backfill.
//
// Guarantees, per (user, run):
//
//   - no item id is allocated twice
//   - the allocation count never exceeds the target total, and equals it
//     whenever enough eligible, non-excluded candidates exist
//   - no allocated item's advertiser is inside the user's exclusion
//     window (applied uniformly to sections and backfill)
//   - output ordering is deterministic given identical inputs: fixed
//     section priority, rank by the section's designated score, ties
//     broken by ascending item id
//
// One user's failure never affects another; the engine is stateless
// across users and safe for concurrent use from disjoint partitions.
package allocation
