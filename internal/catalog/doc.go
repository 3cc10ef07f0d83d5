// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package catalog defines the core domain records consumed by the batch:
// postings (items), users, interaction profiles, and the action log rows
// used to derive exclusion windows and advertiser statistics.
//
// The package has no dependencies on other internal packages. Records are
// produced by out-of-scope ingestion and are read-only to the batch; every
// optional field has an explicit default-resolution method rather than an
// implicit zero-value fallback.
package catalog
