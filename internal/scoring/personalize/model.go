// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package personalize implements the personalization models feeding the
// personalized sub-score. Two strategies exist: ProfileMatch, a
// deterministic profile-affinity blend that is always available, and
// LatentFactor, an optional ALS matrix-factorization model that can be
// swapped in by configuration and falls back to ProfileMatch whenever it
// cannot answer.
package personalize

import (
	"github.com/tomtom215/jobdigest/internal/catalog"
)

// NeutralScore is returned when no profile exists for a user. It sits at
// the midpoint of the score range so unprofiled users are neither
// favored nor punished.
const NeutralScore = 50.0

// Model scores user-item affinity in [0, 100].
type Model interface {
	// Name identifies the model in logs and the run summary.
	Name() string

	// Score returns the personalized score for the pair. A nil profile
	// must yield NeutralScore. Implementations must be safe for
	// concurrent use after construction/training.
	Score(profile *catalog.UserProfile, item *catalog.Item) float64
}

// clamp bounds v to [0, 100].
func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
