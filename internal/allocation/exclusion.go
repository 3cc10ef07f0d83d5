// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package allocation

import (
	"time"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

// Exclusions holds, per user, the advertisers interacted with inside the
// trailing exclusion window. It is built once per allocation partition
// from the action log and consulted read-only.
type Exclusions struct {
	byUser map[int64]map[int64]struct{}
}

// BuildExclusions derives exclusion windows from action-log rows. Only
// actions inside [runDate - window, runDate] count; rows outside the
// window are ignored.
func BuildExclusions(actions []catalog.Action, runDate time.Time, window time.Duration) *Exclusions {
	cutoff := runDate.Add(-window)
	ex := &Exclusions{byUser: make(map[int64]map[int64]struct{})}
	if window <= 0 {
		return ex
	}
	for _, a := range actions {
		if a.OccurredAt.Before(cutoff) || a.OccurredAt.After(runDate) {
			continue
		}
		set := ex.byUser[a.UserID]
		if set == nil {
			set = make(map[int64]struct{})
			ex.byUser[a.UserID] = set
		}
		set[a.AdvertiserID] = struct{}{}
	}
	return ex
}

// Excluded reports whether the advertiser is inside the user's window.
func (e *Exclusions) Excluded(userID, advertiserID int64) bool {
	set, ok := e.byUser[userID]
	if !ok {
		return false
	}
	_, excluded := set[advertiserID]
	return excluded
}

// UserCount returns how many users have a non-empty window.
func (e *Exclusions) UserCount() int {
	return len(e.byUser)
}
