// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package allocation

import (
	"fmt"
	"time"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

// FilterKind selects a section's candidate domain.
type FilterKind string

const (
	// FilterNone admits every eligible candidate.
	FilterNone FilterKind = "none"
	// FilterRecent admits items posted within the section's recency window.
	FilterRecent FilterKind = "recent"
	// FilterNearby admits items in the user's most-interacted region.
	FilterNearby FilterKind = "nearby"
	// FilterFeatured admits items whose fee clears a multiple of the
	// fee threshold.
	FilterFeatured FilterKind = "featured"
)

// RankKind selects the score a section ranks by.
type RankKind string

const (
	// RankByTotal orders candidates by total score.
	RankByTotal RankKind = "total"
	// RankByPersonalized orders candidates by personalized score.
	RankByPersonalized RankKind = "personalized"
)

// SectionSpec is one named allocation bucket with a fixed capacity and
// priority position.
type SectionSpec struct {
	Name        string
	Capacity    int
	Filter      FilterKind
	RankBy      RankKind
	RecencyDays int
	FeeMultiple float64
}

// admits reports whether the item belongs in the section's candidate
// pool for the given user context.
func (s *SectionSpec) admits(item *catalog.Item, profile *catalog.UserProfile, runDate time.Time, feeThreshold float64) bool {
	switch s.Filter {
	case FilterRecent:
		days := s.RecencyDays
		if days <= 0 {
			days = 7
		}
		return !item.PostedAt.Before(runDate.AddDate(0, 0, -days))
	case FilterNearby:
		if profile == nil || profile.RegionFreq.Len() == 0 {
			return false
		}
		return item.RegionCode == profile.RegionFreq.Top()
	case FilterFeatured:
		mult := s.FeeMultiple
		if mult <= 0 {
			mult = 3
		}
		return item.Fee >= mult*feeThreshold
	default:
		return true
	}
}

// Validate rejects malformed specs before a run starts.
func (s *SectionSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("allocation: section name is required")
	}
	if s.Capacity <= 0 {
		return fmt.Errorf("allocation: section %q capacity must be positive", s.Name)
	}
	switch s.Filter {
	case FilterNone, FilterRecent, FilterNearby, FilterFeatured:
	default:
		return fmt.Errorf("allocation: section %q has unknown filter %q", s.Name, s.Filter)
	}
	switch s.RankBy {
	case RankByTotal, RankByPersonalized:
	default:
		return fmt.Errorf("allocation: section %q has unknown rank_by %q", s.Name, s.RankBy)
	}
	return nil
}
