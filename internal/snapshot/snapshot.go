// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package snapshot

import (
	"time"
)

// Neutral fallbacks used when the datasets carry too little history.
const (
	// NeutralWageMean and NeutralWageStd stand in for a region with no
	// usable wage data, so a wage z-score is always computable.
	NeutralWageMean = 1100.0
	NeutralWageStd  = 150.0

	// minRegionItems is the minimum item count before a region's own
	// statistics are trusted over the global ones.
	minRegionItems = 3

	// minAdvertiserActions is the minimum trailing action count before
	// an advertiser's interaction rate is trusted.
	minAdvertiserActions = 10

	// AdvertiserWindow is the trailing window for advertiser rates.
	AdvertiserWindow = 360 * 24 * time.Hour
)

// WageStats summarizes wages within one region.
type WageStats struct {
	Mean float64
	Std  float64
	N    int
}

// Snapshot is the immutable per-run reference data. Construct with
// Builder.Build; never mutate after construction.
type Snapshot struct {
	// RunDate is the run this snapshot belongs to.
	RunDate time.Time

	// BuiltAt records construction time, for the status surface.
	BuiltAt time.Time

	regionWages map[string]WageStats
	globalWage  WageStats

	advertiserRates map[int64]float64

	keywords *KeywordIndex
}

// RegionWage returns the wage statistics for a region, falling back to
// global statistics, then to the documented neutral constants. It never
// fails and never returns a zero standard deviation.
func (s *Snapshot) RegionWage(regionCode string) WageStats {
	if st, ok := s.regionWages[regionCode]; ok && st.N >= minRegionItems && st.Std > 0 {
		return st
	}
	if s.globalWage.N >= minRegionItems && s.globalWage.Std > 0 {
		return s.globalWage
	}
	return WageStats{Mean: NeutralWageMean, Std: NeutralWageStd}
}

// AdvertiserRate returns the advertiser's trailing apply rate and whether
// the advertiser has enough history to be known.
func (s *Snapshot) AdvertiserRate(advertiserID int64) (float64, bool) {
	r, ok := s.advertiserRates[advertiserID]
	return r, ok
}

// Keywords returns the compiled keyword index. Never nil after Build.
func (s *Snapshot) Keywords() *KeywordIndex {
	return s.keywords
}
