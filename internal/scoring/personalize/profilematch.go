// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package personalize

import (
	"strconv"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

// Dimension weights for the profile-matching blend. Weights are
// renormalized over whichever dimensions a profile actually carries, so
// their relative proportions hold even for thin profiles.
const (
	weightLocation          = 0.25
	weightCategory          = 0.25
	weightEmployment        = 0.15
	weightSalaryType        = 0.10
	weightSalaryProximity   = 0.15
	weightAdvertiserPenalty = 0.10
)

// salaryTolerance is how far outside the profile's salary band (as a
// fraction of the violated bound) the proximity score decays to zero.
const salaryTolerance = 0.5

// ProfileMatch scores affinity from historical interaction frequencies.
// It is deterministic, requires no training, and is the fallback for
// every other model.
type ProfileMatch struct{}

// NewProfileMatch returns the profile-matching model.
func NewProfileMatch() *ProfileMatch { return &ProfileMatch{} }

// Name implements Model.
func (*ProfileMatch) Name() string { return "profile_match" }

// Score implements Model.
func (*ProfileMatch) Score(profile *catalog.UserProfile, item *catalog.Item) float64 {
	if profile == nil || profile.ActionCount == 0 {
		return NeutralScore
	}

	var weightedSum, weightSum float64
	add := func(weight, score float64) {
		weightedSum += weight * score
		weightSum += weight
	}

	if profile.RegionFreq.Len() > 0 {
		add(weightLocation, locationScore(profile, item))
	}
	if profile.CategoryFreq.Len() > 0 {
		add(weightCategory, categoryScore(profile, item))
	}
	if profile.EmploymentFreq.Len() > 0 && item.EmploymentType != "" {
		add(weightEmployment, profile.EmploymentFreq.Ratio(item.EmploymentType)*100)
	}
	if profile.SalaryType != "" && item.SalaryType != "" {
		add(weightSalaryType, salaryTypeScore(profile, item))
	}
	if profile.HasSalaryBand() {
		if wage, err := item.EffectiveWage(); err == nil {
			add(weightSalaryProximity, salaryProximityScore(profile, wage))
		}
	}
	if profile.AdvertiserFreq.Len() > 0 {
		add(weightAdvertiserPenalty, advertiserPenaltyScore(profile, item))
	}

	if weightSum == 0 {
		return NeutralScore
	}
	return clamp(weightedSum / weightSum)
}

// locationScore blends region and locality match rates. Locality history
// refines the region signal when present.
func locationScore(profile *catalog.UserProfile, item *catalog.Item) float64 {
	region := profile.RegionFreq.Ratio(item.RegionCode) * 100
	if profile.LocalityFreq.Len() == 0 || item.LocalityCode == "" {
		return region
	}
	locality := profile.LocalityFreq.Ratio(item.LocalityCode) * 100
	return 0.7*region + 0.3*locality
}

// categoryScore takes the best match rate across the item's categories.
func categoryScore(profile *catalog.UserProfile, item *catalog.Item) float64 {
	best := 0.0
	for _, code := range item.CategoryCodes {
		if r := profile.CategoryFreq.Ratio(code) * 100; r > best {
			best = r
		}
	}
	return best
}

func salaryTypeScore(profile *catalog.UserProfile, item *catalog.Item) float64 {
	if profile.SalaryType == item.SalaryType {
		return 100
	}
	return 0
}

// salaryProximityScore is 100 inside the profile's historical salary band
// and decays linearly to zero at salaryTolerance distance outside it.
func salaryProximityScore(profile *catalog.UserProfile, wage float64) float64 {
	var distance float64
	switch {
	case wage >= profile.SalaryMin && wage <= profile.SalaryMax:
		return 100
	case wage < profile.SalaryMin:
		distance = (profile.SalaryMin - wage) / profile.SalaryMin
	default:
		distance = (wage - profile.SalaryMax) / profile.SalaryMax
	}
	return clamp(100 * (1 - distance/salaryTolerance))
}

// advertiserPenaltyScore discourages re-allocating advertisers the user
// has interacted with repeatedly: the higher the historical repeat share,
// the lower the score.
func advertiserPenaltyScore(profile *catalog.UserProfile, item *catalog.Item) float64 {
	repeat := profile.AdvertiserFreq.Ratio(strconv.FormatInt(item.AdvertiserID, 10))
	return clamp(100 * (1 - repeat))
}
