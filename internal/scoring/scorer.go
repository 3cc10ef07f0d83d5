// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package scoring computes the multi-factor relevance scores for
// (user, item) pairs: a user-independent basic score (wage, fee,
// advertiser popularity), a user-independent keyword relevance score,
// and a user-specific personalized score delegated to the active
// personalization model. The total score is a single fixed weighted
// combination of the three; no other code path may compute it.
//
// The batch exploits the user-independent/user-specific split: ScoreItem
// runs once per item in the scoring stage, Complete runs once per
// (user, item) pair in the allocation stage.
package scoring

import (
	"fmt"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/scoring/personalize"
	"github.com/tomtom215/jobdigest/internal/snapshot"
)

// Advertiser popularity tiers: trailing apply rate to score.
const (
	popularityUnknown = 30.0
)

// Params are the run-level scoring constants, fixed for the whole run.
type Params struct {
	// FeeThreshold is the hard cutoff: fee at or below it zeroes the
	// basic score and removes the item from ranking.
	FeeThreshold float64

	// FeeCeiling is the fee at which the fee score saturates at 100.
	FeeCeiling float64

	// WageWeight, FeeWeight, PopularityWeight combine the basic-score
	// components. Normalized at use.
	WageWeight       float64
	FeeWeight        float64
	PopularityWeight float64

	// BasicWeight, RelevanceWeight, PersonalizedWeight combine the three
	// sub-scores into the total. Normalized at use.
	BasicWeight        float64
	RelevanceWeight    float64
	PersonalizedWeight float64

	// MaxKeywordMatches caps accumulated keyword matches per item.
	MaxKeywordMatches int
}

// DefaultParams returns the default scoring constants.
func DefaultParams() Params {
	return Params{
		FeeThreshold:       500,
		FeeCeiling:         2500,
		WageWeight:         0.4,
		FeeWeight:          0.3,
		PopularityWeight:   0.3,
		BasicWeight:        0.4,
		RelevanceWeight:    0.3,
		PersonalizedWeight: 0.3,
		MaxKeywordMatches:  7,
	}
}

// ScoreRecord is the full scored (user, item) pair. All scores lie in
// [0, 100].
type ScoreRecord struct {
	UserID       int64   `json:"user_id"`
	ItemID       int64   `json:"item_id"`
	Basic        float64 `json:"basic_score"`
	Relevance    float64 `json:"relevance_score"`
	Personalized float64 `json:"personalized_score"`
	Total        float64 `json:"total_score"`
}

// ItemScore is the user-independent half of a ScoreRecord, computed
// once per item by the scoring stage.
type ItemScore struct {
	Item      catalog.Item
	Basic     float64
	Relevance float64

	// FeeCut marks the hard fee cutoff: the item scored zero on policy
	// grounds and is excluded from ranking entirely.
	FeeCut bool
}

// Scorer computes scores against one immutable snapshot.
type Scorer struct {
	params Params
	snap   *snapshot.Snapshot
	model  personalize.Model
}

// NewScorer creates a Scorer. The snapshot and model must outlive it.
func NewScorer(params Params, snap *snapshot.Snapshot, model personalize.Model) *Scorer {
	return &Scorer{params: params, snap: snap, model: model}
}

// ScoreItem computes the user-independent sub-scores. Malformed numeric
// fields return an error; the caller skips (and counts) the item.
func (s *Scorer) ScoreItem(item catalog.Item) (ItemScore, error) {
	if err := item.Validate(); err != nil {
		return ItemScore{}, fmt.Errorf("scoring: %w", err)
	}

	is := ItemScore{Item: item}

	// Hard cutoff: at or below the fee threshold nothing else can raise
	// the basic score.
	if item.Fee <= s.params.FeeThreshold {
		is.FeeCut = true
		is.Relevance = s.relevanceScore(&item)
		return is, nil
	}

	wage, err := item.EffectiveWage()
	if err != nil {
		return ItemScore{}, fmt.Errorf("scoring: %w", err)
	}

	is.Basic = s.basicScore(&item, wage)
	is.Relevance = s.relevanceScore(&item)
	return is, nil
}

// basicScore combines wage z-score, fee normalization, and advertiser
// popularity with the configured weights, clamped to [0, 100].
func (s *Scorer) basicScore(item *catalog.Item, wage float64) float64 {
	wageScore := s.wageScore(item.RegionCode, wage)
	feeScore := s.feeScore(item.Fee)
	popScore := s.popularityScore(item.AdvertiserID)

	wSum := s.params.WageWeight + s.params.FeeWeight + s.params.PopularityWeight
	combined := (s.params.WageWeight*wageScore +
		s.params.FeeWeight*feeScore +
		s.params.PopularityWeight*popScore) / wSum
	return clamp(combined)
}

// wageScore maps the wage's z-score against the region distribution from
// [-2, +2] standard deviations onto [0, 100].
func (s *Scorer) wageScore(regionCode string, wage float64) float64 {
	stats := s.snap.RegionWage(regionCode)
	z := (wage - stats.Mean) / stats.Std
	if z < -2 {
		z = -2
	}
	if z > 2 {
		z = 2
	}
	return (z + 2) / 4 * 100
}

// feeScore is 0 at the threshold, 100 at the ceiling, linear between.
func (s *Scorer) feeScore(fee float64) float64 {
	span := s.params.FeeCeiling - s.params.FeeThreshold
	return clamp((fee - s.params.FeeThreshold) / span * 100)
}

// popularityScore discretizes the advertiser's trailing apply rate into
// five tiers; unknown advertisers land between the bottom two.
func (s *Scorer) popularityScore(advertiserID int64) float64 {
	rate, known := s.snap.AdvertiserRate(advertiserID)
	if !known {
		return popularityUnknown
	}
	switch {
	case rate >= 0.15:
		return 100
	case rate >= 0.10:
		return 80
	case rate >= 0.05:
		return 60
	case rate >= 0.02:
		return 40
	default:
		return 20
	}
}

// Complete adds the user-specific half: the personalized score from the
// active model and the weighted total. A fee-cut item keeps total zero
// so it can never outrank an eligible item.
func (s *Scorer) Complete(is *ItemScore, userID int64, profile *catalog.UserProfile) ScoreRecord {
	rec := ScoreRecord{
		UserID:    userID,
		ItemID:    is.Item.ID,
		Basic:     is.Basic,
		Relevance: is.Relevance,
	}

	rec.Personalized = clamp(s.model.Score(profile, &is.Item))

	if is.FeeCut {
		return rec
	}

	wSum := s.params.BasicWeight + s.params.RelevanceWeight + s.params.PersonalizedWeight
	rec.Total = clamp((s.params.BasicWeight*rec.Basic +
		s.params.RelevanceWeight*rec.Relevance +
		s.params.PersonalizedWeight*rec.Personalized) / wSum)
	return rec
}

// Score is the one-shot contract: both halves for a single pair.
func (s *Scorer) Score(item catalog.Item, userID int64, profile *catalog.UserProfile) (ScoreRecord, error) {
	is, err := s.ScoreItem(item)
	if err != nil {
		return ScoreRecord{}, err
	}
	return s.Complete(&is, userID, profile), nil
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
