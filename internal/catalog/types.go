// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package catalog

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWage is returned when an item carries no usable wage information.
var ErrInvalidWage = errors.New("catalog: item has no valid wage range")

// Item is a postable unit. Items are created and updated by ingestion and
// are read-only inside the batch.
type Item struct {
	// ID is the unique posting identifier.
	ID int64 `json:"id"`

	// AdvertiserID identifies the advertiser that owns the posting.
	AdvertiserID int64 `json:"advertiser_id"`

	// RegionCode is the prefecture-level location code.
	RegionCode string `json:"region_code"`

	// LocalityCode is the municipality-level location code.
	LocalityCode string `json:"locality_code"`

	// CategoryCodes lists the job category codes attached to the posting.
	CategoryCodes []string `json:"category_codes"`

	// EmploymentType is the employment classification code (full-time,
	// part-time, contract, ...).
	EmploymentType string `json:"employment_type"`

	// SalaryType is the pay period code (hourly, daily, monthly, ...).
	SalaryType string `json:"salary_type"`

	// WageMin and WageMax bound the advertised wage. WageMax may be zero
	// when the posting advertises a single figure.
	WageMin float64 `json:"wage_min"`
	WageMax float64 `json:"wage_max"`

	// Fee is the advertiser-paid incentive value. Items at or below the
	// configured fee threshold score zero and are never ranked.
	Fee float64 `json:"fee"`

	// Free-text fields used for keyword relevance matching.
	Title          string `json:"title"`
	AdvertiserName string `json:"advertiser_name"`
	Description    string `json:"description"`
	CategoryText   string `json:"category_text"`
	Compensation   string `json:"compensation"`
	Hours          string `json:"hours"`

	// PostedAt is when the posting went live.
	PostedAt time.Time `json:"posted_at"`

	// ExpiresAt deactivates the posting once passed.
	ExpiresAt time.Time `json:"expires_at"`
}

// ActiveAt reports whether the item is live at the given instant.
func (it *Item) ActiveAt(t time.Time) bool {
	if it.PostedAt.After(t) {
		return false
	}
	return it.ExpiresAt.IsZero() || it.ExpiresAt.After(t)
}

// EffectiveWage resolves the item's single representative wage figure:
// the midpoint of [WageMin, WageMax], or WageMin when no maximum is
// advertised. Returns ErrInvalidWage when neither bound is usable.
func (it *Item) EffectiveWage() (float64, error) {
	switch {
	case it.WageMin > 0 && it.WageMax >= it.WageMin:
		return (it.WageMin + it.WageMax) / 2, nil
	case it.WageMin > 0:
		return it.WageMin, nil
	case it.WageMax > 0:
		return it.WageMax, nil
	default:
		return 0, fmt.Errorf("%w: item %d", ErrInvalidWage, it.ID)
	}
}

// Validate checks the numeric fields that scoring depends on. Items that
// fail validation are skipped by the scoring stage, never fatal.
func (it *Item) Validate() error {
	if it.ID <= 0 {
		return fmt.Errorf("catalog: item id must be positive, got %d", it.ID)
	}
	if it.AdvertiserID <= 0 {
		return fmt.Errorf("catalog: item %d advertiser id must be positive, got %d", it.ID, it.AdvertiserID)
	}
	if it.Fee < 0 {
		return fmt.Errorf("catalog: item %d fee must be non-negative, got %g", it.ID, it.Fee)
	}
	if it.WageMin < 0 || it.WageMax < 0 {
		return fmt.Errorf("catalog: item %d wage bounds must be non-negative", it.ID)
	}
	if it.WageMax > 0 && it.WageMin > it.WageMax {
		return fmt.Errorf("catalog: item %d wage min %g exceeds max %g", it.ID, it.WageMin, it.WageMax)
	}
	return nil
}

// User is an identity plus an optional interaction profile.
type User struct {
	// ID is the unique user identifier.
	ID int64 `json:"id"`

	// Email anonymized delivery handle; opaque to the batch.
	Email string `json:"email,omitempty"`
}

// UserProfile aggregates a user's historical interactions. Profiles are
// rebuilt periodically from the action log by an external job; the batch
// consumes them read-only. Any frequency map may be empty when the user
// has no history along that dimension.
type UserProfile struct {
	UserID int64 `json:"user_id"`

	// Interaction frequencies per dimension.
	RegionFreq     FreqMap `json:"region_freq"`
	LocalityFreq   FreqMap `json:"locality_freq"`
	CategoryFreq   FreqMap `json:"category_freq"`
	EmploymentFreq FreqMap `json:"employment_freq"`
	AdvertiserFreq FreqMap `json:"advertiser_freq"`

	// Salary statistics over past interactions. Zero values mean the
	// dimension is absent.
	SalaryMin float64 `json:"salary_min"`
	SalaryAvg float64 `json:"salary_avg"`
	SalaryMax float64 `json:"salary_max"`

	// SalaryType is the dominant pay period code across interactions.
	SalaryType string `json:"salary_type,omitempty"`

	// ActionCount is the total number of interactions behind the profile.
	ActionCount int `json:"action_count"`

	// RebuiltAt is when the external profile job last rebuilt this row.
	RebuiltAt time.Time `json:"rebuilt_at"`
}

// HasSalaryBand reports whether the profile carries a usable salary range.
func (p *UserProfile) HasSalaryBand() bool {
	return p != nil && p.SalaryMin > 0 && p.SalaryMax >= p.SalaryMin
}

// ActionKind classifies an action-log row.
type ActionKind int

const (
	// ActionView is a detail-page view.
	ActionView ActionKind = iota
	// ActionApply is an interaction that resulted in an application.
	ActionApply
)

// String returns a human-readable name for the action kind.
func (k ActionKind) String() string {
	switch k {
	case ActionView:
		return "view"
	case ActionApply:
		return "apply"
	default:
		return "unknown"
	}
}

// Action is one row of the external action-history log.
type Action struct {
	UserID       int64      `json:"user_id"`
	ItemID       int64      `json:"item_id"`
	AdvertiserID int64      `json:"advertiser_id"`
	Kind         ActionKind `json:"kind"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// KeywordIntent classifies a corpus keyword's search intent.
type KeywordIntent int

const (
	// IntentInformational marks research-stage queries.
	IntentInformational KeywordIntent = iota
	// IntentNavigational marks brand or destination queries.
	IntentNavigational
	// IntentTransactional marks application-intent queries.
	IntentTransactional
)

// Multiplier returns the score multiplier applied to matches of keywords
// carrying this intent.
func (i KeywordIntent) Multiplier() float64 {
	switch i {
	case IntentTransactional:
		return 1.5
	case IntentNavigational:
		return 1.0
	case IntentInformational:
		return 0.8
	default:
		return 1.0
	}
}

// String returns a human-readable name for the intent.
func (i KeywordIntent) String() string {
	switch i {
	case IntentInformational:
		return "informational"
	case IntentNavigational:
		return "navigational"
	case IntentTransactional:
		return "transactional"
	default:
		return "unknown"
	}
}

// Keyword is one corpus entry used for relevance matching.
type Keyword struct {
	// Text is the raw keyword surface form.
	Text string `json:"text"`

	// VolumeTier buckets search volume: 1 (highest) through 3 (lowest).
	VolumeTier int `json:"volume_tier"`

	// Intent is the classified search intent.
	Intent KeywordIntent `json:"intent"`
}

// BaseScore returns the per-match base score for the keyword's volume tier.
func (k *Keyword) BaseScore() float64 {
	switch k.VolumeTier {
	case 1:
		return 30
	case 2:
		return 20
	default:
		return 10
	}
}
