// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/dataset"
	"github.com/tomtom215/jobdigest/internal/logging"
	"github.com/tomtom215/jobdigest/internal/metrics"
	"github.com/tomtom215/jobdigest/internal/scoring"
)

// UserState is the per-user allocation state machine. States advance
// strictly forward; Failed is terminal and scoped to one user.
type UserState int

const (
	// StatePending precedes any work for the user.
	StatePending UserState = iota
	// StateScoringDone means per-pair scores are complete.
	StateScoringDone
	// StateSections means priority sections are being filled.
	StateSections
	// StateBackfill means shortfall backfill is running.
	StateBackfill
	// StateComplete is the successful terminal state.
	StateComplete
	// StateFailed is the failure terminal state for this user only.
	StateFailed
)

// String returns a human-readable state name.
func (s UserState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateScoringDone:
		return "scoring_done"
	case StateSections:
		return "sections"
	case StateBackfill:
		return "backfill"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Candidate pairs an item with its completed score record.
type Candidate struct {
	Item   catalog.Item
	Score  scoring.ScoreRecord
	FeeCut bool
}

// Params fixes the allocation layout for a run.
type Params struct {
	// Sections in ascending priority order (index 0 fills first).
	Sections []SectionSpec

	// TargetTotal is the per-user allocation target; section capacities
	// sum to it.
	TargetTotal int

	// BackfillOrder lists section names in round-robin order for
	// shortfall backfill. Empty means section priority order.
	BackfillOrder []string

	// FeeThreshold feeds the featured-section filter.
	FeeThreshold float64
}

// Validate rejects malformed parameters before a run starts.
func (p *Params) Validate() error {
	if p.TargetTotal <= 0 {
		return fmt.Errorf("allocation: target total must be positive")
	}
	if len(p.Sections) == 0 {
		return fmt.Errorf("allocation: at least one section is required")
	}
	sum := 0
	names := make(map[string]struct{}, len(p.Sections))
	for i := range p.Sections {
		if err := p.Sections[i].Validate(); err != nil {
			return err
		}
		if _, dup := names[p.Sections[i].Name]; dup {
			return fmt.Errorf("allocation: duplicate section %q", p.Sections[i].Name)
		}
		names[p.Sections[i].Name] = struct{}{}
		sum += p.Sections[i].Capacity
	}
	if sum != p.TargetTotal {
		return fmt.Errorf("allocation: section capacities sum to %d, target is %d", sum, p.TargetTotal)
	}
	for _, name := range p.BackfillOrder {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("allocation: backfill order references unknown section %q", name)
		}
	}
	return nil
}

// Degrade trims work under time pressure: backfill goes first, then
// sections from the lowest priority upward.
type Degrade struct {
	// SkipBackfill drops shortfall backfill.
	SkipBackfill bool

	// MaxSections caps how many priority sections fill (0 = all).
	MaxSections int
}

// Engine allocates sections for users. It is stateless across users and
// safe for concurrent use.
type Engine struct {
	params Params
	logger zerolog.Logger
}

// NewEngine validates params and creates an Engine.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params: params,
		logger: logging.With().Str("component", "allocation").Logger(),
	}, nil
}

// Allocate produces the user's allocation rows for the run. Candidates
// may arrive in any order; output ordering is deterministic. The
// returned state is StateComplete, or StateFailed with a non-nil error.
func (e *Engine) Allocate(
	user catalog.User,
	profile *catalog.UserProfile,
	candidates []Candidate,
	excl *Exclusions,
	runDate time.Time,
	degrade Degrade,
) ([]dataset.AllocationRow, UserState, error) {
	state := StateScoringDone

	// Baseline eligibility once: fee-cut items and excluded advertisers
	// never enter any pool, backfill included.
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.FeeCut {
			continue
		}
		if excl != nil && excl.Excluded(user.ID, c.Item.AdvertiserID) {
			continue
		}
		eligible = append(eligible, c)
	}

	// Deterministic base order regardless of input order.
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Item.ID < eligible[j].Item.ID
	})

	date := runDate.Format("2006-01-02")
	selected := make(map[int64]struct{}, e.params.TargetTotal)
	var rows []dataset.AllocationRow
	perSection := make(map[string]int, len(e.params.Sections))

	state = StateSections
	sections := e.params.Sections
	if degrade.MaxSections > 0 && degrade.MaxSections < len(sections) {
		sections = sections[:degrade.MaxSections]
	}

	for i := range sections {
		sec := &sections[i]

		pool := make([]Candidate, 0, len(eligible))
		for _, c := range eligible {
			if _, taken := selected[c.Item.ID]; taken {
				continue
			}
			if !sec.admits(&c.Item, profile, runDate, e.params.FeeThreshold) {
				continue
			}
			pool = append(pool, c)
		}

		rankCandidates(pool, sec.RankBy)

		take := sec.Capacity
		if take > len(pool) {
			take = len(pool)
		}
		for rank := 0; rank < take; rank++ {
			c := pool[rank]
			selected[c.Item.ID] = struct{}{}
			perSection[sec.Name]++
			rows = append(rows, dataset.AllocationRow{
				UserID:      user.ID,
				RunDate:     date,
				ItemID:      c.Item.ID,
				SectionName: sec.Name,
				Rank:        rank + 1,
				TotalScore:  c.Score.Total,
			})
		}
	}

	if !degrade.SkipBackfill && len(selected) < e.params.TargetTotal {
		state = StateBackfill
		rows = e.backfill(rows, eligible, selected, perSection, date, user.ID)
	}

	if len(rows) > e.params.TargetTotal {
		// Capacity invariant broken: fail this user only.
		return nil, StateFailed, fmt.Errorf("allocation: user %d exceeds target total (%d > %d)",
			user.ID, len(rows), e.params.TargetTotal)
	}

	metrics.UsersAllocated.Inc()
	metrics.AllocationShortfall.Observe(float64(e.params.TargetTotal - len(rows)))

	if len(rows) < e.params.TargetTotal {
		e.logger.Debug().
			Int64("user_id", user.ID).
			Int("allocated", len(rows)).
			Int("target", e.params.TargetTotal).
			Msg("allocation short of target")
	}

	state = StateComplete
	return rows, state, nil
}

// backfill assigns the best remaining candidates round-robin across the
// backfill section order until the target is reached or candidates run
// out. Ranks continue after each section's existing rows.
func (e *Engine) backfill(
	rows []dataset.AllocationRow,
	eligible []Candidate,
	selected map[int64]struct{},
	perSection map[string]int,
	date string,
	userID int64,
) []dataset.AllocationRow {
	remaining := make([]Candidate, 0, len(eligible))
	for _, c := range eligible {
		if _, taken := selected[c.Item.ID]; !taken {
			remaining = append(remaining, c)
		}
	}
	rankCandidates(remaining, RankByTotal)

	order := e.params.BackfillOrder
	if len(order) == 0 {
		order = make([]string, len(e.params.Sections))
		for i := range e.params.Sections {
			order[i] = e.params.Sections[i].Name
		}
	}

	slot := 0
	for _, c := range remaining {
		if len(selected) >= e.params.TargetTotal {
			break
		}
		section := order[slot%len(order)]
		slot++

		selected[c.Item.ID] = struct{}{}
		perSection[section]++
		rows = append(rows, dataset.AllocationRow{
			UserID:      userID,
			RunDate:     date,
			ItemID:      c.Item.ID,
			SectionName: section,
			Rank:        perSection[section],
			TotalScore:  c.Score.Total,
		})
	}
	return rows
}

// rankCandidates orders by the designated score descending, ties broken
// by ascending item id for determinism.
func rankCandidates(pool []Candidate, by RankKind) {
	sort.SliceStable(pool, func(i, j int) bool {
		var si, sj float64
		if by == RankByPersonalized {
			si, sj = pool[i].Score.Personalized, pool[j].Score.Personalized
		} else {
			si, sj = pool[i].Score.Total, pool[j].Score.Total
		}
		if si != sj {
			return si > sj
		}
		return pool[i].Item.ID < pool[j].Item.ID
	})
}
