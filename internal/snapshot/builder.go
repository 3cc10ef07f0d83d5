// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package snapshot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/dataset"
	"github.com/tomtom215/jobdigest/internal/logging"
)

// Builder constructs the per-run reference snapshot from the input
// datasets.
type Builder struct {
	src    dataset.Source
	logger zerolog.Logger
}

// NewBuilder creates a Builder over the given source.
func NewBuilder(src dataset.Source) *Builder {
	return &Builder{
		src:    src,
		logger: logging.With().Str("component", "snapshot").Logger(),
	}
}

// Build computes the snapshot for runDate. Insufficient data falls back
// to neutral constants; only dataset access errors fail the build.
func (b *Builder) Build(ctx context.Context, runDate time.Time) (*Snapshot, error) {
	items, err := b.loadItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load items: %w", err)
	}

	regionWages, globalWage := computeWageStats(items)

	actions, err := b.src.ActionsSince(ctx, runDate.Add(-AdvertiserWindow))
	if err != nil {
		return nil, fmt.Errorf("snapshot: load actions: %w", err)
	}
	rates := computeAdvertiserRates(actions)

	corpus, err := b.src.Keywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load keywords: %w", err)
	}
	index := NewKeywordIndex(corpus)

	b.logger.Info().
		Int("items", len(items)).
		Int("regions", len(regionWages)).
		Int("advertisers", len(rates)).
		Int("keywords", index.Len()).
		Time("run_date", runDate).
		Msg("snapshot built")

	return &Snapshot{
		RunDate:         runDate,
		BuiltAt:         time.Now(),
		regionWages:     regionWages,
		globalWage:      globalWage,
		advertiserRates: rates,
		keywords:        index,
	}, nil
}

// loadItems fetches the full active item set in one range sweep.
func (b *Builder) loadItems(ctx context.Context) ([]catalog.Item, error) {
	lo, hi, ok, err := b.src.ItemIDBounds(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return b.src.ItemRange(ctx, lo, hi+1)
}

// computeWageStats aggregates effective wages per region and globally.
// Items without a usable wage are skipped, never fatal.
func computeWageStats(items []catalog.Item) (map[string]WageStats, WageStats) {
	type acc struct {
		sum, sumSq float64
		n          int
	}
	perRegion := make(map[string]*acc)
	var global acc

	for i := range items {
		wage, err := items[i].EffectiveWage()
		if err != nil {
			continue
		}
		a := perRegion[items[i].RegionCode]
		if a == nil {
			a = &acc{}
			perRegion[items[i].RegionCode] = a
		}
		a.sum += wage
		a.sumSq += wage * wage
		a.n++
		global.sum += wage
		global.sumSq += wage * wage
		global.n++
	}

	finalize := func(a *acc) WageStats {
		if a.n == 0 {
			return WageStats{}
		}
		mean := a.sum / float64(a.n)
		variance := a.sumSq/float64(a.n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		return WageStats{Mean: mean, Std: math.Sqrt(variance), N: a.n}
	}

	out := make(map[string]WageStats, len(perRegion))
	for region, a := range perRegion {
		out[region] = finalize(a)
	}
	return out, finalize(&global)
}

// computeAdvertiserRates derives trailing apply rates per advertiser.
// Advertisers below the minimum action count are omitted: the scorer
// treats them as unknown.
func computeAdvertiserRates(actions []catalog.Action) map[int64]float64 {
	type counts struct {
		total, applies int
	}
	perAdvertiser := make(map[int64]*counts)
	for _, a := range actions {
		c := perAdvertiser[a.AdvertiserID]
		if c == nil {
			c = &counts{}
			perAdvertiser[a.AdvertiserID] = c
		}
		c.total++
		if a.Kind == catalog.ActionApply {
			c.applies++
		}
	}

	out := make(map[int64]float64, len(perAdvertiser))
	for id, c := range perAdvertiser {
		if c.total < minAdvertiserActions {
			continue
		}
		out[id] = float64(c.applies) / float64(c.total)
	}
	return out
}
