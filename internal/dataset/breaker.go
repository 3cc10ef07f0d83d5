// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/logging"
	"github.com/tomtom215/jobdigest/internal/metrics"
)

// BreakerSettings tunes the circuit breaker guarding a Source.
type BreakerSettings struct {
	// MaxFailures opens the breaker after this many consecutive failures.
	MaxFailures int

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// GuardedSource wraps a Source with a circuit breaker so a failing
// dataset dependency fails fast instead of stalling every partition.
// A rejected call surfaces as gobreaker.ErrOpenState, which the
// orchestrator treats as a transient, retryable failure.
type GuardedSource struct {
	inner Source
	cb    *gobreaker.CircuitBreaker[any]
}

// Guard wraps src with a breaker using the given settings.
func Guard(src Source, settings BreakerSettings) *GuardedSource {
	logger := logging.With().Str("component", "dataset").Logger()

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "dataset-source",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(settings.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("dataset breaker state change")
			metrics.BreakerState.Set(breakerStateValue(to))
		},
	})
	return &GuardedSource{inner: src, cb: cb}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func execute[T any](g *GuardedSource, fn func() (T, error)) (T, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

type idBounds struct {
	lo, hi int64
	ok     bool
}

// ItemIDBounds implements Source.
func (g *GuardedSource) ItemIDBounds(ctx context.Context) (int64, int64, bool, error) {
	b, err := execute(g, func() (idBounds, error) {
		lo, hi, ok, err := g.inner.ItemIDBounds(ctx)
		return idBounds{lo, hi, ok}, err
	})
	return b.lo, b.hi, b.ok, err
}

// ItemRange implements Source.
func (g *GuardedSource) ItemRange(ctx context.Context, lo, hi int64) ([]catalog.Item, error) {
	return execute(g, func() ([]catalog.Item, error) {
		return g.inner.ItemRange(ctx, lo, hi)
	})
}

// UserIDBounds implements Source.
func (g *GuardedSource) UserIDBounds(ctx context.Context) (int64, int64, bool, error) {
	b, err := execute(g, func() (idBounds, error) {
		lo, hi, ok, err := g.inner.UserIDBounds(ctx)
		return idBounds{lo, hi, ok}, err
	})
	return b.lo, b.hi, b.ok, err
}

// UserRange implements Source.
func (g *GuardedSource) UserRange(ctx context.Context, lo, hi int64) ([]catalog.User, error) {
	return execute(g, func() ([]catalog.User, error) {
		return g.inner.UserRange(ctx, lo, hi)
	})
}

// Profile implements Source. ErrProfileNotFound is an expected outcome
// and must not count as a breaker failure, so it is carried through the
// breaker as a nil result and restored on the way out.
func (g *GuardedSource) Profile(ctx context.Context, userID int64) (*catalog.UserProfile, error) {
	p, err := execute(g, func() (*catalog.UserProfile, error) {
		p, err := g.inner.Profile(ctx, userID)
		if errors.Is(err, ErrProfileNotFound) {
			return nil, nil
		}
		return p, err
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// ActionsSince implements Source.
func (g *GuardedSource) ActionsSince(ctx context.Context, since time.Time) ([]catalog.Action, error) {
	return execute(g, func() ([]catalog.Action, error) {
		return g.inner.ActionsSince(ctx, since)
	})
}

// Keywords implements Source.
func (g *GuardedSource) Keywords(ctx context.Context) ([]catalog.Keyword, error) {
	return execute(g, func() ([]catalog.Keyword, error) {
		return g.inner.Keywords(ctx)
	})
}
