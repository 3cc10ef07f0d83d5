// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package run

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tomtom215/jobdigest/internal/allocation"
	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/checkpoint"
	"github.com/tomtom215/jobdigest/internal/config"
	"github.com/tomtom215/jobdigest/internal/dataset"
	"github.com/tomtom215/jobdigest/internal/logging"
	"github.com/tomtom215/jobdigest/internal/metrics"
	"github.com/tomtom215/jobdigest/internal/scoring"
	"github.com/tomtom215/jobdigest/internal/scoring/personalize"
	"github.com/tomtom215/jobdigest/internal/snapshot"
)

// errFailureRate aborts a stage when too many partitions fail.
var errFailureRate = errors.New("run: partition failure rate exceeded threshold")

// Orchestrator executes complete batch runs. One Orchestrator serves
// one run at a time.
type Orchestrator struct {
	cfg    *config.Config
	src    dataset.Source
	sink   dataset.Sink
	ckpt   *checkpoint.Store
	engine *allocation.Engine
	logger zerolog.Logger
}

// New wires an Orchestrator and validates the allocation layout up
// front so a misconfigured run fails before touching any data.
func New(cfg *config.Config, src dataset.Source, sink dataset.Sink, ckpt *checkpoint.Store) (*Orchestrator, error) {
	engine, err := allocation.NewEngine(allocationParams(cfg))
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:    cfg,
		src:    src,
		sink:   sink,
		ckpt:   ckpt,
		engine: engine,
		logger: logging.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// allocationParams maps the section layout config onto engine params.
func allocationParams(cfg *config.Config) allocation.Params {
	specs := make([]allocation.SectionSpec, len(cfg.Sections.Sections))
	for i, sc := range cfg.Sections.Sections {
		specs[i] = allocation.SectionSpec{
			Name:        sc.Name,
			Capacity:    sc.Capacity,
			Filter:      allocation.FilterKind(sc.Filter),
			RankBy:      allocation.RankKind(sc.RankBy),
			RecencyDays: sc.RecencyDays,
			FeeMultiple: sc.FeeMultiple,
		}
	}
	return allocation.Params{
		Sections:      specs,
		TargetTotal:   cfg.Sections.TargetTotal,
		BackfillOrder: cfg.Sections.BackfillOrder,
		FeeThreshold:  cfg.Scoring.FeeThreshold,
	}
}

// scoringParams maps scoring config onto scorer params.
func scoringParams(cfg *config.Config) scoring.Params {
	return scoring.Params{
		FeeThreshold:       cfg.Scoring.FeeThreshold,
		FeeCeiling:         cfg.Scoring.FeeCeiling,
		WageWeight:         cfg.Scoring.BasicWeights.Wage,
		FeeWeight:          cfg.Scoring.BasicWeights.Fee,
		PopularityWeight:   cfg.Scoring.BasicWeights.Popularity,
		BasicWeight:        cfg.Scoring.TotalWeights.Basic,
		RelevanceWeight:    cfg.Scoring.TotalWeights.Relevance,
		PersonalizedWeight: cfg.Scoring.TotalWeights.Personalized,
		MaxKeywordMatches:  cfg.Scoring.MaxKeywordMatches,
	}
}

// runState accumulates counters for one run.
type runState struct {
	itemsScored          atomic.Int64
	itemsSkipped         atomic.Int64
	usersAllocated       atomic.Int64
	usersFailed          atomic.Int64
	usersDegradedProfile atomic.Int64
	degraded             atomic.Bool
}

// scoreCache holds the user-independent item scores between the score
// and allocate stages. Keyed by item id so a retried partition is
// idempotent.
type scoreCache struct {
	mu   sync.RWMutex
	byID map[int64]scoring.ItemScore
}

func newScoreCache() *scoreCache {
	return &scoreCache{byID: make(map[int64]scoring.ItemScore)}
}

func (c *scoreCache) put(batch []scoring.ItemScore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range batch {
		c.byID[batch[i].Item.ID] = batch[i]
	}
}

func (c *scoreCache) all() []scoring.ItemScore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]scoring.ItemScore, 0, len(c.byID))
	for _, is := range c.byID {
		out = append(out, is)
	}
	return out
}

// Run executes a full batch for runDate. A non-nil Summary is returned
// even on failure, describing how far the run got; the summary is also
// written to the output directory.
func (o *Orchestrator) Run(ctx context.Context, runDate time.Time) (*Summary, error) {
	date := runDate.Format("2006-01-02")
	sum := &Summary{
		RunID:     uuid.NewString(),
		RunDate:   date,
		Status:    StatusFailed,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		sum.FinishedAt = time.Now().UTC()
		if err := o.writeSummary(sum); err != nil {
			o.logger.Error().Err(err).Msg("write run summary")
		}
	}()

	if o.cfg.Run.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Run.TimeBudget)
		defer cancel()
	}

	o.logger.Info().
		Str("run_id", sum.RunID).
		Str("run_date", date).
		Dur("time_budget", o.cfg.Run.TimeBudget).
		Msg("run starting")

	// Stage: snapshot.
	metrics.RunInfo.WithLabelValues(date, "snapshot").Set(1)
	snap, err := snapshot.NewBuilder(o.src).Build(ctx, runDate)
	metrics.RunInfo.WithLabelValues(date, "snapshot").Set(0)
	if err != nil {
		sum.Error = err.Error()
		return sum, err
	}

	actions, err := o.src.ActionsSince(ctx, runDate.Add(-snapshot.AdvertiserWindow))
	if err != nil {
		err = fmt.Errorf("run: load actions: %w", err)
		sum.Error = err.Error()
		return sum, err
	}

	model := o.buildModel(ctx, actions)
	scorer := scoring.NewScorer(scoringParams(o.cfg), snap, model)
	state := &runState{}
	scores := newScoreCache()

	// Stage: score.
	if err := o.scoreStage(ctx, date, scorer, scores, state, sum); err != nil {
		sum.Error = err.Error()
		o.fillCounters(sum, state)
		return sum, err
	}

	// Stage: allocate.
	window := time.Duration(o.cfg.Sections.ExclusionWindowDays) * 24 * time.Hour
	excl := allocation.BuildExclusions(actions, runDate, window)
	if err := o.allocateStage(ctx, date, runDate, scorer, scores, excl, state, sum); err != nil {
		sum.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) && sum.Allocate.Done > 0 {
			sum.Status = StatusPartial
		}
		o.fillCounters(sum, state)
		return sum, err
	}

	o.fillCounters(sum, state)
	if sum.Allocate.Failed > 0 || sum.Degraded {
		sum.Status = StatusPartial
	} else {
		sum.Status = StatusComplete
	}

	o.logger.Info().
		Str("run_id", sum.RunID).
		Str("run_date", date).
		Str("status", string(sum.Status)).
		Int64("items_scored", sum.ItemsScored).
		Int64("users_allocated", sum.UsersAllocated).
		Dur("elapsed", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("run finished")
	return sum, nil
}

func (o *Orchestrator) fillCounters(sum *Summary, state *runState) {
	sum.ItemsScored = state.itemsScored.Load()
	sum.ItemsSkipped = state.itemsSkipped.Load()
	sum.UsersAllocated = state.usersAllocated.Load()
	sum.UsersFailed = state.usersFailed.Load()
	sum.UsersDegradedProfile = state.usersDegradedProfile.Load()
	sum.Degraded = state.degraded.Load()
}

// buildModel selects the personalization model. The latent model trains
// on the action window and falls back to profile matching when training
// fails or the corpus is too thin.
func (o *Orchestrator) buildModel(ctx context.Context, actions []catalog.Action) personalize.Model {
	pm := personalize.NewProfileMatch()
	if o.cfg.Personal.Model != "latent" {
		return pm
	}
	lf := personalize.NewLatentFactor(personalize.LatentConfig{
		NumFactors:     o.cfg.Personal.Latent.NumFactors,
		NumIterations:  o.cfg.Personal.Latent.NumIterations,
		Regularization: o.cfg.Personal.Latent.Regularization,
		Alpha:          o.cfg.Personal.Latent.Alpha,
	}, pm)
	if err := lf.Train(ctx, actions); err != nil {
		o.logger.Warn().Err(err).Msg("latent model training failed, using profile matching")
		return pm
	}
	o.logger.Info().Int("actions", len(actions)).Msg("latent model trained")
	return lf
}

// scoreStage partitions the item-id space and computes item scores.
func (o *Orchestrator) scoreStage(
	ctx context.Context,
	date string,
	scorer *scoring.Scorer,
	scores *scoreCache,
	state *runState,
	sum *Summary,
) error {
	lo, hi, ok, err := o.src.ItemIDBounds(ctx)
	if err != nil {
		return fmt.Errorf("run: item bounds: %w", err)
	}
	if !ok {
		o.logger.Warn().Msg("no active items, nothing to score")
		return nil
	}
	parts := planPartitions(StageScore, lo, hi, o.cfg.Run.ItemPartitionSize)

	// Score output lives in memory, so a resumed run must rescore even
	// partitions a previous process marked done.
	return o.runStage(ctx, date, StageScore, parts, false, sum, func(ctx context.Context, p Partition) error {
		items, err := o.src.ItemRange(ctx, p.Lo, p.Hi)
		if err != nil {
			return fmt.Errorf("item range %s: %w", p.Key(), err)
		}
		batch := make([]scoring.ItemScore, 0, len(items))
		for i := range items {
			is, err := scorer.ScoreItem(items[i])
			if err != nil {
				state.itemsSkipped.Add(1)
				metrics.RecordsSkipped.WithLabelValues(StageScore, "validation").Inc()
				o.logger.Warn().Err(err).Int64("item_id", items[i].ID).Msg("item skipped")
				continue
			}
			batch = append(batch, is)
		}
		scores.put(batch)
		state.itemsScored.Add(int64(len(batch)))
		metrics.ItemsScored.Add(float64(len(batch)))
		return nil
	})
}

// allocateStage partitions the user-id space and writes allocations.
func (o *Orchestrator) allocateStage(
	ctx context.Context,
	date string,
	runDate time.Time,
	scorer *scoring.Scorer,
	scores *scoreCache,
	excl *allocation.Exclusions,
	state *runState,
	sum *Summary,
) error {
	lo, hi, ok, err := o.src.UserIDBounds(ctx)
	if err != nil {
		return fmt.Errorf("run: user bounds: %w", err)
	}
	if !ok {
		o.logger.Warn().Msg("no users, nothing to allocate")
		return nil
	}
	parts := planPartitions(StageAllocate, lo, hi, o.cfg.Run.UserPartitionSize)
	itemScores := scores.all()

	return o.runStage(ctx, date, StageAllocate, parts, true, sum, func(ctx context.Context, p Partition) error {
		users, err := o.src.UserRange(ctx, p.Lo, p.Hi)
		if err != nil {
			return fmt.Errorf("user range %s: %w", p.Key(), err)
		}
		degrade := o.degradeFor(ctx, state)

		for _, u := range users {
			if err := ctx.Err(); err != nil {
				return err
			}

			profile, err := o.src.Profile(ctx, u.ID)
			switch {
			case errors.Is(err, dataset.ErrProfileNotFound):
				profile = nil // first-class: neutral personalization
			case errors.Is(err, catalog.ErrMalformedFreqMap):
				// Corrupt profile data never heals on retry. The
				// damage stays contained to this user, who is scored
				// with neutral personalization instead.
				state.usersDegradedProfile.Add(1)
				metrics.RecordsSkipped.WithLabelValues(StageAllocate, "profile").Inc()
				o.logger.Warn().Err(err).Int64("user_id", u.ID).
					Msg("corrupt profile, falling back to neutral personalization")
				profile = nil
			case err != nil:
				return fmt.Errorf("profile %d: %w", u.ID, err)
			}

			cands := make([]allocation.Candidate, len(itemScores))
			for i := range itemScores {
				is := itemScores[i]
				cands[i] = allocation.Candidate{
					Item:   is.Item,
					Score:  scorer.Complete(&is, u.ID, profile),
					FeeCut: is.FeeCut,
				}
			}

			rows, _, err := o.engine.Allocate(u, profile, cands, excl, runDate, degrade)
			if err != nil {
				state.usersFailed.Add(1)
				metrics.RecordsSkipped.WithLabelValues(StageAllocate, "engine").Inc()
				o.logger.Error().Err(err).Int64("user_id", u.ID).Msg("user allocation failed")
				continue
			}
			if err := o.sink.WriteUser(ctx, u.ID, date, rows); err != nil {
				return fmt.Errorf("write user %d: %w", u.ID, err)
			}
			state.usersAllocated.Add(1)
		}
		return nil
	})
}

// degradeFor maps remaining budget onto a degradation level: under 20%
// of budget backfill is skipped, under 10% only the two highest-priority
// sections fill.
func (o *Orchestrator) degradeFor(ctx context.Context, state *runState) allocation.Degrade {
	if !o.cfg.Run.DegradeGracefully || o.cfg.Run.TimeBudget <= 0 {
		return allocation.Degrade{}
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return allocation.Degrade{}
	}
	frac := float64(time.Until(deadline)) / float64(o.cfg.Run.TimeBudget)

	var d allocation.Degrade
	if frac < 0.20 {
		d.SkipBackfill = true
	}
	if frac < 0.10 {
		d.MaxSections = 2
	}
	if d.SkipBackfill && state.degraded.CompareAndSwap(false, true) {
		o.logger.Warn().Float64("budget_remaining", frac).Msg("time budget pressure, degrading allocations")
	}
	return d
}

// runStage executes partitions on a bounded worker pool with retries,
// checkpoints, and failure-rate accounting. When resume is true,
// partitions with a durable done marker are skipped.
func (o *Orchestrator) runStage(
	ctx context.Context,
	date, stage string,
	parts []Partition,
	resume bool,
	sum *Summary,
	fn func(ctx context.Context, p Partition) error,
) error {
	stageSum := StageSummary{Planned: len(parts)}
	var failMu sync.Mutex
	var failures []PartitionFailure
	defer func() {
		if stage == StageScore {
			sum.Score = stageSum
		} else {
			sum.Allocate = stageSum
		}
		sort.Slice(failures, func(i, j int) bool { return failures[i].PartitionKey < failures[j].PartitionKey })
		sum.FailedPartitions = append(sum.FailedPartitions, failures...)
	}()

	// Pending markers up front: anything still pending after the run is
	// work the run never reached.
	for _, p := range parts {
		if resume && o.ckpt.Done(date, stage, p.Key()) {
			continue
		}
		marker := &checkpoint.Marker{RunDate: date, Stage: stage, PartitionKey: p.Key(), Status: checkpoint.StatusPending}
		if err := o.ckpt.Put(marker); err != nil {
			return fmt.Errorf("run: write pending marker: %w", err)
		}
	}

	workers := o.cfg.Run.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var limiter *rate.Limiter
	if o.cfg.Run.PartitionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.cfg.Run.PartitionsPerSecond), 1)
	}

	metrics.RunInfo.WithLabelValues(date, stage).Set(1)
	defer metrics.RunInfo.WithLabelValues(date, stage).Set(0)

	var done, skipped, failed atomic.Int64
	threshold := o.cfg.Run.FailureRateThreshold

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, p := range parts {
		p := p
		if resume && o.ckpt.Done(date, stage, p.Key()) {
			skipped.Add(1)
			metrics.PartitionsTotal.WithLabelValues(stage, "skipped").Inc()
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil // budget gone; partition stays pending
			}
			if err := o.executePartition(gctx, date, stage, p, fn); err != nil {
				nFailed := failed.Add(1)
				failMu.Lock()
				failures = append(failures, PartitionFailure{Stage: stage, PartitionKey: p.Key(), Error: err.Error()})
				failMu.Unlock()
				if threshold > 0 && float64(nFailed)/float64(len(parts)) > threshold {
					return errFailureRate
				}
				return nil
			}
			done.Add(1)
			return nil
		})
	}

	err := g.Wait()
	stageSum.Done = int(done.Load())
	stageSum.Skipped = int(skipped.Load())
	stageSum.Failed = int(failed.Load())

	if err != nil {
		o.logger.Error().Err(err).Str("stage", stage).
			Int("failed", stageSum.Failed).Int("planned", stageSum.Planned).
			Msg("stage aborted")
		return fmt.Errorf("run: stage %s: %w", stage, err)
	}
	if err := ctx.Err(); err != nil {
		o.logger.Warn().Str("stage", stage).Msg("stage cut short by time budget")
		return fmt.Errorf("run: stage %s: %w", stage, err)
	}
	if stage == StageScore && stageSum.Failed > 0 {
		// Allocation needs the complete score space; a hole in it would
		// silently bias every user's ranking.
		return fmt.Errorf("run: stage %s: %d partitions failed", stage, stageSum.Failed)
	}

	o.logger.Info().Str("stage", stage).
		Int("done", stageSum.Done).Int("skipped", stageSum.Skipped).Int("failed", stageSum.Failed).
		Msg("stage finished")
	return nil
}

// executePartition runs one partition with the retry budget, recording
// checkpoint transitions and metrics per attempt.
func (o *Orchestrator) executePartition(
	ctx context.Context,
	date, stage string,
	p Partition,
	fn func(ctx context.Context, p Partition) error,
) error {
	marker := &checkpoint.Marker{RunDate: date, Stage: stage, PartitionKey: p.Key()}

	var lastErr error
	maxAttempts := o.cfg.Run.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		marker.Status = checkpoint.StatusRunning
		marker.AttemptCount = attempt
		if err := o.ckpt.Put(marker); err != nil {
			return fmt.Errorf("write running marker: %w", err)
		}

		start := time.Now()
		err := fn(ctx, p)
		if err == nil {
			metrics.ObservePartition(stage, "done", time.Since(start))
			marker.Status = checkpoint.StatusDone
			marker.ErrorSummary = ""
			if err := o.ckpt.Put(marker); err != nil {
				return fmt.Errorf("write done marker: %w", err)
			}
			return nil
		}

		lastErr = err
		metrics.ObservePartition(stage, "failed", time.Since(start))
		if !retryable(err) || attempt == maxAttempts {
			break
		}

		metrics.PartitionRetries.WithLabelValues(stage).Inc()
		backoff := o.backoffFor(attempt)
		o.logger.Warn().Err(err).
			Str("stage", stage).Str("partition", p.Key()).
			Int("attempt", attempt).Dur("backoff", backoff).
			Msg("partition failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = maxAttempts
		}
	}

	marker.Status = checkpoint.StatusFailed
	marker.ErrorSummary = lastErr.Error()
	if err := o.ckpt.Put(marker); err != nil {
		o.logger.Error().Err(err).Str("partition", p.Key()).Msg("write failed marker")
	}
	o.logger.Error().Err(lastErr).
		Str("stage", stage).Str("partition", p.Key()).
		Msg("partition exhausted retries")
	return lastErr
}

// backoffFor returns the sleep before the next attempt. Attempts past
// the end of the schedule reuse the last entry.
func (o *Orchestrator) backoffFor(attempt int) time.Duration {
	schedule := o.cfg.Run.Backoff
	if len(schedule) == 0 {
		return time.Second
	}
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
