// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package config loads Jobdigest configuration via Koanf v2 with layered
// sources (highest priority wins): environment variables (JOBDIGEST_*),
// config file (config.yaml), built-in defaults.
package config

import (
	"time"
)

// Config is the root configuration for a batch run.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Dataset  DatasetConfig  `koanf:"dataset"`
	Scoring  ScoringConfig  `koanf:"scoring"`
	Personal PersonalConfig `koanf:"personalization"`
	Sections SectionsConfig `koanf:"sections"`
	Run      RunConfig      `koanf:"run"`
	Status   StatusConfig   `koanf:"status"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DatasetConfig locates the input datasets and output sink.
type DatasetConfig struct {
	// DuckDBPath is the read-only DuckDB database holding items, users,
	// profiles, actions, and the keyword corpus.
	DuckDBPath string `koanf:"duckdb_path" validate:"required"`

	// OutputDir receives per-run allocation output files (JSONL).
	OutputDir string `koanf:"output_dir" validate:"required"`

	// CheckpointDir is the BadgerDB directory for run checkpoints.
	CheckpointDir string `koanf:"checkpoint_dir" validate:"required"`

	// BreakerMaxFailures opens the dataset circuit breaker after this
	// many consecutive failures.
	BreakerMaxFailures int `koanf:"breaker_max_failures" validate:"min=1"`

	// BreakerOpenTimeout is how long the breaker stays open before a
	// half-open probe.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout" validate:"min=0"`
}

// ScoringConfig holds the run-level scoring constants.
type ScoringConfig struct {
	// FeeThreshold is the hard cutoff: items with fee at or below it
	// receive a basic score of zero.
	FeeThreshold float64 `koanf:"fee_threshold" validate:"min=0"`

	// FeeCeiling is the fee at which the fee-normalization score reaches
	// 100. Must exceed FeeThreshold.
	FeeCeiling float64 `koanf:"fee_ceiling" validate:"gtfield=FeeThreshold"`

	// Basic-score component weights (wage/fee/popularity).
	BasicWeights BasicWeights `koanf:"basic_weights"`

	// Total-score component weights (basic/relevance/personalized).
	TotalWeights TotalWeights `koanf:"total_weights"`

	// MaxKeywordMatches caps how many keyword matches accumulate into
	// the relevance score.
	MaxKeywordMatches int `koanf:"max_keyword_matches" validate:"min=1"`
}

// BasicWeights weight the three basic-score components. Weights are
// normalized at use, so they need not sum to 1.
type BasicWeights struct {
	Wage       float64 `koanf:"wage" validate:"min=0"`
	Fee        float64 `koanf:"fee" validate:"min=0"`
	Popularity float64 `koanf:"popularity" validate:"min=0"`
}

// TotalWeights weight the three sub-scores into the total score.
type TotalWeights struct {
	Basic        float64 `koanf:"basic" validate:"min=0"`
	Relevance    float64 `koanf:"relevance" validate:"min=0"`
	Personalized float64 `koanf:"personalized" validate:"min=0"`
}

// PersonalConfig selects and tunes the personalization model.
type PersonalConfig struct {
	// Model is the active personalization strategy: "profile" (always
	// available) or "latent" (ALS, falls back to profile when untrained).
	Model string `koanf:"model" validate:"omitempty,oneof=profile latent"`

	// Latent holds ALS hyperparameters, used when Model is "latent".
	Latent LatentConfig `koanf:"latent"`
}

// LatentConfig holds ALS hyperparameters for the latent-factor model.
type LatentConfig struct {
	NumFactors     int     `koanf:"num_factors" validate:"min=1"`
	NumIterations  int     `koanf:"num_iterations" validate:"min=1"`
	Regularization float64 `koanf:"regularization" validate:"min=0"`
	Alpha          float64 `koanf:"alpha" validate:"min=0"`
}

// SectionsConfig describes the allocation layout.
type SectionsConfig struct {
	// TargetTotal is the per-user allocation target. Section capacities
	// must sum to it.
	TargetTotal int `koanf:"target_total" validate:"min=1"`

	// ExclusionWindowDays is the trailing period during which a user's
	// interacted advertisers are ineligible for re-allocation.
	ExclusionWindowDays int `koanf:"exclusion_window_days" validate:"min=0"`

	// Sections in priority order (lower index = filled first).
	Sections []SectionConfig `koanf:"sections" validate:"min=1,dive"`

	// BackfillOrder lists section names in round-robin backfill order.
	// Empty means section priority order.
	BackfillOrder []string `koanf:"backfill_order"`
}

// SectionConfig configures one named allocation section.
type SectionConfig struct {
	// Name is the section identifier in the output contract.
	Name string `koanf:"name" validate:"required"`

	// Capacity is the maximum items the section holds.
	Capacity int `koanf:"capacity" validate:"min=1"`

	// Filter selects the section's candidate domain: "none", "recent",
	// "nearby", or "featured".
	Filter string `koanf:"filter" validate:"oneof=none recent nearby featured"`

	// RankBy selects the ranking score: "total" or "personalized".
	RankBy string `koanf:"rank_by" validate:"oneof=total personalized"`

	// RecencyDays applies to the "recent" filter.
	RecencyDays int `koanf:"recency_days" validate:"min=0"`

	// FeeMultiple applies to the "featured" filter: fee must be at least
	// FeeMultiple times the fee threshold.
	FeeMultiple float64 `koanf:"fee_multiple" validate:"min=0"`
}

// RunConfig holds orchestration budgets and partition sizing.
type RunConfig struct {
	// Workers is the worker pool size. Zero means runtime.NumCPU().
	Workers int `koanf:"workers" validate:"min=0"`

	// ItemPartitionSize is the item-id range width per scoring partition.
	ItemPartitionSize int64 `koanf:"item_partition_size" validate:"min=1"`

	// UserPartitionSize is the user-id range width per allocation partition.
	UserPartitionSize int64 `koanf:"user_partition_size" validate:"min=1"`

	// MaxAttempts bounds retries per partition (first try included).
	MaxAttempts int `koanf:"max_attempts" validate:"min=1"`

	// Backoff is the retry backoff schedule. Attempts past the end of
	// the schedule reuse the last entry.
	Backoff []time.Duration `koanf:"backoff"`

	// FailureRateThreshold aborts a stage (and the run) when exceeded,
	// e.g. 0.10 for 10%.
	FailureRateThreshold float64 `koanf:"failure_rate_threshold" validate:"min=0,max=1"`

	// TimeBudget is the overall wall-clock budget for the run.
	TimeBudget time.Duration `koanf:"time_budget" validate:"min=0"`

	// DegradeGracefully drops backfill (then low-priority sections)
	// under time pressure instead of aborting.
	DegradeGracefully bool `koanf:"degrade_gracefully"`

	// PartitionsPerSecond throttles partition launches. Zero = unlimited.
	PartitionsPerSecond float64 `koanf:"partitions_per_second" validate:"min=0"`
}

// StatusConfig controls the read-only status HTTP server.
type StatusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns a Config with all default values. Defaults are applied
// first, then overridden by config file and environment variables.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Dataset: DatasetConfig{
			DuckDBPath:         "/data/jobdigest.duckdb",
			OutputDir:          "/data/allocations",
			CheckpointDir:      "/data/checkpoints",
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Scoring: ScoringConfig{
			FeeThreshold:      500,
			FeeCeiling:        2500,
			BasicWeights:      BasicWeights{Wage: 0.4, Fee: 0.3, Popularity: 0.3},
			TotalWeights:      TotalWeights{Basic: 0.4, Relevance: 0.3, Personalized: 0.3},
			MaxKeywordMatches: 7,
		},
		Personal: PersonalConfig{
			Model: "profile",
			Latent: LatentConfig{
				NumFactors:     32,
				NumIterations:  15,
				Regularization: 0.01,
				Alpha:          40.0,
			},
		},
		Sections: SectionsConfig{
			TargetTotal:         40,
			ExclusionWindowDays: 14,
			Sections: []SectionConfig{
				{Name: "top_picks", Capacity: 10, Filter: "none", RankBy: "personalized"},
				{Name: "new_arrivals", Capacity: 10, Filter: "recent", RankBy: "total", RecencyDays: 7},
				{Name: "nearby", Capacity: 10, Filter: "nearby", RankBy: "total"},
				{Name: "featured", Capacity: 10, Filter: "featured", RankBy: "total", FeeMultiple: 3},
			},
		},
		Run: RunConfig{
			Workers:              0, // runtime.NumCPU()
			ItemPartitionSize:    500,
			UserPartitionSize:    200,
			MaxAttempts:          3,
			Backoff:              []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
			FailureRateThreshold: 0.10,
			TimeBudget:           2 * time.Hour,
			DegradeGracefully:    true,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}
