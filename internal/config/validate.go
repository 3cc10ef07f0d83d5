// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. It returns the first violation found.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	// Section capacities must sum to the allocation target.
	sum := 0
	names := make(map[string]struct{}, len(c.Sections.Sections))
	for _, s := range c.Sections.Sections {
		sum += s.Capacity
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("config validation: duplicate section name %q", s.Name)
		}
		names[s.Name] = struct{}{}
	}
	if sum != c.Sections.TargetTotal {
		return fmt.Errorf("config validation: section capacities sum to %d, target_total is %d",
			sum, c.Sections.TargetTotal)
	}

	// Backfill order may only reference configured sections.
	for _, name := range c.Sections.BackfillOrder {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("config validation: backfill_order references unknown section %q", name)
		}
	}

	// Zero total weights would make every total score zero.
	tw := c.Scoring.TotalWeights
	if tw.Basic+tw.Relevance+tw.Personalized <= 0 {
		return fmt.Errorf("config validation: total score weights must not all be zero")
	}
	bw := c.Scoring.BasicWeights
	if bw.Wage+bw.Fee+bw.Popularity <= 0 {
		return fmt.Errorf("config validation: basic score weights must not all be zero")
	}

	if len(c.Run.Backoff) == 0 {
		return fmt.Errorf("config validation: run.backoff must list at least one interval")
	}

	return nil
}
