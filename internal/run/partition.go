// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package run

import "fmt"

// Stage names, used in checkpoint keys and metric labels.
const (
	StageScore    = "score"
	StageAllocate = "allocate"
)

// Partition is one unit of parallel work: a half-open id range
// [Lo, Hi) within a stage. The key is stable across runs so checkpoints
// from an interrupted run line up with the replanned partitions.
type Partition struct {
	Stage string
	Lo    int64
	Hi    int64
}

// Key returns the checkpoint partition key, e.g. "ids-1-500".
func (p Partition) Key() string {
	return fmt.Sprintf("ids-%d-%d", p.Lo, p.Hi)
}

// planPartitions splits the inclusive id range [lo, hi] into half-open
// ranges of at most size ids each. Ranges are aligned to size so the
// plan is identical for any run over the same id space.
func planPartitions(stage string, lo, hi, size int64) []Partition {
	if hi < lo || size <= 0 {
		return nil
	}
	start := (lo / size) * size
	var parts []Partition
	for cur := start; cur <= hi; cur += size {
		parts = append(parts, Partition{Stage: stage, Lo: cur, Hi: cur + size})
	}
	return parts
}
