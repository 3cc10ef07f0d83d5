// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

// failingSource fails every call until healed.
type failingSource struct {
	*MemorySource
	healed bool
}

var errSourceDown = errors.New("source down")

func (f *failingSource) ItemRange(ctx context.Context, lo, hi int64) ([]catalog.Item, error) {
	if !f.healed {
		return nil, errSourceDown
	}
	return f.MemorySource.ItemRange(ctx, lo, hi)
}

func TestGuardedSourceOpensAfterConsecutiveFailures(t *testing.T) {
	src := &failingSource{MemorySource: NewMemorySource()}
	guarded := Guard(src, BreakerSettings{MaxFailures: 3, OpenTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := guarded.ItemRange(ctx, 0, 100); !errors.Is(err, errSourceDown) {
			t.Fatalf("call %d: error = %v, want errSourceDown", i, err)
		}
	}

	// Breaker is now open: calls are rejected without reaching the source.
	_, err := guarded.ItemRange(ctx, 0, 100)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error after trip = %v, want ErrOpenState", err)
	}
}

func TestGuardedSourcePassesThroughWhenHealthy(t *testing.T) {
	src := NewMemorySource()
	src.Now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	src.AddItems(catalog.Item{
		ID: 7, AdvertiserID: 1, RegionCode: "13", Fee: 900,
		WageMin: 1000, PostedAt: src.Now.AddDate(0, 0, -1),
	})

	guarded := Guard(src, BreakerSettings{MaxFailures: 3, OpenTimeout: time.Second})
	items, err := guarded.ItemRange(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("ItemRange() error: %v", err)
	}
	if len(items) != 1 || items[0].ID != 7 {
		t.Errorf("ItemRange() = %+v, want single item 7", items)
	}
}

func TestGuardedSourceProfileNotFoundDoesNotTrip(t *testing.T) {
	guarded := Guard(NewMemorySource(), BreakerSettings{MaxFailures: 2, OpenTimeout: time.Hour})
	ctx := context.Background()

	// Many not-found lookups must neither trip the breaker nor change
	// the error the caller sees.
	for i := 0; i < 10; i++ {
		_, err := guarded.Profile(ctx, int64(i))
		if !errors.Is(err, ErrProfileNotFound) {
			t.Fatalf("Profile() error = %v, want ErrProfileNotFound", err)
		}
	}
}
