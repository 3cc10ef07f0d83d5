// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package allocation

import (
	"testing"
	"time"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

func TestBuildExclusions(t *testing.T) {
	runDate := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	window := 14 * 24 * time.Hour

	actions := []catalog.Action{
		{UserID: 1, AdvertiserID: 100, Kind: catalog.ActionView, OccurredAt: runDate.AddDate(0, 0, -1)},
		{UserID: 1, AdvertiserID: 200, Kind: catalog.ActionApply, OccurredAt: runDate.AddDate(0, 0, -14)},
		{UserID: 1, AdvertiserID: 300, Kind: catalog.ActionView, OccurredAt: runDate.AddDate(0, 0, -15)},
		{UserID: 2, AdvertiserID: 100, Kind: catalog.ActionApply, OccurredAt: runDate.AddDate(0, 0, -5)},
		// Future rows never count.
		{UserID: 3, AdvertiserID: 100, Kind: catalog.ActionView, OccurredAt: runDate.AddDate(0, 0, 1)},
	}

	ex := BuildExclusions(actions, runDate, window)

	tests := []struct {
		name         string
		userID       int64
		advertiserID int64
		want         bool
	}{
		{"inside window", 1, 100, true},
		{"exactly at cutoff", 1, 200, true},
		{"outside window", 1, 300, false},
		{"other user same advertiser", 2, 100, true},
		{"future action ignored", 3, 100, false},
		{"unknown user", 9, 100, false},
		{"unknown advertiser", 1, 999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ex.Excluded(tt.userID, tt.advertiserID); got != tt.want {
				t.Errorf("Excluded(%d, %d) = %v, want %v", tt.userID, tt.advertiserID, got, tt.want)
			}
		})
	}

	if got := ex.UserCount(); got != 2 {
		t.Errorf("UserCount() = %d, want 2", got)
	}
}

func TestBuildExclusionsZeroWindow(t *testing.T) {
	runDate := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	actions := []catalog.Action{
		{UserID: 1, AdvertiserID: 100, OccurredAt: runDate},
	}
	ex := BuildExclusions(actions, runDate, 0)
	if ex.Excluded(1, 100) {
		t.Error("zero window must exclude nothing")
	}
}
