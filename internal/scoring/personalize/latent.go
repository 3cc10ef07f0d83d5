// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package personalize

import (
	"context"
	"math"
	"sync"

	"github.com/tomtom215/jobdigest/internal/catalog"
)

// LatentConfig contains ALS hyperparameters.
type LatentConfig struct {
	// NumFactors is the latent vector dimension.
	NumFactors int

	// NumIterations is the number of alternating optimization passes.
	NumIterations int

	// Regularization is the L2 penalty.
	Regularization float64

	// Alpha scales the implicit-feedback confidence: c = 1 + alpha * r.
	Alpha float64
}

// DefaultLatentConfig returns default ALS hyperparameters.
func DefaultLatentConfig() LatentConfig {
	return LatentConfig{
		NumFactors:     32,
		NumIterations:  15,
		Regularization: 0.01,
		Alpha:          40.0,
	}
}

// LatentFactor is the optional learned personalization model: ALS over
// implicit feedback from the action log ("Collaborative Filtering for
// Implicit Feedback Datasets", Hu/Koren/Volinsky 2008). Applications
// carry full confidence, views a fraction of it.
//
// The model is trained once per run before scoring begins and is
// read-only afterwards. Pairs it cannot answer (untrained model, unknown
// user or item) fall back to ProfileMatch, so a missing or stale factor
// model can never fail a run.
type LatentFactor struct {
	config   LatentConfig
	fallback Model

	mu        sync.RWMutex
	trained   bool
	userIndex map[int64]int
	itemIndex map[int64]int
	userF     [][]float64
	itemF     [][]float64
}

// NewLatentFactor creates an untrained latent-factor model that falls
// back to the given model (usually ProfileMatch).
func NewLatentFactor(cfg LatentConfig, fallback Model) *LatentFactor {
	if cfg.NumFactors <= 0 {
		cfg.NumFactors = 32
	}
	if cfg.NumIterations <= 0 {
		cfg.NumIterations = 15
	}
	if cfg.Regularization <= 0 {
		cfg.Regularization = 0.01
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 40.0
	}
	return &LatentFactor{
		config:   cfg,
		fallback: fallback,
	}
}

// Name implements Model.
func (l *LatentFactor) Name() string { return "latent_factor" }

// confidence maps an action to its implicit-feedback signal strength.
func confidence(kind catalog.ActionKind) float64 {
	if kind == catalog.ActionApply {
		return 1.0
	}
	return 0.3
}

// Train fits the factor matrices from the action log. An empty log marks
// the model trained with no factors, so every Score call falls back.
func (l *LatentFactor) Train(ctx context.Context, actions []catalog.Action) error {
	userIndex := make(map[int64]int)
	itemIndex := make(map[int64]int)

	// Sparse confidence matrix, max confidence for duplicate pairs.
	userItems := make(map[int]map[int]float64)
	for _, a := range actions {
		ui, ok := userIndex[a.UserID]
		if !ok {
			ui = len(userIndex)
			userIndex[a.UserID] = ui
		}
		ii, ok := itemIndex[a.ItemID]
		if !ok {
			ii = len(itemIndex)
			itemIndex[a.ItemID] = ii
		}
		if userItems[ui] == nil {
			userItems[ui] = make(map[int]float64)
		}
		conf := 1.0 + l.config.Alpha*confidence(a.Kind)
		if conf > userItems[ui][ii] {
			userItems[ui][ii] = conf
		}
	}

	numUsers, numItems, k := len(userIndex), len(itemIndex), l.config.NumFactors
	if numUsers == 0 || numItems == 0 {
		l.mu.Lock()
		l.trained, l.userIndex, l.itemIndex, l.userF, l.itemF = true, userIndex, itemIndex, nil, nil
		l.mu.Unlock()
		return nil
	}

	// Transpose for the item half of each iteration.
	itemUsers := make(map[int]map[int]float64)
	for ui, row := range userItems {
		for ii, conf := range row {
			if itemUsers[ii] == nil {
				itemUsers[ii] = make(map[int]float64)
			}
			itemUsers[ii][ui] = conf
		}
	}

	// Deterministic small initialization: no RNG, so identical inputs
	// always yield identical factors.
	userF := initFactors(numUsers, k)
	itemF := initFactors(numItems, k)

	for iter := 0; iter < l.config.NumIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		updateFactors(userF, itemF, userItems, l.config.Regularization)
		updateFactors(itemF, userF, itemUsers, l.config.Regularization)
	}

	l.mu.Lock()
	l.trained = true
	l.userIndex = userIndex
	l.itemIndex = itemIndex
	l.userF = userF
	l.itemF = itemF
	l.mu.Unlock()
	return nil
}

// initFactors seeds factor vectors with small deterministic values.
func initFactors(n, k int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, k)
		for f := range out[i] {
			out[i][f] = 0.1 * (float64((i*k+f)%1000)/1000.0 - 0.5)
		}
	}
	return out
}

// updateFactors solves one alternating half-step with regularized
// coordinate descent against the fixed side.
func updateFactors(target, fixed [][]float64, links map[int]map[int]float64, lambda float64) {
	k := len(target[0])
	for row, neighbors := range links {
		vec := target[row]
		for f := 0; f < k; f++ {
			var num, den float64
			for other, conf := range neighbors {
				// Residual excluding factor f.
				pred := 0.0
				for g := 0; g < k; g++ {
					if g != f {
						pred += vec[g] * fixed[other][g]
					}
				}
				num += conf * (1 - pred) * fixed[other][f]
				den += conf * fixed[other][f] * fixed[other][f]
			}
			vec[f] = num / (den + lambda + 1e-9)
		}
	}
}

// Score implements Model. Known pairs use the factor dot product mapped
// through a sigmoid onto [0, 100]; everything else falls back.
func (l *LatentFactor) Score(profile *catalog.UserProfile, item *catalog.Item) float64 {
	l.mu.RLock()
	trained := l.trained
	var dot float64
	known := false
	if trained && profile != nil {
		if ui, ok := l.userIndex[profile.UserID]; ok {
			if ii, ok := l.itemIndex[item.ID]; ok && ui < len(l.userF) && ii < len(l.itemF) {
				for f := range l.userF[ui] {
					dot += l.userF[ui][f] * l.itemF[ii][f]
				}
				known = true
			}
		}
	}
	l.mu.RUnlock()

	if !known {
		return l.fallback.Score(profile, item)
	}
	// Sigmoid centered on 0.5, the implicit-preference midpoint.
	return clamp(100 / (1 + math.Exp(-6*(dot-0.5))))
}
