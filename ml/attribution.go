package ml

import (
	"fmt"
	"math"
)

// Attribution decomposes one prediction of the gradient-boosted learner into
// additive per-feature contributions in margin space: the contributions sum
// exactly to Margin - Baseline. Weights are the absolute contributions
// normalized to sum to one, usable as a relative importance ranking.
type Attribution struct {
	Contributions []float64 `json:"contributions"`
	Baseline      float64   `json:"baseline"`
	Margin        float64   `json:"margin"`
	Weights       []float64 `json:"weights"`
}

// Explain computes the attribution for one feature vector. It is derived per
// request and never cached: the decomposition is specific to its input.
func (e *EnsembleModel) Explain(v FeatureVector) (*Attribution, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}
	if err := e.checkSchema(v); err != nil {
		return nil, err
	}
	gb, ok := e.gradientBoost()
	if !ok {
		return nil, fmt.Errorf("ensemble: no tree-based learner to explain")
	}
	scaled, err := e.Scaler.TransformRow(v.Values)
	if err != nil {
		return nil, err
	}
	return explainGradientBoost(gb, scaled)
}

// explainGradientBoost walks every tree's decision path, attributing the
// node-value delta of each step to the split feature. Root values fold into
// the baseline, so baseline + sum(contributions) telescopes to the margin.
func explainGradientBoost(gb *GradientBoost, x []float64) (*Attribution, error) {
	if len(gb.Trees) == 0 {
		return nil, ErrNotTrained
	}
	contrib := make([]float64, len(x))
	baseline := gb.BaseMargin
	margin := gb.BaseMargin

	deltas := make([]float64, len(x))
	for i := range gb.Trees {
		for j := range deltas {
			deltas[j] = 0
		}
		leaf, root, err := gb.Trees[i].walk(x, deltas)
		if err != nil {
			return nil, err
		}
		baseline += gb.LearningRate * root
		margin += gb.LearningRate * leaf
		for j, d := range deltas {
			contrib[j] += gb.LearningRate * d
		}
	}

	total := 0.0
	for _, c := range contrib {
		total += math.Abs(c)
	}
	weights := make([]float64, len(contrib))
	if total > 0 {
		for j, c := range contrib {
			weights[j] = math.Abs(c) / total
		}
	}

	return &Attribution{
		Contributions: contrib,
		Baseline:      baseline,
		Margin:        margin,
		Weights:       weights,
	}, nil
}
