package ml

import (
	"errors"
	"math"
)

// GradientBoost is a gradient-boosted tree ensemble on logistic loss. Trees
// fit the negative gradient with Newton leaf values, so the raw margin is an
// additive function of the tree path values.
type GradientBoost struct {
	NEstimators  int     `json:"n_estimators"`
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	MinLeaf      int     `json:"min_samples_leaf"`

	BaseMargin float64          `json:"base_margin"`
	Trees      []regressionTree `json:"trees"`
}

// NewGradientBoost fills in default hyperparameters for anything left zero.
func NewGradientBoost(estimators, maxDepth int, learningRate float64) *GradientBoost {
	if estimators <= 0 {
		estimators = 200
	}
	if maxDepth <= 0 {
		maxDepth = 4
	}
	if learningRate <= 0 {
		learningRate = 0.1
	}
	return &GradientBoost{
		NEstimators:  estimators,
		LearningRate: learningRate,
		MaxDepth:     maxDepth,
		MinLeaf:      10,
	}
}

func (g *GradientBoost) Name() string { return learnerGradientBoost }

func (g *GradientBoost) Fit(rows [][]float64, labels []int) error {
	if len(rows) == 0 || len(rows) != len(labels) {
		return errors.New("gradient boost: rows/labels size mismatch")
	}
	if g.NEstimators <= 0 {
		return errors.New("gradient boost: estimator count must be positive")
	}

	n := len(rows)
	positive := 0
	for _, y := range labels {
		if y == 1 {
			positive++
		}
	}
	prior := clampProbability(float64(positive) / float64(n))
	g.BaseMargin = math.Log(prior / (1 - prior))

	margins := make([]float64, n)
	for i := range margins {
		margins[i] = g.BaseMargin
	}

	grads := make([]float64, n)
	hess := make([]float64, n)
	g.Trees = make([]regressionTree, 0, g.NEstimators)
	cfg := treeConfig{maxDepth: g.MaxDepth, minLeaf: g.MinLeaf}

	for m := 0; m < g.NEstimators; m++ {
		for i := range rows {
			p := sigmoid(margins[i])
			grads[i] = float64(labels[i]) - p
			hess[i] = math.Max(p*(1-p), 1e-6)
		}
		var tree regressionTree
		if err := tree.fit(rows, grads, hess, cfg); err != nil {
			return err
		}
		for i := range rows {
			step, err := tree.predict(rows[i])
			if err != nil {
				return err
			}
			margins[i] += g.LearningRate * step
		}
		g.Trees = append(g.Trees, tree)
	}
	return nil
}

func (g *GradientBoost) PredictProba(x []float64) (float64, error) {
	margin, err := g.Margin(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(margin), nil
}

// Margin returns the raw additive score before the logistic link.
func (g *GradientBoost) Margin(x []float64) (float64, error) {
	if len(g.Trees) == 0 {
		return 0, ErrNotTrained
	}
	margin := g.BaseMargin
	for i := range g.Trees {
		step, err := g.Trees[i].predict(x)
		if err != nil {
			return 0, err
		}
		margin += g.LearningRate * step
	}
	return margin, nil
}

// Importances returns split-gain importances normalized to sum to one.
func (g *GradientBoost) Importances(featureCount int) []float64 {
	raw := make([]float64, featureCount)
	for i := range g.Trees {
		g.Trees[i].addImportances(raw)
	}
	total := 0.0
	for _, v := range raw {
		total += v
	}
	if total > 0 {
		for i := range raw {
			raw[i] /= total
		}
	}
	return raw
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func clampProbability(p float64) float64 {
	return math.Min(math.Max(p, 1e-6), 1-1e-6)
}
