package ml

import (
	"errors"
	"math"
	"math/rand"
)

// RandomForest is a bagged tree ensemble: each tree fits a bootstrap sample
// of the labels with feature subsampling, and the probability is the mean
// leaf value across trees.
type RandomForest struct {
	NEstimators int   `json:"n_estimators"`
	MaxDepth    int   `json:"max_depth"`
	MinLeaf     int   `json:"min_samples_leaf"`
	Seed        int64 `json:"seed"`

	Trees []regressionTree `json:"trees"`
}

// NewRandomForest fills in default hyperparameters for anything left zero.
func NewRandomForest(estimators, maxDepth int, seed int64) *RandomForest {
	if estimators <= 0 {
		estimators = 200
	}
	if maxDepth <= 0 {
		maxDepth = 6
	}
	return &RandomForest{
		NEstimators: estimators,
		MaxDepth:    maxDepth,
		MinLeaf:     10,
		Seed:        seed,
	}
}

func (f *RandomForest) Name() string { return learnerRandomForest }

func (f *RandomForest) Fit(rows [][]float64, labels []int) error {
	if len(rows) == 0 || len(rows) != len(labels) {
		return errors.New("random forest: rows/labels size mismatch")
	}
	if f.NEstimators <= 0 {
		return errors.New("random forest: estimator count must be positive")
	}

	n := len(rows)
	featureCount := len(rows[0])
	subsample := int(math.Ceil(math.Sqrt(float64(featureCount))))
	rng := rand.New(rand.NewSource(f.Seed))

	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}

	f.Trees = make([]regressionTree, 0, f.NEstimators)
	for m := 0; m < f.NEstimators; m++ {
		sampleRows := make([][]float64, n)
		sampleTargets := make([]float64, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			sampleRows[i] = rows[j]
			sampleTargets[i] = float64(labels[j])
		}
		cfg := treeConfig{
			maxDepth:      f.MaxDepth,
			minLeaf:       f.MinLeaf,
			featureSample: subsample,
			rng:           rng,
		}
		var tree regressionTree
		if err := tree.fit(sampleRows, sampleTargets, ones, cfg); err != nil {
			return err
		}
		f.Trees = append(f.Trees, tree)
	}
	return nil
}

func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, ErrNotTrained
	}
	sum := 0.0
	for i := range f.Trees {
		p, err := f.Trees[i].predict(x)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	p := sum / float64(len(f.Trees))
	return math.Min(math.Max(p, 0), 1), nil
}
