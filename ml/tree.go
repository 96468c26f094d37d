package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// treeNode is a flattened tree node. Value carries the node estimate
// (weighted mean of its samples), which makes per-path attribution a
// telescoping sum of child-minus-parent deltas.
type treeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	Left       int     `json:"left"`
	Right      int     `json:"right"`
	Value      float64 `json:"value"`
	Gain       float64 `json:"gain"`
	IsLeaf     bool    `json:"is_leaf"`
}

// regressionTree fits targets with optional per-sample weights (the boosting
// hessians); with unit weights node values degenerate to plain means.
type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

type treeConfig struct {
	maxDepth      int
	minLeaf       int
	featureSample int // 0 means consider every feature at each split
	rng           *rand.Rand
}

const maxSplitCandidates = 16

func (t *regressionTree) fit(rows [][]float64, targets, weights []float64, cfg treeConfig) error {
	if len(rows) == 0 || len(rows) != len(targets) || len(rows) != len(weights) {
		return errors.New("tree: rows/targets/weights size mismatch")
	}
	if cfg.maxDepth <= 0 {
		cfg.maxDepth = 3
	}
	if cfg.minLeaf <= 0 {
		cfg.minLeaf = 1
	}
	indices := make([]int, len(rows))
	for i := range indices {
		indices[i] = i
	}
	t.Nodes = buildTreeNodes(rows, targets, weights, indices, 0, cfg)
	return nil
}

func (t *regressionTree) predict(x []float64) (float64, error) {
	leaf, _, err := t.walk(x, nil)
	return leaf, err
}

// walk descends to the leaf for x. When contrib is non-nil it accumulates
// child-minus-parent value deltas per split feature, so that
// leaf = root value + sum(contrib).
func (t *regressionTree) walk(x []float64, contrib []float64) (leaf, root float64, err error) {
	if len(t.Nodes) == 0 {
		return 0, 0, errors.New("tree: not trained")
	}
	idx := 0
	root = t.Nodes[0].Value
	for {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value, root, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(x) {
			return 0, 0, errors.New("tree: feature index out of range")
		}
		next := node.Left
		if x[node.FeatureIdx] > node.Threshold {
			next = node.Right
		}
		if next < 0 || next >= len(t.Nodes) {
			return 0, 0, errors.New("tree: invalid node reference")
		}
		if contrib != nil {
			contrib[node.FeatureIdx] += t.Nodes[next].Value - node.Value
		}
		idx = next
	}
}

// addImportances accumulates split gains per feature.
func (t *regressionTree) addImportances(out []float64) {
	for _, node := range t.Nodes {
		if !node.IsLeaf && node.FeatureIdx >= 0 && node.FeatureIdx < len(out) {
			out[node.FeatureIdx] += node.Gain
		}
	}
}

func buildTreeNodes(rows [][]float64, targets, weights []float64, indices []int, depth int, cfg treeConfig) []treeNode {
	value := weightedValue(targets, weights, indices)
	if depth >= cfg.maxDepth || len(indices) < 2*cfg.minLeaf {
		return []treeNode{leafNode(value)}
	}

	feature, threshold, gain, ok := bestSplit(rows, targets, indices, cfg)
	if !ok {
		return []treeNode{leafNode(value)}
	}

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if rows[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < cfg.minLeaf || len(right) < cfg.minLeaf {
		return []treeNode{leafNode(value)}
	}

	leftNodes := buildTreeNodes(rows, targets, weights, left, depth+1, cfg)
	rightNodes := buildTreeNodes(rows, targets, weights, right, depth+1, cfg)

	root := treeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		Left:       1,
		Right:      1 + len(leftNodes),
		Value:      value,
		Gain:       gain,
		IsLeaf:     false,
	}
	nodes := make([]treeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, shiftNodes(leftNodes, 1)...)
	nodes = append(nodes, shiftNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

func shiftNodes(nodes []treeNode, offset int) []treeNode {
	for i := range nodes {
		if !nodes[i].IsLeaf {
			nodes[i].Left += offset
			nodes[i].Right += offset
		}
	}
	return nodes
}

func leafNode(value float64) treeNode {
	return treeNode{FeatureIdx: -1, Left: -1, Right: -1, Value: value, IsLeaf: true}
}

// bestSplit scans candidate thresholds per feature and picks the split with
// the largest reduction in target sum of squares.
func bestSplit(rows [][]float64, targets []float64, indices []int, cfg treeConfig) (feature int, threshold, gain float64, ok bool) {
	featureCount := len(rows[indices[0]])
	candidates := featureCandidates(featureCount, cfg)

	baseSSE := sumSquaredError(targets, indices)
	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	for _, f := range candidates {
		thresholds := splitCandidates(rows, indices, f)
		for _, th := range thresholds {
			var left, right []int
			for _, i := range indices {
				if rows[i][f] <= th {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			g := baseSSE - sumSquaredError(targets, left) - sumSquaredError(targets, right)
			if g > bestGain {
				bestGain = g
				bestFeature = f
				bestThreshold = th
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

func featureCandidates(featureCount int, cfg treeConfig) []int {
	all := make([]int, featureCount)
	for i := range all {
		all[i] = i
	}
	if cfg.featureSample <= 0 || cfg.featureSample >= featureCount || cfg.rng == nil {
		return all
	}
	cfg.rng.Shuffle(featureCount, func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:cfg.featureSample]
}

func splitCandidates(rows [][]float64, indices []int, feature int) []float64 {
	values := make([]float64, 0, len(indices))
	for _, i := range indices {
		values = append(values, rows[i][feature])
	}
	sort.Float64s(values)
	unique := values[:0]
	for i, v := range values {
		if i == 0 || v != unique[len(unique)-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) < 2 {
		return nil
	}
	step := 1
	if len(unique)-1 > maxSplitCandidates {
		step = (len(unique) - 1) / maxSplitCandidates
	}
	thresholds := make([]float64, 0, maxSplitCandidates)
	for i := 0; i+1 < len(unique); i += step {
		thresholds = append(thresholds, (unique[i]+unique[i+1])/2)
	}
	return thresholds
}

func sumSquaredError(targets []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	mean := 0.0
	for _, i := range indices {
		mean += targets[i]
	}
	mean /= float64(len(indices))
	sse := 0.0
	for _, i := range indices {
		diff := targets[i] - mean
		sse += diff * diff
	}
	return sse
}

// weightedValue is the Newton estimate sum(target)/sum(weight); boosting
// passes hessians as weights, bagging passes ones.
func weightedValue(targets, weights []float64, indices []int) float64 {
	var num, den float64
	for _, i := range indices {
		num += targets[i]
		den += weights[i]
	}
	if math.Abs(den) < 1e-12 {
		return 0
	}
	return num / den
}
