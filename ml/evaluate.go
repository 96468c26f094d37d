package ml

import (
	"errors"
	"sort"
)

// ConfusionCounts holds the binary confusion matrix at the 0.5 cutoff.
type ConfusionCounts struct {
	TruePositive  int `json:"true_positive"`
	TrueNegative  int `json:"true_negative"`
	FalsePositive int `json:"false_positive"`
	FalseNegative int `json:"false_negative"`
}

// CalibrationPoint is one bin of the reliability curve.
type CalibrationPoint struct {
	MeanPredicted    float64 `json:"mean_predicted"`
	FractionPositive float64 `json:"fraction_positive"`
	Count            int     `json:"count"`
}

// EvaluationMetrics is the per-run evaluation artifact.
type EvaluationMetrics struct {
	ROCAUC       float64            `json:"roc_auc"`
	Precision    float64            `json:"precision"`
	Recall       float64            `json:"recall"`
	F1           float64            `json:"f1"`
	AvgPrecision float64            `json:"avg_precision"`
	Confusion    ConfusionCounts    `json:"confusion"`
	Calibration  []CalibrationPoint `json:"calibration"`
	Samples      int                `json:"samples"`
}

// Evaluate scores the held-out set and derives the discriminative and
// calibration metrics.
func Evaluate(e *EnsembleModel, vectors []FeatureVector, labels []int) (*EvaluationMetrics, error) {
	if len(vectors) == 0 || len(vectors) != len(labels) {
		return nil, errors.New("evaluate: vectors/labels size mismatch")
	}
	probs := make([]float64, len(vectors))
	for i, v := range vectors {
		members, err := e.MemberProbabilities(v)
		if err != nil {
			return nil, err
		}
		// Evaluation scores with the same soft-vote rule as Predict.
		probs[i] = e.combine(members)
	}

	var cm ConfusionCounts
	for i, p := range probs {
		predicted := p >= 0.5
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			cm.TruePositive++
		case predicted && !actual:
			cm.FalsePositive++
		case !predicted && actual:
			cm.FalseNegative++
		default:
			cm.TrueNegative++
		}
	}

	precision := ratio(cm.TruePositive, cm.TruePositive+cm.FalsePositive)
	recall := ratio(cm.TruePositive, cm.TruePositive+cm.FalseNegative)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return &EvaluationMetrics{
		ROCAUC:       rocAUC(probs, labels),
		Precision:    precision,
		Recall:       recall,
		F1:           f1,
		AvgPrecision: averagePrecision(probs, labels),
		Confusion:    cm,
		Calibration:  calibrationCurve(probs, labels, 10),
		Samples:      len(labels),
	}, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// rocAUC computes the Mann-Whitney rank statistic with average ranks for ties.
func rocAUC(scores []float64, labels []int) float64 {
	type scored struct {
		score float64
		label int
	}
	items := make([]scored, len(scores))
	for i := range scores {
		items[i] = scored{scores[i], labels[i]}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	ranks := make([]float64, len(items))
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].score == items[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		i = j
	}

	var positives, negatives int
	var positiveRankSum float64
	for i, item := range items {
		if item.label == 1 {
			positives++
			positiveRankSum += ranks[i]
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0.5
	}
	return (positiveRankSum - float64(positives)*float64(positives+1)/2) /
		(float64(positives) * float64(negatives))
}

// averagePrecision sums precision at each recall step over descending scores.
func averagePrecision(scores []float64, labels []int) float64 {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	totalPositive := 0
	for _, y := range labels {
		if y == 1 {
			totalPositive++
		}
	}
	if totalPositive == 0 {
		return 0
	}

	var hits int
	var ap float64
	for rank, idx := range order {
		if labels[idx] == 1 {
			hits++
			ap += float64(hits) / float64(rank+1) / float64(totalPositive)
		}
	}
	return ap
}

func calibrationCurve(scores []float64, labels []int, bins int) []CalibrationPoint {
	sums := make([]float64, bins)
	positives := make([]int, bins)
	counts := make([]int, bins)
	for i, p := range scores {
		bin := int(p * float64(bins))
		if bin >= bins {
			bin = bins - 1
		}
		sums[bin] += p
		counts[bin]++
		if labels[i] == 1 {
			positives[bin]++
		}
	}
	curve := make([]CalibrationPoint, 0, bins)
	for b := 0; b < bins; b++ {
		if counts[b] == 0 {
			continue
		}
		curve = append(curve, CalibrationPoint{
			MeanPredicted:    sums[b] / float64(counts[b]),
			FractionPositive: float64(positives[b]) / float64(counts[b]),
			Count:            counts[b],
		})
	}
	return curve
}
