package ml

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func testParams() EnsembleParams {
	return EnsembleParams{
		GBEstimators:       25,
		GBMaxDepth:         3,
		GBLearningRate:     0.1,
		ForestEstimators:   20,
		ForestMaxDepth:     4,
		LogisticC:          0.1,
		LogisticIterations: 300,
		Seed:               42,
	}
}

func trainedEnsemble(t *testing.T) (*EnsembleModel, []FeatureVector, []int) {
	t.Helper()
	rows := GenerateSyntheticRows(160, 42)
	profiles := make([]FarmerProfile, len(rows))
	labels := make([]int, len(rows))
	for i, row := range rows {
		profiles[i] = row.Profile
		labels[i] = row.Label
	}
	pipeline := &FeaturePipeline{}
	vectors, err := pipeline.FitTransform(profiles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ensemble := NewEnsemble(testParams())
	if err := ensemble.Train(vectors, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ensemble, vectors, labels
}

func TestEnsemblePredictBounds(t *testing.T) {
	ensemble, vectors, _ := trainedEnsemble(t)

	for _, v := range vectors[:20] {
		result, err := ensemble.Predict(v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Probability < 0 || result.Probability > 1 {
			t.Fatalf("probability out of range: %.6f", result.Probability)
		}
		if result.Uncertainty < 0 {
			t.Fatalf("negative uncertainty: %.6f", result.Uncertainty)
		}
		if len(result.MemberProbabilities) != 3 {
			t.Fatalf("expected 3 member probabilities, got %d", len(result.MemberProbabilities))
		}
		for _, name := range []string{"gradient_boost", "random_forest", "logistic"} {
			if _, ok := result.MemberProbabilities[name]; !ok {
				t.Fatalf("missing member probability for %s", name)
			}
		}
		if result.Approved != (result.Probability >= DefaultApprovalThreshold) {
			t.Fatalf("approval inconsistent with threshold: p=%.3f approved=%v",
				result.Probability, result.Approved)
		}
	}
}

func TestEnsembleUncertaintyMatchesDisagreement(t *testing.T) {
	ensemble, vectors, _ := trainedEnsemble(t)

	result, err := ensemble.Predict(vectors[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probs := make([]float64, 0, 3)
	for _, p := range result.MemberProbabilities {
		probs = append(probs, p)
	}
	if math.Abs(result.Uncertainty-populationStd(probs)) > 1e-12 {
		t.Fatalf("expected uncertainty %.9f, got %.9f", populationStd(probs), result.Uncertainty)
	}
}

func TestEnsemblePredictBeforeTrain(t *testing.T) {
	ensemble := NewEnsemble(testParams())
	v := FeatureVector{Names: FeatureNames(), Values: make([]float64, len(FeatureNames()))}
	if _, err := ensemble.Predict(v); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

func TestEnsembleSchemaMismatch(t *testing.T) {
	ensemble, vectors, _ := trainedEnsemble(t)

	reordered := FeatureVector{
		Names:  append([]string(nil), vectors[0].Names...),
		Values: append([]float64(nil), vectors[0].Values...),
	}
	reordered.Names[0], reordered.Names[1] = reordered.Names[1], reordered.Names[0]
	if _, err := ensemble.Predict(reordered); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}

	short := FeatureVector{Names: vectors[0].Names[:5], Values: vectors[0].Values[:5]}
	if _, err := ensemble.Predict(short); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestEnsembleImportanceRanking(t *testing.T) {
	ensemble, _, _ := trainedEnsemble(t)

	if len(ensemble.Importance) != len(FeatureNames()) {
		t.Fatalf("expected %d importance entries, got %d", len(FeatureNames()), len(ensemble.Importance))
	}
	for i := 1; i < len(ensemble.Importance); i++ {
		if ensemble.Importance[i].Importance > ensemble.Importance[i-1].Importance {
			t.Fatalf("importance ranking not sorted at %d", i)
		}
	}
}

func TestEnsembleJSONRoundTrip(t *testing.T) {
	ensemble, vectors, _ := trainedEnsemble(t)

	data, err := json.Marshal(ensemble)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restored := &EnsembleModel{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Scaler and feature metadata travel as separate artifact components.
	restored.Scaler = ensemble.Scaler
	restored.FeatureNames = ensemble.FeatureNames

	for _, v := range vectors[:10] {
		want, err := ensemble.Predict(v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := restored.Predict(v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(want.Probability-got.Probability) > 1e-12 {
			t.Fatalf("expected probability %.12f after round trip, got %.12f",
				want.Probability, got.Probability)
		}
		if math.Abs(want.Uncertainty-got.Uncertainty) > 1e-12 {
			t.Fatalf("expected uncertainty %.12f after round trip, got %.12f",
				want.Uncertainty, got.Uncertainty)
		}
	}
}

func TestEvaluateTrainedEnsemble(t *testing.T) {
	ensemble, vectors, labels := trainedEnsemble(t)

	metrics, err := Evaluate(ensemble, vectors, labels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.Samples != len(labels) {
		t.Fatalf("expected %d samples, got %d", len(labels), metrics.Samples)
	}
	if metrics.ROCAUC < 0 || metrics.ROCAUC > 1 {
		t.Fatalf("roc auc out of range: %.4f", metrics.ROCAUC)
	}
	// Training-set performance on separable synthetic data should be strong.
	if metrics.ROCAUC < 0.7 {
		t.Fatalf("expected roc auc >= 0.7 on training data, got %.4f", metrics.ROCAUC)
	}
	total := metrics.Confusion.TruePositive + metrics.Confusion.TrueNegative +
		metrics.Confusion.FalsePositive + metrics.Confusion.FalseNegative
	if total != len(labels) {
		t.Fatalf("confusion counts sum to %d, expected %d", total, len(labels))
	}
	binTotal := 0
	for _, point := range metrics.Calibration {
		binTotal += point.Count
	}
	if binTotal != len(labels) {
		t.Fatalf("calibration counts sum to %d, expected %d", binTotal, len(labels))
	}
}

func TestEvaluateUsesEnsembleWeights(t *testing.T) {
	ensemble, vectors, labels := trainedEnsemble(t)
	ensemble.Weights = []float64{3, 1, 0}

	metrics, err := Evaluate(ensemble, vectors, labels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The confusion matrix must come from the same weighted soft vote that
	// Predict serves, not an unweighted member mean.
	var want ConfusionCounts
	for i, v := range vectors {
		result, err := ensemble.Predict(v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		predicted := result.Probability >= 0.5
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			want.TruePositive++
		case predicted && !actual:
			want.FalsePositive++
		case !predicted && actual:
			want.FalseNegative++
		default:
			want.TrueNegative++
		}
	}
	if metrics.Confusion != want {
		t.Fatalf("expected confusion %+v from weighted votes, got %+v", want, metrics.Confusion)
	}
}
