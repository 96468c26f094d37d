package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultApprovalThreshold is the probability above which a loan is approved.
const DefaultApprovalThreshold = 0.7

// EnsembleParams carries the learner hyperparameters. Zero values fall back
// to the built-in defaults.
type EnsembleParams struct {
	GBEstimators       int
	GBMaxDepth         int
	GBLearningRate     float64
	ForestEstimators   int
	ForestMaxDepth     int
	LogisticC          float64
	LogisticIterations int
	Seed               int64
	ApprovalThreshold  float64
}

// FeatureImportance is one entry of the tree-based importance ranking.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// PredictionResult is the full scoring output for one profile.
type PredictionResult struct {
	Probability         float64            `json:"probability"`
	Uncertainty         float64            `json:"uncertainty"`
	Approved            bool               `json:"approved"`
	MemberProbabilities map[string]float64 `json:"member_probabilities"`
	Attribution         *Attribution       `json:"attribution"`
	FeatureNames        []string           `json:"feature_names"`
}

// EnsembleModel combines the three base learners by soft voting. Once
// trained it is immutable and safe for concurrent scoring.
type EnsembleModel struct {
	Learners  []Learner
	Weights   []float64
	Threshold float64

	Scaler       *StandardScaler
	FeatureNames []string
	Importance   []FeatureImportance
}

// NewEnsemble builds the untrained three-learner ensemble with equal weights.
func NewEnsemble(params EnsembleParams) *EnsembleModel {
	threshold := params.ApprovalThreshold
	if threshold <= 0 {
		threshold = DefaultApprovalThreshold
	}
	return &EnsembleModel{
		Learners: []Learner{
			NewGradientBoost(params.GBEstimators, params.GBMaxDepth, params.GBLearningRate),
			NewRandomForest(params.ForestEstimators, params.ForestMaxDepth, params.Seed),
			NewLogistic(params.LogisticC, params.LogisticIterations),
		},
		Weights:   []float64{1, 1, 1},
		Threshold: threshold,
		Scaler:    &StandardScaler{},
	}
}

// Train fits the scaler on the feature matrix, then each learner on the
// scaled matrix, and records the feature-name order and the gradient-boosted
// learner's importance ranking.
func (e *EnsembleModel) Train(vectors []FeatureVector, labels []int) error {
	if len(vectors) == 0 || len(vectors) != len(labels) {
		return errors.New("ensemble: vectors/labels size mismatch")
	}
	names := vectors[0].Names
	rows := Matrix(vectors)

	if e.Scaler == nil {
		e.Scaler = &StandardScaler{}
	}
	if err := e.Scaler.Fit(rows); err != nil {
		return fmt.Errorf("ensemble: fit scaler: %w", err)
	}
	scaled, err := e.Scaler.Transform(rows)
	if err != nil {
		return fmt.Errorf("ensemble: scale training matrix: %w", err)
	}

	for _, learner := range e.Learners {
		if err := learner.Fit(scaled, labels); err != nil {
			return fmt.Errorf("ensemble: fit %s: %w", learner.Name(), err)
		}
	}
	e.FeatureNames = append([]string(nil), names...)
	e.Importance = e.rankImportance()
	return nil
}

// Trained reports whether the model can score.
func (e *EnsembleModel) Trained() bool {
	return len(e.FeatureNames) > 0 && e.Scaler != nil && e.Scaler.Fitted && len(e.Learners) > 0
}

// MemberProbabilities scores one vector with every base learner on the same
// scaled input.
func (e *EnsembleModel) MemberProbabilities(v FeatureVector) (map[string]float64, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}
	if err := e.checkSchema(v); err != nil {
		return nil, err
	}
	scaled, err := e.Scaler.TransformRow(v.Values)
	if err != nil {
		return nil, err
	}
	probs := make(map[string]float64, len(e.Learners))
	for _, learner := range e.Learners {
		p, err := learner.PredictProba(scaled)
		if err != nil {
			return nil, fmt.Errorf("ensemble: %s: %w", learner.Name(), err)
		}
		probs[learner.Name()] = p
	}
	return probs, nil
}

// Predict soft-votes the member probabilities, estimates uncertainty from
// their disagreement, and attaches the per-feature attribution.
func (e *EnsembleModel) Predict(v FeatureVector) (*PredictionResult, error) {
	members, err := e.MemberProbabilities(v)
	if err != nil {
		return nil, err
	}

	values := make([]float64, 0, len(e.Learners))
	for _, learner := range e.Learners {
		values = append(values, members[learner.Name()])
	}
	probability := e.combine(members)

	attribution, err := e.Explain(v)
	if err != nil {
		return nil, err
	}

	return &PredictionResult{
		Probability:         probability,
		Uncertainty:         populationStd(values),
		Approved:            probability >= e.Threshold,
		MemberProbabilities: members,
		Attribution:         attribution,
		FeatureNames:        append([]string(nil), e.FeatureNames...),
	}, nil
}

// combine is the soft-vote rule shared by scoring and evaluation. Learners
// beyond the weight slice count with weight one.
func (e *EnsembleModel) combine(members map[string]float64) float64 {
	weightSum := 0.0
	weighted := 0.0
	for i, learner := range e.Learners {
		w := 1.0
		if i < len(e.Weights) {
			w = e.Weights[i]
		}
		weighted += w * members[learner.Name()]
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return weighted / weightSum
}

func (e *EnsembleModel) checkSchema(v FeatureVector) error {
	if len(v.Names) != len(e.FeatureNames) {
		return fmt.Errorf("%w: got %d features, trained with %d",
			ErrSchemaMismatch, len(v.Names), len(e.FeatureNames))
	}
	for i, name := range v.Names {
		if name != e.FeatureNames[i] {
			return fmt.Errorf("%w: column %d is %q, trained with %q",
				ErrSchemaMismatch, i, name, e.FeatureNames[i])
		}
	}
	if len(v.Values) != len(v.Names) {
		return fmt.Errorf("%w: %d names but %d values",
			ErrSchemaMismatch, len(v.Names), len(v.Values))
	}
	return nil
}

func (e *EnsembleModel) gradientBoost() (*GradientBoost, bool) {
	for _, learner := range e.Learners {
		if gb, ok := learner.(*GradientBoost); ok {
			return gb, true
		}
	}
	return nil, false
}

func (e *EnsembleModel) rankImportance() []FeatureImportance {
	gb, ok := e.gradientBoost()
	if !ok {
		return nil
	}
	raw := gb.Importances(len(e.FeatureNames))
	ranking := make([]FeatureImportance, len(e.FeatureNames))
	for i, name := range e.FeatureNames {
		ranking[i] = FeatureImportance{Feature: name, Importance: raw[i]}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Importance > ranking[j].Importance
	})
	return ranking
}

func populationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)))
}

type ensembleJSON struct {
	Learners  []learnerSpec `json:"learners"`
	Weights   []float64     `json:"weights"`
	Threshold float64       `json:"threshold"`
}

// MarshalJSON encodes the learners and combination rule. Scaler and feature
// metadata are persisted as separate artifact components.
func (e *EnsembleModel) MarshalJSON() ([]byte, error) {
	specs := make([]learnerSpec, 0, len(e.Learners))
	for _, learner := range e.Learners {
		spec, err := marshalLearner(learner)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return json.Marshal(ensembleJSON{
		Learners:  specs,
		Weights:   e.Weights,
		Threshold: e.Threshold,
	})
}

func (e *EnsembleModel) UnmarshalJSON(data []byte) error {
	var payload ensembleJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	learners := make([]Learner, 0, len(payload.Learners))
	for _, spec := range payload.Learners {
		learner, err := unmarshalLearner(spec)
		if err != nil {
			return err
		}
		learners = append(learners, learner)
	}
	e.Learners = learners
	e.Weights = payload.Weights
	e.Threshold = payload.Threshold
	if e.Threshold <= 0 {
		e.Threshold = DefaultApprovalThreshold
	}
	return nil
}
