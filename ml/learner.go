package ml

import (
	"encoding/json"
	"fmt"
)

// Learner is one base classifier of the ensemble. Fit consumes scaled rows
// and binary labels; PredictProba returns the positive-class probability for
// one scaled row.
type Learner interface {
	Name() string
	Fit(rows [][]float64, labels []int) error
	PredictProba(x []float64) (float64, error)
}

const (
	learnerGradientBoost = "gradient_boost"
	learnerRandomForest  = "random_forest"
	learnerLogistic      = "logistic"
)

type learnerSpec struct {
	Type  string          `json:"type"`
	Model json.RawMessage `json:"model"`
}

func marshalLearner(l Learner) (learnerSpec, error) {
	payload, err := json.Marshal(l)
	if err != nil {
		return learnerSpec{}, fmt.Errorf("marshal learner %s: %w", l.Name(), err)
	}
	return learnerSpec{Type: l.Name(), Model: payload}, nil
}

func unmarshalLearner(spec learnerSpec) (Learner, error) {
	var l Learner
	switch spec.Type {
	case learnerGradientBoost:
		l = &GradientBoost{}
	case learnerRandomForest:
		l = &RandomForest{}
	case learnerLogistic:
		l = &Logistic{}
	default:
		return nil, fmt.Errorf("unknown learner type %q", spec.Type)
	}
	if err := json.Unmarshal(spec.Model, l); err != nil {
		return nil, fmt.Errorf("unmarshal learner %s: %w", spec.Type, err)
	}
	return l, nil
}
