package ml

import "errors"

// Logistic is the interpretable linear baseline: L2-regularized logistic
// regression fit by full-batch gradient descent on the scaled features.
type Logistic struct {
	C            float64 `json:"c"`
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`

	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// NewLogistic fills in default hyperparameters for anything left zero.
func NewLogistic(c float64, iterations int) *Logistic {
	if c <= 0 {
		c = 0.1
	}
	if iterations <= 0 {
		iterations = 1000
	}
	return &Logistic{C: c, Iterations: iterations, LearningRate: 0.1}
}

func (l *Logistic) Name() string { return learnerLogistic }

func (l *Logistic) Fit(rows [][]float64, labels []int) error {
	if len(rows) == 0 || len(rows) != len(labels) {
		return errors.New("logistic: rows/labels size mismatch")
	}
	if l.LearningRate <= 0 {
		l.LearningRate = 0.1
	}

	n := float64(len(rows))
	featureCount := len(rows[0])
	// The penalty strength mirrors sklearn's C: smaller C, stronger shrinkage.
	lambda := 1 / (l.C * n)

	weights := make([]float64, featureCount)
	bias := 0.0
	gradW := make([]float64, featureCount)

	for iter := 0; iter < l.Iterations; iter++ {
		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0
		for i, row := range rows {
			z := bias
			for j, v := range row {
				z += weights[j] * v
			}
			diff := sigmoid(z) - float64(labels[i])
			for j, v := range row {
				gradW[j] += diff * v
			}
			gradB += diff
		}
		for j := range weights {
			weights[j] -= l.LearningRate * (gradW[j]/n + lambda*weights[j])
		}
		bias -= l.LearningRate * gradB / n
	}

	l.Weights = weights
	l.Bias = bias
	return nil
}

func (l *Logistic) PredictProba(x []float64) (float64, error) {
	if len(l.Weights) == 0 {
		return 0, ErrNotTrained
	}
	if len(x) != len(l.Weights) {
		return 0, errors.New("logistic: feature count mismatch")
	}
	z := l.Bias
	for j, v := range x {
		z += l.Weights[j] * v
	}
	return sigmoid(z), nil
}
