package ml

import (
	"errors"
	"math"
)

// StandardScaler standardizes columns to zero mean and unit variance. It is
// fit once on the training matrix and reused unchanged at inference.
type StandardScaler struct {
	Means  []float64 `json:"means"`
	Stds   []float64 `json:"stds"`
	Fitted bool      `json:"fitted"`
}

// Fit computes per-column mean and population standard deviation.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return errors.New("scaler: empty matrix")
	}
	cols := len(rows[0])
	means := make([]float64, cols)
	stds := make([]float64, cols)

	for _, row := range rows {
		if len(row) != cols {
			return errors.New("scaler: ragged matrix")
		}
		for j, v := range row {
			means[j] += v
		}
	}
	n := float64(len(rows))
	for j := range means {
		means[j] /= n
	}
	for _, row := range rows {
		for j, v := range row {
			diff := v - means[j]
			stds[j] += diff * diff
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / n)
		if stds[j] == 0 {
			// Constant column: leave values centered instead of dividing by zero.
			stds[j] = 1
		}
	}

	s.Means = means
	s.Stds = stds
	s.Fitted = true
	return nil
}

// Transform standardizes rows with the fitted statistics.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	if !s.Fitted {
		return nil, errors.New("scaler: not fitted")
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}

// TransformRow standardizes a single row.
func (s *StandardScaler) TransformRow(row []float64) ([]float64, error) {
	if !s.Fitted {
		return nil, errors.New("scaler: not fitted")
	}
	if len(row) != len(s.Means) {
		return nil, errors.New("scaler: column count mismatch")
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Means[j]) / s.Stds[j]
	}
	return out, nil
}
