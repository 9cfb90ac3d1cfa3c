package cluster

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature vectors with per-feature mean and population
// standard deviation.
type Scaler struct {
	Mean  []float64 `msgpack:"mean"`
	Scale []float64 `msgpack:"scale"`
}

// FitScaler computes scaler parameters over rows. Features with zero spread
// get a scale of 1 so they pass through centred but unscaled.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("cluster: cannot fit scaler on empty data")
	}
	dims := len(rows[0])
	n := float64(len(rows))

	s := &Scaler{Mean: make([]float64, dims), Scale: make([]float64, dims)}
	column := make([]float64, len(rows))
	for j := 0; j < dims; j++ {
		for i, row := range rows {
			if len(row) != dims {
				return nil, fmt.Errorf("cluster: row %d has %d features, want %d", i, len(row), dims)
			}
			column[i] = row[j]
		}

		mean, variance := stat.MeanVariance(column, nil)
		s.Mean[j] = mean
		if len(rows) < 2 {
			s.Scale[j] = 1
			continue
		}
		std := math.Sqrt(variance * (n - 1) / n)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Scale[j] = std
	}
	return s, nil
}

// Transform returns the standardized copy of x.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// TransformAll standardizes every row.
func (s *Scaler) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Transform(row)
	}
	return out
}

func (s *Scaler) dims() int {
	return len(s.Mean)
}
