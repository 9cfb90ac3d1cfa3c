// Package cluster trains and serves the price/rating k-means model.
package cluster

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-books-pipeline/models"
)

// UnknownLabel names cluster indices that have no entry in the label map.
const UnknownLabel = "unknown"

// DefaultLabels covers fewer indices than the default cluster count; the
// remaining indices resolve to UnknownLabel.
var DefaultLabels = map[int]string{
	0: "budget",
	1: "mid-range",
	2: "premium",
}

// Prediction is the outcome of assigning one feature vector.
type Prediction struct {
	Index int    `json:"cluster"`
	Name  string `json:"cluster_name"`
}

// Model is a fitted scaler plus centroids in scaled space.
type Model struct {
	Scaler *Scaler
	KMeans *KMeans
	Labels map[int]string
}

// Train fits the scaler and k-means over vectors.
func Train(vectors []models.FeatureVector, opts Options) (*Model, error) {
	if len(vectors) == 0 {
		return nil, errors.New("cluster: no training data")
	}
	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		rows[i] = v.Values()
	}

	scaler, err := FitScaler(rows)
	if err != nil {
		return nil, err
	}
	km, err := FitKMeans(scaler.TransformAll(rows), opts)
	if err != nil {
		return nil, err
	}

	labels := make(map[int]string, len(DefaultLabels))
	for k, v := range DefaultLabels {
		labels[k] = v
	}
	return &Model{Scaler: scaler, KMeans: km, Labels: labels}, nil
}

// Predict standardizes v with the stored scaler and returns the nearest
// centroid.
func (m *Model) Predict(v models.FeatureVector) Prediction {
	idx := m.KMeans.Nearest(m.Scaler.Transform(v.Values()))
	return Prediction{Index: idx, Name: m.Label(idx)}
}

// Label resolves a cluster index to its display name.
func (m *Model) Label(idx int) string {
	if name, ok := m.Labels[idx]; ok {
		return name
	}
	return UnknownLabel
}

func (m *Model) validate() error {
	if m.Scaler == nil || m.KMeans == nil {
		return errors.New("cluster: incomplete model")
	}
	if len(m.Scaler.Mean) != len(m.Scaler.Scale) {
		return fmt.Errorf("cluster: scaler has %d means and %d scales", len(m.Scaler.Mean), len(m.Scaler.Scale))
	}
	if m.KMeans.K() == 0 {
		return errors.New("cluster: model has no centroids")
	}
	for i, c := range m.KMeans.Centroids {
		if len(c) != m.Scaler.dims() {
			return fmt.Errorf("cluster: centroid %d has %d dims, scaler has %d", i, len(c), m.Scaler.dims())
		}
	}
	for j, s := range m.Scaler.Scale {
		if s == 0 {
			return fmt.Errorf("cluster: zero scale for feature %d", j)
		}
	}
	return nil
}
