package cluster

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFitScaler(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 10}, {3, 10}, {5, 10}})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !approx(s.Mean[0], 3) || !approx(s.Mean[1], 10) {
		t.Fatalf("mean = %v", s.Mean)
	}
	if !approx(s.Scale[0], math.Sqrt(8.0/3.0)) {
		t.Fatalf("scale[0] = %v, want population std", s.Scale[0])
	}
	if s.Scale[1] != 1 {
		t.Fatalf("constant feature scale = %v, want 1", s.Scale[1])
	}

	got := s.Transform([]float64{5, 10})
	if !approx(got[0], 2/math.Sqrt(8.0/3.0)) || got[1] != 0 {
		t.Fatalf("transform = %v", got)
	}
}

func TestFitScalerEdgeCases(t *testing.T) {
	if _, err := FitScaler(nil); err == nil {
		t.Fatalf("expected error for empty data")
	}
	if _, err := FitScaler([][]float64{{1, 2}, {3}}); err == nil {
		t.Fatalf("expected error for ragged rows")
	}

	s, err := FitScaler([][]float64{{4, 2}})
	if err != nil {
		t.Fatalf("fit single row: %v", err)
	}
	if s.Scale[0] != 1 || s.Scale[1] != 1 {
		t.Fatalf("single row scale = %v, want ones", s.Scale)
	}
}

func blobs() [][]float64 {
	var points [][]float64
	for i := 0; i < 10; i++ {
		d := float64(i) * 0.01
		points = append(points, []float64{-5 + d, -5 - d})
		points = append(points, []float64{5 + d, 5 - d})
	}
	return points
}

func TestFitKMeansSeparatesBlobs(t *testing.T) {
	points := blobs()
	km, err := FitKMeans(points, Options{K: 2, Seed: 42, MaxIter: 100, Tol: 1e-4})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	low := km.Nearest(points[0])
	high := km.Nearest(points[1])
	if low == high {
		t.Fatalf("blobs share a cluster")
	}
	for i, p := range points {
		want := low
		if i%2 == 1 {
			want = high
		}
		if got := km.Nearest(p); got != want {
			t.Fatalf("point %d assigned %d, want %d", i, got, want)
		}
	}
	if km.Iterations < 1 || km.Inertia <= 0 {
		t.Fatalf("unexpected fit stats: iterations=%d inertia=%v", km.Iterations, km.Inertia)
	}
}

func TestFitKMeansDeterministic(t *testing.T) {
	points := blobs()
	a, err := FitKMeans(points, DefaultOptions())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	b, err := FitKMeans(points, DefaultOptions())
	if err != nil {
		t.Fatalf("fit again: %v", err)
	}
	if !reflect.DeepEqual(a.Centroids, b.Centroids) {
		t.Fatalf("same seed produced different centroids")
	}
	if a.K() != 5 {
		t.Fatalf("k = %d, want 5", a.K())
	}
}

func TestFitKMeansTooFewSamples(t *testing.T) {
	_, err := FitKMeans([][]float64{{1, 1}, {2, 2}}, DefaultOptions())
	if !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("err = %v, want ErrTooFewSamples", err)
	}
	if _, err := FitKMeans(blobs(), Options{K: 0}); err == nil {
		t.Fatalf("expected error for k=0")
	}
}

func TestFitKMeansDuplicatePoints(t *testing.T) {
	points := make([][]float64, 6)
	for i := range points {
		points[i] = []float64{1, 1}
	}
	km, err := FitKMeans(points, Options{K: 3, Seed: 1, MaxIter: 10, Tol: 1e-4})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if km.K() != 3 {
		t.Fatalf("k = %d, want 3", km.K())
	}
}

func trainingVectors() []models.FeatureVector {
	var out []models.FeatureVector
	id := int64(1)
	for rating := 1; rating <= 5; rating++ {
		for i := 0; i < 8; i++ {
			out = append(out, models.FeatureVector{
				RecordID:      id,
				Price:         10 + float64(rating*7) + float64(i)*1.3,
				RatingOrdinal: rating,
			})
			id++
		}
	}
	return out
}

func TestTrainAndPredictDeterministic(t *testing.T) {
	vectors := trainingVectors()
	a, err := Train(vectors, DefaultOptions())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	b, err := Train(vectors, DefaultOptions())
	if err != nil {
		t.Fatalf("train again: %v", err)
	}
	if !reflect.DeepEqual(a.KMeans.Centroids, b.KMeans.Centroids) {
		t.Fatalf("training is not reproducible")
	}

	input := models.FeatureVector{Price: 51.77, RatingOrdinal: 3}
	first := a.Predict(input)
	for i := 0; i < 10; i++ {
		if got := a.Predict(input); got != first {
			t.Fatalf("prediction %d = %+v, want %+v", i, got, first)
		}
	}
	if got := b.Predict(input); got != first {
		t.Fatalf("retrained model predicted %+v, want %+v", got, first)
	}
	if first.Index < 0 || first.Index >= 5 {
		t.Fatalf("index %d out of range", first.Index)
	}
}

func TestTrainRejectsSmallSets(t *testing.T) {
	if _, err := Train(nil, DefaultOptions()); err == nil {
		t.Fatalf("expected error for empty set")
	}
	if _, err := Train(trainingVectors()[:3], DefaultOptions()); !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("err = %v, want ErrTooFewSamples", err)
	}
}

func identityModel() *Model {
	return &Model{
		Scaler: &Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}},
		KMeans: &KMeans{Centroids: [][]float64{{0, 0}, {10, 0}, {20, 0}, {30, 0}, {40, 0}}},
		Labels: DefaultLabels,
	}
}

func TestPredictUnknownLabel(t *testing.T) {
	m := identityModel()

	tests := []struct {
		price float64
		index int
		name  string
	}{
		{price: 1, index: 0, name: "budget"},
		{price: 11, index: 1, name: "mid-range"},
		{price: 19, index: 2, name: "premium"},
		{price: 31, index: 3, name: UnknownLabel},
		{price: 99, index: 4, name: UnknownLabel},
	}
	for _, tt := range tests {
		got := m.Predict(models.FeatureVector{Price: tt.price})
		if got.Index != tt.index || got.Name != tt.name {
			t.Fatalf("price %v: got %+v, want {%d %s}", tt.price, got, tt.index, tt.name)
		}
	}
}

func TestPredictTieGoesToLowestIndex(t *testing.T) {
	m := identityModel()
	if got := m.Predict(models.FeatureVector{Price: 5}); got.Index != 0 {
		t.Fatalf("tie resolved to %d, want 0", got.Index)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	m, err := Train(trainingVectors(), DefaultOptions())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := Save(dir, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(loaded.Scaler, m.Scaler) || !reflect.DeepEqual(loaded.KMeans.Centroids, m.KMeans.Centroids) {
		t.Fatalf("artifact changed on round trip")
	}
	for _, v := range trainingVectors() {
		if loaded.Predict(v) != m.Predict(v) {
			t.Fatalf("loaded model disagrees on %+v", v)
		}
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	if _, err := Load(t.TempDir()); !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("err = %v, want ErrArtifactMissing", err)
	}
}

func TestServiceUnavailable(t *testing.T) {
	m := metrics.New()
	svc := LoadService(t.TempDir(), 0, m, nil)
	if svc.Available() {
		t.Fatalf("service without artifact must be unavailable")
	}
	if !errors.Is(svc.Reason(), ErrArtifactMissing) {
		t.Fatalf("reason = %v", svc.Reason())
	}

	_, err := svc.Predict(models.FeatureVector{Price: 10, RatingOrdinal: 2})
	if !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("err = %v, want ErrInferenceUnavailable", err)
	}
	if got := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("unavailable")); got != 1 {
		t.Fatalf("unavailable predictions = %v, want 1", got)
	}
}

func TestServiceCachesPredictions(t *testing.T) {
	m := metrics.New()
	svc, err := NewService(identityModel(), 8, m)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if !svc.Available() || svc.Reason() != nil {
		t.Fatalf("service should be available")
	}

	input := models.FeatureVector{Price: 31, RatingOrdinal: 0}
	first, err := svc.Predict(input)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	second, err := svc.Predict(input)
	if err != nil {
		t.Fatalf("predict again: %v", err)
	}
	if first != second || first.Name != UnknownLabel {
		t.Fatalf("predictions = %+v / %+v", first, second)
	}
	if got := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("cached")); got != 1 {
		t.Fatalf("cached predictions = %v, want 1", got)
	}
}

func TestLoadServiceFromArtifact(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, identityModel()); err != nil {
		t.Fatalf("save: %v", err)
	}
	svc := LoadService(dir, 0, nil, nil)
	if !svc.Available() {
		t.Fatalf("service should load the saved artifact: %v", svc.Reason())
	}
	p, err := svc.Predict(models.FeatureVector{Price: 12})
	if err != nil || p.Index != 1 {
		t.Fatalf("predict = %+v, %v", p, err)
	}
}
