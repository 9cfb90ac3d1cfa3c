package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-books-pipeline/cluster"
	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/pipeline"
	"github.com/aluiziolira/go-books-pipeline/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCatalog struct {
	rows []models.StoredBook
	err  error
}

func (c *memoryCatalog) Each(_ context.Context, fn func(models.StoredBook) error) error {
	if c.err != nil {
		return c.err
	}
	for _, row := range c.rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (c *memoryCatalog) Get(_ context.Context, id int64) (models.StoredBook, error) {
	for _, row := range c.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return models.StoredBook{}, fmt.Errorf("book %d: %w", id, store.ErrNotFound)
}

type fakeSubmitter struct {
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(context.Context) (pipeline.Ticket, error) {
	f.calls++
	if f.err != nil {
		return pipeline.Ticket{}, f.err
	}
	return pipeline.Ticket{ID: uuid.MustParse("6f1c2b9e-3d4a-4b8e-9c1f-2a3b4c5d6e7f"), AcceptedAt: time.Unix(0, 0).UTC()}, nil
}

type testServer struct {
	server  *Server
	catalog *memoryCatalog
	runs    *fakeSubmitter
	metrics *metrics.Metrics
}

func testModel() *cluster.Model {
	return &cluster.Model{
		Scaler: &cluster.Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}},
		KMeans: &cluster.KMeans{Centroids: [][]float64{{0, 0}, {10, 0}, {20, 0}, {30, 0}, {40, 0}}},
		Labels: cluster.DefaultLabels,
	}
}

func setupTestServer(t *testing.T, inference Predictor) *testServer {
	t.Helper()
	catalog := &memoryCatalog{rows: []models.StoredBook{
		{ID: 1, Title: "A", Price: 51.77, Rating: "Three"},
		{ID: 2, Title: "B", Price: 12.5, Rating: "Bogus"},
	}}
	runs := &fakeSubmitter{}
	m := metrics.New()
	return &testServer{
		server:  NewServer(catalog, runs, inference, m, nil),
		catalog: catalog,
		runs:    runs,
		metrics: m,
	}
}

func loadedService(t *testing.T) *cluster.Service {
	t.Helper()
	svc, err := cluster.NewService(testModel(), 16, nil)
	require.NoError(t, err)
	return svc
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))
	resp := ts.do(http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.ModelLoaded)

	ts = setupTestServer(t, cluster.Unavailable(errors.New("no artifact"), nil))
	resp = ts.do(http.MethodGet, "/api/v1/health", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.False(t, body.ModelLoaded)
}

func TestRunPipelineAccepted(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))
	resp := ts.do(http.MethodPost, "/api/v1/pipeline/run", "")
	require.Equal(t, http.StatusAccepted, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "6f1c2b9e-3d4a-4b8e-9c1f-2a3b4c5d6e7f", body["run_id"])
	assert.Equal(t, 1, ts.runs.calls)
}

func TestRunPipelineConflict(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))
	ts.runs.err = pipeline.ErrRunInProgress

	resp := ts.do(http.MethodPost, "/api/v1/pipeline/run", "")
	assert.Equal(t, http.StatusConflict, resp.Code)

	ts.runs.err = errors.New("redis down")
	resp = ts.do(http.MethodPost, "/api/v1/pipeline/run", "")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestPredict(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))

	resp := ts.do(http.MethodPost, "/api/v1/ml/predict", `{"price": 11, "rating": "One"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["cluster"])
	assert.Equal(t, "mid-range", body["cluster_name"])

	input := body["input"].(map[string]any)
	assert.Equal(t, float64(11), input["price"])
	assert.Equal(t, "One", input["rating"])
	assert.Equal(t, float64(1), input["rating_ordinal"])
}

func TestPredictUnknownClusterLabel(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))

	resp := ts.do(http.MethodPost, "/api/v1/ml/predict", `{"price": 40, "rating": "Five"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, float64(4), body["cluster"])
	assert.Equal(t, cluster.UnknownLabel, body["cluster_name"])
}

func TestPredictIsIdempotent(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))

	first := ts.do(http.MethodPost, "/api/v1/ml/predict", `{"price": 23.4, "rating": "Two"}`)
	second := ts.do(http.MethodPost, "/api/v1/ml/predict", `{"price": 23.4, "rating": "Two"}`)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestPredictBadRequests(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `price=10`},
		{name: "missing price", body: `{"rating": "One"}`},
		{name: "negative price", body: `{"price": -1, "rating": "One"}`},
		{name: "unknown rating", body: `{"price": 10, "rating": "Six"}`},
		{name: "lowercase rating", body: `{"price": 10, "rating": "one"}`},
		{name: "unknown field", body: `{"price": 10, "rating": "One", "extra": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(http.MethodPost, "/api/v1/ml/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
}

func TestPredictUnavailable(t *testing.T) {
	ts := setupTestServer(t, cluster.Unavailable(cluster.ErrArtifactMissing, nil))

	resp := ts.do(http.MethodPost, "/api/v1/ml/predict", `{"price": 10, "rating": "One"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "inference unavailable", body.Error)
}

func TestListFeatures(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))

	resp := ts.do(http.MethodGet, "/api/v1/ml/features", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var vectors []models.FeatureVector
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &vectors))
	require.Len(t, vectors, 2)
	assert.Equal(t, models.FeatureVector{RecordID: 1, Price: 51.77, RatingOrdinal: 3}, vectors[0])
	assert.Equal(t, 0, vectors[1].RatingOrdinal, "unknown stored rating degrades to 0")
}

func TestListFeaturesEmptyAndError(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))
	ts.catalog.rows = nil

	resp := ts.do(http.MethodGet, "/api/v1/ml/features", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())

	ts.catalog.err = errors.New("database locked")
	resp = ts.do(http.MethodGet, "/api/v1/ml/features", "")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestGetFeatures(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))

	resp := ts.do(http.MethodGet, "/api/v1/ml/features/1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"id":1,"price":51.77,"rating_ordinal":3}`, resp.Body.String())

	resp = ts.do(http.MethodGet, "/api/v1/ml/features/99", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.do(http.MethodGet, "/api/v1/ml/features/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, loadedService(t))
	ts.metrics.IncRun("success")

	resp := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "pipeline_runs_total")
}
