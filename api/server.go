// Package api exposes pipeline triggers, feature vectors and cluster
// inference over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-books-pipeline/cluster"
	"github.com/aluiziolira/go-books-pipeline/features"
	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Catalog is the read side of the store used by the feature endpoints.
type Catalog interface {
	features.Source
	Get(ctx context.Context, id int64) (models.StoredBook, error)
}

// Submitter starts pipeline runs.
type Submitter interface {
	Submit(ctx context.Context) (pipeline.Ticket, error)
}

// Predictor answers inference requests.
type Predictor interface {
	Available() bool
	Predict(v models.FeatureVector) (cluster.Prediction, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	catalog   Catalog
	runs      Submitter
	inference Predictor
	metrics   *metrics.Metrics
	router    *chi.Mux
	logger    *slog.Logger
}

// NewServer creates a server with all routes configured.
func NewServer(catalog Catalog, runs Submitter, inference Predictor, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		catalog:   catalog,
		runs:      runs,
		inference: inference,
		metrics:   m,
		router:    chi.NewRouter(),
		logger:    logger,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/pipeline/run", s.handleRunPipeline)

		r.Route("/ml", func(r chi.Router) {
			r.Post("/predict", s.handlePredict)
			r.Get("/features", s.handleListFeatures)
			r.Get("/features/{id}", s.handleGetFeatures)
		})
	})

	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
