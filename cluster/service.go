package cluster

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInferenceUnavailable is returned by Predict when no model was loaded.
var ErrInferenceUnavailable = errors.New("cluster: inference unavailable")

// DefaultCacheSize bounds the prediction cache.
const DefaultCacheSize = 1024

type serviceState interface {
	serviceState()
}

type loaded struct {
	model *Model
}

type unavailable struct {
	reason error
}

func (loaded) serviceState()      {}
func (unavailable) serviceState() {}

type cacheKey struct {
	price  float64
	rating int
}

// Service answers inference requests for the life of the process. Its state
// is fixed at construction.
type Service struct {
	state   serviceState
	cache   *lru.Cache[cacheKey, Prediction]
	metrics *metrics.Metrics
}

// NewService serves m.
func NewService(m *Model, cacheSize int, mtr *metrics.Metrics) (*Service, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, Prediction](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create prediction cache: %w", err)
	}
	return &Service{state: loaded{model: m}, cache: cache, metrics: mtr}, nil
}

// Unavailable returns a service that rejects every prediction with reason.
func Unavailable(reason error, mtr *metrics.Metrics) *Service {
	return &Service{state: unavailable{reason: reason}, metrics: mtr}
}

// LoadService loads the artifact in dir. A missing or broken artifact yields
// an unavailable service rather than an error.
func LoadService(dir string, cacheSize int, mtr *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := Load(dir)
	if err != nil {
		logger.Warn("inference disabled", slog.String("model_dir", dir), slog.Any("error", err))
		return Unavailable(err, mtr)
	}
	svc, err := NewService(m, cacheSize, mtr)
	if err != nil {
		logger.Warn("inference disabled", slog.String("model_dir", dir), slog.Any("error", err))
		return Unavailable(err, mtr)
	}
	logger.Info("cluster model loaded", slog.String("model_dir", dir), slog.Int("clusters", m.KMeans.K()))
	return svc
}

// Available reports whether a model is loaded.
func (s *Service) Available() bool {
	_, ok := s.state.(loaded)
	return ok
}

// Reason returns why inference is unavailable, or nil.
func (s *Service) Reason() error {
	if u, ok := s.state.(unavailable); ok {
		return u.reason
	}
	return nil
}

// Predict assigns v to a cluster.
func (s *Service) Predict(v models.FeatureVector) (Prediction, error) {
	switch st := s.state.(type) {
	case loaded:
		key := cacheKey{price: v.Price, rating: v.RatingOrdinal}
		if p, ok := s.cache.Get(key); ok {
			s.metrics.IncPrediction("cached")
			return p, nil
		}
		p := st.model.Predict(v)
		s.cache.Add(key, p)
		s.metrics.IncPrediction("ok")
		return p, nil
	case unavailable:
		s.metrics.IncPrediction("unavailable")
		if st.reason == nil {
			return Prediction{}, ErrInferenceUnavailable
		}
		return Prediction{}, fmt.Errorf("%w: %w", ErrInferenceUnavailable, st.reason)
	default:
		return Prediction{}, ErrInferenceUnavailable
	}
}
