package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-books-pipeline/lock"
	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/store"
)

// CatalogLoader replaces the store contents with a complete normalized crawl.
// Loads against the same store are serialized through a lock keyed on the
// store name.
type CatalogLoader struct {
	catalog store.Catalog
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCatalogLoader builds a loader for catalog. A nil locker uses an
// in-process KeyedMutex.
func NewCatalogLoader(catalog store.Catalog, locker lock.Locker, m *metrics.Metrics, logger *slog.Logger) *CatalogLoader {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogLoader{catalog: catalog, locker: locker, metrics: m, logger: logger}
}

// Key is the lock key guarding the store.
func (l *CatalogLoader) Key() string {
	return "catalog:" + l.catalog.Name()
}

// Load swaps the stored catalog for books. Every error wraps ErrLoad and
// leaves the previous contents in place.
func (l *CatalogLoader) Load(ctx context.Context, books []models.Book) (int, error) {
	key := l.Key()
	release, err := l.locker.Lock(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: acquire %s: %w", ErrLoad, key, err)
	}
	defer release()

	started := time.Now()
	n, err := l.catalog.ReplaceAll(ctx, books)
	if err != nil {
		l.logger.Error("catalog load rolled back", slog.String("store", l.catalog.Name()), slog.Any("error", err))
		return 0, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	l.metrics.ObserveLoad(time.Since(started), n)
	l.logger.Info("catalog replaced", slog.String("store", l.catalog.Name()), slog.Int("records", n))
	return n, nil
}
