// Package store persists the normalized catalog. Every write replaces the
// whole catalog inside one transaction.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-books-pipeline/models"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("store: record not found")

// Catalog is the book store shared by the loader, the extractor and the API.
type Catalog interface {
	// ReplaceAll atomically swaps the stored catalog for books and returns the
	// number of records written. On error the previous contents remain.
	ReplaceAll(ctx context.Context, books []models.Book) (int, error)
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, id int64) (models.StoredBook, error)
	// Each calls fn for every stored record in id order. A non-nil error from
	// fn stops the iteration and is returned.
	Each(ctx context.Context, fn func(models.StoredBook) error) error
	// Name identifies the underlying database. Locks are keyed on it.
	Name() string
	Close() error
}

// Open connects to the catalog named by dsn. postgres:// and postgresql://
// URLs select PostgreSQL; anything else is a SQLite file path.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if isPostgresDSN(dsn) {
		return OpenPostgres(ctx, dsn, logger)
	}
	return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), logger)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
