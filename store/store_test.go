package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	s, err := OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBooks(prefix string, n int) []models.Book {
	books := make([]models.Book, n)
	for i := range books {
		books[i] = models.Book{
			Title:        fmt.Sprintf("%s %d", prefix, i+1),
			Price:        decimal.RequireFromString(fmt.Sprintf("%d.77", 10+i)),
			Rating:       models.Rating(i%5 + 1),
			Availability: "In stock",
			ImageURL:     fmt.Sprintf("https://books.toscrape.com/media/%s-%d.jpg", prefix, i+1),
		}
	}
	return books
}

func titles(t *testing.T, c Catalog) []string {
	t.Helper()
	var out []string
	err := c.Each(context.Background(), func(b models.StoredBook) error {
		out = append(out, b.Title)
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	return out
}

func TestOpenCreatesSchemaInWAL(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected wal, got %s", journalMode)
	}

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("new store has %d rows", n)
	}
}

func TestPragmasApplyToEveryConnection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.db.Conn(ctx)
	if err != nil {
		t.Fatalf("first conn: %v", err)
	}
	defer first.Close()
	second, err := s.db.Conn(ctx)
	if err != nil {
		t.Fatalf("second conn: %v", err)
	}
	defer second.Close()

	for i, conn := range []*sql.Conn{first, second} {
		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("conn %d: query busy_timeout: %v", i, err)
		}
		if timeout != 5000 {
			t.Errorf("conn %d: busy_timeout = %d, want 5000", i, timeout)
		}
	}
}

func TestMemoryStoreSharedAcrossConnections(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, MemoryPath, nil)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer s.Close()

	if _, err := s.ReplaceAll(ctx, sampleBooks("mem", 3)); err != nil {
		t.Fatalf("load: %v", err)
	}

	seen := 0
	err = s.Each(ctx, func(models.StoredBook) error {
		seen++
		n, err := s.Count(ctx)
		if err != nil {
			return err
		}
		if n != 3 {
			return fmt.Errorf("count = %d, want 3", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("count during each: %v", err)
	}
	if seen != 3 {
		t.Fatalf("each visited %d rows, want 3", seen)
	}
}

func TestMemoryStoresArePrivate(t *testing.T) {
	ctx := context.Background()
	a, err := OpenSQLite(ctx, MemoryPath, nil)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := OpenSQLite(ctx, MemoryPath, nil)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if _, err := a.ReplaceAll(ctx, sampleBooks("a", 2)); err != nil {
		t.Fatalf("load a: %v", err)
	}
	n, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("count b: %v", err)
	}
	if n != 0 {
		t.Fatalf("second memory store sees %d rows", n)
	}
}

func TestReplaceAllSwapsContents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ReplaceAll(ctx, sampleBooks("old", 7)); err != nil {
		t.Fatalf("first load: %v", err)
	}

	n, err := s.ReplaceAll(ctx, sampleBooks("new", 3))
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if n != 3 {
		t.Fatalf("loaded = %d, want 3", n)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	got := titles(t, s)
	for i, title := range got {
		if want := fmt.Sprintf("new %d", i+1); title != want {
			t.Fatalf("row %d = %q, want %q", i, title, want)
		}
	}
}

func TestReplaceAllFailureKeepsPreviousContents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *models.Book)
	}{
		{name: "empty title", mutate: func(b *models.Book) { b.Title = "" }},
		{name: "negative price", mutate: func(b *models.Book) { b.Price = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()

			if _, err := s.ReplaceAll(ctx, sampleBooks("old", 5)); err != nil {
				t.Fatalf("first load: %v", err)
			}

			next := sampleBooks("new", 6)
			tt.mutate(&next[4])
			if _, err := s.ReplaceAll(ctx, next); err == nil {
				t.Fatalf("expected insert failure")
			}

			got := titles(t, s)
			if len(got) != 5 {
				t.Fatalf("rows after failed load = %d, want 5", len(got))
			}
			if got[0] != "old 1" || got[4] != "old 5" {
				t.Fatalf("previous contents changed: %v", got)
			}
		})
	}
}

func TestGetReturnsStoredFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	books := sampleBooks("book", 2)
	books[1].Price = decimal.RequireFromString("51.77")
	books[1].Rating = models.RatingThree
	if _, err := s.ReplaceAll(ctx, books); err != nil {
		t.Fatalf("load: %v", err)
	}

	got, err := s.Get(ctx, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 2 || got.Title != "book 2" || got.Price != 51.77 || got.Rating != "Three" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ImageURL != books[1].ImageURL || got.Availability != "In stock" {
		t.Fatalf("unexpected row: %+v", got)
	}

	if _, err := s.Get(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: got %v, want ErrNotFound", err)
	}
}

func TestEachStopsOnCallbackError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.ReplaceAll(ctx, sampleBooks("book", 5)); err != nil {
		t.Fatalf("load: %v", err)
	}

	stop := errors.New("stop")
	seen := 0
	err := s.Each(ctx, func(models.StoredBook) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("each = %v, want stop", err)
	}
	if seen != 2 {
		t.Fatalf("seen = %d, want 2", seen)
	}

	if got := titles(t, s); len(got) != 5 {
		t.Fatalf("second pass saw %d rows, want 5", len(got))
	}
}

func TestOpenDispatchesOnDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(context.Background(), "sqlite://"+path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*SQLite); !ok {
		t.Fatalf("expected sqlite store, got %T", c)
	}
	if c.Name() != "sqlite:"+path {
		t.Fatalf("name = %q", c.Name())
	}

	if !isPostgresDSN("postgres://u@localhost/books") || !isPostgresDSN("postgresql://u@localhost/books") {
		t.Fatalf("postgres urls not recognised")
	}
	if isPostgresDSN("data/livraria.db") {
		t.Fatalf("file path treated as postgres")
	}
}

func TestPostgresReplaceAll(t *testing.T) {
	dsn := os.Getenv("BOOKS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOOKS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	if _, err := p.ReplaceAll(ctx, sampleBooks("old", 4)); err != nil {
		t.Fatalf("first load: %v", err)
	}
	broken := sampleBooks("new", 3)
	broken[2].Title = ""
	if _, err := p.ReplaceAll(ctx, broken); err == nil {
		t.Fatalf("expected insert failure")
	}
	if got := titles(t, p); len(got) != 4 || got[0] != "old 1" {
		t.Fatalf("previous contents changed: %v", got)
	}

	if _, err := p.ReplaceAll(ctx, sampleBooks("new", 2)); err != nil {
		t.Fatalf("second load: %v", err)
	}
	got, err := p.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "new 1" || got.Price != 10.77 {
		t.Fatalf("unexpected row: %+v", got)
	}
}
