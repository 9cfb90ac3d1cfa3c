package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// SQLite is the file-backed catalog store.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// MemoryPath opens a private in-memory catalog.
const MemoryPath = ":memory:"

// OpenSQLite opens (creating if needed) the catalog database at path.
// MemoryPath gives each call its own shared-cache database, so every pooled
// connection sees the same tables.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	memory := path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, memory))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if memory {
		// The database lives only while a connection is open.
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	logger.Debug("sqlite catalog opened", slog.String("path", path))
	return &SQLite{db: db, path: path, logger: logger}, nil
}

// sqliteDSN carries the connection pragmas in the DSN so the driver applies
// them to every pooled connection, not just the first.
func sqliteDSN(path string, memory bool) string {
	pragmas := url.Values{}
	pragmas.Add("_pragma", "busy_timeout(5000)")
	pragmas.Add("_pragma", "synchronous(NORMAL)")
	if memory {
		pragmas.Set("mode", "memory")
		pragmas.Set("cache", "shared")
		return "file:catalog-" + uuid.NewString() + "?" + pragmas.Encode()
	}
	pragmas.Add("_pragma", "journal_mode(WAL)")
	return path + "?" + pragmas.Encode()
}

// Name returns the database path.
func (s *SQLite) Name() string {
	return "sqlite:" + s.path
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ReplaceAll deletes every row and inserts books in order inside a single
// transaction. Row ids restart at 1.
func (s *SQLite) ReplaceAll(ctx context.Context, books []models.Book) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM books`); err != nil {
		return 0, fmt.Errorf("clear books: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO books (id, title, price, rating, availability, image_url)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, book := range books {
		_, err := stmt.ExecContext(ctx,
			int64(i+1),
			book.Title,
			book.Price.InexactFloat64(),
			book.Rating.String(),
			book.Availability,
			book.ImageURL,
		)
		if err != nil {
			return 0, fmt.Errorf("insert book %d %q: %w", i, book.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(books), nil
}

// Count returns the number of stored records.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

// Get returns the record with the given id.
func (s *SQLite) Get(ctx context.Context, id int64) (models.StoredBook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, price, rating, availability, image_url
		FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredBook{}, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.StoredBook{}, fmt.Errorf("get book %d: %w", id, err)
	}
	return book, nil
}

// Each streams every record in id order.
func (s *SQLite) Each(ctx context.Context, fn func(models.StoredBook) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, price, rating, availability, image_url
		FROM books ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return fmt.Errorf("scan book: %w", err)
		}
		if err := fn(book); err != nil {
			return err
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (models.StoredBook, error) {
	var b models.StoredBook
	err := row.Scan(&b.ID, &b.Title, &b.Price, &b.Rating, &b.Availability, &b.ImageURL)
	return b, err
}
