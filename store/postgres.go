package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres is the catalog store backed by a PostgreSQL database.
type Postgres struct {
	pool   *pgxpool.Pool
	name   string
	logger *slog.Logger
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	name := fmt.Sprintf("postgres:%s:%d/%s", cfg.ConnConfig.Host, cfg.ConnConfig.Port, cfg.ConnConfig.Database)
	logger.Debug("postgres catalog opened", slog.String("name", name))
	return &Postgres{pool: pool, name: name, logger: logger}, nil
}

// Name identifies the server and database.
func (p *Postgres) Name() string {
	return p.name
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// ReplaceAll truncates the table and inserts books as one batch inside a
// single transaction.
func (p *Postgres) ReplaceAll(ctx context.Context, books []models.Book) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE books RESTART IDENTITY`); err != nil {
		return 0, fmt.Errorf("clear books: %w", err)
	}

	b := &pgx.Batch{}
	for _, book := range books {
		b.Queue(`
			INSERT INTO books (title, price, rating, availability, image_url)
			VALUES ($1, $2, $3, $4, $5)`,
			book.Title,
			book.Price.InexactFloat64(),
			book.Rating.String(),
			book.Availability,
			book.ImageURL,
		)
	}

	br := tx.SendBatch(ctx, b)
	for i := range books {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert book %d %q: %w", i, books[i].Title, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(books), nil
}

// Count returns the number of stored records.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

// Get returns the record with the given id.
func (p *Postgres) Get(ctx context.Context, id int64) (models.StoredBook, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, price::float8, rating, availability, image_url
		FROM books WHERE id = $1`, id)
	book, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StoredBook{}, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.StoredBook{}, fmt.Errorf("get book %d: %w", id, err)
	}
	return book, nil
}

// Each streams every record in id order.
func (p *Postgres) Each(ctx context.Context, fn func(models.StoredBook) error) error {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, price::float8, rating, availability, image_url
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
