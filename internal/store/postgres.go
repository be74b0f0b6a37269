package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store using PostgreSQL. For deployments sharing the
// document store across processes; SQLite remains the single-host default.
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, key)
)`

// OpenPostgres connects to dsn, verifies the connection, and ensures the
// documents table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Find(ctx context.Context, collection string) ([]Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, doc, updated_at FROM documents WHERE collection = $1 ORDER BY key`, collection)
	if err != nil {
		return nil, fmt.Errorf("store: find %s: %w", collection, err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Doc, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", collection, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) FindOne(ctx context.Context, collection, key string) (Record, error) {
	rec := Record{Key: key}
	err := p.pool.QueryRow(ctx,
		`SELECT doc, updated_at FROM documents WHERE collection = $1 AND key = $2`, collection, key).
		Scan(&rec.Doc, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: findOne %s/%s: %w", collection, key, err)
	}
	return rec, nil
}

func (p *Postgres) BulkUpsert(ctx context.Context, collection string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(
			`INSERT INTO documents (collection, key, doc, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (collection, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
			collection, rec.Key, rec.Doc, rec.UpdatedAt)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: bulk upsert %s: %w", collection, err)
		}
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, collection string, rec Record) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO documents (collection, key, doc, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		collection, rec.Key, rec.Doc, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create %s/%s: %w", collection, rec.Key, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
