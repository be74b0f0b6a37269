package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on a local SQLite file via database/sql.
// This is the default persistent backend: no external service required.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	doc        TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (collection, key)
)`

// OpenSQLite opens (and creates if needed) the documents table at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "m3u-epg.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Find(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, doc, updated_at FROM documents WHERE collection = ? ORDER BY key`, collection)
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

func (s *SQLite) FindOne(ctx context.Context, collection, key string) (Record, error) {
	rec := Record{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, updated_at FROM documents WHERE collection = ? AND key = ?`, collection, key).
		Scan(&rec.Doc, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: findOne %s/%s: %w", collection, key, err)
	}
	return rec, nil
}

func (s *SQLite) BulkUpsert(ctx context.Context, collection string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (collection, key, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, collection, rec.Key, string(rec.Doc), rec.UpdatedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: upsert %s/%s: %w", collection, rec.Key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Create(ctx context.Context, collection string, rec Record) error {
	return s.BulkUpsert(ctx, collection, []Record{rec})
}

func (s *SQLite) Close() error { return s.db.Close() }
