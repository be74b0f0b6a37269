// Package store is the generic document store backing the catalog, the
// station-code directory, and guide sources. Documents are JSON blobs keyed
// by (collection, key); the interface is find / findOne / bulkUpsert /
// create, nothing schema-specific.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("store: document not found")

// Record is one stored document.
type Record struct {
	Key       string
	Doc       []byte // JSON
	UpdatedAt time.Time
}

// Store defines persistence for document collections.
type Store interface {
	// Find returns every document in the collection.
	Find(ctx context.Context, collection string) ([]Record, error)
	// FindOne returns the document with the given key, or ErrNotFound.
	FindOne(ctx context.Context, collection, key string) (Record, error)
	// BulkUpsert inserts or replaces all records by key. Idempotent:
	// re-running with identical input produces identical stored state.
	BulkUpsert(ctx context.Context, collection string, recs []Record) error
	// Create inserts a single document, replacing any existing one.
	Create(ctx context.Context, collection string, rec Record) error
	// Close releases the backend.
	Close() error
}

// Open returns a Store for the given driver ("memory", "sqlite", "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// PutDoc marshals v and upserts it under (collection, key).
func PutDoc[T any](ctx context.Context, s Store, collection, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", collection, key, err)
	}
	return s.Create(ctx, collection, Record{Key: key, Doc: data, UpdatedAt: time.Now()})
}

// GetDoc fetches (collection, key) and unmarshals it into T.
// ok is false when the document does not exist.
func GetDoc[T any](ctx context.Context, s Store, collection, key string) (T, bool, error) {
	var zero T
	rec, err := s.FindOne(ctx, collection, key)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(rec.Doc, &v); err != nil {
		return zero, false, fmt.Errorf("store: unmarshal %s/%s: %w", collection, key, err)
	}
	return v, true, nil
}
