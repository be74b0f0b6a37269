// Package codes maintains the station-code directory: the external mapping
// from canonical channel identities (tvg-id style codes) to display names,
// logos, and candidate guide URLs. The directory is fetched as JSON, filtered
// to the configured countries, persisted in the document store, and reloaded
// from source only when the cached document expires.
package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ryan-russell-ca/m3u-epg/internal/expiry"
	"github.com/ryan-russell-ca/m3u-epg/internal/fetch"
	"github.com/ryan-russell-ca/m3u-epg/internal/store"
)

// ErrNotLoaded is returned when the directory is read before Load.
var ErrNotLoaded = errors.New("codes: directory not loaded")

const (
	collection = "station_codes"
	docKey     = "directory"
)

// StationCode is one canonical channel identity. Immutable once loaded;
// matcher indices are built from a snapshot and never mutated after.
type StationCode struct {
	StationID   string   `json:"stationId"`
	DisplayName string   `json:"displayName"`
	Logo        string   `json:"logo,omitempty"`
	Country     string   `json:"country"`
	GuideURLs   []string `json:"guideUrls"`
}

// Config for a Directory.
type Config struct {
	SourceURL    string
	FallbackPath string        // local file used when the URL is unreachable
	Countries    []string      // lowercase 2-letter whitelist; empty = keep all
	Lifetime     time.Duration // document lifetime before refetch
	Clock        expiry.Clock  // nil = time.Now
}

// Directory holds the cached station-code snapshot.
type Directory struct {
	cfg     Config
	fetcher *fetch.Fetcher
	db      store.Store

	mu     sync.RWMutex
	doc    expiry.Document[[]StationCode]
	loaded bool
}

// New returns an unloaded Directory.
func New(cfg Config, fetcher *fetch.Fetcher, db store.Store) *Directory {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 24 * time.Hour
	}
	return &Directory{cfg: cfg, fetcher: fetcher, db: db}
}

// Load ensures a fresh directory is in memory. Returns true when a (re)load
// actually happened, false when the cached document was still fresh.
// Resolution order: in-memory document, persisted document, source fetch.
func (d *Directory) Load(ctx context.Context, refresh bool) (bool, error) {
	now := d.cfg.Clock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !refresh && d.loaded && d.doc.Fresh(now) {
		return false, nil
	}

	if !refresh {
		if doc, ok, err := store.GetDoc[expiry.Document[[]StationCode]](ctx, d.db, collection, docKey); err != nil {
			return false, err
		} else if ok && doc.Fresh(now) {
			d.doc = doc
			d.loaded = true
			return true, nil
		}
	}

	body, err := d.fetcher.TextWithFallback(ctx, d.cfg.SourceURL, d.cfg.FallbackPath)
	if err != nil {
		return false, fmt.Errorf("codes: fetch directory: %w", err)
	}
	entries, err := parse(body)
	if err != nil {
		return false, err
	}
	entries = filterCountries(entries, d.cfg.Countries)
	log.Printf("codes: loaded %d station codes", len(entries))

	d.doc = expiry.New(entries, now, d.cfg.Lifetime)
	d.loaded = true
	if err := store.PutDoc(ctx, d.db, collection, docKey, d.doc); err != nil {
		return false, fmt.Errorf("codes: persist directory: %w", err)
	}
	return true, nil
}

// Snapshot returns the loaded station codes. The slice is shared and must be
// treated as read-only; matcher construction copies what it needs.
func (d *Directory) Snapshot() ([]StationCode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.loaded {
		return nil, ErrNotLoaded
	}
	return d.doc.Data, nil
}

// Expired reports whether the in-memory document has passed its lifetime.
func (d *Directory) Expired() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.loaded || d.doc.Expired(d.cfg.Clock())
}

func parse(body string) ([]StationCode, error) {
	var entries []StationCode
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, fmt.Errorf("codes: parse directory: %w", err)
	}
	out := entries[:0]
	for _, e := range entries {
		if e.StationID == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func filterCountries(entries []StationCode, countries []string) []StationCode {
	if len(countries) == 0 {
		return entries
	}
	allowed := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		allowed[c] = struct{}{}
	}
	out := make([]StationCode, 0, len(entries))
	for _, e := range entries {
		if _, ok := allowed[strings.ToLower(e.Country)]; ok {
			out = append(out, e)
		}
	}
	return out
}
