// Package guide reconciles XMLTV program-guide sources. Each source URL is
// fetched, validated, deduplicated, and filtered to a relevant time window,
// then cached with its own expiration. Valid sources merge into one XMLTV
// document; a local custom source is always included and never refreshed.
package guide

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ryan-russell-ca/m3u-epg/internal/cache"
	"github.com/ryan-russell-ca/m3u-epg/internal/expiry"
	"github.com/ryan-russell-ca/m3u-epg/internal/fetch"
	"github.com/ryan-russell-ca/m3u-epg/internal/store"
)

// ErrNotLoaded is returned when guide output is read before any source load.
var ErrNotLoaded = errors.New("guide: no sources loaded")

// ErrSourceInvalid marks a source that loaded but produced no usable
// channels or programmes. The source is excluded from merges.
var ErrSourceInvalid = errors.New("guide: source has no usable data")

const sourceCollection = "guide_sources"

// legacyYearCutoff is the sentinel for placeholder schedule data: programmes
// dated before it are kept regardless of the time window.
const legacyYearCutoff = 2011

// Config for a Reconciler.
type Config struct {
	AheadWindow  time.Duration // keep programmes starting up to this far ahead; default 48h
	BehindWindow time.Duration // keep programmes starting up to this far back; default 6h
	HonorOffset  bool          // apply timestamp offsets instead of treating them as UTC
	Lifetime     time.Duration // per-source lifetime before refetch; default 12h
	CacheDir     string        // optional fallback copies of fetched sources
	CustomPath   string        // optional local always-included source
	Clock        expiry.Clock  // nil = time.Now
}

// Reconciler holds per-source guide state.
type Reconciler struct {
	cfg     Config
	fetcher *fetch.Fetcher
	db      store.Store

	mu          sync.RWMutex
	sources     map[string]*source
	order       []string
	custom      *Guide
	customTried bool
}

type source struct {
	doc    expiry.Document[Guide]
	loaded bool
	valid  bool
}

// New returns a Reconciler with no sources loaded.
func New(cfg Config, fetcher *fetch.Fetcher, db store.Store) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AheadWindow <= 0 {
		cfg.AheadWindow = 48 * time.Hour
	}
	if cfg.BehindWindow <= 0 {
		cfg.BehindWindow = 6 * time.Hour
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 12 * time.Hour
	}
	return &Reconciler{cfg: cfg, fetcher: fetcher, db: db, sources: make(map[string]*source)}
}

// Load ensures the source at url is fresh, filtered to filterIDs when
// non-empty. Returns true when a (re)load actually happened. A source that
// loads but yields no channels or no programmes is marked invalid and
// reported as ErrSourceInvalid; it stays excluded from merges.
func (r *Reconciler) Load(ctx context.Context, url string, filterIDs []string, refresh bool) (bool, error) {
	now := r.cfg.Clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[url]
	if !ok {
		src = &source{}
		r.sources[url] = src
		r.order = append(r.order, url)
	}

	if !refresh && src.loaded && src.doc.Fresh(now) {
		return false, r.validity(src)
	}

	if !refresh {
		if doc, found, err := store.GetDoc[expiry.Document[Guide]](ctx, r.db, sourceCollection, url); err != nil {
			return false, err
		} else if found && doc.Fresh(now) {
			src.doc = doc
			src.loaded = true
			src.valid = len(doc.Data.Channels) > 0 && len(doc.Data.Programmes) > 0
			return true, r.validity(src)
		}
	}

	var fallback string
	if r.cfg.CacheDir != "" {
		fallback = cache.Path(r.cfg.CacheDir, url)
	}
	body, err := r.fetcher.TextWithFallback(ctx, url, fallback)
	if err != nil {
		src.valid = false
		return false, fmt.Errorf("guide: fetch %s: %w", url, err)
	}
	g, err := ParseXMLTVString(body)
	if err != nil {
		src.valid = false
		return false, err
	}
	g = filterChannels(g, filterIDs)
	g = dedupe(g)
	g.Programmes, err = filterWindow(g.Programmes, now, r.cfg.BehindWindow, r.cfg.AheadWindow, r.cfg.HonorOffset)
	if err != nil {
		src.valid = false
		return false, err
	}
	log.Printf("guide: loaded %s: %d channels, %d programmes", url, len(g.Channels), len(g.Programmes))

	src.doc = expiry.New(g, now, r.cfg.Lifetime)
	src.loaded = true
	src.valid = len(g.Channels) > 0 && len(g.Programmes) > 0
	if err := store.PutDoc(ctx, r.db, sourceCollection, url, src.doc); err != nil {
		return false, fmt.Errorf("guide: persist %s: %w", url, err)
	}
	return true, r.validity(src)
}

func (r *Reconciler) validity(src *source) error {
	if !src.valid {
		return ErrSourceInvalid
	}
	return nil
}

// LoadAll loads every url. Individual source failures are logged and the
// source stays excluded from merges; they never abort the other loads.
func (r *Reconciler) LoadAll(ctx context.Context, urls []string, filterIDs []string, refresh bool) {
	for _, url := range urls {
		if _, err := r.Load(ctx, url, filterIDs, refresh); err != nil {
			log.Printf("guide: source %s excluded: %v", url, err)
		}
	}
}

// Valid reports whether the source at url loaded usable data.
func (r *Reconciler) Valid(url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[url]
	return ok && src.loaded && src.valid
}

// XMLTV merges every valid source plus the custom source and serializes the
// result. Merging concatenates lists in source order; duplicates across
// sources are preserved, only per-source deduplication happens.
func (r *Reconciler) XMLTV() (string, error) {
	r.mu.Lock()
	r.ensureCustom()
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var merged Guide
	var any bool
	for _, url := range r.order {
		src := r.sources[url]
		if !src.loaded || !src.valid {
			continue
		}
		any = true
		merged.Channels = append(merged.Channels, src.doc.Data.Channels...)
		merged.Programmes = append(merged.Programmes, src.doc.Data.Programmes...)
	}
	if r.custom != nil {
		any = true
		merged.Channels = append(merged.Channels, r.custom.Channels...)
		merged.Programmes = append(merged.Programmes, r.custom.Programmes...)
	}
	if !any {
		return "", ErrNotLoaded
	}
	return MarshalXMLTV(merged)
}

// ensureCustom loads the local curated source once. It never expires and is
// never fetched over the network; a missing file just means no custom data.
func (r *Reconciler) ensureCustom() {
	if r.customTried || r.cfg.CustomPath == "" {
		return
	}
	r.customTried = true
	body, err := fetch.ReadFile(r.cfg.CustomPath)
	if err != nil {
		log.Printf("guide: custom source %s unavailable: %v", r.cfg.CustomPath, err)
		return
	}
	g, err := ParseXMLTVString(body)
	if err != nil {
		log.Printf("guide: custom source %s: %v", r.cfg.CustomPath, err)
		return
	}
	r.custom = &g
}

// filterChannels keeps only channels whose id is in ids, and programmes
// belonging to those channels. Empty ids keeps everything.
func filterChannels(g Guide, ids []string) Guide {
	if len(ids) == 0 {
		return g
	}
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	out := Guide{}
	for _, ch := range g.Channels {
		if _, ok := allowed[ch.ID]; ok {
			out.Channels = append(out.Channels, ch)
		}
	}
	for _, p := range g.Programmes {
		if _, ok := allowed[p.Channel]; ok {
			out.Programmes = append(out.Programmes, p)
		}
	}
	return out
}

// dedupe drops repeated channels by id and repeated programmes by
// (channel, start). First occurrence wins.
func dedupe(g Guide) Guide {
	out := Guide{}
	seenCh := make(map[string]struct{}, len(g.Channels))
	for _, ch := range g.Channels {
		if _, ok := seenCh[ch.ID]; ok {
			continue
		}
		seenCh[ch.ID] = struct{}{}
		out.Channels = append(out.Channels, ch)
	}
	type slot struct{ channel, start string }
	seenProg := make(map[slot]struct{}, len(g.Programmes))
	for _, p := range g.Programmes {
		key := slot{p.Channel, p.Start}
		if _, ok := seenProg[key]; ok {
			continue
		}
		seenProg[key] = struct{}{}
		out.Programmes = append(out.Programmes, p)
	}
	return out
}

// filterWindow keeps programmes starting within [now-behind, now+ahead].
// Programmes dated before legacyYearCutoff are always kept. A malformed
// timestamp fails the whole source.
func filterWindow(progs []Programme, now time.Time, behind, ahead time.Duration, honorOffset bool) ([]Programme, error) {
	lo, hi := now.Add(-behind), now.Add(ahead)
	out := make([]Programme, 0, len(progs))
	for _, p := range progs {
		fields, err := ParseDate(p.Start)
		if err != nil {
			return nil, err
		}
		if fields.Year < legacyYearCutoff {
			out = append(out, p)
			continue
		}
		start := fields.Instant(honorOffset)
		if start.Before(lo) || start.After(hi) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
