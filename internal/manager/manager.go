// Package manager drives one full load cycle: station-code directory, then
// channel catalog matched against it, then guide sources for the station ids
// the catalog actually uses. The serialized playlist and EPG come out the
// other end.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ryan-russell-ca/m3u-epg/internal/catalog"
	"github.com/ryan-russell-ca/m3u-epg/internal/codes"
	"github.com/ryan-russell-ca/m3u-epg/internal/config"
	"github.com/ryan-russell-ca/m3u-epg/internal/fetch"
	"github.com/ryan-russell-ca/m3u-epg/internal/fuzzy"
	"github.com/ryan-russell-ca/m3u-epg/internal/guide"
	"github.com/ryan-russell-ca/m3u-epg/internal/metrics"
	"github.com/ryan-russell-ca/m3u-epg/internal/store"
)

// Manager wires the three data layers together. Concurrent Load calls are
// serialized; read accessors are safe alongside a running load.
type Manager struct {
	cfg *config.Config

	codes   *codes.Directory
	catalog *catalog.Builder
	guide   *guide.Reconciler

	mu      sync.Mutex
	matcher *fuzzy.Matcher
}

// New builds a Manager and its layers from cfg.
func New(cfg *config.Config, fetcher *fetch.Fetcher, db store.Store) *Manager {
	return &Manager{
		cfg: cfg,
		codes: codes.New(codes.Config{
			SourceURL:    cfg.CodesURL,
			FallbackPath: cfg.CodesFile,
			Countries:    cfg.Countries,
			Lifetime:     cfg.CodesLifetime,
		}, fetcher, db),
		catalog: catalog.New(catalog.Config{
			SourceURL:       cfg.PlaylistURL,
			FallbackPath:    cfg.PlaylistFile,
			ConfirmedPath:   cfg.ConfirmedFile,
			KeepAllVariants: cfg.KeepAllVariants,
			Lifetime:        cfg.CatalogLifetime,
		}, fetcher, db),
		guide: guide.New(guide.Config{
			AheadWindow:  cfg.GuideAhead,
			BehindWindow: cfg.GuideBehind,
			HonorOffset:  cfg.HonorOffset,
			Lifetime:     cfg.GuideLifetime,
			CacheDir:     cfg.CacheDir,
			CustomPath:   cfg.CustomGuideFile,
		}, fetcher, db),
	}
}

// Load runs one full cycle. Idempotent while every layer is fresh;
// refresh forces all three layers to rebuild.
func (m *Manager) Load(ctx context.Context, refresh bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reloaded, err := m.codes.Load(ctx, refresh)
	observeLayer("codes", reloaded, err)
	if err != nil {
		return fmt.Errorf("manager: station codes: %w", err)
	}
	snapshot, err := m.codes.Snapshot()
	if err != nil {
		return err
	}
	if reloaded || m.matcher == nil {
		m.matcher = fuzzy.NewMatcher(snapshot)
	}

	reloaded, err = m.catalog.Load(ctx, m.matcher, refresh)
	observeLayer("catalog", reloaded, err)
	if err != nil {
		return fmt.Errorf("manager: catalog: %w", err)
	}
	if reloaded {
		m.observeCatalog()
	}

	ids, err := m.catalog.StationIDs()
	if err != nil {
		return err
	}
	urls := selectGuideURLs(snapshot, ids)
	for _, url := range urls {
		loaded, err := m.guide.Load(ctx, url, ids, refresh)
		switch {
		case errors.Is(err, guide.ErrSourceInvalid):
			metrics.SourceErrors.Inc()
			log.Printf("manager: guide source %s has no usable data", url)
		case err != nil:
			metrics.SourceErrors.Inc()
			metrics.LoadCycles.WithLabelValues("guide", "error").Inc()
			log.Printf("manager: guide source %s excluded: %v", url, err)
		case loaded:
			metrics.LoadCycles.WithLabelValues("guide", "reloaded").Inc()
		default:
			metrics.LoadCycles.WithLabelValues("guide", "fresh").Inc()
		}
	}
	return nil
}

func observeLayer(layer string, reloaded bool, err error) {
	switch {
	case err != nil:
		metrics.LoadCycles.WithLabelValues(layer, "error").Inc()
	case reloaded:
		metrics.LoadCycles.WithLabelValues(layer, "reloaded").Inc()
	default:
		metrics.LoadCycles.WithLabelValues(layer, "fresh").Inc()
	}
}

func (m *Manager) observeCatalog() {
	records, err := m.catalog.Records()
	if err != nil {
		return
	}
	metrics.CatalogChannels.Set(float64(len(records)))
	var matched int
	for _, rec := range records {
		if rec.CanonicalID == "" {
			continue
		}
		matched++
		if rec.Confidence > 0 {
			metrics.MatchConfidence.Observe(rec.Confidence)
		}
	}
	metrics.CatalogMatched.Set(float64(matched))
}

// selectGuideURLs picks one guide URL per station id. A code whose URL list
// intersects an already-selected URL reuses it, consolidating sources;
// otherwise its first guide URL is taken.
func selectGuideURLs(snapshot []codes.StationCode, ids []string) []string {
	byID := make(map[string]codes.StationCode, len(snapshot))
	for _, code := range snapshot {
		byID[fuzzy.NormalizeID(code.StationID)] = code
	}
	selected := make(map[string]struct{})
	var urls []string
	for _, id := range ids {
		code, ok := byID[fuzzy.NormalizeID(id)]
		if !ok || len(code.GuideURLs) == 0 {
			continue
		}
		reused := false
		for _, u := range code.GuideURLs {
			if _, ok := selected[u]; ok {
				reused = true
				break
			}
		}
		if reused {
			continue
		}
		u := code.GuideURLs[0]
		selected[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

// Playlist returns the catalog serialized as M3U text.
func (m *Manager) Playlist() (string, error) {
	return m.catalog.M3U()
}

// EPG returns the merged guide serialized as XMLTV text.
func (m *Manager) EPG() (string, error) {
	return m.guide.XMLTV()
}
