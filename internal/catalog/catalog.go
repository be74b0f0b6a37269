// Package catalog builds the deduplicated channel catalog from raw M3U
// playlist text. Each playlist entry becomes a ChannelRecord enriched with a
// matched station code and confidence score; records are persisted keyed by
// stream URL and the whole catalog is cached with an expiration lifetime.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/ryan-russell-ca/m3u-epg/internal/expiry"
	"github.com/ryan-russell-ca/m3u-epg/internal/fetch"
	"github.com/ryan-russell-ca/m3u-epg/internal/fuzzy"
	"github.com/ryan-russell-ca/m3u-epg/internal/store"
	"github.com/ryan-russell-ca/m3u-epg/internal/textnorm"
)

// ErrNotLoaded is returned when channel data is read before Load.
var ErrNotLoaded = errors.New("catalog: not loaded")

const (
	channelCollection = "channels"
	docCollection     = "channel_catalog"
	docKey            = "records"
)

// ChannelRecord is one catalog entry. Identity key is URL, unique across the
// catalog. Created by parsing, enriched once by matching, then mutated only
// through a confirmed-mapping override or a full refresh.
type ChannelRecord struct {
	Group          string   `json:"group,omitempty"`
	CanonicalID    string   `json:"canonicalId,omitempty"`
	Logo           string   `json:"logo,omitempty"`
	Name           string   `json:"name"`
	OriginalName   string   `json:"originalName"`
	NormalizedName string   `json:"normalizedName"`
	URL            string   `json:"url"`
	Country        string   `json:"country,omitempty"`
	DefinitionTag  string   `json:"definitionTag"`
	Region         string   `json:"region,omitempty"`
	CandidateIDs   []string `json:"candidateIds,omitempty"`
	Confirmed      bool     `json:"confirmed"`
	Confidence     float64  `json:"confidence,omitempty"`
}

// Override is one manually confirmed channel-to-code mapping, keyed by stream
// URL in the overrides file. An override wins unconditionally over matching.
type Override struct {
	CanonicalID string `json:"canonicalId"`
	Name        string `json:"name,omitempty"`
	Logo        string `json:"logo,omitempty"`
	Country     string `json:"country,omitempty"`
}

// Config for a Builder.
type Config struct {
	SourceURL     string
	FallbackPath  string // local playlist used when the URL is unreachable
	ConfirmedPath string // optional confirmed-mappings JSON file

	// KeepAllVariants disables core-name deduplication, keeping every
	// definition and region variant of a channel.
	KeepAllVariants bool

	Lifetime time.Duration // catalog lifetime before refetch
	Clock    expiry.Clock  // nil = time.Now
}

// Builder holds the cached channel catalog.
type Builder struct {
	cfg     Config
	fetcher *fetch.Fetcher
	db      store.Store

	mu     sync.RWMutex
	doc    expiry.Document[[]ChannelRecord]
	loaded bool
}

// New returns an unloaded Builder.
func New(cfg Config, fetcher *fetch.Fetcher, db store.Store) *Builder {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 24 * time.Hour
	}
	return &Builder{cfg: cfg, fetcher: fetcher, db: db}
}

// Load ensures a fresh catalog is in memory, matching new records against m.
// Returns true when a (re)load actually happened, false when the cached
// catalog was still fresh. Resolution order: in-memory document, persisted
// document, playlist fetch.
func (b *Builder) Load(ctx context.Context, m *fuzzy.Matcher, refresh bool) (bool, error) {
	now := b.cfg.Clock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !refresh && b.loaded && b.doc.Fresh(now) {
		return false, nil
	}

	if !refresh {
		if doc, ok, err := store.GetDoc[expiry.Document[[]ChannelRecord]](ctx, b.db, docCollection, docKey); err != nil {
			return false, err
		} else if ok && doc.Fresh(now) {
			b.doc = doc
			b.loaded = true
			return true, nil
		}
	}

	body, err := b.fetcher.TextWithFallback(ctx, b.cfg.SourceURL, b.cfg.FallbackPath)
	if err != nil {
		return false, fmt.Errorf("catalog: fetch playlist: %w", err)
	}
	records, err := ParseM3U(strings.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("catalog: parse playlist: %w", err)
	}
	if !b.cfg.KeepAllVariants {
		records = uniqueOnly(records)
	}

	known, err := b.knownRecords(ctx)
	if err != nil {
		return false, err
	}
	overrides := loadOverrides(b.cfg.ConfirmedPath)
	for i := range records {
		enrich(&records[i], m, known, overrides)
	}
	log.Printf("catalog: loaded %d channels", len(records))

	if err := b.persist(ctx, records); err != nil {
		return false, err
	}
	b.doc = expiry.New(records, now, b.cfg.Lifetime)
	b.loaded = true
	if err := store.PutDoc(ctx, b.db, docCollection, docKey, b.doc); err != nil {
		return false, fmt.Errorf("catalog: persist catalog: %w", err)
	}
	return true, nil
}

// enrich assigns a station code to rec. Precedence: already-stored record by
// URL, then confirmed override, then fuzzy matching.
func enrich(rec *ChannelRecord, m *fuzzy.Matcher, known map[string]ChannelRecord, overrides map[string]Override) {
	if prev, ok := known[rec.URL]; ok {
		rec.CanonicalID = prev.CanonicalID
		rec.Country = prev.Country
		rec.Confirmed = prev.Confirmed
		rec.Confidence = prev.Confidence
		return
	}
	if ov, ok := overrides[rec.URL]; ok {
		rec.CanonicalID = ov.CanonicalID
		if ov.Name != "" {
			rec.Name = ov.Name
		}
		if ov.Logo != "" {
			rec.Logo = ov.Logo
		}
		if ov.Country != "" {
			rec.Country = ov.Country
		}
		rec.Confirmed = true
		rec.Confidence = 1.0
		return
	}
	if m == nil {
		return
	}
	best := matchRecord(rec, m)
	if best.Code == nil {
		return
	}
	rec.CanonicalID = best.Code.StationID
	rec.Country = best.Code.Country
	rec.Confidence = best.Score
	if rec.Logo == "" {
		rec.Logo = best.Code.Logo
	}
}

// matchRecord runs an id lookup and a name lookup separately (the matcher
// rejects combined queries) and keeps the higher-scoring result.
func matchRecord(rec *ChannelRecord, m *fuzzy.Matcher) fuzzy.Match {
	var best fuzzy.Match

	var ids []string
	if rec.CanonicalID != "" {
		ids = append(ids, rec.CanonicalID)
	}
	ids = append(ids, rec.CandidateIDs...)
	if len(ids) > 0 {
		if got, err := m.Match(fuzzy.Query{IDs: ids, Formatted: true}); err == nil && len(got) > 0 {
			best = got[0]
		}
	}

	names := []string{rec.Name, rec.NormalizedName, rec.OriginalName}
	if got, err := m.Match(fuzzy.Query{Names: names, Formatted: true}); err == nil && len(got) > 0 {
		if got[0].Score > best.Score {
			best = got[0]
		}
	}
	return best
}

// uniqueOnly keeps one record per core name, preferring the highest
// definition tier, then drops every record carrying a region marker so the
// generic feed survives over region-specific duplicates.
func uniqueOnly(records []ChannelRecord) []ChannelRecord {
	bestIdx := make(map[string]int)
	var order []string
	for i, rec := range records {
		key := strings.ToLower(rec.Name)
		j, seen := bestIdx[key]
		if !seen {
			bestIdx[key] = i
			order = append(order, key)
			continue
		}
		if betterVariant(rec, records[j]) {
			bestIdx[key] = i
		}
	}
	out := make([]ChannelRecord, 0, len(order))
	for _, key := range order {
		rec := records[bestIdx[key]]
		if regioned(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// betterVariant prefers the higher definition tier; on equal tiers a record
// without a region marker beats a regioned one, so the region drop that
// follows cannot eliminate a whole group.
func betterVariant(a, b ChannelRecord) bool {
	da, db := textnorm.ParseDefinition(a.DefinitionTag), textnorm.ParseDefinition(b.DefinitionTag)
	if da != db {
		return da > db
	}
	return !regioned(a) && regioned(b)
}

func regioned(rec ChannelRecord) bool {
	return rec.Region != "" && rec.Region != textnorm.RegionUnpopulated
}

func (b *Builder) knownRecords(ctx context.Context) (map[string]ChannelRecord, error) {
	recs, err := b.db.Find(ctx, channelCollection)
	if err != nil {
		return nil, fmt.Errorf("catalog: read stored channels: %w", err)
	}
	known := make(map[string]ChannelRecord, len(recs))
	for _, r := range recs {
		var cr ChannelRecord
		if err := json.Unmarshal(r.Doc, &cr); err != nil {
			return nil, fmt.Errorf("catalog: decode stored channel %s: %w", r.Key, err)
		}
		known[cr.URL] = cr
	}
	return known, nil
}

func (b *Builder) persist(ctx context.Context, records []ChannelRecord) error {
	now := time.Now()
	recs := make([]store.Record, 0, len(records))
	for _, cr := range records {
		doc, err := json.Marshal(cr)
		if err != nil {
			return fmt.Errorf("catalog: encode channel %s: %w", cr.URL, err)
		}
		recs = append(recs, store.Record{Key: cr.URL, Doc: doc, UpdatedAt: now})
	}
	if err := b.db.BulkUpsert(ctx, channelCollection, recs); err != nil {
		return fmt.Errorf("catalog: upsert channels: %w", err)
	}
	return nil
}

// loadOverrides reads the confirmed-mappings file. A missing file is not an
// error: it means no overrides exist yet.
func loadOverrides(path string) map[string]Override {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("catalog: read overrides %s: %v", path, err)
		}
		return nil
	}
	var overrides map[string]Override
	if err := json.Unmarshal(data, &overrides); err != nil {
		log.Printf("catalog: decode overrides %s: %v", path, err)
		return nil
	}
	return overrides
}

// Records returns the loaded channel records. The slice is shared and must
// be treated as read-only.
func (b *Builder) Records() ([]ChannelRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loaded {
		return nil, ErrNotLoaded
	}
	return b.doc.Data, nil
}

// StationIDs returns the distinct canonical station ids present in the
// catalog, in record order.
func (b *Builder) StationIDs() ([]string, error) {
	records, err := b.Records()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, rec := range records {
		if rec.CanonicalID == "" {
			continue
		}
		if _, ok := seen[rec.CanonicalID]; ok {
			continue
		}
		seen[rec.CanonicalID] = struct{}{}
		ids = append(ids, rec.CanonicalID)
	}
	return ids, nil
}

// Expired reports whether the in-memory catalog has passed its lifetime.
func (b *Builder) Expired() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.loaded || b.doc.Expired(b.cfg.Clock())
}

// M3U serializes the catalog as playlist text, channels sorted by display
// name with a locale-aware comparison.
func (b *Builder) M3U() (string, error) {
	records, err := b.Records()
	if err != nil {
		return "", err
	}
	sorted := make([]ChannelRecord, len(records))
	copy(sorted, records)
	coll := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(sorted, func(i, j int) bool {
		return coll.CompareString(sorted[i].Name, sorted[j].Name) < 0
	})

	var sb strings.Builder
	sb.WriteString("#EXTM3U \n")
	for i, rec := range sorted {
		fmt.Fprintf(&sb, "#EXTINF: -1 tvg-chno=\"%d\" group-title=\"%s\" tvg-id=\"%s\" tvg-logo=\"%s\", %s\n%s\n",
			i, rec.Group, rec.CanonicalID, rec.Logo, rec.Name, rec.URL)
	}
	return sb.String(), nil
}
