package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryan-russell-ca/m3u-epg/internal/codes"
	"github.com/ryan-russell-ca/m3u-epg/internal/fetch"
	"github.com/ryan-russell-ca/m3u-epg/internal/fuzzy"
	"github.com/ryan-russell-ca/m3u-epg/internal/store"
)

const loadPlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="" tvg-logo="http://logo/ctv.png" group-title="CANADA",CTV Montreal HD
http://stream/ctv-hd
#EXTINF:-1 tvg-id="" tvg-logo="http://logo/ctv.png" group-title="CANADA",CTV Montreal FHD
http://stream/ctv-fhd
#EXTINF:-1 tvg-id="" tvg-logo="http://logo/tsn.png" group-title="SPORTS",TSN1
http://stream/tsn1
`

func playlistServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(loadPlaylist))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testMatcher() *fuzzy.Matcher {
	return fuzzy.NewMatcher([]codes.StationCode{
		{StationID: "CFCF.ca", DisplayName: "CTV Montreal", Country: "CA", Logo: "http://codes/cfcf.png"},
		{StationID: "TSN1.ca", DisplayName: "TSN 1", Country: "CA"},
	})
}

func TestLoad_matchesAndDeduplicates(t *testing.T) {
	srv := playlistServer(t, nil)
	b := New(Config{SourceURL: srv.URL}, fetch.New(fetch.Options{}), store.NewMemory())

	loaded, err := b.Load(context.Background(), testMatcher(), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded {
		t.Fatal("first Load should report a reload")
	}

	records, err := b.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 after dedupe: %+v", len(records), records)
	}

	ctv := records[0]
	if ctv.URL != "http://stream/ctv-fhd" {
		t.Errorf("dedupe kept %q, want the FHD variant", ctv.URL)
	}
	if ctv.CanonicalID != "CFCF.ca" {
		t.Errorf("canonical id = %q, want CFCF.ca", ctv.CanonicalID)
	}
	if ctv.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0 for a verbatim directory name", ctv.Confidence)
	}
	if ctv.Country != "CA" {
		t.Errorf("country = %q", ctv.Country)
	}
}

func TestLoad_freshIsNoOp(t *testing.T) {
	var hits atomic.Int32
	srv := playlistServer(t, &hits)
	b := New(Config{SourceURL: srv.URL, Lifetime: time.Hour}, fetch.New(fetch.Options{}), store.NewMemory())

	if _, err := b.Load(context.Background(), testMatcher(), false); err != nil {
		t.Fatal(err)
	}
	loaded, err := b.Load(context.Background(), testMatcher(), false)
	if err != nil {
		t.Fatal(err)
	}
	if loaded {
		t.Error("second Load should be a no-op while fresh")
	}
	if hits.Load() != 1 {
		t.Errorf("playlist fetched %d times, want 1", hits.Load())
	}
}

func TestLoad_refreshRefetches(t *testing.T) {
	var hits atomic.Int32
	srv := playlistServer(t, &hits)
	b := New(Config{SourceURL: srv.URL, Lifetime: time.Hour}, fetch.New(fetch.Options{}), store.NewMemory())

	if _, err := b.Load(context.Background(), testMatcher(), false); err != nil {
		t.Fatal(err)
	}
	loaded, err := b.Load(context.Background(), testMatcher(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded || hits.Load() != 2 {
		t.Errorf("refresh should refetch: loaded=%v hits=%d", loaded, hits.Load())
	}
}

func TestLoad_storedRecordWins(t *testing.T) {
	srv := playlistServer(t, nil)
	db := store.NewMemory()

	prev := ChannelRecord{URL: "http://stream/tsn1", CanonicalID: "MANUAL.ca", Confirmed: true, Confidence: 1.0}
	doc, _ := json.Marshal(prev)
	if err := db.Create(context.Background(), channelCollection, store.Record{Key: prev.URL, Doc: doc}); err != nil {
		t.Fatal(err)
	}

	b := New(Config{SourceURL: srv.URL}, fetch.New(fetch.Options{}), db)
	if _, err := b.Load(context.Background(), testMatcher(), false); err != nil {
		t.Fatal(err)
	}
	records, _ := b.Records()
	for _, rec := range records {
		if rec.URL == prev.URL {
			if rec.CanonicalID != "MANUAL.ca" || !rec.Confirmed {
				t.Errorf("stored enrichment not carried: %+v", rec)
			}
			return
		}
	}
	t.Fatal("tsn1 record missing")
}

func TestLoad_confirmedOverrideWins(t *testing.T) {
	srv := playlistServer(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "confirmed.json")
	overrides := map[string]Override{
		"http://stream/tsn1": {CanonicalID: "OVRD.ca", Name: "TSN One"},
	}
	data, _ := json.Marshal(overrides)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	b := New(Config{SourceURL: srv.URL, ConfirmedPath: path}, fetch.New(fetch.Options{}), store.NewMemory())
	if _, err := b.Load(context.Background(), testMatcher(), false); err != nil {
		t.Fatal(err)
	}
	records, _ := b.Records()
	for _, rec := range records {
		if rec.URL == "http://stream/tsn1" {
			if rec.CanonicalID != "OVRD.ca" || rec.Name != "TSN One" || !rec.Confirmed || rec.Confidence != 1.0 {
				t.Errorf("override not applied: %+v", rec)
			}
			return
		}
	}
	t.Fatal("tsn1 record missing")
}

func TestLoad_missingOverrideFileIsNonFatal(t *testing.T) {
	srv := playlistServer(t, nil)
	b := New(Config{SourceURL: srv.URL, ConfirmedPath: "/nonexistent/confirmed.json"}, fetch.New(fetch.Options{}), store.NewMemory())
	if _, err := b.Load(context.Background(), testMatcher(), false); err != nil {
		t.Fatalf("missing overrides file should not fail the load: %v", err)
	}
}

func TestRecords_beforeLoad(t *testing.T) {
	b := New(Config{}, fetch.New(fetch.Options{}), store.NewMemory())
	if _, err := b.Records(); err != ErrNotLoaded {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
	if _, err := b.M3U(); err != ErrNotLoaded {
		t.Fatalf("M3U err = %v, want ErrNotLoaded", err)
	}
}

func TestM3U_roundTrip(t *testing.T) {
	srv := playlistServer(t, nil)
	b := New(Config{SourceURL: srv.URL}, fetch.New(fetch.Options{}), store.NewMemory())
	if _, err := b.Load(context.Background(), testMatcher(), false); err != nil {
		t.Fatal(err)
	}

	out, err := b.M3U()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "#EXTM3U \n") {
		t.Errorf("missing header: %q", out[:20])
	}

	reparsed, err := ParseM3U(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	records, _ := b.Records()
	if len(reparsed) != len(records) {
		t.Fatalf("round trip lost records: %d vs %d", len(reparsed), len(records))
	}
	byURL := make(map[string]ChannelRecord)
	for _, rec := range reparsed {
		byURL[rec.URL] = rec
	}
	for _, want := range records {
		got, ok := byURL[want.URL]
		if !ok {
			t.Errorf("url %q missing after round trip", want.URL)
			continue
		}
		if got.Name != want.Name || got.Group != want.Group || got.Logo != want.Logo || got.CanonicalID != want.CanonicalID {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
		}
	}
}

func TestM3U_sortedByName(t *testing.T) {
	srv := playlistServer(t, nil)
	b := New(Config{SourceURL: srv.URL}, fetch.New(fetch.Options{}), store.NewMemory())
	if _, err := b.Load(context.Background(), testMatcher(), false); err != nil {
		t.Fatal(err)
	}
	out, _ := b.M3U()
	ctv := strings.Index(out, "CTV Montreal")
	tsn := strings.Index(out, "TSN1")
	if ctv < 0 || tsn < 0 || ctv > tsn {
		t.Errorf("channels not sorted by name:\n%s", out)
	}
}
