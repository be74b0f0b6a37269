package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryan-russell-ca/m3u-epg/internal/codes"
	"github.com/ryan-russell-ca/m3u-epg/internal/config"
	"github.com/ryan-russell-ca/m3u-epg/internal/fetch"
	"github.com/ryan-russell-ca/m3u-epg/internal/store"
)

func serve(t *testing.T, body func() string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(body()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testManager(t *testing.T) (*Manager, *atomic.Int32, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var guideHits, codesHits, playlistHits atomic.Int32

	now := time.Now().UTC()
	guideSrv := serve(t, func() string {
		return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" ?>
<tv>
  <channel id="CFCF.ca"><display-name>CTV Montreal</display-name></channel>
  <channel id="OTHER.ca"><display-name>Other</display-name></channel>
  <programme start="%s 0000" stop="%s 0000" channel="CFCF.ca"><title>Evening News</title></programme>
  <programme start="%s 0000" stop="%s 0000" channel="OTHER.ca"><title>Unrelated</title></programme>
</tv>
`, now.Add(time.Hour).Format("20060102150405"), now.Add(2*time.Hour).Format("20060102150405"),
			now.Add(time.Hour).Format("20060102150405"), now.Add(2*time.Hour).Format("20060102150405"))
	}, &guideHits)

	codesSrv := serve(t, func() string {
		directory := []codes.StationCode{
			{StationID: "CFCF.ca", DisplayName: "CTV Montreal", Country: "CA", GuideURLs: []string{guideSrv.URL}},
			{StationID: "OTHER.ca", DisplayName: "Other Channel", Country: "CA", GuideURLs: []string{guideSrv.URL}},
		}
		data, _ := json.Marshal(directory)
		return string(data)
	}, &codesHits)

	playlistSrv := serve(t, func() string {
		return `#EXTM3U
#EXTINF:-1 tvg-id="" tvg-logo="http://logo/ctv.png" group-title="CANADA",CTV Montreal HD
http://stream/ctv-hd
`
	}, &playlistHits)

	cfg := config.Default()
	cfg.CodesURL = codesSrv.URL
	cfg.PlaylistURL = playlistSrv.URL
	cfg.CacheDir = ""
	m := New(cfg, fetch.New(fetch.Options{}), store.NewMemory())
	return m, &codesHits, &playlistHits, &guideHits
}

func TestLoad_fullCycle(t *testing.T) {
	m, _, _, _ := testManager(t)
	if err := m.Load(context.Background(), false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	playlist, err := m.Playlist()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(playlist, `tvg-id="CFCF.ca"`) {
		t.Errorf("playlist missing matched station code:\n%s", playlist)
	}

	epg, err := m.EPG()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(epg, "Evening News") {
		t.Errorf("guide missing programme:\n%s", epg)
	}
	if strings.Contains(epg, "Unrelated") {
		t.Errorf("guide should be filtered to catalog station ids:\n%s", epg)
	}
}

func TestLoad_secondCycleIsFresh(t *testing.T) {
	m, codesHits, playlistHits, guideHits := testManager(t)
	if err := m.Load(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if codesHits.Load() != 1 || playlistHits.Load() != 1 || guideHits.Load() != 1 {
		t.Errorf("second cycle refetched: codes=%d playlist=%d guide=%d",
			codesHits.Load(), playlistHits.Load(), guideHits.Load())
	}
}

func TestLoad_refreshRebuildsAllLayers(t *testing.T) {
	m, codesHits, playlistHits, guideHits := testManager(t)
	if err := m.Load(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if codesHits.Load() != 2 || playlistHits.Load() != 2 || guideHits.Load() != 2 {
		t.Errorf("refresh should rebuild all layers: codes=%d playlist=%d guide=%d",
			codesHits.Load(), playlistHits.Load(), guideHits.Load())
	}
}

func TestSelectGuideURLs_consolidates(t *testing.T) {
	snapshot := []codes.StationCode{
		{StationID: "AAAA.ca", GuideURLs: []string{"http://guide/one.xml"}},
		{StationID: "BBBB.ca", GuideURLs: []string{"http://guide/two.xml", "http://guide/one.xml"}},
		{StationID: "CCCC.ca", GuideURLs: []string{"http://guide/three.xml"}},
	}
	urls := selectGuideURLs(snapshot, []string{"AAAA.ca", "BBBB.ca", "CCCC.ca"})
	if len(urls) != 2 {
		t.Fatalf("urls = %v, want consolidation to 2", urls)
	}
	if urls[0] != "http://guide/one.xml" || urls[1] != "http://guide/three.xml" {
		t.Errorf("urls = %v", urls)
	}
}

func TestSelectGuideURLs_unknownIDSkipped(t *testing.T) {
	snapshot := []codes.StationCode{
		{StationID: "AAAA.ca", GuideURLs: []string{"http://guide/one.xml"}},
	}
	urls := selectGuideURLs(snapshot, []string{"AAAA.ca", "ZZZZ.ca"})
	if len(urls) != 1 {
		t.Errorf("urls = %v", urls)
	}
}
