package cache

import (
	"path/filepath"
	"testing"
)

func TestPath_stable(t *testing.T) {
	p1 := Path("/cache", "http://host/playlist.m3u")
	p2 := Path("/cache", "http://host/playlist.m3u")
	if p1 != p2 {
		t.Errorf("Path should be stable: %q vs %q", p1, p2)
	}
}

func TestPath_sanitized(t *testing.T) {
	p := Path("/cache", "http://host/guide.xml?days=2")
	base := filepath.Base(p)
	if base != "http_host_guide.xml_days_2.txt" {
		t.Errorf("URL should be sanitized: %s", base)
	}
}

func TestPath_empty(t *testing.T) {
	p := Path("/cache", "")
	if filepath.Base(p) != "unknown.txt" {
		t.Errorf("empty id: %s", p)
	}
}
