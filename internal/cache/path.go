package cache

import (
	"path/filepath"
	"strings"
)

// Path returns the local fallback file for a source. Stable: the same
// sourceID always maps to the same path, so a successful fetch leaves a file
// the next failed fetch can fall back to.
func Path(cacheDir, sourceID string) string {
	return filepath.Join(cacheDir, "sources", sanitizeID(sourceID)+".txt")
}

func sanitizeID(id string) string {
	s := strings.ReplaceAll(id, "://", "_")
	for _, c := range []string{"/", "\\", ":", "?", "&", "=", "\x00"} {
		s = strings.ReplaceAll(s, c, "_")
	}
	if s == "" {
		s = "unknown"
	}
	return s
}
