package catalog

import (
	"bufio"
	"io"
	"strings"

	"github.com/ryan-russell-ca/m3u-epg/internal/textnorm"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// ParseM3U parses playlist text in a streaming fashion, pairing each
// #EXTINF line with the stream URL that follows it. Entries missing any of
// group-title, tvg-id, tvg-logo, or a display name produce no record.
func ParseM3U(r io.Reader) ([]ChannelRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	var out []ChannelRecord
	var extinf string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			extinf = line
			continue
		}
		if extinf != "" && (strings.HasPrefix(line, "http") || strings.HasPrefix(line, "/")) {
			if rec, ok := recordFromEXTINF(extinf, line); ok {
				out = append(out, rec)
			}
		}
		extinf = ""
	}
	return out, sc.Err()
}

// recordFromEXTINF builds a ChannelRecord from one EXTINF/URL pair. The
// tvg-id attribute seeds CanonicalID as a matching hint; enrichment replaces
// it with the matched station code.
func recordFromEXTINF(extinf, url string) (ChannelRecord, bool) {
	group, okGroup := attr(extinf, "group-title")
	id, okID := attr(extinf, "tvg-id")
	logo, okLogo := attr(extinf, "tvg-logo")
	name := displayName(extinf)
	if !okGroup || !okID || !okLogo || name == "" {
		return ChannelRecord{}, false
	}
	split, ok := textnorm.SplitDefinition(name)
	if !ok {
		return ChannelRecord{}, false
	}
	rec := ChannelRecord{
		Group:          group,
		CanonicalID:    id,
		Logo:           logo,
		Name:           split.Name,
		OriginalName:   name,
		NormalizedName: textnorm.NormalizedName(name),
		URL:            url,
		DefinitionTag:  split.Definition.String(),
		Region:         textnorm.InferRegion(name),
	}
	if code := textnorm.InferStationCode(name); code != "" {
		rec.CandidateIDs = append(rec.CandidateIDs, code)
	}
	return rec, true
}

// attr extracts key="value" from an EXTINF line. ok is false when the
// attribute is absent entirely; an empty value is still present.
func attr(extinf, key string) (string, bool) {
	prefix := key + `="`
	i := strings.Index(extinf, prefix)
	if i < 0 {
		return "", false
	}
	rest := extinf[i+len(prefix):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// displayName returns the text after the attribute list's closing comma.
func displayName(extinf string) string {
	if i := strings.LastIndex(extinf, `",`); i >= 0 {
		return strings.TrimSpace(extinf[i+2:])
	}
	if i := strings.Index(extinf, ","); i >= 0 {
		return strings.TrimSpace(extinf[i+1:])
	}
	return ""
}
