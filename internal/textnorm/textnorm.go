// Package textnorm derives matching keys from raw playlist channel names.
//
// Provider names are noisy: "CA (West) : CTV Vancouver HD", "SPORTS: TSN1",
// "CFCN FHD". The helpers here split that noise into a core name used for
// deduplication, an inferred region, a definition tier, and a candidate
// call-sign style station code.
package textnorm

import (
	"regexp"
	"strings"
)

// Definition ranks a channel's resolution tier. Higher is better; used to
// prefer FHD > HD > SD when deduplicating channels sharing a core name.
type Definition int

const (
	DefinitionUnknown Definition = 0
	DefinitionSD      Definition = 1
	DefinitionHD      Definition = 2
	DefinitionFHD     Definition = 3
)

func (d Definition) String() string {
	switch d {
	case DefinitionFHD:
		return "FHD"
	case DefinitionHD:
		return "HD"
	case DefinitionSD:
		return "SD"
	default:
		return "UNKNOWN"
	}
}

// ParseDefinition maps a definition token to its tier. Unrecognised input
// (including "") maps to DefinitionUnknown.
func ParseDefinition(s string) Definition {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FHD":
		return DefinitionFHD
	case "HD":
		return DefinitionHD
	case "SD":
		return DefinitionSD
	default:
		return DefinitionUnknown
	}
}

// RegionUnpopulated is the sentinel for names carrying no region marker.
// Catalog deduplication keeps only unpopulated-region entries, so the
// sentinel must be a value, not an absence.
const RegionUnpopulated = "unpopulated"

var (
	// splitRe captures an optional "PREFIX:" or "XX (region) " lead-in, the
	// core name, and an optional trailing FHD/HD tag. SD never appears as a
	// suffix in source data; it is the fallback tier for explicit tags only.
	splitRe = regexp.MustCompile(`(?i)^((.*?:( *)?)|([A-Z]{2}\s?\((?P<region>.*?)\)\s)?)?(?P<name>.*?)(\s*)?(?P<definition>F?HD)?$`)

	regionLeadRe  = regexp.MustCompile(`^([A-Za-z]{2})\s?\((.*?)\)\s`)
	prefixLeadRe  = regexp.MustCompile(`^([A-Za-z]{2})\s*:`)
	stationCodeRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]{3}\b`)
)

// Split is the decomposition of a raw channel name.
type Split struct {
	Name       string     // core name: prefix/region and definition suffix stripped
	Definition Definition // trailing FHD/HD tag, DefinitionUnknown when absent
	Region     string     // region marker text, "" when absent
}

// SplitDefinition decomposes name into its core name, definition tier, and
// region marker. ok is false when no core name could be extracted (empty or
// all-noise input); such records are dropped during catalog parsing.
//
// The split is idempotent: re-applying it to the returned core name yields
// the same core name with no further definition tag.
func SplitDefinition(name string) (Split, bool) {
	m := splitRe.FindStringSubmatch(name)
	if m == nil {
		return Split{}, false
	}
	var s Split
	for i, group := range splitRe.SubexpNames() {
		switch group {
		case "name":
			s.Name = strings.TrimSpace(m[i])
		case "definition":
			s.Definition = ParseDefinition(m[i])
		case "region":
			s.Region = strings.TrimSpace(m[i])
		}
	}
	if s.Name == "" {
		return Split{}, false
	}
	return s, true
}

// NormalizedName lowercases name and strips a leading "PREFIX:" segment
// (everything before the first colon) when present. The result is the
// fuzzy-match key for display-name lookups.
func NormalizedName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if i := strings.Index(s, ":"); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	return s
}

// InferRegion extracts a two-letter region code from a leading
// "XX (region) : rest" or "XX:" marker. Names without a marker return
// RegionUnpopulated (never ""): the catalog's region filter keys on the
// sentinel to keep generic feeds.
func InferRegion(name string) string {
	name = strings.TrimSpace(name)
	if m := regionLeadRe.FindStringSubmatch(name); m != nil {
		return strings.ToLower(m[1])
	}
	if m := prefixLeadRe.FindStringSubmatch(name); m != nil {
		return strings.ToLower(m[1])
	}
	return RegionUnpopulated
}

// InferStationCode returns a call-sign style token embedded in name: four
// uppercase alphanumerics starting with a letter (e.g. "CFCN", "WXYZ").
// Returns "" when the name carries no such token.
func InferStationCode(name string) string {
	return stationCodeRe.FindString(name)
}
