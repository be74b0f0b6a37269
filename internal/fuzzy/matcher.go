// Package fuzzy finds the best station code for a noisy channel id or
// display name. A Matcher is built once per station-code snapshot with two
// read-only indices (by id, by display name) and is safe for concurrent
// reads for the duration of a load cycle.
package fuzzy

import (
	"errors"
	"sort"
	"strings"

	"github.com/ryan-russell-ca/m3u-epg/internal/codes"
)

// ErrInvalidQuery is returned when a single lookup sets both IDs and Names.
var ErrInvalidQuery = errors.New("fuzzy: query must set ids or names, not both")

// Default minimum acceptable scores. Id lookups demand near-exact hits; name
// lookups tolerate more noise because display names vary across providers.
const (
	DefaultMinIDScore   = 0.8
	DefaultMinNameScore = 0.5
)

// Query describes one lookup.
type Query struct {
	IDs   []string // candidate ids, matched against the id index
	Names []string // candidate names, matched against the display-name index

	// Formatted resolves matches to full StationCode objects and merges
	// id- and name-matches into one list sorted descending by score.
	Formatted bool
	// ListAll keeps every match above threshold instead of the single
	// highest-scoring match per category.
	ListAll bool
}

// Match is one scored result. Code is populated only for formatted queries.
type Match struct {
	Score float64
	Key   string
	Code  *codes.StationCode
}

// Matcher holds the two indices over one station-code snapshot.
type Matcher struct {
	byID   *Set
	byName *Set

	idCodes   map[string]int // index key -> entry position (first wins)
	nameCodes map[string]int
	entries   []codes.StationCode

	minID   float64
	minName float64
}

// NewMatcher builds both indices from a snapshot. Construction is the only
// write; the matcher never mutates its indices afterwards.
func NewMatcher(entries []codes.StationCode) *Matcher {
	m := &Matcher{
		byID:      NewSet(),
		byName:    NewSet(),
		idCodes:   make(map[string]int, len(entries)),
		nameCodes: make(map[string]int, len(entries)),
		entries:   entries,
		minID:     DefaultMinIDScore,
		minName:   DefaultMinNameScore,
	}
	for i, e := range entries {
		idKey := NormalizeID(e.StationID)
		if idKey != "" {
			if _, ok := m.idCodes[idKey]; !ok {
				m.idCodes[idKey] = i
				m.byID.Index(idKey)
			}
		}
		nameKey := strings.ToLower(strings.TrimSpace(e.DisplayName))
		if nameKey != "" {
			if _, ok := m.nameCodes[nameKey]; !ok {
				m.nameCodes[nameKey] = i
				m.byName.Index(nameKey)
			}
		}
	}
	return m
}

// NormalizeID lowercases id and strips internal periods, the id index's key
// form ("CFCN.ca" and "cfcnca" land on the same entry).
func NormalizeID(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), ".", "")
}

// Match runs one lookup. Exactly one of q.IDs / q.Names may be set.
//
// Unformatted results are raw (score, key) pairs: id-matches before
// name-matches, each sublist sorted descending by score. Formatted results
// carry the resolved StationCode and are merged into a single descending
// list, truncated to the top result unless q.ListAll.
func (m *Matcher) Match(q Query) ([]Match, error) {
	if len(q.IDs) > 0 && len(q.Names) > 0 {
		return nil, ErrInvalidQuery
	}

	var idMatches []Match
	for _, id := range q.IDs {
		for _, sc := range m.byID.Match(NormalizeID(id)) {
			if sc.Score >= m.minID {
				idMatches = append(idMatches, Match{Score: sc.Score, Key: sc.Key})
			}
		}
	}
	sortDesc(idMatches)
	if !q.ListAll && len(idMatches) > 1 {
		idMatches = idMatches[:1]
	}

	var nameMatches []Match
	for _, name := range q.Names {
		best, ok := m.byName.Best(strings.ToLower(strings.TrimSpace(name)))
		if ok && best.Score >= m.minName {
			nameMatches = append(nameMatches, Match{Score: best.Score, Key: best.Key})
		}
	}
	sortDesc(nameMatches)
	if !q.ListAll && len(nameMatches) > 1 {
		nameMatches = nameMatches[:1]
	}

	if !q.Formatted {
		return append(idMatches, nameMatches...), nil
	}

	merged := make([]Match, 0, len(idMatches)+len(nameMatches))
	for _, match := range idMatches {
		match.Code = m.resolve(m.idCodes, match.Key)
		merged = append(merged, match)
	}
	for _, match := range nameMatches {
		match.Code = m.resolve(m.nameCodes, match.Key)
		merged = append(merged, match)
	}
	sortDesc(merged)
	if !q.ListAll && len(merged) > 1 {
		merged = merged[:1]
	}
	return merged, nil
}

func (m *Matcher) resolve(index map[string]int, key string) *codes.StationCode {
	i, ok := index[key]
	if !ok {
		return nil
	}
	return &m.entries[i]
}

func sortDesc(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
}
