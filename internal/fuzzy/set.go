package fuzzy

import (
	"math"
	"sort"
	"strings"
)

// Scored is one approximate-match candidate.
type Scored struct {
	Score float64
	Key   string
}

// Set is an approximate string index: keys are decomposed into padded
// trigrams and queries are scored by cosine similarity over trigram counts.
// A key equal to the query always scores exactly 1.0. Indexing happens once
// at construction; Match is read-only and safe for concurrent use.
type Set struct {
	keys  []string
	pos   map[string]int   // key -> index in keys (first occurrence wins)
	grams map[string][]int // trigram -> indices of keys containing it
	vecs  []map[string]int // trigram counts per key
	norms []float64
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{
		pos:   make(map[string]int),
		grams: make(map[string][]int),
	}
}

// Index adds key to the set. Duplicate keys keep their first position.
func (s *Set) Index(key string) {
	if key == "" {
		return
	}
	if _, ok := s.pos[key]; ok {
		return
	}
	idx := len(s.keys)
	s.keys = append(s.keys, key)
	s.pos[key] = idx

	vec := trigrams(key)
	s.vecs = append(s.vecs, vec)
	s.norms = append(s.norms, norm(vec))
	for g := range vec {
		s.grams[g] = append(s.grams[g], idx)
	}
}

// Match returns every key sharing at least one trigram with query, scored in
// [0,1] and sorted descending. The sort is stable: ties keep index insertion
// order, no additional tie-break.
func (s *Set) Match(query string) []Scored {
	if query == "" {
		return nil
	}
	qvec := trigrams(query)
	qnorm := norm(qvec)
	if qnorm == 0 {
		return nil
	}

	dots := make(map[int]float64)
	for g, qn := range qvec {
		for _, idx := range s.grams[g] {
			dots[idx] += float64(qn * s.vecs[idx][g])
		}
	}

	out := make([]Scored, 0, len(dots))
	for idx := range s.keys {
		dot, ok := dots[idx]
		if !ok {
			continue
		}
		score := dot / (qnorm * s.norms[idx])
		if s.keys[idx] == query {
			score = 1.0
		}
		out = append(out, Scored{Score: score, Key: s.keys[idx]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Best returns the single highest-scoring candidate for query.
func (s *Set) Best(query string) (Scored, bool) {
	matches := s.Match(query)
	if len(matches) == 0 {
		return Scored{}, false
	}
	return matches[0], true
}

// trigrams returns padded 3-gram counts for s, lowercased with whitespace
// collapsed so "CTV  Montreal" and "ctv montreal" decompose identically.
func trigrams(s string) map[string]int {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if s == "" {
		return nil
	}
	padded := "-" + s + "-"
	runes := []rune(padded)
	out := make(map[string]int)
	if len(runes) < 3 {
		out[string(runes)]++
		return out
	}
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])]++
	}
	return out
}

func norm(vec map[string]int) float64 {
	var sum float64
	for _, n := range vec {
		sum += float64(n * n)
	}
	return math.Sqrt(sum)
}
