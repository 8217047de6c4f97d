package registry

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultSpokenThreshold is the minimum Jaro-Winkler similarity for a token
// pair to count as a name match when the phonetic keys disagree.
const DefaultSpokenThreshold = 0.85

// SpokenMatcher resolves a spoken phrase ("put me through to Cleopatra") to a
// character by phonetic comparison. Double Metaphone absorbs the accent and
// STT spelling drift ("klee-oh-patra"); Jaro-Winkler ranks candidates when
// several characters share a phonetic key.
type SpokenMatcher struct {
	registry  Registry
	threshold float64
}

// NewSpokenMatcher creates a matcher over the given registry. A zero
// threshold selects the default.
func NewSpokenMatcher(reg Registry, threshold float64) *SpokenMatcher {
	if threshold == 0 {
		threshold = DefaultSpokenThreshold
	}
	return &SpokenMatcher{registry: reg, threshold: threshold}
}

// Match finds the character whose name best matches the spoken phrase.
// Returns ErrNotFound when nothing scores above the threshold.
func (m *SpokenMatcher) Match(ctx context.Context, phrase string) (*Character, error) {
	chars, err := m.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	tokens := tokenize(phrase)
	if len(tokens) == 0 {
		return nil, ErrNotFound
	}

	var (
		best      *Character
		bestScore float64
	)
	for i := range chars {
		score := m.scoreName(tokens, chars[i].Name)
		if score > bestScore {
			bestScore = score
			best = &chars[i]
		}
	}
	if best == nil || bestScore < m.threshold {
		return nil, ErrNotFound
	}
	return best, nil
}

// scoreName returns the best similarity between any spoken token and any
// token of the character name. An exact phonetic-key match scores 1.0.
func (m *SpokenMatcher) scoreName(spoken []string, name string) float64 {
	var best float64
	for _, nameTok := range tokenize(name) {
		np, na := matchr.DoubleMetaphone(nameTok)
		for _, tok := range spoken {
			tp, ta := matchr.DoubleMetaphone(tok)
			if phoneticEqual(tp, ta, np, na) {
				return 1.0
			}
			if s := matchr.JaroWinkler(tok, nameTok, true); s > best {
				best = s
			}
		}
	}
	return best
}

// phoneticEqual reports whether two Double Metaphone key pairs overlap.
func phoneticEqual(p1, a1, p2, a2 string) bool {
	if p1 == "" || p2 == "" {
		return false
	}
	if p1 == p2 {
		return true
	}
	if a1 != "" && (a1 == p2 || (a2 != "" && a1 == a2)) {
		return true
	}
	return a2 != "" && p1 == a2
}

// tokenize lowercases the phrase and splits it into letter runs, dropping
// short filler words so "connect me to elvis" scores on "elvis" alone.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 || isFiller(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

var fillerWords = map[string]struct{}{
	"the": {}, "please": {}, "call": {}, "connect": {}, "with": {},
	"talk": {}, "speak": {}, "put": {}, "through": {}, "want": {},
	"would": {}, "like": {}, "get": {}, "give": {},
}

func isFiller(w string) bool {
	_, ok := fillerWords[w]
	return ok
}
