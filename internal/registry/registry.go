// Package registry maps dialed numbers and spoken names to the characters a
// caller can reach.
//
// Two stores implement the Registry interface: a Static store built from the
// character catalogue in the YAML config, and a Postgres store for
// installations that manage the catalogue in a database. Lookup failure is a
// defined outcome (ErrNotFound), never an exception path; the call machine
// reacts to it by prompting for a redial.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hotlinehq/hotline/pkg/provider/tts"
)

// ErrNotFound reports that no character answers the dialed number.
var ErrNotFound = errors.New("registry: character not found")

// Character is one reachable persona.
type Character struct {
	// ID is the stable character identifier (e.g., "einstein").
	ID string

	// Name is the display name spoken in prompts (e.g., "Albert Einstein").
	Name string

	// Number is the dial sequence that reaches the character (e.g., "3").
	Number string

	// SystemPrompt is the persona instruction sent to the LLM.
	SystemPrompt string

	// Greeting is the line the character speaks when the call connects.
	Greeting string

	// Voice is the TTS voice profile used for this character.
	Voice tts.VoiceProfile
}

// Registry resolves dialed numbers to characters.
//
// Implementations must be safe for concurrent use.
type Registry interface {
	// ByNumber returns the character reachable at the given dial sequence.
	// Returns ErrNotFound when no character matches.
	ByNumber(ctx context.Context, number string) (*Character, error)

	// List returns the full catalogue ordered by dial number. Used for the
	// directory prompt, STT keyword boosts, and spoken-name matching.
	List(ctx context.Context) ([]Character, error)
}

// Static is an in-memory Registry built from the config catalogue.
type Static struct {
	mu       sync.RWMutex
	byNumber map[string]Character
}

// Compile-time assertion that Static satisfies the Registry interface.
var _ Registry = (*Static)(nil)

// NewStatic builds a Static registry. Characters with duplicate numbers
// overwrite earlier entries; config validation rejects duplicates upstream.
func NewStatic(characters []Character) *Static {
	m := make(map[string]Character, len(characters))
	for _, c := range characters {
		m[c.Number] = c
	}
	return &Static{byNumber: m}
}

// ByNumber implements Registry.
func (s *Static) ByNumber(_ context.Context, number string) (*Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// List implements Registry.
func (s *Static) List(_ context.Context) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Character, 0, len(s.byNumber))
	for _, c := range s.byNumber {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
