package registry

import (
	"context"
	"errors"
	"testing"
)

func testCatalogue() []Character {
	return []Character{
		{ID: "elvis", Name: "Elvis Presley", Number: "2"},
		{ID: "einstein", Name: "Albert Einstein", Number: "3"},
		{ID: "cleopatra", Name: "Cleopatra", Number: "5"},
		{ID: "beth", Name: "Beth Dutton", Number: "7"},
		{ID: "elon", Name: "Elon Musk", Number: "9"},
	}
}

func TestStatic_ByNumber(t *testing.T) {
	t.Parallel()

	reg := NewStatic(testCatalogue())
	ctx := context.Background()

	c, err := reg.ByNumber(ctx, "3")
	if err != nil {
		t.Fatalf("ByNumber: %v", err)
	}
	if c.ID != "einstein" {
		t.Errorf("ID = %q, want %q", c.ID, "einstein")
	}
}

func TestStatic_ByNumberNotFound(t *testing.T) {
	t.Parallel()

	reg := NewStatic(testCatalogue())
	_, err := reg.ByNumber(context.Background(), "4")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStatic_ListOrderedByNumber(t *testing.T) {
	t.Parallel()

	reg := NewStatic(testCatalogue())
	chars, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(chars) != 5 {
		t.Fatalf("len = %d, want 5", len(chars))
	}
	for i := 1; i < len(chars); i++ {
		if chars[i-1].Number > chars[i].Number {
			t.Fatalf("catalogue not ordered: %q before %q", chars[i-1].Number, chars[i].Number)
		}
	}
}

func TestSpokenMatcher_ExactName(t *testing.T) {
	t.Parallel()

	m := NewSpokenMatcher(NewStatic(testCatalogue()), 0)
	c, err := m.Match(context.Background(), "Cleopatra")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if c.ID != "cleopatra" {
		t.Errorf("ID = %q, want %q", c.ID, "cleopatra")
	}
}

func TestSpokenMatcher_PhraseWithFiller(t *testing.T) {
	t.Parallel()

	m := NewSpokenMatcher(NewStatic(testCatalogue()), 0)
	c, err := m.Match(context.Background(), "please connect me with elvis")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if c.ID != "elvis" {
		t.Errorf("ID = %q, want %q", c.ID, "elvis")
	}
}

func TestSpokenMatcher_PhoneticSpelling(t *testing.T) {
	t.Parallel()

	// STT often renders names by sound; the phonetic key should absorb it.
	m := NewSpokenMatcher(NewStatic(testCatalogue()), 0)
	c, err := m.Match(context.Background(), "get me kleopatra")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if c.ID != "cleopatra" {
		t.Errorf("ID = %q, want %q", c.ID, "cleopatra")
	}
}

func TestSpokenMatcher_LastName(t *testing.T) {
	t.Parallel()

	m := NewSpokenMatcher(NewStatic(testCatalogue()), 0)
	c, err := m.Match(context.Background(), "einstein")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if c.ID != "einstein" {
		t.Errorf("ID = %q, want %q", c.ID, "einstein")
	}
}

func TestSpokenMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := NewSpokenMatcher(NewStatic(testCatalogue()), 0)
	cases := []string{
		"",
		"please connect me",
		"xylophone quartet",
	}
	for _, phrase := range cases {
		if _, err := m.Match(context.Background(), phrase); !errors.Is(err, ErrNotFound) {
			t.Errorf("Match(%q) err = %v, want ErrNotFound", phrase, err)
		}
	}
}
