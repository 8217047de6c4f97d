package turn

import (
	"reflect"
	"testing"
)

func TestSentenceSplitter_SingleSentence(t *testing.T) {
	t.Parallel()

	var s SentenceSplitter
	got := s.Push("Hello there.")
	want := []string{"Hello there."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Push = %v, want %v", got, want)
	}
	if rest := s.Flush(); rest != "" {
		t.Errorf("Flush = %q, want empty", rest)
	}
}

func TestSentenceSplitter_TokenStream(t *testing.T) {
	t.Parallel()

	var s SentenceSplitter
	var got []string
	for _, tok := range []string{"Well", ", ", "hello", "! How", " are ", "you", "?"} {
		got = append(got, s.Push(tok)...)
	}
	want := []string{"Well, hello!", "How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %v, want %v", got, want)
	}
}

func TestSentenceSplitter_FlushReturnsTail(t *testing.T) {
	t.Parallel()

	var s SentenceSplitter
	if got := s.Push("First one. And then"); !reflect.DeepEqual(got, []string{"First one."}) {
		t.Errorf("Push = %v", got)
	}
	if rest := s.Flush(); rest != "And then" {
		t.Errorf("Flush = %q, want %q", rest, "And then")
	}
	if rest := s.Flush(); rest != "" {
		t.Errorf("second Flush = %q, want empty", rest)
	}
}

func TestSentenceSplitter_NewlineSplits(t *testing.T) {
	t.Parallel()

	var s SentenceSplitter
	got := s.Push("line one\nline two\n")
	want := []string{"line one", "line two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %v, want %v", got, want)
	}
}

func TestSentenceSplitter_WhitespaceOnlyDropped(t *testing.T) {
	t.Parallel()

	var s SentenceSplitter
	if got := s.Push("...   \n"); got != nil {
		t.Errorf("Push = %v, want nil", got)
	}
}
