package turn

import (
	"strings"
	"unicode"
)

// SentenceSplitter chops a streamed LLM reply into sentence-sized fragments
// so synthesis can start on the first sentence while the model is still
// generating the rest.
//
// Push accumulates text and returns any sentences completed by it; Flush
// returns whatever remains when the stream ends. The zero value is ready to
// use. Not safe for concurrent use; one goroutine owns a splitter.
type SentenceSplitter struct {
	buf strings.Builder
}

// Push appends streamed text and returns completed sentences in order.
func (s *SentenceSplitter) Push(text string) []string {
	var out []string
	for _, r := range text {
		s.buf.WriteRune(r)
		if isSentenceEnd(r) {
			if frag := strings.TrimSpace(s.buf.String()); speakable(frag) {
				out = append(out, frag)
			}
			s.buf.Reset()
		}
	}
	return out
}

// Flush returns the trailing fragment that never saw a terminator, or ""
// when nothing is buffered.
func (s *SentenceSplitter) Flush() string {
	frag := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if !speakable(frag) {
		return ""
	}
	return frag
}

// speakable reports whether the fragment carries anything worth sending to
// synthesis; bare punctuation is not.
func speakable(frag string) bool {
	for _, r := range frag {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}
