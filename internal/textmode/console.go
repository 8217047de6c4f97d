// Package textmode runs the hotline as a console conversation: no GPIO, no
// audio, typed lines standing in for the handset. It is the documented
// degraded-capability fallback when the audio device cannot be opened, and
// the quickest way to try a character catalogue without the phone.
//
// A character is selected by typing its dial digit or its name; name
// selection goes through the same phonetic matcher the voice path uses, so
// "kleopatra" reaches Cleopatra.
package textmode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hotlinehq/hotline/internal/registry"
	"github.com/hotlinehq/hotline/internal/resilience"
	"github.com/hotlinehq/hotline/pkg/provider/llm"
)

// DefaultFallbackNotice is printed when the LLM fails on a turn.
const DefaultFallbackNotice = "I'm having trouble thinking right now. Could you try again?"

// hangupWords end the active conversation and return to the directory.
var hangupWords = map[string]struct{}{
	"hangup": {}, "hang up": {}, "bye": {}, "goodbye": {}, "exit": {}, "quit": {},
}

// Config holds the console conversation knobs.
type Config struct {
	// Temperature and MaxTokens are forwarded to the LLM. Zero requests the
	// provider defaults.
	Temperature float64
	MaxTokens   int

	// FailureLimit is the consecutive LLM failure count that ends the
	// conversation. Zero selects resilience.DefaultStreakLimit.
	FailureLimit int

	// HistoryLimit caps the conversation history sent to the LLM, in
	// messages. Zero keeps everything.
	HistoryLimit int

	// FallbackNotice is printed after a recoverable LLM failure. Empty
	// selects the default.
	FallbackNotice string
}

func (c *Config) applyDefaults() {
	if c.FallbackNotice == "" {
		c.FallbackNotice = DefaultFallbackNotice
	}
}

// Deps are the console's collaborators. Registry and LLM are required;
// a nil Matcher is built over the Registry.
type Deps struct {
	// Registry resolves dialed digits and lists the directory.
	Registry registry.Registry

	// Matcher resolves typed names. Nil builds a default matcher.
	Matcher *registry.SpokenMatcher

	// LLM generates character replies via Complete.
	LLM llm.Provider
}

// Console is the interactive text conversation loop.
type Console struct {
	cfg     Config
	deps    Deps
	matcher *registry.SpokenMatcher
	in      io.Reader
	out     io.Writer
	log     *slog.Logger
}

// New creates a console reading selections and utterances from in and
// printing to out.
func New(cfg Config, deps Deps, in io.Reader, out io.Writer, log *slog.Logger) *Console {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	matcher := deps.Matcher
	if matcher == nil {
		matcher = registry.NewSpokenMatcher(deps.Registry, 0)
	}
	return &Console{
		cfg:     cfg,
		deps:    deps,
		matcher: matcher,
		in:      in,
		out:     out,
		log:     log.With("component", "textmode"),
	}
}

// Run drives the directory/conversation loop until input ends or ctx is
// cancelled. EOF on input returns nil; a cancelled context returns its error.
func (c *Console) Run(ctx context.Context) error {
	lines := readLines(ctx, c.in)

	if err := c.printDirectory(ctx); err != nil {
		return err
	}

	for {
		fmt.Fprint(c.out, "Dial a character (digit or name): ")
		input, ok := c.readLine(ctx, lines)
		if !ok {
			return ctx.Err()
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if _, quit := hangupWords[strings.ToLower(input)]; quit {
			return nil
		}

		character, err := c.selectCharacter(ctx, input)
		if errors.Is(err, registry.ErrNotFound) {
			fmt.Fprintln(c.out, "Not in service. Try again.")
			continue
		}
		if err != nil {
			return fmt.Errorf("textmode: select character: %w", err)
		}

		if err := c.converse(ctx, lines, character); err != nil {
			return err
		}
		fmt.Fprintln(c.out)
		if err := c.printDirectory(ctx); err != nil {
			return err
		}
	}
}

// selectCharacter resolves the typed input: all digits dial a number,
// anything else is matched as a spoken name.
func (c *Console) selectCharacter(ctx context.Context, input string) (*registry.Character, error) {
	if isDigits(input) {
		return c.deps.Registry.ByNumber(ctx, input)
	}
	return c.matcher.Match(ctx, input)
}

// converse runs one connected conversation until the caller hangs up, input
// ends, or the failure streak overflows.
func (c *Console) converse(ctx context.Context, lines <-chan string, character *registry.Character) error {
	log := c.log.With("character", character.ID)
	log.Info("conversation started")

	if character.Greeting != "" {
		fmt.Fprintf(c.out, "%s: %s\n", character.Name, character.Greeting)
	} else {
		fmt.Fprintf(c.out, "Connected to %s.\n", character.Name)
	}

	streak := resilience.NewStreak(c.cfg.FailureLimit)
	var history []llm.Message

	for {
		fmt.Fprint(c.out, "> ")
		input, ok := c.readLine(ctx, lines)
		if !ok {
			return ctx.Err()
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if _, quit := hangupWords[strings.ToLower(input)]; quit {
			log.Info("conversation ended", "turns", len(history)/2)
			fmt.Fprintln(c.out, "*click*")
			return nil
		}

		history = c.pushHistory(history, llm.Message{Role: "user", Content: input})
		resp, err := c.deps.LLM.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: character.SystemPrompt,
			Messages:     history,
			Temperature:  c.cfg.Temperature,
			MaxTokens:    c.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("completion failed", "error", err)
			if streak.RecordFailure() {
				fmt.Fprintln(c.out, "The line has gone dead.")
				return fmt.Errorf("textmode: %d consecutive completion failures: %w", streak.Count(), err)
			}
			fmt.Fprintf(c.out, "%s: %s\n", character.Name, c.cfg.FallbackNotice)
			continue
		}
		streak.RecordSuccess()

		reply := ""
		if resp != nil {
			reply = strings.TrimSpace(resp.Content)
		}
		history = c.pushHistory(history, llm.Message{Role: "assistant", Content: reply})
		fmt.Fprintf(c.out, "%s: %s\n", character.Name, reply)
	}
}

// printDirectory lists the catalogue the way the phone's card insert would.
func (c *Console) printDirectory(ctx context.Context) error {
	chars, err := c.deps.Registry.List(ctx)
	if err != nil {
		return fmt.Errorf("textmode: list characters: %w", err)
	}
	fmt.Fprintln(c.out, "Time Travel Hotline")
	for _, ch := range chars {
		fmt.Fprintf(c.out, "  %s: %s\n", ch.Number, ch.Name)
	}
	return nil
}

// pushHistory appends msg, trimming the oldest messages past HistoryLimit.
func (c *Console) pushHistory(history []llm.Message, msg llm.Message) []llm.Message {
	history = append(history, msg)
	if c.cfg.HistoryLimit > 0 && len(history) > c.cfg.HistoryLimit {
		history = history[len(history)-c.cfg.HistoryLimit:]
	}
	return history
}

// readLine waits for the next input line or context cancellation. The false
// return covers both EOF and a done context; callers check ctx.Err to tell
// them apart.
func (c *Console) readLine(ctx context.Context, lines <-chan string) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-lines:
		if !ok {
			return "", false
		}
		return line, true
	}
}

// readLines pumps input lines into a channel so the console loop can select
// against ctx. The goroutine exits on EOF or cancellation; stdin reads that
// never complete simply leak the blocked Scan, which is fine for a process
// that is shutting down.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
