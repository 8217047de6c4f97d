package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the provider implementations that ship with the
// hotline, per kind. Unknown names are a warning, not an error, so that a
// config written for a newer build still loads.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":   {"deepgram"},
	"tts":   {"elevenlabs"},
	"vad":   {"energy"},
	"audio": {"portaudio"},
}

// Load reads and validates the YAML config at path. A file without a
// characters section gets the shipped catalogue; a file without a hardware
// section gets the reference GPIO wiring.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes and validates a YAML config from r. Unknown fields
// are an error, which catches typos like "barge_in_dealy_ms" at startup
// instead of silently running with a default.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file is a valid all-defaults config.
			cfg = Config{}
		} else {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	cfg.Hardware.ApplyDefaults()
	if len(cfg.Characters) == 0 {
		cfg.Characters = DefaultCharacters()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for hard errors and logs warnings for
// soft problems. All hard errors are collected and returned joined, so one
// run reports every mistake in the file.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}

	switch c.Turn.Mode {
	case "", "turn", "barge":
	default:
		errs = append(errs, fmt.Errorf("turn.mode: must be \"turn\" or \"barge\", got %q", c.Turn.Mode))
	}
	if c.Turn.SpeechThreshold != 0 && c.Turn.SilenceThreshold > c.Turn.SpeechThreshold {
		errs = append(errs, fmt.Errorf("turn.silence_threshold %v must not exceed turn.speech_threshold %v",
			c.Turn.SilenceThreshold, c.Turn.SpeechThreshold))
	}

	switch c.Registry.Backend {
	case "", RegistryStatic:
	case RegistryPostgres:
		if c.Registry.PostgresDSN == "" {
			errs = append(errs, errors.New("registry.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.backend: must be \"static\" or \"postgres\", got %q", c.Registry.Backend))
	}

	errs = append(errs, c.validateCharacters()...)

	validateProviderName("llm", c.Providers.LLM)
	validateProviderName("stt", c.Providers.STT)
	validateProviderName("tts", c.Providers.TTS)
	validateProviderName("vad", c.Providers.VAD)
	validateProviderName("audio", c.Providers.Audio)

	return errors.Join(errs...)
}

// validateCharacters checks the catalogue for hard errors: missing fields,
// non-digit numbers, and duplicate numbers.
func (c *Config) validateCharacters() []error {
	var errs []error
	seen := make(map[string]string, len(c.Characters))
	for i, ch := range c.Characters {
		if ch.ID == "" {
			errs = append(errs, fmt.Errorf("characters[%d]: id is required", i))
		}
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("characters[%d]: name is required", i))
		}
		if ch.Number == "" {
			errs = append(errs, fmt.Errorf("characters[%d] (%s): number is required", i, ch.Name))
		} else if !allDigits(ch.Number) {
			errs = append(errs, fmt.Errorf("characters[%d] (%s): number %q must be digits only", i, ch.Name, ch.Number))
		} else if prev, dup := seen[ch.Number]; dup {
			errs = append(errs, fmt.Errorf("characters[%d] (%s): duplicate number %q already used by %s", i, ch.Name, ch.Number, prev))
		} else {
			seen[ch.Number] = ch.Name
		}
		if ch.Voice.Stability < 0 || ch.Voice.Stability > 1 {
			errs = append(errs, fmt.Errorf("characters[%d] (%s): voice.stability must be in [0, 1]", i, ch.Name))
		}
		if ch.Voice.SimilarityBoost < 0 || ch.Voice.SimilarityBoost > 1 {
			errs = append(errs, fmt.Errorf("characters[%d] (%s): voice.similarity_boost must be in [0, 1]", i, ch.Name))
		}
		if ch.SystemPrompt == "" {
			slog.Warn("character has no system prompt; the LLM will improvise the persona", "character", ch.Name)
		}
	}
	return errs
}

// validateProviderName warns about names not in the built-in list.
func validateProviderName(kind string, entry ProviderEntry) {
	if entry.Name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], entry.Name) {
		slog.Warn("unknown provider name; it must be registered at startup or creation will fail",
			"kind", kind, "name", entry.Name)
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
