// Package config defines the YAML configuration schema for the hotline and
// the provider registry that maps configured provider names to factory
// functions.
//
// The schema follows the phone's subsystems: server (metrics endpoint,
// logging), hardware (GPIO pins and debounce timing), audio (frame format),
// call (dial and ring windows), turn (conversation engine knobs), providers
// (external collaborator selection), registry (character store backend), and
// the character catalogue itself.
package config

// LogLevel controls the slog verbosity of the process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether the level is one of the recognised values. The
// empty string is valid and selects info.
func (l LogLevel) IsValid() bool {
	switch l {
	case "", LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration object.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Hardware   HardwareConfig    `yaml:"hardware"`
	Audio      AudioConfig       `yaml:"audio"`
	Call       CallConfig        `yaml:"call"`
	Turn       TurnConfig        `yaml:"turn"`
	Providers  ProvidersConfig   `yaml:"providers"`
	Registry   RegistryConfig    `yaml:"registry"`
	Characters []CharacterConfig `yaml:"characters"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr is the metrics/health HTTP listen address, e.g. ":9090".
	// Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel selects the slog verbosity. Empty means info.
	LogLevel LogLevel `yaml:"log_level"`
}

// Default GPIO wiring (BCM numbering) of the payphone chassis.
const (
	DefaultChip         = "gpiochip0"
	DefaultPulsePin     = 17
	DefaultHookPin      = 27
	DefaultProximityPin = 22
	DefaultBellPin      = 23
)

// HardwareConfig holds the GPIO wiring and electrical debounce parameters.
// Zero pins select the shipped defaults above.
type HardwareConfig struct {
	// Chip is the GPIO character device name. Empty means gpiochip0.
	Chip string `yaml:"chip"`

	// PulsePin is the rotary dial pulse contact (BCM).
	PulsePin int `yaml:"pulse_pin"`

	// HookPin is the hook switch (BCM).
	HookPin int `yaml:"hook_pin"`

	// ProximityPin is the proximity sensor digital output (BCM).
	ProximityPin int `yaml:"proximity_pin"`

	// BellPin is the bell relay output (BCM).
	BellPin int `yaml:"bell_pin"`

	// BounceGuardMs coalesces dial contact bounce. Zero means 10 ms.
	BounceGuardMs int `yaml:"bounce_guard_ms"`

	// InterPulseTimeoutMs separates pulse trains into digits. Zero means
	// 300 ms.
	InterPulseTimeoutMs int `yaml:"inter_pulse_timeout_ms"`

	// HookSettleMs is the hook debounce interval. Zero means 50 ms.
	HookSettleMs int `yaml:"hook_settle_ms"`

	// ProximityThresholdCm is the bell trigger distance. Zero means 60 cm.
	ProximityThresholdCm float64 `yaml:"proximity_threshold_cm"`

	// RingCooldownSec suppresses bell re-triggering after a ring. Zero means
	// 30 s.
	RingCooldownSec int `yaml:"ring_cooldown_sec"`
}

// ApplyDefaults fills zero pins with the shipped wiring. Called by Load so
// a config file without a hardware section runs on the reference chassis.
func (h *HardwareConfig) ApplyDefaults() {
	if h.Chip == "" {
		h.Chip = DefaultChip
	}
	if h.PulsePin == 0 {
		h.PulsePin = DefaultPulsePin
	}
	if h.HookPin == 0 {
		h.HookPin = DefaultHookPin
	}
	if h.ProximityPin == 0 {
		h.ProximityPin = DefaultProximityPin
	}
	if h.BellPin == 0 {
		h.BellPin = DefaultBellPin
	}
}

// AudioConfig holds the handset audio frame format.
type AudioConfig struct {
	// SampleRate in Hz. Zero means 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the frame duration in milliseconds. Zero means 20.
	FrameMs int `yaml:"frame_ms"`
}

// CallConfig holds the call state machine windows.
type CallConfig struct {
	// DialWindowMs is the inter-digit completion window. Zero means 3000 ms.
	DialWindowMs int `yaml:"dial_window_ms"`

	// RingNoAnswerSec is how long RINGING persists without an off-hook
	// before returning to IDLE. Zero means 8 s.
	RingNoAnswerSec int `yaml:"ring_no_answer_sec"`

	// ResolveTimeoutSec bounds the character lookup. Zero means 5 s.
	ResolveTimeoutSec int `yaml:"resolve_timeout_sec"`
}

// TurnConfig holds the conversation engine knobs.
type TurnConfig struct {
	// Mode is the turn-taking policy: "turn" or "barge". Empty means turn.
	Mode string `yaml:"mode"`

	// Language is the STT recognition language tag. Empty means provider
	// default.
	Language string `yaml:"language"`

	// SilenceTailMs ends an utterance after this much sustained silence.
	// Zero means 700 ms.
	SilenceTailMs int `yaml:"silence_tail_ms"`

	// MaxUtteranceSec caps a single caller utterance. Zero means 12 s.
	MaxUtteranceSec int `yaml:"max_utterance_sec"`

	// SpeechThreshold and SilenceThreshold are the VAD hysteresis levels.
	// Zero selects the engine defaults.
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// BargeInDebounceFrames is the consecutive speech-frame count required
	// to cut playback. Zero means 8.
	BargeInDebounceFrames int `yaml:"barge_in_debounce_frames"`

	// BargeInDelayMs arms barge-in detection this long after playback
	// starts. Zero means 1000 ms.
	BargeInDelayMs int `yaml:"barge_in_delay_ms"`

	// Temperature and MaxTokens are forwarded to the LLM. Zero means
	// provider default.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// FailureLimit is the consecutive collaborator failure count that ends
	// the call. Zero means 3.
	FailureLimit int `yaml:"failure_limit"`

	// FallbackNotice is spoken after a recoverable collaborator failure.
	// Empty selects the engine default.
	FallbackNotice string `yaml:"fallback_notice"`

	// HistoryLimit caps the conversation history sent to the LLM, in
	// messages. Zero keeps everything.
	HistoryLimit int `yaml:"history_limit"`
}

// ProvidersConfig selects the external collaborator implementations.
type ProvidersConfig struct {
	LLM   ProviderEntry `yaml:"llm"`
	STT   ProviderEntry `yaml:"stt"`
	TTS   ProviderEntry `yaml:"tts"`
	VAD   ProviderEntry `yaml:"vad"`
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry selects and configures one provider implementation.
type ProviderEntry struct {
	// Name identifies the implementation, e.g. "openai", "deepgram",
	// "elevenlabs", "energy", "portaudio".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, where required.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint, e.g. for a local Ollama.
	BaseURL string `yaml:"base_url"`

	// Model selects the provider model, e.g. "gpt-4o-mini", "nova-3".
	Model string `yaml:"model"`

	// Options carries provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// Registry backends.
const (
	RegistryStatic   = "static"
	RegistryPostgres = "postgres"
)

// RegistryConfig selects where the character catalogue lives.
type RegistryConfig struct {
	// Backend is "static" (the characters list below) or "postgres".
	// Empty means static.
	Backend string `yaml:"backend"`

	// PostgresDSN is the database connection string for the postgres
	// backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SpokenMatchThreshold is the minimum similarity for spoken-name
	// matching. Zero selects the default.
	SpokenMatchThreshold float64 `yaml:"spoken_match_threshold"`
}

// CharacterConfig is one entry of the character catalogue.
type CharacterConfig struct {
	// ID is the stable character identifier, e.g. "einstein".
	ID string `yaml:"id"`

	// Name is the display name spoken in prompts.
	Name string `yaml:"name"`

	// Number is the dial sequence that reaches the character.
	Number string `yaml:"number"`

	// SystemPrompt is the persona instruction sent to the LLM.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting is spoken when the call connects.
	Greeting string `yaml:"greeting"`

	// Voice is the TTS voice profile.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig holds per-character TTS voice settings.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Stability and SimilarityBoost tune the synthesis (0.0 to 1.0).
	// Zero requests the provider defaults.
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

// DefaultCharacters returns the catalogue the hotline ships with. Used when
// the config file lists no characters.
func DefaultCharacters() []CharacterConfig {
	return []CharacterConfig{
		{
			ID:           "elvis",
			Name:         "Elvis Presley",
			Number:       "2",
			SystemPrompt: "You are Elvis Presley, charming and playful. Light Southern cadence. Keep replies 2-4 sentences. Avoid modern slang.",
			Greeting:     "Hello. You are speaking with Elvis Presley. Ask your question.",
			Voice:        VoiceConfig{VoiceID: "NFG5qt843uXKj4pFvR7C"},
		},
		{
			ID:           "einstein",
			Name:         "Albert Einstein",
			Number:       "3",
			SystemPrompt: "You are Albert Einstein in 1946: warm, witty, plain-spoken. Explain ideas with simple analogies. Keep replies in 2-5 sentences. Stay in character.",
			Greeting:     "Hello. You are speaking with Albert Einstein. Ask your question.",
			Voice:        VoiceConfig{VoiceID: "JBFqnCBsd6RMkjVDRZzb"},
		},
		{
			ID:           "cleopatra",
			Name:         "Cleopatra",
			Number:       "5",
			SystemPrompt: "You are Cleopatra VII Philopator. Regal, strategic, poetic. Reference Alexandria, the Nile, diplomacy. Keep replies 2-5 sentences.",
			Greeting:     "Hello. You are speaking with Cleopatra. Ask your question.",
			Voice:        VoiceConfig{VoiceID: "XB0fDUnXU5powFXDhCwa"},
		},
		{
			ID:           "beth",
			Name:         "Beth Dutton",
			Number:       "7",
			SystemPrompt: "You are Beth Dutton. Fierce, sharp, sardonic. Keep replies short, cutting, with wit. PG-13.",
			Greeting:     "Hello. You are speaking with Beth Dutton. Ask your question.",
			Voice:        VoiceConfig{VoiceID: "cgSgspJ2msm6clMCkdW9"},
		},
		{
			ID:           "elon",
			Name:         "Elon Musk",
			Number:       "9",
			SystemPrompt: "You are Elon Musk. Speak in a thoughtful, slightly halting cadence as you form ideas aloud. You think in first principles, reducing complex problems to their physics roots. Keep replies 2-4 sentences, expanding only for nuanced technical explanations.",
			Greeting:     "Hello. You are speaking with Elon Musk. Ask your question.",
			Voice:        VoiceConfig{VoiceID: "CwhRBWXzGAHq8TQ4Fs17"},
		},
	}
}
