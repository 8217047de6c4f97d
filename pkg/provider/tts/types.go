package tts

// VoiceProfile describes a TTS voice configuration for a character.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Stability controls voice consistency (0.0 to 1.0). Lower values give a
	// more expressive delivery. Zero requests the provider default.
	Stability float64

	// SimilarityBoost controls how closely the synthesis tracks the reference
	// voice (0.0 to 1.0). Zero requests the provider default.
	SimilarityBoost float64

	// Metadata holds provider-specific voice attributes (gender, age, accent).
	Metadata map[string]string
}
