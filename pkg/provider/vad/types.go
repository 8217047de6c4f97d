package vad

// Event represents a voice activity detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Level is the measured signal level for the frame in the engine's native
	// scale (RMS engines report normalised RMS in [0.0, 1.0]).
	Level float64
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

// String returns the event type name for logging.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}
