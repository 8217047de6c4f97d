// Package call owns the authoritative call session state.
//
// The Machine is the single writer of the session; hardware decoders, the
// dial collector, the character registry, and the conversation engine all
// feed it events over channels and read state through snapshots. A hook
// transition to on-hook pre-empts every other event and always lands the
// session back in IDLE.
package call

import (
	"fmt"
	"time"

	"github.com/hotlinehq/hotline/internal/registry"
)

// State is the call session lifecycle position.
type State int

const (
	// StateIdle means the handset is on the cradle and nothing is happening.
	StateIdle State = iota

	// StateRinging means the proximity bell fired and the phone is ringing
	// to lure a passer-by.
	StateRinging

	// StateDialing means the handset is lifted and digits are being collected.
	StateDialing

	// StateResolving means a finalized number is being looked up in the
	// character registry.
	StateResolving

	// StateConnected means a character answered and the conversation engine
	// is running.
	StateConnected

	// StateTeardown is the transient state while an ending call is being
	// dismantled. It always resolves to StateIdle.
	StateTeardown
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateDialing:
		return "dialing"
	case StateResolving:
		return "resolving"
	case StateConnected:
		return "connected"
	case StateTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// TurnMode selects the conversation turn-taking policy.
type TurnMode int

const (
	// ModeTurnBased processes caller audio only after the character's
	// playback has finished.
	ModeTurnBased TurnMode = iota

	// ModeBargeIn lets caller speech interrupt the character mid-playback.
	ModeBargeIn
)

// String returns the mode name for logging and flag round-tripping.
func (m TurnMode) String() string {
	switch m {
	case ModeTurnBased:
		return "turn"
	case ModeBargeIn:
		return "barge"
	default:
		return "unknown"
	}
}

// ParseTurnMode parses the --mode flag value.
func ParseTurnMode(s string) (TurnMode, error) {
	switch s {
	case "turn":
		return ModeTurnBased, nil
	case "barge":
		return ModeBargeIn, nil
	default:
		return ModeTurnBased, fmt.Errorf("call: unknown turn mode %q (want \"turn\" or \"barge\")", s)
	}
}

// Session is the central call entity. Exactly one live instance exists per
// Machine; it is created on off-hook and reset on on-hook.
//
// Only the Machine mutates a Session. Other components receive copies via
// [Machine.Snapshot].
type Session struct {
	// State is the current lifecycle position.
	State State

	// DialedNumber is the finalized dial sequence, empty until the
	// inter-digit window expires with at least one digit.
	DialedNumber string

	// Character is the matched persona, nil until StateConnected.
	Character *registry.Character

	// StartedAt is when the session reached StateConnected.
	StartedAt time.Time

	// TurnMode is the turn-taking policy for this session.
	TurnMode TurnMode
}
