// Package mock provides test doubles for the hardware package interfaces.
//
// Sensor replays a scripted sequence of distance readings; Actuator records
// every relay transition with its timestamp so tests can assert ring patterns
// and cancellation ordering.
package mock

import (
	"sync"
	"time"

	"github.com/hotlinehq/hotline/internal/hardware"
)

// Reading is one scripted sensor result.
type Reading struct {
	// Distance is returned when Err is nil.
	Distance float64
	// Err, if non-nil, is returned instead of a distance.
	Err error
}

// Sensor is a mock hardware.DistanceSensor that replays Script in order.
// Once the script is exhausted, Read keeps returning the last entry.
type Sensor struct {
	mu sync.Mutex

	// Script is the sequence of readings to replay.
	Script []Reading

	// ReadCallCount is the number of Read calls so far.
	ReadCallCount int
}

// Read returns the next scripted reading.
func (s *Sensor) Read() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadCallCount++
	if len(s.Script) == 0 {
		return 0, nil
	}
	idx := s.ReadCallCount - 1
	if idx >= len(s.Script) {
		idx = len(s.Script) - 1
	}
	r := s.Script[idx]
	return r.Distance, r.Err
}

// Ensure Sensor implements hardware.DistanceSensor at compile time.
var _ hardware.DistanceSensor = (*Sensor)(nil)

// Transition records one Actuator.Set call.
type Transition struct {
	// On is the value that was set.
	On bool
	// At is when the call happened.
	At time.Time
}

// Actuator is a mock hardware.Actuator that records every transition.
type Actuator struct {
	mu sync.Mutex

	// SetErr, if non-nil, is returned by every Set call.
	SetErr error

	// Transitions records every Set call in order.
	Transitions []Transition
}

// Set records the transition and returns SetErr.
func (a *Actuator) Set(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Transitions = append(a.Transitions, Transition{On: on, At: time.Now()})
	return a.SetErr
}

// TransitionsCopy returns a snapshot of the recorded transitions. Thread-safe.
func (a *Actuator) TransitionsCopy() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transition, len(a.Transitions))
	copy(out, a.Transitions)
	return out
}

// OnCount returns how many times the actuator was energised. Thread-safe.
func (a *Actuator) OnCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, t := range a.Transitions {
		if t.On {
			n++
		}
	}
	return n
}

// Ensure Actuator implements hardware.Actuator at compile time.
var _ hardware.Actuator = (*Actuator)(nil)
