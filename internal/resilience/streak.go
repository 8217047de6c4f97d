package resilience

import "sync"

// DefaultStreakLimit is how many consecutive collaborator failures a call
// session tolerates before the turn engine tears the call down.
const DefaultStreakLimit = 3

// Streak counts consecutive failures within one call session.
//
// The turn engine records every collaborator outcome: any success resets the
// count, and RecordFailure reports true once the limit is reached, which the
// engine treats as an unrecoverable session and escalates to teardown.
type Streak struct {
	limit int

	mu    sync.Mutex
	count int
}

// NewStreak creates a streak counter. A non-positive limit selects
// [DefaultStreakLimit].
func NewStreak(limit int) *Streak {
	if limit <= 0 {
		limit = DefaultStreakLimit
	}
	return &Streak{limit: limit}
}

// RecordFailure increments the streak and reports whether the limit has been
// reached.
func (s *Streak) RecordFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.count >= s.limit
}

// RecordSuccess resets the streak.
func (s *Streak) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
}

// Count returns the current consecutive-failure count.
func (s *Streak) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Reset clears the streak for a new session.
func (s *Streak) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
}
