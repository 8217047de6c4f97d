package resilience

import "testing"

func TestStreak_ReachesLimit(t *testing.T) {
	t.Parallel()

	s := NewStreak(3)
	if s.RecordFailure() {
		t.Fatal("limit reached after 1 failure")
	}
	if s.RecordFailure() {
		t.Fatal("limit reached after 2 failures")
	}
	if !s.RecordFailure() {
		t.Fatal("limit not reached after 3 failures")
	}
	if s.Count() != 3 {
		t.Errorf("count = %d, want 3", s.Count())
	}
}

func TestStreak_SuccessResets(t *testing.T) {
	t.Parallel()

	s := NewStreak(3)
	s.RecordFailure()
	s.RecordFailure()
	s.RecordSuccess()

	if s.Count() != 0 {
		t.Errorf("count = %d, want 0 after success", s.Count())
	}
	if s.RecordFailure() || s.RecordFailure() {
		t.Fatal("limit reached too early after reset")
	}
	if !s.RecordFailure() {
		t.Fatal("limit not reached after 3 consecutive failures")
	}
}

func TestStreak_DefaultLimit(t *testing.T) {
	t.Parallel()

	s := NewStreak(0)
	for i := 0; i < DefaultStreakLimit-1; i++ {
		if s.RecordFailure() {
			t.Fatalf("limit reached after %d failures", i+1)
		}
	}
	if !s.RecordFailure() {
		t.Fatal("default limit not honored")
	}
}

func TestStreak_Reset(t *testing.T) {
	t.Parallel()

	s := NewStreak(2)
	s.RecordFailure()
	s.Reset()
	if s.Count() != 0 {
		t.Errorf("count = %d, want 0 after Reset", s.Count())
	}
}
