package dial

import (
	"testing"
	"time"
)

const testWindow = 50 * time.Millisecond

func waitExpiry(t *testing.T, c *Collector) {
	t.Helper()
	select {
	case <-c.Expired():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inter-digit expiry")
	}
}

func TestCollector_SingleDigit(t *testing.T) {
	t.Parallel()

	c := NewCollector(testWindow)
	c.Arm()
	c.Append(3)

	waitExpiry(t, c)
	n := c.Finalize()

	if n.String() != "3" {
		t.Errorf("number = %q, want %q", n.String(), "3")
	}
	if n.Empty() {
		t.Error("Empty() = true for a dialed number")
	}
	if n.FinalizedAt.IsZero() {
		t.Error("FinalizedAt is zero")
	}
}

func TestCollector_MultipleDigitsKeepOrder(t *testing.T) {
	t.Parallel()

	c := NewCollector(testWindow)
	c.Arm()
	for _, d := range []int{4, 1, 0} {
		c.Append(d)
		time.Sleep(testWindow / 4)
	}

	waitExpiry(t, c)
	n := c.Finalize()
	if n.String() != "410" {
		t.Errorf("number = %q, want %q", n.String(), "410")
	}
}

func TestCollector_DigitRestartsWindow(t *testing.T) {
	t.Parallel()

	c := NewCollector(testWindow)
	c.Arm()
	c.Append(7)

	// Keep appending just inside the window; the timer must not fire early.
	start := time.Now()
	for i := 0; i < 3; i++ {
		time.Sleep(testWindow * 3 / 4)
		select {
		case <-c.Expired():
			t.Fatalf("window expired early after %v", time.Since(start))
		default:
		}
		c.Append(7)
	}

	waitExpiry(t, c)
	n := c.Finalize()
	if len(n.Digits) != 4 {
		t.Errorf("digit count = %d, want 4", len(n.Digits))
	}
}

func TestCollector_EmptyExpiryIsNoSelection(t *testing.T) {
	t.Parallel()

	c := NewCollector(testWindow)
	c.Arm()

	waitExpiry(t, c)
	n := c.Finalize()
	if !n.Empty() {
		t.Errorf("number = %q, want empty", n.String())
	}
}

func TestCollector_FinalizeStartsFresh(t *testing.T) {
	t.Parallel()

	c := NewCollector(testWindow)
	c.Arm()
	c.Append(5)
	waitExpiry(t, c)
	first := c.Finalize()
	if first.String() != "5" {
		t.Fatalf("first number = %q, want %q", first.String(), "5")
	}

	// After finalization the collector is disarmed until the next digit.
	if c.Expired() != nil {
		t.Error("Expired() non-nil while disarmed")
	}

	// A new digit implicitly re-arms and collects a fresh number.
	c.Append(9)
	waitExpiry(t, c)
	second := c.Finalize()
	if second.String() != "9" {
		t.Errorf("second number = %q, want %q", second.String(), "9")
	}
}

func TestCollector_ClearDropsDigits(t *testing.T) {
	t.Parallel()

	c := NewCollector(testWindow)
	c.Arm()
	c.Append(1)
	c.Append(2)
	c.Clear()

	if c.Pending() != 0 {
		t.Errorf("Pending = %d after Clear, want 0", c.Pending())
	}
	if c.Expired() != nil {
		t.Error("Expired() non-nil after Clear")
	}
}

func TestNumber_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		digits []int
		want   string
	}{
		{nil, ""},
		{[]int{0}, "0"},
		{[]int{3, 1, 4}, "314"},
	}
	for _, tc := range cases {
		n := Number{Digits: tc.digits}
		if got := n.String(); got != tc.want {
			t.Errorf("String(%v) = %q, want %q", tc.digits, got, tc.want)
		}
	}
}
