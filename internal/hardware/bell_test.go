package hardware_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hotlinehq/hotline/internal/hardware"
	"github.com/hotlinehq/hotline/internal/hardware/mock"
)

var fastBellConfig = hardware.BellConfig{
	PollInterval: 10 * time.Millisecond,
	Threshold:    60,
	Cooldown:     time.Second,
	Pattern:      hardware.RingPattern{On: 20 * time.Millisecond, Off: 10 * time.Millisecond, Count: 2},
}

func startBell(t *testing.T, sensor hardware.DistanceSensor, act hardware.Actuator, gate func() bool) *hardware.BellController {
	t.Helper()
	b := hardware.NewBellController(sensor, act, gate, fastBellConfig, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b
}

func alwaysIdle() bool { return true }

func TestBellController_TriggersOnApproach(t *testing.T) {
	t.Parallel()

	sensor := &mock.Sensor{Script: []mock.Reading{{Distance: 30}}}
	act := &mock.Actuator{}
	b := startBell(t, sensor, act, alwaysIdle)

	select {
	case <-b.Triggers():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trigger")
	}

	// The full pattern runs: Count energise transitions.
	deadline := time.Now().Add(time.Second)
	for act.OnCount() < fastBellConfig.Pattern.Count {
		if time.Now().After(deadline) {
			t.Fatalf("OnCount = %d, want %d", act.OnCount(), fastBellConfig.Pattern.Count)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Relay ends released.
	deadline = time.Now().Add(time.Second)
	for b.Ringing() {
		if time.Now().After(deadline) {
			t.Fatal("still ringing after pattern should have completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	trs := act.TransitionsCopy()
	if len(trs) == 0 || trs[len(trs)-1].On {
		t.Error("relay not released after pattern")
	}
}

func TestBellController_FarReadingNoTrigger(t *testing.T) {
	t.Parallel()

	sensor := &mock.Sensor{Script: []mock.Reading{{Distance: 200}}}
	act := &mock.Actuator{}
	b := startBell(t, sensor, act, alwaysIdle)

	select {
	case <-b.Triggers():
		t.Fatal("unexpected trigger for far reading")
	case <-time.After(100 * time.Millisecond):
	}
	if act.OnCount() != 0 {
		t.Errorf("OnCount = %d, want 0", act.OnCount())
	}
}

func TestBellController_GateBlocksTrigger(t *testing.T) {
	t.Parallel()

	sensor := &mock.Sensor{Script: []mock.Reading{{Distance: 30}}}
	act := &mock.Actuator{}
	b := startBell(t, sensor, act, func() bool { return false })

	select {
	case <-b.Triggers():
		t.Fatal("unexpected trigger while gate closed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBellController_CooldownSuppressesRetrigger(t *testing.T) {
	t.Parallel()

	sensor := &mock.Sensor{Script: []mock.Reading{{Distance: 30}}}
	act := &mock.Actuator{}
	b := startBell(t, sensor, act, alwaysIdle)

	select {
	case <-b.Triggers():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first trigger")
	}

	// The presence keeps loitering below threshold; within the cooldown no
	// second trigger may fire.
	select {
	case <-b.Triggers():
		t.Fatal("re-triggered inside cooldown")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBellController_SensorErrorsIgnored(t *testing.T) {
	t.Parallel()

	readErr := errors.New("bus glitch")
	sensor := &mock.Sensor{Script: []mock.Reading{
		{Err: readErr},
		{Err: readErr},
		{Distance: 30},
	}}
	act := &mock.Actuator{}
	b := startBell(t, sensor, act, alwaysIdle)

	// Errors are skipped; the later good reading still triggers.
	select {
	case <-b.Triggers():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trigger after sensor errors")
	}
}

func TestBellController_StopCancelsPattern(t *testing.T) {
	t.Parallel()

	var gateOpen atomic.Bool
	gateOpen.Store(true)

	sensor := &mock.Sensor{Script: []mock.Reading{{Distance: 30}}}
	act := &mock.Actuator{}
	cfg := fastBellConfig
	cfg.Pattern = hardware.RingPattern{On: 500 * time.Millisecond, Off: 100 * time.Millisecond, Count: 4}
	b := hardware.NewBellController(sensor, act, gateOpen.Load, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	select {
	case <-b.Triggers():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trigger")
	}

	// Handset lifted: stop mid-pattern.
	gateOpen.Store(false)
	b.Stop()

	deadline := time.Now().Add(time.Second)
	for b.Ringing() {
		if time.Now().After(deadline) {
			t.Fatal("still ringing after Stop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	trs := act.TransitionsCopy()
	if len(trs) == 0 {
		t.Fatal("no actuator transitions recorded")
	}
	if trs[len(trs)-1].On {
		t.Error("relay left energised after Stop")
	}
	if act.OnCount() >= cfg.Pattern.Count {
		t.Errorf("OnCount = %d, pattern should have been cut short", act.OnCount())
	}
}
