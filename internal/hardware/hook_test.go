package hardware

import (
	"context"
	"testing"
	"time"
)

var fastHookConfig = HookMonitorConfig{
	SettleInterval: 30 * time.Millisecond,
	Initial:        OnHook,
}

func startHookMonitor(t *testing.T, samples chan HookSample) *HookMonitor {
	t.Helper()
	m := NewHookMonitor(samples, fastHookConfig, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m
}

func expectHookEvent(t *testing.T, m *HookMonitor, want HookState) {
	t.Helper()
	select {
	case ev, ok := <-m.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		if ev.State != want {
			t.Fatalf("State = %v, want %v", ev.State, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %v", want)
	}
}

func expectNoHookEvent(t *testing.T, m *HookMonitor, within time.Duration) {
	t.Helper()
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %v", ev.State)
	case <-time.After(within):
	}
}

func TestHookMonitor_LiftAndReplace(t *testing.T) {
	t.Parallel()

	samples := make(chan HookSample, 16)
	m := startHookMonitor(t, samples)

	samples <- HookSample{Time: time.Now(), OffHook: true}
	expectHookEvent(t, m, OffHook)

	samples <- HookSample{Time: time.Now(), OffHook: false}
	expectHookEvent(t, m, OnHook)
}

func TestHookMonitor_BumpSuppressed(t *testing.T) {
	t.Parallel()

	samples := make(chan HookSample, 16)
	m := startHookMonitor(t, samples)

	// Off-hook then back on-hook inside the settle window: the pair must
	// vanish entirely.
	samples <- HookSample{Time: time.Now(), OffHook: true}
	time.Sleep(5 * time.Millisecond)
	samples <- HookSample{Time: time.Now(), OffHook: false}

	expectNoHookEvent(t, m, 4*fastHookConfig.SettleInterval)
}

func TestHookMonitor_ChatterEmitsOneEvent(t *testing.T) {
	t.Parallel()

	samples := make(chan HookSample, 16)
	m := startHookMonitor(t, samples)

	// Contact chatter during a lift settles off-hook: exactly one event.
	now := time.Now()
	samples <- HookSample{Time: now, OffHook: true}
	samples <- HookSample{Time: now, OffHook: false}
	samples <- HookSample{Time: now, OffHook: true}

	expectHookEvent(t, m, OffHook)
	expectNoHookEvent(t, m, 3*fastHookConfig.SettleInterval)
}

func TestHookMonitor_DuplicateLevelIgnored(t *testing.T) {
	t.Parallel()

	samples := make(chan HookSample, 16)
	m := startHookMonitor(t, samples)

	samples <- HookSample{Time: time.Now(), OffHook: true}
	expectHookEvent(t, m, OffHook)

	// Repeating the same raw level must not re-emit.
	samples <- HookSample{Time: time.Now(), OffHook: true}
	expectNoHookEvent(t, m, 3*fastHookConfig.SettleInterval)
}

func TestHookMonitor_ChannelCloseEndsRun(t *testing.T) {
	t.Parallel()

	samples := make(chan HookSample, 16)
	m := startHookMonitor(t, samples)
	close(samples)

	select {
	case _, ok := <-m.Events():
		if ok {
			t.Fatal("unexpected event after close")
		}
	case <-time.After(time.Second):
		t.Fatal("event channel not closed after sample channel closed")
	}
}
