package audio

import "sync"

// FrameRing is a bounded FIFO of audio frames that drops the oldest frame
// when full. Capture paths write into a FrameRing so that a slow consumer
// (for example an STT request in flight) never blocks the hardware loop;
// backpressure favours recency over completeness, since stale audio is
// useless for a live conversation.
//
// All methods are safe for concurrent use.
type FrameRing struct {
	mu      sync.Mutex
	frames  []AudioFrame
	cap     int
	dropped uint64
}

// NewFrameRing creates a ring holding at most capacity frames.
// A capacity below 1 is raised to 1.
func NewFrameRing(capacity int) *FrameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameRing{
		frames: make([]AudioFrame, 0, capacity),
		cap:    capacity,
	}
}

// Push appends a frame, evicting the oldest frame when the ring is full.
func (r *FrameRing) Push(f AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == r.cap {
		copy(r.frames, r.frames[1:])
		r.frames = r.frames[:len(r.frames)-1]
		r.dropped++
	}
	r.frames = append(r.frames, f)
}

// Pop removes and returns the oldest frame. ok is false when the ring is empty.
func (r *FrameRing) Pop() (f AudioFrame, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return AudioFrame{}, false
	}
	f = r.frames[0]
	copy(r.frames, r.frames[1:])
	r.frames = r.frames[:len(r.frames)-1]
	return f, true
}

// Len returns the number of buffered frames.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Dropped returns the total number of frames evicted since construction.
func (r *FrameRing) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Reset discards all buffered frames without touching the drop counter.
func (r *FrameRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = r.frames[:0]
}
