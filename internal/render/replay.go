// Package render holds the presentation side of the arena: the instant
// replay frame ring the engine paints into, and the HUD composed over it.
package render

import (
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"bot-arena/internal/config"

	"github.com/fogleman/gg"
)

// ReplayBuffer is a ring of preallocated frames. The engine paints the
// live frame into the next slot; during a pause or after a round the
// cursor plays the ring back, oldest first, holding on the newest frame.
//
// NextFrame locks the ring until FrameDone, so readers never see a frame
// while it is being painted.
type ReplayBuffer struct {
	mu     sync.Mutex
	frames []*gg.Context

	next   int // slot being painted
	latest int // last completed slot
	filled int // completed slots, capped at len(frames)

	enabled   bool
	replaying bool
	cursor    int
	counter   int // ticks since the cursor last moved
	hold      int // ticks left on the newest frame
	speed     int
	endHold   int

	// Stats
	framesWritten  uint64
	replaysStarted uint64
}

// NewReplayBuffer preallocates cfg.Frames contexts sized to the arena.
func NewReplayBuffer(arena config.ArenaConfig, cfg config.ReplayConfig) *ReplayBuffer {
	n := cfg.Frames
	if n < 1 {
		n = 1
	}
	rb := &ReplayBuffer{
		frames:  make([]*gg.Context, n),
		enabled: cfg.Enabled,
		speed:   max(cfg.Speed, 1),
		endHold: max(cfg.EndHold, 0),
	}
	// Pre-allocate all frame buffers
	for i := range rb.frames {
		rb.frames[i] = gg.NewContext(arena.Width(), arena.Height())
	}
	return rb
}

// NextFrame returns the slot to paint and holds the ring until FrameDone.
func (rb *ReplayBuffer) NextFrame() *gg.Context {
	rb.mu.Lock()
	return rb.frames[rb.next]
}

// FrameDone publishes the painted slot. A live frame ends any replay.
func (rb *ReplayBuffer) FrameDone() {
	rb.latest = rb.next
	rb.next = (rb.next + 1) % len(rb.frames)
	if rb.filled < len(rb.frames) {
		rb.filled++
	}
	rb.replaying = false
	atomic.AddUint64(&rb.framesWritten, 1)
	rb.mu.Unlock()
}

// StartReplay parks the cursor on the newest frame; stepping then loops
// through the ring.
func (rb *ReplayBuffer) StartReplay() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.enabled || rb.filled == 0 {
		return
	}
	rb.replaying = true
	rb.cursor = rb.latest
	rb.counter = 0
	rb.hold = rb.endHold
	atomic.AddUint64(&rb.replaysStarted, 1)
}

// StepReplay is called once per engine tick while the match is halted.
func (rb *ReplayBuffer) StepReplay() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.replaying {
		return
	}
	rb.counter++
	if rb.counter < rb.speed {
		return
	}
	rb.counter = 0

	if rb.cursor == rb.latest && rb.hold > 0 {
		rb.hold--
		return
	}
	rb.cursor = (rb.cursor + 1) % len(rb.frames)
	if rb.cursor >= rb.filled {
		// Ring not full yet: the oldest frame is slot 0.
		rb.cursor = 0
	}
	if rb.cursor == rb.latest {
		rb.hold = rb.endHold
	}
}

// Replaying reports whether the cursor, not the live frame, is displayed.
func (rb *ReplayBuffer) Replaying() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.replaying
}

// Current copies the frame that should be on screen: the replay cursor
// while replaying, otherwise the newest frame. Returns nil before the
// first frame.
func (rb *ReplayBuffer) Current() *image.RGBA {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.filled == 0 {
		return nil
	}
	idx := rb.latest
	if rb.replaying {
		idx = rb.cursor
	}
	src := rb.frames[idx].Image()
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// GetStats returns frame counters.
func (rb *ReplayBuffer) GetStats() (written, replays uint64) {
	return atomic.LoadUint64(&rb.framesWritten), atomic.LoadUint64(&rb.replaysStarted)
}

// cursorIndex is exposed to tests.
func (rb *ReplayBuffer) cursorIndex() (cursor, latest int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.cursor, rb.latest
}
