package relay

import (
	"sync"
	"time"
)

// StreamState tracks one logical stream: its latest frame, counters,
// an FPS estimate, and connection liveness. Each stream has a single
// writer (its listener); snapshot reads may happen from any goroutine.
type StreamState struct {
	name string

	mu         sync.RWMutex
	lastFrame  []byte
	frameCount uint64
	fps        float64
	connected  bool
	lastRemote string

	// FPS rolling window, reset at most once per wall-clock second.
	windowCount int
	windowStart time.Time
}

// NewStreamState creates state for the named stream.
func NewStreamState(name string) *StreamState {
	return &StreamState{name: name, windowStart: time.Now()}
}

// RecordFrame stores a copy of the frame payload, increments the
// counters, and recomputes the FPS estimate when at least one second
// has passed since the last recomputation. It returns the new total
// frame count and the current FPS estimate.
func (s *StreamState) RecordFrame(payload []byte, remote string) (frames uint64, fps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reuse the existing buffer; the payload's backing array belongs
	// to the listener's read loop.
	s.lastFrame = append(s.lastFrame[:0], payload...)
	s.frameCount++
	s.lastRemote = remote

	s.windowCount++
	now := time.Now()
	if elapsed := now.Sub(s.windowStart); elapsed >= time.Second {
		s.fps = float64(s.windowCount) / elapsed.Seconds()
		s.windowCount = 0
		s.windowStart = now
	}

	return s.frameCount, s.fps
}

// SetConnected flips the liveness flag, recording the remote address
// on connect.
func (s *StreamState) SetConnected(connected bool, remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = connected
	if connected && remote != "" {
		s.lastRemote = remote
	}
}

// Connected reports the current liveness flag.
func (s *StreamState) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LastFrame returns a copy of the most recent frame payload, or nil
// when no frame has arrived yet.
func (s *StreamState) LastFrame() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.lastFrame) == 0 {
		return nil
	}
	out := make([]byte, len(s.lastFrame))
	copy(out, s.lastFrame)
	return out
}

// StreamSnapshot is a point-in-time copy of a stream's statistics.
type StreamSnapshot struct {
	Name       string  `json:"name"`
	Connected  bool    `json:"connected"`
	FrameCount uint64  `json:"frame_count"`
	FPS        float64 `json:"fps"`
	LastRemote string  `json:"last_remote,omitempty"`
	FrameBytes int     `json:"frame_bytes"`
}

// Snapshot returns the stream's current statistics.
func (s *StreamState) Snapshot() StreamSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StreamSnapshot{
		Name:       s.name,
		Connected:  s.connected,
		FrameCount: s.frameCount,
		FPS:        s.fps,
		LastRemote: s.lastRemote,
		FrameBytes: len(s.lastFrame),
	}
}
