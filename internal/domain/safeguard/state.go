// Package safeguard enforces the immutability of the curated mapping table
// at runtime. The resolution pipeline never writes to it; any attempted
// write through the service is blocked, audited, and counted, and a burst
// of blocked writes pauses the pipeline until an operator resumes it.
package safeguard

import (
	"sync"
	"time"
)

// Mode is the pipeline's operating mode.
type Mode string

const (
	// ModeActive is normal operation: all resolution stages run.
	ModeActive Mode = "active"
	// ModePaused means the pipeline rejects resolution requests. Entered
	// automatically after repeated blocked writes, or manually.
	ModePaused Mode = "paused"
	// ModeManual means resolution requests are accepted but every result
	// is routed to human review regardless of confidence.
	ModeManual Mode = "manual"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeActive, ModePaused, ModeManual:
		return true
	}
	return false
}

// State tracks the pipeline mode and the sliding window of blocked write
// attempts. All methods are safe for concurrent use.
type State struct {
	mu          sync.Mutex
	mode        Mode
	blocked     int64
	windowStart time.Time
	pausedAt    time.Time
	pauseReason string
}

func NewState() *State {
	return &State{mode: ModeActive}
}

// Mode returns the current operating mode.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// BlockedWrites returns the blocked-write count in the current window.
func (s *State) BlockedWrites() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

// Status is a point-in-time snapshot of the pipeline state.
type Status struct {
	Mode          Mode      `json:"mode"`
	BlockedWrites int64     `json:"blocked_writes"`
	PausedAt      time.Time `json:"paused_at,omitempty"`
	PauseReason   string    `json:"pause_reason,omitempty"`
}

func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Mode:          s.mode,
		BlockedWrites: s.blocked,
		PausedAt:      s.pausedAt,
		PauseReason:   s.pauseReason,
	}
}

// RecordBlockedWrite counts one blocked write attempt at time now and
// returns the count and whether this call crossed the pause threshold.
// Every attempt increments the counter, including attempts arriving after
// the pause; the transition to paused itself happens exactly once, on the
// call that reaches the threshold. While paused the window never resets,
// so the count reflects every attempt since the pause began.
func (s *State) RecordBlockedWrite(threshold int64, window time.Duration, now time.Time) (count int64, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModePaused && (s.windowStart.IsZero() || now.Sub(s.windowStart) > window) {
		s.windowStart = now
		s.blocked = 0
	}
	s.blocked++

	if s.mode != ModePaused && s.blocked >= threshold {
		s.mode = ModePaused
		s.pausedAt = now
		s.pauseReason = "repeated blocked writes to protected mapping resources"
		return s.blocked, true
	}
	return s.blocked, false
}

// SetMode transitions to the given mode and returns the previous one.
// Moving out of paused clears the blocked-write window.
func (s *State) SetMode(mode Mode) (previous Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous = s.mode
	if previous == mode {
		return previous
	}
	s.mode = mode
	if previous == ModePaused {
		s.blocked = 0
		s.windowStart = time.Time{}
		s.pausedAt = time.Time{}
		s.pauseReason = ""
	}
	if mode == ModePaused {
		s.pausedAt = time.Now().UTC()
		s.pauseReason = "paused by operator"
	}
	return previous
}
