// Package session tracks live calls and their conversational context. A
// Session is the per-call state (identity, direction, sequence counters);
// a Transcript is the per-caller rolling message log that survives across
// a single call and (for the same caller identity) a reconnect.
package session

import (
	"sync"
	"time"

	"github.com/voicebridge/core/pkg/wire"
)

// State is the lifecycle stage of a call session.
type State string

const (
	StateRinging  State = "ringing"
	StateActive   State = "active"
	StateEnded    State = "ended"
)

// Session is the mutable state of one call. Every method takes the
// session's lock, so the receive loop and the playout goroutines can
// advance its counters concurrently; Snapshot gives other goroutines
// (HTTP status handlers, the registry) a point-in-time copy instead of
// shared mutable access.
type Session struct {
	mu sync.Mutex

	CallID    string
	Direction wire.Direction
	Metadata  wire.CallMetadata
	State     State

	StartedAt  time.Time
	AnsweredAt time.Time

	LastSentSeq int64
	LastRecvSeq int64
	FramesIn    int64
	FramesOut   int64
}

// New constructs a Session in the ringing state.
func New(callID string, direction wire.Direction, metadata wire.CallMetadata) *Session {
	return &Session{
		CallID:      callID,
		Direction:   direction,
		Metadata:    metadata,
		State:       StateRinging,
		StartedAt:   now(),
		LastSentSeq: -1,
	}
}

// Answer transitions the session to active and records the answer time.
func (s *Session) Answer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateActive
	s.AnsweredAt = now()
}

// End transitions the session to ended.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateEnded
}

// RecordInbound advances the inbound sequence counters. Returns false,
// without mutating state, if seq is not strictly greater than the last
// recorded sequence (a duplicate or reordered frame).
func (s *Session) RecordInbound(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.LastRecvSeq && s.FramesIn > 0 {
		return false
	}
	s.LastRecvSeq = seq
	s.FramesIn++
	return true
}

// NextOutboundSeq returns the next outbound sequence number and advances
// the counter.
func (s *Session) NextOutboundSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastSentSeq++
	s.FramesOut++
	return s.LastSentSeq
}

// Snapshot is an immutable point-in-time copy of a Session, safe to read
// from any goroutine without holding the session's lock.
type Snapshot struct {
	CallID      string
	Direction   wire.Direction
	Metadata    wire.CallMetadata
	State       State
	StartedAt   time.Time
	AnsweredAt  time.Time
	LastSentSeq int64
	LastRecvSeq int64
	FramesIn    int64
	FramesOut   int64
	Duration    time.Duration
}

// Snapshot copies the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := time.Duration(0)
	if !s.StartedAt.IsZero() {
		d = now().Sub(s.StartedAt)
	}
	return Snapshot{
		CallID:      s.CallID,
		Direction:   s.Direction,
		Metadata:    s.Metadata,
		State:       s.State,
		StartedAt:   s.StartedAt,
		AnsweredAt:  s.AnsweredAt,
		LastSentSeq: s.LastSentSeq,
		LastRecvSeq: s.LastRecvSeq,
		FramesIn:    s.FramesIn,
		FramesOut:   s.FramesOut,
		Duration:    d,
	}
}

// now is a seam so tests can observe deterministic durations if ever
// needed; production always uses wall-clock time.
var now = time.Now
