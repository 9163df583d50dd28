package session

import (
	"fmt"
	"sync"

	"github.com/voicebridge/core/pkg/bridgeerr"
)

// Registry tracks every live call and every known caller's transcript.
// Reads snapshot-copy under RLock, following the teacher's
// ConversationSession locking discipline generalized to a call-keyed map.
type Registry struct {
	mu                 sync.RWMutex
	sessions           map[string]*Session
	transcripts        map[string]*Transcript
	maxConcurrentCalls int
}

// NewRegistry constructs an empty Registry enforcing maxConcurrentCalls
// simultaneous sessions.
func NewRegistry(maxConcurrentCalls int) *Registry {
	return &Registry{
		sessions:           make(map[string]*Session),
		transcripts:        make(map[string]*Transcript),
		maxConcurrentCalls: maxConcurrentCalls,
	}
}

// Add registers a new session, rejecting it if the registry is already at
// capacity.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.maxConcurrentCalls {
		return fmt.Errorf("%w: at capacity (%d concurrent calls)", bridgeerr.ErrInternal, r.maxConcurrentCalls)
	}
	if _, exists := r.sessions[s.CallID]; exists {
		return fmt.Errorf("%w: duplicate callId %q", bridgeerr.ErrProtocol, s.CallID)
	}
	r.sessions[s.CallID] = s
	return nil
}

// Get returns the session for callID, if any.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove drops a session from the registry.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns a point-in-time copy of every live session.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// TranscriptFor returns the transcript for callerKey, creating one if
// absent.
func (r *Registry) TranscriptFor(callerKey string) *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transcripts[callerKey]
	if !ok {
		t = NewTranscript(callerKey)
		r.transcripts[callerKey] = t
	}
	return t
}

// EvictIdleTranscripts removes every transcript that has been idle for at
// least TranscriptIdleTimeout. Intended to be called periodically by the
// embedding host.
func (r *Registry) EvictIdleTranscripts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, t := range r.transcripts {
		if t.Idle() {
			delete(r.transcripts, key)
			evicted++
		}
	}
	return evicted
}
