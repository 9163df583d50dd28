package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxTranscriptMessages bounds the rolling context kept per caller identity.
const MaxTranscriptMessages = 50

// TranscriptIdleTimeout is how long a caller's transcript survives with no
// activity before it is eligible for eviction.
const TranscriptIdleTimeout = 30 * time.Minute

// Message is one turn of conversation.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Transcript is the rolling conversational context for one caller
// identity, keyed by CallerKey and shared across a reconnect (session_resume)
// for the same caller. Grounded on the teacher's ConversationSession, with
// the fixed-voice/fixed-language fields dropped since voice/language are
// call-scoped configuration here, not per-caller session state.
type Transcript struct {
	mu           sync.RWMutex
	CallerKey    string
	Messages     []Message
	LastActivity time.Time
}

// CallerKey builds the caller-identity key transcripts are stored under.
func CallerKey(tenantID, userID string) string {
	return fmt.Sprintf("msteams-call:%s", strings.ToLower(userID))
}

// NewTranscript constructs an empty transcript for the given caller key.
func NewTranscript(callerKey string) *Transcript {
	return &Transcript{
		CallerKey:    callerKey,
		Messages:     []Message{},
		LastActivity: now(),
	}
}

// Append adds a turn, evicting the oldest when the cap is exceeded.
func (t *Transcript) Append(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, Message{Role: role, Content: content})
	if len(t.Messages) > MaxTranscriptMessages {
		t.Messages = t.Messages[len(t.Messages)-MaxTranscriptMessages:]
	}
	t.LastActivity = now()
}

// Snapshot returns a copy of the current message log.
func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.Messages))
	copy(out, t.Messages)
	return out
}

// Clear empties the transcript without discarding the caller key.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = nil
	t.LastActivity = now()
}

// Idle reports whether the transcript has had no activity for at least
// TranscriptIdleTimeout.
func (t *Transcript) Idle() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return now().Sub(t.LastActivity) >= TranscriptIdleTimeout
}
