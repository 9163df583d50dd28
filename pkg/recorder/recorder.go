// Package recorder emits best-effort lifecycle events for a call to a
// host-supplied store. Failures are logged and swallowed: a recording
// outage must never interrupt a live call.
package recorder

import (
	"context"
	"time"

	"github.com/voicebridge/core/pkg/logging"
)

// Event kinds emitted over a call's lifetime.
const (
	EventCallStart      = "call-start"
	EventTranscriptFinal = "transcript-final"
	EventCallEnd        = "call-end"
)

// Event is one lifecycle record.
type Event struct {
	Kind      string
	CallID    string
	CallerKey string
	Role      string // set on transcript-final: "user" | "assistant"
	Text      string // set on transcript-final
	Reason    string // set on call-end
	Timestamp time.Time
}

// Store persists recorder events. Implementations are supplied by the
// embedding host; the bridge never assumes a concrete backend.
type Store interface {
	RecordEvent(ctx context.Context, e Event) error
}

// Recorder wraps a Store with the best-effort/non-fatal write discipline
// the call bridge requires: a write failure is logged at warn level and
// otherwise ignored.
type Recorder struct {
	store  Store
	logger logging.Logger
}

// New constructs a Recorder. A nil store makes every emit a no-op.
func New(store Store, logger logging.Logger) *Recorder {
	return &Recorder{store: store, logger: logging.Or(logger)}
}

func (r *Recorder) emit(ctx context.Context, e Event) {
	if r.store == nil {
		return
	}
	e.Timestamp = time.Now()
	if err := r.store.RecordEvent(ctx, e); err != nil {
		r.logger.Warn("recorder: failed to persist event", "kind", e.Kind, "callId", e.CallID, "err", err)
	}
}

// CallStart records the start of a call.
func (r *Recorder) CallStart(ctx context.Context, callID, callerKey string) {
	r.emit(ctx, Event{Kind: EventCallStart, CallID: callID, CallerKey: callerKey})
}

// TranscriptFinal records one finalized conversational turn.
func (r *Recorder) TranscriptFinal(ctx context.Context, callID, callerKey, role, text string) {
	r.emit(ctx, Event{Kind: EventTranscriptFinal, CallID: callID, CallerKey: callerKey, Role: role, Text: text})
}

// CallEnd records the end of a call with the terminal reason.
func (r *Recorder) CallEnd(ctx context.Context, callID, callerKey, reason string) {
	r.emit(ctx, Event{Kind: EventCallEnd, CallID: callID, CallerKey: callerKey, Reason: reason})
}
