package recorder

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	events []Event
	err    error
}

func (f *fakeStore) RecordEvent(ctx context.Context, e Event) error {
	f.events = append(f.events, e)
	return f.err
}

type capturingLogger struct {
	warnCalls int
}

func (c *capturingLogger) Debug(msg string, args ...interface{}) {}
func (c *capturingLogger) Info(msg string, args ...interface{})  {}
func (c *capturingLogger) Warn(msg string, args ...interface{})  { c.warnCalls++ }
func (c *capturingLogger) Error(msg string, args ...interface{}) {}

func TestRecorderEmitsEvents(t *testing.T) {
	store := &fakeStore{}
	r := New(store, nil)
	ctx := context.Background()

	r.CallStart(ctx, "call-1", "msteams-call:u1")
	r.TranscriptFinal(ctx, "call-1", "msteams-call:u1", "user", "hello")
	r.CallEnd(ctx, "call-1", "msteams-call:u1", "hangup-user")

	if len(store.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(store.events))
	}
	if store.events[0].Kind != EventCallStart {
		t.Errorf("expected first event to be call-start, got %v", store.events[0].Kind)
	}
	if store.events[1].Role != "user" || store.events[1].Text != "hello" {
		t.Errorf("unexpected transcript event: %+v", store.events[1])
	}
	if store.events[2].Reason != "hangup-user" {
		t.Errorf("unexpected call-end event: %+v", store.events[2])
	}
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	logger := &capturingLogger{}
	r := New(store, logger)

	r.CallStart(context.Background(), "call-1", "msteams-call:u1")

	if logger.warnCalls != 1 {
		t.Fatalf("expected store error to be logged as a warning exactly once, got %d", logger.warnCalls)
	}
}

func TestRecorderWithNilStoreIsNoOp(t *testing.T) {
	r := New(nil, nil)
	r.CallStart(context.Background(), "call-1", "msteams-call:u1")
}
