package session

import (
	"testing"

	"github.com/voicebridge/core/pkg/wire"
)

func TestSessionLifecycle(t *testing.T) {
	s := New("call-1", wire.DirectionInbound, wire.CallMetadata{TenantID: "t1", UserID: "u1"})
	if s.Snapshot().State != StateRinging {
		t.Fatalf("expected ringing, got %v", s.Snapshot().State)
	}
	s.Answer()
	if s.Snapshot().State != StateActive {
		t.Fatalf("expected active, got %v", s.Snapshot().State)
	}
	s.End()
	if s.Snapshot().State != StateEnded {
		t.Fatalf("expected ended, got %v", s.Snapshot().State)
	}
}

func TestRecordInboundRejectsDuplicateOrOldSeq(t *testing.T) {
	s := New("call-1", wire.DirectionInbound, wire.CallMetadata{})
	if !s.RecordInbound(1) {
		t.Fatal("expected first seq to be accepted")
	}
	if !s.RecordInbound(2) {
		t.Fatal("expected increasing seq to be accepted")
	}
	if s.RecordInbound(2) {
		t.Fatal("expected duplicate seq to be rejected")
	}
	if s.RecordInbound(1) {
		t.Fatal("expected stale seq to be rejected")
	}
}

func TestNextOutboundSeqIsMonotonic(t *testing.T) {
	s := New("call-1", wire.DirectionOutbound, wire.CallMetadata{})
	first := s.NextOutboundSeq()
	if first != 0 {
		t.Fatalf("expected first outbound seq to be 0, got %d", first)
	}
	second := s.NextOutboundSeq()
	if second != first+1 {
		t.Fatalf("expected monotonic sequence, got %d then %d", first, second)
	}
	if s.Snapshot().FramesOut != 2 {
		t.Fatalf("expected 2 frames out, got %d", s.Snapshot().FramesOut)
	}
}

func TestCallerKeyLowercasesUserID(t *testing.T) {
	if got, want := CallerKey("tenant1", "User@Example.com"), "msteams-call:user@example.com"; got != want {
		t.Errorf("CallerKey() = %q, want %q", got, want)
	}
}

func TestTranscriptAppendCapsAtMax(t *testing.T) {
	tr := NewTranscript("msteams-call:u1")
	for i := 0; i < MaxTranscriptMessages+10; i++ {
		tr.Append("user", "hi")
	}
	if got := len(tr.Snapshot()); got != MaxTranscriptMessages {
		t.Fatalf("expected %d messages, got %d", MaxTranscriptMessages, got)
	}
}

func TestTranscriptClear(t *testing.T) {
	tr := NewTranscript("msteams-call:u1")
	tr.Append("user", "hi")
	tr.Clear()
	if got := len(tr.Snapshot()); got != 0 {
		t.Fatalf("expected empty transcript after clear, got %d messages", got)
	}
}

func TestRegistryAddRejectsOverCapacity(t *testing.T) {
	r := NewRegistry(1)
	if err := r.Add(New("call-1", wire.DirectionInbound, wire.CallMetadata{})); err != nil {
		t.Fatalf("unexpected error adding first session: %v", err)
	}
	if err := r.Add(New("call-2", wire.DirectionInbound, wire.CallMetadata{})); err == nil {
		t.Fatal("expected error adding session over capacity")
	}
}

func TestRegistryAddRejectsDuplicateCallID(t *testing.T) {
	r := NewRegistry(5)
	if err := r.Add(New("call-1", wire.DirectionInbound, wire.CallMetadata{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Add(New("call-1", wire.DirectionInbound, wire.CallMetadata{})); err == nil {
		t.Fatal("expected error adding duplicate callId")
	}
}

func TestRegistryGetAndRemove(t *testing.T) {
	r := NewRegistry(5)
	s := New("call-1", wire.DirectionInbound, wire.CallMetadata{})
	_ = r.Add(s)
	if _, ok := r.Get("call-1"); !ok {
		t.Fatal("expected to find session")
	}
	r.Remove("call-1")
	if _, ok := r.Get("call-1"); ok {
		t.Fatal("expected session to be removed")
	}
}

func TestRegistryTranscriptForIsIdempotent(t *testing.T) {
	r := NewRegistry(5)
	a := r.TranscriptFor("msteams-call:u1")
	b := r.TranscriptFor("msteams-call:u1")
	if a != b {
		t.Fatal("expected the same transcript instance to be returned")
	}
}
