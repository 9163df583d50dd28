package realtime

import "testing"

func TestSendAudioWithoutConnectionFails(t *testing.T) {
	s := NewOpenAIRealtime("key", "gpt-realtime")
	if err := s.SendAudio([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error sending audio before Start connects")
	}
}

func TestCloseWithoutConnectionIsNoOp(t *testing.T) {
	s := NewOpenAIRealtime("key", "gpt-realtime")
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error closing an unconnected session: %v", err)
	}
}
