package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/core/pkg/providers/llm"
)

func fakeStream(reply string) StreamCompleter {
	return func(ctx context.Context, history []llm.Message, onDelta func(string)) error {
		for _, r := range reply {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			onDelta(string(r))
		}
		return nil
	}
}

func fakeSynth(frames int) Synthesizer {
	return func(ctx context.Context, text string) ([]byte, error) {
		return pcmOfFrames(frames), nil
	}
}

func TestControllerHandleFinalTranscriptDrainsToIdle(t *testing.T) {
	var mu sync.Mutex
	var sent [][]byte
	send := func(frame []byte) error {
		mu.Lock()
		sent = append(sent, frame)
		mu.Unlock()
		return nil
	}

	c := NewController(nil, fakeStream("Hello there. How are you?"), fakeSynth(1), send, 4, 5, 200, 1)
	c.pacer.wait = func(time.Duration) {}

	c.HandleFinalTranscript(context.Background(), "hi")

	if got := c.State(); got != StateIdle {
		t.Fatalf("expected StateIdle after drain completes, got %v", got)
	}
	mu.Lock()
	n := len(sent)
	mu.Unlock()
	if n == 0 {
		t.Fatal("expected at least one frame to have been sent")
	}
}

func TestControllerHistoryAccumulatesUserAndAssistantTurns(t *testing.T) {
	send := func(frame []byte) error { return nil }
	c := NewController(nil, fakeStream("Hi."), fakeSynth(1), send, 2, 1, 50, 1)
	c.pacer.wait = func(time.Duration) {}

	c.HandleFinalTranscript(context.Background(), "hello")

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) != 2 {
		t.Fatalf("expected 2 history entries (user+assistant), got %d: %+v", len(c.history), c.history)
	}
	if c.history[0].Role != "user" || c.history[0].Content != "hello" {
		t.Errorf("unexpected first history entry: %+v", c.history[0])
	}
	if c.history[1].Role != "assistant" {
		t.Errorf("unexpected second history entry role: %+v", c.history[1])
	}
}

func TestControllerBargeInCancelsResponseAndFlushesQueue(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	stream := func(ctx context.Context, history []llm.Message, onDelta func(string)) error {
		close(started)
		select {
		case <-release:
			onDelta("too late to matter")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	send := func(frame []byte) error { return nil }
	c := NewController(nil, stream, fakeSynth(1), send, 2, 5, 50, 1)
	c.pacer.wait = func(time.Duration) {}

	done := make(chan struct{})
	go func() {
		c.HandleFinalTranscript(context.Background(), "hello")
		close(done)
	}()

	<-started
	// Force past the echo-suppression window so the barge-in is honored.
	c.mu.Lock()
	c.echoSuppressUntil = time.Time{}
	c.state = StateThinking
	c.mu.Unlock()

	c.HandleUserSpeaking()
	close(release)
	<-done

	if got := c.State(); got != StateIdle {
		t.Fatalf("expected StateIdle after barge-in, got %v", got)
	}
}

func TestControllerIgnoresUserSpeakingWhileIdle(t *testing.T) {
	send := func(frame []byte) error { return nil }
	c := NewController(nil, fakeStream(""), fakeSynth(1), send, 1, 5, 50, 1)
	c.HandleUserSpeaking() // must not panic with a nil responseCancel/queue
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected StateIdle, got %v", got)
	}
}

func TestControllerEchoSuppressionWindowSuppressesBargeIn(t *testing.T) {
	send := func(frame []byte) error { return nil }
	c := NewController(nil, fakeStream("Hi."), fakeSynth(1), send, 1, 1, 50, 1)
	c.mu.Lock()
	c.state = StateSpeaking
	c.echoSuppressUntil = time.Now().Add(1 * time.Hour)
	c.queue = NewOrderedQueue(1)
	c.mu.Unlock()

	c.HandleUserSpeaking()

	if got := c.State(); got != StateSpeaking {
		t.Fatalf("expected barge-in to be suppressed, state=%v", got)
	}
}
