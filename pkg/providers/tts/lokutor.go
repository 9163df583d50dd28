package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicebridge/core/pkg/bridgeerr"
)

// Lokutor is a websocket-based streaming TTS adapter. Adapted from the
// teacher's LokutorTTS: same lazy-connect-and-hold-conn pattern, same
// EOS/ERR: text-frame protocol. Generalized here with an Abort method
// (called by the teacher's managed_stream.go as ms.orch.tts.Abort(),
// present on its test mocks but missing from its own types.go interface)
// that cuts off in-flight synthesis without tearing down the connection.
type Lokutor struct {
	apiKey string
	host   string
	scheme string // "wss" in production; tests override to "ws" against httptest servers

	mu           sync.Mutex
	conn         *websocket.Conn
	synthesizing bool
	aborted      bool
}

// NewLokutor builds a Lokutor streaming TTS adapter.
func NewLokutor(apiKey string) *Lokutor {
	return &Lokutor{apiKey: apiKey, host: "api.lokutor.com", scheme: "wss"}
}

func (t *Lokutor) Name() string { return "lokutor" }

func (t *Lokutor) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}
	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: lokutor connect failed: %v", bridgeerr.ErrUpstreamUnavailable, err)
	}
	t.conn = conn
	return conn, nil
}

// Synthesize buffers every chunk of a StreamSynthesize call into one
// return value.
func (t *Lokutor) Synthesize(ctx context.Context, text string, voice string) ([]byte, error) {
	var out []byte
	err := t.StreamSynthesize(ctx, text, voice, func(chunk []byte) error {
		out = append(out, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StreamSynthesize sends a synthesis request and delivers 24kHz PCM
// chunks to onChunk as they arrive, honoring ctx cancellation and a prior
// call to Abort at every read.
func (t *Lokutor) StreamSynthesize(ctx context.Context, text string, voice string, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.synthesizing = true
	t.aborted = false
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.synthesizing = false
		t.mu.Unlock()
	}()

	req := map[string]interface{}{
		"text":        text,
		"voice":       voice,
		"sample_rate": 24000,
		"encoding":    "pcm16",
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn()
		return fmt.Errorf("%w: failed to send synthesis request: %v", bridgeerr.ErrUpstreamUnavailable, err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.mu.Lock()
		aborted := t.aborted
		t.mu.Unlock()
		if aborted {
			return bridgeerr.ErrCancelled
		}

		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.dropConn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: failed to read from lokutor: %v", bridgeerr.ErrUpstreamUnavailable, err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("%w: lokutor reported %s", bridgeerr.ErrUpstreamProtocol, msg)
			}
		}
	}
}

// Abort cancels the in-flight synthesis, if any. The underlying
// connection is preserved for reuse by the next synthesis request.
func (t *Lokutor) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.synthesizing {
		t.aborted = true
	}
	return nil
}

func (t *Lokutor) dropConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close(websocket.StatusAbnormalClosure, "")
		t.conn = nil
	}
}

// Close tears down the underlying connection.
func (t *Lokutor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
