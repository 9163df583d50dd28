package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicebridge/core/pkg/bridgeerr"
)

// DeepgramStreaming is a live streaming transcriber over Deepgram's
// websocket API. Grounded on the teacher's LokutorTTS connection pattern
// (lazy-connect, mutex-guarded *websocket.Conn) in pkg/providers/tts,
// which is the only streaming-websocket adapter in the corpus, adapted
// here to the inbound direction (writing audio frames, reading transcript
// events) and given the reconnect budget spec.md §4.4 requires.
type DeepgramStreaming struct {
	apiKey string
	host   string

	mu   sync.Mutex
	conn *websocket.Conn

	onPartial      func(text string)
	onFinal        func(text string)
	onUserSpeaking func()

	readDone chan struct{}
}

// NewDeepgramStreaming builds a streaming adapter against Deepgram's
// live transcription endpoint.
func NewDeepgramStreaming(apiKey string) *DeepgramStreaming {
	return &DeepgramStreaming{apiKey: apiKey, host: "api.deepgram.com"}
}

func (d *DeepgramStreaming) Name() string { return "deepgram-streaming" }

// Transcribe is not used in streaming mode but is kept to satisfy Provider.
func (d *DeepgramStreaming) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	return "", fmt.Errorf("%w: DeepgramStreaming does not support batch transcription", bridgeerr.ErrInternal)
}

// Start connects (with the exponential-backoff reconnect budget spec.md
// §4.4 specifies) and begins delivering events to the supplied callbacks.
func (d *DeepgramStreaming) Start(ctx context.Context, language string, onPartial, onFinal func(text string), onUserSpeaking func()) error {
	d.onPartial = onPartial
	d.onFinal = onFinal
	d.onUserSpeaking = onUserSpeaking

	if err := d.connect(ctx, language); err != nil {
		return err
	}
	d.readDone = make(chan struct{})
	go d.readLoop(ctx, language)
	return nil
}

func (d *DeepgramStreaming) connect(ctx context.Context, language string) error {
	u := url.URL{
		Scheme:   "wss",
		Host:     d.host,
		Path:     "/v1/listen",
		RawQuery: "model=nova-2&encoding=linear16&sample_rate=24000&vad_events=true",
	}
	if language != "" {
		u.RawQuery += "&language=" + language
	}

	var lastErr error
	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
			HTTPHeader: map[string][]string{"Authorization": {"Token " + d.apiKey}},
		})
		if err == nil {
			d.mu.Lock()
			d.conn = conn
			d.mu.Unlock()
			return nil
		}
		lastErr = err
		if attempt == MaxReconnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
		}
	}
	return fmt.Errorf("%w: deepgram connect failed after %d attempts: %v", bridgeerr.ErrUpstreamUnavailable, MaxReconnectAttempts, lastErr)
}

type deepgramEvent struct {
	Type        string `json:"type"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

func (d *DeepgramStreaming) readLoop(ctx context.Context, language string) {
	defer close(d.readDone)
	for {
		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()
		if conn == nil {
			return
		}

		var evt deepgramEvent
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if ctx.Err() != nil {
				return
			}
			if err := d.connect(ctx, language); err != nil {
				return
			}
			continue
		}

		switch evt.Type {
		case "SpeechStarted":
			if d.onUserSpeaking != nil {
				d.onUserSpeaking()
			}
		case "Results":
			if len(evt.Channel.Alternatives) == 0 {
				continue
			}
			text := evt.Channel.Alternatives[0].Transcript
			if text == "" {
				continue
			}
			if evt.IsFinal && d.onFinal != nil {
				d.onFinal(text)
			} else if !evt.IsFinal && d.onPartial != nil {
				d.onPartial(text)
			}
		}
	}
}

// Write sends one frame of 24kHz pcm16 audio over the live socket.
func (d *DeepgramStreaming) Write(pcm []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: no active deepgram connection", bridgeerr.ErrUpstreamUnavailable)
	}
	return conn.Write(context.Background(), websocket.MessageBinary, pcm)
}

// Close tears down the socket.
func (d *DeepgramStreaming) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	closeMsg, _ := json.Marshal(map[string]string{"type": "CloseStream"})
	_ = conn.Write(context.Background(), websocket.MessageText, closeMsg)
	return conn.Close(websocket.StatusNormalClosure, "")
}
