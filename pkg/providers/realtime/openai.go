package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicebridge/core/pkg/bridgeerr"
)

// OpenAIRealtime is a websocket-based realtime voice session. Grounded on
// the teacher's LokutorTTS connection-holding pattern in
// pkg/providers/tts/lokutor.go (the corpus's only persistent-websocket
// client), generalized here to a bidirectional session that both sends
// (audio frames, tool results) and receives (audio deltas, VAD events,
// tool-call events) over one socket for the session's whole lifetime.
type OpenAIRealtime struct {
	apiKey string
	host   string
	model  string
	scheme string

	mu   sync.Mutex
	conn *websocket.Conn

	cfg SessionConfig

	pendingToolCalls map[string]*ToolCall
}

// NewOpenAIRealtime builds a realtime session adapter for the given model.
func NewOpenAIRealtime(apiKey, model string) *OpenAIRealtime {
	return &OpenAIRealtime{
		apiKey:           apiKey,
		host:             "api.openai.com",
		model:            model,
		scheme:           "wss",
		pendingToolCalls: make(map[string]*ToolCall),
	}
}

func (s *OpenAIRealtime) Start(ctx context.Context, cfg SessionConfig) error {
	s.cfg = cfg

	u := url.URL{Scheme: s.scheme, Host: s.host, Path: "/v1/realtime", RawQuery: "model=" + s.model}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Bearer " + s.apiKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: realtime connect failed: %v", bridgeerr.ErrUpstreamUnavailable, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	tools := make([]map[string]interface{}, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools = append(tools, map[string]interface{}{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}

	update := map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"voice":             cfg.Voice,
			"instructions":      cfg.Instructions,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"tools":             tools,
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           cfg.VADThreshold,
				"silence_duration_ms": cfg.SilenceMS,
				"prefix_padding_ms":   cfg.PrefixPadMS,
			},
		},
	}
	if err := wsjson.Write(ctx, conn, update); err != nil {
		return fmt.Errorf("%w: failed to configure realtime session: %v", bridgeerr.ErrUpstreamUnavailable, err)
	}

	go s.readLoop(ctx)
	return nil
}

func (s *OpenAIRealtime) SendAudio(pcm []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: no active realtime connection", bridgeerr.ErrUpstreamUnavailable)
	}
	msg := map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	}
	return wsjson.Write(context.Background(), conn, msg)
}

func (s *OpenAIRealtime) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	return err
}

// SubmitToolResult sends a tool's output back to the model and triggers
// the model to continue, per spec.md §4.11's "submit the result item
// followed by a response-create trigger" requirement.
func (s *OpenAIRealtime) SubmitToolResult(ctx context.Context, callID, result string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: no active realtime connection", bridgeerr.ErrUpstreamUnavailable)
	}
	item := map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  ClampResult(result),
		},
	}
	if err := wsjson.Write(ctx, conn, item); err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, map[string]interface{}{"type": "response.create"})
}

type realtimeEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Name  string `json:"name"`
	CallID string `json:"call_id"`
	Arguments string `json:"arguments"`
	Reason string `json:"reason"`
}

func (s *OpenAIRealtime) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		var evt realtimeEvent
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if ctx.Err() == nil && s.cfg.OnSessionEnd != nil {
				s.cfg.OnSessionEnd("error")
			}
			return
		}

		switch evt.Type {
		case "response.audio.delta":
			if s.cfg.OnAudioDelta != nil {
				if pcm, err := base64.StdEncoding.DecodeString(evt.Delta); err == nil {
					s.cfg.OnAudioDelta(pcm)
				}
			}
		case "input_audio_buffer.speech_started":
			if s.cfg.OnUserSpeaking != nil {
				s.cfg.OnUserSpeaking()
			}
		case "response.cancelled":
			if s.cfg.OnResponseCancelled != nil {
				s.cfg.OnResponseCancelled()
			}
		case "response.function_call_arguments.delta":
			tc := s.pendingToolCalls[evt.CallID]
			if tc == nil {
				tc = &ToolCall{ID: evt.CallID, Name: evt.Name}
				s.pendingToolCalls[evt.CallID] = tc
			}
			tc.Arguments += evt.Delta
		case "response.function_call_arguments.done":
			tc := s.pendingToolCalls[evt.CallID]
			if tc == nil {
				tc = &ToolCall{ID: evt.CallID, Name: evt.Name, Arguments: evt.Arguments}
			} else if evt.Arguments != "" {
				tc.Arguments = evt.Arguments
			}
			delete(s.pendingToolCalls, evt.CallID)
			if s.cfg.OnToolCall != nil {
				s.cfg.OnToolCall(*tc)
			}
		}
	}
}
