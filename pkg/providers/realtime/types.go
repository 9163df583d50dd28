// Package realtime implements the alternative voice path of spec.md
// §4.11: a single bidirectional websocket session to a realtime speech
// agent that does STT, reasoning, and TTS itself, with server-side VAD
// turn detection and tool-calling.
package realtime

import "context"

// ToolCall is one tool invocation requested by the realtime endpoint.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // accumulated JSON-encoded arguments, assembled on the "done" event
}

// ExecContext is the execution context a ToolExecutor receives, per
// spec.md §4.11: {call-id, tool-call-id, user-id, session-id, agent-id}.
type ExecContext struct {
	CallID     string
	ToolCallID string
	UserID     string
	SessionID  string
	AgentID    string
}

// ToolExecutor runs a tool call on behalf of the embedding host. The
// bridge core never implements tool logic itself.
type ToolExecutor interface {
	Execute(ctx context.Context, ec ExecContext, toolName string, arguments string) (result string, err error)
}

// Session is a live realtime voice session bound to one call.
type Session interface {
	// Start opens the endpoint connection and configures voice,
	// instructions, the filtered tool list, and turn-detection thresholds.
	Start(ctx context.Context, cfg SessionConfig) error
	// SendAudio forwards one frame of 24kHz pcm16 input audio.
	SendAudio(pcm []byte) error
	// Close tears down the endpoint connection.
	Close() error
}

// SessionConfig configures a realtime session per spec.md §4.11.
type SessionConfig struct {
	Voice         string
	Instructions  string
	Tools         []ToolSpec
	VADThreshold  float64
	SilenceMS     int
	PrefixPadMS   int
	OnAudioDelta  func(pcm []byte)
	OnUserSpeaking func()
	OnResponseCancelled func()
	OnToolCall    func(ToolCall)
	OnSessionEnd  func(reason string)
}

// ToolSpec is one tool advertised to the realtime endpoint.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}
