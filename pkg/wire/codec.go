package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/voicebridge/core/pkg/bridgeerr"
)

// Size and shape limits from spec.md §4.2/§6.
const (
	MaxMessageBytes   = 1 << 20 // 1 MiB
	MaxAudioPayloadB64 = 2048
	PCMFrameBytes     = 640 // 20ms of 16kHz 16-bit mono PCM
)

var callIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidCallID reports whether id satisfies the callId identifier grammar.
func ValidCallID(id string) bool {
	return callIDPattern.MatchString(id)
}

// Decode parses a raw WebSocket text frame into an Envelope, enforcing the
// message-size ceiling and the callId grammar when a callId is present.
func Decode(raw []byte) (Envelope, error) {
	if len(raw) > MaxMessageBytes {
		return Envelope{}, fmt.Errorf("%w: message of %d bytes exceeds %d byte limit", bridgeerr.ErrProtocol, len(raw), MaxMessageBytes)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", bridgeerr.ErrProtocol, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type field", bridgeerr.ErrProtocol)
	}
	if env.CallID != "" && !ValidCallID(env.CallID) {
		return Envelope{}, fmt.Errorf("%w: invalid callId %q", bridgeerr.ErrProtocol, env.CallID)
	}
	return env, nil
}

// DecodeAudioFrame validates and decodes the base64 payload of an audio_in
// message to raw PCM bytes. It enforces both the encoded-size ceiling and
// the exact decoded frame size spec.md §4.2 requires.
func DecodeAudioFrame(env Envelope) ([]byte, error) {
	if len(env.Data) > MaxAudioPayloadB64 {
		return nil, fmt.Errorf("%w: audio payload of %d base64 bytes exceeds %d byte limit", bridgeerr.ErrProtocol, len(env.Data), MaxAudioPayloadB64)
	}
	pcm, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio payload: %v", bridgeerr.ErrProtocol, err)
	}
	if len(pcm) != PCMFrameBytes {
		return nil, fmt.Errorf("%w: decoded audio frame is %d bytes, want %d", bridgeerr.ErrProtocol, len(pcm), PCMFrameBytes)
	}
	return pcm, nil
}

// EncodeAudioFrame builds an audio_out message carrying pcm (any frame
// size; outbound frames are not constrained to PCMFrameBytes since they
// may originate from a different sample rate before gateway-side resampling).
func EncodeAudioFrame(callID string, seq int64, pcm []byte) ([]byte, error) {
	frame := AudioFrame{
		Type:   TypeAudioOut,
		CallID: callID,
		Seq:    seq,
		Data:   base64.StdEncoding.EncodeToString(pcm),
	}
	return json.Marshal(frame)
}

// Encode marshals any outbound message value to a JSON text frame.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// NewAuthResponse builds an auth_response payload.
func NewAuthResponse(callID, correlationID string, authorized bool, reason, strategy string, timestamp int64) AuthResponse {
	return AuthResponse{
		Type:          TypeAuthResponse,
		CallID:        callID,
		CorrelationID: correlationID,
		Authorized:    authorized,
		Reason:        reason,
		Strategy:      strategy,
		Timestamp:     timestamp,
	}
}

// NewHangup builds a hangup payload.
func NewHangup(callID string) Hangup {
	return Hangup{Type: TypeHangup, CallID: callID}
}

// NewPong builds a pong payload.
func NewPong(callID string) Pong {
	return Pong{Type: TypePong, CallID: callID}
}

// NewFlush builds a flush payload.
func NewFlush(callID string) Flush {
	return Flush{Type: TypeFlush, CallID: callID}
}
