// Package bridgeerr defines the sentinel error kinds shared across the
// bridge. Call sites wrap these with fmt.Errorf("%w: ...") so callers can
// still errors.Is against the abstract kind.
package bridgeerr

import "errors"

var (
	// ErrProtocol marks a malformed, oversize, or invalid-identifier wire message.
	ErrProtocol = errors.New("protocol error")

	// ErrUnauthorized marks a bad shared secret or a denied auth_request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited marks a source address over the upgrade attempt budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrGatewayNotConnected marks an outbound operation with no live gateway connection.
	ErrGatewayNotConnected = errors.New("gateway not connected")

	// ErrTimeout marks an outbound ring, response-generation, or pong deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUpstreamUnavailable marks an STT/TTS/Agent network failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamProtocol marks an unexpected event shape from an upstream service.
	ErrUpstreamProtocol = errors.New("upstream protocol error")

	// ErrCancelled marks cooperative cancellation; never surfaced to the end user.
	ErrCancelled = errors.New("cancelled")

	// ErrDisabled marks a feature gated off by configuration.
	ErrDisabled = errors.New("feature disabled")

	// ErrInternal marks an invariant violation.
	ErrInternal = errors.New("internal error")
)
