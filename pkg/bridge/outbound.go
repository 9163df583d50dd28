package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/core/pkg/bridgeerr"
	"github.com/voicebridge/core/pkg/config"
	"github.com/voicebridge/core/pkg/wire"
)

// GatewaySend delivers a raw JSON frame to one bound gateway connection.
type GatewaySend func(payload []byte) error

// pendingCall is one in-flight initiate_call awaiting resolution.
type pendingCall struct {
	resultCh chan outboundResult
	timer    *time.Timer
	resolved bool
}

type outboundResult struct {
	answered bool
	err      error
}

// OutboundCoordinator issues initiate_call requests and resolves them
// against the session_start/call_status events the receive loop forwards
// to it, per spec.md §4.12. Grounded on the teacher's general style of a
// small mutex-guarded table with atomic resolve-once semantics — the
// closest structural analogue in the corpus is the teacher's
// sttGeneration-based stale-callback rejection in managed_stream.go,
// generalized here from "invalidate stale callbacks" to "resolve exactly
// once, whichever event arrives first."
type OutboundCoordinator struct {
	cfg config.OutboundConfig

	mu      sync.Mutex
	pending map[string]*pendingCall

	// connections lists live gateway connections round-robin picks from;
	// callers (the listener) keep it updated via AddConnection/RemoveConnection.
	connections []gatewayConn
	nextConn    int
}

type gatewayConn struct {
	id   string
	send GatewaySend
}

// NewOutboundCoordinator builds a coordinator using cfg's enablement and
// ring-timeout settings.
func NewOutboundCoordinator(cfg config.OutboundConfig) *OutboundCoordinator {
	return &OutboundCoordinator{
		cfg:     cfg,
		pending: make(map[string]*pendingCall),
	}
}

// AddConnection registers a live gateway connection available for
// round-robin outbound dispatch.
func (o *OutboundCoordinator) AddConnection(id string, send GatewaySend) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connections = append(o.connections, gatewayConn{id: id, send: send})
}

// RemoveConnection drops a connection (on close). It does not fail the
// pending calls dispatched on it; FailAllForConnection fails every pending
// call with ErrGatewayNotConnected once no connection remains.
func (o *OutboundCoordinator) RemoveConnection(id string) {
	o.mu.Lock()
	kept := o.connections[:0]
	for _, c := range o.connections {
		if c.id != id {
			kept = append(kept, c)
		}
	}
	o.connections = kept
	o.mu.Unlock()
}

func (o *OutboundCoordinator) pickConnection() (gatewayConn, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.connections) == 0 {
		return gatewayConn{}, false
	}
	c := o.connections[o.nextConn%len(o.connections)]
	o.nextConn++
	return c, true
}

// Initiate sends initiate_call for callID/target on a round-robin-chosen
// live connection and blocks until session_start/call_status resolves it
// or the ring timeout elapses.
func (o *OutboundCoordinator) Initiate(callID string, target wire.InitiateTarget, message string) error {
	if !o.cfg.Enabled {
		return fmt.Errorf("%w: outbound calling is disabled", bridgeerr.ErrDisabled)
	}
	conn, ok := o.pickConnection()
	if !ok {
		return fmt.Errorf("%w: no live gateway connection for outbound call", bridgeerr.ErrGatewayNotConnected)
	}

	ringTimeout := time.Duration(o.cfg.RingTimeoutMS) * time.Millisecond
	pc := &pendingCall{resultCh: make(chan outboundResult, 1)}
	pc.timer = time.AfterFunc(ringTimeout, func() {
		o.resolve(callID, outboundResult{err: fmt.Errorf("%w: no answer within ring-timeout-ms", bridgeerr.ErrTimeout)})
	})

	o.mu.Lock()
	o.pending[callID] = pc
	o.mu.Unlock()

	payload, err := wire.Encode(wire.InitiateCall{
		Type:    wire.TypeInitiateCall,
		CallID:  callID,
		Target:  target,
		Message: message,
	})
	if err != nil {
		o.resolve(callID, outboundResult{err: fmt.Errorf("%w: %v", bridgeerr.ErrInternal, err)})
		return (<-pc.resultCh).err
	}
	if err := conn.send(payload); err != nil {
		o.resolve(callID, outboundResult{err: fmt.Errorf("%w: %v", bridgeerr.ErrGatewayNotConnected, err)})
	}

	result := <-pc.resultCh
	return result.err
}

// resolve atomically settles callID's pending entry exactly once; later
// calls for the same callID are no-ops.
func (o *OutboundCoordinator) resolve(callID string, result outboundResult) {
	o.mu.Lock()
	pc, ok := o.pending[callID]
	if !ok || pc.resolved {
		o.mu.Unlock()
		return
	}
	pc.resolved = true
	delete(o.pending, callID)
	o.mu.Unlock()

	pc.timer.Stop()
	pc.resultCh <- result
}

// HandleSessionStart resolves a pending outbound call when the gateway
// reports the call was answered with direction "outbound".
func (o *OutboundCoordinator) HandleSessionStart(callID string, direction wire.Direction) {
	if direction != wire.DirectionOutbound {
		return
	}
	o.resolve(callID, outboundResult{answered: true})
}

// HandleCallStatus resolves (on a terminal failure status) or ignores (on
// an informational status) a pending outbound call.
func (o *OutboundCoordinator) HandleCallStatus(callID string, status wire.CallStatus) {
	switch status {
	case wire.StatusFailed, wire.StatusBusy, wire.StatusNoAnswer:
		o.resolve(callID, outboundResult{err: fmt.Errorf("%w: call ended with status %q", bridgeerr.ErrUpstreamUnavailable, status)})
	case wire.StatusRinging, wire.StatusAnswered:
		// informational only; resolution waits for session_start.
	}
}

// FailAllForConnection fails every pending call dispatched while conn was
// the only live connection, used when a mid-flight gateway connection
// drops. Since pendingCall does not track which connection it was sent
// on, this conservatively fails everything outstanding when the
// connection set becomes empty — matching spec.md §4.15's "any pending
// outbound call for that connection fails GatewayNotConnected" for the
// single-connection case this module targets.
func (o *OutboundCoordinator) FailAllForConnection() {
	o.mu.Lock()
	if len(o.connections) > 0 {
		o.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(o.pending))
	for id := range o.pending {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.resolve(id, outboundResult{err: fmt.Errorf("%w: gateway connection dropped", bridgeerr.ErrGatewayNotConnected)})
	}
}
