package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voicebridge/core/pkg/audio"
	"github.com/voicebridge/core/pkg/authz"
	"github.com/voicebridge/core/pkg/bridgeerr"
	"github.com/voicebridge/core/pkg/config"
	"github.com/voicebridge/core/pkg/logging"
	"github.com/voicebridge/core/pkg/providers/llm"
	"github.com/voicebridge/core/pkg/providers/realtime"
	"github.com/voicebridge/core/pkg/providers/stt"
	"github.com/voicebridge/core/pkg/providers/tts"
	"github.com/voicebridge/core/pkg/recorder"
	"github.com/voicebridge/core/pkg/session"
	"github.com/voicebridge/core/pkg/voice"
	"github.com/voicebridge/core/pkg/wire"
)

// sendTimeout bounds a single outbound WebSocket write, per spec.md §5's
// "bridge-gateway send (10s)" suspension point.
const sendTimeout = 10 * time.Second

// Deps are the provider adapters and collaborators a Bridge is built
// with. The core never constructs a concrete provider itself. STT and
// realtime sessions hold per-call socket state, so they're built fresh
// per call via a factory; TTS and LLM providers are plain request/response
// clients and are shared across calls.
type Deps struct {
	Log          logging.Logger
	Store        recorder.Store
	STTFactory   func() stt.StreamingProvider
	TTS          tts.Provider
	LLM          llm.StreamingProvider
	Realtime     func() realtime.Session
	ToolExecutor realtime.ToolExecutor
	ToolCatalog  []realtime.ToolSpec
}

// toolResultSubmitter is implemented by realtime.Session adapters that
// support submitting a tool call's result back to the endpoint. It isn't
// part of the realtime.Session interface itself (tool submission is a
// provider-specific follow-up call, not every realtime session needs
// tools), so callers type-assert for it the same way the teacher's own
// TTS adapter carries an Abort method absent from its declared interface.
type toolResultSubmitter interface {
	SubmitToolResult(ctx context.Context, toolCallID, result string) error
}

// Bridge wires the Listener, session Registry, Outbound Coordinator, and
// per-call provider/voice pipelines together. Grounded on the teacher's
// cmd/agent/main.go wiring style (construct every collaborator up front,
// pass them down by constructor injection), generalized from one local
// conversation loop into a WebSocket server that fans out into one task
// group per call.
type Bridge struct {
	cfg  config.Config
	deps Deps
	log  logging.Logger

	listener *Listener
	outbound *OutboundCoordinator
	registry *session.Registry
	resumes  *ResumeTable
	recorder *recorder.Recorder

	mu    sync.Mutex
	conns map[string]*connection
	calls map[string]*call
}

// connection is one accepted WebSocket upgrade and its outbound write
// lock (coder/websocket forbids concurrent writers on one Conn).
type connection struct {
	id   string
	conn *websocket.Conn
	addr string

	writeMu sync.Mutex
	health  *HealthMonitor
}

func (c *connection) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// call is the live per-call task group: the session it owns, the
// connection it is currently bound to (retargeted in place by
// session_resume), and either a Chunked Voice Controller or a Realtime
// Voice Agent session, never both.
type call struct {
	mu     sync.Mutex
	connID string

	sess   *session.Session
	cancel context.CancelFunc

	sttProvider  stt.StreamingProvider
	controller   *voice.Controller
	realtimeSess realtime.Session
}

// NewBridge builds a Bridge from cfg and deps. Call Handler to obtain the
// http.Handler serving the WebSocket upgrade path.
func NewBridge(cfg config.Config, deps Deps) *Bridge {
	log := logging.Or(deps.Log)
	b := &Bridge{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		outbound: NewOutboundCoordinator(cfg.Outbound),
		registry: session.NewRegistry(cfg.MaxConcurrentCalls),
		resumes:  NewResumeTable(),
		recorder: recorder.New(deps.Store, log),
		conns:    make(map[string]*connection),
		calls:    make(map[string]*call),
	}
	b.listener = NewListener(cfg.Serve.Path, cfg.BridgeSecret, NewRateLimiter(), b.onConnect)
	return b
}

// Handler returns the http.Handler to mount at cfg.Serve.Path.
func (b *Bridge) Handler() http.Handler {
	return b.listener.Handler()
}

// InitiateOutboundCall starts an outbound call toward the gateway. This is
// the embedding host's entry point into the Outbound Call Coordinator;
// the core never originates outbound calls on its own.
func (b *Bridge) InitiateOutboundCall(callID string, target wire.InitiateTarget, message string) error {
	return b.outbound.Initiate(callID, target, message)
}

// onConnect is the Listener's accept callback: it registers the
// connection, starts its health-ping loop, then blocks in the receive
// loop until the connection closes, at which point every call still
// bound to it is torn down.
func (b *Bridge) onConnect(connID string, conn *websocket.Conn, remoteAddr string) {
	cn := &connection{id: connID, conn: conn, addr: remoteAddr, health: NewHealthMonitor()}
	b.mu.Lock()
	b.conns[connID] = cn
	b.mu.Unlock()
	b.outbound.AddConnection(connID, cn.send)

	pingCtx, cancelPing := context.WithCancel(context.Background())
	go b.pingLoop(pingCtx, cn)

	b.receiveLoop(cn)

	cancelPing()
	b.outbound.RemoveConnection(connID)

	b.mu.Lock()
	delete(b.conns, connID)
	var orphaned []string
	for id, c := range b.calls {
		c.mu.Lock()
		bound := c.connID == connID
		c.mu.Unlock()
		if bound {
			orphaned = append(orphaned, id)
		}
	}
	remaining := len(b.conns)
	b.mu.Unlock()

	for _, id := range orphaned {
		b.endCall(id, wire.ReasonError)
	}
	if remaining == 0 {
		b.outbound.FailAllForConnection()
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// pingLoop sends a protocol-level ping every PingInterval and requires a
// pong within PongGrace, per spec.md §4.1/§4.15. This rides coder/websocket's
// own ping/pong frames rather than the JSON ping/pong message types (those
// are a client-initiated keepalive the receive loop answers directly).
func (b *Bridge) pingLoop(ctx context.Context, cn *connection) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, PongGrace)
			err := cn.conn.Ping(pctx)
			cancel()
			if err != nil {
				b.log.Warn("connection failed health check, closing", "connId", cn.id)
				cn.conn.Close(websocket.StatusAbnormalClosure, "ping timeout")
				return
			}
			cn.health.RecordPong()
		}
	}
}

func (b *Bridge) receiveLoop(cn *connection) {
	ctx := context.Background()
	for {
		typ, data, err := cn.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		env, err := wire.Decode(data)
		if err != nil {
			b.log.Warn("dropping malformed message", "connId", cn.id, "err", err)
			continue
		}
		b.dispatch(cn, env)
	}
}

func (b *Bridge) dispatch(cn *connection, env wire.Envelope) {
	switch env.Type {
	case wire.TypeAuthRequest:
		b.handleAuthRequest(cn, env)
	case wire.TypeSessionStart:
		b.handleSessionStart(cn, env)
	case wire.TypeCallStatus:
		b.outbound.HandleCallStatus(env.CallID, env.Status)
	case wire.TypeAudioIn:
		b.handleAudioIn(cn, env)
	case wire.TypeSessionEnd:
		b.handleSessionEnd(cn, env)
	case wire.TypeSessionResume:
		b.handleSessionResume(cn, env)
	case wire.TypePing:
		if payload, err := wire.Encode(wire.NewPong(env.CallID)); err == nil {
			cn.send(payload)
		}
	default:
		b.log.Warn("dropping message of unrecognized type", "connId", cn.id, "type", env.Type)
	}
}

func (b *Bridge) handleAuthRequest(cn *connection, env wire.Envelope) {
	decision := authz.Authorize(env.Metadata, b.cfg.Authorization)
	b.log.Info("authorization decision", "callId", env.CallID, "strategy", decision.Strategy, "authorized", decision.Authorized)
	resp := wire.NewAuthResponse(env.CallID, env.CorrelationID, decision.Authorized, decision.Reason, decision.Strategy, time.Now().UnixMilli())
	if payload, err := wire.Encode(resp); err == nil {
		cn.send(payload)
	}
}

func (b *Bridge) handleSessionStart(cn *connection, env wire.Envelope) {
	sess := session.New(env.CallID, env.Direction, env.Metadata)
	sess.Answer()

	if err := b.registry.Add(sess); err != nil {
		b.log.Warn("session_start rejected", "callId", env.CallID, "err", err)
		if payload, encErr := wire.Encode(wire.NewHangup(env.CallID)); encErr == nil {
			cn.send(payload)
		}
		return
	}

	if env.Direction == wire.DirectionOutbound {
		b.outbound.HandleSessionStart(env.CallID, env.Direction)
	}

	callCtx, cancel := context.WithCancel(context.Background())
	c := &call{connID: cn.id, sess: sess, cancel: cancel}
	b.mu.Lock()
	b.calls[env.CallID] = c
	b.mu.Unlock()
	b.resumes.Bind(env.CallID, cn.id)

	callerKey := session.CallerKey(env.Metadata.TenantID, env.Metadata.UserID)
	b.recorder.CallStart(callCtx, env.CallID, callerKey)

	if d := b.cfg.MaxCallDuration(); d > 0 {
		callID := env.CallID
		time.AfterFunc(d, func() { b.endCall(callID, wire.ReasonTimeout) })
	}

	mode := b.resolveMode()
	if mode == config.TTSModeRealtime && b.deps.Realtime != nil {
		b.startRealtime(callCtx, c, env.CallID)
		return
	}
	b.startChunked(callCtx, c, env.CallID, callerKey)

	if env.Direction == wire.DirectionInbound && b.cfg.Inbound.Enabled && b.cfg.Inbound.Greeting != "" {
		go b.playGreeting(callCtx, env.CallID)
	}
}

func (b *Bridge) resolveMode() config.TTSMode {
	mode := b.cfg.Streaming.TTSMode
	if mode == config.TTSModeAuto {
		if b.deps.Realtime != nil {
			return config.TTSModeRealtime
		}
		return config.TTSModeChunked
	}
	return mode
}

// startChunked builds the Chunked Voice Controller pipeline for one call:
// a streaming STT adapter feeding final transcripts into the controller,
// which streams the LLM response through the sentence chunker, the TTS
// scheduler, and the ordered playout queue.
func (b *Bridge) startChunked(ctx context.Context, c *call, callID, callerKey string) {
	sttProv := b.deps.STTFactory()

	synth := voice.Synthesizer(func(sctx context.Context, text string) ([]byte, error) {
		pcm24, err := b.deps.TTS.Synthesize(sctx, text, b.cfg.TTS.Voice)
		if err != nil {
			return nil, err
		}
		return audio.Downsample24to16(pcm24), nil
	})

	send := b.frameSenderFor(callID)
	transcript := b.registry.TranscriptFor(callerKey)

	stream := voice.StreamCompleter(func(sctx context.Context, history []llm.Message, onDelta func(delta string)) error {
		rctx, rcancel := context.WithTimeout(sctx, b.cfg.ResponseTimeout())
		defer rcancel()

		msgs := history
		if b.cfg.ResponseSystemPrompt != "" {
			msgs = append([]llm.Message{{Role: "system", Content: b.cfg.ResponseSystemPrompt}}, history...)
		}

		var reply []byte
		err := b.deps.LLM.StreamComplete(rctx, msgs, func(delta string) {
			reply = append(reply, delta...)
			onDelta(delta)
		})
		if len(reply) > 0 {
			b.recorder.TranscriptFinal(ctx, callID, callerKey, "assistant", string(reply))
			transcript.Append("assistant", string(reply))
		}
		if err != nil && rctx.Err() != nil {
			b.log.Warn("response generation timed out", "callId", callID)
			return nil
		}
		return err
	})

	controller := voice.NewController(b.log, stream, synth, send,
		int64(b.cfg.Streaming.MaxParallelTTS), b.cfg.Streaming.SentenceMinChars,
		b.cfg.Streaming.SentenceMaxChars, b.cfg.Streaming.JitterBufferFrames)

	c.mu.Lock()
	c.sttProvider = sttProv
	c.controller = controller
	c.mu.Unlock()

	onPartial := func(text string) {}
	onFinal := func(text string) {
		b.recorder.TranscriptFinal(ctx, callID, callerKey, "user", text)
		transcript.Append("user", text)
		controller.HandleFinalTranscript(ctx, text)
	}
	onUserSpeaking := func() {
		controller.HandleUserSpeaking()
	}

	go func() {
		if err := sttProv.Start(ctx, "", onPartial, onFinal, onUserSpeaking); err != nil {
			b.log.Warn("stt adapter failed", "callId", callID, "err", err)
			b.endCall(callID, wire.ReasonError)
		}
	}()
}

// playGreeting synthesizes and paces the configured inbound greeting as a
// one-off utterance, independent of the controller's own per-response
// queue and pacer.
func (b *Bridge) playGreeting(ctx context.Context, callID string) {
	pcm24, err := b.deps.TTS.Synthesize(ctx, b.cfg.Inbound.Greeting, b.cfg.TTS.Voice)
	if err != nil {
		b.log.Warn("greeting synthesis failed", "callId", callID, "err", err)
		return
	}
	frames := voice.SplitFrames(audio.Downsample24to16(pcm24))
	if len(frames) == 0 {
		return
	}

	queue := voice.NewOrderedQueue(1)
	queue.Enqueue(0, frames)

	pacer := voice.NewPacer(b.frameSenderFor(callID))
	done := make(chan struct{})
	pacer.Drain(queue, func() { close(done) })

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// startRealtime builds the Realtime Voice Agent pipeline for one call: a
// single bidirectional session handling STT, reasoning, and TTS itself,
// whose audio deltas are paced out through the same Ordered Audio
// Queue/Pacer pair the chunked path uses.
func (b *Bridge) startRealtime(ctx context.Context, c *call, callID string) {
	rtSess := b.deps.Realtime()
	queue := voice.NewOrderedQueue(b.cfg.Streaming.JitterBufferFrames)
	pacer := voice.NewPacer(b.frameSenderFor(callID))

	var seqMu sync.Mutex
	nextSeq := 0

	executable := make(map[string]bool, len(b.deps.ToolCatalog))
	if b.deps.ToolExecutor != nil {
		for _, t := range b.deps.ToolCatalog {
			executable[t.Name] = true
		}
	}
	tools := realtime.FilterTools(b.deps.ToolCatalog, b.cfg.Realtime.Tools.Allow, b.cfg.Realtime.Tools.Deny, executable)

	scfg := realtime.SessionConfig{
		Voice:        b.cfg.Realtime.Voice,
		Instructions: b.cfg.ResponseSystemPrompt,
		Tools:        tools,
		VADThreshold: b.cfg.Realtime.TurnDetection.Threshold,
		SilenceMS:    b.cfg.Realtime.TurnDetection.SilenceDurationMS,
		PrefixPadMS:  b.cfg.Realtime.TurnDetection.PrefixPaddingMS,
		OnAudioDelta: func(pcm24 []byte) {
			frames := voice.SplitFrames(audio.Downsample24to16(pcm24))
			if len(frames) == 0 {
				return
			}
			seqMu.Lock()
			seq := nextSeq
			nextSeq++
			seqMu.Unlock()
			queue.Enqueue(seq, frames)
			pacer.Drain(queue, func() {})
		},
		OnUserSpeaking: func() {
			// The realtime endpoint cancels its own in-flight response; the
			// bridge only clears local playout and tells the gateway to
			// discard whatever it hasn't played yet. BargeIn resets the
			// queue's own seq cursor to 0, so the local counter feeding
			// Enqueue must restart there too or every later delta orphans
			// itself waiting for a seq the queue will never expect again.
			seqMu.Lock()
			nextSeq = 0
			seqMu.Unlock()
			pacer.BargeIn(queue)
			if payload, err := wire.Encode(wire.NewFlush(callID)); err == nil {
				b.sendTo(callID, payload)
			}
		},
		OnResponseCancelled: func() {
			seqMu.Lock()
			nextSeq = 0
			seqMu.Unlock()
			queue.Reset()
		},
		OnToolCall: func(tc realtime.ToolCall) {
			b.handleRealtimeToolCall(ctx, callID, rtSess, tc)
		},
		OnSessionEnd: func(reason string) {
			b.endCall(callID, wire.ReasonError)
		},
	}

	c.mu.Lock()
	c.realtimeSess = rtSess
	c.mu.Unlock()

	go func() {
		if err := rtSess.Start(ctx, scfg); err != nil {
			b.log.Warn("realtime session failed", "callId", callID, "err", err)
			b.endCall(callID, wire.ReasonError)
			return
		}
		if d := b.cfg.MaxSessionDuration(); d > 0 {
			time.AfterFunc(d, func() { b.endCall(callID, wire.ReasonTimeout) })
		}
	}()
}

func (b *Bridge) handleRealtimeToolCall(ctx context.Context, callID string, rtSess realtime.Session, tc realtime.ToolCall) {
	if b.deps.ToolExecutor == nil {
		return
	}
	b.mu.Lock()
	c, ok := b.calls[callID]
	b.mu.Unlock()
	if !ok {
		return
	}
	meta := c.sess.Snapshot().Metadata
	ec := realtime.ExecContext{
		CallID:     callID,
		ToolCallID: tc.ID,
		UserID:     meta.UserID,
		SessionID:  callID,
		AgentID:    b.cfg.Realtime.Model,
	}
	result, err := b.deps.ToolExecutor.Execute(ctx, ec, tc.Name, tc.Arguments)
	if err != nil {
		result = fmt.Sprintf("error: %v", err)
	}
	result = realtime.ClampResult(result)

	submitter, ok := rtSess.(toolResultSubmitter)
	if !ok {
		return
	}
	if err := submitter.SubmitToolResult(ctx, tc.ID, result); err != nil {
		b.log.Warn("failed to submit tool result", "callId", callID, "err", err)
	}
}

func (b *Bridge) handleAudioIn(cn *connection, env wire.Envelope) {
	b.mu.Lock()
	c, ok := b.calls[env.CallID]
	b.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	boundConn := c.connID
	c.mu.Unlock()
	if boundConn != cn.id {
		b.log.Warn("dropping audio frame from non-owning connection", "callId", env.CallID)
		return
	}

	pcm16, err := wire.DecodeAudioFrame(env)
	if err != nil {
		b.log.Warn("dropping malformed audio frame", "callId", env.CallID, "err", err)
		return
	}
	if !c.sess.RecordInbound(env.Seq) {
		return
	}

	pcm24 := audio.Upsample16to24(pcm16)

	c.mu.Lock()
	sttProv := c.sttProvider
	rtSess := c.realtimeSess
	c.mu.Unlock()

	switch {
	case sttProv != nil:
		if err := sttProv.Write(pcm24); err != nil {
			b.log.Warn("stt write failed", "callId", env.CallID, "err", err)
		}
	case rtSess != nil:
		if err := rtSess.SendAudio(pcm24); err != nil {
			b.log.Warn("realtime send failed", "callId", env.CallID, "err", err)
		}
	}
}

func (b *Bridge) handleSessionEnd(cn *connection, env wire.Envelope) {
	b.mu.Lock()
	c, ok := b.calls[env.CallID]
	b.mu.Unlock()
	if !ok || c.connID != cn.id {
		return
	}
	b.endCall(env.CallID, env.Reason)
}

func (b *Bridge) handleSessionResume(cn *connection, env wire.Envelope) {
	b.mu.Lock()
	c, ok := b.calls[env.CallID]
	b.mu.Unlock()
	if !ok {
		b.log.Warn("session_resume for unknown call-id", "callId", env.CallID)
		return
	}
	c.mu.Lock()
	c.connID = cn.id
	c.mu.Unlock()
	b.resumes.Bind(env.CallID, cn.id)
}

// endCall tears down the call's task group and removes it from every
// shared table. Safe to call more than once for the same callID.
func (b *Bridge) endCall(callID string, reason wire.SessionEndReason) {
	b.mu.Lock()
	c, ok := b.calls[callID]
	if ok {
		delete(b.calls, callID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	c.cancel()
	c.mu.Lock()
	sttProv := c.sttProvider
	rtSess := c.realtimeSess
	meta := c.sess.Snapshot().Metadata
	c.mu.Unlock()

	if sttProv != nil {
		sttProv.Close()
	}
	if rtSess != nil {
		rtSess.Close()
	}

	b.registry.Remove(callID)
	b.resumes.Unbind(callID)

	callerKey := session.CallerKey(meta.TenantID, meta.UserID)
	b.recorder.CallEnd(context.Background(), callID, callerKey, string(reason))
}

// sendTo delivers payload to callID's currently bound connection, per
// session_resume's "connection reference is swapped in place" semantics.
func (b *Bridge) sendTo(callID string, payload []byte) error {
	b.mu.Lock()
	c, ok := b.calls[callID]
	b.mu.Unlock()
	if !ok {
		return bridgeerr.ErrInternal
	}
	c.mu.Lock()
	connID := c.connID
	c.mu.Unlock()

	b.mu.Lock()
	cn, ok := b.conns[connID]
	b.mu.Unlock()
	if !ok {
		return bridgeerr.ErrGatewayNotConnected
	}
	return cn.send(payload)
}

// frameSenderFor builds a voice.FrameSender that assigns the next
// outbound sequence number and delivers the frame to callID's currently
// bound connection.
func (b *Bridge) frameSenderFor(callID string) voice.FrameSender {
	return func(frame []byte) error {
		b.mu.Lock()
		c, ok := b.calls[callID]
		b.mu.Unlock()
		if !ok {
			return bridgeerr.ErrInternal
		}
		seq := c.sess.NextOutboundSeq()
		payload, err := wire.EncodeAudioFrame(callID, seq, frame)
		if err != nil {
			return err
		}
		return b.sendTo(callID, payload)
	}
}
