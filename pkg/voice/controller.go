package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/voicebridge/core/pkg/logging"
	"github.com/voicebridge/core/pkg/providers/llm"
)

// MaxHistoryTurns bounds how many prior user/assistant turns are sent to
// the LLM as context for the next response, per spec.md §4.10.
const MaxHistoryTurns = 10

// State is the Chunked Voice Controller's turn state.
type State int

const (
	StateIdle State = iota
	StateThinking
	StateSpeaking
)

// StreamCompleter issues a streaming LLM request over the accumulated
// turn history, delivering text deltas to onDelta as they arrive.
type StreamCompleter func(ctx context.Context, history []llm.Message, onDelta func(delta string)) error

// Controller drives one call's idle -> thinking -> speaking -> idle cycle:
// on a final transcript it asks the LLM to stream a response, chunks the
// reply into speakable sentences, schedules bounded-parallel synthesis for
// each chunk, and drains the resulting audio to the gateway in order. A
// barge-in (user speech detected while the bot is thinking or speaking)
// cancels the in-flight response and flushes playout. Grounded on the
// teacher's `ManagedStream` in managed_stream.go: the
// pipelineCancel/responseCancel/ttsCancel three-level cancellation tree,
// the isSpeaking/isThinking state fields, and internalInterrupt's "cancel
// outside the lock, then drain" discipline all carry over, generalized
// from one local conversation loop to a per-call controller whose audio
// sink is a network pacer instead of a speaker.
type Controller struct {
	log     logging.Logger
	stream  StreamCompleter
	synth   Synthesizer
	send    FrameSender
	maxTTS  int64

	minChunkChars int
	maxChunkChars int
	jitterFrames  int

	mu              sync.Mutex
	state           State
	history         []llm.Message
	responseCancel  context.CancelFunc
	queue           *OrderedQueue
	scheduler       *Scheduler
	pacer           *Pacer
	echoSuppressUntil time.Time
}

// NewController builds a Controller for one call. send delivers outbound
// 20ms frames to the gateway connection; stream issues the streaming LLM
// call; synth renders one text chunk to PCM.
func NewController(log logging.Logger, stream StreamCompleter, synth Synthesizer, send FrameSender, maxParallelTTS int64, minChunkChars, maxChunkChars, jitterBufferFrames int) *Controller {
	log = logging.Or(log)
	queue := NewOrderedQueue(jitterBufferFrames)
	return &Controller{
		log:           log,
		stream:        stream,
		synth:         synth,
		send:          send,
		maxTTS:        maxParallelTTS,
		minChunkChars: minChunkChars,
		maxChunkChars: maxChunkChars,
		jitterFrames:  jitterBufferFrames,
		queue:         queue,
		pacer:         NewPacer(send),
	}
}

// State reports the controller's current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleFinalTranscript appends the user's turn to history and drives one
// full thinking -> speaking cycle. It blocks until the LLM stream and all
// scheduled synthesis have completed (or been cancelled by a barge-in);
// callers typically run it in its own goroutine per call.
func (c *Controller) HandleFinalTranscript(ctx context.Context, transcript string) {
	c.mu.Lock()
	c.history = appendTurn(c.history, llm.Message{Role: "user", Content: transcript})
	history := append([]llm.Message(nil), c.history...)

	rCtx, rCancel := context.WithCancel(ctx)
	c.responseCancel = rCancel
	c.state = StateThinking

	chunker := NewChunker(c.minChunkChars, c.maxChunkChars)
	queue := NewOrderedQueue(c.jitterFrames)
	scheduler := NewScheduler(c.maxTTS, c.synth, queue)
	c.queue = queue
	c.scheduler = scheduler
	c.mu.Unlock()

	defer rCancel()

	// Drain starts the moment the first chunk is scheduled, not after the
	// stream finishes, so playout overlaps generation instead of waiting
	// for the full reply.
	done := make(chan struct{})
	var startDrain sync.Once
	triggerDrain := func() {
		startDrain.Do(func() {
			c.mu.Lock()
			c.state = StateSpeaking
			c.echoSuppressUntil = now().Add(time.Duration(c.jitterFrames) * FrameInterval)
			c.mu.Unlock()
			c.pacer.Drain(queue, func() { close(done) })
		})
	}

	var reply strings.Builder
	err := c.stream(rCtx, history, func(delta string) {
		reply.WriteString(delta)
		for _, chunk := range chunker.Feed(delta) {
			scheduler.Schedule(rCtx, chunk)
			triggerDrain()
		}
	})
	if err != nil && rCtx.Err() == nil {
		c.log.Warn("llm stream failed", "error", err)
	}
	if final := chunker.Flush(); final != nil {
		scheduler.Schedule(rCtx, *final)
		triggerDrain()
	}

	if reply.Len() > 0 {
		c.mu.Lock()
		c.history = appendTurn(c.history, llm.Message{Role: "assistant", Content: reply.String()})
		c.mu.Unlock()
	}

	// Nothing was ever scheduled (e.g. the stream failed before any delta
	// arrived) — start (and let it immediately finish) a drain on the
	// empty queue so the state machine still reaches done/idle.
	triggerDrain()

	select {
	case <-done:
	case <-rCtx.Done():
	}
	scheduler.Wait()

	// The first drain ends as soon as the next chunk's audio is not ready
	// yet; once every scheduled chunk has settled, drain again so the rest
	// of the reply plays out.
	if rCtx.Err() == nil {
		rest := make(chan struct{})
		c.pacer.Drain(queue, func() { close(rest) })
		select {
		case <-rest:
		case <-rCtx.Done():
		}
	}

	c.mu.Lock()
	if c.state == StateSpeaking {
		c.state = StateIdle
	}
	c.responseCancel = nil
	c.mu.Unlock()
}

// HandleUserSpeaking processes a barge-in signal from the STT/VAD layer.
// During the echo-suppression window right after playout starts, the
// signal is ignored — it is very likely the gateway's own audio looping
// back rather than genuine user speech. Otherwise it cancels the
// in-flight response and clears the playout queue immediately. It sends
// no `flush` control message to the gateway.
func (c *Controller) HandleUserSpeaking() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	if now().Before(c.echoSuppressUntil) {
		c.mu.Unlock()
		return
	}
	cancel := c.responseCancel
	queue := c.queue
	c.state = StateIdle
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if queue != nil {
		c.pacer.BargeIn(queue)
	}
}

// now is a seam for tests.
var now = time.Now

func appendTurn(history []llm.Message, msg llm.Message) []llm.Message {
	history = append(history, msg)
	if len(history) > MaxHistoryTurns*2 {
		history = history[len(history)-MaxHistoryTurns*2:]
	}
	return history
}
