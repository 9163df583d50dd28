package voice

import (
	"sync"
	"time"
)

// FrameInterval is the gateway's fixed frame cadence (spec.md §4.2).
const FrameInterval = 20 * time.Millisecond

// RecoveryWindow is how long after a barge-in flush the pacer keeps
// suppressing stale enqueues from the response that was interrupted,
// per spec.md §4.9.
const RecoveryWindow = 100 * time.Millisecond

// FrameSender delivers one outbound PCM frame to the gateway connection.
type FrameSender func(frame []byte) error

// Pacer drains an OrderedQueue at a drift-free cadence: target[n] = start +
// n*FrameInterval, computed from a fixed start rather than accumulated by
// sleeping FrameInterval between sends, so scheduling jitter never
// compounds into growing drift. Grounded on the teacher's single
// play-then-wait loop in managed_stream.go's audio playback path,
// generalized to a reusable chained-future drain task with barge-in
// support since the teacher plays one utterance at a time locally rather
// than pacing a live network frame cadence.
type Pacer struct {
	send FrameSender
	wait func(d time.Duration)

	mu          sync.Mutex
	draining    bool
	cancel      chan struct{}
	recoverUntil time.Time
}

// NewPacer builds a Pacer that sends frames via send.
func NewPacer(send FrameSender) *Pacer {
	return &Pacer{
		send: send,
		wait: time.Sleep,
	}
}

// Drain starts (if not already running) a single drain task that pulls
// frames from queue at FrameInterval cadence until the queue runs dry or
// BargeIn cancels it. At most one drain task runs per Pacer at a time; a
// second call while one is active is a no-op, matching "at most one drain
// task per call" from spec.md §4.9.
func (p *Pacer) Drain(queue *OrderedQueue, onEmpty func()) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	cancel := make(chan struct{})
	p.cancel = cancel
	p.mu.Unlock()

	go p.drainLoop(queue, cancel, onEmpty)
}

func (p *Pacer) drainLoop(queue *OrderedQueue, cancel chan struct{}, onEmpty func()) {
	start := time.Now()
	var n int64

	defer func() {
		p.mu.Lock()
		p.draining = false
		p.mu.Unlock()
		if onEmpty != nil {
			onEmpty()
		}
	}()

	for {
		select {
		case <-cancel:
			return
		default:
		}

		frame, ok := queue.Dequeue()
		if !ok {
			return
		}

		p.mu.Lock()
		suppressed := time.Now().Before(p.recoverUntil)
		p.mu.Unlock()
		if suppressed {
			continue
		}

		if err := p.send(frame); err != nil {
			return
		}

		n++
		target := start.Add(time.Duration(n) * FrameInterval)
		delay := time.Until(target)
		if delay > 0 {
			p.wait(delay)
		}
	}
}

// BargeIn cancels any active drain task, clears queue, and opens a
// RecoveryWindow during which frames belonging to the interrupted response
// are suppressed even if they're still trickling in from in-flight
// synthesis. The caller is responsible for sending the gateway `flush`
// control message.
func (p *Pacer) BargeIn(queue *OrderedQueue) {
	p.mu.Lock()
	if p.cancel != nil {
		close(p.cancel)
		p.cancel = nil
	}
	p.recoverUntil = time.Now().Add(RecoveryWindow)
	p.mu.Unlock()
	queue.Reset()
}

// Draining reports whether a drain task is currently active.
func (p *Pacer) Draining() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draining
}
