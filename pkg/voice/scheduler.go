package voice

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/voicebridge/core/pkg/wire"
)

// MaxPendingSentences bounds the number of chunks that may be in flight
// (queued for synthesis or synthesizing) before Schedule starts rejecting
// new ones, per spec.md §4.7's back-pressure rule.
const MaxPendingSentences = 5

// Synthesizer renders one chunk of text to 16kHz PCM. Implementations wrap
// a providers/tts.Provider (or StreamingProvider) call.
type Synthesizer func(ctx context.Context, text string) ([]byte, error)

// Scheduler runs Synthesizer calls for successive chunks with bounded
// parallelism, delivering each chunk's resulting frames into an
// OrderedQueue in chunk-seq order regardless of which synthesis finishes
// first. Grounded on the teacher's `ManagedStream.processResponse` TTS
// dispatch in managed_stream.go, generalized from a single synchronous
// call into fan-out/fan-in over `golang.org/x/sync/semaphore.Weighted`.
type Scheduler struct {
	sem    *semaphore.Weighted
	synth  Synthesizer
	queue  *OrderedQueue

	mu         sync.Mutex
	outstanding int
	wg          sync.WaitGroup

	dropped atomic.Int64
}

// NewScheduler builds a Scheduler that runs up to maxParallel synthesis
// calls concurrently and writes results into queue.
func NewScheduler(maxParallel int64, synth Synthesizer, queue *OrderedQueue) *Scheduler {
	return &Scheduler{
		sem:   semaphore.NewWeighted(maxParallel),
		synth: synth,
		queue: queue,
	}
}

// Schedule submits chunk for synthesis. It returns false without starting
// work if MaxPendingSentences outstanding chunks are already in flight;
// the chunk is then dropped and marked skipped in the queue so playout
// order isn't stalled waiting on it.
func (s *Scheduler) Schedule(ctx context.Context, chunk Chunk) bool {
	s.mu.Lock()
	if s.outstanding >= MaxPendingSentences {
		s.mu.Unlock()
		s.dropped.Add(1)
		s.queue.Skip(chunk.Seq)
		return false
	}
	s.outstanding++
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finishOutstanding()
		s.queue.Skip(chunk.Seq)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer s.finishOutstanding()

		pcm, err := s.synth(ctx, chunk.Text)
		if err != nil {
			// A synthesis failure emits a comfort tone rather than skipping
			// the seq outright, so the turn completes instead of stalling.
			s.queue.Enqueue(chunk.Seq, comfortToneFrames())
			return
		}
		if len(pcm) == 0 {
			s.queue.Skip(chunk.Seq)
			return
		}
		s.queue.Enqueue(chunk.Seq, SplitFrames(pcm))
	}()
	return true
}

func (s *Scheduler) finishOutstanding() {
	s.mu.Lock()
	s.outstanding--
	s.mu.Unlock()
}

// Wait blocks until every scheduled synthesis has completed (or been
// cancelled), for use when draining a response before returning to idle.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Dropped reports how many chunks were rejected for exceeding
// MaxPendingSentences, for diagnostics and tests.
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}

// comfortToneFrameCount is 1 second of silence at one 20ms frame apiece,
// per spec.md §4.16's TTS-failure comfort tone.
const comfortToneFrameCount = 1000 / 20

// comfortToneFrames builds 1 second of silent frames so a chunk that
// failed synthesis still completes the turn instead of stalling playout.
func comfortToneFrames() [][]byte {
	frames := make([][]byte, comfortToneFrameCount)
	for i := range frames {
		frames[i] = make([]byte, wire.PCMFrameBytes)
	}
	return frames
}

// SplitFrames slices a PCM byte stream into wire.PCMFrameBytes frames,
// discarding a short trailing partial frame (the pacer only ever plays
// whole 20ms frames). Exported so callers outside the scheduler (a
// one-off greeting utterance, the realtime path's audio deltas) can feed
// an OrderedQueue/Pacer pair without duplicating the slicing logic.
func SplitFrames(pcm []byte) [][]byte {
	n := len(pcm) / wire.PCMFrameBytes
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * wire.PCMFrameBytes
		frame := make([]byte, wire.PCMFrameBytes)
		copy(frame, pcm[start:start+wire.PCMFrameBytes])
		frames = append(frames, frame)
	}
	return frames
}
