// Package tts defines the text-to-speech adapter contract: a single
// synthesize operation returning a 24kHz PCM buffer, cooperatively
// cancellable, plus a streaming variant that delivers chunks as they are
// produced.
package tts

import "context"

// Provider synthesizes text into a complete 24kHz PCM buffer. Honors ctx
// cancellation cooperatively: any in-flight network call aborts and
// partial output is discarded.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice string) ([]byte, error)
	Name() string
}

// StreamingProvider delivers audio chunks as they arrive rather than
// buffering the whole utterance.
type StreamingProvider interface {
	Provider
	StreamSynthesize(ctx context.Context, text string, voice string, onChunk func(chunk []byte) error) error
	// Abort cancels any in-flight synthesis on the provider's connection
	// without closing it.
	Abort() error
}
