// Package llm defines the language-model adapter contract: a batch
// Complete and a streaming variant that delivers text deltas for the
// chunked voice controller to feed into the sentence chunker.
package llm

import "context"

// Message is one turn of conversation history, addressed directly so
// this package does not depend on pkg/session.
type Message struct {
	Role    string
	Content string
}

// Provider completes a conversation in one shot.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// StreamingProvider delivers incremental text deltas as the model
// generates them, calling onDelta for each and returning once the
// response is complete or ctx is cancelled.
type StreamingProvider interface {
	Provider
	StreamComplete(ctx context.Context, messages []Message, onDelta func(delta string)) error
}
