// Package voice implements the chunked text-to-speech pipeline: splitting
// streamed LLM text into speakable chunks, scheduling bounded-parallel
// synthesis, reassembling out-of-order audio into strict play order, and
// pacing playout to the gateway at one frame per 20ms.
package voice

import "strings"

// sentenceBoundaries are the characters the chunker prefers to split on,
// per spec.md §4.6.
var sentenceBoundaries = []rune{'.', '!', '?', '\n', '—'} // '—' is em-dash

// Chunker splits streamed text into chunks sized within
// [MinChars, MaxChars], preferring a sentence boundary at or after
// MinChars, falling back to the last whitespace before MaxChars, and
// finally to a hard split at MaxChars.
type Chunker struct {
	MinChars int
	MaxChars int

	buf     strings.Builder
	nextSeq int
}

// NewChunker builds a Chunker with the given bounds.
func NewChunker(minChars, maxChars int) *Chunker {
	return &Chunker{MinChars: minChars, MaxChars: maxChars}
}

// Chunk is one emitted piece of text with its dense per-response sequence
// number.
type Chunk struct {
	Seq  int
	Text string
}

// Feed appends a text delta to the internal buffer and returns any
// complete chunks it produces.
func (c *Chunker) Feed(delta string) []Chunk {
	c.buf.WriteString(delta)
	var out []Chunk
	for {
		text := c.buf.String()
		chunk, rest, ok := c.split(text)
		if !ok {
			break
		}
		out = append(out, Chunk{Seq: c.nextSeq, Text: chunk})
		c.nextSeq++
		c.buf.Reset()
		c.buf.WriteString(rest)
	}
	return out
}

// Flush drains any remaining buffered text as a final chunk, if non-empty.
func (c *Chunker) Flush() *Chunk {
	text := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	if text == "" {
		return nil
	}
	chunk := Chunk{Seq: c.nextSeq, Text: text}
	c.nextSeq++
	return &chunk
}

// split attempts to carve one chunk out of text. ok is false when text is
// not yet long enough to produce a chunk.
func (c *Chunker) split(text string) (chunk, rest string, ok bool) {
	if len(text) < c.MinChars {
		return "", text, false
	}

	if len(text) <= c.MaxChars {
		if idx := firstBoundaryAtOrAfter(text, c.MinChars); idx >= 0 {
			return text[:idx+1], strings.TrimLeft(text[idx+1:], " \t"), true
		}
		return "", text, false
	}

	window := text[:c.MaxChars]
	if idx := firstBoundaryAtOrAfter(window, c.MinChars); idx >= 0 {
		return text[:idx+1], strings.TrimLeft(text[idx+1:], " \t"), true
	}
	if idx := strings.LastIndexAny(window, " \t"); idx >= c.MinChars {
		return text[:idx], strings.TrimLeft(text[idx:], " \t"), true
	}
	return text[:c.MaxChars], text[c.MaxChars:], true
}

// firstBoundaryAtOrAfter returns the byte index of the first sentence
// boundary rune at or after minIdx, or -1 if none is found.
func firstBoundaryAtOrAfter(s string, minIdx int) int {
	for i, r := range s {
		if i < minIdx {
			continue
		}
		for _, b := range sentenceBoundaries {
			if r == b {
				return i
			}
		}
	}
	return -1
}
