// Package stream turns a chunked LLM response into a sequence of
// progressively more complete decoded values.
package stream

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"dbtforge/internal/logging"
	"dbtforge/internal/partial"
)

var (
	// ErrUpstream wraps a failure reported by the generation source.
	ErrUpstream = errors.New("generation stream failed")
	// ErrNonMonotonic is returned when a chunk does not extend the text
	// accumulated so far.
	ErrNonMonotonic = errors.New("chunk does not extend accumulated text")
)

// Chunk is one item of a generation source. Content is the cumulative text
// so far, not a delta. A non-nil Err ends the stream.
type Chunk struct {
	Content string
	Err     error
}

// Stats counts what happened during one Consume call.
type Stats struct {
	Chunks    int // chunks received, including empty ones
	Decodes   int // successful partial decodes
	Misses    int // prefixes the decoder could not use yet
	Delivered int // onProgress invocations
}

// Consumer drives a source and reports newly improved decodes.
type Consumer struct {
	decoder partial.Decoder
}

// NewConsumer returns a Consumer using d, or partial.BestEffort when d is nil.
func NewConsumer(d partial.Decoder) *Consumer {
	if d == nil {
		d = partial.BestEffort{}
	}
	return &Consumer{decoder: d}
}

// Consume reads src until it closes and returns the full accumulated text.
//
// onProgress runs synchronously on the calling goroutine, in chunk order,
// each time the text grew, decoded, and differs from the last delivered
// value. It is never called after an upstream error. Finalization is left
// to the caller.
func (c *Consumer) Consume(ctx context.Context, src <-chan Chunk, onProgress func(any)) (string, error) {
	text, _, err := c.ConsumeStats(ctx, src, onProgress)
	return text, err
}

// ConsumeStats is Consume that also returns counters.
func (c *Consumer) ConsumeStats(ctx context.Context, src <-chan Chunk, onProgress func(any)) (string, Stats, error) {
	var (
		stats     Stats
		buf       string
		last      any
		delivered bool
	)

	for {
		select {
		case <-ctx.Done():
			logging.StreamDebug("consume cancelled after %d chunks: %v", stats.Chunks, ctx.Err())
			return "", stats, ctx.Err()

		case chunk, ok := <-src:
			if !ok {
				if err := ctx.Err(); err != nil {
					return "", stats, err
				}
				logging.StreamDebug("stream ended: len=%d chunks=%d decodes=%d misses=%d delivered=%d",
					len(buf), stats.Chunks, stats.Decodes, stats.Misses, stats.Delivered)
				return buf, stats, nil
			}
			stats.Chunks++

			if chunk.Err != nil {
				if err := ctx.Err(); err != nil {
					return "", stats, err
				}
				logging.StreamWarn("upstream error after %d chunks: %v", stats.Chunks, chunk.Err)
				return "", stats, fmt.Errorf("%w: %w", ErrUpstream, chunk.Err)
			}
			if chunk.Content == "" || chunk.Content == buf {
				continue
			}
			if !strings.HasPrefix(chunk.Content, buf) {
				return "", stats, fmt.Errorf("%w: have %d bytes, chunk has %d", ErrNonMonotonic, len(buf), len(chunk.Content))
			}
			buf = chunk.Content

			v, ok := c.decoder.Decode(buf)
			if !ok {
				stats.Misses++
				continue
			}
			stats.Decodes++
			if delivered && reflect.DeepEqual(v, last) {
				continue
			}
			last, delivered = v, true
			stats.Delivered++
			if onProgress != nil {
				onProgress(v)
			}
		}
	}
}
