package stream

import (
	"context"
	"strings"
)

// FromDeltas adapts the (content, error) delta channels returned by LLM
// clients into a cumulative Chunk source. The returned channel is closed when
// both inputs are closed, after the first error, or when ctx is done.
func FromDeltas(ctx context.Context, content <-chan string, errs <-chan error) <-chan Chunk {
	out := make(chan Chunk, 16)

	go func() {
		defer close(out)

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var sb strings.Builder
		for content != nil || errs != nil {
			select {
			case <-ctx.Done():
				return
			case delta, ok := <-content:
				if !ok {
					content = nil
					continue
				}
				if delta == "" {
					continue
				}
				sb.WriteString(delta)
				if !send(Chunk{Content: sb.String()}) {
					return
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil {
					send(Chunk{Err: err})
					return
				}
			}
		}
	}()

	return out
}

// FromText returns a closed source that replays cumulative prefixes of the
// given deltas. Useful for replaying a stored response.
func FromText(deltas ...string) <-chan Chunk {
	out := make(chan Chunk, len(deltas))
	var sb strings.Builder
	for _, d := range deltas {
		sb.WriteString(d)
		out <- Chunk{Content: sb.String()}
	}
	close(out)
	return out
}
