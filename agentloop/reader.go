package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/martinemde/axonix/unifiedllm"
)

// EventReader pulls parse events from a backend stream. Events are produced
// only as fast as the caller asks for them; closing the reader aborts the
// underlying generation.
type EventReader struct {
	stream          unifiedllm.Stream
	parser          *Parser
	fragmentTimeout time.Duration
	onFragment      func(string)

	queue        []ParseEvent
	text         strings.Builder
	finishReason string
	usage        unifiedllm.Usage
	done         bool
	err          error
}

// NewEventReader wraps stream. A positive fragmentTimeout bounds the wait for
// each fragment; onFragment, if set, observes every raw delta.
func NewEventReader(stream unifiedllm.Stream, parser *Parser, fragmentTimeout time.Duration, onFragment func(string)) *EventReader {
	return &EventReader{
		stream:          stream,
		parser:          parser,
		fragmentTimeout: fragmentTimeout,
		onFragment:      onFragment,
	}
}

// Next returns the next event, or io.EOF once the response is exhausted.
// Cancelling ctx stops the read with the context's error.
func (r *EventReader) Next(ctx context.Context) (ParseEvent, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		if r.done {
			return nil, io.EOF
		}
		r.pull(ctx)
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

func (r *EventReader) pull(ctx context.Context) {
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if r.fragmentTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, r.fragmentTimeout)
	}
	ev, err := r.stream.Next(fctx)
	cancel()

	switch {
	case errors.Is(err, io.EOF):
		r.queue = append(r.queue, r.parser.Finish()...)
		r.done = true
		return
	case err != nil && ctx.Err() != nil:
		r.err = ctx.Err()
		return
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		r.err = &unifiedllm.RequestTimeoutError{SDKError: unifiedllm.SDKError{
			Message: fmt.Sprintf("no fragment received within %s", r.fragmentTimeout),
			Cause:   err,
		}}
		return
	case err != nil:
		r.err = err
		return
	}

	switch ev.Type {
	case unifiedllm.TextDelta:
		if ev.Delta == "" {
			return
		}
		r.text.WriteString(ev.Delta)
		if r.onFragment != nil {
			r.onFragment(ev.Delta)
		}
		r.queue = append(r.queue, r.parser.Feed(ev.Delta)...)
	case unifiedllm.StreamFinish:
		r.finishReason = ev.FinishReason
		if ev.Usage != nil {
			r.usage = *ev.Usage
		}
	}
}

// Text returns the raw response text received so far.
func (r *EventReader) Text() string { return r.text.String() }

// FinishReason returns the provider's finish reason, if it reported one.
func (r *EventReader) FinishReason() string { return r.finishReason }

// Usage returns the token usage reported by the provider.
func (r *EventReader) Usage() unifiedllm.Usage { return r.usage }

// Close aborts the underlying stream.
func (r *EventReader) Close() error {
	return r.stream.Close()
}
