package unifiedllm

import (
	"context"
	"io"
	"strings"
)

// emitFunc hands one event to the consumer. It returns false once the
// stream has been closed and the producer should stop.
type emitFunc func(StreamEvent) bool

// producer runs on its own goroutine and pushes events through emit.
type producer func(ctx context.Context, emit emitFunc) error

// chanStream adapts a push-style producer (SDK iterators, HTTP body
// decoders) into a pull-based Stream. It is not safe for concurrent Next
// calls; a stream has exactly one consumer.
type chanStream struct {
	events chan StreamEvent
	errc   chan error
	cancel context.CancelFunc
	err    error
}

func newChanStream(ctx context.Context, produce producer) *chanStream {
	sctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		events: make(chan StreamEvent, 64),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		s.errc <- produce(sctx, func(ev StreamEvent) bool {
			select {
			case s.events <- ev:
				return true
			case <-sctx.Done():
				return false
			}
		})
	}()
	return s
}

func (s *chanStream) Next(ctx context.Context) (StreamEvent, error) {
	if s.err != nil {
		return StreamEvent{}, s.err
	}
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		err := <-s.errc
		if err == nil {
			err = io.EOF
		}
		s.err = err
		return StreamEvent{}, err
	case <-ctx.Done():
		return StreamEvent{}, ctx.Err()
	}
}

func (s *chanStream) Close() error {
	s.cancel()
	return nil
}

// SliceStream is a Stream over a fixed list of fragments. It is used for
// backends without streaming support and for scripted replays.
type SliceStream struct {
	fragments []string
	pos       int
	finished  bool
	closed    bool
}

// NewSliceStream returns a Stream that yields each fragment as a text delta
// followed by a finish event.
func NewSliceStream(fragments ...string) *SliceStream {
	return &SliceStream{fragments: fragments}
}

func (s *SliceStream) Next(ctx context.Context) (StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return StreamEvent{}, err
	}
	if s.closed {
		return StreamEvent{}, io.EOF
	}
	if s.pos < len(s.fragments) {
		frag := s.fragments[s.pos]
		s.pos++
		return StreamEvent{Type: TextDelta, Delta: frag}, nil
	}
	if !s.finished {
		s.finished = true
		return StreamEvent{Type: StreamFinish, FinishReason: "stop"}, nil
	}
	return StreamEvent{}, io.EOF
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Collect drains a stream into a Response. The stream is closed on return.
func Collect(ctx context.Context, s Stream) (*Response, error) {
	defer s.Close()
	var sb strings.Builder
	resp := &Response{}
	for {
		ev, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch ev.Type {
		case TextDelta:
			sb.WriteString(ev.Delta)
		case StreamFinish:
			resp.FinishReason = ev.FinishReason
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}
		}
	}
	resp.Text = sb.String()
	return resp, nil
}
