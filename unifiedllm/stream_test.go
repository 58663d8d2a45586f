package unifiedllm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestSliceStream(t *testing.T) {
	s := NewSliceStream("a", "b")
	ctx := context.Background()

	var deltas []string
	for {
		ev, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Type == TextDelta {
			deltas = append(deltas, ev.Delta)
		}
	}
	if strings.Join(deltas, "") != "ab" {
		t.Errorf("expected deltas a,b, got %v", deltas)
	}
	if _, err := s.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF to be sticky, got %v", err)
	}
}

func TestSliceStreamClosed(t *testing.T) {
	s := NewSliceStream("a", "b")
	s.Close()
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
}

func TestChanStreamPropagatesProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := newChanStream(context.Background(), func(ctx context.Context, emit emitFunc) error {
		emit(StreamEvent{Type: TextDelta, Delta: "x"})
		return boom
	})
	defer s.Close()

	ev, err := s.Next(context.Background())
	if err != nil || ev.Delta != "x" {
		t.Fatalf("expected delta x, got %+v, %v", ev, err)
	}
	if _, err := s.Next(context.Background()); err != boom {
		t.Errorf("expected producer error, got %v", err)
	}
	if _, err := s.Next(context.Background()); err != boom {
		t.Errorf("expected error to be sticky, got %v", err)
	}
}

func TestChanStreamCloseStopsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := newChanStream(context.Background(), func(ctx context.Context, emit emitFunc) error {
		defer close(stopped)
		for emit(StreamEvent{Type: TextDelta, Delta: "."}) {
		}
		return ctx.Err()
	})
	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Close()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer kept running after Close")
	}
}

func TestChanStreamNextHonorsCallerContext(t *testing.T) {
	s := newChanStream(context.Background(), func(ctx context.Context, emit emitFunc) error {
		<-ctx.Done()
		return nil
	})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestCollect(t *testing.T) {
	resp, err := Collect(context.Background(), NewSliceStream("hel", "lo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestFragment(t *testing.T) {
	tests := []struct {
		text string
		size int
		want []string
	}{
		{"", 3, nil},
		{"abcdef", 0, []string{"abcdef"}},
		{"abcdef", 4, []string{"abcd", "ef"}},
		{"abc", 1, []string{"a", "b", "c"}},
		{"héé", 1, []string{"h", "é", "é"}},
	}
	for _, tt := range tests {
		got := Fragment(tt.text, tt.size)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("Fragment(%q, %d) = %q, want %q", tt.text, tt.size, got, tt.want)
		}
	}
}

func TestScriptedAdapter(t *testing.T) {
	adapter := ScriptedTexts("first", "second").WithFragmentSize(2)
	ctx := context.Background()

	s, err := adapter.Stream(ctx, Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var frags []string
	for {
		ev, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if ev.Type == TextDelta {
			frags = append(frags, ev.Delta)
		}
	}
	if strings.Join(frags, "|") != "fi|rs|t" {
		t.Errorf("unexpected fragments: %q", frags)
	}

	resp, err := adapter.Complete(ctx, Request{Model: "m"})
	if err != nil || resp.Text != "second" {
		t.Fatalf("expected second response, got %+v, %v", resp, err)
	}

	if _, err := adapter.Stream(ctx, Request{}); err == nil {
		t.Error("expected error once the script is exhausted")
	}
	if got := len(adapter.Requests()); got != 3 {
		t.Errorf("expected 3 recorded requests, got %d", got)
	}
}

func TestScriptedAdapterRepeatLast(t *testing.T) {
	adapter := ScriptedTexts("only").RepeatLast()
	for i := 0; i < 3; i++ {
		resp, err := adapter.Complete(context.Background(), Request{})
		if err != nil || resp.Text != "only" {
			t.Fatalf("call %d: expected repeated response, got %+v, %v", i, resp, err)
		}
	}
}

func TestScriptedAdapterStreamError(t *testing.T) {
	boom := &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "dropped"}, Retryable: true}}
	adapter := NewScriptedAdapter(ScriptedResponse{Text: "par", StreamErr: boom})

	s, err := adapter.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = Collect(context.Background(), s)
	if err != boom {
		t.Errorf("expected stream error, got %v", err)
	}
}
