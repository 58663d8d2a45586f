package agentloop

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func echoTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "echo",
			Description: "Echo the text argument.",
			Params: []ParamSpec{
				{Name: "text", Required: true},
				{Name: "upper"},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			upper, err := GetBool(args, "upper", false)
			if err != nil {
				return "", err
			}
			if upper {
				return strings.ToUpper(args["text"]), nil
			}
			return args["text"], nil
		},
	}
}

func newTestDispatcher(t *testing.T, tools ...RegisteredTool) *Dispatcher {
	t.Helper()
	reg := NewToolRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Definition.Name, err)
		}
	}
	return NewDispatcher(reg, WithToolTimeout(time.Second))
}

func TestDispatcherSuccess(t *testing.T) {
	d := newTestDispatcher(t, echoTool())
	result := d.Invoke(context.Background(), ToolCallRecord{Seq: 4, Name: "echo", Args: map[string]string{"text": "hi", "upper": "yes"}})

	if result.IsError() {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if result.Output != "HI" {
		t.Errorf("expected output %q, got %q", "HI", result.Output)
	}
	if result.Seq != 4 || result.ToolName != "echo" {
		t.Errorf("result not linked to call: %+v", result)
	}
}

func TestDispatcherUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, echoTool())
	result := d.Invoke(context.Background(), ToolCallRecord{Seq: 1, Name: "rm_rf"})

	if result.Reason != ReasonUnknownTool {
		t.Fatalf("expected %s, got %+v", ReasonUnknownTool, result)
	}
	if !strings.Contains(result.Output, "echo") {
		t.Errorf("expected available tools listed, got %q", result.Output)
	}
}

func TestDispatcherInvalidArguments(t *testing.T) {
	ran := false
	tool := echoTool()
	inner := tool.Executor
	tool.Executor = func(ctx context.Context, args map[string]string) (string, error) {
		ran = true
		return inner(ctx, args)
	}
	d := newTestDispatcher(t, tool)

	tests := []struct {
		name string
		args map[string]string
		want string
	}{
		{"missing required", map[string]string{}, `missing required parameter "text"`},
		{"undeclared", map[string]string{"text": "a", "color": "red"}, `unknown parameter "color"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := d.Invoke(context.Background(), ToolCallRecord{Seq: 1, Name: "echo", Args: tt.args})
			if result.Reason != ReasonInvalidArguments {
				t.Fatalf("expected %s, got %+v", ReasonInvalidArguments, result)
			}
			if !strings.Contains(result.Output, tt.want) {
				t.Errorf("expected %q in %q", tt.want, result.Output)
			}
		})
	}
	if ran {
		t.Error("tool body ran despite invalid arguments")
	}
}

func TestDispatcherExecutionErrorCode(t *testing.T) {
	d := newTestDispatcher(t, RegisteredTool{
		Definition: ToolDefinition{Name: "file_read", Params: []ParamSpec{{Name: "path", Required: true}}},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			return "", NewExecutionError("file_not_found", "no such file: %s", args["path"])
		},
	})

	result := d.Invoke(context.Background(), ToolCallRecord{Seq: 2, Name: "file_read", Args: map[string]string{"path": "x.go"}})
	if result.Reason != ReasonExecutionError || result.Code != "file_not_found" {
		t.Fatalf("expected execution_error/file_not_found, got %+v", result)
	}
	if result.Output != "no such file: x.go" {
		t.Errorf("unexpected output %q", result.Output)
	}
	if got := ObservationHeader(result); got != "[Tool result for file_read #2: error execution_error (file_not_found)]" {
		t.Errorf("unexpected header %q", got)
	}
}

func TestDispatcherRecoversPanic(t *testing.T) {
	d := newTestDispatcher(t, RegisteredTool{
		Definition: ToolDefinition{Name: "boom"},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			panic("kaboom")
		},
	})

	result := d.Invoke(context.Background(), ToolCallRecord{Seq: 1, Name: "boom"})
	if result.Reason != ReasonExecutionError || !strings.Contains(result.Output, "kaboom") {
		t.Fatalf("expected recovered panic, got %+v", result)
	}
}

func blockingTool(name string, timeout time.Duration) RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{Name: name},
		Timeout:    timeout,
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

func TestDispatcherTimeout(t *testing.T) {
	d := newTestDispatcher(t, blockingTool("slow", 20*time.Millisecond))

	result := d.Invoke(context.Background(), ToolCallRecord{Seq: 1, Name: "slow"})
	if result.Reason != ReasonTimeout {
		t.Fatalf("expected timeout, got %+v", result)
	}
}

func TestDispatcherTimeoutIgnoredByTool(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := newTestDispatcher(t, RegisteredTool{
		Definition: ToolDefinition{Name: "stuck"},
		Timeout:    20 * time.Millisecond,
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			<-release
			return "late", nil
		},
	})

	start := time.Now()
	result := d.Invoke(context.Background(), ToolCallRecord{Seq: 1, Name: "stuck"})
	if result.Reason != ReasonTimeout {
		t.Fatalf("expected timeout, got %+v", result)
	}
	if time.Since(start) > time.Second {
		t.Errorf("dispatch waited for the tool instead of timing out")
	}
}

func TestDispatcherCancelled(t *testing.T) {
	d := newTestDispatcher(t, blockingTool("slow", time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := d.Invoke(ctx, ToolCallRecord{Seq: 1, Name: "slow"})
	if result.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled, got %+v", result)
	}

	result = d.Invoke(ctx, ToolCallRecord{Seq: 2, Name: "slow"})
	if result.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled for already-cancelled context, got %+v", result)
	}
}

func TestDispatcherTruncatesOutput(t *testing.T) {
	big := strings.Repeat("a", 100) + strings.Repeat("z", 100)
	reg := NewToolRegistry()
	reg.MustRegister(RegisteredTool{
		Definition: ToolDefinition{Name: "big"},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			return big, nil
		},
	})
	d := NewDispatcher(reg, WithOutputLimits(map[string]OutputLimit{"big": {Chars: 50, Mode: TruncateTail}}))

	result, full := d.dispatch(context.Background(), ToolCallRecord{Seq: 1, Name: "big"})
	if full != big {
		t.Errorf("expected untruncated output preserved")
	}
	if !strings.HasSuffix(result.Output, "\n"+strings.Repeat("z", 50)) {
		t.Errorf("expected the last 50 characters kept, got %q", result.Output)
	}
	if !strings.Contains(result.Output, "150 characters removed") {
		t.Errorf("expected truncation notice, got %q", result.Output)
	}
}

func TestRegistryRejectsBadDefinitions(t *testing.T) {
	reg := NewToolRegistry()
	noop := func(ctx context.Context, args map[string]string) (string, error) { return "", nil }

	if err := reg.Register(RegisteredTool{Definition: ToolDefinition{Name: ""}, Executor: noop}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register(RegisteredTool{Definition: ToolDefinition{Name: "x"}}); err == nil {
		t.Error("expected error for missing executor")
	}
	dup := ToolDefinition{Name: "x", Params: []ParamSpec{{Name: "a"}, {Name: "a"}}}
	if err := reg.Register(RegisteredTool{Definition: dup, Executor: noop}); err == nil {
		t.Error("expected error for duplicate parameter")
	}
	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Count())
	}
}

func TestGetIntAndBool(t *testing.T) {
	args := map[string]string{"n": " 42 ", "bad": "x", "flag": "TRUE"}

	if n, err := GetInt(args, "n", 0); err != nil || n != 42 {
		t.Errorf("GetInt n = %d, %v", n, err)
	}
	if n, err := GetInt(args, "absent", 7); err != nil || n != 7 {
		t.Errorf("GetInt absent = %d, %v", n, err)
	}
	_, err := GetInt(args, "bad", 0)
	if ErrorCode(err) != "invalid_argument" {
		t.Errorf("expected invalid_argument code, got %v", err)
	}
	if b, err := GetBool(args, "flag", false); err != nil || !b {
		t.Errorf("GetBool flag = %v, %v", b, err)
	}
	var ee *ExecutionError
	if _, err := GetBool(args, "bad", false); !errors.As(err, &ee) {
		t.Errorf("expected ExecutionError, got %v", err)
	}
}
