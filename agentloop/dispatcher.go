package agentloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// DefaultToolTimeout bounds a tool invocation when no timeout is configured.
const DefaultToolTimeout = 60 * time.Second

// Dispatcher resolves calls against a ToolRegistry and executes them. It is
// stateless apart from its configuration and safe for concurrent use.
type Dispatcher struct {
	registry *ToolRegistry
	timeout  time.Duration
	limits   map[string]OutputLimit
	logger   *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithToolTimeout sets the default per-invocation timeout.
func WithToolTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithOutputLimits overrides per-tool output limits.
func WithOutputLimits(limits map[string]OutputLimit) DispatcherOption {
	return func(d *Dispatcher) {
		d.limits = limits
	}
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher over registry.
func NewDispatcher(registry *ToolRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultToolTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke executes call and always returns exactly one result for it. Tool
// failures, timeouts, cancellation and panics are all reported in the
// result; nothing escapes as a Go error or panic.
func (d *Dispatcher) Invoke(ctx context.Context, call ToolCallRecord) ToolResult {
	result, _ := d.dispatch(ctx, call)
	return result
}

// dispatch is Invoke that also returns the untruncated output.
func (d *Dispatcher) dispatch(ctx context.Context, call ToolCallRecord) (ToolResult, string) {
	start := time.Now()
	result, full := d.run(ctx, call)

	fields := []zap.Field{
		zap.String("tool", call.Name),
		zap.Uint64("seq", call.Seq),
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if result.IsError() {
		fields = append(fields, zap.String("reason", string(result.Reason)), zap.String("code", result.Code))
	}
	d.logger.Debug("tool dispatched", fields...)
	return result, full
}

func (d *Dispatcher) run(ctx context.Context, call ToolCallRecord) (ToolResult, string) {
	if ctx.Err() != nil {
		return CancelledResult(call), ""
	}

	tool := d.registry.Get(call.Name)
	if tool == nil {
		msg := fmt.Sprintf("unknown tool %q; available tools: %v", call.Name, d.registry.Names())
		return errorResult(call, ReasonUnknownTool, "", msg), msg
	}
	if err := tool.Definition.Validate(call.Args); err != nil {
		msg := fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		return errorResult(call, ReasonInvalidArguments, "", msg), msg
	}

	timeout := d.timeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool panicked",
					zap.String("tool", call.Name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := tool.Executor(toolCtx, copyArgs(call.Args))
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			// A tool that gave up because its context ended is reported by
			// why the context ended.
			if ctx.Err() != nil {
				return CancelledResult(call), ""
			}
			if errors.Is(o.err, context.DeadlineExceeded) && toolCtx.Err() != nil {
				return d.timeoutResult(call, timeout)
			}
			full := o.err.Error()
			if o.output != "" {
				full = o.output + "\n" + full
			}
			return errorResult(call, ReasonExecutionError, ErrorCode(o.err), d.truncate(call.Name, full)), full
		}
		return okResult(call, d.truncate(call.Name, o.output)), o.output
	case <-toolCtx.Done():
		if ctx.Err() != nil {
			return CancelledResult(call), ""
		}
		return d.timeoutResult(call, timeout)
	}
}

func (d *Dispatcher) timeoutResult(call ToolCallRecord, timeout time.Duration) (ToolResult, string) {
	msg := fmt.Sprintf("%s did not finish within %s", call.Name, timeout)
	return errorResult(call, ReasonTimeout, "", msg), msg
}

func (d *Dispatcher) truncate(toolName, output string) string {
	return TruncateToolOutput(output, toolName, d.limits)
}

// CancelledResult is the result recorded for a call that was never run, or
// was interrupted, because the run was cancelled.
func CancelledResult(call ToolCallRecord) ToolResult {
	return errorResult(call, ReasonCancelled, "", "cancelled before completion")
}

func copyArgs(args map[string]string) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
