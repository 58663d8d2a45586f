package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/axonix/memory"
	"github.com/martinemde/axonix/unifiedllm"
)

// DoneToolName is the tool a model may call to finish a task; its output
// becomes the run summary.
const DoneToolName = "done"

// NudgeMessage is appended when a response neither acts nor completes.
const NudgeMessage = "Continue. Use an <action> tool call to make progress, " +
	"or use <ENDOFOP> if the task is fully complete."

// StreamClient starts generations. *unifiedllm.Client satisfies it.
type StreamClient interface {
	Stream(ctx context.Context, req unifiedllm.Request) (unifiedllm.Stream, error)
}

// Recorder persists a run as it happens. Errors are logged, never fatal.
type Recorder interface {
	RecordTurn(sessionID string, step int, turn Turn) error
	RecordResult(sessionID string, result Result) error
}

// Runner holds what runs share: the backend client, tools, memory and
// configuration. It is safe to start many sessions from one Runner.
type Runner struct {
	client      StreamClient
	registry    *ToolRegistry
	dispatcher  *Dispatcher
	memory      memory.Store
	recorder    Recorder
	env         Environment
	projectDocs string
	cfg         Config
	logger      *zap.Logger

	model       string
	provider    string
	temperature *float64
	maxTokens   *int
	stop        []string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConfig replaces the loop configuration.
func WithConfig(cfg Config) RunnerOption {
	return func(r *Runner) { r.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMemory attaches a memory store whose entries are shown to the model.
func WithMemory(store memory.Store) RunnerOption {
	return func(r *Runner) { r.memory = store }
}

// WithRecorder attaches a run recorder.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithEnvironment describes the tool environment in the system prompt and
// loads project instruction files from its working directory.
func WithEnvironment(env Environment) RunnerOption {
	return func(r *Runner) {
		r.env = env
		if env != nil {
			r.projectDocs = DiscoverProjectDocs(env.WorkingDirectory())
		}
	}
}

// WithModel sets the model and, optionally, the provider that serves it.
func WithModel(model, provider string) RunnerOption {
	return func(r *Runner) {
		r.model = model
		r.provider = provider
	}
}

// WithSampling sets generation options. Nil pointers leave the backend default.
func WithSampling(temperature *float64, maxTokens *int, stop []string) RunnerOption {
	return func(r *Runner) {
		r.temperature = temperature
		r.maxTokens = maxTokens
		r.stop = stop
	}
}

// NewRunner creates a Runner.
func NewRunner(client StreamClient, registry *ToolRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:   client,
		registry: registry,
		cfg:      DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.dispatcher = NewDispatcher(registry,
		WithToolTimeout(r.cfg.toolTimeout()),
		WithOutputLimits(r.cfg.ToolOutputLimits),
		WithDispatchLogger(r.logger))
	return r
}

// Config returns the loop configuration.
func (r *Runner) Config() Config { return r.cfg }

// Registry returns the tool registry.
func (r *Runner) Registry() *ToolRegistry { return r.registry }

// Run is a convenience for NewSession(task).Run(ctx).
func (r *Runner) Run(ctx context.Context, task string) Result {
	s := r.NewSession(task)
	defer s.Close()
	return s.Run(ctx)
}

// Result is the outcome of a run.
type Result struct {
	SessionID    string           `json:"session_id"`
	Status       Status           `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	Steps        int              `json:"steps"`
	Summary      string           `json:"summary,omitempty"`
	ToolCalls    int              `json:"tool_calls"`
	Usage        unifiedllm.Usage `json:"usage"`
	Conversation []Turn           `json:"-"`
	Err          error            `json:"-"`
}

// Diagnostic renders the terminal reason and the last n turns.
func (r Result) Diagnostic(n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "status: %s", r.Status)
	if r.Reason != "" {
		fmt.Fprintf(&sb, " (%s)", r.Reason)
	}
	fmt.Fprintf(&sb, " after %d steps, %d tool calls\n", r.Steps, r.ToolCalls)
	if r.Err != nil {
		fmt.Fprintf(&sb, "error: %v\n", r.Err)
	}

	turns := r.Conversation
	if n >= 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	for _, t := range turns {
		content := t.Content
		if t.Result != nil {
			content = RenderObservation(*t.Result)
		}
		fmt.Fprintf(&sb, "--- %s\n%s\n", t.Role, TruncateOutput(content, 2000, TruncateHeadTail))
	}
	return sb.String()
}

// Session is one run of one task. It owns its LoopState exclusively; Run
// drives it on the caller's goroutine.
type Session struct {
	id        string
	runner    *Runner
	state     *LoopState
	emitter   *EventEmitter
	assembler *ContextAssembler
	logger    *zap.Logger

	mu       sync.Mutex
	steering []string
	result   *Result
	err      error
	usage    unifiedllm.Usage
}

// NewSession prepares a run of task. Nothing happens until Run.
func (r *Runner) NewSession(task string) *Session {
	id := uuid.New().String()

	parts := SystemPromptParts{
		Tools:            r.registry.Definitions(),
		ProjectDocs:      r.projectDocs,
		UserInstructions: r.cfg.UserInstructions,
	}
	if r.env != nil {
		parts.Environment = BuildEnvironmentContext(r.env, r.model, time.Now())
	}

	return &Session{
		id:      id,
		runner:  r,
		state:   NewLoopState(task, r.cfg.MaxSteps, NewRepetitionGuard(r.cfg.Repetition)),
		emitter: NewEventEmitter(id, 1024),
		assembler: &ContextAssembler{
			SystemPrompt:  BuildSystemPrompt(parts),
			MaxChars:      r.cfg.contextBudget(r.model),
			MemoryEntries: r.cfg.MemoryEntries,
		},
		logger: r.logger.With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Steer queues a user message injected at the next step boundary.
func (s *Session) Steer(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steering = append(s.steering, message)
}

// Close releases the event channel. Safe to call multiple times.
func (s *Session) Close() {
	s.emitter.Close()
}

// Run executes the loop until the task completes, fails or ctx is
// cancelled. Calling Run again returns the first result.
func (s *Session) Run(ctx context.Context) Result {
	s.mu.Lock()
	if s.result != nil {
		res := *s.result
		s.mu.Unlock()
		return res
	}
	s.mu.Unlock()

	st := s.state
	st.Status = StatusRunning
	s.record(st.Conversation[0])
	s.emit(EventSessionStart, map[string]any{"task": st.Task(), "model": s.runner.model})
	s.logger.Info("run started", zap.String("model", s.runner.model), zap.Int("max_steps", st.MaxSteps))

	for !st.Status.Terminal() {
		if ctx.Err() != nil {
			s.cancel()
			break
		}
		if st.Step >= st.MaxSteps {
			s.err = &BudgetExceededError{MaxSteps: st.MaxSteps}
			st.finish(StatusFailed, ReasonStepBudgetExceeded)
			s.emit(EventBudgetExceeded, map[string]any{"max_steps": st.MaxSteps})
			break
		}
		s.drainSteering()
		st.Step++
		s.emit(EventStepStart, nil)
		s.step(ctx)
	}

	res := Result{
		SessionID:    s.id,
		Status:       st.Status,
		Reason:       st.Reason,
		Steps:        st.Step,
		Summary:      st.Summary,
		ToolCalls:    len(st.Calls()),
		Usage:        s.usage,
		Conversation: append([]Turn(nil), st.Conversation...),
		Err:          s.err,
	}
	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()

	if s.runner.recorder != nil {
		if err := s.runner.recorder.RecordResult(s.id, res); err != nil {
			s.logger.Warn("record result failed", zap.Error(err))
		}
	}
	s.emit(EventSessionEnd, map[string]any{"status": string(res.Status), "reason": res.Reason, "summary": res.Summary})
	s.logger.Info("run finished",
		zap.String("status", string(res.Status)),
		zap.String("reason", res.Reason),
		zap.Int("steps", res.Steps),
		zap.Int("tool_calls", res.ToolCalls))
	return res
}

// step performs one generate, dispatch, observe cycle.
func (s *Session) step(ctx context.Context) {
	st := s.state

	gen, err := s.generate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.cancel()
			return
		}
		s.err = &BackendError{Step: st.Step, Err: err}
		st.finish(StatusFailed, ReasonBackendError)
		s.emit(EventError, map[string]any{"error": err.Error()})
		s.logger.Error("generation failed", zap.Int("step", st.Step), zap.Error(err))
		return
	}

	var first *ToolCallRecord
	if len(gen.calls) > 0 {
		first = &gen.calls[0]
	}
	s.append(NewAssistantTurn(gen.text, first))
	for _, call := range gen.calls {
		st.RecordCall(call)
	}
	s.emit(EventAssistantTurn, map[string]any{"text": gen.text, "calls": len(gen.calls), "completed": gen.completed})

	if len(gen.calls) == 0 {
		if gen.completed {
			st.Summary = strings.TrimSpace(gen.summary)
			st.finish(StatusCompleted, "")
			s.emit(EventCompletion, map[string]any{"summary": st.Summary})
			return
		}
		s.append(NewUserTurn(NudgeMessage))
		s.emit(EventNudge, nil)
		return
	}

	for _, call := range gen.calls {
		if ctx.Err() != nil {
			s.cancel()
			return
		}
		result, full := s.runner.dispatcher.dispatch(ctx, call)
		if err := st.AppendResult(result); err != nil {
			s.logger.Error("result rejected", zap.Error(err))
			continue
		}
		s.record(st.Conversation[len(st.Conversation)-1])
		s.emit(EventToolResult, map[string]any{
			"seq":    call.Seq,
			"tool":   call.Name,
			"status": string(result.Status),
			"reason": string(result.Reason),
			"code":   result.Code,
			"output": full,
		})

		if result.Reason == ReasonCancelled {
			s.cancel()
			return
		}
		if call.Name == DoneToolName && !result.IsError() {
			st.Summary = strings.TrimSpace(full)
			st.finish(StatusCompleted, "")
			s.emit(EventCompletion, map[string]any{"summary": st.Summary})
			return
		}

		verdict, stagnation := st.Guard.Observe(call)
		switch verdict {
		case GuardWarn:
			s.append(NewSystemTurn(CorrectiveNotice(stagnation)))
			s.emit(EventStagnation, map[string]any{"fingerprint": stagnation.Fingerprint, "strike": stagnation.Strike})
			s.logger.Warn("repeated action", zap.String("fingerprint", stagnation.Fingerprint), zap.Int("matches", stagnation.Matches))
		case GuardFail:
			s.err = stagnation
			st.finish(StatusFailed, ReasonRepetitionLimit)
			s.emit(EventStagnation, map[string]any{"fingerprint": stagnation.Fingerprint, "strike": stagnation.Strike})
			return
		}
	}
}

type generation struct {
	text      string
	calls     []ToolCallRecord
	completed bool
	summary   string
}

// generate streams one response through the parser. A stream that fails
// before it ends is retried per the retry policy, and the call ids the
// failed attempt took are handed out again. Immediate dispatch stops reading
// at the first call, so a later failure never reaches it.
func (s *Session) generate(ctx context.Context) (*generation, error) {
	st := s.state
	cfg := s.runner.cfg

	var memories []memory.Entry
	if s.runner.memory != nil {
		entries, err := s.runner.memory.List(ctx)
		if err != nil {
			s.logger.Warn("memory unavailable", zap.Error(err))
		}
		memories = entries
	}

	req := unifiedllm.Request{
		Model:         s.runner.model,
		Provider:      s.runner.provider,
		Messages:      s.assembler.Assemble(st.Conversation, memories),
		Temperature:   s.runner.temperature,
		MaxTokens:     s.runner.maxTokens,
		StopSequences: s.runner.stop,
	}

	policy := cfg.Retry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		s.emit(EventRetry, map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds(), "error": err.Error()})
		s.logger.Warn("retrying generation", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	return unifiedllm.Retry(ctx, policy, func(ctx context.Context) (*generation, error) {
		stream, err := s.runner.client.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		mark := st.Sequence.Last()
		parser := NewParser(st.Sequence, ParserOptions{
			MultipleActions: cfg.MultipleActions && cfg.DispatchMode != DispatchImmediate,
		})
		reader := NewEventReader(stream, parser, cfg.fragmentTimeout(), func(delta string) {
			s.emit(EventAssistantTextDelta, map[string]any{"delta": delta})
		})
		defer reader.Close()

		gen := &generation{}
		var summary strings.Builder
	read:
		for {
			ev, err := reader.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if len(gen.calls) > 0 {
					s.logger.Warn("discarding calls from a broken stream", zap.Int("calls", len(gen.calls)), zap.Error(err))
				}
				st.Sequence.Rewind(mark)
				return nil, err
			}

			switch e := ev.(type) {
			case TextEvent:
				if gen.completed {
					summary.WriteString(e.Text)
				}
				if e.Err != nil {
					s.emit(EventParseProblem, map[string]any{"kind": string(e.Err.Kind), "detail": e.Err.Detail, "raw": e.Err.Raw})
				}
			case ToolCallEvent:
				gen.calls = append(gen.calls, e.Call)
				if cfg.DispatchMode == DispatchImmediate {
					break read
				}
			case CompletionEvent:
				gen.completed = true
			}
		}
		for _, call := range gen.calls {
			s.emit(EventToolCall, map[string]any{"seq": call.Seq, "tool": call.Name, "args": call.Args})
		}
		gen.text = reader.Text()
		gen.summary = summary.String()
		s.mu.Lock()
		s.usage = s.usage.Add(reader.Usage())
		s.mu.Unlock()
		return gen, nil
	})
}

// cancel ends the run, answering every emitted call that has no result.
func (s *Session) cancel() {
	st := s.state
	for _, call := range st.Pending() {
		if err := st.AppendResult(CancelledResult(call)); err == nil {
			s.record(st.Conversation[len(st.Conversation)-1])
		}
	}
	s.err = ErrCancelled
	st.finish(StatusCancelled, ReasonRunCancelled)
}

func (s *Session) drainSteering() {
	s.mu.Lock()
	messages := s.steering
	s.steering = nil
	s.mu.Unlock()

	for _, msg := range messages {
		s.append(NewUserTurn(msg))
		s.emit(EventSteeringInjected, map[string]any{"content": msg})
	}
}

func (s *Session) append(t Turn) {
	s.state.Append(t)
	s.record(t)
}

func (s *Session) record(t Turn) {
	if s.runner.recorder == nil {
		return
	}
	if err := s.runner.recorder.RecordTurn(s.id, s.state.Step, t); err != nil {
		s.logger.Warn("record turn failed", zap.Error(err))
	}
}

func (s *Session) emit(kind EventKind, data map[string]any) {
	s.emitter.Emit(kind, s.state.Step, data)
}
