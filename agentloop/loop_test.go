package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/martinemde/axonix/memory"
	"github.com/martinemde/axonix/unifiedllm"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = unifiedllm.RetryPolicy{MaxRetries: 0}
	cfg.ToolTimeoutMs = 5000
	cfg.FragmentTimeoutMs = 5000
	return cfg
}

// fakeFiles is a read_file tool over an in-memory file set.
func fakeFiles(files map[string]string) RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "read_file",
			Description: "Read a file.",
			Params:      []ParamSpec{{Name: "path", Required: true}},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			content, ok := files[args["path"]]
			if !ok {
				return "", NewExecutionError("file_not_found", "no such file: %s", args["path"])
			}
			return content, nil
		},
	}
}

func doneTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{Name: DoneToolName, Params: []ParamSpec{{Name: "result", Required: true}}},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			return args["result"], nil
		},
	}
}

func newTestRunner(t *testing.T, client StreamClient, cfg Config, tools ...RegisteredTool) *Runner {
	t.Helper()
	reg := NewToolRegistry()
	for _, tool := range tools {
		reg.MustRegister(tool)
	}
	return NewRunner(client, reg, WithConfig(cfg), WithModel("test-model", ""))
}

func toolResults(res Result) []ToolResult {
	var out []ToolResult
	for _, turn := range res.Conversation {
		if turn.Role == RoleTool && turn.Result != nil {
			out = append(out, *turn.Result)
		}
	}
	return out
}

func readAction(path string) string {
	return fmt.Sprintf("Reading.\n<action name=\"read_file\">\n<param name=\"path\">%s</param>\n</action>", path)
}

func TestRunStepBudgetExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSteps = 3
	backend := unifiedllm.ScriptedTexts(readAction("missing.txt")).RepeatLast()
	runner := newTestRunner(t, backend, cfg, fakeFiles(nil))

	res := runner.Run(context.Background(), "Summarize missing.txt")

	if res.Status != StatusFailed || res.Reason != ReasonStepBudgetExceeded {
		t.Fatalf("expected failed/%s, got %s/%s\n%s", ReasonStepBudgetExceeded, res.Status, res.Reason, res.Diagnostic(10))
	}
	if res.ToolCalls != 3 {
		t.Errorf("expected 3 dispatches, got %d", res.ToolCalls)
	}
	results := toolResults(res)
	if len(results) != 3 {
		t.Fatalf("expected 3 tool turns, got %d", len(results))
	}
	for i, r := range results {
		if r.Status != ResultError || r.Code != "file_not_found" {
			t.Errorf("result %d: expected file_not_found error, got %+v", i, r)
		}
		if r.Seq != uint64(i+1) {
			t.Errorf("result %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
	}
	var budget *BudgetExceededError
	if !errors.As(res.Err, &budget) || budget.MaxSteps != 3 {
		t.Errorf("expected BudgetExceededError, got %v", res.Err)
	}
	if got := len(backend.Requests()); got != 3 {
		t.Errorf("expected 3 generations, got %d", got)
	}
}

func TestRunCompletesOnFirstStep(t *testing.T) {
	backend := unifiedllm.ScriptedTexts("The repository already has a README.\n<ENDOFOP>\nNothing to change.\n</ENDOFOP>")
	runner := newTestRunner(t, backend, testConfig(), fakeFiles(nil))

	res := runner.Run(context.Background(), "Add a README if missing")

	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s/%s", res.Status, res.Reason)
	}
	if res.Steps != 1 || res.ToolCalls != 0 {
		t.Errorf("expected 1 step and 0 calls, got %d steps, %d calls", res.Steps, res.ToolCalls)
	}
	if res.Summary != "Nothing to change." {
		t.Errorf("expected summary %q, got %q", "Nothing to change.", res.Summary)
	}
}

func TestRunReadThenComplete(t *testing.T) {
	backend := unifiedllm.ScriptedTexts(
		readAction("go.mod"),
		"The module is example.com/app.\n<ENDOFOP>Module path is example.com/app",
	)
	runner := newTestRunner(t, backend, testConfig(), fakeFiles(map[string]string{"go.mod": "module example.com/app\n"}))

	res := runner.Run(context.Background(), "What is the module path?")

	if res.Status != StatusCompleted || res.Steps != 2 || res.ToolCalls != 1 {
		t.Fatalf("unexpected result %s/%s steps=%d calls=%d", res.Status, res.Reason, res.Steps, res.ToolCalls)
	}

	// The second request carries the observation for call #1.
	reqs := backend.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != unifiedllm.RoleUser || !strings.HasPrefix(last.Content, "[Tool result for read_file #1: ok]") {
		t.Errorf("unexpected observation message %+v", last)
	}
	if !strings.Contains(last.Content, "module example.com/app") {
		t.Errorf("observation missing file content: %q", last.Content)
	}
	if reqs[0].Messages[0].Role != unifiedllm.RoleSystem || !strings.Contains(reqs[0].Messages[0].Content, "read_file(path)") {
		t.Errorf("expected system prompt with tool catalog")
	}
}

type turnShape struct {
	role    Role
	content string
	call    string
	result  string
}

func shapes(res Result) []turnShape {
	out := make([]turnShape, len(res.Conversation))
	for i, turn := range res.Conversation {
		s := turnShape{role: turn.Role, content: turn.Content}
		if turn.Call != nil {
			s.call = fmt.Sprintf("%d:%s:%v", turn.Call.Seq, turn.Call.Name, turn.Call.Args)
		}
		if turn.Result != nil {
			s.result = fmt.Sprintf("%d:%s:%s:%s", turn.Result.Seq, turn.Result.Status, turn.Result.Code, turn.Result.Output)
		}
		out[i] = s
	}
	return out
}

func TestRunReplayIsIdempotent(t *testing.T) {
	script := []string{
		readAction("a.txt"),
		"Now the missing one. " + readAction("b.txt"),
		"I'll just think for a moment.",
		"<action>\n```json\n{\"tool\": \"read_file\", \"args\": {\"path\": \"a.txt\"}}\n```\n</action>",
		"Both checked.<ENDOFOP>a.txt says hello; b.txt is missing.",
	}
	files := map[string]string{"a.txt": "hello"}

	var baseline []turnShape
	var baseResult Result
	for _, size := range []int{0, 1, 3, 17} {
		backend := unifiedllm.ScriptedTexts(script...).WithFragmentSize(size)
		runner := newTestRunner(t, backend, testConfig(), fakeFiles(files))
		res := runner.Run(context.Background(), "Check a.txt and b.txt")

		if res.Status != StatusCompleted {
			t.Fatalf("fragment size %d: expected completed, got %s/%s", size, res.Status, res.Reason)
		}
		got := shapes(res)
		if baseline == nil {
			baseline, baseResult = got, res
			continue
		}
		if len(got) != len(baseline) {
			t.Fatalf("fragment size %d: %d turns, want %d", size, len(got), len(baseline))
		}
		for i := range got {
			if got[i] != baseline[i] {
				t.Errorf("fragment size %d: turn %d differs\nwant %+v\ngot  %+v", size, i, baseline[i], got[i])
			}
		}
		if res.Steps != baseResult.Steps || res.Summary != baseResult.Summary || res.ToolCalls != baseResult.ToolCalls {
			t.Errorf("fragment size %d: result differs: %+v vs %+v", size, res, baseResult)
		}
	}
	if baseResult.ToolCalls != 3 || baseResult.Steps != 5 {
		t.Errorf("expected 3 calls over 5 steps, got %d calls over %d steps", baseResult.ToolCalls, baseResult.Steps)
	}
}

func TestRunRepetitionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Repetition = RepetitionConfig{Window: 10, Threshold: 3, Tolerance: 0}
	backend := unifiedllm.ScriptedTexts(readAction("a.txt")).RepeatLast()
	runner := newTestRunner(t, backend, cfg, fakeFiles(map[string]string{"a.txt": "same"}))

	res := runner.Run(context.Background(), "Loop forever")

	if res.Status != StatusFailed || res.Reason != ReasonRepetitionLimit {
		t.Fatalf("expected failed/%s, got %s/%s", ReasonRepetitionLimit, res.Status, res.Reason)
	}
	if res.ToolCalls != 8 {
		t.Errorf("expected failure on the 8th identical call, got %d calls", res.ToolCalls)
	}
	var notices int
	for _, turn := range res.Conversation {
		if turn.Role == RoleSystem {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("expected 1 corrective notice, got %d", notices)
	}
	var stagnation *StagnationError
	if !errors.As(res.Err, &stagnation) || stagnation.Strike != 2 {
		t.Errorf("expected second-strike StagnationError, got %v", res.Err)
	}
}

func TestRunNudgesWhenNoActionOrCompletion(t *testing.T) {
	backend := unifiedllm.ScriptedTexts("Hmm, let me think about this.", "<ENDOFOP>Done thinking.")
	runner := newTestRunner(t, backend, testConfig())

	res := runner.Run(context.Background(), "Ponder")

	if res.Status != StatusCompleted || res.Steps != 2 {
		t.Fatalf("expected completion in 2 steps, got %s in %d", res.Status, res.Steps)
	}
	found := false
	for _, turn := range res.Conversation {
		if turn.Role == RoleUser && turn.Content == NudgeMessage {
			found = true
		}
	}
	if !found {
		t.Error("expected a nudge turn")
	}
}

func TestRunDoneTool(t *testing.T) {
	backend := unifiedllm.ScriptedTexts(`<action name="done"><param name="result">Renamed the package.</param></action>`)
	runner := newTestRunner(t, backend, testConfig(), doneTool())

	res := runner.Run(context.Background(), "Rename the package")

	if res.Status != StatusCompleted || res.Summary != "Renamed the package." {
		t.Fatalf("expected completed with summary, got %s %q", res.Status, res.Summary)
	}
	if res.ToolCalls != 1 {
		t.Errorf("expected 1 call, got %d", res.ToolCalls)
	}
}

func TestRunCallWinsOverCompletion(t *testing.T) {
	backend := unifiedllm.ScriptedTexts(
		readAction("a.txt")+"\n<ENDOFOP>premature",
		"<ENDOFOP>really done",
	)
	runner := newTestRunner(t, backend, testConfig(), fakeFiles(map[string]string{"a.txt": "x"}))

	res := runner.Run(context.Background(), "Read a.txt")

	if res.Status != StatusCompleted || res.Steps != 2 || res.Summary != "really done" {
		t.Fatalf("expected the call to run before completing, got %s steps=%d summary=%q", res.Status, res.Steps, res.Summary)
	}
}

func TestRunImmediateDispatchStopsReading(t *testing.T) {
	cfg := testConfig()
	cfg.DispatchMode = DispatchImmediate
	trailing := strings.Repeat(" and then I will keep talking", 20)
	backend := unifiedllm.ScriptedTexts(readAction("a.txt")+trailing, "<ENDOFOP>ok").WithFragmentSize(4)
	runner := newTestRunner(t, backend, cfg, fakeFiles(map[string]string{"a.txt": "x"}))

	res := runner.Run(context.Background(), "Read a.txt")

	if res.Status != StatusCompleted || res.ToolCalls != 1 {
		t.Fatalf("unexpected result %s calls=%d", res.Status, res.ToolCalls)
	}
	assistant := res.Conversation[1]
	if assistant.Role != RoleAssistant || assistant.Call == nil {
		t.Fatalf("expected assistant turn with call, got %+v", assistant)
	}
	if strings.Contains(assistant.Content, "keep talking") {
		t.Errorf("expected reading to stop at the call, got %q", assistant.Content)
	}
}

func TestRunMultipleActions(t *testing.T) {
	cfg := testConfig()
	cfg.MultipleActions = true
	backend := unifiedllm.ScriptedTexts(readAction("a.txt")+readAction("b.txt"), "<ENDOFOP>ok")
	runner := newTestRunner(t, backend, cfg, fakeFiles(map[string]string{"a.txt": "x"}))

	res := runner.Run(context.Background(), "Read both")

	results := toolResults(res)
	if len(results) != 2 || results[0].Seq != 1 || results[1].Seq != 2 {
		t.Fatalf("expected two ordered results, got %+v", results)
	}
	if results[1].Code != "file_not_found" {
		t.Errorf("expected second read to fail, got %+v", results[1])
	}
}

func TestRunUnknownToolContinues(t *testing.T) {
	backend := unifiedllm.ScriptedTexts(`<action name="teleport"></action>`, "<ENDOFOP>gave up")
	runner := newTestRunner(t, backend, testConfig(), fakeFiles(nil))

	res := runner.Run(context.Background(), "Teleport")

	results := toolResults(res)
	if len(results) != 1 || results[0].Reason != ReasonUnknownTool {
		t.Fatalf("expected one unknown_tool result, got %+v", results)
	}
	if res.Status != StatusCompleted {
		t.Errorf("expected run to continue to completion, got %s", res.Status)
	}
}

func TestRunCancelledDuringTool(t *testing.T) {
	started := make(chan struct{})
	slow := RegisteredTool{
		Definition: ToolDefinition{Name: "wait"},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	backend := unifiedllm.ScriptedTexts(`<action name="wait"></action>`).RepeatLast()
	runner := newTestRunner(t, backend, testConfig(), slow)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	res := runner.Run(ctx, "Wait")

	if res.Status != StatusCancelled || res.Reason != ReasonRunCancelled {
		t.Fatalf("expected cancelled, got %s/%s", res.Status, res.Reason)
	}
	results := toolResults(res)
	if len(results) != 1 || results[0].Reason != ReasonCancelled {
		t.Fatalf("expected one cancelled result, got %+v", results)
	}
	if !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", res.Err)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	backend := unifiedllm.ScriptedTexts("<ENDOFOP>")
	runner := newTestRunner(t, backend, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runner.Run(ctx, "Anything")
	if res.Status != StatusCancelled || res.Steps != 0 {
		t.Fatalf("expected cancelled at step 0, got %s at %d", res.Status, res.Steps)
	}
	if len(backend.Requests()) != 0 {
		t.Errorf("expected no generation")
	}
}

func TestRunBackendErrorFails(t *testing.T) {
	authErr := &unifiedllm.AuthenticationError{ProviderError: unifiedllm.ProviderError{
		SDKError: unifiedllm.SDKError{Message: "bad key"},
		Provider: "scripted",
	}}
	backend := unifiedllm.NewScriptedAdapter(unifiedllm.ScriptedResponse{Err: authErr})
	runner := newTestRunner(t, backend, testConfig())

	res := runner.Run(context.Background(), "Anything")

	if res.Status != StatusFailed || res.Reason != ReasonBackendError {
		t.Fatalf("expected failed/backend_error, got %s/%s", res.Status, res.Reason)
	}
	var backendErr *BackendError
	if !errors.As(res.Err, &backendErr) || backendErr.Step != 1 {
		t.Fatalf("expected BackendError at step 1, got %v", res.Err)
	}
	var auth *unifiedllm.AuthenticationError
	if !errors.As(res.Err, &auth) {
		t.Errorf("expected wrapped AuthenticationError")
	}
}

func TestRunRetriesTransientBackendErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = unifiedllm.RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.01}
	serverErr := &unifiedllm.ServerError{ProviderError: unifiedllm.ProviderError{
		SDKError: unifiedllm.SDKError{Message: "overloaded"}, Retryable: true,
	}}
	backend := unifiedllm.NewScriptedAdapter(
		unifiedllm.ScriptedResponse{Err: serverErr},
		unifiedllm.ScriptedResponse{Text: "partial <act", StreamErr: serverErr},
		unifiedllm.ScriptedResponse{Text: "<ENDOFOP>recovered"},
	)
	runner := newTestRunner(t, backend, cfg)

	res := runner.Run(context.Background(), "Anything")

	if res.Status != StatusCompleted || res.Summary != "recovered" {
		t.Fatalf("expected completion after retries, got %s/%s %v", res.Status, res.Reason, res.Err)
	}
	if res.Steps != 1 {
		t.Errorf("retries must not consume steps, got %d", res.Steps)
	}
}

func TestRunRetriesStreamBrokenAfterCall(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = unifiedllm.RetryPolicy{MaxRetries: 1, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.01}
	dropped := &unifiedllm.StreamError{SDKError: unifiedllm.SDKError{Message: "connection reset"}}
	backend := unifiedllm.NewScriptedAdapter(
		unifiedllm.ScriptedResponse{Text: readAction("a.txt") + " and then", StreamErr: dropped},
		unifiedllm.ScriptedResponse{Text: readAction("b.txt")},
		unifiedllm.ScriptedResponse{Text: "<ENDOFOP>done"},
	)
	runner := newTestRunner(t, backend, cfg, fakeFiles(map[string]string{"a.txt": "A", "b.txt": "B"}))

	res := runner.Run(context.Background(), "Read a file")

	if res.Status != StatusCompleted {
		t.Fatalf("expected completion, got %s/%s %v", res.Status, res.Reason, res.Err)
	}
	if res.ToolCalls != 1 {
		t.Fatalf("expected only the retried call to count, got %d", res.ToolCalls)
	}
	results := toolResults(res)
	if len(results) != 1 {
		t.Fatalf("expected one tool result, got %d", len(results))
	}
	if results[0].Seq != 1 || results[0].Output != "B" {
		t.Errorf("expected call #1 to read b.txt, got #%d %q", results[0].Seq, results[0].Output)
	}
	if len(backend.Requests()) != 3 {
		t.Errorf("expected 3 backend requests, got %d", len(backend.Requests()))
	}
}

func TestRunSteeringInjected(t *testing.T) {
	backend := unifiedllm.ScriptedTexts("<ENDOFOP>ok")
	runner := newTestRunner(t, backend, testConfig())
	s := runner.NewSession("Do the thing")
	defer s.Close()
	s.Steer("Use tabs, not spaces.")

	res := s.Run(context.Background())

	if len(res.Conversation) < 2 || res.Conversation[1].Content != "Use tabs, not spaces." {
		t.Fatalf("expected steering turn after the task, got %+v", res.Conversation)
	}
	msgs := backend.Requests()[0].Messages
	if msgs[len(msgs)-1].Content != "Use tabs, not spaces." {
		t.Errorf("expected steering in the request")
	}
	if again := s.Run(context.Background()); again.Status != res.Status || again.Steps != res.Steps {
		t.Errorf("expected second Run to return the first result")
	}
}

func TestRunMemoryReachesPrompt(t *testing.T) {
	store := memory.NewMemStore()
	if err := store.Set(context.Background(), "test_cmd", "make check"); err != nil {
		t.Fatal(err)
	}
	backend := unifiedllm.ScriptedTexts("<ENDOFOP>ok")
	reg := NewToolRegistry()
	runner := NewRunner(backend, reg, WithConfig(testConfig()), WithMemory(store))

	runner.Run(context.Background(), "Run the tests")

	system := backend.Requests()[0].Messages[0].Content
	if !strings.Contains(system, "- test_cmd: make check") {
		t.Errorf("expected memory block in system prompt, got %q", system)
	}
}

type recordingRecorder struct {
	turns   []Turn
	results []Result
}

func (r *recordingRecorder) RecordTurn(sessionID string, step int, turn Turn) error {
	r.turns = append(r.turns, turn)
	return nil
}

func (r *recordingRecorder) RecordResult(sessionID string, result Result) error {
	r.results = append(r.results, result)
	return nil
}

func TestRunRecordsEveryTurn(t *testing.T) {
	rec := &recordingRecorder{}
	backend := unifiedllm.ScriptedTexts(readAction("a.txt"), "<ENDOFOP>ok")
	reg := NewToolRegistry()
	reg.MustRegister(fakeFiles(map[string]string{"a.txt": "x"}))
	runner := NewRunner(backend, reg, WithConfig(testConfig()), WithRecorder(rec))

	res := runner.Run(context.Background(), "Read")

	if len(rec.turns) != len(res.Conversation) {
		t.Errorf("expected %d recorded turns, got %d", len(res.Conversation), len(rec.turns))
	}
	if len(rec.results) != 1 || rec.results[0].Status != StatusCompleted {
		t.Errorf("expected one completed result recorded, got %+v", rec.results)
	}
}

func TestRunEmitsEvents(t *testing.T) {
	backend := unifiedllm.ScriptedTexts(readAction("a.txt"), "<ENDOFOP>ok")
	runner := newTestRunner(t, backend, testConfig(), fakeFiles(map[string]string{"a.txt": "x"}))
	s := runner.NewSession("Read")

	done := make(chan []EventKind)
	go func() {
		var kinds []EventKind
		for ev := range s.Events() {
			kinds = append(kinds, ev.Kind)
		}
		done <- kinds
	}()
	s.Run(context.Background())
	s.Close()

	var kinds []EventKind
	select {
	case kinds = <-done:
	case <-time.After(time.Second):
		t.Fatal("event channel not closed")
	}
	want := map[EventKind]bool{EventSessionStart: false, EventToolCall: false, EventToolResult: false, EventCompletion: false, EventSessionEnd: false}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("expected event %s", k)
		}
	}
	if kinds[0] != EventSessionStart || kinds[len(kinds)-1] != EventSessionEnd {
		t.Errorf("unexpected event order: first %s, last %s", kinds[0], kinds[len(kinds)-1])
	}
}

func TestResultDiagnostic(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSteps = 2
	backend := unifiedllm.ScriptedTexts(readAction("missing.txt")).RepeatLast()
	runner := newTestRunner(t, backend, cfg, fakeFiles(nil))

	res := runner.Run(context.Background(), "Read missing.txt")
	diag := res.Diagnostic(2)

	if !strings.Contains(diag, "failed (step_budget_exceeded)") {
		t.Errorf("expected reason in diagnostic, got %q", diag)
	}
	if !strings.Contains(diag, "[Tool result for read_file #2: error execution_error (file_not_found)]") {
		t.Errorf("expected last observation in diagnostic, got %q", diag)
	}
	if strings.Contains(diag, "Read missing.txt") {
		t.Errorf("expected only the last 2 turns, got %q", diag)
	}
}
