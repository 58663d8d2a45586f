package agentloop

import (
	"fmt"
	"sort"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusInit      Status = "init"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Sequence hands out strictly increasing, gap-free call ids for one run.
// It is owned by a single run and not safe for concurrent use.
type Sequence struct {
	last uint64
}

// Next returns the next id, starting at 1.
func (s *Sequence) Next() uint64 {
	s.last++
	return s.last
}

// Last returns the most recently issued id, or 0.
func (s *Sequence) Last() uint64 { return s.last }

// Rewind makes last the most recently issued id again, so ids issued after
// it are handed out once more. Ids at or below last are never reissued.
func (s *Sequence) Rewind(last uint64) {
	if last < s.last {
		s.last = last
	}
}

// LoopState is the complete mutable state of one agent run. Each Session
// owns exactly one; nothing in it is shared between runs.
type LoopState struct {
	Step         int
	MaxSteps     int
	Conversation []Turn
	Guard        *RepetitionGuard
	Status       Status
	Reason       string
	Summary      string
	Sequence     *Sequence

	calls   map[uint64]ToolCallRecord
	results map[uint64]bool
}

// NewLoopState creates the state for a run of task with the given budget.
// The task is the first turn of the conversation.
func NewLoopState(task string, maxSteps int, guard *RepetitionGuard) *LoopState {
	s := &LoopState{
		MaxSteps: maxSteps,
		Guard:    guard,
		Status:   StatusInit,
		Sequence: &Sequence{},
		calls:    make(map[uint64]ToolCallRecord),
		results:  make(map[uint64]bool),
	}
	s.Append(NewUserTurn(task))
	return s
}

// Append adds a turn to the end of the conversation.
func (s *LoopState) Append(t Turn) {
	s.Conversation = append(s.Conversation, t)
}

// RecordCall registers a call emitted by the parser.
func (s *LoopState) RecordCall(call ToolCallRecord) {
	s.calls[call.Seq] = call
}

// AppendResult adds a tool turn for r. The result must reference a call
// recorded in this run and not yet answered.
func (s *LoopState) AppendResult(r ToolResult) error {
	if _, ok := s.calls[r.Seq]; !ok {
		return fmt.Errorf("tool result #%d references no emitted call", r.Seq)
	}
	if s.results[r.Seq] {
		return fmt.Errorf("tool result #%d already recorded", r.Seq)
	}
	s.results[r.Seq] = true
	s.Append(NewToolTurn(r))
	return nil
}

// Pending returns recorded calls without a result, in sequence order.
func (s *LoopState) Pending() []ToolCallRecord {
	var out []ToolCallRecord
	for seq, call := range s.calls {
		if !s.results[seq] {
			out = append(out, call)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Calls returns every recorded call in sequence order.
func (s *LoopState) Calls() []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(s.calls))
	for _, call := range s.calls {
		out = append(out, call)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Task returns the content of the pinned task turn.
func (s *LoopState) Task() string {
	if len(s.Conversation) == 0 {
		return ""
	}
	return s.Conversation[0].Content
}

func (s *LoopState) finish(status Status, reason string) {
	if s.Status.Terminal() {
		return
	}
	s.Status = status
	s.Reason = reason
}
