package agentloop

import (
	"fmt"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRecord is one structured action extracted from model output.
// Only the parser creates records.
type ToolCallRecord struct {
	Seq  uint64            `json:"seq"`
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
	Raw  string            `json:"raw"`
}

// ResultStatus is the outcome of a dispatched call.
type ResultStatus string

const (
	ResultOK    ResultStatus = "ok"
	ResultError ResultStatus = "error"
)

// DispatchReason classifies a failed dispatch.
type DispatchReason string

const (
	ReasonUnknownTool      DispatchReason = "unknown_tool"
	ReasonInvalidArguments DispatchReason = "invalid_arguments"
	ReasonExecutionError   DispatchReason = "execution_error"
	ReasonTimeout          DispatchReason = "timeout"
	ReasonCancelled        DispatchReason = "cancelled"
)

// ToolResult is the outcome of dispatching exactly one ToolCallRecord.
type ToolResult struct {
	Seq       uint64         `json:"seq"`
	ToolName  string         `json:"tool_name"`
	Status    ResultStatus   `json:"status"`
	Reason    DispatchReason `json:"reason,omitempty"`
	Code      string         `json:"code,omitempty"`
	Output    string         `json:"output"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsError reports whether the dispatch failed.
func (r ToolResult) IsError() bool { return r.Status == ResultError }

func okResult(call ToolCallRecord, output string) ToolResult {
	return ToolResult{
		Seq:       call.Seq,
		ToolName:  call.Name,
		Status:    ResultOK,
		Output:    output,
		Timestamp: time.Now(),
	}
}

func errorResult(call ToolCallRecord, reason DispatchReason, code, output string) ToolResult {
	return ToolResult{
		Seq:       call.Seq,
		ToolName:  call.Name,
		Status:    ResultError,
		Reason:    reason,
		Code:      code,
		Output:    output,
		Timestamp: time.Now(),
	}
}

// Turn is a single entry in the conversation. Turns are never modified
// after they are appended.
type Turn struct {
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Call      *ToolCallRecord `json:"call,omitempty"`
	Result    *ToolResult     `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewUserTurn creates a Turn wrapping user input.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantTurn creates a Turn wrapping a model response and the action
// it carried, if any.
func NewAssistantTurn(content string, call *ToolCallRecord) Turn {
	return Turn{Role: RoleAssistant, Content: content, Call: call, Timestamp: time.Now()}
}

// NewToolTurn creates a Turn wrapping a tool result.
func NewToolTurn(result ToolResult) Turn {
	return Turn{Role: RoleTool, Content: result.Output, Result: &result, Timestamp: time.Now()}
}

// NewSystemTurn creates a Turn wrapping a system notice.
func NewSystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// ObservationHeader is the line that introduces a tool result to the model.
func ObservationHeader(r ToolResult) string {
	status := string(r.Status)
	if r.IsError() {
		status = "error " + string(r.Reason)
		if r.Code != "" {
			status += " (" + r.Code + ")"
		}
	}
	return fmt.Sprintf("[Tool result for %s #%d: %s]", r.ToolName, r.Seq, status)
}

// RenderObservation formats a tool turn as the text the model sees.
func RenderObservation(r ToolResult) string {
	if r.Output == "" {
		return ObservationHeader(r)
	}
	return ObservationHeader(r) + "\n" + r.Output
}
