package agentloop

import (
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/axonix/unifiedllm"
)

// DispatchMode selects when a parsed call is dispatched.
type DispatchMode string

const (
	// DispatchAfterStream reads the whole response before dispatching.
	DispatchAfterStream DispatchMode = "after_stream"
	// DispatchImmediate stops reading at the first complete call, closes
	// the stream and dispatches it.
	DispatchImmediate DispatchMode = "immediate"
)

// Config holds agent loop settings.
type Config struct {
	MaxSteps          int                    `yaml:"max_steps" json:"max_steps"`
	DispatchMode      DispatchMode           `yaml:"dispatch_mode" json:"dispatch_mode"`
	MultipleActions   bool                   `yaml:"multiple_actions" json:"multiple_actions"`
	ToolTimeoutMs     int                    `yaml:"tool_timeout_ms" json:"tool_timeout_ms"`
	FragmentTimeoutMs int                    `yaml:"fragment_timeout_ms" json:"fragment_timeout_ms"`
	Repetition        RepetitionConfig       `yaml:"repetition" json:"repetition"`
	ContextMaxChars   int                    `yaml:"context_max_chars" json:"context_max_chars"` // 0 = derive from the model's context window
	MemoryEntries     int                    `yaml:"memory_entries" json:"memory_entries"`
	DiagnosticTurns   int                    `yaml:"diagnostic_turns" json:"diagnostic_turns"`
	ToolOutputLimits  map[string]OutputLimit `yaml:"tool_output_limits,omitempty" json:"tool_output_limits,omitempty"`
	Retry             unifiedllm.RetryPolicy `yaml:"retry" json:"retry"`
	UserInstructions  string                 `yaml:"user_instructions,omitempty" json:"user_instructions,omitempty"` // appended last to system prompt
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          30,
		DispatchMode:      DispatchAfterStream,
		ToolTimeoutMs:     60000,  // 1 minute
		FragmentTimeoutMs: 120000, // 2 minutes; local models can be slow to start
		Repetition:        DefaultRepetitionConfig(),
		MemoryEntries:     5,
		DiagnosticTurns:   6,
		Retry:             unifiedllm.DefaultRetryPolicy(),
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps))
	}
	switch c.DispatchMode {
	case "", DispatchAfterStream, DispatchImmediate:
	default:
		errs = append(errs, fmt.Errorf("dispatch_mode must be %q or %q, got %q", DispatchAfterStream, DispatchImmediate, c.DispatchMode))
	}
	if c.ToolTimeoutMs < 0 || c.FragmentTimeoutMs < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.ContextMaxChars < 0 {
		errs = append(errs, fmt.Errorf("context_max_chars must not be negative, got %d", c.ContextMaxChars))
	}
	if c.Repetition.Window < 0 || c.Repetition.Threshold < 0 {
		errs = append(errs, errors.New("repetition window and threshold must not be negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries))
	}
	return errors.Join(errs...)
}

func (c Config) toolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMs) * time.Millisecond
}

func (c Config) fragmentTimeout() time.Duration {
	return time.Duration(c.FragmentTimeoutMs) * time.Millisecond
}

// contextBudget resolves the character budget for a model.
func (c Config) contextBudget(model string) int {
	if c.ContextMaxChars > 0 {
		return c.ContextMaxChars
	}
	return unifiedllm.ContextWindow(model) * charsPerToken
}
