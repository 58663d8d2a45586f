package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// OutputLimit bounds the tool output that enters the model's context.
// Zero fields fall back to the defaults.
type OutputLimit struct {
	Chars int            `yaml:"chars" json:"chars"`
	Lines int            `yaml:"lines" json:"lines"`
	Mode  TruncationMode `yaml:"mode" json:"mode"`
}

const defaultOutputChars = 20000

// DefaultOutputLimits holds per-tool limits for the built-in tools.
var DefaultOutputLimits = map[string]OutputLimit{
	"file_read":   {Chars: 40000, Mode: TruncateHeadTail},
	"shell_run":   {Chars: 20000, Lines: 256, Mode: TruncateHeadTail},
	"file_search": {Chars: 15000, Lines: 200, Mode: TruncateTail},
	"file_list":   {Chars: 15000, Lines: 500, Mode: TruncateTail},
	"code_tree":   {Chars: 15000, Lines: 400, Mode: TruncateTail},
	"code_lint":   {Chars: 15000, Lines: 200, Mode: TruncateHeadTail},
	"web_get":     {Chars: 20000, Mode: TruncateHeadTail},
	"file_edit":   {Chars: 5000, Mode: TruncateTail},
	"file_write":  {Chars: 1000, Mode: TruncateTail},
}

// LimitFor resolves the limit for a tool: overrides first, then the
// built-in table, then the global default.
func LimitFor(toolName string, overrides map[string]OutputLimit) OutputLimit {
	limit, ok := overrides[toolName]
	if !ok {
		limit = DefaultOutputLimits[toolName]
	}
	def := DefaultOutputLimits[toolName]
	if limit.Chars <= 0 {
		limit.Chars = def.Chars
	}
	if limit.Chars <= 0 {
		limit.Chars = defaultOutputChars
	}
	if limit.Lines <= 0 {
		limit.Lines = def.Lines
	}
	if limit.Mode == "" {
		limit.Mode = def.Mode
	}
	if limit.Mode == "" {
		limit.Mode = TruncateHeadTail
	}
	return limit
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters removed]\n", removed) +
			output[runeStart(output, len(output)-maxChars):]
	}

	half := maxChars / 2
	head := output[:runeStart(output, half)]
	tail := output[runeStart(output, len(output)-half):]
	return head +
		fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; "+
			"re-run the tool with narrower arguments to see them]\n\n", removed) +
		tail
}

// TruncateLines keeps the first and last lines of output.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the character limit, then the line limit.
func TruncateToolOutput(output, toolName string, overrides map[string]OutputLimit) string {
	limit := LimitFor(toolName, overrides)
	result := TruncateOutput(output, limit.Chars, limit.Mode)
	return TruncateLines(result, limit.Lines)
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
