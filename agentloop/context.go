package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/martinemde/axonix/memory"
	"github.com/martinemde/axonix/unifiedllm"
)

// charsPerToken converts a model's context window into a character budget.
const charsPerToken = 4

// ContextAssembler builds the message list for one generation. Given the
// same inputs it always produces the same output.
type ContextAssembler struct {
	// SystemPrompt is the fixed system prompt for the run.
	SystemPrompt string
	// MaxChars bounds the total characters (runes) of all messages. Zero
	// means no bound.
	MaxChars int
	// MemoryEntries is how many of the most recent memories are included.
	MemoryEntries int
}

// Assemble renders the conversation into messages. The first turn (the task)
// is always kept, as is the newest turn; other turns are dropped oldest
// first until the rest fits. Turns are never split.
func (a *ContextAssembler) Assemble(conversation []Turn, memories []memory.Entry) []unifiedllm.Message {
	system := a.SystemPrompt
	if block := MemoryBlock(SelectMemories(memories, a.MemoryEntries, referenceText(conversation))); block != "" {
		system += "\n\n" + block
	}

	rendered := make([]unifiedllm.Message, len(conversation))
	for i, t := range conversation {
		rendered[i] = RenderTurn(t)
	}

	msgs := []unifiedllm.Message{unifiedllm.SystemMessage(system)}
	if len(rendered) == 0 {
		return msgs
	}

	keep := a.fit(utf8.RuneCountInString(system), rendered)
	omitted := len(rendered) - len(keep)
	for i, idx := range keep {
		msgs = append(msgs, rendered[idx])
		if i == 0 && omitted > 0 {
			msgs = append(msgs, unifiedllm.UserMessage(omittedNotice(omitted)))
		}
	}
	return msgs
}

// fit returns the indexes of the turns to keep, in order. Sizes are in runes.
func (a *ContextAssembler) fit(systemChars int, rendered []unifiedllm.Message) []int {
	if a.MaxChars <= 0 || len(rendered) == 1 {
		all := make([]int, len(rendered))
		for i := range all {
			all[i] = i
		}
		return all
	}

	last := len(rendered) - 1
	budget := a.MaxChars - systemChars - utf8.RuneCountInString(rendered[0].Content) - utf8.RuneCountInString(rendered[last].Content)

	var tail []int
	for i := last - 1; i >= 1; i-- {
		size := utf8.RuneCountInString(rendered[i].Content)
		if size > budget {
			break
		}
		budget -= size
		tail = append(tail, i)
	}

	if len(tail) < last-1 {
		// Leave room for the omission notice.
		notice := utf8.RuneCountInString(omittedNotice(last - 1 - len(tail)))
		for budget < notice && len(tail) > 0 {
			budget += utf8.RuneCountInString(rendered[tail[len(tail)-1]].Content)
			tail = tail[:len(tail)-1]
		}
	}

	keep := []int{0}
	for i := len(tail) - 1; i >= 0; i-- {
		keep = append(keep, tail[i])
	}
	return append(keep, last)
}

func omittedNotice(n int) string {
	return fmt.Sprintf("[%d earlier turns omitted to fit the context window]", n)
}

// RenderTurn converts a turn to the message the model sees. Tool results and
// mid-run system notices are presented as user messages.
func RenderTurn(t Turn) unifiedllm.Message {
	switch t.Role {
	case RoleAssistant:
		return unifiedllm.AssistantMessage(t.Content)
	case RoleTool:
		if t.Result != nil {
			return unifiedllm.UserMessage(RenderObservation(*t.Result))
		}
		return unifiedllm.UserMessage(t.Content)
	case RoleSystem:
		return unifiedllm.UserMessage("[System notice] " + t.Content)
	default:
		return unifiedllm.UserMessage(t.Content)
	}
}

// referenceText is the task plus the latest user turn, used to pick
// memories the user mentioned.
func referenceText(conversation []Turn) string {
	if len(conversation) == 0 {
		return ""
	}
	text := conversation[0].Content
	for i := len(conversation) - 1; i > 0; i-- {
		if conversation[i].Role == RoleUser {
			text += "\n" + conversation[i].Content
			break
		}
	}
	return text
}

// SelectMemories returns the n most recent entries plus any entry whose key
// appears in text. Entries keep the recency order of the input.
func SelectMemories(entries []memory.Entry, n int, text string) []memory.Entry {
	if len(entries) == 0 {
		return nil
	}
	sorted := append([]memory.Entry(nil), entries...)
	memory.SortEntries(sorted)

	lower := strings.ToLower(text)
	var out []memory.Entry
	for i, e := range sorted {
		if i < n || (e.Key != "" && strings.Contains(lower, strings.ToLower(e.Key))) {
			out = append(out, e)
		}
	}
	return out
}

// MemoryBlock renders memories for the system prompt.
func MemoryBlock(entries []memory.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<memory>\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Key, e.Value)
	}
	sb.WriteString("</memory>")
	return sb.String()
}
