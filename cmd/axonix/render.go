package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/martinemde/axonix/agentloop"
)

// maxShownOutput bounds how much tool output is echoed to the terminal.
const maxShownOutput = 600

// Styles are the terminal styles for rendered events.
type Styles struct {
	Title   lipgloss.Style
	Step    lipgloss.Style
	Text    lipgloss.Style
	Tool    lipgloss.Style
	OK      lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles builds styles bound to r, so color is only emitted when the
// writer is a terminal.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:   r.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
		Step:    r.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		Text:    r.NewStyle(),
		Tool:    r.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true),
		OK:      r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	}
}

// EventRenderer prints session events as they arrive.
type EventRenderer struct {
	w       io.Writer
	styles  Styles
	stream  bool // echo raw model text as it streams
	midText bool
}

// NewEventRenderer creates a renderer writing to w.
func NewEventRenderer(w io.Writer, stream bool) *EventRenderer {
	return &EventRenderer{w: w, styles: NewStyles(lipgloss.NewRenderer(w)), stream: stream}
}

// Consume renders events until the channel closes.
func (r *EventRenderer) Consume(events <-chan agentloop.SessionEvent) {
	for ev := range events {
		r.Render(ev)
	}
	r.endText()
}

// Render prints one event.
func (r *EventRenderer) Render(ev agentloop.SessionEvent) {
	s := r.styles
	switch ev.Kind {
	case agentloop.EventSessionStart:
		r.line(s.Title.Render("axonix") + " " + s.Muted.Render(fmt.Sprintf("session %s, model %v", shortID(ev.SessionID), ev.Data["model"])))
	case agentloop.EventStepStart:
		r.line(s.Step.Render(fmt.Sprintf("── step %d ──", ev.Step)))
	case agentloop.EventAssistantTextDelta:
		if r.stream {
			fmt.Fprint(r.w, s.Text.Render(str(ev.Data["delta"])))
			r.midText = true
		}
	case agentloop.EventAssistantTurn:
		r.endText()
	case agentloop.EventToolCall:
		r.line(s.Tool.Render(fmt.Sprintf("→ %s #%v", str(ev.Data["tool"]), ev.Data["seq"])) + " " + s.Muted.Render(formatArgs(ev.Data["args"])))
	case agentloop.EventToolResult:
		header := fmt.Sprintf("← %s #%v", str(ev.Data["tool"]), ev.Data["seq"])
		if str(ev.Data["status"]) == string(agentloop.ResultOK) {
			r.line(s.OK.Render(header + " ok"))
		} else {
			detail := str(ev.Data["reason"])
			if code := str(ev.Data["code"]); code != "" {
				detail += " (" + code + ")"
			}
			r.line(s.Error.Render(header + " error " + detail))
		}
		if out := clip(str(ev.Data["output"]), maxShownOutput); out != "" {
			r.line(s.Muted.Render(indent(out, "  ")))
		}
	case agentloop.EventParseProblem:
		r.line(s.Warning.Render(fmt.Sprintf("! %s action block: %s", str(ev.Data["kind"]), str(ev.Data["detail"]))))
	case agentloop.EventNudge:
		r.line(s.Warning.Render("! no action and no completion; nudging the model"))
	case agentloop.EventStagnation:
		r.line(s.Warning.Render(fmt.Sprintf("! repeated action %v (strike %v)", ev.Data["fingerprint"], ev.Data["strike"])))
	case agentloop.EventRetry:
		r.line(s.Warning.Render(fmt.Sprintf("! backend error, retry %v in %vms: %v", ev.Data["attempt"], ev.Data["delay_ms"], ev.Data["error"])))
	case agentloop.EventSteeringInjected:
		r.line(s.Muted.Render("» " + str(ev.Data["content"])))
	case agentloop.EventBudgetExceeded:
		r.line(s.Error.Render(fmt.Sprintf("✗ step budget of %v exhausted", ev.Data["max_steps"])))
	case agentloop.EventError, agentloop.EventWarning:
		r.line(s.Error.Render("✗ " + str(ev.Data["error"])))
	case agentloop.EventCompletion:
		r.line(s.OK.Render("✓ task complete"))
	case agentloop.EventSessionEnd:
		r.line("")
		status := str(ev.Data["status"])
		switch status {
		case string(agentloop.StatusCompleted):
			r.line(s.OK.Render("Completed") + " " + s.Muted.Render(fmt.Sprintf("after %d steps", ev.Step)))
			if summary := str(ev.Data["summary"]); summary != "" {
				r.line(summary)
			}
		case string(agentloop.StatusCancelled):
			r.line(s.Warning.Render("Cancelled") + " " + s.Muted.Render(fmt.Sprintf("after %d steps", ev.Step)))
		default:
			r.line(s.Error.Render("Failed") + " " + s.Muted.Render(str(ev.Data["reason"])))
		}
	}
}

func (r *EventRenderer) endText() {
	if r.midText {
		fmt.Fprintln(r.w)
		r.midText = false
	}
}

func (r *EventRenderer) line(text string) {
	r.endText()
	fmt.Fprintln(r.w, text)
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func formatArgs(v any) string {
	args, ok := v.(map[string]string)
	if !ok || len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+clip(strings.ReplaceAll(args[k], "\n", `\n`), 60))
	}
	return strings.Join(parts, " ")
}

// clip shortens s to n bytes at a rune boundary.
func clip(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n] + "…"
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
