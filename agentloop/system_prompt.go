package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// ProjectDocFiles are the instruction files loaded into the system prompt.
var ProjectDocFiles = []string{"AGENTS.md", "AXONIX.md"}

// Environment describes where tools run, for the system prompt.
type Environment interface {
	WorkingDirectory() string
	Platform() string
	OSVersion() string
}

const protocolInstructions = `You are Axonix, a local autonomous coding agent. You complete development
tasks by calling tools, reading their results, and continuing until the task
is done.

To call a tool, write exactly one action block and then stop:

<action name="TOOL_NAME">
<param name="ARG">VALUE</param>
</action>

Parameter values are taken verbatim, so write file contents exactly as they
should appear. Only the first action in a response is executed. You will
receive its result in the next message as:

[Tool result for TOOL_NAME #N: ok]
...output...

When the task is fully complete, write <ENDOFOP> followed by a short summary
of what you did. Do not describe a tool call in prose; use the action block.
Think briefly before each action.`

// BuildToolCatalog renders tool definitions as the catalog shown to the model.
func BuildToolCatalog(defs []ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString("<tools>\n")
	for _, d := range defs {
		names := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			if p.Required {
				names = append(names, p.Name)
			} else {
				names = append(names, p.Name+"?")
			}
		}
		fmt.Fprintf(&sb, "%s(%s)", d.Name, strings.Join(names, ", "))
		if d.Description != "" {
			fmt.Fprintf(&sb, ": %s", d.Description)
		}
		sb.WriteString("\n")
		for _, p := range d.Params {
			if p.Description != "" {
				fmt.Fprintf(&sb, "  - %s: %s\n", p.Name, p.Description)
			}
		}
	}
	sb.WriteString("</tools>")
	return sb.String()
}

// SystemPromptParts are the sections of the system prompt, in order.
type SystemPromptParts struct {
	Tools            []ToolDefinition
	Environment      string
	ProjectDocs      string
	UserInstructions string
}

// BuildSystemPrompt joins the protocol instructions with the non-empty parts.
func BuildSystemPrompt(parts SystemPromptParts) string {
	sections := []string{protocolInstructions, BuildToolCatalog(parts.Tools)}
	if parts.Environment != "" {
		sections = append(sections, parts.Environment)
	}
	if parts.ProjectDocs != "" {
		sections = append(sections, "<project_instructions>\n"+parts.ProjectDocs+"\n</project_instructions>")
	}
	if parts.UserInstructions != "" {
		sections = append(sections, "<user_instructions>\n"+parts.UserInstructions+"\n</user_instructions>")
	}
	return strings.Join(sections, "\n\n")
}

// BuildEnvironmentContext generates the structured environment context block.
// The date is passed in so the prompt stays stable within a run.
func BuildEnvironmentContext(env Environment, model string, today time.Time) string {
	workingDir := env.WorkingDirectory()
	root := gitRoot(workingDir)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", root != "")
	if root != "" {
		if branch := runGitCommand(root, "rev-parse", "--abbrev-ref", "HEAD"); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", strings.TrimSpace(branch))
		}
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", today.Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads recognized instruction files from the git root
// (or working directory) down to the working directory, up to 32KB.
func DiscoverProjectDocs(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	var docs []string
	totalBytes := 0

	for _, dir := range collectPathHierarchy(root, workingDir) {
		for _, fileName := range ProjectDocFiles {
			path := filepath.Join(dir, fileName)
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}

			remaining := maxProjectDocBytes - totalBytes
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}

			text := string(content)
			if len(text) > remaining {
				text = text[:runeStart(text, remaining)] + "\n[Project instructions truncated at 32KB]"
			}

			header := fmt.Sprintf("# %s (from %s)", fileName, dir)
			docs = append(docs, header+"\n\n"+text)
			totalBytes += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)

	dirs := []string{root}
	if root == target {
		return dirs
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}

	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitRoot(dir string) string {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--show-toplevel"))
}

func runGitCommand(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
