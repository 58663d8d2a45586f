package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/martinemde/axonix/agentloop"
)

const (
	defaultTreeDepth = 4
	maxTreeEntries   = 500
	codeToolTimeout  = 2 * time.Minute
)

func codeTreeTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "code_tree",
			Description: "Show the directory tree of a project, skipping VCS and dependency directories.",
			Params: []agentloop.ParamSpec{
				{Name: "path", Description: "Root directory. Default: working directory."},
				{Name: "max_depth", Description: "Maximum depth. Default: 4."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path := agentloop.GetString(args, "path", ".")
			depth, err := agentloop.GetInt(args, "max_depth", defaultTreeDepth)
			if err != nil {
				return "", err
			}
			root := env.Resolve(path)
			info, err := os.Stat(root)
			if err != nil {
				return "", fsError(path, err)
			}
			if !info.IsDir() {
				return "", agentloop.NewExecutionError("not_directory", "%s is not a directory", path)
			}

			t := &treeWriter{limit: maxTreeEntries}
			t.sb.WriteString(path + "/\n")
			if err := t.walk(ctx, root, "", depth); err != nil {
				return "", err
			}
			if t.truncated {
				fmt.Fprintf(&t.sb, "[stopped after %d entries; use a smaller max_depth or a subdirectory]\n", maxTreeEntries)
			}
			return t.sb.String(), nil
		},
	}
}

type treeWriter struct {
	sb        strings.Builder
	count     int
	limit     int
	truncated bool
}

func (t *treeWriter) walk(ctx context.Context, dir, prefix string, depth int) error {
	if depth <= 0 || t.truncated {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var visible []os.DirEntry
	for _, e := range entries {
		if e.IsDir() && skipDirs[e.Name()] {
			continue
		}
		visible = append(visible, e)
	}
	// Directories first, then files, each by name.
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].IsDir() && !visible[j].IsDir()
	})

	for i, e := range visible {
		if t.count == t.limit {
			t.truncated = true
			return nil
		}
		t.count++
		branch, next := "├── ", "│   "
		if i == len(visible)-1 {
			branch, next = "└── ", "    "
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		t.sb.WriteString(prefix + branch + name + "\n")
		if e.IsDir() {
			if err := t.walk(ctx, filepath.Join(dir, e.Name()), prefix+next, depth-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// codeCommand is an external program that lints or formats one language.
type codeCommand struct {
	program string
	args    func(path string) []string
	hint    string
}

var linters = map[string]codeCommand{
	".go": {program: "go", args: func(p string) []string { return []string{"vet", "./" + filepath.ToSlash(filepath.Dir(p))} }, hint: "install Go"},
	".py": {program: "flake8", args: func(p string) []string { return []string{"--max-line-length=120", p} }, hint: "pip install flake8"},
	".js": {program: "eslint", args: func(p string) []string { return []string{p} }, hint: "npm install -g eslint"},
	".ts": {program: "eslint", args: func(p string) []string { return []string{p} }, hint: "npm install -g eslint"},
	".sh": {program: "shellcheck", args: func(p string) []string { return []string{p} }, hint: "install shellcheck"},
}

var formatters = map[string]codeCommand{
	".go":   {program: "gofmt", args: func(p string) []string { return []string{"-w", p} }, hint: "install Go"},
	".py":   {program: "black", args: func(p string) []string { return []string{"-q", p} }, hint: "pip install black"},
	".rs":   {program: "rustfmt", args: func(p string) []string { return []string{p} }, hint: "rustup component add rustfmt"},
	".js":   {program: "prettier", args: func(p string) []string { return []string{"--write", p} }, hint: "npm install -g prettier"},
	".ts":   {program: "prettier", args: func(p string) []string { return []string{"--write", p} }, hint: "npm install -g prettier"},
	".json": {program: "prettier", args: func(p string) []string { return []string{"--write", p} }, hint: "npm install -g prettier"},
}

func codeLintTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "code_lint",
			Description: "Lint a source file with the standard linter for its language (go vet, flake8, eslint, shellcheck).",
			Params: []agentloop.ParamSpec{
				{Name: "path", Required: true, Description: "Source file path."},
			},
		},
		Timeout: codeToolTimeout + 5*time.Second,
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path := args["path"]
			res, err := runCodeCommand(ctx, env, linters, path)
			if err != nil {
				return "", err
			}
			out := strings.TrimSpace(res.Output())
			if res.ExitCode == 0 && out == "" {
				return fmt.Sprintf("[LINT: %s] No issues found.", path), nil
			}
			return fmt.Sprintf("[LINT: %s] exit %d\n%s", path, res.ExitCode, out), nil
		},
	}
}

func codeFormatTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "code_format",
			Description: "Format a source file in place with the standard formatter for its language (gofmt, black, rustfmt, prettier).",
			Params: []agentloop.ParamSpec{
				{Name: "path", Required: true, Description: "Source file path."},
			},
		},
		Timeout: codeToolTimeout + 5*time.Second,
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path := args["path"]
			res, err := runCodeCommand(ctx, env, formatters, path)
			if err != nil {
				return "", err
			}
			out := strings.TrimSpace(res.Output())
			if res.ExitCode != 0 {
				return out, agentloop.NewExecutionError("format_failed", "formatter exited with status %d", res.ExitCode)
			}
			if out == "" {
				return fmt.Sprintf("[FORMAT: %s] formatted", path), nil
			}
			return fmt.Sprintf("[FORMAT: %s] formatted\n%s", path, out), nil
		},
	}
}

func runCodeCommand(ctx context.Context, env *LocalEnvironment, table map[string]codeCommand, path string) (*ExecResult, error) {
	resolved := env.Resolve(path)
	if _, err := os.Stat(resolved); err != nil {
		return nil, fsError(path, err)
	}
	ext := strings.ToLower(filepath.Ext(resolved))
	cmd, ok := table[ext]
	if !ok {
		return nil, agentloop.NewExecutionError("unsupported_language", "no tool configured for %q files", ext)
	}
	if !env.LookPath(cmd.program) {
		return nil, agentloop.NewExecutionError("tool_unavailable", "%s is not installed (%s)", cmd.program, cmd.hint)
	}
	res, err := env.ExecProgram(ctx, codeToolTimeout, cmd.program, cmd.args(env.Rel(resolved))...)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, agentloop.NewExecutionError("command_timeout", "%s did not finish within %s", cmd.program, codeToolTimeout)
	}
	return res, nil
}
