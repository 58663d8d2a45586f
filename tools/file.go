package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/martinemde/axonix/agentloop"
)

const (
	defaultReadLimit = 2000
	maxSearchResults = 50
	binarySniffBytes = 8000
)

// skipDirs are never descended into by search and tree tools.
var skipDirs = map[string]bool{
	".git":         true,
	".axonix":      true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"vendor":       true,
}

// fsError maps a filesystem error to an execution error with a stable code.
func fsError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return agentloop.NewExecutionError("file_not_found", "%s: no such file or directory", path)
	case errors.Is(err, fs.ErrPermission):
		return agentloop.NewExecutionError("permission_denied", "%s: permission denied", path)
	}
	return &agentloop.ExecutionError{Code: "io_error", Err: err}
}

func fileReadTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_read",
			Description: "Read a text file. Returns line-numbered content.",
			Params: []agentloop.ParamSpec{
				{Name: "path", Required: true, Description: "File path, relative to the working directory or absolute."},
				{Name: "offset", Description: "1-based line to start from."},
				{Name: "limit", Description: "Maximum number of lines. Default: 2000."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path := args["path"]
			offset, err := agentloop.GetInt(args, "offset", 1)
			if err != nil {
				return "", err
			}
			limit, err := agentloop.GetInt(args, "limit", defaultReadLimit)
			if err != nil {
				return "", err
			}

			resolved := env.Resolve(path)
			info, err := os.Stat(resolved)
			if err != nil {
				return "", fsError(path, err)
			}
			if info.IsDir() {
				return "", agentloop.NewExecutionError("is_directory", "%s is a directory; use file_list", path)
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return "", fsError(path, err)
			}
			if bytes.IndexByte(data[:min(len(data), binarySniffBytes)], 0) >= 0 {
				return "", agentloop.NewExecutionError("binary_file", "%s looks like a binary file (%d bytes)", path, len(data))
			}
			return numberLines(path, string(data), offset, limit), nil
		},
	}
}

// numberLines renders content as "N | line" with a header.
func numberLines(path, content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)

	start := max(offset, 1) - 1
	end := total
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	if start >= total {
		fmt.Fprintf(&sb, "[FILE: %s] (%d lines; offset %d is past the end)", path, total, offset)
		return sb.String()
	}
	if start == 0 && end == total {
		fmt.Fprintf(&sb, "[FILE: %s] (%d lines)\n", path, total)
	} else {
		fmt.Fprintf(&sb, "[FILE: %s] (lines %d-%d of %d)\n", path, start+1, end, total)
	}
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String()
}

func fileWriteTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_write",
			Description: "Create or overwrite a file with the given content. Parent directories are created.",
			Params: []agentloop.ParamSpec{
				{Name: "path", Required: true, Description: "File path."},
				{Name: "content", Required: true, Description: "Full file content."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path, content := args["path"], args["content"]
			resolved := env.Resolve(path)
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return "", fsError(path, err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return "", fsError(path, err)
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func fileEditTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_edit",
			Description: "Replace exact text in a file. old_string must occur exactly once unless replace_all is true.",
			Params: []agentloop.ParamSpec{
				{Name: "path", Required: true, Description: "File path."},
				{Name: "old_string", Required: true, Description: "Exact text to find."},
				{Name: "new_string", Required: true, Description: "Replacement text."},
				{Name: "replace_all", Description: "Replace every occurrence. Default: false."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path, oldString, newString := args["path"], args["old_string"], args["new_string"]
			replaceAll, err := agentloop.GetBool(args, "replace_all", false)
			if err != nil {
				return "", err
			}
			if oldString == "" {
				return "", agentloop.NewExecutionError("invalid_argument", "old_string must not be empty")
			}

			resolved := env.Resolve(path)
			data, err := os.ReadFile(resolved)
			if err != nil {
				return "", fsError(path, err)
			}
			content := string(data)

			count := strings.Count(content, oldString)
			switch {
			case count == 0:
				return "", agentloop.NewExecutionError("no_match", "old_string not found in %s", path)
			case count > 1 && !replaceAll:
				return "", agentloop.NewExecutionError("ambiguous_match",
					"old_string found %d times in %s; add surrounding context to make it unique or set replace_all", count, path)
			}

			replaced := 1
			if replaceAll {
				content = strings.ReplaceAll(content, oldString, newString)
				replaced = count
			} else {
				content = strings.Replace(content, oldString, newString, 1)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return "", fsError(path, err)
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, path), nil
		},
	}
}

func fileAppendTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_append",
			Description: "Append content to the end of a file, creating it if needed.",
			Params: []agentloop.ParamSpec{
				{Name: "path", Required: true, Description: "File path."},
				{Name: "content", Required: true, Description: "Text to append."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path, content := args["path"], args["content"]
			resolved := env.Resolve(path)
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return "", fsError(path, err)
			}
			f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return "", fsError(path, err)
			}
			defer f.Close()
			if _, err := f.WriteString(content); err != nil {
				return "", fsError(path, err)
			}
			return fmt.Sprintf("Appended %d bytes to %s", len(content), path), nil
		},
	}
}

func fileDeleteTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_delete",
			Description: "Delete a file, or a directory and everything in it.",
			Params: []agentloop.ParamSpec{
				{Name: "path", Required: true, Description: "File or directory path."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path := args["path"]
			resolved := env.Resolve(path)
			if resolved == env.WorkingDirectory() || resolved == filepath.Dir(resolved) {
				return "", agentloop.NewExecutionError("refused", "refusing to delete %s", resolved)
			}
			info, err := os.Lstat(resolved)
			if err != nil {
				return "", fsError(path, err)
			}
			if info.IsDir() {
				if err := os.RemoveAll(resolved); err != nil {
					return "", fsError(path, err)
				}
				return fmt.Sprintf("Deleted directory %s", path), nil
			}
			if err := os.Remove(resolved); err != nil {
				return "", fsError(path, err)
			}
			return fmt.Sprintf("Deleted %s", path), nil
		},
	}
}

func fileCopyTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_copy",
			Description: "Copy a file, creating the destination's parent directories.",
			Params: []agentloop.ParamSpec{
				{Name: "source", Required: true, Description: "File to copy."},
				{Name: "destination", Required: true, Description: "Destination path."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			src, dst := args["source"], args["destination"]
			info, err := os.Stat(env.Resolve(src))
			if err != nil {
				return "", fsError(src, err)
			}
			if info.IsDir() {
				return "", agentloop.NewExecutionError("is_directory", "%s is a directory", src)
			}
			data, err := os.ReadFile(env.Resolve(src))
			if err != nil {
				return "", fsError(src, err)
			}
			target := env.Resolve(dst)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", fsError(dst, err)
			}
			if err := os.WriteFile(target, data, info.Mode().Perm()); err != nil {
				return "", fsError(dst, err)
			}
			return fmt.Sprintf("Copied %s to %s", src, dst), nil
		},
	}
}

func fileMoveTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_move",
			Description: "Move or rename a file or directory.",
			Params: []agentloop.ParamSpec{
				{Name: "source", Required: true, Description: "Path to move."},
				{Name: "destination", Required: true, Description: "New path."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			src, dst := args["source"], args["destination"]
			from, to := env.Resolve(src), env.Resolve(dst)
			if from == env.WorkingDirectory() {
				return "", agentloop.NewExecutionError("refused", "refusing to move the working directory")
			}
			if _, err := os.Lstat(from); err != nil {
				return "", fsError(src, err)
			}
			if _, err := os.Lstat(to); err == nil {
				return "", agentloop.NewExecutionError("already_exists", "%s already exists", dst)
			}
			if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
				return "", fsError(dst, err)
			}
			if err := os.Rename(from, to); err != nil {
				return "", fsError(src, err)
			}
			return fmt.Sprintf("Moved %s to %s", src, dst), nil
		},
	}
}

func fileListTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_list",
			Description: "List the entries of a directory.",
			Params: []agentloop.ParamSpec{
				{Name: "path", Description: "Directory path. Default: working directory."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			path := agentloop.GetString(args, "path", ".")
			resolved := env.Resolve(path)
			info, err := os.Stat(resolved)
			if err != nil {
				return "", fsError(path, err)
			}
			if !info.IsDir() {
				return "", agentloop.NewExecutionError("not_directory", "%s is not a directory; use file_read", path)
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				return "", fsError(path, err)
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "[DIR: %s] %d entries\n", path, len(entries))
			for _, entry := range entries {
				if entry.IsDir() {
					fmt.Fprintf(&sb, "[DIR]  %s/\n", entry.Name())
					continue
				}
				var size int64
				if info, err := entry.Info(); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(&sb, "[FILE] %s (%d bytes)\n", entry.Name(), size)
			}
			return sb.String(), nil
		},
	}
}

func fileSearchTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_search",
			Description: "Find files by glob pattern, searching recursively. Optionally only files containing a string, reported with matching lines.",
			Params: []agentloop.ParamSpec{
				{Name: "pattern", Required: true, Description: `Glob matched against file names (e.g. "*.go"), or against relative paths when it contains "/".`},
				{Name: "path", Description: "Directory to search. Default: working directory."},
				{Name: "contains", Description: "Only report files containing this exact text."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			pattern := args["pattern"]
			if _, err := filepath.Match(pattern, ""); err != nil {
				return "", agentloop.NewExecutionError("invalid_argument", "bad pattern %q: %v", pattern, err)
			}
			root := env.Resolve(agentloop.GetString(args, "path", "."))
			matches, more, err := searchFiles(ctx, root, pattern, args["contains"])
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return fmt.Sprintf("No files matching %q", pattern), nil
			}

			var sb strings.Builder
			for _, m := range matches {
				sb.WriteString(env.Rel(m.path))
				for _, line := range m.lines {
					fmt.Fprintf(&sb, "\n  %s", line)
				}
				sb.WriteString("\n")
			}
			if more {
				fmt.Fprintf(&sb, "[stopped after %d results; narrow the pattern]\n", maxSearchResults)
			}
			return sb.String(), nil
		},
	}
}

type searchMatch struct {
	path  string
	lines []string
}

var errSearchFull = errors.New("search result limit reached")

// searchFiles walks root in lexical order collecting files that match
// pattern and, when contains is set, hold that text.
func searchFiles(ctx context.Context, root, pattern, contains string) ([]searchMatch, bool, error) {
	var matches []searchMatch
	more := false
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if strings.Contains(pattern, "/") {
			rel, _ := filepath.Rel(root, p)
			name = filepath.ToSlash(rel)
		}
		if ok, _ := filepath.Match(pattern, name); !ok {
			return nil
		}

		m := searchMatch{path: p}
		if contains != "" {
			lines, err := matchingLines(p, contains)
			if err != nil || len(lines) == 0 {
				return nil
			}
			m.lines = lines
		}
		if len(matches) == maxSearchResults {
			more = true
			return errSearchFull
		}
		matches = append(matches, m)
		return nil
	})
	if err != nil && !errors.Is(err, errSearchFull) {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, fsError(root, err)
	}
	return matches, more, nil
}

// matchingLines returns "N: text" for each line of path containing needle,
// up to a handful per file.
func matchingLines(path, needle string) ([]string, error) {
	const perFile = 5
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		if strings.Contains(line, needle) {
			out = append(out, fmt.Sprintf("%d: %s", n, strings.TrimSpace(line)))
			if len(out) == perFile {
				break
			}
		}
	}
	return out, nil
}
