package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/axonix/agentloop"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 10 * time.Minute
)

func shellRunTool(env *LocalEnvironment) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "shell_run",
			Description: "Run a shell command in the working directory. Returns exit status, stdout and stderr.",
			Params: []agentloop.ParamSpec{
				{Name: "command", Required: true, Description: "Command line to run."},
				{Name: "timeout", Description: "Timeout in seconds. Default: 30, maximum: 600."},
			},
		},
		// Must exceed maxShellTimeout so the command's own timeout fires first.
		Timeout: maxShellTimeout + 10*time.Second,
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			command := strings.TrimSpace(args["command"])
			if command == "" {
				return "", agentloop.NewExecutionError("invalid_argument", "command must not be empty")
			}
			secs, err := agentloop.GetInt(args, "timeout", int(defaultShellTimeout/time.Second))
			if err != nil {
				return "", err
			}
			timeout := min(max(time.Duration(secs)*time.Second, time.Second), maxShellTimeout)

			res, err := env.Exec(ctx, command, timeout)
			if err != nil {
				return "", err
			}
			out := formatShellResult(command, res)
			switch {
			case res.TimedOut:
				return out, agentloop.NewExecutionError("command_timeout", "command timed out after %s; partial output shown", timeout)
			case res.ExitCode != 0:
				return out, agentloop.NewExecutionError("nonzero_exit", "command exited with status %d", res.ExitCode)
			}
			return out, nil
		},
	}
}

func formatShellResult(command string, res *ExecResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "$ %s\n[exit: %d]", command, res.ExitCode)
	stdout := strings.TrimRight(res.Stdout, "\n")
	stderr := strings.TrimRight(res.Stderr, "\n")
	if stdout != "" {
		sb.WriteString("\n[stdout]\n" + stdout)
	}
	if stderr != "" {
		sb.WriteString("\n[stderr]\n" + stderr)
	}
	if stdout == "" && stderr == "" {
		sb.WriteString("\n[no output]")
	}
	return sb.String()
}
