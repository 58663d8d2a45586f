package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/axonix/agentloop"
	"github.com/martinemde/axonix/memory"
)

func memorySaveTool(store memory.Store) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "memory_save",
			Description: "Remember a fact across runs under a key. Saving an existing key replaces its value.",
			Params: []agentloop.ParamSpec{
				{Name: "key", Required: true, Description: "Short identifier."},
				{Name: "value", Required: true, Description: "Text to remember."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			key := strings.TrimSpace(args["key"])
			if err := memory.ValidateKey(key); err != nil {
				return "", &agentloop.ExecutionError{Code: "invalid_argument", Err: err}
			}
			if err := store.Set(ctx, key, args["value"]); err != nil {
				return "", fmt.Errorf("save memory %q: %w", key, err)
			}
			return fmt.Sprintf("Saved memory %q", key), nil
		},
	}
}

func memoryGetTool(store memory.Store) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "memory_get",
			Description: "Recall the value stored under a key.",
			Params: []agentloop.ParamSpec{
				{Name: "key", Required: true, Description: "Identifier used when saving."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			key := strings.TrimSpace(args["key"])
			e, err := store.Get(ctx, key)
			if errors.Is(err, memory.ErrNotFound) {
				return "", agentloop.NewExecutionError("memory_not_found", "no memory stored under %q", key)
			}
			if err != nil {
				return "", fmt.Errorf("get memory %q: %w", key, err)
			}
			return e.Value, nil
		},
	}
}

func memoryListTool(store memory.Store) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "memory_list",
			Description: "List every remembered key and value, most recent first.",
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			entries, err := store.List(ctx)
			if err != nil {
				return "", fmt.Errorf("list memories: %w", err)
			}
			if len(entries) == 0 {
				return "(no memories)", nil
			}
			var sb strings.Builder
			for _, e := range entries {
				fmt.Fprintf(&sb, "%s: %s\n", e.Key, e.Value)
			}
			return sb.String(), nil
		},
	}
}
