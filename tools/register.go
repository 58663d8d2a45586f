// Package tools provides the concrete tools an agent can call: files,
// shell, web, code utilities, memory and the done signal. Every tool takes
// flat string arguments and reports failures as agentloop.ExecutionError
// values carrying a stable code.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/martinemde/axonix/agentloop"
	"github.com/martinemde/axonix/memory"
)

// Option configures RegisterAll.
type Option func(*options)

type options struct {
	store      memory.Store
	httpClient *http.Client
	disabled   map[string]bool
}

// WithMemoryStore registers the memory tools backed by store.
func WithMemoryStore(store memory.Store) Option {
	return func(o *options) { o.store = store }
}

// WithHTTPClient sets the client used by web_get.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDisabled leaves the named tools out.
func WithDisabled(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			o.disabled[n] = true
		}
	}
}

// All returns every tool for env. Memory tools are included only when a
// store is configured.
func All(env *LocalEnvironment, opts ...Option) []agentloop.RegisteredTool {
	o := &options{httpClient: http.DefaultClient, disabled: map[string]bool{}}
	for _, opt := range opts {
		opt(o)
	}

	all := []agentloop.RegisteredTool{
		fileReadTool(env),
		fileWriteTool(env),
		fileEditTool(env),
		fileAppendTool(env),
		fileDeleteTool(env),
		fileCopyTool(env),
		fileMoveTool(env),
		fileListTool(env),
		fileSearchTool(env),
		shellRunTool(env),
		webGetTool(o.httpClient),
		codeTreeTool(env),
		codeLintTool(env),
		codeFormatTool(env),
		doneTool(),
	}
	if o.store != nil {
		all = append(all, memorySaveTool(o.store), memoryGetTool(o.store), memoryListTool(o.store))
	}

	var out []agentloop.RegisteredTool
	for _, t := range all {
		if !o.disabled[t.Definition.Name] {
			out = append(out, t)
		}
	}
	return out
}

// RegisterAll registers every tool from All on reg.
func RegisterAll(reg *agentloop.ToolRegistry, env *LocalEnvironment, opts ...Option) error {
	for _, t := range All(env, opts...) {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Definition.Name, err)
		}
	}
	return nil
}

func doneTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        agentloop.DoneToolName,
			Description: "Finish the task. The result becomes the run's final summary.",
			Params: []agentloop.ParamSpec{
				{Name: "result", Required: true, Description: "What was done, for the user."},
			},
		},
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			return strings.TrimSpace(args["result"]), nil
		},
	}
}
