// Package agentloop drives a language model through a think-act-observe
// cycle until the task is done or the run has to stop.
//
// Models emit actions as text, not native tool calls. The Parser scans the
// streamed response incrementally for blocks of the form
//
//	<action name="file_read">
//	<param name="path">main.go</param>
//	</action>
//
// and an <ENDOFOP> completion marker. Each complete block becomes a
// ToolCallRecord with a unique sequence number; malformed blocks are reported
// and skipped so the rest of the stream still parses.
//
// # Architecture
//
//   - Runner: holds the model client and tool registry, and starts Sessions.
//   - Session: one run of one task. It owns the LoopState and emits events
//     as the run progresses.
//   - Dispatcher: runs a single call and always answers it with exactly one
//     ToolResult.
//   - RepetitionGuard: fingerprints calls and warns, then fails, when the
//     model keeps issuing near-identical actions.
//   - ContextAssembler: renders the system prompt and pinned task, then the
//     newest turns that fit the model's context window.
//
// The package depends only on a StreamClient; unifiedllm.Client satisfies it
// for every supported backend and unifiedllm.ScriptedAdapter replays canned
// responses in tests.
//
// # Quick Start
//
//	client, _ := unifiedllm.NewClientFromBackend(ctx, unifiedllm.BackendConfig{
//	    Provider: "ollama",
//	    Model:    "qwen2.5-coder:7b",
//	})
//	registry := agentloop.NewToolRegistry()
//	_ = tools.RegisterAll(registry, env)
//
//	runner := agentloop.NewRunner(client, registry, agentloop.WithModel("qwen2.5-coder:7b", ""))
//	session := runner.NewSession("Add a --json flag to the list command")
//	go func() {
//	    for ev := range session.Events() {
//	        fmt.Printf("[%s] %v\n", ev.Kind, ev.Data)
//	    }
//	}()
//	result := session.Run(ctx)
//	session.Close()
package agentloop
