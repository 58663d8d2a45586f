package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martinemde/axonix/agentloop"
	"github.com/martinemde/axonix/config"
	"github.com/martinemde/axonix/history"
	"github.com/martinemde/axonix/unifiedllm"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.Memory = config.MemoryInProc
	cfg.Agent.Retry = unifiedllm.RetryPolicy{MaxRetries: 0}
	return cfg
}

const writeAction = `I will create the file.
<action name="file_write">
<param name="path">hello.txt</param>
<param name="content">hello world</param>
</action>`

const doneAction = `<action name="done">
<param name="result">Created hello.txt</param>
</action>`

func TestRuntimeRunsTaskAndRecordsHistory(t *testing.T) {
	cfg := testConfig(t)
	script := unifiedllm.ScriptedTexts(writeAction, doneAction).WithFragmentSize(7)
	rt, err := newAgentRuntime(cfg, script, zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	var out bytes.Buffer
	require.NoError(t, rt.run(context.Background(), "create hello.txt", &out))

	data, err := os.ReadFile(filepath.Join(cfg.Workspace, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	text := out.String()
	assert.Contains(t, text, "→ file_write #1")
	assert.Contains(t, text, "← file_write #1 ok")
	assert.Contains(t, text, "Completed")
	assert.Contains(t, text, "Created hello.txt")

	log, err := history.Open(filepath.Join(cfg.Workspace, ".axonix", "history"))
	require.NoError(t, err)
	sessions, err := log.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	records, skipped, err := log.Load(sessions[0].ID)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, "create hello.txt", history.Task(records))
	assert.Equal(t, []string{writeAction, doneAction}, history.AssistantResponses(records))
	res, ok := history.Outcome(records)
	require.True(t, ok)
	assert.Equal(t, agentloop.StatusCompleted, res.Status)
}

func TestRuntimeFailureReturnsExitCode(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = false
	cfg.Agent.MaxSteps = 2
	script := unifiedllm.ScriptedTexts("Still thinking about it.").RepeatLast()
	rt, err := newAgentRuntime(cfg, script, zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	var out bytes.Buffer
	err = rt.run(context.Background(), "do something", &out)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out.String(), "Failed")
	assert.NoDirExists(t, filepath.Join(cfg.Workspace, ".axonix", "history"))
}

func TestRuntimeHonorsDisabledTools(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisabledTools = []string{"shell_run", "web_get"}
	rt, err := newAgentRuntime(cfg, unifiedllm.ScriptedTexts(), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	names := rt.runner.Registry().Names()
	assert.NotContains(t, names, "shell_run")
	assert.NotContains(t, names, "web_get")
	assert.Contains(t, names, "file_read")
	assert.Contains(t, names, "memory_save")
}

func TestOpenMemoryKinds(t *testing.T) {
	dir := t.TempDir()

	store, err := openMemory(config.MemoryOff, dir)
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = openMemory(config.MemorySQLite, dir)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "k", "v"))
	require.NoError(t, store.Close())
	assert.FileExists(t, filepath.Join(dir, "memory.db"))
}

func TestReadTask(t *testing.T) {
	task, err := readTask([]string{"fix", "the", "tests"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fix the tests", task)

	task, err = readTask([]string{"-"}, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", task)

	_, err = readTask([]string{"  "}, nil)
	assert.Error(t, err)
}

func TestDefaultModelFor(t *testing.T) {
	assert.Equal(t, "gemma3:4b", defaultModelFor(unifiedllm.BackendOllama))
	assert.Equal(t, "claude-sonnet-4-5", defaultModelFor(unifiedllm.BackendAnthropic))
	assert.Empty(t, defaultModelFor("nope"))
}
