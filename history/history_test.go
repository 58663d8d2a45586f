package history

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/axonix/agentloop"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), DefaultDir))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndLoadSession(t *testing.T) {
	l := openTestLog(t)
	call := &agentloop.ToolCallRecord{Seq: 1, Name: "file_read", Args: map[string]string{"path": "a.go"}}
	result := agentloop.ToolResult{Seq: 1, ToolName: "file_read", Status: agentloop.ResultOK, Output: "1 | package a"}

	require.NoError(t, l.RecordTurn("s1", 0, agentloop.NewUserTurn("read a.go")))
	require.NoError(t, l.RecordTurn("s1", 1, agentloop.NewAssistantTurn(`<action name="file_read"><param name="path">a.go</param></action>`, call)))
	require.NoError(t, l.RecordTurn("s1", 1, agentloop.NewToolTurn(result)))
	require.NoError(t, l.RecordTurn("s1", 2, agentloop.NewAssistantTurn("<ENDOFOP>read it", nil)))
	require.NoError(t, l.RecordResult("s1", agentloop.Result{
		SessionID: "s1", Status: agentloop.StatusCompleted, Steps: 2, Summary: "read it", ToolCalls: 1,
	}))

	records, skipped, err := l.Load("s1")
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 5)

	assert.Equal(t, "read a.go", Task(records))
	assert.Equal(t, []string{
		`<action name="file_read"><param name="path">a.go</param></action>`,
		"<ENDOFOP>read it",
	}, AssistantResponses(records))

	assert.Equal(t, "a.go", records[1].Turn.Call.Args["path"])
	assert.Equal(t, uint64(1), records[2].Turn.Result.Seq)

	out, ok := Outcome(records)
	require.True(t, ok)
	assert.Equal(t, agentloop.StatusCompleted, out.Status)
	assert.Equal(t, "read it", out.Summary)
}

func TestRecordResultKeepsError(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.RecordTurn("s2", 0, agentloop.NewUserTurn("task")))
	require.NoError(t, l.RecordResult("s2", agentloop.Result{
		Status: agentloop.StatusFailed, Reason: agentloop.ReasonStepBudgetExceeded, Err: &agentloop.BudgetExceededError{MaxSteps: 3},
	}))

	records, _, err := l.Load("s2")
	require.NoError(t, err)
	last := records[len(records)-1]
	assert.Equal(t, KindResult, last.Kind)
	assert.Contains(t, last.Error, "3")
}

func TestSessionsNewestFirst(t *testing.T) {
	l := openTestLog(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	for i, id := range []string{"older", "newer"} {
		l.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		require.NoError(t, l.RecordTurn(id, 0, agentloop.NewUserTurn("task "+id)))
		require.NoError(t, l.RecordResult(id, agentloop.Result{Status: agentloop.StatusCompleted}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(l.Dir(), "notes.txt"), []byte("x"), 0o644))

	sessions, err := l.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "newer", sessions[0].ID)
	assert.Equal(t, "older", sessions[1].ID)
	assert.True(t, base.Add(time.Hour).Equal(sessions[0].Started))
}

func TestLoadByPrefix(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.RecordTurn("abc123", 0, agentloop.NewUserTurn("one")))
	require.NoError(t, l.RecordTurn("abd456", 0, agentloop.NewUserTurn("two")))

	records, _, err := l.Load("abc")
	require.NoError(t, err)
	assert.Equal(t, "one", Task(records))

	_, _, err = l.Load("ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, _, err = l.Load("zzz")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestLoadSkipsCorruptLines(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.RecordTurn("s3", 0, agentloop.NewUserTurn("task")))
	require.NoError(t, l.Close())

	sessions, err := l.Sessions()
	require.NoError(t, err)
	f, err := os.OpenFile(sessions[0].Path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.RecordTurn("s3", 1, agentloop.NewAssistantTurn("hi", nil)))

	records, skipped, err := l.Load("s3")
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, records, 2, "appending after reopen reuses the session file")
}

func TestConcurrentSessions(t *testing.T) {
	l := openTestLog(t)
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for step := 0; step < 20; step++ {
				assert.NoError(t, l.RecordTurn(id, step, agentloop.NewUserTurn(id)))
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c"} {
		records, skipped, err := l.Load(id)
		require.NoError(t, err)
		assert.Zero(t, skipped)
		assert.Len(t, records, 20)
	}
}

func TestRecordRejectsEmptySession(t *testing.T) {
	l := openTestLog(t)
	assert.Error(t, l.RecordTurn("", 0, agentloop.NewUserTurn("x")))
}
