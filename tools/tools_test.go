package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/axonix/agentloop"
	"github.com/martinemde/axonix/memory"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
}

func TestShellRun(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	writeFile(t, env, "hello.txt", "hi there\n")

	out, err := run(t, shellRunTool(env), map[string]string{"command": "cat hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, "$ cat hello.txt\n[exit: 0]\n[stdout]\nhi there", out)

	out, err = run(t, shellRunTool(env), map[string]string{"command": "true"})
	require.NoError(t, err)
	assert.Equal(t, "$ true\n[exit: 0]\n[no output]", out)
}

func TestShellRunNonzeroExit(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)

	out, err := run(t, shellRunTool(env), map[string]string{"command": "echo broken >&2; exit 3"})
	require.Error(t, err)
	assert.Equal(t, "nonzero_exit", agentloop.ErrorCode(err))
	assert.Contains(t, out, "[exit: 3]")
	assert.Contains(t, out, "[stderr]\nbroken")
}

func TestShellRunTimeoutKillsCommand(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)

	start := time.Now()
	out, err := run(t, shellRunTool(env), map[string]string{"command": "echo started; sleep 30", "timeout": "1"})
	require.Error(t, err)
	assert.Equal(t, "command_timeout", agentloop.ErrorCode(err))
	assert.Contains(t, out, "started")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestShellRunHidesCredentials(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("AXONIX_TEST_API_KEY", "sk-secret")
	t.Setenv("AXONIX_TEST_PLAIN", "visible")
	env := newTestEnv(t)

	out, err := run(t, shellRunTool(env), map[string]string{"command": "env"})
	require.NoError(t, err)
	assert.Contains(t, out, "AXONIX_TEST_PLAIN=visible")
	assert.NotContains(t, out, "sk-secret")
}

func TestFilterEnvironment(t *testing.T) {
	got := filterEnvironment([]string{
		"PATH=/bin",
		"OPENAI_API_KEY=x",
		"GITHUB_TOKEN=y",
		"db_password=z",
		"EDITOR=vi",
		"malformed",
	})
	assert.Equal(t, []string{"PATH=/bin", "EDITOR=vi"}, got)
}

func TestWebGetExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "axonix")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!doctype html><html><head><title>Release notes</title><style>p{color:red}</style></head>
<body><nav>Home | Docs</nav><h1>v1.2</h1><p>Fixed   the parser.</p><script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`)
	}))
	defer srv.Close()

	out, err := run(t, webGetTool(srv.Client()), map[string]string{"url": srv.URL})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[URL: "+srv.URL+"] Release notes\n\n"), out)
	assert.Contains(t, out, "v1.2")
	assert.Contains(t, out, "Fixed the parser.")
	assert.Contains(t, out, "one")
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "color:red")
	assert.NotContains(t, out, "Docs")
}

func TestWebGetTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("x", 500))
	}))
	defer srv.Close()

	out, err := run(t, webGetTool(srv.Client()), map[string]string{"url": srv.URL, "max_chars": "100"})
	require.NoError(t, err)
	assert.Contains(t, out, strings.Repeat("x", 100)+"\n[content truncated: showing 100 of 500 characters]")
}

func TestWebGetErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G'})
		}
	}))
	defer srv.Close()

	tests := []struct {
		url  string
		code string
	}{
		{srv.URL + "/missing", "http_status"},
		{srv.URL + "/image", "unsupported_content"},
		{"ftp://example.com/file", "invalid_url"},
		{"not a url", "invalid_url"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := run(t, webGetTool(srv.Client()), map[string]string{"url": tt.url})
			require.Error(t, err)
			assert.Equal(t, tt.code, agentloop.ErrorCode(err))
		})
	}
}

func TestCodeTree(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, env, "go.mod", "module x\n")
	writeFile(t, env, "cmd/app/main.go", "package main\n")
	writeFile(t, env, "node_modules/dep/index.js", "")

	out, err := run(t, codeTreeTool(env), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "./\n├── cmd/\n│   └── app/\n│       └── main.go\n└── go.mod\n", out)

	out, err = run(t, codeTreeTool(env), map[string]string{"max_depth": "1"})
	require.NoError(t, err)
	assert.Equal(t, "./\n├── cmd/\n└── go.mod\n", out)
}

func TestCodeLintUnsupportedAndMissing(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, env, "notes.txt", "hello")

	_, err := run(t, codeLintTool(env), map[string]string{"path": "notes.txt"})
	assert.Equal(t, "unsupported_language", agentloop.ErrorCode(err))

	_, err = run(t, codeFormatTool(env), map[string]string{"path": "absent.go"})
	assert.Equal(t, "file_not_found", agentloop.ErrorCode(err))
}

func TestCodeFormatGo(t *testing.T) {
	env := newTestEnv(t)
	if !env.LookPath("gofmt") {
		t.Skip("gofmt not installed")
	}
	writeFile(t, env, "main.go", "package main\nfunc main(){\nprintln( 1 )\n}\n")

	out, err := run(t, codeFormatTool(env), map[string]string{"path": "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "[FORMAT: main.go] formatted", out)
	assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(1)\n}\n", readFile(t, env, "main.go"))
}

func TestMemoryTools(t *testing.T) {
	store := memory.NewMemStore()
	save, get, list := memorySaveTool(store), memoryGetTool(store), memoryListTool(store)

	out, err := run(t, list, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "(no memories)", out)

	_, err = run(t, save, map[string]string{"key": "test_cmd", "value": "go test ./..."})
	require.NoError(t, err)
	_, err = run(t, save, map[string]string{"key": "test_cmd", "value": "make test"})
	require.NoError(t, err)

	out, err = run(t, get, map[string]string{"key": "test_cmd"})
	require.NoError(t, err)
	assert.Equal(t, "make test", out)

	out, err = run(t, list, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "test_cmd: make test\n", out)

	_, err = run(t, get, map[string]string{"key": "unknown"})
	assert.Equal(t, "memory_not_found", agentloop.ErrorCode(err))

	_, err = run(t, save, map[string]string{"key": "  ", "value": "x"})
	assert.Equal(t, "invalid_argument", agentloop.ErrorCode(err))
}

func TestDoneToolReturnsResult(t *testing.T) {
	out, err := run(t, doneTool(), map[string]string{"result": "  Renamed the package.\n"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed the package.", out)
}

func TestNewLocalEnvironmentRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewLocalEnvironment(file)
	assert.Error(t, err)
	_, err = NewLocalEnvironment(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}

func TestExecRespectsCancellation(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := env.Exec(ctx, "sleep 30", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
