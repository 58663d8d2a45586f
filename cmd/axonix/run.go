package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/axonix/agentloop"
	"github.com/martinemde/axonix/config"
	"github.com/martinemde/axonix/history"
	"github.com/martinemde/axonix/memory"
	"github.com/martinemde/axonix/tools"
	"github.com/martinemde/axonix/unifiedllm"
)

var (
	maxSteps     int
	dispatchMode string
	noHistory    bool
	noMemory     bool
	streamText   bool
	quiet        bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run the agent on a task (use - to read the task from stdin)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTask,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Step budget (default from config)")
	cmd.Flags().StringVar(&dispatchMode, "dispatch", "", "Dispatch mode: after_stream or immediate")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run transcript")
	cmd.Flags().BoolVar(&noMemory, "no-memory", false, "Run without persistent memory")
	cmd.Flags().BoolVar(&streamText, "stream", true, "Echo model output as it streams")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the final summary")
}

func runTask(cmd *cobra.Command, args []string) error {
	task, err := readTask(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)
	logger := createLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := unifiedllm.NewClientFromBackend(ctx, cfg.Backend)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := checkBackend(ctx, client, cfg); err != nil {
		return err
	}

	rt, err := newAgentRuntime(cfg, client, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.run(ctx, task, cmd.OutOrStdout())
}

func readTask(args []string, stdin io.Reader) (string, error) {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read task from stdin: %w", err)
		}
		task = strings.TrimSpace(string(data))
	}
	if task == "" {
		return "", errors.New("task must not be empty")
	}
	return task, nil
}

func applyRunFlags(cfg *config.Config) {
	if maxSteps > 0 {
		cfg.Agent.MaxSteps = maxSteps
	}
	if dispatchMode != "" {
		cfg.Agent.DispatchMode = agentloop.DispatchMode(dispatchMode)
	}
	if noHistory {
		cfg.History = false
	}
	if noMemory {
		cfg.Memory = config.MemoryOff
	}
}

// checkBackend pings the backend so a stopped server fails fast with help.
func checkBackend(ctx context.Context, client *unifiedllm.Client, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, ""); err != nil {
		help := lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
		where := cfg.Backend.Provider + " backend"
		if cfg.Backend.BaseURL != "" {
			where += " at " + cfg.Backend.BaseURL
		}
		fmt.Fprintln(os.Stderr, help.Render("Could not reach the "+where+"."))
		if cfg.Backend.Provider == unifiedllm.BackendOllama {
			fmt.Fprintln(os.Stderr, help.Render("Make sure Ollama is running:  ollama serve"))
			fmt.Fprintln(os.Stderr, help.Render("and the model is pulled:      ollama pull "+cfg.Backend.Model))
		}
		return fmt.Errorf("backend unreachable: %w", err)
	}
	return nil
}

// agentRuntime owns everything a run needs beyond the model client.
type agentRuntime struct {
	cfg     *config.Config
	env     *tools.LocalEnvironment
	store   memory.Store
	history *history.Log
	runner  *agentloop.Runner
	logger  *zap.Logger
}

func newAgentRuntime(cfg *config.Config, client agentloop.StreamClient, logger *zap.Logger) (*agentRuntime, error) {
	env, err := tools.NewLocalEnvironment(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	rt := &agentRuntime{cfg: cfg, env: env, logger: logger}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	if rt.store, err = openMemory(cfg.Memory, dataDir); err != nil {
		return nil, err
	}
	if cfg.History {
		if rt.history, err = history.Open(filepath.Join(dataDir, "history")); err != nil {
			rt.Close()
			return nil, err
		}
	}

	toolOpts := []tools.Option{tools.WithDisabled(cfg.DisabledTools...)}
	if rt.store != nil {
		toolOpts = append(toolOpts, tools.WithMemoryStore(rt.store))
	}
	registry := agentloop.NewToolRegistry()
	if err := tools.RegisterAll(registry, env, toolOpts...); err != nil {
		rt.Close()
		return nil, err
	}

	var maxTokens *int
	if cfg.Backend.MaxTokens > 0 {
		maxTokens = &cfg.Backend.MaxTokens
	}
	opts := []agentloop.RunnerOption{
		agentloop.WithConfig(cfg.Agent),
		agentloop.WithLogger(logger),
		agentloop.WithEnvironment(env),
		agentloop.WithModel(cfg.Backend.Model, ""),
		agentloop.WithSampling(cfg.Backend.Temperature, maxTokens, nil),
	}
	if rt.store != nil {
		opts = append(opts, agentloop.WithMemory(rt.store))
	}
	if rt.history != nil {
		opts = append(opts, agentloop.WithRecorder(rt.history))
	}
	rt.runner = agentloop.NewRunner(client, registry, opts...)
	return rt, nil
}

// openMemory opens the configured memory store; nil when disabled.
func openMemory(kind, dataDir string) (memory.Store, error) {
	switch kind {
	case config.MemoryOff:
		return nil, nil
	case config.MemoryInProc:
		return memory.NewMemStore(), nil
	default:
		return memory.OpenSQLite(filepath.Join(dataDir, "memory.db"))
	}
}

func (rt *agentRuntime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("close memory", zap.Error(err))
		}
	}
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			rt.logger.Warn("close history", zap.Error(err))
		}
	}
}

// run executes one session, rendering its events to out.
func (rt *agentRuntime) run(ctx context.Context, task string, out io.Writer) error {
	session := rt.runner.NewSession(task)
	renderer := NewEventRenderer(out, streamText && !quiet)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if quiet {
			for range session.Events() {
			}
			return
		}
		renderer.Consume(session.Events())
	}()

	res := session.Run(ctx)
	session.Close()
	<-done

	if quiet && res.Summary != "" {
		fmt.Fprintln(out, res.Summary)
	}
	switch res.Status {
	case agentloop.StatusCompleted:
		return nil
	case agentloop.StatusCancelled:
		return &exitError{code: 130}
	default:
		fmt.Fprintln(os.Stderr, res.Diagnostic(rt.cfg.Agent.DiagnosticTurns))
		return &exitError{code: 1}
	}
}
