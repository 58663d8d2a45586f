package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/martinemde/axonix/config"
	"github.com/martinemde/axonix/history"
	"github.com/martinemde/axonix/unifiedllm"
)

var replayCmd = &cobra.Command{
	Use:   "replay <session>",
	Short: "Re-run a recorded session with the model's recorded responses",
	Long: `Replay feeds the assistant responses of a recorded session back through
the agent loop in order. Tools run again against the current workspace, so
replay a session in a scratch copy when its actions are destructive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		logger := createLogger(cfg)
		defer logger.Sync()

		log, err := openHistory(cfg)
		if err != nil {
			return err
		}
		records, skipped, err := log.Load(args[0])
		log.Close()
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning(fmt.Sprintf("skipped %d unreadable transcript lines", skipped))
		}
		task := history.Task(records)
		if task == "" {
			return fmt.Errorf("session %s has no task", args[0])
		}

		script := unifiedllm.ScriptedTexts(history.AssistantResponses(records)...).WithFragmentSize(32)
		client := unifiedllm.NewClient(
			unifiedllm.WithProvider(script.Name(), script),
			unifiedllm.WithDefaultProvider(script.Name()),
		)
		defer client.Close()

		cfg.History = false
		cfg.Agent.Retry.MaxRetries = 0
		rt, err := newAgentRuntime(cfg, client, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return rt.run(ctx, task, cmd.OutOrStdout())
	},
}

func openHistory(cfg *config.Config) (*history.Log, error) {
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	return history.Open(filepath.Join(dataDir, "history"))
}

func printWarning(msg string) {
	fmt.Fprintln(os.Stderr, warningStyle.Render("Warning: "+msg))
}
