package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/axonix/config"
)

var (
	configPath string
	workspace  string
	backend    string
	model      string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "axonix [task]",
	Short: "Local autonomous coding agent",
	Long: `axonix drives a language model through a think, act, observe loop
against your working directory until the task is done.

Usage:
  axonix "add a --json flag to the list command"
  axonix run --max-steps 50 "fix the failing tests"`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runTask(cmd, args)
	},
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if err.Error() != "" {
			printError(err)
		}
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Working directory for tools (default from config)")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "Backend provider: "+fmt.Sprint(backendNames()))
	rootCmd.PersistentFlags().StringVarP(&model, "model", "m", "", "Model name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	addRunFlags(rootCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads .env files and the config file, then applies flags.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		return nil, "", err
	}
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, path, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	if backend != "" && backend != cfg.Backend.Provider {
		cfg.Backend.Provider = backend
		cfg.Backend.BaseURL = ""
		cfg.Backend.Model = defaultModelFor(backend)
	}
	if model != "" {
		cfg.Backend.Model = model
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, path, cfg.Validate()
}

func createLogger(cfg *config.Config) *zap.Logger {
	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
)

func printError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	if e, ok := err.(*exitError); ok {
		return e.code
	}
	return 1
}
