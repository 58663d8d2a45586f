package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martinemde/axonix/config"
	"github.com/martinemde/axonix/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit the agent's persistent memory",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered keys",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(cmd *cobra.Command, store memory.Store, args []string) error {
		entries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, labelStyle.Render("(no memories)"))
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s %s %s\n",
				valueStyle.Render(e.Key),
				labelStyle.Render(e.UpdatedAt.Local().Format("2006-01-02 15:04")),
				clip(firstLine(e.Value), 80))
		}
		return nil
	}),
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a remembered value",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(cmd *cobra.Command, store memory.Store, args []string) error {
		entry, err := store.Get(cmd.Context(), args[0])
		if errors.Is(err, memory.ErrNotFound) {
			return fmt.Errorf("no memory named %q", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), entry.Value)
		return nil
	}),
}

var memorySetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Remember a value",
	Args:  cobra.MinimumNArgs(2),
	RunE: withMemory(func(cmd *cobra.Command, store memory.Store, args []string) error {
		if err := memory.ValidateKey(args[0]); err != nil {
			return err
		}
		return store.Set(cmd.Context(), args[0], strings.Join(args[1:], " "))
	}),
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Forget a value",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(cmd *cobra.Command, store memory.Store, args []string) error {
		return store.Delete(cmd.Context(), args[0])
	}),
}

func init() {
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memorySetCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
}

// withMemory opens the configured persistent store around fn.
func withMemory(fn func(cmd *cobra.Command, store memory.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Memory != config.MemorySQLite {
			return fmt.Errorf("memory is %q; only the sqlite store persists between runs", cfg.Memory)
		}
		dataDir, err := cfg.ResolveDataDir()
		if err != nil {
			return err
		}
		store, err := openMemory(cfg.Memory, dataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(cmd, store, args)
	}
}
