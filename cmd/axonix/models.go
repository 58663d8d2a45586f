package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/axonix/unifiedllm"
)

var modelsInstalled bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models for the configured backend",
	Long: `List the models axonix knows context windows for. With --installed, ask
the backend which models it actually serves and check that it is reachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		provider := cfg.Backend.Provider

		if !modelsInstalled {
			models := unifiedllm.ListModels(provider)
			if len(models) == 0 {
				fmt.Fprintln(out, labelStyle.Render("No catalog entries for "+provider))
				return nil
			}
			for _, m := range models {
				marker := " "
				if m.ID == cfg.Backend.Model {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s %s\n", marker, valueStyle.Render(m.ID),
					labelStyle.Render(fmt.Sprintf("(%s, %d context)", m.DisplayName, m.ContextWindow)))
			}
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		client, err := unifiedllm.NewClientFromBackend(ctx, cfg.Backend)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(ctx, ""); err != nil {
			return fmt.Errorf("%s backend unreachable: %w", provider, err)
		}
		names, err := client.ListModels(ctx, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, headerStyle.Render(provider)+" "+labelStyle.Render(fmt.Sprintf("%d installed", len(names))))
		for _, name := range names {
			marker := " "
			if name == cfg.Backend.Model {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, name)
		}
		return nil
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsInstalled, "installed", false, "Query the backend for installed models")
}

func backendNames() []string {
	return unifiedllm.Backends()
}

// defaultModelFor returns the catalog's default model for provider, if any.
func defaultModelFor(provider string) string {
	if m := unifiedllm.GetLatestModel(provider, false); m != nil {
		return m.ID
	}
	return ""
}
