package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/axonix/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or edit configuration",
	Long:  "View the effective configuration, create a default config file, or change one setting.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(cmd)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create a config file with default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), warningStyle.Render(path+" already exists. Use 'axonix config' to view it."))
			return nil
		}
		if err := config.Default().Save(path); err != nil {
			return fmt.Errorf("create config: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, valueStyle.Render("Created "+path+" with default settings."))
		fmt.Fprintln(out, "\nEdit this file to configure:")
		fmt.Fprintln(out, "  - backend provider, model and endpoint")
		fmt.Fprintln(out, "  - step budget, dispatch mode and repetition limits")
		fmt.Fprintln(out, "  - tool output limits and disabled tools")
		fmt.Fprintln(out, "  - memory and history storage")
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting in the config file",
	Long:  "Change one setting in the config file. Settable keys: " + strings.Join(config.SettableKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.FindConfig(configPath)
		if err != nil {
			return err
		}
		cfg := config.Default()
		if path == "" {
			path = config.FileName
		} else if cfg, err = config.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", labelStyle.Render(path+":"), args[0], valueStyle.Render(args[1]))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use and the search order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path, err := config.FindConfig(configPath)
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintln(out, labelStyle.Render("No config file found; using defaults."))
		} else {
			fmt.Fprintln(out, valueStyle.Render(path))
		}
		fmt.Fprintln(out, labelStyle.Render("Search order:"))
		for _, p := range config.DefaultSearchPaths() {
			fmt.Fprintln(out, "  "+p)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

func showConfig(cmd *cobra.Command) error {
	cfg, path, err := loadConfig()
	if cfg == nil {
		return err
	}
	out := cmd.OutOrStdout()
	if path == "" {
		path = "(defaults)"
	}
	fmt.Fprintln(out, headerStyle.Render("Configuration")+" "+labelStyle.Render(path))
	fmt.Fprintln(out)

	shown := *cfg
	if shown.Backend.APIKey != "" {
		shown.Backend.APIKey = "********"
	}
	data, merr := yaml.Marshal(&shown)
	if merr != nil {
		return merr
	}
	fmt.Fprint(out, string(data))

	if err != nil {
		printWarning("configuration is invalid: " + err.Error())
	}
	return nil
}
