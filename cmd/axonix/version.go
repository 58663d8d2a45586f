package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("axonix"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Version:"), valueStyle.Render(Version))
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Git Commit:"), valueStyle.Render(GitCommit))
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Build Date:"), valueStyle.Render(BuildDate))
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Go Version:"), valueStyle.Render(runtime.Version()))
		fmt.Fprintf(out, "%s %s/%s\n", labelStyle.Render("Platform:"), valueStyle.Render(runtime.GOOS), valueStyle.Render(runtime.GOARCH))
	},
}
