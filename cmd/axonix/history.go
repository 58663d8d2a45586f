package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martinemde/axonix/agentloop"
	"github.com/martinemde/axonix/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded sessions",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer log.Close()

		sessions, err := log.Sessions()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, labelStyle.Render("No recorded sessions in "+log.Dir()))
			return nil
		}
		if historyLimit > 0 && len(sessions) > historyLimit {
			sessions = sessions[:historyLimit]
		}
		for _, s := range sessions {
			records, _, err := history.ReadFile(s.Path)
			if err != nil {
				continue
			}
			status := labelStyle.Render("incomplete")
			if res, ok := history.Outcome(records); ok {
				status = statusLabel(res)
			}
			fmt.Fprintf(out, "%s  %s  %s  %s\n",
				valueStyle.Render(shortID(s.ID)),
				labelStyle.Render(s.Started.Format("2006-01-02 15:04:05")),
				status,
				clip(firstLine(history.Task(records)), 60))
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Print a recorded session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer log.Close()

		records, skipped, err := log.Load(args[0])
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning(fmt.Sprintf("skipped %d unreadable transcript lines", skipped))
		}

		out := cmd.OutOrStdout()
		for _, r := range records {
			switch {
			case r.Kind == history.KindTurn && r.Turn != nil:
				fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("── step %d %s", r.Step, r.Turn.Role)))
				content := r.Turn.Content
				if r.Turn.Result != nil {
					content = agentloop.RenderObservation(*r.Turn.Result)
				}
				fmt.Fprintln(out, content)
			case r.Kind == history.KindResult && r.Result != nil:
				fmt.Fprintln(out)
				fmt.Fprintf(out, "%s after %d steps, %d tool calls, %d tokens\n",
					statusLabel(*r.Result), r.Result.Steps, r.Result.ToolCalls, r.Result.Usage.TotalTokens)
				if r.Result.Summary != "" {
					fmt.Fprintln(out, r.Result.Summary)
				}
				if r.Error != "" {
					fmt.Fprintln(out, errorStyle.Render("error: "+r.Error))
				}
			}
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum sessions to list (0 for all)")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}

func statusLabel(res agentloop.Result) string {
	switch res.Status {
	case agentloop.StatusCompleted:
		return valueStyle.Render("completed")
	case agentloop.StatusCancelled:
		return warningStyle.Render("cancelled")
	default:
		label := string(res.Status)
		if res.Reason != "" {
			label += " (" + res.Reason + ")"
		}
		return errorStyle.Render(label)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
