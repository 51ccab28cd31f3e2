package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := d.ListRuns(limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-10s %-16s %-12s %-8s %-19s %s\n",
			"RUN", "STATUS", "TERMINAL", "RUNTIME", "REV", "STARTED", "FAILED AT")
		fmt.Fprintf(w, "%-36s %-10s %-16s %-12s %-8s %-19s %s\n",
			strings.Repeat("-", 36),
			strings.Repeat("-", 10),
			strings.Repeat("-", 16),
			strings.Repeat("-", 12),
			strings.Repeat("-", 8),
			strings.Repeat("-", 19),
			strings.Repeat("-", 9))
		for _, r := range runs {
			fmt.Fprintf(w, "%-36s %-10s %-16s %-12s %-8s %-19s %s\n",
				r.ID, r.Status, r.Terminal, r.Runtime, r.Revision,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.FailedStage)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its stage events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := d.GetRun(args[0])
		if err != nil {
			return err
		}
		events, err := d.GetStageEvents(run.ID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:      %s\n", run.ID)
		fmt.Fprintf(w, "Status:   %s\n", run.Status)
		fmt.Fprintf(w, "Terminal: %s\n", run.Terminal)
		fmt.Fprintf(w, "Runtime:  %s\n", run.Runtime)
		if run.Revision != "" {
			fmt.Fprintf(w, "Revision: %s\n", run.Revision)
		}
		fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if !run.FinishedAt.IsZero() {
			fmt.Fprintf(w, "Duration: %s\n", run.Duration)
		}
		if run.FailedStage != "" {
			fmt.Fprintf(w, "Failed:   %s\n", run.FailedStage)
		}
		if run.Error != "" {
			fmt.Fprintf(w, "Error:    %s\n", run.Error)
		}

		if len(events) == 0 {
			return nil
		}
		fmt.Fprintln(w, "\nEvents:")
		for _, ev := range events {
			line := fmt.Sprintf("  %3d  %-16s %-10s", ev.Seq, ev.Stage, ev.Event)
			if ev.Duration > 0 {
				line += " " + ev.Duration.String()
			}
			if ev.Error != "" {
				line += "  " + ev.Error
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	historyListCmd.Flags().String("format", "text", "Output format: text or json")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}
