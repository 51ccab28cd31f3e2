package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/rita/internal/config"
	"github.com/lucasnoah/rita/internal/pipeline"
	"github.com/lucasnoah/rita/internal/stage"
)

var planCmd = &cobra.Command{
	Use:   "plan [terminal-stage]",
	Short: "Print the stages a run would execute, in order",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		terminal := config.DefaultTerminal
		tolerant := config.DefaultTolerantStages
		// The config is optional here; use it when one is found.
		if cfg, err := loadConfig(cmd.Context()); err == nil {
			terminal = cfg.Pipeline.Terminal
			tolerant = cfg.Pipeline.TolerantStages
		}
		if len(args) == 1 {
			terminal = args[0]
		}
		order, err := planOrder(terminal, tolerant)
		if err != nil {
			return err
		}
		printOrder(cmd, order, tolerant)
		return nil
	},
}

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List every stage with its predecessors",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := stage.NewEngine(stage.Options{}).Graph()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-16s %-16s %s\n", "STAGE", "AFTER", "DESCRIPTION")
		fmt.Fprintf(w, "%-16s %-16s %s\n",
			strings.Repeat("-", 16),
			strings.Repeat("-", 16),
			strings.Repeat("-", 11))
		for _, s := range g.Stages() {
			fmt.Fprintf(w, "%-16s %-16s %s\n", s.Name, strings.Join(s.After, ","), s.Description)
		}
		return nil
	},
}

var pathsTarget targetFlags

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Print the output directory plan for the selected runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		rt, conf, err := pathsTarget.resolve(cfg, false)
		if err != nil {
			return err
		}
		plan, err := newPlan(cfg)
		if err != nil {
			return err
		}
		entries, err := plan.Entries(rt)
		if err != nil {
			return err
		}
		archive, err := plan.ArchivePath(rt)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Runtime: %s (tests in %s, publish in Release)\n\n", rt.Identifier, conf)
		fmt.Fprintf(w, "%-12s %-18s %s\n", "PHASE", "RULE", "PATH")
		fmt.Fprintf(w, "%-12s %-18s %s\n",
			strings.Repeat("-", 12),
			strings.Repeat("-", 18),
			strings.Repeat("-", 4))
		for _, e := range entries {
			fmt.Fprintf(w, "%-12s %-18s %s\n", e.Phase, e.Rule, e.Path)
		}
		fmt.Fprintf(w, "\nArchive: %s\n", archive)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <file>",
	Short: "Summarize a run report written by run --report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := pipeline.ReadReport(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:      %s\n", r.ID)
		fmt.Fprintf(w, "Terminal: %s\n", r.Terminal)
		fmt.Fprintf(w, "Status:   %s\n", r.Status)
		fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Duration: %s\n", r.Duration)
		if r.FailedAt != "" {
			fmt.Fprintf(w, "Failed:   %s (%s)\n", r.FailedAt, r.Error)
		}
		fmt.Fprintln(w)
		for _, s := range r.Stages {
			line := fmt.Sprintf("  %-16s %-10s %s", s.Name, s.Status, s.Duration)
			if s.Error != "" {
				line += "  " + s.Error
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

// printOrder prints a numbered stage order, marking tolerant stages.
func printOrder(cmd *cobra.Command, order, tolerant []string) {
	marked := make(map[string]bool, len(tolerant))
	for _, t := range tolerant {
		marked[t] = true
	}
	w := cmd.OutOrStdout()
	for i, name := range order {
		suffix := ""
		if marked[name] {
			suffix = "  (tolerant)"
		}
		fmt.Fprintf(w, "%2d. %s%s\n", i+1, name, suffix)
	}
}

func init() {
	pathsTarget.register(pathsCmd)
}
