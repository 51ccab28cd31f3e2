package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// configFile is the --config flag shared by every command.
var configFile string

var rootCmd = &cobra.Command{
	Use:   "rita",
	Short: "Build, package and deploy a .NET service to a systemd host",
	Long: `rita runs a fixed pipeline of stages: it cleans, restores, tests and
publishes the configured projects, zips the output, then uploads the archive
to a Linux host over SSH and installs it as a systemd service.

Any stage can be the terminal stage; only it and its predecessors run.
Configuration is read from --config, ./rita.yaml or ./.rita/rita.yaml.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "path to rita config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(stagesCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(reportCmd)
}
