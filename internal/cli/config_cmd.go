package cli

import (
	"fmt"

	"github.com/lucasnoah/rita/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configDeploy bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect the rita configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and project documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if configDeploy {
			errs = append(errs, config.ValidateDeploy(cfg)...)
		}
		if err := checkConfig(cmd, errs); err != nil {
			return err
		}

		projects, err := cfg.LoadProjects()
		if err != nil {
			return err
		}
		cmd.Printf("Configuration is valid (%d test project(s), %d build project(s)).\n",
			len(projects.Test), len(projects.Build))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults and overrides merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

func init() {
	configValidateCmd.Flags().BoolVar(&configDeploy, "deploy", true, "also validate the remote and service sections")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
