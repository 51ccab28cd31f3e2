package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/rita/internal/config"
	"github.com/lucasnoah/rita/internal/db"
	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/paths"
	"github.com/lucasnoah/rita/internal/pipeline"
	"github.com/lucasnoah/rita/internal/stage"
)

var (
	runTarget targetFlags
	runDryRun bool
	runReport string
)

var runCmd = &cobra.Command{
	Use:   "run [terminal-stage]",
	Short: "Run the pipeline up to a terminal stage",
	Long: `Run executes the terminal stage and every stage it depends on, in order.
The terminal stage defaults to pipeline.terminal (verify-service).

Exit status is non-zero if any non-tolerant stage fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		terminal := cfg.Pipeline.Terminal
		if len(args) == 1 {
			terminal = args[0]
		}

		if err := checkConfig(cmd, config.Validate(cfg)); err != nil {
			return err
		}
		order, err := planOrder(terminal, cfg.Pipeline.TolerantStages)
		if err != nil {
			return err
		}
		remoteRun := needsRemote(order)
		if remoteRun {
			if err := checkConfig(cmd, config.ValidateDeploy(cfg)); err != nil {
				return err
			}
		}

		rt, conf, err := runTarget.resolve(cfg, remoteRun)
		if err != nil {
			return err
		}

		if runDryRun {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Runtime: %s (tests in %s, publish in Release)\n", rt.Identifier, conf)
			printOrder(cmd, order, cfg.Pipeline.TolerantStages)
			return nil
		}

		log := newLogger(cfg, cmd.ErrOrStderr())
		plan, err := newPlan(cfg)
		if err != nil {
			return err
		}
		builder, err := newBuilder(cfg, plan, conf, log)
		if err != nil {
			return err
		}

		opts := stage.Options{
			Plan:        plan,
			Runtime:     rt,
			Provisioner: paths.NewProvisioner(),
			Builder:     builder,
			Tolerant:    cfg.Pipeline.TolerantStages,
			Log:         log,
		}
		if remoteRun {
			d, err := newDeployer(cfg, log)
			if err != nil {
				return err
			}
			opts.Deployer = d
			opts.Credentials = func() ([]byte, []byte, error) {
				secret, err := cfg.Secret()
				return secret, cfg.Passphrase(), err
			}
		}
		engine := stage.NewEngine(opts)

		var observers []pipeline.Observer
		var recorder *db.Recorder
		if cfg.History.Enabled {
			d, cleanup, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			recorder = db.NewRecorder(d, rt.Identifier, log)
			observers = append(observers, recorder)
		}

		log.Info("starting run", logger.Fields(
			"terminal", terminal, logger.FieldRuntime, rt.Identifier, "configuration", string(conf)))
		result, runErr := engine.Run(ctx, terminal, observers...)

		if result != nil {
			if recorder != nil {
				revision := ""
				if art := engine.Artifact(); art != nil {
					revision = art.Revision
				} else {
					revision = builder.Revision(ctx)
				}
				recorder.Finish(result, revision)
			}
			if runReport != "" {
				if err := pipeline.WriteReport(runReport, result); err != nil {
					log.WithError(err).Warn("writing run report", logger.Fields(logger.FieldPath, runReport))
				}
			}
		}

		if runErr != nil {
			var stageErr *pipeline.StageError
			if errors.As(runErr, &stageErr) {
				log.WithError(stageErr.Err).Error("run failed", logger.Fields(logger.FieldStage, stageErr.Stage))
			}
			return runErr
		}

		log.Info("run succeeded", logger.Fields(
			logger.FieldRunID, result.ID, logger.FieldDuration, result.Duration.Milliseconds()))
		if status := engine.ServiceStatus(); status != "" {
			fmt.Fprintln(cmd.OutOrStdout(), status)
		}
		return nil
	},
}

func init() {
	runTarget.register(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the resolved stage order without running anything")
	runCmd.Flags().StringVar(&runReport, "report", "", "write a JSON run report to this file")
}
