package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/rita/internal/build"
	"github.com/lucasnoah/rita/internal/command"
	"github.com/lucasnoah/rita/internal/config"
	"github.com/lucasnoah/rita/internal/db"
	apperrors "github.com/lucasnoah/rita/internal/errors"
	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/paths"
	"github.com/lucasnoah/rita/internal/remote"
	"github.com/lucasnoah/rita/internal/stage"
	"github.com/lucasnoah/rita/internal/unit"
)

// loadConfig finds the config file, loads a .env beside it, parses the
// file and applies environment overrides.
func loadConfig(ctx context.Context) (*config.Config, error) {
	path := configFile
	if path == "" {
		found, err := config.Find()
		if err != nil {
			return nil, err
		}
		path = found
	}
	if _, err := config.LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(ctx, cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkConfig prints validation errors and returns an error when there are any.
func checkConfig(cmd *cobra.Command, errs []config.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, "Validation errors:")
	for _, e := range errs {
		fmt.Fprintf(w, "  - %s\n", e)
	}
	return fmt.Errorf("config has %d validation error(s)", len(errs))
}

func newLogger(cfg *config.Config, w io.Writer) *logger.Logger {
	return logger.NewWithWriter(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		NoColor:   cfg.Logging.NoColor,
		Timestamp: true,
	}, w)
}

// targetFlags select the runtime and test configuration.
type targetFlags struct {
	release bool
	runtime string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.release, "release", false, "target runtime.release and run tests in Release configuration")
	cmd.Flags().StringVar(&f.runtime, "runtime", "", "runtime identifier, e.g. linux-x64 (overrides config)")
}

// resolve picks the runtime: --runtime, then runtime.release or
// runtime.local from config, then the release or host default. When the
// run deploys, the runtime must be a Linux one: an implicit non-Linux
// choice falls back to runtime.release and an explicit one is rejected.
func (f *targetFlags) resolve(cfg *config.Config, deploy bool) (paths.Runtime, paths.Configuration, error) {
	local := !f.release
	conf := paths.SelectConfiguration(local)

	id := f.runtime
	if id == "" {
		if f.release {
			id = cfg.Runtime.Release
		} else {
			id = cfg.Runtime.Local
		}
	}
	rt := paths.Select(local)
	if id != "" {
		parsed, err := paths.ParseRuntime(id)
		if err != nil {
			return paths.Runtime{}, "", err
		}
		rt = parsed
	}

	if deploy && !isLinux(rt) {
		if f.runtime != "" {
			return paths.Runtime{}, "", apperrors.Configuration(
				"runtime %s cannot be deployed to a systemd host; use a linux runtime", rt.Identifier)
		}
		release, err := paths.ParseRuntime(cfg.Runtime.Release)
		if err != nil {
			return paths.Runtime{}, "", err
		}
		if !isLinux(release) {
			return paths.Runtime{}, "", apperrors.Configuration(
				"runtime.release %s cannot be deployed to a systemd host", release.Identifier)
		}
		rt = release
	}
	return rt, conf, nil
}

func isLinux(rt paths.Runtime) bool {
	return strings.HasPrefix(rt.OS, "linux")
}

// openDB opens and migrates the history database, returning it with a cleanup func.
func openDB(cfg *config.Config) (*db.DB, func(), error) {
	if !cfg.History.Enabled {
		return nil, nil, fmt.Errorf("run history is disabled (set history.enabled in the config)")
	}
	dsn := cfg.History.DSN
	if cfg.History.Driver == db.DriverSQLite && dsn != ":memory:" {
		dsn = cfg.Path(dsn)
	}
	d, err := db.Open(cfg.History.Driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// newPlan builds the path plan rooted at output.root.
func newPlan(cfg *config.Config) (*paths.Plan, error) {
	return paths.NewPlan(cfg.Path(cfg.Output.Root))
}

// newBuilder resolves the project documents and creates the artifact builder.
func newBuilder(cfg *config.Config, plan *paths.Plan, conf paths.Configuration, log *logger.Logger) (*build.Builder, error) {
	projects, err := cfg.LoadProjects()
	if err != nil {
		return nil, err
	}
	toProjects := func(refs []config.ProjectRef) []build.Project {
		out := make([]build.Project, len(refs))
		for i, r := range refs {
			out[i] = build.Project{ID: r.ID, Path: r.Path}
		}
		return out
	}
	return build.NewBuilder(&command.ExecRunner{}, plan, build.Options{
		WorkDir:       cfg.Path(cfg.Workspace),
		Solution:      cfg.Solution,
		Configuration: conf,
		Tests:         toProjects(projects.Test),
		Publish:       toProjects(projects.Build),
		PruneFiles:    cfg.Output.PruneFiles,
		DotNet:        build.DotNet{Binary: cfg.Toolchain.DotNet},
	}, log), nil
}

// newDeployer creates the SSH deployer for the remote and service sections.
func newDeployer(cfg *config.Config, log *logger.Logger) (*remote.Deployer, error) {
	timeout, err := time.ParseDuration(cfg.Remote.Timeout)
	if err != nil {
		return nil, fmt.Errorf("remote.timeout: %w", err)
	}
	tmpl, err := unit.LoadTemplate(cfg.Service.UnitTemplate, cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	target := remote.Target{
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		User:           cfg.Remote.User,
		KnownHostsFile: cfg.Path(cfg.Remote.KnownHosts),
		HostKey:        cfg.Remote.HostKey,
		Timeout:        timeout,
	}
	svc := unit.Service{
		Name:        cfg.Service.Name,
		Description: cfg.Service.Description,
		ExecStart:   cfg.Service.ExecStart,
		WorkingDir:  cfg.Service.WorkingDir,
		User:        cfg.Service.User,
		Environment: cfg.Service.Environment,
	}
	return remote.NewDeployer(&remote.SSHDialer{Log: log}, remote.Config{
		Target:       target,
		RemoteDir:    cfg.Remote.RemoteDir,
		Sudo:         cfg.UseSudo(),
		Service:      svc,
		UnitTemplate: tmpl,
	}, log), nil
}

// needsRemote reports whether any stage in order talks to the host.
func needsRemote(order []string) bool {
	for _, name := range order {
		for _, r := range stage.RemoteStages {
			if name == r {
				return true
			}
		}
	}
	return false
}

// planOrder resolves terminal against the declared stages without any
// collaborators attached.
func planOrder(terminal string, tolerant []string) ([]string, error) {
	s, err := stage.NewEngine(stage.Options{Tolerant: tolerant}).Scheduler()
	if err != nil {
		return nil, err
	}
	return s.Plan(terminal)
}
