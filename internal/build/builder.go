// Package build turns the workspace into a deployable archive: clean,
// restore, test, publish, prune and compress, all through the dotnet CLI.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/rita/internal/command"
	apperrors "github.com/lucasnoah/rita/internal/errors"
	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/paths"
)

// DefaultPruneFiles are removed from every publish output.
var DefaultPruneFiles = []string{"appsettings.Development.json", "appsettings.json"}

// Artifact describes the output of one build. It is kept in memory only.
type Artifact struct {
	OutputDir   string
	ArchivePath string
	Runtime     paths.Runtime
	// Revision is the workspace git revision, empty when unavailable.
	Revision string
	Files    int
}

// Options configures a Builder.
type Options struct {
	// WorkDir is where toolchain commands run.
	WorkDir  string
	Solution string
	// Configuration applies to tests only. Publish always uses Release.
	Configuration paths.Configuration
	Tests         []Project
	Publish       []Project
	// PruneFiles are deleted from the output after each publish, in
	// addition to "<project>.pdb".
	PruneFiles []string
	DotNet     DotNet
}

// Builder runs the build steps for one runtime.
type Builder struct {
	runner command.Runner
	plan   *paths.Plan
	opts   Options
	log    *logger.Logger
}

// NewBuilder creates a Builder. A nil log discards output.
func NewBuilder(runner command.Runner, plan *paths.Plan, opts Options, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Configuration == "" {
		opts.Configuration = paths.Release
	}
	if opts.PruneFiles == nil {
		opts.PruneFiles = DefaultPruneFiles
	}
	return &Builder{runner: runner, plan: plan, opts: opts, log: log.WithComponent("build")}
}

func (b *Builder) cmd(argv []string) command.Cmd {
	return command.Cmd{Argv: argv, Dir: b.opts.WorkDir}
}

// Clean runs "dotnet clean" on the solution.
func (b *Builder) Clean(ctx context.Context) error {
	b.log.Info("cleaning output", logger.Fields("solution", b.opts.Solution))
	if _, err := command.Require(ctx, b.runner, b.cmd(b.opts.DotNet.Clean(b.opts.Solution))); err != nil {
		return apperrors.Build("clean", err)
	}
	b.log.Info("clean succeeded")
	return nil
}

// Restore runs "dotnet restore" on the solution.
func (b *Builder) Restore(ctx context.Context) error {
	b.log.Info("restoring packages", logger.Fields("solution", b.opts.Solution))
	if _, err := command.Require(ctx, b.runner, b.cmd(b.opts.DotNet.Restore(b.opts.Solution))); err != nil {
		return apperrors.Build("restore", err)
	}
	b.log.Info("packages restored")
	return nil
}

// Test runs every test project in order and stops at the first failure.
func (b *Builder) Test(ctx context.Context) error {
	resultsDir, err := b.plan.Resolve(paths.Runtime{}, paths.TestResults)
	if err != nil {
		return err
	}
	for _, p := range b.opts.Tests {
		b.log.Info("running tests", logger.Fields("project", p.ID))
		res, err := command.Require(ctx, b.runner, b.cmd(b.opts.DotNet.Test(p, b.opts.Configuration, resultsDir)))
		summary := TestSummary{}
		if res != nil {
			summary = ParseTestSummary(res.Output())
		}
		if err != nil {
			return apperrors.Build("test "+p.ID, err).
				WithDetail("project", p.ID).
				WithDetail("summary", summary.String())
		}
		b.log.Info("tests passed", logger.Fields("project", p.ID, "summary", summary.String()))
	}
	return nil
}

// Compile publishes every build project in Release into the runtime's
// compile directory and prunes files that must not ship.
func (b *Builder) Compile(ctx context.Context, rt paths.Runtime) error {
	outDir, err := b.plan.Resolve(rt, paths.Compile)
	if err != nil {
		return err
	}
	for _, p := range b.opts.Publish {
		b.log.Info("compiling", logger.Fields("project", p.ID, logger.FieldRuntime, rt.Identifier))
		argv := b.opts.DotNet.Publish(p, rt, paths.Release, outDir)
		if _, err := command.Require(ctx, b.runner, b.cmd(argv)); err != nil {
			return apperrors.Build("compile "+p.ID, err).WithDetail("project", p.ID)
		}
		b.log.Info("compilation output written", logger.Fields(logger.FieldPath, outDir))

		removed, err := Prune(outDir, append([]string{p.Name() + ".pdb"}, b.opts.PruneFiles...))
		if err != nil {
			return apperrors.Build("prune "+p.ID, err)
		}
		b.log.Debug("pruned output", logger.Fields("removed", strings.Join(removed, ",")))
	}
	return nil
}

// Compress zips the compile directory into the runtime's archive path.
func (b *Builder) Compress(_ context.Context, rt paths.Runtime) (string, int, error) {
	outDir, err := b.plan.Resolve(rt, paths.Compile)
	if err != nil {
		return "", 0, err
	}
	archive, err := b.plan.ArchivePath(rt)
	if err != nil {
		return "", 0, err
	}
	b.log.Info("compressing output", logger.Fields(logger.FieldRuntime, rt.Identifier))
	n, err := CreateArchive(outDir, archive)
	if err != nil {
		return "", 0, apperrors.Build("compress", err)
	}
	b.log.Info("archive created", logger.Fields(logger.FieldPath, archive, "files", n))
	return archive, n, nil
}

// Build runs clean, restore, test, compile and compress in order.
// Every failure aborts.
func (b *Builder) Build(ctx context.Context, rt paths.Runtime) (*Artifact, error) {
	if err := b.Clean(ctx); err != nil {
		return nil, err
	}
	if err := b.Restore(ctx); err != nil {
		return nil, err
	}
	if err := b.Test(ctx); err != nil {
		return nil, err
	}
	if err := b.Compile(ctx, rt); err != nil {
		return nil, err
	}
	return b.Package(ctx, rt)
}

// Package compresses the compile output and describes the result.
func (b *Builder) Package(ctx context.Context, rt paths.Runtime) (*Artifact, error) {
	archive, n, err := b.Compress(ctx, rt)
	if err != nil {
		return nil, err
	}
	outDir, _ := b.plan.Resolve(rt, paths.Compile)
	return &Artifact{
		OutputDir:   outDir,
		ArchivePath: archive,
		Runtime:     rt,
		Revision:    b.Revision(ctx),
		Files:       n,
	}, nil
}

// Revision returns the short git revision of the work directory, or ""
// when git is unavailable or the directory is not a repository.
func (b *Builder) Revision(ctx context.Context) string {
	res, err := b.runner.Run(ctx, b.cmd([]string{"git", "rev-parse", "--short", "HEAD"}))
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// Prune deletes the named files from dir. Names are matched exactly;
// files that do not exist are skipped. It returns the names removed.
func Prune(dir string, names []string) ([]string, error) {
	var removed []string
	for _, name := range names {
		if name == "" || filepath.Base(name) != name {
			return removed, fmt.Errorf("prune: %q is not a plain file name", name)
		}
		err := os.Remove(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
