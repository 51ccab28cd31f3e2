// Package stage declares the build-and-deploy stages and wires them to
// the builder and deployer.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucasnoah/rita/internal/build"
	apperrors "github.com/lucasnoah/rita/internal/errors"
	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/paths"
	"github.com/lucasnoah/rita/internal/pipeline"
	"github.com/lucasnoah/rita/internal/remote"
)

// Stage names, in execution order.
const (
	Init           = "init"
	Clean          = "clean"
	Restore        = "restore"
	Test           = "test"
	Compile        = "compile"
	Compress       = "compress"
	Authenticate   = "authenticate"
	Transfer       = "transfer"
	Extract        = "extract"
	InstallService = "install-service"
	StartService   = "start-service"
	VerifyService  = "verify-service"
)

// RemoteStages are the stages that need a deployer.
var RemoteStages = []string{Authenticate, Transfer, Extract, InstallService, StartService, VerifyService}

// Provisioner prepares output directories.
type Provisioner interface {
	Ensure(path string, rule paths.Rule) error
}

// ArtifactBuilder runs the local build steps.
type ArtifactBuilder interface {
	Clean(ctx context.Context) error
	Restore(ctx context.Context) error
	Test(ctx context.Context) error
	Compile(ctx context.Context, rt paths.Runtime) error
	Package(ctx context.Context, rt paths.Runtime) (*build.Artifact, error)
}

// Deployer runs the remote deploy protocol.
type Deployer interface {
	Authenticate(ctx context.Context, secret, passphrase []byte) error
	Upload(ctx context.Context, archive string) error
	Extract(ctx context.Context) error
	InstallService(ctx context.Context) error
	Activate(ctx context.Context) error
	Verify(ctx context.Context) (string, error)
	Close() error
}

// Credentials returns the private key and optional passphrase. It is
// called once, at authenticate time.
type Credentials func() (secret, passphrase []byte, err error)

// ErrRemoteNotConfigured is returned by remote stages when no deployer is set.
var ErrRemoteNotConfigured = errors.New("remote deployment is not configured")

// Options holds the Engine's collaborators.
type Options struct {
	Plan        *paths.Plan
	Runtime     paths.Runtime
	Provisioner Provisioner
	Builder     ArtifactBuilder
	// Deployer may be nil for build-only runs.
	Deployer    Deployer
	Credentials Credentials
	Tolerant    []string
	Log         *logger.Logger
}

// Engine owns the stage graph for one invocation.
type Engine struct {
	opts     Options
	log      *logger.Logger
	artifact *build.Artifact
	status   string
}

// NewEngine creates a stage engine.
func NewEngine(opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{opts: opts, log: log}
}

// Artifact returns the artifact produced by the compress stage, if it ran.
func (e *Engine) Artifact() *build.Artifact {
	return e.artifact
}

// ServiceStatus returns the output of the verify-service stage, if it ran.
func (e *Engine) ServiceStatus() string {
	return e.status
}

// Graph declares every stage and its predecessors.
func (e *Engine) Graph() (*pipeline.Graph, error) {
	return pipeline.NewBuilder().
		Register(pipeline.Stage{Name: Init, Description: "create output directories", Action: e.init}).
		Register(pipeline.Stage{Name: Clean, After: []string{Init}, Description: "dotnet clean", Action: e.clean}).
		Register(pipeline.Stage{Name: Restore, After: []string{Clean}, Description: "dotnet restore", Action: e.restore}).
		Register(pipeline.Stage{Name: Test, After: []string{Restore}, Description: "run test projects", Action: e.test}).
		Register(pipeline.Stage{Name: Compile, After: []string{Test}, Description: "publish and prune", Action: e.compile}).
		Register(pipeline.Stage{Name: Compress, After: []string{Compile}, Description: "zip compile output", Action: e.compress}).
		Register(pipeline.Stage{Name: Authenticate, After: []string{Compress}, Description: "open SSH session", Action: e.authenticate}).
		Register(pipeline.Stage{Name: Transfer, After: []string{Authenticate}, Description: "upload archive", Action: e.transfer}).
		Register(pipeline.Stage{Name: Extract, After: []string{Transfer}, Description: "unzip on host", Action: e.extract}).
		Register(pipeline.Stage{Name: InstallService, After: []string{Extract}, Description: "install systemd unit", Action: e.installService}).
		Register(pipeline.Stage{Name: StartService, After: []string{InstallService}, Description: "reload, enable, start", Action: e.startService}).
		Register(pipeline.Stage{Name: VerifyService, After: []string{StartService}, Description: "systemctl status", Action: e.verifyService}).
		Build()
}

// Scheduler builds the graph and a scheduler with the configured tolerant
// stages. A LogObserver is always attached first.
func (e *Engine) Scheduler(observers ...pipeline.Observer) (*pipeline.Scheduler, error) {
	g, err := e.Graph()
	if err != nil {
		return nil, err
	}
	obs := append([]pipeline.Observer{NewLogObserver(e.log)}, observers...)
	return pipeline.NewScheduler(g, pipeline.Options{Tolerant: e.opts.Tolerant, Observers: obs})
}

// Run executes terminal and its predecessors, then closes any remote session.
func (e *Engine) Run(ctx context.Context, terminal string, observers ...pipeline.Observer) (*pipeline.RunResult, error) {
	s, err := e.Scheduler(observers...)
	if err != nil {
		return nil, err
	}
	res, runErr := s.Run(ctx, terminal)
	if e.opts.Deployer != nil {
		if err := e.opts.Deployer.Close(); err != nil {
			e.log.Warn("closing remote session", logger.Fields("error", err.Error()))
		}
	}
	return res, runErr
}

func (e *Engine) init(context.Context) error {
	entries, err := e.opts.Plan.Entries(e.opts.Runtime)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		e.log.Info("ensuring directory", logger.Fields(
			logger.FieldPhase, entry.Phase.String(), logger.FieldPath, entry.Path, "rule", entry.Rule.String()))
		if err := e.opts.Provisioner.Ensure(entry.Path, entry.Rule); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) clean(ctx context.Context) error   { return e.opts.Builder.Clean(ctx) }
func (e *Engine) restore(ctx context.Context) error { return e.opts.Builder.Restore(ctx) }
func (e *Engine) test(ctx context.Context) error    { return e.opts.Builder.Test(ctx) }

func (e *Engine) compile(ctx context.Context) error {
	return e.opts.Builder.Compile(ctx, e.opts.Runtime)
}

func (e *Engine) compress(ctx context.Context) error {
	art, err := e.opts.Builder.Package(ctx, e.opts.Runtime)
	if err != nil {
		return err
	}
	e.artifact = art
	return nil
}

func (e *Engine) deployer() (Deployer, error) {
	if e.opts.Deployer == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfiguration, ErrRemoteNotConfigured.Error()).WithCause(ErrRemoteNotConfigured)
	}
	return e.opts.Deployer, nil
}

func (e *Engine) authenticate(ctx context.Context) error {
	d, err := e.deployer()
	if err != nil {
		return err
	}
	if e.opts.Credentials == nil {
		return apperrors.Configuration("no credential source configured")
	}
	secret, passphrase, err := e.opts.Credentials()
	if err != nil {
		return apperrors.Authentication("remote", err)
	}
	defer remote.Zero(passphrase)
	return d.Authenticate(ctx, secret, passphrase)
}

func (e *Engine) transfer(ctx context.Context) error {
	d, err := e.deployer()
	if err != nil {
		return err
	}
	if e.artifact == nil {
		return apperrors.Internal(fmt.Errorf("no artifact: %s has not run", Compress))
	}
	return d.Upload(ctx, e.artifact.ArchivePath)
}

func (e *Engine) extract(ctx context.Context) error {
	d, err := e.deployer()
	if err != nil {
		return err
	}
	return d.Extract(ctx)
}

func (e *Engine) installService(ctx context.Context) error {
	d, err := e.deployer()
	if err != nil {
		return err
	}
	return d.InstallService(ctx)
}

func (e *Engine) startService(ctx context.Context) error {
	d, err := e.deployer()
	if err != nil {
		return err
	}
	return d.Activate(ctx)
}

func (e *Engine) verifyService(ctx context.Context) error {
	d, err := e.deployer()
	if err != nil {
		return err
	}
	out, err := d.Verify(ctx)
	if err != nil {
		return err
	}
	e.status = out
	return nil
}
