// Package remote deploys a built archive to one host over SSH and runs it
// as a systemd service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/rita/internal/command"
	apperrors "github.com/lucasnoah/rita/internal/errors"
	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/unit"
)

// State is the deployer's position in the deploy protocol.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Uploaded
	Extracted
	ServiceInstalled
	ServiceRunning
	Verified
)

var stateNames = [...]string{
	"unauthenticated", "authenticated", "uploaded", "extracted",
	"service-installed", "service-running", "verified",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrOutOfOrder is returned when a step is called before its predecessor.
var ErrOutOfOrder = errors.New("deploy step called out of order")

// UnitDir is where systemd unit files are installed.
const UnitDir = "/etc/systemd/system"

// Config describes where and what to deploy.
type Config struct {
	Target Target
	// RemoteDir receives the archive and its extracted contents.
	RemoteDir string
	// Sudo prefixes service management commands with "sudo".
	Sudo    bool
	Service unit.Service
	// UnitTemplate overrides unit.DefaultTemplate when non-empty.
	UnitTemplate string
}

// Deployer drives one deployment. Each step requires the state left by
// the previous one; a step called out of order fails without using the
// session.
type Deployer struct {
	dialer  Dialer
	cfg     Config
	log     *logger.Logger
	session Session
	state   State
	archive string
}

// NewDeployer creates a Deployer in the Unauthenticated state.
func NewDeployer(dialer Dialer, cfg Config, log *logger.Logger) *Deployer {
	if log == nil {
		log = logger.Nop()
	}
	return &Deployer{dialer: dialer, cfg: cfg, log: log.WithComponent("remote")}
}

// State returns the current protocol state.
func (d *Deployer) State() State {
	return d.state
}

// RemoteArchive returns the remote path of the uploaded archive, once uploaded.
func (d *Deployer) RemoteArchive() string {
	return d.archive
}

func (d *Deployer) expect(want State, step string) error {
	if d.state != want {
		return apperrors.Internal(fmt.Errorf("%w: %s requires state %s, current state is %s",
			ErrOutOfOrder, step, want, d.state))
	}
	return nil
}

// Authenticate parses the private key and opens the session. secret is
// zeroed before return whether or not authentication succeeds.
func (d *Deployer) Authenticate(ctx context.Context, secret, passphrase []byte) error {
	if err := d.expect(Unauthenticated, "authenticate"); err != nil {
		Zero(secret)
		return err
	}
	host := d.cfg.Target.Addr()

	signer, err := ParseSigner(secret, passphrase)
	if err != nil {
		return apperrors.Authentication(host, err)
	}
	d.log.Info("connecting", logger.Fields("host", host, "user", d.cfg.Target.User))
	sess, err := d.dialer.Dial(ctx, d.cfg.Target, signer)
	if err != nil {
		return apperrors.Authentication(host, err)
	}
	d.session = sess
	d.state = Authenticated
	d.log.Info("connected", logger.Fields("host", host))
	return nil
}

// Upload copies the archive into the remote directory.
func (d *Deployer) Upload(ctx context.Context, archive string) error {
	if err := d.expect(Authenticated, "upload"); err != nil {
		return err
	}
	remotePath := path.Join(d.cfg.RemoteDir, filepath.Base(archive))
	d.log.Info("uploading artifact", logger.Fields(logger.FieldPath, archive, "remote", remotePath))
	n, err := d.session.Upload(ctx, archive, remotePath)
	if err != nil {
		return apperrors.Transfer(archive, remotePath, err)
	}
	d.archive = remotePath
	d.state = Uploaded
	d.log.Info("artifact uploaded", logger.Fields("bytes", n))
	return nil
}

// Extract unzips the uploaded archive in place, overwriting existing files.
func (d *Deployer) Extract(ctx context.Context) error {
	if err := d.expect(Uploaded, "extract"); err != nil {
		return err
	}
	if _, err := d.run(ctx, false, "unzip", "-o", d.archive, "-d", d.cfg.RemoteDir); err != nil {
		return err
	}
	d.state = Extracted
	return nil
}

// InstallService renders the unit file, stages it in /tmp and moves it
// into the systemd unit directory.
func (d *Deployer) InstallService(ctx context.Context) error {
	if err := d.expect(Extracted, "install service"); err != nil {
		return err
	}
	data, err := unit.Render(d.cfg.Service, d.cfg.UnitTemplate)
	if err != nil {
		return err
	}
	name := d.cfg.Service.Name
	staged := path.Join("/tmp", name)
	if err := d.session.WriteFile(ctx, staged, data); err != nil {
		return apperrors.Transfer("unit "+name, staged, err)
	}
	d.log.Info("unit file staged", logger.Fields("remote", staged))
	if _, err := d.run(ctx, true, "mv", staged, path.Join(UnitDir, name)); err != nil {
		return err
	}
	d.state = ServiceInstalled
	return nil
}

// Activate reloads systemd, then enables and starts the service.
func (d *Deployer) Activate(ctx context.Context) error {
	if err := d.expect(ServiceInstalled, "activate"); err != nil {
		return err
	}
	name := d.cfg.Service.Name
	for _, argv := range [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", name},
		{"systemctl", "start", name},
	} {
		if _, err := d.run(ctx, true, argv...); err != nil {
			return err
		}
	}
	d.state = ServiceRunning
	return nil
}

// Verify queries the service status and returns its output.
func (d *Deployer) Verify(ctx context.Context) (string, error) {
	if err := d.expect(ServiceRunning, "verify"); err != nil {
		return "", err
	}
	res, err := d.run(ctx, true, "systemctl", "status", d.cfg.Service.Name, "--no-pager")
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Output())
	d.log.Info("service status", logger.Fields("output", out))
	d.state = Verified
	return out, nil
}

// Close releases the session. It is safe to call more than once.
func (d *Deployer) Close() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	d.state = Unauthenticated
	return err
}

// run executes argv on the remote host and requires a zero exit.
func (d *Deployer) run(ctx context.Context, privileged bool, argv ...string) (*command.Result, error) {
	if privileged && d.cfg.Sudo {
		argv = append([]string{"sudo"}, argv...)
	}
	cmd := command.Cmd{Argv: argv}
	d.log.Info("remote command", logger.Fields(logger.FieldCommand, cmd.String()))

	res, err := command.Require(ctx, SessionRunner{Session: d.session}, cmd)
	if err == nil {
		return res, nil
	}
	var exitErr *command.ExitError
	if !errors.As(err, &exitErr) {
		return res, apperrors.RemoteCommand(cmd.String(), -1, err)
	}
	// The command and exit code are already in the message; keep only the output.
	var cause error
	if exitErr.Output != "" {
		cause = errors.New(exitErr.Output)
	}
	return res, apperrors.RemoteCommand(cmd.String(), exitErr.ExitCode, cause)
}

// SessionRunner adapts a Session to command.Runner. Argv is quoted for
// the remote shell; Dir and Env are not supported.
type SessionRunner struct {
	Session Session
}

func (r SessionRunner) Run(ctx context.Context, cmd command.Cmd) (*command.Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("remote: empty argv")
	}
	if cmd.Dir != "" || len(cmd.Env) > 0 {
		return nil, fmt.Errorf("remote: Dir and Env are not supported")
	}
	return r.Session.Exec(ctx, cmd.String())
}
