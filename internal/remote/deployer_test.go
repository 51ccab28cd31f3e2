package remote

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/lucasnoah/rita/internal/command"
	apperrors "github.com/lucasnoah/rita/internal/errors"
	"github.com/lucasnoah/rita/internal/unit"
)

// fakeSession records every operation and answers Exec from a table.
type fakeSession struct {
	ops       []string
	files     map[string][]byte
	exitCodes map[string]int
	uploadErr error
	closed    int
}

func newFakeSession() *fakeSession {
	return &fakeSession{files: map[string][]byte{}, exitCodes: map[string]int{}}
}

func (f *fakeSession) Upload(_ context.Context, localPath, remotePath string) (int64, error) {
	f.ops = append(f.ops, "upload "+localPath+" "+remotePath)
	if f.uploadErr != nil {
		return 0, f.uploadErr
	}
	return 42, nil
}

func (f *fakeSession) WriteFile(_ context.Context, remotePath string, data []byte) error {
	f.ops = append(f.ops, "write "+remotePath)
	f.files[remotePath] = data
	return nil
}

func (f *fakeSession) Exec(_ context.Context, cmd string) (*command.Result, error) {
	f.ops = append(f.ops, "exec "+cmd)
	code := f.exitCodes[cmd]
	res := &command.Result{ExitCode: code, Stdout: "ok"}
	if code != 0 {
		res.Stderr = "Failed to enable unit"
	}
	return res, nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	target  Target
	signer  ssh.Signer
	calls   int
}

func (d *fakeDialer) Dial(_ context.Context, t Target, signer ssh.Signer) (Session, error) {
	d.calls++
	d.target = t
	d.signer = signer
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func testConfig() Config {
	return Config{
		Target:    Target{Host: "droplet.example", User: "root"},
		RemoteDir: "/root/aggregator",
		Sudo:      true,
		Service: unit.Service{
			Name:        "projectshelly.service",
			Description: "Project Shelly Service",
			ExecStart:   "/root/aggregator/ProjectShelly",
		},
	}
}

func newTestDeployer(t *testing.T) (*Deployer, *fakeSession, *fakeDialer) {
	t.Helper()
	sess := newFakeSession()
	dialer := &fakeDialer{session: sess}
	return NewDeployer(dialer, testConfig(), nil), sess, dialer
}

func authenticate(t *testing.T, d *Deployer) {
	t.Helper()
	key, _ := newKeyPEM(t, "")
	require.NoError(t, d.Authenticate(context.Background(), key, nil))
}

func TestDeployer_FullProtocol(t *testing.T) {
	d, sess, dialer := newTestDeployer(t)
	ctx := context.Background()

	authenticate(t, d)
	assert.Equal(t, Authenticated, d.State())
	assert.Equal(t, "droplet.example", dialer.target.Host)
	assert.NotNil(t, dialer.signer)

	require.NoError(t, d.Upload(ctx, "/ws/out/zip/linux-x64.zip"))
	assert.Equal(t, "/root/aggregator/linux-x64.zip", d.RemoteArchive())
	require.NoError(t, d.Extract(ctx))
	require.NoError(t, d.InstallService(ctx))
	require.NoError(t, d.Activate(ctx))
	out, err := d.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, Verified, d.State())

	assert.Equal(t, []string{
		"upload /ws/out/zip/linux-x64.zip /root/aggregator/linux-x64.zip",
		"exec unzip -o /root/aggregator/linux-x64.zip -d /root/aggregator",
		"write /tmp/projectshelly.service",
		"exec sudo mv /tmp/projectshelly.service /etc/systemd/system/projectshelly.service",
		"exec sudo systemctl daemon-reload",
		"exec sudo systemctl enable projectshelly.service",
		"exec sudo systemctl start projectshelly.service",
		"exec sudo systemctl status projectshelly.service --no-pager",
	}, sess.ops)

	unitFile := string(sess.files["/tmp/projectshelly.service"])
	assert.Contains(t, unitFile, "ExecStart=/root/aggregator/ProjectShelly\n")
	assert.Contains(t, unitFile, "Restart=always\n")
	assert.Contains(t, unitFile, "WantedBy=multi-user.target\n")

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, sess.closed)
}

func TestDeployer_WithoutSudo(t *testing.T) {
	sess := newFakeSession()
	cfg := testConfig()
	cfg.Sudo = false
	d := NewDeployer(&fakeDialer{session: sess}, cfg, nil)
	ctx := context.Background()

	authenticate(t, d)
	require.NoError(t, d.Upload(ctx, "app.zip"))
	require.NoError(t, d.Extract(ctx))
	require.NoError(t, d.InstallService(ctx))
	require.NoError(t, d.Activate(ctx))

	for _, op := range sess.ops {
		assert.NotContains(t, op, "sudo")
	}
}

// A failing enable stops activation before start and names the command.
func TestDeployer_ActivateFailureNamesCommand(t *testing.T) {
	d, sess, _ := newTestDeployer(t)
	sess.exitCodes["sudo systemctl enable projectshelly.service"] = 1
	ctx := context.Background()

	authenticate(t, d)
	require.NoError(t, d.Upload(ctx, "linux-x64.zip"))
	require.NoError(t, d.Extract(ctx))
	require.NoError(t, d.InstallService(ctx))

	err := d.Activate(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRemoteCommand))
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, "sudo systemctl enable projectshelly.service", appErr.Details["command"])
	assert.Equal(t, 1, appErr.Details["exit_code"])
	assert.Contains(t, err.Error(), "Failed to enable unit")

	for _, op := range sess.ops {
		assert.False(t, strings.Contains(op, "systemctl start"), "start must not run after enable fails")
	}
	assert.Equal(t, ServiceInstalled, d.State())
}

// A failing unzip stops the deploy before the unit is staged.
func TestDeployer_ExtractFailureStopsInstall(t *testing.T) {
	d, sess, _ := newTestDeployer(t)
	unzip := "unzip -o /root/aggregator/linux-x64.zip -d /root/aggregator"
	sess.exitCodes[unzip] = 9
	ctx := context.Background()

	authenticate(t, d)
	require.NoError(t, d.Upload(ctx, "/ws/out/zip/linux-x64.zip"))

	err := d.Extract(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRemoteCommand))
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, unzip, appErr.Details["command"])
	assert.Equal(t, 9, appErr.Details["exit_code"])
	assert.Equal(t, 1, strings.Count(err.Error(), unzip), "command should appear once: %s", err)
	assert.Equal(t, Uploaded, d.State())

	assert.True(t, errors.Is(d.InstallService(ctx), ErrOutOfOrder))
	assert.True(t, errors.Is(d.Activate(ctx), ErrOutOfOrder))
	assert.Equal(t, []string{
		"upload /ws/out/zip/linux-x64.zip /root/aggregator/linux-x64.zip",
		"exec " + unzip,
	}, sess.ops)
}

// A failing start runs after reload and enable, and status never runs.
func TestDeployer_StartFailureSkipsVerify(t *testing.T) {
	d, sess, _ := newTestDeployer(t)
	sess.exitCodes["sudo systemctl start projectshelly.service"] = 1
	ctx := context.Background()

	authenticate(t, d)
	require.NoError(t, d.Upload(ctx, "linux-x64.zip"))
	require.NoError(t, d.Extract(ctx))
	require.NoError(t, d.InstallService(ctx))

	err := d.Activate(ctx)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeRemoteCommand, appErr.Code)
	assert.Equal(t, "sudo systemctl start projectshelly.service", appErr.Details["command"])
	assert.Equal(t, ServiceInstalled, d.State())

	_, err = d.Verify(ctx)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	n := len(sess.ops)
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, []string{
		"exec sudo systemctl daemon-reload",
		"exec sudo systemctl enable projectshelly.service",
		"exec sudo systemctl start projectshelly.service",
	}, sess.ops[n-3:])
	for _, op := range sess.ops {
		assert.NotContains(t, op, "systemctl status")
	}
}

// Steps called out of order fail without touching the session.
func TestDeployer_OutOfOrder(t *testing.T) {
	d, sess, dialer := newTestDeployer(t)
	ctx := context.Background()

	err := d.Upload(ctx, "linux-x64.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Error(t, d.Extract(ctx))
	assert.Error(t, d.InstallService(ctx))
	assert.Error(t, d.Activate(ctx))
	_, err = d.Verify(ctx)
	assert.Error(t, err)
	assert.Empty(t, sess.ops)
	assert.Equal(t, 0, dialer.calls)

	authenticate(t, d)
	err = d.Extract(ctx)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Empty(t, sess.ops)

	secret := []byte("key material")
	err = d.Authenticate(ctx, secret, nil)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, make([]byte, len(secret)), secret)
	assert.Equal(t, 1, dialer.calls)
}

func TestDeployer_AuthenticateFailures(t *testing.T) {
	ctx := context.Background()

	d, _, dialer := newTestDeployer(t)
	err := d.Authenticate(ctx, []byte("garbage!!"), nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAuthentication))
	assert.Equal(t, 0, dialer.calls)
	assert.Equal(t, Unauthenticated, d.State())

	d, _, dialer = newTestDeployer(t)
	dialer.err = errors.New("ssh: handshake failed: unable to authenticate")
	key, _ := newKeyPEM(t, "")
	err = d.Authenticate(ctx, key, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAuthentication))
	assert.Contains(t, err.Error(), "droplet.example:22")
	assert.Equal(t, Unauthenticated, d.State())
}

func TestDeployer_UploadFailure(t *testing.T) {
	d, sess, _ := newTestDeployer(t)
	sess.uploadErr = errors.New("permission denied")
	authenticate(t, d)

	err := d.Upload(context.Background(), "/out/linux-x64.zip")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransfer))
	assert.Equal(t, Authenticated, d.State())
}

func TestDeployer_InstallRejectsInvalidService(t *testing.T) {
	sess := newFakeSession()
	cfg := testConfig()
	cfg.Service.ExecStart = ""
	d := NewDeployer(&fakeDialer{session: sess}, cfg, nil)
	ctx := context.Background()

	authenticate(t, d)
	require.NoError(t, d.Upload(ctx, "a.zip"))
	require.NoError(t, d.Extract(ctx))
	err := d.InstallService(ctx)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
	assert.NotContains(t, sess.ops, "write /tmp/projectshelly.service")
}

func TestSessionRunner_RejectsDirAndEnv(t *testing.T) {
	r := SessionRunner{Session: newFakeSession()}
	_, err := r.Run(context.Background(), command.Cmd{Argv: []string{"ls"}, Dir: "/tmp"})
	assert.Error(t, err)
	_, err = r.Run(context.Background(), command.Cmd{})
	assert.Error(t, err)

	res, err := r.Run(context.Background(), command.Cmd{Argv: []string{"echo", "hello world"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
	assert.Equal(t, "verified", Verified.String())
	assert.Equal(t, "state(99)", State(99).String())
}
