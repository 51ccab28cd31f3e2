package stage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/lucasnoah/rita/internal/build"
	"github.com/lucasnoah/rita/internal/config"
	apperrors "github.com/lucasnoah/rita/internal/errors"
	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/paths"
	"github.com/lucasnoah/rita/internal/pipeline"
)

// mockBuilder records calls and fails on request.
type mockBuilder struct {
	calls []string
	fail  map[string]error
}

func (m *mockBuilder) step(name string) error {
	m.calls = append(m.calls, name)
	return m.fail[name]
}

func (m *mockBuilder) Clean(context.Context) error   { return m.step("clean") }
func (m *mockBuilder) Restore(context.Context) error { return m.step("restore") }
func (m *mockBuilder) Test(context.Context) error    { return m.step("test") }
func (m *mockBuilder) Compile(_ context.Context, rt paths.Runtime) error {
	return m.step("compile " + rt.Identifier)
}
func (m *mockBuilder) Package(_ context.Context, rt paths.Runtime) (*build.Artifact, error) {
	if err := m.step("package " + rt.Identifier); err != nil {
		return nil, err
	}
	return &build.Artifact{ArchivePath: "/out/zip/" + rt.Identifier + ".zip", Runtime: rt}, nil
}

// mockDeployer records calls in protocol order.
type mockDeployer struct {
	calls  []string
	secret []byte
	fail   map[string]error
	closed int
}

func (m *mockDeployer) step(name string) error {
	m.calls = append(m.calls, name)
	return m.fail[name]
}

func (m *mockDeployer) Authenticate(_ context.Context, secret, _ []byte) error {
	m.secret = append([]byte(nil), secret...)
	return m.step("authenticate")
}
func (m *mockDeployer) Upload(_ context.Context, archive string) error {
	return m.step("upload " + archive)
}
func (m *mockDeployer) Extract(context.Context) error        { return m.step("extract") }
func (m *mockDeployer) InstallService(context.Context) error { return m.step("install") }
func (m *mockDeployer) Activate(context.Context) error       { return m.step("activate") }
func (m *mockDeployer) Verify(context.Context) (string, error) {
	return "active (running)", m.step("verify")
}
func (m *mockDeployer) Close() error {
	m.closed++
	return nil
}

func setupEngine(t *testing.T, b *mockBuilder, d *mockDeployer, tolerant []string) (*Engine, *paths.Plan) {
	t.Helper()
	plan, err := paths.NewPlan(t.TempDir())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	opts := Options{
		Plan:        plan,
		Runtime:     paths.LinuxX64,
		Provisioner: paths.NewProvisioner(),
		Builder:     b,
		Credentials: func() ([]byte, []byte, error) { return []byte("KEY"), nil, nil },
		Tolerant:    tolerant,
	}
	if d != nil {
		opts.Deployer = d
	}
	return NewEngine(opts), plan
}

func TestGraph_OrderMatchesConfigStageNames(t *testing.T) {
	e, _ := setupEngine(t, &mockBuilder{}, nil, nil)
	g, err := e.Graph()
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if got := g.Order(); !reflect.DeepEqual(got, config.StageNames) {
		t.Errorf("Order = %v, want %v", got, config.StageNames)
	}
}

func TestRun_FullDeploy(t *testing.T) {
	b := &mockBuilder{}
	d := &mockDeployer{}
	e, plan := setupEngine(t, b, d, []string{Clean, Restore})

	res, err := e.Run(context.Background(), VerifyService)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != pipeline.StatusSucceeded {
		t.Errorf("Status = %q", res.Status)
	}

	wantBuild := []string{"clean", "restore", "test", "compile linux-x64", "package linux-x64"}
	if !reflect.DeepEqual(b.calls, wantBuild) {
		t.Errorf("builder calls = %v, want %v", b.calls, wantBuild)
	}
	wantDeploy := []string{"authenticate", "upload /out/zip/linux-x64.zip", "extract", "install", "activate", "verify"}
	if !reflect.DeepEqual(d.calls, wantDeploy) {
		t.Errorf("deployer calls = %v, want %v", d.calls, wantDeploy)
	}
	if string(d.secret) != "KEY" {
		t.Errorf("secret = %q", d.secret)
	}
	if d.closed != 1 {
		t.Errorf("deployer closed %d times, want 1", d.closed)
	}
	if e.ServiceStatus() != "active (running)" {
		t.Errorf("ServiceStatus = %q", e.ServiceStatus())
	}

	entries, _ := plan.Entries(paths.LinuxX64)
	for _, entry := range entries {
		if info, err := os.Stat(entry.Path); err != nil || !info.IsDir() {
			t.Errorf("init did not create %s", entry.Path)
		}
	}
}

// Tolerated clean and restore failures are skipped past; a failing test
// stops the run before compile and nothing remote happens.
func TestRun_TestFailureStopsBeforeCompile(t *testing.T) {
	b := &mockBuilder{fail: map[string]error{
		"clean":   apperrors.Build("clean", errors.New("exit 1")),
		"restore": apperrors.Build("restore", errors.New("exit 1")),
		"test":    apperrors.Build("test core", errors.New("2 failed")),
	}}
	d := &mockDeployer{}
	e, _ := setupEngine(t, b, d, []string{Clean, Restore})

	res, err := e.Run(context.Background(), VerifyService)
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != Test {
		t.Fatalf("err = %v, want StageError for test", err)
	}
	if !apperrors.IsCode(err, apperrors.ErrCodeBuild) {
		t.Errorf("err code: %v", err)
	}
	if want := []string{"clean", "restore", "test"}; !reflect.DeepEqual(b.calls, want) {
		t.Errorf("builder calls = %v, want %v", b.calls, want)
	}
	if len(d.calls) != 0 {
		t.Errorf("deployer should not be used, got %v", d.calls)
	}
	if res.FailedAt != Test {
		t.Errorf("FailedAt = %q", res.FailedAt)
	}
	if e.Artifact() != nil {
		t.Error("no artifact expected")
	}
}

func TestRun_BuildOnlyWithoutDeployer(t *testing.T) {
	b := &mockBuilder{}
	e, _ := setupEngine(t, b, nil, nil)

	if _, err := e.Run(context.Background(), Compress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.Artifact() == nil || e.Artifact().ArchivePath != "/out/zip/linux-x64.zip" {
		t.Errorf("Artifact = %+v", e.Artifact())
	}

	_, err := e.Run(context.Background(), Transfer)
	if !errors.Is(err, ErrRemoteNotConfigured) {
		t.Errorf("err = %v, want ErrRemoteNotConfigured", err)
	}
}

func TestRun_CredentialFailure(t *testing.T) {
	d := &mockDeployer{}
	e, _ := setupEngine(t, &mockBuilder{}, d, nil)
	e.opts.Credentials = func() ([]byte, []byte, error) { return nil, nil, errors.New("ENERGY_SECRET is not set") }

	_, err := e.Run(context.Background(), Authenticate)
	if !apperrors.IsCode(err, apperrors.ErrCodeAuthentication) {
		t.Errorf("err = %v, want authentication error", err)
	}
	if len(d.calls) != 0 {
		t.Errorf("deployer calls = %v", d.calls)
	}
}

func TestRun_RemoteFailureNamesStage(t *testing.T) {
	d := &mockDeployer{fail: map[string]error{"activate": apperrors.RemoteCommand("sudo systemctl enable x.service", 1, nil)}}
	e, _ := setupEngine(t, &mockBuilder{}, d, nil)

	_, err := e.Run(context.Background(), VerifyService)
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StartService {
		t.Fatalf("err = %v, want StageError for start-service", err)
	}
	if d.calls[len(d.calls)-1] != "activate" {
		t.Errorf("verify should not run after activate fails: %v", d.calls)
	}
	if d.closed != 1 {
		t.Error("deployer should be closed after a failed run")
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(logger.Config{Level: "info", Format: "json"}, &buf)
	b := &mockBuilder{fail: map[string]error{"clean": errors.New("dotnet missing")}}
	plan, _ := paths.NewPlan(t.TempDir())
	e := NewEngine(Options{
		Plan: plan, Runtime: paths.LinuxX64, Provisioner: paths.NewProvisioner(),
		Builder: b, Tolerant: []string{Clean}, Log: log,
	})

	if _, err := e.Run(context.Background(), Restore); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`"message":"stage started"`,
		`"message":"stage failed, continuing"`,
		`"stage":"restore"`,
		`"message":"ensuring directory"`,
		`dotnet missing`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestRun_ExtractFailureStopsBeforeInstall(t *testing.T) {
	d := &mockDeployer{fail: map[string]error{
		"extract": apperrors.RemoteCommand("unzip -o /root/aggregator/linux-x64.zip -d /root/aggregator", 9, nil),
	}}
	e, _ := setupEngine(t, &mockBuilder{}, d, nil)

	res, err := e.Run(context.Background(), VerifyService)
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != Extract {
		t.Fatalf("err = %v, want StageError for extract", err)
	}
	if !apperrors.IsCode(err, apperrors.ErrCodeRemoteCommand) {
		t.Errorf("err code: %v", err)
	}
	want := []string{"authenticate", "upload /out/zip/linux-x64.zip", "extract"}
	if !reflect.DeepEqual(d.calls, want) {
		t.Errorf("deployer calls = %v, want %v", d.calls, want)
	}
	if res.FailedAt != Extract {
		t.Errorf("FailedAt = %q", res.FailedAt)
	}
	if d.closed != 1 {
		t.Errorf("deployer closed %d times, want 1", d.closed)
	}
}
