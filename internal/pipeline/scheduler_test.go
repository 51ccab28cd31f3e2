package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	apperrors "github.com/lucasnoah/rita/internal/errors"
)

// recorder logs every action invocation and observer callback.
type recorder struct {
	ran    []string
	events []string
}

func (r *recorder) action(name string, err error) Action {
	return func(context.Context) error {
		r.ran = append(r.ran, name)
		return err
	}
}

func (r *recorder) StageStarted(_ *RunResult, stage string) {
	r.events = append(r.events, "start:"+stage)
}

func (r *recorder) StageSucceeded(_ *RunResult, stage string, _ time.Duration) {
	r.events = append(r.events, "ok:"+stage)
}

func (r *recorder) StageFailed(_ *RunResult, stage string, _ error, tolerated bool) {
	if tolerated {
		r.events = append(r.events, "tolerated:"+stage)
		return
	}
	r.events = append(r.events, "fail:"+stage)
}

func buildPipeline(t *testing.T, r *recorder, failures map[string]error) *Graph {
	t.Helper()
	chain := []string{"init", "clean", "restore", "test", "compile", "compress"}
	b := NewBuilder()
	for i, name := range chain {
		s := Stage{Name: name, Action: r.action(name, failures[name])}
		if i > 0 {
			s.After = []string{chain[i-1]}
		}
		b.Register(s)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestRun_AllSucceed(t *testing.T) {
	r := &recorder{}
	s, err := NewScheduler(buildPipeline(t, r, nil), Options{Observers: []Observer{r}})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	res, err := s.Run(context.Background(), "compress")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"init", "clean", "restore", "test", "compile", "compress"}
	if !reflect.DeepEqual(r.ran, want) {
		t.Errorf("ran = %v, want %v", r.ran, want)
	}
	if res.Status != StatusSucceeded {
		t.Errorf("Status = %q, want %q", res.Status, StatusSucceeded)
	}
	if res.ID == "" {
		t.Error("run ID should be set")
	}
	for _, sr := range res.Stages {
		if sr.Status != StatusSucceeded {
			t.Errorf("stage %s status = %q, want succeeded", sr.Name, sr.Status)
		}
	}
}

func TestRun_ClosureOnly(t *testing.T) {
	r := &recorder{}
	s, err := NewScheduler(buildPipeline(t, r, nil), Options{})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if _, err := s.Run(context.Background(), "restore"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"init", "clean", "restore"}
	if !reflect.DeepEqual(r.ran, want) {
		t.Errorf("ran = %v, want %v", r.ran, want)
	}
}

func TestRun_DiamondRunsSharedPredecessorOnce(t *testing.T) {
	r := &recorder{}
	g, err := NewBuilder().
		Register(Stage{Name: "init", Action: r.action("init", nil)}).
		Register(Stage{Name: "left", After: []string{"init"}, Action: r.action("left", nil)}).
		Register(Stage{Name: "right", After: []string{"init"}, Action: r.action("right", nil)}).
		Register(Stage{Name: "join", After: []string{"left", "right"}, Action: r.action("join", nil)}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, _ := NewScheduler(g, Options{})
	if _, err := s.Run(context.Background(), "join"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"init", "left", "right", "join"}
	if !reflect.DeepEqual(r.ran, want) {
		t.Errorf("ran = %v, want %v", r.ran, want)
	}
}

// A failing test stage stops the run before compile, after tolerated
// clean and restore failures were skipped past.
func TestRun_FailFastAfterTolerated(t *testing.T) {
	r := &recorder{}
	testErr := apperrors.Build("test", errors.New("2 failed"))
	g := buildPipeline(t, r, map[string]error{
		"clean":   errors.New("clean broke"),
		"restore": errors.New("restore broke"),
		"test":    testErr,
	})
	s, err := NewScheduler(g, Options{Tolerant: []string{"clean", "restore"}, Observers: []Observer{r}})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	res, err := s.Run(context.Background(), "compress")
	if err == nil {
		t.Fatal("expected error")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error %T is not a *StageError", err)
	}
	if stageErr.Stage != "test" {
		t.Errorf("failing stage = %q, want test", stageErr.Stage)
	}
	if !errors.Is(err, testErr) {
		t.Error("StageError should wrap the action's error")
	}
	if !apperrors.IsCode(err, apperrors.ErrCodeBuild) {
		t.Error("error code should be visible through StageError")
	}

	wantRan := []string{"init", "clean", "restore", "test"}
	if !reflect.DeepEqual(r.ran, wantRan) {
		t.Errorf("ran = %v, want %v", r.ran, wantRan)
	}
	wantEvents := []string{
		"start:init", "ok:init",
		"start:clean", "tolerated:clean",
		"start:restore", "tolerated:restore",
		"start:test", "fail:test",
	}
	if !reflect.DeepEqual(r.events, wantEvents) {
		t.Errorf("events = %v, want %v", r.events, wantEvents)
	}

	if res == nil {
		t.Fatal("RunResult should be returned on stage failure")
	}
	if res.FailedAt != "test" {
		t.Errorf("FailedAt = %q, want test", res.FailedAt)
	}
	statuses := map[string]string{}
	for _, sr := range res.Stages {
		statuses[sr.Name] = sr.Status
	}
	wantStatuses := map[string]string{
		"init": StatusSucceeded, "clean": StatusTolerated, "restore": StatusTolerated,
		"test": StatusFailed, "compile": StatusSkipped, "compress": StatusSkipped,
	}
	if !reflect.DeepEqual(statuses, wantStatuses) {
		t.Errorf("statuses = %v, want %v", statuses, wantStatuses)
	}
	if got := res.Executed(); !reflect.DeepEqual(got, wantRan) {
		t.Errorf("Executed = %v, want %v", got, wantRan)
	}
}

func TestRun_NonTolerantCleanAborts(t *testing.T) {
	r := &recorder{}
	g := buildPipeline(t, r, map[string]error{"clean": errors.New("boom")})
	s, _ := NewScheduler(g, Options{})

	_, err := s.Run(context.Background(), "compress")
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "clean" {
		t.Fatalf("err = %v, want StageError for clean", err)
	}
	if len(r.ran) != 2 {
		t.Errorf("ran = %v, want [init clean]", r.ran)
	}
}

func TestRun_StageFlagTolerant(t *testing.T) {
	r := &recorder{}
	g, err := NewBuilder().
		Register(Stage{Name: "a", Tolerant: true, Action: r.action("a", errors.New("x"))}).
		Register(Stage{Name: "b", After: []string{"a"}, Action: r.action("b", nil)}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, _ := NewScheduler(g, Options{})
	if !s.Tolerant("a") {
		t.Error("stage a should be tolerant")
	}
	if _, err := s.Run(context.Background(), "b"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_PanicBecomesError(t *testing.T) {
	g, err := NewBuilder().
		Register(Stage{Name: "a", Action: func(context.Context) error { panic("kaboom") }}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, _ := NewScheduler(g, Options{})
	_, err = s.Run(context.Background(), "a")
	if !apperrors.IsCode(err, apperrors.ErrCodeInternal) {
		t.Errorf("err = %v, want internal error", err)
	}
}

func TestRun_CanceledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	g, err := NewBuilder().
		Register(Stage{Name: "a", Action: func(context.Context) error {
			ran = append(ran, "a")
			cancel()
			return nil
		}}).
		Register(Stage{Name: "b", After: []string{"a"}, Action: func(context.Context) error {
			ran = append(ran, "b")
			return nil
		}}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, _ := NewScheduler(g, Options{})
	res, err := s.Run(ctx, "b")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !reflect.DeepEqual(ran, []string{"a"}) {
		t.Errorf("ran = %v, want [a]", ran)
	}
	if res.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}
}

func TestRun_UnknownTerminal(t *testing.T) {
	s, _ := NewScheduler(buildPipeline(t, &recorder{}, nil), Options{})
	res, err := s.Run(context.Background(), "deploy")
	if !apperrors.IsCode(err, apperrors.ErrCodeConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
	if res != nil {
		t.Error("no RunResult expected for an unresolvable terminal")
	}
}

func TestNewScheduler_UnknownTolerant(t *testing.T) {
	_, err := NewScheduler(buildPipeline(t, &recorder{}, nil), Options{Tolerant: []string{"lint"}})
	if !apperrors.IsCode(err, apperrors.ErrCodeConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestPlan_DoesNotExecute(t *testing.T) {
	r := &recorder{}
	s, _ := NewScheduler(buildPipeline(t, r, nil), Options{})
	got, err := s.Plan("test")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := []string{"init", "clean", "restore", "test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Plan = %v, want %v", got, want)
	}
	if len(r.ran) != 0 {
		t.Errorf("Plan ran actions: %v", r.ran)
	}
}

func TestWriteReport_RoundTrip(t *testing.T) {
	r := &recorder{}
	s, _ := NewScheduler(buildPipeline(t, r, map[string]error{"compile": errors.New("nope")}), Options{})
	res, _ := s.Run(context.Background(), "compress")

	path := filepath.Join(t.TempDir(), "reports", "run.json")
	if err := WriteReport(path, res); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	got, err := ReadReport(path)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if got.ID != res.ID || got.FailedAt != "compile" {
		t.Errorf("report = %+v, want id %s failed at compile", got, res.ID)
	}
	if len(got.Stages) != len(res.Stages) {
		t.Errorf("report stages = %d, want %d", len(got.Stages), len(res.Stages))
	}
}
