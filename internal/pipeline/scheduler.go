package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lucasnoah/rita/internal/errors"
)

// Stage statuses recorded in a RunResult.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTolerated = "tolerated"
	StatusSkipped   = "skipped"
)

// StageError attaches the failing stage's name to its cause.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageResult is the outcome of one stage in a run.
type StageResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunResult is the record of one invocation. It is discarded after the run;
// nothing in it is consulted by later runs.
type RunResult struct {
	ID        string        `json:"id"`
	Terminal  string        `json:"terminal"`
	Status    string        `json:"status"`
	FailedAt  string        `json:"failed_at,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Stages    []StageResult `json:"stages"`
}

// Executed returns the names of stages whose action ran, in order.
func (r *RunResult) Executed() []string {
	var names []string
	for _, s := range r.Stages {
		if s.Status != StatusSkipped {
			names = append(names, s.Name)
		}
	}
	return names
}

// Observer receives stage lifecycle callbacks. Calls are made synchronously
// on the scheduler's goroutine.
type Observer interface {
	StageStarted(run *RunResult, stage string)
	StageSucceeded(run *RunResult, stage string, d time.Duration)
	StageFailed(run *RunResult, stage string, err error, tolerated bool)
}

// Options configures a Scheduler.
type Options struct {
	// Tolerant names stages whose failure is logged and skipped past
	// instead of aborting the run.
	Tolerant  []string
	Observers []Observer
}

// Scheduler runs the dependency closure of a terminal stage, one stage at a time.
type Scheduler struct {
	graph     *Graph
	tolerant  map[string]bool
	observers []Observer
	now       func() time.Time
}

// NewScheduler creates a Scheduler. Every tolerant name must be a declared stage.
func NewScheduler(g *Graph, opts Options) (*Scheduler, error) {
	tolerant := make(map[string]bool, len(opts.Tolerant))
	for _, st := range g.stages {
		if st.Tolerant {
			tolerant[st.Name] = true
		}
	}
	for _, name := range opts.Tolerant {
		if _, ok := g.Stage(name); !ok {
			return nil, apperrors.Configuration("tolerant stage %q is not declared", name)
		}
		tolerant[name] = true
	}
	return &Scheduler{
		graph:     g,
		tolerant:  tolerant,
		observers: opts.Observers,
		now:       time.Now,
	}, nil
}

// Tolerant reports whether a failure of the named stage is tolerated.
func (s *Scheduler) Tolerant(name string) bool {
	return s.tolerant[name]
}

// Graph returns the scheduler's stage graph.
func (s *Scheduler) Graph() *Graph {
	return s.graph
}

// Plan returns the stage names Run would execute, without executing them.
func (s *Scheduler) Plan(terminal string) ([]string, error) {
	stages, err := s.graph.Resolve(terminal)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name
	}
	return names, nil
}

// Run executes terminal and its transitive predecessors in dependency order.
// The first failure of a non-tolerant stage stops the run; the returned error
// is a *StageError naming that stage. The RunResult is returned in all cases
// once the graph has been resolved.
func (s *Scheduler) Run(ctx context.Context, terminal string) (*RunResult, error) {
	stages, err := s.graph.Resolve(terminal)
	if err != nil {
		return nil, err
	}

	start := s.now()
	result := &RunResult{
		ID:        uuid.NewString(),
		Terminal:  terminal,
		StartedAt: start.UTC(),
		Stages:    make([]StageResult, len(stages)),
	}
	for i, st := range stages {
		result.Stages[i] = StageResult{Name: st.Name, Status: StatusSkipped}
	}

	done := make(map[string]bool, len(stages))
	for i, st := range stages {
		if done[st.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return s.finish(result, start, "", fmt.Errorf("run canceled before stage %s: %w", st.Name, err))
		}

		for _, o := range s.observers {
			o.StageStarted(result, st.Name)
		}
		stageStart := s.now()
		runErr := invoke(ctx, st)
		d := s.now().Sub(stageStart)
		done[st.Name] = true

		result.Stages[i].Duration = d
		if runErr == nil {
			result.Stages[i].Status = StatusSucceeded
			for _, o := range s.observers {
				o.StageSucceeded(result, st.Name, d)
			}
			continue
		}

		result.Stages[i].Error = runErr.Error()
		if s.tolerant[st.Name] {
			result.Stages[i].Status = StatusTolerated
			for _, o := range s.observers {
				o.StageFailed(result, st.Name, runErr, true)
			}
			continue
		}

		result.Stages[i].Status = StatusFailed
		for _, o := range s.observers {
			o.StageFailed(result, st.Name, runErr, false)
		}
		return s.finish(result, start, st.Name, &StageError{Stage: st.Name, Err: runErr})
	}

	return s.finish(result, start, "", nil)
}

func (s *Scheduler) finish(result *RunResult, start time.Time, failedAt string, err error) (*RunResult, error) {
	result.Duration = s.now().Sub(start)
	result.FailedAt = failedAt
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result, err
	}
	result.Status = StatusSucceeded
	return result, nil
}

// invoke runs a stage action, turning a panic into an internal error.
func invoke(ctx context.Context, st Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Internal(fmt.Errorf("panic in stage %s: %v", st.Name, r))
		}
	}()
	return st.Action(ctx)
}
