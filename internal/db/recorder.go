package db

import (
	"sync"
	"time"

	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/pipeline"
)

// Recorder persists scheduler callbacks as run history. Write failures are
// logged and kept in Err; they never fail the run.
type Recorder struct {
	db      *DB
	runtime string
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	started map[string]bool
	seq     map[string]int
	err     error
}

// NewRecorder creates a Recorder that tags runs with runtime.
func NewRecorder(d *DB, runtime string, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{
		db:      d,
		runtime: runtime,
		log:     log.WithComponent("history"),
		now:     time.Now,
		started: make(map[string]bool),
		seq:     make(map[string]int),
	}
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) fail(err error) {
	r.log.Warn("history write failed", logger.Fields("error", err.Error()))
	if r.err == nil {
		r.err = err
	}
}

func (r *Recorder) ensureRun(run *pipeline.RunResult) bool {
	if r.started[run.ID] {
		return true
	}
	err := r.db.StartRun(Run{
		ID:        run.ID,
		Terminal:  run.Terminal,
		Runtime:   r.runtime,
		StartedAt: run.StartedAt,
	})
	if err != nil {
		r.fail(err)
		return false
	}
	r.started[run.ID] = true
	return true
}

func (r *Recorder) event(run *pipeline.RunResult, stage, event string, d time.Duration, stageErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ensureRun(run) {
		return
	}
	r.seq[run.ID]++
	ev := StageEvent{
		RunID:     run.ID,
		Seq:       r.seq[run.ID],
		Stage:     stage,
		Event:     event,
		Duration:  d,
		Timestamp: r.now(),
	}
	if stageErr != nil {
		ev.Error = stageErr.Error()
	}
	if err := r.db.LogStageEvent(ev); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) StageStarted(run *pipeline.RunResult, stage string) {
	r.event(run, stage, "started", 0, nil)
}

func (r *Recorder) StageSucceeded(run *pipeline.RunResult, stage string, d time.Duration) {
	r.event(run, stage, "succeeded", d, nil)
}

func (r *Recorder) StageFailed(run *pipeline.RunResult, stage string, err error, tolerated bool) {
	event := "failed"
	if tolerated {
		event = "tolerated"
	}
	r.event(run, stage, event, 0, err)
}

// Finish records the outcome of a completed run. Runs that never started
// a stage are inserted first.
func (r *Recorder) Finish(run *pipeline.RunResult, revision string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ensureRun(run) {
		return
	}
	err := r.db.FinishRun(run.ID, run.Status, run.FailedAt, run.Error, revision,
		run.StartedAt.Add(run.Duration), run.Duration)
	if err != nil {
		r.fail(err)
	}
}
