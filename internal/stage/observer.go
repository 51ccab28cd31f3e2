package stage

import (
	"time"

	"github.com/lucasnoah/rita/internal/logger"
	"github.com/lucasnoah/rita/internal/pipeline"
)

// LogObserver writes one log line per stage transition.
type LogObserver struct {
	log *logger.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(log *logger.Logger) *LogObserver {
	return &LogObserver{log: log.WithComponent("pipeline")}
}

func (o *LogObserver) StageStarted(run *pipeline.RunResult, stage string) {
	o.log.Info("stage started", logger.Fields(logger.FieldRunID, run.ID, logger.FieldStage, stage))
}

func (o *LogObserver) StageSucceeded(run *pipeline.RunResult, stage string, d time.Duration) {
	o.log.Info("stage succeeded", logger.Fields(
		logger.FieldRunID, run.ID, logger.FieldStage, stage, logger.FieldDuration, d.Milliseconds()))
}

func (o *LogObserver) StageFailed(run *pipeline.RunResult, stage string, err error, tolerated bool) {
	fields := logger.Fields(logger.FieldRunID, run.ID, logger.FieldStage, stage)
	if tolerated {
		o.log.WithError(err).Warn("stage failed, continuing", fields)
		return
	}
	o.log.WithError(err).Error("stage failed", fields)
}
