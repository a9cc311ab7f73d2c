package worker

import (
	"context"
	"sync"
	"time"
	"voxagent/pkg/logger"
	"voxagent/pkg/model"

	"go.uber.org/zap"
)

const busyDetail = "Worker is processing another job"

// Sender writes one control frame to the coordinator
type Sender interface {
	Send(v any) error
}

// JobRunner executes an admitted job to completion
type JobRunner interface {
	Run(ctx context.Context, out Sender, job model.Job)
}

// Gate admits at most one job at a time. Jobs run on the context given to
// NewGate, so they outlive the control connection that delivered them.
type Gate struct {
	ctx      context.Context
	workerID string
	state    *State
	runner   JobRunner
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewGate(ctx context.Context, workerID string, state *State, runner JobRunner) *Gate {
	return &Gate{
		ctx:      ctx,
		workerID: workerID,
		state:    state,
		runner:   runner,
		now:      time.Now,
	}
}

// Admit starts job in the background and returns immediately. A busy worker
// answers job.error{busy} and its state is left untouched.
func (g *Gate) Admit(out Sender, job model.Job) bool {
	if !g.state.TryBegin(job.ID, g.now()) {
		current, _ := g.state.Snapshot()
		logger.Warn("Rejecting job, worker is busy",
			zap.String("job_id", job.ID),
			zap.String("current_job_id", current.ID))
		if err := out.Send(model.NewJobError(g.workerID, job.ID, model.ErrCodeBusy, busyDetail)); err != nil {
			logger.Warn("Failed to send busy rejection", zap.String("job_id", job.ID), zap.Error(err))
		}
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.state.End(job.ID)
		g.runner.Run(g.ctx, out, job)
	}()
	return true
}

// Wait blocks until the in-flight job, if any, has finished
func (g *Gate) Wait() {
	g.wg.Wait()
}
