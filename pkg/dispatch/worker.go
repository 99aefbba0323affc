// Package dispatch implements the dispatch worker: it consumes job requests,
// claims each job (PENDING -> RUNNING), stages the input into the job's
// working area and hands the job to the execution stage.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/handoff"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/workspace"
)

// Deps are the collaborators of a Worker.
type Deps struct {
	Store     jobstore.Store
	Inputs    provider.ObjectGetter
	Workspace *workspace.Workspace
	Launcher  handoff.Launcher
	Logger    *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Worker handles job-requested messages.
type Worker struct {
	store    jobstore.Store
	inputs   provider.ObjectGetter
	ws       *workspace.Workspace
	launcher handoff.Launcher
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Worker.
func New(d Deps) (*Worker, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("dispatch: store is required")
	case d.Inputs == nil:
		return nil, errors.New("dispatch: inputs provider is required")
	case d.Workspace == nil:
		return nil, errors.New("dispatch: workspace is required")
	case d.Launcher == nil:
		return nil, errors.New("dispatch: launcher is required")
	}
	w := &Worker{
		store:    d.Store,
		inputs:   d.Inputs,
		ws:       d.Workspace,
		launcher: d.Launcher,
		logger:   d.Logger,
		now:      d.Now,
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// Register binds the worker to the job-requested event on c.
func (w *Worker) Register(c *queue.Consumer) {
	c.Handle(message.EventJobRequested, w.Handle)
}

// Handle processes one job request. A nil return acknowledges the message.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	var req message.JobRequest
	if err := message.Unmarshal(d.Payload, &req); err != nil {
		return err
	}
	log := w.logger.With(zap.String("job_id", req.JobID))

	rec, err := w.store.Get(ctx, req.JobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return fmt.Errorf("%w: %w", message.ErrMalformed, err)
		}
		return err
	}

	switch {
	case rec.Status == job.StatusCompleted:
		log.Info("Job already completed; skipping")
		return nil
	case rec.Status == job.StatusRunning && !rec.RequeuePending:
		log.Info("Job already running; skipping", zap.Time("started_at", rec.StartedAt()))
		return nil
	}

	claimed, err := w.store.Claim(ctx, req.JobID, w.now())
	if err != nil {
		if jobstore.IsConflict(err) {
			log.Info("Job claimed by another worker; skipping")
			return nil
		}
		return err
	}
	log = log.With(zap.Int("attempt", claimed.Attempts))

	task, err := w.stage(ctx, claimed)
	if err != nil {
		w.reopen(ctx, log, claimed)
		if provider.IsNotFound(err) {
			return fmt.Errorf("%w: input %s: %w", message.ErrMalformed, claimed.InputKey, err)
		}
		return fmt.Errorf("stage input: %w", err)
	}

	if _, err := w.launcher.Launch(ctx, task); err != nil {
		w.reopen(ctx, log, claimed)
		_ = w.ws.Remove(claimed.JobID)
		return fmt.Errorf("launch execution stage: %w", err)
	}

	log.Info("Job dispatched", zap.String("input", task.InputPath))
	return nil
}

func (w *Worker) stage(ctx context.Context, rec *job.Record) (handoff.Task, error) {
	if _, err := w.ws.Prepare(rec.JobID); err != nil {
		return handoff.Task{}, err
	}
	inputPath := w.ws.InputPath(rec.JobID, rec.InputFileName)
	if _, err := provider.DownloadFile(ctx, w.inputs, rec.InputKey, inputPath); err != nil {
		_ = w.ws.Remove(rec.JobID)
		return handoff.Task{}, err
	}
	return handoff.Task{
		InputPath:     inputPath,
		JobID:         rec.JobID,
		InputFileName: rec.InputFileName,
		OwnerPath:     rec.OwnerPath(),
	}, nil
}

// reopen flags our own claim so the redelivered request can claim it again.
func (w *Worker) reopen(ctx context.Context, log *zap.Logger, rec *job.Record) {
	if err := w.store.Requeue(ctx, rec.JobID, rec.StartedAt()); err != nil {
		log.Warn("Failed to reopen claim; job stays RUNNING until reaped", zap.Error(err))
	}
}
