// Package execution implements the execution stage: run the annotation tool
// for a claimed job, publish its artifacts to hot storage and complete the
// job record.
package execution

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/handoff"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/profile"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/workspace"
)

// Deps are the collaborators of a Stage.
type Deps struct {
	Store         jobstore.Store
	Results       provider.ObjectPutter
	ResultsBucket string
	Profiles      profile.Directory
	Publisher     notify.Publisher
	ResultsTopic  string
	Workspace     *workspace.Workspace
	Tool          Tool
	Logger        *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Stage runs one job to completion.
type Stage struct {
	d Deps
}

// New creates a Stage.
func New(d Deps) (*Stage, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("execution: store is required")
	case d.Results == nil:
		return nil, errors.New("execution: results provider is required")
	case d.Publisher == nil:
		return nil, errors.New("execution: publisher is required")
	case d.Workspace == nil:
		return nil, errors.New("execution: workspace is required")
	case d.Tool == nil:
		return nil, errors.New("execution: tool is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Stage{d: d}, nil
}

// Run executes task. It has the shape of handoff.RunFunc.
//
// A tool failure leaves the job RUNNING and its working area in place.
// Once artifacts are uploaded, a rejected completion is logged with the
// orphaned keys so they can be reconciled.
func (s *Stage) Run(ctx context.Context, task handoff.Task) error {
	log := s.d.Logger.With(zap.String("job_id", task.JobID))

	lock, err := s.d.Workspace.Lock(task.JobID)
	if err != nil {
		if errors.Is(err, workspace.ErrLocked) {
			log.Warn("Execution already in progress on this host; exiting")
			return nil
		}
		return err
	}
	defer func() { _ = lock.Unlock() }()

	rec, err := s.d.Store.Get(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if rec.Status != job.StatusRunning {
		log.Warn("Job is not running; refusing to execute", zap.String("status", string(rec.Status)))
		return nil
	}

	started := s.d.Now()
	log.Info("Running annotation tool", zap.String("input", task.InputPath))
	if err := s.d.Tool.Run(ctx, task.InputPath); err != nil {
		log.Error("Annotation failed; job left RUNNING", zap.Error(err))
		return err
	}

	dir := filepath.Dir(task.InputPath)
	resultKey := job.ResultKey(task.OwnerPath, task.JobID, task.InputFileName)
	logKey := job.LogKey(task.OwnerPath, task.JobID, task.InputFileName)
	uploads := []struct{ key, path string }{
		{resultKey, filepath.Join(dir, job.ResultFileName(task.InputFileName))},
		{logKey, filepath.Join(dir, job.LogFileName(task.InputFileName))},
	}
	for _, u := range uploads {
		if err := provider.UploadFile(ctx, s.d.Results, u.key, u.path); err != nil {
			log.Error("Artifact upload failed; job left RUNNING", zap.String("key", u.key), zap.Error(err))
			return fmt.Errorf("upload %s: %w", u.key, err)
		}
	}

	done, err := s.d.Store.Complete(ctx, task.JobID, job.Completion{
		ResultsBucket: s.d.ResultsBucket,
		ResultKey:     resultKey,
		LogKey:        logKey,
		CompletedAt:   s.d.Now(),
	})
	if err != nil {
		log.Error("Completion rejected; artifacts orphaned",
			zap.String("result_key", resultKey),
			zap.String("log_key", logKey),
			zap.Error(err))
		return fmt.Errorf("complete job: %w", err)
	}

	notice := &message.JobCompleted{Record: *done}
	if s.d.Profiles != nil {
		if p, perr := s.d.Profiles.Lookup(ctx, done.UserID); perr == nil {
			notice.UserEmail = p.Email
			notice.UserName = p.Name
		} else {
			log.Warn("Profile lookup failed; completion notice has no email", zap.Error(perr))
		}
	}
	if err := s.d.Publisher.Publish(ctx, s.d.ResultsTopic, message.EventJobCompleted, notice); err != nil {
		log.Warn("Failed to publish completion", zap.Error(err))
	}

	if err := s.d.Workspace.Remove(task.JobID); err != nil {
		log.Warn("Failed to remove working area", zap.Error(err))
	}

	log.Info("Job completed",
		zap.String("result_key", resultKey),
		zap.Duration("duration", s.d.Now().Sub(started)))
	return nil
}
