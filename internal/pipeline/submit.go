package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
)

// Submit uploads the input file at path for userID, creates its PENDING
// record and publishes a job request. It returns the new record.
func (p *Pipeline) Submit(ctx context.Context, userID, path string) (*job.Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.Contains(userID, "/") {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input file: %w", err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("input file %s is a directory", path)
	}
	fileName := filepath.Base(path)
	if strings.Contains(fileName, job.KeySeparator) {
		return nil, fmt.Errorf("input file name %q must not contain %q", fileName, job.KeySeparator)
	}

	id := uuid.NewString()
	key := job.InputKey(p.Config.Storage.Prefix, userID, id, fileName)
	if err := provider.UploadFile(ctx, p.Inputs, key, path); err != nil {
		return nil, fmt.Errorf("upload input: %w", err)
	}

	rec := &job.Record{
		JobID:         id,
		UserID:        userID,
		InputFileName: fileName,
		InputsBucket:  p.Config.Storage.InputsBucket,
		InputKey:      key,
		SubmitTime:    p.now().Unix(),
		Status:        job.StatusPending,
	}
	if err := p.Store.Create(ctx, rec); err != nil {
		return nil, errors.Join(fmt.Errorf("create job record: %w", err), p.Inputs.DeleteObject(ctx, key))
	}
	if err := p.Publisher.Publish(ctx, p.Config.Topics.Requests, message.EventJobRequested, message.NewJobRequest(rec)); err != nil {
		// The record stays PENDING until the request is republished.
		return rec, fmt.Errorf("publish job request for %s: %w", id, err)
	}

	p.Logger.Info("Job submitted",
		zap.String("job_id", id),
		zap.String("user_id", userID),
		zap.String("input_key", key))
	return rec, nil
}
