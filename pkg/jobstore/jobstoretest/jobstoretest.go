// Package jobstoretest provides job store fixtures for tests.
package jobstoretest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore/sqlite"
)

// New opens a sqlite store in a temp dir, closed on test cleanup.
func New(t testing.TB) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Pending returns a PENDING record for user with input key
// "gas/<user>/<id>~<file>".
func Pending(id, user, file string) *job.Record {
	return &job.Record{
		JobID:         id,
		UserID:        user,
		InputFileName: file,
		InputsBucket:  "gas-inputs",
		InputKey:      job.InputKey("gas", user, id, file),
		SubmitTime:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		Status:        job.StatusPending,
	}
}

// Completed creates a job and drives it to COMPLETED at completedAt, with the
// result and log keys derived from its input key.
func Completed(t testing.TB, s *sqlite.Store, id, user, file string, completedAt time.Time) *job.Record {
	t.Helper()
	ctx := context.Background()
	rec := Pending(id, user, file)
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	if _, err := s.Claim(ctx, id, completedAt.Add(-time.Minute)); err != nil {
		t.Fatalf("claim %s: %v", id, err)
	}
	done, err := s.Complete(ctx, id, job.Completion{
		ResultsBucket: "gas-results",
		ResultKey:     job.ResultKey(rec.OwnerPath(), id, file),
		LogKey:        job.LogKey(rec.OwnerPath(), id, file),
		CompletedAt:   completedAt,
	})
	if err != nil {
		t.Fatalf("complete %s: %v", id, err)
	}
	return done
}
