package handoff

import (
	"os"
	"testing"
	"time"
)

func TestStore_WriteGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	code := 0
	rec := &LaunchRecord{
		JobID:     "job-1",
		Mode:      ModeProcess,
		State:     LaunchStateSucceeded,
		Task:      Task{InputPath: "/jobs/job-1/a.vcf", JobID: "job-1", InputFileName: "a.vcf", OwnerPath: "gas/alice"},
		ExitCode:  &code,
		CreatedAt: now,
	}

	if err := s.Write(rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.JobID != rec.JobID {
		t.Fatalf("job_id mismatch: got=%q want=%q", got.JobID, rec.JobID)
	}
	if got.State != rec.State {
		t.Fatalf("state mismatch: got=%q want=%q", got.State, rec.State)
	}
	if got.Task.OwnerPath != "gas/alice" {
		t.Fatalf("task not persisted: %+v", got.Task)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("exit code not persisted")
	}
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

	if err := s.Write(&LaunchRecord{JobID: "job-1", Mode: ModeInline, State: LaunchStateSucceeded, CreatedAt: t1}); err != nil {
		t.Fatalf("Write job-1: %v", err)
	}
	if err := s.Write(&LaunchRecord{JobID: "job-2", Mode: ModeInline, State: LaunchStateSucceeded, CreatedAt: t2}); err != nil {
		t.Fatalf("Write job-2: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected launch count: %d", len(got))
	}
	if got[0].JobID != "job-2" {
		t.Fatalf("expected newest first, got[0]=%q", got[0].JobID)
	}
}

func TestStore_GetMarksDeadProcessUnknown(t *testing.T) {
	s := NewStore(t.TempDir())

	// PID far above any default pid_max.
	if err := s.Write(&LaunchRecord{JobID: "job-1", Mode: ModeProcess, State: LaunchStateRunning, PID: 1 << 30, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State != LaunchStateUnknown {
		t.Fatalf("state = %q, want unknown", got.State)
	}
	if got.EndedAt == nil {
		t.Fatalf("ended_at not set")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Get("nope"); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
