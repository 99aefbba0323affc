package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Store persists and loads LaunchRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<job_id>/launch.json
//	<root>/<job_id>/stdout.log
//	<root>/<job_id>/stderr.log
//
// A job that is launched more than once keeps only its latest record.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) LaunchDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) RecordPath(jobID string) string {
	return filepath.Join(s.LaunchDir(jobID), "launch.json")
}

func (s *Store) StdoutPath(jobID string) string {
	return filepath.Join(s.LaunchDir(jobID), "stdout.log")
}

func (s *Store) StderrPath(jobID string) string {
	return filepath.Join(s.LaunchDir(jobID), "stderr.log")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("launch store root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores the record atomically (temp file + rename).
func (s *Store) Write(record *LaunchRecord) error {
	if record == nil {
		return fmt.Errorf("launch record is nil")
	}
	jobID := strings.TrimSpace(record.JobID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.LaunchDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create launch dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal launch record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "launch.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp launch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp launch file: %w", err)
	}

	if err := os.Rename(tmpName, s.RecordPath(jobID)); err != nil {
		return fmt.Errorf("rename launch file: %w", err)
	}
	return nil
}

// Get loads a launch record. A record that claims running but whose process
// is gone is reported (and persisted) as unknown.
func (s *Store) Get(jobID string) (*LaunchRecord, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	b, err := os.ReadFile(s.RecordPath(jobID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("launch.json is empty")
	}

	var record LaunchRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse launch.json: %w", err)
	}

	if record.State == LaunchStateRunning && record.Mode == ModeProcess && record.PID > 0 {
		if !isProcessAlive(record.PID) {
			record.State = LaunchStateUnknown
			now := time.Now().UTC()
			record.EndedAt = &now
			_ = s.Write(&record)
		}
	}

	return &record, nil
}

// List returns all launch records, newest first.
func (s *Store) List() ([]LaunchRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read launch root: %w", err)
	}

	out := make([]LaunchRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without delivering anything.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
