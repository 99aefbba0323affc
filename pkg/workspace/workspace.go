// Package workspace manages the per-job working areas on a worker host.
//
// Layout under the root directory:
//
//	<root>/<job_id>/          staged input and tool outputs
//	<root>/_locks/<job_id>    host-local execution lock
//	<root>/_tmp/              transfer scratch space
//	<root>/_launch/<job_id>/  launch records and captured output
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrLocked indicates another process holds the job's working-area lock.
var ErrLocked = errors.New("working area locked")

// Workspace is a root directory for job working areas.
type Workspace struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace: root is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the root directory.
func (w *Workspace) Root() string { return w.root }

// JobDir returns the working directory of a job.
func (w *Workspace) JobDir(jobID string) string {
	return filepath.Join(w.root, jobID)
}

// InputPath returns where a job's input file is staged.
func (w *Workspace) InputPath(jobID, fileName string) string {
	return filepath.Join(w.JobDir(jobID), filepath.Base(fileName))
}

// LaunchDir returns the directory holding a job's launch records.
func (w *Workspace) LaunchDir(jobID string) string {
	return filepath.Join(w.root, "_launch", jobID)
}

// LaunchRoot returns the parent of all launch directories.
func (w *Workspace) LaunchRoot() string {
	return filepath.Join(w.root, "_launch")
}

// Prepare creates the job's working directory.
func (w *Workspace) Prepare(jobID string) (string, error) {
	if err := validID(jobID); err != nil {
		return "", err
	}
	dir := w.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare working area: %w", err)
	}
	return dir, nil
}

// Remove deletes the job's working directory.
func (w *Workspace) Remove(jobID string) error {
	if err := validID(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(w.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove working area: %w", err)
	}
	return nil
}

// Lock takes the exclusive host-local lock for a job without blocking.
// It returns ErrLocked if another process holds it. The caller must call
// Unlock on the returned lock.
func (w *Workspace) Lock(jobID string) (*flock.Flock, error) {
	if err := validID(jobID); err != nil {
		return nil, err
	}
	dir := filepath.Join(w.root, "_locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, jobID))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, jobID)
	}
	return lock, nil
}

// TempPath returns a fresh path in the scratch area whose base name ends
// with name.
func (w *Workspace) TempPath(name string) (string, error) {
	dir := filepath.Join(w.root, "_tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	return filepath.Join(dir, uuid.NewString()+"-"+filepath.Base(name)), nil
}

func validID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) || strings.HasPrefix(jobID, "_") {
		return fmt.Errorf("workspace: invalid job id %q", jobID)
	}
	return nil
}
