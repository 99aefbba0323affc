// Package handoff starts the execution stage for a claimed job and keeps a
// record of each launch.
//
// A Launcher returns once the stage is running; the stage's outcome is
// observable through the launch record, not through Launch's return value.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Launcher hands a claimed job to the execution stage.
type Launcher interface {
	Launch(ctx context.Context, task Task) (*LaunchRecord, error)
}

// ProcessLauncher runs the execution stage as a supervised child process:
//
//	<Executable> <Args...> <input_path> <job_id> <input_file_name> <owner_path>
//
// The child outlives the Launch call. A supervisor goroutine reaps it and
// records the exit status.
type ProcessLauncher struct {
	Store      *Store
	Executable string
	Args       []string
	Env        []string
	Logger     *zap.Logger

	wg sync.WaitGroup
}

// NewProcessLauncher launches `<self> execute ...` with extra global flags
// (for example --config) placed before the subcommand.
func NewProcessLauncher(store *Store, globalArgs []string, logger *zap.Logger) (*ProcessLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	args := append(append([]string{}, globalArgs...), "execute")
	return &ProcessLauncher{Store: store, Executable: exe, Args: args, Logger: logger}, nil
}

func (l *ProcessLauncher) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Launch starts the child and returns after it has started.
func (l *ProcessLauncher) Launch(ctx context.Context, task Task) (*LaunchRecord, error) {
	if l == nil || l.Store == nil {
		return nil, fmt.Errorf("launcher is not initialized")
	}
	if strings.TrimSpace(task.JobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.Store.LaunchDir(task.JobID), 0755); err != nil {
		return nil, fmt.Errorf("create launch dir: %w", err)
	}

	stdoutFile, err := os.Create(l.Store.StdoutPath(task.JobID))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	stderrFile, err := os.Create(l.Store.StderrPath(task.JobID))
	if err != nil {
		_ = stdoutFile.Close()
		return nil, fmt.Errorf("create stderr log: %w", err)
	}

	argv := append(append([]string{}, l.Args...), task.Args()...)
	// Not tied to ctx: the stage must survive the dispatch loop's shutdown.
	cmd := exec.Command(l.Executable, argv...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = append(os.Environ(), l.Env...)

	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return nil, fmt.Errorf("start execution stage: %w", err)
	}

	rec := &LaunchRecord{
		JobID:      task.JobID,
		Mode:       ModeProcess,
		State:      LaunchStateRunning,
		Task:       task,
		Command:    append([]string{l.Executable}, argv...),
		PID:        cmd.Process.Pid,
		CreatedAt:  time.Now().UTC(),
		StdoutPath: l.Store.StdoutPath(task.JobID),
		StderrPath: l.Store.StderrPath(task.JobID),
	}
	if err := l.Store.Write(rec); err != nil {
		// The child is running; losing the record only costs visibility.
		l.logger().Warn("Failed to write launch record", zap.String("job_id", task.JobID), zap.Error(err))
	}

	l.logger().Info("Launched execution stage",
		zap.String("job_id", task.JobID),
		zap.Int("pid", rec.PID))

	snapshot := *rec
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { _ = stdoutFile.Close() }()
		defer func() { _ = stderrFile.Close() }()
		l.supervise(cmd, &snapshot)
	}()

	return rec, nil
}

func (l *ProcessLauncher) supervise(cmd *exec.Cmd, rec *LaunchRecord) {
	err := cmd.Wait()
	now := time.Now().UTC()
	rec.EndedAt = &now

	code := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		rec.State = LaunchStateSucceeded
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
		rec.State = LaunchStateFailed
		rec.Error = err.Error()
	default:
		code = -1
		rec.State = LaunchStateFailed
		rec.Error = err.Error()
	}
	rec.ExitCode = &code

	if werr := l.Store.Write(rec); werr != nil {
		l.logger().Warn("Failed to update launch record", zap.String("job_id", rec.JobID), zap.Error(werr))
	}

	fields := []zap.Field{
		zap.String("job_id", rec.JobID),
		zap.Int("exit_code", code),
		zap.Duration("duration", rec.Duration()),
	}
	if rec.State == LaunchStateFailed {
		l.logger().Error("Execution stage failed", append(fields, zap.String("stderr", rec.StderrPath))...)
		return
	}
	l.logger().Info("Execution stage exited", fields...)
}

// Wait blocks until every supervised child has exited.
func (l *ProcessLauncher) Wait() {
	l.wg.Wait()
}

// RunFunc runs the execution stage in-process.
type RunFunc func(ctx context.Context, task Task) error

// InlineLauncher runs the execution stage in the calling process, either
// synchronously or on a background goroutine when Async is set.
type InlineLauncher struct {
	Store  *Store
	Run    RunFunc
	Async  bool
	Logger *zap.Logger

	wg sync.WaitGroup
}

func (l *InlineLauncher) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Launch runs the stage. The stage's own failure is recorded, not returned.
func (l *InlineLauncher) Launch(ctx context.Context, task Task) (*LaunchRecord, error) {
	if l == nil || l.Run == nil {
		return nil, fmt.Errorf("launcher is not initialized")
	}
	if strings.TrimSpace(task.JobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &LaunchRecord{
		JobID:     task.JobID,
		Mode:      ModeInline,
		State:     LaunchStateRunning,
		Task:      task,
		CreatedAt: time.Now().UTC(),
	}
	l.write(rec)

	runCtx := context.WithoutCancel(ctx)
	if !l.Async {
		l.finish(rec, l.Run(runCtx, task))
		return rec, nil
	}

	snapshot := *rec
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.finish(&snapshot, l.Run(runCtx, task))
	}()
	return rec, nil
}

func (l *InlineLauncher) finish(rec *LaunchRecord, err error) {
	now := time.Now().UTC()
	rec.EndedAt = &now
	code := 0
	if err != nil {
		code = 1
		rec.State = LaunchStateFailed
		rec.Error = err.Error()
		l.logger().Error("Execution stage failed", zap.String("job_id", rec.JobID), zap.Error(err))
	} else {
		rec.State = LaunchStateSucceeded
	}
	rec.ExitCode = &code
	l.write(rec)
}

func (l *InlineLauncher) write(rec *LaunchRecord) {
	if l.Store == nil {
		return
	}
	if err := l.Store.Write(rec); err != nil {
		l.logger().Warn("Failed to write launch record", zap.String("job_id", rec.JobID), zap.Error(err))
	}
}

// Wait blocks until every asynchronous run has returned.
func (l *InlineLauncher) Wait() {
	l.wg.Wait()
}
