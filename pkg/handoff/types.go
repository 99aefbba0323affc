package handoff

import "time"

// LaunchState is the lifecycle state of a launched execution.
//
// These values are persisted in launch.json.
type LaunchState string

const (
	LaunchStateRunning   LaunchState = "running"
	LaunchStateSucceeded LaunchState = "succeeded"
	LaunchStateFailed    LaunchState = "failed"
	LaunchStateUnknown   LaunchState = "unknown"
)

// Terminal reports whether the launch has finished.
func (s LaunchState) Terminal() bool {
	return s == LaunchStateSucceeded || s == LaunchStateFailed
}

// Mode names how the execution stage was started.
type Mode string

const (
	ModeProcess Mode = "process"
	ModeInline  Mode = "inline"
)

// Task is the argument tuple handed to the execution stage.
type Task struct {
	InputPath     string `json:"input_path"`
	JobID         string `json:"job_id"`
	InputFileName string `json:"input_file_name"`
	OwnerPath     string `json:"owner_path"`
}

// Args returns the positional arguments of `gas execute`.
func (t Task) Args() []string {
	return []string{t.InputPath, t.JobID, t.InputFileName, t.OwnerPath}
}

// LaunchRecord is the persistent record written to launch.json.
type LaunchRecord struct {
	JobID     string      `json:"job_id"`
	Mode      Mode        `json:"mode"`
	State     LaunchState `json:"state"`
	Task      Task        `json:"task"`
	Command   []string    `json:"command,omitempty"`
	PID       int         `json:"pid,omitempty"`
	ExitCode  *int        `json:"exit_code,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`

	EndedAt    *time.Time `json:"ended_at,omitempty"`
	StdoutPath string     `json:"stdout_path,omitempty"`
	StderrPath string     `json:"stderr_path,omitempty"`
}

// Duration returns how long the launch ran, or zero while it is running.
func (r *LaunchRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.CreatedAt)
}
