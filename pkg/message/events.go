package message

import (
	"strings"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
)

// Event tags carried in the notification attributes.
const (
	EventJobRequested       = "job.requested"
	EventJobCompleted       = "job.completed"
	EventJobArchived        = "job.archived"
	EventRestoreRequested   = "restore.requested"
	EventRetrievalRequested = "retrieval.requested"
)

// JobRequest is published when a job is submitted (or re-queued) and consumed
// by the dispatch worker.
type JobRequest struct {
	JobID         string     `json:"job_id"`
	UserID        string     `json:"user_id"`
	InputFileName string     `json:"input_file_name"`
	InputsBucket  string     `json:"s3_inputs_bucket"`
	InputKey      string     `json:"s3_key_input_file"`
	SubmitTime    int64      `json:"submit_time"`
	Status        job.Status `json:"job_status"`
}

// Validate checks the fields the dispatch worker depends on.
func (m *JobRequest) Validate() error {
	switch {
	case strings.TrimSpace(m.JobID) == "":
		return missing("job_id")
	case strings.TrimSpace(m.InputKey) == "":
		return missing("s3_key_input_file")
	case strings.TrimSpace(m.InputFileName) == "":
		return missing("input_file_name")
	}
	return nil
}

// OwnerPath returns the owning path derived from the input key.
func (m *JobRequest) OwnerPath() string {
	return job.OwnerPath(m.InputKey)
}

// NewJobRequest builds a request message from a record.
func NewJobRequest(rec *job.Record) *JobRequest {
	return &JobRequest{
		JobID:         rec.JobID,
		UserID:        rec.UserID,
		InputFileName: rec.InputFileName,
		InputsBucket:  rec.InputsBucket,
		InputKey:      rec.InputKey,
		SubmitTime:    rec.SubmitTime,
		Status:        rec.Status,
	}
}

// JobCompleted is published by the execution stage for downstream email and
// analytics consumers.
type JobCompleted struct {
	job.Record
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

// Validate checks the completion notice.
func (m *JobCompleted) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return missing("job_id")
	}
	return nil
}

// ArchiveNotice is published by the archive sweeper (EventJobArchived) and by
// the subscription-upgrade trigger (EventRestoreRequested). Both land on the
// archive queue.
type ArchiveNotice struct {
	JobID         string `json:"job_id,omitempty"`
	ArchiveID     string `json:"archive_id"`
	UserID        string `json:"user_id"`
	FileName      string `json:"file_name"`
	ResultsBucket string `json:"s3_results_bucket"`
	VaultName     string `json:"vault_name"`
}

// Validate checks the archive notice. The job id may be recovered from the
// file name ("<job_id>~<name>").
func (m *ArchiveNotice) Validate() error {
	if strings.TrimSpace(m.ArchiveID) == "" {
		return missing("archive_id")
	}
	if m.ResolvedJobID() == "" {
		return missing("job_id")
	}
	return nil
}

// ResolvedJobID returns JobID, falling back to the id embedded in FileName.
func (m *ArchiveNotice) ResolvedJobID() string {
	if id := strings.TrimSpace(m.JobID); id != "" {
		return id
	}
	return job.JobIDFromFileName(m.FileName)
}

// RetrievalNotice is published by the restore initiator and consumed by the
// thaw finalizer.
type RetrievalNotice struct {
	RetrievalID string `json:"retrieval_id"`
	ArchiveID   string `json:"archive_id"`
	JobID       string `json:"job_id,omitempty"`
}

// Validate checks the retrieval notice.
func (m *RetrievalNotice) Validate() error {
	switch {
	case strings.TrimSpace(m.RetrievalID) == "":
		return missing("retrieval_id")
	case strings.TrimSpace(m.ArchiveID) == "":
		return missing("archive_id")
	}
	return nil
}
