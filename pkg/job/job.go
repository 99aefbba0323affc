// Package job defines the annotation job record and its lifecycle rules.
//
// A job record is the single source of truth for a submitted annotation job.
// Two independent state machines live on the record:
//
//   - Status tracks execution: PENDING -> RUNNING -> COMPLETED.
//   - StorageStatus tracks where the result artifact lives once the job is
//     COMPLETED: HOT -> ARCHIVED -> RETRIEVING -> RESTORED (-> ARCHIVED).
//
// Attribute names are part of the persisted contract shared with the web
// front end and must not change.
package job

import "time"

// Status is the execution state of a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted:
		return true
	}
	return false
}

// Predecessor returns the only status that may advance to s.
// The second return value is false for PENDING, which has no predecessor.
func (s Status) Predecessor() (Status, bool) {
	switch s {
	case StatusRunning:
		return StatusPending, true
	case StatusCompleted:
		return StatusRunning, true
	}
	return "", false
}

// CanAdvanceTo reports whether the transition s -> next is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	prev, ok := next.Predecessor()
	return ok && prev == s
}

// StorageStatus describes where a completed job's result artifact lives.
//
// The zero value (empty string) is equivalent to StorageHot: records written
// at completion carry no storage_status attribute.
type StorageStatus string

const (
	StorageHot        StorageStatus = "HOT"
	StorageArchived   StorageStatus = "ARCHIVED"
	StorageRetrieving StorageStatus = "RETRIEVING"
	StorageRestored   StorageStatus = "RESTORED"
)

// Normalize maps the empty value to StorageHot.
func (s StorageStatus) Normalize() StorageStatus {
	if s == "" {
		return StorageHot
	}
	return s
}

// Predecessors returns the storage states that may move to s.
func (s StorageStatus) Predecessors() []StorageStatus {
	switch s.Normalize() {
	case StorageArchived:
		return []StorageStatus{StorageHot, StorageRestored}
	case StorageRetrieving:
		return []StorageStatus{StorageArchived}
	case StorageRestored:
		return []StorageStatus{StorageRetrieving}
	}
	return nil
}

// CanMoveTo reports whether the storage transition s -> next is allowed.
func (s StorageStatus) CanMoveTo(next StorageStatus) bool {
	from := s.Normalize()
	for _, p := range next.Predecessors() {
		if p == from {
			return true
		}
	}
	return false
}

// Record is the persisted job record.
//
// Timestamps are stored as epoch seconds for compatibility with the web
// front end; use the accessor methods for time.Time values.
type Record struct {
	JobID          string `json:"job_id" dynamodbav:"job_id"`
	UserID         string `json:"user_id" dynamodbav:"user_id"`
	InputFileName  string `json:"input_file_name" dynamodbav:"input_file_name"`
	InputsBucket   string `json:"s3_inputs_bucket" dynamodbav:"s3_inputs_bucket"`
	InputKey       string `json:"s3_key_input_file" dynamodbav:"s3_key_input_file"`
	SubmitTime     int64  `json:"submit_time" dynamodbav:"submit_time"`
	Status         Status `json:"job_status" dynamodbav:"job_status"`
	StartTime      int64  `json:"start_time,omitempty" dynamodbav:"start_time,omitempty"`
	Attempts       int    `json:"attempts,omitempty" dynamodbav:"attempts,omitempty"`
	RequeuePending bool   `json:"requeue_pending,omitempty" dynamodbav:"requeue_pending,omitempty"`

	CompleteTime  int64  `json:"complete_time,omitempty" dynamodbav:"complete_time,omitempty"`
	ResultsBucket string `json:"s3_results_bucket,omitempty" dynamodbav:"s3_results_bucket,omitempty"`
	ResultKey     string `json:"s3_key_result_file,omitempty" dynamodbav:"s3_key_result_file,omitempty"`
	LogKey        string `json:"s3_key_log_file,omitempty" dynamodbav:"s3_key_log_file,omitempty"`

	StorageStatus StorageStatus `json:"storage_status,omitempty" dynamodbav:"storage_status,omitempty"`
	ArchiveID     string        `json:"results_file_archive_id,omitempty" dynamodbav:"results_file_archive_id,omitempty"`
	RetrievalID   string        `json:"results_file_retrieval_id,omitempty" dynamodbav:"results_file_retrieval_id,omitempty"`
	RestoreTime   int64         `json:"restore_time,omitempty" dynamodbav:"restore_time,omitempty"`
}

// Completion carries the fields written atomically with RUNNING -> COMPLETED.
type Completion struct {
	ResultsBucket string
	ResultKey     string
	LogKey        string
	CompletedAt   time.Time
}

// Storage returns the normalized storage status.
func (r *Record) Storage() StorageStatus {
	return r.StorageStatus.Normalize()
}

// SubmittedAt returns the submit time.
func (r *Record) SubmittedAt() time.Time { return unixOrZero(r.SubmitTime) }

// StartedAt returns the time of the latest claim, or the zero time.
func (r *Record) StartedAt() time.Time { return unixOrZero(r.StartTime) }

// CompletedAt returns the completion time, or the zero time.
func (r *Record) CompletedAt() time.Time { return unixOrZero(r.CompleteTime) }

// RestoredAt returns the time of the latest thaw, or the zero time.
func (r *Record) RestoredAt() time.Time { return unixOrZero(r.RestoreTime) }

// HotSince returns the time the result most recently landed in hot storage.
// The archive grace period is measured from this instant.
func (r *Record) HotSince() time.Time {
	if r.RestoreTime > r.CompleteTime {
		return r.RestoredAt()
	}
	return r.CompletedAt()
}

// OwnerPath returns the owning path derived from the input key.
func (r *Record) OwnerPath() string {
	return OwnerPath(r.InputKey)
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
