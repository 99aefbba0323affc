// Package jobstore defines the durable job record store.
//
// Every mutation is a single conditional write against the record's prior
// state. A write whose condition does not hold fails with ErrConflict and
// leaves the record untouched; callers treat that as "another worker already
// did this".
package jobstore

import (
	"context"
	"time"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
)

// Store persists job records.
//
// Implementations must be safe for concurrent use and must apply each
// mutation atomically.
type Store interface {
	// Create inserts a new PENDING record. Returns ErrConflict if a record
	// with the same job id exists.
	Create(ctx context.Context, rec *job.Record) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*job.Record, error)

	// Claim moves a job to RUNNING.
	//
	// The condition holds when the job is PENDING, or RUNNING with
	// requeue_pending set. A successful claim sets start_time, increments
	// attempts and clears requeue_pending.
	Claim(ctx context.Context, id string, at time.Time) (*job.Record, error)

	// Requeue flags a RUNNING job whose start_time is not after startedBefore
	// so that a later Claim may succeed.
	Requeue(ctx context.Context, id string, startedBefore time.Time) error

	// Complete moves a RUNNING job to COMPLETED and records its artifacts.
	Complete(ctx context.Context, id string, c job.Completion) (*job.Record, error)

	// MarkArchived records a cold copy. The job must be COMPLETED and its
	// storage HOT (or absent) or RESTORED.
	MarkArchived(ctx context.Context, id, archiveID string) error

	// MarkRetrieving records a retrieval for an ARCHIVED job whose archive id
	// equals archiveID.
	MarkRetrieving(ctx context.Context, id, archiveID, retrievalID string) error

	// MarkRestored moves a RETRIEVING job to RESTORED, clearing the archive
	// and retrieval ids.
	MarkRestored(ctx context.Context, id string, at time.Time) error

	// ListStale returns RUNNING jobs whose start_time is before startedBefore.
	ListStale(ctx context.Context, startedBefore time.Time) ([]*job.Record, error)

	// ListArchived returns the user's COMPLETED jobs whose storage is ARCHIVED.
	ListArchived(ctx context.Context, userID string) ([]*job.Record, error)

	// Close releases any resources held by the store.
	Close() error
}
