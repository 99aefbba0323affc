// Package restore moves archived results back to hot storage.
//
// The Initiator consumes restore requests from the archive queue and starts
// a vault retrieval; the Thawer consumes retrieval notices from the restore
// queue and, once the retrieval has succeeded, puts the result back at its
// original hot key. RequestForUser publishes restore requests for every
// archived result of a user who moved to the premium tier.
package restore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/profile"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
)

// InitiatorDeps are the collaborators of an Initiator.
type InitiatorDeps struct {
	Store     jobstore.Store
	Vault     coldstore.Vault
	Profiles  profile.Directory
	Publisher notify.Publisher
	Logger    *zap.Logger

	// RestoreTopic receives "retrieval requested" notices.
	RestoreTopic string
}

// Initiator starts vault retrievals.
type Initiator struct {
	d InitiatorDeps
}

// NewInitiator creates an Initiator.
func NewInitiator(d InitiatorDeps) (*Initiator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("restore: store is required")
	case d.Vault == nil:
		return nil, errors.New("restore: vault is required")
	case d.Publisher == nil:
		return nil, errors.New("restore: publisher is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Initiator{d: d}, nil
}

// Register binds the initiator to restore requests and archive notices on c.
func (i *Initiator) Register(c *queue.Consumer) {
	c.Handle(message.EventRestoreRequested, i.HandleRestore)
	c.Handle(message.EventJobArchived, i.HandleArchived)
}

// HandleRestore starts a retrieval for the job named in the notice.
func (i *Initiator) HandleRestore(ctx context.Context, d queue.Delivery) error {
	var notice message.ArchiveNotice
	if err := message.Unmarshal(d.Payload, &notice); err != nil {
		return err
	}
	return i.restore(ctx, &notice)
}

// HandleArchived restores a freshly archived result immediately when its
// owner is already premium, which covers upgrades that raced the sweep.
func (i *Initiator) HandleArchived(ctx context.Context, d queue.Delivery) error {
	var notice message.ArchiveNotice
	if err := message.Unmarshal(d.Payload, &notice); err != nil {
		return err
	}
	if i.d.Profiles == nil {
		return nil
	}
	p, err := i.d.Profiles.Lookup(ctx, notice.UserID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil
		}
		return err
	}
	if !p.Premium() {
		return nil
	}
	i.d.Logger.Info("Owner is premium; restoring archived result",
		zap.String("job_id", notice.ResolvedJobID()), zap.String("user_id", notice.UserID))
	return i.restore(ctx, &notice)
}

func (i *Initiator) restore(ctx context.Context, notice *message.ArchiveNotice) error {
	jobID := notice.ResolvedJobID()
	log := i.d.Logger.With(zap.String("job_id", jobID), zap.String("archive_id", notice.ArchiveID))

	rec, err := i.d.Store.Get(ctx, jobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return fmt.Errorf("%w: %w", message.ErrMalformed, err)
		}
		return err
	}

	switch rec.Storage() {
	case job.StorageArchived:
	case job.StorageRetrieving:
		if rec.ArchiveID == notice.ArchiveID && rec.RetrievalID != "" {
			// The record update landed but the notice may not have.
			log.Info("Retrieval already in progress; re-announcing", zap.String("retrieval_id", rec.RetrievalID))
			return i.announce(ctx, rec.JobID, rec.ArchiveID, rec.RetrievalID)
		}
		log.Info("Another retrieval is in progress; skipping")
		return nil
	default:
		log.Info("Result is not archived; skipping", zap.String("storage_status", string(rec.Storage())))
		return nil
	}
	if rec.ArchiveID != notice.ArchiveID {
		log.Info("Stale restore request; archive id no longer current", zap.String("current_archive_id", rec.ArchiveID))
		return nil
	}

	retrievalID, err := i.d.Vault.InitiateRetrieval(ctx, rec.ArchiveID)
	if err != nil {
		if coldstore.IsNotFound(err) {
			return fmt.Errorf("%w: %w", message.ErrMalformed, err)
		}
		return fmt.Errorf("initiate retrieval: %w", err)
	}
	log = log.With(zap.String("retrieval_id", retrievalID))

	if err := i.d.Store.MarkRetrieving(ctx, rec.JobID, rec.ArchiveID, retrievalID); err != nil {
		if jobstore.IsConflict(err) {
			log.Info("Job storage changed; retrieval abandoned")
			return nil
		}
		return err
	}

	if err := i.announce(ctx, rec.JobID, rec.ArchiveID, retrievalID); err != nil {
		return err
	}
	log.Info("Retrieval initiated")
	return nil
}

func (i *Initiator) announce(ctx context.Context, jobID, archiveID, retrievalID string) error {
	notice := &message.RetrievalNotice{RetrievalID: retrievalID, ArchiveID: archiveID, JobID: jobID}
	if err := i.d.Publisher.Publish(ctx, i.d.RestoreTopic, message.EventRetrievalRequested, notice); err != nil {
		return fmt.Errorf("publish retrieval notice: %w", err)
	}
	return nil
}
