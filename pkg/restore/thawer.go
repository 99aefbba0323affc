package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/workspace"
)

// DefaultNotReadyDelay is how long a retrieval notice stays hidden while the
// vault is still preparing the output.
const DefaultNotReadyDelay = 15 * time.Minute

// HotStore is the hot storage surface the Thawer writes to.
type HotStore interface {
	provider.ObjectPutter
	provider.ObjectDeleter
}

// ThawerDeps are the collaborators of a Thawer.
type ThawerDeps struct {
	Store     jobstore.Store
	Results   HotStore
	Vault     coldstore.Vault
	Workspace *workspace.Workspace
	Logger    *zap.Logger

	// NotReadyDelay defaults to DefaultNotReadyDelay.
	NotReadyDelay time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Thawer finishes retrievals.
type Thawer struct {
	d ThawerDeps
}

// NewThawer creates a Thawer.
func NewThawer(d ThawerDeps) (*Thawer, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("restore: store is required")
	case d.Results == nil:
		return nil, errors.New("restore: results provider is required")
	case d.Vault == nil:
		return nil, errors.New("restore: vault is required")
	case d.Workspace == nil:
		return nil, errors.New("restore: workspace is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.NotReadyDelay <= 0 {
		d.NotReadyDelay = DefaultNotReadyDelay
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Thawer{d: d}, nil
}

// Register binds the thawer to retrieval notices on c.
func (t *Thawer) Register(c *queue.Consumer) {
	c.Handle(message.EventRetrievalRequested, t.Handle)
}

// Handle finishes one retrieval. An in-progress retrieval is released for
// NotReadyDelay; a failed one is logged and left for redelivery.
func (t *Thawer) Handle(ctx context.Context, d queue.Delivery) error {
	var notice message.RetrievalNotice
	if err := message.Unmarshal(d.Payload, &notice); err != nil {
		return err
	}
	log := t.d.Logger.With(zap.String("retrieval_id", notice.RetrievalID), zap.String("archive_id", notice.ArchiveID))

	if notice.JobID != "" {
		done, err := t.alreadyRestored(ctx, log, notice.JobID, notice.ArchiveID)
		if err != nil || done {
			return err
		}
	}

	r, err := t.d.Vault.DescribeRetrieval(ctx, notice.RetrievalID)
	if err != nil {
		if coldstore.IsNotFound(err) {
			return fmt.Errorf("%w: %w", message.ErrMalformed, err)
		}
		return fmt.Errorf("describe retrieval: %w", err)
	}
	switch r.Status {
	case coldstore.RetrievalSucceeded:
	case coldstore.RetrievalFailed:
		log.Error("Retrieval failed", zap.String("status_message", r.StatusMessage))
		return fmt.Errorf("retrieval %s failed: %s", notice.RetrievalID, r.StatusMessage)
	default:
		log.Debug("Retrieval not ready", zap.String("status", string(r.Status)))
		return queue.Retry(t.d.NotReadyDelay, coldstore.ErrNotReady)
	}

	body, key, err := t.d.Vault.RetrievalOutput(ctx, notice.RetrievalID)
	if err != nil {
		if errors.Is(err, coldstore.ErrNotReady) {
			return queue.Retry(t.d.NotReadyDelay, err)
		}
		return fmt.Errorf("read retrieval output: %w", err)
	}
	defer func() { _ = body.Close() }()

	parts, ok := job.ParseResultKey(key)
	if !ok {
		return fmt.Errorf("%w: archive description %q is not a result key", message.ErrMalformed, key)
	}
	jobID := notice.JobID
	if jobID == "" {
		jobID = parts.JobID
		done, err := t.alreadyRestored(ctx, log, jobID, notice.ArchiveID)
		if err != nil || done {
			return err
		}
	}
	log = log.With(zap.String("job_id", jobID), zap.String("key", key))

	tmp, err := t.d.Workspace.TempPath(key)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()
	if err := writeFile(tmp, body); err != nil {
		return err
	}
	if err := provider.UploadFile(ctx, t.d.Results, key, tmp); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	// A receipt left by the migration names the archive deleted below.
	if err := t.d.Results.DeleteObject(ctx, job.ReceiptKey(key)); err != nil && !provider.IsNotFound(err) {
		return fmt.Errorf("delete receipt of %s: %w", key, err)
	}

	if err := t.d.Store.MarkRestored(ctx, jobID, t.d.Now()); err != nil {
		if jobstore.IsConflict(err) {
			log.Info("Job is no longer retrieving; nothing to record")
		} else {
			return err
		}
	}

	if err := t.deleteArchive(ctx, notice.ArchiveID); err != nil {
		return err
	}
	log.Info("Result restored", zap.String("owner_path", parts.OwnerPath))
	return nil
}

// alreadyRestored reports whether a redelivered notice has nothing left to
// do, finishing the archive delete if an earlier attempt did not.
func (t *Thawer) alreadyRestored(ctx context.Context, log *zap.Logger, jobID, archiveID string) (bool, error) {
	rec, err := t.d.Store.Get(ctx, jobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return false, fmt.Errorf("%w: %w", message.ErrMalformed, err)
		}
		return false, err
	}
	if rec.Storage() == job.StorageRetrieving {
		return false, nil
	}
	if rec.Storage() == job.StorageArchived && rec.ArchiveID == archiveID {
		// Retrieval notice overtook the record update; wait for it.
		return false, queue.Retry(t.d.NotReadyDelay, errors.New("job not yet retrieving"))
	}
	log.Info("Retrieval already finished; acknowledging", zap.String("job_id", jobID), zap.String("storage_status", string(rec.Storage())))
	return true, t.deleteArchive(ctx, archiveID)
}

func (t *Thawer) deleteArchive(ctx context.Context, archiveID string) error {
	if err := t.d.Vault.DeleteArchive(ctx, archiveID); err != nil && !coldstore.IsNotFound(err) {
		return fmt.Errorf("delete archive: %w", err)
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
