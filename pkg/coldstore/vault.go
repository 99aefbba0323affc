// Package coldstore defines the archival (cold) storage tier.
//
// Cold storage holds archives addressed by an opaque archive id. Reading an
// archive back is a two-step retrieval: initiate, then poll until the
// retrieval has succeeded and read its output. Each archive carries a
// description; the pipeline stores the hot storage key there so a restored
// object can be put back where it came from.
package coldstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Vault is an archival store.
type Vault interface {
	// Name returns the vault name.
	Name() string

	// UploadArchive stores body and returns the new archive id.
	UploadArchive(ctx context.Context, description string, body io.ReadSeeker) (archiveID string, err error)

	// InitiateRetrieval starts an archive retrieval and returns its id.
	InitiateRetrieval(ctx context.Context, archiveID string) (retrievalID string, err error)

	// DescribeRetrieval reports the state of a retrieval.
	DescribeRetrieval(ctx context.Context, retrievalID string) (*Retrieval, error)

	// RetrievalOutput opens the bytes of a succeeded retrieval along with the
	// archive description. The caller must close the body.
	RetrievalOutput(ctx context.Context, retrievalID string) (body io.ReadCloser, description string, err error)

	// DeleteArchive removes an archive. Returns ErrNotFound if it is gone.
	DeleteArchive(ctx context.Context, archiveID string) error
}

// ArchiveChecker is implemented by vaults that can tell synchronously
// whether an archive exists. Glacier cannot; its archive list is only
// available through an inventory retrieval.
type ArchiveChecker interface {
	HasArchive(ctx context.Context, archiveID string) (bool, error)
}

// CheckArchive reports whether archiveID exists in v. known is false when
// the vault cannot answer, in which case exists is meaningless.
func CheckArchive(ctx context.Context, v Vault, archiveID string) (known, exists bool, err error) {
	c, ok := v.(ArchiveChecker)
	if !ok {
		return false, false, nil
	}
	exists, err = c.HasArchive(ctx, archiveID)
	if err != nil {
		return false, false, err
	}
	return true, exists, nil
}

// RetrievalStatus is the state of a retrieval.
type RetrievalStatus string

const (
	RetrievalInProgress RetrievalStatus = "InProgress"
	RetrievalSucceeded  RetrievalStatus = "Succeeded"
	RetrievalFailed     RetrievalStatus = "Failed"
)

// Retrieval describes an archive retrieval.
type Retrieval struct {
	ID            string
	ArchiveID     string
	Status        RetrievalStatus
	StatusMessage string
}

// Sentinel errors for vault operations.
var (
	// ErrNotFound indicates the archive or retrieval does not exist.
	ErrNotFound = errors.New("archive not found")

	// ErrNotReady indicates the retrieval output is not available yet.
	ErrNotReady = errors.New("retrieval not ready")
)

// VaultError wraps backend errors with context.
type VaultError struct {
	Op    string
	Vault string
	ID    string
	Err   error
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("vault %s %s: %s: %v", e.Vault, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("vault %s %s: %v", e.Vault, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *VaultError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing archive or retrieval.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
