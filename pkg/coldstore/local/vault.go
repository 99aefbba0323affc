// Package local implements coldstore.Vault on a local directory.
//
// Archives and retrievals are files under the vault directory. A retrieval
// becomes Succeeded once RetrievalDelay has elapsed since it was initiated,
// which reproduces the latency of a real archival tier.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore"
)

// Config configures a local vault.
type Config struct {
	// Dir is the vault directory (required).
	Dir string

	// Name is reported by Name(). Defaults to the base name of Dir.
	Name string

	// RetrievalDelay is how long a retrieval stays InProgress.
	RetrievalDelay time.Duration
}

// Vault implements coldstore.Vault.
type Vault struct {
	dir   string
	name  string
	delay time.Duration
	now   func() time.Time
}

var (
	_ coldstore.Vault          = (*Vault)(nil)
	_ coldstore.ArchiveChecker = (*Vault)(nil)
)

type archiveMeta struct {
	ArchiveID   string    `json:"archive_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Size        int64     `json:"size"`
}

type retrievalMeta struct {
	RetrievalID string    `json:"retrieval_id"`
	ArchiveID   string    `json:"archive_id"`
	Description string    `json:"description"`
	InitiatedAt time.Time `json:"initiated_at"`
}

// New creates the vault directories if needed.
func New(cfg Config) (*Vault, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("local vault: dir is required")
	}
	dir := filepath.Clean(cfg.Dir)
	for _, sub := range []string{"archives", "retrievals"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("local vault: %w", err)
		}
	}
	name := cfg.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	return &Vault{dir: dir, name: name, delay: cfg.RetrievalDelay, now: time.Now}, nil
}

// SetClock replaces the time source.
func (v *Vault) SetClock(now func() time.Time) { v.now = now }

// Name returns the vault name.
func (v *Vault) Name() string { return v.name }

// UploadArchive stores body under a new archive id.
func (v *Vault) UploadArchive(ctx context.Context, description string, body io.ReadSeeker) (string, error) {
	id := uuid.NewString()
	n, err := writeAtomic(v.archivePath(id), body)
	if err != nil {
		return "", v.wrap("UploadArchive", "", err)
	}
	meta := archiveMeta{ArchiveID: id, Description: description, CreatedAt: v.now().UTC(), Size: n}
	if err := writeJSON(v.archivePath(id)+".json", meta); err != nil {
		_ = os.Remove(v.archivePath(id))
		return "", v.wrap("UploadArchive", id, err)
	}
	return id, nil
}

// InitiateRetrieval snapshots the archive so the output stays readable after
// the archive is deleted.
func (v *Vault) InitiateRetrieval(ctx context.Context, archiveID string) (string, error) {
	var meta archiveMeta
	if err := readJSON(v.archivePath(archiveID)+".json", &meta); err != nil {
		return "", v.wrap("InitiateRetrieval", archiveID, err)
	}
	src, err := os.Open(v.archivePath(archiveID))
	if err != nil {
		return "", v.wrap("InitiateRetrieval", archiveID, err)
	}
	defer func() { _ = src.Close() }()

	id := uuid.NewString()
	if _, err := writeAtomic(v.retrievalPath(id), src); err != nil {
		return "", v.wrap("InitiateRetrieval", archiveID, err)
	}
	rm := retrievalMeta{RetrievalID: id, ArchiveID: archiveID, Description: meta.Description, InitiatedAt: v.now().UTC()}
	if err := writeJSON(v.retrievalPath(id)+".json", rm); err != nil {
		return "", v.wrap("InitiateRetrieval", archiveID, err)
	}
	return id, nil
}

// DescribeRetrieval reports Succeeded once RetrievalDelay has passed.
func (v *Vault) DescribeRetrieval(ctx context.Context, retrievalID string) (*coldstore.Retrieval, error) {
	var rm retrievalMeta
	if err := readJSON(v.retrievalPath(retrievalID)+".json", &rm); err != nil {
		return nil, v.wrap("DescribeRetrieval", retrievalID, err)
	}
	r := &coldstore.Retrieval{ID: rm.RetrievalID, ArchiveID: rm.ArchiveID, Status: coldstore.RetrievalInProgress}
	if !v.now().Before(rm.InitiatedAt.Add(v.delay)) {
		r.Status = coldstore.RetrievalSucceeded
	}
	return r, nil
}

// RetrievalOutput opens the snapshot taken when the retrieval started.
func (v *Vault) RetrievalOutput(ctx context.Context, retrievalID string) (io.ReadCloser, string, error) {
	r, err := v.DescribeRetrieval(ctx, retrievalID)
	if err != nil {
		return nil, "", err
	}
	if r.Status != coldstore.RetrievalSucceeded {
		return nil, "", v.wrap("RetrievalOutput", retrievalID, coldstore.ErrNotReady)
	}
	var rm retrievalMeta
	if err := readJSON(v.retrievalPath(retrievalID)+".json", &rm); err != nil {
		return nil, "", v.wrap("RetrievalOutput", retrievalID, err)
	}
	f, err := os.Open(v.retrievalPath(retrievalID))
	if err != nil {
		return nil, "", v.wrap("RetrievalOutput", retrievalID, err)
	}
	return f, rm.Description, nil
}

// DeleteArchive removes an archive and its metadata.
func (v *Vault) DeleteArchive(ctx context.Context, archiveID string) error {
	if err := os.Remove(v.archivePath(archiveID)); err != nil {
		return v.wrap("DeleteArchive", archiveID, err)
	}
	_ = os.Remove(v.archivePath(archiveID) + ".json")
	return nil
}

// HasArchive reports whether archiveID is stored.
func (v *Vault) HasArchive(ctx context.Context, archiveID string) (bool, error) {
	if _, err := os.Stat(v.archivePath(archiveID) + ".json"); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, v.wrap("HasArchive", archiveID, err)
	}
	return true, nil
}

// ArchiveCount returns the number of stored archives.
func (v *Vault) ArchiveCount() (int, error) {
	matches, err := filepath.Glob(filepath.Join(v.dir, "archives", "*.json"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (v *Vault) archivePath(id string) string {
	return filepath.Join(v.dir, "archives", filepath.Base(id))
}

func (v *Vault) retrievalPath(id string) string {
	return filepath.Join(v.dir, "retrievals", filepath.Base(id))
}

func (v *Vault) wrap(op, id string, err error) error {
	if os.IsNotExist(err) {
		err = coldstore.ErrNotFound
	}
	return &coldstore.VaultError{Op: op, Vault: v.name, ID: id, Err: err}
}

func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = writeAtomic(path, strings.NewReader(string(data)))
	return err
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
