// Package archive implements the archive sweeper, which migrates free-tier
// results from hot storage to the cold vault once their grace period has
// passed.
//
// Migration order per result:
//
//  1. download the hot copy to a scratch file
//  2. upload it to the vault (description = hot key) and write a receipt
//  3. record ARCHIVED with the archive id
//  4. delete the receipt and then the hot copy
//  5. publish "archived"
//
// The hot copy is only deleted after steps 2 and 3 succeed. A failure at any
// step leaves the hot copy for a later sweep, which resumes from the receipt
// when it belongs to the current hot cycle and its archive is still stored.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/profile"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/workspace"
)

// DefaultGracePeriod is how long a free-tier result stays hot.
const DefaultGracePeriod = 300 * time.Second

// Config configures a Sweeper.
type Config struct {
	// ResultsPrefix limits the scan to keys under this prefix.
	ResultsPrefix string

	// Pattern selects result keys (doublestar, relative to ResultsPrefix).
	Pattern string

	// ResultsBucket is reported in archive notices.
	ResultsBucket string

	// GracePeriod defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	// RateLimit caps migrations per second. Zero means unlimited.
	RateLimit float64

	// ArchiveTopic receives "archived" notices.
	ArchiveTopic string
}

// Deps are the collaborators of a Sweeper.
type Deps struct {
	Store     jobstore.Store
	Results   provider.ObjectStore
	Vault     coldstore.Vault
	Profiles  profile.Directory
	Publisher notify.Publisher
	Workspace *workspace.Workspace
	Logger    *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Summary counts the outcome of one sweep.
type Summary struct {
	Scanned  int
	Archived int
	Resumed  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Sweeper scans hot storage for results to archive.
type Sweeper struct {
	cfg      Config
	d        Deps
	selector *Selector

	// Rate limiter (nil if unlimited)
	limiter *rate.Limiter
}

// New creates a Sweeper.
func New(cfg Config, d Deps) (*Sweeper, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("archive: store is required")
	case d.Results == nil:
		return nil, errors.New("archive: results provider is required")
	case d.Vault == nil:
		return nil, errors.New("archive: vault is required")
	case d.Profiles == nil:
		return nil, errors.New("archive: profile directory is required")
	case d.Publisher == nil:
		return nil, errors.New("archive: publisher is required")
	case d.Workspace == nil:
		return nil, errors.New("archive: workspace is required")
	}
	sel, err := NewSelector(cfg.ResultsPrefix, cfg.Pattern)
	if err != nil {
		return nil, err
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Sweeper{cfg: cfg, d: d, selector: sel}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return s, nil
}

// RunPeriodic sweeps immediately and then every interval until ctx is
// canceled. A non-positive interval sweeps once.
func (s *Sweeper) RunPeriodic(ctx context.Context, interval time.Duration) error {
	for {
		summary, err := s.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			s.d.Logger.Error("Sweep failed", zap.Error(err))
		}
		if err == nil {
			s.d.Logger.Info("Sweep completed",
				zap.Int("scanned", summary.Scanned),
				zap.Int("archived", summary.Archived),
				zap.Int("resumed", summary.Resumed),
				zap.Int("skipped", summary.Skipped),
				zap.Int("failed", summary.Failed),
				zap.Duration("duration", summary.Duration))
		}
		if interval <= 0 {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// Sweep performs one scan. Per-result failures are logged and counted; the
// returned error is reserved for listing failures and cancellation.
func (s *Sweeper) Sweep(ctx context.Context) (*Summary, error) {
	start := time.Now()
	var keys []string
	err := provider.Walk(ctx, s.d.Results, s.selector.ListPrefix(), func(obj provider.ObjectSummary) error {
		if s.selector.Match(obj.Key) {
			keys = append(keys, obj.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	summary := &Summary{Scanned: len(keys)}
	for _, key := range keys {
		if err := s.waitForRateLimit(ctx); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		switch s.sweepOne(ctx, key) {
		case outcomeArchived:
			summary.Archived++
		case outcomeResumed:
			summary.Resumed++
		case outcomeFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	summary.Duration = time.Since(start)
	return summary, nil
}

func (s *Sweeper) waitForRateLimit(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeArchived
	outcomeResumed
	outcomeFailed
)

func (s *Sweeper) sweepOne(ctx context.Context, key string) outcome {
	log := s.d.Logger.With(zap.String("key", key))

	parts, ok := job.ParseResultKey(key)
	if !ok {
		log.Debug("Key carries no job id; skipping")
		return outcomeSkipped
	}
	log = log.With(zap.String("job_id", parts.JobID))

	rec, err := s.d.Store.Get(ctx, parts.JobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			log.Warn("No job record for result; skipping")
			return outcomeSkipped
		}
		log.Error("Failed to load job", zap.Error(err))
		return outcomeFailed
	}
	if rec.Status != job.StatusCompleted || rec.ResultKey != key {
		log.Debug("Not a completed job's result; skipping", zap.String("status", string(rec.Status)))
		return outcomeSkipped
	}

	switch rec.Storage() {
	case job.StorageHot, job.StorageRestored:
	case job.StorageArchived:
		// A previous sweep recorded the archive but failed to delete the hot copy.
		return s.finishArchived(ctx, log, rec, key)
	default:
		return outcomeSkipped
	}

	if !s.eligible(ctx, log, rec) {
		return outcomeSkipped
	}

	receipt, err := s.currentReceipt(ctx, log, rec, key)
	if err != nil {
		log.Error("Failed to check receipt; hot copy kept", zap.Error(err))
		return outcomeFailed
	}
	result := outcomeArchived
	if receipt != nil {
		log.Info("Resuming migration from receipt", zap.String("archive_id", receipt.ArchiveID))
		result = outcomeResumed
	} else {
		receipt, err = s.upload(ctx, rec, key)
		if err != nil {
			log.Error("Cold upload failed; hot copy kept", zap.Error(err))
			return outcomeFailed
		}
	}

	if err := s.d.Store.MarkArchived(ctx, rec.JobID, receipt.ArchiveID); err != nil {
		if jobstore.IsConflict(err) {
			log.Info("Job storage changed during sweep; hot copy kept", zap.Error(err))
			return outcomeSkipped
		}
		log.Error("Failed to record archive; hot copy kept", zap.String("archive_id", receipt.ArchiveID), zap.Error(err))
		return outcomeFailed
	}

	if err := s.deleteHot(ctx, key); err != nil {
		log.Warn("Archived but hot copy not deleted; next sweep will retry", zap.Error(err))
	}

	notice := &message.ArchiveNotice{
		JobID:         rec.JobID,
		ArchiveID:     receipt.ArchiveID,
		UserID:        rec.UserID,
		FileName:      parts.FileName,
		ResultsBucket: s.cfg.ResultsBucket,
		VaultName:     s.d.Vault.Name(),
	}
	if err := s.d.Publisher.Publish(ctx, s.cfg.ArchiveTopic, message.EventJobArchived, notice); err != nil {
		log.Warn("Failed to publish archive notice", zap.Error(err))
	}

	log.Info("Result archived", zap.String("archive_id", receipt.ArchiveID))
	return result
}

func (s *Sweeper) eligible(ctx context.Context, log *zap.Logger, rec *job.Record) bool {
	if age := s.d.Now().Sub(rec.HotSince()); age <= s.cfg.GracePeriod {
		log.Debug("Within grace period; skipping", zap.Duration("age", age))
		return false
	}
	p, err := s.d.Profiles.Lookup(ctx, rec.UserID)
	if err != nil {
		log.Warn("Profile lookup failed; skipping", zap.String("user_id", rec.UserID), zap.Error(err))
		return false
	}
	if !p.Free() {
		log.Debug("Owner is not on the free tier; skipping", zap.String("tier", string(p.Tier)))
		return false
	}
	return true
}

// upload copies the hot result into the vault and records a receipt.
func (s *Sweeper) upload(ctx context.Context, rec *job.Record, key string) (*Receipt, error) {
	tmp, err := s.d.Workspace.TempPath(key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmp) }()

	if _, err := provider.DownloadFile(ctx, s.d.Results, key, tmp); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	f, err := os.Open(tmp)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	archiveID, err := s.d.Vault.UploadArchive(ctx, key, f)
	if err != nil {
		return nil, fmt.Errorf("upload archive: %w", err)
	}

	receipt := &Receipt{JobID: rec.JobID, ArchiveID: archiveID, Vault: s.d.Vault.Name(), ArchivedAt: s.d.Now().UTC()}
	if err := writeReceipt(ctx, s.d.Results, key, receipt); err != nil {
		// The record update still makes the archive reachable.
		s.d.Logger.Warn("Failed to write receipt", zap.String("key", key), zap.String("archive_id", archiveID), zap.Error(err))
	}
	return receipt, nil
}

// currentReceipt returns the receipt left by an earlier attempt of this hot
// cycle whose archive is still in the vault. Any other receipt is removed and
// nil is returned, so the caller uploads afresh.
func (s *Sweeper) currentReceipt(ctx context.Context, log *zap.Logger, rec *job.Record, key string) (*Receipt, error) {
	receipt, err := readReceipt(ctx, s.d.Results, key)
	if err != nil {
		log.Warn("Ignoring unreadable receipt", zap.Error(err))
		return nil, s.dropReceipt(ctx, key)
	}
	if receipt == nil {
		return nil, nil
	}

	stale := ""
	switch {
	case receipt.JobID != rec.JobID:
		stale = "job id mismatch"
	case receipt.Vault != "" && receipt.Vault != s.d.Vault.Name():
		stale = "different vault"
	case receipt.ArchivedAt.Before(rec.HotSince()):
		stale = "written before the result became hot"
	default:
		known, exists, err := coldstore.CheckArchive(ctx, s.d.Vault, receipt.ArchiveID)
		if err != nil {
			return nil, fmt.Errorf("check archive %s: %w", receipt.ArchiveID, err)
		}
		if known && !exists {
			stale = "archive missing from vault"
		}
	}
	if stale == "" {
		return receipt, nil
	}
	log.Warn("Discarding stale receipt", zap.String("archive_id", receipt.ArchiveID), zap.String("reason", stale))
	return nil, s.dropReceipt(ctx, key)
}

func (s *Sweeper) dropReceipt(ctx context.Context, key string) error {
	if err := s.d.Results.DeleteObject(ctx, ReceiptKey(key)); err != nil && !provider.IsNotFound(err) {
		return fmt.Errorf("delete receipt: %w", err)
	}
	return nil
}

// finishArchived deletes the hot copy of a result whose archive is already
// recorded. The record only reaches ARCHIVED after a cold upload of this hot
// cycle, so its archive id is trusted unless the vault says otherwise.
func (s *Sweeper) finishArchived(ctx context.Context, log *zap.Logger, rec *job.Record, key string) outcome {
	log = log.With(zap.String("archive_id", rec.ArchiveID))
	if rec.ArchiveID == "" {
		log.Warn("Archived job has no archive id; keeping hot copy")
		return outcomeSkipped
	}
	known, exists, err := coldstore.CheckArchive(ctx, s.d.Vault, rec.ArchiveID)
	if err != nil {
		log.Error("Failed to check archive; keeping hot copy", zap.Error(err))
		return outcomeFailed
	}
	if known && !exists {
		log.Error("Recorded archive is missing from the vault; keeping hot copy")
		return outcomeFailed
	}
	if err := s.deleteHot(ctx, key); err != nil {
		log.Error("Failed to delete archived hot copy", zap.Error(err))
		return outcomeFailed
	}
	log.Info("Removed hot copy of archived result")
	return outcomeResumed
}

// deleteHot removes the receipt and then the result, so a receipt never
// outlives the hot copy it describes.
func (s *Sweeper) deleteHot(ctx context.Context, key string) error {
	if err := s.dropReceipt(ctx, key); err != nil {
		return err
	}
	return s.d.Results.DeleteObject(ctx, key)
}
