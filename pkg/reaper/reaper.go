// Package reaper re-queues jobs stuck in RUNNING.
//
// A job whose latest claim is older than StaleAfter is flagged
// requeue_pending and a fresh job request is published, which lets the
// dispatch worker claim it again. Jobs that have used MaxAttempts claims are
// reported and left alone.
package reaper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
)

const (
	DefaultStaleAfter  = time.Hour
	DefaultMaxAttempts = 3
)

// Config configures a Reaper.
type Config struct {
	StaleAfter    time.Duration
	MaxAttempts   int
	RequestsTopic string
}

// Summary counts the outcome of one pass.
type Summary struct {
	Stale     int
	Requeued  int
	Exhausted int
	Failed    int
}

// Reaper finds and re-queues stale jobs.
type Reaper struct {
	cfg    Config
	store  jobstore.Store
	pub    notify.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Reaper. now may be nil.
func New(cfg Config, store jobstore.Store, pub notify.Publisher, logger *zap.Logger, now func() time.Time) (*Reaper, error) {
	if store == nil || pub == nil {
		return nil, errors.New("reaper: store and publisher are required")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Reaper{cfg: cfg, store: store, pub: pub, logger: logger, now: now}, nil
}

// Reap performs one pass.
func (r *Reaper) Reap(ctx context.Context) (*Summary, error) {
	cutoff := r.now().Add(-r.cfg.StaleAfter)
	stale, err := r.store.ListStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Stale: len(stale)}
	for _, rec := range stale {
		log := r.logger.With(zap.String("job_id", rec.JobID), zap.Int("attempts", rec.Attempts))
		if rec.Attempts >= r.cfg.MaxAttempts {
			log.Error("Job exhausted its attempts; leaving RUNNING", zap.Time("started_at", rec.StartedAt()))
			summary.Exhausted++
			continue
		}
		if err := r.store.Requeue(ctx, rec.JobID, cutoff); err != nil {
			if jobstore.IsConflict(err) {
				// Completed or re-claimed since the listing.
				continue
			}
			log.Warn("Failed to requeue job", zap.Error(err))
			summary.Failed++
			continue
		}
		if err := r.pub.Publish(ctx, r.cfg.RequestsTopic, message.EventJobRequested, message.NewJobRequest(rec)); err != nil {
			log.Warn("Requeued but request not published; next pass retries", zap.Error(err))
			summary.Failed++
			continue
		}
		log.Info("Requeued stale job", zap.Time("started_at", rec.StartedAt()))
		summary.Requeued++
	}
	return summary, nil
}

// RunPeriodic reaps immediately and then every interval until ctx is
// canceled. A non-positive interval reaps once.
func (r *Reaper) RunPeriodic(ctx context.Context, interval time.Duration) error {
	for {
		summary, err := r.Reap(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Error("Reap failed", zap.Error(err))
		case err == nil:
			r.logger.Info("Reap completed",
				zap.Int("stale", summary.Stale),
				zap.Int("requeued", summary.Requeued),
				zap.Int("exhausted", summary.Exhausted),
				zap.Int("failed", summary.Failed))
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
