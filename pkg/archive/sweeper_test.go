package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore/local"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore/jobstoretest"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore/sqlite"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify/notifytest"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/profile"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider/file"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/workspace"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type flakyStore struct {
	jobstore.Store
	failArchive error
	failRestore error
}

func (s *flakyStore) MarkArchived(ctx context.Context, id, archiveID string) error {
	if s.failArchive != nil {
		return s.failArchive
	}
	return s.Store.MarkArchived(ctx, id, archiveID)
}

func (s *flakyStore) MarkRestored(ctx context.Context, id string, at time.Time) error {
	if s.failRestore != nil {
		return s.failRestore
	}
	return s.Store.MarkRestored(ctx, id, at)
}

// flakyResults fails puts and deletes. putOnly and deleteOnly restrict the
// failure to keys with that suffix.
type flakyResults struct {
	provider.ObjectStore
	failPut    error
	putOnly    string
	failDelete error
	deleteOnly string
}

func fails(err error, only, key string) error {
	if err == nil || (only != "" && !strings.HasSuffix(key, only)) {
		return nil
	}
	return err
}

func (p *flakyResults) PutObject(ctx context.Context, key string, body io.Reader, n int64) error {
	if err := fails(p.failPut, p.putOnly, key); err != nil {
		return err
	}
	return p.ObjectStore.PutObject(ctx, key, body, n)
}

func (p *flakyResults) DeleteObject(ctx context.Context, key string) error {
	if err := fails(p.failDelete, p.deleteOnly, key); err != nil {
		return err
	}
	return p.ObjectStore.DeleteObject(ctx, key)
}

type flakyVault struct {
	*local.Vault
	failUpload error
	failDelete error
}

func (v *flakyVault) UploadArchive(ctx context.Context, desc string, body io.ReadSeeker) (string, error) {
	if v.failUpload != nil {
		return "", v.failUpload
	}
	return v.Vault.UploadArchive(ctx, desc, body)
}

func (v *flakyVault) DeleteArchive(ctx context.Context, id string) error {
	if v.failDelete != nil {
		return v.failDelete
	}
	return v.Vault.DeleteArchive(ctx, id)
}

type fixture struct {
	sqlite  *sqlite.Store
	store   *flakyStore
	hot     *file.Provider
	results *flakyResults
	local   *local.Vault
	vault   *flakyVault
	pub     *notifytest.Recorder
	ws      *workspace.Workspace
	clock   time.Time
	sweeper *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hot, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	v, err := local.New(local.Config{Dir: t.TempDir(), Name: "gas-vault"})
	require.NoError(t, err)
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	f := &fixture{sqlite: jobstoretest.New(t), hot: hot, local: v, pub: &notifytest.Recorder{}, ws: ws, clock: now}
	f.store = &flakyStore{Store: f.sqlite}
	f.results = &flakyResults{ObjectStore: hot}
	f.vault = &flakyVault{Vault: v}

	f.sweeper, err = New(Config{
		ResultsPrefix: "gas",
		ResultsBucket: "gas-results",
		GracePeriod:   300 * time.Second,
		ArchiveTopic:  "archive",
	}, Deps{
		Store:   f.store,
		Results: f.results,
		Vault:   f.vault,
		Profiles: profile.Static{
			"alice": {Tier: profile.TierFree},
			"carol": {Tier: profile.TierPremium},
		},
		Publisher: f.pub,
		Workspace: ws,
		Now:       func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	return f
}

// completed creates a COMPLETED job whose result is in hot storage.
func (f *fixture) completed(t *testing.T, id, user string, age time.Duration) *job.Record {
	t.Helper()
	rec := jobstoretest.Completed(t, f.sqlite, id, user, "sample.vcf", now.Add(-age))
	body := []byte("annotated " + id)
	require.NoError(t, f.hot.PutObject(context.Background(), rec.ResultKey, bytes.NewReader(body), int64(len(body))))
	return rec
}

func (f *fixture) get(t *testing.T, id string) *job.Record {
	t.Helper()
	rec, err := f.sqlite.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (f *fixture) hotExists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := provider.Exists(context.Background(), f.hot, key)
	require.NoError(t, err)
	return ok
}

func (f *fixture) archives(t *testing.T) int {
	t.Helper()
	n, err := f.local.ArchiveCount()
	require.NoError(t, err)
	return n
}

func TestSweep_ArchivesFreeTierPastGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.completed(t, "job-1", "alice", 400*time.Second)

	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Archived)

	got := f.get(t, "job-1")
	assert.Equal(t, job.StorageArchived, got.Storage())
	assert.NotEmpty(t, got.ArchiveID)
	assert.False(t, f.hotExists(t, rec.ResultKey))
	assert.False(t, f.hotExists(t, ReceiptKey(rec.ResultKey)))
	assert.True(t, f.hotExists(t, rec.LogKey))
	assert.Equal(t, 1, f.archives(t))

	// The cold copy carries the hot key and the exact bytes.
	retrievalID, err := f.local.InitiateRetrieval(ctx, got.ArchiveID)
	require.NoError(t, err)
	body, desc, err := f.local.RetrievalOutput(ctx, retrievalID)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	_ = body.Close()
	assert.Equal(t, rec.ResultKey, desc)
	assert.Equal(t, "annotated job-1", string(data))

	sent := f.pub.Events(message.EventJobArchived)
	require.Len(t, sent, 1)
	var notice message.ArchiveNotice
	require.NoError(t, json.Unmarshal(sent[0].Payload, &notice))
	assert.Equal(t, "job-1", notice.JobID)
	assert.Equal(t, got.ArchiveID, notice.ArchiveID)
	assert.Equal(t, "gas-vault", notice.VaultName)
	assert.Equal(t, "job-1~sample.annot.vcf", notice.FileName)

	// A second sweep finds nothing to do.
	summary, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned)
	assert.Equal(t, 1, f.archives(t))
}

func TestSweep_SkipsIneligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	young := f.completed(t, "job-young", "alice", 200*time.Second)
	premium := f.completed(t, "job-premium", "carol", time.Hour)
	unknown := f.completed(t, "job-unknown", "mallory", time.Hour)

	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 3, summary.Skipped)

	for _, rec := range []*job.Record{young, premium, unknown} {
		assert.Equal(t, job.StorageHot, f.get(t, rec.JobID).Storage(), rec.JobID)
		assert.True(t, f.hotExists(t, rec.ResultKey), rec.JobID)
	}
	assert.Zero(t, f.archives(t))
	assert.Empty(t, f.pub.Sent())
}

func TestSweep_UploadFailureKeepsHotCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.completed(t, "job-1", "alice", time.Hour)
	f.vault.failUpload = errors.New("vault unavailable")

	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	assert.Equal(t, job.StorageHot, f.get(t, "job-1").Storage())
	assert.True(t, f.hotExists(t, rec.ResultKey))
	assert.False(t, f.hotExists(t, ReceiptKey(rec.ResultKey)))
}

func TestSweep_RecordFailureResumesFromReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.completed(t, "job-1", "alice", time.Hour)
	f.store.failArchive = errors.Join(jobstore.ErrUnavailable, errors.New("throttled"))

	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	// Cold upload happened, hot copy kept, receipt left behind.
	assert.Equal(t, 1, f.archives(t))
	assert.Equal(t, job.StorageHot, f.get(t, "job-1").Storage())
	assert.True(t, f.hotExists(t, rec.ResultKey))
	receipt, err := readReceipt(ctx, f.hot, rec.ResultKey)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	f.store.failArchive = nil
	summary, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resumed)

	got := f.get(t, "job-1")
	assert.Equal(t, job.StorageArchived, got.Storage())
	assert.Equal(t, receipt.ArchiveID, got.ArchiveID)
	assert.Equal(t, 1, f.archives(t), "no second upload")
	assert.False(t, f.hotExists(t, rec.ResultKey))
	assert.False(t, f.hotExists(t, ReceiptKey(rec.ResultKey)))
}

func TestSweep_HotDeleteFailureFinishedLater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.completed(t, "job-1", "alice", time.Hour)
	f.results.failDelete = errors.New("access denied")

	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.StorageArchived, f.get(t, "job-1").Storage())
	assert.True(t, f.hotExists(t, rec.ResultKey))

	f.results.failDelete = nil
	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resumed)
	assert.False(t, f.hotExists(t, rec.ResultKey))
	assert.Equal(t, 1, f.archives(t))
}

func TestSweep_ReceiptFromEarlierHotCycleIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.completed(t, "job-1", "alice", time.Hour)

	// The receipt delete fails, so the first migration leaves its receipt
	// and the hot copy behind.
	f.results.failDelete = errors.New("access denied")
	f.results.deleteOnly = ReceiptSuffix
	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	first := f.get(t, "job-1")
	require.Equal(t, job.StorageArchived, first.Storage())
	stale, err := readReceipt(ctx, f.hot, rec.ResultKey)
	require.NoError(t, err)
	require.NotNil(t, stale)

	// The result is restored and its archive deleted; the receipt survives.
	restoredAt := now.Add(time.Minute)
	require.NoError(t, f.sqlite.MarkRetrieving(ctx, "job-1", first.ArchiveID, "r-1"))
	require.NoError(t, f.sqlite.MarkRestored(ctx, "job-1", restoredAt))
	require.NoError(t, f.local.DeleteArchive(ctx, first.ArchiveID))
	f.results.failDelete = nil
	require.True(t, f.hotExists(t, rec.ResultKey))

	f.clock = restoredAt.Add(10 * time.Minute)
	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Archived)
	assert.Zero(t, summary.Resumed)

	got := f.get(t, "job-1")
	assert.Equal(t, job.StorageArchived, got.Storage())
	assert.NotEqual(t, stale.ArchiveID, got.ArchiveID)
	assert.True(t, f.hasArchive(t, got.ArchiveID))
	assert.False(t, f.hotExists(t, rec.ResultKey))
	assert.False(t, f.hotExists(t, ReceiptKey(rec.ResultKey)))
	f.assertRetrievable(t, rec, "annotated job-1")
}

func TestSweep_ReceiptForMissingArchiveIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.completed(t, "job-1", "alice", time.Hour)
	require.NoError(t, writeReceipt(ctx, f.hot, rec.ResultKey, &Receipt{
		JobID:      "job-1",
		ArchiveID:  "deleted-archive",
		Vault:      "gas-vault",
		ArchivedAt: now,
	}))

	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Archived)
	assert.Zero(t, summary.Resumed)

	got := f.get(t, "job-1")
	assert.NotEqual(t, "deleted-archive", got.ArchiveID)
	assert.True(t, f.hasArchive(t, got.ArchiveID))
	assert.False(t, f.hotExists(t, ReceiptKey(rec.ResultKey)))
}

func TestSweep_ArchivedRecordWithoutReceipt(t *testing.T) {
	tests := []struct {
		name        string
		archiveGone bool
		want        func(*testing.T, *Summary)
		hotKept     bool
	}{
		{
			name:    "archive present deletes hot copy",
			want:    func(t *testing.T, s *Summary) { assert.Equal(t, 1, s.Resumed) },
			hotKept: false,
		},
		{
			name:        "archive missing keeps hot copy",
			archiveGone: true,
			want:        func(t *testing.T, s *Summary) { assert.Equal(t, 1, s.Failed) },
			hotKept:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			rec := f.completed(t, "job-1", "alice", time.Hour)

			// No receipt is written and the hot delete fails.
			f.results.failPut = errors.New("slow down")
			f.results.putOnly = ReceiptSuffix
			f.results.failDelete = errors.New("access denied")
			f.results.deleteOnly = job.ResultSuffix
			_, err := f.sweeper.Sweep(ctx)
			require.NoError(t, err)
			archived := f.get(t, "job-1")
			require.Equal(t, job.StorageArchived, archived.Storage())
			require.True(t, f.hotExists(t, rec.ResultKey))
			require.False(t, f.hotExists(t, ReceiptKey(rec.ResultKey)))

			f.results.failPut, f.results.failDelete = nil, nil
			if tt.archiveGone {
				require.NoError(t, f.local.DeleteArchive(ctx, archived.ArchiveID))
			}
			summary, err := f.sweeper.Sweep(ctx)
			require.NoError(t, err)
			tt.want(t, summary)
			assert.Equal(t, tt.hotKept, f.hotExists(t, rec.ResultKey))
		})
	}
}

func TestSweep_RestoredResultUsesRestoreTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.completed(t, "job-1", "alice", 24*time.Hour)

	require.NoError(t, f.sqlite.MarkArchived(ctx, "job-1", "a-1"))
	require.NoError(t, f.sqlite.MarkRetrieving(ctx, "job-1", "a-1", "r-1"))
	require.NoError(t, f.sqlite.MarkRestored(ctx, "job-1", now.Add(-time.Minute)))

	summary, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, job.StorageRestored, f.get(t, "job-1").Storage())

	f.sweeper.d.Now = func() time.Time { return now.Add(10 * time.Minute) }
	summary, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Archived)
	assert.Equal(t, job.StorageArchived, f.get(t, "job-1").Storage())
	assert.False(t, f.hotExists(t, rec.ResultKey))
}

func TestSweep_RateLimitHonorsCancel(t *testing.T) {
	f := newFixture(t)
	f.completed(t, "job-1", "alice", time.Hour)
	f.completed(t, "job-2", "alice", time.Hour)
	f.sweeper.limiter = newTestLimiter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.sweeper.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(0.001), 1)
}
