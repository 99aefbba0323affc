package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hklu21/Genomics-Analysis-Service/internal/config"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/execution"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/handoff"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/profile"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/restore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(context.Background(), "", map[string]any{
		"backend": config.BackendLocal,
		"store":   map[string]any{"sqlite_path": filepath.Join(dir, "db", "gas.db")},
		"storage": map[string]any{"local_dir": filepath.Join(dir, "buckets")},
		"vault":   map[string]any{"local_dir": filepath.Join(dir, "vault")},
		"queues":  map[string]any{"wait_time": "50ms"},
		"local":   map[string]any{"poll_interval": "10ms"},
		"execution": map[string]any{
			"jobs_dir": filepath.Join(dir, "jobs"),
			"launcher": config.LauncherInline,
		},
	})
	require.NoError(t, err)
	return cfg
}

// annotate writes the two artifacts the real tool produces.
var annotate = execution.ToolFunc(func(_ context.Context, inputPath string) error {
	dir := filepath.Dir(inputPath)
	name := filepath.Base(inputPath)
	if err := os.WriteFile(filepath.Join(dir, job.ResultFileName(name)), []byte("##annotated\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, job.LogFileName(name)), []byte("count: 1\n"), 0o644)
})

func TestBuild_LocalBackend(t *testing.T) {
	cfg := localConfig(t)
	p, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	assert.Equal(t, cfg.Vault.Name, p.Vault.Name())
	assert.DirExists(t, filepath.Join(cfg.Storage.LocalDir, cfg.Storage.InputsBucket))
	assert.DirExists(t, filepath.Join(cfg.Storage.LocalDir, cfg.Storage.ResultsBucket))

	q, err := p.Queue(cfg.Queues.Requests)
	require.NoError(t, err)
	assert.Equal(t, cfg.Queues.Requests, q.Name())

	_, err = p.Queue("")
	require.Error(t, err)

	l, err := p.Launcher(nil, annotate, false)
	require.NoError(t, err)
	assert.IsType(t, &handoff.InlineLauncher{}, l)
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	_, err := Build(context.Background(), &config.Config{Backend: "gcp"}, nil)
	require.Error(t, err)

	_, err = Build(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestSubmit_Validation(t *testing.T) {
	p, err := Build(context.Background(), localConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	dir := t.TempDir()
	_, err = p.Submit(context.Background(), "alice", filepath.Join(dir, "missing.vcf"))
	require.Error(t, err)

	bad := filepath.Join(dir, "a~b.vcf")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))
	_, err = p.Submit(context.Background(), "alice", bad)
	require.Error(t, err)

	good := filepath.Join(dir, "sample.vcf")
	require.NoError(t, os.WriteFile(good, []byte("x"), 0o644))
	_, err = p.Submit(context.Background(), "a/b", good)
	require.Error(t, err)
}

// TestLocalLifecycle drives one job from submission through archival and a
// premium restore on the local backend.
func TestLocalLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)
	clk := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	profiles := profile.Static{"alice": {Email: "alice@example.org", Name: "Alice", Tier: profile.TierFree}}

	p, err := Build(ctx, cfg, nil, WithClock(clk.Now), WithProfiles(profiles))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	// Submit.
	input := filepath.Join(t.TempDir(), "sample.vcf")
	require.NoError(t, os.WriteFile(input, []byte("##fileformat=VCFv4.2\n"), 0o644))
	rec, err := p.Submit(ctx, "alice", input)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, "gas/alice/"+rec.JobID+"~sample.vcf", rec.InputKey)

	// Dispatch runs the stage inline.
	launcher, err := p.Launcher(nil, annotate, false)
	require.NoError(t, err)
	worker, err := p.Dispatcher(launcher)
	require.NoError(t, err)
	requests, err := p.Consumer(cfg.Queues.Requests)
	require.NoError(t, err)
	worker.Register(requests)

	res, err := requests.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)

	done, err := p.Store.Get(ctx, rec.JobID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, job.ResultKey("gas/alice", rec.JobID, "sample.vcf"), done.ResultKey)
	ok, err := provider.Exists(ctx, p.Results, done.ResultKey)
	require.NoError(t, err)
	assert.True(t, ok)

	launch, err := p.Launches.Get(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, handoff.LaunchStateSucceeded, launch.State)

	// Within the grace period nothing moves.
	sweeper, err := p.Sweeper()
	require.NoError(t, err)
	sum, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Archived)

	clk.Advance(cfg.Sweep.GracePeriod + time.Second)
	sum, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Archived)

	archived, err := p.Store.Get(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StorageArchived, archived.Storage())
	ok, err = provider.Exists(ctx, p.Results, done.ResultKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// A free owner's "archived" notice is acknowledged without a restore.
	initiator, err := p.Initiator()
	require.NoError(t, err)
	archiveQ, err := p.Consumer(cfg.Queues.Archive)
	require.NoError(t, err)
	initiator.Register(archiveQ)

	res, err = archiveQ.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)
	depth, err := p.Depth(ctx, cfg.Queues.Restore)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// Upgrade, then restore.
	profiles["alice"].Tier = profile.TierPremium
	n, err := restore.RequestForUser(ctx, p.Store, p.Publisher, p.UpgradeRequest("alice"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err = archiveQ.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)

	retrieving, err := p.Store.Get(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StorageRetrieving, retrieving.Storage())

	thawer, err := p.Thawer()
	require.NoError(t, err)
	restoreQ, err := p.Consumer(cfg.Queues.Restore)
	require.NoError(t, err)
	thawer.Register(restoreQ)

	res, err = restoreQ.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)

	restored, err := p.Store.Get(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StorageRestored, restored.Storage())
	assert.Empty(t, restored.ArchiveID)
	body, err := provider.ReadAll(ctx, p.Results, done.ResultKey)
	require.NoError(t, err)
	assert.Equal(t, "##annotated\n", string(body))
}
