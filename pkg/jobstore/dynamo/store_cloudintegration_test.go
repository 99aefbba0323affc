//go:build cloudintegration

package dynamo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore/dynamo"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore/jobstoretest"
	"github.com/hklu21/Genomics-Analysis-Service/test/cloudtest"
)

func TestStore_Lifecycle_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	table := cloudtest.CreateJobTable(t, ctx)
	s, err := dynamo.NewFromConfig(cloudtest.AWSConfig(t), dynamo.Config{Table: table, UserIndex: cloudtest.UserIndex})
	require.NoError(t, err)

	rec := jobstoretest.Pending("j1", "alice", "a.vcf")
	require.NoError(t, s.Create(ctx, rec))
	assert.True(t, jobstore.IsConflict(s.Create(ctx, rec)))

	start := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	claimed, err := s.Claim(ctx, "j1", start)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, claimed.Status)

	_, err = s.Claim(ctx, "j1", start)
	assert.True(t, jobstore.IsConflict(err))

	done, err := s.Complete(ctx, "j1", job.Completion{
		ResultsBucket: "gas-results",
		ResultKey:     "gas/alice/j1~a.annot.vcf",
		LogKey:        "gas/alice/j1~a.vcf.count.log",
		CompletedAt:   start.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)

	require.NoError(t, s.MarkArchived(ctx, "j1", "arch-1"))
	archived, err := s.ListArchived(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "j1", archived[0].JobID)

	assert.True(t, jobstore.IsConflict(s.MarkRetrieving(ctx, "j1", "arch-other", "ret-1")))
	require.NoError(t, s.MarkRetrieving(ctx, "j1", "arch-1", "ret-1"))
	require.NoError(t, s.MarkRestored(ctx, "j1", start.Add(time.Hour)))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StorageRestored, got.Storage())

	_, err = s.Get(ctx, "missing")
	assert.True(t, jobstore.IsNotFound(err))
}
