package sqlitequeue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "queues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fastOpts() queue.Options {
	return queue.Options{WaitTime: 20 * time.Millisecond, VisibilityTimeout: time.Minute, MaxMessages: 10}
}

func TestQueue_SendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	q := db.Queue("requests", fastOpts(), 5*time.Millisecond)

	require.NoError(t, q.Send(ctx, "one"))
	require.NoError(t, q.Send(ctx, "two"))

	msgs, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, 1, msgs[0].ReceiveCount)
	assert.NotEmpty(t, msgs[0].ReceiptHandle)

	// Leased messages are invisible.
	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, q.Delete(ctx, msgs[0]))
	depth, err := db.Depth(ctx, "requests")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Unix(1_000_000, 0)
	db.SetClock(func() time.Time { return now })
	q := db.Queue("restore", fastOpts(), 5*time.Millisecond)

	require.NoError(t, q.Send(ctx, "thaw"))
	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	now = now.Add(2 * time.Minute)
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].ReceiveCount)
	assert.NotEqual(t, first[0].ReceiptHandle, second[0].ReceiptHandle)

	// The first receipt is stale; deleting with it is a no-op.
	require.NoError(t, q.Delete(ctx, first[0]))
	depth, err := db.Depth(ctx, "restore")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestQueue_Release(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Unix(1_000_000, 0)
	db.SetClock(func() time.Time { return now })
	q := db.Queue("restore", fastOpts(), 5*time.Millisecond)

	require.NoError(t, q.Send(ctx, "thaw"))
	msgs, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Release(ctx, msgs[0], 0))
	msgs, err = q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Release(ctx, msgs[0], 15*time.Minute))
	none, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	now = now.Add(15 * time.Minute)
	msgs, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestQueue_Isolation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a := db.Queue("a", fastOpts(), 5*time.Millisecond)
	b := db.Queue("b", fastOpts(), 5*time.Millisecond)

	require.NoError(t, a.Send(ctx, "for-a"))
	msgs, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = a.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "for-a", msgs[0].Body)
}

func TestQueue_ReceiveHonorsCancel(t *testing.T) {
	db := openTestDB(t)
	q := db.Queue("idle", queue.Options{WaitTime: time.Hour}, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
