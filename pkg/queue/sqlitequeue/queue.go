// Package sqlitequeue implements queue.Queue on a local SQLite database.
//
// Several named queues share one database file. A receive leases messages
// with a single UPDATE ... RETURNING statement, moving visible_at forward by
// the visibility timeout, so concurrent receivers in different processes
// never lease the same message at the same time.
package sqlitequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
)

// DefaultPollInterval is how often an empty queue is re-checked while long
// polling.
const DefaultPollInterval = 250 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    queue         TEXT NOT NULL,
    body          TEXT NOT NULL,
    receive_count INTEGER NOT NULL DEFAULT 0,
    receipt       TEXT NOT NULL DEFAULT '',
    visible_at    INTEGER NOT NULL,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_visible ON messages (queue, visible_at, seq);
`

// DB is a queue database.
type DB struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates (if needed) and opens the queue database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite queue: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &DB{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SetClock replaces the time source used for visibility.
func (d *DB) SetClock(now func() time.Time) { d.now = now }

// Queue returns a handle on the named queue.
func (d *DB) Queue(name string, opts queue.Options, pollInterval time.Duration) *Queue {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Queue{db: d, name: name, opts: opts.WithDefaults(), poll: pollInterval}
}

// Depth returns the number of messages (visible or leased) in a queue.
func (d *DB) Depth(ctx context.Context, name string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE queue = ?`, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth %s: %w", name, err)
	}
	return n, nil
}

// Queue implements queue.Queue and queue.Sender.
type Queue struct {
	db   *DB
	name string
	opts queue.Options
	poll time.Duration
}

var (
	_ queue.Queue  = (*Queue)(nil)
	_ queue.Sender = (*Queue)(nil)
)

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Send enqueues body, visible immediately.
func (q *Queue) Send(ctx context.Context, body string) error {
	now := q.db.now().UnixMilli()
	_, err := q.db.db.ExecContext(ctx,
		`INSERT INTO messages (id, queue, body, visible_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), q.name, body, now, now,
	)
	if err != nil {
		return fmt.Errorf("queue send %s: %w", q.name, err)
	}
	return nil
}

// Receive leases up to MaxMessages visible messages, polling until WaitTime
// elapses or ctx is canceled.
func (q *Queue) Receive(ctx context.Context) ([]queue.Message, error) {
	deadline := time.Now().Add(q.opts.WaitTime)
	for {
		msgs, err := q.lease(ctx)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := q.poll
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (q *Queue) lease(ctx context.Context) ([]queue.Message, error) {
	now := q.db.now()
	receipt := uuid.NewString()
	rows, err := q.db.db.QueryContext(ctx,
		`UPDATE messages
         SET visible_at = ?, receive_count = receive_count + 1, receipt = ? || ':' || id
         WHERE seq IN (
             SELECT seq FROM messages WHERE queue = ? AND visible_at <= ? ORDER BY seq LIMIT ?
         )
         RETURNING seq, id, body, receive_count, receipt`,
		now.Add(q.opts.VisibilityTimeout).UnixMilli(), receipt, q.name, now.UnixMilli(), q.opts.MaxMessages,
	)
	if err != nil {
		return nil, fmt.Errorf("queue receive %s: %w", q.name, err)
	}
	defer func() { _ = rows.Close() }()

	type leased struct {
		seq int64
		msg queue.Message
	}
	var batch []leased
	for rows.Next() {
		var l leased
		if err := rows.Scan(&l.seq, &l.msg.ID, &l.msg.Body, &l.msg.ReceiveCount, &l.msg.ReceiptHandle); err != nil {
			return nil, fmt.Errorf("queue receive %s: %w", q.name, err)
		}
		batch = append(batch, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue receive %s: %w", q.name, err)
	}

	// RETURNING order is unspecified.
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
	msgs := make([]queue.Message, 0, len(batch))
	for _, l := range batch {
		msgs = append(msgs, l.msg)
	}
	return msgs, nil
}

// Delete removes a message if the receipt is still current. A stale receipt
// (the message was re-leased) is ignored.
func (q *Queue) Delete(ctx context.Context, m queue.Message) error {
	_, err := q.db.db.ExecContext(ctx,
		`DELETE FROM messages WHERE queue = ? AND id = ? AND receipt = ?`, q.name, m.ID, m.ReceiptHandle)
	if err != nil {
		return fmt.Errorf("queue delete %s: %w", m.ID, err)
	}
	return nil
}

// Release moves the message's visibility to now + delay.
func (q *Queue) Release(ctx context.Context, m queue.Message, delay time.Duration) error {
	_, err := q.db.db.ExecContext(ctx,
		`UPDATE messages SET visible_at = ? WHERE queue = ? AND id = ? AND receipt = ?`,
		q.db.now().Add(delay).UnixMilli(), q.name, m.ID, m.ReceiptHandle)
	if err != nil {
		return fmt.Errorf("queue release %s: %w", m.ID, err)
	}
	return nil
}
