// Package notify implements the Notification Intake component (§4.2): a
// bounded MPMC queue shared between the HTTP front-end processes and the
// crawler process. It is backed by a Redis list so that producers (the
// /notifications handler, possibly running in separate processes) and the
// single consumer (the drain loop below) don't need a direct connection to
// each other — Redis is the "sole cross-process shared mutable state" the
// concurrency model (§5) calls for.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Queue is the bounded, non-blocking producer side of the notification
// intake. Overflow drops the oldest buffered entries (via LTRIM), never the
// newest — the write that would overflow the list always succeeds, and it
// is the list's tail that gets trimmed away.
type Queue struct {
	client  redis.Cmdable
	key     string
	maxSize int64
	logger  *slog.Logger
}

// New creates a Queue bound to a single Redis list key, capped at maxSize.
func New(client redis.Cmdable, key string, maxSize int64, logger *slog.Logger) *Queue {
	return &Queue{
		client:  client,
		key:     key,
		maxSize: maxSize,
		logger:  logger.With("component", "notify_queue"),
	}
}

// PutNowait enqueues repoID without blocking. It never returns an error to
// the caller for a full queue — overflow is handled by trimming and logged
// as a warning, per the "drop on overflow" contract in §4.2.
func (q *Queue) PutNowait(ctx context.Context, repoID string) {
	pipe := q.client.TxPipeline()
	push := pipe.LPush(ctx, q.key, repoID)
	pipe.LTrim(ctx, q.key, 0, q.maxSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("notification queue push failed", "repo_id", repoID, "error", err)
		return
	}
	if push.Val() > q.maxSize {
		q.logger.Warn("notification queue full, oldest entries dropped", "repo_id", repoID, "max_size", q.maxSize)
	}
}

// Drain pops up to n repo ids, FIFO (oldest push first). Returns fewer than
// n if the queue holds fewer entries. Never blocks.
func (q *Queue) Drain(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := q.client.RPopCount(ctx, q.key, n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drain notification queue: %w", err)
	}
	return ids, nil
}

// Depth reports the current queue length. Errors are returned rather than
// swallowed here — the caller (the drain loop) treats depth-inspection
// failure as best-effort and logs instead of failing.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
