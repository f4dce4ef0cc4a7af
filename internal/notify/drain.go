package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/openpermissions/chubindex/internal/metrics"
)

// RepositoryScheduler is the subset of scheduler.Scheduler the drain loop
// needs.
type RepositoryScheduler interface {
	Reschedule(repoID string, delay time.Duration)
}

// Drainer is the cooperative loop described in §4.2: it wakes every
// pollInterval, drains up to maxPerTick notifications, and reschedules each
// one with notifyMinDelay — a lower bound, not zero, so a burst of
// notifications about the same repository collapses via the scheduler's
// own de-duplication rather than stampeding the upstream repository.
type Drainer struct {
	queue              *Queue
	sched              RepositoryScheduler
	logger             *slog.Logger
	pollInterval       time.Duration
	maxPerTick         int
	notifyMinDelay     time.Duration
	overloadWarningAt  int64
}

func NewDrainer(queue *Queue, sched RepositoryScheduler, logger *slog.Logger, pollInterval time.Duration, maxPerTick int, notifyMinDelay time.Duration, overloadWarningAt int64) *Drainer {
	return &Drainer{
		queue:             queue,
		sched:             sched,
		logger:            logger.With("component", "notify_drain"),
		pollInterval:      pollInterval,
		maxPerTick:        maxPerTick,
		notifyMinDelay:    notifyMinDelay,
		overloadWarningAt: overloadWarningAt,
	}
}

// Start runs the drain loop until ctx is cancelled.
func (d *Drainer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("notification drain started", "interval", d.pollInterval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification drain shut down")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs a single drain cycle. Exported so tests can drive it
// deterministically instead of racing a ticker.
func (d *Drainer) Tick(ctx context.Context) {
	if depth, err := d.queue.Depth(ctx); err != nil {
		// Some platforms (or a transiently unreachable Redis) cannot
		// report queue depth — tolerate it, per §7.
		d.logger.Debug("queue depth unavailable", "error", err)
	} else {
		metrics.NotifyQueueDepth.Set(float64(depth))
		if depth > d.overloadWarningAt {
			d.logger.Info("notification queue depth over warning threshold", "depth", depth)
		}
	}

	ids, err := d.queue.Drain(ctx, d.maxPerTick)
	if err != nil {
		d.logger.Warn("notification drain failed", "error", err)
		return
	}

	for _, id := range ids {
		d.sched.Reschedule(id, d.notifyMinDelay)
	}
	if len(ids) > 0 {
		metrics.NotifyDrainedTotal.Add(float64(len(ids)))
	}
}
