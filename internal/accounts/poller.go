package accounts

import (
	"context"
	"log/slog"
	"time"

	"github.com/openpermissions/chubindex/internal/domain"
	"github.com/openpermissions/chubindex/internal/metrics"
)

// RepositoryRegistry is the subset of registry.Store the poller needs.
type RepositoryRegistry interface {
	Get(id string) (*domain.Repository, error)
	Set(rec *domain.Repository) error
}

// RepositoryScheduler is the subset of scheduler.Scheduler the poller needs.
type RepositoryScheduler interface {
	ScheduleDefault(repoID string)
}

// Poller periodically lists repositories from the accounts service (§4.3)
// and registers any unknown ones. It never refreshes existing repositories
// and never removes repositories that have disappeared from the accounts
// listing — both are documented, deliberate omissions (§9).
type Poller struct {
	client   *Client
	registry RepositoryRegistry
	sched    RepositoryScheduler
	logger   *slog.Logger
	interval time.Duration
}

func NewPoller(client *Client, registry RepositoryRegistry, sched RepositoryScheduler, logger *slog.Logger, interval time.Duration) *Poller {
	return &Poller{
		client:   client,
		registry: registry,
		sched:    sched,
		logger:   logger.With("component", "accounts_poller"),
		interval: interval,
	}
}

// Start runs the poll loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("accounts poller started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("accounts poller shut down")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs a single accounts-listing cycle. Exported so tests can drive it
// deterministically instead of racing a ticker.
func (p *Poller) Poll(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.AccountsPollDuration.Observe(time.Since(start).Seconds()) }()

	repos, err := p.client.ListRepositories(ctx)
	if err != nil {
		// Never abort the loop on a transient accounts-service failure.
		p.logger.Error("list repositories", "error", err)
		return
	}

	discovered := 0
	for _, repo := range repos {
		if _, err := p.registry.Get(repo.ID); err == nil {
			continue // already known — existing repos are not refreshed here
		}
		if err := p.registry.Set(repo); err != nil {
			p.logger.Error("register discovered repository", "repo_id", repo.ID, "error", err)
			continue
		}
		p.sched.ScheduleDefault(repo.ID)
		discovered++
	}
	if discovered > 0 {
		metrics.AccountsRegisteredTotal.Add(float64(discovered))
		p.logger.Info("accounts poller discovered repositories", "count", discovered)
	}
}
