// Package crawl implements the Fetch Manager / Workers (§4.5): it drains
// the scheduler with fixed concurrency, paginates each due repository's
// identifier feed, writes accepted identifiers to the index store, and
// reschedules with a backoff-sensitive delay.
package crawl

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/openpermissions/chubindex/internal/domain"
	"github.com/openpermissions/chubindex/internal/metrics"
	"github.com/openpermissions/chubindex/internal/registry"
)

// RepositoryScheduler is the subset of scheduler.Scheduler the fetch
// manager needs.
type RepositoryScheduler interface {
	Get(n int) []string
	Schedule(repoID string, delay time.Duration)
	Len() int
}

// RepositoryRegistry is the subset of registry.Store the fetch manager
// needs.
type RepositoryRegistry interface {
	Get(id string) (*domain.Repository, error)
	Fail(id string) (*domain.Repository, error)
	Success(id string, next *time.Time) (*domain.Repository, error)
}

// OpenRegistry is the registry operation used when a scheduled id isn't
// known locally and open_service is enabled.
type OpenRegistry interface {
	FetchRemote(ctx context.Context, id string, resolver registry.RemoteResolver, openService bool) (*domain.Repository, error)
}

// Feed fetches one page of a repository's identifier feed.
type Feed interface {
	FetchPage(ctx context.Context, location, repoID string, page int, from time.Time) (domain.IdentifierPage, error)
}

// IndexWriter submits a batch of identifiers to the index store.
type IndexWriter interface {
	AddEntities(ctx context.Context, entityType string, rows []domain.IdentifierRow, repoID string) (domain.WriteResult, error)
}

// Limiter paces outbound requests per repository id.
type Limiter interface {
	Wait(ctx context.Context, repoID string) error
}

// Config bundles the Fetch Manager's tunables (§6 configuration table).
type Config struct {
	Concurrency              int
	DefaultPollInterval      time.Duration
	MaxPollErrorDelayFactor  int
	MaxRepositoryPages       int // 0 = unbounded (§9 open question)
	NotificationPollInterval time.Duration
	OpenService              bool
}

// Manager is the Fetch Manager described in §4.5.
type Manager struct {
	sched    RepositoryScheduler
	reg      RepositoryRegistry
	openReg  OpenRegistry
	resolver registry.RemoteResolver
	feed     Feed
	index    IndexWriter
	limiter  Limiter
	logger   *slog.Logger
	cfg      Config
}

func NewManager(sched RepositoryScheduler, reg RepositoryRegistry, openReg OpenRegistry, resolver registry.RemoteResolver, feed Feed, index IndexWriter, limiter Limiter, logger *slog.Logger, cfg Config) *Manager {
	return &Manager{
		sched:    sched,
		reg:      reg,
		openReg:  openReg,
		resolver: resolver,
		feed:     feed,
		index:    index,
		limiter:  limiter,
		logger:   logger.With("component", "fetch_manager"),
		cfg:      cfg,
	}
}

// Start runs fetch_forever (§4.5) until ctx is cancelled: drain due
// repositories with fixed concurrency, fetch each one, sleep briefly when
// nothing is due.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("fetch manager started", "concurrency", m.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("fetch manager shut down")
			return
		default:
		}

		if m.Tick(ctx) == 0 {
			idle := m.cfg.NotificationPollInterval
			if idle <= 0 || idle > time.Second {
				idle = time.Second
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
		}
	}
}

// Tick drains up to Concurrency due repositories and fetches each
// concurrently, returning how many were dispatched. Exported so tests can
// drive a single cycle deterministically.
func (m *Manager) Tick(ctx context.Context) int {
	ids := m.sched.Get(m.cfg.Concurrency)
	metrics.SchedulerQueueDepth.Set(float64(m.sched.Len()))
	if len(ids) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(repoID string) {
			defer wg.Done()
			m.fetch(ctx, repoID)
		}(id)
	}
	wg.Wait()
	return len(ids)
}

// fetch implements the per-repository cycle in §4.5, steps 1-7.
func (m *Manager) fetch(ctx context.Context, id string) {
	start := time.Now()
	outcome := "success"
	defer func() { metrics.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds()) }()

	repo, err := m.reg.Get(id)
	if err != nil {
		if !errors.Is(err, domain.ErrRepositoryNotFound) {
			m.logger.Error("load repository record", "repo_id", id, "error", err)
			return
		}
		if !m.cfg.OpenService {
			m.logger.Info("unknown repository, service closed, dropping", "repo_id", id)
			return
		}
		repo, err = m.openReg.FetchRemote(ctx, id, m.resolver, true)
		if err != nil {
			m.logger.Info("unknown repository, accounts lookup failed, dropping", "repo_id", id, "error", err)
			return
		}
	}

	failed := repo.Location == ""
	if failed {
		m.logger.Warn("repository has no known location, failing cycle", "repo_id", id)
	}

	var lastResultTo string
	if !failed {
		lastResultTo, failed = m.paginate(ctx, repo, id)
	}

	var updated *domain.Repository
	if failed {
		outcome = "failed"
		metrics.RegistryErrorsTotal.WithLabelValues(id).Inc()
		updated, err = m.reg.Fail(id)
	} else {
		var next *time.Time
		if lastResultTo != "" {
			if parsed, parseErr := time.Parse(time.RFC3339, lastResultTo); parseErr == nil {
				next = &parsed
			} else {
				m.logger.Warn("unparsable result_range upper bound", "repo_id", id, "value", lastResultTo, "error", parseErr)
			}
		}
		updated, err = m.reg.Success(id, next)
	}
	if err != nil {
		m.logger.Error("persist repository outcome", "repo_id", id, "error", err)
		return
	}

	delay := nextPollInterval(updated.Errors, m.cfg.MaxPollErrorDelayFactor, m.cfg.DefaultPollInterval)
	m.sched.Schedule(id, delay)
}

// paginate walks the repository's identifier feed from its stored cursor,
// submitting each non-empty page to the index store. It returns the last
// seen result-range upper bound (the new cursor) and whether the cycle
// should be treated as failed.
func (m *Manager) paginate(ctx context.Context, repo *domain.Repository, id string) (lastResultTo string, failed bool) {
	from := repo.FromTime()

	for page := 1; ; page++ {
		if err := m.limiter.Wait(ctx, id); err != nil {
			m.logger.Warn("rate limiter wait aborted", "repo_id", id, "error", err)
			return lastResultTo, true
		}

		result, err := m.feed.FetchPage(ctx, repo.Location, id, page, from)
		if err != nil {
			metrics.FetchPagesTotal.WithLabelValues("failed").Inc()
			m.logger.Warn("fetch identifier page failed", "repo_id", id, "page", page, "error", err)
			return lastResultTo, true
		}
		if len(result.Data) == 0 {
			return lastResultTo, false
		}

		if _, err := m.index.AddEntities(ctx, "asset", result.Data, id); err != nil {
			metrics.FetchPagesTotal.WithLabelValues("failed").Inc()
			m.logger.Warn("submit identifier page failed", "repo_id", id, "page", page, "error", err)
			return lastResultTo, true
		}
		metrics.FetchPagesTotal.WithLabelValues("success").Inc()

		if result.ResultRange != nil {
			lastResultTo = result.ResultRange.To
		}
		if m.cfg.MaxRepositoryPages > 0 && page >= m.cfg.MaxRepositoryPages {
			return lastResultTo, false
		}
	}
}

// nextPollInterval implements _next_poll_interval (§4.5): the backoff
// multiplier is clamped to [1, maxFactor], then scaled by a uniform draw
// in [0.5·interval, interval).
func nextPollInterval(errorsCount, maxFactor int, interval time.Duration) time.Duration {
	if maxFactor < 1 {
		maxFactor = 1
	}
	factor := errorsCount
	if factor < 1 {
		factor = 1
	}
	if factor > maxFactor {
		factor = maxFactor
	}

	lower := float64(interval) * 0.5
	span := float64(interval) - lower
	draw := lower + rand.Float64()*span

	return time.Duration(float64(factor) * draw)
}
