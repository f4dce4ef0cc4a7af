package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/openpermissions/chubindex/config"
	"github.com/openpermissions/chubindex/internal/accounts"
	"github.com/openpermissions/chubindex/internal/crawl"
	"github.com/openpermissions/chubindex/internal/httpclient"
	"github.com/openpermissions/chubindex/internal/indexstore"
	ctxlog "github.com/openpermissions/chubindex/internal/log"
	"github.com/openpermissions/chubindex/internal/metrics"
	"github.com/openpermissions/chubindex/internal/notify"
	"github.com/openpermissions/chubindex/internal/registry"
	"github.com/openpermissions/chubindex/internal/scheduler"
)

// main wires the crawl subsystem's background half (§4): the accounts
// poller that discovers repositories, the scheduler/notify drainer that
// decide when each repository is next due, and the fetch manager that runs
// the per-repository identifier-harvest cycle.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	reg, err := registry.Open(cfg.LocalDB)
	if err != nil {
		stop()
		log.Fatalf("registry: %v", err)
	}
	defer reg.Close()

	logger.Info("registry opened", "path", cfg.LocalDB)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	accountsClient := accounts.New(cfg.URLAccounts, httpclient.New(30*time.Second))
	feedClient := crawl.NewFeedClient(httpclient.New(30 * time.Second))
	limiter := crawl.NewRepoLimiter(cfg.RepoRateLimitPerSec, cfg.RepoRateLimitBurst)
	index := indexstore.NewClient(cfg.URLIndexDB, cfg.IndexDBPort, cfg.IndexDBPath, cfg.IndexSchema, httpclient.New(30*time.Second), logger)
	index.CreateNamespace(ctx)

	sched := scheduler.New(cfg.DefaultPollInterval)

	// Re-enqueue every repository the registry already knows about — the
	// scheduler itself is in-memory and starts empty on every restart, and
	// the accounts poller alone can't be relied on to cover this: its first
	// tick is a full AccountsPollInterval away, and it skips any id already
	// in the registry (§3 lifecycle: a durable repo must survive a restart
	// without waiting for a stray notification).
	knownIDs, err := reg.GetAllIDs()
	if err != nil {
		logger.Error("list known repositories", "error", err)
	} else {
		for _, id := range knownIDs {
			sched.ScheduleDefault(id)
		}
		logger.Info("re-enqueued known repositories", "count", len(knownIDs))
	}

	notifyQueue := notify.New(redisClient, "chubindex:notifications", int64(cfg.NotificationsQueueMaxSize), logger)
	drainer := notify.NewDrainer(notifyQueue, sched, logger, cfg.NotificationPollInterval, cfg.MaxNotificationsPerTick, cfg.NotifyMinDelay, int64(cfg.NotifyQueueOverloadWarning))

	poller := accounts.NewPoller(accountsClient, reg, sched, logger, cfg.AccountsPollInterval)

	manager := crawl.NewManager(sched, reg, reg, accountsClient, feedClient, index, limiter, logger, crawl.Config{
		Concurrency:              cfg.Concurrency,
		DefaultPollInterval:      cfg.DefaultPollInterval,
		MaxPollErrorDelayFactor:  cfg.MaxPollErrorDelayFactor,
		MaxRepositoryPages:       cfg.MaxRepositoryPages,
		NotificationPollInterval: cfg.NotificationPollInterval,
		OpenService:              cfg.OpenService,
	})

	metrics.Register()

	go poller.Start(ctx)
	go drainer.Start(ctx)
	go manager.Start(ctx)

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("crawler shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
