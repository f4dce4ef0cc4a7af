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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/openpermissions/chubindex/config"
	"github.com/openpermissions/chubindex/internal/health"
	"github.com/openpermissions/chubindex/internal/httpclient"
	"github.com/openpermissions/chubindex/internal/indexstore"
	ctxlog "github.com/openpermissions/chubindex/internal/log"
	"github.com/openpermissions/chubindex/internal/metrics"
	"github.com/openpermissions/chubindex/internal/notify"
	httptransport "github.com/openpermissions/chubindex/internal/transport/http"
	"github.com/openpermissions/chubindex/internal/transport/http/handler"
)

// main wires the crawl subsystem's query front-end (§6): the read/write
// HTTP API backed by the same triple store and notification queue the
// crawler half populates. It never opens the bbolt registry file — that
// file is owned exclusively by the crawler process (§5).
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	index := indexstore.NewClient(cfg.URLIndexDB, cfg.IndexDBPort, cfg.IndexDBPath, cfg.IndexSchema, httpclient.New(10*time.Second), logger)
	notifyQueue := notify.New(redisClient, "chubindex:notifications", int64(cfg.NotificationsQueueMaxSize), logger)

	metrics.Register()
	checker := health.NewChecker(health.RedisPinger{Client: redisClient}, index, logger, prometheus.DefaultRegisterer)

	queryHandler := handler.NewQueryHandler(index, cfg.MaxRelatedDepth, logger)
	notifyHandler := handler.NewNotifyHandler(notifyQueue, logger)
	deleteHandler := handler.NewDeleteHandler(index, logger)
	healthHandler := handler.NewHealthHandler(checker)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, queryHandler, notifyHandler, deleteHandler, healthHandler),
	}

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)

	go func() {
		logger.Info("query server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("query server", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("query server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("query server shutdown", "error", err)
	}
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
