// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	awsclient "nomination-workers/internal/common/aws"
	"nomination-workers/internal/common/camunda"
	"nomination-workers/internal/common/config"
	"nomination-workers/internal/common/database"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/common/observability"
	"nomination-workers/internal/session"
	"nomination-workers/internal/store"

	adv "nomination-workers/internal/workers/allocation/advance-allocation"
	ntf "nomination-workers/internal/workers/allocation/notify-nominations"
	pub "nomination-workers/internal/workers/allocation/publish-nominations"
	run "nomination-workers/internal/workers/allocation/run-allocation"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(ctx, cfg.Camunda)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(ctx, cfg.Database.Postgres)
		return err
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	datasets := store.NewDatasetStore(pg.DB, log)
	if err := datasets.Migrate(ctx); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}

	// --- Elasticsearch ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Redis ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(ctx, cfg.Database.Redis)
		return err
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	sessions := session.NewStore(redis.Client, log)

	// --- AWS ---
	notifyDeps := ntf.Dependencies{Outputs: datasets, Observability: obs, Logger: log}
	if cfg.Notifications.Email.Enabled {
		sesClient, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("SES client failed", zap.Error(err))
		}
		notifyDeps.Email = sesClient
	}
	if cfg.Notifications.SMS.Enabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("SNS client failed", zap.Error(err))
		}
		notifyDeps.SMS = snsClient
	}

	// --- Workers ---
	pool := camunda.NewWorkerPool(zeebe.GetClient(), log)

	runHandler, err := run.NewHandler(run.NewConfig(cfg), datasets, obs, log)
	if err != nil {
		zapLog.Fatal("run-allocation handler", zap.Error(err))
	}
	advanceHandler, err := adv.NewHandler(adv.NewConfig(cfg), adv.Dependencies{
		Datasets:      datasets,
		Sessions:      sessions,
		Observability: obs,
		Logger:        log,
	})
	if err != nil {
		zapLog.Fatal("advance-allocation handler", zap.Error(err))
	}
	publishHandler, err := pub.NewHandler(pub.NewConfig(cfg), datasets, esClient.Client, obs, log)
	if err != nil {
		zapLog.Fatal("publish-nominations handler", zap.Error(err))
	}
	notifyHandler, err := ntf.NewHandler(ntf.NewConfig(cfg), notifyDeps)
	if err != nil {
		zapLog.Fatal("notify-nominations handler", zap.Error(err))
	}

	registrations := []struct {
		taskType  string
		configKey string
		handler   camunda.JobHandler
	}{
		{run.TaskType, run.ConfigKey, runHandler},
		{adv.TaskType, adv.ConfigKey, advanceHandler},
		{pub.TaskType, pub.ConfigKey, publishHandler},
		{ntf.TaskType, ntf.ConfigKey, notifyHandler},
	}
	for _, r := range registrations {
		if err := pool.Start(r.taskType, config.GetWorkerConfig(cfg, r.configKey), r.handler); err != nil {
			zapLog.Fatal("worker registration failed", zap.String("taskType", r.taskType), zap.Error(err))
		}
	}
	zapLog.Info("Workers registered", zap.Strings("taskTypes", pool.TaskTypes()))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]func(context.Context) error{
			"zeebe":         zeebe.HealthCheck,
			"postgres":      pg.Ping,
			"redis":         redis.Ping,
			"elasticsearch": esClient.Ping,
		}
		status := map[string]string{"status": "ready"}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(checkCtx); err != nil {
				status[name] = err.Error()
				status["status"] = "not ready"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		writeStatus(w, code, status)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Server.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	pool.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped")
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
