// cmd/mailer-daemon/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"event-mailer/internal/common/config"
	"event-mailer/internal/common/database"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/common/observability"
	"event-mailer/internal/mailer/ledger"
	"event-mailer/internal/mailer/queue"
	"event-mailer/internal/mailer/render"
	"event-mailer/internal/mailer/transport"
	"event-mailer/internal/mailer/worker"
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
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting mailer daemon...",
		zap.String("provider", cfg.Mail.Provider),
		zap.String("snapshot_backend", cfg.Engine.Snapshot.Backend),
	)

	obs := observability.New("mailer-daemon")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Snapshot store ---
	var snapStore ledger.SnapshotStore
	switch cfg.Engine.Snapshot.Backend {
	case "redis":
		var redis *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		snapStore = ledger.NewRedisStore(redis.Client, cfg.Engine.Snapshot.Key)
		zapLog.Info("Redis snapshot store ready", zap.String("key", cfg.Engine.Snapshot.Key))
	default:
		snapStore = ledger.NewFileStore(cfg.Engine.Snapshot.Path)
		zapLog.Info("File snapshot store ready", zap.String("path", cfg.Engine.Snapshot.Path))
	}

	// --- Status ledger ---
	statusLedger := ledger.New(snapStore, log)
	if err := statusLedger.Restore(ctx); err != nil {
		// A corrupt snapshot should not block delivery of new mail.
		zapLog.Error("Snapshot restore failed, starting with empty ledger", zap.Error(err))
	}

	// --- Transport ---
	var mailTransport transport.Transport
	switch cfg.Mail.Provider {
	case "ses":
		mailTransport, err = transport.NewSESTransport(ctx, cfg.Mail.SES, log)
		if err != nil {
			zapLog.Fatal("SES transport init failed", zap.Error(err))
		}
	default:
		mailTransport = transport.NewSMTPTransport(cfg.Mail.SMTP, config.GetDuration(cfg.Engine.SendTimeout), log)
	}
	zapLog.Info("Mail transport ready", zap.String("provider", mailTransport.Name()))

	// Parsed once at startup so a broken template fails the boot, not the
	// first send.
	if _, err := render.New(); err != nil {
		zapLog.Fatal("template parse failed", zap.Error(err))
	}

	// --- Queue and worker ---
	mailQueue := queue.New()
	deliveryWorker := worker.New(mailQueue, statusLedger, mailTransport, obs, log, worker.Options{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		DequeueTimeout: config.GetDuration(cfg.Engine.DequeueTimeout),
		SendTimeout:    config.GetDuration(cfg.Engine.SendTimeout),
		SaveInterval:   time.Duration(cfg.Engine.StatusSaveInterval) * time.Second,
	})
	deliveryWorker.Start()

	// --- Health/Metrics server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping delivery worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := deliveryWorker.Stop(shutdownCtx); err != nil {
		zapLog.Error("Worker shutdown error", zap.Error(err))
	}

	zapLog.Info("Mailer daemon stopped gracefully")
}
