// Keystone Hub — процесс Orchestration Hub.
//
// Hub:
//   - Подключается к Postgres (или работает в памяти при WORKFLOW_STORE=memory)
//   - Собирает gateway, event bridge, workflow engine и фасад оркестрации
//   - Принимает события модулей и сигналы workflow из RabbitMQ
//   - Периодически запускает auto-orchestration по расписанию
//   - Отдаёт /healthz и /metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Keystone/internal/bootstrap"
	"github.com/shaiso/Keystone/internal/config"
	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/mq"
	"github.com/shaiso/Keystone/internal/repo"
	"github.com/shaiso/Keystone/internal/scheduler"
	"github.com/shaiso/Keystone/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting keystone-hub")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Broker: true, Logger: logger})
	if err != nil {
		logger.Error("failed to build hub", "error", err)
		os.Exit(1)
	}
	defer hub.Close()

	// Workflow engine: подхватывает незавершённые executions
	if err := hub.Engine.Start(ctx); err != nil {
		logger.Error("failed to start workflow engine", "error", err)
		os.Exit(1)
	}
	defer hub.Engine.Stop()

	// Consumers
	if hub.MQ != nil {
		// Обработчики берут логгер доставки (queue, message_id) из контекста.
		consumers := []*mq.Consumer{
			mq.NewConsumer(hub.MQ, logger, mq.ConsumerConfig{
				Queue:   string(mq.QueueEventsInbound),
				Handler: mq.InboundEventHandler(hub.Bridge, nil),
			}),
			mq.NewConsumer(hub.MQ, logger, mq.ConsumerConfig{
				Queue:   string(mq.QueueWorkflowSignals),
				Handler: mq.WorkflowSignalHandler(hub.Engine, nil),
			}),
		}
		for _, c := range consumers {
			go func() {
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("consumer stopped", "error", err)
				}
			}()
			defer c.Stop()
		}
	} else {
		logger.Warn("running without broker: inbound events and remote signals disabled")
	}

	// Scheduler
	if cfg.AutoOrchestrate.Cron != "" {
		sc := scheduler.Config{
			Orchestrator: hub.Facade,
			CronExpr:     cfg.AutoOrchestrate.Cron,
			Tenants:      cfg.AutoOrchestrate.Tenants,
			UserID:       cfg.AutoOrchestrate.UserID,
			Logger:       logger.With("component", "scheduler"),
		}
		if hub.Pool != nil {
			lock := repo.NewAdvisoryLock(hub.Pool, repo.SchedulerLockKey)
			defer lock.Release(context.Background())
			sc.Leader = lock
		}

		sched := scheduler.New(sc)
		if err := sched.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := hub.Facade.HealthCheck(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if h.Status == domain.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.HubPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}

	logger.Info("keystone-hub stopped")
}
