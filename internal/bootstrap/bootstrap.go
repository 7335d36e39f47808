package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Keystone/internal/config"
	"github.com/shaiso/Keystone/internal/constraint"
	"github.com/shaiso/Keystone/internal/eventbridge"
	"github.com/shaiso/Keystone/internal/gateway"
	"github.com/shaiso/Keystone/internal/insight"
	"github.com/shaiso/Keystone/internal/modules"
	"github.com/shaiso/Keystone/internal/mq"
	"github.com/shaiso/Keystone/internal/orchestration"
	"github.com/shaiso/Keystone/internal/recommendation"
	"github.com/shaiso/Keystone/internal/repo"
	"github.com/shaiso/Keystone/internal/workflow"
)

// ErrBrokerUnavailable — брокер нужен, но подключиться не удалось.
var ErrBrokerUnavailable = errors.New("rabbitmq unavailable")

// Options — что поднимать помимо ядра.
type Options struct {
	// Broker — подключиться к RabbitMQ и зеркалировать события bridge.
	Broker bool

	// RequireBroker — ошибка подключения к брокеру фатальна.
	// Иначе хаб работает без брокера.
	RequireBroker bool

	Logger *slog.Logger
}

// Hub — собранные компоненты хаба.
type Hub struct {
	Config config.Config

	// Pool — nil при WORKFLOW_STORE=memory.
	Pool *pgxpool.Pool

	// MQ и Publisher — nil без брокера.
	MQ        *mq.Connection
	Publisher *mq.Publisher

	Gateway     *gateway.Gateway
	Bridge      *eventbridge.Bridge
	Engine      *workflow.Engine
	Analyzer    *constraint.Analyzer
	Recommender *recommendation.Engine
	Insights    *insight.Service
	Facade      *orchestration.Service

	logger       *slog.Logger
	brokerWanted bool
	closers      []func()
}

// Build собирает компоненты хаба по конфигурации. Движок workflow
// не запускается: это делает вызывающий (hub-процесс или команда CLI).
func Build(ctx context.Context, cfg config.Config, opts Options) (*Hub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{Config: cfg, logger: logger, brokerWanted: opts.Broker}

	if err := h.openStore(ctx); err != nil {
		h.Close()
		return nil, err
	}

	if opts.Broker {
		if err := h.connectBroker(ctx); err != nil {
			if opts.RequireBroker {
				h.Close()
				return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
			}
			logger.Warn("RabbitMQ not available, running without broker", "error", err)
		}
	}

	if err := h.buildGateway(); err != nil {
		h.Close()
		return nil, err
	}

	h.Bridge = eventbridge.New(eventbridge.Config{
		Dispatcher:    h.Gateway,
		Subscriptions: eventbridge.DefaultSubscriptions,
		Logger:        logger.With("component", "event_bridge"),
	})
	if h.Publisher != nil {
		h.Bridge.SetTransport(h.Publisher)
	}
	h.closers = append(h.closers, h.Bridge.Close)

	if err := h.buildEngine(); err != nil {
		h.Close()
		return nil, err
	}

	h.buildAnalysis()

	if err := h.buildInsights(); err != nil {
		h.Close()
		return nil, err
	}

	h.buildFacade()

	return h, nil
}

func (h *Hub) openStore(ctx context.Context) error {
	if h.Config.Workflow.Store == "memory" {
		h.logger.Info("using in-memory workflow store, no database")
		return nil
	}

	pool, err := repo.NewPool(ctx, h.Config.DBURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	h.Pool = pool
	h.closers = append(h.closers, pool.Close)

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	h.logger.Info("database connected")
	return nil
}

func (h *Hub) connectBroker(ctx context.Context) error {
	if h.Config.RabbitMQURL == "" {
		return errors.New("RABBITMQ_URL is empty")
	}

	conn, err := mq.NewConnection(h.Config.RabbitMQURL, h.logger)
	if err != nil {
		return err
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("setup topology: %w", err)
	}

	h.MQ = conn
	h.Publisher = mq.NewPublisher(conn, h.logger)
	h.closers = append(h.closers, func() { _ = conn.Close() })

	h.logger.Info("RabbitMQ connected")
	return nil
}

func (h *Hub) buildGateway() error {
	gc := h.Config.Gateway

	adapters, err := modules.NewRegistry(h.Config.ModuleEndpoints, gc.CallTimeout)
	if err != nil {
		return fmt.Errorf("build module adapters: %w", err)
	}
	if unknown := modules.Unknown(h.Config.ModuleEndpoints); len(unknown) > 0 {
		h.logger.Warn("endpoints configured for unknown modules", "modules", unknown)
	}

	h.Gateway = gateway.New(gateway.Config{
		Adapters:             adapters,
		CallTimeout:          gc.CallTimeout,
		FailureThreshold:     gc.FailureThreshold,
		OpenTimeout:          gc.OpenTimeout,
		HalfOpenSuccesses:    gc.HalfOpenSuccesses,
		RateLimitWindow:      gc.RateLimitWindow,
		RateLimitMaxRequests: gc.RateLimitMaxRequests,
		Logger:               h.logger.With("component", "gateway"),
	})
	return nil
}

func (h *Hub) buildEngine() error {
	var store workflow.Store
	if h.Pool != nil {
		store = repo.NewWorkflowRepo(h.Pool)
	} else {
		store = workflow.NewMemoryStore()
	}

	h.Engine = workflow.New(workflow.Config{
		Store:        store,
		Dispatcher:   h.Gateway,
		Publisher:    h.Bridge,
		PollInterval: h.Config.Workflow.PollInterval,
		Concurrency:  h.Config.Workflow.Concurrency,
		Logger:       h.logger.With("component", "workflow_engine"),
	})

	if err := h.Engine.Register(workflow.OverdueFollowUp(workflow.FollowUpConfig{
		CollectionsEmail: h.Config.CollectionsTeamEmail,
	})); err != nil {
		return fmt.Errorf("register workflows: %w", err)
	}
	return nil
}

func (h *Hub) buildAnalysis() {
	ac := constraint.Config{Logger: h.logger.With("component", "constraint_analysis")}
	if h.Pool != nil {
		ac.Source = repo.NewMetricsRepo(h.Pool)
		ac.Store = repo.NewConstraintRepo(h.Pool)
	} else {
		// Без БД метрик нет: анализ не находит ограничений.
		ac.Source = &constraint.StaticSource{}
	}
	h.Analyzer = constraint.New(ac)

	h.Recommender = recommendation.New(recommendation.Config{
		Logger: h.logger.With("component", "recommendations"),
	})
}

func (h *Hub) buildInsights() error {
	ic := insight.Config{Logger: h.logger.With("component", "insight")}

	if h.Config.LLMEnabled() {
		gen, err := insight.NewOpenAIGenerator(insight.OpenAIConfig{
			APIKey:  h.Config.LLM.APIKey,
			BaseURL: h.Config.LLM.BaseURL,
			Model:   h.Config.LLM.Model,
			Logger:  h.logger,
		})
		if err != nil {
			return fmt.Errorf("create llm generator: %w", err)
		}
		ic.Generator = gen
	}

	h.Insights = insight.New(ic)
	return nil
}

func (h *Hub) buildFacade() {
	fc := orchestration.Config{
		Analyzer:    h.Analyzer,
		Recommender: h.Recommender,
		Workflows:   h.Engine,
		Gateway:     h.Gateway,
		Bridge:      h.Bridge,
		Insights:    h.Insights,
		CacheTTL:    h.Config.AnalysisCacheTTL,
		Logger:      h.logger.With("component", "orchestration"),
	}
	switch {
	case h.MQ != nil:
		fc.Broker = h.MQ
	case h.brokerWanted:
		// Хаб без брокера: nil-соединение даёт degraded.
		fc.Broker = (*mq.Connection)(nil)
	}
	if h.Pool != nil {
		recRepo := repo.NewRecommendationRepo(h.Pool)
		fc.RecommendationStore = recRepo
		fc.RecommendationCounter = recRepo
		fc.ConstraintCounter = repo.NewConstraintRepo(h.Pool)
	}
	h.Facade = orchestration.New(fc)
}

// Close освобождает ресурсы в обратном порядке создания.
// Движок workflow останавливает вызывающий.
func (h *Hub) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
	h.closers = nil
}
