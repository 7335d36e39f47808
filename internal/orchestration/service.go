package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/eventbridge"
	"github.com/shaiso/Keystone/internal/gateway"
	"github.com/shaiso/Keystone/internal/insight"
	"github.com/shaiso/Keystone/internal/recommendation"
	"github.com/shaiso/Keystone/internal/telemetry"
	"github.com/shaiso/Keystone/internal/workflow"
)

const (
	defaultCacheSize    = 256
	defaultCancelReason = "cancelled by user"
)

// Analyzer — Constraint Analysis Engine. Реализуется *constraint.Analyzer.
type Analyzer interface {
	Analyze(ctx context.Context, tenantID string) (*domain.AnalysisResult, error)
}

// Recommender — Recommendation Engine. Реализуется *recommendation.Engine.
type Recommender interface {
	GenerateAll(tenantID string, constraints []domain.Constraint) []domain.Recommendation
}

// Workflows — Durable Workflow Engine. Реализуется *workflow.Engine.
type Workflows interface {
	StartWorkflow(ctx context.Context, workflowType string, input map[string]any, tenantID, createdBy string) (*domain.WorkflowExecution, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error)
	History(ctx context.Context, id uuid.UUID) ([]domain.StepRecord, error)
	List(ctx context.Context, filter workflow.ListFilter) ([]domain.WorkflowExecution, error)
	ListActive(ctx context.Context, tenantID string) ([]domain.WorkflowExecution, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.WorkflowExecution, error)
	Signal(ctx context.Context, id uuid.UUID, name string, payload map[string]any) (workflow.Disposition, error)
	Health(ctx context.Context) workflow.Health
}

// GatewayHealth — агрегированное здоровье модулей. Реализуется *gateway.Gateway.
type GatewayHealth interface {
	Health(ctx context.Context) gateway.GatewayHealth
}

// EventBridge — публикация событий. Реализуется *eventbridge.Bridge.
type EventBridge interface {
	PublishEvent(ctx context.Context, evt domain.ModuleEvent) (domain.ModuleEvent, error)
	Stats() eventbridge.Stats
}

// BrokerStatus — состояние брокера сообщений. Реализуется *mq.Connection.
type BrokerStatus interface {
	Status() domain.HealthStatus
}

// Counter — число записей тенанта с момента since.
// Реализуется repo.ConstraintRepo и repo.RecommendationRepo.
type Counter interface {
	CountSince(ctx context.Context, tenantID string, since time.Time) (int, error)
}

// Config — конфигурация Service.
type Config struct {
	Analyzer    Analyzer
	Recommender Recommender
	Workflows   Workflows

	// Gateway, Bridge и Broker необязательны.
	Gateway GatewayHealth
	Bridge  EventBridge
	Broker  BrokerStatus

	// Insights — LLM-выводы к рекомендациям. Nil отключает.
	Insights *insight.Service

	// RecommendationStore — сохранение сгенерированных рекомендаций. Nil отключает.
	RecommendationStore recommendation.Store

	// ConstraintCounter и RecommendationCounter — источники счётчиков для
	// GetOrchestrationMetrics. Без них используется журнал в памяти процесса.
	ConstraintCounter     Counter
	RecommendationCounter Counter

	// CacheTTL — время жизни анализа в кэше. 0 отключает кэш.
	CacheTTL  time.Duration
	CacheSize int

	Logger *slog.Logger
	Now    func() time.Time
}

// Service — фасад Orchestration Hub.
type Service struct {
	analyzer    Analyzer
	recommender Recommender
	workflows   Workflows
	gateway     GatewayHealth
	bridge      EventBridge
	broker      BrokerStatus
	insights    *insight.Service
	recStore    recommendation.Store

	constraintCounter     Counter
	recommendationCounter Counter

	cache  *expirable.LRU[string, *domain.AnalysisResult]
	ledger *ledger

	logger *slog.Logger
	now    func() time.Time
}

// New создаёт Service.
func New(cfg Config) *Service {
	s := &Service{
		analyzer:              cfg.Analyzer,
		recommender:           cfg.Recommender,
		workflows:             cfg.Workflows,
		gateway:               cfg.Gateway,
		bridge:                cfg.Bridge,
		broker:                cfg.Broker,
		insights:              cfg.Insights,
		recStore:              cfg.RecommendationStore,
		constraintCounter:     cfg.ConstraintCounter,
		recommendationCounter: cfg.RecommendationCounter,
		ledger:                newLedger(),
		logger:                cfg.Logger,
		now:                   cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = defaultCacheSize
		}
		s.cache = expirable.NewLRU[string, *domain.AnalysisResult](size, nil, cfg.CacheTTL)
	}

	return s
}

// --- Constraint Analysis & Strategic Guidance ---

// AnalyzeConstraints выполняет свежий анализ ограничений тенанта и кладёт
// результат в кэш. О каждом выявленном ограничении публикуется событие
// constraint.identified.
//
// Результат общий для кэша: вызывающий не должен его изменять.
func (s *Service) AnalyzeConstraints(ctx context.Context, tenantID string) (*domain.AnalysisResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if s.analyzer == nil {
		return nil, fmt.Errorf("analyzer: %w", ErrNotConfigured)
	}

	result, err := s.analyzer.Analyze(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("analyze constraints: %w", err)
	}

	if s.cache != nil {
		s.cache.Add(tenantID, result)
	}
	s.ledger.record(tenantID, entryConstraints, len(result.Constraints), s.now())
	s.publishConstraints(ctx, result)

	return result, nil
}

// cachedAnalysis возвращает анализ из кэша или выполняет новый.
func (s *Service) cachedAnalysis(ctx context.Context, tenantID string) (*domain.AnalysisResult, error) {
	if s.cache != nil {
		if result, ok := s.cache.Get(tenantID); ok {
			telemetry.AnalysisCacheHits.WithLabelValues("hit").Inc()
			return result, nil
		}
		telemetry.AnalysisCacheHits.WithLabelValues("miss").Inc()
	}
	return s.AnalyzeConstraints(ctx, tenantID)
}

// InvalidateAnalysis удаляет анализ тенанта из кэша.
func (s *Service) InvalidateAnalysis(tenantID string) {
	if s.cache != nil {
		s.cache.Remove(tenantID)
	}
}

// StrategicRecommendations — результат GenerateStrategicRecommendations.
type StrategicRecommendations struct {
	TenantID string `json:"tenant_id"`

	// Recommendations — по убыванию приоритета, первая помечена как primary focus.
	Recommendations []domain.Recommendation `json:"recommendations"`

	// Insights — выводы LLM, если insight-сервис настроен.
	Insights *insight.Insights `json:"insights,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GenerateStrategicRecommendations строит рекомендации по ограничениям тенанта.
// Если ограничений нет, список пуст.
func (s *Service) GenerateStrategicRecommendations(ctx context.Context, tenantID string) (*StrategicRecommendations, error) {
	if s.recommender == nil {
		return nil, fmt.Errorf("recommender: %w", ErrNotConfigured)
	}

	analysis, err := s.cachedAnalysis(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := &StrategicRecommendations{
		TenantID:        tenantID,
		Recommendations: []domain.Recommendation{},
		GeneratedAt:     s.now(),
	}
	if len(analysis.Constraints) == 0 {
		s.logger.Info("no constraints identified, no recommendations needed", "tenant_id", tenantID)
		return out, nil
	}

	out.Recommendations = s.generate(ctx, tenantID, analysis.Constraints)

	if s.insights != nil && s.insights.Enabled() {
		ins := s.insights.StrategicInsights(ctx, analysis)
		out.Insights = &ins
	}

	s.logger.Info("strategic recommendations generated",
		"tenant_id", tenantID,
		"count", len(out.Recommendations),
		"top", out.Recommendations[0].Title,
	)
	return out, nil
}

// generate строит и сохраняет рекомендации.
func (s *Service) generate(ctx context.Context, tenantID string, constraints []domain.Constraint) []domain.Recommendation {
	recs := s.recommender.GenerateAll(tenantID, constraints)

	for _, r := range recs {
		telemetry.RecommendationsGenerated.WithLabelValues(string(r.ConstraintType)).Inc()
	}
	s.ledger.record(tenantID, entryRecommendations, len(recs), s.now())

	if s.recStore != nil && len(recs) > 0 {
		if err := s.recStore.SaveRecommendations(ctx, recs); err != nil {
			s.logger.Warn("failed to persist recommendations", "tenant_id", tenantID, "error", err)
		}
	}
	return recs
}

// GetOneThingToFocusOn возвращает рекомендацию с наивысшим приоритетом.
// Nil без ошибки, если ограничений нет.
func (s *Service) GetOneThingToFocusOn(ctx context.Context, tenantID string) (*domain.Recommendation, error) {
	recs, err := s.GenerateStrategicRecommendations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(recs.Recommendations) == 0 {
		return nil, nil
	}

	primary := recs.Recommendations[0]
	s.logger.Info("primary focus identified",
		"tenant_id", tenantID,
		"title", primary.Title,
		"roi_percentage", primary.EstimatedROIPercentage,
		"timeline_days", primary.ImplementationTimelineDays,
	)
	return &primary, nil
}

// --- Workflow Orchestration ---

// StartWorkflow запускает workflow. tenant_id и user_id берутся из input.
func (s *Service) StartWorkflow(ctx context.Context, workflowType string, input map[string]any) (*domain.WorkflowExecution, error) {
	if s.workflows == nil {
		return nil, fmt.Errorf("workflow engine: %w", ErrNotConfigured)
	}

	tenantID := stringField(input, "tenant_id")
	if tenantID == "" {
		return nil, fmt.Errorf("%w: %w", workflow.ErrInvalidInput, ErrTenantRequired)
	}

	exec, err := s.workflows.StartWorkflow(ctx, workflowType, input, tenantID, stringField(input, "user_id"))
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	return exec, nil
}

// WorkflowStatus — execution вместе с историей шагов.
type WorkflowStatus struct {
	*domain.WorkflowExecution
	History []domain.StepRecord `json:"history"`
}

// GetWorkflowStatus возвращает execution и его историю.
func (s *Service) GetWorkflowStatus(ctx context.Context, id uuid.UUID) (*WorkflowStatus, error) {
	if s.workflows == nil {
		return nil, fmt.Errorf("workflow engine: %w", ErrNotConfigured)
	}

	exec, err := s.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.workflows.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &WorkflowStatus{WorkflowExecution: exec, History: history}, nil
}

// CancelWorkflow отменяет execution. Пустая причина заменяется стандартной.
func (s *Service) CancelWorkflow(ctx context.Context, id uuid.UUID, reason string) (*domain.WorkflowExecution, error) {
	if s.workflows == nil {
		return nil, fmt.Errorf("workflow engine: %w", ErrNotConfigured)
	}
	if reason == "" {
		reason = defaultCancelReason
	}
	return s.workflows.Cancel(ctx, id, reason)
}

// SignalWorkflow доставляет сигнал execution.
func (s *Service) SignalWorkflow(ctx context.Context, id uuid.UUID, name string, payload map[string]any) (workflow.Disposition, error) {
	if s.workflows == nil {
		return "", fmt.Errorf("workflow engine: %w", ErrNotConfigured)
	}
	return s.workflows.Signal(ctx, id, name, payload)
}

// ListActiveWorkflows возвращает незавершённые executions тенанта.
func (s *Service) ListActiveWorkflows(ctx context.Context, tenantID string) ([]domain.WorkflowExecution, error) {
	if s.workflows == nil {
		return nil, fmt.Errorf("workflow engine: %w", ErrNotConfigured)
	}
	return s.workflows.ListActive(ctx, tenantID)
}

// --- Helpers ---

// publishConstraints публикует constraint.identified для каждого ограничения.
func (s *Service) publishConstraints(ctx context.Context, result *domain.AnalysisResult) {
	if s.bridge == nil {
		return
	}
	for _, c := range result.Constraints {
		_, err := s.bridge.PublishEvent(ctx, domain.ModuleEvent{
			EventType:    eventbridge.EventConstraintIdentified,
			SourceModule: domain.ModuleOrchestrationHub,
			TenantID:     result.TenantID,
			Payload: map[string]any{
				"constraint_id":   c.ID.String(),
				"constraint_type": string(c.Type),
				"severity":        string(c.Severity),
				"impact_score":    c.ImpactScore,
				"title":           c.Title,
			},
		})
		if err != nil {
			s.logger.Warn("failed to publish constraint event",
				"tenant_id", result.TenantID,
				"constraint_type", c.Type,
				"error", err,
			)
		}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
