package orchestration

import (
	"context"
	"time"

	"github.com/shaiso/Keystone/internal/domain"
)

// Health — состояние хаба по компонентам.
type Health struct {
	Status     domain.HealthStatus        `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// ComponentHealth — состояние одного компонента.
type ComponentHealth struct {
	Status  domain.HealthStatus `json:"status"`
	Details any                 `json:"details,omitempty"`
}

// Имена компонентов в Health.Components.
const (
	ComponentWorkflowEngine           = "workflow_engine"
	ComponentGateway                  = "gateway"
	ComponentEventBridge              = "event_bridge"
	ComponentConstraintAnalysis       = "constraint_analysis"
	ComponentStrategicRecommendations = "strategic_recommendations"
	ComponentInsights                 = "insights"
	ComponentMessageBroker            = "message_broker"
)

// HealthCheck собирает состояние всех компонентов.
//
// Общий статус unhealthy, если хотя бы один компонент unhealthy,
// и degraded, если хотя бы один degraded.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:     domain.HealthStatusHealthy,
		Components: make(map[string]ComponentHealth),
		Timestamp:  s.now(),
	}

	add := func(name string, c ComponentHealth) {
		h.Components[name] = c
		h.Status = h.Status.Worse(c.Status)
	}

	if s.workflows != nil {
		wh := s.workflows.Health(ctx)
		add(ComponentWorkflowEngine, ComponentHealth{Status: wh.Status, Details: wh})
	} else {
		add(ComponentWorkflowEngine, ComponentHealth{Status: domain.HealthStatusUnhealthy, Details: ErrNotConfigured.Error()})
	}

	if s.gateway != nil {
		gh := s.gateway.Health(ctx)
		add(ComponentGateway, ComponentHealth{Status: gh.Status, Details: gh})
	}

	if s.bridge != nil {
		add(ComponentEventBridge, ComponentHealth{Status: domain.HealthStatusHealthy, Details: s.bridge.Stats()})
	}

	if s.broker != nil {
		add(ComponentMessageBroker, ComponentHealth{Status: s.broker.Status()})
	}

	add(ComponentConstraintAnalysis, configured(s.analyzer != nil))
	add(ComponentStrategicRecommendations, configured(s.recommender != nil))

	if s.insights != nil {
		add(ComponentInsights, ComponentHealth{
			Status:  domain.HealthStatusHealthy,
			Details: map[string]any{"llm_enabled": s.insights.Enabled()},
		})
	}

	if h.Status != domain.HealthStatusHealthy {
		s.logger.Warn("orchestration health degraded", "status", h.Status)
	}
	return h
}

func configured(ok bool) ComponentHealth {
	if ok {
		return ComponentHealth{Status: domain.HealthStatusHealthy}
	}
	return ComponentHealth{Status: domain.HealthStatusUnhealthy, Details: ErrNotConfigured.Error()}
}
