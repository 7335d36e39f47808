package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Keystone/internal/domain"
)

// degradedRatio — минимальная доля здоровых модулей для статуса degraded.
const degradedRatio = 0.7

// GatewayHealth — агрегированное состояние Gateway.
type GatewayHealth struct {
	Status          domain.HealthStatus        `json:"status"`
	HealthyModules  int                        `json:"healthy_modules"`
	TotalModules    int                        `json:"total_modules"`
	Modules         []domain.ModuleHealth      `json:"modules"`
	CircuitBreakers map[string]BreakerSnapshot `json:"circuit_breakers"`
	CheckedAt       time.Time                  `json:"checked_at"`
}

// GatewayStats — краткая статистика Gateway.
type GatewayStats struct {
	RegisteredModules int                  `json:"registered_modules"`
	Breakers          map[BreakerState]int `json:"breakers"`
	TrackedTenants    int                  `json:"tracked_tenants"`
}

// AggregateHealth переводит долю здоровых модулей в статус.
//
//	100%  → healthy
//	≥70%  → degraded
//	иначе → unhealthy
func AggregateHealth(healthy, total int) domain.HealthStatus {
	if healthy >= total {
		return domain.HealthStatusHealthy
	}
	if float64(healthy)/float64(total) >= degradedRatio {
		return domain.HealthStatusDegraded
	}
	return domain.HealthStatusUnhealthy
}

// CheckModuleHealth выполняет health check одного модуля и замеряет время ответа.
// Отсутствующий адаптер или ошибка дают unhealthy.
func (g *Gateway) CheckModuleHealth(ctx context.Context, module string) domain.ModuleHealth {
	a, ok := g.adapter(module)
	if !ok {
		return domain.ModuleHealth{
			Module:    module,
			Status:    domain.HealthStatusUnhealthy,
			Error:     ErrUnknownModule.Error(),
			CheckedAt: g.now(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	start := time.Now()
	h, err := a.HealthCheck(ctx)
	elapsed := time.Since(start)

	if err != nil {
		g.logger.Warn("module health check failed", "module", module, "error", err)
		return domain.ModuleHealth{
			Module:         module,
			Status:         domain.HealthStatusUnhealthy,
			ResponseTimeMs: elapsed.Milliseconds(),
			Error:          err.Error(),
			CheckedAt:      g.now(),
		}
	}

	h.Module = module
	if h.Status == "" {
		h.Status = domain.HealthStatusHealthy
	}
	if h.ResponseTimeMs == 0 {
		h.ResponseTimeMs = elapsed.Milliseconds()
	}
	h.CheckedAt = g.now()
	return h
}

// CheckAllModules параллельно проверяет все зарегистрированные модули.
func (g *Gateway) CheckAllModules(ctx context.Context) []domain.ModuleHealth {
	modules := g.RegisteredModules()
	out := make([]domain.ModuleHealth, len(modules))

	var wg sync.WaitGroup
	for i, m := range modules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = g.CheckModuleHealth(ctx, m)
		}()
	}
	wg.Wait()

	return out
}

// Health возвращает агрегированное состояние модулей и snapshot всех breakers.
func (g *Gateway) Health(ctx context.Context) GatewayHealth {
	modules := g.CheckAllModules(ctx)

	healthy := 0
	for _, m := range modules {
		if m.Status == domain.HealthStatusHealthy {
			healthy++
		}
	}

	breakers := make(map[string]BreakerSnapshot, len(modules))
	for _, m := range g.RegisteredModules() {
		breakers[m] = g.BreakerSnapshot(m)
	}

	status := AggregateHealth(healthy, len(modules))
	if status != domain.HealthStatusHealthy {
		g.logger.Warn("gateway health degraded",
			slog.String("status", string(status)),
			slog.Int("healthy", healthy),
			slog.Int("total", len(modules)),
		)
	}

	return GatewayHealth{
		Status:          status,
		HealthyModules:  healthy,
		TotalModules:    len(modules),
		Modules:         modules,
		CircuitBreakers: breakers,
		CheckedAt:       g.now(),
	}
}

// Stats возвращает статистику без обращения к модулям.
func (g *Gateway) Stats() GatewayStats {
	modules := g.RegisteredModules()

	stats := GatewayStats{
		RegisteredModules: len(modules),
		Breakers: map[BreakerState]int{
			BreakerClosed:   0,
			BreakerOpen:     0,
			BreakerHalfOpen: 0,
		},
	}
	for _, m := range modules {
		stats.Breakers[g.BreakerSnapshot(m).State]++
	}

	stats.TrackedTenants = g.trackedTenants()

	return stats
}

// BroadcastEvent отправляет событие всем модулям, кроме источника.
// Доставка best-effort: ошибки логируются и возвращаются в MultiResult.
func (g *Gateway) BroadcastEvent(ctx context.Context, evt domain.ModuleEvent) *MultiResult {
	targets := make([]string, 0)
	for _, m := range g.RegisteredModules() {
		if m != evt.SourceModule {
			targets = append(targets, m)
		}
	}

	res, err := g.ExecuteMultiModuleAction(ctx, targets, ActionHandleEvent, evt.AsParams(), evt.TenantID)
	if err != nil {
		g.logger.Warn("broadcast failed for all modules",
			"event_type", evt.EventType,
			"source_module", evt.SourceModule,
			"error", err,
		)
	}
	return res
}

// ActionHandleEvent — действие модуля для приёма событий.
const ActionHandleEvent = "handleEvent"
