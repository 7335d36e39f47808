package gateway

import (
	"context"

	"github.com/shaiso/Keystone/internal/domain"
)

// Adapter — единая поверхность вызова модуля платформы.
//
// Каждый модуль (invoice_management, credit_scoring, ...) реализует этот
// интерфейс. Gateway хранит адаптеры в map и оборачивает каждый вызов
// rate limiter, circuit breaker и таймаутом.
type Adapter interface {
	// Name возвращает имя модуля.
	Name() string

	// ExecuteAction выполняет действие модуля.
	// Params всегда содержит tenantId.
	ExecuteAction(ctx context.Context, action string, params map[string]any) (map[string]any, error)

	// HealthCheck возвращает состояние модуля.
	HealthCheck(ctx context.Context) (domain.ModuleHealth, error)
}

// AdapterFunc — адаптер из функций, удобен для in-process модулей.
type AdapterFunc struct {
	ModuleName string
	Execute    func(ctx context.Context, action string, params map[string]any) (map[string]any, error)
	Health     func(ctx context.Context) (domain.ModuleHealth, error)
}

// Name реализует Adapter.
func (a *AdapterFunc) Name() string {
	return a.ModuleName
}

// ExecuteAction реализует Adapter.
func (a *AdapterFunc) ExecuteAction(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if a.Execute == nil {
		return map[string]any{}, nil
	}
	return a.Execute(ctx, action, params)
}

// HealthCheck реализует Adapter.
// Без функции Health модуль считается здоровым.
func (a *AdapterFunc) HealthCheck(ctx context.Context) (domain.ModuleHealth, error) {
	if a.Health == nil {
		return domain.ModuleHealth{Module: a.ModuleName, Status: domain.HealthStatusHealthy}, nil
	}
	return a.Health(ctx)
}
