package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shaiso/Keystone/internal/telemetry"
)

const (
	defaultCallTimeout          = 30 * time.Second
	defaultFailureThreshold     = 5
	defaultOpenTimeout          = 30 * time.Second
	defaultHalfOpenSuccesses    = 3
	defaultRateLimitWindow      = 60 * time.Second
	defaultRateLimitMaxRequests = 100
)

// Gateway — единая точка вызова модулей платформы.
//
// Каждый вызов проходит:
//  1. rate limiter тенанта (скользящее окно)
//  2. circuit breaker модуля
//  3. вызов адаптера с таймаутом
//
// Состояние breakers и окон принадлежит только Gateway и меняется
// под mutex конкретного ключа. Операции с разными ключами не блокируют друг друга.
type Gateway struct {
	logger *slog.Logger
	now    func() time.Time

	callTimeout     time.Duration
	breakerSettings breakerSettings
	rateWindow      time.Duration
	rateMax         int

	adaptersMu sync.RWMutex
	adapters   map[string]Adapter

	mu        sync.RWMutex
	breakers  map[string]*circuitBreaker
	windows   map[string]*slidingWindow
	lastSweep time.Time
}

// Config — конфигурация Gateway.
type Config struct {
	Adapters []Adapter

	CallTimeout          time.Duration // default: 30s
	FailureThreshold     int           // default: 5
	OpenTimeout          time.Duration // default: 30s
	HalfOpenSuccesses    int           // default: 3
	RateLimitWindow      time.Duration // default: 60s
	RateLimitMaxRequests int           // default: 100

	Logger *slog.Logger

	// Now — источник времени (для тестов). Default: time.Now.
	Now func() time.Time
}

// New создаёт новый Gateway.
func New(cfg Config) *Gateway {
	g := &Gateway{
		logger:      cfg.Logger,
		now:         cfg.Now,
		callTimeout: cfg.CallTimeout,
		breakerSettings: breakerSettings{
			failureThreshold:  cfg.FailureThreshold,
			openTimeout:       cfg.OpenTimeout,
			halfOpenSuccesses: cfg.HalfOpenSuccesses,
		},
		rateWindow: cfg.RateLimitWindow,
		rateMax:    cfg.RateLimitMaxRequests,
		adapters:   make(map[string]Adapter),
		breakers:   make(map[string]*circuitBreaker),
		windows:    make(map[string]*slidingWindow),
	}

	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.callTimeout <= 0 {
		g.callTimeout = defaultCallTimeout
	}
	if g.breakerSettings.failureThreshold <= 0 {
		g.breakerSettings.failureThreshold = defaultFailureThreshold
	}
	if g.breakerSettings.openTimeout <= 0 {
		g.breakerSettings.openTimeout = defaultOpenTimeout
	}
	if g.breakerSettings.halfOpenSuccesses <= 0 {
		g.breakerSettings.halfOpenSuccesses = defaultHalfOpenSuccesses
	}
	if g.rateWindow <= 0 {
		g.rateWindow = defaultRateLimitWindow
	}
	if g.rateMax <= 0 {
		g.rateMax = defaultRateLimitMaxRequests
	}

	for _, a := range cfg.Adapters {
		g.Register(a)
	}

	return g
}

// Register регистрирует (или заменяет) адаптер модуля.
func (g *Gateway) Register(a Adapter) {
	g.adaptersMu.Lock()
	g.adapters[a.Name()] = a
	g.adaptersMu.Unlock()

	g.breaker(a.Name())

	g.logger.Info("module registered", "module", a.Name())
}

// RegisteredModules возвращает отсортированный список модулей.
func (g *Gateway) RegisteredModules() []string {
	g.adaptersMu.RLock()
	defer g.adaptersMu.RUnlock()

	return slices.Sorted(maps.Keys(g.adapters))
}

func (g *Gateway) adapter(module string) (Adapter, bool) {
	g.adaptersMu.RLock()
	defer g.adaptersMu.RUnlock()

	a, ok := g.adapters[module]
	return a, ok
}

// breaker возвращает breaker модуля, создавая его при первом обращении.
func (g *Gateway) breaker(module string) *circuitBreaker {
	g.mu.RLock()
	b, ok := g.breakers[module]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[module]; ok {
		return b
	}
	b = newCircuitBreaker(module, g.breakerSettings)
	g.breakers[module] = b
	return b
}

func (g *Gateway) lookupBreaker(module string) (*circuitBreaker, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	b, ok := g.breakers[module]
	return b, ok
}

// window возвращает окно rate limit тенанта, создавая его при первом обращении.
// Создание нового окна не чаще раза в rateWindow удаляет окна простаивающих тенантов.
func (g *Gateway) window(tenantID string, now time.Time) *slidingWindow {
	g.mu.RLock()
	w, ok := g.windows[tenantID]
	g.mu.RUnlock()
	if ok {
		return w
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if w, ok := g.windows[tenantID]; ok {
		return w
	}
	if now.Sub(g.lastSweep) >= g.rateWindow {
		g.sweepWindows(now)
	}
	w = &slidingWindow{}
	g.windows[tenantID] = w
	return w
}

// sweepWindows удаляет пустые окна. Вызывается под g.mu.
func (g *Gateway) sweepWindows(now time.Time) {
	for tenantID, w := range g.windows {
		if w.retireIfIdle(now, g.rateWindow) {
			delete(g.windows, tenantID)
		}
	}
	g.lastSweep = now
}

// admit учитывает вызов в окне тенанта.
func (g *Gateway) admit(tenantID string) bool {
	for {
		now := g.now()
		allowed, live := g.window(tenantID, now).allow(now, g.rateWindow, g.rateMax)
		if live {
			return allowed
		}
	}
}

// ExecuteModuleAction вызывает действие модуля от имени тенанта.
//
// Возвращает ErrRateLimitExceeded или ErrCircuitBreakerOpen без вызова адаптера.
// Любая ошибка самого вызова (включая таймаут) засчитывается breaker.
func (g *Gateway) ExecuteModuleAction(ctx context.Context, module, action string, params map[string]any, tenantID string) (map[string]any, error) {
	logger := telemetry.WithModule(g.logger, module)

	a, ok := g.adapter(module)
	if !ok {
		telemetry.GatewayCalls.WithLabelValues(module, "unknown_module").Inc()
		return nil, &ModuleError{Module: module, Action: action, Err: fmt.Errorf("%w: %w", ErrModuleUnreachable, ErrUnknownModule)}
	}

	// 1. Rate limit тенанта
	if !g.admit(tenantID) {
		telemetry.GatewayCalls.WithLabelValues(module, "rate_limited").Inc()
		logger.Warn("rate limit exceeded", "tenant_id", tenantID, "action", action)
		return nil, &ModuleError{Module: module, Action: action, Err: fmt.Errorf("%w: tenant %s", ErrRateLimitExceeded, tenantID)}
	}

	// 2. Circuit breaker модуля
	b := g.breaker(module)
	adm, err := b.allow(g.now())
	if err != nil {
		telemetry.GatewayCalls.WithLabelValues(module, "circuit_open").Inc()
		return nil, &ModuleError{Module: module, Action: action, Err: err}
	}

	// 3. Вызов с таймаутом
	start := time.Now()
	result, err := g.call(ctx, a, action, withTenant(params, tenantID))
	telemetry.GatewayCallDuration.WithLabelValues(module).Observe(time.Since(start).Seconds())

	if err != nil {
		if b.recordFailure(adm, g.now()) {
			logger.Warn("circuit breaker opened", "error", err)
		}
		outcome := "error"
		if errors.Is(err, ErrModuleTimeout) {
			outcome = "timeout"
		}
		telemetry.GatewayCalls.WithLabelValues(module, outcome).Inc()
		logger.Error("module action failed",
			"action", action,
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, &ModuleError{Module: module, Action: action, Err: err}
	}

	if b.recordSuccess(adm) {
		logger.Info("circuit breaker closed")
	}
	telemetry.GatewayCalls.WithLabelValues(module, "success").Inc()

	logger.Debug("module action executed",
		"action", action,
		"tenant_id", tenantID,
	)

	return result, nil
}

// call выполняет адаптер, соревнуя его с таймаутом.
func (g *Gateway) call(ctx context.Context, a Adapter, action string, params map[string]any) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := a.ExecuteAction(callCtx, action, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.result == nil {
			o.result = map[string]any{}
		}
		return o.result, o.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrModuleTimeout, g.callTimeout)
		}
		return nil, ctx.Err()
	}
}

// withTenant копирует params и добавляет tenantId.
func withTenant(params map[string]any, tenantID string) map[string]any {
	out := make(map[string]any, len(params)+1)
	maps.Copy(out, params)
	out["tenantId"] = tenantID
	return out
}

// MultiResult — частичный результат multi-module dispatch.
type MultiResult struct {
	// Results — успешные ответы по модулям.
	Results map[string]map[string]any `json:"results"`

	// Errors — ошибки по модулям.
	Errors map[string]error `json:"-"`
}

// Partial возвращает true, если часть модулей ответила с ошибкой.
func (r *MultiResult) Partial() bool {
	return len(r.Errors) > 0 && len(r.Results) > 0
}

// FailedModules возвращает отсортированный список модулей с ошибкой.
func (r *MultiResult) FailedModules() []string {
	return slices.Sorted(maps.Keys(r.Errors))
}

// ExecuteMultiModuleAction вызывает действие на нескольких модулях параллельно.
//
// Ошибка одного модуля логируется и не отменяет остальные вызовы.
// ErrAllModulesFailed возвращается, только если не ответил ни один модуль.
func (g *Gateway) ExecuteMultiModuleAction(ctx context.Context, modules []string, action string, params map[string]any, tenantID string) (*MultiResult, error) {
	res := &MultiResult{
		Results: make(map[string]map[string]any, len(modules)),
		Errors:  make(map[string]error),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, module := range modules {
		wg.Add(1)
		go func() {
			defer wg.Done()

			out, err := g.ExecuteModuleAction(ctx, module, action, params, tenantID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors[module] = err
				return
			}
			res.Results[module] = out
		}()
	}
	wg.Wait()

	if len(modules) > 0 && len(res.Results) == 0 {
		errs := make([]error, 0, len(res.Errors))
		for _, m := range res.FailedModules() {
			errs = append(errs, res.Errors[m])
		}
		return res, fmt.Errorf("%w: %w", ErrAllModulesFailed, errors.Join(errs...))
	}

	if res.Partial() {
		g.logger.Warn("partial multi-module failure",
			"action", action,
			"tenant_id", tenantID,
			"failed", res.FailedModules(),
			"succeeded", len(res.Results),
		)
	}

	return res, nil
}

// ResetCircuitBreaker — административный сброс breaker модуля.
func (g *Gateway) ResetCircuitBreaker(module string) error {
	if _, ok := g.adapter(module); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	g.breaker(module).reset()
	g.logger.Info("circuit breaker reset", "module", module)
	return nil
}

// BreakerSnapshot возвращает состояние breaker модуля.
// Для модуля без breaker возвращает closed и ничего не создаёт.
func (g *Gateway) BreakerSnapshot(module string) BreakerSnapshot {
	b, ok := g.lookupBreaker(module)
	if !ok {
		return BreakerSnapshot{Module: module, State: BreakerClosed}
	}
	return b.snapshot()
}

// RateLimitUsage возвращает число вызовов тенанта в текущем окне.
func (g *Gateway) RateLimitUsage(tenantID string) int {
	g.mu.RLock()
	w, ok := g.windows[tenantID]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	return w.count(g.now(), g.rateWindow)
}

// trackedTenants возвращает число окон rate limit в памяти.
func (g *Gateway) trackedTenants() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.windows)
}
