package eventbridge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/gateway"
	"github.com/shaiso/Keystone/internal/telemetry"
)

// WildcardEvent — тип события для listener, получающего все события.
const WildcardEvent = "*"

const defaultBatchConcurrency = 8

// Dispatcher — доставка действия модулю. Реализуется *gateway.Gateway.
type Dispatcher interface {
	ExecuteModuleAction(ctx context.Context, module, action string, params map[string]any, tenantID string) (map[string]any, error)
}

// Transport — внешний транспорт, в который зеркалируются события.
// Реализуется *mq.Publisher.
type Transport interface {
	PublishModuleEvent(ctx context.Context, evt domain.ModuleEvent) error
}

// Listener — in-process обработчик события. Вызывается синхронно.
type Listener func(ctx context.Context, evt domain.ModuleEvent)

// Bridge — Event Bridge: pub/sub между модулями платформы.
//
// PublishEvent:
//  1. заполняет event_id и timestamp
//  2. синхронно вызывает in-process listeners
//  3. асинхронно рассылает событие подписанным модулям через Gateway
//     (action handleEvent), исключая модуль-источник
//
// Доставка каждому подписчику независима и best-effort: ошибка логируется
// и считается в метриках, но не влияет на других подписчиков и на результат
// PublishEvent.
type Bridge struct {
	dispatcher Dispatcher
	transport  Transport
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.RWMutex
	subscriptions map[string]map[string]struct{} // module → event types
	listeners     map[string][]Listener          // event type → listeners

	// closeMu упорядочивает резервирование публикаций и Close.
	closeMu  sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// Config — конфигурация Bridge.
type Config struct {
	// Dispatcher — доставка fan-out (обычно *gateway.Gateway).
	Dispatcher Dispatcher

	// Transport — опциональное зеркалирование событий во внешнюю шину.
	Transport Transport

	// Subscriptions — начальные подписки module → event types.
	// Для подписок платформы используйте DefaultSubscriptions.
	Subscriptions map[string][]string

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт Bridge.
func New(cfg Config) *Bridge {
	b := &Bridge{
		dispatcher:    cfg.Dispatcher,
		transport:     cfg.Transport,
		logger:        cfg.Logger,
		now:           cfg.Now,
		subscriptions: make(map[string]map[string]struct{}),
		listeners:     make(map[string][]Listener),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}

	for module, types := range cfg.Subscriptions {
		b.SubscribeModule(module, types...)
	}

	return b
}

// SetTransport подключает внешний транспорт после создания bridge.
func (b *Bridge) SetTransport(t Transport) {
	b.mu.Lock()
	b.transport = t
	b.mu.Unlock()
}

// SubscribeModule подписывает модуль на типы событий. Идемпотентно.
func (b *Bridge) SubscribeModule(module string, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscriptions[module]
	if !ok {
		set = make(map[string]struct{})
		b.subscriptions[module] = set
	}
	for _, t := range eventTypes {
		set[t] = struct{}{}
	}

	b.logger.Debug("module subscribed", "module", module, "event_types", eventTypes)
}

// UnsubscribeModule отписывает модуль от указанных типов событий.
// Без eventTypes удаляет все подписки модуля. Идемпотентно.
func (b *Bridge) UnsubscribeModule(module string, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscriptions[module]
	if !ok {
		return
	}
	if len(eventTypes) == 0 {
		delete(b.subscriptions, module)
		return
	}
	for _, t := range eventTypes {
		delete(set, t)
	}
	if len(set) == 0 {
		delete(b.subscriptions, module)
	}
}

// Subscribers возвращает модули, подписанные на тип события (по имени).
func (b *Bridge) Subscribers(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var modules []string
	for module, set := range b.subscriptions {
		if _, ok := set[eventType]; ok {
			modules = append(modules, module)
		}
	}
	slices.Sort(modules)
	return modules
}

// Subscriptions возвращает копию реестра подписок.
func (b *Bridge) Subscriptions() map[string][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]string, len(b.subscriptions))
	for module, set := range b.subscriptions {
		out[module] = slices.Sorted(maps.Keys(set))
	}
	return out
}

// On регистрирует in-process listener для типа события.
// WildcardEvent ("*") получает все события.
func (b *Bridge) On(eventType string, l Listener) {
	b.mu.Lock()
	b.listeners[eventType] = append(b.listeners[eventType], l)
	b.mu.Unlock()
}

// PublishEvent публикует событие.
//
// Возвращает событие с заполненными EventID и Timestamp. Ошибка возможна
// только при невалидном событии или закрытом bridge: результат fan-out
// на вызывающую сторону не влияет.
func (b *Bridge) PublishEvent(ctx context.Context, evt domain.ModuleEvent) (domain.ModuleEvent, error) {
	if evt.EventType == "" {
		return evt, ErrInvalidEvent
	}
	if !b.reserve() {
		return evt, ErrBridgeClosed
	}
	defer b.inflight.Done()

	evt = evt.WithDefaults(b.now())

	logger := b.logger.With(
		"event_id", evt.EventID,
		"event_type", evt.EventType,
		"tenant_id", evt.TenantID,
	)

	b.published.Add(1)
	telemetry.EventsPublished.WithLabelValues(evt.EventType).Inc()

	b.emitLocal(ctx, evt, logger)
	b.mirror(ctx, evt, logger)

	targets := b.targets(evt)
	if len(targets) == 0 || b.dispatcher == nil {
		logger.Debug("event published", "subscribers", 0)
		return evt, nil
	}

	// Fan-out не должен обрываться вместе с контекстом вызывающего.
	fanCtx := context.WithoutCancel(ctx)
	params := evt.AsParams()

	for _, module := range targets {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.deliver(fanCtx, module, evt, params, logger)
		}()
	}

	logger.Debug("event published", "subscribers", len(targets))
	return evt, nil
}

// PublishBatch публикует независимые события параллельно.
// Возвращает первую ошибку валидации, остальные события публикуются.
func (b *Bridge) PublishBatch(ctx context.Context, events []domain.ModuleEvent) ([]domain.ModuleEvent, error) {
	out := make([]domain.ModuleEvent, len(events))

	var g errgroup.Group
	g.SetLimit(defaultBatchConcurrency)

	for i, evt := range events {
		g.Go(func() error {
			published, err := b.PublishEvent(ctx, evt)
			out[i] = published
			if err != nil {
				return fmt.Errorf("publish event %d: %w", i, err)
			}
			return nil
		})
	}

	return out, g.Wait()
}

// Wait ожидает завершения всех доставок в полёте.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}

// reserve занимает слот в inflight до начала публикации.
// false — bridge закрыт.
func (b *Bridge) reserve() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if b.closed {
		return false
	}
	b.inflight.Add(1)
	return true
}

// Close запрещает новые публикации и дожидается начатых публикаций
// вместе с их listeners и доставками.
func (b *Bridge) Close() {
	b.closeMu.Lock()
	b.closed = true
	b.closeMu.Unlock()

	b.inflight.Wait()
}

// targets — подписчики события без модуля-источника.
func (b *Bridge) targets(evt domain.ModuleEvent) []string {
	subs := b.Subscribers(evt.EventType)
	return slices.DeleteFunc(subs, func(m string) bool {
		return m == evt.SourceModule
	})
}

// emitLocal синхронно вызывает listeners. Паника listener не роняет публикацию.
func (b *Bridge) emitLocal(ctx context.Context, evt domain.ModuleEvent, logger *slog.Logger) {
	b.mu.RLock()
	ls := slices.Concat(b.listeners[evt.EventType], b.listeners[WildcardEvent])
	b.mu.RUnlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event listener panicked", "panic", r)
				}
			}()
			l(ctx, evt)
		}()
	}
}

// mirror отправляет событие во внешний транспорт, если он настроен.
func (b *Bridge) mirror(ctx context.Context, evt domain.ModuleEvent, logger *slog.Logger) {
	b.mu.RLock()
	t := b.transport
	b.mu.RUnlock()

	if t == nil {
		return
	}
	if err := t.PublishModuleEvent(ctx, evt); err != nil {
		logger.Warn("failed to mirror event to transport", "error", err)
	}
}

// deliver доставляет событие одному модулю.
func (b *Bridge) deliver(ctx context.Context, module string, evt domain.ModuleEvent, params map[string]any, logger *slog.Logger) {
	_, err := b.dispatcher.ExecuteModuleAction(ctx, module, gateway.ActionHandleEvent, params, evt.TenantID)
	if err != nil {
		b.failed.Add(1)
		telemetry.EventDeliveries.WithLabelValues(module, "error").Inc()
		logger.Warn("event delivery failed", "module", module, "error", err)
		return
	}

	b.delivered.Add(1)
	telemetry.EventDeliveries.WithLabelValues(module, "success").Inc()
}

// Stats — счётчики bridge.
type Stats struct {
	SubscribedModules int   `json:"subscribed_modules"`
	Subscriptions     int   `json:"subscriptions"`
	Listeners         int   `json:"listeners"`
	Published         int64 `json:"published"`
	Delivered         int64 `json:"delivered"`
	Failed            int64 `json:"failed"`
}

// Stats возвращает текущие счётчики.
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		SubscribedModules: len(b.subscriptions),
		Published:         b.published.Load(),
		Delivered:         b.delivered.Load(),
		Failed:            b.failed.Load(),
	}
	for _, set := range b.subscriptions {
		s.Subscriptions += len(set)
	}
	for _, ls := range b.listeners {
		s.Listeners += len(ls)
	}
	return s
}
