package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
	defaultConcurrency  = 16

	// idleTimerWait — сколько спит timer loop при пустой очереди.
	idleTimerWait = time.Minute
)

// Engine — Durable Workflow Engine.
//
// Engine:
//   - Создаёт executions и сохраняет их в Store
//   - Выполняет проходы определений на ограниченном пуле
//   - Приостанавливает executions на таймерах и сигналах без удержания горутин
//   - Будит executions по timer queue и по polling хранилища
//   - При старте подхватывает executions, прерванные остановкой процесса
type Engine struct {
	store      Store
	registry   *Registry
	dispatcher Dispatcher
	publisher  Publisher
	timers     *TimerQueue

	// Проходы одного execution сериализуются.
	locks keyedMutex

	// sem ограничивает число одновременных проходов.
	sem chan struct{}

	// active — executions с запланированным или выполняющимся проходом.
	active   map[uuid.UUID]*passState
	activeMu sync.Mutex

	// Configuration
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time

	// Lifecycle
	logger     *slog.Logger
	runCtx     context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool
	stateMu    sync.RWMutex
}

// passState — состояние прохода в полёте.
type passState struct {
	cancel context.CancelFunc

	// rerun — во время прохода пришёл повод выполнить ещё один.
	rerun bool
}

// Config — конфигурация Engine.
type Config struct {
	// Store — хранилище (default: MemoryStore).
	Store Store

	// Registry — реестр определений (default: пустой).
	Registry *Registry

	// Dispatcher — вызовы модулей (обычно *gateway.Gateway).
	Dispatcher Dispatcher

	// Publisher — публикация событий (обычно *eventbridge.Bridge).
	Publisher Publisher

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество executions за один poll (default: 100)

	// Concurrency — максимум одновременных проходов (default: 16).
	Concurrency int

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	e := &Engine{
		store:        cfg.Store,
		registry:     cfg.Registry,
		dispatcher:   cfg.Dispatcher,
		publisher:    cfg.Publisher,
		timers:       NewTimerQueue(),
		active:       make(map[uuid.UUID]*passState),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}

	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.pollInterval <= 0 {
		e.pollInterval = defaultPollInterval
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	e.sem = make(chan struct{}, concurrency)

	return e
}

// Register регистрирует определение workflow.
func (e *Engine) Register(def Definition) error {
	return e.registry.Register(def)
}

// Registry возвращает реестр определений.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Start запускает timer loop и polling, подхватывает незавершённые executions.
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	if e.started {
		e.stateMu.Unlock()
		return fmt.Errorf("workflow engine already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.runCtx = ctx
	e.cancelFunc = cancel
	e.started = true
	e.stateMu.Unlock()

	e.logger.Info("starting workflow engine",
		"poll_interval", e.pollInterval,
		"batch_size", e.batchSize,
		"concurrency", cap(e.sem),
		"workflow_types", e.registry.Types(),
	)

	if err := e.recover(ctx); err != nil {
		e.logger.Error("failed to recover executions", "error", err)
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.timerLoop(ctx)
	}()

	return nil
}

// Stop останавливает движок и ждёт завершения проходов.
//
// Прерванные проходы не меняют статус execution и будут
// выполнены заново при следующем Start.
func (e *Engine) Stop() {
	e.stateMu.Lock()
	e.stopped = true
	cancel := e.cancelFunc
	e.stateMu.Unlock()

	e.logger.Info("stopping workflow engine...")

	if cancel != nil {
		cancel()
	}

	e.wg.Wait()

	e.logger.Info("workflow engine stopped")
}

// IsStopped проверяет, остановлен ли движок.
func (e *Engine) IsStopped() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.stopped
}

// IsStarted проверяет, запущен ли движок.
func (e *Engine) IsStarted() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.started && !e.stopped
}

// StartWorkflow создаёт execution и планирует первый проход.
//
// Если движок ещё не запущен, execution остаётся pending и будет
// подхвачен при Start или polling другого процесса.
func (e *Engine) StartWorkflow(ctx context.Context, workflowType string, input map[string]any, tenantID, createdBy string) (*domain.WorkflowExecution, error) {
	if e.IsStopped() {
		return nil, ErrEngineStopped
	}

	def, err := e.registry.Get(workflowType)
	if err != nil {
		return nil, err
	}

	if def.Validate != nil {
		if err := def.Validate(input); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	now := e.now()
	exec := &domain.WorkflowExecution{
		ID:            uuid.New(),
		TenantID:      tenantID,
		WorkflowType:  workflowType,
		Status:        domain.WorkflowStatusPending,
		InputData:     input,
		ExecutionPath: []string{},
		StartedAt:     now,
		CreatedBy:     createdBy,
		UpdatedAt:     now,
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	telemetry.WorkflowTransitions.WithLabelValues(workflowType, string(domain.WorkflowStatusPending)).Inc()

	e.logger.Info("workflow started",
		"execution_id", exec.ID,
		"workflow_type", workflowType,
		"tenant_id", tenantID,
	)

	e.dispatch(exec.ID)
	return exec, nil
}

// Get возвращает execution по ID.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// History возвращает историю шагов execution.
func (e *Engine) History(ctx context.Context, id uuid.UUID) ([]domain.StepRecord, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.LoadHistory(ctx, id)
}

// List возвращает executions по фильтру.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]domain.WorkflowExecution, error) {
	execs, err := e.store.ListExecutions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// ListActive возвращает незавершённые executions тенанта.
// Пустой tenantID — все тенанты.
func (e *Engine) ListActive(ctx context.Context, tenantID string) ([]domain.WorkflowExecution, error) {
	return e.List(ctx, ListFilter{TenantID: tenantID, Statuses: ActiveStatuses})
}

// Cancel отменяет execution: прерывает проход в полёте и переводит
// execution в cancelled. Дальнейшие шаги не выполняются.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.WorkflowExecution, error) {
	e.activeMu.Lock()
	if st, ok := e.active[id]; ok {
		st.cancel()
	}
	e.activeMu.Unlock()

	unlock := e.locks.Lock(id)
	defer unlock()

	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if exec.IsFinished() {
		return exec, ErrExecutionFinished
	}

	if reason == "" {
		reason = "cancelled"
	}
	exec.MarkCancelled(reason, e.now())

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("update execution: %w", err)
	}

	e.timers.Remove(id)
	telemetry.WorkflowTransitions.WithLabelValues(exec.WorkflowType, string(exec.Status)).Inc()

	e.logger.Info("workflow cancelled",
		"execution_id", id,
		"workflow_type", exec.WorkflowType,
		"reason", reason,
	)

	return exec, nil
}

// Signal доставляет сигнал execution.
//
// Если execution ждёт сигнал с этим именем — сигнал сохраняется
// и запускается проход (delivered). Иначе решает политика определения:
// queue сохраняет сигнал до следующего ожидания, drop отбрасывает.
// При drop шагу ожидания достаётся не больше одного сигнала, остальные
// до его потребления отбрасываются.
func (e *Engine) Signal(ctx context.Context, id uuid.UUID, name string, payload map[string]any) (Disposition, error) {
	if name == "" {
		return "", fmt.Errorf("%w: signal name is required", ErrInvalidInput)
	}

	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get execution: %w", err)
	}
	if exec.IsFinished() {
		return "", ErrExecutionFinished
	}

	def, err := e.registry.Get(exec.WorkflowType)
	if err != nil {
		return "", err
	}

	sig := domain.Signal{
		ID:          uuid.New(),
		ExecutionID: id,
		Name:        name,
		Payload:     payload,
		ReceivedAt:  e.now(),
	}

	logger := e.logger.With("execution_id", id, "signal", name)

	if exec.AwaitsSignal(name) {
		if def.SignalPolicy == SignalPolicyDrop {
			sig.WaitStep = exec.WaitingOn.StepID
			stored, err := e.store.EnqueueWaitSignal(ctx, sig)
			if err != nil {
				return "", fmt.Errorf("enqueue signal: %w", err)
			}
			if !stored {
				logger.Info("signal dropped, wait step already signalled", "step_id", sig.WaitStep)
				return DispositionDropped, nil
			}
		} else if err := e.store.EnqueueSignal(ctx, sig); err != nil {
			return "", fmt.Errorf("enqueue signal: %w", err)
		}
		e.dispatch(id)
		logger.Info("signal delivered")
		return DispositionDelivered, nil
	}

	switch def.SignalPolicy {
	case SignalPolicyQueue:
		if err := e.store.EnqueueSignal(ctx, sig); err != nil {
			return "", fmt.Errorf("enqueue signal: %w", err)
		}
		// Проход в полёте мог уже проверить очередь сигналов.
		e.rerunIfActive(id)
		logger.Info("signal queued")
		return DispositionQueued, nil
	default:
		logger.Info("signal dropped")
		return DispositionDropped, nil
	}
}

// Health — состояние движка.
type Health struct {
	Status           domain.HealthStatus `json:"status"`
	Started          bool                `json:"started"`
	StoreReachable   bool                `json:"store_reachable"`
	ActiveExecutions int                 `json:"active_executions"`
	QueuedTimers     int                 `json:"queued_timers"`
	WorkflowTypes    []string            `json:"workflow_types"`
	Error            string              `json:"error,omitempty"`
}

// Health проверяет доступность хранилища и состояние движка.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:        domain.HealthStatusHealthy,
		Started:       e.IsStarted(),
		QueuedTimers:  e.timers.Len(),
		WorkflowTypes: e.registry.Types(),
	}

	e.activeMu.Lock()
	h.ActiveExecutions = len(e.active)
	e.activeMu.Unlock()

	if err := e.store.Ping(ctx); err != nil {
		h.Status = domain.HealthStatusUnhealthy
		h.Error = err.Error()
		return h
	}
	h.StoreReachable = true

	if !h.Started {
		h.Status = domain.HealthStatusDegraded
	}
	return h
}

// recover подхватывает незавершённые executions после рестарта.
func (e *Engine) recover(ctx context.Context) error {
	execs, err := e.store.ListExecutions(ctx, ListFilter{Statuses: ActiveStatuses})
	if err != nil {
		return fmt.Errorf("list active executions: %w", err)
	}

	var resumed, waiting int
	for i := range execs {
		exec := &execs[i]
		if exec.WaitingOn != nil {
			e.scheduleWake(exec)
			waiting++
			continue
		}
		e.dispatch(exec.ID)
		resumed++
	}

	if resumed+waiting > 0 {
		e.logger.Info("recovered executions", "resumed", resumed, "waiting", waiting)
	}
	return nil
}

// pollLoop — цикл polling хранилища.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// poll подхватывает pending executions и наступившие ожидания.
func (e *Engine) poll(ctx context.Context) {
	pending, err := e.store.ListExecutions(ctx, ListFilter{
		Statuses: []domain.WorkflowStatus{domain.WorkflowStatusPending},
		Limit:    e.batchSize,
	})
	if err != nil {
		e.logger.Error("failed to list pending executions", "error", err)
	}

	due, err := e.store.ListDueWaits(ctx, e.now(), e.batchSize)
	if err != nil {
		e.logger.Error("failed to list due waits", "error", err)
	}

	if len(pending)+len(due) == 0 {
		return
	}

	e.logger.Debug("poll found executions", "pending", len(pending), "due", len(due))

	for _, exec := range pending {
		e.dispatch(exec.ID)
	}
	for _, exec := range due {
		e.dispatch(exec.ID)
	}
}

// timerLoop будит executions по timer queue.
func (e *Engine) timerLoop(ctx context.Context) {
	timer := time.NewTimer(idleTimerWait)
	defer timer.Stop()

	for {
		for _, id := range e.timers.PopDue(e.now()) {
			e.dispatch(id)
		}
		telemetry.WorkflowTimersQueued.Set(float64(e.timers.Len()))

		wait := idleTimerWait
		if next, ok := e.timers.Next(); ok {
			wait = max(next.Sub(e.now()), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-e.timers.notify:
		}
	}
}

// scheduleWake ставит таймер пробуждения с учётом таймаута execution.
func (e *Engine) scheduleWake(exec *domain.WorkflowExecution) {
	if exec.WaitingOn == nil {
		return
	}
	wake := exec.WaitingOn.WakeAt
	if def, err := e.registry.Get(exec.WorkflowType); err == nil {
		if deadline := exec.StartedAt.Add(def.timeout()); deadline.Before(wake) {
			wake = deadline
		}
	}
	e.timers.Schedule(exec.ID, wake)
}

// dispatch планирует проход execution на пуле.
//
// На один execution в полёте не больше одной горутины: повторный
// dispatch во время прохода помечает его для повторного выполнения.
func (e *Engine) dispatch(id uuid.UUID) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	if !e.started || e.stopped {
		return
	}

	e.activeMu.Lock()
	if st, ok := e.active[id]; ok {
		st.rerun = true
		e.activeMu.Unlock()
		return
	}
	passCtx, cancel := context.WithCancel(e.runCtx)
	st := &passState{cancel: cancel}
	e.active[id] = st
	e.activeMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		for {
			select {
			case e.sem <- struct{}{}:
			case <-passCtx.Done():
				e.removeActive(id)
				return
			}

			e.runPass(passCtx, id)
			<-e.sem

			e.activeMu.Lock()
			if st.rerun && passCtx.Err() == nil {
				st.rerun = false
				e.activeMu.Unlock()
				continue
			}
			delete(e.active, id)
			e.activeMu.Unlock()
			return
		}
	}()
}

// rerunIfActive помечает проход в полёте для повторного выполнения.
func (e *Engine) rerunIfActive(id uuid.UUID) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if st, ok := e.active[id]; ok {
		st.rerun = true
	}
}

func (e *Engine) removeActive(id uuid.UUID) {
	e.activeMu.Lock()
	delete(e.active, id)
	e.activeMu.Unlock()
}

// runPass выполняет один проход определения.
//
// Проход перезапускает определение с начала: завершённые шаги
// возвращают записанный результат. Итог прохода:
//   - приостановка: сохраняется waiting_on, ставится таймер
//   - успех: completed с результатом
//   - ErrSignalTimeout / ErrExecutionTimeout: timeout
//   - иная ошибка: failed
//   - отмена ctx: статус не меняется
func (e *Engine) runPass(ctx context.Context, id uuid.UUID) {
	unlock := e.locks.Lock(id)
	defer unlock()

	if ctx.Err() != nil {
		return
	}

	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		e.logger.Error("failed to load execution", "execution_id", id, "error", err)
		return
	}
	if exec.IsFinished() {
		e.timers.Remove(id)
		return
	}

	logger := telemetry.WithExecutionID(e.logger, id.String()).With(
		"workflow_type", exec.WorkflowType,
		"tenant_id", exec.TenantID,
	)

	def, err := e.registry.Get(exec.WorkflowType)
	if err != nil {
		exec.MarkFailed(err.Error(), e.now())
		e.finish(ctx, exec, logger)
		return
	}

	now := e.now()
	deadline := exec.StartedAt.Add(def.timeout())
	if !now.Before(deadline) {
		exec.MarkTimeout(ErrExecutionTimeout.Error(), now)
		e.finish(ctx, exec, logger)
		return
	}

	history, err := e.store.LoadHistory(ctx, id)
	if err != nil {
		logger.Error("failed to load history", "error", err)
		return
	}

	if exec.Status == domain.WorkflowStatusPending {
		exec.MarkRunning(now)
		telemetry.WorkflowTransitions.WithLabelValues(exec.WorkflowType, string(exec.Status)).Inc()
	}
	exec.WaitingOn = nil

	passCtx, cancel := context.WithTimeout(ctx, deadline.Sub(now))
	defer cancel()

	wctx := newContext(passCtx, e, exec, history, logger)
	result, runErr := invoke(wctx, def, exec.InputData)

	switch {
	case errors.Is(passCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		exec.MarkTimeout(ErrExecutionTimeout.Error(), e.now())
		e.finish(ctx, exec, logger)

	case ctx.Err() != nil:
		// Cancel или остановка движка: статус не трогаем.
		logger.Debug("workflow pass interrupted")

	case wctx.wait != nil:
		exec.WaitingOn = wctx.wait
		exec.UpdatedAt = e.now()
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			logger.Error("failed to persist wait point", "error", err)
			return
		}
		e.scheduleWake(exec)
		logger.Debug("workflow suspended",
			"step_id", wctx.wait.StepID,
			"kind", wctx.wait.Kind,
			"wake_at", wctx.wait.WakeAt,
		)

	case runErr == nil:
		exec.MarkCompleted(result, e.now())
		e.finish(ctx, exec, logger)

	case errors.Is(runErr, ErrSignalTimeout), errors.Is(runErr, ErrExecutionTimeout):
		exec.MarkTimeout(runErr.Error(), e.now())
		e.finish(ctx, exec, logger)

	default:
		exec.MarkFailed(runErr.Error(), e.now())
		e.finish(ctx, exec, logger)
	}
}

// finish сохраняет терминальный статус execution.
func (e *Engine) finish(ctx context.Context, exec *domain.WorkflowExecution, logger *slog.Logger) {
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		logger.Error("failed to persist execution result", "status", exec.Status, "error", err)
		return
	}

	e.timers.Remove(exec.ID)
	telemetry.WorkflowTransitions.WithLabelValues(exec.WorkflowType, string(exec.Status)).Inc()

	if exec.Status == domain.WorkflowStatusCompleted {
		logger.Info("workflow completed", "duration", exec.Duration())
		return
	}
	logger.Warn("workflow finished", "status", exec.Status, "error", exec.Error)
}

// invoke вызывает определение. Паника превращается в ошибку.
func invoke(wctx *Context, def Definition, input map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panicked: %v", r)
		}
	}()
	return def.Run(wctx, input)
}

// keyedMutex — мьютекс на ключ с освобождением неиспользуемых ключей.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
