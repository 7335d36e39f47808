package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/telemetry"
)

// ActivityFunc — тело activity. Должна уважать ctx.
type ActivityFunc func(ctx context.Context) (map[string]any, error)

// nonRetryableError — ошибка activity, при которой retry бессмыслен.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable помечает ошибку activity как не требующую повторов.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// Context — контекст одного прохода workflow.
//
// Каждый шаг адресуется stepID. Если в истории есть завершённая запись
// шага, её результат возвращается без повторного выполнения.
type Context struct {
	ctx     context.Context
	engine  *Engine
	exec    *domain.WorkflowExecution
	history map[string]domain.StepRecord
	seen    map[string]struct{}
	logger  *slog.Logger

	// wait — точка продолжения, если проход приостановлен.
	wait *domain.WaitPoint
}

func newContext(ctx context.Context, e *Engine, exec *domain.WorkflowExecution, history []domain.StepRecord, logger *slog.Logger) *Context {
	h := make(map[string]domain.StepRecord, len(history))
	for _, rec := range history {
		h[rec.StepID] = rec
	}
	return &Context{
		ctx:     ctx,
		engine:  e,
		exec:    exec,
		history: h,
		seen:    make(map[string]struct{}),
		logger:  logger,
	}
}

// Context возвращает context.Context прохода.
func (c *Context) Context() context.Context { return c.ctx }

// ExecutionID возвращает ID execution.
func (c *Context) ExecutionID() uuid.UUID { return c.exec.ID }

// TenantID возвращает тенанта execution.
func (c *Context) TenantID() string { return c.exec.TenantID }

// WorkflowType возвращает тип workflow.
func (c *Context) WorkflowType() string { return c.exec.WorkflowType }

// Logger возвращает logger с атрибутами execution.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Suspended возвращает true, если проход уже приостановлен.
func (c *Context) Suspended() bool { return c.wait != nil }

// begin проверяет состояние прохода перед шагом.
func (c *Context) begin(stepID string) error {
	if c.wait != nil {
		return errSuspended
	}
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if _, dup := c.seen[stepID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, stepID)
	}
	c.seen[stepID] = struct{}{}
	return nil
}

// ExecuteActivity выполняет activity с retry и таймаутом на попытку.
//
// При replay завершённая activity не вызывается повторно: возвращается
// записанный результат. После исчерпания попыток возвращает ошибку,
// обёрнутую в ErrActivityFailed.
func (c *Context) ExecuteActivity(stepID string, opts ActivityOptions, fn ActivityFunc) (map[string]any, error) {
	if err := c.begin(stepID); err != nil {
		return nil, err
	}

	if rec, ok := c.history[stepID]; ok {
		switch rec.Status {
		case domain.StepStatusCompleted:
			return rec.Output, nil
		case domain.StepStatusFailed:
			return nil, fmt.Errorf("%w: step %s: %s", ErrActivityFailed, stepID, rec.Error)
		}
	}

	opts = opts.withDefaults()
	logger := c.logger.With("step_id", stepID)

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		out, err := c.attempt(opts, fn)
		if err == nil {
			telemetry.WorkflowActivityAttempts.WithLabelValues(c.exec.WorkflowType, "success").Inc()
			if err := c.complete(stepID, domain.StepKindActivity, attempt, out); err != nil {
				return nil, err
			}
			return out, nil
		}

		telemetry.WorkflowActivityAttempts.WithLabelValues(c.exec.WorkflowType, "error").Inc()
		lastErr = err

		// Проход отменён или движок остановлен: попытку не засчитываем.
		if c.ctx.Err() != nil {
			return nil, c.ctx.Err()
		}

		var nr *nonRetryableError
		if errors.As(err, &nr) || attempt == opts.MaxAttempts {
			break
		}

		delay := opts.Backoff(attempt)
		logger.Debug("retrying activity",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		// Ждём с учётом context
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		}
	}

	logger.Warn("activity failed", "error", lastErr)

	rec := domain.StepRecord{
		ExecutionID: c.exec.ID,
		StepID:      stepID,
		Kind:        domain.StepKindActivity,
		Status:      domain.StepStatusFailed,
		Attempt:     opts.MaxAttempts,
		Error:       lastErr.Error(),
		RecordedAt:  c.engine.now(),
	}
	if err := c.record(rec); err != nil {
		return nil, err
	}

	return nil, fmt.Errorf("%w: step %s: %w", ErrActivityFailed, stepID, lastErr)
}

// attempt выполняет одну попытку activity с таймаутом.
func (c *Context) attempt(opts ActivityOptions, fn ActivityFunc) (out map[string]any, err error) {
	ctx, cancel := context.WithTimeout(c.ctx, opts.StartToCloseTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activity panicked: %v", r)
		}
	}()

	return fn(ctx)
}

// Sleep приостанавливает workflow на d.
//
// Первый проход записывает время пробуждения и приостанавливается.
// Проход после пробуждения отмечает шаг завершённым.
func (c *Context) Sleep(stepID string, d time.Duration) error {
	if err := c.begin(stepID); err != nil {
		return err
	}

	now := c.engine.now()

	rec, ok := c.history[stepID]
	switch {
	case ok && rec.Status == domain.StepStatusCompleted:
		return nil
	case ok && rec.WakeAt != nil:
		if !now.Before(*rec.WakeAt) {
			return c.complete(stepID, domain.StepKindTimer, 1, nil)
		}
		return c.suspend(stepID, domain.StepKindTimer, nil, *rec.WakeAt)
	}

	if d <= 0 {
		return c.complete(stepID, domain.StepKindTimer, 1, nil)
	}

	wakeAt := now.Add(d)
	if err := c.record(c.waitingRecord(stepID, domain.StepKindTimer, wakeAt)); err != nil {
		return err
	}
	return c.suspend(stepID, domain.StepKindTimer, nil, wakeAt)
}

// WaitSignal ожидает один из сигналов names не дольше timeout.
//
// Возвращает полученный сигнал или nil, если дедлайн истёк раньше.
// Истечение дедлайна не является ошибкой: определение само решает,
// чем завершить workflow.
func (c *Context) WaitSignal(stepID string, timeout time.Duration, names ...string) (*domain.Signal, error) {
	if err := c.begin(stepID); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("wait signal %s: at least one signal name is required", stepID)
	}

	rec, ok := c.history[stepID]
	if ok && rec.Status == domain.StepStatusCompleted {
		return signalFromOutput(c.exec.ID, rec.Output), nil
	}

	sig, err := c.engine.store.TakeSignal(c.ctx, c.exec.ID, names)
	if err != nil {
		return nil, fmt.Errorf("take signal: %w", err)
	}
	if sig != nil {
		if err := c.complete(stepID, domain.StepKindSignal, 1, signalOutput(sig)); err != nil {
			return nil, err
		}
		c.logger.Debug("signal consumed", "step_id", stepID, "signal", sig.Name)
		return sig, nil
	}

	now := c.engine.now()

	if ok && rec.WakeAt != nil {
		if !now.Before(*rec.WakeAt) {
			if err := c.complete(stepID, domain.StepKindSignal, 1, map[string]any{"timed_out": true}); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, c.suspend(stepID, domain.StepKindSignal, names, *rec.WakeAt)
	}

	deadline := now.Add(timeout)
	if err := c.record(c.waitingRecord(stepID, domain.StepKindSignal, deadline)); err != nil {
		return nil, err
	}
	return nil, c.suspend(stepID, domain.StepKindSignal, names, deadline)
}

// Dispatcher — вызов действия модуля. Реализуется *gateway.Gateway.
type Dispatcher interface {
	ExecuteModuleAction(ctx context.Context, module, action string, params map[string]any, tenantID string) (map[string]any, error)
}

// Publisher — публикация события. Реализуется *eventbridge.Bridge.
type Publisher interface {
	PublishEvent(ctx context.Context, evt domain.ModuleEvent) (domain.ModuleEvent, error)
}

// CallModule выполняет действие модуля через Gateway как activity.
func (c *Context) CallModule(stepID, module, action string, params map[string]any, opts ActivityOptions) (map[string]any, error) {
	return c.ExecuteActivity(stepID, opts, func(ctx context.Context) (map[string]any, error) {
		return c.dispatch(ctx, module, action, params)
	})
}

// dispatch вызывает модуль от имени тенанта execution.
func (c *Context) dispatch(ctx context.Context, module, action string, params map[string]any) (map[string]any, error) {
	if c.engine.dispatcher == nil {
		return nil, NonRetryable(fmt.Errorf("call %s.%s: no dispatcher configured", module, action))
	}
	return c.engine.dispatcher.ExecuteModuleAction(ctx, module, action, params, c.exec.TenantID)
}

// PublishEvent публикует событие через Event Bridge как activity.
// Возвращает event_id опубликованного события.
func (c *Context) PublishEvent(stepID string, evt domain.ModuleEvent) (string, error) {
	if evt.TenantID == "" {
		evt.TenantID = c.exec.TenantID
	}

	out, err := c.ExecuteActivity(stepID, ActivityOptions{StartToCloseTimeout: time.Minute}, func(ctx context.Context) (map[string]any, error) {
		if c.engine.publisher == nil {
			return map[string]any{"skipped": true}, nil
		}
		published, err := c.engine.publisher.PublishEvent(ctx, evt)
		if err != nil {
			return nil, err
		}
		return map[string]any{"event_id": published.EventID}, nil
	})
	if err != nil {
		return "", err
	}

	id, _ := out["event_id"].(string)
	return id, nil
}

// complete записывает завершение шага и дописывает его в execution_path.
func (c *Context) complete(stepID string, kind domain.StepKind, attempt int, out map[string]any) error {
	rec := domain.StepRecord{
		ExecutionID: c.exec.ID,
		StepID:      stepID,
		Kind:        kind,
		Status:      domain.StepStatusCompleted,
		Attempt:     attempt,
		Output:      out,
		RecordedAt:  c.engine.now(),
	}
	if prev, ok := c.history[stepID]; ok {
		rec.WakeAt = prev.WakeAt
	}
	if err := c.record(rec); err != nil {
		return err
	}

	c.exec.AppendStep(stepID)
	c.exec.UpdatedAt = rec.RecordedAt
	if err := c.engine.store.UpdateExecution(c.ctx, c.exec); err != nil {
		return fmt.Errorf("update execution path: %w", err)
	}
	return nil
}

// record сохраняет запись истории.
func (c *Context) record(rec domain.StepRecord) error {
	if err := c.engine.store.AppendHistory(c.ctx, rec); err != nil {
		return fmt.Errorf("append history %s: %w", rec.StepID, err)
	}
	c.history[rec.StepID] = rec
	return nil
}

func (c *Context) waitingRecord(stepID string, kind domain.StepKind, wakeAt time.Time) domain.StepRecord {
	return domain.StepRecord{
		ExecutionID: c.exec.ID,
		StepID:      stepID,
		Kind:        kind,
		Status:      domain.StepStatusWaiting,
		Attempt:     1,
		WakeAt:      &wakeAt,
		RecordedAt:  c.engine.now(),
	}
}

// suspend запоминает точку продолжения и прерывает проход.
func (c *Context) suspend(stepID string, kind domain.StepKind, signals []string, wakeAt time.Time) error {
	c.wait = &domain.WaitPoint{
		StepID:  stepID,
		Kind:    kind,
		Signals: signals,
		WakeAt:  wakeAt,
	}
	return errSuspended
}

func signalOutput(sig *domain.Signal) map[string]any {
	return map[string]any{
		"signal_id":   sig.ID.String(),
		"name":        sig.Name,
		"payload":     sig.Payload,
		"received_at": sig.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

// signalFromOutput восстанавливает сигнал из записи истории.
func signalFromOutput(execID uuid.UUID, out map[string]any) *domain.Signal {
	if timedOut, _ := out["timed_out"].(bool); timedOut {
		return nil
	}

	sig := &domain.Signal{ExecutionID: execID}
	sig.Name, _ = out["name"].(string)
	sig.Payload, _ = out["payload"].(map[string]any)
	if id, ok := out["signal_id"].(string); ok {
		sig.ID, _ = uuid.Parse(id)
	}
	if ts, ok := out["received_at"].(string); ok {
		sig.ReceivedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return sig
}
