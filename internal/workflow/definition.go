package workflow

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Максимальный таймаут execution.
const maxExecutionTimeout = 30 * 24 * time.Hour

const defaultExecutionTimeout = 48 * time.Hour

// SignalPolicy — что делать с сигналом, который execution сейчас не ждёт.
type SignalPolicy string

const (
	// SignalPolicyQueue — сохранить сигнал до следующего ожидания.
	SignalPolicyQueue SignalPolicy = "queue"

	// SignalPolicyDrop — отбросить сигнал.
	SignalPolicyDrop SignalPolicy = "drop"
)

// Disposition — результат доставки сигнала.
type Disposition string

const (
	DispositionDelivered Disposition = "delivered"
	DispositionQueued    Disposition = "queued"
	DispositionDropped   Disposition = "dropped"
)

// RunFunc — детерминированная функция workflow.
//
// Функция перезапускается с начала при каждом проходе. Все побочные
// эффекты должны идти через шаги Context (ExecuteActivity, Sleep,
// WaitSignal), ошибки шагов пробрасываются без изменений.
type RunFunc func(wctx *Context, input map[string]any) (map[string]any, error)

// Definition — зарегистрированный тип workflow.
type Definition struct {
	// Type — уникальное имя workflow.
	Type string

	Run RunFunc

	// SignalPolicy — обязательная политика для сигналов вне ожидания.
	SignalPolicy SignalPolicy

	// ExecutionTimeout — таймаут всего execution (default: 48h, max: 30d).
	ExecutionTimeout time.Duration

	// Validate — опциональная проверка входа до создания execution.
	Validate func(input map[string]any) error
}

// validate проверяет определение при регистрации.
func (d *Definition) validate() error {
	if d.Type == "" {
		return fmt.Errorf("workflow definition: type is required")
	}
	if d.Run == nil {
		return fmt.Errorf("workflow definition %s: run function is required", d.Type)
	}
	switch d.SignalPolicy {
	case SignalPolicyQueue, SignalPolicyDrop:
	case "":
		return fmt.Errorf("workflow definition %s: %w", d.Type, ErrSignalPolicyMissing)
	default:
		return fmt.Errorf("workflow definition %s: unknown signal policy %q", d.Type, d.SignalPolicy)
	}
	if d.ExecutionTimeout > maxExecutionTimeout {
		return fmt.Errorf("workflow definition %s: execution timeout %s exceeds %s",
			d.Type, d.ExecutionTimeout, maxExecutionTimeout)
	}
	return nil
}

func (d *Definition) timeout() time.Duration {
	if d.ExecutionTimeout <= 0 {
		return defaultExecutionTimeout
	}
	return d.ExecutionTimeout
}

// Registry — реестр определений workflow.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register добавляет определение. Повторная регистрация типа — ошибка.
func (r *Registry) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defs[def.Type]; ok {
		return fmt.Errorf("workflow definition %s: already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Get возвращает определение по типу.
func (r *Registry) Get(workflowType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[workflowType]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, workflowType)
	}
	return def, nil
}

// Types возвращает зарегистрированные типы по алфавиту.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
