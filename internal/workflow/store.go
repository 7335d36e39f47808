package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
)

// Store — durable хранилище executions, истории шагов и сигналов.
//
// Реализации: MemoryStore (in-process) и repo.WorkflowRepo (Postgres).
type Store interface {
	// CreateExecution сохраняет новый execution.
	CreateExecution(ctx context.Context, exec *domain.WorkflowExecution) error

	// GetExecution возвращает execution по ID или ErrExecutionNotFound.
	GetExecution(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error)

	// UpdateExecution перезаписывает изменяемые поля execution.
	UpdateExecution(ctx context.Context, exec *domain.WorkflowExecution) error

	// ListExecutions возвращает executions по фильтру, новые первыми.
	ListExecutions(ctx context.Context, filter ListFilter) ([]domain.WorkflowExecution, error)

	// ListDueWaits возвращает незавершённые executions, готовые к продолжению:
	// waiting_on.wake_at <= now, либо execution ждёт сигнал и подходящий
	// сигнал уже сохранён.
	ListDueWaits(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowExecution, error)

	// AppendHistory записывает результат шага. Upsert по (execution_id, step_id).
	AppendHistory(ctx context.Context, rec domain.StepRecord) error

	// LoadHistory возвращает историю execution.
	LoadHistory(ctx context.Context, execID uuid.UUID) ([]domain.StepRecord, error)

	// EnqueueSignal сохраняет сигнал до его потребления.
	EnqueueSignal(ctx context.Context, sig domain.Signal) error

	// EnqueueWaitSignal сохраняет сигнал, если для sig.WaitStep ещё нет
	// непотреблённого сигнала. false — сигнал не сохранён.
	EnqueueWaitSignal(ctx context.Context, sig domain.Signal) (bool, error)

	// TakeSignal атомарно извлекает самый ранний сигнал с одним из имён.
	// Возвращает nil, если подходящих сигналов нет.
	TakeSignal(ctx context.Context, execID uuid.UUID, names []string) (*domain.Signal, error)

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// ListFilter — фильтр для ListExecutions. Пустые поля не фильтруют.
type ListFilter struct {
	TenantID     string
	WorkflowType string
	Statuses     []domain.WorkflowStatus

	// Since — executions, начатые не раньше Since.
	Since time.Time

	Limit int
}

// ActiveStatuses — статусы незавершённых executions.
var ActiveStatuses = []domain.WorkflowStatus{
	domain.WorkflowStatusPending,
	domain.WorkflowStatusRunning,
}
