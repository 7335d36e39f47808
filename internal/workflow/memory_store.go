package workflow

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Keystone/internal/domain"
)

// MemoryStore — in-process реализация Store.
//
// Используется при WORKFLOW_STORE=memory и в тестах.
// Данные живут до перезапуска процесса.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[uuid.UUID]domain.WorkflowExecution
	history    map[uuid.UUID]map[string]domain.StepRecord
	signals    map[uuid.UUID][]domain.Signal
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[uuid.UUID]domain.WorkflowExecution),
		history:    make(map[uuid.UUID]map[string]domain.StepRecord),
		signals:    make(map[uuid.UUID][]domain.Signal),
	}
}

// CreateExecution сохраняет новый execution.
func (s *MemoryStore) CreateExecution(_ context.Context, exec *domain.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; ok {
		return fmt.Errorf("create execution %s: already exists", exec.ID)
	}
	s.executions[exec.ID] = cloneExecution(*exec)
	return nil
}

// GetExecution возвращает копию execution.
func (s *MemoryStore) GetExecution(_ context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	out := cloneExecution(exec)
	return &out, nil
}

// UpdateExecution перезаписывает execution.
func (s *MemoryStore) UpdateExecution(_ context.Context, exec *domain.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[exec.ID] = cloneExecution(*exec)
	return nil
}

// ListExecutions возвращает executions по фильтру, новые первыми.
func (s *MemoryStore) ListExecutions(_ context.Context, filter ListFilter) ([]domain.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WorkflowExecution
	for _, exec := range s.executions {
		if filter.TenantID != "" && exec.TenantID != filter.TenantID {
			continue
		}
		if filter.WorkflowType != "" && exec.WorkflowType != filter.WorkflowType {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, exec.Status) {
			continue
		}
		if !filter.Since.IsZero() && exec.StartedAt.Before(filter.Since) {
			continue
		}
		out = append(out, cloneExecution(exec))
	}

	slices.SortFunc(out, func(a, b domain.WorkflowExecution) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListDueWaits возвращает executions с наступившим wake_at.
func (s *MemoryStore) ListDueWaits(_ context.Context, now time.Time, limit int) ([]domain.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WorkflowExecution
	for _, exec := range s.executions {
		if exec.IsFinished() || exec.WaitingOn == nil {
			continue
		}
		if exec.WaitingOn.WakeAt.After(now) && !s.hasSignalLocked(exec) {
			continue
		}
		out = append(out, cloneExecution(exec))
	}

	slices.SortFunc(out, func(a, b domain.WorkflowExecution) int {
		return a.WaitingOn.WakeAt.Compare(b.WaitingOn.WakeAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendHistory записывает результат шага (upsert).
func (s *MemoryStore) AppendHistory(_ context.Context, rec domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, ok := s.history[rec.ExecutionID]
	if !ok {
		steps = make(map[string]domain.StepRecord)
		s.history[rec.ExecutionID] = steps
	}
	steps[rec.StepID] = rec
	return nil
}

// LoadHistory возвращает историю execution в порядке записи.
func (s *MemoryStore) LoadHistory(_ context.Context, execID uuid.UUID) ([]domain.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Collect(maps.Values(s.history[execID]))
	slices.SortFunc(out, func(a, b domain.StepRecord) int {
		return cmp.Or(a.RecordedAt.Compare(b.RecordedAt), cmp.Compare(a.StepID, b.StepID))
	})
	return out, nil
}

// EnqueueSignal сохраняет сигнал.
func (s *MemoryStore) EnqueueSignal(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.signals[sig.ExecutionID] = append(s.signals[sig.ExecutionID], sig)
	return nil
}

// EnqueueWaitSignal сохраняет сигнал, если для его шага ожидания ещё нет сигнала.
func (s *MemoryStore) EnqueueWaitSignal(_ context.Context, sig domain.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pending := range s.signals[sig.ExecutionID] {
		if pending.WaitStep == sig.WaitStep {
			return false, nil
		}
	}
	s.signals[sig.ExecutionID] = append(s.signals[sig.ExecutionID], sig)
	return true, nil
}

// TakeSignal извлекает самый ранний сигнал с одним из имён.
func (s *MemoryStore) TakeSignal(_ context.Context, execID uuid.UUID, names []string) (*domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.signals[execID]
	for i, sig := range queue {
		if slices.Contains(names, sig.Name) {
			s.signals[execID] = slices.Delete(queue, i, i+1)
			return &sig, nil
		}
	}
	return nil, nil
}

// hasSignalLocked проверяет, есть ли сохранённый сигнал, которого ждёт execution.
func (s *MemoryStore) hasSignalLocked(exec domain.WorkflowExecution) bool {
	for _, sig := range s.signals[exec.ID] {
		if exec.AwaitsSignal(sig.Name) {
			return true
		}
	}
	return false
}

// PendingSignals возвращает количество непотреблённых сигналов execution.
func (s *MemoryStore) PendingSignals(execID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals[execID])
}

// Ping всегда успешен.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneExecution(e domain.WorkflowExecution) domain.WorkflowExecution {
	e.ExecutionPath = slices.Clone(e.ExecutionPath)
	if e.WaitingOn != nil {
		wp := *e.WaitingOn
		wp.Signals = slices.Clone(wp.Signals)
		e.WaitingOn = &wp
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		e.CompletedAt = &t
	}
	return e
}
