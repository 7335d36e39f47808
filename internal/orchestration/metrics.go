package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/workflow"
)

const (
	defaultPeriodDays = 30

	// ledgerRetention — записи журнала старше этого срока отбрасываются.
	ledgerRetention = 90 * 24 * time.Hour
)

// OrchestrationMetrics — сводка работы хаба по тенанту за период.
type OrchestrationMetrics struct {
	TenantID                  string  `json:"tenant_id"`
	PeriodDays                int     `json:"period_days"`
	ConstraintsIdentified     int     `json:"constraints_identified"`
	RecommendationsGenerated  int     `json:"recommendations_generated"`
	WorkflowsExecuted         int     `json:"workflows_executed"`
	WorkflowsSuccessful       int     `json:"workflows_successful"`
	WorkflowsActive           int     `json:"workflows_active"`
	AverageWorkflowDurationMs float64 `json:"average_workflow_duration_ms"`
	AutoOrchestrationTriggers int     `json:"auto_orchestration_triggers"`
}

// GetOrchestrationMetrics собирает метрики тенанта за periodDays (по умолчанию 30).
//
// Ограничения и рекомендации считаются по хранилищам, если они настроены,
// иначе по журналу процесса. Запуски auto-orchestration считаются в процессе.
func (s *Service) GetOrchestrationMetrics(ctx context.Context, tenantID string, periodDays int) (*OrchestrationMetrics, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if periodDays <= 0 {
		periodDays = defaultPeriodDays
	}
	since := s.now().Add(-time.Duration(periodDays) * 24 * time.Hour)

	m := &OrchestrationMetrics{
		TenantID:                  tenantID,
		PeriodDays:                periodDays,
		AutoOrchestrationTriggers: s.ledger.sum(tenantID, entryAutoRun, since),
	}

	var err error
	if m.ConstraintsIdentified, err = s.count(ctx, s.constraintCounter, tenantID, entryConstraints, since); err != nil {
		return nil, fmt.Errorf("count constraints: %w", err)
	}
	if m.RecommendationsGenerated, err = s.count(ctx, s.recommendationCounter, tenantID, entryRecommendations, since); err != nil {
		return nil, fmt.Errorf("count recommendations: %w", err)
	}

	if s.workflows != nil {
		execs, err := s.workflows.List(ctx, workflow.ListFilter{TenantID: tenantID, Since: since})
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		fillWorkflowMetrics(m, execs)
	}

	return m, nil
}

func (s *Service) count(ctx context.Context, c Counter, tenantID string, kind entryKind, since time.Time) (int, error) {
	if c != nil {
		return c.CountSince(ctx, tenantID, since)
	}
	return s.ledger.sum(tenantID, kind, since), nil
}

func fillWorkflowMetrics(m *OrchestrationMetrics, execs []domain.WorkflowExecution) {
	var (
		total    time.Duration
		finished int
	)
	for i := range execs {
		e := &execs[i]
		m.WorkflowsExecuted++
		switch {
		case e.Status == domain.WorkflowStatusCompleted:
			m.WorkflowsSuccessful++
		case !e.IsFinished():
			m.WorkflowsActive++
		}
		if e.IsFinished() {
			total += e.Duration()
			finished++
		}
	}
	if finished > 0 {
		m.AverageWorkflowDurationMs = float64(total.Milliseconds()) / float64(finished)
	}
}

// --- Ledger ---

type entryKind int

const (
	entryConstraints entryKind = iota
	entryRecommendations
	entryAutoRun
)

type ledgerEntry struct {
	at    time.Time
	kind  entryKind
	count int
}

// ledger — журнал активности фасада по тенантам в памяти процесса.
type ledger struct {
	mu      sync.Mutex
	entries map[string][]ledgerEntry
}

func newLedger() *ledger {
	return &ledger{entries: make(map[string][]ledgerEntry)}
}

func (l *ledger) record(tenantID string, kind entryKind, count int, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries[tenantID]

	// Отбрасываем устаревшие записи, журнал упорядочен по времени.
	cutoff := now.Add(-ledgerRetention)
	drop := 0
	for drop < len(entries) && entries[drop].at.Before(cutoff) {
		drop++
	}

	l.entries[tenantID] = append(entries[drop:], ledgerEntry{at: now, kind: kind, count: count})
}

func (l *ledger) sum(tenantID string, kind entryKind, since time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries[tenantID] {
		if e.kind == kind && !e.at.Before(since) {
			n += e.count
		}
	}
	return n
}
