package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/workflow"
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

const executionColumns = `
	id, tenant_id, workflow_type, status, input_data, execution_path, result,
	error, wait_step_id, wait_kind, wait_signals, wake_at,
	started_at, completed_at, created_by, updated_at`

// WorkflowRepo — Postgres-хранилище Workflow Engine. Реализует workflow.Store.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

var _ workflow.Store = (*WorkflowRepo)(nil)

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// CreateExecution сохраняет новый execution.
func (r *WorkflowRepo) CreateExecution(ctx context.Context, exec *domain.WorkflowExecution) error {
	args, err := executionArgs(exec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("insert execution %s: %w", exec.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution возвращает execution по ID.
func (r *WorkflowRepo) GetExecution(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	exec, err := scanExecution(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", workflow.ErrExecutionNotFound, ErrNotFound)
	}
	return exec, err
}

// UpdateExecution перезаписывает изменяемые поля execution.
//
// Завершённый execution не меняется: для него возвращается ErrInvalidState.
func (r *WorkflowRepo) UpdateExecution(ctx context.Context, exec *domain.WorkflowExecution) error {
	resultJSON, err := marshalJSON(exec.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	waitStep, waitKind, waitSignals, wakeAt := waitColumns(exec.WaitingOn)

	query := `
		UPDATE workflow_executions
		SET status = $2, execution_path = $3, result = $4, error = $5,
		    wait_step_id = $6, wait_kind = $7, wait_signals = $8, wake_at = $9,
		    completed_at = $10, updated_at = $11
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled', 'timeout')
	`
	result, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.Status,
		exec.ExecutionPath,
		resultJSON,
		nullString(exec.Error),
		waitStep,
		waitKind,
		waitSignals,
		wakeAt,
		exec.CompletedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, exec.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check execution: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %w", workflow.ErrExecutionNotFound, ErrNotFound)
	}
	return fmt.Errorf("update execution %s: %w", exec.ID, ErrInvalidState)
}

// ListExecutions возвращает executions по фильтру, новые первыми.
func (r *WorkflowRepo) ListExecutions(ctx context.Context, filter workflow.ListFilter) ([]domain.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE ($1::text IS NULL OR tenant_id = $1)
		  AND ($2::text IS NULL OR workflow_type = $2)
		  AND ($3::text[] IS NULL OR status = ANY($3))
		  AND ($4::timestamptz IS NULL OR started_at >= $4)
		ORDER BY started_at DESC
		LIMIT $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.TenantID),
		nullString(filter.WorkflowType),
		statusStrings(filter.Statuses),
		nullTime(filter.Since),
		nullLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListDueWaits возвращает приостановленные executions, готовые к продолжению.
func (r *WorkflowRepo) ListDueWaits(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions e
		WHERE e.status IN ('pending', 'running')
		  AND e.wait_step_id IS NOT NULL
		  AND (
		        e.wake_at <= $1
		     OR (e.wait_kind = 'signal' AND EXISTS (
		            SELECT 1 FROM workflow_signals s
		            WHERE s.execution_id = e.id AND s.name = ANY(e.wait_signals)
		        ))
		  )
		ORDER BY e.wake_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, nullLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list due waits: %w", err)
	}
	return collectExecutions(rows)
}

// AppendHistory записывает результат шага. Upsert по (execution_id, step_id).
func (r *WorkflowRepo) AppendHistory(ctx context.Context, rec domain.StepRecord) error {
	outputJSON, err := marshalJSON(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	query := `
		INSERT INTO workflow_history (execution_id, step_id, kind, status, attempt, output, error, wake_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (execution_id, step_id) DO UPDATE
		SET kind = EXCLUDED.kind, status = EXCLUDED.status, attempt = EXCLUDED.attempt,
		    output = EXCLUDED.output, error = EXCLUDED.error, wake_at = EXCLUDED.wake_at,
		    recorded_at = EXCLUDED.recorded_at
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ExecutionID,
		rec.StepID,
		rec.Kind,
		rec.Status,
		rec.Attempt,
		outputJSON,
		nullString(rec.Error),
		rec.WakeAt,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert history %s: %w", rec.StepID, err)
	}
	return nil
}

// LoadHistory возвращает историю execution в порядке записи.
func (r *WorkflowRepo) LoadHistory(ctx context.Context, execID uuid.UUID) ([]domain.StepRecord, error) {
	query := `
		SELECT execution_id, step_id, kind, status, attempt, output, error, wake_at, recorded_at
		FROM workflow_history
		WHERE execution_id = $1
		ORDER BY recorded_at ASC, step_id ASC
	`
	rows, err := r.pool.Query(ctx, query, execID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []domain.StepRecord
	for rows.Next() {
		rec, err := scanStepRecord(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *rec)
	}
	return history, rows.Err()
}

// EnqueueSignal сохраняет сигнал до его потребления.
func (r *WorkflowRepo) EnqueueSignal(ctx context.Context, sig domain.Signal) error {
	payloadJSON, err := marshalJSON(sig.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO workflow_signals (id, execution_id, name, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, query, sig.ID, sig.ExecutionID, sig.Name, payloadJSON, sig.ReceivedAt); err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// EnqueueWaitSignal сохраняет сигнал, если для его шага ожидания ещё нет
// непотреблённого сигнала. Уникальность держит idx_workflow_signals_wait_step.
func (r *WorkflowRepo) EnqueueWaitSignal(ctx context.Context, sig domain.Signal) (bool, error) {
	payloadJSON, err := marshalJSON(sig.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO workflow_signals (id, execution_id, name, payload, received_at, wait_step)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id, wait_step) WHERE wait_step IS NOT NULL DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, sig.ID, sig.ExecutionID, sig.Name, payloadJSON, sig.ReceivedAt, sig.WaitStep)
	if err != nil {
		return false, fmt.Errorf("insert wait signal: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// TakeSignal атомарно извлекает самый ранний сигнал с одним из имён.
// Конкурентные вызовы не получают один и тот же сигнал (SKIP LOCKED).
func (r *WorkflowRepo) TakeSignal(ctx context.Context, execID uuid.UUID, names []string) (*domain.Signal, error) {
	query := `
		DELETE FROM workflow_signals
		WHERE id = (
			SELECT id FROM workflow_signals
			WHERE execution_id = $1 AND name = ANY($2)
			ORDER BY received_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, execution_id, name, payload, received_at
	`
	sig, err := scanSignal(r.pool.QueryRow(ctx, query, execID, names))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sig, err
}

// Ping проверяет доступность БД.
func (r *WorkflowRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// --- Helpers ---

// executionArgs раскладывает execution по колонкам executionColumns.
func executionArgs(exec *domain.WorkflowExecution) ([]any, error) {
	inputJSON, err := marshalJSON(exec.InputData)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	resultJSON, err := marshalJSON(exec.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	waitStep, waitKind, waitSignals, wakeAt := waitColumns(exec.WaitingOn)

	return []any{
		exec.ID,
		exec.TenantID,
		exec.WorkflowType,
		exec.Status,
		inputJSON,
		exec.ExecutionPath,
		resultJSON,
		nullString(exec.Error),
		waitStep,
		waitKind,
		waitSignals,
		wakeAt,
		exec.StartedAt,
		exec.CompletedAt,
		nullString(exec.CreatedBy),
		exec.UpdatedAt,
	}, nil
}

// waitColumns раскладывает точку продолжения по nullable-колонкам.
func waitColumns(w *domain.WaitPoint) (step, kind *string, signals []string, wakeAt *time.Time) {
	if w == nil {
		return nil, nil, nil, nil
	}
	s, k, at := w.StepID, string(w.Kind), w.WakeAt
	return &s, &k, w.Signals, &at
}

// scanExecution сканирует одну строку в WorkflowExecution.
func scanExecution(row pgx.Row) (*domain.WorkflowExecution, error) {
	var (
		exec                  domain.WorkflowExecution
		inputJSON, resultJSON []byte
		execError, createdBy  *string
		waitStep, waitKind    *string
		waitSignals           []string
		wakeAt                *time.Time
	)

	err := row.Scan(
		&exec.ID,
		&exec.TenantID,
		&exec.WorkflowType,
		&exec.Status,
		&inputJSON,
		&exec.ExecutionPath,
		&resultJSON,
		&execError,
		&waitStep,
		&waitKind,
		&waitSignals,
		&wakeAt,
		&exec.StartedAt,
		&exec.CompletedAt,
		&createdBy,
		&exec.UpdatedAt,
	)
	if err != nil {
		if err = notFound(err); errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	if err := unmarshalJSON(inputJSON, &exec.InputData); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := unmarshalJSON(resultJSON, &exec.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	if execError != nil {
		exec.Error = *execError
	}
	if createdBy != nil {
		exec.CreatedBy = *createdBy
	}
	if waitStep != nil {
		wp := &domain.WaitPoint{StepID: *waitStep, Signals: waitSignals}
		if waitKind != nil {
			wp.Kind = domain.StepKind(*waitKind)
		}
		if wakeAt != nil {
			wp.WakeAt = *wakeAt
		}
		exec.WaitingOn = wp
	}
	return &exec, nil
}

func collectExecutions(rows pgx.Rows) ([]domain.WorkflowExecution, error) {
	defer rows.Close()

	var execs []domain.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// scanStepRecord сканирует одну строку истории.
func scanStepRecord(row pgx.Row) (*domain.StepRecord, error) {
	var (
		rec        domain.StepRecord
		outputJSON []byte
		stepError  *string
	)

	err := row.Scan(
		&rec.ExecutionID,
		&rec.StepID,
		&rec.Kind,
		&rec.Status,
		&rec.Attempt,
		&outputJSON,
		&stepError,
		&rec.WakeAt,
		&rec.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", notFound(err))
	}

	if err := unmarshalJSON(outputJSON, &rec.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	if stepError != nil {
		rec.Error = *stepError
	}
	return &rec, nil
}

// scanSignal сканирует одну строку сигнала.
func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var (
		sig         domain.Signal
		payloadJSON []byte
	)

	err := row.Scan(&sig.ID, &sig.ExecutionID, &sig.Name, &payloadJSON, &sig.ReceivedAt)
	if err != nil {
		if err = notFound(err); errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan signal: %w", err)
	}

	if err := unmarshalJSON(payloadJSON, &sig.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &sig, nil
}

// marshalJSON сериализует map в jsonb. Nil map сохраняется как NULL.
func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func statusStrings(statuses []domain.WorkflowStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime возвращает nil для нулевого времени.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// nullLimit возвращает nil (LIMIT NULL — без ограничения) для limit <= 0.
func nullLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// nullUUID возвращает nil для нулевого UUID.
func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
