package repo

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/domain"
)

// fakeRow — pgx.Row с заранее заданными значениями колонок.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		if r.values[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// --- Execution Tests ---

func TestExecutionArgs_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := &domain.WorkflowExecution{
		ID:            uuid.New(),
		TenantID:      "t1",
		WorkflowType:  "overdue_invoice_follow_up",
		Status:        domain.WorkflowStatusRunning,
		InputData:     map[string]any{"invoice_id": "inv-1"},
		ExecutionPath: []string{"get_invoice_details"},
		WaitingOn: &domain.WaitPoint{
			StepID:  "await_payment_1",
			Kind:    domain.StepKindSignal,
			Signals: []string{"payment_received"},
			WakeAt:  now.Add(time.Hour),
		},
		StartedAt: now,
		CreatedBy: "u1",
		UpdatedAt: now,
	}

	args, err := executionArgs(exec)
	require.NoError(t, err)
	require.Len(t, args, 16)

	got, err := scanExecution(fakeRow{values: args})
	require.NoError(t, err)

	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, exec.Status, got.Status)
	assert.Equal(t, "inv-1", got.InputData["invoice_id"])
	assert.Nil(t, got.Result)
	assert.Equal(t, "u1", got.CreatedBy)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.WaitingOn)
	assert.Equal(t, *exec.WaitingOn, *got.WaitingOn)
	assert.True(t, got.AwaitsSignal("payment_received"))
}

func TestScanExecution_NoWaitPoint(t *testing.T) {
	now := time.Now()
	exec := &domain.WorkflowExecution{
		ID:        uuid.New(),
		Status:    domain.WorkflowStatusCompleted,
		Result:    map[string]any{"status": "completed"},
		Error:     "",
		StartedAt: now,
		UpdatedAt: now,
	}
	exec.CompletedAt = &now

	args, err := executionArgs(exec)
	require.NoError(t, err)

	got, err := scanExecution(fakeRow{values: args})
	require.NoError(t, err)
	assert.Nil(t, got.WaitingOn)
	assert.Equal(t, "completed", got.Result["status"])
	require.NotNil(t, got.CompletedAt)
}

func TestScanExecution_NoRows(t *testing.T) {
	_, err := scanExecution(fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = scanExecution(fakeRow{err: errors.New("conn reset")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// --- History & Signal Tests ---

func TestScanStepRecord(t *testing.T) {
	id := uuid.New()
	wake := time.Now().Add(time.Hour)
	row := fakeRow{values: []any{
		id, "await_payment_1", domain.StepKindTimer, domain.StepStatusWaiting, 0,
		[]byte(`{"timed_out":true}`), ptr("boom"), ptr(wake), time.Now(),
	}}

	rec, err := scanStepRecord(row)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ExecutionID)
	assert.Equal(t, domain.StepKindTimer, rec.Kind)
	assert.Equal(t, true, rec.Output["timed_out"])
	assert.Equal(t, "boom", rec.Error)
	require.NotNil(t, rec.WakeAt)
	assert.True(t, wake.Equal(*rec.WakeAt))
}

func TestScanSignal(t *testing.T) {
	sigID, execID := uuid.New(), uuid.New()
	row := fakeRow{values: []any{sigID, execID, "payment_received", []byte(`{"amount":100}`), time.Now()}}

	sig, err := scanSignal(row)
	require.NoError(t, err)
	assert.Equal(t, sigID, sig.ID)
	assert.Equal(t, "payment_received", sig.Name)
	assert.Equal(t, 100.0, sig.Payload["amount"])

	_, err = scanSignal(fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Helper Tests ---

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "x", *nullString("x"))

	assert.Nil(t, nullTime(time.Time{}))
	assert.NotNil(t, nullTime(time.Now()))

	assert.Nil(t, nullLimit(0))
	assert.Equal(t, 5, *nullLimit(5))

	assert.Nil(t, nullUUID(uuid.Nil))
	assert.NotNil(t, nullUUID(uuid.New()))

	assert.Nil(t, statusStrings(nil))
	assert.Equal(t, []string{"pending", "running"}, statusStrings([]domain.WorkflowStatus{
		domain.WorkflowStatusPending, domain.WorkflowStatusRunning,
	}))

	data, err := marshalJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), ErrNotFound)
	other := errors.New("x")
	assert.Equal(t, other, notFound(other))
}
