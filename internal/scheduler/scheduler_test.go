package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/orchestration"
)

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls map[string]string // tenant → user
	fail  map[string]error
	panic string
}

func (f *fakeOrchestrator) AutoOrchestrate(_ context.Context, tenantID, userID string) (*orchestration.AutoOrchestrationResult, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]string)
	}
	f.calls[tenantID] = userID
	f.mu.Unlock()

	if tenantID == f.panic {
		panic("boom")
	}
	if err := f.fail[tenantID]; err != nil {
		return nil, err
	}
	return &orchestration.AutoOrchestrationResult{TenantID: tenantID, WorkflowsTriggered: 2}, nil
}

// --- Cron Tests ---

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/15 * * * *", false},
		{"0 9 * * 1-5", false},
		{"@hourly", false},
		{"@every 30m", false},
		{"", true},
		{"* * *", true},
		{"61 * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 9, 7, 0, 0, time.UTC)

	next, err := NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC), next)

	_, err = NextRun("bad", from)
	assert.Error(t, err)
}

// --- Tick Tests ---

func TestTick_AllTenants(t *testing.T) {
	orch := &fakeOrchestrator{}
	s := New(Config{Orchestrator: orch, Tenants: []string{"t1", "t2", "t3"}})

	res := s.Tick(context.Background())

	assert.Equal(t, TickResult{Tenants: 3, WorkflowsTriggered: 6}, res)
	assert.Equal(t, map[string]string{"t1": "system", "t2": "system", "t3": "system"}, orch.calls)
}

func TestTick_FailureIsolated(t *testing.T) {
	orch := &fakeOrchestrator{
		fail:  map[string]error{"t1": errors.New("db down")},
		panic: "t2",
	}
	s := New(Config{Orchestrator: orch, Tenants: []string{"t1", "t2", "t3"}, UserID: "ops", Concurrency: 1})

	res := s.Tick(context.Background())

	assert.Equal(t, 3, res.Tenants)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.WorkflowsTriggered)
	assert.Equal(t, "ops", orch.calls["t3"])
}

func TestTick_NoTenants(t *testing.T) {
	orch := &fakeOrchestrator{}
	res := New(Config{Orchestrator: orch}).Tick(context.Background())
	assert.Zero(t, res.Tenants)
	assert.Empty(t, orch.calls)
}

type fakeLeader struct {
	ok  bool
	err error
}

func (l fakeLeader) TryAcquire(context.Context) (bool, error) { return l.ok, l.err }

func TestTick_Leader(t *testing.T) {
	tests := []struct {
		name     string
		leader   fakeLeader
		wantSkip bool
	}{
		{"leader", fakeLeader{ok: true}, false},
		{"follower", fakeLeader{ok: false}, true},
		{"lock error", fakeLeader{err: errors.New("conn refused")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &fakeOrchestrator{}
			s := New(Config{Orchestrator: orch, Leader: tt.leader, Tenants: []string{"t1"}})

			res := s.Tick(context.Background())
			assert.Equal(t, tt.wantSkip, res.Skipped)
			if tt.wantSkip {
				assert.Empty(t, orch.calls)
			} else {
				assert.Len(t, orch.calls, 1)
			}
		})
	}
}

// --- Lifecycle Tests ---

func TestStartStop(t *testing.T) {
	s := New(Config{Orchestrator: &fakeOrchestrator{}})
	assert.ErrorIs(t, s.Start(context.Background()), ErrNoCronExpr)

	s = New(Config{Orchestrator: &fakeOrchestrator{}, CronExpr: "not a cron"})
	assert.Error(t, s.Start(context.Background()))

	s = New(Config{Orchestrator: &fakeOrchestrator{}, CronExpr: "@every 1h"})
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	s.Stop()
	s.Stop()
}
