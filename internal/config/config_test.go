package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Gateway.CallTimeout)
	assert.Equal(t, 5, cfg.Gateway.FailureThreshold)
	assert.Equal(t, 3, cfg.Gateway.HalfOpenSuccesses)
	assert.Equal(t, 60*time.Second, cfg.Gateway.RateLimitWindow)
	assert.Equal(t, 100, cfg.Gateway.RateLimitMaxRequests)
	assert.Equal(t, "postgres", cfg.Workflow.Store)
	assert.False(t, cfg.LLMEnabled())
}

func TestLoad_ModuleEndpoints(t *testing.T) {
	t.Setenv("MODULE_ENDPOINTS", "invoice_management=http://invoices:8080,credit_scoring=http://credit:8080")
	t.Setenv("AUTO_ORCHESTRATE_TENANTS", "t1,t2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://invoices:8080", cfg.ModuleEndpoints["invoice_management"])
	assert.Equal(t, "http://credit:8080", cfg.ModuleEndpoints["credit_scoring"])
	assert.Equal(t, []string{"t1", "t2"}, cfg.AutoOrchestrate.Tenants)
}

func TestLoad_InvalidStore(t *testing.T) {
	t.Setenv("WORKFLOW_STORE", "redis")

	_, err := Load()
	assert.Error(t, err)
}
