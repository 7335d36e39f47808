package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/config"
	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/orchestration"
	"github.com/shaiso/Keystone/internal/workflow"
)

func memoryConfig() config.Config {
	return config.Config{
		Workflow:         config.WorkflowConfig{Store: "memory"},
		AnalysisCacheTTL: time.Minute,
		ModuleEndpoints: map[string]string{
			domain.ModuleInvoiceManagement: "http://invoices.local",
			"legacy_erp":                   "http://erp.local",
		},
	}
}

func TestBuild_Memory(t *testing.T) {
	hub, err := Build(context.Background(), memoryConfig(), Options{})
	require.NoError(t, err)
	defer hub.Close()

	assert.Nil(t, hub.Pool)
	assert.Nil(t, hub.MQ)
	assert.ElementsMatch(t, []string{domain.ModuleInvoiceManagement, "legacy_erp"}, hub.Gateway.RegisteredModules())

	_, err = hub.Engine.Registry().Get(workflow.OverdueFollowUpType)
	assert.NoError(t, err)
	assert.False(t, hub.Insights.Enabled())

	result, err := hub.Facade.AnalyzeConstraints(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, result.Constraints)

	h := hub.Facade.HealthCheck(context.Background())
	assert.Contains(t, h.Components, orchestration.ComponentWorkflowEngine)
	assert.Contains(t, h.Components, orchestration.ComponentEventBridge)
	assert.NotContains(t, h.Components, orchestration.ComponentMessageBroker)
}

func TestBuild_LLM(t *testing.T) {
	cfg := memoryConfig()
	cfg.LLM = config.LLMConfig{APIKey: "key", BaseURL: "http://llm.local/v1", Model: "m"}

	hub, err := Build(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer hub.Close()

	assert.True(t, hub.Insights.Enabled())
}

func TestBuild_Broker(t *testing.T) {
	cfg := memoryConfig()
	cfg.RabbitMQURL = ""

	_, err := Build(context.Background(), cfg, Options{Broker: true, RequireBroker: true})
	assert.ErrorIs(t, err, ErrBrokerUnavailable)

	hub, err := Build(context.Background(), cfg, Options{Broker: true})
	require.NoError(t, err)
	defer hub.Close()
	assert.Nil(t, hub.Publisher)

	h := hub.Facade.HealthCheck(context.Background())
	require.Contains(t, h.Components, orchestration.ComponentMessageBroker)
	assert.Equal(t, domain.HealthStatusDegraded, h.Components[orchestration.ComponentMessageBroker].Status)
}

func TestBuild_BadEndpoint(t *testing.T) {
	cfg := memoryConfig()
	cfg.ModuleEndpoints["credit_scoring"] = ""

	_, err := Build(context.Background(), cfg, Options{})
	assert.Error(t, err)
}
