package insight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/domain"
)

type stubGenerator struct {
	text string
	err  error
	got  Request
}

func (g *stubGenerator) Generate(_ context.Context, req Request) (string, error) {
	g.got = req
	return g.text, g.err
}

func testAnalysis() *domain.AnalysisResult {
	cash := domain.Constraint{
		Type:        domain.ConstraintCashFlow,
		Severity:    domain.SeverityCritical,
		Title:       "Cash Flow Constraint",
		Description: "$500,000 outstanding",
		ImpactScore: 82.5,
		RootCauses:  []string{"25 overdue invoices", "slow collections"},
	}
	ops := domain.Constraint{
		Type:        domain.ConstraintOperational,
		Severity:    domain.SeverityLow,
		Title:       "Operational Constraint",
		ImpactScore: 12,
	}
	return &domain.AnalysisResult{
		TenantID:          "t1",
		Constraints:       []domain.Constraint{cash, ops},
		PrimaryConstraint: &cash,
		TotalImpactScore:  94.5,
		ConfidenceScore:   0.8,
	}
}

// --- Service Tests ---

func TestStrategicInsights_LLM(t *testing.T) {
	g := &stubGenerator{text: "```json\n{\"summary\":\"s\",\"key_risks\":[\"r\"],\"opportunities\":[\"o\"]}\n```"}
	s := New(Config{Generator: g})

	out := s.StrategicInsights(context.Background(), testAnalysis())

	assert.Equal(t, SourceLLM, out.Source)
	assert.Equal(t, "s", out.Summary)
	assert.Equal(t, []string{"r"}, out.KeyRisks)
	assert.True(t, g.got.JSON)
	assert.Contains(t, g.got.Prompt, "Cash Flow Constraint")
	assert.NotEmpty(t, g.got.SystemPrompt)
}

func TestStrategicInsights_Fallback(t *testing.T) {
	tests := []struct {
		name string
		gen  Generator
	}{
		{"no generator", nil},
		{"generator error", &stubGenerator{err: errors.New("rate limited")}},
		{"malformed json", &stubGenerator{text: "not json"}},
		{"empty object", &stubGenerator{text: "{}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{Generator: tt.gen})
			out := s.StrategicInsights(context.Background(), testAnalysis())

			assert.Equal(t, SourceFallback, out.Source)
			assert.Contains(t, out.Summary, "Cash Flow Constraint")
			assert.Len(t, out.KeyRisks, 1)
			assert.Len(t, out.Opportunities, 2)
		})
	}
}

func TestFallback_NoConstraints(t *testing.T) {
	out := Fallback(&domain.AnalysisResult{TenantID: "t1"})
	assert.Equal(t, SourceFallback, out.Source)
	assert.Empty(t, out.KeyRisks)
	assert.NotEmpty(t, out.Summary)

	s := New(Config{})
	assert.False(t, s.Enabled())
	assert.Equal(t, SourceFallback, s.StrategicInsights(context.Background(), nil).Source)
}

// --- OpenAIGenerator Tests ---

func TestOpenAIGenerator(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"summary\":\"ok\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "key", BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	text, err := g.Generate(context.Background(), Request{SystemPrompt: "sys", Prompt: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, text)

	assert.Equal(t, "test-model", gotBody["model"])
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
	assert.NotNil(t, gotBody["response_format"])
}

func TestOpenAIGenerator_Errors(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{})
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
