package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaiso/Keystone/internal/domain"
)

const defaultTimeout = 30 * time.Second

const systemPrompt = "You are a strategic business consultant specializing in receivables management, " +
	"process optimization and the Theory of Constraints. Respond with a single JSON object."

// Источник выводов.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// errEmptyInsights — ответ LLM разобран, но пуст.
var errEmptyInsights = errors.New("llm returned empty insights")

// Insights — стратегические выводы по анализу тенанта.
type Insights struct {
	Summary       string   `json:"summary"`
	KeyRisks      []string `json:"key_risks"`
	Opportunities []string `json:"opportunities"`

	// Source — llm или fallback.
	Source string `json:"source"`
}

// Config — конфигурация Service.
type Config struct {
	// Generator — nil означает только детерминированные выводы.
	Generator Generator

	// Timeout — ограничение на один вызов LLM.
	Timeout time.Duration

	Logger *slog.Logger
}

// Service строит стратегические выводы.
type Service struct {
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	s := &Service{
		generator: cfg.Generator,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
	if s.timeout == 0 {
		s.timeout = defaultTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Enabled возвращает true, если настроен LLM-генератор.
func (s *Service) Enabled() bool {
	return s.generator != nil
}

// StrategicInsights возвращает выводы по анализу.
//
// Ошибка LLM или неразборчивый ответ не возвращаются вызывающему:
// в этом случае выводы строятся из анализа (Source = fallback).
func (s *Service) StrategicInsights(ctx context.Context, analysis *domain.AnalysisResult) Insights {
	if analysis == nil {
		return Insights{Summary: "No analysis available.", Source: SourceFallback}
	}
	if s.generator == nil {
		return Fallback(analysis)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt, err := buildPrompt(analysis)
	if err != nil {
		s.logger.Warn("failed to build insight prompt", "tenant_id", analysis.TenantID, "error", err)
		return Fallback(analysis)
	}

	text, err := s.generator.Generate(ctx, Request{
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		JSON:         true,
	})
	if err != nil {
		s.logger.Warn("llm insight generation failed, using fallback", "tenant_id", analysis.TenantID, "error", err)
		return Fallback(analysis)
	}

	out, err := parseInsights(text)
	if err != nil {
		s.logger.Warn("failed to parse llm insights, using fallback", "tenant_id", analysis.TenantID, "error", err)
		return Fallback(analysis)
	}
	return out
}

// promptConstraint — сокращённое представление ограничения для промпта.
type promptConstraint struct {
	Type        domain.ConstraintType `json:"type"`
	Severity    domain.Severity       `json:"severity"`
	Title       string                `json:"title"`
	ImpactScore float64               `json:"impact_score"`
	RootCauses  []string              `json:"root_causes"`
}

func buildPrompt(analysis *domain.AnalysisResult) (string, error) {
	constraints := make([]promptConstraint, 0, len(analysis.Constraints))
	for _, c := range analysis.Constraints {
		constraints = append(constraints, promptConstraint{
			Type:        c.Type,
			Severity:    c.Severity,
			Title:       c.Title,
			ImpactScore: c.ImpactScore,
			RootCauses:  c.RootCauses,
		})
	}

	data, err := json.MarshalIndent(constraints, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal constraints: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyze the receivables constraints of a business and generate strategic insights.\n\n")
	fmt.Fprintf(&b, "Constraints (ordered by impact):\n%s\n\n", data)
	fmt.Fprintf(&b, "Total impact score: %.1f\nConfidence: %.2f\n\n", analysis.TotalImpactScore, analysis.ConfidenceScore)
	b.WriteString(`Respond in JSON format:
{
  "summary": "two or three sentences",
  "key_risks": ["risk"],
  "opportunities": ["opportunity"]
}`)
	return b.String(), nil
}

// parseInsights разбирает JSON-ответ LLM. Допускает обёртку в markdown-блок.
func parseInsights(text string) (Insights, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var out Insights
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return Insights{}, fmt.Errorf("unmarshal insights: %w", err)
	}
	if out.Summary == "" && len(out.KeyRisks) == 0 && len(out.Opportunities) == 0 {
		return Insights{}, errEmptyInsights
	}
	out.Source = SourceLLM
	return out, nil
}

// Fallback строит выводы из анализа без LLM.
func Fallback(analysis *domain.AnalysisResult) Insights {
	out := Insights{Source: SourceFallback}

	if analysis.PrimaryConstraint == nil {
		out.Summary = "No significant constraints identified. Receivables operations are within healthy thresholds."
		out.Opportunities = []string{"Maintain current collection practices and monitor key metrics."}
		return out
	}

	p := analysis.PrimaryConstraint
	out.Summary = fmt.Sprintf(
		"%d constraint(s) identified. Primary constraint: %s (%s severity, impact %.1f). Focus effort there first.",
		len(analysis.Constraints), p.Title, p.Severity, p.ImpactScore,
	)

	for _, c := range analysis.Constraints {
		if c.Severity == domain.SeverityCritical || c.Severity == domain.SeverityHigh {
			out.KeyRisks = append(out.KeyRisks, fmt.Sprintf("%s: %s", c.Title, c.Description))
		}
	}
	if len(out.KeyRisks) == 0 {
		out.KeyRisks = []string{fmt.Sprintf("%s: %s", p.Title, p.Description)}
	}

	for _, cause := range p.RootCauses {
		out.Opportunities = append(out.Opportunities, "Address root cause: "+cause)
	}
	return out
}
