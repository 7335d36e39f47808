package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/gateway"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPAdapter — адаптер модуля, доступного по HTTP.
//
// Действие:
//
//	POST {BaseURL}/actions/{action}
//	body: {"action": "...", "params": {...}}
//
// Ответ с кодом >= 400 считается ошибкой. JSON-объект из тела ответа
// становится результатом; не-объект оборачивается в {"body": ...}.
//
// Health:
//
//	GET {BaseURL}/health → {"status": "healthy|degraded|unhealthy"}
type HTTPAdapter struct {
	name    string
	baseURL string
	client  *http.Client
	headers map[string]string
}

// HTTPAdapterConfig — конфигурация HTTPAdapter.
type HTTPAdapterConfig struct {
	Name    string
	BaseURL string

	// Timeout — таймаут HTTP-клиента (default: 30s).
	// Gateway дополнительно ограничивает вызов своим таймаутом.
	Timeout time.Duration

	// Headers — заголовки для каждого запроса (например, Authorization).
	Headers map[string]string

	// Client — свой HTTP-клиент (для тестов).
	Client *http.Client
}

// NewHTTPAdapter создаёт HTTPAdapter.
func NewHTTPAdapter(cfg HTTPAdapterConfig) *HTTPAdapter {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPAdapter{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		headers: cfg.Headers,
	}
}

// Name реализует gateway.Adapter.
func (a *HTTPAdapter) Name() string {
	return a.name
}

// ExecuteAction реализует gateway.Adapter.
func (a *HTTPAdapter) ExecuteAction(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"action": action,
		"params": params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	endpoint := a.baseURL + "/actions/" + url.PathEscape(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrModuleUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 200),
		}
	}

	return parseResult(respBody), nil
}

// HealthCheck реализует gateway.Adapter.
func (a *HTTPAdapter) HealthCheck(ctx context.Context) (domain.ModuleHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return domain.ModuleHealth{}, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(req)

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.ModuleHealth{}, fmt.Errorf("%w: %v", gateway.ErrModuleUnreachable, err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode >= 400 {
		return domain.ModuleHealth{}, &StatusError{StatusCode: resp.StatusCode}
	}

	var payload struct {
		Status domain.HealthStatus `json:"status"`
	}
	// Тело может быть пустым — тогда модуль считается healthy
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	status := payload.Status
	if status == "" {
		status = domain.HealthStatusHealthy
	}

	return domain.ModuleHealth{
		Module:         a.name,
		Status:         status,
		ResponseTimeMs: elapsed.Milliseconds(),
	}, nil
}

// setHeaders устанавливает заголовки из конфигурации.
func (a *HTTPAdapter) setHeaders(req *http.Request) {
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
}

// parseResult: JSON-объект → map, остальное → {"body": ...}.
func parseResult(body []byte) map[string]any {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		return obj
	}

	var anyVal any
	if err := json.Unmarshal(body, &anyVal); err == nil {
		return map[string]any{"body": anyVal}
	}
	return map[string]any{"body": string(body)}
}

// StatusError — модуль ответил HTTP-кодом ошибки.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
