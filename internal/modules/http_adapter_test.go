package modules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/gateway"
)

// --- HTTPAdapter Tests ---

func TestHTTPAdapter_ExecuteAction_Success(t *testing.T) {
	var receivedBody map[string]any
	var receivedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer token123" {
			t.Errorf("expected Authorization header, got %q", r.Header.Get("Authorization"))
		}
		receivedPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&receivedBody)
		json.NewEncoder(w).Encode(map[string]any{"invoice_id": "inv-1", "grand_total": 1500.0})
	}))
	defer server.Close()

	adapter := NewHTTPAdapter(HTTPAdapterConfig{
		Name:    domain.ModuleInvoiceManagement,
		BaseURL: server.URL + "/",
		Headers: map[string]string{"Authorization": "Bearer token123"},
	})

	result, err := adapter.ExecuteAction(context.Background(), "get_invoice_details", map[string]any{
		"invoiceId": "inv-1",
		"tenantId":  "t1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedPath != "/actions/get_invoice_details" {
		t.Errorf("unexpected path %s", receivedPath)
	}
	if receivedBody["action"] != "get_invoice_details" {
		t.Errorf("expected action in body, got %v", receivedBody["action"])
	}
	params, ok := receivedBody["params"].(map[string]any)
	if !ok || params["tenantId"] != "t1" {
		t.Errorf("expected params with tenantId, got %v", receivedBody["params"])
	}

	if result["grand_total"] != 1500.0 {
		t.Errorf("expected grand_total=1500, got %v", result["grand_total"])
	}
}

func TestHTTPAdapter_ExecuteAction_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	adapter := NewHTTPAdapter(HTTPAdapterConfig{Name: "m", BaseURL: server.URL})

	_, err := adapter.ExecuteAction(context.Background(), "x", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", statusErr.StatusCode)
	}
	if statusErr.Body != "maintenance" {
		t.Errorf("expected body, got %q", statusErr.Body)
	}
}

func TestHTTPAdapter_ExecuteAction_NonObjectBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[1,2,3]`))
	}))
	defer server.Close()

	adapter := NewHTTPAdapter(HTTPAdapterConfig{Name: "m", BaseURL: server.URL})

	result, err := adapter.ExecuteAction(context.Background(), "list", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, ok := result["body"].([]any)
	if !ok || len(list) != 3 {
		t.Errorf("expected wrapped array, got %v", result)
	}
}

func TestHTTPAdapter_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := server.URL
	server.Close()

	adapter := NewHTTPAdapter(HTTPAdapterConfig{Name: "m", BaseURL: url})

	_, err := adapter.ExecuteAction(context.Background(), "x", nil)
	if !errors.Is(err, gateway.ErrModuleUnreachable) {
		t.Errorf("expected ErrModuleUnreachable, got %v", err)
	}
}

func TestHTTPAdapter_HealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus domain.HealthStatus
		wantErr    bool
	}{
		{"healthy body", http.StatusOK, `{"status":"healthy"}`, domain.HealthStatusHealthy, false},
		{"degraded body", http.StatusOK, `{"status":"degraded"}`, domain.HealthStatusDegraded, false},
		{"empty body", http.StatusOK, ``, domain.HealthStatusHealthy, false},
		{"server error", http.StatusInternalServerError, ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewHTTPAdapter(HTTPAdapterConfig{Name: "credit_scoring", BaseURL: server.URL})
			h, err := adapter.HealthCheck(context.Background())

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, h.Status)
			}
			if h.Module != "credit_scoring" {
				t.Errorf("expected module name, got %s", h.Module)
			}
		})
	}
}

// --- Registry Tests ---

func TestNewRegistry(t *testing.T) {
	adapters, err := NewRegistry(map[string]string{
		"invoice_management": "http://invoices",
		"credit_scoring":     "http://credit",
		"legacy_erp":         "http://erp",
	}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapters) != 3 {
		t.Fatalf("expected 3 adapters, got %d", len(adapters))
	}
	if adapters[0].Name() != "credit_scoring" {
		t.Errorf("adapters should be sorted by name, got %s first", adapters[0].Name())
	}

	unknown := Unknown(map[string]string{"legacy_erp": "x", "credit_scoring": "y"})
	if len(unknown) != 1 || unknown[0] != "legacy_erp" {
		t.Errorf("expected [legacy_erp], got %v", unknown)
	}

	if _, err := NewRegistry(map[string]string{"m": ""}, 0); err == nil {
		t.Error("expected error for empty endpoint")
	}
}
