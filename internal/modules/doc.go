// Package modules содержит адаптеры модулей платформы для Integration Gateway.
//
//   - http_adapter.go — HTTPAdapter: POST /actions/{action}, GET /health
//   - registry.go     — построение адаптеров из MODULE_ENDPOINTS
package modules
