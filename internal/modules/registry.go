package modules

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/gateway"
)

// NewRegistry создаёт HTTP-адаптеры для модулей из карты name → base URL.
//
// Неизвестные имена модулей допускаются (интеграции могут добавляться
// без изменения кода), но логируются вызывающей стороной через Unknown.
func NewRegistry(endpoints map[string]string, timeout time.Duration) ([]gateway.Adapter, error) {
	adapters := make([]gateway.Adapter, 0, len(endpoints))

	for _, name := range slices.Sorted(maps.Keys(endpoints)) {
		base := endpoints[name]
		if base == "" {
			return nil, fmt.Errorf("module %s: empty endpoint", name)
		}
		adapters = append(adapters, NewHTTPAdapter(HTTPAdapterConfig{
			Name:    name,
			BaseURL: base,
			Timeout: timeout,
		}))
	}

	return adapters, nil
}

// Unknown возвращает имена из endpoints, которых нет среди модулей платформы.
func Unknown(endpoints map[string]string) []string {
	var out []string
	for _, name := range slices.Sorted(maps.Keys(endpoints)) {
		if !slices.Contains(domain.PlatformModules, name) {
			out = append(out, name)
		}
	}
	return out
}
