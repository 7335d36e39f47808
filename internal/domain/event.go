package domain

import (
	"time"

	"github.com/google/uuid"
)

// ModuleEvent — межмодульное событие.
//
// После публикации не изменяется. Существует только на время доставки.
type ModuleEvent struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	SourceModule string         `json:"source_module"`
	TenantID     string         `json:"tenant_id"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// WithDefaults возвращает копию события с заполненными EventID и Timestamp.
func (e ModuleEvent) WithDefaults(now time.Time) ModuleEvent {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	return e
}

// AsParams представляет событие в виде параметров для handleEvent.
func (e ModuleEvent) AsParams() map[string]any {
	return map[string]any{
		"event": map[string]any{
			"event_id":      e.EventID,
			"event_type":    e.EventType,
			"source_module": e.SourceModule,
			"tenant_id":     e.TenantID,
			"payload":       e.Payload,
			"timestamp":     e.Timestamp,
		},
	}
}
