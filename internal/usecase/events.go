package usecase

import (
	"context"
	"encoding/json"
	"time"

	"conclave/internal/domain"
)

// PublishEvent publishes a domain event on bus if it is configured.
// Payloads that fail to marshal are published without a payload.
func PublishEvent(ctx context.Context, bus domain.EventBus, eventType domain.EventType, sessionID string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}
