// Package telemetry mirrors audit records to secondary sinks (OTel logs, Kafka). Every sink is best-effort.
package telemetry

import (
	"context"
	"time"

	"careportal/internal/audit/domain"
)

// EventEmitter forwards an audit record to a secondary sink. Callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, rec *domain.Record) error
}

// Message is the JSON shape of an audit record on the Kafka topic and in Loki log lines.
type Message struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actorId,omitempty"`
	TargetID     string    `json:"targetId,omitempty"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewMessage converts rec to its wire form.
func NewMessage(rec *domain.Record) Message {
	return Message{
		ID:           rec.ID,
		Action:       string(rec.Action),
		ActorID:      rec.ActorID,
		TargetID:     rec.TargetID,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		IP:           rec.IP,
		UserAgent:    rec.UserAgent,
		Outcome:      string(rec.Outcome),
		Detail:       rec.Detail,
		CreatedAt:    rec.CreatedAt.UTC(),
	}
}
