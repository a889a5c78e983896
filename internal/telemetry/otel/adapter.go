package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"careportal/internal/audit/domain"
	"careportal/internal/telemetry"
)

const auditScope = "careportal.audit"

// NewAuditEmitter returns an EventEmitter that sends audit records as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewAuditEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(auditScope)}
}

// logEmitter is the part of otellog.Logger the emitter uses.
type logEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewAuditEmitterWithLogger returns an EventEmitter writing to logger. Used by tests to capture records.
func NewAuditEmitterWithLogger(logger logEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Record) error { return nil }

type otelEmitter struct {
	logger logEmitter
}

// Emit converts rec to an OTel log record. Denied attempts are emitted at WARN, the rest at INFO.
func (e *otelEmitter) Emit(ctx context.Context, rec *domain.Record) error {
	if rec == nil {
		return nil
	}
	var r otellog.Record
	r.SetTimestamp(rec.CreatedAt)
	if rec.CreatedAt.IsZero() {
		r.SetTimestamp(time.Now().UTC())
	}
	r.SetObservedTimestamp(time.Now().UTC())
	r.SetEventName("audit." + string(rec.Action))
	r.SetBody(otellog.StringValue(string(rec.Action) + " " + rec.ResourceType + "/" + rec.ResourceID))
	sev, sevText := severityFor(rec.Outcome)
	r.SetSeverity(sev)
	r.SetSeverityText(sevText)

	r.AddAttributes(
		otellog.String("audit.id", rec.ID),
		otellog.String("audit.action", string(rec.Action)),
		otellog.String("audit.outcome", string(rec.Outcome)),
		otellog.String("audit.resource_type", rec.ResourceType),
		otellog.String("audit.resource_id", rec.ResourceID),
	)
	if rec.ActorID != "" {
		r.AddAttributes(otellog.String("audit.actor_id", rec.ActorID))
	}
	if rec.TargetID != "" {
		r.AddAttributes(otellog.String("audit.target_id", rec.TargetID))
	}
	if rec.IP != "" {
		r.AddAttributes(otellog.String("client.address", rec.IP))
	}
	if rec.UserAgent != "" {
		r.AddAttributes(otellog.String("user_agent.original", rec.UserAgent))
	}
	if rec.Detail != "" {
		r.AddAttributes(otellog.String("audit.detail", rec.Detail))
	}
	e.logger.Emit(ctx, r)
	return nil
}

func severityFor(o domain.Outcome) (otellog.Severity, string) {
	switch o {
	case domain.OutcomeDenied:
		return otellog.SeverityWarn, "WARN"
	case domain.OutcomeFailure:
		return otellog.SeverityError, "ERROR"
	default:
		return otellog.SeverityInfo, "INFO"
	}
}
