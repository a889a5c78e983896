// Package audit records security-relevant access events (decrypt, upload, download, denial).
// Recording is best-effort: a failed write is reported to the process log and never to the caller.
package audit

import (
	"context"
	"log"
	"time"

	"careportal/internal/audit/domain"
	auditrepo "careportal/internal/audit/repository"
	"careportal/internal/ids"
	"careportal/internal/telemetry"
)

// writeTimeout bounds the persistent write so a slow store cannot stall the audited operation.
const writeTimeout = 2 * time.Second

// ClientExtractor returns the requesting client's IP and user agent from the request context.
type ClientExtractor func(context.Context) (ip, userAgent string)

// Event is what a caller knows about an access attempt. The logger adds id, client info, and timestamp.
type Event struct {
	Action       domain.Action
	ActorID      string
	TargetID     string
	ResourceType string
	ResourceID   string
	Outcome      domain.Outcome
	Detail       string
}

// Recorder is the audit entry point used by the vault, the PII codec, and the auth flows.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Logger implements Recorder using the audit repository, plus optional async mirrors (OTel, Kafka).
type Logger struct {
	repo    auditrepo.Repository
	client  ClientExtractor
	mirrors []telemetry.EventEmitter
	now     func() time.Time
}

// NewLogger returns a Logger that persists to repo. client may be nil; IP is then recorded as "unknown".
// Nil mirrors are skipped.
func NewLogger(repo auditrepo.Repository, client ClientExtractor, mirrors ...telemetry.EventEmitter) *Logger {
	l := &Logger{repo: repo, client: client, now: time.Now}
	for _, m := range mirrors {
		if m != nil {
			l.mirrors = append(l.mirrors, m)
		}
	}
	return l
}

// Record writes one audit record. Errors are logged, never returned.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if l == nil || l.repo == nil {
		return
	}
	rec := l.build(ctx, ev)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := l.repo.Create(writeCtx, rec); err != nil {
		log.Printf("audit: failed to record %s %s/%s: %v", rec.Action, rec.ResourceType, rec.ResourceID, err)
	}
	for _, m := range l.mirrors {
		telemetry.EmitAsync(ctx, m, rec)
	}
}

// List returns records matching f, newest first.
func (l *Logger) List(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	return l.repo.List(ctx, f)
}

func (l *Logger) build(ctx context.Context, ev Event) *domain.Record {
	ip, ua := "unknown", ""
	if l.client != nil {
		if gotIP, gotUA := l.client(ctx); gotIP != "" {
			ip, ua = gotIP, gotUA
		}
	}
	outcome := ev.Outcome
	if outcome == "" {
		outcome = domain.OutcomeSuccess
		if ev.Action == domain.ActionAccessDenied {
			outcome = domain.OutcomeDenied
		}
	}
	now := l.now().UTC()
	return &domain.Record{
		ID:           ids.NewAt(now),
		Action:       ev.Action,
		ActorID:      ev.ActorID,
		TargetID:     ev.TargetID,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		IP:           ip,
		UserAgent:    ua,
		Outcome:      outcome,
		Detail:       ev.Detail,
		CreatedAt:    now,
	}
}
