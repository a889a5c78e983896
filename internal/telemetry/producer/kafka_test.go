package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"careportal/internal/audit/domain"
	"careportal/internal/telemetry"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	closed   int
	deadline bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, f.deadline = ctx.Deadline()
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

func TestNewKafkaProducer_DisabledWithoutBrokersOrTopic(t *testing.T) {
	if p := NewKafkaProducer(nil, "audit"); p != nil {
		t.Error("expected nil producer without brokers")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, ""); p != nil {
		t.Error("expected nil producer without topic")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.Record{}); err != nil {
		t.Errorf("nil producer Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close: %v", err)
	}
}

func TestKafkaProducer_Emit(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w}
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	rec := &domain.Record{ID: "01J", Action: domain.ActionDownload, ActorID: "a1", ResourceType: "file", ResourceID: "f1", Outcome: domain.OutcomeSuccess, CreatedAt: at}

	if err := p.Emit(context.Background(), rec); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if !w.deadline {
		t.Error("write context should carry a deadline")
	}
	m := w.msgs[0]
	if string(m.Key) != "file/f1" {
		t.Errorf("key = %q, want file/f1", m.Key)
	}
	var got telemetry.Message
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "01J" || got.Action != "download" || got.ActorID != "a1" || !got.CreatedAt.Equal(at) {
		t.Errorf("message = %+v", got)
	}
}

func TestKafkaProducer_EmitError(t *testing.T) {
	p := &KafkaProducer{writer: &fakeWriter{err: errors.New("leader not available")}}
	if err := p.Emit(context.Background(), &domain.Record{ID: "x"}); err == nil {
		t.Fatal("Emit: want error")
	}
}

func TestKafkaProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.closed != 1 {
		t.Errorf("closed = %d, want 1", w.closed)
	}
}
