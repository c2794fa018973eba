package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/pkg/jobs"
)

// EventSink delivers an event to an external system.
type EventSink interface {
	Publish(ctx context.Context, event models.Event) error
}

// EventEmitter announces domain changes. Implementations must not block the caller on delivery.
type EventEmitter interface {
	Emit(event models.Event)
}

// EventPublisher delivers events asynchronously through a worker queue; failures are logged and dropped.
type EventPublisher struct {
	sink   EventSink
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewEventPublisher constructs a publisher; call Start before emitting.
func NewEventPublisher(sink EventSink, cfg jobs.QueueConfig) *EventPublisher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &EventPublisher{sink: sink, logger: cfg.Logger}
	p.queue = jobs.NewQueue("iep-events", p.deliver, cfg)
	return p
}

// Start launches the delivery workers.
func (p *EventPublisher) Start(ctx context.Context) {
	p.queue.Start(ctx)
}

// Stop halts the delivery workers.
func (p *EventPublisher) Stop() {
	p.queue.Stop()
}

// Emit schedules delivery and returns immediately.
func (p *EventPublisher) Emit(event models.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := p.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event}); err != nil {
		p.logger.Warn("dropping event", zap.String("type", string(event.Type)), zap.String("resource_id", event.ResourceID), zap.Error(err))
	}
}

func (p *EventPublisher) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.Event)
	if !ok {
		p.logger.Error("unexpected event payload", zap.String("job_id", job.ID))
		return nil
	}
	if p.sink == nil {
		return nil
	}
	if err := p.sink.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

type nopEmitter struct{}

func (nopEmitter) Emit(models.Event) {}

func newEvent(eventType models.EventType, doc *models.IEPDocument, actor string, payload map[string]interface{}) models.Event {
	return models.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ResourceID: doc.ID,
		StudentID:  doc.StudentID,
		Actor:      actor,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
