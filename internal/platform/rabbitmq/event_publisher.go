package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/feichai0017/legal-rag/pkg/logger"
)

const (
	EventDocumentCompleted    = "document.completed"
	EventDocumentUploadFailed = "document.upload_failed"
	EventDocumentDeleted      = "document.deleted"
	EventDocumentDelFailed    = "document.del_failed"
)

// DocumentEvent is published on every terminal lifecycle transition.
type DocumentEvent struct {
	Type         string    `json:"type"`
	Scope        string    `json:"scope"`
	DocumentName string    `json:"document_name"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event DocumentEvent) error
}

type EventPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewEventPublisher(conn *amqp.Connection, exchange string) *EventPublisher {
	return &EventPublisher{conn: conn, exchange: exchange}
}

func (p *EventPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *EventPublisher) Publish(ctx context.Context, event DocumentEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(
		ctx,
		p.exchange,
		event.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
		},
	); err != nil {
		return fmt.Errorf("publish event failed: %w", err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DocumentEvent) error { return nil }

// LoggingPublisher wraps a Publisher and logs failures instead of returning them.
type LoggingPublisher struct {
	next   Publisher
	logger logger.Logger
}

func NewLoggingPublisher(next Publisher, log logger.Logger) *LoggingPublisher {
	return &LoggingPublisher{next: next, logger: log.Named("events")}
}

func (p *LoggingPublisher) Publish(ctx context.Context, event DocumentEvent) error {
	if err := p.next.Publish(ctx, event); err != nil {
		p.logger.Warn("Failed to publish document event",
			logger.String("type", event.Type),
			logger.String("document", event.DocumentName),
			logger.Error(err),
		)
	}
	return nil
}

// RecordingPublisher keeps published events in memory for tests.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []DocumentEvent
}

func (r *RecordingPublisher) Publish(_ context.Context, event DocumentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *RecordingPublisher) Events() []DocumentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DocumentEvent(nil), r.events...)
}
