package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docgen/internal/util"
	"docgen/pkg/domain"
)

const (
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
)

// JobEvent is emitted once per job when it reaches a terminal state.
type JobEvent struct {
	Type         string          `json:"type"`
	JobID        string          `json:"jobId"`
	UploadID     string          `json:"uploadId"`
	Status       string          `json:"status"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model,omitempty"`
	ArtifactSize int64           `json:"artifactSize,omitempty"`
	Error        *domain.Failure `json:"error,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// JobEventFrom builds the terminal event for job.
func JobEventFrom(job domain.Job) JobEvent {
	ev := JobEvent{
		JobID:        job.ID,
		UploadID:     job.UploadID,
		Status:       string(job.Status),
		Provider:     job.Provider,
		Model:        job.ModelUsed,
		ArtifactSize: job.ArtifactSize,
		OccurredAt:   job.UpdatedAt,
	}
	if job.Status == domain.JobFailed {
		ev.Type = TypeJobFailed
		if job.Error != nil {
			f := *job.Error
			ev.Error = &f
		}
	} else {
		ev.Type = TypeJobCompleted
	}
	return ev
}

// RoutingKey is the topic key the event is published under.
func (e JobEvent) RoutingKey() string {
	return "docgen." + e.Type
}

// Publisher delivers job events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NoopPublisher) Close() error                            { return nil }

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("events: amqp url is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "docgen.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange %q: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends ev as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev JobEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    util.NewID(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, ev.RoutingKey(), false, false, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.ch.Close()
	connErr := p.conn.Close()
	return errors.Join(chErr, connErr)
}
