package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opickel/social-recipes/shared/rabbitmq"
)

// Lifecycle event types published to the exchange.
const (
	TypeJobCreated   = "job.created"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeJobCancelled = "job.cancelled"
)

// JobEvent is the payload external observers receive for each job
// lifecycle transition.
type JobEvent struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	URL        string    `json:"url"`
	VideoTitle string    `json:"video_title,omitempty"`
	RecipeName string    `json:"recipe_name,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher fans job lifecycle events out to interested systems.
type Publisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent)
}

// AMQPPublisher publishes lifecycle events through the shared RabbitMQ
// client. Delivery failures are logged, never surfaced: the event feed
// is an observer, not part of the job's outcome.
type AMQPPublisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewAMQPPublisher wraps a connected RabbitMQ client.
func NewAMQPPublisher(client *rabbitmq.Client, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		client: client,
		logger: logger,
	}
}

// PublishJobEvent marshals and publishes one event, routing key = type.
func (p *AMQPPublisher) PublishJobEvent(ctx context.Context, event JobEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal job event",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
		return
	}

	if err := p.client.Publish(ctx, event.Type, body, "application/json"); err != nil {
		p.logger.Warn("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.String("type", event.Type),
			slog.Any("error", err),
		)
	}
}

// NopPublisher drops every event. Used when the event feed is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(context.Context, JobEvent) {}
