package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// MirroredBus wraps a RedisBus and additionally mirrors every event to a
// Cloud Pub/Sub topic, giving external consumers (usage reconciliation jobs,
// analytics ingestion — out of scope for this service itself) a durable,
// at-least-once copy of the same job-lifecycle stream that WebSocket
// subscribers see in real time over Redis.
type MirroredBus struct {
	*RedisBus

	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewMirroredBus creates the durable topic if it doesn't already exist and
// enables per-job message ordering so a consumer never observes synthesis
// events for one job out of order.
func NewMirroredBus(redisBus *RedisBus, projectID, topicID string) (*MirroredBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created pubsub topic", "topic_id", topicID)
	}
	topic.EnableMessageOrdering = true

	return &MirroredBus{RedisBus: redisBus, client: client, topic: topic}, nil
}

// Publish mirrors the event to Pub/Sub before delivering it over Redis. The
// Pub/Sub publish result is awaited in a background goroutine so a slow or
// unavailable topic never adds latency to the WebSocket hot path.
func (b *MirroredBus) Publish(jobID string, event *Event) error {
	b.publishToPubSub(jobID, event)
	return b.RedisBus.Publish(jobID, event)
}

func (b *MirroredBus) publishToPubSub(jobID string, event *Event) {
	payload, err := event.JSON()
	if err != nil {
		slog.Warn("mirror: marshal event failed", "job_id", jobID, "error", err)
		return
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": string(event.Type),
			"job_id":     jobID,
			"model_slug": event.ModelSlug,
		},
		OrderingKey: jobID,
	}

	result := b.topic.Publish(context.Background(), msg)
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Warn("mirror: pubsub publish failed", "job_id", jobID, "event_type", event.Type, "error", err)
		}
	}()
}

// Close flushes and shuts down the Pub/Sub client.
func (b *MirroredBus) Close() error {
	b.topic.Stop()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}

var _ Publisher = (*MirroredBus)(nil)
