package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

// RedisBus publishes job-lifecycle events to a per-job Redis pub/sub channel
// and lets gateway pods subscribe to exactly the jobs their local WebSocket
// connections care about, following the teacher's RedisEventBus pattern of
// channel-per-topic rather than one firehose channel.
type RedisBus struct {
	client redisx.Client
	prefix string
}

// NewRedisBus wraps a redisx.Client. prefix defaults to "tts:events:".
func NewRedisBus(client redisx.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = "tts:events:"
	}
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) channel(jobID string) string {
	return b.prefix + "job:" + jobID
}

// Publish serializes the event and publishes it on the job's channel.
func (b *RedisBus) Publish(jobID string, event *Event) error {
	payload, err := event.JSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.client.Publish(context.Background(), b.channel(jobID), payload)
}

// Subscribe registers a handler for events on a single job's channel. The
// returned cancel function must be called when the WebSocket connection
// serving this job closes.
func (b *RedisBus) Subscribe(ctx context.Context, jobID string, handler func(*Event)) (cancel func(), err error) {
	unsub, err := b.client.Subscribe(ctx, b.channel(jobID), func(payload []byte) {
		var evt Event
		if unmarshalErr := json.Unmarshal(payload, &evt); unmarshalErr != nil {
			return
		}
		handler(&evt)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe job %s: %w", jobID, err)
	}
	return unsub, nil
}

var _ Publisher = (*RedisBus)(nil)
