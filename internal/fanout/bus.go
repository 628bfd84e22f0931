package fanout

import (
	"context"
	"fmt"

	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
)

// Bus is the subscriber notification path: publishing a status message to
// a user's per-document channel, and letting a WebSocket session's
// forwarder loop subscribe to it. Mirrors the teacher's
// events.PubSubEventBus dual-publish shape (internal/events.Publisher is
// the audit-trail mirror; Bus is the low-latency delivery path the
// WebSocket layer actually forwards from).
type Bus struct {
	client  redisx.Client
	events  events.Publisher // optional durable mirror; may be nil
	subs    *SubscriberSet
	pending *PendingSet
}

func NewBus(client redisx.Client, publisher events.Publisher) *Bus {
	return &Bus{
		client:  client,
		events:  publisher,
		subs:    NewSubscriberSet(client),
		pending: NewPendingSet(client),
	}
}

func (b *Bus) Subscribers() *SubscriberSet { return b.subs }
func (b *Bus) Pending() *PendingSet        { return b.pending }

func channelKey(userID, documentID string) string {
	return "tts:ws:" + userID + ":" + documentID
}

// StatusMessage is the server→client `status` message shape from
// spec.md §6.
type StatusMessage struct {
	Type       string  `json:"type"`
	DocumentID string  `json:"document_id"`
	BlockIdx   int     `json:"block_idx"`
	Status     string  `json:"status"`
	AudioURL   *string `json:"audio_url,omitempty"`
	Error      *string `json:"error,omitempty"`
	ModelSlug  *string `json:"model_slug,omitempty"`
	VoiceSlug  *string `json:"voice_slug,omitempty"`
}

// EvictedMessage is the server→client `evicted` message shape.
type EvictedMessage struct {
	Type         string `json:"type"`
	DocumentID   string `json:"document_id"`
	BlockIndices []int  `json:"block_indices"`
}

// Publish forwards msg (already JSON-encoded by the caller) to the
// (user, document) channel. The WebSocket layer's forwarder loop is the
// only consumer; Bus itself never inspects message contents.
func (b *Bus) Publish(ctx context.Context, userID, documentID string, payload []byte) error {
	if err := b.client.Publish(ctx, channelKey(userID, documentID), payload); err != nil {
		return fmt.Errorf("fanout: publish to %s/%s: %w", userID, documentID, err)
	}
	return nil
}

// Subscribe attaches handler to (user, document)'s channel; returned
// unsubscribe must be called when the WebSocket session ends. Lazily
// invoked by the gateway on a session's first `synthesize` for a
// document, per spec.md §4.8.
func (b *Bus) Subscribe(ctx context.Context, userID, documentID string, handler func(payload []byte)) (func(), error) {
	unsubscribe, err := b.client.Subscribe(ctx, channelKey(userID, documentID), handler)
	if err != nil {
		return nil, fmt.Errorf("fanout: subscribe %s/%s: %w", userID, documentID, err)
	}
	return unsubscribe, nil
}

// NotifyAll delivers payload to every subscriber of fingerprint, one
// publish per (user, document) channel the subscriber belongs to, then
// clears the subscriber set. Used by the Visibility Scanner's dead-letter
// path (synthetic error result). When
// evt is non-nil it is additionally mirrored once to the durable event
// publisher, following the teacher's PubSubEventBus dual-publish (Pub/Sub
// for the audit trail, per-subscriber Redis pubsub for live delivery).
func (b *Bus) NotifyAll(ctx context.Context, fingerprint string, evt *events.Event, build func(sub Subscription) []byte) error {
	subs, err := b.subs.Members(ctx, fingerprint)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := b.Publish(ctx, sub.UserID, sub.DocumentID, build(sub)); err != nil {
			// One dead channel shouldn't block notifying the rest.
			continue
		}
		_ = b.pending.Remove(ctx, sub.UserID, sub.DocumentID, sub.BlockIndex)
	}
	if evt != nil && b.events != nil {
		_ = b.events.Publish(fingerprint, evt)
	}
	return b.subs.Clear(ctx, fingerprint)
}
