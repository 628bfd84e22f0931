// Package events distributes job-lifecycle notifications: synthesis
// queued/progress/complete/error, cache hits, and eviction notices. Redis
// pub/sub is the primary delivery path to WebSocket subscribers; an optional
// Cloud Pub/Sub mirror gives downstream consumers (billing reconciliation,
// analytics) a durable, at-least-once copy of the same stream.
package events

import (
	"encoding/json"
	"time"
)

// Type identifies a job-lifecycle event.
type Type string

const (
	TypeQueued     Type = "synthesis.queued"
	TypeStarted    Type = "synthesis.started"
	TypeProgress   Type = "synthesis.progress"
	TypeComplete   Type = "synthesis.complete"
	TypeError      Type = "synthesis.error"
	TypeEvicted    Type = "synthesis.evicted"
	TypeCacheHit   Type = "synthesis.cache_hit"
	TypeRequeued   Type = "synthesis.requeued"
	TypeDeadLetter Type = "synthesis.dead_letter"
)

// Event is the envelope published on every job-lifecycle channel. It is
// not the WebSocket wire shape: the status and evicted messages sent to
// clients are separate types built by the fanout and httpapi packages.
type Event struct {
	Type      Type                   `json:"type"`
	JobID     string                 `json:"job_id"`
	UserID    string                 `json:"user_id,omitempty"`
	ModelSlug string                 `json:"model_slug,omitempty"`
	Time      time.Time              `json:"time"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// JSON serializes the event for Redis pub/sub and WebSocket delivery.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// New builds an Event, stamping the current time.
func New(typ Type, jobID string, data map[string]interface{}) *Event {
	return &Event{Type: typ, JobID: jobID, Time: time.Now(), Data: data}
}

// Publisher is the interface job-lifecycle producers (dispatcher, worker
// adapters, scanner, evictor) depend on. Both RedisBus and MirroredBus
// satisfy it, so producers never need to know whether a durable mirror is
// attached.
type Publisher interface {
	Publish(jobID string, event *Event) error
}
