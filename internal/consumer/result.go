// Package consumer implements the Result Consumer: the single (or
// competing-consumers) loop draining the shared results list and
// finalizing each synthesis attempt — cache write, variant update,
// billing, event emission, and subscriber notification — per the
// 8-step algorithm of spec.md §4.5.
package consumer

import (
	"encoding/json"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
)

// WorkerResult is the wire contract a worker posts after attempting a
// job, per spec.md §6. Text, RetryCount, Codec, and Parameters are
// carried in addition to the spec's literal field list: without them, a
// cache-write failure (step 3) has no way to reconstruct a retryable Job
// with its correct retry history and synthesis parameters, since the
// worker's processing-hash entry (the only place the original body
// lived) is already cleared by the time this result is consumed.
type WorkerResult struct {
	JobID            string             `json:"job_id"`
	Fingerprint      string             `json:"fingerprint"`
	UserID           string             `json:"user_id"`
	DocumentID       string             `json:"document_id"`
	BlockIdx         int                `json:"block_idx"`
	ModelSlug        string             `json:"model_slug"`
	VoiceSlug        string             `json:"voice_slug"`
	Text             string             `json:"text,omitempty"`
	TextLength       int                `json:"text_length"`
	UsageMultiplier  float64            `json:"usage_multiplier"`
	WorkerID         string             `json:"worker_id"`
	RetryCount       int                `json:"retry_count"`
	Codec            string             `json:"codec,omitempty"`
	Parameters       fingerprint.Params `json:"parameters,omitempty"`
	Tracked          bool               `json:"tracked,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	QueueWaitMs      int64              `json:"queue_wait_ms"`
	AudioBase64      string             `json:"audio_base64,omitempty"`
	DurationMs       int64              `json:"duration_ms,omitempty"`
	Error            string             `json:"error,omitempty"`
}

func (r *WorkerResult) Marshal() ([]byte, error) { return json.Marshal(r) }

func UnmarshalResult(data []byte) (*WorkerResult, error) {
	var r WorkerResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ResultsKey is the shared list workers LPUSH onto and the consumer
// BRPOPs from, per spec.md §6.
const ResultsKey = "tts:results"

// ResultsBlockTimeout bounds the BRPOP wait so the consumer loop stays
// cancellable, mirroring the queue package's bounded-blocking-call rule.
const ResultsBlockTimeout = 5 * time.Second
