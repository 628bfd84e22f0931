// Package queue implements the sorted-set-per-model work queue protocol:
// push, pull, track_processing, requeue, and move_to_dlq, plus the
// job-index hash that gives the evictor O(1) lookup by (user, doc, block).
package queue

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
)

// Job is a single enqueue attempt for a synthesis input. Multiple jobs may
// exist for one fingerprint over time (after retries, or after the cache
// expired); the in-flight lock ensures at most one is being worked on at
// any instant.
type Job struct {
	JobID       string             `json:"job_id"`
	Fingerprint string             `json:"fingerprint"`
	UserID      string             `json:"user_id"`
	DocumentID  string             `json:"document_id"`
	BlockIndex  int                `json:"block_index"`
	ModelSlug   string             `json:"model_slug"`
	VoiceSlug   string             `json:"voice_slug"`
	Parameters  fingerprint.Params `json:"parameters"`
	Text        string             `json:"text"`
	Codec       string             `json:"codec"`
	RetryCount  int                `json:"retry_count"`
	QueuedAt    float64            `json:"queued_at"` // Unix timestamp, used as the ZADD score
	// Tracked mirrors the dispatch request's TrackForWebSocket flag: only
	// WebSocket-tracked jobs are worth an index-hash entry, since only
	// they can ever be looked up by the cursor-window evictor.
	Tracked bool `json:"tracked"`
}

// IndexKey returns the "user:doc:block" key used for O(1) eviction lookup.
func (j *Job) IndexKey() string {
	return IndexKey(j.UserID, j.DocumentID, j.BlockIndex)
}

// IndexKey builds the "user:doc:block" index key from its parts.
func IndexKey(userID, documentID string, blockIndex int) string {
	return userID + ":" + documentID + ":" + strconv.Itoa(blockIndex)
}

// Marshal serializes the job body for the jobs-hash.
func (j *Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// Unmarshal decodes a job body read back from the jobs-hash.
func Unmarshal(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// NowScore returns the current time as a ZADD score, matching the spec's
// floating-point Unix-timestamp score convention.
func NowScore() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ProcessingEntry is the per-worker "processing" hash value written before
// synthesis begins and deleted only after a result is posted. A stale entry
// strictly implies the worker died mid-work or the result post was lost.
type ProcessingEntry struct {
	Job               Job     `json:"job"`
	ProcessingStarted float64 `json:"processing_started"`
	QueueName         string  `json:"queue_name"`
	DLQKey            string  `json:"dlq_key"`
}

func (p *ProcessingEntry) Marshal() ([]byte, error) { return json.Marshal(p) }

func UnmarshalProcessingEntry(data []byte) (*ProcessingEntry, error) {
	var p ProcessingEntry
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
