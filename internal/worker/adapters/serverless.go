package adapters

import (
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/worker"
)

// Serverless dispatches to an overflow synthesis function (e.g. a
// serverless GPU endpoint invoked when local+API queue depth crosses a
// configurable threshold). The wire protocol is identical to API's; the
// distinction is purely operational (when the gateway routes jobs here,
// not how the call is made), so Serverless embeds an API adapter rather
// than duplicating its HTTP plumbing. Same unbounded-concurrency
// trade-off applies: no processing-set entry.
type Serverless struct {
	*API
}

// NewServerless builds a Serverless adapter pointed at the overflow
// function's invocation endpoint.
func NewServerless(endpoint, apiKey string, timeout time.Duration) *Serverless {
	return &Serverless{API: NewAPI(endpoint, apiKey, timeout)}
}

var _ worker.SynthAdapter = (*Serverless)(nil)

// QueueDepthThresholdExceeded reports whether currentDepth is above
// threshold, the routing test for sending a job to Serverless instead of
// Local/API. It has no bearing on Serverless.Synthesize itself.
func QueueDepthThresholdExceeded(currentDepth, threshold int64) bool {
	return currentDepth > threshold
}
