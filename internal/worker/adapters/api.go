package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/worker"
)

// API calls a remote text-to-speech HTTP endpoint. Its concurrency is
// effectively unbounded — a worker process can run many API calls in
// flight at once — so it deliberately does not write a processing-set
// entry: a dead or hung outbound call is invisible to the visibility
// scanner. This is the accepted trade-off spec.md §4.4 documents, not a
// gap to close later; the job simply never gets a result and its
// in-flight lock eventually needs the requester to retry out of band.
type API struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewAPI builds an API adapter, timing each outbound call the way the
// teacher's webhooks.Dispatcher bounds its own HTTP client.
func NewAPI(endpoint, apiKey string, timeout time.Duration) *API {
	return &API{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (a *API) TracksProcessing() bool { return false }

type apiRequest struct {
	Text      string            `json:"text"`
	ModelSlug string            `json:"model_slug"`
	VoiceSlug string            `json:"voice_slug"`
	Codec     string            `json:"codec"`
	Params    map[string]interface{} `json:"parameters,omitempty"`
}

type apiResponse struct {
	AudioBase64 string `json:"audio_base64"`
	DurationMs  int64  `json:"duration_ms"`
}

func (a *API) Synthesize(ctx context.Context, job *queue.Job) ([]byte, int64, error) {
	reqBody, err := json.Marshal(apiRequest{
		Text: job.Text, ModelSlug: job.ModelSlug, VoiceSlug: job.VoiceSlug,
		Codec: job.Codec, Params: job.Parameters,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal api request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read api response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("api call returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("unmarshal api response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return nil, 0, fmt.Errorf("decode api audio: %w", err)
	}
	return audio, parsed.DurationMs, nil
}

var _ worker.SynthAdapter = (*API)(nil)
