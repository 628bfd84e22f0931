// Package adapters provides the concrete worker.SynthAdapter
// implementations named in spec.md §4.4's expansion: a local/in-process
// adapter, an external API adapter, and a serverless-overflow adapter.
package adapters

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/worker"
)

// Local invokes an on-box synthesis binary (a local GPU inference
// process) once per job. It participates in the processing set, so a
// crash mid-synthesis is reclaimable by the visibility scanner — the
// adapter worth tracking, per spec.md §4.4.
type Local struct {
	binaryPath string
	timeout    time.Duration
}

// NewLocal builds a Local adapter wrapping binaryPath, a synthesis CLI
// that reads job parameters on stdin and writes raw audio bytes to
// stdout, in the style of the teacher's gvisor.SandboxExecutor wrapping
// an external runsc binary.
func NewLocal(binaryPath string, timeout time.Duration) *Local {
	return &Local{binaryPath: binaryPath, timeout: timeout}
}

func (l *Local) TracksProcessing() bool { return true }

func (l *Local) Synthesize(ctx context.Context, job *queue.Job) ([]byte, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.binaryPath,
		"--model", job.ModelSlug,
		"--voice", job.VoiceSlug,
		"--codec", job.Codec,
	)
	cmd.Stdin = bytes.NewBufferString(job.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, 0, fmt.Errorf("local synthesis failed: %w (stderr: %s)", err, stderr.String())
	}
	durationMs := time.Since(started).Milliseconds()

	return stdout.Bytes(), durationMs, nil
}

var _ worker.SynthAdapter = (*Local)(nil)
