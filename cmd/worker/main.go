// Command worker runs one Pull-Worker Contract loop (spec.md §4.4) against
// a configurable synthesis adapter: local (on-box binary), api (external
// HTTP TTS provider), or serverless (cold-start-tolerant overflow).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yapit-tts/yapit-sub000/internal/config"
	"github.com/yapit-tts/yapit-sub000/internal/dispatcher"
	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
	"github.com/yapit-tts/yapit-sub000/internal/security"
	"github.com/yapit-tts/yapit-sub000/internal/worker"
	"github.com/yapit-tts/yapit-sub000/internal/worker/adapters"
)

func modelCatalog() dispatcher.Catalog {
	return dispatcher.NewStaticCatalog(
		dispatcher.Model{Slug: "kokoro", UsageMultiplier: 1.0},
		dispatcher.Model{Slug: "elevenlabs", UsageMultiplier: 2.5},
		dispatcher.Model{Slug: "openai-tts", UsageMultiplier: 1.8},
	)
}

func buildAdapter() (worker.SynthAdapter, error) {
	kind := os.Getenv("TTS_WORKER_ADAPTER")
	if kind == "" {
		kind = "local"
	}
	timeout := 30 * time.Second

	switch kind {
	case "local":
		binaryPath := os.Getenv("TTS_WORKER_BINARY")
		if binaryPath == "" {
			binaryPath = "./bin/synth"
		}
		return adapters.NewLocal(binaryPath, timeout), nil
	case "api":
		endpoint := os.Getenv("TTS_WORKER_API_ENDPOINT")
		apiKey := os.Getenv("TTS_WORKER_API_KEY")
		if endpoint == "" {
			return nil, fmt.Errorf("TTS_WORKER_API_ENDPOINT required for adapter=api")
		}
		return adapters.NewAPI(endpoint, apiKey, timeout), nil
	case "serverless":
		endpoint := os.Getenv("TTS_WORKER_SERVERLESS_ENDPOINT")
		apiKey := os.Getenv("TTS_WORKER_API_KEY")
		if endpoint == "" {
			return nil, fmt.Errorf("TTS_WORKER_SERVERLESS_ENDPOINT required for adapter=serverless")
		}
		return adapters.NewServerless(endpoint, apiKey, timeout), nil
	default:
		return nil, fmt.Errorf("unknown TTS_WORKER_ADAPTER %q (want local, api, or serverless)", kind)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("YAPIT_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redisClient, err := redisx.NewGoRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}

	adapter, err := buildAdapter()
	if err != nil {
		log.Fatalf("build adapter: %v", err)
	}

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s:%d", hostname, os.Getpid())

	identity, err := security.NewWorkerIdentity(
		envOr("SPIFFE_WORKLOAD_SOCKET", "unix:///run/spire/sockets/agent.sock"),
		cfg.Security.SPIFFETrustDomain, cfg.Security.RequireWorkerSVID)
	if err != nil {
		log.Fatalf("init worker identity: %v", err)
	}
	defer identity.Close()

	claimedSPIFFEID := security.WorkerSPIFFEID(cfg.Security.SPIFFETrustDomain, workerID)
	if err := identity.AdmitWorker(claimedSPIFFEID); err != nil {
		log.Fatalf("worker identity not admitted: %v", err)
	}

	modelSlugs := strings.Split(envOr("TTS_WORKER_MODEL_SLUGS", "kokoro,elevenlabs,openai-tts"), ",")

	redisQueue := queue.NewRedisQueue(redisClient)
	emitter := events.NewRedisBus(redisClient, "tts:events:")
	bus := fanout.NewBus(redisClient, emitter)
	catalog := modelCatalog()

	w := worker.New(workerID, modelSlugs, redisQueue, adapter, bus, redisClient, catalog,
		time.Duration(cfg.Queue.PullTimeoutSec)*time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("worker starting", "worker_id", workerID, "model_slugs", modelSlugs, "adapter", os.Getenv("TTS_WORKER_ADAPTER"))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("worker: %v", err)
	}
	logger.Info("worker stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
