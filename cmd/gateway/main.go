package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yapit-tts/yapit-sub000/internal/cache"
	"github.com/yapit-tts/yapit-sub000/internal/config"
	"github.com/yapit-tts/yapit-sub000/internal/consumer"
	"github.com/yapit-tts/yapit-sub000/internal/dispatcher"
	"github.com/yapit-tts/yapit-sub000/internal/evictor"
	"github.com/yapit-tts/yapit-sub000/internal/events"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
	"github.com/yapit-tts/yapit-sub000/internal/httpapi"
	"github.com/yapit-tts/yapit-sub000/internal/leaderlock"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/ratelimit"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
	"github.com/yapit-tts/yapit-sub000/internal/scanner"
	"github.com/yapit-tts/yapit-sub000/internal/store"
	"github.com/yapit-tts/yapit-sub000/internal/telemetry"
	"github.com/yapit-tts/yapit-sub000/internal/usage"
)

// modelCatalog is the gateway's fixed model roster (spec.md §4.1/§4.9).
// A real deployment would load this from the config file; the literal
// values here match the defaults spec.md's examples use.
func modelCatalog() dispatcher.Catalog {
	return dispatcher.NewStaticCatalog(
		dispatcher.Model{Slug: "kokoro", UsageMultiplier: 1.0},
		dispatcher.Model{Slug: "elevenlabs", UsageMultiplier: 2.5},
		dispatcher.Model{Slug: "openai-tts", UsageMultiplier: 1.8},
	)
}

func main() {
	cfg, err := config.Load(os.Getenv("YAPIT_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.IsProduction() {
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	redisClient, err := redisx.NewGoRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	variantStore := store.NewVariantStore(db)
	registry := fingerprint.NewRegistry(variantStore)

	usageStore := store.NewUsageStore(db)
	ledger := usage.NewLedger(usageStore)

	sqliteBackend, err := cache.OpenSqliteBackend(cfg.Cache.SqlitePath)
	if err != nil {
		log.Fatalf("open audio cache: %v", err)
	}
	defer sqliteBackend.Close()

	var archiver cache.Archiver
	if cfg.Cache.ArchiveEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("load aws config for cache archiver: %v", err)
		}
		archiver = cache.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.Cache.ArchiveBucket, "audio/")
	}

	audioCache, err := cache.New(sqliteBackend, archiver, cfg.Cache.HotIndexSize, cfg.Cache.MaxSizeBytes)
	if err != nil {
		log.Fatalf("build audio cache: %v", err)
	}

	redisQueue := queue.NewRedisQueue(redisClient)

	var emitter events.Publisher
	if cfg.PubSub.Enabled && cfg.PubSub.ProjectID != "" {
		mirrored, err := events.NewMirroredBus(events.NewRedisBus(redisClient, "tts:events:"), cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			logger.Warn("pubsub mirror init failed, using redis-only event bus", "error", err)
			emitter = events.NewRedisBus(redisClient, "tts:events:")
		} else {
			emitter = mirrored
		}
	} else {
		emitter = events.NewRedisBus(redisClient, "tts:events:")
	}

	bus := fanout.NewBus(redisClient, emitter)
	catalog := modelCatalog()

	metrics := telemetry.NewMetrics()

	d := dispatcher.New(registry, audioCache, ledger, redisQueue, bus, emitter, redisClient, catalog)
	ev := evictor.New(redisQueue, bus, emitter, cfg.Queue.BufferBehind, cfg.Queue.BufferAhead)
	d.SetMetrics(metrics)
	ev.SetMetrics(metrics)

	limiter := ratelimit.New(redisClient, cfg.Queue.MaxRequestsPerMinute)
	auth := httpapi.NewBearerAuthenticator()

	srv := httpapi.New(d, ev, bus, audioCache, registry, limiter, auth, metrics, cfg.Server.CORSAllowOrigins, logger)

	hostname, _ := os.Hostname()
	holderID := fmt.Sprintf("%s:%d", hostname, os.Getpid())

	resultConsumer := consumer.New(redisClient, audioCache, registry, ledger, bus, emitter, redisQueue, logger)
	resultConsumer.SetMetrics(metrics)

	visibilityScanner := scanner.New(redisQueue, redisClient, bus, emitter,
		time.Duration(cfg.Queue.VisibilityTimeoutSec)*time.Second, cfg.Queue.MaxRetries,
		time.Duration(cfg.Queue.DLQTTLDays)*24*time.Hour, logger)
	visibilityScanner.SetMetrics(metrics)
	scannerLock := leaderlock.New(redisClient, "visibility-scanner", holderID, time.Duration(cfg.Queue.ScanIntervalSec)*time.Second)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go func() {
		if err := resultConsumer.Run(bgCtx); err != nil && bgCtx.Err() == nil {
			logger.Error("result consumer stopped unexpectedly", "error", err)
		}
	}()
	go visibilityScanner.Run(bgCtx, scannerLock, time.Duration(cfg.Queue.ScanIntervalSec)*time.Second)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
		bgCancel()
	}()

	logger.Info("gateway starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("gateway: %v", err)
	}
	logger.Info("gateway stopped")
}
