package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/time/rate"

	"github.com/teledash/teledash/internal/analytics"
	"github.com/teledash/teledash/internal/app/attachments"
	appscraping "github.com/teledash/teledash/internal/app/scraping"
	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/internal/infra/retry"
	"github.com/teledash/teledash/internal/infra/storage/mongodoc"
	"github.com/teledash/teledash/internal/infra/storage/object"
	"github.com/teledash/teledash/internal/infra/tasks"
	"github.com/teledash/teledash/internal/platform/bridge"
	"github.com/teledash/teledash/internal/recognition/lingua"
	"github.com/teledash/teledash/internal/recognition/tesseract"
	"github.com/teledash/teledash/internal/recognition/vosk"
	"github.com/teledash/teledash/pkg/common/logger"
	"github.com/teledash/teledash/pkg/common/otel"
)

const serviceType = "worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("WORKER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, log, svcName, hostname); err != nil {
		log.Error(ctx, "worker terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, log *logger.Logger, svcName, hostname string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load(envDefault("SCRAPE_POLICY_PATH", "config/scrape.yaml"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	prob := 0.0
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		if prob, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parsing OTEL_SAMPLING_RATIO: %w", err)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      envDefault("OTEL_SERVICE_NAME", svcName),
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer telemetryTeardown(context.Background())

	tracer := tp.Tracer(serviceType)

	store, err := mongodoc.Connect(ctx, cfg.Mongo, log, tracer)
	if err != nil {
		return fmt.Errorf("connecting document store: %w", err)
	}
	defer store.Close(context.Background())

	objects, err := object.Connect(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("connecting object store: %w", err)
	}

	connector := bridge.NewConnector(envDefault("BRIDGE_ENDPOINT", "http://localhost:8484"), &http.Client{
		Timeout: 10 * time.Minute,
	})

	slots := 4
	if v := os.Getenv("WORKER_SLOTS"); v != "" {
		if slots, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parsing WORKER_SLOTS: %w", err)
		}
	}

	registry := tasks.NewMemoryRegistry()
	dispatcher := tasks.NewDispatcher(log, tracer, registry, slots)

	var queue tasks.Queue
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaQueue, err := tasks.ConnectKafka(cfg.Kafka, dispatcher, registry, log)
		if err != nil {
			return fmt.Errorf("connecting task transport: %w", err)
		}
		defer kafkaQueue.Close()
		go kafkaQueue.Run(ctx)
		queue = kafkaQueue
		log.Info(ctx, "using kafka task transport", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		queue = tasks.NewMemoryQueue(dispatcher, registry)
		log.Info(ctx, "using in-process task transport")
	}

	retrier := retry.NewExecutor(log)
	aggregator := analytics.NewAggregator(store)
	detector := lingua.New()

	callsPerSecond := 2.0
	if v := os.Getenv("PLATFORM_CALLS_PER_SECOND"); v != "" {
		if callsPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parsing PLATFORM_CALLS_PER_SECOND: %w", err)
		}
	}
	limiter := rate.NewLimiter(rate.Limit(callsPerSecond), 1)

	tmpRoot := envDefault("WORKER_TMP_DIR", filepath.Join(os.TempDir(), "teledash"))
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return fmt.Errorf("creating tmp root: %w", err)
	}

	scraper := appscraping.NewScraper(store, store, connector, retrier, queue,
		aggregator, detector, cfg.Scrape, 0, limiter, log, tracer)
	members := appscraping.NewMemberScraper(store, store, connector, 0, log, tracer)
	partitioner := appscraping.NewPartitioner(store, connector, queue,
		time.Duration(cfg.Scrape.IntervalMinutes)*time.Minute, log, tracer)

	downloader := attachments.NewDownloader(store, connector, retrier, queue, cfg.Scrape, tmpRoot, log, tracer)
	processor := attachments.NewProcessor(objects, store,
		tesseract.New(os.Getenv("TESSERACT_BIN")),
		vosk.New(os.Getenv("VOSK_BIN"), cfg.Scrape.ASR.Language),
		cfg.Scrape, tmpRoot, log, tracer)
	purger := attachments.NewPurger(store, objects, cfg.Scrape.RetentionDays, log, tracer)

	dispatcher.Register(tasks.KindScrapeChats, func(ctx context.Context, unit tasks.Unit) error {
		var args scraping.ScrapeChatsArgs
		if err := unit.UnmarshalArgs(&args); err != nil {
			return err
		}
		return scraper.ScrapeChats(ctx, args)
	})
	dispatcher.Register(tasks.KindScrapeChatMembers, func(ctx context.Context, _ tasks.Unit) error {
		return members.Run(ctx)
	})
	dispatcher.Register(tasks.KindDownloadAttachments, func(ctx context.Context, unit tasks.Unit) error {
		var args attachments.DownloadArgs
		if err := unit.UnmarshalArgs(&args); err != nil {
			return err
		}
		return downloader.Run(ctx, args)
	})
	dispatcher.Register(tasks.KindProcessAttachments, func(ctx context.Context, unit tasks.Unit) error {
		var args attachments.ProcessArgs
		if err := unit.UnmarshalArgs(&args); err != nil {
			return err
		}
		return processor.Run(ctx, args)
	})
	dispatcher.Register(tasks.KindPurgeAttachments, func(ctx context.Context, _ tasks.Unit) error {
		return purger.Run(ctx)
	})

	scheduler := cron.New()

	_, err = scheduler.AddFunc(fmt.Sprintf("@every %dm", cfg.Scrape.IntervalMinutes), func() {
		if err := partitioner.Run(ctx); err != nil {
			log.Error(ctx, "partitioning round failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling partitioning round: %w", err)
	}

	if _, err := scheduler.AddFunc("0 3 * * *", func() {
		if err := queue.Submit(ctx, tasks.KindScrapeChatMembers, nil); err != nil {
			log.Error(ctx, "could not submit member scrape unit", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling member scrape: %w", err)
	}

	if cfg.Scrape.RetentionDays > 0 && len(cfg.Scrape.AttachmentTypes) > 0 {
		if _, err := scheduler.AddFunc("0 4 * * *", func() {
			if err := queue.Submit(ctx, tasks.KindPurgeAttachments, nil); err != nil {
				log.Error(ctx, "could not submit purge unit", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduling attachment purge: %w", err)
		}
	}

	scheduler.Start()
	log.Info(ctx, "worker started",
		"slots", slots,
		"scrape_interval_minutes", cfg.Scrape.IntervalMinutes,
		"retention_days", cfg.Scrape.RetentionDays)

	// Kick off the first round immediately rather than waiting a full
	// interval after startup.
	go func() {
		if err := partitioner.Run(ctx); err != nil {
			log.Error(ctx, "partitioning round failed", "error", err)
		}
	}()

	<-sigCh
	log.Info(ctx, "shutdown signal received")

	cronCtx := scheduler.Stop()
	cancel()

	select {
	case <-cronCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn(ctx, "scheduled jobs did not finish before shutdown deadline")
	}
	dispatcher.Wait()

	log.Info(ctx, "worker stopped")
	return nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
