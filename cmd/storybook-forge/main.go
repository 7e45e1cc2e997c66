// Command storybook-forge runs the illustrated-storybook generation
// service: the HTTP request-tier, the Orchestrator's in-process job
// dispatcher, and the Job Monitor's background sweep, all wired from one
// TOML + env config, following the teacher's plugin.go OnActivate wiring
// (construct every collaborator once, hand them to each other by
// interface, start background loops, block on the HTTP listener).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sterlingstarai-ai/ai-story-book/internal/admission"
	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/config"
	"github.com/sterlingstarai-ai/ai-story-book/internal/health"
	"github.com/sterlingstarai-ai/ai-story-book/internal/httpapi"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ledger"
	"github.com/sterlingstarai-ai/ai-story-book/internal/metrics"
	"github.com/sterlingstarai-ai/ai-story-book/internal/monitor"
	"github.com/sterlingstarai-ai/ai-story-book/internal/orchestrator"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ratelimit"
	"github.com/sterlingstarai-ai/ai-story-book/internal/regenerate"
	"github.com/sterlingstarai-ai/ai-story-book/internal/stage"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "storybook-forge:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLogger, err := newZapLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLogger.Sync() //nolint:errcheck
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	jobs := store.NewJobStore(db)
	characters := store.NewCharacterStore(db)
	artifacts := store.NewArtifactStore(db)
	credit := ledger.New(db)

	realClock := clock.Real()
	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimitWindow(), realClock)

	objectStore, err := newObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	reg := metrics.New()

	stageDeps := stage.Deps{
		LLM:        capability.NewHTTPLLMClient(cfg.Providers.LLM.BaseURL, cfg.Providers.LLM.APIKey, time.Duration(cfg.Providers.LLM.TimeoutSeconds)*time.Second, log),
		Image:      capability.NewHTTPImageClient(cfg.Providers.Image.BaseURL, cfg.Providers.Image.APIKey, time.Duration(cfg.Providers.Image.TimeoutSeconds)*time.Second, log),
		Moderation: capability.NewHTTPModerationClient(cfg.Providers.Moderation.BaseURL, cfg.Providers.Moderation.APIKey, time.Duration(cfg.Providers.Moderation.TimeoutSeconds)*time.Second, log),
		Objects:    objectStore,
		Jobs:       jobs,
		Characters: characters,
		Artifacts:  artifacts,
		Runner:     stage.NewRunner(log, reg),
		Clock:      realClock,
		Log:        log,

		ImageMaxConcurrent: cfg.Pipeline.ImageMaxConcurrent,
	}

	orch := &orchestrator.Orchestrator{
		Jobs:      jobs,
		Ledger:    credit,
		StageDeps: stageDeps,
		Clock:     realClock,
		Log:       log,
		SLA:       cfg.SLA(),
	}

	dispatcher := newDispatcher(ctx, orch, log)

	admissionCtrl := &admission.Controller{
		Jobs:      jobs,
		Ledger:    credit,
		RateLimit: limiter,
		Dispatch:  dispatcher,
		Clock:     realClock,
		Log:       log,

		DailyJobLimitPerUser: cfg.Guardrails.DailyJobLimitPerUser,
		MaxPendingJobs:       cfg.Guardrails.MaxPendingJobs,
	}

	mon := &monitor.Monitor{
		Jobs:      jobs,
		Artifacts: artifacts,
		Ledger:    credit,
		Dispatch:  dispatcher,
		Clock:     realClock,
		Log:       log,

		Interval:     cfg.MonitorInterval(),
		StuckTimeout: cfg.StuckTimeout(),
		SLA:          cfg.SLA(),
		MaxRetries:   cfg.Monitor.MaxRetries,
	}
	go mon.Run(ctx)

	regen := &regenerate.Controller{
		Jobs:       jobs,
		Artifacts:  artifacts,
		Characters: characters,
		StageDeps:  stageDeps,
		Log:        log,
	}

	checker := health.NewChecker(jobs, objectStore, realClock, cfg.StuckTimeout(), health.ConfigSummary{
		DailyJobLimitPerUser:   cfg.Guardrails.DailyJobLimitPerUser,
		MaxPendingJobs:         cfg.Guardrails.MaxPendingJobs,
		RateLimitPerWindow:     cfg.RateLimit.Limit,
		RateLimitWindowSeconds: cfg.RateLimit.WindowSeconds,
		ImageMaxConcurrent:     cfg.Pipeline.ImageMaxConcurrent,
		SLASeconds:             cfg.Pipeline.SLASeconds,
		MonitorIntervalSeconds: cfg.Monitor.IntervalSeconds,
		StuckTimeoutSeconds:    cfg.Monitor.StuckTimeoutSeconds,
		MaxRetries:             cfg.Monitor.MaxRetries,
	})

	server := &httpapi.Server{
		Admission:  admissionCtrl,
		Jobs:       jobs,
		Artifacts:  artifacts,
		Regenerate: regen,
		Health:     checker,
		Metrics:    reg,
		Log:        log,
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Infow("storybook-forge listening", "addr", cfg.HTTP.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	dispatcher.wait()
	return nil
}

func newZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newObjectStore(ctx context.Context, cfg *config.Config) (capability.ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Providers.ObjectStore.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return capability.NewS3ObjectStore(client, cfg.Providers.ObjectStore.Bucket, cfg.Providers.ObjectStore.PublicURLBase), nil
}

// inProcessDispatcher runs each dispatched job on its own goroutine,
// satisfying admission.Dispatcher and monitor.Dispatcher with a shared
// WaitGroup so the process can drain in-flight jobs on shutdown, mirroring
// the teacher's plugin.go use of a tracked background-goroutine pool rather
// than a fire-and-forget `go` per agent run.
type inProcessDispatcher struct {
	ctx  context.Context
	orch *orchestrator.Orchestrator
	log  *zap.SugaredLogger
	wg   sync.WaitGroup
}

func newDispatcher(ctx context.Context, orch *orchestrator.Orchestrator, log *zap.SugaredLogger) *inProcessDispatcher {
	return &inProcessDispatcher{ctx: ctx, orch: orch, log: log}
}

func (d *inProcessDispatcher) Dispatch(jobID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.orch.Run(d.ctx, jobID); err != nil {
			d.log.Errorw("job run returned error", "job_id", jobID, "error", err.Error())
		}
	}()
}

func (d *inProcessDispatcher) wait() {
	d.wg.Wait()
}
