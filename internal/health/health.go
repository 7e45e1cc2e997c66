// Package health implements the lightweight /healthz liveness probe and the
// richer detailed_health payload (spec.md §6). /healthz is grounded
// directly on the teacher's server/healthcheck.go (process-start uptime, a
// trivial status=ok); detailed_health is new, aggregating Job Store counts
// the way the teacher's server/metrics.go aggregates request counts.
package health

import (
	"context"
	"time"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// LivezResponse is the JSON payload for the liveness probe.
type LivezResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ConfigSummary is the safe subset of the service configuration surfaced by
// detailed_health -- tunables an operator would want at a glance, with
// provider credentials, the database DSN, and object-store endpoints left
// out entirely.
type ConfigSummary struct {
	DailyJobLimitPerUser   int `json:"daily_job_limit_per_user"`
	MaxPendingJobs         int `json:"max_pending_jobs"`
	RateLimitPerWindow     int `json:"rate_limit_per_window"`
	RateLimitWindowSeconds int `json:"rate_limit_window_seconds"`
	ImageMaxConcurrent     int `json:"image_max_concurrent"`
	SLASeconds             int `json:"sla_seconds"`
	MonitorIntervalSeconds int `json:"monitor_interval_seconds"`
	StuckTimeoutSeconds    int `json:"stuck_timeout_seconds"`
	MaxRetries             int `json:"max_retries"`
}

// Checker computes liveness and detailed health responses.
type Checker struct {
	Jobs        store.JobStore
	Objects     capability.ObjectStore
	Clock       clock.Clock
	StartedAt   time.Time
	StuckAfter  time.Duration
	Config      ConfigSummary

	// bucketProbed/bucketHealthy cache a successful bucket_exists() probe
	// for the life of the process; a failed probe is not cached and is
	// repeated on the next call.
	bucketProbed  bool
	bucketHealthy bool
}

// NewChecker returns a Checker whose uptime clock starts now.
func NewChecker(jobs store.JobStore, objects capability.ObjectStore, c clock.Clock, stuckAfter time.Duration, cfg ConfigSummary) *Checker {
	return &Checker{Jobs: jobs, Objects: objects, Clock: c, StartedAt: c.Now(), StuckAfter: stuckAfter, Config: cfg}
}

// Livez returns the liveness payload. It never touches the database --
// unlike DetailedHealth, it answers "is the process alive" only.
func (c *Checker) Livez() LivezResponse {
	return LivezResponse{Status: "ok", Uptime: c.Clock.Now().Sub(c.StartedAt).String()}
}

// JobCounts is the jobs section of DetailedHealth.
type JobCounts struct {
	Queued            int     `json:"queued"`
	Running           int     `json:"running"`
	Stuck             int     `json:"stuck"`
	CompletedLastHour int     `json:"completed_last_hour"`
	FailedLastHour    int     `json:"failed_last_hour"`
	SuccessRate       float64 `json:"success_rate"`
}

// ServiceHealth reports one capability provider's reachability.
type ServiceHealth struct {
	ObjectStore string `json:"object_store"`
}

// DetailedHealth is the full detailed_health() payload (spec.md §6).
type DetailedHealth struct {
	Jobs     JobCounts     `json:"jobs"`
	Services ServiceHealth `json:"services"`
	Config   ConfigSummary `json:"config"`
}

// DetailedHealth aggregates Job Store counts over the last hour and the
// cached object-store probe.
func (c *Checker) DetailedHealth(ctx context.Context) (DetailedHealth, error) {
	queued, err := c.Jobs.CountByStatus(ctx, job.StatusQueued)
	if err != nil {
		return DetailedHealth{}, err
	}
	running, err := c.Jobs.CountByStatus(ctx, job.StatusRunning)
	if err != nil {
		return DetailedHealth{}, err
	}
	stuckJobs, err := c.Jobs.ListRunningOlderThan(ctx, c.Clock.Now().Add(-c.StuckAfter))
	if err != nil {
		return DetailedHealth{}, err
	}

	windowStart := c.Clock.Now().Add(-time.Hour)
	completed, err := c.Jobs.CountByStatusSince(ctx, job.StatusDone, windowStart)
	if err != nil {
		return DetailedHealth{}, err
	}
	failed, err := c.Jobs.CountByStatusSince(ctx, job.StatusFailed, windowStart)
	if err != nil {
		return DetailedHealth{}, err
	}
	var successRate float64
	if total := completed + failed; total > 0 {
		successRate = float64(completed) / float64(total)
	}

	objectStoreStatus := "unknown"
	if !c.bucketProbed {
		ok, err := c.Objects.BucketExists(ctx)
		c.bucketHealthy = err == nil && ok
		c.bucketProbed = c.bucketHealthy
	}
	if c.bucketHealthy {
		objectStoreStatus = "ok"
	} else {
		objectStoreStatus = "unreachable"
	}

	return DetailedHealth{
		Jobs: JobCounts{
			Queued:            queued,
			Running:           running,
			Stuck:             len(stuckJobs),
			CompletedLastHour: completed,
			FailedLastHour:    failed,
			SuccessRate:       successRate,
		},
		Services: ServiceHealth{ObjectStore: objectStoreStatus},
		Config:   c.Config,
	}, nil
}
