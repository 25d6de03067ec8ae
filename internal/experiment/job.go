package experiment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

const jobTypeVariantAggregate = "variant_aggregate"

// Defaults for JobConfig.
const (
	DefaultJobInterval = 5 * time.Minute
	DefaultJobLookback = 24 * time.Hour
	DefaultJobTimeout  = 2 * time.Minute
)

// JobConfig configures the periodic aggregation job.
type JobConfig struct {
	// Interval is the duration between runs.
	Interval time.Duration
	// Lookback is the window aggregated on each run.
	Lookback time.Duration
	// Timeout for each run.
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *Metrics
	JobMetrics JobMetrics
}

// Job periodically recomputes variant metrics and keeps the latest report.
type Job struct {
	config     JobConfig
	aggregator *Aggregator

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	latestMu sync.RWMutex
	latest   *Report
}

// NewJob creates a new aggregation job.
func NewJob(config JobConfig, aggregator *Aggregator) *Job {
	if config.Interval <= 0 {
		config.Interval = DefaultJobInterval
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultJobLookback
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultJobTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Job{
		config:     config,
		aggregator: aggregator,
	}
}

// Start runs one aggregation immediately and then on every interval.
// Returns immediately; the job runs in a background goroutine.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
}

// Stop signals the job to stop and waits for it to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Latest returns the most recent successful report.
func (j *Job) Latest() (Report, bool) {
	j.latestMu.RLock()
	defer j.latestMu.RUnlock()
	if j.latest == nil {
		return Report{}, false
	}
	return *j.latest, true
}

func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	j.RunOnce(ctx)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("variant aggregation job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("variant aggregation job stopping due to stop signal")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce computes a report for the configured lookback and stores it.
func (j *Job) RunOnce(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	report, err := j.aggregator.ComputeForLookback(ctx, j.config.Lookback)
	duration := time.Since(start).Seconds()

	if j.config.JobMetrics != nil {
		j.config.JobMetrics.ObserveJobDuration(jobTypeVariantAggregate, duration)
	}

	if err != nil {
		errorType := "store_error"
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = "timeout"
		}
		j.config.Logger.Error("variant aggregation failed",
			slog.String("error", err.Error()),
			slog.String("error_type", errorType))
		j.config.Metrics.observeRun("failure", duration)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(jobTypeVariantAggregate, "failure")
			j.config.JobMetrics.IncJobErrors(jobTypeVariantAggregate, errorType)
		}
		return
	}

	j.latestMu.Lock()
	j.latest = &report
	j.latestMu.Unlock()

	j.config.Metrics.observeRun("success", duration)
	j.config.Metrics.observeReport(report)
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobTypeVariantAggregate, "success")
	}
}
