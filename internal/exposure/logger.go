package exposure

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// JobMetrics reports background write outcomes to the shared job metrics.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

const jobTypeExposureWrite = "exposure_write"

// Defaults for LoggerConfig.
const (
	DefaultQueueSize    = 1024
	DefaultWorkers      = 2
	DefaultWriteTimeout = 5 * time.Second
)

// LoggerConfig configures the asynchronous exposure logger.
type LoggerConfig struct {
	// QueueSize bounds the number of pending batches. Default: 1024.
	QueueSize int
	// Workers is the number of concurrent writers. Default: 2.
	Workers int
	// WriteTimeout bounds a single sink write. Default: 5s.
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
	JobMetrics   JobMetrics
}

// Logger hands exposure batches to a bounded queue drained by background
// workers. Log never blocks the caller; batches that cannot be queued are
// dropped and counted.
type Logger struct {
	sink   Sink
	config LoggerConfig

	mu      sync.RWMutex
	running bool
	queue   chan []Exposure
	wg      sync.WaitGroup
}

// NewLogger creates a Logger writing to sink. Call Start before Log.
func NewLogger(sink Sink, config LoggerConfig) *Logger {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Logger{
		sink:   sink,
		config: config,
	}
}

// Start launches the writer goroutines. Calling Start on a running logger
// is a no-op.
func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.queue = make(chan []Exposure, l.config.QueueSize)
	for i := 0; i < l.config.Workers; i++ {
		l.wg.Add(1)
		go l.worker(l.queue)
	}
	l.config.Logger.Info("exposure logger started",
		slog.Int("workers", l.config.Workers),
		slog.Int("queue_size", l.config.QueueSize))
}

// Stop stops accepting batches and waits for queued batches to be written,
// or for ctx to expire.
func (l *Logger) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.queue)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.config.Logger.Info("exposure logger stopped")
		return nil
	case <-ctx.Done():
		l.config.Logger.Warn("exposure logger stop timed out, pending batches abandoned")
		return ctx.Err()
	}
}

// IsRunning reports whether the logger accepts batches.
func (l *Logger) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Log enqueues a batch without blocking. The batch is dropped when the
// logger is stopped, the queue is full, or ctx is already cancelled.
func (l *Logger) Log(ctx context.Context, exposures []Exposure) {
	if len(exposures) == 0 {
		return
	}
	if ctx.Err() != nil {
		l.config.Metrics.incDropped(DropCancelled, len(exposures))
		return
	}

	batch := make([]Exposure, len(exposures))
	copy(batch, exposures)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.running {
		l.config.Metrics.incDropped(DropStopped, len(batch))
		return
	}

	select {
	case l.queue <- batch:
		l.config.Metrics.incEnqueued(len(batch))
		l.config.Metrics.setQueueDepth(len(l.queue))
	default:
		l.config.Metrics.incDropped(DropQueueFull, len(batch))
		l.config.Logger.Warn("exposure queue full, dropping batch",
			slog.Int("exposures", len(batch)))
	}
}

func (l *Logger) worker(queue <-chan []Exposure) {
	defer l.wg.Done()
	for batch := range queue {
		l.config.Metrics.setQueueDepth(len(queue))
		l.write(batch)
	}
}

func (l *Logger) write(batch []Exposure) {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := l.sink.Append(ctx, batch)
	duration := time.Since(start).Seconds()

	if l.config.JobMetrics != nil {
		l.config.JobMetrics.ObserveJobDuration(jobTypeExposureWrite, duration)
	}

	if err != nil {
		l.config.Metrics.incDropped(DropWriteError, len(batch))
		errorType := "store_error"
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = "timeout"
		}
		if l.config.JobMetrics != nil {
			l.config.JobMetrics.IncJobsTotal(jobTypeExposureWrite, "failure")
			l.config.JobMetrics.IncJobErrors(jobTypeExposureWrite, errorType)
		}
		l.config.Logger.Error("failed to write exposures",
			slog.Int("exposures", len(batch)),
			slog.String("error", err.Error()))
		return
	}

	l.config.Metrics.incWritten(len(batch))
	if l.config.JobMetrics != nil {
		l.config.JobMetrics.IncJobsTotal(jobTypeExposureWrite, "success")
	}
}
