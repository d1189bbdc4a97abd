// Package worker runs periodic maintenance jobs such as swarm optimization.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when the runner has a live loop.
var ErrAlreadyRunning = errors.New("maintenance runner already running")

// Job is one maintenance pass.
type Job func(ctx context.Context) error

// RunnerConfig configures a maintenance runner.
type RunnerConfig struct {
	// Interval between passes.
	Interval time.Duration

	// MaxRuns stops the loop after this many passes. Zero means unbounded.
	MaxRuns int

	// StopOnError ends the loop on the first failed pass.
	StopOnError bool

	// History is the number of run records kept for inspection.
	History int
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval: time.Second,
		History:  32,
	}
}

// RunStatus is the outcome of a single pass.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Run records one maintenance pass.
type Run struct {
	Seq       int           `json:"seq"`
	Status    RunStatus     `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Stats aggregates runner activity.
type Stats struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Cancelled     int     `json:"cancelled"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	SuccessRate   float64 `json:"success_rate"`
	Running       bool    `json:"running"`
}

// Runner executes a Job on a fixed interval until its context ends.
type Runner struct {
	mu sync.RWMutex

	job    Job
	config RunnerConfig
	logger *slog.Logger

	runs    []Run
	seq     int
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	totalDuration time.Duration
	completed     int
	failed        int
	cancelled     int
}

// NewRunner creates a runner for job.
func NewRunner(job Job, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.Interval <= 0 {
		config.Interval = DefaultRunnerConfig().Interval
	}
	if config.History <= 0 {
		config.History = DefaultRunnerConfig().History
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		job:    job,
		config: config,
		logger: logger.With("component", "maintenance"),
	}
}

// Run blocks, executing the job once per interval. It returns nil when
// MaxRuns is reached, ctx.Err() on cancellation, or the job error when
// StopOnError is set.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := r.RunOnce(ctx)
		if err != nil && r.config.StopOnError {
			return err
		}
		if r.config.MaxRuns > 0 && r.Stats().Total >= r.config.MaxRuns {
			return nil
		}
	}
}

// RunOnce executes a single pass immediately and records it.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	r.seq++
	run := Run{Seq: r.seq, StartedAt: time.Now()}
	r.mu.Unlock()

	err := r.job(ctx)
	run.Duration = time.Since(run.StartedAt)

	switch {
	case err == nil:
		run.Status = StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Status = StatusCancelled
		run.Error = err.Error()
	default:
		run.Status = StatusFailed
		run.Error = err.Error()
	}

	r.record(run, err)

	if run.Status == StatusFailed {
		r.logger.Warn("maintenance pass failed", "seq", run.Seq, "error", err)
		return fmt.Errorf("maintenance pass %d: %w", run.Seq, err)
	}
	r.logger.Debug("maintenance pass", "seq", run.Seq, "status", run.Status, "duration", run.Duration)
	return err
}

func (r *Runner) record(run Run, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch run.Status {
	case StatusCompleted:
		r.completed++
		r.totalDuration += run.Duration
	case StatusFailed:
		r.failed++
		r.lastErr = err
	case StatusCancelled:
		r.cancelled++
	}

	r.runs = append(r.runs, run)
	if over := len(r.runs) - r.config.History; over > 0 {
		r.runs = append([]Run(nil), r.runs[over:]...)
	}
}

// Start runs the loop in the background. Stop or cancelling ctx ends it.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		if err := r.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("maintenance loop stopped", "error", err)
		}
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()
	return nil
}

// Stop cancels a background loop and waits for it to exit.
func (r *Runner) Stop() {
	r.mu.RLock()
	cancel, done := r.cancel, r.done
	r.mu.RUnlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the background loop exits.
func (r *Runner) Wait() {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Runs returns the retained run history, oldest first.
func (r *Runner) Runs() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Run(nil), r.runs...)
}

// LastError returns the error of the most recent failed pass.
func (r *Runner) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Stats returns aggregate statistics.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:     r.completed + r.failed + r.cancelled,
		Completed: r.completed,
		Failed:    r.failed,
		Cancelled: r.cancelled,
		Running:   r.cancel != nil,
	}
	if r.completed > 0 {
		stats.AvgDurationMs = float64(r.totalDuration.Milliseconds()) / float64(r.completed)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(r.completed) / float64(stats.Total)
	}
	return stats
}
