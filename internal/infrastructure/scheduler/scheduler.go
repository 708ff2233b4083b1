// Package scheduler runs the retry sweep on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"go.uber.org/zap"
)

// JobStatus represents the status of the last sweep run
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Sweeper is the job the runner repeats
type Sweeper interface {
	Sweep(ctx context.Context) (verifactu.SweepStats, error)
}

var _ Sweeper = (*verifactu.RetryCoordinator)(nil)

// RunStatus describes the most recent run
type RunStatus struct {
	Status      JobStatus
	Stats       verifactu.SweepStats
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Runs        int64
}

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	Interval   time.Duration
	RunTimeout time.Duration
	RunOnStart bool
}

// DefaultRunnerConfig returns the default runner configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:   5 * time.Minute,
		RunTimeout: 2 * time.Minute,
		RunOnStart: true,
	}
}

// Runner triggers the sweep every Interval. Runs never overlap: a tick that
// lands while a sweep is still going is skipped.
type Runner struct {
	config  RunnerConfig
	sweeper Sweeper
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	busy      atomic.Bool
	last      RunStatus
}

// NewRunner creates a new runner
func NewRunner(config RunnerConfig, sweeper Sweeper, logger *zap.Logger) (*Runner, error) {
	if config.Interval <= 0 || sweeper == nil {
		return nil, ErrInvalidConfig
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = config.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		config:  config,
		sweeper: sweeper,
		logger:  logger,
		last:    RunStatus{Status: JobStatusPending},
	}, nil
}

// Start starts the runner loop
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("Sweep runner started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("run_timeout", r.config.RunTimeout),
	)
	return nil
}

// Stop stops the loop and waits for an in-progress run, up to ctx
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Sweep runner stopped gracefully")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Sweep runner stop timed out")
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	if r.config.RunOnStart {
		r.tick(ctx)
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunNow(ctx); errors.Is(err, ErrRunInProgress) {
		r.logger.Debug("Sweep still running, tick skipped")
	}
}

// RunNow runs one sweep synchronously
func (r *Runner) RunNow(ctx context.Context) (verifactu.SweepStats, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return verifactu.SweepStats{}, ErrRunInProgress
	}
	defer r.busy.Store(false)

	started := time.Now()
	r.setLast(func(s *RunStatus) {
		s.Status = JobStatusRunning
		s.StartedAt = &started
		s.CompletedAt = nil
		s.Error = ""
	})

	runCtx, cancel := context.WithTimeout(ctx, r.config.RunTimeout)
	defer cancel()
	stats, err := r.sweeper.Sweep(runCtx)

	completed := time.Now()
	r.setLast(func(s *RunStatus) {
		s.Runs++
		s.CompletedAt = &completed
		s.Stats = stats
		if err != nil {
			s.Status = JobStatusFailed
			s.Error = err.Error()
			return
		}
		s.Status = JobStatusSuccess
	})

	if err != nil {
		r.logger.Error("Sweep failed", zap.Error(err), zap.Duration("elapsed", completed.Sub(started)))
		return stats, err
	}
	return stats, nil
}

func (r *Runner) setLast(fn func(*RunStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.last)
}

// LastRun returns the status of the most recent run
func (r *Runner) LastRun() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
