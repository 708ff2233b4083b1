package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSweeper struct {
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (c *countingSweeper) Sweep(ctx context.Context) (verifactu.SweepStats, error) {
	c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return verifactu.SweepStats{}, ctx.Err()
		}
	}
	return verifactu.SweepStats{Found: 2, Requeued: 1}, c.err
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerConfig{}, &countingSweeper{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewRunner(RunnerConfig{Interval: time.Second}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunner_RunsOnStartAndOnInterval(t *testing.T) {
	sw := &countingSweeper{}
	r, err := NewRunner(RunnerConfig{Interval: 20 * time.Millisecond, RunOnStart: true}, sw, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()), "second start is a no-op")

	assert.Eventually(t, func() bool { return sw.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))

	last := r.LastRun()
	assert.Equal(t, JobStatusSuccess, last.Status)
	assert.Equal(t, 2, last.Stats.Found)
	assert.GreaterOrEqual(t, last.Runs, int64(3))

	stopped := sw.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, sw.calls.Load())
}

func TestRunner_RunNowRejectsOverlap(t *testing.T) {
	sw := &countingSweeper{block: make(chan struct{})}
	r, err := NewRunner(RunnerConfig{Interval: time.Hour}, sw, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.RunNow(context.Background())
		done <- err
	}()
	assert.Eventually(t, func() bool { return r.LastRun().Status == JobStatusRunning }, time.Second, time.Millisecond)

	_, err = r.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(sw.block)
	assert.NoError(t, <-done)
	assert.Equal(t, int32(1), sw.calls.Load())
}

func TestRunner_RecordsFailure(t *testing.T) {
	sw := &countingSweeper{err: errors.New("db down")}
	r, err := NewRunner(RunnerConfig{Interval: time.Hour}, sw, nil)
	require.NoError(t, err)

	_, err = r.RunNow(context.Background())
	assert.EqualError(t, err, "db down")

	last := r.LastRun()
	assert.Equal(t, JobStatusFailed, last.Status)
	assert.Equal(t, "db down", last.Error)
	assert.NotNil(t, last.CompletedAt)
}

func TestRunner_RunTimeout(t *testing.T) {
	sw := &countingSweeper{block: make(chan struct{})}
	r, err := NewRunner(RunnerConfig{Interval: time.Hour, RunTimeout: 10 * time.Millisecond}, sw, nil)
	require.NoError(t, err)

	_, err = r.RunNow(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
