package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	p := NewWorkerPool(3, 10, nil)
	p.Start()
	defer p.Stop()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(25), n.Load())
}

func TestWorkerPoolSurvivesPanic(t *testing.T) {
	p := NewWorkerPool(1, 1, nil)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic")
	}
}

func TestWorkerPoolTrySubmitFull(t *testing.T) {
	p := NewWorkerPool(1, 1, nil)
	// not started: the queue fills up
	assert.True(t, p.TrySubmit(func(ctx context.Context) {}))
	assert.False(t, p.TrySubmit(func(ctx context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, func(ctx context.Context) {}), context.DeadlineExceeded)
	p.Stop()
}

func TestWorkerPoolStopCancelsRunningJobs(t *testing.T) {
	p := NewWorkerPool(1, 1, nil)
	p.Start()

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}))
	<-started
	p.Stop()
	p.Stop()

	assert.True(t, cancelled.Load())
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) {}), ErrPoolStopped)
	assert.False(t, p.TrySubmit(func(ctx context.Context) {}))
}
