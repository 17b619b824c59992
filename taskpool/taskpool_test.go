package taskpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_StressCompletion(t *testing.T) {
	p := New(20_000)
	p.Start(8)

	var counter atomic.Int64
	const n = 100_000
	for i := 0; i < n; i++ {
		p.Submit(func() { counter.Add(1) })
	}
	p.Wait()

	assert.Equal(t, int64(n), counter.Load())
	metrics := p.Metrics()
	assert.Equal(t, int64(n), metrics.Issued)
	assert.Equal(t, int64(n), metrics.Completed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestPool_PanicRecoveredAndCounted(t *testing.T) {
	p := New(16)
	p.Start(2)

	done := make(chan struct{})
	p.Submit(func() {
		defer close(done)
		panic("boom")
	})
	<-done
	p.Wait()

	metrics := p.Metrics()
	assert.Equal(t, int64(1), metrics.Completed)
	assert.Equal(t, int64(1), metrics.Panicked)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestPool_StopImpliesFinalWait(t *testing.T) {
	p := New(64)
	p.Start(4)

	var counter atomic.Int64
	for i := 0; i < 500; i++ {
		p.Submit(func() { counter.Add(1) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	assert.Equal(t, int64(500), counter.Load())
}

func TestPool_StopNowRejectsPendingWork(t *testing.T) {
	p := New(64)
	p.Start(1)
	p.Pause()

	p.Submit(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.StopNow(ctx)
	assert.ErrorIs(t, err, ErrPendingWork)

	p.Resume()
	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_TrySubmitExhaustion(t *testing.T) {
	p := New(1)
	p.Start(1)
	p.Pause()
	require.NoError(t, p.TrySubmit(func() {}))

	err := p.TrySubmit(func() {})
	assert.ErrorIs(t, err, ErrCapacityExhausted)

	p.Resume()
	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_PanicErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	pe := PanicError{Value: cause}
	assert.ErrorIs(t, pe, cause)
}
