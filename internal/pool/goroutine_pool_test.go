package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_RunsTasks(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	defer p.Close()

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int32(20), done.Load())
}

func TestSubmitWait_ReturnsTaskError(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSubmitWait_PanicRecovered(t *testing.T) {
	var recovered atomic.Bool
	cfg := DefaultGoroutinePoolConfig()
	cfg.PanicHandler = func(any) { recovered.Store(true) }
	p := NewGoroutinePool(cfg)
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	assert.Error(t, err)
	assert.True(t, recovered.Load())
}

func TestSubmit_AfterClose(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestSubmit_PoolFull(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1, IdleTimeout: time.Second})
	defer p.Close()

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		defer wg.Done()
		<-block
		return nil
	}))

	// 等 worker 取走第一个任务再塞满队列
	require.Eventually(t, func() bool {
		return p.Submit(context.Background(), func(ctx context.Context) error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)

	close(block)
	wg.Wait()
}
