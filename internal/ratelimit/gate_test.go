package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGate_Invalid(t *testing.T) {
	_, err := NewGate(0, time.Second, 1)
	assert.Error(t, err)
	_, err = NewGate(5, 0, 1)
	assert.Error(t, err)
}

func TestGate_BurstAdmitsImmediately(t *testing.T) {
	g, err := NewGate(5, time.Hour, 5)
	require.NoError(t, err)
	defer g.Close()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestGate_DelaysPastQuota(t *testing.T) {
	// 10 per 200ms, burst 1: one admission every 20ms.
	g, err := NewGate(10, 200*time.Millisecond, 1)
	require.NoError(t, err)
	defer g.Close()

	start := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
	// The first is free, the next five wait ~20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestGate_NeverRejectsOnlyDelays(t *testing.T) {
	g, err := NewGate(1, 50*time.Millisecond, 1)
	require.NoError(t, err)
	defer g.Close()

	for i := 0; i < 3; i++ {
		assert.NoError(t, g.Acquire(context.Background()))
	}
}

func TestGate_ContextCancel(t *testing.T) {
	g, err := NewGate(1, time.Hour, 1)
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = g.Acquire(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrClosed))
}

func TestGate_Close(t *testing.T) {
	g, err := NewGate(1, time.Hour, 1)
	require.NoError(t, err)
	require.NoError(t, g.Acquire(context.Background()))

	errc := make(chan error, 1)
	go func() { errc <- g.Acquire(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, g.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}

	assert.ErrorIs(t, g.Acquire(context.Background()), ErrClosed)
	assert.NoError(t, g.Close())
}

func TestGate_Concurrent(t *testing.T) {
	g, err := NewGate(1000, time.Second, 1000)
	require.NoError(t, err)
	defer g.Close()

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire(context.Background()) == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), admitted)
}

func TestGate_String(t *testing.T) {
	g, err := NewGate(5, 10*time.Second, 1)
	require.NoError(t, err)
	assert.Equal(t, "5 per 10s", g.String())
}
