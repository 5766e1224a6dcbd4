package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_AdmitsUpToLimit(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))

	active, queued, limit := s.Snapshot()
	assert.Equal(t, 2, active)
	assert.Equal(t, 0, queued)
	assert.Equal(t, 2, limit)
}

func TestSemaphore_BlocksThenAdmitsOnRelease(t *testing.T) {
	s := NewSemaphore(1)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx))

	done := make(chan struct{})
	go func() {
		_ = s.Acquire(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second acquire should not have completed yet")
	default:
	}

	s.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestSemaphore_LoweringLimitDoesNotPreemptActive(t *testing.T) {
	s := NewSemaphore(3)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))

	s.SetLimit(1)
	active, _, limit := s.Snapshot()
	assert.Equal(t, 2, active)
	assert.Equal(t, 1, limit)
}

func TestSemaphore_RaisingLimitWakesWaiters(t *testing.T) {
	s := NewSemaphore(1)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Acquire(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	s.SetLimit(2)
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by raised limit")
	}
}

func TestSemaphore_AcquireRespectsCancellation(t *testing.T) {
	s := NewSemaphore(1)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx))

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(cctx)
	assert.Error(t, err)
}

func TestGate_GlobalThenScopeAdmission(t *testing.T) {
	g := NewGate(2, 1)
	ctx := context.Background()
	a1, err := g.Acquire(ctx, "host-a")
	require.NoError(t, err)
	defer a1.Release()

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(cctx, "host-a")
	assert.Error(t, err, "scope semaphore should be saturated for host-a")

	a2, err := g.Acquire(ctx, "host-b")
	require.NoError(t, err)
	a2.Release()
}

func TestGate_Pressure(t *testing.T) {
	g := NewGate(4, 2)
	ctx := context.Background()
	a, err := g.Acquire(ctx, "host-a")
	require.NoError(t, err)
	defer a.Release()

	global, scope := g.Pressure("host-a")
	assert.InDelta(t, 0.25, global, 0.001)
	assert.InDelta(t, 0.5, scope, 0.001)
}
