package workerpool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

func newTestPool(t *testing.T) (*workerpool.Pool, context.CancelFunc) {
	t.Helper()
	p := workerpool.New(workerpool.Config{
		MinThreads:   2,
		MaxJobsTotal: 16,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go p.Serve(ctx)
	// Give the supervisor a moment to start its workers.
	time.Sleep(20 * time.Millisecond)
	return p, cancel
}

func TestJobsRunInPriorityOrder(t *testing.T) {
	p, cancel := newTestPool(t)
	defer cancel()

	var mut sync.Mutex
	var order []string
	record := func(name string) func(context.Context) {
		return func(ctx context.Context) {
			mut.Lock()
			order = append(order, name)
			mut.Unlock()
		}
	}

	// Occupy both of the pool's workers with gated jobs so the three test
	// jobs are all sitting in their queues, in reverse-priority submission
	// order, before any worker is free to pick one up.
	gate := make(chan struct{})
	require.NoError(t, p.AddJob(workerpool.Job{Run: func(ctx context.Context) { <-gate }}, workerpool.LOW))
	require.NoError(t, p.AddJob(workerpool.Job{Run: func(ctx context.Context) { <-gate }}, workerpool.LOW))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.AddJob(workerpool.Job{Run: record("low")}, workerpool.LOW))
	require.NoError(t, p.AddJob(workerpool.Job{Run: record("med")}, workerpool.MED))
	require.NoError(t, p.AddJob(workerpool.Job{Run: record("high")}, workerpool.HIGH))
	close(gate)

	assert.Eventually(t, func() bool {
		mut.Lock()
		defer mut.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)

	mut.Lock()
	defer mut.Unlock()
	assert.Equal(t, "high", order[0])
}

func TestAddJobAfterShutdownFails(t *testing.T) {
	p, cancel := newTestPool(t)
	defer cancel()

	p.Shutdown()

	var freed int32
	err := p.AddJob(workerpool.Job{
		Run:  func(ctx context.Context) {},
		Free: func() { atomic.AddInt32(&freed, 1) },
	}, workerpool.MED)

	assert.ErrorIs(t, err, workerpool.ErrShutdown)
	assert.EqualValues(t, 1, atomic.LoadInt32(&freed))
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	p, cancel := newTestPool(t)
	defer cancel()

	done := make(chan struct{})
	p.Schedule(20*time.Millisecond, workerpool.REL, workerpool.Job{
		Run: func(ctx context.Context) { close(done) },
	}, workerpool.MED)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestScheduleRemoveCancelsBeforeFire(t *testing.T) {
	p, cancel := newTestPool(t)
	defer cancel()

	ran := int32(0)
	freed := int32(0)
	h := p.Schedule(200*time.Millisecond, workerpool.REL, workerpool.Job{
		Run:  func(ctx context.Context) { atomic.AddInt32(&ran, 1) },
		Free: func() { atomic.AddInt32(&freed, 1) },
	}, workerpool.LOW)

	p.Remove(h)
	time.Sleep(300 * time.Millisecond)

	assert.EqualValues(t, 0, atomic.LoadInt32(&ran))
	assert.EqualValues(t, 1, atomic.LoadInt32(&freed))
}
