package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, workers int) *Dispatcher {
	t.Helper()
	d := NewDispatcher("test-pod", &config.DispatcherConfig{WorkerCount: workers, QueueSize: 16})
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcherRunsJobs(t *testing.T) {
	d := newTestDispatcher(t, 4)

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := d.Submit(context.Background(), Job{
			Key:  string(rune('a' + i%5)),
			Name: "test",
			Run: func(context.Context) {
				defer wg.Done()
				ran.Add(1)
			},
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int32(20), ran.Load())
}

func TestDispatcherSerializesSameKey(t *testing.T) {
	d := newTestDispatcher(t, 8)

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		order    []int
		wg       sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, d.Submit(context.Background(), Job{
			Key:  "session-1",
			Name: "chat.message",
			Run: func(context.Context) {
				defer wg.Done()
				mu.Lock()
				inFlight++
				if inFlight > maxSeen {
					maxSeen = inFlight
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
			},
		}))
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	d := newTestDispatcher(t, 1)

	done := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), Job{Key: "k", Name: "boom", Run: func(context.Context) {
		panic("boom")
	}}))
	require.NoError(t, d.Submit(context.Background(), Job{Key: "k", Name: "after", Run: func(context.Context) {
		close(done)
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
}

func TestDispatcherSubmitAfterStop(t *testing.T) {
	d := NewDispatcher("test-pod", &config.DispatcherConfig{WorkerCount: 1, QueueSize: 1})

	err := d.Submit(context.Background(), Job{Key: "k", Run: func(context.Context) {}})
	assert.ErrorIs(t, err, ErrDispatcherStopped, "not started yet")

	d.Start(context.Background())
	d.Stop()

	err = d.Submit(context.Background(), Job{Key: "k", Run: func(context.Context) {}})
	assert.ErrorIs(t, err, ErrDispatcherStopped)
	assert.False(t, d.Health().IsHealthy)
}

func TestDispatcherStopDrainsQueuedJobs(t *testing.T) {
	d := NewDispatcher("test-pod", &config.DispatcherConfig{WorkerCount: 1, QueueSize: 10})
	d.Start(context.Background())

	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, d.Submit(context.Background(), Job{Key: "k", Run: func(context.Context) {
		<-release
		ran.Add(1)
	}}))
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(context.Background(), Job{Key: "k", Run: func(context.Context) {
			ran.Add(1)
		}}))
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	d.Stop()

	assert.Equal(t, int32(6), ran.Load())
}

func TestDispatcherStopRacingSubmit(t *testing.T) {
	for round := 0; round < 20; round++ {
		d := NewDispatcher("test-pod", &config.DispatcherConfig{WorkerCount: 2, QueueSize: 4})
		d.Start(context.Background())

		var accepted, ran atomic.Int32
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					err := d.Submit(context.Background(), Job{Key: "k", Run: func(context.Context) { ran.Add(1) }})
					if err != nil {
						assert.ErrorIs(t, err, ErrDispatcherStopped)
						return
					}
					accepted.Add(1)
				}
			}()
		}
		time.Sleep(time.Millisecond)
		d.Stop()
		wg.Wait()

		assert.Equal(t, accepted.Load(), ran.Load(), "round %d: every accepted job runs", round)
	}
}

func TestDispatcherHealth(t *testing.T) {
	d := newTestDispatcher(t, 3)

	h := d.Health()
	assert.True(t, h.IsHealthy)
	assert.Equal(t, "test-pod", h.PodID)
	assert.Equal(t, 3, h.TotalWorkers)
	assert.Len(t, h.WorkerStats, 3)
	for _, ws := range h.WorkerStats {
		assert.Equal(t, WorkerStatusIdle, ws.Status)
	}
}
