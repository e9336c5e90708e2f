package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/supportdesk/pkg/config"
)

// ErrDispatcherStopped is returned by Submit once the dispatcher is shutting down.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Job is one inbound event handler invocation.
type Job struct {
	// Key selects the worker. Jobs with the same key run one at a time, in
	// submission order.
	Key string
	// Name is the event action, used for logging and health.
	Name string
	Run  func(ctx context.Context)
}

// Dispatcher runs jobs on a fixed set of workers, sharding by Job.Key so
// that events for the same session never run concurrently.
type Dispatcher struct {
	podID    string
	config   *config.DispatcherConfig
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// sendMu is held shared by Submit for the whole send and exclusively by
	// Stop while closing stopCh, so every accepted job is in an inbox
	// before the workers drain.
	sendMu sync.RWMutex

	mu      sync.Mutex
	started bool
	// runDone is the Start context's Done channel; workers exit on it
	// without draining.
	runDone <-chan struct{}
}

// NewDispatcher creates a dispatcher. Workers are created by Start.
func NewDispatcher(podID string, cfg *config.DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		podID:  podID,
		config: cfg,
		stopCh: make(chan struct{}),
	}
}

// Start spawns the workers. Subsequent calls are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		slog.Warn("Dispatcher already started, ignoring duplicate Start call", "pod_id", d.podID)
		return
	}
	d.started = true
	d.runDone = ctx.Done()

	slog.Info("Starting dispatcher", "pod_id", d.podID, "worker_count", d.config.WorkerCount)

	d.workers = make([]*Worker, 0, d.config.WorkerCount)
	for i := 0; i < d.config.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", d.podID, i), d.config.QueueSize, d.stopCh)
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			w.run(ctx)
		}()
	}
}

// Submit queues a job on the worker that owns its key. It blocks while that
// worker's inbox is full.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.mu.Lock()
	started := d.started
	workers := d.workers
	runDone := d.runDone
	d.mu.Unlock()
	if !started || len(workers) == 0 {
		return ErrDispatcherStopped
	}

	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	select {
	case <-d.stopCh:
		return ErrDispatcherStopped
	default:
	}

	// Workers keep consuming until stopCh closes, which cannot happen while
	// this send is pending.
	w := workers[shard(job.Key, len(workers))]
	select {
	case w.inbox <- job:
		return nil
	case <-runDone:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the workers to finish queued work and waits for them.
func (d *Dispatcher) Stop() {
	slog.Info("Stopping dispatcher gracefully", "pod_id", d.podID)
	d.stopOnce.Do(func() {
		d.sendMu.Lock()
		close(d.stopCh)
		d.sendMu.Unlock()
	})
	d.wg.Wait()
	slog.Info("Dispatcher stopped", "pod_id", d.podID)
}

// Health returns a point-in-time view of the workers.
func (d *Dispatcher) Health() *DispatcherHealth {
	d.mu.Lock()
	workers := d.workers
	started := d.started
	d.mu.Unlock()

	h := &DispatcherHealth{
		PodID:        d.podID,
		TotalWorkers: len(workers),
		WorkerStats:  make([]WorkerHealth, 0, len(workers)),
	}
	for _, w := range workers {
		stats := w.Health()
		if stats.Status == WorkerStatusWorking {
			h.ActiveWorkers++
		}
		h.QueuedJobs += stats.Queued
		h.WorkerStats = append(h.WorkerStats, stats)
	}

	stopped := false
	select {
	case <-d.stopCh:
		stopped = true
	default:
	}
	h.IsHealthy = started && !stopped && len(workers) > 0
	return h
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
