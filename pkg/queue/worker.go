package queue

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker drains one inbox of jobs sequentially.
type Worker struct {
	id     string
	inbox  chan Job
	stopCh <-chan struct{}

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentJob    string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, queueSize int, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:           id,
		inbox:        make(chan Job, queueSize),
		stopCh:       stopCh,
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJob:    w.currentJob,
		JobsProcessed: w.jobsProcessed,
		Queued:        len(w.inbox),
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	log.Debug("Worker started")

	for {
		select {
		case job := <-w.inbox:
			w.execute(ctx, job)
		case <-w.stopCh:
			w.drain(ctx)
			log.Debug("Worker shutting down")
			return
		case <-ctx.Done():
			log.Debug("Context cancelled, worker shutting down")
			return
		}
	}
}

// drain runs whatever is still queued so accepted events are not dropped on shutdown.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case job := <-w.inbox:
			w.execute(ctx, job)
		default:
			return
		}
	}
}

func (w *Worker) execute(ctx context.Context, job Job) {
	w.setStatus(WorkerStatusWorking, job.Name)
	defer w.setStatus(WorkerStatusIdle, "")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"worker_id", w.id,
				"action", job.Name,
				"key", job.Key,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	job.Run(ctx)
}

func (w *Worker) setStatus(status WorkerStatus, job string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if status == WorkerStatusIdle && w.status == WorkerStatusWorking {
		w.jobsProcessed++
	}
	w.status = status
	w.currentJob = job
	w.lastActivity = time.Now()
}
