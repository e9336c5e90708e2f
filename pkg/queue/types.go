package queue

import "time"

// DispatcherHealth contains health information for the dispatcher.
type DispatcherHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	PodID         string         `json:"pod_id"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueuedJobs    int            `json:"queued_jobs"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJob    string       `json:"current_job,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	Queued        int          `json:"queued"`
	LastActivity  time.Time    `json:"last_activity"`
}
