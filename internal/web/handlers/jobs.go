package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/registry"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// RescanJob represents an async full rescan of one pool.
type RescanJob struct {
	EventBroadcaster
	RescanJobInfo
}

// RescanJobInfo is the encodable state of a rescan job.
type RescanJobInfo struct {
	ID          string                  `json:"id"`
	Pool        database.Pool           `json:"pool"`
	MaxDistance float64                 `json:"max_distance,omitempty"`
	Status      JobStatus               `json:"status"`
	Progress    registry.RescanProgress `json:"progress"`
	Error       string                  `json:"error,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Result      *registry.RescanResult  `json:"result,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *RescanJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Snapshot returns a copy of the job state.
func (j *RescanJob) Snapshot() RescanJobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.RescanJobInfo
}

// Cancel stops the rescan. The job turns cancelled once the running units have returned.
func (j *RescanJob) Cancel() {
	j.EventBroadcaster.Cancel()
}

func (j *RescanJob) setStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
}

func (j *RescanJob) setProgress(p registry.RescanProgress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = p
}

// finish records the outcome and moves the job to a terminal state.
func (j *RescanJob) finish(status JobStatus, result *registry.RescanResult, errMsg string) {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Result = result
	j.Error = errMsg
	j.CompletedAt = &now
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (b *EventBroadcaster) setCancel(cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel = cancel
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async rescan jobs.
type JobManager struct {
	jobs map[string]*RescanJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*RescanJob),
	}
}

// CreateJob creates a new rescan job. It returns nil when a rescan of the
// same pool is still pending or running.
func (m *JobManager) CreateJob(id string, pool database.Pool, maxDistance float64) *RescanJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Pool == pool && !isJobTerminal(job.GetStatus()) {
			return nil
		}
	}

	job := &RescanJob{RescanJobInfo: RescanJobInfo{
		ID:          id,
		Pool:        pool,
		MaxDistance: maxDistance,
		Status:      JobStatusPending,
		StartedAt:   time.Now(),
	}}
	m.jobs[id] = job
	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *RescanJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*RescanJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*RescanJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// CancelAll cancels every job that has not finished yet.
func (m *JobManager) CancelAll() {
	for _, job := range m.ListJobs() {
		if !isJobTerminal(job.GetStatus()) {
			job.Cancel()
		}
	}
}
