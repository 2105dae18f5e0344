package server

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhs/lcfit/internal/fit"
	"github.com/jhs/lcfit/internal/lightcurve"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobConfig is the body of a fit request. The curve comes either from a CSV
// file on the server (Input) or inline (Timestamps and Flux).
type JobConfig struct {
	Input      string    `json:"input,omitempty"`
	Timestamps []float64 `json:"timestamps,omitempty"`
	Flux       []float64 `json:"flux,omitempty"`

	// Optional overrides of the server's fit configuration
	Global  string `json:"global,omitempty"`
	Seed    *int64 `json:"seed,omitempty"`
	Workers int    `json:"workers,omitempty"`
	Angular *bool  `json:"angular,omitempty"`
}

// Validate checks that the request names exactly one curve source
func (c JobConfig) Validate() error {
	inline := len(c.Timestamps) > 0 || len(c.Flux) > 0
	if c.Input == "" && !inline {
		return fmt.Errorf("input or timestamps/flux is required")
	}
	if c.Input != "" && inline {
		return fmt.Errorf("input and inline samples are mutually exclusive")
	}
	if inline && len(c.Timestamps) != len(c.Flux) {
		return fmt.Errorf("timestamps and flux must have the same length")
	}
	switch c.Global {
	case "", fit.GlobalCircuit, fit.GlobalMayfly:
	default:
		return fmt.Errorf("unknown global optimizer %q", c.Global)
	}
	return nil
}

// apply returns base with the request's overrides
func (c JobConfig) apply(base fit.Config) fit.Config {
	if c.Global != "" {
		base.Optimizer.Global = c.Global
	}
	if c.Seed != nil {
		base.Seed = *c.Seed
	}
	if c.Workers > 0 {
		base.Optimizer.Workers = c.Workers
	}
	if c.Angular != nil {
		base.Geometry.Angular = *c.Angular
	}
	return base
}

// inlineCurve builds the light curve from the inline samples
func (c JobConfig) inlineCurve() (lightcurve.LightCurve, error) {
	return lightcurve.FromArrays(c.Timestamps, c.Flux)
}

// Job represents a fit job
type Job struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Config     JobConfig  `json:"config"`
	Stage      string     `json:"stage,omitempty"`
	BestCost   float64    `json:"bestCost"`
	Iterations int        `json:"iterations"`
	RunID      string     `json:"runId,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// GetJob returns a snapshot of the job
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// publishFinal sends the job's final snapshot to stream subscribers and
// releases its feed. Streams opened later read the snapshot directly.
func (jm *JobManager) publishFinal(id string) {
	job, ok := jm.GetJob(id)
	if !ok {
		return
	}
	jm.broadcaster.Broadcast(eventFor(job))
	jm.broadcaster.CleanupJob(id)
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, *job)
		}
	}
	return runningJobs
}
