package repository

import (
	"sync"

	"kjandoc-demoware/core/models"
)

// JobRegistry holds merge jobs in memory, keyed by client-supplied job id.
// Every call runs in a single critical section over the whole registry.
type JobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// NewJobRegistry creates an empty job registry
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		jobs: make(map[string]*models.Job),
	}
}

// Create stores job under jobID, replacing any previous record for that id
func (r *JobRegistry) Create(jobID string, job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[jobID] = &job
}

// Update applies fn to the stored record. Missing ids are ignored.
func (r *JobRegistry) Update(jobID string, fn func(job *models.Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	fn(job)
}

// Get returns a snapshot of the job
func (r *JobRegistry) Get(jobID string) (models.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// Stats counts jobs per status
func (r *JobRegistry) Stats() map[models.JobStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[models.JobStatus]int, len(models.AllJobStatuses))
	for _, status := range models.AllJobStatuses {
		counts[status] = 0
	}
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts
}
