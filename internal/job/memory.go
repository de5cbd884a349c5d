package job

import (
	"context"
	"slices"
	"sync"
)

// DefaultCapacity is how many snapshots a MemoryRepository keeps.
const DefaultCapacity = 500

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// Once capacity is exceeded the oldest finished jobs are evicted; running
// jobs are never evicted. Jobs do not survive a restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	capacity int
}

// MemoryOption configures a MemoryRepository.
type MemoryOption func(*MemoryRepository)

// WithCapacity bounds the number of stored snapshots.
func WithCapacity(n int) MemoryOption {
	return func(r *MemoryRepository) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		jobs:     make(map[string]*Job),
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save stores a clone of job and evicts old finished jobs over capacity.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	snapshot := job.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[snapshot.ID] = snapshot
	r.evictLocked()
	return nil
}

// FindByID retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones ordered by creation time, newest first.
func (r *MemoryRepository) List(_ context.Context, limit int) ([]*Job, error) {
	r.mu.RLock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	r.mu.RUnlock()

	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// evictLocked drops the oldest terminal jobs until the map fits capacity.
func (r *MemoryRepository) evictLocked() {
	excess := len(r.jobs) - r.capacity
	if excess <= 0 {
		return
	}

	finished := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if job.IsTerminal() {
			finished = append(finished, job)
		}
	}
	sortNewestFirst(finished)

	for i := len(finished) - 1; i >= 0 && excess > 0; i-- {
		delete(r.jobs, finished[i].ID)
		excess--
	}
}

func sortNewestFirst(jobs []*Job) {
	slices.SortFunc(jobs, func(a, b *Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
