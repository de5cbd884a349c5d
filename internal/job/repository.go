package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository stores job snapshots for status queries.
type Repository interface {
	// Save stores a snapshot of job, replacing any previous one with the same ID.
	Save(ctx context.Context, job *Job) error

	// FindByID retrieves a job snapshot by its identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns snapshots ordered newest first, at most limit of them.
	// A limit <= 0 returns everything.
	List(ctx context.Context, limit int) ([]*Job, error)
}
