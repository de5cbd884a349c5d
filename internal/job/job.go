// Package job provides the Job aggregate for trailer builds and the
// TrailerService that drives a job through fetch, extract and assemble.
// A Job is mutated only by the service running it; everyone else reads
// clones from the Repository.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusCreated indicates the job exists but has not started processing.
	StatusCreated Status = "CREATED"
	// StatusRunning indicates the pipeline is working on the job.
	StatusRunning Status = "RUNNING"
	// StatusSucceeded indicates the trailer was assembled.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed indicates the job ended without a trailer. See Reason.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled or timed out.
	StatusCancelled Status = "CANCELLED"
)

// Phase names the pipeline step a running job is in.
type Phase string

const (
	// PhaseFetching downloads a source.
	PhaseFetching Phase = "FETCHING"
	// PhaseExtracting cuts a clip from a downloaded source.
	PhaseExtracting Phase = "EXTRACTING"
	// PhaseAssembling concatenates the clips.
	PhaseAssembling Phase = "ASSEMBLING"
)

// Stage is the current phase plus the source index it applies to.
// Index is -1 for the assembling phase.
type Stage struct {
	Phase Phase `json:"phase"`
	Index int   `json:"index"`
}

// Reason classifies why a job failed.
type Reason string

const (
	// ReasonNoClips means every source failed to produce a clip.
	ReasonNoClips Reason = "no_clips"
	// ReasonAssembly means the clips could not be concatenated.
	ReasonAssembly Reason = "assembly"
	// ReasonInfrastructure means an executable could not be started or the
	// workspace could not be prepared.
	ReasonInfrastructure Reason = "infrastructure"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusCreated:   {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Job represents one trailer build.
type Job struct {
	mu sync.RWMutex

	// ID is the alphanumeric job identifier. It also names the workspace.
	ID string
	// Channel is the resolved channel ID for channel builds, empty otherwise.
	Channel string
	// Sources are the ordered source references, already truncated.
	Sources []string
	// Dropped is how many requested sources were cut by the source limit.
	Dropped int
	// WorkDir is the job workspace directory.
	WorkDir string
	// Status is the current job state.
	Status Status
	// Stage is the step the pipeline is on while running.
	Stage Stage
	// Reason classifies a FAILED job.
	Reason Reason
	// Error contains the failure or cancellation message.
	Error string
	// Clips are the source indices that produced a clip, ascending.
	Clips []int
	// Skipped are the source indices that failed to fetch or cut, ascending.
	Skipped []int
	// Progress is the percentage of pipeline steps done (0-100).
	Progress int
	// OutputPath is the assembled trailer, set on success.
	OutputPath string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a Job in CREATED state for the given ID and sources.
func New(jobID string, sources []string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Sources:   slices.Clone(sources),
		Status:    StatusCreated,
		Clips:     make([]int, 0),
		Skipped:   make([]int, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusSucceeded, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from CREATED to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Succeed records the trailer path and transitions to SUCCEEDED.
func (j *Job) Succeed(outputPath string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusSucceeded); err != nil {
		return err
	}
	j.OutputPath = outputPath
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED with a reason and message.
func (j *Job) Fail(reason Reason, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Reason = reason
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED with a message.
func (j *Job) Cancel(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCancelled); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetStage records the step the pipeline is on.
func (j *Job) SetStage(phase Phase, index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = Stage{Phase: phase, Index: index}
	j.UpdatedAt = time.Now()
}

// AddClip records that source index produced a clip.
func (j *Job) AddClip(index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Clips = append(j.Clips, index)
	j.UpdatedAt = time.Now()
}

// Skip records that source index was dropped after a recoverable failure.
func (j *Job) Skip(index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Skipped = append(j.Skipped, index)
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusSucceeded ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Channel:     j.Channel,
		Sources:     slices.Clone(j.Sources),
		Dropped:     j.Dropped,
		WorkDir:     j.WorkDir,
		Status:      j.Status,
		Stage:       j.Stage,
		Reason:      j.Reason,
		Error:       j.Error,
		Clips:       slices.Clone(j.Clips),
		Skipped:     slices.Clone(j.Skipped),
		Progress:    j.Progress,
		OutputPath:  j.OutputPath,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
