// Package server provides the HTTP server for the channel trailer API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// BuildTrailerRequest is the HTTP request body for building a trailer from
// explicit video references.
type BuildTrailerRequest struct {
	// Videos are the ordered video references passed to yt-dlp.
	Videos []string `json:"videos" validate:"required,min=1,dive,required"`
	// JobID optionally names the job. Characters outside [A-Za-z0-9] are dropped.
	JobID string `json:"job_id" validate:"omitempty,max=256"`
	// Cleanup removes the workspace after the trailer has been sent.
	Cleanup bool `json:"cleanup"`
}

// ChannelTrailerRequest is the HTTP request body for building a trailer from
// random recent uploads of a channel.
type ChannelTrailerRequest struct {
	// Channel is a channel URL, handle, user, custom name or video URL.
	Channel string `json:"channel" validate:"required"`
	// Count is how many videos to sample. Zero means the server default.
	Count int `json:"count" validate:"omitempty,min=1,max=20"`
	// JobID optionally names the job.
	JobID string `json:"job_id" validate:"omitempty,max=256"`
	// Cleanup removes the workspace after the trailer has been sent.
	Cleanup bool `json:"cleanup"`
}

// StageResponse is the pipeline step a running job is on.
type StageResponse struct {
	Phase string `json:"phase"`
	Index int    `json:"index"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Channel is the resolved channel ID for channel builds.
	Channel string `json:"channel,omitempty"`
	// Stage is set while the job is running.
	Stage *StageResponse `json:"stage,omitempty"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Sources is how many sources the job attempts.
	Sources int `json:"sources"`
	// Dropped is how many requested sources were over the limit.
	Dropped int `json:"dropped,omitempty"`
	// Clips are the source indices that produced a clip.
	Clips []int `json:"clips"`
	// Skipped are the source indices that failed.
	Skipped []int `json:"skipped"`
	// Reason classifies a failed job.
	Reason string `json:"reason,omitempty"`
	// Error contains the failure or cancellation message.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is set once the job is terminal.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// CancelResponse is the HTTP response after requesting a cancellation.
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// JobID points at the job whose status log explains the failure.
	JobID string `json:"job_id,omitempty"`
}

// ToolStatus reports one external executable.
type ToolStatus struct {
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is "ok", or "degraded" when a required executable is missing.
	Status          string     `json:"status"`
	YTDLP           ToolStatus `json:"yt_dlp"`
	FFmpeg          ToolStatus `json:"ffmpeg"`
	ChannelsEnabled bool       `json:"channels_enabled"`
}
