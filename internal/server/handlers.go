package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/channel-trailer-api/internal/job"
	"github.com/maauso/channel-trailer-api/internal/media"
	"github.com/maauso/channel-trailer-api/internal/workspace"
	"github.com/maauso/channel-trailer-api/internal/youtube"
)

// StatusClientClosedRequest is the non-standard status used when a build was
// cancelled before it produced a trailer.
const StatusClientClosedRequest = 499

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.TrailerService
	validator *validator.Validate
	logger    *slog.Logger
	toolCheck func() media.DependencyReport
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithToolCheck sets the function used by the health check to look up the
// external executables.
func WithToolCheck(check func() media.DependencyReport) HandlerOption {
	return func(h *Handlers) {
		if check != nil {
			h.toolCheck = check
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.TrailerService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		toolCheck: func() media.DependencyReport { return media.DependencyStatus("", "") },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	report := h.toolCheck()
	resp := HealthResponse{
		Status:          "ok",
		YTDLP:           ToolStatus{Found: report.YTDLPFound, Path: report.YTDLPPath},
		FFmpeg:          ToolStatus{Found: report.FFmpegFound, Path: report.FFmpegPath},
		ChannelsEnabled: h.service.ChannelsEnabled(),
	}
	if !report.OK() {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// BuildTrailer handles POST /trailers requests. The trailer is built while
// the request is open and streamed back as video/mp4.
func (h *Handlers) BuildTrailer(w http.ResponseWriter, r *http.Request) {
	var req BuildTrailerRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Build(r.Context(), job.BuildInput{
		Sources: req.Videos,
		JobID:   req.JobID,
		Cleanup: req.Cleanup,
	})
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	defer res.Release()

	h.serveTrailer(w, r, res)
}

// BuildChannelTrailer handles POST /channels/trailer requests.
func (h *Handlers) BuildChannelTrailer(w http.ResponseWriter, r *http.Request) {
	var req ChannelTrailerRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.BuildFromChannel(r.Context(), job.ChannelInput{
		Channel: req.Channel,
		Count:   req.Count,
		JobID:   req.JobID,
		Cleanup: req.Cleanup,
	})
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	defer res.Release()

	h.serveTrailer(w, r, res)
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), "VALIDATION_ERROR")
			return
		}
		limit = n
	}

	jobs, err := h.service.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(foundJob))
}

// GetJobLogs handles GET /jobs/{id}/logs requests.
func (h *Handlers) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	data, err := h.service.ReadLog(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no workspace for job", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to read status log",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read status log", "LOG_READ_FAILED")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobNotRunning) {
			writeErrorForJob(w, http.StatusConflict, "job is not running", "JOB_NOT_RUNNING", jobID)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to cancel job", "CANCEL_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, CancelResponse{ID: jobID, Status: "cancelling"})
}

// decode reads and validates a JSON body. It writes the error response and
// returns false when the body is unusable.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// serveTrailer streams the assembled trailer.
func (h *Handlers) serveTrailer(w http.ResponseWriter, r *http.Request, res *job.BuildResult) {
	f, err := os.Open(res.OutputPath)
	if err != nil {
		h.logger.Error("failed to open trailer",
			slog.String("job_id", res.JobID),
			slog.String("error", err.Error()),
		)
		writeErrorForJob(w, http.StatusInternalServerError, "trailer is not readable", "ASSEMBLY_FAILED", res.JobID)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeErrorForJob(w, http.StatusInternalServerError, "trailer is not readable", "ASSEMBLY_FAILED", res.JobID)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="trailer-%s.mp4"`, res.JobID))
	w.Header().Set("X-Job-ID", res.JobID)
	w.Header().Set("X-Clip-Count", strconv.Itoa(len(res.Clips)))
	if res.Channel != "" {
		w.Header().Set("X-Channel-ID", res.Channel)
	}
	http.ServeContent(w, r, "trailer.mp4", info.ModTime(), f)

	h.logger.Info("trailer delivered",
		slog.String("job_id", res.JobID),
		slog.Int("clips", len(res.Clips)),
		slog.Int64("bytes", info.Size()),
	)
}

// writeBuildError maps a build or sampling failure to an HTTP response.
func (h *Handlers) writeBuildError(w http.ResponseWriter, err error) {
	var jobID string
	var buildErr *job.BuildError
	if errors.As(err, &buildErr) {
		jobID = buildErr.JobID
	}

	status, code := buildErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("trailer build failed",
			slog.String("job_id", jobID),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}
	writeErrorForJob(w, status, err.Error(), code, jobID)
}

// buildErrorStatus returns the HTTP status and error code for err.
func buildErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, job.ErrNoSources), errors.Is(err, youtube.ErrInvalidReference):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, job.ErrJobInProgress):
		return http.StatusConflict, "JOB_IN_PROGRESS"
	case errors.Is(err, job.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMED_OUT"
	case errors.Is(err, job.ErrCancelled), errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "CANCELLED"
	case errors.Is(err, job.ErrNoClips):
		return http.StatusUnprocessableEntity, "NO_CLIPS"
	case errors.Is(err, job.ErrAssemblyFailed):
		return http.StatusInternalServerError, "ASSEMBLY_FAILED"
	case errors.Is(err, job.ErrInfrastructure), errors.Is(err, job.ErrSamplerRequired):
		return http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE"
	case errors.Is(err, youtube.ErrChannelNotFound):
		return http.StatusNotFound, "CHANNEL_NOT_FOUND"
	case errors.Is(err, youtube.ErrNoUploads):
		return http.StatusNotFound, "NO_UPLOADS"
	case errors.Is(err, youtube.ErrRateLimited),
		errors.Is(err, youtube.ErrServerError),
		errors.Is(err, youtube.ErrRequestFailed):
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Channel:   j.Channel,
		Progress:  j.Progress,
		Sources:   len(j.Sources),
		Dropped:   j.Dropped,
		Clips:     j.Clips,
		Skipped:   j.Skipped,
		Reason:    string(j.Reason),
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Status == job.StatusRunning && j.Stage.Phase != "" {
		resp.Stage = &StageResponse{Phase: string(j.Stage.Phase), Index: j.Stage.Index}
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeErrorForJob(w, status, message, code, "")
}

func writeErrorForJob(w http.ResponseWriter, status int, message, code, jobID string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
		JobID: jobID,
	})
}
