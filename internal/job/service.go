package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/maauso/channel-trailer-api/internal/job/id"
	"github.com/maauso/channel-trailer-api/internal/media"
	"github.com/maauso/channel-trailer-api/internal/runner"
	"github.com/maauso/channel-trailer-api/internal/workspace"
)

// DefaultMaxSources is the maximum number of sources used by one build.
const DefaultMaxSources = 20

// Static errors returned by TrailerService.
var (
	// ErrNoSources is returned when a build request has no usable source reference.
	ErrNoSources = errors.New("no sources provided")
	// ErrNoClips is returned when every source failed to produce a clip.
	ErrNoClips = errors.New("no clips produced")
	// ErrAssemblyFailed is returned when the clips could not be concatenated.
	ErrAssemblyFailed = errors.New("trailer assembly failed")
	// ErrInfrastructure is returned when an executable cannot be started or
	// the workspace cannot be prepared.
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrCancelled is returned when the build was cancelled or timed out.
	ErrCancelled = errors.New("build cancelled")
	// ErrTimedOut is the cancellation cause of a build that ran past the
	// build timeout. It is always wrapped together with ErrCancelled.
	ErrTimedOut = errors.New("build timed out")
	// ErrJobInProgress is returned when a build with the same job ID is running.
	ErrJobInProgress = errors.New("job already in progress")
	// ErrJobNotRunning is returned by Cancel when no build with that ID is running.
	ErrJobNotRunning = errors.New("job not running")
	// ErrSamplerRequired is returned by BuildFromChannel without a ChannelSampler.
	ErrSamplerRequired = errors.New("channel builds require a channel sampler")
)

// BuildError reports a build that ended without a trailer. It carries the
// job ID so callers can point users at the status log.
type BuildError struct {
	JobID  string
	Reason Reason
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// ChannelSampler picks videos from a channel.
type ChannelSampler interface {
	// SampleChannel resolves reference to a channel and returns its ID and up
	// to count randomly chosen video references from recent uploads.
	SampleChannel(ctx context.Context, reference string, count int) (channelID string, videos []string, err error)
}

// BuildInput contains the parameters of a trailer build.
type BuildInput struct {
	// Sources are ordered video references passed to the downloader.
	Sources []string
	// JobID is optional. It is sanitized to [A-Za-z0-9]; empty means generate.
	JobID string
	// Cleanup removes the workspace once the result has been delivered.
	Cleanup bool
}

// ChannelInput contains the parameters of a channel trailer build.
type ChannelInput struct {
	// Channel is any channel, handle, user, custom or video reference.
	Channel string
	// Count is how many videos to sample. Zero means the service default.
	Count int
	// JobID and Cleanup behave as in BuildInput.
	JobID   string
	Cleanup bool
}

// BuildResult describes a finished trailer. Release must be called once the
// trailer has been delivered.
type BuildResult struct {
	// JobID identifies the job and its workspace.
	JobID string
	// Channel is the resolved channel for channel builds.
	Channel string
	// OutputPath is the assembled trailer.
	OutputPath string
	// Clips are the source indices that made it into the trailer.
	Clips []int
	// Sources is how many sources were attempted.
	Sources int

	ws      *workspace.Workspace
	cleanup bool
	once    sync.Once
}

// Release disposes of the workspace, deleting it in the background when the
// build asked for cleanup. Safe to call more than once.
func (r *BuildResult) Release() {
	r.once.Do(func() {
		if r.ws != nil {
			r.ws.Dispose(r.cleanup)
		}
	})
}

// TrailerService runs trailer builds. Each build is sequential; separate
// builds run concurrently and share nothing but the workspace root.
type TrailerService struct {
	repo       Repository
	workspaces *workspace.Manager
	fetcher    media.Fetcher
	extractor  media.ClipExtractor
	assembler  media.Assembler
	sampler    ChannelSampler
	logger     *slog.Logger

	maxSources int
	sampleSize int
	timeout    time.Duration

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// ServiceOption configures a TrailerService.
type ServiceOption func(*TrailerService)

// WithMaxSources caps how many sources one build uses.
func WithMaxSources(n int) ServiceOption {
	return func(s *TrailerService) {
		if n > 0 {
			s.maxSources = n
		}
	}
}

// WithDefaultSampleSize sets how many videos a channel build samples when
// the request does not say.
func WithDefaultSampleSize(n int) ServiceOption {
	return func(s *TrailerService) {
		if n > 0 {
			s.sampleSize = n
		}
	}
}

// WithBuildTimeout bounds the duration of each build. Zero disables it.
func WithBuildTimeout(d time.Duration) ServiceOption {
	return func(s *TrailerService) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// WithChannelSampler enables BuildFromChannel.
func WithChannelSampler(sampler ChannelSampler) ServiceOption {
	return func(s *TrailerService) {
		s.sampler = sampler
	}
}

// NewTrailerService creates a new TrailerService.
func NewTrailerService(
	repo Repository,
	workspaces *workspace.Manager,
	fetcher media.Fetcher,
	extractor media.ClipExtractor,
	assembler media.Assembler,
	logger *slog.Logger,
	opts ...ServiceOption,
) *TrailerService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TrailerService{
		repo:       repo,
		workspaces: workspaces,
		fetcher:    fetcher,
		extractor:  extractor,
		assembler:  assembler,
		logger:     logger,
		maxSources: DefaultMaxSources,
		sampleSize: 10,
		running:    make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxSources returns the per-build source limit.
func (s *TrailerService) MaxSources() int {
	return s.maxSources
}

// ChannelsEnabled reports whether BuildFromChannel has a sampler to use.
func (s *TrailerService) ChannelsEnabled() bool {
	return s.sampler != nil
}

// GetJob retrieves a job snapshot by ID.
func (s *TrailerService) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns up to limit job snapshots, newest first.
func (s *TrailerService) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.List(ctx, limit)
}

// ReadLog returns the status log of a job's workspace. It works while the
// job is running and after it finished, as long as the workspace exists.
func (s *TrailerService) ReadLog(_ context.Context, jobID string) ([]byte, error) {
	ws, err := s.workspaces.Lookup(jobID)
	if err != nil {
		return nil, err
	}
	return ws.ReadStatus()
}

// Cancel stops a running build. The build itself records the cancellation.
func (s *TrailerService) Cancel(_ context.Context, jobID string) error {
	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}
	cancel(errors.New("cancelled by request"))
	s.logger.Info("job cancellation requested", slog.String("job_id", jobID))
	return nil
}

// BuildFromChannel samples videos from a channel and builds a trailer from them.
func (s *TrailerService) BuildFromChannel(ctx context.Context, in ChannelInput) (*BuildResult, error) {
	if s.sampler == nil {
		return nil, ErrSamplerRequired
	}

	count := in.Count
	if count <= 0 {
		count = s.sampleSize
	}
	count = min(count, s.maxSources)

	channelID, videos, err := s.sampler.SampleChannel(ctx, in.Channel, count)
	if err != nil {
		s.logger.Warn("channel sampling failed",
			slog.String("channel", in.Channel),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("channel sampled",
		slog.String("channel", in.Channel),
		slog.String("channel_id", channelID),
		slog.Int("videos", len(videos)),
	)

	return s.build(ctx, BuildInput{Sources: videos, JobID: in.JobID, Cleanup: in.Cleanup}, channelID)
}

// Build downloads each source, cuts one clip per source and concatenates the
// clips in source order. Sources that fail to download or cut are skipped.
// The returned error is a *BuildError once a job exists.
func (s *TrailerService) Build(ctx context.Context, in BuildInput) (*BuildResult, error) {
	return s.build(ctx, in, "")
}

func (s *TrailerService) build(ctx context.Context, in BuildInput, channelID string) (*BuildResult, error) {
	sources := make([]string, 0, len(in.Sources))
	for _, src := range in.Sources {
		if src = strings.TrimSpace(src); src != "" {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	dropped := 0
	if len(sources) > s.maxSources {
		dropped = len(sources) - s.maxSources
		sources = sources[:s.maxSources]
	}

	jobID := id.Resolve(in.JobID)

	ctx, cancel := s.withDeadline(ctx)
	defer cancel(nil)

	if err := s.register(jobID, cancel); err != nil {
		return nil, &BuildError{JobID: jobID, Err: err}
	}
	defer s.unregister(jobID)

	j := New(jobID, sources)
	j.Channel = channelID
	j.Dropped = dropped

	logger := s.logger.With(slog.String("job_id", jobID))

	ws, err := s.workspaces.Open(jobID)
	if err != nil {
		_ = j.Fail(ReasonInfrastructure, err.Error())
		s.save(j)
		logger.Error("failed to open workspace", slog.String("error", err.Error()))
		return nil, &BuildError{JobID: jobID, Reason: ReasonInfrastructure, Err: fmt.Errorf("%w: %w", ErrInfrastructure, err)}
	}
	j.WorkDir = ws.Dir()

	// A reused job ID must not see the downloads, clips or trailer of the
	// previous build.
	if err := ws.ClearArtifacts(); err != nil {
		ws.Statusf("job %s could not clear previous artifacts: %v", jobID, err)
		_ = j.Fail(ReasonInfrastructure, err.Error())
		s.save(j)
		logger.Error("failed to clear workspace", slog.String("error", err.Error()))
		ws.Dispose(in.Cleanup)
		return nil, &BuildError{JobID: jobID, Reason: ReasonInfrastructure, Err: fmt.Errorf("%w: %w", ErrInfrastructure, err)}
	}

	ws.Statusf("job %s started with %d sources", jobID, len(sources))
	if channelID != "" {
		ws.Statusf("channel %s", channelID)
	}
	if dropped > 0 {
		ws.Statusf("truncated %d sources beyond the limit of %d", dropped, s.maxSources)
		logger.Info("sources truncated",
			slog.Int("dropped", dropped),
			slog.Int("max_sources", s.maxSources),
		)
	}

	_ = j.Start()
	s.save(j)
	logger.Info("build started", slog.Int("sources", len(sources)))

	clips, err := s.collectClips(ctx, j, ws)
	if err == nil {
		err = s.assemble(ctx, j, ws, clips)
	}
	if err != nil {
		return nil, s.finishWithError(ctx, j, ws, in.Cleanup, err, logger)
	}

	_ = j.Succeed(ws.FinalPath())
	s.save(j)
	snapshot := j.Clone()
	ws.Statusf("job succeeded with %d clips: %s", len(snapshot.Clips), ws.FinalPath())
	logger.Info("build succeeded",
		slog.Int("clips", len(snapshot.Clips)),
		slog.Int("skipped", len(snapshot.Skipped)),
	)

	return &BuildResult{
		JobID:      jobID,
		Channel:    channelID,
		OutputPath: ws.FinalPath(),
		Clips:      snapshot.Clips,
		Sources:    len(sources),
		ws:         ws,
		cleanup:    in.Cleanup,
	}, nil
}

// collectClips fetches and cuts every source in order. Recoverable per-source
// failures are skipped; only cancellation and start failures stop the loop.
func (s *TrailerService) collectClips(ctx context.Context, j *Job, ws *workspace.Workspace) ([]string, error) {
	total := 2*len(j.Sources) + 1
	done := 0
	step := func() {
		done++
		j.UpdateProgress(done * 100 / total)
		s.save(j)
	}

	clips := make([]string, 0, len(j.Sources))
	for i, ref := range j.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		j.SetStage(PhaseFetching, i)
		s.save(j)
		path, ok, err := s.fetcher.Fetch(ctx, ws, i, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			j.Skip(i)
			done++ // no extraction for this source
			step()
			continue
		}
		step()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		j.SetStage(PhaseExtracting, i)
		s.save(j)
		ok, err = s.extractor.Extract(ctx, ws, i, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			j.Skip(i)
			step()
			continue
		}

		j.AddClip(i)
		clips = append(clips, ws.ClipPath(i))
		step()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, ErrNoClips
	}
	return clips, nil
}

func (s *TrailerService) assemble(ctx context.Context, j *Job, ws *workspace.Workspace, clips []string) error {
	j.SetStage(PhaseAssembling, -1)
	s.save(j)

	err := s.assembler.Assemble(ctx, ws, clips)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, media.ErrNoClips):
		return ErrNoClips
	case errors.Is(err, media.ErrAssemblyFailed), errors.Is(err, media.ErrPathOutsideWorkspace):
		return fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
	default:
		return err
	}
}

// finishWithError moves the job to its terminal state, records it in the
// status log and returns the matching *BuildError.
func (s *TrailerService) finishWithError(
	ctx context.Context,
	j *Job,
	ws *workspace.Workspace,
	cleanup bool,
	err error,
	logger *slog.Logger,
) error {
	defer ws.Dispose(cleanup)

	if ctx.Err() != nil || errors.Is(err, runner.ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = err
		}
		_ = os.Remove(ws.FinalPath())
		_ = j.Cancel(cause.Error())
		s.save(j)
		if errors.Is(cause, ErrTimedOut) {
			ws.Statusf("job timed out: %v", cause)
		} else {
			ws.Statusf("job cancelled: %v", cause)
		}
		logger.Warn("build cancelled", slog.String("cause", cause.Error()))
		return &BuildError{JobID: j.ID, Err: fmt.Errorf("%w: %w", ErrCancelled, cause)}
	}

	var reason Reason
	switch {
	case errors.Is(err, ErrNoClips):
		reason = ReasonNoClips
	case errors.Is(err, ErrAssemblyFailed):
		reason = ReasonAssembly
	default:
		reason = ReasonInfrastructure
		if !errors.Is(err, ErrInfrastructure) {
			err = fmt.Errorf("%w: %w", ErrInfrastructure, err)
		}
	}

	_ = j.Fail(reason, err.Error())
	s.save(j)
	ws.Statusf("job failed (%s): %v", reason, err)
	logger.Error("build failed",
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()),
	)
	return &BuildError{JobID: j.ID, Reason: reason, Err: err}
}

// withDeadline derives the build context: cancellable by Cancel and bounded
// by the build timeout.
func (s *TrailerService) withDeadline(parent context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if s.timeout <= 0 {
		return ctx, cancel
	}
	timed, stop := context.WithTimeoutCause(ctx, s.timeout, fmt.Errorf("%w after %s", ErrTimedOut, s.timeout))
	return timed, func(cause error) {
		cancel(cause)
		stop()
	}
}

func (s *TrailerService) register(jobID string, cancel context.CancelCauseFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrJobInProgress, jobID)
	}
	s.running[jobID] = cancel
	return nil
}

func (s *TrailerService) unregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// save stores a snapshot. The in-memory repository cannot fail; other
// implementations only lose status visibility, so errors are logged.
func (s *TrailerService) save(j *Job) {
	if err := s.repo.Save(context.Background(), j); err != nil {
		s.logger.Warn("failed to save job snapshot",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}
