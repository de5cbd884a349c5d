package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/channel-trailer-api/internal/media"
	"github.com/maauso/channel-trailer-api/internal/runner"
	"github.com/maauso/channel-trailer-api/internal/workspace"
)

var cancelledRun = fmt.Errorf("%w: %w", runner.ErrCancelled, context.Canceled)

// fakeFetcher writes a source file for each reference unless told otherwise.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]bool
	// hook runs before the file is written and may replace the outcome.
	hook func(ctx context.Context, ws *workspace.Workspace, index int) error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ws *workspace.Workspace, index int, _ string) (string, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, index)
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(ctx, ws, index); err != nil {
			return "", false, err
		}
	}
	if f.fail[index] {
		ws.Statusf("fetch[%d] failed exit=1", index)
		return "", false, nil
	}
	path := ws.DownloadPrefix(index) + ".mp4"
	if err := os.WriteFile(path, []byte("source"), 0o600); err != nil {
		return "", false, err
	}
	return path, true, nil
}

func (f *fakeFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

// fakeExtractor writes a clip for each source unless told otherwise.
type fakeExtractor struct {
	fail  map[int]bool
	calls []int
}

func (e *fakeExtractor) Extract(_ context.Context, ws *workspace.Workspace, index int, _ string) (bool, error) {
	e.calls = append(e.calls, index)
	if e.fail[index] {
		ws.Statusf("clip[%d] fallback failed exit=1", index)
		return false, nil
	}
	return true, os.WriteFile(ws.ClipPath(index), []byte("clip"), 0o600)
}

// fakeAssembler records the clips it was given and writes the trailer.
type fakeAssembler struct {
	clips [][]string
	err   error
}

func (a *fakeAssembler) Assemble(_ context.Context, ws *workspace.Workspace, clipPaths []string) error {
	a.clips = append(a.clips, clipPaths)
	if a.err != nil {
		_ = os.WriteFile(ws.FinalPath(), []byte("partial"), 0o600)
		return a.err
	}
	return os.WriteFile(ws.FinalPath(), []byte("trailer"), 0o600)
}

// mockSampler implements ChannelSampler for testing.
type mockSampler struct {
	mock.Mock
}

func (m *mockSampler) SampleChannel(ctx context.Context, reference string, count int) (string, []string, error) {
	args := m.Called(ctx, reference, count)
	videos, _ := args.Get(1).([]string)
	return args.String(0), videos, args.Error(2)
}

type testService struct {
	svc       *TrailerService
	repo      *MemoryRepository
	manager   *workspace.Manager
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	assembler *fakeAssembler
}

func newTestService(t *testing.T, opts ...ServiceOption) *testService {
	t.Helper()
	manager, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	ts := &testService{
		repo:      NewMemoryRepository(),
		manager:   manager,
		fetcher:   &fakeFetcher{fail: map[int]bool{}},
		extractor: &fakeExtractor{fail: map[int]bool{}},
		assembler: &fakeAssembler{},
	}
	ts.svc = NewTrailerService(ts.repo, manager, ts.fetcher, ts.extractor, ts.assembler, nil, opts...)
	return ts
}

func sources(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://www.youtube.com/watch?v=vid%d", i)
	}
	return out
}

func readLog(t *testing.T, ts *testService, jobID string) string {
	t.Helper()
	data, err := ts.svc.ReadLog(context.Background(), jobID)
	require.NoError(t, err)
	return string(data)
}

func TestNewTrailerService_Defaults(t *testing.T) {
	ts := newTestService(t)
	assert.Equal(t, DefaultMaxSources, ts.svc.MaxSources())
	assert.Equal(t, 10, ts.svc.sampleSize)
	assert.Zero(t, ts.svc.timeout)

	ts = newTestService(t, WithMaxSources(5), WithDefaultSampleSize(3), WithBuildTimeout(time.Minute))
	assert.Equal(t, 5, ts.svc.MaxSources())
	assert.Equal(t, 3, ts.svc.sampleSize)
	assert.Equal(t, time.Minute, ts.svc.timeout)

	// Invalid values are ignored.
	ts = newTestService(t, WithMaxSources(0), WithDefaultSampleSize(-1))
	assert.Equal(t, DefaultMaxSources, ts.svc.MaxSources())
	assert.Equal(t, 10, ts.svc.sampleSize)
}

func TestBuild_SkipsFailedSourceAndKeepsOrder(t *testing.T) {
	ts := newTestService(t)
	ts.fetcher.fail[1] = true

	res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(3), JobID: "three"})
	require.NoError(t, err)
	defer res.Release()

	assert.Equal(t, "three", res.JobID)
	assert.Equal(t, []int{0, 2}, res.Clips)
	assert.Equal(t, 3, res.Sources)
	assert.FileExists(t, res.OutputPath)

	ws, err := ts.manager.Lookup("three")
	require.NoError(t, err)
	require.Len(t, ts.assembler.clips, 1)
	assert.Equal(t, []string{ws.ClipPath(0), ws.ClipPath(2)}, ts.assembler.clips[0])
	assert.Equal(t, []int{0, 1, 2}, ts.fetcher.Calls())
	assert.Equal(t, []int{0, 2}, ts.extractor.calls)

	job, err := ts.svc.GetJob(context.Background(), "three")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, []int{0, 2}, job.Clips)
	assert.Equal(t, []int{1}, job.Skipped)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, ws.Dir(), job.WorkDir)

	log := readLog(t, ts, "three")
	assert.Contains(t, log, "fetch[1] failed")
	assert.Contains(t, log, "job succeeded with 2 clips")
}

func TestBuild_ExtractFailureIsSkipped(t *testing.T) {
	ts := newTestService(t)
	ts.extractor.fail[0] = true

	res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(2), JobID: "cut"})
	require.NoError(t, err)
	defer res.Release()

	assert.Equal(t, []int{1}, res.Clips)
}

func TestBuild_AllSourcesFail(t *testing.T) {
	ts := newTestService(t)
	ts.fetcher.fail[0] = true
	ts.extractor.fail[1] = true

	res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(2), JobID: "none"})

	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrNoClips)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "none", buildErr.JobID)
	assert.Equal(t, ReasonNoClips, buildErr.Reason)
	assert.Empty(t, ts.assembler.clips, "assembler must not run without clips")

	job, err := ts.svc.GetJob(context.Background(), "none")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, ReasonNoClips, job.Reason)
	assert.Contains(t, readLog(t, ts, "none"), "job failed (no_clips)")
}

func TestBuild_PreCancelledContext(t *testing.T) {
	ts := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ts.svc.Build(ctx, BuildInput{Sources: sources(3), JobID: "early"})

	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ts.fetcher.Calls())

	job, err := ts.svc.GetJob(context.Background(), "early")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Contains(t, readLog(t, ts, "early"), "job cancelled")
}

func TestBuild_RejectsEmptyInput(t *testing.T) {
	ts := newTestService(t)

	for _, in := range [][]string{nil, {}, {"", "   "}} {
		res, err := ts.svc.Build(context.Background(), BuildInput{Sources: in, JobID: "empty"})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrNoSources)
	}

	entries, err := os.ReadDir(ts.manager.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "no workspace should be created")

	_, err = ts.svc.GetJob(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestBuild_TruncatesSources(t *testing.T) {
	ts := newTestService(t)

	res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(25), JobID: "many"})
	require.NoError(t, err)
	defer res.Release()

	assert.Len(t, ts.fetcher.Calls(), DefaultMaxSources)
	assert.Equal(t, DefaultMaxSources, res.Sources)

	job, err := ts.svc.GetJob(context.Background(), "many")
	require.NoError(t, err)
	assert.Equal(t, 5, job.Dropped)
	assert.Len(t, job.Sources, DefaultMaxSources)
	assert.Contains(t, readLog(t, ts, "many"), "truncated 5 sources beyond the limit of 20")
}

func TestBuild_AssemblyFailure(t *testing.T) {
	ts := newTestService(t)
	ts.assembler.err = fmt.Errorf("%w: ffmpeg exit 1", media.ErrAssemblyFailed)

	_, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(2), JobID: "splice"})

	require.ErrorIs(t, err, ErrAssemblyFailed)
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, ReasonAssembly, buildErr.Reason)

	job, err := ts.svc.GetJob(context.Background(), "splice")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, ReasonAssembly, job.Reason)
}

func TestBuild_StartFailureStopsImmediately(t *testing.T) {
	ts := newTestService(t)
	ts.fetcher.hook = func(context.Context, *workspace.Workspace, int) error {
		return &runner.StartError{Name: "yt-dlp", Err: exec.ErrNotFound}
	}

	_, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(3), JobID: "nobin"})

	require.ErrorIs(t, err, ErrInfrastructure)
	assert.ErrorIs(t, err, runner.ErrStart)
	assert.Equal(t, []int{0}, ts.fetcher.Calls())

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, ReasonInfrastructure, buildErr.Reason)
}

func TestBuild_CancelWhileRunning(t *testing.T) {
	ts := newTestService(t)
	started := make(chan struct{})
	ts.fetcher.hook = func(ctx context.Context, ws *workspace.Workspace, index int) error {
		if index == 1 {
			_ = os.WriteFile(ws.FinalPath(), []byte("stale"), 0o600)
			close(started)
			<-ctx.Done()
			return cancelledRun
		}
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(3), JobID: "stopme"})
		errCh <- err
	}()

	<-started
	require.NoError(t, ts.svc.Cancel(context.Background(), "stopme"))

	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("build did not stop after cancel")
	}

	require.ErrorIs(t, err, ErrCancelled)
	assert.Contains(t, err.Error(), "cancelled by request")

	job, err := ts.svc.GetJob(context.Background(), "stopme")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Equal(t, []int{0}, job.Clips)

	ws, err := ts.manager.Lookup("stopme")
	require.NoError(t, err)
	assert.NoFileExists(t, ws.FinalPath())

	log := readLog(t, ts, "stopme")
	assert.Contains(t, log, "job stopme started")
	assert.Contains(t, log, "job cancelled: cancelled by request")

	assert.ErrorIs(t, ts.svc.Cancel(context.Background(), "stopme"), ErrJobNotRunning)
}

func TestBuild_Timeout(t *testing.T) {
	ts := newTestService(t, WithBuildTimeout(50*time.Millisecond))
	ts.fetcher.hook = func(ctx context.Context, _ *workspace.Workspace, _ int) error {
		<-ctx.Done()
		return cancelledRun
	}

	_, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "slow"})

	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, ErrTimedOut)

	job, err := ts.svc.GetJob(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Contains(t, job.Error, "timed out")
	assert.Contains(t, readLog(t, ts, "slow"), "job timed out")
}

func TestBuild_ReusedJobIDStartsClean(t *testing.T) {
	ts := newTestService(t)

	first, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(2), JobID: "again"})
	require.NoError(t, err)
	first.Release()
	ws, err := ts.manager.Lookup("again")
	require.NoError(t, err)
	require.FileExists(t, ws.FinalPath())

	ts.fetcher.fail = map[int]bool{0: true, 1: true}
	_, err = ts.svc.Build(context.Background(), BuildInput{Sources: sources(2), JobID: "again"})

	require.ErrorIs(t, err, ErrNoClips)
	assert.NoFileExists(t, ws.FinalPath())
	assert.NoFileExists(t, ws.ManifestPath())
	assert.NoFileExists(t, ws.DownloadPrefix(0)+".mp4")
	assert.NoFileExists(t, ws.ClipPath(1))
	// The status log keeps both runs.
	log := readLog(t, ts, "again")
	assert.Contains(t, log, "job succeeded with 2 clips")
	assert.Equal(t, 2, strings.Count(log, "job again started"))
}

func TestBuild_RejectsDuplicateRunningJob(t *testing.T) {
	ts := newTestService(t)
	started := make(chan struct{})
	release := make(chan struct{})
	ts.fetcher.hook = func(context.Context, *workspace.Workspace, int) error {
		select {
		case <-started:
		default:
			close(started)
		}
		<-release
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "dup"})
		if err == nil {
			res.Release()
		}
	}()

	<-started
	_, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "dup"})
	assert.ErrorIs(t, err, ErrJobInProgress)

	close(release)
	<-done

	// Once finished the ID can be reused.
	res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "dup"})
	require.NoError(t, err)
	res.Release()
}

func TestBuild_SanitizesAndGeneratesJobIDs(t *testing.T) {
	ts := newTestService(t)

	res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "my-job/../1"})
	require.NoError(t, err)
	res.Release()
	assert.Equal(t, "myjob1", res.JobID)

	res, err = ts.svc.Build(context.Background(), BuildInput{Sources: sources(1)})
	require.NoError(t, err)
	res.Release()
	assert.Len(t, res.JobID, 32)
	assert.True(t, workspace.ValidJobID(res.JobID))
}

func TestBuild_Cleanup(t *testing.T) {
	t.Run("success keeps files until release", func(t *testing.T) {
		ts := newTestService(t)
		res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "tidy", Cleanup: true})
		require.NoError(t, err)

		assert.FileExists(t, res.OutputPath)
		res.Release()
		res.Release()

		assert.Eventually(t, func() bool {
			_, err := ts.manager.Lookup("tidy")
			return errors.Is(err, workspace.ErrNotFound)
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("success retains files by default", func(t *testing.T) {
		ts := newTestService(t)
		res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "keep"})
		require.NoError(t, err)
		res.Release()

		time.Sleep(20 * time.Millisecond)
		assert.FileExists(t, res.OutputPath)
	})

	t.Run("failure removes workspace when requested", func(t *testing.T) {
		ts := newTestService(t)
		ts.fetcher.fail[0] = true
		_, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: "gone", Cleanup: true})
		require.ErrorIs(t, err, ErrNoClips)

		assert.Eventually(t, func() bool {
			_, err := ts.svc.ReadLog(context.Background(), "gone")
			return errors.Is(err, workspace.ErrNotFound)
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestBuild_StatusLogIsReadableWhileRunning(t *testing.T) {
	ts := newTestService(t)
	var snapshot string
	ts.fetcher.hook = func(_ context.Context, _ *workspace.Workspace, index int) error {
		if index == 1 {
			data, err := ts.svc.ReadLog(context.Background(), "live")
			if err == nil {
				snapshot = string(data)
			}
			job, err := ts.svc.GetJob(context.Background(), "live")
			if err == nil {
				assert.Equal(t, StatusRunning, job.Status)
				assert.Equal(t, Stage{Phase: PhaseFetching, Index: 1}, job.Stage)
			}
		}
		return nil
	}

	res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(2), JobID: "live"})
	require.NoError(t, err)
	res.Release()

	final := readLog(t, ts, "live")
	assert.NotEmpty(t, snapshot)
	assert.True(t, strings.HasPrefix(final, snapshot), "entries written earlier must be unchanged")
}

func TestReadLog_UnknownJob(t *testing.T) {
	ts := newTestService(t)
	_, err := ts.svc.ReadLog(context.Background(), "missing")
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestBuildFromChannel(t *testing.T) {
	t.Run("requires sampler", func(t *testing.T) {
		ts := newTestService(t)
		_, err := ts.svc.BuildFromChannel(context.Background(), ChannelInput{Channel: "@someone"})
		assert.ErrorIs(t, err, ErrSamplerRequired)
	})

	t.Run("uses default count", func(t *testing.T) {
		sampler := &mockSampler{}
		ts := newTestService(t, WithChannelSampler(sampler), WithDefaultSampleSize(4))
		sampler.On("SampleChannel", mock.Anything, "@someone", 4).
			Return("UC1234567890123456789012", sources(4), nil).Once()

		res, err := ts.svc.BuildFromChannel(context.Background(), ChannelInput{Channel: "@someone", JobID: "chan"})
		require.NoError(t, err)
		defer res.Release()

		assert.Equal(t, "UC1234567890123456789012", res.Channel)
		assert.Equal(t, []int{0, 1, 2, 3}, res.Clips)

		job, err := ts.svc.GetJob(context.Background(), "chan")
		require.NoError(t, err)
		assert.Equal(t, "UC1234567890123456789012", job.Channel)
		assert.Contains(t, readLog(t, ts, "chan"), "channel UC1234567890123456789012")
		sampler.AssertExpectations(t)
	})

	t.Run("caps count at max sources", func(t *testing.T) {
		sampler := &mockSampler{}
		ts := newTestService(t, WithChannelSampler(sampler), WithMaxSources(3))
		sampler.On("SampleChannel", mock.Anything, "@someone", 3).
			Return("UCx", sources(3), nil).Once()

		res, err := ts.svc.BuildFromChannel(context.Background(), ChannelInput{Channel: "@someone", Count: 50})
		require.NoError(t, err)
		res.Release()
		sampler.AssertExpectations(t)
	})

	t.Run("sampler errors propagate", func(t *testing.T) {
		sampler := &mockSampler{}
		ts := newTestService(t, WithChannelSampler(sampler))
		boom := errors.New("channel not found")
		sampler.On("SampleChannel", mock.Anything, "nope", 10).Return("", nil, boom).Once()

		_, err := ts.svc.BuildFromChannel(context.Background(), ChannelInput{Channel: "nope"})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, ts.fetcher.Calls())
	})
}

func TestListJobs(t *testing.T) {
	ts := newTestService(t)
	for _, jobID := range []string{"a", "b"} {
		res, err := ts.svc.Build(context.Background(), BuildInput{Sources: sources(1), JobID: jobID})
		require.NoError(t, err)
		res.Release()
	}

	jobs, err := ts.svc.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
