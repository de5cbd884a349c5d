package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/channel-trailer-api/internal/runner"
)

func TestAssemble_NoClips(t *testing.T) {
	ws := newTestWorkspace(t)
	r := &mockRunner{}
	p := NewFFmpegProcessor(r, "ffmpeg")

	err := p.Assemble(context.Background(), ws, nil)

	assert.ErrorIs(t, err, ErrNoClips)
	assert.NoFileExists(t, ws.ManifestPath())
	r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestAssemble_WritesManifestAndOutput(t *testing.T) {
	ws := newTestWorkspace(t)
	r := &mockRunner{}
	p := NewFFmpegProcessor(r, "ffmpeg")

	quoted := filepath.Join(ws.Dir(), "it's.mp4")
	clips := []string{ws.ClipPath(0), quoted, ws.ClipPath(2)}

	r.On("Run", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			c := args.Get(1).(runner.Command)
			assert.Equal(t, []string{
				"-y", "-f", "concat", "-safe", "0",
				"-i", ws.ManifestPath(),
				"-c", "copy", "-movflags", "+faststart",
				ws.FinalPath(),
			}, c.Args)
			writeFile(t, ws.FinalPath(), "trailer")
		}).
		Return(runner.Result{ExitCode: 0}, nil).Once()

	err := p.Assemble(context.Background(), ws, clips)
	require.NoError(t, err)

	manifest, err := os.ReadFile(ws.ManifestPath())
	require.NoError(t, err)

	want := fmt.Sprintf("file '%s'\nfile '%s'\nfile '%s'\n",
		ws.ClipPath(0),
		filepath.Join(ws.Dir(), `it'\''s.mp4`),
		ws.ClipPath(2),
	)
	assert.Equal(t, want, string(manifest))
	assert.FileExists(t, ws.FinalPath())
	assert.Contains(t, statusLog(t, ws), "concat ok")
	r.AssertExpectations(t)
}

func TestAssemble_RejectsPathOutsideWorkspace(t *testing.T) {
	ws := newTestWorkspace(t)
	r := &mockRunner{}
	p := NewFFmpegProcessor(r, "ffmpeg")

	outside := filepath.Join(ws.Dir(), "..", "otherjob", "clip_000.mp4")
	err := p.Assemble(context.Background(), ws, []string{ws.ClipPath(0), outside})

	assert.ErrorIs(t, err, ErrPathOutsideWorkspace)
	assert.NoFileExists(t, ws.ManifestPath())
	r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestAssemble_FailureRemovesPartialOutput(t *testing.T) {
	ws := newTestWorkspace(t)
	r := &mockRunner{}
	p := NewFFmpegProcessor(r, "ffmpeg")

	r.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			writeFile(t, ws.FinalPath(), "half a trailer")
		}).
		Return(runner.Result{ExitCode: 1, Stderr: "Non-monotonous DTS"}, nil).Once()

	err := p.Assemble(context.Background(), ws, []string{ws.ClipPath(0)})

	assert.ErrorIs(t, err, ErrAssemblyFailed)
	assert.NoFileExists(t, ws.FinalPath())

	log := statusLog(t, ws)
	assert.Contains(t, log, "concat failed exit=1")
	assert.Contains(t, log, "Non-monotonous DTS")
}

func TestAssemble_ZeroExitWithoutOutput(t *testing.T) {
	ws := newTestWorkspace(t)
	r := &mockRunner{}
	p := NewFFmpegProcessor(r, "ffmpeg")

	r.On("Run", mock.Anything, mock.Anything).Return(runner.Result{ExitCode: 0}, nil).Once()

	err := p.Assemble(context.Background(), ws, []string{ws.ClipPath(0)})
	assert.ErrorIs(t, err, ErrAssemblyFailed)
}

func TestAssemble_CancelledRemovesPartialOutput(t *testing.T) {
	ws := newTestWorkspace(t)
	r := &mockRunner{}
	p := NewFFmpegProcessor(r, "ffmpeg")

	cancelErr := fmt.Errorf("%w: %w", runner.ErrCancelled, context.Canceled)
	r.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			writeFile(t, ws.FinalPath(), "partial")
		}).
		Return(runner.Result{}, cancelErr).Once()

	err := p.Assemble(context.Background(), ws, []string{ws.ClipPath(0)})

	assert.ErrorIs(t, err, runner.ErrCancelled)
	assert.NotErrorIs(t, err, ErrAssemblyFailed)
	assert.NoFileExists(t, ws.FinalPath())
}
