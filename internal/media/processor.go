// Package media turns source references into a trailer: yt-dlp downloads,
// ffmpeg clip extraction and ffmpeg concatenation, all inside a job
// workspace.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/maauso/channel-trailer-api/internal/runner"
	"github.com/maauso/channel-trailer-api/internal/workspace"
)

// Static errors for media operations.
var (
	// ErrNoClips is returned when there is nothing to assemble.
	ErrNoClips = errors.New("no clips to assemble")
	// ErrPathOutsideWorkspace is returned when a clip path escapes the job workspace.
	ErrPathOutsideWorkspace = errors.New("clip path outside workspace")
	// ErrAssemblyFailed is returned when concatenation exits non-zero or
	// produces no output file.
	ErrAssemblyFailed = errors.New("trailer assembly failed")
)

// Fetcher downloads one source into a workspace.
type Fetcher interface {
	// Fetch downloads reference as source index. ok is false for a
	// recoverable per-source failure, which has already been recorded in the
	// workspace status log. err is reserved for start failures and
	// cancellation.
	Fetch(ctx context.Context, ws *workspace.Workspace, index int, reference string) (path string, ok bool, err error)
}

// ClipExtractor cuts a fixed-length, normalized clip out of a downloaded source.
type ClipExtractor interface {
	// Extract writes ws.ClipPath(index). Same ok/err contract as Fetch.
	Extract(ctx context.Context, ws *workspace.Workspace, index int, sourcePath string) (ok bool, err error)
}

// Assembler splices clips into the final trailer.
type Assembler interface {
	// Assemble concatenates clipPaths, in order, into ws.FinalPath().
	Assemble(ctx context.Context, ws *workspace.Workspace, clipPaths []string) error
}

// tailBytes bounds how much of a stream is copied into a status entry.
const tailBytes = 600

// recordFailure appends a failed invocation to the status log with the tails
// of both streams.
func recordFailure(ws *workspace.Workspace, label string, res runner.Result) {
	msg := fmt.Sprintf("%s failed exit=%d", label, res.ExitCode)
	if s := runner.Tail(res.Stderr, tailBytes); s != "" {
		msg += "\nstderr: " + s
	}
	if s := runner.Tail(res.Stdout, tailBytes); s != "" {
		msg += "\nstdout: " + s
	}
	ws.AppendStatus(msg)
}

// recordRunError appends a start failure or cancellation to the status log.
func recordRunError(ws *workspace.Workspace, label string, err error) {
	if errors.Is(err, runner.ErrCancelled) {
		ws.Statusf("%s cancelled", label)
		return
	}
	ws.Statusf("%s error: %v", label, err)
}

// fileExists reports whether path is an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
