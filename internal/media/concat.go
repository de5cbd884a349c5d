package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/channel-trailer-api/internal/workspace"
)

// Assemble concatenates clipPaths, in order, into ws.FinalPath() using the
// concat demuxer and stream copy. Clips must share codecs and parameters,
// which Extract guarantees.
func (p *FFmpegProcessor) Assemble(ctx context.Context, ws *workspace.Workspace, clipPaths []string) error {
	if len(clipPaths) == 0 {
		return ErrNoClips
	}

	if err := writeConcatList(ws, clipPaths); err != nil {
		ws.Statusf("concat manifest error: %v", err)
		return err
	}
	ws.Statusf("concat manifest written with %d clips", len(clipPaths))

	output := ws.FinalPath()
	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", ws.ManifestPath(), // Input file list
		"-c", "copy", // Copy streams without re-encoding
		"-movflags", "+faststart", // Index at the front for streaming
		output,
	}

	res, err := p.runFFmpeg(ctx, ws, args)
	if err != nil {
		_ = os.Remove(output)
		recordRunError(ws, "concat", err)
		return err
	}

	if !res.Success() {
		_ = os.Remove(output)
		recordFailure(ws, "concat", res)
		return fmt.Errorf("%w: ffmpeg exit %d", ErrAssemblyFailed, res.ExitCode)
	}

	if !fileExists(output) {
		ws.Statusf("concat failed: exit=0 but %s was not written", output)
		return fmt.Errorf("%w: output not written", ErrAssemblyFailed)
	}

	ws.Statusf("concat ok in %s", res.Duration.Round(time.Millisecond))
	return nil
}

// writeConcatList writes the manifest in the format required by ffmpeg's
// concat demuxer. Every path must resolve inside the workspace; nothing is
// written otherwise.
func writeConcatList(ws *workspace.Workspace, clipPaths []string) error {
	var b strings.Builder
	for _, path := range clipPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		if !ws.Contains(absPath) {
			return fmt.Errorf("%w: %s", ErrPathOutsideWorkspace, path)
		}
		// Single quotes close the quoted string, add an escaped quote and reopen.
		escapedPath := strings.ReplaceAll(absPath, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escapedPath)
	}

	if err := os.WriteFile(ws.ManifestPath(), []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}
