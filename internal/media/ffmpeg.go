package media

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/maauso/channel-trailer-api/internal/runner"
	"github.com/maauso/channel-trailer-api/internal/workspace"
)

// Clip parameters. Every clip is normalized to the same codecs, frame size,
// frame rate and audio layout so the assembler can stream-copy them.
const (
	clipOffset   = "3"
	clipDuration = "4"
	clipWidth    = 1280
	clipHeight   = 720
	clipFPS      = "30"
)

// Compile-time checks that FFmpegProcessor implements the media interfaces.
var (
	_ ClipExtractor = (*FFmpegProcessor)(nil)
	_ Assembler     = (*FFmpegProcessor)(nil)
)

// FFmpegProcessor implements ClipExtractor and Assembler using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	runner     runner.Runner
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(r runner.Runner, ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, runner: r}
}

// Extract cuts a 4 second clip starting at 3 seconds from sourcePath.
// The first attempt seeks on the input (fast); if ffmpeg exits non-zero the
// cut is retried once with an output-side seek, which decodes from the start
// but tolerates broken indexes.
func (p *FFmpegProcessor) Extract(ctx context.Context, ws *workspace.Workspace, index int, sourcePath string) (bool, error) {
	clip := ws.ClipPath(index)

	label := fmt.Sprintf("clip[%d] primary", index)
	res, err := p.runFFmpeg(ctx, ws, primaryClipArgs(sourcePath, clip))
	if err != nil {
		recordRunError(ws, label, err)
		return false, err
	}

	if !res.Success() {
		recordFailure(ws, label, res)
		_ = os.Remove(clip)

		label = fmt.Sprintf("clip[%d] fallback", index)
		res, err = p.runFFmpeg(ctx, ws, fallbackClipArgs(sourcePath, clip))
		if err != nil {
			recordRunError(ws, label, err)
			return false, err
		}
		if !res.Success() {
			recordFailure(ws, label, res)
			_ = os.Remove(clip)
			return false, nil
		}
	}

	if !fileExists(clip) {
		ws.Statusf("%s failed: exit=0 but %s was not written", label, clip)
		return false, nil
	}

	ws.Statusf("%s ok in %s", label, res.Duration.Round(time.Millisecond))
	return true, nil
}

// primaryClipArgs seeks before opening the input.
func primaryClipArgs(src, dst string) []string {
	args := []string{
		"-y",              // Overwrite output file
		"-ss", clipOffset, // Input-side seek
		"-i", src,
		"-t", clipDuration,
	}
	return append(args, append(encodeArgs(), dst)...)
}

// fallbackClipArgs seeks after the input has been opened.
func fallbackClipArgs(src, dst string) []string {
	args := []string{
		"-y",
		"-i", src,
		"-ss", clipOffset, // Output-side seek
		"-t", clipDuration,
	}
	return append(args, append(encodeArgs(), dst)...)
}

// encodeArgs re-encodes to H.264/AAC with a fixed frame size, frame rate and
// audio layout.
func encodeArgs() []string {
	// scale: fit within the frame keeping aspect ratio
	// pad: center with black bars to reach the exact size
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1",
		clipWidth, clipHeight, clipWidth, clipHeight,
	)
	return []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-ac", "2",
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
		"-r", clipFPS,
		"-vf", filter,
	}
}

// runFFmpeg executes ffmpeg inside the workspace directory.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, ws *workspace.Workspace, args []string) (runner.Result, error) {
	return p.runner.Run(ctx, runner.Command{
		Name: p.ffmpegPath,
		Args: args,
		Dir:  ws.Dir(),
	})
}
