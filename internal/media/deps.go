package media

import (
	"errors"
	"fmt"
	"os/exec"
)

// ErrDependencyMissing is returned when a required executable is not found.
var ErrDependencyMissing = errors.New("missing dependency")

// DependencyReport describes which external tools can be resolved.
type DependencyReport struct {
	YTDLPFound  bool   `json:"yt_dlp_found"`
	YTDLPPath   string `json:"yt_dlp_path,omitempty"`
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
}

// OK reports whether every dependency was found.
func (r DependencyReport) OK() bool {
	return r.YTDLPFound && r.FFmpegFound
}

// Err returns ErrDependencyMissing naming the first missing tool, or nil.
func (r DependencyReport) Err() error {
	if !r.YTDLPFound {
		return fmt.Errorf("%w: yt-dlp is not installed or not on PATH", ErrDependencyMissing)
	}
	if !r.FFmpegFound {
		return fmt.Errorf("%w: ffmpeg is not installed or not on PATH", ErrDependencyMissing)
	}
	return nil
}

// DependencyStatus resolves the configured executables. Empty names fall back
// to "yt-dlp" and "ffmpeg".
func DependencyStatus(ytdlpPath, ffmpegPath string) DependencyReport {
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	report := DependencyReport{}
	if path, err := exec.LookPath(ytdlpPath); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path
	}
	if path, err := exec.LookPath(ffmpegPath); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}
