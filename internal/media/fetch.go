package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maauso/channel-trailer-api/internal/runner"
	"github.com/maauso/channel-trailer-api/internal/workspace"
)

// DefaultFormat prefers a 720p-or-lower merge of best video and audio, then
// any single file, so clips are cut from small downloads.
const DefaultFormat = "bv*[height<=720]+ba/b[height<=720]/bv*+ba/b"

// partialSuffixes are in-progress download markers left by yt-dlp.
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

// Compile-time check that YTDLPFetcher implements Fetcher.
var _ Fetcher = (*YTDLPFetcher)(nil)

// YTDLPFetcher implements Fetcher using the yt-dlp CLI.
type YTDLPFetcher struct {
	ytdlpPath string
	format    string
	runner    runner.Runner
}

// FetcherOption configures a YTDLPFetcher.
type FetcherOption func(*YTDLPFetcher)

// WithFormat overrides the yt-dlp format selector.
func WithFormat(format string) FetcherOption {
	return func(f *YTDLPFetcher) {
		if format != "" {
			f.format = format
		}
	}
}

// NewYTDLPFetcher creates a new YTDLPFetcher.
// If ytdlpPath is empty, it defaults to "yt-dlp" (found via PATH).
func NewYTDLPFetcher(r runner.Runner, ytdlpPath string, opts ...FetcherOption) *YTDLPFetcher {
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	f := &YTDLPFetcher{ytdlpPath: ytdlpPath, format: DefaultFormat, runner: r}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads reference to ws.DownloadPrefix(index) with the extension
// chosen by yt-dlp and returns the resulting file path.
func (f *YTDLPFetcher) Fetch(ctx context.Context, ws *workspace.Workspace, index int, reference string) (string, bool, error) {
	label := fmt.Sprintf("fetch[%d]", index)
	prefix := ws.DownloadPrefix(index)

	// The reference comes from the caller; "--" keeps yt-dlp from reading it
	// as an option.
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--restrict-filenames",
		"--force-overwrites",
		"-f", f.format,
		"--merge-output-format", "mp4",
		"-o", prefix + ".%(ext)s",
		"--",
		reference,
	}

	if err := removeDownloads(prefix); err != nil {
		ws.Statusf("%s failed: %v", label, err)
		return "", false, nil
	}

	ws.Statusf("%s start %s", label, reference)
	res, err := f.runner.Run(ctx, runner.Command{Name: f.ytdlpPath, Args: args, Dir: ws.Dir()})
	if err != nil {
		recordRunError(ws, label, err)
		return "", false, err
	}

	if !res.Success() {
		recordFailure(ws, label, res)
		return "", false, nil
	}

	path, err := selectDownload(prefix)
	if err != nil {
		ws.Statusf("%s failed: %v", label, err)
		return "", false, nil
	}

	ws.Statusf("%s ok %s in %s", label, filepath.Base(path), res.Duration.Round(time.Millisecond))
	return path, true, nil
}

// selectDownload picks the downloaded file for prefix. When yt-dlp leaves
// more than one complete candidate, the smallest wins and ties go to the
// lexically first name, so the choice is deterministic.
func selectDownload(prefix string) (string, error) {
	matches, err := filepath.Glob(prefix + ".*")
	if err != nil {
		return "", fmt.Errorf("scan downloads: %w", err)
	}

	type candidate struct {
		path string
		size int64
	}
	var candidates []candidate
	for _, m := range matches {
		if isPartial(m) {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		candidates = append(candidates, candidate{path: m, size: info.Size()})
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("no file matching %s.*", filepath.Base(prefix))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].size != candidates[j].size {
			return candidates[i].size < candidates[j].size
		}
		return candidates[i].path < candidates[j].path
	})
	return candidates[0].path, nil
}

// removeDownloads deletes every file an earlier attempt left under prefix,
// so selectDownload only sees what this run produces.
func removeDownloads(prefix string) error {
	matches, err := filepath.Glob(prefix + ".*")
	if err != nil {
		return fmt.Errorf("scan downloads: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale download: %w", err)
		}
	}
	return nil
}

func isPartial(path string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}
