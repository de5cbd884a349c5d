// Package workspace owns the private directory of one trailer build: the
// downloaded sources, intermediate clips, the concat manifest, the final
// artifact and the append-only status log.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Static errors for workspace operations.
var (
	// ErrNotFound is returned when no workspace exists for a job ID.
	ErrNotFound = errors.New("workspace: not found")
	// ErrInvalidJobID is returned when a job ID is empty or contains
	// characters outside [A-Za-z0-9].
	ErrInvalidJobID = errors.New("workspace: invalid job ID")
)

const (
	statusFileName   = "status.log"
	manifestFileName = "concat.txt"
	finalFileName    = "trailer.mp4"

	// MaxJobIDLength bounds directory names derived from job IDs.
	MaxJobIDLength = 64
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidJobID reports whether id can name a workspace directory.
func ValidJobID(id string) bool {
	return len(id) <= MaxJobIDLength && jobIDPattern.MatchString(id)
}

// Manager creates and looks up workspaces under a root directory.
type Manager struct {
	root string
	now  func() time.Time
}

// NewManager creates a Manager rooted at root. If root is empty,
// os.TempDir()/channel-trailer is used. The root is created if missing.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "channel-trailer")
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	return &Manager{root: abs, now: time.Now}, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Open returns the workspace for jobID, creating its directory if absent.
// Reopening an existing workspace keeps all of its content.
func (m *Manager) Open(jobID string) (*Workspace, error) {
	if !ValidJobID(jobID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}

	dir := filepath.Join(m.root, jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", jobID, err)
	}

	return &Workspace{jobID: jobID, dir: dir, now: m.now}, nil
}

// Lookup returns the existing workspace for jobID without creating it.
// Returns ErrNotFound when the directory does not exist.
func (m *Manager) Lookup(jobID string) (*Workspace, error) {
	if !ValidJobID(jobID) {
		return nil, ErrNotFound
	}

	dir := filepath.Join(m.root, jobID)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat workspace %s: %w", jobID, err)
	}
	if !info.IsDir() {
		return nil, ErrNotFound
	}

	return &Workspace{jobID: jobID, dir: dir, now: m.now}, nil
}

// Workspace is the directory tree owned by a single job.
type Workspace struct {
	jobID string
	dir   string
	now   func() time.Time

	mu sync.Mutex
}

// JobID returns the job identifier this workspace belongs to.
func (w *Workspace) JobID() string { return w.jobID }

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// DownloadPrefix returns the path prefix (without extension) for the
// downloaded copy of source index i.
func (w *Workspace) DownloadPrefix(i int) string {
	return filepath.Join(w.dir, fmt.Sprintf("source_%03d", i))
}

// ClipPath returns the path of the clip cut from source index i.
func (w *Workspace) ClipPath(i int) string {
	return filepath.Join(w.dir, fmt.Sprintf("clip_%03d.mp4", i))
}

// ManifestPath returns the path of the concat manifest.
func (w *Workspace) ManifestPath() string {
	return filepath.Join(w.dir, manifestFileName)
}

// FinalPath returns the path of the assembled trailer.
func (w *Workspace) FinalPath() string {
	return filepath.Join(w.dir, finalFileName)
}

// StatusPath returns the path of the status log.
func (w *Workspace) StatusPath() string {
	return filepath.Join(w.dir, statusFileName)
}

// Contains reports whether path resolves to a location inside the workspace.
func (w *Workspace) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(w.dir, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AppendStatus timestamps text and appends it to the status log as a single
// write. Continuation lines are indented with a tab. I/O errors are dropped
// so that logging can never abort a build.
func (w *Workspace) AppendStatus(text string) {
	text = strings.TrimRight(text, "\n")
	text = strings.ReplaceAll(text, "\n", "\n\t")
	entry := w.now().UTC().Format(time.RFC3339Nano) + "\t" + text + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.StatusPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return
	}
	_, _ = f.WriteString(entry)
	_ = f.Close()
}

// Statusf formats according to a format specifier and appends the result.
func (w *Workspace) Statusf(format string, args ...any) {
	w.AppendStatus(fmt.Sprintf(format, args...))
}

// ReadStatus returns every status entry written so far. A workspace that has
// not logged anything yet yields an empty slice.
func (w *Workspace) ReadStatus() ([]byte, error) {
	data, err := os.ReadFile(w.StatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("read status log: %w", err)
	}
	return data, nil
}

// ClearArtifacts removes the downloads, clips, manifest and final trailer a
// previous build left in the workspace. The status log and captured tool
// output are kept.
func (w *Workspace) ClearArtifacts() error {
	stale := []string{w.FinalPath(), w.ManifestPath()}
	for _, pattern := range []string{"source_*", "clip_*"} {
		matches, err := filepath.Glob(filepath.Join(w.dir, pattern))
		if err != nil {
			return fmt.Errorf("scan workspace: %w", err)
		}
		stale = append(stale, matches...)
	}

	var errs []error
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear workspace %s: %w", w.jobID, errors.Join(errs...))
	}
	return nil
}

// Dispose releases the workspace. When remove is true the directory tree is
// deleted in the background, so the caller's response is never delayed by
// cleanup; errors are ignored. When remove is false all files are kept.
func (w *Workspace) Dispose(remove bool) {
	if !remove {
		return
	}
	dir := w.dir
	go func() {
		_ = os.RemoveAll(dir)
	}()
}
