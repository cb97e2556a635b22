// Package artifact owns the temporary files of a run: worker outputs, merge
// scratch files and anything else created under the run's name prefix.
//
// Every path the Manager hands out ends in exactly one of two states: deleted,
// or retained and reported. Nothing is dropped from the books silently.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"diffrsp/internal/core"
)

// Kind classifies a tracked path.
type Kind string

const (
	// KindWorker is a worker's per-interval output.
	KindWorker Kind = "worker"
	// KindScratch is merge bookkeeping (the input list file). Always deleted.
	KindScratch Kind = "scratch"
	// KindStray is a file under the run prefix the Manager did not allocate.
	KindStray Kind = "stray"
)

// FilePrefix starts every temporary file name.
const FilePrefix = "diffrsp-"

// Report is the fate of every path the Manager saw.
type Report struct {
	Deleted  []string `json:"deleted,omitempty"`
	Retained []string `json:"retained,omitempty"`

	// Err joins one *core.TempArtifactError per path that could not be removed.
	// Those paths are listed in Retained.
	Err error `json:"-"`
}

func (r *Report) merge(o Report) {
	r.Deleted = append(r.Deleted, o.Deleted...)
	r.Retained = append(r.Retained, o.Retained...)
	r.Err = errors.Join(r.Err, o.Err)
}

// Manager tracks the temporary files of one run inside one directory.
type Manager struct {
	dir    string
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	tracked map[string]Kind
	settled map[string]bool
	report  Report
}

// NewManager creates a Manager for runID rooted at dir. The directory is
// created if needed.
func NewManager(dir, runID string, logger *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("temp dir is required")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Manager{
		dir:     abs,
		prefix:  FilePrefix + runID + "-",
		logger:  logger.With(zap.String("temp_dir", abs)),
		tracked: make(map[string]Kind),
		settled: make(map[string]bool),
	}, nil
}

// Dir returns the absolute temp directory.
func (m *Manager) Dir() string { return m.dir }

// Prefix returns the file name prefix shared by every file of this run.
func (m *Manager) Prefix() string { return m.prefix }

// Allocate reserves a fresh, uniquely named file and starts tracking it.
//
// The file is created empty with O_EXCL, so two allocations can never
// collide, even across concurrent runs sharing the directory.
func (m *Manager) Allocate(kind Kind, label, ext string) (string, error) {
	name := m.prefix + label + "-" + uuid.NewString()[:8] + ext
	path := filepath.Join(m.dir, name)

	// Track before creating so the directory watcher never mistakes it for a
	// stray file.
	m.mu.Lock()
	m.tracked[path] = kind
	m.mu.Unlock()
	untrack := func() {
		m.mu.Lock()
		delete(m.tracked, path)
		m.mu.Unlock()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		untrack()
		return "", fmt.Errorf("allocate temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		untrack()
		_ = os.Remove(path)
		return "", fmt.Errorf("allocate temp file: %w", err)
	}
	m.logger.Debug("allocated temp file", zap.String("path", path), zap.String("kind", string(kind)))
	return path, nil
}

// Adopt starts tracking an existing path the Manager did not allocate. It
// reports whether the path was new. Paths already settled are ignored.
func (m *Manager) Adopt(path string, kind Kind) bool {
	if _, err := os.Lstat(path); err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracked[path]; ok || m.settled[path] {
		return false
	}
	m.tracked[path] = kind
	return true
}

// Tracked returns the paths still awaiting a decision, sorted.
func (m *Manager) Tracked(kinds ...Kind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tracked))
	for p, k := range m.tracked {
		if len(kinds) == 0 || containsKind(kinds, k) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Release deletes paths and stops tracking them. A path that is already gone
// counts as deleted. Paths that cannot be removed are retained and reported
// as *core.TempArtifactError.
func (m *Manager) Release(paths ...string) error {
	var r Report
	for _, p := range paths {
		m.mu.Lock()
		delete(m.tracked, p)
		m.settled[p] = true
		m.mu.Unlock()

		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.Retained = append(r.Retained, p)
			r.Err = errors.Join(r.Err, &core.TempArtifactError{Path: p, Cause: err})
			m.logger.Warn("could not delete temp file", zap.String("path", p), zap.Error(err))
			continue
		}
		r.Deleted = append(r.Deleted, p)
	}

	m.mu.Lock()
	m.report.merge(r)
	m.mu.Unlock()
	return r.Err
}

// Retain stops tracking paths without deleting them and records them as
// retained. reason is logged next to each path.
func (m *Manager) Retain(reason string, paths ...string) {
	if len(paths) == 0 {
		return
	}
	m.mu.Lock()
	for _, p := range paths {
		delete(m.tracked, p)
		m.settled[p] = true
	}
	m.report.Retained = append(m.report.Retained, paths...)
	m.mu.Unlock()

	for _, p := range paths {
		m.logger.Info("retained temp file", zap.String("path", p), zap.String("reason", reason))
	}
}

// Sweep adopts as KindStray every file under the run prefix in the temp
// directory that is neither tracked nor settled, and returns those paths.
// It catches files the watcher had not yet seen when it was stopped.
func (m *Manager) Sweep() []string {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("could not scan temp dir", zap.Error(err))
		return nil
	}
	var adopted []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), m.prefix) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if m.adoptStray(path) {
			adopted = append(adopted, path)
		}
	}
	return adopted
}

func (m *Manager) adoptStray(path string) bool {
	if !m.Adopt(path, KindStray) {
		return false
	}
	m.logger.Warn("adopted untracked temp file", zap.String("path", path))
	return true
}

// Finish sweeps the temp directory, then settles every path still tracked:
// scratch files are always deleted; the rest are retained when keep is set
// and deleted otherwise. It returns the cumulative Report of the run.
func (m *Manager) Finish(keep bool) Report {
	m.Sweep()
	_ = m.Release(m.Tracked(KindScratch)...)

	rest := m.Tracked()
	if keep {
		m.Retain("keep-temp requested", rest...)
	} else {
		_ = m.Release(rest...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := Report{
		Deleted:  append([]string(nil), m.report.Deleted...),
		Retained: append([]string(nil), m.report.Retained...),
		Err:      m.report.Err,
	}
	sort.Strings(out.Deleted)
	sort.Strings(out.Retained)
	return out
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
