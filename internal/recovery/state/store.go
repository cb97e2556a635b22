package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"diffrsp/internal/trace"
)

// Store keeps run ledgers under:
//
//	<dir>/runs/<run-id>/{run,failure,journal}.json
//
// Every write is atomic and durable (file sync, rename, directory sync).
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state dir is required")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) runsRootDir() string {
	return filepath.Join(s.dir, "runs")
}

// ListRunIDs returns the run ids on disk, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) failurePath(runID string) string {
	return filepath.Join(s.runDir(runID), "failure.json")
}

func (s *Store) journalPath(runID string) string {
	return filepath.Join(s.runDir(runID), "journal.json")
}

func checkRunID(runID string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("invalid runID %q", runID)
	}
	return nil
}

func (s *Store) SaveRun(run Run) error {
	if err := checkRunID(run.RunID); err != nil {
		return err
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.writeJSON(run.RunID, s.runPath(run.RunID), run)
}

func (s *Store) LoadRun(runID string) (Run, error) {
	if err := checkRunID(runID); err != nil {
		return Run{}, err
	}
	var run Run
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	if failure.Retained == nil {
		failure.Retained = []string{}
	}
	return s.writeJSON(runID, s.failurePath(runID), failure)
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	if err := checkRunID(runID); err != nil {
		return Failure{}, err
	}
	var failure Failure
	if err := readJSONStrict(s.failurePath(runID), &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

// ClearFailure removes failure.json once a retried merge has succeeded.
func (s *Store) ClearFailure(runID string) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	if err := os.Remove(s.failurePath(runID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return fsyncDir(s.runDir(runID))
}

// SaveJournal writes the canonical journal of a run.
func (s *Store) SaveJournal(j trace.Journal) error {
	if err := checkRunID(j.RunID); err != nil {
		return err
	}
	data, err := j.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("invalid journal: %w", err)
	}
	if err := ensureDirDurable(s.runDir(j.RunID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	return writeFileAtomicDurable(s.journalPath(j.RunID), append(data, '\n'), 0o644)
}

func (s *Store) LoadJournal(runID string) (trace.Journal, error) {
	if err := checkRunID(runID); err != nil {
		return trace.Journal{}, err
	}
	var j trace.Journal
	if err := readJSONStrict(s.journalPath(runID), &j); err != nil {
		return trace.Journal{}, err
	}
	if err := j.Validate(); err != nil {
		return trace.Journal{}, fmt.Errorf("invalid journal on disk: %w", err)
	}
	return j, nil
}

func (s *Store) writeJSON(runID, path string, v any) error {
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := writeFileAtomicDurable(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("decode %s: trailing content", path)
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	if parent := filepath.Dir(dir); parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
