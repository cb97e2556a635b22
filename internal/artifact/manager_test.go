package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"diffrsp/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(dir, "run1", zap.NewNop())
	require.NoError(t, err)
	return m, dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewManager_Validates(t *testing.T) {
	_, err := NewManager("", "run", nil)
	require.Error(t, err)
	_, err = NewManager(t.TempDir(), " ", nil)
	require.Error(t, err)

	nested := filepath.Join(t.TempDir(), "a", "b")
	m, err := NewManager(nested, "run", nil)
	require.NoError(t, err)
	assert.DirExists(t, m.Dir())
}

func TestAllocate_UniqueNamesUnderRunPrefix(t *testing.T) {
	m, dir := newManager(t)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p, err := m.Allocate(KindWorker, "i01", ".fits")
		require.NoError(t, err)
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
		assert.Equal(t, dir, filepath.Dir(p))
		assert.True(t, strings.HasPrefix(filepath.Base(p), "diffrsp-run1-i01-"))
		assert.True(t, strings.HasSuffix(p, ".fits"))
		assert.FileExists(t, p)
	}
	assert.Len(t, m.Tracked(KindWorker), 50)
	assert.Empty(t, m.Tracked(KindScratch))
}

func TestFinish_DeletesEverythingByDefault(t *testing.T) {
	m, dir := newManager(t)
	a, err := m.Allocate(KindWorker, "i01", ".fits")
	require.NoError(t, err)
	b, err := m.Allocate(KindWorker, "i02", ".fits")
	require.NoError(t, err)
	list, err := m.Allocate(KindScratch, "inputs", ".txt")
	require.NoError(t, err)

	rep := m.Finish(false)
	require.NoError(t, rep.Err)
	assert.ElementsMatch(t, []string{a, b, list}, rep.Deleted)
	assert.Empty(t, rep.Retained)
	assert.Empty(t, listDir(t, dir))
	assert.Empty(t, m.Tracked())
}

func TestFinish_KeepRetainsWorkerFilesButNotScratch(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	dir := t.TempDir()
	m, err := NewManager(dir, "run2", zap.New(obs))
	require.NoError(t, err)

	a, err := m.Allocate(KindWorker, "i01", ".fits")
	require.NoError(t, err)
	list, err := m.Allocate(KindScratch, "inputs", ".txt")
	require.NoError(t, err)

	rep := m.Finish(true)
	require.NoError(t, rep.Err)
	assert.Equal(t, []string{a}, rep.Retained)
	assert.Equal(t, []string{list}, rep.Deleted)
	assert.FileExists(t, a)
	assert.NoFileExists(t, list)

	entries := logs.FilterMessage("retained temp file").All()
	require.Len(t, entries, 1)
	assert.Equal(t, a, entries[0].ContextMap()["path"])
}

func TestRetainThenFinish_ReportsEachPathOnce(t *testing.T) {
	m, _ := newManager(t)
	a, err := m.Allocate(KindWorker, "i01", ".fits")
	require.NoError(t, err)
	b, err := m.Allocate(KindWorker, "i02", ".fits")
	require.NoError(t, err)

	m.Retain("worker failed elsewhere", a)
	require.NoError(t, m.Release(b))

	rep := m.Finish(false)
	assert.Equal(t, []string{a}, rep.Retained)
	assert.Equal(t, []string{b}, rep.Deleted)
	assert.FileExists(t, a)
}

func TestRelease_AlreadyGoneCountsAsDeleted(t *testing.T) {
	m, _ := newManager(t)
	a, err := m.Allocate(KindWorker, "i01", ".fits")
	require.NoError(t, err)
	require.NoError(t, os.Remove(a))

	require.NoError(t, m.Release(a))
	assert.Equal(t, []string{a}, m.Finish(false).Deleted)
}

func TestRelease_FailureIsReportedNotLost(t *testing.T) {
	m, dir := newManager(t)
	stuck := filepath.Join(dir, m.Prefix()+"stuck")
	require.NoError(t, os.MkdirAll(filepath.Join(stuck, "child"), 0o755))
	require.True(t, m.Adopt(stuck, KindStray))

	err := m.Release(stuck)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTempArtifact))

	var te *core.TempArtifactError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, stuck, te.Path)

	rep := m.Finish(false)
	assert.Equal(t, []string{stuck}, rep.Retained)
	assert.ErrorIs(t, rep.Err, core.ErrTempArtifact)
}

func TestAdopt_IgnoresMissingAndSettledPaths(t *testing.T) {
	m, dir := newManager(t)
	assert.False(t, m.Adopt(filepath.Join(dir, "nope"), KindStray))

	a, err := m.Allocate(KindWorker, "i01", ".fits")
	require.NoError(t, err)
	assert.False(t, m.Adopt(a, KindStray), "already tracked")

	m.Retain("test", a)
	assert.False(t, m.Adopt(a, KindStray), "already settled")
}

func TestWatch_AdoptsStrayFilesUnderRunPrefix(t *testing.T) {
	m, dir := newManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, ready) }()
	<-ready

	allocated, err := m.Allocate(KindWorker, "i01", ".fits")
	require.NoError(t, err)

	stray := filepath.Join(dir, m.Prefix()+"i01-side.log")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))
	foreign := filepath.Join(dir, "someone-else.fits")
	require.NoError(t, os.WriteFile(foreign, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, p := range m.Tracked(KindStray) {
			if p == stray {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{allocated}, m.Tracked(KindWorker))
	rep := m.Finish(false)
	assert.ElementsMatch(t, []string{allocated, stray}, rep.Deleted)
	assert.Equal(t, []string{"someone-else.fits"}, listDir(t, dir))
}

func TestFinish_SweepsFilesTheWatcherMissed(t *testing.T) {
	m, dir := newManager(t)
	a, err := m.Allocate(KindWorker, "i001", ".fits")
	require.NoError(t, err)

	// Written with no watcher running, as when a tool exits right before
	// the watch is stopped.
	late := filepath.Join(dir, m.Prefix()+"i001-side.log")
	require.NoError(t, os.WriteFile(late, []byte("x"), 0o644))
	other := filepath.Join(dir, FilePrefix+"run10-i001-abcd1234.fits")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	rep := m.Finish(false)
	require.NoError(t, rep.Err)
	assert.ElementsMatch(t, []string{a, late}, rep.Deleted)
	assert.Equal(t, []string{filepath.Base(other)}, listDir(t, dir))
}

func TestFinish_KeepRetainsSweptFiles(t *testing.T) {
	m, dir := newManager(t)
	late := filepath.Join(dir, m.Prefix()+"i002-side.log")
	require.NoError(t, os.WriteFile(late, []byte("x"), 0o644))

	assert.Equal(t, []string{late}, m.Sweep())
	assert.Empty(t, m.Sweep(), "already tracked")

	rep := m.Finish(true)
	assert.Equal(t, []string{late}, rep.Retained)
	assert.FileExists(t, late)
}
