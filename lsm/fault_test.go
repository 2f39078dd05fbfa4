package lsm

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errFaultInjected = errors.New("fault injected")

// faultInjector arms named fault points to start failing on their N-th
// trigger, modeling a disk that dies at a chosen moment and stays dead.
type faultInjector struct {
	mu      sync.Mutex
	armed   map[string]int
	calls   map[string]int
	tripped map[string]bool
}

func newFaultInjector() *faultInjector {
	return &faultInjector{
		armed:   make(map[string]int),
		calls:   make(map[string]int),
		tripped: make(map[string]bool),
	}
}

// arm schedules point to fail starting on its afterCalls-th trigger
// (1-indexed). Arming the same point twice replaces its schedule.
func (f *faultInjector) arm(point string, afterCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[point] = afterCalls
	f.calls[point] = 0
	f.tripped[point] = false
}

// trigger records one call at point and reports whether it should fail.
// Unarmed points never fire.
func (f *faultInjector) trigger(point string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	threshold, ok := f.armed[point]
	if !ok {
		return nil
	}
	f.calls[point]++
	if f.tripped[point] || f.calls[point] >= threshold {
		f.tripped[point] = true
		return errFaultInjected
	}
	return nil
}

// install wires the injector into the engine's fault hook for the duration
// of the test.
func (f *faultInjector) install(t *testing.T) {
	t.Helper()
	faultHook = f.trigger
	t.Cleanup(func() { faultHook = nil })
}

func TestFaultInjectorUnarmedPointNeverFires(t *testing.T) {
	f := newFaultInjector()
	for i := 0; i < 5; i++ {
		require.NoError(t, f.trigger("flush:before-wal-delete"))
	}
}

func TestFaultInjectorFiresOnNthCallAndStaysTripped(t *testing.T) {
	f := newFaultInjector()
	f.arm("flush:before-wal-delete", 3)

	require.NoError(t, f.trigger("flush:before-wal-delete"))
	require.NoError(t, f.trigger("flush:before-wal-delete"))
	require.ErrorIs(t, f.trigger("flush:before-wal-delete"), errFaultInjected)
	require.ErrorIs(t, f.trigger("flush:before-wal-delete"), errFaultInjected)
}

func TestFaultInjectorRearmReplacesSchedule(t *testing.T) {
	f := newFaultInjector()
	f.arm("compact:after-manifest", 1)
	require.ErrorIs(t, f.trigger("compact:after-manifest"), errFaultInjected)

	f.arm("compact:after-manifest", 2)
	require.NoError(t, f.trigger("compact:after-manifest"))
	require.ErrorIs(t, f.trigger("compact:after-manifest"), errFaultInjected)
}

func TestFaultInjectorPointsAreIndependent(t *testing.T) {
	f := newFaultInjector()
	f.arm("a", 1)
	require.ErrorIs(t, f.trigger("a"), errFaultInjected)
	require.NoError(t, f.trigger("b"))
}

// A flush that dies after its segment is durable but before its WAL is
// removed leaves both WAL generations on disk; reopening must converge
// without losing or duplicating the flushed entries.
func TestEngineFlushCrashBeforeWALDeleteRecovers(t *testing.T) {
	dir := tempDir(t)
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.MemtableCapacity = 2

	inj := newFaultInjector()
	inj.arm(faultFlushBeforeWALDelete, 1)
	inj.install(t)

	e1, err := New(cfg)
	require.NoError(t, err)
	_, _, err = e1.Set("a", "1")
	require.NoError(t, err)
	// Fills the memtable; the triggered flush dies at the fault point.
	_, _, err = e1.Set("b", "2")
	require.ErrorIs(t, err, errFaultInjected)

	// Crash state: the flushed segment plus both WAL generations.
	require.FileExists(t, dataPath(dir, 0))
	require.FileExists(t, walPath(dir, 0))
	require.FileExists(t, walPath(dir, 2))

	// No Close: the engine is abandoned as a crashed process would be.
	faultHook = nil
	e2, err := New(cfg)
	require.NoError(t, err)
	defer e2.Close()

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		v, found, err := e2.Get(key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, want, v)
	}
	require.Equal(t, []uint64{0}, e2.SegmentIndices())
	require.NoFileExists(t, walPath(dir, 0))
}

// A compaction that dies after its manifest is durable but before any
// rename must finish installing on the next open.
func TestEngineCompactCrashAfterManifestRecovers(t *testing.T) {
	dir := tempDir(t)
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.MemtableCapacity = 1

	e1, err := New(cfg)
	require.NoError(t, err)
	_, _, err = e1.Set("a", "old")
	require.NoError(t, err)
	_, _, err = e1.Set("a", "new")
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, e1.SegmentIndices())

	inj := newFaultInjector()
	inj.arm(faultCompactAfterManifest, 1)
	inj.install(t)

	err = e1.Compact([]uint64{0, 2}, 3)
	require.ErrorIs(t, err, errFaultInjected)
	require.FileExists(t, compactActionPath(dir, 3))

	faultHook = nil
	e2, err := New(cfg)
	require.NoError(t, err)
	defer e2.Close()

	v, found, err := e2.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", v)
	require.Equal(t, []uint64{3}, e2.SegmentIndices())
	require.NoFileExists(t, dataPath(dir, 0))
	require.NoFileExists(t, dataPath(dir, 2))
	require.NoFileExists(t, compactActionPath(dir, 3))
}
