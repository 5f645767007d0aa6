package consumer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ringtrace/consumerd"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWatcherReportsCreatedFile(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Add(dir)
	require.NoError(t, err)

	newFile := filepath.Join(dir, "cpu2")
	require.NoError(t, os.WriteFile(newFile, nil, 0644))

	var events []hotplugEvent
	require.Eventually(t, func() bool {
		got, err := w.ReadEvents()
		require.NoError(t, err)
		events = append(events, got...)
		return len(events) > 0
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, "cpu2", events[0].Name)
}

func TestWatcherReadEventsIsNonBlockingWhenEmpty(t *testing.T) {
	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Close()

	events, err := w.ReadEvents()
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestCStringStopsAtNUL(t *testing.T) {
	require.Equal(t, "cpu0", cString([]byte("cpu0\x00\x00\x00")))
	require.Equal(t, "", cString([]byte{0, 0}))
}

func armWatchedDir(t *testing.T, reg *Registry) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	wd, err := w.Add(dir)
	require.NoError(t, err)
	reg.AppendWatch(&Watch{WD: wd, Dir: dir, RelBase: len(dir) + 1})
	return w, dir
}

func waitForEventQueued(t *testing.T, w *Watcher, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	pfd := []unix.PollFd{{Fd: int32(w.FD()), Events: unix.POLLIN}}
	require.Eventually(t, func() bool {
		n, err := unix.Poll(pfd, 0)
		return err == nil && n > 0
	}, time.Second, 5*time.Millisecond)
}

func TestHandleHotplugFiltersByMode(t *testing.T) {
	reg := NewRegistry()
	w, dir := armWatchedDir(t, reg)
	waitForEventQueued(t, w, dir, "flight-cpu1")

	sink := newFakeSink()
	reg.Lock()
	err := HandleHotplug(w, reg, sink, consumerd.ModeNormalOnly)
	reg.Unlock()

	require.NoError(t, err)
	require.Empty(t, sink.opened)
	require.Equal(t, 0, reg.Len())
}

func TestHandleHotplugIgnoresUnknownWatchDescriptor(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Add(dir)
	require.NoError(t, err)

	reg := NewRegistry() // no watch entry registered for this wd
	waitForEventQueued(t, w, dir, "cpu1")

	sink := newFakeSink()
	reg.Lock()
	err = HandleHotplug(w, reg, sink, consumerd.ModeAll)
	reg.Unlock()

	require.NoError(t, err)
	require.Empty(t, sink.opened)
	require.Equal(t, 0, reg.Len())
}

func TestHandleHotplugGeometryFailureDiscardsEvent(t *testing.T) {
	// A regular file rejects the geometry ioctls; the event must be
	// discarded without leaving a half-initialized pair registered.
	reg := NewRegistry()
	w, dir := armWatchedDir(t, reg)
	waitForEventQueued(t, w, dir, "cpu1")

	sink := newFakeSink()
	reg.Lock()
	err := HandleHotplug(w, reg, sink, consumerd.ModeAll)
	reg.Unlock()

	require.Error(t, err)
	require.Equal(t, []string{"cpu1"}, sink.opened)
	require.Equal(t, 0, reg.Len())
}
