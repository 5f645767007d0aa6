package file

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ringtrace/consumerd"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type nullLogger struct{}

func (nullLogger) Debug(string, ...interface{}) {}
func (nullLogger) Info(string, ...interface{})  {}
func (nullLogger) Warn(string, ...interface{})  {}
func (nullLogger) Error(string, ...interface{}) {}

// fakeChannel stands in for a real ring FD pair, backed by a regular
// file fd so OnReadSubbuffer can genuinely splice bytes through it.
type fakeChannel struct {
	fd        int
	offset    int64
	maxSBSize uint32
	userData  interface{}
}

func (c *fakeChannel) FD() int                  { return c.fd }
func (c *fakeChannel) NSubBuffers() uint32      { return 1 }
func (c *fakeChannel) MaxSubBufferSize() uint32 { return c.maxSBSize }
func (c *fakeChannel) Offset() int64            { return atomic.LoadInt64(&c.offset) }
func (c *fakeChannel) AddOffset(delta int64)    { atomic.AddInt64(&c.offset, delta) }
func (c *fakeChannel) UserData() interface{}    { return c.userData }
func (c *fakeChannel) SetUserData(v interface{}) { c.userData = v }

var _ consumerd.Channel = (*fakeChannel)(nil)

func TestOnNewChannelsFolderCreatesAndToleratesExisting(t *testing.T) {
	root := t.TempDir()
	s := New(root, false, nullLogger{})

	require.NoError(t, s.OnNewChannelsFolder("node0"))
	info, err := os.Stat(filepath.Join(root, "node0"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// Second call must tolerate EEXIST rather than failing.
	require.NoError(t, s.OnNewChannelsFolder("node0"))
}

func TestOnOpenChannelRefusesExistingFileWithoutAppend(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cpu0"), []byte("old"), 0644))

	s := New(root, false, nullLogger{})
	ch := &fakeChannel{}
	err := s.OnOpenChannel(ch, "cpu0")
	require.Error(t, err)
}

func TestOnOpenChannelAppendsToExistingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cpu0"), []byte("old"), 0644))

	s := New(root, true, nullLogger{})
	ch := &fakeChannel{}
	require.NoError(t, s.OnOpenChannel(ch, "cpu0"))

	data, ok := ch.UserData().(*channelData)
	require.True(t, ok)
	require.NotZero(t, data.outFd)
	_ = unix.Close(data.outFd)
}

func TestOnOpenChannelCreatesNewFile(t *testing.T) {
	root := t.TempDir()
	s := New(root, false, nullLogger{})
	ch := &fakeChannel{}
	require.NoError(t, s.OnOpenChannel(ch, "cpu0"))

	_, err := os.Stat(filepath.Join(root, "cpu0"))
	require.NoError(t, err)

	data := ch.UserData().(*channelData)
	_ = unix.Close(data.outFd)
}

func TestOnReadSubbufferSplicesRingBytesIntoTraceFile(t *testing.T) {
	root := t.TempDir()
	s := New(root, false, nullLogger{})

	ringPath := filepath.Join(root, "ring-source")
	payload := []byte("sub-buffer-payload")
	require.NoError(t, os.WriteFile(ringPath, payload, 0644))
	ringFd, err := unix.Open(ringPath, unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer unix.Close(ringFd)

	ch := &fakeChannel{fd: ringFd, maxSBSize: 4096}
	require.NoError(t, s.OnOpenChannel(ch, "cpu0"))

	require.NoError(t, s.OnNewThread(0))
	defer s.OnCloseThread(0)

	ctx := consumerd.WithWorkerNum(context.Background(), 0)
	require.NoError(t, s.OnReadSubbuffer(ctx, ch, uint32(len(payload))))
	require.Equal(t, int64(len(payload)), ch.Offset())

	require.NoError(t, s.OnCloseChannel(ch))

	got, err := os.ReadFile(filepath.Join(root, "cpu0"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestOnReadSubbufferFailsWithoutWorkerContext(t *testing.T) {
	root := t.TempDir()
	s := New(root, false, nullLogger{})
	ch := &fakeChannel{}
	require.NoError(t, s.OnOpenChannel(ch, "cpu0"))

	err := s.OnReadSubbuffer(context.Background(), ch, 4)
	require.Error(t, err)
}
