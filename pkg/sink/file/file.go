// Package file implements a reference file-system Sink, grounded directly
// in liblttdvfs.c/.h (original_source): it mirrors the trace tree under an
// output root and copies each drained sub-buffer with a zero-copy splice,
// bounding resident page cache with sync_file_range/fadvise hints exactly
// as the original does.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ringtrace/consumerd"
	"golang.org/x/sys/unix"
)

// Sink mirrors the trace tree rooted at outputRoot. One instance is
// shared by every worker; its only mutable shared state is the
// per-worker pipe map, keyed by worker number and populated/torn down
// exactly at OnNewThread/OnCloseThread boundaries.
type Sink struct {
	outputRoot string
	appendMode bool
	logger     consumerd.Logger

	// pipes holds one scratch pipe per worker, keyed by worker number and
	// populated/torn down exactly at OnNewThread/OnCloseThread. A sync.Map
	// is used because distinct workers write distinct keys concurrently at
	// startup.
	pipes sync.Map // map[int][2]int
}

// New creates a file Sink rooted at outputRoot. appendMode mirrors the
// CLI's -a flag.
func New(outputRoot string, appendMode bool, logger consumerd.Logger) *Sink {
	return &Sink{
		outputRoot: outputRoot,
		appendMode: appendMode,
		logger:     logger,
	}
}

// channelData is the opaque per-pair handle stored via Channel.SetUserData,
// the Go analogue of liblttdvfs_channel_data.
type channelData struct {
	outFd int
}

// OnNewChannelsFolder creates the mirrored output directory, treating
// EEXIST as success (liblttdvfs_on_new_channels_folder).
func (s *Sink) OnNewChannelsFolder(relPath string) error {
	dir := filepath.Join(s.outputRoot, relPath)
	if err := unix.Mkdir(dir, 0777); err != nil {
		if err != unix.EEXIST {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

// OnOpenChannel opens (or creates) the mirrored trace file. With append
// mode and an existing file, it opens for write and seeks to end; without
// append mode, an existing file is a hard error rather than a silent
// truncation (liblttdvfs_on_open_channel).
func (s *Sink) OnOpenChannel(ch consumerd.Channel, relPath string) error {
	path := filepath.Join(s.outputRoot, relPath)

	_, statErr := os.Stat(path)
	var outFd int
	switch {
	case statErr == nil && s.appendMode:
		fd, err := unix.Open(path, unix.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("open %s for append: %w", path, err)
		}
		if _, err := unix.Seek(fd, 0, unix.SEEK_END); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("seek to end of %s: %w", path, err)
		}
		s.logger.Debug("appending to existing trace file", "path", path)
		outFd = fd
	case statErr == nil:
		return fmt.Errorf("%s already exists, use append mode", path)
	case os.IsNotExist(statErr):
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL, 0777)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		outFd = fd
	default:
		return fmt.Errorf("stat %s: %w", path, statErr)
	}

	ch.SetUserData(&channelData{outFd: outFd})
	return nil
}

// OnCloseChannel closes the mirrored trace file.
func (s *Sink) OnCloseChannel(ch consumerd.Channel) error {
	data, ok := ch.UserData().(*channelData)
	if !ok || data == nil {
		return nil
	}
	return unix.Close(data.outFd)
}

// OnReadSubbuffer drains exactly len bytes from the ring into the
// mirrored trace file via a two-stage splice (ring -> worker pipe ->
// file), then issues the same page-cache discipline as
// liblttdvfs_on_read_subbuffer: an async write-back for bytes just
// written, and once a full max_sb_size window has accumulated, a
// blocking write-back followed by POSIX_FADV_DONTNEED one window behind
// the current position.
func (s *Sink) OnReadSubbuffer(ctx context.Context, ch consumerd.Channel, length uint32) error {
	data, ok := ch.UserData().(*channelData)
	if !ok || data == nil {
		return fmt.Errorf("channel has no open output file")
	}

	workerNum, ok := consumerd.WorkerNumFromContext(ctx)
	if !ok {
		return fmt.Errorf("no worker number in context")
	}
	raw, ok := s.pipes.Load(workerNum)
	if !ok {
		return fmt.Errorf("no scratch pipe for worker %d", workerNum)
	}
	pipeFds := raw.([2]int)

	origOffset := ch.Offset()
	remaining := int(length)
	for remaining > 0 {
		n, err := unix.Splice(ch.FD(), nil, pipeFds[1], nil, remaining, unix.SPLICE_F_MOVE|unix.SPLICE_F_MORE)
		if err != nil {
			return fmt.Errorf("splice ring to pipe: %w", err)
		}
		if n == 0 {
			break
		}
		written, err := unix.Splice(pipeFds[0], nil, data.outFd, nil, int(n), unix.SPLICE_F_MOVE|unix.SPLICE_F_MORE)
		if err != nil {
			return fmt.Errorf("splice pipe to file: %w", err)
		}
		remaining -= int(written)

		// Asynchronous write-back start; errors here are hints only.
		_ = unix.SyncFileRange(data.outFd, ch.Offset(), written, unix.SYNC_FILE_RANGE_WRITE)
		ch.AddOffset(written)
	}

	maxSBSize := int64(ch.MaxSubBufferSize())
	if maxSBSize > 0 && origOffset >= maxSBSize {
		windowStart := origOffset - maxSBSize
		_ = unix.SyncFileRange(data.outFd, windowStart, maxSBSize,
			unix.SYNC_FILE_RANGE_WAIT_BEFORE|unix.SYNC_FILE_RANGE_WRITE|unix.SYNC_FILE_RANGE_WAIT_AFTER)
		_ = unix.Fadvise(data.outFd, windowStart, maxSBSize, unix.FADV_DONTNEED)
	}

	return nil
}

// OnNewThread opens this worker's scratch pipe, the Go equivalent of the
// original's __thread thread_pipe (liblttdvfs_on_new_thread).
func (s *Sink) OnNewThread(threadNum int) error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fmt.Errorf("create scratch pipe: %w", err)
	}
	s.pipes.Store(threadNum, fds)
	return nil
}

// OnCloseThread closes this worker's scratch pipe
// (liblttdvfs_on_close_thread).
func (s *Sink) OnCloseThread(threadNum int) error {
	raw, ok := s.pipes.LoadAndDelete(threadNum)
	if !ok {
		return nil
	}
	fds := raw.([2]int)
	errRead := unix.Close(fds[0])
	errWrite := unix.Close(fds[1])
	if errRead != nil {
		return errRead
	}
	return errWrite
}

// OnTraceEnd has nothing to release beyond what OnCloseChannel/
// OnCloseThread already freed (liblttdvfs_on_trace_end).
func (s *Sink) OnTraceEnd() error { return nil }

var _ consumerd.Sink = (*Sink)(nil)
