package consumer

import (
	"encoding/binary"
	"path/filepath"

	"github.com/ringtrace/consumerd"
	"golang.org/x/sys/unix"
)

// inotifyEventHeaderSize is sizeof(struct inotify_event) without the
// variable-length name field.
const inotifyEventHeaderSize = 16

// Watcher wraps a single raw Linux inotify instance. The fd is deliberately
// exposed via FD() so it can sit in the same unix.Poll set as ring fds;
// this is the reason the core talks to inotify directly through
// golang.org/x/sys/unix rather than through github.com/fsnotify/fsnotify,
// whose Linux backend hides this same fd behind a private goroutine.
type Watcher struct {
	fd int
}

// NewWatcher creates a non-blocking inotify instance. If the kernel or
// build lacks inotify, callers should treat a non-nil error as "hot-plug
// watching unavailable" and run with Walker.Watch == nil.
func NewWatcher() (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &Watcher{fd: fd}, nil
}

// FD returns the inotify descriptor for inclusion in a poll set.
func (w *Watcher) FD() int { return w.fd }

// Add arms a watch for file-creation events in dir.
func (w *Watcher) Add(dir string) (int, error) {
	return unix.InotifyAddWatch(w.fd, dir, unix.IN_CREATE)
}

// Close releases the inotify descriptor.
func (w *Watcher) Close() error { return unix.Close(w.fd) }

// hotplugEvent is one decoded IN_CREATE notification.
type hotplugEvent struct {
	WD   int
	Name string
}

// ReadEvents drains whatever is currently queued on the inotify fd and
// decodes every IN_CREATE event found. A benign EAGAIN (another worker
// already drained the fd first) yields an empty, non-error result.
func (w *Watcher) ReadEvents() ([]hotplugEvent, error) {
	buf := make([]byte, inotifyEventHeaderSize+unix.PathMax+1)
	n, err := unix.Read(w.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	var events []hotplugEvent
	offset := 0
	for offset+inotifyEventHeaderSize <= n {
		wd := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
		mask := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
		nameLen := int(binary.LittleEndian.Uint32(buf[offset+12 : offset+16]))
		nameStart := offset + inotifyEventHeaderSize
		nameEnd := nameStart + nameLen
		if nameEnd > n {
			break
		}
		name := cString(buf[nameStart:nameEnd])
		if mask&unix.IN_CREATE != 0 && name != "" {
			events = append(events, hotplugEvent{WD: wd, Name: name})
		}
		offset = nameEnd
	}
	return events, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// HandleHotplug processes every pending inotify event, opening newly
// created channel files and appending them (with geometry initialized)
// to reg. Callers must already hold reg's write lock. A per-event
// failure discards that event and moves on to the rest; the first such
// error is returned so the caller can log it.
func HandleHotplug(w *Watcher, reg *Registry, sink consumerd.Sink, mode consumerd.Mode) error {
	events, err := w.ReadEvents()
	if err != nil {
		return err
	}
	var firstErr error
	for _, ev := range events {
		watch, ok := reg.WatchByWD(ev.WD)
		if !ok {
			continue
		}
		absPath := filepath.Join(watch.Dir, ev.Name)
		relPath := absPath[watch.RelBase:]
		if !acceptByMode(mode, ev.Name) {
			continue
		}
		pair, opened, err := openChannelFile(sink, absPath, relPath)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !opened {
			continue
		}
		if err := InitGeometry([]*Pair{pair}); err != nil {
			_ = closeFd(pair.FD())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reg.appendPairLocked(pair)
	}
	return firstErr
}
