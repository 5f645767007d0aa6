package consumer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ringtrace/consumerd"
	"github.com/ringtrace/consumerd/internal/ringproto"
	"golang.org/x/sys/unix"
)

const flightPrefix = "flight-"

// acceptByMode decides, from a ring file's base name alone, whether it
// belongs under the requested Mode.
func acceptByMode(mode consumerd.Mode, baseName string) bool {
	isFlight := strings.HasPrefix(baseName, flightPrefix)
	switch mode {
	case consumerd.ModeFlightOnly:
		return isFlight
	case consumerd.ModeNormalOnly:
		return !isFlight
	default:
		return true
	}
}

// Walker performs the recursive pre-order discovery scan of the trace
// root and, when Watch is non-nil, arms a hot-plug watch on every directory
// it visits.
type Walker struct {
	Root   string
	Mode   consumerd.Mode
	Sink   consumerd.Sink
	Logger consumerd.Logger
	Watch  *Watcher // nil disables hot-plug tracking
}

// Walk populates reg with every Pair discovered under w.Root, calling the
// Sink's folder and channel callbacks as it goes. It does not fetch ring
// geometry; that is a separate pass the caller runs once the walk
// completes. Walk returns a *consumerd.Error classified no-entry if the
// root cannot be opened; the caller is responsible for the no-channel
// check once Walk returns. Callers must hold reg's write lock (or
// otherwise guarantee exclusive access) — appends go through the locked
// registry paths.
func (w *Walker) Walk(reg *Registry) error {
	if _, err := os.Lstat(w.Root); err != nil {
		return consumerd.NewError(consumerd.ErrNoEntry, err)
	}
	return w.walkDir(reg, w.Root, "")
}

func (w *Walker) walkDir(reg *Registry, absDir, relDir string) error {
	if err := w.Sink.OnNewChannelsFolder(relDir); err != nil {
		return consumerd.NewError(consumerd.ErrNoEntry, err)
	}

	if w.Watch != nil {
		wd, err := w.Watch.Add(absDir)
		if err != nil {
			w.Logger.Warn("hotplug watch failed, directory will not be tracked", "dir", absDir, "error", err)
		} else {
			reg.appendWatchLocked(&Watch{WD: wd, Dir: absDir, RelBase: len(w.Root) + 1})
		}
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		if absDir == w.Root {
			return consumerd.NewError(consumerd.ErrNoEntry, err)
		}
		w.Logger.Warn("failed to read directory during discovery, skipping", "dir", absDir, "error", err)
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		absPath := filepath.Join(absDir, name)
		relPath := filepath.Join(relDir, name)

		info, err := entry.Info()
		if err != nil {
			w.Logger.Warn("failed to stat entry during discovery, skipping", "path", absPath, "error", err)
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if entry.IsDir() {
			if err := w.walkDir(reg, absPath, relPath); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if !acceptByMode(w.Mode, name) {
			continue
		}

		pair, opened, err := openChannelFile(w.Sink, absPath, relPath)
		if err != nil {
			w.Logger.Warn("failed to open channel file, skipping", "path", absPath, "error", err)
			continue
		}
		if !opened {
			continue
		}
		reg.appendPairLocked(pair)
	}
	return nil
}

// openChannelFile opens absPath read-only/non-blocking and offers it to
// the Sink. A Sink rejection (opened=false, err=nil) is not an error: the
// channel is simply skipped. A genuine open failure is returned as err so
// the caller can log and move on.
func openChannelFile(sink consumerd.Sink, absPath, relPath string) (pair *Pair, opened bool, err error) {
	fd, err := unix.Open(absPath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, false, err
	}
	pair = NewPair(fd, relPath)
	if err := sink.OnOpenChannel(pair, relPath); err != nil {
		_ = unix.Close(fd)
		return nil, false, nil
	}
	return pair, true, nil
}

// InitGeometry fetches n_sb/max_sb_size for each pair in pairs. Callers
// must hold the registry write lock.
func InitGeometry(pairs []*Pair) error {
	for _, p := range pairs {
		nSB, err := ringproto.NSubBuffers(p.FD())
		if err != nil {
			return consumerd.NewError(consumerd.ErrGeometry, err)
		}
		maxSB, err := ringproto.MaxSubBufferSize(p.FD())
		if err != nil {
			return consumerd.NewError(consumerd.ErrGeometry, err)
		}
		p.InitGeometry(nSB, maxSB)
	}
	return nil
}
