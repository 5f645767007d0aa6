package consumer

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ringtrace/consumerd"
	"github.com/ringtrace/consumerd/internal/observability"
	uberatomic "go.uber.org/atomic"
)

// Instance is the single top-level trace object. It owns the registry,
// the hot-plug watcher, and the worker pool; it is created once at start
// and torn down after the last worker joins — no instance outlives its
// workers.
type Instance struct {
	ID string

	root    string
	mode    consumerd.Mode
	sink    consumerd.Sink
	logger  consumerd.Logger
	watcher *Watcher // nil when hot-plug tracking is unavailable

	registry *Registry
	stop     uberatomic.Bool
	wg       sync.WaitGroup

	numWorkers int
}

// Options configures a new Instance.
type Options struct {
	Root       string
	NumWorkers int
	Mode       consumerd.Mode
	Sink       consumerd.Sink
	Logger     consumerd.Logger
	// DisableHotplug skips arming the inotify watcher entirely, the same
	// degraded mode the core falls back to when the facility is absent.
	DisableHotplug bool
}

// New constructs an Instance without starting it. NumWorkers < 1 is
// clamped to 1, matching liblttd_new_instance's n_threads handling.
func New(opts Options) (*Instance, error) {
	n := opts.NumWorkers
	if n < 1 {
		n = 1
	}

	var watcher *Watcher
	if !opts.DisableHotplug {
		w, err := NewWatcher()
		if err != nil {
			opts.Logger.Warn("inotify unavailable, hot-plug tracking disabled", "error", err)
		} else {
			watcher = w
		}
	}

	return &Instance{
		ID:         uuid.NewString(),
		root:       opts.Root,
		mode:       opts.Mode,
		sink:       opts.Sink,
		logger:     opts.Logger,
		watcher:    watcher,
		registry:   NewRegistry(),
		numWorkers: n,
	}, nil
}

// Start runs the discovery walk and geometry initialization under the
// registry write lock, then spawns the worker pool.
func (inst *Instance) Start() error {
	inst.registry.Lock()
	walker := &Walker{Root: inst.root, Mode: inst.mode, Sink: inst.sink, Logger: inst.logger, Watch: inst.watcher}
	err := walker.Walk(inst.registry)
	if err == nil {
		err = InitGeometry(inst.registry.pairsLocked())
	}
	inst.registry.Unlock()
	if err != nil {
		return err
	}

	if inst.registry.Len() == 0 {
		return consumerd.NewError(consumerd.ErrNoChannel, nil)
	}

	inst.wg.Add(inst.numWorkers)
	for i := 0; i < inst.numWorkers; i++ {
		go inst.runWorker(i)
	}
	return nil
}

// Stop requests every worker to terminate at the top of its next
// iteration. It is safe to call from a signal handler; the flag uses
// relaxed atomic semantics.
func (inst *Instance) Stop() { inst.stop.Store(true) }

// Wait blocks until every worker has returned, then runs teardown exactly
// once: close every ring, on_close_channel per pair, close the hot-plug
// watcher, on_trace_end.
func (inst *Instance) Wait() error {
	inst.wg.Wait()

	for _, p := range inst.registry.SnapshotReaders() {
		if err := closeFd(p.FD()); err != nil {
			inst.logger.Warn("failed to close ring fd", "ring", p.RelPath(), "error", err)
		}
		if err := inst.sink.OnCloseChannel(p); err != nil {
			inst.logger.Error("sink on_close_channel failed", "ring", p.RelPath(), "error", err)
		}
	}
	observability.RingsRegistered.Set(0)

	if inst.watcher != nil {
		if err := inst.watcher.Close(); err != nil {
			inst.logger.Warn("failed to close hot-plug watcher", "error", err)
		}
	}

	if err := inst.sink.OnTraceEnd(); err != nil {
		inst.logger.Error("sink on_trace_end failed", "error", err)
		return err
	}
	return nil
}
