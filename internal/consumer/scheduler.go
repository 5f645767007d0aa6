package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/ringtrace/consumerd"
	"github.com/ringtrace/consumerd/internal/observability"
	"github.com/ringtrace/consumerd/internal/ringproto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sys/unix"
)

var tracer = otel.Tracer("ringconsumerd-consumer")

const pollReadySet = unix.POLLIN | unix.POLLPRI

// waitSet is a worker's local mirror of the registry's pair list plus one
// entry for the hot-plug channel. It is rebuilt lazily: the worker only
// grows it, matching the registry's append-only growth.
type waitSet struct {
	watcher  *Watcher
	pairs    []*Pair
	pollfds  []unix.PollFd
	watchIdx int // index of the hot-plug entry in pollfds, or -1
}

func newWaitSet(watcher *Watcher) *waitSet {
	ws := &waitSet{watcher: watcher, watchIdx: -1}
	if watcher != nil {
		ws.pollfds = append(ws.pollfds, unix.PollFd{Fd: int32(watcher.FD()), Events: pollReadySet})
		ws.watchIdx = 0
	}
	return ws
}

// grow appends entries for pairs beyond what the wait set already knows
// about. It never shrinks or reorders.
func (ws *waitSet) grow(pairs []*Pair) {
	if len(pairs) <= len(ws.pairs) {
		return
	}
	for _, p := range pairs[len(ws.pairs):] {
		ws.pollfds = append(ws.pollfds, unix.PollFd{Fd: int32(p.FD()), Events: pollReadySet})
	}
	ws.pairs = pairs
}

func (ws *waitSet) pairFds() []unix.PollFd {
	if ws.watchIdx == 0 {
		return ws.pollfds[1:]
	}
	return ws.pollfds
}

// runWorker is the goroutine body for one worker: on_new_thread, the poll
// loop, then on_close_thread.
func (inst *Instance) runWorker(workerNum int) {
	defer inst.wg.Done()

	if err := inst.sink.OnNewThread(workerNum); err != nil {
		inst.logger.Error("sink rejected new thread", "worker", workerNum, "error", err)
		return
	}
	observability.ActiveWorkers.Inc()

	ws := newWaitSet(inst.watcher)
	ws.grow(inst.registry.SnapshotReaders())

	for {
		if inst.stop.Load() {
			break
		}
		if terminate := inst.pollOnce(workerNum, ws); terminate {
			break
		}
	}

	observability.ActiveWorkers.Dec()
	if err := inst.sink.OnCloseThread(workerNum); err != nil {
		inst.logger.Error("sink on_close_thread failed", "worker", workerNum, "error", err)
	}
}

// pollOnce runs one iteration of the poll/drain scheduling rule. Returns
// true when this worker should terminate (all-hangup, a fatal poll
// error, or a stop observed during a drain pass).
func (inst *Instance) pollOnce(workerNum int, ws *waitSet) bool {
	n, err := unix.Poll(ws.pollfds, -1)
	if err != nil {
		if err == unix.EINTR {
			return false
		}
		inst.logger.Error("poll failed", "worker", workerNum, "error", err)
		return true
	}
	if n == 0 {
		return false
	}

	if ws.watchIdx == 0 && ws.pollfds[0].Revents != 0 {
		if ws.pollfds[0].Revents&pollReadySet != 0 {
			inst.registry.Lock()
			if err := HandleHotplug(inst.watcher, inst.registry, inst.sink, inst.mode); err != nil {
				inst.logger.Warn("hot-plug handling failed, event discarded", "error", err)
				observability.HotplugEvents.WithLabelValues("error").Inc()
			} else {
				observability.HotplugEvents.WithLabelValues("ok").Inc()
			}
			inst.registry.Unlock()
		}
	}

	pairFds := ws.pairFds()
	numHup, highPrioIdx, normalIdx := classifyRevents(pairFds)
	if len(pairFds) > 0 && numHup == len(pairFds) {
		return true
	}

	// A stop observed mid-pass halts further drains: at most the
	// in-flight sub-buffer completes after the flag is raised.
	highPrioSeen := false
	for _, i := range highPrioIdx {
		if inst.stop.Load() {
			return true
		}
		if inst.drainIfFree(workerNum, ws.pairs[i]) {
			highPrioSeen = true
		}
	}
	if highPrioSeen {
		observability.HighPrioPasses.WithLabelValues(workerString(workerNum)).Inc()
	} else {
		for _, i := range normalIdx {
			if inst.stop.Load() {
				return true
			}
			inst.drainIfFree(workerNum, ws.pairs[i])
		}
	}

	ws.grow(inst.registry.SnapshotReaders())
	return false
}

// classifyRevents sorts one iteration's ready signals into hangup count,
// high-priority indices, and normal indices, implementing the two-tier
// priority rule as a pure function so it is testable without a real
// poll(2) call.
func classifyRevents(fds []unix.PollFd) (numHup int, highPrioIdx, normalIdx []int) {
	for i := range fds {
		switch {
		case fds[i].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0:
			numHup++
		case fds[i].Revents&unix.POLLPRI != 0:
			highPrioIdx = append(highPrioIdx, i)
		case fds[i].Revents&unix.POLLIN != 0:
			normalIdx = append(normalIdx, i)
		}
	}
	return numHup, highPrioIdx, normalIdx
}

// drainIfFree tries the pair's mutex non-blocking; if acquired, drains
// exactly one sub-buffer and releases. Returns whether it acquired the
// mutex (i.e. whether this ring was serviced this iteration).
func (inst *Instance) drainIfFree(workerNum int, p *Pair) bool {
	if !p.TryLock() {
		return false
	}
	defer p.Unlock()

	ctx := consumerd.WithWorkerNum(context.Background(), workerNum)
	err := drainOne(ctx, inst.sink, p)
	if err != nil && err != ringproto.ErrBenignContention {
		inst.logger.Warn("drain failed", "worker", workerNum, "ring", p.RelPath(), "error", err)
		observability.DrainErrors.WithLabelValues(p.RelPath(), classify(err)).Inc()
	}
	return true
}

// drainOne performs the reserve/size/copy/release sequence. The release
// always runs, even when the copy step failed, so the ring is never
// leaked.
func drainOne(ctx context.Context, sink consumerd.Sink, p *Pair) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ringconsumer.drain_subbuffer")
	span.SetAttributes(attribute.String("ring.path", p.RelPath()))
	defer span.End()

	cookie, err := ringproto.Reserve(p.FD())
	if err != nil {
		return err
	}

	length, err := ringproto.Size(p.FD())
	if err != nil {
		_ = ringproto.Release(p.FD(), cookie)
		return err
	}

	copyErr := sink.OnReadSubbuffer(ctx, p, length)

	releaseErr := ringproto.Release(p.FD(), cookie)

	observability.SubbuffersDrained.WithLabelValues(p.RelPath()).Inc()
	observability.DrainLatency.WithLabelValues(p.RelPath()).Observe(time.Since(start).Seconds())

	if copyErr != nil {
		return copyErr
	}
	return releaseErr
}

func classify(err error) string {
	if err == ringproto.ErrReaderPushed {
		return "reader-pushed"
	}
	return string(consumerd.ErrTransientDrain)
}

func workerString(n int) string { return strconv.Itoa(n) }
