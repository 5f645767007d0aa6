package consumer

import (
	"sync"

	"github.com/ringtrace/consumerd/internal/observability"
)

// Watch is a hot-plug watch on one directory. relBase is the length of
// the trace-root prefix of dir, so a newly-created file's path can be
// made relative without restating the root each time.
type Watch struct {
	WD      int
	Dir     string
	RelBase int
}

// Registry is the growable, append-only set of Pairs and Watches shared
// by every worker. Pairs and watches are only ever appended, never
// reordered or removed, so an index a reader captured under a prior
// read-lock remains valid forever.
type Registry struct {
	mu      sync.RWMutex
	pairs   []*Pair
	watches []*Watch
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// SnapshotReaders returns the current pair slice under the read lock. The
// returned slice header is a snapshot: later appends do not retroactively
// change its length, but indices within it remain valid forever.
func (r *Registry) SnapshotReaders() []*Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pairs[:len(r.pairs):len(r.pairs)]
}

// Len returns the current pair count under the read lock.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}

// AppendPair adds a pair at the end under the write lock.
func (r *Registry) AppendPair(p *Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendPairLocked(p)
}

// AppendWatch adds a watch at the end under the write lock.
func (r *Registry) AppendWatch(w *Watch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendWatchLocked(w)
}

// appendPairLocked appends without taking the lock; callers must hold
// the write lock (or otherwise guarantee exclusive access). The lock is
// not reentrant, so the discovery walker and the hot-plug handler — both
// of which run inside a caller-held write lock — append through this.
func (r *Registry) appendPairLocked(p *Pair) {
	r.pairs = append(r.pairs, p)
	observability.RingsRegistered.Set(float64(len(r.pairs)))
}

func (r *Registry) appendWatchLocked(w *Watch) {
	r.watches = append(r.watches, w)
}

// WatchByWD finds the watch with the given descriptor. Called from within
// the hot-plug handler, which already holds the write lock, so this does
// not take its own lock — callers must hold it.
func (r *Registry) WatchByWD(wd int) (*Watch, bool) {
	for _, w := range r.watches {
		if w.WD == wd {
			return w, true
		}
	}
	return nil, false
}

// Lock/Unlock expose the write lock directly for the discovery walk in
// Instance.Start and for the hot-plug handler, each of which must run as
// a single critical section.
func (r *Registry) Lock()    { r.mu.Lock() }
func (r *Registry) Unlock()  { r.mu.Unlock() }
func (r *Registry) RLock()   { r.mu.RLock() }
func (r *Registry) RUnlock() { r.mu.RUnlock() }

// pairsLocked returns the pair slice without taking a lock; callers must
// already hold r.mu (read or write).
func (r *Registry) pairsLocked() []*Pair { return r.pairs }
