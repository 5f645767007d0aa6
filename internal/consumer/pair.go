package consumer

import (
	"sync"
	"sync/atomic"

	"github.com/ringtrace/consumerd"
)

// Pair is one per-CPU ring FD pair. It implements consumerd.Channel so a
// Sink only ever sees this surface. Once appended to a Registry it is
// never reopened or moved; geometry is immutable for the pair's lifetime.
type Pair struct {
	fd        int
	relPath   string
	nSB       uint32
	maxSBSize uint32

	// tryMu serializes reserve-copy-release: the scheduler only ever
	// attempts a non-blocking acquisition.
	tryMu sync.Mutex

	offset   int64 // atomic
	userData atomic.Value
}

// NewPair wraps an already-open, read-only, non-blocking ring fd. Geometry
// is fetched separately by InitGeometry.
func NewPair(fd int, relPath string) *Pair {
	return &Pair{fd: fd, relPath: relPath}
}

func (p *Pair) FD() int                   { return p.fd }
func (p *Pair) RelPath() string           { return p.relPath }
func (p *Pair) NSubBuffers() uint32       { return atomic.LoadUint32(&p.nSB) }
func (p *Pair) MaxSubBufferSize() uint32  { return atomic.LoadUint32(&p.maxSBSize) }
func (p *Pair) Offset() int64             { return atomic.LoadInt64(&p.offset) }
func (p *Pair) AddOffset(delta int64)     { atomic.AddInt64(&p.offset, delta) }

func (p *Pair) UserData() interface{} {
	return p.userDataUnboxed()
}

func (p *Pair) SetUserData(v interface{}) {
	p.userData.Store(boxedUserData{v})
}

// boxedUserData lets SetUserData(nil) round-trip through atomic.Value,
// which otherwise panics on a nil interface{} or on differing concrete
// types across Store calls.
type boxedUserData struct{ v interface{} }

func (p *Pair) userDataUnboxed() interface{} {
	stored := p.userData.Load()
	if stored == nil {
		return nil
	}
	return stored.(boxedUserData).v
}

// TryLock attempts the non-blocking acquisition the scheduler requires.
// Returns false immediately if another worker already holds the pair.
func (p *Pair) TryLock() bool { return p.tryMu.TryLock() }

// Unlock releases the pair mutex. Must only be called by the goroutine
// that successfully called TryLock.
func (p *Pair) Unlock() { p.tryMu.Unlock() }

// InitGeometry records n_sb and max_sb_size as fetched by the package-level
// InitGeometry. Called once per pair, under the registry write lock: after
// the discovery walk has appended it, or before the hot-plug handler
// appends it.
func (p *Pair) InitGeometry(nSB, maxSBSize uint32) {
	atomic.StoreUint32(&p.nSB, nSB)
	atomic.StoreUint32(&p.maxSBSize, maxSBSize)
}

var _ consumerd.Channel = (*Pair)(nil)
