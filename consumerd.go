// Package consumerd defines the interfaces through which the ring-buffer
// trace consumer core talks to its surrounding daemon and to the sink
// that ultimately receives trace bytes. The core never depends on a
// concrete sink, logger, or producer implementation — only on these
// capability sets.
package consumerd

import "context"

// Mode selects which channel files the discovery walker and hot-plug
// watcher will open, by base-name prefix.
type Mode int

const (
	// ModeAll opens both flight-recorder and normal channels.
	ModeAll Mode = iota
	// ModeFlightOnly opens only channels whose base name starts with "flight-".
	ModeFlightOnly
	// ModeNormalOnly opens only channels whose base name does not start with "flight-".
	ModeNormalOnly
)

func (m Mode) String() string {
	switch m {
	case ModeFlightOnly:
		return "flight-only"
	case ModeNormalOnly:
		return "normal-only"
	default:
		return "all"
	}
}

// Channel is the surface of a single per-CPU ring FD pair that a Sink is
// allowed to touch. The concrete type lives in the core; Sink
// implementations only ever see it through this interface.
type Channel interface {
	// FD returns the ring file's descriptor, open read-only and
	// non-blocking. Valid for the lifetime of the trace; never reopened.
	FD() int

	// NSubBuffers returns the ring's static sub-buffer count, fetched once
	// at registration.
	NSubBuffers() uint32

	// MaxSubBufferSize returns the ring's static maximum sub-buffer size,
	// fetched once at registration.
	MaxSubBufferSize() uint32

	// Offset returns the number of bytes handed to the Sink so far for
	// this channel.
	Offset() int64

	// AddOffset advances the byte offset by delta. Called by a Sink after
	// a successful OnReadSubbuffer to record how many bytes it consumed.
	AddOffset(delta int64)

	// UserData returns the Sink-private opaque handle previously stored
	// with SetUserData, or nil if none was set.
	UserData() interface{}

	// SetUserData stores a Sink-private opaque handle on the pair, valid
	// until OnCloseChannel.
	SetUserData(v interface{})
}

// Sink is the capability set the core invokes as it discovers channels,
// drains sub-buffers, and tears a trace down. A concrete Sink is supplied
// once at construction; the core depends only on this interface.
type Sink interface {
	// OnNewChannelsFolder is called once per directory visited by the
	// discovery walker, before any file in it is opened. The hot-plug
	// watcher does not call it. relPath is relative to the trace root.
	// A non-nil error aborts startup.
	OnNewChannelsFolder(relPath string) error

	// OnOpenChannel is called once a channel file has been opened
	// read-only/non-blocking, before the pair becomes visible to other
	// workers. A non-nil error causes the pair to be discarded: the core
	// closes the handle and does not register it.
	OnOpenChannel(ch Channel, relPath string) error

	// OnReadSubbuffer is called once per drained sub-buffer, holding the
	// pair's mutex. ch.FD() is positioned for a read of exactly length
	// bytes; the Sink must consume exactly that many bytes and call
	// ch.AddOffset on success. Re-entrant across distinct Channels;
	// never called twice concurrently for the same Channel.
	OnReadSubbuffer(ctx context.Context, ch Channel, length uint32) error

	// OnCloseChannel is called once per pair during teardown, after its
	// handle has been closed. The Sink should release any resources
	// referenced by ch.UserData().
	OnCloseChannel(ch Channel) error

	// OnNewThread is called once per worker goroutine, before it enters
	// its poll loop.
	OnNewThread(threadNum int) error

	// OnCloseThread is called once per worker goroutine, just before it
	// returns.
	OnCloseThread(threadNum int) error

	// OnTraceEnd is called exactly once per trace instance, strictly
	// after every worker has returned and every other Sink callback has
	// been made. No Sink method is ever called afterward.
	OnTraceEnd() error
}

// Logger is the structured logging capability the core requires. Key/value
// pairs alternate key, value, key, value, ...
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ErrorKind classifies the failures the core reports to its embedder.
type ErrorKind string

const (
	ErrNoEntry        ErrorKind = "no-entry"
	ErrNoChannel      ErrorKind = "no-channel"
	ErrGeometry       ErrorKind = "geometry"
	ErrSinkOpenFailed ErrorKind = "sink-open-failed"
	ErrTransientDrain ErrorKind = "transient-drain"
	ErrRingHangup     ErrorKind = "ring-hangup"
	ErrAllHangup      ErrorKind = "all-hangup"
	ErrWorkerSpawn    ErrorKind = "worker-spawn"
)

// Error wraps an underlying error with its ErrorKind classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error of the given kind wrapping err.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

type workerNumKey struct{}

// WithWorkerNum attaches the calling worker's number to ctx. The core
// calls this before invoking Sink.OnReadSubbuffer so a Sink that keeps
// per-thread scratch state can recover which thread it is running on
// without relying on goroutine-local storage, which Go does not provide.
func WithWorkerNum(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, workerNumKey{}, n)
}

// WorkerNumFromContext recovers the worker number set by WithWorkerNum.
func WorkerNumFromContext(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(workerNumKey{}).(int)
	return n, ok
}
