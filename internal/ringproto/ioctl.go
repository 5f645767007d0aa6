// Package ringproto implements the sub-buffer reserve/size/release
// protocol a kernel ring-buffer producer exposes through ioctl(2) on the
// open ring file, grounded in the liblttd.c RELAY_* request numbers.
package ringproto

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The kernel encodes ioctl request numbers with the same bit layout the
// asm-generic/ioctl.h macros use: dir(2) | size(14) | type(8) | nr(8).
// We rebuild _IOR/_IOW here rather than hardcoding the five resulting
// numbers so the request layout is visible and auditable.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocRead  = 2
	iocWrite = 1

	u32Size = 4

	relayIoctlType = 0xF5
)

func ioc(dir, ioctlType, nr, size uint32) uint32 {
	return dir<<iocDirShift | ioctlType<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ior(ioctlType, nr uint32) uint32 { return ioc(iocRead, ioctlType, nr, u32Size) }
func iow(ioctlType, nr uint32) uint32 { return ioc(iocWrite, ioctlType, nr, u32Size) }

// Request numbers for the relayfs-style sub-buffer protocol. Names and
// nrs mirror RELAY_GET_SB / RELAY_PUT_SB / RELAY_GET_N_SB /
// RELAY_GET_SB_SIZE / RELAY_GET_MAX_SB_SIZE from liblttd.c.
var (
	reqGetSubbuffer    = ior(relayIoctlType, 0x00)
	reqPutSubbuffer    = iow(relayIoctlType, 0x01)
	reqGetNSubbuffers  = ior(relayIoctlType, 0x02)
	reqGetSubbufSize   = ior(relayIoctlType, 0x03)
	reqGetMaxSubbufLen = ior(relayIoctlType, 0x04)
)

// ErrBenignContention is returned by Reserve when no sub-buffer is
// currently available: no work done, not an error.
var ErrBenignContention = errors.New("ringproto: no sub-buffer available")

// ErrReaderPushed is returned by Release when the producer overwrote the
// sub-buffer before it could be released — only possible with older
// producers.
var ErrReaderPushed = errors.New("ringproto: reader pushed by writer, sub-buffer corrupted")

func ioctlGetUint32(fd int, req uint32) (uint32, error) {
	var val uint32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&val)))
	if errno != 0 {
		return 0, errno
	}
	return val, nil
}

func ioctlPutUint32(fd int, req uint32, val uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&val)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Reserve obtains a cookie for the oldest unread sub-buffer on fd. A
// benign EAGAIN-class failure (no sub-buffer ready) is reported as
// ErrBenignContention rather than a raw errno.
func Reserve(fd int) (cookie uint32, err error) {
	cookie, err = ioctlGetUint32(fd, reqGetSubbuffer)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrBenignContention
		}
		return 0, err
	}
	return cookie, nil
}

// Size obtains the byte length of the currently reserved sub-buffer.
func Size(fd int) (uint32, error) {
	return ioctlGetUint32(fd, reqGetSubbufSize)
}

// Release surrenders the cookie obtained by Reserve. It must be called
// exactly once per successful Reserve, even when the Sink copy failed,
// or the ring is permanently leaked.
func Release(fd int, cookie uint32) error {
	err := ioctlPutUint32(fd, reqPutSubbuffer, cookie)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EIO) {
		return ErrReaderPushed
	}
	return err
}

// NSubBuffers fetches the ring's static sub-buffer count. Called once at
// registration.
func NSubBuffers(fd int) (uint32, error) {
	return ioctlGetUint32(fd, reqGetNSubbuffers)
}

// MaxSubBufferSize fetches the ring's static maximum sub-buffer size.
// Called once at registration.
func MaxSubBufferSize(fd int) (uint32, error) {
	return ioctlGetUint32(fd, reqGetMaxSubbufLen)
}
