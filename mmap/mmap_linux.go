//go:build linux

package mmap

import (
	"syscall"
	"unsafe"
)

// remap grows the mapping in place with mremap, letting the kernel move the
// region if the adjacent address space is taken.
func (r *Region) remap(newSize int64) ([]byte, error) {
	const mremapMaymove = 1

	addr, _, errno := syscall.Syscall6(
		syscall.SYS_MREMAP,
		uintptr(unsafe.Pointer(&r.buf[0])),
		uintptr(r.size),
		uintptr(newSize),
		mremapMaymove,
		0, 0)
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), newSize), nil
}
