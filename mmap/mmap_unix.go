//go:build unix

package mmap

import "golang.org/x/sys/unix"

// Map creates a shared mapping of the first size bytes of fd.
func Map(fd int, size int64, writable bool) (*Region, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	buf, err := unix.Mmap(fd, 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, &Error{Op: "mmap", Err: err}
	}

	return &Region{buf: buf, fd: fd, size: size, writable: writable}, nil
}

// Grow extends the mapping to newSize bytes. The file must already be at
// least that large. On Linux this uses mremap; elsewhere the region is
// unmapped and mapped again, so all previously returned slices are invalid
// after Grow regardless of platform.
func (r *Region) Grow(newSize int64) error {
	if r.buf == nil {
		return ErrNotMapped
	}
	if newSize <= 0 {
		return ErrInvalidSize
	}
	if newSize == r.size {
		return nil
	}

	if buf, err := r.remap(newSize); err == nil {
		r.buf = buf
		r.size = newSize
		return nil
	}

	prot := unix.PROT_READ
	if r.writable {
		prot |= unix.PROT_WRITE
	}
	if err := unix.Munmap(r.buf); err != nil {
		return &Error{Op: "munmap", Err: err}
	}
	buf, err := unix.Mmap(r.fd, 0, int(newSize), prot, unix.MAP_SHARED)
	if err != nil {
		r.buf = nil
		r.size = 0
		return &Error{Op: "mmap", Err: err}
	}
	r.buf = buf
	r.size = newSize
	return nil
}

// Sync flushes the mapped region to disk.
func (r *Region) Sync() error {
	if r.buf == nil {
		return ErrNotMapped
	}
	return unix.Msync(r.buf, unix.MS_SYNC)
}

// Close unmaps the region. The file descriptor stays open; it belongs to
// the caller.
func (r *Region) Close() error {
	if r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	r.size = 0
	return err
}

// AdviseRandom hints that access will be random, the common case for point
// lookups through a B+Tree.
func (r *Region) AdviseRandom() error {
	if r.buf == nil {
		return ErrNotMapped
	}
	return unix.Madvise(r.buf, unix.MADV_RANDOM)
}

// AdviseSequential hints that access will be sequential, useful for full
// scans and backup copies.
func (r *Region) AdviseSequential() error {
	if r.buf == nil {
		return ErrNotMapped
	}
	return unix.Madvise(r.buf, unix.MADV_SEQUENTIAL)
}
