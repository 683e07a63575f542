// Package mmap wraps memory-mapped file regions for the storage engine.
// Only Unix-like platforms are supported.
package mmap

// Region is a shared file mapping. The engine maps the data file read-only
// and grows the mapping as the file grows; dirty pages are written with
// pwrite, never through the map.
type Region struct {
	buf      []byte
	fd       int
	size     int64
	writable bool
}

// Bytes returns the mapped memory. The slice is invalidated by Grow and
// Close.
func (r *Region) Bytes() []byte { return r.buf }

// Size returns the mapped length in bytes.
func (r *Region) Size() int64 { return r.size }

// Writable reports whether the mapping has write permission.
func (r *Region) Writable() bool { return r.writable }

// Error describes a failed mapping operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mmap: " + e.Op + ": " + e.Err.Error()
	}
	return "mmap: " + e.Op
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrInvalidSize = &Error{Op: "invalid size"}
	ErrNotMapped   = &Error{Op: "not mapped"}
)
