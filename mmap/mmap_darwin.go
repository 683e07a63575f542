//go:build darwin

package mmap

import "errors"

// remap always fails on darwin; Grow falls back to munmap+mmap.
func (r *Region) remap(int64) ([]byte, error) {
	return nil, errors.New("mremap not available")
}
