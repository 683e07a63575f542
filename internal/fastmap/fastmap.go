// Package fastmap provides a fast hash map for integer keys.
// Uses fibonacci hashing for better distribution of sequential keys.
package fastmap

import "unsafe"

// Uint64Map is a fast hash map from uint64 to unsafe.Pointer.
// Uses open addressing with linear probing and fibonacci hashing.
type Uint64Map struct {
	buckets []bucket
	count   int
	mask    uint64
}

type bucket struct {
	key   uint64
	value unsafe.Pointer
	used  bool // Needed because key=0 might be valid
}

// Fibonacci hash constant: 2^64 / golden ratio
const fibHash64 = 0x9E3779B97F4A7C15

// hash computes a fast hash using fibonacci hashing
func (m *Uint64Map) hash(key uint64) uint64 {
	return key * fibHash64
}

// Get returns the value for the given key, or nil if not found.
func (m *Uint64Map) Get(key uint64) unsafe.Pointer {
	if len(m.buckets) == 0 {
		return nil
	}
	idx := m.hash(key) & m.mask
	for {
		b := &m.buckets[idx]
		if !b.used {
			return nil
		}
		if b.key == key {
			return b.value
		}
		idx = (idx + 1) & m.mask
	}
}

// Set stores a key-value pair.
func (m *Uint64Map) Set(key uint64, value unsafe.Pointer) {
	if len(m.buckets) == 0 {
		m.buckets = make([]bucket, 16)
		m.mask = 15
	} else if m.count >= len(m.buckets)*3/4 {
		m.grow()
	}

	idx := m.hash(key) & m.mask
	for {
		b := &m.buckets[idx]
		if !b.used {
			b.key = key
			b.value = value
			b.used = true
			m.count++
			return
		}
		if b.key == key {
			b.value = value
			return
		}
		idx = (idx + 1) & m.mask
	}
}

// Delete removes the key and reports whether it was present. Uses
// backward-shift deletion so linear probe chains stay intact without
// tombstones.
func (m *Uint64Map) Delete(key uint64) bool {
	if len(m.buckets) == 0 {
		return false
	}
	idx := m.hash(key) & m.mask
	for {
		b := &m.buckets[idx]
		if !b.used {
			return false
		}
		if b.key == key {
			break
		}
		idx = (idx + 1) & m.mask
	}

	hole := idx
	next := (hole + 1) & m.mask
	for {
		nb := &m.buckets[next]
		if !nb.used {
			break
		}
		ideal := m.hash(nb.key) & m.mask
		// nb may fill the hole only if its probe start is at or before the
		// hole along the chain, otherwise lookups for nb.key would miss it.
		if (next-ideal)&m.mask >= (next-hole)&m.mask {
			m.buckets[hole] = *nb
			hole = next
		}
		next = (next + 1) & m.mask
	}
	m.buckets[hole] = bucket{}
	m.count--
	return true
}

// grow doubles the hash table size
func (m *Uint64Map) grow() {
	oldBuckets := m.buckets
	newSize := len(oldBuckets) * 2
	m.buckets = make([]bucket, newSize)
	m.mask = uint64(newSize - 1)
	m.count = 0

	for i := range oldBuckets {
		if oldBuckets[i].used {
			m.Set(oldBuckets[i].key, oldBuckets[i].value)
		}
	}
}

// ForEach iterates over all key-value pairs.
func (m *Uint64Map) ForEach(fn func(uint64, unsafe.Pointer)) {
	for i := range m.buckets {
		if m.buckets[i].used {
			fn(m.buckets[i].key, m.buckets[i].value)
		}
	}
}

// Clear removes all entries but keeps the backing array.
func (m *Uint64Map) Clear() {
	clear(m.buckets)
	m.count = 0
}

// Len returns the number of entries.
func (m *Uint64Map) Len() int {
	return m.count
}
