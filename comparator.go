package wisent

import "encoding/binary"

// Cmp is a key or duplicate-value comparison function. It must implement a
// strict total order and must not change for the lifetime of a database.
type Cmp = func(a, b []byte) int

// CmpBytes is the default ordering: unsigned lexicographic byte comparison.
// Buffers of at least 8 bytes are compared a machine word at a time; words
// are loaded big-endian so word comparison agrees with byte comparison.
func CmpBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	i := 0
	for ; i+8 <= n; i += 8 {
		wa := binary.BigEndian.Uint64(a[i:])
		wb := binary.BigEndian.Uint64(b[i:])
		if wa != wb {
			if wa < wb {
				return -1
			}
			return 1
		}
	}
	for ; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// CmpIntegerKey orders fixed-width native-endian unsigned integer keys (4 or
// 8 bytes). Mixed-width keys sort shorter-first so the order stays total even
// on malformed input.
func CmpIntegerKey(a, b []byte) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch len(a) {
	case 8:
		va := binary.NativeEndian.Uint64(a)
		vb := binary.NativeEndian.Uint64(b)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	case 4:
		va := binary.NativeEndian.Uint32(a)
		vb := binary.NativeEndian.Uint32(b)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	default:
		return CmpBytes(a, b)
	}
}

// CmpReverse orders keys by comparing bytes from the end toward the start.
func CmpReverse(a, b []byte) int {
	ia, ib := len(a), len(b)
	for ia > 0 && ib > 0 {
		ia--
		ib--
		if a[ia] != b[ib] {
			if a[ia] < b[ib] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// comparatorFor returns the built-in key comparator implied by flags.
func comparatorFor(flags DBFlags) Cmp {
	switch {
	case flags.Has(IntegerKey):
		return CmpIntegerKey
	case flags.Has(ReverseKey):
		return CmpReverse
	default:
		return CmpBytes
	}
}
