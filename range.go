package wisent

// KeyRange describes a scan declaratively: a direction, optional begin and
// stop bounds with inclusivity, or a key prefix. Compiling the range
// yields an initial cursor positioning, a per-step decision against the
// stop bound, and an advance direction.
//
// For backward ranges the begin bound is the larger end: iteration starts
// there and walks down to the stop bound.
type KeyRange struct {
	backward  bool
	begin     []byte
	beginIncl bool
	stop      []byte
	stopIncl  bool
}

// All scans everything forward.
func All() KeyRange { return KeyRange{} }

// AllBackward scans everything from the last key down.
func AllBackward() KeyRange { return KeyRange{backward: true} }

// AtLeast scans forward from key k inclusive.
func AtLeast(k []byte) KeyRange { return KeyRange{begin: k, beginIncl: true} }

// AtLeastBackward scans backward starting at k inclusive.
func AtLeastBackward(k []byte) KeyRange {
	return KeyRange{backward: true, begin: k, beginIncl: true}
}

// GreaterThan scans forward from key k exclusive.
func GreaterThan(k []byte) KeyRange { return KeyRange{begin: k} }

// GreaterThanBackward scans backward starting below k.
func GreaterThanBackward(k []byte) KeyRange {
	return KeyRange{backward: true, begin: k}
}

// AtMost scans forward up to key k inclusive.
func AtMost(k []byte) KeyRange { return KeyRange{stop: k, stopIncl: true} }

// AtMostBackward scans backward from the last key down to k inclusive.
func AtMostBackward(k []byte) KeyRange {
	return KeyRange{backward: true, stop: k, stopIncl: true}
}

// LessThan scans forward while keys stay below k.
func LessThan(k []byte) KeyRange { return KeyRange{stop: k} }

// LessThanBackward scans backward from the last key down to above k.
func LessThanBackward(k []byte) KeyRange {
	return KeyRange{backward: true, stop: k}
}

// Closed scans [start, stop] forward.
func Closed(start, stop []byte) KeyRange {
	return KeyRange{begin: start, beginIncl: true, stop: stop, stopIncl: true}
}

// ClosedBackward scans [stop, start] backward, starting at start.
func ClosedBackward(start, stop []byte) KeyRange {
	return KeyRange{backward: true, begin: start, beginIncl: true, stop: stop, stopIncl: true}
}

// ClosedOpen scans [start, stop) forward.
func ClosedOpen(start, stop []byte) KeyRange {
	return KeyRange{begin: start, beginIncl: true, stop: stop}
}

// ClosedOpenBackward scans (stop, start] backward.
func ClosedOpenBackward(start, stop []byte) KeyRange {
	return KeyRange{backward: true, begin: start, beginIncl: true, stop: stop}
}

// Open scans (start, stop) forward. start == stop yields nothing.
func Open(start, stop []byte) KeyRange {
	return KeyRange{begin: start, stop: stop}
}

// OpenBackward scans (stop, start) backward.
func OpenBackward(start, stop []byte) KeyRange {
	return KeyRange{backward: true, begin: start, stop: stop}
}

// OpenClosed scans (start, stop] forward.
func OpenClosed(start, stop []byte) KeyRange {
	return KeyRange{begin: start, stop: stop, stopIncl: true}
}

// OpenClosedBackward scans [stop, start) backward.
func OpenClosedBackward(start, stop []byte) KeyRange {
	return KeyRange{backward: true, begin: start, stop: stop, stopIncl: true}
}

// Prefix scans every key beginning with p, in order.
func Prefix(p []byte) KeyRange {
	return KeyRange{begin: p, beginIncl: true, stop: prefixSuccessor(p)}
}

// PrefixBackward scans every key beginning with p, largest first.
func PrefixBackward(p []byte) KeyRange {
	return KeyRange{backward: true, begin: prefixSuccessor(p), stop: p, stopIncl: true}
}

// prefixSuccessor returns the smallest key greater than every key with
// the given prefix: the prefix with its rightmost non-0xFF byte
// incremented and the tail cut. All-0xFF prefixes have no successor and
// return nil (scan to the end).
func prefixSuccessor(p []byte) []byte {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] != 0xFF {
			s := make([]byte, i+1)
			copy(s, p)
			s[i]++
			return s
		}
	}
	return nil
}

// Range is a declarative scan over one database. It hands out exactly one
// iterator; asking again is an ErrIllegalState.
type Range struct {
	tx       *Txn
	dbi      DBI
	kr       KeyRange
	consumed bool
}

// Range prepares a scan of dbi described by kr.
func (tx *Txn) Range(dbi DBI, kr KeyRange) (*Range, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	if _, err := tx.treeStateFor(dbi); err != nil {
		return nil, err
	}
	return &Range{tx: tx, dbi: dbi, kr: kr}, nil
}

// Iterator starts the scan. The Range is single-use.
func (r *Range) Iterator() (*RangeIter, error) {
	if r.consumed {
		return nil, NewError(ErrIllegalState)
	}
	r.consumed = true
	c, err := r.tx.openCursor(r.dbi)
	if err != nil {
		return nil, err
	}
	it := &RangeIter{c: c, kr: r.kr}
	it.cmpKeys = c.cmp
	return it, nil
}

// RangeIter walks a Range lazily. The usual loop is
//
//	for it.Next() { use it.Key(), it.Value() }
//	if err := it.Err(); err != nil { ... }
//
// Key and Value slices alias pages: they are valid only until the next
// advance or the end of the owning transaction.
type RangeIter struct {
	c       *Cursor
	kr      KeyRange
	cmpKeys Cmp

	key, val []byte
	started  bool
	done     bool
	err      error
}

// Next advances to the next element in range, reporting whether one
// exists.
func (it *RangeIter) Next() bool {
	if it.done {
		return false
	}
	for {
		key, val, err := it.step()
		if err != nil {
			it.stop(err)
			return false
		}
		switch it.decide(key) {
		case rangeEmit:
			it.key, it.val = key, val
			return true
		case rangeSkip:
			continue
		default:
			it.stop(nil)
			return false
		}
	}
}

func (it *RangeIter) step() ([]byte, []byte, error) {
	if !it.started {
		it.started = true
		return it.position()
	}
	if it.kr.backward {
		return it.c.Prev()
	}
	return it.c.Next()
}

// position runs the initial cursor operation the range compiles to.
func (it *RangeIter) position() ([]byte, []byte, error) {
	kr := &it.kr
	if kr.begin == nil {
		if kr.backward {
			return it.c.Last()
		}
		return it.c.First()
	}

	key, val, err := it.c.Seek(kr.begin)
	if kr.backward {
		if err != nil {
			if IsNotFound(err) {
				// Everything sorts below the begin bound; start at the top.
				return it.c.Last()
			}
			return nil, nil, err
		}
		r := it.cmpKeys(key, kr.begin)
		if r > 0 || (r == 0 && !kr.beginIncl) {
			return it.c.PrevNoDup()
		}
		// Mirror of the forward case: descending iteration starts on the
		// key's last duplicate.
		return it.c.LastDup()
	}

	if err != nil {
		return nil, nil, err
	}
	if !kr.beginIncl && it.cmpKeys(key, kr.begin) == 0 {
		// Exclusive begin: skip the exact match once.
		return it.c.NextNoDup()
	}
	return key, val, nil
}

const (
	rangeEmit = iota
	rangeSkip
	rangeStop
)

func (it *RangeIter) decide(key []byte) int {
	kr := &it.kr
	if kr.stop == nil {
		return rangeEmit
	}
	r := it.cmpKeys(key, kr.stop)
	if kr.backward {
		r = -r
	}
	switch {
	case r < 0:
		return rangeEmit
	case r == 0:
		if kr.stopIncl {
			return rangeEmit
		}
		return rangeStop
	default:
		return rangeStop
	}
}

func (it *RangeIter) stop(err error) {
	it.done = true
	it.key, it.val = nil, nil
	if err != nil && !IsNotFound(err) {
		it.err = err
	}
	if it.c != nil {
		it.c.close()
		it.c = nil
	}
}

// Key returns the current key. Valid only after a true Next.
func (it *RangeIter) Key() []byte { return it.key }

// Value returns the current value. Valid only after a true Next.
func (it *RangeIter) Value() []byte { return it.val }

// Err reports a scan failure. Exhaustion is not an error.
func (it *RangeIter) Err() error { return it.err }

// Close releases the iterator early. Safe to call more than once.
func (it *RangeIter) Close() {
	if !it.done {
		it.stop(nil)
	}
}
