package wisent

import (
	"encoding/binary"
	"sort"
)

// The free tree maps big-endian txnid keys to the sorted list of pages that
// commit released. An entry becomes reusable once no live reader pins a
// snapshot older than its key.
//
// Entry value layout (little-endian): u32 count, u32 capacity, then
// capacity*u64 page numbers of which the first count are meaningful. The
// slack lets the commit loop rewrite the entry in place as it discovers the
// pages freed by writing the entry itself.

func encodeFreeEntry(ids []pgno, capacity int) []byte {
	if capacity < len(ids) {
		capacity = len(ids)
	}
	buf := make([]byte, 8+8*capacity)
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(ids)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(capacity))
	for i, pn := range ids {
		binary.LittleEndian.PutUint64(buf[8+8*i:], uint64(pn))
	}
	return buf
}

func decodeFreeEntry(buf []byte) ([]pgno, error) {
	if len(buf) < 8 {
		return nil, NewError(ErrCorrupted)
	}
	count := int(binary.LittleEndian.Uint32(buf[0:]))
	capacity := int(binary.LittleEndian.Uint32(buf[4:]))
	if count > capacity || len(buf) < 8+8*capacity {
		return nil, NewError(ErrCorrupted)
	}
	ids := make([]pgno, count)
	for i := range ids {
		ids[i] = pgno(binary.LittleEndian.Uint64(buf[8+8*i:]))
	}
	return ids, nil
}

func freeKey(tid txnid) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(tid))
	return k[:]
}

// allocator manages page allocation for one writer lineage: reclaimed free
// tree entries, pages retired by copy-on-write, and the file tail.
type allocator struct {
	next     pgno // tail allocation point
	firstNew pgno // pages >= firstNew were allocated by this lineage

	cache    []pgno  // reclaimed, reusable now; sorted ascending
	consumed []txnid // free tree keys drained into cache, deleted at commit
	loose    []pgno  // retired pages this lineage allocated
	freed    []pgno  // retired snapshot pages, saved under the commit txnid

	scanFrom  txnid // free tree scan resume point
	scanDone  bool
	noReclaim bool // commit phase: allocate from the tail only
}

func newAllocator(next pgno) *allocator {
	return &allocator{next: next, firstNew: next}
}

// fork copies the allocator for a nested child. The parent is frozen while
// the child runs, so the child owns the copy outright; folding back on
// child commit is adopt, aborting the child just drops it.
func (al *allocator) fork() *allocator {
	cp := *al
	cp.cache = append([]pgno(nil), al.cache...)
	cp.consumed = append([]txnid(nil), al.consumed...)
	cp.loose = append([]pgno(nil), al.loose...)
	cp.freed = append([]pgno(nil), al.freed...)
	return &cp
}

func (al *allocator) adopt(child *allocator) {
	*al = *child
}

// retire returns a page no longer referenced by the transaction's tree.
func (al *allocator) retire(pn pgno) {
	if pn >= al.firstNew {
		al.loose = append(al.loose, pn)
		return
	}
	al.freed = append(al.freed, pn)
}

// alloc returns the first page number of a run of count pages.
func (al *allocator) alloc(tx *Txn, count int) (pgno, error) {
	if !al.noReclaim {
		if count == 1 && len(al.loose) > 0 {
			pn := al.loose[len(al.loose)-1]
			al.loose = al.loose[:len(al.loose)-1]
			return pn, nil
		}
		for {
			if pn, ok := al.takeRun(count); ok {
				return pn, nil
			}
			if al.scanDone {
				break
			}
			more, err := al.reclaim(tx)
			if err != nil {
				return 0, err
			}
			if !more {
				al.scanDone = true
			}
		}
	}

	end := al.next + pgno(count)
	if uint64(end)*uint64(tx.env.pageSize) > tx.env.mapSize {
		return 0, NewError(ErrMapFull)
	}
	pn := al.next
	al.next = end
	return pn, nil
}

// takeRun removes a run of count consecutive page numbers from the cache.
func (al *allocator) takeRun(count int) (pgno, bool) {
	n := len(al.cache)
	if n < count {
		return 0, false
	}
	if count == 1 {
		pn := al.cache[n-1]
		al.cache = al.cache[:n-1]
		return pn, true
	}
	for i := n - count; i >= 0; i-- {
		if al.cache[i+count-1]-al.cache[i] == pgno(count-1) {
			pn := al.cache[i]
			al.cache = append(al.cache[:i], al.cache[i+count:]...)
			return pn, true
		}
	}
	return 0, false
}

// reclaim drains the next free tree entry old enough that no live reader
// can still reach its pages. Returns false when no further entry is
// eligible.
func (al *allocator) reclaim(tx *Txn) (bool, error) {
	oldest := tx.env.readers.oldest(tx.id - 1)

	c, err := tx.openCursor(FreeDBI)
	if err != nil {
		return false, err
	}
	defer c.close()

	found, err := c.seekRange(freeKey(al.scanFrom + 1))
	if err != nil || !found {
		return false, err
	}
	tid := txnid(binary.BigEndian.Uint64(c.currentKey()))
	if tid > oldest {
		return false, nil
	}
	val, err := c.currentValue()
	if err != nil {
		return false, err
	}
	ids, err := decodeFreeEntry(val)
	if err != nil {
		return false, err
	}

	al.cache = append(al.cache, ids...)
	sort.Slice(al.cache, func(i, j int) bool { return al.cache[i] < al.cache[j] })
	al.consumed = append(al.consumed, tid)
	al.scanFrom = tid
	return true, nil
}

// freeSet is everything this commit hands back: pages retired from the
// snapshot, reclaimed pages it did not use, and its own surplus pages.
func (al *allocator) freeSet() []pgno {
	set := make([]pgno, 0, len(al.freed)+len(al.cache)+len(al.loose))
	set = append(set, al.freed...)
	set = append(set, al.cache...)
	set = append(set, al.loose...)
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// saveFreelist folds the transaction's page bookkeeping into the free
// tree: consumed entries are deleted and the full free set is written under
// the committing txnid. Writing the entry itself allocates and retires
// pages, so the loop rewrites until a pass changes nothing; the value's
// slack capacity lets late retirements land in place.
func (tx *Txn) saveFreelist() error {
	al := tx.al
	al.noReclaim = true
	defer func() { al.noReclaim = false }()

	for _, tid := range al.consumed {
		if err := tx.deleteFreeEntry(tid); err != nil {
			return err
		}
	}
	al.consumed = al.consumed[:0]

	capacity := 0
	for {
		set := al.freeSet()
		if len(set) == 0 {
			return nil
		}
		if len(set) > capacity {
			capacity = len(set) + len(set)/4 + 16
		}

		prevNext := al.next
		prevFreed := len(al.freed)
		prevLoose := len(al.loose)

		c, err := tx.openCursor(FreeDBI)
		if err != nil {
			return err
		}
		err = c.putInternal(freeKey(tx.id), encodeFreeEntry(set, capacity), PutFlags{})
		c.close()
		if err != nil {
			return err
		}

		if al.next == prevNext && len(al.freed) == prevFreed && len(al.loose) == prevLoose {
			return nil
		}
	}
}

func (tx *Txn) deleteFreeEntry(tid txnid) error {
	c, err := tx.openCursor(FreeDBI)
	if err != nil {
		return err
	}
	defer c.close()
	found, err := c.seekExact(freeKey(tid))
	if err != nil {
		return err
	}
	if !found {
		return NewError(ErrCorrupted)
	}
	return c.deleteCurrent(false)
}
