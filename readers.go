package wisent

import (
	"os"
	"sync"
	"time"
)

// defaultMaxReaders is the reader slot table size when the caller does not
// set one.
const defaultMaxReaders = 126

// ReaderInfo describes one active reader slot.
type ReaderInfo struct {
	Slot  int
	Txnid uint64
	PID   int
	Since time.Time
}

type readerSlot struct {
	txnid txnid // 0 = free
	pid   int
	since time.Time
}

// readerTable tracks the snapshot each live read transaction pins. The
// oldest pinned txnid bounds which freed pages the allocator may reuse.
// Free slots are kept on a LIFO stack so acquisition is O(1) when churn is
// high.
type readerTable struct {
	mu    sync.Mutex
	slots []readerSlot
	free  []int32
}

func newReaderTable(maxReaders int) *readerTable {
	if maxReaders <= 0 {
		maxReaders = defaultMaxReaders
	}
	t := &readerTable{
		slots: make([]readerSlot, maxReaders),
		free:  make([]int32, maxReaders),
	}
	for i := range t.free {
		t.free[i] = int32(maxReaders - 1 - i)
	}
	return t
}

// acquire claims a slot pinned at tid. Returns ErrReadersFull when every
// slot is taken.
func (t *readerTable) acquire(tid txnid) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return -1, NewError(ErrReadersFull)
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.slots[idx] = readerSlot{txnid: tid, pid: os.Getpid(), since: time.Now()}
	return int(idx), nil
}

// repin moves an existing slot to a newer snapshot. Used by Renew.
func (t *readerTable) repin(idx int, tid txnid) {
	t.mu.Lock()
	t.slots[idx].txnid = tid
	t.slots[idx].since = time.Now()
	t.mu.Unlock()
}

func (t *readerTable) release(idx int) {
	t.mu.Lock()
	t.slots[idx] = readerSlot{}
	t.free = append(t.free, int32(idx))
	t.mu.Unlock()
}

// oldest returns the smallest pinned txnid, or fallback when no reader is
// active.
func (t *readerTable) oldest(fallback txnid) txnid {
	t.mu.Lock()
	defer t.mu.Unlock()
	oldest := fallback
	for i := range t.slots {
		if tid := t.slots[i].txnid; tid != 0 && tid < oldest {
			oldest = tid
		}
	}
	return oldest
}

func (t *readerTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - len(t.free)
}

func (t *readerTable) list() []ReaderInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ReaderInfo
	for i := range t.slots {
		if t.slots[i].txnid == 0 {
			continue
		}
		out = append(out, ReaderInfo{
			Slot:  i,
			Txnid: uint64(t.slots[i].txnid),
			PID:   t.slots[i].pid,
			Since: t.slots[i].since,
		})
	}
	return out
}

// clearDead frees slots whose owning process no longer exists and returns
// how many were cleared. Slots owned by the current process are never
// touched.
func (t *readerTable) clearDead() int {
	self := os.Getpid()
	t.mu.Lock()
	defer t.mu.Unlock()
	cleared := 0
	for i := range t.slots {
		s := &t.slots[i]
		if s.txnid == 0 || s.pid == self {
			continue
		}
		if !processExists(s.pid) {
			*s = readerSlot{}
			t.free = append(t.free, int32(i))
			cleared++
		}
	}
	return cleared
}
