package wisent

import (
	"sync"
	"sync/atomic"
)

// refStripes is the stripe count of the handle reference counter. Power of
// two so the stripe pick is a mask.
const refStripes = 16

type refStripe struct {
	mu    sync.Mutex
	count int64
	_     [40]byte // keep stripes on separate cache lines
}

// stripedRefCounter counts in-flight public operations on an environment.
// Acquire and release touch only one stripe, so concurrent readers do not
// contend on a single counter word. Zero detection takes every stripe lock
// in order, which both sums an exact total and acts as a barrier: no
// acquire can complete while the sweep holds all stripes.
type stripedRefCounter struct {
	stripes [refStripes]refStripe
	seq     atomic.Uint64
}

func (c *stripedRefCounter) acquire() int {
	idx := int(c.seq.Add(1) & (refStripes - 1))
	s := &c.stripes[idx]
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return idx
}

func (c *stripedRefCounter) release(idx int) {
	s := &c.stripes[idx]
	s.mu.Lock()
	s.count--
	s.mu.Unlock()
}

// idle reports whether no operation is in flight. All stripe locks are held
// across the sum so the answer is exact at the moment it is computed.
func (c *stripedRefCounter) idle() bool {
	for i := range c.stripes {
		c.stripes[i].mu.Lock()
	}
	total := int64(0)
	for i := range c.stripes {
		total += c.stripes[i].count
	}
	for i := len(c.stripes) - 1; i >= 0; i-- {
		c.stripes[i].mu.Unlock()
	}
	return total == 0
}
