package wisent

// Write paths of the cursor: copy-on-write page dirtying, node insertion
// with leaf/branch splits, deletion with merge/borrow rebalancing, overflow
// runs, and duplicate sub-tree maintenance.

// touchStack copies every page on the descent path into the transaction,
// re-pointing parent entries and the tree root at the copies.
func (c *Cursor) touchStack() error {
	for level := 0; level <= c.top; level++ {
		e := &c.stack[level]
		np, err := c.tx.touch(e.p)
		if err != nil {
			return err
		}
		if np == e.p {
			continue
		}
		if level == 0 {
			c.ts.Root = np.pageNo()
		} else {
			parent := &c.stack[level-1]
			nodeSetChildPgno(parent.p, parent.idx, np.pageNo())
		}
		e.p = np
	}
	c.markModified()
	return nil
}

func (c *Cursor) markModified() {
	c.ts.dirty = true
	c.ts.ModTxnid = c.tx.id
}

// newTreePage allocates a dirty page for this cursor's tree, keeping the
// tree's page counters current.
func (c *Cursor) newTreePage(flags pageFlags, count int) (*page, error) {
	p, err := c.tx.newPage(flags, count)
	if err != nil {
		return nil, err
	}
	switch {
	case flags&pageLeaf != 0:
		c.ts.LeafPages++
	case flags&pageBranch != 0:
		c.ts.BranchPages++
	case flags&pageOverflow != 0:
		c.ts.OverflowPages += uint64(count)
	}
	return p, nil
}

func (c *Cursor) freeTreePage(p *page) {
	count := 1
	switch {
	case p.isLeaf():
		c.ts.LeafPages--
	case p.isBranch():
		c.ts.BranchPages--
	case p.isOverflow():
		count = int(p.overflowPages())
		c.ts.OverflowPages -= uint64(count)
	}
	c.tx.retirePages(p.pageNo(), count)
}

// ensureRoot creates an empty leaf root for a fresh tree.
func (c *Cursor) ensureRoot() error {
	if c.ts.Root != invalidPgno {
		return nil
	}
	p, err := c.newTreePage(pageLeaf, 1)
	if err != nil {
		return err
	}
	c.ts.Root = p.pageNo()
	c.ts.Height = 1
	c.markModified()
	c.stack[0] = elem{p: p, idx: 0}
	c.top = 0
	return nil
}

// allocOverflow stores val in a fresh overflow run and returns its first
// page.
func (c *Cursor) allocOverflow(val []byte) (pgno, error) {
	pageSize := int(c.tx.env.pageSize)
	count := (pageHeaderSize + len(val) + pageSize - 1) / pageSize
	p, err := c.newTreePage(pageOverflow, count)
	if err != nil {
		return 0, err
	}
	copy(p.Data[pageHeaderSize:], val)
	return p.pageNo(), nil
}

// freeOverflow retires the run behind a big node.
func (c *Cursor) freeOverflow(start pgno) error {
	p, err := c.tx.page(start)
	if err != nil {
		return err
	}
	if !p.isOverflow() {
		return NewError(ErrCorrupted)
	}
	c.freeTreePage(p)
	return nil
}

// Put stores key/val. Default mode upserts; NoOverwrite refuses an existing
// key, NoDupData refuses an existing duplicate pair, Append requires keys
// in ascending order and skips the descent, Current replaces the value at
// the cursor position.
func (c *Cursor) Put(key, val []byte, flags PutFlags) error {
	if err := c.checkValid(); err != nil {
		return err
	}
	if err := c.tx.check(true); err != nil {
		return err
	}
	if err := c.tx.env.validKV(key, val, c.dupSort); err != nil {
		return err
	}
	if flags.Has(Current) {
		return c.putCurrent(val)
	}
	if c.dupSort {
		return c.putDup(key, val, flags)
	}
	return c.putFlat(key, val, flags, nil)
}

// putInternal is the non-dup upsert used by the free tree and the main
// tree's named-database entries.
func (c *Cursor) putInternal(key, val []byte, flags PutFlags) error {
	return c.putFlat(key, val, flags, nil)
}

// putTreeNode upserts a named-database entry in the main tree.
func (c *Cursor) putTreeNode(key []byte, t *tree) error {
	return c.putFlat(key, nil, PutFlags{}, t)
}

// PutReserve inserts key with a zero-filled value of length n and returns
// a writable slice over it, valid until the next write operation on the
// transaction. Not supported on DupSort databases.
func (c *Cursor) PutReserve(key []byte, n int) ([]byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	if err := c.tx.check(true); err != nil {
		return nil, err
	}
	if c.dupSort {
		return nil, NewError(ErrIncompatible)
	}
	if err := c.tx.env.validKV(key, nil, false); err != nil {
		return nil, err
	}
	if err := c.putFlat(key, make([]byte, n), PutFlags{}, nil); err != nil {
		return nil, err
	}
	// The cursor rests on the fresh dirty node; hand out its bytes.
	p, idx := c.currentLeaf()
	if nodeGetFlags(p, idx)&nodeBig != 0 {
		start, vlen := nodeGetOverflow(p, idx)
		op, err := c.tx.page(start)
		if err != nil {
			return nil, err
		}
		return op.Data[pageHeaderSize : pageHeaderSize+vlen], nil
	}
	return nodeGetValue(p, idx), nil
}

// putFlat inserts or replaces a plain (non-dup) entry. Exactly one of val
// or subTree is stored; subTree makes a named-database node.
func (c *Cursor) putFlat(key, val []byte, flags PutFlags, subTree *tree) error {
	var exact bool
	var err error
	if flags.Has(Append) {
		ok, lerr := c.last()
		if lerr != nil {
			return lerr
		}
		if ok && c.cmp(c.currentKey(), key) >= 0 {
			return NewError(ErrKeyExist)
		}
		if ok {
			c.stack[c.top].idx++
		}
	} else {
		exact, err = c.descend(seekKey, key)
		if err != nil {
			return err
		}
	}

	if c.top < 0 {
		if err := c.ensureRoot(); err != nil {
			return err
		}
	} else if err := c.touchStack(); err != nil {
		return err
	}

	if exact {
		if flags.Has(NoOverwrite) {
			return NewError(ErrKeyExist)
		}
		return c.replaceValue(val, subTree)
	}

	data, err := c.encodeLeafEntry(key, val, subTree)
	if err != nil {
		return err
	}
	p, idx := c.currentLeaf()
	if p.insertEntry(idx, data) {
		c.finishInsert()
		return nil
	}
	return c.splitInsert(c.top, idx, data, key)
}

func (c *Cursor) finishInsert() {
	c.ts.Items++
	c.markModified()
}

// encodeLeafEntry builds the node bytes for a new entry, spilling large
// values to an overflow run.
func (c *Cursor) encodeLeafEntry(key, val []byte, subTree *tree) ([]byte, error) {
	buf := make([]byte, c.tx.env.nodeMax)
	if subTree != nil {
		return encodeTreeNode(buf, key, subTree, nodeTree), nil
	}
	if leafNodeSize(len(key), len(val)) <= c.tx.env.nodeMax {
		return encodeLeafNode(buf, key, val), nil
	}
	start, err := c.allocOverflow(val)
	if err != nil {
		return nil, err
	}
	return encodeBigNode(buf, key, start, uint64(len(val))), nil
}

// replaceValue overwrites the value of the entry under the cursor, reusing
// a dirty overflow run of the same length class when it can.
func (c *Cursor) replaceValue(val []byte, subTree *tree) error {
	p, idx := c.currentLeaf()
	oldFlags := nodeGetFlags(p, idx)
	key := c.currentKey()

	if subTree != nil {
		if oldFlags&nodeTree != 0 {
			nodeSetTree(p, idx, subTree)
			c.markModified()
			return nil
		}
		return NewError(ErrIncompatible)
	}
	if oldFlags&(nodeDup|nodeTree) != 0 {
		return NewError(ErrIncompatible)
	}

	pageSize := int(c.tx.env.pageSize)
	if oldFlags&nodeBig != 0 {
		start, oldLen := nodeGetOverflow(p, idx)
		op, err := c.tx.page(start)
		if err != nil {
			return err
		}
		newCount := (pageHeaderSize + len(val) + pageSize - 1) / pageSize
		if op.isDirty() && leafNodeSize(len(key), len(val)) > c.tx.env.nodeMax &&
			newCount == int(op.overflowPages()) {
			// Same run length and already ours: rewrite in place. This is
			// what lets the freelist commit loop reach a fixed point.
			copy(op.Data[pageHeaderSize:], val)
			if uint64(len(val)) != oldLen {
				buf := make([]byte, c.tx.env.nodeMax)
				if !p.updateEntry(idx, encodeBigNode(buf, key, start, uint64(len(val)))) {
					return NewError(ErrCorrupted)
				}
			}
			c.markModified()
			return nil
		}
		if err := c.freeOverflow(start); err != nil {
			return err
		}
	}

	data, err := c.encodeLeafEntry(key, val, nil)
	if err != nil {
		return err
	}
	if p.updateEntry(idx, data) {
		c.markModified()
		return nil
	}
	// Does not fit even after compaction: remove and insert through the
	// split path.
	if !p.removeEntry(idx) {
		return NewError(ErrCorrupted)
	}
	c.ts.Items--
	keyCopy := append([]byte(nil), key...)
	if p.insertEntry(idx, data) {
		c.finishInsert()
		return nil
	}
	return c.splitInsert(c.top, idx, data, keyCopy)
}

// putCurrent replaces the value at the cursor's position.
func (c *Cursor) putCurrent(val []byte) error {
	if err := c.checkPositioned(); err != nil {
		return err
	}
	if !c.onEntry() {
		return NewError(ErrNotFound)
	}
	if err := c.tx.env.validKV(c.currentKey(), val, c.dupSort); err != nil {
		return err
	}
	if c.dupActive {
		return NewError(ErrIncompatible)
	}
	if err := c.touchStack(); err != nil {
		return err
	}
	return c.replaceValue(val, nil)
}

// splitInsert splits the page at level to make room for data at insIdx,
// propagating a separator into the parent. The cursor re-descends to key
// afterwards, so the stack is rebuilt rather than patched.
func (c *Cursor) splitInsert(level, insIdx int, data []byte, key []byte) error {
	p := c.stack[level].p
	n := p.numEntries()
	sp := p.splitPoint(len(data), insIdx)
	if sp <= 0 || sp > n {
		return NewError(ErrCorrupted)
	}

	right, err := c.newTreePage(p.pageType(), 1)
	if err != nil {
		return err
	}
	for i := sp; i < n; i++ {
		size := p.nodeSize(i)
		off := p.entryOffset(i)
		if !right.insertEntry(i-sp, p.Data[off:int(off)+size]) {
			return NewError(ErrCorrupted)
		}
	}
	p.removeEntriesFrom(sp)
	p.compact()

	if insIdx >= sp {
		if !right.insertEntry(insIdx-sp, data) {
			return NewError(ErrCorrupted)
		}
	} else {
		if !p.insertEntry(insIdx, data) {
			return NewError(ErrCorrupted)
		}
	}
	if p.isLeaf() {
		c.finishInsert()
	}

	sep := append([]byte(nil), nodeGetKey(right, 0)...)
	if err := c.insertSeparator(level, sep, right.pageNo()); err != nil {
		return err
	}

	// Rebuild the stack; splits shifted entries across pages.
	if key != nil {
		if _, err := c.descend(seekKey, key); err != nil {
			return err
		}
	}
	return nil
}

// insertSeparator adds (sep, right) to the parent of level, growing a new
// root when level is the root.
func (c *Cursor) insertSeparator(level int, sep []byte, right pgno) error {
	buf := make([]byte, branchNodeSize(len(sep)))
	data := encodeBranchNode(buf, sep, right)

	if level == 0 {
		left := c.stack[0].p
		root, err := c.newTreePage(pageBranch, 1)
		if err != nil {
			return err
		}
		firstKey := nodeGetKey(left, 0)
		fbuf := make([]byte, branchNodeSize(len(firstKey)))
		if !root.insertEntry(0, encodeBranchNode(fbuf, firstKey, left.pageNo())) {
			return NewError(ErrCorrupted)
		}
		if !root.insertEntry(1, data) {
			return NewError(ErrCorrupted)
		}
		c.ts.Root = root.pageNo()
		c.ts.Height++
		c.markModified()
		return nil
	}

	parent := c.stack[level-1].p
	at := c.stack[level-1].idx + 1
	if parent.insertEntry(at, data) {
		return nil
	}
	return c.splitInsert(level-1, at, data, nil)
}

// putDup inserts into a DupSort database: first value inline, further
// values in a per-key sub-tree ordered by the duplicate comparator.
func (c *Cursor) putDup(key, val []byte, flags PutFlags) error {
	exact, err := c.descend(seekKey, key)
	if err != nil {
		return err
	}
	if !exact {
		return c.putFlat(key, val, flags.With(), nil)
	}
	if err := c.touchStack(); err != nil {
		return err
	}

	p, idx := c.currentLeaf()
	nflags := nodeGetFlags(p, idx)

	if nflags&nodeDup == 0 {
		old, err := c.currentValue()
		if err != nil {
			return err
		}
		r := c.dupCmp(old, val)
		if r == 0 {
			if flags.Has(NoOverwrite) || flags.Has(NoDupData) {
				return NewError(ErrKeyExist)
			}
			return nil
		}
		// Second value for this key: promote to a sub-tree.
		oldCopy := append([]byte(nil), old...)
		c.dupTree = treeState{}
		c.dupTree.Root = invalidPgno
		c.bindDupCursor()
		if err := c.dup.putFlat(oldCopy, nil, PutFlags{}, nil); err != nil {
			return err
		}
		if err := c.dup.putFlat(val, nil, PutFlags{}, nil); err != nil {
			return err
		}
		c.ts.Items++ // sub-tree items count both; the inline one was already counted
		return c.storeDupNode(key)
	}

	c.dupTree = treeState{tree: nodeGetTree(p, idx)}
	c.bindDupCursor()
	before := c.dupTree.Items
	if flags.Has(NoOverwrite) || flags.Has(NoDupData) {
		if ok, err := c.dup.seekExact(val); err != nil {
			return err
		} else if ok {
			return NewError(ErrKeyExist)
		}
	}
	if err := c.dup.putFlat(val, nil, PutFlags{}, nil); err != nil {
		return err
	}
	if c.dupTree.Items == before {
		return nil
	}
	c.ts.Items++
	return c.storeDupNode(key)
}

// bindDupCursor points the sub-cursor at c.dupTree. A duplicate tree keeps
// its own page and item counters inside the node payload; storeDupNode
// persists them after every sub-tree write.
func (c *Cursor) bindDupCursor() {
	if c.dup == nil {
		c.dup = &Cursor{
			signature: cursorSignature,
			tx:        c.tx,
			dbi:       c.dbi,
			cmp:       c.dupCmp,
			dupCmp:    c.dupCmp,
			top:       -1,
		}
	}
	c.dup.tx = c.tx
	c.dup.ts = &c.dupTree
	c.dup.top = -1
	c.dupActive = true
}

// storeDupNode writes the sub-tree metadata back into the owning leaf
// entry. The node payload is fixed-size, so the rewrite never splits.
func (c *Cursor) storeDupNode(key []byte) error {
	exact, err := c.descend(seekKey, key)
	if err != nil {
		return err
	}
	if !exact {
		return NewError(ErrCorrupted)
	}
	if err := c.touchStack(); err != nil {
		return err
	}
	p, idx := c.currentLeaf()
	if nodeGetFlags(p, idx)&nodeDup != 0 {
		nodeSetTree(p, idx, &c.dupTree.tree)
		c.markModified()
		return nil
	}
	// Inline entry being promoted: replace the node wholesale.
	buf := make([]byte, treeNodeSize(len(key)))
	data := encodeTreeNode(buf, key, &c.dupTree.tree, nodeDup)
	if p.updateEntry(idx, data) {
		c.markModified()
		return nil
	}
	if !p.removeEntry(idx) {
		return NewError(ErrCorrupted)
	}
	keyCopy := append([]byte(nil), key...)
	if p.insertEntry(idx, data) {
		c.markModified()
		return nil
	}
	return c.splitInsert(c.top, idx, data, keyCopy)
}

// Del removes the element at the cursor. In a DupSort database it removes
// the current duplicate only, or every duplicate of the key when all is
// set. The cursor moves to the next element.
func (c *Cursor) Del(all bool) error {
	if err := c.checkPositioned(); err != nil {
		return err
	}
	if err := c.tx.check(true); err != nil {
		return err
	}
	if !c.onEntry() {
		return NewError(ErrNotFound)
	}

	if c.dupActive && !all {
		return c.delDup()
	}
	return c.deleteCurrent(true)
}

// delDup removes the current duplicate from the sub-tree, collapsing back
// to an inline value when one remains.
func (c *Cursor) delDup() error {
	key := append([]byte(nil), c.currentKey()...)
	dval := append([]byte(nil), c.dup.currentKey()...)

	if err := c.touchStack(); err != nil {
		return err
	}
	c.bindDupCursor()
	if ok, err := c.dup.seekExact(dval); err != nil {
		return err
	} else if !ok {
		return NewError(ErrNotFound)
	}
	if err := c.dup.deleteCurrent(false); err != nil {
		return err
	}
	c.ts.Items--

	if c.dupTree.Items == 1 {
		ok, err := c.dup.first()
		if err != nil {
			return err
		}
		if !ok {
			return NewError(ErrCorrupted)
		}
		lastVal := append([]byte(nil), c.dup.currentKey()...)
		if err := c.freeWholeTree(&c.dupTree.tree); err != nil {
			return err
		}
		if err := c.demoteDupNode(key, lastVal); err != nil {
			return err
		}
	} else if c.dupTree.Items == 0 {
		if err := c.freeWholeTree(&c.dupTree.tree); err != nil {
			return err
		}
		c.dupActive = false
		exact, err := c.descend(seekKey, key)
		if err != nil {
			return err
		}
		if !exact {
			return NewError(ErrCorrupted)
		}
		return c.deleteCurrent(false)
	} else {
		if err := c.storeDupNode(key); err != nil {
			return err
		}
	}

	// Leave the cursor on the key's next remaining element.
	exact, err := c.descend(seekKey, key)
	if err != nil {
		return err
	}
	if exact && c.dupSort {
		if err := c.loadDup(seekFirst); err != nil {
			return err
		}
		if c.dupActive {
			if ok, err := c.dup.seekRange(dval); err != nil {
				return err
			} else if !ok {
				return c.advanceAfterDelete()
			}
		}
	}
	return nil
}

// demoteDupNode rewrites a one-value sub-tree entry as a plain inline
// node.
func (c *Cursor) demoteDupNode(key, val []byte) error {
	exact, err := c.descend(seekKey, key)
	if err != nil {
		return err
	}
	if !exact {
		return NewError(ErrCorrupted)
	}
	if err := c.touchStack(); err != nil {
		return err
	}
	c.dupActive = false
	p, idx := c.currentLeaf()
	buf := make([]byte, leafNodeSize(len(key), len(val)))
	data := encodeLeafNode(buf, key, val)
	if p.updateEntry(idx, data) {
		c.markModified()
		return nil
	}
	if !p.removeEntry(idx) {
		return NewError(ErrCorrupted)
	}
	keyCopy := append([]byte(nil), key...)
	if p.insertEntry(idx, data) {
		c.markModified()
		return nil
	}
	return c.splitInsert(c.top, idx, data, keyCopy)
}

func (c *Cursor) advanceAfterDelete() error {
	if c.onEntry() && c.dupSort {
		return c.loadDup(seekFirst)
	}
	if ok, err := c.next(); err != nil {
		return err
	} else if ok && c.dupSort {
		return c.loadDup(seekFirst)
	}
	return nil
}

// deleteCurrent removes the entry under the cursor, releasing overflow
// runs and, when countAll is set, whole duplicate sub-trees.
func (c *Cursor) deleteCurrent(countAll bool) error {
	if err := c.touchStack(); err != nil {
		return err
	}
	p, idx := c.currentLeaf()
	nflags := nodeGetFlags(p, idx)

	removed := uint64(1)
	switch {
	case nflags&nodeBig != 0:
		start, _ := nodeGetOverflow(p, idx)
		if err := c.freeOverflow(start); err != nil {
			return err
		}
	case nflags&nodeDup != 0:
		t := nodeGetTree(p, idx)
		removed = t.Items
		if err := c.freeWholeTree(&t); err != nil {
			return err
		}
		c.dupActive = false
	}
	_ = countAll

	key := append([]byte(nil), c.currentKey()...)
	if !p.removeEntry(idx) {
		return NewError(ErrCorrupted)
	}
	c.ts.Items -= removed
	c.markModified()

	if err := c.rebalance(c.top); err != nil {
		return err
	}
	// Reposition on the successor.
	if c.ts.Root == invalidPgno {
		c.top = -1
		return nil
	}
	if _, err := c.descend(seekKey, key); err != nil {
		return err
	}
	if !c.onEntry() {
		if _, err := c.next(); err != nil {
			return err
		}
	}
	if c.onEntry() && c.dupSort {
		return c.loadDup(seekFirst)
	}
	return nil
}

// pageUnderfull reports whether a page dropped below the fill threshold.
func (c *Cursor) pageUnderfull(p *page) bool {
	if p.numEntries() == 0 {
		return true
	}
	limit := (len(p.Data) - pageHeaderSize) / 4
	return p.usedSpace()+2*p.numEntries() < limit
}

// rebalance restores fill invariants at level after a removal: the root
// collapses when trivial, underfull pages merge with a sibling when the
// result fits, and leaves borrow an entry otherwise. An underfull branch
// whose siblings are too full to merge is left as is.
func (c *Cursor) rebalance(level int) error {
	p := c.stack[level].p

	if level == 0 {
		switch {
		case p.isLeaf() && p.numEntries() == 0:
			c.freeTreePage(p)
			c.ts.reset()
			c.markModified()
		case p.isBranch() && p.numEntries() == 1:
			child := nodeGetChildPgno(p, 0)
			c.freeTreePage(p)
			c.ts.Root = child
			c.ts.Height--
			c.markModified()
		}
		return nil
	}
	if !c.pageUnderfull(p) {
		return nil
	}

	parent := &c.stack[level-1]
	var leftIdx, rightIdx int
	if parent.idx > 0 {
		leftIdx, rightIdx = parent.idx-1, parent.idx
	} else {
		if parent.idx+1 >= parent.p.numEntries() {
			return nil
		}
		leftIdx, rightIdx = parent.idx, parent.idx+1
	}

	leftPn := nodeGetChildPgno(parent.p, leftIdx)
	rightPn := nodeGetChildPgno(parent.p, rightIdx)
	left, err := c.tx.page(leftPn)
	if err != nil {
		return err
	}
	right, err := c.tx.page(rightPn)
	if err != nil {
		return err
	}
	left, err = c.tx.touch(left)
	if err != nil {
		return err
	}
	nodeSetChildPgno(parent.p, leftIdx, left.pageNo())
	right, err = c.tx.touch(right)
	if err != nil {
		return err
	}
	nodeSetChildPgno(parent.p, rightIdx, right.pageNo())

	merged, err := c.tryMerge(level, left, right, rightIdx)
	if err != nil || merged {
		return err
	}
	if left.isLeaf() {
		return c.borrowLeaf(level, left, right, leftIdx, rightIdx)
	}
	return nil
}

// tryMerge folds right into left when the combined content fits one page,
// then drops right's separator from the parent and rebalances it.
func (c *Cursor) tryMerge(level int, left, right *page, rightIdx int) (bool, error) {
	parent := c.stack[level-1].p
	sep := nodeGetKey(parent, rightIdx)

	need := right.usedSpace() + 2*right.numEntries()
	if right.isBranch() {
		// Right's first key is implicit; merging materializes the parent
		// separator in its place.
		need += len(sep) - len(nodeGetKey(right, 0))
	}
	if need > left.freeSpace() {
		return false, nil
	}

	base := left.numEntries()
	for i := 0; i < right.numEntries(); i++ {
		var ok bool
		if right.isBranch() && i == 0 {
			buf := make([]byte, branchNodeSize(len(sep)))
			ok = left.insertEntry(base+i, encodeBranchNode(buf, sep, nodeGetChildPgno(right, 0)))
		} else {
			off := right.entryOffset(i)
			size := right.nodeSize(i)
			ok = left.insertEntry(base+i, right.Data[off:int(off)+size])
		}
		if !ok {
			return false, NewError(ErrCorrupted)
		}
	}
	c.freeTreePage(right)
	if !parent.removeEntry(rightIdx) {
		return false, NewError(ErrCorrupted)
	}
	c.markModified()

	// The parent may now be underfull in turn.
	c.stack[level-1].idx = rightIdx - 1
	return true, c.rebalance(level - 1)
}

// borrowLeaf moves one entry across a leaf boundary and refreshes the
// parent separator for the right page.
func (c *Cursor) borrowLeaf(level int, left, right *page, leftIdx, rightIdx int) error {
	parent := c.stack[level-1].p
	var moved []byte
	if c.pageUnderfull(right) && left.numEntries() > 1 {
		// Shift left's last entry to the front of right.
		i := left.numEntries() - 1
		off := left.entryOffset(i)
		moved = append(moved, left.Data[off:int(off)+left.nodeSize(i)]...)
		if !left.removeEntry(i) {
			return NewError(ErrCorrupted)
		}
		if !right.insertEntry(0, moved) {
			return NewError(ErrCorrupted)
		}
	} else if c.pageUnderfull(left) && right.numEntries() > 1 {
		off := right.entryOffset(0)
		moved = append(moved, right.Data[off:int(off)+right.nodeSize(0)]...)
		if !right.removeEntry(0) {
			return NewError(ErrCorrupted)
		}
		if !left.insertEntry(left.numEntries(), moved) {
			return NewError(ErrCorrupted)
		}
	} else {
		return nil
	}

	newSep := nodeGetKey(right, 0)
	buf := make([]byte, branchNodeSize(len(newSep)))
	data := encodeBranchNode(buf, newSep, right.pageNo())
	if parent.updateEntry(rightIdx, data) {
		c.markModified()
		return nil
	}
	if !parent.removeEntry(rightIdx) {
		return NewError(ErrCorrupted)
	}
	if parent.insertEntry(rightIdx, data) {
		c.markModified()
		return nil
	}
	sepCopy := append([]byte(nil), newSep...)
	_ = leftIdx
	return c.splitInsert(level-1, rightIdx, data, sepCopy)
}

// freeWholeTree retires every page of a tree, duplicate sub-trees and
// overflow runs included.
func (c *Cursor) freeWholeTree(t *tree) error {
	if t.Root == invalidPgno {
		return nil
	}
	return c.freeSubPage(t.Root)
}

func (c *Cursor) freeSubPage(pn pgno) error {
	p, err := c.tx.page(pn)
	if err != nil {
		return err
	}
	if p.isBranch() {
		for i := 0; i < p.numEntries(); i++ {
			if err := c.freeSubPage(nodeGetChildPgno(p, i)); err != nil {
				return err
			}
		}
	} else if p.isLeaf() {
		for i := 0; i < p.numEntries(); i++ {
			nf := nodeGetFlags(p, i)
			switch {
			case nf&nodeBig != 0:
				start, _ := nodeGetOverflow(p, i)
				if err := c.freeOverflow(start); err != nil {
					return err
				}
			case nf&nodeDup != 0:
				t := nodeGetTree(p, i)
				if err := c.freeWholeTree(&t); err != nil {
					return err
				}
			}
		}
	}
	c.freeTreePage(p)
	return nil
}
