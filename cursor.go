package wisent

// cursorSignature marks a live cursor handle.
const cursorSignature uint32 = 0x57435552

// cursorMaxDepth bounds the page stack. A tree deeper than this is
// rejected with ErrCursorFull; at any realistic page size that would take
// more entries than a 64-bit item count can hold.
const cursorMaxDepth = 32

type elem struct {
	p   *page
	idx int
}

// Cursor navigates one database inside one transaction. It keeps the full
// descent path so relative moves touch only the pages that change.
//
// A write through a cursor or its transaction can restructure pages under
// other cursors open on the same database; those must be re-positioned
// with an absolute operation (First/Last/Seek*) before further relative
// moves.
type Cursor struct {
	signature uint32
	tx        *Txn
	dbi       DBI
	ts        *treeState
	cmp       Cmp
	dupCmp    Cmp
	dupSort   bool

	stack [cursorMaxDepth]elem
	top   int // -1 while unpositioned

	// dup is the sub-cursor over the current entry's duplicate tree. It is
	// live iff dupActive; its treeState is owned by this cursor and written
	// back into the leaf node after mutations.
	dup       *Cursor
	dupTree   treeState
	dupActive bool
}

// OpenCursor creates a cursor on dbi. The cursor is only valid while the
// transaction is; Close is idempotent.
func (tx *Txn) OpenCursor(dbi DBI) (*Cursor, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	return tx.openCursor(dbi)
}

func (tx *Txn) openCursor(dbi DBI) (*Cursor, error) {
	ts, err := tx.treeStateFor(dbi)
	if err != nil {
		return nil, err
	}
	cmp, dupCmp, flags, err := tx.env.dbiConfig(dbi)
	if err != nil {
		return nil, err
	}
	return &Cursor{
		signature: cursorSignature,
		tx:        tx,
		dbi:       dbi,
		ts:        ts,
		cmp:       cmp,
		dupCmp:    dupCmp,
		dupSort:   flags.Has(DupSort),
		top:       -1,
	}, nil
}

// Close releases the cursor. Closing twice is a no-op.
func (c *Cursor) Close() {
	if c == nil || c.signature != cursorSignature {
		return
	}
	c.close()
}

func (c *Cursor) close() {
	c.signature = 0
	c.tx = nil
	c.ts = nil
	c.top = -1
	c.dup = nil
	c.dupActive = false
}

// Renew rebinds the cursor to a new read-only transaction on the same
// database, avoiding an allocation per read txn.
func (c *Cursor) Renew(tx *Txn) error {
	if c == nil || c.signature != cursorSignature {
		return NewError(ErrBadCursor)
	}
	if err := tx.check(false); err != nil {
		return err
	}
	if !tx.readOnly {
		return NewError(ErrIllegalState)
	}
	ts, err := tx.treeStateFor(c.dbi)
	if err != nil {
		return err
	}
	c.signature = cursorSignature
	c.tx = tx
	c.ts = ts
	c.top = -1
	c.dupActive = false
	return nil
}

// Txn returns the cursor's transaction.
func (c *Cursor) Txn() *Txn { return c.tx }

// DBI returns the database the cursor navigates.
func (c *Cursor) DBI() DBI { return c.dbi }

func (c *Cursor) checkPositioned() error {
	if err := c.checkValid(); err != nil {
		return err
	}
	if c.top < 0 {
		return NewError(ErrBadCursor)
	}
	return nil
}

func (c *Cursor) checkValid() error {
	if c == nil || c.signature != cursorSignature {
		return NewError(ErrBadCursor)
	}
	return c.tx.check(false)
}

// leafIndex finds the lowest index in leaf p whose key is >= key.
func (c *Cursor) leafIndex(p *page, key []byte) (int, bool) {
	lo, hi := 0, p.numEntries()
	exact := false
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		r := c.cmp(nodeGetKey(p, mid), key)
		if r < 0 {
			lo = mid + 1
		} else {
			if r == 0 {
				exact = true
			}
			hi = mid
		}
	}
	return lo, exact
}

// branchIndex picks the child of branch p covering key. The first key of a
// branch page acts as minus infinity.
func (c *Cursor) branchIndex(p *page, key []byte) int {
	lo, hi := 1, p.numEntries()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if c.cmp(nodeGetKey(p, mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

const (
	seekKey = iota
	seekFirst
	seekLast
)

// descend walks root to leaf, filling the page stack. With seekKey the
// leaf index is the lower bound of key; exact reports a key match.
func (c *Cursor) descend(mode int, key []byte) (exact bool, err error) {
	c.top = -1
	c.dupActive = false
	if c.ts.Root == invalidPgno {
		return false, nil
	}
	pn := c.ts.Root
	for depth := 0; ; depth++ {
		if depth >= cursorMaxDepth {
			return false, NewError(ErrCursorFull)
		}
		p, err := c.tx.page(pn)
		if err != nil {
			return false, err
		}
		if err := p.validate(c.tx.env.pageSize); err != nil {
			return false, err
		}
		c.stack[depth] = elem{p: p, idx: 0}
		c.top = depth

		if p.isLeaf() {
			switch mode {
			case seekFirst:
				c.stack[depth].idx = 0
			case seekLast:
				c.stack[depth].idx = p.numEntries() - 1
			default:
				idx, ex := c.leafIndex(p, key)
				c.stack[depth].idx = idx
				return ex, nil
			}
			return false, nil
		}
		if !p.isBranch() || p.numEntries() == 0 {
			return false, NewError(ErrCorrupted)
		}

		var idx int
		switch mode {
		case seekFirst:
			idx = 0
		case seekLast:
			idx = p.numEntries() - 1
		default:
			idx = c.branchIndex(p, key)
		}
		c.stack[depth].idx = idx
		pn = nodeGetChildPgno(p, idx)
	}
}

// currentLeaf returns the leaf page and index under the cursor.
func (c *Cursor) currentLeaf() (*page, int) {
	e := &c.stack[c.top]
	return e.p, e.idx
}

// onEntry reports whether the cursor rests on a real entry rather than a
// past-the-end position.
func (c *Cursor) onEntry() bool {
	if c.top < 0 {
		return false
	}
	p, idx := c.currentLeaf()
	return idx >= 0 && idx < p.numEntries()
}

// first positions at the smallest key. Returns false on an empty tree.
func (c *Cursor) first() (bool, error) {
	if _, err := c.descend(seekFirst, nil); err != nil {
		return false, err
	}
	return c.onEntry(), nil
}

// last positions at the largest key.
func (c *Cursor) last() (bool, error) {
	if _, err := c.descend(seekLast, nil); err != nil {
		return false, err
	}
	return c.onEntry(), nil
}

// next advances to the following entry, crossing leaf boundaries through
// the stack.
func (c *Cursor) next() (bool, error) {
	if c.top < 0 {
		return c.first()
	}
	p, idx := c.currentLeaf()
	if idx+1 < p.numEntries() {
		c.stack[c.top].idx++
		return true, nil
	}
	// Climb to the nearest ancestor with a right sibling, then descend its
	// leftmost path.
	level := c.top - 1
	for ; level >= 0; level-- {
		e := &c.stack[level]
		if e.idx+1 < e.p.numEntries() {
			break
		}
	}
	if level < 0 {
		c.stack[c.top].idx = p.numEntries()
		return false, nil
	}
	c.stack[level].idx++
	return true, c.descendFrom(level, seekFirst)
}

// prev steps to the preceding entry.
func (c *Cursor) prev() (bool, error) {
	if c.top < 0 {
		return c.last()
	}
	_, idx := c.currentLeaf()
	if idx > 0 {
		c.stack[c.top].idx--
		return true, nil
	}
	level := c.top - 1
	for ; level >= 0; level-- {
		if c.stack[level].idx > 0 {
			break
		}
	}
	if level < 0 {
		c.stack[c.top].idx = -1
		return false, nil
	}
	c.stack[level].idx--
	return true, c.descendFrom(level, seekLast)
}

// descendFrom rebuilds the stack below level, following the leftmost or
// rightmost path from the child selected there.
func (c *Cursor) descendFrom(level, mode int) error {
	e := &c.stack[level]
	pn := nodeGetChildPgno(e.p, e.idx)
	for depth := level + 1; ; depth++ {
		if depth >= cursorMaxDepth {
			return NewError(ErrCursorFull)
		}
		p, err := c.tx.page(pn)
		if err != nil {
			return err
		}
		idx := 0
		if mode == seekLast {
			idx = p.numEntries() - 1
		}
		c.stack[depth] = elem{p: p, idx: idx}
		c.top = depth
		if p.isLeaf() {
			return nil
		}
		if !p.isBranch() || p.numEntries() == 0 {
			return NewError(ErrCorrupted)
		}
		pn = nodeGetChildPgno(p, idx)
	}
}

// seekRange positions at the first entry >= key.
func (c *Cursor) seekRange(key []byte) (bool, error) {
	if _, err := c.descend(seekKey, key); err != nil {
		return false, err
	}
	if c.top < 0 {
		return false, nil
	}
	if c.onEntry() {
		return true, nil
	}
	// Lower bound fell past the leaf's last entry; the successor lives in
	// the next leaf.
	return c.next()
}

// seekExact positions at key, or returns false leaving the cursor at the
// lower bound.
func (c *Cursor) seekExact(key []byte) (bool, error) {
	exact, err := c.descend(seekKey, key)
	if err != nil {
		return false, err
	}
	return exact, nil
}

func (c *Cursor) currentKey() []byte {
	p, idx := c.currentLeaf()
	return nodeGetKey(p, idx)
}

// currentValue resolves the value under the cursor, following overflow
// runs. Must not be called on a duplicate-tree entry.
func (c *Cursor) currentValue() ([]byte, error) {
	p, idx := c.currentLeaf()
	flags := nodeGetFlags(p, idx)
	switch {
	case flags&nodeBig != 0:
		start, vlen := nodeGetOverflow(p, idx)
		return c.tx.overflowData(start, vlen)
	case flags&(nodeDup|nodeTree) != 0:
		return nil, NewError(ErrIncompatible)
	default:
		return nodeGetValue(p, idx), nil
	}
}

// loadDup opens the sub-cursor over the current entry's duplicate tree and
// positions it per mode. For inline single values no sub-cursor is needed
// and dupActive stays false.
func (c *Cursor) loadDup(mode int) error {
	p, idx := c.currentLeaf()
	if nodeGetFlags(p, idx)&nodeDup == 0 {
		c.dupActive = false
		return nil
	}
	c.dupTree = treeState{tree: nodeGetTree(p, idx)}
	if c.dup == nil {
		c.dup = &Cursor{
			signature: cursorSignature,
			tx:        c.tx,
			dbi:       c.dbi,
			cmp:       c.dupCmp,
			top:       -1,
		}
	}
	c.dup.tx = c.tx
	c.dup.ts = &c.dupTree
	c.dup.top = -1
	c.dupActive = true
	var err error
	switch mode {
	case seekLast:
		_, err = c.dup.last()
	default:
		_, err = c.dup.first()
	}
	return err
}

// entry returns the key/value pair under the cursor, reading through the
// duplicate sub-cursor when one is active.
func (c *Cursor) entry() ([]byte, []byte, error) {
	if !c.onEntry() {
		return nil, nil, NewError(ErrNotFound)
	}
	key := c.currentKey()
	if c.dupActive {
		return key, c.dup.currentKey(), nil
	}
	val, err := c.currentValue()
	if err != nil {
		return nil, nil, err
	}
	return key, val, nil
}

// First positions at the smallest key and returns its first value.
func (c *Cursor) First() ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	found, err := c.first()
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, NewError(ErrNotFound)
	}
	if c.dupSort {
		if err := c.loadDup(seekFirst); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

// Last positions at the largest key and returns its last value.
func (c *Cursor) Last() ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	found, err := c.last()
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, NewError(ErrNotFound)
	}
	if c.dupSort {
		if err := c.loadDup(seekLast); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

// Next advances one element. In a DupSort database duplicates of the
// current key come before the next key.
func (c *Cursor) Next() ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	if c.top < 0 {
		return c.First()
	}
	if c.dupActive {
		ok, err := c.dup.next()
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return c.entry()
		}
	}
	return c.nextKey(seekFirst)
}

// Prev steps back one element.
func (c *Cursor) Prev() ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	if c.top < 0 {
		return c.Last()
	}
	if c.dupActive {
		ok, err := c.dup.prev()
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return c.entry()
		}
	}
	return c.prevKey(seekLast)
}

// NextNoDup advances to the first value of the next distinct key.
func (c *Cursor) NextNoDup() ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	if c.top < 0 {
		return c.First()
	}
	return c.nextKey(seekFirst)
}

// PrevNoDup steps to the last value of the previous distinct key.
func (c *Cursor) PrevNoDup() ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	if c.top < 0 {
		return c.Last()
	}
	return c.prevKey(seekLast)
}

func (c *Cursor) nextKey(dupMode int) ([]byte, []byte, error) {
	ok, err := c.next()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		c.dupActive = false
		return nil, nil, NewError(ErrNotFound)
	}
	if c.dupSort {
		if err := c.loadDup(dupMode); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

func (c *Cursor) prevKey(dupMode int) ([]byte, []byte, error) {
	ok, err := c.prev()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		c.dupActive = false
		return nil, nil, NewError(ErrNotFound)
	}
	if c.dupSort {
		if err := c.loadDup(dupMode); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

// NextDup advances among the current key's duplicates only.
func (c *Cursor) NextDup() ([]byte, []byte, error) {
	if err := c.checkPositioned(); err != nil {
		return nil, nil, err
	}
	if !c.dupActive {
		return nil, nil, NewError(ErrNotFound)
	}
	ok, err := c.dup.next()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, NewError(ErrNotFound)
	}
	return c.entry()
}

// PrevDup steps back among the current key's duplicates only.
func (c *Cursor) PrevDup() ([]byte, []byte, error) {
	if err := c.checkPositioned(); err != nil {
		return nil, nil, err
	}
	if !c.dupActive {
		return nil, nil, NewError(ErrNotFound)
	}
	ok, err := c.dup.prev()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, NewError(ErrNotFound)
	}
	return c.entry()
}

// FirstDup positions at the first duplicate of the current key.
func (c *Cursor) FirstDup() ([]byte, []byte, error) {
	if err := c.checkPositioned(); err != nil {
		return nil, nil, err
	}
	if c.dupActive {
		if _, err := c.dup.first(); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

// LastDup positions at the last duplicate of the current key.
func (c *Cursor) LastDup() ([]byte, []byte, error) {
	if err := c.checkPositioned(); err != nil {
		return nil, nil, err
	}
	if c.dupActive {
		if _, err := c.dup.last(); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

// Seek positions at the first key >= key (its first duplicate).
func (c *Cursor) Seek(key []byte) ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	found, err := c.seekRange(key)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, NewError(ErrNotFound)
	}
	if c.dupSort {
		if err := c.loadDup(seekFirst); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

// SeekExact positions at exactly key.
func (c *Cursor) SeekExact(key []byte) ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	found, err := c.seekExact(key)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, NewError(ErrNotFound)
	}
	if c.dupSort {
		if err := c.loadDup(seekFirst); err != nil {
			return nil, nil, err
		}
	}
	return c.entry()
}

// GetBoth positions at the exact key/value pair in a DupSort database.
func (c *Cursor) GetBoth(key, value []byte) ([]byte, []byte, error) {
	return c.getBoth(key, value, true)
}

// GetBothRange positions at key and its first duplicate >= value.
func (c *Cursor) GetBothRange(key, value []byte) ([]byte, []byte, error) {
	return c.getBoth(key, value, false)
}

func (c *Cursor) getBoth(key, value []byte, exact bool) ([]byte, []byte, error) {
	if err := c.checkValid(); err != nil {
		return nil, nil, err
	}
	if !c.dupSort {
		return nil, nil, NewError(ErrIncompatible)
	}
	found, err := c.seekExact(key)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, NewError(ErrNotFound)
	}
	if err := c.loadDup(seekFirst); err != nil {
		return nil, nil, err
	}
	if !c.dupActive {
		// Single inline value.
		val, err := c.currentValue()
		if err != nil {
			return nil, nil, err
		}
		r := c.dupCmp(val, value)
		if r == 0 || (!exact && r > 0) {
			return c.currentKey(), val, nil
		}
		return nil, nil, NewError(ErrNotFound)
	}
	var ok bool
	if exact {
		ok, err = c.dup.seekExact(value)
	} else {
		ok, err = c.dup.seekRange(value)
	}
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, NewError(ErrNotFound)
	}
	return c.entry()
}

// Count returns how many values the current key holds.
func (c *Cursor) Count() (uint64, error) {
	if err := c.checkPositioned(); err != nil {
		return 0, err
	}
	if !c.onEntry() {
		return 0, NewError(ErrNotFound)
	}
	p, idx := c.currentLeaf()
	if nodeGetFlags(p, idx)&nodeDup != 0 {
		t := nodeGetTree(p, idx)
		return t.Items, nil
	}
	return 1, nil
}
