package wisent

// Transaction-level data access and the closure helpers.

// Get returns the value of key in dbi. For DupSort databases this is the
// first duplicate. The returned slice is valid until the transaction ends
// and must not be modified.
func (tx *Txn) Get(dbi DBI, key []byte) ([]byte, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	ts, err := tx.treeStateFor(dbi)
	if err != nil {
		return nil, err
	}

	// Leaf hints only pay off on committed snapshots; a writer's root
	// changes page identity on every touch.
	useHint := tx.readOnly && len(key) > 0
	if useHint {
		if val, ok := tx.hintedGet(ts.Root, dbi, key); ok {
			return val, nil
		}
	}

	c, err := tx.openCursor(dbi)
	if err != nil {
		return nil, err
	}
	defer c.close()
	_, val, err := c.SeekExact(key)
	if err != nil {
		return nil, err
	}
	if useHint && c.top >= 0 {
		tx.env.hints.put(ts.Root, key, c.stack[c.top].p.pageNo())
	}
	return val, nil
}

// hintedGet tries the leaf-hint cache: jump straight to the remembered
// leaf and verify the key is there. Any mismatch falls back to the full
// descent.
func (tx *Txn) hintedGet(root pgno, dbi DBI, key []byte) ([]byte, bool) {
	leaf, ok := tx.env.hints.get(root, key)
	if !ok {
		return nil, false
	}
	p, err := tx.env.mappedPage(leaf)
	if err != nil || !p.isLeaf() {
		return nil, false
	}
	cmp, _, flags, err := tx.env.dbiConfig(dbi)
	if err != nil || flags.Has(DupSort) {
		return nil, false
	}
	c := Cursor{cmp: cmp}
	idx, exact := c.leafIndex(p, key)
	if !exact {
		return nil, false
	}
	nf := nodeGetFlags(p, idx)
	if nf&nodeBig != 0 {
		start, vlen := nodeGetOverflow(p, idx)
		val, err := tx.overflowData(start, vlen)
		return val, err == nil
	}
	if nf&(nodeDup|nodeTree) != 0 {
		return nil, false
	}
	return nodeGetValue(p, idx), true
}

// Put stores key/val in dbi, honoring the put flags.
func (tx *Txn) Put(dbi DBI, key, val []byte, flags PutFlags) error {
	if err := tx.check(true); err != nil {
		return err
	}
	c, err := tx.openCursor(dbi)
	if err != nil {
		return err
	}
	defer c.close()
	return c.Put(key, val, flags)
}

// PutReserve stores key with an n-byte zeroed value and returns a writable
// slice over it, valid until the next write on the transaction.
func (tx *Txn) PutReserve(dbi DBI, key []byte, n int) ([]byte, error) {
	if err := tx.check(true); err != nil {
		return nil, err
	}
	c, err := tx.openCursor(dbi)
	if err != nil {
		return nil, err
	}
	defer c.close()
	return c.PutReserve(key, n)
}

// Del removes key from dbi. With a nil val every duplicate goes; a
// non-nil val removes only that exact pair in a DupSort database.
func (tx *Txn) Del(dbi DBI, key, val []byte) error {
	if err := tx.check(true); err != nil {
		return err
	}
	c, err := tx.openCursor(dbi)
	if err != nil {
		return err
	}
	defer c.close()

	if val == nil {
		found, err := c.seekExact(key)
		if err != nil {
			return err
		}
		if !found {
			return NewError(ErrNotFound)
		}
		return c.Del(true)
	}
	if _, _, err := c.GetBoth(key, val); err != nil {
		return err
	}
	return c.Del(false)
}

// View runs fn inside a read-only transaction, releasing it when fn
// returns.
func (env *Env) View(fn func(tx *Txn) error) error {
	return env.RunTxn(TxnFlags{}.With(TxnReadOnly), fn)
}

// Update runs fn inside a read-write transaction, committing if fn
// succeeds and aborting if it fails or panics.
func (env *Env) Update(fn func(tx *Txn) error) error {
	return env.RunTxn(TxnFlags{}, fn)
}

// RunTxn runs fn in a transaction with the given flags.
func (env *Env) RunTxn(flags TxnFlags, fn func(tx *Txn) error) error {
	tx, err := env.BeginTxn(nil, flags)
	if err != nil {
		return err
	}
	done := false
	defer func() {
		if !done {
			tx.Abort()
		}
	}()
	if err := fn(tx); err != nil {
		tx.Abort()
		done = true
		return err
	}
	err = tx.Commit()
	done = true
	return err
}
