package wisent

// DBI is a database handle. Two are predefined: the free tree and the
// unnamed main database; named databases get handles from OpenDBI.
type DBI uint32

const (
	// FreeDBI is the internal free-page tree. Read-only for callers.
	FreeDBI DBI = 0

	// MainDBI is the unnamed database. Named databases live in it as
	// special entries.
	MainDBI DBI = 1

	coreDBs = 2
)

// dbiState is the environment-side configuration of one handle. Handles
// outlive transactions; the per-transaction tree metadata lives in
// Txn.trees.
type dbiState struct {
	name   string
	flags  DBFlags
	cmp    Cmp
	dupCmp Cmp
	open   bool
}

// Stat describes one database's tree.
type Stat struct {
	PageSize      uint32
	Depth         uint32
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Entries       uint64
}

func statOf(t *tree, pageSize uint32) *Stat {
	return &Stat{
		PageSize:      pageSize,
		Depth:         uint32(t.Height),
		BranchPages:   t.BranchPages,
		LeafPages:     t.LeafPages,
		OverflowPages: t.OverflowPages,
		Entries:       t.Items,
	}
}

// OpenDBI opens, or with the Create flag creates, the named database.
// An empty name opens the main database. The returned handle is shared by
// all transactions; a handle created inside a transaction that later
// aborts is forgotten again.
func (tx *Txn) OpenDBI(name string, flags DBFlags) (DBI, error) {
	return tx.OpenDBICmp(name, flags, nil, nil)
}

// OpenDBICmp is OpenDBI with caller-supplied orderings: cmp orders keys,
// dupCmp orders duplicate values. Nil picks the ordering implied by flags.
// Comparators must stay fixed for the life of the database.
func (tx *Txn) OpenDBICmp(name string, flags DBFlags, cmp, dupCmp Cmp) (DBI, error) {
	if err := tx.check(false); err != nil {
		return 0, err
	}
	if cmp == nil {
		cmp = comparatorFor(flags)
	}
	if dupCmp == nil {
		dupCmp = CmpBytes
	}
	if name == "" {
		return tx.openMain(flags, cmp, dupCmp)
	}

	env := tx.env
	env.dbiMu.Lock()
	if dbi, ok := env.dbiNames[name]; ok && env.dbis[dbi].open {
		st := env.dbis[dbi]
		env.dbiMu.Unlock()
		if st.flags.persistent() != flags.persistent() {
			return 0, NewError(ErrIncompatible)
		}
		return dbi, nil
	}
	env.dbiMu.Unlock()

	// Not registered: consult the main tree.
	c, err := tx.openCursor(MainDBI)
	if err != nil {
		return 0, err
	}
	defer c.close()
	found, err := c.seekExact([]byte(name))
	if err != nil {
		return 0, err
	}

	var t tree
	created := false
	if found {
		p, idx := c.currentLeaf()
		if nodeGetFlags(p, idx)&nodeTree == 0 {
			return 0, NewError(ErrIncompatible)
		}
		t = nodeGetTree(p, idx)
		if t.Flags != flags.persistent() {
			return 0, NewError(ErrIncompatible)
		}
	} else {
		if !flags.Has(Create) {
			return 0, NewError(ErrNotFound)
		}
		if tx.readOnly {
			return 0, NewError(ErrPermissionDenied)
		}
		t = tree{Root: invalidPgno, Flags: flags.persistent(), ModTxnid: tx.id}
		if err := c.putTreeNode([]byte(name), &t); err != nil {
			return 0, err
		}
		created = true
	}

	dbi, err := env.registerDBI(name, flags, cmp, dupCmp)
	if err != nil {
		return 0, err
	}
	if int(dbi) < len(tx.trees) && tx.trees[dbi] != nil {
		tx.trees[dbi].tree = t
	} else {
		tx.setTreeState(dbi, &treeState{tree: t})
	}
	if created {
		tx.newDBIs = append(tx.newDBIs, dbi)
	}
	return dbi, nil
}

func (tx *Txn) openMain(flags DBFlags, cmp, dupCmp Cmp) (DBI, error) {
	ts, err := tx.treeStateFor(MainDBI)
	if err != nil {
		return 0, err
	}
	if ts.Flags != flags.persistent() {
		if ts.Items != 0 || tx.readOnly {
			return 0, NewError(ErrIncompatible)
		}
		ts.Flags = flags.persistent()
		ts.dirty = true
	}
	env := tx.env
	env.dbiMu.Lock()
	env.dbis[MainDBI] = dbiState{flags: flags, cmp: cmp, dupCmp: dupCmp, open: true}
	env.dbiMu.Unlock()
	return MainDBI, nil
}

func (env *Env) registerDBI(name string, flags DBFlags, cmp, dupCmp Cmp) (DBI, error) {
	env.dbiMu.Lock()
	defer env.dbiMu.Unlock()
	if dbi, ok := env.dbiNames[name]; ok && env.dbis[dbi].open {
		return dbi, nil
	}
	// Reuse a closed slot before growing the table.
	for i := coreDBs; i < len(env.dbis); i++ {
		if !env.dbis[i].open {
			env.dbis[i] = dbiState{name: name, flags: flags, cmp: cmp, dupCmp: dupCmp, open: true}
			env.dbiNames[name] = DBI(i)
			return DBI(i), nil
		}
	}
	if len(env.dbis) >= coreDBs+env.maxDBs {
		return 0, NewError(ErrDBsFull)
	}
	env.dbis = append(env.dbis, dbiState{name: name, flags: flags, cmp: cmp, dupCmp: dupCmp, open: true})
	dbi := DBI(len(env.dbis) - 1)
	env.dbiNames[name] = dbi
	return dbi, nil
}

// forgetDBIs closes handles registered by an aborted transaction.
func (env *Env) forgetDBIs(dbis []DBI) {
	if len(dbis) == 0 {
		return
	}
	env.dbiMu.Lock()
	for _, dbi := range dbis {
		if int(dbi) < len(env.dbis) {
			delete(env.dbiNames, env.dbis[dbi].name)
			env.dbis[dbi] = dbiState{}
		}
	}
	env.dbiMu.Unlock()
}

func (env *Env) dbiName(dbi DBI) string {
	env.dbiMu.Lock()
	defer env.dbiMu.Unlock()
	if int(dbi) >= len(env.dbis) {
		return ""
	}
	return env.dbis[dbi].name
}

// dbiConfig returns the comparators and flags for a handle.
func (env *Env) dbiConfig(dbi DBI) (Cmp, Cmp, DBFlags, error) {
	env.dbiMu.Lock()
	defer env.dbiMu.Unlock()
	if int(dbi) >= len(env.dbis) {
		return nil, nil, DBFlags{}, NewError(ErrBadDBI)
	}
	st := env.dbis[dbi]
	if dbi >= coreDBs && !st.open {
		return nil, nil, DBFlags{}, NewError(ErrBadDBI)
	}
	cmp := st.cmp
	if cmp == nil {
		cmp = comparatorFor(st.flags)
	}
	dupCmp := st.dupCmp
	if dupCmp == nil {
		dupCmp = CmpBytes
	}
	return cmp, dupCmp, st.flags, nil
}

func (tx *Txn) setTreeState(dbi DBI, ts *treeState) {
	for int(dbi) >= len(tx.trees) {
		tx.trees = append(tx.trees, nil)
	}
	tx.trees[dbi] = ts
}

// treeStateFor returns the transaction's working tree for dbi, loading
// named databases from the main tree on first touch.
func (tx *Txn) treeStateFor(dbi DBI) (*treeState, error) {
	if int(dbi) < len(tx.trees) && tx.trees[dbi] != nil {
		return tx.trees[dbi], nil
	}
	if dbi < coreDBs {
		return nil, NewError(ErrBadDBI)
	}

	name := tx.env.dbiName(dbi)
	if name == "" {
		return nil, NewError(ErrBadDBI)
	}
	c, err := tx.openCursor(MainDBI)
	if err != nil {
		return nil, err
	}
	defer c.close()
	found, err := c.seekExact([]byte(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NewError(ErrBadDBI)
	}
	p, idx := c.currentLeaf()
	if nodeGetFlags(p, idx)&nodeTree == 0 {
		return nil, NewError(ErrIncompatible)
	}
	ts := &treeState{tree: nodeGetTree(p, idx)}
	tx.setTreeState(dbi, ts)
	return ts, nil
}

// Stat returns tree statistics for dbi as of this transaction.
func (tx *Txn) Stat(dbi DBI) (*Stat, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	ts, err := tx.treeStateFor(dbi)
	if err != nil {
		return nil, err
	}
	return statOf(&ts.tree, tx.env.pageSize), nil
}

// Drop empties dbi. With del the database is also deleted from the main
// tree and its handle closed; the main and free databases can only be
// emptied.
func (tx *Txn) Drop(dbi DBI, del bool) error {
	if err := tx.check(true); err != nil {
		return err
	}
	if dbi == FreeDBI || (del && dbi == MainDBI) {
		return NewError(ErrBadDBI)
	}
	ts, err := tx.treeStateFor(dbi)
	if err != nil {
		return err
	}
	c, err := tx.openCursor(dbi)
	if err != nil {
		return err
	}
	if err := c.freeWholeTree(&ts.tree); err != nil {
		c.close()
		return err
	}
	c.close()
	seq := ts.Sequence
	flags := ts.Flags
	ts.reset()
	ts.Sequence = seq
	ts.Flags = flags
	ts.dirty = true
	ts.ModTxnid = tx.id

	if !del || dbi == MainDBI {
		return nil
	}

	name := tx.env.dbiName(dbi)
	mc, err := tx.openCursor(MainDBI)
	if err != nil {
		return err
	}
	defer mc.close()
	found, err := mc.seekExact([]byte(name))
	if err != nil {
		return err
	}
	if found {
		if err := mc.deleteCurrent(false); err != nil {
			return err
		}
	}
	tx.trees[dbi] = nil
	tx.droppedDBIs = append(tx.droppedDBIs, dbi)
	return nil
}

// Sequence reads, and with a nonzero increment advances, the database's
// persistent sequence counter. The value before the increment is returned.
func (tx *Txn) Sequence(dbi DBI, incr uint64) (uint64, error) {
	if err := tx.check(incr != 0); err != nil {
		return 0, err
	}
	ts, err := tx.treeStateFor(dbi)
	if err != nil {
		return 0, err
	}
	cur := ts.Sequence
	if incr == 0 {
		return cur, nil
	}
	if cur+incr < cur {
		return 0, NewError(ErrInvalid)
	}
	ts.Sequence = cur + incr
	ts.dirty = true
	ts.ModTxnid = tx.id
	return cur, nil
}
