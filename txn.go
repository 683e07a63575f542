package wisent

import (
	"unsafe"

	"github.com/wisentdb/wisent/internal/fastmap"
)

// txnSignature marks a live transaction handle. Cleared on Commit/Abort so
// use-after-finish is caught instead of corrupting state.
const txnSignature uint32 = 0x5754584E

// treeState is a transaction's working copy of one database's tree
// metadata. Writers mutate the copy and fold it back at commit.
type treeState struct {
	tree
	dirty bool
}

// Txn is a transaction handle. Read-only transactions see the snapshot
// published by the last commit before they began. A read-write transaction
// is exclusive; beginning one blocks until the current writer finishes.
// A Txn must not be used from multiple goroutines at once.
type Txn struct {
	signature uint32
	env       *Env
	parent    *Txn
	child     *Txn
	id        txnid

	readOnly bool
	finished bool
	reset    bool
	errored  bool

	meta meta // working snapshot

	readerSlot int

	// trees is indexed by DBI; entries load lazily on first touch.
	trees []*treeState

	// write state, nil for readers
	dirty *fastmap.Uint64Map // pgno -> *page
	al    *allocator

	// DBI handles created by this txn, unrolled from the env table on
	// abort, and handles dropped by this txn, closed only once it commits.
	newDBIs     []DBI
	droppedDBIs []DBI
}

// BeginTxn starts a transaction. A nil parent starts a top-level one; a
// non-nil parent must be a read-write transaction and yields a nested child.
// While a child is open the parent must not be used.
func (env *Env) BeginTxn(parent *Txn, flags TxnFlags) (*Txn, error) {
	if err := env.check(); err != nil {
		return nil, err
	}
	if parent != nil {
		return parent.beginChild()
	}
	if flags.Has(TxnReadOnly) {
		return env.beginRead()
	}
	return env.beginWrite()
}

func (env *Env) beginRead() (*Txn, error) {
	ref := env.refs.acquire()
	defer env.refs.release(ref)

	slot, err := env.readers.acquire(1)
	if err != nil {
		return nil, err
	}

	// Pin the snapshot, then confirm no commit landed in between. Without
	// the loop a writer could compute the oldest reader before our pin is
	// visible and reclaim pages this snapshot still needs.
	var mp *metaPair
	for {
		mp = env.meta.Load()
		env.readers.repin(slot, mp.recentMeta().Txnid)
		if env.meta.Load() == mp {
			break
		}
	}

	m := mp.recentMeta()
	tx := &Txn{
		signature:  txnSignature,
		env:        env,
		id:         m.Txnid,
		readOnly:   true,
		readerSlot: slot,
		meta:       *m,
		trees:      make([]*treeState, coreDBs, coreDBs+4),
	}
	tx.loadCoreTrees()
	return tx, nil
}

func (env *Env) beginWrite() (*Txn, error) {
	if env.flags.Has(ReadOnly) {
		return nil, NewError(ErrPermissionDenied)
	}
	ref := env.refs.acquire()
	defer env.refs.release(ref)

	env.writerMu.Lock()
	for env.writerActive {
		env.writerCond.Wait()
	}
	env.writerActive = true
	env.writerMu.Unlock()

	if err := env.check(); err != nil {
		env.releaseWriter()
		return nil, err
	}

	m := env.meta.Load().recentMeta()
	tx := &Txn{
		signature: txnSignature,
		env:       env,
		id:        m.Txnid + 1,
		meta:      *m,
		trees:     make([]*treeState, coreDBs, coreDBs+4),
		dirty:     &fastmap.Uint64Map{},
		al:        newAllocator(m.Next),
	}
	tx.meta.Txnid = tx.id
	tx.meta.MapSize = env.mapSize
	tx.loadCoreTrees()
	return tx, nil
}

func (tx *Txn) beginChild() (*Txn, error) {
	if err := tx.check(true); err != nil {
		return nil, err
	}
	child := &Txn{
		signature: txnSignature,
		env:       tx.env,
		parent:    tx,
		id:        tx.id,
		meta:      tx.meta,
		trees:     make([]*treeState, len(tx.trees), cap(tx.trees)),
		dirty:     &fastmap.Uint64Map{},
		al:        tx.al.fork(),
	}
	for i, ts := range tx.trees {
		if ts != nil {
			cp := *ts
			child.trees[i] = &cp
		}
	}
	tx.child = child
	return child, nil
}

func (tx *Txn) loadCoreTrees() {
	tx.trees[FreeDBI] = &treeState{tree: tx.meta.FreeTree}
	tx.trees[MainDBI] = &treeState{tree: tx.meta.MainTree}
}

// ID returns the transaction's snapshot identifier.
func (tx *Txn) ID() uint64 { return uint64(tx.id) }

// Env returns the environment the transaction runs in.
func (tx *Txn) Env() *Env { return tx.env }

// ReadOnly reports whether this is a snapshot transaction.
func (tx *Txn) ReadOnly() bool { return tx.readOnly }

// check validates the handle for an operation. Write operations addition-
// ally require a read-write transaction with no open child.
func (tx *Txn) check(write bool) error {
	if tx == nil || tx.signature != txnSignature || tx.finished {
		return NewError(ErrBadTxn)
	}
	if tx.reset || tx.errored {
		return NewError(ErrTxnNotReady)
	}
	if tx.child != nil {
		return NewError(ErrIllegalState)
	}
	if write && tx.readOnly {
		return NewError(ErrPermissionDenied)
	}
	return nil
}

// fail marks the transaction unusable after an internal error. Only Abort
// is valid afterwards.
func (tx *Txn) fail(err error) error {
	if !tx.readOnly {
		tx.errored = true
	}
	return err
}

// page returns the page pn as seen by this transaction: the nearest dirty
// copy in the parent chain, else the mapped file.
func (tx *Txn) page(pn pgno) (*page, error) {
	for t := tx; t != nil; t = t.parent {
		if t.dirty != nil {
			if p := t.dirty.Get(uint64(pn)); p != nil {
				return (*page)(p), nil
			}
		}
	}
	return tx.env.mappedPage(pn)
}

// overflowData returns the value bytes stored in the overflow run starting
// at pn.
func (tx *Txn) overflowData(pn pgno, vlen uint64) ([]byte, error) {
	p, err := tx.page(pn)
	if err != nil {
		return nil, err
	}
	if !p.isOverflow() {
		return nil, NewError(ErrCorrupted)
	}
	npages := p.overflowPages()
	if p.isDirty() {
		// Dirty overflow copies hold the whole run in one buffer.
		return p.Data[pageHeaderSize : pageHeaderSize+vlen], nil
	}
	run, err := tx.env.mappedRun(pn, npages)
	if err != nil {
		return nil, err
	}
	return run[pageHeaderSize : pageHeaderSize+vlen], nil
}

// newPage allocates count contiguous pages and registers a dirty buffer
// for them.
func (tx *Txn) newPage(flags pageFlags, count int) (*page, error) {
	pn, err := tx.allocPages(count)
	if err != nil {
		return nil, err
	}
	var buf []byte
	if count == 1 {
		buf = tx.env.pageBuf()
	} else {
		buf = make([]byte, count*int(tx.env.pageSize))
	}
	p := &page{Data: buf}
	p.init(pn, flags|pageDirty, tx.env.pageSize)
	h := p.header()
	h.Txnid = tx.id
	if count > 1 {
		p.setOverflowPages(uint32(count))
	}
	tx.dirty.Set(uint64(pn), unsafe.Pointer(p))
	return p, nil
}

// touch returns a dirty copy of p owned by this transaction, copying on
// first write. The caller is responsible for re-pointing the parent branch
// entry at the copy.
func (tx *Txn) touch(p *page) (*page, error) {
	pn := p.pageNo()
	if p.isDirty() && tx.dirty.Get(uint64(pn)) == unsafe.Pointer(p) {
		return p, nil
	}

	count := 1
	if p.isOverflow() {
		count = int(p.overflowPages())
	}
	np, err := tx.newPage(0, count)
	if err != nil {
		return nil, err
	}
	newPn := np.pageNo()
	copy(np.Data, p.Data)
	if count > 1 && !p.isDirty() {
		// Clean overflow page handles cover one page; pull the full run
		// from the map.
		run, err := tx.env.mappedRun(pn, uint32(count))
		if err != nil {
			return nil, err
		}
		copy(np.Data, run)
	}
	h := np.header()
	h.PageNo = newPn
	h.Txnid = tx.id
	h.Flags |= pageDirty

	tx.retirePages(pn, count)
	return np, nil
}

// retirePages returns pages to the allocator: pages this writer lineage
// allocated become immediately reusable, pages from the committed snapshot
// go to the free tree under this transaction's id.
func (tx *Txn) retirePages(pn pgno, count int) {
	if tx.dirty.Get(uint64(pn)) != nil {
		tx.dirty.Delete(uint64(pn))
	}
	for i := 0; i < count; i++ {
		tx.al.retire(pn + pgno(i))
	}
}

// allocPages hands out count contiguous page numbers, reusing reclaimed
// pages when possible and extending the file tail otherwise.
func (tx *Txn) allocPages(count int) (pgno, error) {
	pn, err := tx.al.alloc(tx, count)
	if err != nil {
		return 0, tx.fail(err)
	}
	return pn, nil
}

// Commit makes the transaction's writes durable and visible. For read-only
// transactions Commit equals Abort: the snapshot is released. The handle is
// finished either way, even on error.
func (tx *Txn) Commit() error {
	if tx == nil || tx.signature != txnSignature || tx.finished {
		return NewError(ErrBadTxn)
	}
	if tx.child != nil {
		tx.abort()
		return NewError(ErrIllegalState)
	}
	if tx.readOnly {
		tx.abort()
		return nil
	}
	if tx.errored {
		tx.abort()
		return NewError(ErrTxnNotReady)
	}
	if tx.parent != nil {
		return tx.commitChild()
	}

	err := tx.commitRoot()
	if err != nil {
		tx.abort()
		return err
	}
	tx.env.forgetDBIs(tx.droppedDBIs)
	tx.finish()
	tx.env.releaseWriter()
	return nil
}

func (tx *Txn) commitRoot() error {
	env := tx.env

	if tx.dirty.Len() == 0 && !tx.treesDirty() {
		return nil
	}

	// Fold modified named trees into the main tree before the freelist is
	// settled, so their page churn is accounted for.
	if err := tx.flushNamedTrees(); err != nil {
		return err
	}
	if err := tx.saveFreelist(); err != nil {
		return err
	}
	tx.meta.FreeTree = tx.trees[FreeDBI].tree
	tx.meta.MainTree = tx.trees[MainDBI].tree
	tx.meta.Next = tx.al.next

	if err := env.writeDirty(tx.dirty); err != nil {
		return WrapError(ErrIO, err)
	}
	if !env.flags.Has(NoSync) {
		if err := env.file.Sync(); err != nil {
			return WrapError(ErrIO, err)
		}
	}
	if err := env.writeMeta(&tx.meta); err != nil {
		return err
	}

	env.publish(&tx.meta)
	env.log.Debug("commit", "txnid", uint64(tx.id), "dirty", tx.dirty.Len())
	return nil
}

func (tx *Txn) treesDirty() bool {
	for _, ts := range tx.trees {
		if ts != nil && ts.dirty {
			return true
		}
	}
	return false
}

// flushNamedTrees writes back the metadata of every named database this
// transaction modified.
func (tx *Txn) flushNamedTrees() error {
	for dbi := DBI(coreDBs); int(dbi) < len(tx.trees); dbi++ {
		ts := tx.trees[dbi]
		if ts == nil || !ts.dirty {
			continue
		}
		name := tx.env.dbiName(dbi)
		if name == "" {
			return NewError(ErrBadDBI)
		}
		c, err := tx.openCursor(MainDBI)
		if err != nil {
			return err
		}
		err = c.putTreeNode([]byte(name), &ts.tree)
		c.close()
		if err != nil {
			return err
		}
		ts.dirty = false
	}
	return nil
}

func (tx *Txn) commitChild() error {
	parent := tx.parent

	// Drop parent dirty copies superseded or retired by the child before
	// folding the child's set in.
	tx.dirty.ForEach(func(pn uint64, p unsafe.Pointer) {
		parent.dirty.Set(pn, p)
	})
	for _, pn := range tx.al.freed[len(parent.al.freed):] {
		parent.dirty.Delete(uint64(pn))
	}
	parent.al.adopt(tx.al)
	parent.trees = tx.trees
	parent.meta = tx.meta
	parent.meta.Txnid = parent.id
	parent.newDBIs = append(parent.newDBIs, tx.newDBIs...)
	parent.droppedDBIs = append(parent.droppedDBIs, tx.droppedDBIs...)

	parent.child = nil
	tx.finished = true
	tx.signature = 0
	return nil
}

// Abort discards the transaction. Aborting an already finished transaction
// is a no-op.
func (tx *Txn) Abort() {
	if tx == nil || tx.signature != txnSignature || tx.finished {
		return
	}
	tx.abort()
}

func (tx *Txn) abort() {
	if tx.child != nil {
		tx.child.abort()
	}
	if tx.readOnly {
		if tx.readerSlot >= 0 {
			tx.env.readers.release(tx.readerSlot)
			tx.readerSlot = -1
		}
		tx.finish()
		return
	}

	// Unroll DBI handles this txn registered.
	tx.env.forgetDBIs(tx.newDBIs)

	if tx.parent != nil {
		// Parent allocator state was forked at child begin; dropping the
		// child restores it wholesale.
		tx.parent.child = nil
		tx.returnPageBufs()
		tx.finished = true
		tx.signature = 0
		return
	}

	tx.returnPageBufs()
	tx.finish()
	tx.env.releaseWriter()
}

func (tx *Txn) returnPageBufs() {
	env := tx.env
	tx.dirty.ForEach(func(_ uint64, ptr unsafe.Pointer) {
		p := (*page)(ptr)
		if len(p.Data) == int(env.pageSize) {
			env.putPageBuf(p.Data)
		}
	})
	tx.dirty.Clear()
}

func (tx *Txn) finish() {
	tx.finished = true
	tx.signature = 0
	tx.trees = nil
}

// Reset releases a read-only transaction's snapshot while keeping the
// handle (and its reader slot) for Renew. Cheaper than Abort+BeginTxn in
// read loops.
func (tx *Txn) Reset() error {
	if tx == nil || tx.signature != txnSignature || tx.finished {
		return NewError(ErrBadTxn)
	}
	if !tx.readOnly {
		return NewError(ErrIllegalState)
	}
	if tx.reset {
		return NewError(ErrTxnNotReady)
	}
	tx.reset = true
	tx.env.readers.repin(tx.readerSlot, 0)
	return nil
}

// Renew revives a Reset transaction on the current snapshot. Fails with
// ErrTxnNotReset if the transaction was not Reset.
func (tx *Txn) Renew() error {
	if tx == nil || tx.signature != txnSignature || tx.finished {
		return NewError(ErrBadTxn)
	}
	if !tx.readOnly || !tx.reset {
		return NewError(ErrTxnNotReset)
	}
	env := tx.env
	var mp *metaPair
	for {
		mp = env.meta.Load()
		env.readers.repin(tx.readerSlot, mp.recentMeta().Txnid)
		if env.meta.Load() == mp {
			break
		}
	}
	m := mp.recentMeta()
	tx.meta = *m
	tx.id = m.Txnid
	tx.reset = false
	tx.trees = make([]*treeState, coreDBs, coreDBs+4)
	tx.loadCoreTrees()
	return nil
}
