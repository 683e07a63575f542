package wisent

import (
	"os"
	"path/filepath"
)

// copyChunk is the write granularity of a raw copy.
const copyChunk = 1 << 20

// Copy writes a consistent snapshot of the environment to dest. The
// destination follows the same path convention the environment was opened
// with (NoSubdir or directory) and must not already contain a data file.
//
// A raw copy duplicates the used portion of the data file page for page
// and rewrites both meta pages from the snapshot. A compacting copy
// rebuilds every database in key order instead, squeezing out free pages
// and overflow slack; databases ordered by caller-supplied comparators
// must be registered via OpenDBICmp in some transaction of this
// environment before compacting, so the rebuild sees their ordering.
func (env *Env) Copy(dest string, compact bool) error {
	if err := env.check(); err != nil {
		return err
	}
	tx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		return err
	}
	defer tx.Abort()

	if compact {
		return env.copyCompact(tx, dest)
	}
	return env.copyRaw(tx, dest)
}

// destDataPath resolves the destination data file, creating the directory
// in subdir mode.
func (env *Env) destDataPath(dest string) (string, error) {
	if env.flags.Has(NoSubdir) {
		return dest, nil
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", WrapError(ErrIO, err)
	}
	return filepath.Join(dest, dataFileName), nil
}

func (env *Env) copyRaw(tx *Txn, dest string) error {
	path, err := env.destDataPath(dest)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, env.mode)
	if err != nil {
		return WrapError(ErrIO, err)
	}
	defer f.Close()

	m := tx.meta
	ps := int64(env.pageSize)

	// Fresh meta pages: both slots carry the snapshot, so whichever the
	// next open picks is consistent.
	buf := make([]byte, env.pageSize)
	for slot := 0; slot < numMetas; slot++ {
		clear(buf)
		p := &page{Data: buf}
		p.init(pgno(slot), pageMeta, env.pageSize)
		p.header().Txnid = m.Txnid
		encodeMeta(buf[pageHeaderSize:], &m)
		if _, err := f.WriteAt(buf, int64(slot)*ps); err != nil {
			return WrapError(ErrIO, err)
		}
	}

	// The snapshot pins every page below Next: the freelist cannot hand
	// them out while this read transaction lives, so the mapped bytes are
	// stable.
	src := env.region.Bytes()
	off := int64(numMetas) * ps
	end := int64(m.Next) * ps
	for off < end {
		n := int64(copyChunk)
		if off+n > end {
			n = end - off
		}
		if _, err := f.WriteAt(src[off:off+n], off); err != nil {
			return WrapError(ErrIO, err)
		}
		off += n
	}

	if err := f.Sync(); err != nil {
		return WrapError(ErrIO, err)
	}
	env.log.Info("raw copy written", "dest", dest, "pages", uint64(m.Next))
	return nil
}

// namedDB is one named database discovered in the main tree.
type namedDB struct {
	name  string
	flags DBFlags
	seq   uint64
}

func (env *Env) copyCompact(tx *Txn, dest string) error {
	path, err := env.destDataPath(dest)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return NewError(ErrAlreadyOpen)
	}

	names, err := tx.listNamedDBs()
	if err != nil {
		return err
	}

	dst := NewEnv()
	dst.SetLogger(env.log)
	if err := dst.SetPageSize(env.pageSize); err != nil {
		return err
	}
	if err := dst.SetMaxDBs(env.maxDBs); err != nil {
		return err
	}
	if err := dst.SetGeometry(env.mapSize); err != nil {
		return err
	}
	// A single fsync at the end covers the whole rebuild.
	dstFlags := EnvFlags{}.With(NoSync)
	if env.flags.Has(NoSubdir) {
		dstFlags = dstFlags.With(NoSubdir)
	}
	if err := dst.Open(dest, dstFlags, env.mode); err != nil {
		return err
	}
	defer dst.Close()

	err = dst.Update(func(dtx *Txn) error {
		if err := copyDatabase(tx, dtx, MainDBI, MainDBI, true); err != nil {
			return err
		}
		if seq := tx.trees[MainDBI].Sequence; seq != 0 {
			if _, err := dtx.Sequence(MainDBI, seq); err != nil {
				return err
			}
		}
		for _, db := range names {
			srcCmp, srcDupCmp, _, cerr := env.dbiConfig(tx.mustDBI(db.name))
			var sdbi, ddbi DBI
			var oerr error
			if cerr == nil {
				sdbi, oerr = tx.OpenDBICmp(db.name, db.flags, srcCmp, srcDupCmp)
			} else {
				sdbi, oerr = tx.OpenDBI(db.name, db.flags)
			}
			if oerr != nil {
				return oerr
			}
			if cerr == nil {
				ddbi, oerr = dtx.OpenDBICmp(db.name, db.flags.With(Create), srcCmp, srcDupCmp)
			} else {
				ddbi, oerr = dtx.OpenDBI(db.name, db.flags.With(Create))
			}
			if oerr != nil {
				return oerr
			}
			if err := copyDatabase(tx, dtx, sdbi, ddbi, false); err != nil {
				return err
			}
			if db.seq != 0 {
				if _, err := dtx.Sequence(ddbi, db.seq); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := dst.Sync(true, false); err != nil {
		return err
	}
	env.log.Info("compact copy written", "dest", dest, "databases", len(names)+1)
	return nil
}

// listNamedDBs collects every named database entry in the main tree.
func (tx *Txn) listNamedDBs() ([]namedDB, error) {
	c, err := tx.openCursor(MainDBI)
	if err != nil {
		return nil, err
	}
	defer c.close()

	var out []namedDB
	ok, err := c.first()
	for ; ok && err == nil; ok, err = c.next() {
		p, idx := c.currentLeaf()
		if nodeGetFlags(p, idx)&nodeTree == 0 {
			continue
		}
		t := nodeGetTree(p, idx)
		out = append(out, namedDB{
			name:  string(nodeGetKey(p, idx)),
			flags: dbFlagsFromPersistent(t.Flags),
			seq:   t.Sequence,
		})
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mustDBI returns the registered handle for name, or an out-of-range DBI
// that dbiConfig rejects.
func (tx *Txn) mustDBI(name string) DBI {
	tx.env.dbiMu.Lock()
	defer tx.env.dbiMu.Unlock()
	if dbi, ok := tx.env.dbiNames[name]; ok && tx.env.dbis[dbi].open {
		return dbi
	}
	return DBI(len(tx.env.dbis))
}

// copyDatabase replays every element of src's database into dst in key
// order. Entries naming sub-databases are skipped; those are rebuilt by
// the caller through their own handles.
func copyDatabase(stx, dtx *Txn, src, dst DBI, skipTrees bool) error {
	sc, err := stx.openCursor(src)
	if err != nil {
		return err
	}
	defer sc.close()
	dc, err := dtx.openCursor(dst)
	if err != nil {
		return err
	}
	defer dc.close()

	appendFlag := PutFlags{}.With(Append)
	ok, err := sc.first()
	for ; ok && err == nil; ok, err = sc.next() {
		p, idx := sc.currentLeaf()
		nf := nodeGetFlags(p, idx)
		if nf&nodeTree != 0 {
			if skipTrees {
				continue
			}
			return NewError(ErrCorrupted)
		}
		key := nodeGetKey(p, idx)

		if nf&nodeDup != 0 {
			if err := sc.loadDup(seekFirst); err != nil {
				return err
			}
			for {
				if err := dc.Put(key, sc.dup.currentKey(), PutFlags{}); err != nil {
					return err
				}
				more, derr := sc.dup.next()
				if derr != nil {
					return derr
				}
				if !more {
					break
				}
			}
			continue
		}

		val, verr := sc.currentValue()
		if verr != nil {
			return verr
		}
		if sc.dupSort {
			if err := dc.Put(key, val, PutFlags{}); err != nil {
				return err
			}
		} else {
			if err := dc.Put(key, val, appendFlag); err != nil {
				return err
			}
		}
	}
	return err
}
