package wisent

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/wisentdb/wisent/internal/fastmap"
	"github.com/wisentdb/wisent/mmap"
)

// envSignature marks an open environment handle.
const envSignature uint32 = 0x57454E56

const (
	minPageSize     = 512
	maxPageSize     = 65536
	defaultPageSize = 4096

	defaultMapSize = 1 << 30
	defaultMaxDBs  = 32

	// defaultCacheSize is the leaf-hint cache capacity in entries.
	defaultCacheSize = 1 << 16

	dataFileName = "data.wisent"
	lockFileName = "lock.wisent"
)

// Env is a database environment: one data file, one lock file, a set of
// databases sharing the file. All handles and transactions hang off it.
//
// Configure with the Set* methods, then Open. An Env is safe for
// concurrent use.
type Env struct {
	signature atomic.Uint32

	path     string
	dataPath string
	lockPath string
	flags    EnvFlags
	mode     os.FileMode

	pageSize   uint32
	mapSize    uint64
	maxDBs     int
	maxReaders int
	cacheSize  uint32

	// Derived size limits. nodeMax caps an encoded node so at least two
	// fit a page; keys are bounded tighter so branch pages stay shallow.
	nodeMax    int
	maxKeySize int

	file   *os.File
	flock  *fileLock
	region *mmap.Region

	meta    atomic.Pointer[metaPair]
	readers *readerTable
	refs    stripedRefCounter
	hints   *leafHintCache
	log     Logger

	writerMu     sync.Mutex
	writerCond   *sync.Cond
	writerActive bool

	dbiMu    sync.Mutex
	dbis     []dbiState
	dbiNames map[string]DBI

	pagePool sync.Pool
}

// NewEnv returns an unopened environment with default geometry.
func NewEnv() *Env {
	env := &Env{
		pageSize:   defaultPageSize,
		mapSize:    defaultMapSize,
		maxDBs:     defaultMaxDBs,
		maxReaders: defaultMaxReaders,
		cacheSize:  defaultCacheSize,
		log:        noopLogger{},
	}
	env.writerCond = sync.NewCond(&env.writerMu)
	return env
}

func (env *Env) check() error {
	if env == nil || env.signature.Load() != envSignature {
		return NewError(ErrEnvClosed)
	}
	return nil
}

func (env *Env) opened() bool { return env.signature.Load() == envSignature }

// SetPageSize sets the page size for a new data file. Opening an existing
// file uses the size recorded on disk. Must be a power of two in
// [512, 65536].
func (env *Env) SetPageSize(size uint32) error {
	if env.opened() {
		return NewError(ErrAlreadyOpen)
	}
	if size < minPageSize || size > maxPageSize || size&(size-1) != 0 {
		return NewError(ErrInvalid)
	}
	env.pageSize = size
	return nil
}

// SetMaxDBs bounds how many named databases may be open at once.
func (env *Env) SetMaxDBs(n int) error {
	if env.opened() {
		return NewError(ErrAlreadyOpen)
	}
	if n < 0 {
		return NewError(ErrInvalid)
	}
	env.maxDBs = n
	return nil
}

// SetMaxReaders sizes the reader slot table.
func (env *Env) SetMaxReaders(n int) error {
	if env.opened() {
		return NewError(ErrAlreadyOpen)
	}
	if n <= 0 {
		return NewError(ErrInvalid)
	}
	env.maxReaders = n
	return nil
}

// SetCacheSize sets the leaf-hint cache capacity in entries; 0 disables
// the cache.
func (env *Env) SetCacheSize(n uint32) error {
	if env.opened() {
		return NewError(ErrAlreadyOpen)
	}
	env.cacheSize = n
	return nil
}

// SetLogger installs a logger. Nil restores the no-op default.
func (env *Env) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	env.log = l
}

// SetGeometry sets the map size ceiling: the largest the data file may
// grow. Before Open it configures the new or reopened file; on an open
// environment it grows the ceiling in place, which requires that no
// transaction is running.
func (env *Env) SetGeometry(mapSize uint64) error {
	if mapSize == 0 {
		return NewError(ErrInvalid)
	}
	if !env.opened() {
		env.mapSize = mapSize
		return nil
	}
	return env.growMap(mapSize)
}

func (env *Env) growMap(mapSize uint64) error {
	env.writerMu.Lock()
	defer env.writerMu.Unlock()
	if env.writerActive {
		return NewError(ErrEnvBusy)
	}
	if env.readers.count() > 0 {
		// Growing moves the mapping; a reader holding old map slices
		// would be left dangling.
		return NewError(ErrEnvBusy)
	}
	if mapSize <= env.mapSize {
		return nil
	}
	mapSize = alignUp(mapSize, uint64(env.pageSize))
	if err := env.file.Truncate(int64(mapSize)); err != nil {
		return WrapError(ErrIO, err)
	}
	if err := env.region.Grow(int64(mapSize)); err != nil {
		return WrapError(ErrIO, err)
	}
	env.mapSize = mapSize
	env.log.Info("map grown", "size", mapSize)
	return nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Open opens (creating as needed) the environment at path. With NoSubdir
// the path names the data file itself; otherwise it is a directory.
func (env *Env) Open(path string, flags EnvFlags, mode os.FileMode) error {
	if env.opened() {
		return NewError(ErrAlreadyOpen)
	}
	env.path = path
	env.flags = flags
	env.mode = mode
	readOnly := flags.Has(ReadOnly)

	if flags.Has(NoSubdir) {
		env.dataPath = path
		env.lockPath = path + "-lock"
	} else {
		if !readOnly {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return WrapError(ErrIO, err)
			}
		}
		env.dataPath = filepath.Join(path, dataFileName)
		env.lockPath = filepath.Join(path, lockFileName)
	}

	flock, err := acquireFileLock(env.lockPath, readOnly)
	if err != nil {
		return err
	}
	env.flock = flock

	fileFlag := os.O_RDWR
	if readOnly {
		fileFlag = os.O_RDONLY
	} else {
		fileFlag |= os.O_CREATE
	}
	f, err := os.OpenFile(env.dataPath, fileFlag, mode)
	if err != nil {
		flock.release()
		return WrapError(ErrIO, err)
	}
	env.file = f

	if err := env.setup(readOnly); err != nil {
		f.Close()
		flock.release()
		env.file = nil
		env.flock = nil
		return err
	}

	env.signature.Store(envSignature)
	env.log.Info("environment open",
		"path", path, "pageSize", env.pageSize, "mapSize", env.mapSize)
	return nil
}

func (env *Env) setup(readOnly bool) error {
	fi, err := env.file.Stat()
	if err != nil {
		return WrapError(ErrIO, err)
	}
	size := fi.Size()

	if size == 0 {
		if readOnly {
			return NewError(ErrInvalid)
		}
		if err := env.bootstrap(); err != nil {
			return err
		}
	} else {
		if err := env.readGeometry(); err != nil {
			return err
		}
		if uint64(size) > env.mapSize {
			env.mapSize = uint64(size)
		}
	}
	env.mapSize = alignUp(env.mapSize, uint64(env.pageSize))

	if !readOnly {
		// Keep the file at the full ceiling (sparse) so the mapping never
		// has to move during commits.
		if err := env.file.Truncate(int64(env.mapSize)); err != nil {
			return WrapError(ErrIO, err)
		}
	}

	region, err := mmap.Map(int(env.file.Fd()), int64(env.mapSize), false)
	if err != nil {
		return err
	}
	region.AdviseRandom()
	env.region = region

	mp, err := readMetaPair(env.metaBodies())
	if err != nil {
		region.Close()
		env.region = nil
		return err
	}
	if m := mp.recentMeta(); m.MapSize > env.mapSize {
		env.mapSize = m.MapSize
	}
	env.meta.Store(mp)

	env.nodeMax = (int(env.pageSize)-pageHeaderSize)/2 - 2
	env.maxKeySize = env.nodeMax / 4
	env.readers = newReaderTable(env.maxReaders)
	env.hints, err = newLeafHintCache(env.cacheSize)
	if err != nil {
		region.Close()
		env.region = nil
		return err
	}
	env.dbis = make([]dbiState, coreDBs, coreDBs+env.maxDBs)
	env.dbis[FreeDBI] = dbiState{open: true}
	env.dbis[MainDBI] = dbiState{open: true}
	env.dbiNames = make(map[string]DBI)
	env.pagePool = sync.Pool{New: func() any { return make([]byte, env.pageSize) }}

	if mp.metas[0] == nil || mp.metas[1] == nil {
		env.log.Warn("one meta page invalid, recovered from the other",
			"txnid", uint64(mp.recentMeta().Txnid))
	}
	return nil
}

// metaBodies slices both meta page bodies out of the mapping.
func (env *Env) metaBodies() [numMetas][]byte {
	buf := env.region.Bytes()
	ps := int(env.pageSize)
	var out [numMetas][]byte
	for i := 0; i < numMetas; i++ {
		out[i] = buf[i*ps+pageHeaderSize : i*ps+pageHeaderSize+metaBodySize]
	}
	return out
}

// bootstrap writes the initial meta pages of a fresh data file.
func (env *Env) bootstrap() error {
	var m meta
	initMeta(&m, env.pageSize, env.mapSize, 1)
	for i := 0; i < numMetas; i++ {
		buf := make([]byte, env.pageSize)
		p := &page{Data: buf}
		p.init(pgno(i), pageMeta, env.pageSize)
		p.header().Txnid = 1
		encodeMeta(buf[pageHeaderSize:], &m)
		if _, err := env.file.WriteAt(buf, int64(i)*int64(env.pageSize)); err != nil {
			return WrapError(ErrIO, err)
		}
	}
	if err := env.file.Sync(); err != nil {
		return WrapError(ErrIO, err)
	}
	return nil
}

// readGeometry pulls the page size and map size from an existing file
// before it is mapped.
func (env *Env) readGeometry() error {
	body := make([]byte, metaBodySize)
	if _, err := env.file.ReadAt(body, pageHeaderSize); err != nil {
		return WrapError(ErrIO, err)
	}
	m, err := decodeMeta(body)
	if err != nil {
		// First meta torn: probe page sizes for the second.
		for ps := int64(minPageSize); ps <= maxPageSize; ps *= 2 {
			if _, rerr := env.file.ReadAt(body, ps+pageHeaderSize); rerr != nil {
				continue
			}
			if m2, derr := decodeMeta(body); derr == nil {
				m = m2
				break
			}
		}
		if m == nil {
			return err
		}
	}
	if m.PageSize < minPageSize || m.PageSize > maxPageSize ||
		m.PageSize&(m.PageSize-1) != 0 {
		return NewError(ErrCorrupted)
	}
	env.pageSize = m.PageSize
	if m.MapSize > env.mapSize {
		env.mapSize = m.MapSize
	}
	return nil
}

// Close shuts the environment down. It fails fast with ErrEnvBusy while
// any transaction or call is still in flight; closing an already closed
// environment is a no-op.
func (env *Env) Close() error {
	if env == nil || !env.signature.CompareAndSwap(envSignature, 0) {
		return nil
	}

	busy := func() error {
		env.signature.Store(envSignature)
		return NewError(ErrEnvBusy)
	}
	env.writerMu.Lock()
	writerBusy := env.writerActive
	env.writerMu.Unlock()
	if writerBusy {
		return busy()
	}
	if env.readers.count() > 0 {
		return busy()
	}
	if !env.refs.idle() {
		return busy()
	}

	var firstErr error
	if env.region != nil {
		if err := env.region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		env.region = nil
	}
	if env.file != nil {
		if err := env.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		env.file = nil
	}
	if env.flock != nil {
		if err := env.flock.release(); err != nil && firstErr == nil {
			firstErr = err
		}
		env.flock = nil
	}
	env.log.Info("environment closed", "path", env.path)
	if firstErr != nil {
		return WrapError(ErrIO, firstErr)
	}
	return nil
}

// Path returns the path the environment was opened with.
func (env *Env) Path() string { return env.path }

// MaxKeySize returns the largest accepted key (and DupSort value) length.
func (env *Env) MaxKeySize() int { return env.maxKeySize }

// validKV enforces key and value size limits.
func (env *Env) validKV(key, val []byte, dupSort bool) error {
	if len(key) == 0 || len(key) > env.maxKeySize {
		return NewError(ErrBadValSize)
	}
	if dupSort && len(val) > env.maxKeySize {
		// Duplicate values become keys of the sub-tree.
		return NewError(ErrBadValSize)
	}
	return nil
}

// mappedPage returns a read-only view of page pn.
func (env *Env) mappedPage(pn pgno) (*page, error) {
	off := int64(pn) * int64(env.pageSize)
	if off < 0 || off+int64(env.pageSize) > env.region.Size() {
		return nil, NewError(ErrPageNotFound)
	}
	return &page{Data: env.region.Bytes()[off : off+int64(env.pageSize)]}, nil
}

// mappedRun returns the bytes of count consecutive pages starting at pn.
func (env *Env) mappedRun(pn pgno, count uint32) ([]byte, error) {
	off := int64(pn) * int64(env.pageSize)
	end := off + int64(count)*int64(env.pageSize)
	if off < 0 || end > env.region.Size() {
		return nil, NewError(ErrPageNotFound)
	}
	return env.region.Bytes()[off:end], nil
}

func (env *Env) pageBuf() []byte {
	buf := env.pagePool.Get().([]byte)
	clear(buf)
	return buf
}

func (env *Env) putPageBuf(buf []byte) {
	env.pagePool.Put(buf)
}

func (env *Env) releaseWriter() {
	env.writerMu.Lock()
	env.writerActive = false
	env.writerCond.Signal()
	env.writerMu.Unlock()
}

// writeDirty flushes every dirty page with positional writes; the mapping
// itself is never written through.
func (env *Env) writeDirty(dirty *fastmap.Uint64Map) error {
	var firstErr error
	dirty.ForEach(func(pn uint64, ptr unsafe.Pointer) {
		if firstErr != nil {
			return
		}
		p := (*page)(ptr)
		if _, err := env.file.WriteAt(p.Data, int64(pn)*int64(env.pageSize)); err != nil {
			firstErr = err
		}
	})
	return firstErr
}

// writeMeta publishes a commit on disk: the meta lands in the slot its
// txnid selects, alternating between the two meta pages.
func (env *Env) writeMeta(m *meta) error {
	slot := int64(m.Txnid % numMetas)
	buf := env.pageBuf()
	defer env.putPageBuf(buf)
	p := &page{Data: buf}
	p.init(pgno(slot), pageMeta, env.pageSize)
	p.header().Txnid = m.Txnid
	encodeMeta(buf[pageHeaderSize:], m)
	if _, err := env.file.WriteAt(buf, slot*int64(env.pageSize)); err != nil {
		return WrapError(ErrIO, err)
	}
	if !env.flags.Has(NoSync) && !env.flags.Has(NoMetaSync) {
		if err := env.file.Sync(); err != nil {
			return WrapError(ErrIO, err)
		}
	}
	return nil
}

// publish swaps in the new current meta for readers.
func (env *Env) publish(m *meta) {
	old := env.meta.Load()
	next := &metaPair{recent: int(m.Txnid % numMetas)}
	next.metas = old.metas
	cp := *m
	next.metas[next.recent] = &cp
	env.meta.Store(next)
}

// Sync flushes pending writes to disk. With force set it fsyncs even when
// the environment runs with NoSync; nonblock refuses to wait for an active
// write transaction.
func (env *Env) Sync(force, nonblock bool) error {
	if err := env.check(); err != nil {
		return err
	}
	if env.flags.Has(ReadOnly) {
		return nil
	}
	if !force && !env.flags.Has(NoSync) && !env.flags.Has(NoMetaSync) {
		return nil
	}

	env.writerMu.Lock()
	if env.writerActive {
		if nonblock {
			env.writerMu.Unlock()
			return NewError(ErrEnvBusy)
		}
		for env.writerActive {
			env.writerCond.Wait()
		}
	}
	env.writerActive = true
	env.writerMu.Unlock()
	defer env.releaseWriter()

	if err := env.file.Sync(); err != nil {
		return WrapError(ErrIO, err)
	}
	return nil
}

// Info describes the environment as of the last commit.
type Info struct {
	MapSize    uint64
	LastPgno   uint64
	LastTxnid  uint64
	PageSize   uint32
	MaxReaders int
	NumReaders int
}

// Stat returns statistics of the main database as of the last commit.
func (env *Env) Stat() (*Stat, error) {
	if err := env.check(); err != nil {
		return nil, err
	}
	m := env.meta.Load().recentMeta()
	return statOf(&m.MainTree, env.pageSize), nil
}

// Info returns environment-level counters and geometry.
func (env *Env) Info() (*Info, error) {
	if err := env.check(); err != nil {
		return nil, err
	}
	m := env.meta.Load().recentMeta()
	return &Info{
		MapSize:    env.mapSize,
		LastPgno:   uint64(m.Next) - 1,
		LastTxnid:  uint64(m.Txnid),
		PageSize:   env.pageSize,
		MaxReaders: env.maxReaders,
		NumReaders: env.readers.count(),
	}, nil
}

// ReaderList returns a snapshot of the active reader slots.
func (env *Env) ReaderList() ([]ReaderInfo, error) {
	if err := env.check(); err != nil {
		return nil, err
	}
	return env.readers.list(), nil
}

// ReaderCheck clears reader slots held by dead processes and returns how
// many were cleared.
func (env *Env) ReaderCheck() (int, error) {
	if err := env.check(); err != nil {
		return 0, err
	}
	n := env.readers.clearDead()
	if n > 0 {
		env.log.Warn("cleared stale readers", "count", n)
	}
	return n, nil
}
