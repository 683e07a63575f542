package wisent

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	// metaMagic identifies wisent data files (56-bit).
	metaMagic uint64 = 0x574953454E5442 // "WISENTB"

	// metaVersion is the data format version.
	metaVersion = 1

	// metaMagicVersion combines magic and version for validation.
	metaMagicVersion = metaMagic<<8 | metaVersion

	// numMetas is the number of rotating meta pages (pages 0 and 1).
	numMetas = 2

	// metaBodySize is the encoded meta size, checksum included.
	metaBodySize = 176

	// treeSize is the encoded size of tree metadata.
	treeSize = 64
)

// tree is the metadata of one B+Tree: a named database, the unnamed main
// database, the free tree, or a duplicate sub-tree.
type tree struct {
	Flags         uint16 // persistent DBFlags bits
	Height        uint16
	DupfixSize    uint32 // fixed dup value width (DupFixed), 0 otherwise
	Root          pgno
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Items         uint64
	Sequence      uint64
	ModTxnid      txnid
}

func (t *tree) isEmpty() bool { return t.Root == invalidPgno }

func (t *tree) reset() {
	t.Root = invalidPgno
	t.Height = 0
	t.BranchPages = 0
	t.LeafPages = 0
	t.OverflowPages = 0
	t.Items = 0
}

func encodeTree(buf []byte, t *tree) {
	binary.LittleEndian.PutUint16(buf[0:], t.Flags)
	binary.LittleEndian.PutUint16(buf[2:], t.Height)
	binary.LittleEndian.PutUint32(buf[4:], t.DupfixSize)
	binary.LittleEndian.PutUint64(buf[8:], uint64(t.Root))
	binary.LittleEndian.PutUint64(buf[16:], t.BranchPages)
	binary.LittleEndian.PutUint64(buf[24:], t.LeafPages)
	binary.LittleEndian.PutUint64(buf[32:], t.OverflowPages)
	binary.LittleEndian.PutUint64(buf[40:], t.Items)
	binary.LittleEndian.PutUint64(buf[48:], t.Sequence)
	binary.LittleEndian.PutUint64(buf[56:], uint64(t.ModTxnid))
}

func decodeTree(buf []byte) tree {
	return tree{
		Flags:         binary.LittleEndian.Uint16(buf[0:]),
		Height:        binary.LittleEndian.Uint16(buf[2:]),
		DupfixSize:    binary.LittleEndian.Uint32(buf[4:]),
		Root:          pgno(binary.LittleEndian.Uint64(buf[8:])),
		BranchPages:   binary.LittleEndian.Uint64(buf[16:]),
		LeafPages:     binary.LittleEndian.Uint64(buf[24:]),
		OverflowPages: binary.LittleEndian.Uint64(buf[32:]),
		Items:         binary.LittleEndian.Uint64(buf[40:]),
		Sequence:      binary.LittleEndian.Uint64(buf[48:]),
		ModTxnid:      txnid(binary.LittleEndian.Uint64(buf[56:])),
	}
}

// meta is the decoded content of one meta page. A commit becomes durable the
// moment a meta with a higher txnid and a valid checksum reaches disk.
type meta struct {
	PageSize uint32
	MapSize  uint64 // virtual capacity ceiling in bytes
	Next     pgno   // first never-allocated page
	Txnid    txnid
	FreeTree tree
	MainTree tree
}

// Meta body layout, starting after the page header:
//
//	Offset  Size  Field
//	0       8     magic+version
//	8       4     page size
//	12      4     reserved
//	16      8     map size (bytes)
//	24      8     next pgno
//	32      8     txnid
//	40      64    free tree
//	104     64    main tree
//	168     8     xxhash64 of bytes [0,168)
func encodeMeta(buf []byte, m *meta) {
	binary.LittleEndian.PutUint64(buf[0:], metaMagicVersion)
	binary.LittleEndian.PutUint32(buf[8:], m.PageSize)
	binary.LittleEndian.PutUint32(buf[12:], 0)
	binary.LittleEndian.PutUint64(buf[16:], m.MapSize)
	binary.LittleEndian.PutUint64(buf[24:], uint64(m.Next))
	binary.LittleEndian.PutUint64(buf[32:], uint64(m.Txnid))
	encodeTree(buf[40:], &m.FreeTree)
	encodeTree(buf[104:], &m.MainTree)
	binary.LittleEndian.PutUint64(buf[168:], xxhash.Sum64(buf[:168]))
}

// decodeMeta validates and decodes a meta body. A checksum mismatch means a
// torn meta write and is reported as corruption; the caller falls back to the
// other meta page.
func decodeMeta(buf []byte) (*meta, error) {
	if len(buf) < metaBodySize {
		return nil, NewError(ErrCorrupted)
	}
	mv := binary.LittleEndian.Uint64(buf[0:])
	if mv>>8 != metaMagic {
		return nil, NewError(ErrInvalid)
	}
	if uint8(mv) != metaVersion {
		return nil, NewError(ErrVersionMismatch)
	}
	if binary.LittleEndian.Uint64(buf[168:]) != xxhash.Sum64(buf[:168]) {
		return nil, NewError(ErrCorrupted)
	}
	return &meta{
		PageSize: binary.LittleEndian.Uint32(buf[8:]),
		MapSize:  binary.LittleEndian.Uint64(buf[16:]),
		Next:     pgno(binary.LittleEndian.Uint64(buf[24:])),
		Txnid:    txnid(binary.LittleEndian.Uint64(buf[32:])),
		FreeTree: decodeTree(buf[40:]),
		MainTree: decodeTree(buf[104:]),
	}, nil
}

// metaPair tracks both rotating meta pages and which one is current.
type metaPair struct {
	metas  [numMetas]*meta
	recent int
}

// readMetaPair decodes both meta pages, keeping whichever are valid. At least
// one must validate or the file is unusable.
func readMetaPair(pages [numMetas][]byte) (*metaPair, error) {
	mp := &metaPair{recent: -1}
	var firstErr error
	var best txnid
	for i := 0; i < numMetas; i++ {
		m, err := decodeMeta(pages[i])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		mp.metas[i] = m
		if m.Txnid >= best {
			best = m.Txnid
			mp.recent = i
		}
	}
	if mp.recent < 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, NewError(ErrCorrupted)
	}
	return mp, nil
}

// recentMeta returns the most recently committed meta.
func (mp *metaPair) recentMeta() *meta {
	return mp.metas[mp.recent]
}

// initMeta fills in the meta for a freshly created database.
func initMeta(m *meta, pageSize uint32, mapSize uint64, tid txnid) {
	m.PageSize = pageSize
	m.MapSize = mapSize
	m.Next = numMetas
	m.Txnid = tid
	m.FreeTree = tree{Root: invalidPgno}
	m.MainTree = tree{Root: invalidPgno}
}
