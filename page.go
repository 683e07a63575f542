package wisent

import (
	"encoding/binary"
	"unsafe"
)

// pgno is a page number.
type pgno uint64

// txnid is a transaction identifier.
type txnid uint64

const (
	// pageHeaderSize is the fixed page header size (24 bytes).
	pageHeaderSize = 24

	// invalidPgno marks an empty tree root or an invalid page reference.
	invalidPgno pgno = 0xFFFFFFFFFFFFFFFF
)

// pageFlags define page variants.
type pageFlags uint16

const (
	// pageBranch marks an interior page of key/child-pointer pairs.
	pageBranch pageFlags = 0x01

	// pageLeaf marks a leaf page of key/value pairs.
	pageLeaf pageFlags = 0x02

	// pageOverflow marks the first page of a contiguous large-value run.
	pageOverflow pageFlags = 0x04

	// pageMeta marks a meta page.
	pageMeta pageFlags = 0x08

	// pageDirty marks an in-memory copy owned by a write transaction.
	// Never written to disk.
	pageDirty pageFlags = 0x10

	pageTypeMask = pageBranch | pageLeaf | pageOverflow | pageMeta
)

// pageHeader is the on-page header. The file format is little-endian; this
// struct is cast directly over page bytes, the way the node accessors below
// read their fields directly.
//
//	Offset  Size  Field
//	0       8     pgno
//	8       8     txnid (transaction that wrote this page)
//	16      2     flags
//	18      2     lower (slot area end, relative to header end; = 2*entries)
//	20      2     upper (data area start, relative to header end)
//	22      2     dupfix ksize (fixed dup value width, 0 otherwise)
//
// For overflow pages, lower|upper<<16 holds the page count of the run.
type pageHeader struct {
	PageNo      pgno
	Txnid       txnid
	Flags       pageFlags
	Lower       uint16
	Upper       uint16
	DupfixKsize uint16
}

// page wraps one page worth of bytes, either a slice of the data-file mmap or
// a transaction-private dirty copy.
type page struct {
	Data []byte
}

func (p *page) header() *pageHeader {
	return (*pageHeader)(unsafe.Pointer(&p.Data[0]))
}

func (p *page) pageNo() pgno          { return p.header().PageNo }
func (p *page) pageType() pageFlags   { return p.header().Flags & pageTypeMask }
func (p *page) isBranch() bool        { return p.header().Flags&pageBranch != 0 }
func (p *page) isLeaf() bool          { return p.header().Flags&pageLeaf != 0 }
func (p *page) isOverflow() bool      { return p.header().Flags&pageOverflow != 0 }
func (p *page) isDirty() bool         { return p.header().Flags&pageDirty != 0 }
func (p *page) setDirty(dirty bool) {
	if dirty {
		p.header().Flags |= pageDirty
	} else {
		p.header().Flags &^= pageDirty
	}
}

// numEntries returns the number of slot entries on the page.
func (p *page) numEntries() int {
	return int(p.header().Lower) >> 1
}

// freeSpace returns the gap between the slot directory and the data area.
func (p *page) freeSpace() int {
	h := p.header()
	return int(h.Upper) - int(h.Lower)
}

// entryOffset returns the absolute offset of entry idx within the page.
// Stored slot values are relative to the end of the header.
func (p *page) entryOffset(idx int) uint16 {
	stored := binary.LittleEndian.Uint16(p.Data[pageHeaderSize+idx*2:])
	return stored + pageHeaderSize
}

// overflowPages returns the page count of an overflow run.
func (p *page) overflowPages() uint32 {
	h := p.header()
	return uint32(h.Lower) | uint32(h.Upper)<<16
}

func (p *page) setOverflowPages(n uint32) {
	h := p.header()
	h.Lower = uint16(n)
	h.Upper = uint16(n >> 16)
}

// init resets the page to an empty page of the given type.
func (p *page) init(pn pgno, flags pageFlags, pageSize uint32) {
	h := p.header()
	h.PageNo = pn
	h.Txnid = 0
	h.Flags = flags
	h.Lower = 0
	h.Upper = uint16(pageSize) - pageHeaderSize
	h.DupfixKsize = 0
}

// validate checks structural page invariants.
func (p *page) validate(pageSize uint32) error {
	if len(p.Data) < pageHeaderSize {
		return NewError(ErrCorrupted)
	}
	h := p.header()
	if h.Flags&^(pageTypeMask|pageDirty) != 0 {
		return NewError(ErrCorrupted)
	}
	if !p.isOverflow() {
		if int(h.Upper)+pageHeaderSize > int(pageSize) || h.Lower > h.Upper {
			return NewError(ErrCorrupted)
		}
	}
	return nil
}

// insertEntry inserts node data as entry idx, shifting later slots right.
// Returns false when the page is full even after hole compaction.
func (p *page) insertEntry(idx int, nodeData []byte) bool {
	h := p.header()
	n := p.numEntries()
	if idx < 0 || idx > n {
		return false
	}

	need := 2 + len(nodeData)
	if p.freeSpace() < need {
		if p.compact() == 0 || p.freeSpace() < need {
			return false
		}
	}

	newUpper := h.Upper - uint16(len(nodeData))
	h.Upper = newUpper
	copy(p.Data[newUpper+pageHeaderSize:], nodeData)

	if idx < n {
		src := pageHeaderSize + idx*2
		copy(p.Data[src+2:], p.Data[src:pageHeaderSize+n*2])
	}
	binary.LittleEndian.PutUint16(p.Data[pageHeaderSize+idx*2:], newUpper)
	h.Lower += 2
	return true
}

// removeEntry drops entry idx from the slot directory. The node data becomes
// a hole reclaimed by the next compact.
func (p *page) removeEntry(idx int) bool {
	h := p.header()
	n := p.numEntries()
	if idx < 0 || idx >= n {
		return false
	}
	if idx < n-1 {
		src := pageHeaderSize + (idx+1)*2
		dst := pageHeaderSize + idx*2
		copy(p.Data[dst:], p.Data[src:pageHeaderSize+n*2])
	}
	h.Lower -= 2
	return true
}

// removeEntriesFrom drops all entries at startIdx and beyond. Used by splits.
func (p *page) removeEntriesFrom(startIdx int) {
	h := p.header()
	n := p.numEntries()
	if startIdx < 0 || startIdx >= n {
		return
	}
	h.Lower -= uint16((n - startIdx) * 2)
}

// updateEntry replaces entry idx with new node data, in place when it fits.
func (p *page) updateEntry(idx int, nodeData []byte) bool {
	h := p.header()
	if idx < 0 || idx >= p.numEntries() {
		return false
	}

	oldSize := p.nodeSize(idx)
	if len(nodeData) <= oldSize {
		copy(p.Data[p.entryOffset(idx):], nodeData)
		return true
	}

	if p.freeSpace() < len(nodeData)-oldSize {
		return false
	}
	newUpperInt := int(h.Upper) - len(nodeData)
	if newUpperInt < int(h.Lower) {
		// The contiguous gap is too small; rebuild the data area and retry.
		p.compact()
		newUpperInt = int(h.Upper) - len(nodeData)
		if newUpperInt < int(h.Lower) {
			return false
		}
	}
	newUpper := uint16(newUpperInt)
	h.Upper = newUpper
	copy(p.Data[newUpper+pageHeaderSize:], nodeData)
	binary.LittleEndian.PutUint16(p.Data[pageHeaderSize+idx*2:], newUpper)
	return true
}

// nodeSize returns the stored size of entry idx.
func (p *page) nodeSize(idx int) int {
	off := p.entryOffset(idx)
	flags := nodeFlags(binary.LittleEndian.Uint16(p.Data[off+8:]))
	ksize := int(binary.LittleEndian.Uint16(p.Data[off+10:]))

	size := nodeHeaderSize + ksize
	if p.isBranch() {
		return size
	}
	switch {
	case flags&nodeBig != 0:
		return size + 8
	case flags&(nodeDup|nodeTree) != 0:
		return size + treeSize
	default:
		return size + int(binary.LittleEndian.Uint64(p.Data[off:]))
	}
}

// usedSpace returns the byte total of all stored nodes.
func (p *page) usedSpace() int {
	total := 0
	for i := 0; i < p.numEntries(); i++ {
		total += p.nodeSize(i)
	}
	return total
}

// compact repacks all node data against the end of the page, eliminating
// holes left by removed or relocated entries. Returns the bytes reclaimed.
func (p *page) compact() int {
	h := p.header()
	n := p.numEntries()
	pageSize := uint16(len(p.Data))

	if n == 0 {
		old := h.Upper
		h.Upper = pageSize - pageHeaderSize
		return int(h.Upper - old)
	}

	sizes := make([]uint16, n)
	total := uint16(0)
	for i := 0; i < n; i++ {
		sizes[i] = uint16(p.nodeSize(i))
		total += sizes[i]
	}

	expected := pageSize - pageHeaderSize - total
	if h.Upper == expected {
		return 0
	}

	tmp := make([]byte, total)
	pos := uint16(0)
	for i := 0; i < n; i++ {
		off := p.entryOffset(i)
		copy(tmp[pos:], p.Data[off:off+sizes[i]])
		pos += sizes[i]
	}

	writePos := pageSize
	pos = 0
	for i := 0; i < n; i++ {
		writePos -= sizes[i]
		copy(p.Data[writePos:], tmp[pos:pos+sizes[i]])
		pos += sizes[i]
		binary.LittleEndian.PutUint16(p.Data[pageHeaderSize+i*2:], writePos-pageHeaderSize)
	}

	old := h.Upper
	h.Upper = writePos - pageHeaderSize
	return int(h.Upper - old)
}

// splitPoint picks the index at which to split this page so that both halves
// can hold their share plus the pending insert. Entries [0,idx) stay left,
// [idx,n) move right. Single pass, biased toward an append-friendly split
// when inserting at the end.
func (p *page) splitPoint(newNodeSize int, insertIdx int) int {
	n := p.numEntries()
	if n == 0 {
		return 0
	}

	maxSpace := len(p.Data) - pageHeaderSize
	totalExisting := p.usedSpace()

	// Appending: keep every existing entry in place and start a fresh right
	// page with just the new node.
	if insertIdx >= n {
		if n*2+totalExisting <= maxSpace && 2+newNodeSize <= maxSpace {
			return n
		}
	}

	fits := func(splitIdx int) bool {
		if splitIdx < 0 || splitIdx > n {
			return false
		}
		leftData := 0
		for i := 0; i < splitIdx; i++ {
			leftData += p.nodeSize(i)
		}
		rightData := totalExisting - leftData
		leftEntries, rightEntries := splitIdx, n-splitIdx
		if insertIdx < splitIdx {
			leftEntries++
			leftData += newNodeSize
		} else {
			rightEntries++
			rightData += newNodeSize
		}
		if leftEntries == 0 || rightEntries == 0 {
			return false
		}
		return leftEntries*2+leftData <= maxSpace && rightEntries*2+rightData <= maxSpace
	}

	mid := n / 2
	if mid == 0 {
		mid = 1
	}
	if fits(mid) {
		return mid
	}
	for delta := 1; delta <= n; delta++ {
		if insertIdx < mid {
			if fits(mid - delta) {
				return mid - delta
			}
			if fits(mid + delta) {
				return mid + delta
			}
		} else {
			if fits(mid + delta) {
				return mid + delta
			}
			if fits(mid - delta) {
				return mid - delta
			}
		}
	}
	return mid
}
