package wisent

import "encoding/binary"

// nodeHeaderSize is the fixed node header size (12 bytes).
const nodeHeaderSize = 12

// nodeFlags describe how a leaf node stores its value.
type nodeFlags uint16

const (
	// nodeBig: the value lives on an overflow page run. The ref field holds
	// the first overflow pgno; the payload is key + 8-byte value length.
	nodeBig nodeFlags = 0x01

	// nodeDup: the key has multiple values stored in a duplicate sub-tree.
	// The payload is key + serialized tree metadata.
	nodeDup nodeFlags = 0x02

	// nodeTree: the value is a named sub-database. The payload is key +
	// serialized tree metadata.
	nodeTree nodeFlags = 0x04
)

// Node layout (little-endian):
//
//	Offset  Size  Field
//	0       8     ref: branch -> child pgno; big leaf -> overflow pgno;
//	              inline leaf -> value length
//	8       2     flags
//	10      2     ksize
//	12      ...   key, then value / value length / tree metadata
//
// Branch nodes carry no payload beyond the key.

// nodeRef returns the 8-byte ref field of entry idx.
func nodeRef(p *page, idx int) uint64 {
	off := p.entryOffset(idx)
	return binary.LittleEndian.Uint64(p.Data[off:])
}

// nodeGetFlags returns the node flags of entry idx.
func nodeGetFlags(p *page, idx int) nodeFlags {
	off := p.entryOffset(idx)
	return nodeFlags(binary.LittleEndian.Uint16(p.Data[off+8:]))
}

// nodeGetKey returns the key of entry idx. The slice aliases page memory and
// is capped so appends cannot scribble on neighboring node data.
func nodeGetKey(p *page, idx int) []byte {
	off := p.entryOffset(idx)
	ksize := binary.LittleEndian.Uint16(p.Data[off+10:])
	end := off + nodeHeaderSize + ksize
	return p.Data[off+nodeHeaderSize : end : end]
}

// nodeGetValue returns the inline value of entry idx. Only valid for leaf
// entries without nodeBig/nodeDup/nodeTree flags.
func nodeGetValue(p *page, idx int) []byte {
	off := p.entryOffset(idx)
	vsize := binary.LittleEndian.Uint64(p.Data[off:])
	ksize := binary.LittleEndian.Uint16(p.Data[off+10:])
	start := int(off) + nodeHeaderSize + int(ksize)
	end := start + int(vsize)
	return p.Data[start:end:end]
}

// nodeGetChildPgno returns the child page number of branch entry idx.
func nodeGetChildPgno(p *page, idx int) pgno {
	return pgno(nodeRef(p, idx))
}

// nodeSetChildPgno rewrites the child pointer of branch entry idx in place.
func nodeSetChildPgno(p *page, idx int, pn pgno) {
	off := p.entryOffset(idx)
	binary.LittleEndian.PutUint64(p.Data[off:], uint64(pn))
}

// nodeGetOverflow returns the overflow run start and total value length of a
// nodeBig entry.
func nodeGetOverflow(p *page, idx int) (pgno, uint64) {
	off := p.entryOffset(idx)
	ksize := binary.LittleEndian.Uint16(p.Data[off+10:])
	start := pgno(binary.LittleEndian.Uint64(p.Data[off:]))
	vlen := binary.LittleEndian.Uint64(p.Data[int(off)+nodeHeaderSize+int(ksize):])
	return start, vlen
}

// nodeGetTree decodes the tree metadata payload of a nodeDup or nodeTree
// entry.
func nodeGetTree(p *page, idx int) tree {
	off := p.entryOffset(idx)
	ksize := binary.LittleEndian.Uint16(p.Data[off+10:])
	start := int(off) + nodeHeaderSize + int(ksize)
	return decodeTree(p.Data[start : start+treeSize])
}

// nodeSetTree rewrites the tree metadata payload of entry idx in place.
// The encoded size is fixed, so this never moves the node.
func nodeSetTree(p *page, idx int, t *tree) {
	off := p.entryOffset(idx)
	ksize := binary.LittleEndian.Uint16(p.Data[off+10:])
	start := int(off) + nodeHeaderSize + int(ksize)
	encodeTree(p.Data[start:start+treeSize], t)
}

// encodeBranchNode serializes a branch node into buf and returns it.
func encodeBranchNode(buf []byte, key []byte, child pgno) []byte {
	n := nodeHeaderSize + len(key)
	buf = buf[:n]
	binary.LittleEndian.PutUint64(buf[0:], uint64(child))
	binary.LittleEndian.PutUint16(buf[8:], 0)
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(key)))
	copy(buf[nodeHeaderSize:], key)
	return buf
}

// encodeLeafNode serializes an inline leaf node into buf and returns it.
func encodeLeafNode(buf []byte, key, value []byte) []byte {
	n := nodeHeaderSize + len(key) + len(value)
	buf = buf[:n]
	binary.LittleEndian.PutUint64(buf[0:], uint64(len(value)))
	binary.LittleEndian.PutUint16(buf[8:], 0)
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(key)))
	copy(buf[nodeHeaderSize:], key)
	copy(buf[nodeHeaderSize+len(key):], value)
	return buf
}

// encodeBigNode serializes an overflow-value leaf node into buf.
func encodeBigNode(buf []byte, key []byte, overflow pgno, vlen uint64) []byte {
	n := nodeHeaderSize + len(key) + 8
	buf = buf[:n]
	binary.LittleEndian.PutUint64(buf[0:], uint64(overflow))
	binary.LittleEndian.PutUint16(buf[8:], uint16(nodeBig))
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(key)))
	copy(buf[nodeHeaderSize:], key)
	binary.LittleEndian.PutUint64(buf[nodeHeaderSize+len(key):], vlen)
	return buf
}

// encodeTreeNode serializes a leaf node whose payload is tree metadata,
// flagged either nodeDup (duplicate sub-tree) or nodeTree (named database).
func encodeTreeNode(buf []byte, key []byte, t *tree, flags nodeFlags) []byte {
	n := nodeHeaderSize + len(key) + treeSize
	buf = buf[:n]
	binary.LittleEndian.PutUint64(buf[0:], 0)
	binary.LittleEndian.PutUint16(buf[8:], uint16(flags))
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(key)))
	copy(buf[nodeHeaderSize:], key)
	encodeTree(buf[nodeHeaderSize+len(key):], t)
	return buf
}

// leafNodeSize returns the encoded size of an inline leaf node.
func leafNodeSize(keyLen, valueLen int) int {
	return nodeHeaderSize + keyLen + valueLen
}

// branchNodeSize returns the encoded size of a branch node.
func branchNodeSize(keyLen int) int {
	return nodeHeaderSize + keyLen
}

// bigNodeSize returns the encoded size of an overflow-value leaf node.
func bigNodeSize(keyLen int) int {
	return nodeHeaderSize + keyLen + 8
}

// treeNodeSize returns the encoded size of a nodeDup/nodeTree leaf node.
func treeNodeSize(keyLen int) int {
	return nodeHeaderSize + keyLen + treeSize
}
