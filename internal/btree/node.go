// Package btree implements a disk-backed B+ tree keyed by an arbitrary
// byte-slice ordering, used for every index tinydoc maintains (the
// automatic primary "_id" index and every declared secondary index).
//
// It generalizes the slotted-page node layout a raw key-value store would
// use in two ways a document database's indexes require: (1) ordering is
// driven by a pluggable Comparator rather than raw bytes.Compare, because
// index keys sort by the tagged-value total order, not lexicographically;
// (2) it is a multimap — Insert never overwrites an existing entry whose
// key compares equal, so a non-unique index can hold many document keys
// under one indexed value.
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Node layout
// ───────────────────────────────────────────────────────────────────────────
//
// Both leaf and internal nodes are pager.PageTypeIndexNode pages, built on
// the common 32-byte PageHeader (whose ItemCount field holds the node's
// entry count, and whose PrevID/NextID fields are reused as leaf sibling
// links — the same two fields the free list reuses for its own chaining,
// per pager.PageHeader's documented dual purpose).
//
// Node-local metadata immediately follows the header:
//
//	[32:33]  IsLeaf      (uint8 — 1 leaf, 0 internal)
//	[33:37]  RightChild  (uint32 LE — internal only: the child right of the
//	                       last separator; unused/zero on a leaf)
//	[37:39]  SlotCount   (uint16 LE)
//	[39:41]  FreeSpaceEnd (uint16 LE)
//	[41:...] Slot directory: SlotCount * {Offset uint16, Length uint16}
//
// Internal record (per slot):
//
//	[0:4]  ChildID (uint32 LE) — left child for this separator key
//	[4:6]  KeyLen  (uint16 LE)
//	[6:.]  Key
//
// Leaf record (per slot):
//
//	[0:1]  Flags     (uint8 — bit 0: key stored via overflow chain)
//	if overflow:
//	  [1:5]  KeyOverflowPageID (uint32 LE)
//	  [5:9]  KeyTotalSize      (uint32 LE)
//	else:
//	  [1:3]  KeyLen (uint16 LE)
//	  [3:.]  Key
//	[.:.+2] ValLen (uint16 LE)
//	[.:.]   Value — always stored inline; index values (document keys) are
//	                small and fixed-shape, so they never need overflow.

const (
	metaOff        = pager.PageHeaderSize // 32
	isLeafOff      = metaOff              // 32, 1 byte
	rightChildOff  = metaOff + 1          // 33, 4 bytes
	slotCountOff   = metaOff + 5          // 37, 2 bytes
	freeSpaceEndOf = metaOff + 7          // 39, 2 bytes
	slotDirOff     = metaOff + 9          // 41

	slotEntrySize = 4

	leafFlagOverflow uint8 = 1 << 0
)

// Node wraps a page buffer as a B+ tree node.
type Node struct {
	buf      []byte
	pageSize int
}

// WrapNode wraps an existing node buffer.
func WrapNode(buf []byte) *Node { return &Node{buf: buf, pageSize: len(buf)} }

// InitNode initializes buf as a fresh, empty node.
func InitNode(buf []byte, id pager.PageID, leaf bool) *Node {
	h := &pager.PageHeader{Type: pager.PageTypeIndexNode, ID: id, PrevID: pager.InvalidPageID, NextID: pager.InvalidPageID}
	pager.MarshalHeader(h, buf)
	if leaf {
		buf[isLeafOff] = 1
	} else {
		buf[isLeafOff] = 0
	}
	binary.LittleEndian.PutUint32(buf[rightChildOff:], uint32(pager.InvalidPageID))
	binary.LittleEndian.PutUint16(buf[slotCountOff:], 0)
	binary.LittleEndian.PutUint16(buf[freeSpaceEndOf:], uint16(len(buf)))
	return &Node{buf: buf, pageSize: len(buf)}
}

func (n *Node) IsLeaf() bool { return n.buf[isLeafOff] == 1 }

func (n *Node) PageID() pager.PageID {
	h := pager.UnmarshalHeader(n.buf)
	return h.ID
}

func (n *Node) EntryCount() int {
	return int(binary.LittleEndian.Uint16(n.buf[slotCountOff:]))
}

func (n *Node) RightChild() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(n.buf[rightChildOff:]))
}

func (n *Node) SetRightChild(pid pager.PageID) {
	binary.LittleEndian.PutUint32(n.buf[rightChildOff:], uint32(pid))
}

func (n *Node) NextLeaf() pager.PageID {
	h := pager.UnmarshalHeader(n.buf)
	return h.NextID
}

func (n *Node) SetNextLeaf(pid pager.PageID) {
	h := pager.UnmarshalHeader(n.buf)
	h.NextID = pid
	pager.MarshalHeader(&h, n.buf)
}

func (n *Node) PrevLeaf() pager.PageID {
	h := pager.UnmarshalHeader(n.buf)
	return h.PrevID
}

func (n *Node) SetPrevLeaf(pid pager.PageID) {
	h := pager.UnmarshalHeader(n.buf)
	h.PrevID = pid
	pager.MarshalHeader(&h, n.buf)
}

func (n *Node) Bytes() []byte { return n.buf }

func (n *Node) Finalize() {
	h := pager.UnmarshalHeader(n.buf)
	h.ItemCount = uint16(n.EntryCount())
	pager.MarshalHeader(&h, n.buf)
	pager.SetPageChecksum(n.buf)
}

// ── slot directory ─────────────────────────────────────────────────────────

type slotEntry struct {
	Offset uint16
	Length uint16
}

func (n *Node) slotCount() int { return n.EntryCount() }

func (n *Node) setSlotCount(c int) {
	binary.LittleEndian.PutUint16(n.buf[slotCountOff:], uint16(c))
}

func (n *Node) freeSpaceEnd() int {
	return int(binary.LittleEndian.Uint16(n.buf[freeSpaceEndOf:]))
}

func (n *Node) setFreeSpaceEnd(off int) {
	binary.LittleEndian.PutUint16(n.buf[freeSpaceEndOf:], uint16(off))
}

func (n *Node) slotDirEnd() int { return slotDirOff + n.slotCount()*slotEntrySize }

func (n *Node) freeSpace() int { return n.freeSpaceEnd() - n.slotDirEnd() - slotEntrySize }

// UsedBytes reports how much of the node's capacity holds live records;
// used by the tree to decide whether a node is underfull after a delete.
func (n *Node) UsedBytes() int { return n.pageSize - n.freeSpace() - slotDirOff }

func (n *Node) getSlot(i int) slotEntry {
	off := slotDirOff + i*slotEntrySize
	return slotEntry{
		Offset: binary.LittleEndian.Uint16(n.buf[off:]),
		Length: binary.LittleEndian.Uint16(n.buf[off+2:]),
	}
}

func (n *Node) setSlot(i int, e slotEntry) {
	off := slotDirOff + i*slotEntrySize
	binary.LittleEndian.PutUint16(n.buf[off:], e.Offset)
	binary.LittleEndian.PutUint16(n.buf[off+2:], e.Length)
}

func (n *Node) getRecord(i int) []byte {
	e := n.getSlot(i)
	return n.buf[e.Offset : e.Offset+e.Length]
}

func (n *Node) insertRecordAt(pos int, data []byte) error {
	if n.freeSpace() < len(data) {
		return fmt.Errorf("btree: node full: need %d, have %d", len(data), n.freeSpace())
	}
	newEnd := n.freeSpaceEnd() - len(data)
	copy(n.buf[newEnd:], data)
	n.setFreeSpaceEnd(newEnd)

	sc := n.slotCount()
	n.setSlotCount(sc + 1)
	for i := sc; i > pos; i-- {
		n.setSlot(i, n.getSlot(i-1))
	}
	n.setSlot(pos, slotEntry{Offset: uint16(newEnd), Length: uint16(len(data))})
	return nil
}

func (n *Node) deleteRecordAt(pos int) {
	sc := n.slotCount()
	for i := pos; i < sc-1; i++ {
		n.setSlot(i, n.getSlot(i+1))
	}
	n.setSlot(sc-1, slotEntry{})
	n.setSlotCount(sc - 1)
}

// ── internal entries ────────────────────────────────────────────────────────

// InternalEntry is a separator key plus the child left of it.
type InternalEntry struct {
	ChildID pager.PageID
	Key     []byte
}

func marshalInternal(e InternalEntry) []byte {
	rec := make([]byte, 4+2+len(e.Key))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(e.ChildID))
	binary.LittleEndian.PutUint16(rec[4:6], uint16(len(e.Key)))
	copy(rec[6:], e.Key)
	return rec
}

func unmarshalInternal(rec []byte) InternalEntry {
	child := pager.PageID(binary.LittleEndian.Uint32(rec[0:4]))
	kl := int(binary.LittleEndian.Uint16(rec[4:6]))
	key := append([]byte(nil), rec[6:6+kl]...)
	return InternalEntry{ChildID: child, Key: key}
}

func (n *Node) GetInternal(i int) InternalEntry { return unmarshalInternal(n.getRecord(i)) }

func (n *Node) AllInternal() []InternalEntry {
	sc := n.slotCount()
	out := make([]InternalEntry, sc)
	for i := 0; i < sc; i++ {
		out[i] = n.GetInternal(i)
	}
	return out
}

// insertInternalAt inserts a separator at a caller-determined sorted slot.
func (n *Node) insertInternalAt(pos int, e InternalEntry) error {
	if err := n.insertRecordAt(pos, marshalInternal(e)); err != nil {
		return err
	}
	return nil
}

// replaceInternalAt overwrites the entry at pos in place (same key, new
// child), used when propagating a sibling's child pointer after a merge.
func (n *Node) replaceInternalAt(pos int, e InternalEntry) {
	rec := marshalInternal(e)
	old := n.getSlot(pos)
	if int(old.Length) == len(rec) {
		copy(n.buf[old.Offset:], rec)
		return
	}
	n.deleteRecordAt(pos)
	_ = n.insertInternalAt(pos, e)
}

// ── leaf entries ─────────────────────────────────────────────────────────────

// LeafEntry is a stored key-value pair. Key may be indirect (overflow).
type LeafEntry struct {
	Key            []byte // nil when KeyOverflow is true; use (*Tree).resolveKey
	Value          []byte
	KeyOverflow    bool
	KeyOverflowID  pager.PageID
	KeyTotalSize   uint32
}

func marshalLeaf(e LeafEntry) []byte {
	if e.KeyOverflow {
		rec := make([]byte, 1+4+4+2+len(e.Value))
		rec[0] = leafFlagOverflow
		binary.LittleEndian.PutUint32(rec[1:5], uint32(e.KeyOverflowID))
		binary.LittleEndian.PutUint32(rec[5:9], e.KeyTotalSize)
		binary.LittleEndian.PutUint16(rec[9:11], uint16(len(e.Value)))
		copy(rec[11:], e.Value)
		return rec
	}
	rec := make([]byte, 1+2+len(e.Key)+2+len(e.Value))
	rec[0] = 0
	binary.LittleEndian.PutUint16(rec[1:3], uint16(len(e.Key)))
	off := 3 + len(e.Key)
	copy(rec[3:off], e.Key)
	binary.LittleEndian.PutUint16(rec[off:off+2], uint16(len(e.Value)))
	copy(rec[off+2:], e.Value)
	return rec
}

func unmarshalLeaf(rec []byte) LeafEntry {
	flags := rec[0]
	if flags&leafFlagOverflow != 0 {
		opid := pager.PageID(binary.LittleEndian.Uint32(rec[1:5]))
		ts := binary.LittleEndian.Uint32(rec[5:9])
		vl := int(binary.LittleEndian.Uint16(rec[9:11]))
		val := append([]byte(nil), rec[11:11+vl]...)
		return LeafEntry{KeyOverflow: true, KeyOverflowID: opid, KeyTotalSize: ts, Value: val}
	}
	kl := int(binary.LittleEndian.Uint16(rec[1:3]))
	key := append([]byte(nil), rec[3:3+kl]...)
	off := 3 + kl
	vl := int(binary.LittleEndian.Uint16(rec[off : off+2]))
	val := append([]byte(nil), rec[off+2:off+2+vl]...)
	return LeafEntry{Key: key, Value: val}
}

func (n *Node) GetLeaf(i int) LeafEntry { return unmarshalLeaf(n.getRecord(i)) }

func (n *Node) AllLeaf() []LeafEntry {
	sc := n.slotCount()
	out := make([]LeafEntry, sc)
	for i := 0; i < sc; i++ {
		out[i] = n.GetLeaf(i)
	}
	return out
}

func (n *Node) insertLeafAt(pos int, e LeafEntry) error {
	return n.insertRecordAt(pos, marshalLeaf(e))
}
