package docstore

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// dataPage is a slotted PageTypeData page: a common 32-byte pager.PageHeader
// (whose NextID field is repurposed as the next-page link in the
// collection's heap chain, the same trick internal/btree plays with
// PrevID/NextID for leaf sibling links), followed by a slot-count/
// free-space-end pair and a slot directory, with record bytes filling in
// from the end of the page backward.
//
// Layout (spec §3.4 DATA page):
//
//	[0:32]   common PageHeader
//	[32:34]  SlotCount  (uint16)
//	[34:36]  FreeSpaceEnd (uint16)
//	[36:36+4*SlotCount]  slot directory, 4 bytes per slot: Offset, Length
//	...free space...
//	[FreeSpaceEnd:pageSize]  record bytes, growing downward
//
// A slot with Offset==0 and Length==0 is a tombstone left by a delete or
// an update that outgrew its old bytes. Record bytes are opaque here —
// the flag/overflow framing that distinguishes an inline document from
// an overflow-chain pointer is store.go's concern, not this page's.
type dataPage struct {
	buf      []byte
	pageSize int
}

const (
	dataHeaderOff  = pager.PageHeaderSize // 32
	dataMetaSize   = 4                    // SlotCount + FreeSpaceEnd, uint16 each
	dataSlotDirOff = dataHeaderOff + dataMetaSize
	dataSlotSize   = 4
)

type dataSlot struct {
	Offset uint16
	Length uint16
}

// wrapDataPage wraps an existing page buffer believed to already hold a
// dataPage layout.
func wrapDataPage(buf []byte) *dataPage { return &dataPage{buf: buf, pageSize: len(buf)} }

// initDataPage formats buf as a fresh, empty dataPage.
func initDataPage(buf []byte, id pager.PageID) *dataPage {
	h := &pager.PageHeader{Type: pager.PageTypeData, ID: id, PrevID: pager.InvalidPageID, NextID: pager.InvalidPageID}
	pager.MarshalHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[dataHeaderOff:], 0)
	binary.LittleEndian.PutUint16(buf[dataHeaderOff+2:], uint16(len(buf)))
	return wrapDataPage(buf)
}

func (dp *dataPage) slotCount() int {
	return int(binary.LittleEndian.Uint16(dp.buf[dataHeaderOff:]))
}

func (dp *dataPage) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(dp.buf[dataHeaderOff:], uint16(n))
}

func (dp *dataPage) freeSpaceEnd() int {
	return int(binary.LittleEndian.Uint16(dp.buf[dataHeaderOff+2:]))
}

func (dp *dataPage) setFreeSpaceEnd(off int) {
	binary.LittleEndian.PutUint16(dp.buf[dataHeaderOff+2:], uint16(off))
}

func (dp *dataPage) slotDirEnd() int {
	return dataSlotDirOff + dp.slotCount()*dataSlotSize
}

// freeSpace is the room available for one more record plus its slot
// entry.
func (dp *dataPage) freeSpace() int {
	return dp.freeSpaceEnd() - dp.slotDirEnd() - dataSlotSize
}

func (dp *dataPage) getSlot(i int) dataSlot {
	off := dataSlotDirOff + i*dataSlotSize
	return dataSlot{
		Offset: binary.LittleEndian.Uint16(dp.buf[off:]),
		Length: binary.LittleEndian.Uint16(dp.buf[off+2:]),
	}
}

func (dp *dataPage) setSlot(i int, s dataSlot) {
	off := dataSlotDirOff + i*dataSlotSize
	binary.LittleEndian.PutUint16(dp.buf[off:], s.Offset)
	binary.LittleEndian.PutUint16(dp.buf[off+2:], s.Length)
}

// isDeleted reports whether slot i is a tombstone.
func (dp *dataPage) isDeleted(i int) bool {
	s := dp.getSlot(i)
	return s.Offset == 0 && s.Length == 0
}

// slotCountTotal is the number of directory entries, including
// tombstones — callers iterate [0, slotCountTotal) and skip tombstones.
func (dp *dataPage) slotCountTotal() int { return dp.slotCount() }

// getRecord returns the raw bytes at slot i, or nil if the slot is a
// tombstone or out of range.
func (dp *dataPage) getRecord(i int) []byte {
	if i < 0 || i >= dp.slotCount() {
		return nil
	}
	s := dp.getSlot(i)
	if s.Offset == 0 && s.Length == 0 {
		return nil
	}
	return dp.buf[s.Offset : s.Offset+s.Length]
}

// insertRecord appends data as a new slot, reusing a tombstoned slot
// index if one is free, and returns the slot index.
func (dp *dataPage) insertRecord(data []byte) (int, error) {
	needed := len(data)
	if dp.freeSpace() < needed {
		return -1, fmt.Errorf("docstore: page full: need %d bytes, have %d", needed, dp.freeSpace())
	}
	newEnd := dp.freeSpaceEnd() - needed
	copy(dp.buf[newEnd:], data)
	dp.setFreeSpaceEnd(newEnd)

	sc := dp.slotCount()
	for i := 0; i < sc; i++ {
		if dp.isDeleted(i) {
			dp.setSlot(i, dataSlot{Offset: uint16(newEnd), Length: uint16(needed)})
			return i, nil
		}
	}
	dp.setSlot(sc, dataSlot{Offset: uint16(newEnd), Length: uint16(needed)})
	dp.setSlotCount(sc + 1)
	return sc, nil
}

// deleteRecord tombstones slot i.
func (dp *dataPage) deleteRecord(i int) error {
	if i < 0 || i >= dp.slotCount() {
		return fmt.Errorf("docstore: slot %d out of range [0,%d)", i, dp.slotCount())
	}
	dp.setSlot(i, dataSlot{})
	return nil
}

// updateRecord replaces slot i's bytes in place if they fit in the old
// slot's length, otherwise tombstones it and appends the new bytes
// elsewhere in the SAME page — the slot index i is reused either way, so
// the record's Locator never changes as long as this page has room
// somewhere for it (spec §3.5: "updated in place if the new encoded
// size fits the original slot, otherwise reallocated").
func (dp *dataPage) updateRecord(i int, data []byte) error {
	if i < 0 || i >= dp.slotCount() {
		return fmt.Errorf("docstore: slot %d out of range [0,%d)", i, dp.slotCount())
	}
	old := dp.getSlot(i)
	if int(old.Length) >= len(data) {
		copy(dp.buf[old.Offset:], data)
		for j := int(old.Offset) + len(data); j < int(old.Offset)+int(old.Length); j++ {
			dp.buf[j] = 0
		}
		dp.setSlot(i, dataSlot{Offset: old.Offset, Length: uint16(len(data))})
		return nil
	}

	dp.setSlot(i, dataSlot{})
	needed := len(data)
	if dp.freeSpace()+dataSlotSize < needed { // freeSpace already reserved one slot entry
		return fmt.Errorf("docstore: page full on update: need %d bytes", needed)
	}
	newEnd := dp.freeSpaceEnd() - needed
	copy(dp.buf[newEnd:], data)
	dp.setFreeSpaceEnd(newEnd)
	dp.setSlot(i, dataSlot{Offset: uint16(newEnd), Length: uint16(needed)})
	return nil
}

func (dp *dataPage) nextPage() pager.PageID {
	h := pager.UnmarshalHeader(dp.buf)
	return h.NextID
}

func (dp *dataPage) setNextPage(id pager.PageID) {
	h := pager.UnmarshalHeader(dp.buf)
	h.NextID = id
	pager.MarshalHeader(&h, dp.buf)
}

// finalize syncs the live-record count into the header's ItemCount field
// and recomputes the page checksum; callers must call this before
// writing a mutated buffer back through the pager.
func (dp *dataPage) finalize() {
	h := pager.UnmarshalHeader(dp.buf)
	live := 0
	for i := 0; i < dp.slotCount(); i++ {
		if !dp.isDeleted(i) {
			live++
		}
	}
	h.ItemCount = uint16(live)
	pager.MarshalHeader(&h, dp.buf)
	pager.SetPageChecksum(dp.buf)
}
