package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Overflow pages
// ───────────────────────────────────────────────────────────────────────────
//
// Overflow pages hold document/index-key payloads that exceed
// OverflowThreshold (spec §3.4/§4.G), chained via the common header's
// NextID field. The payload length is the common header's own DataLen
// field rather than a page-type-specific one.
//
//	[0:32]   Common PageHeader (Type=Overflow, DataLen=payload bytes)
//	[32:...] Payload data

const overflowDataOff = PageHeaderSize // 32

// OverflowCapacity returns the payload capacity of a single overflow page.
func OverflowCapacity(pageSize int) int {
	return pageSize - overflowDataOff
}

// OverflowPage wraps a page buffer as an overflow page.
type OverflowPage struct {
	buf      []byte
	pageSize int
}

// WrapOverflowPage wraps an existing overflow page buffer.
func WrapOverflowPage(buf []byte) *OverflowPage {
	return &OverflowPage{buf: buf, pageSize: len(buf)}
}

// InitOverflowPage creates a new overflow page.
func InitOverflowPage(buf []byte, id PageID) *OverflowPage {
	h := &PageHeader{Type: PageTypeOverflow, ID: id}
	MarshalHeader(h, buf)
	return &OverflowPage{buf: buf, pageSize: len(buf)}
}

// NextOverflow returns the next overflow page in the chain.
func (op *OverflowPage) NextOverflow() PageID {
	h := UnmarshalHeader(op.buf)
	return h.NextID
}

// SetNextOverflow sets the next-page pointer.
func (op *OverflowPage) SetNextOverflow(pid PageID) {
	binary.LittleEndian.PutUint32(op.buf[12:16], uint32(pid))
}

// DataLen returns the number of payload bytes stored.
func (op *OverflowPage) DataLen() int {
	return int(HeaderDataLen(op.buf))
}

// SetData writes payload into the overflow page, failing if it exceeds
// capacity.
func (op *OverflowPage) SetData(data []byte) error {
	capacity := OverflowCapacity(op.pageSize)
	if len(data) > capacity {
		return fmt.Errorf("pager: overflow payload %d bytes exceeds capacity %d", len(data), capacity)
	}
	SetHeaderDataLen(op.buf, uint32(len(data)))
	copy(op.buf[overflowDataOff:], data)
	return nil
}

// Data returns the payload bytes stored in this page.
func (op *OverflowPage) Data() []byte {
	dl := op.DataLen()
	return op.buf[overflowDataOff : overflowDataOff+dl]
}

// Bytes returns the underlying page buffer.
func (op *OverflowPage) Bytes() []byte { return op.buf }

// WriteOverflowChain splits data across as many overflow pages as needed,
// chaining them via NextID, and returns the head page ID. alloc must
// return a fresh zeroed page buffer and its ID each call.
func WriteOverflowChain(data []byte, pageSize int, alloc func() (PageID, []byte), writeBack func(PageID, []byte) error) (PageID, error) {
	capacity := OverflowCapacity(pageSize)
	if capacity <= 0 {
		return InvalidPageID, fmt.Errorf("pager: page size %d leaves no overflow capacity", pageSize)
	}

	var head PageID
	var prevID PageID
	var prevBuf []byte

	for off := 0; off < len(data); off += capacity {
		end := off + capacity
		if end > len(data) {
			end = len(data)
		}
		id, buf := alloc()
		op := InitOverflowPage(buf, id)
		if err := op.SetData(data[off:end]); err != nil {
			return InvalidPageID, err
		}
		SetPageChecksum(buf)
		if off == 0 {
			head = id
		} else {
			binary.LittleEndian.PutUint32(prevBuf[12:16], uint32(id))
			SetPageChecksum(prevBuf)
			if err := writeBack(prevID, prevBuf); err != nil {
				return InvalidPageID, err
			}
		}
		prevID, prevBuf = id, buf
	}
	if prevBuf != nil {
		if err := writeBack(prevID, prevBuf); err != nil {
			return InvalidPageID, err
		}
	}
	return head, nil
}

// ReadOverflowChain reassembles the full payload starting at head.
func ReadOverflowChain(head PageID, readPage func(PageID) ([]byte, error)) ([]byte, error) {
	var out []byte
	id := head
	for id != InvalidPageID {
		buf, err := readPage(id)
		if err != nil {
			return nil, err
		}
		op := WrapOverflowPage(buf)
		out = append(out, op.Data()...)
		id = op.NextOverflow()
	}
	return out, nil
}
