// Package pager implements tinydoc's fixed-size paged file and buffer
// pool: the layer every other on-disk structure (B+ tree nodes, collection
// metadata, document heap pages) is built on top of.
//
// The storage format is a single file of fixed-size pages (default 8 KiB).
// Page 0 is the file header; every other page carries a 32-byte header
// (type, item count, sibling links, checksum, dirty flag) followed by a
// type-specific body. Every page's checksum is verified on read and
// recomputed on write; callers above this package never see a corrupt page
// silently.
package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultPageSize is the default page size in bytes (8 KiB, spec §3.4).
	DefaultPageSize = 8192

	// MinPageSize is the minimum allowed page size.
	MinPageSize = 4096

	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 65536

	// PageHeaderSize is the size of the common page header in bytes.
	// Layout (spec §6.1's literal field order and widths):
	//   [0:4]   ID         (uint32 LE)
	//   [4]     Type       (1 byte)
	//   [5:7]   ItemCount  (uint16 LE)
	//   [7]     Reserved   (1 byte)
	//   [8:12]  PrevID     (uint32 LE) — sibling link, 0 = none
	//   [12:16] NextID     (uint32 LE) — sibling link, 0 = none
	//   [16:20] DataLen    (uint32 LE) — bytes in use in the data region
	//   [20:24] Checksum   (uint32 LE, xxhash of the data region)
	//   [24:28] Flags      (uint32 LE, bit 0 = dirty)
	//   [28:32] Reserved   (4 bytes)
	PageHeaderSize = 32

	// InvalidPageID represents a null/invalid page pointer.
	InvalidPageID PageID = 0

	// OverflowThreshold is the inline-value size above which a record
	// spills into an overflow page chain (spec §3.4/§4.G): one eighth of a
	// default-size (8 KiB) page.
	OverflowThreshold = 1024

	flagDirty uint8 = 1 << 0
)

// PageType identifies the kind of data stored in a page (spec §3.4).
type PageType uint8

const (
	PageTypeFree           PageType = 0x00
	PageTypeHeader         PageType = 0x01
	PageTypeCollectionMeta PageType = 0x02
	PageTypeIndexNode      PageType = 0x03
	PageTypeData           PageType = 0x04
	PageTypeOverflow       PageType = 0x05
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeFree:
		return "Free"
	case PageTypeHeader:
		return "Header"
	case PageTypeCollectionMeta:
		return "CollectionMeta"
	case PageTypeIndexNode:
		return "IndexNode"
	case PageTypeData:
		return "Data"
	case PageTypeOverflow:
		return "Overflow"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// PageID is a 32-bit page identifier. Page 0 is always the file header.
type PageID uint32

// PageHeader is the 32-byte header present at the start of every page.
type PageHeader struct {
	ID        PageID
	Type      PageType
	ItemCount uint16
	PrevID    PageID // sibling link (e.g. leaf chaining, free-list chaining)
	NextID    PageID // sibling link
	DataLen   uint32 // bytes in use in the data region; 0 if the page type doesn't track one
	Checksum  uint32
	Dirty     bool
}

// MarshalHeader writes h into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("pager: buffer too small for PageHeader")
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.ID))
	buf[4] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[5:7], h.ItemCount)
	buf[7] = 0
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.PrevID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.NextID))
	binary.LittleEndian.PutUint32(buf[16:20], h.DataLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.Checksum)
	var flags uint32
	if h.Dirty {
		flags |= uint32(flagDirty)
	}
	binary.LittleEndian.PutUint32(buf[24:28], flags)
	binary.LittleEndian.PutUint32(buf[28:32], 0)
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of
// buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.ID = PageID(binary.LittleEndian.Uint32(buf[0:4]))
	h.Type = PageType(buf[4])
	h.ItemCount = binary.LittleEndian.Uint16(buf[5:7])
	h.PrevID = PageID(binary.LittleEndian.Uint32(buf[8:12]))
	h.NextID = PageID(binary.LittleEndian.Uint32(buf[12:16]))
	h.DataLen = binary.LittleEndian.Uint32(buf[16:20])
	h.Checksum = binary.LittleEndian.Uint32(buf[20:24])
	flags := binary.LittleEndian.Uint32(buf[24:28])
	h.Dirty = flags&uint32(flagDirty) != 0
	return h
}

// SetHeaderDataLen rewrites only the DataLen field of an already-marshaled
// page, without disturbing anything else (used by page types, such as
// overflow pages, whose body length is decided after the rest of the
// header is written).
func SetHeaderDataLen(buf []byte, n uint32) {
	binary.LittleEndian.PutUint32(buf[16:20], n)
}

// HeaderDataLen reads back the DataLen field set by SetHeaderDataLen.
func HeaderDataLen(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf[16:20])
}

// ComputePageChecksum hashes only a page's data region (the bytes from
// PageHeaderSize onward), matching the spec's "32-bit hash of its data
// region" rather than the whole page. xxhash in place of the teacher's
// CRC32 — one hash algorithm shared with internal/value.Hash across the
// engine. cespare/xxhash/v2 only exposes a 64-bit digest; the low 32 bits
// of it are kept as the stored checksum rather than pulling in a separate
// 32-bit hash implementation for this one field.
func ComputePageChecksum(page []byte) uint32 {
	return uint32(xxhash.Sum64(page[PageHeaderSize:]))
}

// SetPageChecksum computes and writes the checksum into the page header.
func SetPageChecksum(page []byte) {
	c := ComputePageChecksum(page)
	binary.LittleEndian.PutUint32(page[20:24], c)
}

// VerifyPageChecksum checks a page's stored checksum against its contents.
func VerifyPageChecksum(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[20:24])
	computed := ComputePageChecksum(page)
	if stored != computed {
		pid := PageID(binary.LittleEndian.Uint32(page[0:4]))
		return fmt.Errorf("%w: page %d checksum mismatch (stored=%x computed=%x)", ErrCorruptPage, pid, stored, computed)
	}
	return nil
}

// NewPage allocates a zeroed page buffer of the given size and writes its
// header.
func NewPage(pageSize int, pt PageType, id PageID) []byte {
	buf := make([]byte, pageSize)
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	return buf
}
