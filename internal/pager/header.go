package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// File header – page 0
// ───────────────────────────────────────────────────────────────────────────
//
// Page 0 has no common PageHeader — it is its own fixed layout (spec
// §6.1), leading with the magic at offset 0 so the first 8 bytes of the
// file identify it:
//
//	Offset  Size  Field
//	0       8     Magic            [8]byte "TINYDB\x00\x00"
//	8       4     FormatVersion    uint32 LE
//	12      4     PageSize         uint32 LE
//	16      4     CatalogRoot      uint32 LE (PageID of collection-catalog page chain head)
//	20      4     FreeListRoot     uint32 LE (PageID of free-list head)
//	24      8     PageCount        uint64 LE (total pages in file)
//	32      4     NextPageID       uint32 LE
//	36      ...   Reserved (zero-filled)

const (
	// FileMagic identifies a valid tinydoc database file.
	FileMagic = "TINYDB\x00\x00"

	// CurrentFormatVersion is the on-disk format version.
	CurrentFormatVersion uint32 = 1

	hdrMagicOff      = 0
	hdrFormatOff     = hdrMagicOff + 8     // 8
	hdrPageSizeOff   = hdrFormatOff + 4    // 12
	hdrCatalogOff    = hdrPageSizeOff + 4  // 16
	hdrFreeListOff   = hdrCatalogOff + 4   // 20
	hdrPageCountOff  = hdrFreeListOff + 4  // 24
	hdrNextPageIDOff = hdrPageCountOff + 8 // 32
)

// FileHeader holds the parsed contents of page 0.
type FileHeader struct {
	FormatVersion uint32
	PageSize      uint32
	PageCount     uint64
	CatalogRoot   PageID // head of the collection-catalog page chain
	FreeListRoot  PageID
	NextPageID    PageID
}

// MarshalFileHeader serializes h into a full page buffer. Page 0 carries
// no checksum field (spec §6.1 lists only magic, version, and the root
// pointers, with the remainder reserved and zeroed) — its magic and
// format-version checks are what UnmarshalFileHeader relies on instead.
func MarshalFileHeader(h *FileHeader, pageSize int) []byte {
	buf := make([]byte, pageSize)
	copy(buf[hdrMagicOff:hdrMagicOff+8], FileMagic)
	binary.LittleEndian.PutUint32(buf[hdrFormatOff:], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[hdrPageSizeOff:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[hdrCatalogOff:], uint32(h.CatalogRoot))
	binary.LittleEndian.PutUint32(buf[hdrFreeListOff:], uint32(h.FreeListRoot))
	binary.LittleEndian.PutUint64(buf[hdrPageCountOff:], h.PageCount)
	binary.LittleEndian.PutUint32(buf[hdrNextPageIDOff:], uint32(h.NextPageID))
	return buf
}

// UnmarshalFileHeader decodes page 0 from buf, validating magic and format
// version.
func UnmarshalFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("%w: file header too small (%d bytes)", ErrBadHeader, len(buf))
	}
	magic := string(buf[hdrMagicOff : hdrMagicOff+8])
	if magic != FileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadHeader, magic)
	}
	h := &FileHeader{
		FormatVersion: binary.LittleEndian.Uint32(buf[hdrFormatOff:]),
		PageSize:      binary.LittleEndian.Uint32(buf[hdrPageSizeOff:]),
		CatalogRoot:   PageID(binary.LittleEndian.Uint32(buf[hdrCatalogOff:])),
		FreeListRoot:  PageID(binary.LittleEndian.Uint32(buf[hdrFreeListOff:])),
		PageCount:     binary.LittleEndian.Uint64(buf[hdrPageCountOff:]),
		NextPageID:    PageID(binary.LittleEndian.Uint32(buf[hdrNextPageIDOff:])),
	}
	if h.FormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d (this build supports %d)", ErrBadHeader, h.FormatVersion, CurrentFormatVersion)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.PageSize&(h.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: page size %d invalid", ErrBadHeader, h.PageSize)
	}
	return h, nil
}

// NewFileHeader creates a default FileHeader for a new, empty database.
func NewFileHeader(pageSize uint32) *FileHeader {
	return &FileHeader{
		FormatVersion: CurrentFormatVersion,
		PageSize:      pageSize,
		PageCount:     1, // header page only so far
		CatalogRoot:   InvalidPageID,
		FreeListRoot:  InvalidPageID,
		NextPageID:    1, // page 0 is the header
	}
}
