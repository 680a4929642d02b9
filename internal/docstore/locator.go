package docstore

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// Locator is a document's stable address: the DATA page holding its slot
// and the slot index within that page's directory (spec §3.4: "Each
// document has a stable (page-id, slot-index) locator"). It stays fixed
// across reads, scans, and any update whose new bytes still fit
// somewhere in the original page; it only changes when an update's new
// encoding forces the document into a different page (see Store.Update).
type Locator struct {
	PageID pager.PageID
	Slot   int
}

// Encode returns Locator's fixed 8-byte wire form (4-byte page id, 4-byte
// slot index, both little-endian) — this is the "doc-id" value every
// index.Index stores under its keys.
func (l Locator) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(l.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(l.Slot))
	return buf
}

func (l Locator) String() string {
	return fmt.Sprintf("%d:%d", l.PageID, l.Slot)
}

// DecodeLocator parses a Locator from the 8-byte form Encode produces.
func DecodeLocator(b []byte) (Locator, error) {
	if len(b) != 8 {
		return Locator{}, fmt.Errorf("%w: length %d, want 8", ErrInvalidLocator, len(b))
	}
	return Locator{
		PageID: pager.PageID(binary.LittleEndian.Uint32(b[0:4])),
		Slot:   int(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}
