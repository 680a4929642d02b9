// Package docstore implements the document heap (spec §4.G): the
// collection-level storage of encoded documents in a chain of slotted
// DATA pages, with overflow chaining for documents too large to fit
// inline, addressed by a stable (page-id, slot-index) Locator.
package docstore

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// record framing: one flag byte, then either the document's encoded
// bytes directly (inline) or an 8-byte overflow-chain pointer
// (head page id + total size, both little-endian).
const (
	recordInline   byte = 0
	recordOverflow byte = 1
)

// Store is a collection's document heap: document encode/decode plus
// overflow chaining layered over a heap of DATA pages.
type Store struct {
	pager *pager.Pager
	heap  *heap
}

// Create allocates a brand-new, empty document store.
func Create(p *pager.Pager) (*Store, error) {
	h, err := createHeap(p)
	if err != nil {
		return nil, err
	}
	return &Store{pager: p, heap: h}, nil
}

// Open reattaches to an existing document store whose heap chain begins
// at head (the value a collection catalog record persists).
func Open(p *pager.Pager, head pager.PageID) (*Store, error) {
	h, err := openHeap(p, head)
	if err != nil {
		return nil, err
	}
	return &Store{pager: p, heap: h}, nil
}

// HeadPage is the value the collection catalog must persist to reopen
// this store later.
func (s *Store) HeadPage() pager.PageID { return s.heap.Head() }

func (s *Store) buildRecord(doc *document.Document) ([]byte, error) {
	body, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("docstore: encode document: %w", err)
	}
	if len(body) <= pager.OverflowThreshold {
		return append([]byte{recordInline}, body...), nil
	}
	head, err := pager.WriteOverflowChain(body, s.pager.PageSize(),
		func() (pager.PageID, []byte) { return s.pager.AllocPage(pager.PageTypeOverflow) },
		s.pager.WritePage,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: write overflow chain: %w", err)
	}
	rec := make([]byte, 9)
	rec[0] = recordOverflow
	binary.LittleEndian.PutUint32(rec[1:5], uint32(head))
	binary.LittleEndian.PutUint32(rec[5:9], uint32(len(body)))
	return rec, nil
}

func recordIsOverflow(raw []byte) bool { return len(raw) > 0 && raw[0] == recordOverflow }

func recordOverflowHead(raw []byte) pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(raw[1:5]))
}

func (s *Store) decodeRecord(raw []byte) (*document.Document, error) {
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	if raw[0] == recordInline {
		doc, _, err := document.DecodeBytes(raw[1:])
		return doc, err
	}
	head := recordOverflowHead(raw)
	body, err := pager.ReadOverflowChain(head, s.pager.ReadPage)
	if err != nil {
		return nil, fmt.Errorf("docstore: read overflow chain: %w", err)
	}
	doc, _, err := document.DecodeBytes(body)
	return doc, err
}

func (s *Store) freeOverflowChain(head pager.PageID) {
	id := head
	for id != pager.InvalidPageID {
		buf, err := s.pager.ReadPage(id)
		if err != nil {
			return
		}
		op := pager.WrapOverflowPage(buf)
		next := op.NextOverflow()
		s.pager.UnpinPage(id)
		s.pager.FreePage(id)
		id = next
	}
}

// Put encodes doc and appends it to the heap, returning its new Locator.
func (s *Store) Put(doc *document.Document) (Locator, error) {
	rec, err := s.buildRecord(doc)
	if err != nil {
		return Locator{}, err
	}
	return s.heap.insertRaw(rec)
}

// Get decodes and returns the document at loc.
func (s *Store) Get(loc Locator) (*document.Document, error) {
	raw, err := s.heap.readRaw(loc)
	if err != nil {
		return nil, err
	}
	return s.decodeRecord(raw)
}

// Delete frees any overflow chain loc's record held and tombstones its
// slot.
func (s *Store) Delete(loc Locator) error {
	raw, err := s.heap.readRaw(loc)
	if err != nil {
		return err
	}
	if recordIsOverflow(raw) {
		s.freeOverflowChain(recordOverflowHead(raw))
	}
	return s.heap.deleteRaw(loc)
}

// Update replaces the document at loc with doc. If the new encoding
// still fits somewhere in loc's page, the Locator is unchanged
// (moved=false). Otherwise the old slot (and any overflow chain it
// held) is freed, the document is appended elsewhere in the heap, and
// the new Locator is returned with moved=true — per spec §3.5, a moved
// document requires every index entry that stored its old Locator to be
// updated to the new one; docstore itself does not know about indexes,
// so that propagation is the caller's (engine's) responsibility.
func (s *Store) Update(loc Locator, doc *document.Document) (newLoc Locator, moved bool, err error) {
	oldRaw, err := s.heap.readRaw(loc)
	if err != nil {
		return Locator{}, false, err
	}
	rec, err := s.buildRecord(doc)
	if err != nil {
		return Locator{}, false, err
	}

	ok, err := s.heap.updateSamePage(loc, rec)
	if err != nil {
		return Locator{}, false, err
	}
	if ok {
		if recordIsOverflow(oldRaw) {
			s.freeOverflowChain(recordOverflowHead(oldRaw))
		}
		return loc, false, nil
	}

	if recordIsOverflow(oldRaw) {
		s.freeOverflowChain(recordOverflowHead(oldRaw))
	}
	if err := s.heap.deleteRaw(loc); err != nil {
		return Locator{}, false, err
	}
	newLoc, err = s.heap.insertRaw(rec)
	if err != nil {
		return Locator{}, false, err
	}
	return newLoc, true, nil
}

// Scan calls fn for every live document in the heap, in physical
// page/slot order, stopping early if fn returns false. This is the
// collection-level scan that bypasses every index (spec §3.5: "scan
// bypasses indexes and walks the DATA page chain via the collection's
// head pointer").
func (s *Store) Scan(fn func(loc Locator, doc *document.Document) bool) error {
	var decodeErr error
	err := s.heap.scan(func(loc Locator, raw []byte) bool {
		doc, derr := s.decodeRecord(raw)
		if derr != nil {
			decodeErr = derr
			return false
		}
		return fn(loc, doc)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// FreeAllPages releases every page this store's heap chain occupies,
// including any overflow chains its oversized documents held. The store
// is unusable afterward; callers drop their reference once the owning
// collection's catalog entry is gone too.
func (s *Store) FreeAllPages() {
	id := s.heap.head
	for id != pager.InvalidPageID {
		buf, err := s.pager.ReadPage(id)
		if err != nil {
			return
		}
		dp := wrapDataPage(buf)
		next := dp.nextPage()
		for i := 0; i < dp.slotCountTotal(); i++ {
			if dp.isDeleted(i) {
				continue
			}
			if raw := dp.getRecord(i); recordIsOverflow(raw) {
				s.freeOverflowChain(recordOverflowHead(raw))
			}
		}
		s.pager.UnpinPage(id)
		s.pager.FreePage(id)
		id = next
	}
}
