package docstore

import "github.com/SimonWaldherr/tinydoc/internal/pager"

// heap is a collection's DATA-page chain: a singly-linked list of
// dataPages threaded through the common header's NextID field, with the
// head page id persisted in the collection's catalog record. heap knows
// nothing about document encoding or overflow framing — it stores and
// retrieves opaque record bytes by Locator; Store layers the document
// codec and overflow chaining on top.
type heap struct {
	pager *pager.Pager
	head  pager.PageID
	tail  pager.PageID
}

// createHeap allocates a brand-new, single-page heap.
func createHeap(p *pager.Pager) (*heap, error) {
	id, buf := p.AllocPage(pager.PageTypeData)
	initDataPage(buf, id)
	if err := p.WritePage(id, buf); err != nil {
		return nil, err
	}
	p.UnpinPage(id)
	return &heap{pager: p, head: id, tail: id}, nil
}

// openHeap reattaches to an existing heap chain starting at head,
// walking it once to find the current tail.
func openHeap(p *pager.Pager, head pager.PageID) (*heap, error) {
	h := &heap{pager: p, head: head}
	id := head
	for {
		buf, err := p.ReadPage(id)
		if err != nil {
			return nil, err
		}
		next := wrapDataPage(buf).nextPage()
		p.UnpinPage(id)
		if next == pager.InvalidPageID {
			break
		}
		id = next
	}
	h.tail = id
	return h, nil
}

// Head returns the chain's first page id, the value a collection catalog
// record persists.
func (h *heap) Head() pager.PageID { return h.head }

// insertRaw appends rec to the tail page, allocating and linking a new
// tail page if the current one has no room.
func (h *heap) insertRaw(rec []byte) (Locator, error) {
	buf, err := h.pager.ReadPage(h.tail)
	if err != nil {
		return Locator{}, err
	}
	dp := wrapDataPage(buf)
	if slot, err := dp.insertRecord(rec); err == nil {
		dp.finalize()
		werr := h.pager.WritePage(h.tail, buf)
		h.pager.UnpinPage(h.tail)
		if werr != nil {
			return Locator{}, werr
		}
		return Locator{PageID: h.tail, Slot: slot}, nil
	}
	h.pager.UnpinPage(h.tail)

	newID, newBuf := h.pager.AllocPage(pager.PageTypeData)
	initDataPage(newBuf, newID)
	newDP := wrapDataPage(newBuf)
	slot, err := newDP.insertRecord(rec)
	if err != nil {
		return Locator{}, err
	}
	newDP.finalize()
	if err := h.pager.WritePage(newID, newBuf); err != nil {
		return Locator{}, err
	}
	h.pager.UnpinPage(newID)

	oldTailBuf, err := h.pager.ReadPage(h.tail)
	if err != nil {
		return Locator{}, err
	}
	oldTailDP := wrapDataPage(oldTailBuf)
	oldTailDP.setNextPage(newID)
	oldTailDP.finalize()
	werr := h.pager.WritePage(h.tail, oldTailBuf)
	h.pager.UnpinPage(h.tail)
	if werr != nil {
		return Locator{}, werr
	}

	h.tail = newID
	return Locator{PageID: newID, Slot: slot}, nil
}

// readRaw returns a copy of the record bytes at loc, or ErrNotFound if
// the slot is a tombstone.
func (h *heap) readRaw(loc Locator) ([]byte, error) {
	buf, err := h.pager.ReadPage(loc.PageID)
	if err != nil {
		return nil, err
	}
	raw := wrapDataPage(buf).getRecord(loc.Slot)
	if raw == nil {
		h.pager.UnpinPage(loc.PageID)
		return nil, ErrNotFound
	}
	cp := append([]byte(nil), raw...)
	h.pager.UnpinPage(loc.PageID)
	return cp, nil
}

// deleteRaw tombstones loc's slot.
func (h *heap) deleteRaw(loc Locator) error {
	buf, err := h.pager.ReadPage(loc.PageID)
	if err != nil {
		return err
	}
	dp := wrapDataPage(buf)
	if err := dp.deleteRecord(loc.Slot); err != nil {
		h.pager.UnpinPage(loc.PageID)
		return err
	}
	dp.finalize()
	werr := h.pager.WritePage(loc.PageID, buf)
	h.pager.UnpinPage(loc.PageID)
	return werr
}

// updateSamePage tries to replace loc's record bytes without changing
// its Locator (see dataPage.updateRecord). ok is false when even this
// page's free space cannot hold the new bytes, and the caller must fall
// back to delete-then-insert elsewhere.
func (h *heap) updateSamePage(loc Locator, rec []byte) (ok bool, err error) {
	buf, err := h.pager.ReadPage(loc.PageID)
	if err != nil {
		return false, err
	}
	dp := wrapDataPage(buf)
	if err := dp.updateRecord(loc.Slot, rec); err != nil {
		h.pager.UnpinPage(loc.PageID)
		return false, nil
	}
	dp.finalize()
	werr := h.pager.WritePage(loc.PageID, buf)
	h.pager.UnpinPage(loc.PageID)
	if werr != nil {
		return false, werr
	}
	return true, nil
}

// scan calls fn for every live record in the heap, in physical
// page/slot order, stopping early if fn returns false.
func (h *heap) scan(fn func(loc Locator, raw []byte) bool) error {
	id := h.head
	for id != pager.InvalidPageID {
		buf, err := h.pager.ReadPage(id)
		if err != nil {
			return err
		}
		dp := wrapDataPage(buf)
		sc := dp.slotCountTotal()
		next := dp.nextPage()
		stop := false
		for i := 0; i < sc; i++ {
			if dp.isDeleted(i) {
				continue
			}
			raw := append([]byte(nil), dp.getRecord(i)...)
			if !fn(Locator{PageID: id, Slot: i}, raw) {
				stop = true
				break
			}
		}
		h.pager.UnpinPage(id)
		if stop {
			return nil
		}
		id = next
	}
	return nil
}
