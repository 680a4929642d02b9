package pager

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// Free-list pages
// ───────────────────────────────────────────────────────────────────────────
//
// A singly-linked chain of PageTypeFree pages, each storing an array of
// free page IDs, grounded on the teacher's pager/freelist.go.
//
//	[0:32]   Common PageHeader (Type=Free); header bytes [8:12] hold the
//	         next free-list page, 0 = end
//	[32:36]  EntryCount  (uint32 LE)
//	[36:...] PageID entries (uint32 LE each)

const (
	freeListCountOff = PageHeaderSize       // 32 (header bytes [8:12] carry the chain link)
	freeListDataOff  = freeListCountOff + 4 // 36
	freeListEntryLen = 4
)

// FreeListCapacity returns how many page IDs fit in one free-list page.
func FreeListCapacity(pageSize int) int {
	return (pageSize - freeListDataOff) / freeListEntryLen
}

type freeListPage struct {
	buf      []byte
	pageSize int
}

func wrapFreeListPage(buf []byte) *freeListPage {
	return &freeListPage{buf: buf, pageSize: len(buf)}
}

func initFreeListPage(buf []byte, id PageID) *freeListPage {
	h := &PageHeader{Type: PageTypeFree, ID: id}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[freeListCountOff:], 0)
	return &freeListPage{buf: buf, pageSize: len(buf)}
}

func (fl *freeListPage) next() PageID {
	return PageID(binary.LittleEndian.Uint32(fl.buf[8:12])) // header's PrevID slot
}

func (fl *freeListPage) setNext(pid PageID) {
	binary.LittleEndian.PutUint32(fl.buf[8:12], uint32(pid))
}

func (fl *freeListPage) entryCount() int {
	return int(binary.LittleEndian.Uint32(fl.buf[freeListCountOff:]))
}

func (fl *freeListPage) getEntry(i int) PageID {
	off := freeListDataOff + i*freeListEntryLen
	return PageID(binary.LittleEndian.Uint32(fl.buf[off:]))
}

func (fl *freeListPage) addEntry(pid PageID) bool {
	ec := fl.entryCount()
	if ec >= FreeListCapacity(fl.pageSize) {
		return false
	}
	off := freeListDataOff + ec*freeListEntryLen
	binary.LittleEndian.PutUint32(fl.buf[off:], uint32(pid))
	binary.LittleEndian.PutUint32(fl.buf[freeListCountOff:], uint32(ec+1))
	return true
}

func (fl *freeListPage) allEntries() []PageID {
	ec := fl.entryCount()
	ids := make([]PageID, ec)
	for i := 0; i < ec; i++ {
		ids[i] = fl.getEntry(i)
	}
	return ids
}

// freeManager tracks free pages with an in-memory set, backed on disk by a
// chain of free-list pages (teacher's FreeManager, renamed unexported since
// it's an implementation detail of Pager, not part of this package's
// surface).
type freeManager struct {
	free map[PageID]struct{}
	head PageID
}

func newFreeManager() *freeManager {
	return &freeManager{free: map[PageID]struct{}{}}
}

func (fm *freeManager) loadFromDisk(head PageID, readPage func(PageID) ([]byte, error)) error {
	fm.head = head
	pid := head
	for pid != InvalidPageID {
		buf, err := readPage(pid)
		if err != nil {
			return err
		}
		fl := wrapFreeListPage(buf)
		for _, id := range fl.allEntries() {
			fm.free[id] = struct{}{}
		}
		pid = fl.next()
	}
	return nil
}

func (fm *freeManager) alloc() PageID {
	best := InvalidPageID
	for pid := range fm.free {
		if best == InvalidPageID || pid < best {
			best = pid
		}
	}
	if best != InvalidPageID {
		delete(fm.free, best)
	}
	return best
}

func (fm *freeManager) markFree(pid PageID) {
	fm.free[pid] = struct{}{}
}

func (fm *freeManager) count() int { return len(fm.free) }

func (fm *freeManager) allFree() []PageID {
	ids := make([]PageID, 0, len(fm.free))
	for pid := range fm.free {
		ids = append(ids, pid)
	}
	return ids
}

// flushToDisk writes the in-memory free set into free-list pages, returning
// the new chain head and the page buffers to write. allocPage returns a new
// zeroed page buffer with a fresh ID.
func (fm *freeManager) flushToDisk(pageSize int, allocPage func() (PageID, []byte)) (PageID, [][]byte) {
	ids := fm.allFree()
	if len(ids) == 0 {
		return InvalidPageID, nil
	}

	capacity := FreeListCapacity(pageSize)
	var pages [][]byte
	var head PageID
	var prev *freeListPage

	for i := 0; i < len(ids); i += capacity {
		end := i + capacity
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		pid, buf := allocPage()
		fl := initFreeListPage(buf, pid)
		for _, fid := range chunk {
			fl.addEntry(fid)
		}
		SetPageChecksum(buf)
		pages = append(pages, buf)

		if prev != nil {
			prev.setNext(pid)
			SetPageChecksum(prev.buf)
		} else {
			head = pid
		}
		prev = fl
	}

	fm.head = head
	return head, pages
}
