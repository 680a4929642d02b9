package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/index"
	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// A collection's on-disk catalog record is held in one PageTypeCollectionMeta
// page (spec's SPEC_FULL §4.C: "holds one collection's heap head + index
// root list"). Pages are threaded into a singly-linked list through the
// common header's NextID field — the same chaining trick internal/docstore
// and internal/btree use — with pager.CatalogRoot() as the list head.
// Order within the list carries no meaning; new collections are prepended.
//
// Record body, length-prefixed manual binary.LittleEndian layout (matching
// internal/pager's header.go/page.go style, not a reflection-based codec):
//
//	[0:2]  name length (u16), then name bytes
//	[*:*+4] document-heap head page id (u32)
//	[*:*+2] index count (u16)
//	for each index:
//	  [*:*+2] name length (u16), name bytes
//	  [*:*+2] field count (u16)
//	  for each field: [*:*+2] length (u16), field bytes
//	  [*:*+1] unique flag (0/1)
//	  [*:*+4] btree root page id (u32)
const (
	catalogLenOff   = pager.PageHeaderSize
	catalogBodyOff  = catalogLenOff + 2
	catalogInline   byte = 0
	catalogOverflow byte = 1
)

type collRecord struct {
	Name    string
	DocHead pager.PageID
	Indexes []index.PersistedIndex
}

func encodeCollRecord(r collRecord) []byte {
	size := 2 + len(r.Name) + 4 + 2
	for _, ix := range r.Indexes {
		size += 2 + len(ix.Name) + 2
		for _, f := range ix.Fields {
			size += 2 + len(f)
		}
		size += 1 + 4
	}
	buf := make([]byte, size)
	off := 0
	putStr := func(s string) {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(s)))
		off += 2
		copy(buf[off:], s)
		off += len(s)
	}
	putStr(r.Name)
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.DocHead))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(r.Indexes)))
	off += 2
	for _, ix := range r.Indexes {
		putStr(ix.Name)
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(ix.Fields)))
		off += 2
		for _, f := range ix.Fields {
			putStr(f)
		}
		if ix.Unique {
			buf[off] = 1
		}
		off++
		binary.LittleEndian.PutUint32(buf[off:], uint32(ix.Root))
		off += 4
	}
	return buf
}

func decodeCollRecord(buf []byte) (collRecord, error) {
	off := 0
	getStr := func() (string, error) {
		if off+2 > len(buf) {
			return "", fmt.Errorf("engine: truncated catalog record")
		}
		n := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+n > len(buf) {
			return "", fmt.Errorf("engine: truncated catalog record")
		}
		s := string(buf[off : off+n])
		off += n
		return s, nil
	}

	var r collRecord
	name, err := getStr()
	if err != nil {
		return r, err
	}
	r.Name = name
	if off+4+2 > len(buf) {
		return r, fmt.Errorf("engine: truncated catalog record")
	}
	r.DocHead = pager.PageID(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	idxCount := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	r.Indexes = make([]index.PersistedIndex, 0, idxCount)
	for i := 0; i < idxCount; i++ {
		var ix index.PersistedIndex
		name, err := getStr()
		if err != nil {
			return r, err
		}
		ix.Name = name
		if off+2 > len(buf) {
			return r, fmt.Errorf("engine: truncated catalog record")
		}
		fieldCount := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		ix.Fields = make([]string, 0, fieldCount)
		for j := 0; j < fieldCount; j++ {
			f, err := getStr()
			if err != nil {
				return r, err
			}
			ix.Fields = append(ix.Fields, f)
		}
		if off+1+4 > len(buf) {
			return r, fmt.Errorf("engine: truncated catalog record")
		}
		ix.Unique = buf[off] != 0
		off++
		ix.Root = pager.PageID(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		r.Indexes = append(r.Indexes, ix)
	}
	return r, nil
}

// catalogEntry is one loaded catalog record together with the page it
// lives on, used while walking the chain.
type catalogEntry struct {
	pageID pager.PageID
	rec    collRecord
}

func catalogBuildRecord(p *pager.Pager, rec collRecord) ([]byte, error) {
	body := encodeCollRecord(rec)
	if len(body) <= pager.OverflowThreshold {
		return append([]byte{catalogInline}, body...), nil
	}
	head, err := pager.WriteOverflowChain(body, p.PageSize(),
		func() (pager.PageID, []byte) { return p.AllocPage(pager.PageTypeOverflow) },
		p.WritePage)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 9)
	out[0] = catalogOverflow
	binary.LittleEndian.PutUint32(out[1:5], uint32(head))
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(body)))
	return out, nil
}

func catalogDecodeRecord(p *pager.Pager, raw []byte) (collRecord, error) {
	if len(raw) == 0 {
		return collRecord{}, fmt.Errorf("engine: empty catalog record")
	}
	if raw[0] == catalogInline {
		return decodeCollRecord(raw[1:])
	}
	head := pager.PageID(binary.LittleEndian.Uint32(raw[1:5]))
	body, err := pager.ReadOverflowChain(head, p.ReadPage)
	if err != nil {
		return collRecord{}, err
	}
	return decodeCollRecord(body)
}

func catalogFreeOverflow(p *pager.Pager, raw []byte) {
	if len(raw) == 0 || raw[0] != catalogOverflow {
		return
	}
	head := pager.PageID(binary.LittleEndian.Uint32(raw[1:5]))
	id := head
	for id != pager.InvalidPageID {
		buf, err := p.ReadPage(id)
		if err != nil {
			return
		}
		op := pager.WrapOverflowPage(buf)
		next := op.NextOverflow()
		p.UnpinPage(id)
		p.FreePage(id)
		id = next
	}
}

// loadCatalog walks the entire collection-meta chain from the pager's
// catalog root, decoding every record.
func loadCatalog(p *pager.Pager) ([]catalogEntry, error) {
	var out []catalogEntry
	id := p.CatalogRoot()
	for id != pager.InvalidPageID {
		buf, err := p.ReadPage(id)
		if err != nil {
			return nil, err
		}
		next := pager.UnmarshalHeader(buf).NextID
		bodyLen := readCatalogBodyLen(buf)
		raw := buf[catalogBodyOff : catalogBodyOff+bodyLen]
		rec, err := catalogDecodeRecord(p, raw)
		p.UnpinPage(id)
		if err != nil {
			return nil, err
		}
		out = append(out, catalogEntry{pageID: id, rec: rec})
		id = next
	}
	return out, nil
}

// catalog page body framing: a 2-byte length prefix precedes the
// flag+payload bytes built by catalogBuildRecord, so re-reads never need
// to guess how much of the page is meaningful.
func readCatalogBodyLen(buf []byte) int {
	return int(binary.LittleEndian.Uint16(buf[catalogLenOff:]))
}

// createCatalogEntry allocates a fresh PageTypeCollectionMeta page, writes
// rec onto it, and prepends it to the catalog chain.
func createCatalogEntry(p *pager.Pager, rec collRecord) (pager.PageID, error) {
	raw, err := catalogBuildRecord(p, rec)
	if err != nil {
		return pager.InvalidPageID, err
	}
	id, buf := p.AllocPage(pager.PageTypeCollectionMeta)
	writeCatalogPage(buf, id, p.CatalogRoot(), raw)
	if err := p.WritePage(id, buf); err != nil {
		return pager.InvalidPageID, err
	}
	p.UnpinPage(id)
	p.SetCatalogRoot(id)
	return id, nil
}

// updateCatalogEntry rewrites pageID's record in place, freeing its prior
// overflow chain (if any) first.
func updateCatalogEntry(p *pager.Pager, pageID pager.PageID, rec collRecord) error {
	buf, err := p.ReadPage(pageID)
	if err != nil {
		return err
	}
	oldBodyLen := readCatalogBodyLen(buf)
	oldRaw := append([]byte(nil), buf[catalogBodyOff:catalogBodyOff+oldBodyLen]...)
	next := pager.UnmarshalHeader(buf).NextID
	p.UnpinPage(pageID)

	raw, err := catalogBuildRecord(p, rec)
	if err != nil {
		return err
	}
	catalogFreeOverflow(p, oldRaw)

	buf, err = p.ReadPage(pageID)
	if err != nil {
		return err
	}
	writeCatalogPage(buf, pageID, next, raw)
	if err := p.WritePage(pageID, buf); err != nil {
		p.UnpinPage(pageID)
		return err
	}
	p.UnpinPage(pageID)
	return nil
}

// deleteCatalogEntry unlinks pageID from the chain (prevID is
// pager.InvalidPageID if pageID was the head) and frees its page and any
// overflow chain it held.
func deleteCatalogEntry(p *pager.Pager, prevID, pageID pager.PageID) error {
	buf, err := p.ReadPage(pageID)
	if err != nil {
		return err
	}
	bodyLen := readCatalogBodyLen(buf)
	raw := append([]byte(nil), buf[catalogBodyOff:catalogBodyOff+bodyLen]...)
	next := pager.UnmarshalHeader(buf).NextID
	p.UnpinPage(pageID)

	catalogFreeOverflow(p, raw)

	if prevID == pager.InvalidPageID {
		p.SetCatalogRoot(next)
	} else {
		prevBuf, err := p.ReadPage(prevID)
		if err != nil {
			return err
		}
		prevBodyLen := readCatalogBodyLen(prevBuf)
		prevRaw := append([]byte(nil), prevBuf[catalogBodyOff:catalogBodyOff+prevBodyLen]...)
		writeCatalogPage(prevBuf, prevID, next, prevRaw)
		werr := p.WritePage(prevID, prevBuf)
		p.UnpinPage(prevID)
		if werr != nil {
			return werr
		}
	}
	p.FreePage(pageID)
	return nil
}

func writeCatalogPage(buf []byte, id, next pager.PageID, raw []byte) {
	h := &pager.PageHeader{Type: pager.PageTypeCollectionMeta, ID: id, PrevID: pager.InvalidPageID, NextID: next}
	pager.MarshalHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[catalogLenOff:], uint16(len(raw)))
	copy(buf[catalogBodyOff:], raw)
	pager.SetPageChecksum(buf)
}
