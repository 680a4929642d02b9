package pager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

func TestPageHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, DefaultPageSize)
	h := &PageHeader{Type: PageTypeData, ItemCount: 3, ID: 7, PrevID: 1, NextID: 9}
	MarshalHeader(h, buf)
	got := UnmarshalHeader(buf)
	if got.Type != h.Type || got.ItemCount != h.ItemCount || got.ID != h.ID || got.PrevID != h.PrevID || got.NextID != h.NextID {
		t.Fatalf("header round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestPageChecksumDetectsCorruption(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeData, 1)
	SetPageChecksum(buf)
	if err := VerifyPageChecksum(buf); err != nil {
		t.Fatalf("expected valid checksum, got %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyPageChecksum(buf); err == nil {
		t.Fatalf("expected checksum mismatch after corrupting page body")
	}
}

func TestOpenCreatesNewFile(t *testing.T) {
	p, err := Open(Config{Path: tempDBPath(t)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	if p.PageSize() != DefaultPageSize {
		t.Fatalf("expected default page size, got %d", p.PageSize())
	}
	if p.CatalogRoot() != InvalidPageID {
		t.Fatalf("expected fresh database to have no catalog root")
	}
}

func TestAllocWriteReadPage(t *testing.T) {
	p, err := Open(Config{Path: tempDBPath(t)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	pid, buf := p.AllocPage(PageTypeData)
	copy(buf[PageHeaderSize:], []byte("hello world"))
	if err := p.WritePage(pid, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	p.UnpinPage(pid)

	got, err := p.ReadPage(pid)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.HasPrefix(got[PageHeaderSize:], []byte("hello world")) {
		t.Fatalf("expected written bytes to round trip through cache")
	}
	p.UnpinPage(pid)
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	path := tempDBPath(t)
	p, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pid, buf := p.AllocPage(PageTypeCollectionMeta)
	copy(buf[PageHeaderSize:], []byte("persisted"))
	if err := p.WritePage(pid, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	p.UnpinPage(pid)
	p.SetCatalogRoot(pid)
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	if p2.CatalogRoot() != pid {
		t.Fatalf("expected catalog root %d to persist, got %d", pid, p2.CatalogRoot())
	}
	got, err := p2.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	if !bytes.HasPrefix(got[PageHeaderSize:], []byte("persisted")) {
		t.Fatalf("expected persisted bytes after reopen")
	}
}

func TestFreePageReusesSlotAfterFlush(t *testing.T) {
	path := tempDBPath(t)
	p, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pid, _ := p.AllocPage(PageTypeData)
	p.UnpinPage(pid)
	p.FreePage(pid)
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	newPid, _ := p2.AllocPage(PageTypeData)
	if newPid != pid {
		t.Fatalf("expected freed page %d to be recycled, got %d", pid, newPid)
	}
}

func TestOverflowChainRoundTrip(t *testing.T) {
	p, err := Open(Config{Path: tempDBPath(t), PageSize: MinPageSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	payload := bytes.Repeat([]byte("overflow-payload-"), 400) // spans multiple pages at MinPageSize
	head, err := WriteOverflowChain(payload, p.PageSize(),
		func() (PageID, []byte) { return p.AllocPage(PageTypeOverflow) },
		func(id PageID, buf []byte) error { return p.WritePage(id, buf) },
	)
	if err != nil {
		t.Fatalf("WriteOverflowChain: %v", err)
	}

	got, err := ReadOverflowChain(head, func(id PageID) ([]byte, error) { return p.ReadPage(id) })
	if err != nil {
		t.Fatalf("ReadOverflowChain: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("overflow chain round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := tempDBPath(t)
	buf := make([]byte, DefaultPageSize)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := Open(Config{Path: path}); err == nil {
		t.Fatalf("expected Open to reject a file with no valid header")
	}
}
