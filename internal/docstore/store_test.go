package docstore

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/pager"
	"github.com/SimonWaldherr/tinydoc/internal/value"
)

func newTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := pager.Open(pager.Config{Path: path, PageSize: pager.MinPageSize})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func docWithName(name string, n int) *document.Document {
	return document.New(
		document.Field{Name: "_id", Value: value.String(name)},
		document.Field{Name: "n", Value: value.Int32(int32(n))},
	)
}

func TestStorePutGetRoundTrip(t *testing.T) {
	p := newTestPager(t)
	s, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	loc, err := s.Put(docWithName("a", 1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(loc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	idVal, ok := got.Get("_id")
	if !ok || idVal.AsString() != "a" {
		t.Fatalf("_id = %v, want a", idVal)
	}
	nVal, _ := got.Get("n")
	if nVal.Tag() != value.TagInt32 {
		t.Fatalf("n tag = %v, want Int32", nVal.Tag())
	}
}

func TestStoreDeleteRemovesRecord(t *testing.T) {
	p := newTestPager(t)
	s, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	loc, err := s.Put(docWithName("a", 1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(loc); err != ErrNotFound {
		t.Fatalf("Get after delete: err=%v, want ErrNotFound", err)
	}
}

func TestStoreUpdateShrinkingStaysAtSameLocator(t *testing.T) {
	p := newTestPager(t)
	s, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	loc, err := s.Put(docWithName("a", 1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	smaller := document.New(document.Field{Name: "_id", Value: value.String("a")})
	newLoc, moved, err := s.Update(loc, smaller)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if moved {
		t.Fatalf("expected shrinking update to stay at the same Locator")
	}
	if newLoc != loc {
		t.Fatalf("Locator changed on shrinking update: %v -> %v", loc, newLoc)
	}
	got, err := s.Get(loc)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if _, ok := got.Get("n"); ok {
		t.Fatalf("expected field n to be gone after update")
	}
}

func docWithPayload(name string, size int) *document.Document {
	return document.New(
		document.Field{Name: "_id", Value: value.String(name)},
		document.Field{Name: "payload", Value: value.String(strings.Repeat("p", size))},
	)
}

func TestStoreUpdateGrowingBeyondPageMoves(t *testing.T) {
	p := newTestPager(t)
	s, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Pack the first DATA page with fixed-size documents until the next
	// one spills to a second page, so the first page is left with no
	// room for an in-place grow.
	firstLoc, err := s.Put(docWithPayload("doc-0", 100))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	pageID := firstLoc.PageID
	locs := []Locator{firstLoc}
	for i := 1; i < 200; i++ {
		loc, err := s.Put(docWithPayload(fmt.Sprintf("doc-%d", i), 100))
		if err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		if loc.PageID != pageID {
			break
		}
		locs = append(locs, loc)
	}
	if len(locs) < 2 {
		t.Fatalf("expected several documents to share the first page before it fills, got %d", len(locs))
	}

	big := document.New(
		document.Field{Name: "_id", Value: value.String("doc-0")},
		document.Field{Name: "payload", Value: value.String(strings.Repeat("x", 900))},
	)
	newLoc, moved, err := s.Update(locs[0], big)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !moved {
		t.Fatalf("expected growing update to move to a new page")
	}
	if newLoc.PageID == locs[0].PageID {
		t.Fatalf("expected a different page after forced move")
	}
	got, err := s.Get(newLoc)
	if err != nil {
		t.Fatalf("Get at new locator: %v", err)
	}
	pv, ok := got.Get("payload")
	if !ok || len(pv.AsString()) != 900 {
		t.Fatalf("payload field missing or wrong size after move")
	}
	if _, err := s.Get(locs[0]); err != ErrNotFound {
		t.Fatalf("old locator should be tombstoned after move, err=%v", err)
	}
}

func TestStoreOversizedDocumentUsesOverflow(t *testing.T) {
	p := newTestPager(t)
	s, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	big := document.New(
		document.Field{Name: "_id", Value: value.String("big")},
		document.Field{Name: "payload", Value: value.String(strings.Repeat("y", pager.OverflowThreshold+5000))},
	)
	loc, err := s.Put(big)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(loc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	pv, ok := got.Get("payload")
	if !ok || len(pv.AsString()) != pager.OverflowThreshold+5000 {
		t.Fatalf("payload round-trip through overflow chain failed")
	}

	if err := s.Delete(loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(loc); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after deleting overflowed document")
	}
}

func TestStoreScanVisitsAllLiveDocumentsAcrossPages(t *testing.T) {
	p := newTestPager(t)
	s, err := Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 200
	var locs []Locator
	for i := 0; i < n; i++ {
		loc, err := s.Put(docWithName(fmt.Sprintf("doc-%d", i), i))
		if err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		locs = append(locs, loc)
	}

	// Delete every third document.
	deleted := make(map[int]bool)
	for i := 0; i < n; i += 3 {
		if err := s.Delete(locs[i]); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
		deleted[i] = true
	}

	seen := 0
	err = s.Scan(func(_ Locator, doc *document.Document) bool {
		seen++
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := 0
	for i := 0; i < n; i++ {
		if !deleted[i] {
			want++
		}
	}
	if seen != want {
		t.Fatalf("Scan visited %d documents, want %d", seen, want)
	}
}

func TestLocatorEncodeDecodeRoundTrip(t *testing.T) {
	loc := Locator{PageID: 42, Slot: 7}
	got, err := DecodeLocator(loc.Encode())
	if err != nil {
		t.Fatalf("DecodeLocator: %v", err)
	}
	if got != loc {
		t.Fatalf("round trip = %v, want %v", got, loc)
	}
	if _, err := DecodeLocator([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error decoding short locator")
	}
}
