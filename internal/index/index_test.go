package index

import (
	"fmt"
	"path/filepath"
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

func docID(n int) []byte { return []byte(fmt.Sprintf("id-%04d", n)) }

func newDoc(id string, fields ...document.Field) *document.Document {
	all := append([]document.Field{{Name: "_id", Value: value.String(id)}}, fields...)
	return document.New(all...)
}

func field(name string, v *value.Value) document.Field {
	return document.Field{Name: name, Value: v}
}

func TestManagerAlwaysHasPrimaryIndex(t *testing.T) {
	p := newTestPager(t)
	m, err := New(p, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	idx, ok := m.GetIndex(PrimaryIndexName)
	if !ok {
		t.Fatalf("expected primary index to exist")
	}
	if !idx.Unique() {
		t.Fatalf("primary index must be unique")
	}
	if err := m.DropIndex(PrimaryIndexName); err == nil {
		t.Fatalf("expected DropIndex(_id) to fail")
	}
}

func TestCreateIndexRejectsDuplicateName(t *testing.T) {
	p := newTestPager(t)
	m, err := New(p, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.CreateIndex("by_email", []string{"email"}, true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := m.CreateIndex("by_email", []string{"email"}, true); err == nil {
		t.Fatalf("expected ErrIndexExists on second CreateIndex")
	}
}

func TestUniqueIndexRejectsDuplicateInsertWithoutDanglingEntries(t *testing.T) {
	p := newTestPager(t)
	m, err := New(p, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.CreateIndex("by_email", []string{"email"}, true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	doc1 := newDoc("a", field("email", value.String("a@x")))
	if err := m.InsertDocument(doc1, docID(1)); err != nil {
		t.Fatalf("InsertDocument 1: %v", err)
	}

	doc2 := newDoc("b", field("email", value.String("a@x")))
	if err := m.InsertDocument(doc2, docID(2)); err == nil {
		t.Fatalf("expected DuplicateKey on second insert")
	}

	emailIdx, _ := m.GetIndex("by_email")
	n, err := emailIdx.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("by_email count = %d, want 1 (no dangling entry from rejected insert)", n)
	}

	primaryIdx, _ := m.GetIndex(PrimaryIndexName)
	pn, err := primaryIdx.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if pn != 1 {
		t.Fatalf("_id count = %d, want 1 (no dangling entry in the primary index either)", pn)
	}
}

func TestUpdateDocumentMovesIndexEntryAndRollsBackOnConflict(t *testing.T) {
	p := newTestPager(t)
	m, err := New(p, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.CreateIndex("by_email", []string{"email"}, true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	docA := newDoc("a", field("email", value.String("a@x")))
	docB := newDoc("b", field("email", value.String("b@x")))
	if err := m.InsertDocument(docA, docID(1)); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := m.InsertDocument(docB, docID(2)); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	emailIdx, _ := m.GetIndex("by_email")

	// Successful update: a@x -> c@x.
	newDocA := newDoc("a", field("email", value.String("c@x")))
	if err := m.UpdateDocument(docA, newDocA, docID(1)); err != nil {
		t.Fatalf("UpdateDocument (ok case): %v", err)
	}
	if ids, err := emailIdx.FindExact([]*value.Value{value.String("c@x")}); err != nil || len(ids) != 1 {
		t.Fatalf("expected c@x to resolve to one id, got %v err=%v", ids, err)
	}
	if ids, err := emailIdx.FindExact([]*value.Value{value.String("a@x")}); err != nil || len(ids) != 0 {
		t.Fatalf("expected a@x to be gone, got %v err=%v", ids, err)
	}

	// Conflicting update: try to move newDocA's email to b@x, which collides.
	conflicting := newDoc("a", field("email", value.String("b@x")))
	if err := m.UpdateDocument(newDocA, conflicting, docID(1)); err == nil {
		t.Fatalf("expected DuplicateKey on conflicting update")
	}

	// Rollback must have restored the pre-update (c@x) entry and removed any
	// partial b@x entry for doc 1.
	if ids, err := emailIdx.FindExact([]*value.Value{value.String("c@x")}); err != nil || len(ids) != 1 {
		t.Fatalf("expected c@x restored after failed update, got %v err=%v", ids, err)
	}
	bIDs, err := emailIdx.FindExact([]*value.Value{value.String("b@x")})
	if err != nil {
		t.Fatalf("FindExact b@x: %v", err)
	}
	if len(bIDs) != 1 || string(bIDs[0]) != string(docID(2)) {
		t.Fatalf("b@x should still resolve only to doc 2, got %v", bIDs)
	}
}

func TestCompositeIndexRangeScan(t *testing.T) {
	p := newTestPager(t)
	m, err := New(p, []Descriptor{{Name: "by_country_city", Fields: []string{"country", "city"}, Unique: false}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	idx, ok := m.GetIndex("by_country_city")
	if !ok {
		t.Fatalf("composite index not registered")
	}

	n := 0
	for _, country := range []string{"AA", "CN", "ZZ"} {
		for city := 0; city < 50; city++ {
			for dup := 0; dup < 3; dup++ {
				doc := newDoc(fmt.Sprintf("%s-%d-%d", country, city, dup),
					field("country", value.String(country)),
					field("city", value.Int32(int32(city))))
				if err := m.InsertDocument(doc, docID(n)); err != nil {
					t.Fatalf("InsertDocument: %v", err)
				}
				n++
			}
		}
	}

	var got int
	err = idx.FindRange(
		[]*value.Value{value.String("CN"), value.Int32(0)},
		[]*value.Value{value.String("CN"), value.Int32(49)},
		func(_ []byte) bool { got++; return true },
	)
	if err != nil {
		t.Fatalf("FindRange: %v", err)
	}
	if got != 150 {
		t.Fatalf("FindRange(CN) = %d entries, want 150 (50 cities * 3 dups)", got)
	}
}

func TestBestIndexPrefersLongerDeclaredPrefixMatch(t *testing.T) {
	p := newTestPager(t)
	m, err := New(p, []Descriptor{
		{Name: "by_a", Fields: []string{"a"}, Unique: false},
		{Name: "by_a_b_c", Fields: []string{"a", "b", "c"}, Unique: false},
		{Name: "by_b", Fields: []string{"b"}, Unique: false},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	best, ok := m.BestIndex([]string{"a", "b", "c"})
	if !ok || best.Name() != "by_a_b_c" {
		t.Fatalf("BestIndex([a,b,c]) = %v, want by_a_b_c", best)
	}

	best, ok = m.BestIndex([]string{"a", "b"})
	if !ok || best.Name() != "by_a_b_c" {
		t.Fatalf("BestIndex([a,b]) = %v, want by_a_b_c (longer prefix beats single-field by_a)", best)
	}

	best, ok = m.BestIndex([]string{"a"})
	if !ok || best.Name() != "by_a" {
		t.Fatalf("BestIndex([a]) = %v, want by_a (by_a and by_a_b_c tie at prefix length 1; first-declared wins the tie since neither is unique)", best)
	}

	best, ok = m.BestIndex([]string{"b"})
	if !ok || best.Name() != "by_b" {
		t.Fatalf("BestIndex([b]) = %v, want by_b (by_a_b_c's declared order starts with a, not b)", best)
	}

	if _, ok := m.BestIndex([]string{"z"}); ok {
		t.Fatalf("BestIndex([z]) should find nothing")
	}
}

func TestDeleteDocumentRemovesFromEveryIndex(t *testing.T) {
	p := newTestPager(t)
	m, err := New(p, []Descriptor{{Name: "by_email", Fields: []string{"email"}, Unique: true}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	doc := newDoc("a", field("email", value.String("a@x")))
	if err := m.InsertDocument(doc, docID(1)); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if err := m.DeleteDocument(doc, docID(1)); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	emailIdx, _ := m.GetIndex("by_email")
	if ids, err := emailIdx.FindExact([]*value.Value{value.String("a@x")}); err != nil || len(ids) != 0 {
		t.Fatalf("expected email entry gone, got %v err=%v", ids, err)
	}
	primaryIdx, _ := m.GetIndex(PrimaryIndexName)
	if ids, err := primaryIdx.FindExact([]*value.Value{value.String("a")}); err != nil || len(ids) != 0 {
		t.Fatalf("expected primary entry gone, got %v err=%v", ids, err)
	}
}
