// Package index implements the per-collection index manager: a registry
// of named B+ tree indexes, key extraction from documents, uniqueness
// enforcement, and best-index selection for a field list (spec §4.F).
package index

import (
	"bytes"
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/btree"
	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/pager"
	"github.com/SimonWaldherr/tinydoc/internal/value"
)

// PrimaryIndexName is the name of the mandatory index over "_id" that
// every collection carries unconditionally (spec §4.F, REDESIGN FLAGS:
// "_id is always indexed").
const PrimaryIndexName = "_id"

// Descriptor names an index: its identity, the ordered field list its
// keys are extracted from, and whether it rejects duplicate keys.
type Descriptor struct {
	Name   string
	Fields []string
	Unique bool
}

// PersistedIndex pairs a Descriptor with the page-id its tree was rooted
// at when the collection catalog was last saved — the shape a collection
// record stores one of, per declared index.
type PersistedIndex struct {
	Descriptor
	Root pager.PageID
}

// Index is one named B+ tree over a collection, plus the field list its
// keys are extracted from.
type Index struct {
	desc Descriptor
	tree *btree.Tree
}

func newIndex(p *pager.Pager, desc Descriptor) (*Index, error) {
	idx := &Index{desc: desc}
	tr, err := btree.Create(p, idx.comparator())
	if err != nil {
		return nil, fmt.Errorf("index: create %q: %w", desc.Name, err)
	}
	idx.tree = tr
	return idx, nil
}

func openIndex(p *pager.Pager, desc Descriptor, root pager.PageID) *Index {
	idx := &Index{desc: desc}
	idx.tree = btree.Open(p, root, idx.comparator())
	return idx
}

// comparator decodes both sides into their component Values and orders
// them with value.Compare, falling back to a raw byte comparison only if
// a key somehow fails to decode (it was produced by extractKey, so this
// should never happen in practice).
func (idx *Index) comparator() btree.Comparator {
	arity := len(idx.desc.Fields)
	return func(a, b []byte) int {
		va, errA := decodeKeyTuple(a, arity)
		vb, errB := decodeKeyTuple(b, arity)
		if errA != nil || errB != nil {
			return bytes.Compare(a, b)
		}
		return tupleCompare(va, vb)
	}
}

// Name, Fields, Unique, and Root report the index's identity and
// current tree root (for catalog persistence — the root changes across
// splits and merges).
func (idx *Index) Name() string      { return idx.desc.Name }
func (idx *Index) Fields() []string  { return idx.desc.Fields }
func (idx *Index) Unique() bool      { return idx.desc.Unique }
func (idx *Index) Root() pager.PageID { return idx.tree.Root() }
func (idx *Index) Descriptor() Descriptor { return idx.desc }

// extractKey builds this index's key tuple from doc, substituting a null
// component for any field doc does not carry (spec §4.F: "missing field
// -> null component").
func (idx *Index) extractKey(doc *document.Document) ([]byte, error) {
	vals := make([]*value.Value, len(idx.desc.Fields))
	for i, f := range idx.desc.Fields {
		vals[i] = doc.GetOrNull(f)
	}
	return encodeKeyTuple(vals)
}

func (idx *Index) insert(doc *document.Document, docID []byte) error {
	key, err := idx.extractKey(doc)
	if err != nil {
		return err
	}
	if idx.desc.Unique {
		existing, err := idx.tree.SeekAll(key)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: index %q", ErrDuplicateKey, idx.desc.Name)
		}
	}
	return idx.tree.Insert(key, docID)
}

// delete removes this index's entry for doc/docID. A missing entry is
// not an error: callers may legitimately re-run a partially applied
// delete during rollback.
func (idx *Index) delete(doc *document.Document, docID []byte) error {
	key, err := idx.extractKey(doc)
	if err != nil {
		return err
	}
	_, err = idx.tree.Delete(key, docID)
	return err
}

// FindExact returns every document id stored under the given field
// values (spec §5: "Index primitives exposed to planners: find_exact").
func (idx *Index) FindExact(vals []*value.Value) ([][]byte, error) {
	key, err := encodeKeyTuple(vals)
	if err != nil {
		return nil, err
	}
	return idx.tree.SeekAll(key)
}

// FindRange calls fn for every document id whose key falls within
// [start, end] in ascending key order. A nil bound is open-ended on that
// side (spec §5: find_range).
func (idx *Index) FindRange(start, end []*value.Value, fn func(docID []byte) bool) error {
	var startKey, endKey []byte
	var err error
	if start != nil {
		if startKey, err = encodeKeyTuple(start); err != nil {
			return err
		}
	}
	if end != nil {
		if endKey, err = encodeKeyTuple(end); err != nil {
			return err
		}
	}
	return idx.tree.Range(startKey, endKey, func(_, v []byte) bool { return fn(v) })
}

// FindAll calls fn for every document id in the index, in ascending key
// order (spec §5: find_all).
func (idx *Index) FindAll(fn func(docID []byte) bool) error {
	return idx.tree.Range(nil, nil, func(_, v []byte) bool { return fn(v) })
}

// Count returns the number of entries in the index (spec §5: count).
func (idx *Index) Count() (int, error) { return idx.tree.Count() }
