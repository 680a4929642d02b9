// Package document implements the ordered, self-describing document type
// that every collection stores and every index key is extracted from: a
// sequence of {name, value.Value} fields that preserves insertion order
// across round-trips, plus the length-prefixed wire codec for it.
package document

import (
	"fmt"
	"io"

	"github.com/SimonWaldherr/tinydoc/internal/value"
)

// Field is one named value in a Document, in declaration order.
type Field struct {
	Name  string
	Value *value.Value
}

// Document is an ordered sequence of fields, backed by a slice rather than
// a Go map so field order survives encode/decode round-trips verbatim
// (spec §3.2). A side index gives O(1) lookup by name, rebuilt lazily after
// any mutation that can invalidate it.
type Document struct {
	fields   []Field
	byName   map[string]int
	indexOK  bool
}

// New builds a Document from fields in the given order. Duplicate names are
// permitted on construction (last write during lookup wins); callers that
// need duplicate-free documents should dedupe before calling New.
func New(fields ...Field) *Document {
	d := &Document{fields: append([]Field(nil), fields...)}
	return d
}

// FieldCount implements value.DocLike.
func (d *Document) FieldCount() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// FieldAt implements value.DocLike.
func (d *Document) FieldAt(i int) (string, *value.Value) {
	f := d.fields[i]
	return f.Name, f.Value
}

// Fields returns the document's fields in declaration order. The returned
// slice must not be mutated by the caller.
func (d *Document) Fields() []Field {
	if d == nil {
		return nil
	}
	return d.fields
}

func (d *Document) rebuildIndex() {
	d.byName = make(map[string]int, len(d.fields))
	for i, f := range d.fields {
		d.byName[f.Name] = i
	}
	d.indexOK = true
}

// Get returns the value of the named field, or (nil, false) if absent.
func (d *Document) Get(name string) (*value.Value, bool) {
	if d == nil {
		return nil, false
	}
	if !d.indexOK {
		d.rebuildIndex()
	}
	i, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return d.fields[i].Value, true
}

// GetOrNull returns the named field's value, or value.Null() if the field
// is absent — the "missing field -> null component" rule used by index key
// extraction (spec §4.F).
func (d *Document) GetOrNull(name string) *value.Value {
	v, ok := d.Get(name)
	if !ok {
		return value.Null()
	}
	return v
}

// Set adds or overwrites a field, preserving the position of an existing
// field with the same name and appending new fields at the end.
func (d *Document) Set(name string, v *value.Value) {
	if !d.indexOK {
		d.rebuildIndex()
	}
	if i, ok := d.byName[name]; ok {
		d.fields[i].Value = v
		return
	}
	d.byName[name] = len(d.fields)
	d.fields = append(d.fields, Field{Name: name, Value: v})
}

// Delete removes the named field, if present, shifting later fields down
// and invalidating the name index.
func (d *Document) Delete(name string) bool {
	if !d.indexOK {
		d.rebuildIndex()
	}
	i, ok := d.byName[name]
	if !ok {
		return false
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	d.indexOK = false
	return true
}

// Clone returns a deep-enough copy: the field slice is copied, but nested
// value.Value payloads (arrays/documents) are shared, matching
// value.Value's own copy-on-write-by-convention style.
func (d *Document) Clone() *Document {
	if d == nil {
		return New()
	}
	cp := make([]Field, len(d.fields))
	copy(cp, d.fields)
	return &Document{fields: cp}
}

// ExtractPath walks a dotted field path (e.g. "address.city") and returns
// the value at the end of it, or value.Null() if any segment is missing or
// not itself a document.
func (d *Document) ExtractPath(path []string) *value.Value {
	cur := d
	for i, seg := range path {
		if cur == nil {
			return value.Null()
		}
		v, ok := cur.Get(seg)
		if !ok {
			return value.Null()
		}
		if i == len(path)-1 {
			return v
		}
		sub, ok := v.AsDoc().(*Document)
		if !ok {
			return value.Null()
		}
		cur = sub
	}
	return value.Null()
}

func init() {
	value.DocumentEncoder = func(d value.DocLike, w io.Writer) error {
		doc, ok := d.(*Document)
		if !ok {
			return fmt.Errorf("document: unexpected DocLike implementation %T", d)
		}
		return doc.EncodeTo(w)
	}
	value.DocumentDecoder = func(r io.Reader) (value.DocLike, error) {
		return DecodeFrom(r)
	}
}
