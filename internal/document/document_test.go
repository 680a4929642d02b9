package document

import (
	"bytes"
	"testing"

	"github.com/SimonWaldherr/tinydoc/internal/value"
)

func sampleDoc() *Document {
	return New(
		Field{Name: "_id", Value: value.ObjectIDValue(value.NewObjectID())},
		Field{Name: "name", Value: value.String("ada")},
		Field{Name: "age", Value: value.Int32(37)},
		Field{Name: "tags", Value: value.Array([]*value.Value{value.String("x"), value.String("y")})},
	)
}

func TestDocumentGetSetPreservesOrder(t *testing.T) {
	d := sampleDoc()
	if d.FieldCount() != 4 {
		t.Fatalf("expected 4 fields, got %d", d.FieldCount())
	}
	name, _ := d.FieldAt(1)
	if name != "name" {
		t.Fatalf("expected field 1 to be 'name', got %q", name)
	}
	d.Set("age", value.Int32(38))
	if d.FieldCount() != 4 {
		t.Fatalf("overwriting an existing field must not grow the document")
	}
	v, ok := d.Get("age")
	if !ok {
		t.Fatalf("expected age field to still be present")
	}
	if got, _ := v.TryInt32(); got != 38 {
		t.Fatalf("expected updated age 38, got %d", got)
	}
	d.Set("city", value.String("nyc"))
	if d.FieldCount() != 5 {
		t.Fatalf("expected new field to append, got count %d", d.FieldCount())
	}
	lastName, _ := d.FieldAt(4)
	if lastName != "city" {
		t.Fatalf("expected new field appended at end, got %q", lastName)
	}
}

func TestDocumentGetMissingReturnsNullViaGetOrNull(t *testing.T) {
	d := sampleDoc()
	if !d.GetOrNull("missing").IsNull() {
		t.Fatalf("expected missing field to read back as null")
	}
}

func TestDocumentDelete(t *testing.T) {
	d := sampleDoc()
	if !d.Delete("name") {
		t.Fatalf("expected delete of existing field to succeed")
	}
	if _, ok := d.Get("name"); ok {
		t.Fatalf("expected field to be gone after delete")
	}
	if d.Delete("nonexistent") {
		t.Fatalf("expected delete of missing field to report false")
	}
}

func TestDocumentCodecRoundTrip(t *testing.T) {
	d := sampleDoc()
	var buf bytes.Buffer
	if err := d.EncodeTo(&buf); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	got, err := DecodeFrom(&buf)
	if err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	if got.FieldCount() != d.FieldCount() {
		t.Fatalf("field count mismatch: got %d want %d", got.FieldCount(), d.FieldCount())
	}
	if value.Compare(value.Document(got), value.Document(d)) != 0 {
		t.Fatalf("round-tripped document does not compare equal to original")
	}
}

func TestDocumentCodecRoundTripNested(t *testing.T) {
	inner := New(Field{Name: "street", Value: value.String("main st")})
	outer := New(
		Field{Name: "addr", Value: value.Document(inner)},
		Field{Name: "count", Value: value.Int64(5)},
	)
	var buf bytes.Buffer
	if err := outer.EncodeTo(&buf); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	got, err := DecodeFrom(&buf)
	if err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	addr, ok := got.Get("addr")
	if !ok {
		t.Fatalf("expected nested addr field to round trip")
	}
	sub, ok := addr.AsDoc().(*Document)
	if !ok {
		t.Fatalf("expected nested value to decode back into *Document")
	}
	street, ok := sub.Get("street")
	if !ok || street.AsString() != "main st" {
		t.Fatalf("expected nested street field to survive round trip")
	}
}

func TestDocumentBytesMatchesDecodeBytes(t *testing.T) {
	d := sampleDoc()
	b, err := d.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got, n, err := DecodeBytes(b)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if n != len(b) {
		t.Fatalf("expected DecodeBytes to consume all %d bytes, consumed %d", len(b), n)
	}
	if value.Compare(value.Document(got), value.Document(d)) != 0 {
		t.Fatalf("DecodeBytes result does not match original document")
	}
}

func TestExtractPathNested(t *testing.T) {
	inner := New(Field{Name: "city", Value: value.String("nyc")})
	outer := New(Field{Name: "addr", Value: value.Document(inner)})
	got := outer.ExtractPath([]string{"addr", "city"})
	if got.AsString() != "nyc" {
		t.Fatalf("expected extracted path value 'nyc', got %v", got)
	}
	if !outer.ExtractPath([]string{"addr", "zip"}).IsNull() {
		t.Fatalf("expected missing nested path to yield null")
	}
	if !outer.ExtractPath([]string{"missing", "x"}).IsNull() {
		t.Fatalf("expected missing top-level path to yield null")
	}
}

func TestEncodeToPooledRoundTrip(t *testing.T) {
	d := sampleDoc()
	b, err := d.EncodeToPooled()
	if err != nil {
		t.Fatalf("EncodeToPooled: %v", err)
	}
	got, n, err := DecodeBytes(b)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if n != len(b) {
		t.Fatalf("expected full consumption, got %d of %d", n, len(b))
	}
	if value.Compare(value.Document(got), value.Document(d)) != 0 {
		t.Fatalf("pooled round trip mismatch")
	}
}
