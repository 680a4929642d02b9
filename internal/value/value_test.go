package value

import (
	"bytes"
	"math/big"
	"testing"
	"time"
)

func TestTagOrderAscending(t *testing.T) {
	order := []Tag{
		TagMinKey, TagNull, TagBool, TagInt32, TagInt64, TagDouble,
		TagDecimal128, TagString, TagObjectID, TagDateTime, TagBinary,
		TagArray, TagDocument, TagRegex, TagJS, TagJSWithScope,
		TagTimestamp, TagSymbol, TagUndefined, TagMaxKey,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("tag order broken at %d: %v >= %v", i, order[i-1], order[i])
		}
	}
}

func TestCompareCrossTagNumeric(t *testing.T) {
	cases := []struct {
		a, b *Value
	}{
		{Int32(5), Int64(5)},
		{Int64(7), Double(7.0)},
		{Double(3.0), Decimal(big.NewRat(3, 1))},
		{Int32(0), Decimal(big.NewRat(0, 1))},
	}
	for _, c := range cases {
		// Numerically equal but tag-different: tag order decides, and each
		// case lists the lower tag first.
		if got := Compare(c.a, c.b); got != -1 {
			t.Errorf("Compare(%v, %v) = %d, want -1", c.a, c.b, got)
		}
		if Equal(c.a, c.b) {
			t.Errorf("Equal(%v, %v) = true, want false", c.a, c.b)
		}
		if Hash(c.a) != Hash(c.b) {
			t.Errorf("Hash(%v) != Hash(%v), want equal numeric values to hash equal", c.a, c.b)
		}
	}
}

func TestCompareNumericVsTagOrderTiebreak(t *testing.T) {
	// Unequal numeric values: numeric comparison wins regardless of tag.
	if Compare(Int32(1), Double(2.0)) >= 0 {
		t.Fatalf("expected Int32(1) < Double(2.0)")
	}
	// Equal numeric values of different tags: tag order breaks the tie,
	// so Int32 sorts before Int64.
	if Compare(Int32(1), Int64(1)) >= 0 {
		t.Fatalf("expected Int32(1) < Int64(1) by tag order")
	}
}

func TestCompareMinMaxKey(t *testing.T) {
	vals := []*Value{MaxKey(), Null(), Int32(5), String("z"), MinKey()}
	for _, v := range vals {
		if v.Tag() != TagMinKey && Compare(MinKey(), v) >= 0 {
			t.Errorf("MinKey should sort before %v", v)
		}
		if v.Tag() != TagMaxKey && Compare(MaxKey(), v) <= 0 {
			t.Errorf("MaxKey should sort after %v", v)
		}
	}
}

func TestCompareTotalOrderAntisymmetry(t *testing.T) {
	vals := []*Value{
		MinKey(), Null(), Bool(false), Bool(true), Int32(1), Int64(2),
		Double(2.5), Decimal(big.NewRat(3, 1)), String("a"), String("b"),
		ObjectIDValue(NewObjectID()), DateTime(time.Unix(100, 0)),
		Binary([]byte{1, 2}), Array([]*Value{Int32(1)}), MaxKey(),
	}
	for i := 0; i < len(vals); i++ {
		for j := 0; j < len(vals); j++ {
			cij := Compare(vals[i], vals[j])
			cji := Compare(vals[j], vals[i])
			if cij != -cji && !(cij == 0 && cji == 0) {
				t.Errorf("asymmetry: Compare(%d,%d)=%d Compare(%d,%d)=%d", i, j, cij, j, i, cji)
			}
		}
	}
}

func TestArrayAndDocumentOrdering(t *testing.T) {
	a1 := Array([]*Value{Int32(1), Int32(2)})
	a2 := Array([]*Value{Int32(1), Int32(3)})
	a3 := Array([]*Value{Int32(1)})
	if Compare(a1, a2) >= 0 {
		t.Fatalf("expected [1,2] < [1,3]")
	}
	if Compare(a3, a1) >= 0 {
		t.Fatalf("expected shorter prefix array to sort first")
	}
}

type fakeDoc struct {
	names []string
	vals  []*Value
}

func (d *fakeDoc) FieldCount() int { return len(d.names) }
func (d *fakeDoc) FieldAt(i int) (string, *Value) { return d.names[i], d.vals[i] }

func TestDocumentOrdering(t *testing.T) {
	d1 := &fakeDoc{names: []string{"a"}, vals: []*Value{Int32(1)}}
	d2 := &fakeDoc{names: []string{"a"}, vals: []*Value{Int32(2)}}
	d3 := &fakeDoc{names: []string{"b"}, vals: []*Value{Int32(0)}}
	if Compare(Document(d1), Document(d2)) >= 0 {
		t.Fatalf("expected {a:1} < {a:2}")
	}
	if Compare(Document(d1), Document(d3)) >= 0 {
		t.Fatalf("expected field name 'a' < 'b' to dominate value")
	}
}

func roundTrip(t *testing.T, v *Value) *Value {
	t.Helper()
	var buf bytes.Buffer
	if err := v.EncodeTo(&buf); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	got, err := DecodeFrom(&buf)
	if err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	return got
}

func TestCodecRoundTrip(t *testing.T) {
	oid := NewObjectID()
	cases := []*Value{
		Null(), Undefined(), MinKey(), MaxKey(),
		Bool(true), Bool(false),
		Int32(-42), Int32(42),
		Int64(-1 << 40), Int64(1 << 40),
		Double(3.14159), Double(-0.0),
		Decimal(big.NewRat(22, 7)),
		String(""), String("hello, 世界"),
		ObjectIDValue(oid),
		DateTime(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)),
		Binary([]byte{0x00, 0xff, 0x10}),
		Binary(nil),
		Array([]*Value{Int32(1), String("x"), Null()}),
		Array(nil),
		Regex("^a.*z$", "i"),
		JS("function(){}"),
		Timestamp(123456789),
		Symbol("sym"),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if !Equal(got, v) {
			t.Errorf("round trip mismatch: got tag %v, want tag %v", got.Tag(), v.Tag())
		}
	}
}

func TestCodecRoundTripArrayOfArrays(t *testing.T) {
	v := Array([]*Value{
		Array([]*Value{Int32(1), Int32(2)}),
		Array([]*Value{String("a")}),
	})
	got := roundTrip(t, v)
	if !Equal(got, v) {
		t.Fatalf("nested array round trip mismatch")
	}
}

func TestDecodeFromRejectsUnknownTag(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF})
	if _, err := DecodeFrom(buf); err == nil {
		t.Fatalf("expected error decoding unknown tag byte")
	}
}

func TestDecodeFromTruncatedInput(t *testing.T) {
	buf := bytes.NewBuffer([]byte{byte(TagInt64), 0x01, 0x02})
	if _, err := DecodeFrom(buf); err == nil {
		t.Fatalf("expected error decoding truncated int64 payload")
	}
}

func TestObjectIDOrderingIsChronological(t *testing.T) {
	t1 := newObjectIDAt(time.Unix(1000, 0))
	t2 := newObjectIDAt(time.Unix(2000, 0))
	if bytes.Compare(t1[:], t2[:]) >= 0 {
		t.Fatalf("expected earlier ObjectID to sort before later one")
	}
}

func TestObjectIDParseHexRoundTrip(t *testing.T) {
	id := NewObjectID()
	parsed, err := ParseObjectIDHex(id.Hex())
	if err != nil {
		t.Fatalf("ParseObjectIDHex: %v", err)
	}
	if parsed != id {
		t.Fatalf("parsed ObjectID %v != original %v", parsed, id)
	}
}

func TestParseObjectIDHexRejectsBadLength(t *testing.T) {
	if _, err := ParseObjectIDHex("abc"); err == nil {
		t.Fatalf("expected error for short hex string")
	}
}

func TestTryInt32OverflowFails(t *testing.T) {
	v := Double(1e18)
	if _, ok := v.TryInt32(); ok {
		t.Fatalf("expected TryInt32 to fail on out-of-range double")
	}
}

func TestTryDecimalFromDoubleRespectsScale(t *testing.T) {
	v := Double(1.5)
	if _, ok := v.TryDecimal(); !ok {
		t.Fatalf("expected TryDecimal to succeed for low-scale double")
	}
}

func TestCoerceBoolFromNumeric(t *testing.T) {
	if b, ok := Int32(0).TryBool(); !ok || b {
		t.Fatalf("expected Int32(0) -> false")
	}
	if b, ok := Int32(1).TryBool(); !ok || !b {
		t.Fatalf("expected Int32(1) -> true")
	}
}

func TestHashConsistentWithEqual(t *testing.T) {
	a := String("same")
	b := String("same")
	if Hash(a) != Hash(b) {
		t.Fatalf("equal strings must hash equal")
	}
	c := String("different")
	if Hash(a) == Hash(c) {
		t.Fatalf("distinct strings should (almost certainly) hash differently")
	}
}
