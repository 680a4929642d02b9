package value

import (
	"bytes"
	"math/big"
	"strings"
)

// Compare implements the total order required by spec §3.1: values of the
// same tag compare by natural order of the payload; values of different
// tags compare by the fixed tag-order table, except that two numeric-tagged
// values (int32/int64/double/decimal128) always compare by numeric value
// first, falling back to tag order only when numerically equal.
func Compare(a, b *Value) int {
	if a == nil {
		a = Null()
	}
	if b == nil {
		b = Null()
	}

	if a.Tag().isNumeric() && b.Tag().isNumeric() {
		if c := compareNumeric(a, b); c != 0 {
			return c
		}
		return compareTagOrder(a.Tag(), b.Tag())
	}

	if a.Tag() != b.Tag() {
		return compareTagOrder(a.Tag(), b.Tag())
	}

	return compareSameTag(a, b)
}

func compareTagOrder(ta, tb Tag) int {
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	default:
		return 0
	}
}

// compareNumeric compares two numeric-tagged values by mathematical value,
// using big.Rat as the common representation so int64/double/decimal128
// compare exactly rather than through lossy float64 conversion.
func compareNumeric(a, b *Value) int {
	ra := numericToRat(a)
	rb := numericToRat(b)
	return ra.Cmp(rb)
}

func numericToRat(v *Value) *big.Rat {
	switch v.Tag() {
	case TagInt32, TagInt64:
		return new(big.Rat).SetInt64(v.i64)
	case TagDouble:
		r := new(big.Rat).SetFloat64(v.f64)
		if r == nil {
			return new(big.Rat)
		}
		return r
	case TagDecimal128:
		return v.rawDecimal()
	default:
		return new(big.Rat)
	}
}

// compareSameTag compares two values known to share a tag.
func compareSameTag(a, b *Value) int {
	switch a.Tag() {
	case TagMinKey, TagMaxKey, TagNull, TagUndefined:
		return 0
	case TagBool:
		if a.i64 == b.i64 {
			return 0
		}
		if a.i64 < b.i64 {
			return -1
		}
		return 1
	case TagInt32, TagInt64, TagDouble, TagDecimal128:
		return compareNumeric(a, b)
	case TagString, TagSymbol, TagJS:
		return strings.Compare(a.str, b.str)
	case TagObjectID:
		return bytes.Compare(a.oid[:], b.oid[:])
	case TagDateTime, TagTimestamp:
		if a.i64 == b.i64 {
			return 0
		}
		if a.i64 < b.i64 {
			return -1
		}
		return 1
	case TagBinary:
		return bytes.Compare(a.bin, b.bin)
	case TagRegex:
		if c := strings.Compare(a.str, b.str); c != 0 {
			return c
		}
		return strings.Compare(a.opt, b.opt)
	case TagJSWithScope:
		return strings.Compare(a.str, b.str)
	case TagArray:
		return compareArrays(a.arr, b.arr)
	case TagDocument:
		return compareDocs(a.doc, b.doc)
	default:
		return 0
	}
}

func compareArrays(a, b []*Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareDocs(a, b DocLike) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	n := a.FieldCount()
	if b.FieldCount() < n {
		n = b.FieldCount()
	}
	for i := 0; i < n; i++ {
		na, va := a.FieldAt(i)
		nb, vb := b.FieldAt(i)
		if c := strings.Compare(na, nb); c != 0 {
			return c
		}
		if c := Compare(va, vb); c != 0 {
			return c
		}
	}
	switch {
	case a.FieldCount() < b.FieldCount():
		return -1
	case a.FieldCount() > b.FieldCount():
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b are equal, consistent with Compare
// (spec §3.1: "a == b iff compare(a,b) == 0").
func Equal(a, b *Value) bool {
	return Compare(a, b) == 0
}
