// Package value implements the tagged value model that every document,
// index key, and page payload in tinydoc is built from: a closed set of
// concrete variants (null, bool, int32/64, double, decimal128, string,
// datetime, object-id, binary, array, document, and a handful of
// wire-compatibility tags) with a total order, a self-describing encoding,
// and explicit, non-panicking coercions.
package value

import (
	"fmt"
	"math/big"
	"time"
)

// Tag identifies the concrete variant held by a Value. The numeric ordering
// of the constants IS the tag-order table used to compare values of
// different tags (ascending). Do not reorder these without re-reading
// Compare, which relies on it.
type Tag uint8

const (
	TagMinKey Tag = iota
	TagNull
	TagBool
	TagInt32
	TagInt64
	TagDouble
	TagDecimal128
	TagString
	TagObjectID
	TagDateTime
	TagBinary
	TagArray
	TagDocument
	TagRegex
	TagJS
	TagJSWithScope
	TagTimestamp
	TagSymbol
	TagUndefined
	TagMaxKey
)

func (t Tag) String() string {
	switch t {
	case TagMinKey:
		return "MinKey"
	case TagNull:
		return "Null"
	case TagBool:
		return "Bool"
	case TagInt32:
		return "Int32"
	case TagInt64:
		return "Int64"
	case TagDouble:
		return "Double"
	case TagDecimal128:
		return "Decimal128"
	case TagString:
		return "String"
	case TagObjectID:
		return "ObjectID"
	case TagDateTime:
		return "DateTime"
	case TagBinary:
		return "Binary"
	case TagArray:
		return "Array"
	case TagDocument:
		return "Document"
	case TagRegex:
		return "Regex"
	case TagJS:
		return "JS"
	case TagJSWithScope:
		return "JSWithScope"
	case TagTimestamp:
		return "Timestamp"
	case TagSymbol:
		return "Symbol"
	case TagUndefined:
		return "Undefined"
	case TagMaxKey:
		return "MaxKey"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

func (t Tag) isNumeric() bool {
	switch t {
	case TagInt32, TagInt64, TagDouble, TagDecimal128:
		return true
	default:
		return false
	}
}

// DocLike is the minimal surface a document.Document exposes, used to break
// the import cycle between value and document (a document is a sequence of
// Values, and a Value may hold a document).
type DocLike interface {
	FieldCount() int
	FieldAt(i int) (string, *Value)
}

// Value is a tagged union over the concrete types in the tag-order table.
// The zero Value is TagNull.
type Value struct {
	tag Tag

	i64 int64      // Bool (0/1), Int32, Int64, DateTime (unix nanos), Timestamp
	f64 float64    // Double
	dec *big.Rat   // Decimal128
	str string     // String, Regex (pattern), JS (code), Symbol
	opt string     // Regex options, JS-with-scope unused here
	bin []byte     // Binary
	oid ObjectID   // ObjectID
	arr []*Value   // Array
	doc DocLike    // Document
}

// Null returns the null value.
func Null() *Value { return &Value{tag: TagNull} }

// MinKey returns the value that sorts before every other value.
func MinKey() *Value { return &Value{tag: TagMinKey} }

// MaxKey returns the value that sorts after every other value.
func MaxKey() *Value { return &Value{tag: TagMaxKey} }

// Undefined returns the BSON-style "undefined" scalar.
func Undefined() *Value { return &Value{tag: TagUndefined} }

// Bool wraps a boolean.
func Bool(b bool) *Value {
	i := int64(0)
	if b {
		i = 1
	}
	return &Value{tag: TagBool, i64: i}
}

// Int32 wraps a 32-bit integer.
func Int32(v int32) *Value { return &Value{tag: TagInt32, i64: int64(v)} }

// Int64 wraps a 64-bit integer.
func Int64(v int64) *Value { return &Value{tag: TagInt64, i64: v} }

// Double wraps a 64-bit float.
func Double(v float64) *Value { return &Value{tag: TagDouble, f64: v} }

// Decimal wraps an arbitrary-precision rational as a decimal128-tagged value.
func Decimal(r *big.Rat) *Value {
	if r == nil {
		r = new(big.Rat)
	}
	return &Value{tag: TagDecimal128, dec: new(big.Rat).Set(r)}
}

// String wraps a UTF-8 string.
func String(s string) *Value { return &Value{tag: TagString, str: s} }

// DateTime wraps a point in time, truncated to nanosecond UTC.
func DateTime(t time.Time) *Value { return &Value{tag: TagDateTime, i64: t.UTC().UnixNano()} }

// Binary wraps an opaque byte slice.
func Binary(b []byte) *Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Value{tag: TagBinary, bin: cp}
}

// ObjectIDValue wraps an ObjectID.
func ObjectIDValue(id ObjectID) *Value { return &Value{tag: TagObjectID, oid: id} }

// Array wraps a slice of Values, becoming the array's elements in order.
func Array(elems []*Value) *Value {
	cp := make([]*Value, len(elems))
	copy(cp, elems)
	return &Value{tag: TagArray, arr: cp}
}

// Document wraps a document-like value (used to nest documents inside
// values; avoids an import cycle with package document).
func Document(d DocLike) *Value { return &Value{tag: TagDocument, doc: d} }

// Regex wraps a regular expression pattern and its options string.
func Regex(pattern, options string) *Value {
	return &Value{tag: TagRegex, str: pattern, opt: options}
}

// JS wraps a JavaScript code fragment.
func JS(code string) *Value { return &Value{tag: TagJS, str: code} }

// JSWithScope wraps a JavaScript code fragment plus an associated scope
// document.
func JSWithScope(code string, scope DocLike) *Value {
	return &Value{tag: TagJSWithScope, str: code, doc: scope}
}

// Timestamp wraps a BSON-style internal timestamp (seconds+ordinal packed
// into 64 bits, opaque to tinydoc beyond ordering).
func Timestamp(v int64) *Value { return &Value{tag: TagTimestamp, i64: v} }

// Symbol wraps a symbol (interned-string wire type, compares as a string).
func Symbol(s string) *Value { return &Value{tag: TagSymbol, str: s} }

// Tag returns the concrete variant this value holds.
func (v *Value) Tag() Tag {
	if v == nil {
		return TagNull
	}
	return v.tag
}

// IsNull reports whether v is nil or the null/undefined variant — both are
// treated as "absent" for the purpose of index-key extraction (spec §4.F:
// "missing field → null component").
func (v *Value) IsNull() bool {
	return v == nil || v.tag == TagNull || v.tag == TagUndefined
}

// rawInt returns the raw int64 payload backing Bool/DateTime/Timestamp
// variants, for use by the codec and comparator without re-exporting the
// struct fields.
func (v *Value) rawInt() int64   { return v.i64 }
func (v *Value) rawFloat() float64 { return v.f64 }
func (v *Value) rawDecimal() *big.Rat {
	if v.dec == nil {
		return new(big.Rat)
	}
	return v.dec
}
func (v *Value) rawString() string   { return v.str }
func (v *Value) rawOptions() string  { return v.opt }
func (v *Value) rawBinary() []byte   { return v.bin }
func (v *Value) rawObjectID() ObjectID { return v.oid }
func (v *Value) rawArray() []*Value  { return v.arr }
func (v *Value) rawDoc() DocLike     { return v.doc }

// AsBool reports the boolean payload (only meaningful when Tag()==TagBool).
func (v *Value) AsBool() bool { return v.i64 != 0 }

// AsString reports the string payload (String/Regex-pattern/JS/Symbol).
func (v *Value) AsString() string { return v.str }

// AsBinary reports the binary payload.
func (v *Value) AsBinary() []byte { return v.bin }

// AsObjectID reports the ObjectID payload.
func (v *Value) AsObjectID() ObjectID { return v.oid }

// AsArray reports the array elements.
func (v *Value) AsArray() []*Value { return v.arr }

// AsDoc reports the nested document payload.
func (v *Value) AsDoc() DocLike { return v.doc }

// AsDateTime reports the datetime payload as a time.Time in UTC.
func (v *Value) AsDateTime() time.Time { return time.Unix(0, v.i64).UTC() }

// AsDecimal reports the decimal128 payload.
func (v *Value) AsDecimal() *big.Rat { return v.rawDecimal() }

// AsRegex reports the pattern and options of a Regex value.
func (v *Value) AsRegex() (pattern, options string) { return v.str, v.opt }
