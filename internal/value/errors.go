package value

import "errors"

// ErrInvalidEncoding is returned when bytes do not match a tag's expected
// layout while decoding a Value (spec §4.A).
var ErrInvalidEncoding = errors.New("value: invalid encoding")

// ErrOverflowOnCoerce is returned when a numeric coercion would lose
// magnitude (spec §4.A).
var ErrOverflowOnCoerce = errors.New("value: overflow on coerce")

// ErrTagUnknown is returned when decoding encounters a tag byte outside the
// closed set in the tag-order table.
var ErrTagUnknown = errors.New("value: unknown tag")
