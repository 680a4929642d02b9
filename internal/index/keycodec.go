package index

import (
	"bytes"
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/value"
)

// encodeKeyTuple concatenates each value's self-describing encoding in
// order. Because every component is tag-prefixed and, where variable
// length, length-prefixed, the concatenation is unambiguous: decoding
// component i never needs to know where component i+1 starts other than
// what its own encoding says (spec §3.6: "a tuple of Values ordered
// lexicographically component-wise").
func encodeKeyTuple(vals []*value.Value) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range vals {
		if err := v.EncodeTo(&buf); err != nil {
			return nil, fmt.Errorf("index: encode key component: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// decodeKeyTuple splits a stored index key back into its arity components.
func decodeKeyTuple(data []byte, arity int) ([]*value.Value, error) {
	r := bytes.NewReader(data)
	vals := make([]*value.Value, 0, arity)
	for i := 0; i < arity; i++ {
		v, err := value.DecodeFrom(r)
		if err != nil {
			return nil, fmt.Errorf("index: decode key component %d: %w", i, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// tupleCompare orders two key tuples component-wise using value.Compare,
// which applies the cross-tag numeric rule within each component. A null
// component (missing field, spec §4.F) sorts first by construction since
// TagNull precedes every non-numeric tag in the tag-order table.
func tupleCompare(a, b []*value.Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := value.Compare(a[i], b[i]); c != 0 {
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
