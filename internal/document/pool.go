package document

import (
	"bytes"
	"sync"
)

// bufferPool reuses encoding buffers across EncodeToPooled calls, avoiding a
// fresh allocation per document write on the hot insert/update path
// (grounded on the teacher's MarshalRow(row, buf) buffer-reuse convention
// in pager/row_codec.go, adapted to sync.Pool since documents, unlike rows,
// are produced and consumed across goroutines in the engine's write path).
var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// EncodeToPooled encodes d using a buffer drawn from a shared pool and
// returns a freshly-allocated copy of the result (the pooled buffer itself
// is returned to the pool before this call returns, so it is safe for the
// caller to retain the returned slice indefinitely).
func (d *Document) EncodeToPooled() ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := d.EncodeTo(buf); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
