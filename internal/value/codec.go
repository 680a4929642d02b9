package value

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
)

// DocumentEncoder/DocumentDecoder are filled in by package document's init
// so the value codec can recurse into nested documents without an import
// cycle (value is imported by document, not the other way around).
var (
	DocumentEncoder func(d DocLike, w io.Writer) error
	DocumentDecoder func(r io.Reader) (DocLike, error)
)

// EncodeTo appends v's self-describing encoding (tag byte followed by its
// tag-specific payload) to w (spec §4.A to_bytes).
func (v *Value) EncodeTo(w io.Writer) error {
	if v == nil {
		v = Null()
	}
	if _, err := w.Write([]byte{byte(v.tag)}); err != nil {
		return err
	}
	return v.encodePayload(w)
}

func (v *Value) encodePayload(w io.Writer) error {
	switch v.tag {
	case TagMinKey, TagMaxKey, TagNull, TagUndefined:
		return nil
	case TagBool:
		_, err := w.Write([]byte{byte(v.i64)})
		return err
	case TagInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v.i64)))
		_, err := w.Write(b[:])
		return err
	case TagInt64, TagDateTime, TagTimestamp:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.i64))
		_, err := w.Write(b[:])
		return err
	case TagDouble:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.f64))
		_, err := w.Write(b[:])
		return err
	case TagDecimal128:
		return writeLenString(w, v.rawDecimal().RatString())
	case TagString, TagJS, TagSymbol:
		return writeLenString(w, v.str)
	case TagObjectID:
		_, err := w.Write(v.oid[:])
		return err
	case TagBinary:
		return writeLenBytes(w, v.bin)
	case TagRegex:
		if err := writeLenString(w, v.str); err != nil {
			return err
		}
		return writeLenString(w, v.opt)
	case TagJSWithScope:
		if err := writeLenString(w, v.str); err != nil {
			return err
		}
		if v.doc == nil || DocumentEncoder == nil {
			return writeLenBytes(w, nil)
		}
		return DocumentEncoder(v.doc, w)
	case TagArray:
		var cnt [4]byte
		binary.LittleEndian.PutUint32(cnt[:], uint32(len(v.arr)))
		if _, err := w.Write(cnt[:]); err != nil {
			return err
		}
		for _, e := range v.arr {
			if err := e.EncodeTo(w); err != nil {
				return err
			}
		}
		return nil
	case TagDocument:
		if v.doc == nil || DocumentEncoder == nil {
			return writeLenBytes(w, nil)
		}
		return DocumentEncoder(v.doc, w)
	default:
		return fmt.Errorf("%w: tag %v", ErrTagUnknown, v.tag)
	}
}

// DecodeFrom reads one self-describing Value (tag byte + payload) from r
// (spec §4.A from_bytes).
func DecodeFrom(r io.Reader) (*Value, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return nil, err
	}
	return decodePayload(Tag(tagBuf[0]), r)
}

func decodePayload(tag Tag, r io.Reader) (*Value, error) {
	switch tag {
	case TagMinKey:
		return MinKey(), nil
	case TagMaxKey:
		return MaxKey(), nil
	case TagNull:
		return Null(), nil
	case TagUndefined:
		return Undefined(), nil
	case TagBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("%w: bool: %v", ErrInvalidEncoding, err)
		}
		return Bool(b[0] != 0), nil
	case TagInt32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("%w: int32: %v", ErrInvalidEncoding, err)
		}
		return Int32(int32(binary.LittleEndian.Uint32(b[:]))), nil
	case TagInt64:
		i, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return Int64(i), nil
	case TagDateTime:
		i, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return &Value{tag: TagDateTime, i64: i}, nil
	case TagTimestamp:
		i, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return Timestamp(i), nil
	case TagDouble:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("%w: double: %v", ErrInvalidEncoding, err)
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(b[:]))), nil
	case TagDecimal128:
		s, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		rr, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, fmt.Errorf("%w: decimal128 %q", ErrInvalidEncoding, s)
		}
		return &Value{tag: TagDecimal128, dec: rr}, nil
	case TagString:
		s, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case TagJS:
		s, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		return JS(s), nil
	case TagSymbol:
		s, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		return Symbol(s), nil
	case TagObjectID:
		var id ObjectID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, fmt.Errorf("%w: object-id: %v", ErrInvalidEncoding, err)
		}
		return ObjectIDValue(id), nil
	case TagBinary:
		b, err := readLenBytes(r)
		if err != nil {
			return nil, err
		}
		return Binary(b), nil
	case TagRegex:
		pat, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		opt, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		return Regex(pat, opt), nil
	case TagJSWithScope:
		code, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		if DocumentDecoder == nil {
			if _, err := readLenBytes(r); err != nil {
				return nil, err
			}
			return JSWithScope(code, nil), nil
		}
		doc, err := DocumentDecoder(r)
		if err != nil {
			return nil, err
		}
		return JSWithScope(code, doc), nil
	case TagArray:
		var cntBuf [4]byte
		if _, err := io.ReadFull(r, cntBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: array count: %v", ErrInvalidEncoding, err)
		}
		cnt := binary.LittleEndian.Uint32(cntBuf[:])
		elems := make([]*Value, 0, cnt)
		for i := uint32(0); i < cnt; i++ {
			e, err := DecodeFrom(r)
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		return Array(elems), nil
	case TagDocument:
		if DocumentDecoder == nil {
			return nil, fmt.Errorf("%w: no document decoder registered", ErrInvalidEncoding)
		}
		doc, err := DocumentDecoder(r)
		if err != nil {
			return nil, err
		}
		return Document(doc), nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrTagUnknown, tag)
	}
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: int64: %v", ErrInvalidEncoding, err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

func writeLenString(w io.Writer, s string) error {
	return writeLenBytes(w, []byte(s))
}

func readLenString(r io.Reader) (string, error) {
	b, err := readLenBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeLenBytes(w io.Writer, b []byte) error {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(b)))
	if _, err := w.Write(lb[:]); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func readLenBytes(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, fmt.Errorf("%w: length prefix: %v", ErrInvalidEncoding, err)
	}
	n := binary.LittleEndian.Uint32(lb[:])
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: length-prefixed body: %v", ErrInvalidEncoding, err)
	}
	return b, nil
}
