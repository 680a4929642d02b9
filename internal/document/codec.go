package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/SimonWaldherr/tinydoc/internal/value"
)

// Wire format (spec §3.2/§4.B):
//
//	[0:4]  total length in bytes, including this 4-byte prefix (uint32 LE)
//	field*  repeated: null-terminated UTF-8 name, then the field's value
//	        self-describing encoding (tag byte + tag-specific payload, via
//	        value.Value.EncodeTo — itself length-prefixed or fixed-size per
//	        tag, so fields need no separator)
//	[0x00]  zero byte terminating the field list — an empty name can never
//	        belong to a real field, so it unambiguously marks the end

// EncodeTo writes d's wire format to w.
func (d *Document) EncodeTo(w io.Writer) error {
	body, err := d.encodeBody()
	if err != nil {
		return err
	}
	var total [4]byte
	binary.LittleEndian.PutUint32(total[:], uint32(4+len(body)))
	if _, err := w.Write(total[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Bytes returns d's complete wire-format encoding.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.EncodeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) encodeBody() ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range d.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("document: field name must not be empty")
		}
		if err := writeCString(&buf, f.Name); err != nil {
			return nil, err
		}
		if err := f.Value.EncodeTo(&buf); err != nil {
			return nil, fmt.Errorf("document: encode field %q: %w", f.Name, err)
		}
	}
	if err := buf.WriteByte(0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCString(w io.Writer, s string) error {
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// DecodeFrom reads one Document from r, as written by EncodeTo.
func DecodeFrom(r io.Reader) (*Document, error) {
	var totalBuf [4]byte
	if _, err := io.ReadFull(r, totalBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: document length prefix: %v", value.ErrInvalidEncoding, err)
	}
	total := binary.LittleEndian.Uint32(totalBuf[:])
	if total < 4 {
		return nil, fmt.Errorf("%w: document length %d too short", value.ErrInvalidEncoding, total)
	}
	body := make([]byte, total-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: document body: %v", value.ErrInvalidEncoding, err)
	}
	return decodeBody(body)
}

// DecodeBytes decodes a Document from an in-memory buffer, returning the
// number of bytes consumed — used when a caller has already sliced a
// document out of a page and wants to avoid an io.Reader indirection.
func DecodeBytes(b []byte) (*Document, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("%w: buffer shorter than length prefix", value.ErrInvalidEncoding)
	}
	total := int(binary.LittleEndian.Uint32(b[:4]))
	if total < 4 || total > len(b) {
		return nil, 0, fmt.Errorf("%w: document length %d out of range", value.ErrInvalidEncoding, total)
	}
	doc, err := decodeBody(b[4:total])
	if err != nil {
		return nil, 0, err
	}
	return doc, total, nil
}

func decodeBody(body []byte) (*Document, error) {
	r := bytes.NewReader(body)
	var fields []Field
	for i := 0; ; i++ {
		name, err := readCString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d name: %v", value.ErrInvalidEncoding, i, err)
		}
		if name == "" {
			break
		}
		v, err := value.DecodeFrom(r)
		if err != nil {
			return nil, fmt.Errorf("document: decode field %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Value: v})
	}
	return New(fields...), nil
}

func readCString(r *bytes.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}
