package value

import (
	"encoding/binary"
	"math/big"

	"github.com/cespare/xxhash/v2"
)

// hashSeed is mixed into every hash so tinydoc's in-process hashing doesn't
// collide with xxhash's use elsewhere (e.g. page checksums use their own
// digest entirely — this is just defensive domain separation).
const hashSeed uint64 = 0x74696e79646f63 // "tinydoc" packed

// Hash returns a hash of v consistent with Compare/Equal: values that
// compare equal hash equal. Numerically equal values of different numeric
// tags also hash equal, although Compare orders them by tag.
func Hash(v *Value) uint64 {
	if v == nil {
		v = Null()
	}
	d := xxhash.New()
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], hashSeed)
	d.Write(seedBuf[:])

	if v.Tag().isNumeric() {
		writeNumericHashBytes(d, v)
		return d.Sum64()
	}

	switch v.Tag() {
	case TagMinKey, TagMaxKey, TagNull, TagUndefined:
		writeTagByte(d, v.Tag())
	case TagBool:
		writeTagByte(d, TagBool)
		d.Write([]byte{byte(v.i64)})
	case TagString, TagSymbol, TagJS:
		writeTagByte(d, v.Tag())
		d.Write([]byte(v.str))
	case TagObjectID:
		writeTagByte(d, TagObjectID)
		d.Write(v.oid[:])
	case TagDateTime, TagTimestamp:
		writeTagByte(d, v.Tag())
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.i64))
		d.Write(b[:])
	case TagBinary:
		writeTagByte(d, TagBinary)
		d.Write(v.bin)
	case TagRegex:
		writeTagByte(d, TagRegex)
		d.Write([]byte(v.str))
		d.Write([]byte(v.opt))
	case TagArray:
		writeTagByte(d, TagArray)
		for _, e := range v.arr {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], Hash(e))
			d.Write(b[:])
		}
	case TagDocument:
		writeTagByte(d, TagDocument)
		if v.doc != nil {
			for i := 0; i < v.doc.FieldCount(); i++ {
				name, fv := v.doc.FieldAt(i)
				d.Write([]byte(name))
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], Hash(fv))
				d.Write(b[:])
			}
		}
	default:
		writeTagByte(d, v.Tag())
	}
	return d.Sum64()
}

func writeTagByte(d *xxhash.Digest, t Tag) {
	d.Write([]byte{byte(t)})
}

// writeNumericHashBytes hashes the canonical rational form so numerically
// equal values of different numeric tags collide, matching Compare.
func writeNumericHashBytes(d *xxhash.Digest, v *Value) {
	d.Write([]byte{0xFE}) // numeric-family marker, distinct from any Tag byte
	r := numericToRat(v)
	num := r.Num()
	den := r.Denom()
	writeBigInt(d, num)
	writeBigInt(d, den)
}

func writeBigInt(d *xxhash.Digest, n *big.Int) {
	sign := byte(0)
	if n.Sign() < 0 {
		sign = 1
	}
	d.Write([]byte{sign})
	bs := n.Bytes()
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(bs)))
	d.Write(lenBuf[:])
	d.Write(bs)
}
