package value

import (
	"math"
	"math/big"
	"strconv"
)

// Coercion rules (spec §4.A):
//   - int32 <-> int64 <-> double is value-preserving when in range.
//   - decimal128 coerces to decimal if scale <= 28 and magnitude fits.
//   - strings parse via invariant (Go default) number parsing.
//   - bool -> numeric: false -> 0, true -> 1.
//   - null -> scalar yields the scalar's zero value, for convertibility only;
//     comparisons still treat null as its own rank (see Compare).
//
// Every Try* method returns (zero, false) instead of panicking; they never
// guess silently across a magnitude-losing conversion — TryInt32 on a
// double outside int32 range reports false rather than truncating.

// TryBool coerces v to a bool.
func (v *Value) TryBool() (bool, bool) {
	switch v.Tag() {
	case TagBool:
		return v.i64 != 0, true
	case TagNull, TagUndefined:
		return false, true
	case TagInt32, TagInt64:
		return v.i64 != 0, true
	case TagDouble:
		return v.f64 != 0, true
	case TagString:
		b, err := strconv.ParseBool(v.str)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// TryInt32 coerces v to an int32, failing rather than truncating on
// overflow.
func (v *Value) TryInt32() (int32, bool) {
	switch v.Tag() {
	case TagInt32:
		return int32(v.i64), true
	case TagInt64:
		if v.i64 < math.MinInt32 || v.i64 > math.MaxInt32 {
			return 0, false
		}
		return int32(v.i64), true
	case TagDouble:
		if v.f64 != math.Trunc(v.f64) || v.f64 < math.MinInt32 || v.f64 > math.MaxInt32 {
			return 0, false
		}
		return int32(v.f64), true
	case TagDecimal128:
		if !v.dec.IsInt() {
			return 0, false
		}
		i := v.dec.Num()
		if !i.IsInt64() {
			return 0, false
		}
		i64 := i.Int64()
		if i64 < math.MinInt32 || i64 > math.MaxInt32 {
			return 0, false
		}
		return int32(i64), true
	case TagBool:
		if v.i64 != 0 {
			return 1, true
		}
		return 0, true
	case TagNull, TagUndefined:
		return 0, true
	case TagString:
		i, err := strconv.ParseInt(v.str, 10, 32)
		if err != nil {
			return 0, false
		}
		return int32(i), true
	default:
		return 0, false
	}
}

// TryInt64 coerces v to an int64.
func (v *Value) TryInt64() (int64, bool) {
	switch v.Tag() {
	case TagInt32, TagInt64:
		return v.i64, true
	case TagDouble:
		if v.f64 != math.Trunc(v.f64) || v.f64 < math.MinInt64 || v.f64 > math.MaxInt64 {
			return 0, false
		}
		return int64(v.f64), true
	case TagDecimal128:
		if !v.dec.IsInt() || !v.dec.Num().IsInt64() {
			return 0, false
		}
		return v.dec.Num().Int64(), true
	case TagBool:
		if v.i64 != 0 {
			return 1, true
		}
		return 0, true
	case TagNull, TagUndefined:
		return 0, true
	case TagString:
		i, err := strconv.ParseInt(v.str, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// TryFloat64 coerces v to a float64.
func (v *Value) TryFloat64() (float64, bool) {
	switch v.Tag() {
	case TagInt32, TagInt64:
		return float64(v.i64), true
	case TagDouble:
		return v.f64, true
	case TagDecimal128:
		f, _ := v.dec.Float64()
		return f, true
	case TagBool:
		if v.i64 != 0 {
			return 1, true
		}
		return 0, true
	case TagNull, TagUndefined:
		return 0, true
	case TagString:
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// decimal128MaxScale bounds the scale a decimal128 coercion will accept,
// per spec §4.A ("coerces to decimal if scale <= 28").
const decimal128MaxScale = 28

// TryDecimal coerces v to a *big.Rat.
func (v *Value) TryDecimal() (*big.Rat, bool) {
	switch v.Tag() {
	case TagDecimal128:
		return new(big.Rat).Set(v.dec), true
	case TagInt32, TagInt64:
		return new(big.Rat).SetInt64(v.i64), true
	case TagDouble:
		r := new(big.Rat).SetFloat64(v.f64)
		if r == nil {
			return nil, false
		}
		if decimalScale(r) > decimal128MaxScale {
			return nil, false
		}
		return r, true
	case TagBool:
		if v.i64 != 0 {
			return new(big.Rat).SetInt64(1), true
		}
		return new(big.Rat), true
	case TagNull, TagUndefined:
		return new(big.Rat), true
	case TagString:
		r := new(big.Rat)
		if _, ok := r.SetString(v.str); !ok {
			return nil, false
		}
		return r, true
	default:
		return nil, false
	}
}

// decimalScale returns the number of decimal digits in r's denominator when
// reduced to a power of ten, approximating "scale" for the §4.A bound.
func decimalScale(r *big.Rat) int {
	denom := r.Denom()
	scale := 0
	ten := big.NewInt(10)
	rem := new(big.Int).Set(denom)
	for rem.Cmp(big.NewInt(1)) > 0 {
		_, m := new(big.Int).DivMod(rem, ten, new(big.Int))
		_ = m
		rem.Div(rem, ten)
		scale++
		if scale > 64 {
			break
		}
	}
	return scale
}

// TryString coerces v to its string form (invariant-culture-style
// formatting: Go's default %v-ish rendering for numerics).
func (v *Value) TryString() (string, bool) {
	switch v.Tag() {
	case TagString, TagRegex, TagJS, TagSymbol:
		return v.str, true
	case TagBool:
		if v.i64 != 0 {
			return "true", true
		}
		return "false", true
	case TagInt32, TagInt64:
		return strconv.FormatInt(v.i64, 10), true
	case TagDouble:
		return strconv.FormatFloat(v.f64, 'g', -1, 64), true
	case TagDecimal128:
		return v.dec.RatString(), true
	case TagObjectID:
		return v.oid.Hex(), true
	case TagDateTime:
		return v.AsDateTime().Format("2006-01-02T15:04:05.999999999Z07:00"), true
	case TagNull, TagUndefined:
		return "", true
	default:
		return "", false
	}
}
