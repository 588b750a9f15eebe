package vm

import (
	"math"
	"math/big"
)

// arith implements ADD/SUB/MUL/DIV/MOD/POW (§4.2): numeric operands
// promote Fixed > Float > Int, preserving the wider int width when
// both operands are Int; ADD additionally concatenates two Strings or
// two Arrays.
func arith(op Opcode, a, b Value, loc SourceLoc) Value {
	if op == OpADD {
		if a.IsString() && b.IsString() {
			runes := append(append([]rune{}, a.AsLString().Runes...), b.AsLString().Runes...)
			return FromLString(&LString{Runes: runes})
		}
		if a.IsArray() && b.IsArray() {
			items := append(append([]Value{}, a.AsArray().Items...), b.AsArray().Items...)
			return FromArray(&Array{Items: items})
		}
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		throwVM(typeErrorf(loc, "%s requires numeric operands, got %s and %s", op, a.TypeName(), b.TypeName()))
	}
	if a.IsFixed() || b.IsFixed() {
		return arithFixed(op, toFixedValue(a), toFixedValue(b), loc)
	}
	if a.IsFloat() || b.IsFloat() {
		return arithFloat(op, numericFloat(a, loc), numericFloat(b, loc), loc)
	}
	return arithInt(op, a, b, loc)
}

// fixedDivScale is the fractional precision DIV introduces for Fixed
// operands that don't otherwise carry enough scale (spec.md §9: "choose
// 20 fractional digits").
const fixedDivScale = 20

// toFixedValue promotes an Int or Float operand to Fixed so mixed-type
// arithmetic has a single representation to work in.
func toFixedValue(v Value) *Fixed {
	switch v.Kind() {
	case KFixed:
		return v.AsFixed()
	case KInt:
		return &Fixed{Unscaled: bigIntOf(v), Scale: 0}
	case KFloat:
		return floatToFixed(v.Float64(), fixedDivScale)
	default:
		panic("toFixedValue: not numeric")
	}
}

func floatToFixed(f float64, scale int) *Fixed {
	neg := f < 0
	if neg {
		f = -f
	}
	scaled := f
	for i := 0; i < scale; i++ {
		scaled *= 10
	}
	u, _ := big.NewFloat(scaled).Int(nil)
	if neg {
		u.Neg(u)
	}
	return &Fixed{Unscaled: u, Scale: scale}
}

func arithFixed(op Opcode, a, b *Fixed, loc SourceLoc) Value {
	switch op {
	case OpADD, OpSUB:
		scale := a.Scale
		if b.Scale > scale {
			scale = b.Scale
		}
		aa, bb := a.rescale(scale), b.rescale(scale)
		u := new(big.Int)
		if op == OpADD {
			u.Add(aa.Unscaled, bb.Unscaled)
		} else {
			u.Sub(aa.Unscaled, bb.Unscaled)
		}
		return FromFixed(&Fixed{Unscaled: u, Scale: scale})

	case OpMUL:
		u := new(big.Int).Mul(a.Unscaled, b.Unscaled)
		return FromFixed(&Fixed{Unscaled: u, Scale: a.Scale + b.Scale})

	case OpDIV:
		if b.Unscaled.Sign() == 0 {
			throwVM(arithmeticErrorf(loc, "division by zero"))
		}
		return FromFixed(fixedDiv(a, b))

	case OpMOD:
		if b.Unscaled.Sign() == 0 {
			throwVM(arithmeticErrorf(loc, "division by zero"))
		}
		scale := a.Scale
		if b.Scale > scale {
			scale = b.Scale
		}
		aa, bb := a.rescale(scale), b.rescale(scale)
		m := new(big.Int).Rem(aa.Unscaled, bb.Unscaled)
		return FromFixed(&Fixed{Unscaled: m, Scale: scale})

	case OpPOW:
		if b.Scale != 0 {
			throwVM(arithmeticErrorf(loc, "fixed exponent must be integral"))
		}
		exp := b.Unscaled.Int64()
		if exp < 0 {
			throwVM(arithmeticErrorf(loc, "negative exponent for fixed power"))
		}
		result := big.NewInt(1)
		for i := int64(0); i < exp; i++ {
			result.Mul(result, a.Unscaled)
		}
		return FromFixed(&Fixed{Unscaled: result, Scale: a.Scale * int(exp)})
	}
	panic("unreachable")
}

// fixedDiv divides a/b to fixedDivScale additional fractional digits,
// rounding half to even (spec.md §9).
func fixedDiv(a, b *Fixed) *Fixed {
	scale := a.Scale + fixedDivScale
	num := new(big.Int).Mul(a.Unscaled, pow10(fixedDivScale+b.Scale))
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(num, b.Unscaled, r)
	r.Abs(r)
	twiceR := new(big.Int).Lsh(r, 1)
	absDenom := new(big.Int).Abs(b.Unscaled)
	switch twiceR.Cmp(absDenom) {
	case 1:
		roundAwayFromZero(q, num, b.Unscaled)
	case 0:
		if q.Bit(0) == 1 {
			roundAwayFromZero(q, num, b.Unscaled)
		}
	}
	return &Fixed{Unscaled: q, Scale: scale}
}

func roundAwayFromZero(q, num, denom *big.Int) {
	if (num.Sign() < 0) != (denom.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	} else {
		q.Add(q, big.NewInt(1))
	}
}

func arithFloat(op Opcode, a, b float64, loc SourceLoc) Value {
	switch op {
	case OpADD:
		return FromFloat64(a + b)
	case OpSUB:
		return FromFloat64(a - b)
	case OpMUL:
		return FromFloat64(a * b)
	case OpDIV:
		if b == 0 {
			throwVM(arithmeticErrorf(loc, "division by zero"))
		}
		return FromFloat64(a / b)
	case OpMOD:
		if b == 0 {
			throwVM(arithmeticErrorf(loc, "division by zero"))
		}
		r := a - b*float64(int64(a/b))
		return FromFloat64(r)
	case OpPOW:
		return FromFloat64(math.Pow(a, b))
	}
	panic("unreachable")
}

func arithInt(op Opcode, a, b Value, loc SourceLoc) Value {
	w := widerWidth(a.IntWidth(), b.IntWidth())
	aa, bb := bigIntOf(a), bigIntOf(b)
	var r big.Int
	switch op {
	case OpADD:
		r.Add(aa, bb)
	case OpSUB:
		r.Sub(aa, bb)
	case OpMUL:
		r.Mul(aa, bb)
	case OpDIV:
		if bb.Sign() == 0 {
			throwVM(arithmeticErrorf(loc, "division by zero"))
		}
		r.Quo(aa, bb)
	case OpMOD:
		if bb.Sign() == 0 {
			throwVM(arithmeticErrorf(loc, "division by zero"))
		}
		r.Rem(aa, bb)
	case OpPOW:
		if bb.Sign() < 0 {
			throwVM(arithmeticErrorf(loc, "negative exponent for integer power"))
		}
		r.Exp(aa, bb, nil)
	}
	return fromBigInt(&r, w)
}

func fromBigInt(x *big.Int, w IntWidth) Value {
	mask := new(big.Int).SetUint64(widthMask(w))
	var u big.Int
	u.And(x, mask)
	return Value{kind: KInt, iw: w, i: u.Uint64()}
}

// compareOp implements EQ/NE/LT/LE/GT/GE. EQ/NE are same-kind only
// (Equal); the ordering comparisons use the cross-type ordering law.
func compareOp(op Opcode, a, b Value) Value {
	switch op {
	case OpEQ:
		return FromBool(Equal(a, b))
	case OpNE:
		return FromBool(!Equal(a, b))
	case OpLT:
		return FromBool(Compare(a, b) < 0)
	case OpLE:
		return FromBool(Compare(a, b) <= 0)
	case OpGT:
		return FromBool(Compare(a, b) > 0)
	case OpGE:
		return FromBool(Compare(a, b) >= 0)
	}
	panic("unreachable")
}

func bitwiseOp(op Opcode, a, b Value, loc SourceLoc) Value {
	if !a.IsInt() || !b.IsInt() {
		throwVM(typeErrorf(loc, "%s requires integer operands, got %s and %s", op, a.TypeName(), b.TypeName()))
	}
	w := widerWidth(a.IntWidth(), b.IntWidth())
	x, y := a.AsUint64()&widthMask(w), b.AsUint64()&widthMask(w)
	var r uint64
	switch op {
	case OpBAND:
		r = x & y
	case OpBOR:
		r = x | y
	case OpBXOR:
		r = x ^ y
	}
	return Value{kind: KInt, iw: w, i: r & widthMask(w)}
}

func bitwiseNot(v Value, loc SourceLoc) Value {
	if !v.IsInt() {
		throwVM(typeErrorf(loc, "BNOT requires an integer operand, got %s", v.TypeName()))
	}
	w := v.IntWidth()
	return Value{kind: KInt, iw: w, i: (^v.AsUint64()) & widthMask(w)}
}

// CastType identifies a CAST opcode's target type. The first eight
// values line up with IntWidth's own encoding so int casts need no
// translation table.
type CastType byte

const (
	CastI8 CastType = iota
	CastI16
	CastI32
	CastI64
	CastU8
	CastU16
	CastU32
	CastU64
	CastFloat
	CastFixed
	CastString
	CastBool
)

// castTo implements CAST T (§4.2): coerce v to t, failing with an
// ArithmeticError on overflowing int narrowing.
func castTo(v Value, t CastType, loc SourceLoc) Value {
	if t <= CastU64 {
		return castToInt(v, IntWidth(t), loc)
	}
	switch t {
	case CastFloat:
		return FromFloat64(castToFloat(v, loc))
	case CastFixed:
		if !v.IsNumeric() {
			throwVM(typeErrorf(loc, "cannot cast %s to fixed", v.TypeName()))
		}
		return FromFixed(toFixedValue(v))
	case CastString:
		return FromString(Display(v))
	case CastBool:
		return FromBool(v.IsTruthy())
	default:
		throwVM(typeErrorf(loc, "unknown cast type %d", byte(t)))
		panic("unreachable")
	}
}

func castToInt(v Value, w IntWidth, loc SourceLoc) Value {
	var bi *big.Int
	switch v.Kind() {
	case KInt:
		bi = bigIntOf(v)
	case KFloat:
		bi = big.NewInt(int64(v.Float64()))
	case KFixed:
		bi = new(big.Int).Quo(v.AsFixed().Unscaled, pow10(v.AsFixed().Scale))
	case KBool:
		bi = big.NewInt(int64(boolToInt(v.Bool())))
	default:
		throwVM(typeErrorf(loc, "cannot cast %s to %s", v.TypeName(), w.TypeName()))
		panic("unreachable")
	}
	if !fitsWidth(bi, w) {
		throwVM(arithmeticErrorf(loc, "overflow casting %s to %s", bi.String(), w.TypeName()))
	}
	if w.Signed() {
		return FromInt(bi.Int64(), w)
	}
	return FromUint(bi.Uint64(), w)
}

func fitsWidth(x *big.Int, w IntWidth) bool {
	bits := uint(w.Bits())
	if w.Signed() {
		max := new(big.Int).Lsh(big.NewInt(1), bits-1)
		min := new(big.Int).Neg(max)
		maxInc := new(big.Int).Sub(max, big.NewInt(1))
		return x.Cmp(min) >= 0 && x.Cmp(maxInc) <= 0
	}
	max := new(big.Int).Lsh(big.NewInt(1), bits)
	maxInc := new(big.Int).Sub(max, big.NewInt(1))
	return x.Sign() >= 0 && x.Cmp(maxInc) <= 0
}

func castToFloat(v Value, loc SourceLoc) float64 {
	switch v.Kind() {
	case KInt:
		return float64(v.AsInt64())
	case KFloat:
		return v.Float64()
	case KFixed:
		return v.AsFixed().Float64()
	case KBool:
		if v.Bool() {
			return 1
		}
		return 0
	default:
		throwVM(typeErrorf(loc, "cannot cast %s to float", v.TypeName()))
		panic("unreachable")
	}
}
