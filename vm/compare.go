package vm

import (
	"fmt"
	"math/big"
	"strings"
)

// IsTruthy implements spec.md §3: non-zero numbers, non-empty
// collections/strings, and true are truthy; everything else (including
// Nil) is false.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KNil:
		return false
	case KBool:
		return v.b
	case KInt:
		return v.i != 0
	case KFloat:
		return v.f != 0
	case KFixed:
		return v.fixed.Unscaled.Sign() != 0
	case KString:
		return len(v.str.Runes) > 0
	case KArray:
		return len(v.arr.Items) > 0
	case KObject:
		return v.obj.Len() > 0
	default:
		// Range, Function, Regex: always truthy (no notion of "empty").
		return true
	}
}

// tier returns the spec.md §3 cross-type ordering tier: Array > String
// > Fixed > Float > Int > Bool > {Object, Function, Range}. Fixed sits
// above Float, mirroring the arithmetic promotion order (Fixed > Float
// > Int) since the ordering law doesn't separately pin it down. Higher
// tier sorts later ("greater").
func (v Value) tier() int {
	switch v.kind {
	case KArray:
		return 7
	case KString:
		return 6
	case KFixed:
		return 5
	case KFloat:
		return 4
	case KInt:
		return 3
	case KBool:
		return 2
	case KObject:
		return 1
	case KFunction:
		return 1
	case KRange:
		return 1
	default: // Nil, Regex: below everything, stable among themselves
		return 0
	}
}

// Compare orders a and b per spec.md §3's type-ordering law. It is a
// total order used by SORT and by the LT/LE/GT/GE opcodes; EQ/NE go
// through Equal instead.
func Compare(a, b Value) int {
	ta, tb := a.tier(), b.tier()
	if ta != tb {
		return ta - tb
	}
	switch a.kind {
	case KArray:
		return compareArrays(a.arr, b.arr)
	case KString:
		return strings.Compare(string(a.str.Runes), string(b.str.Runes))
	case KFixed:
		return compareFixed(a.fixed, b.fixed)
	case KFloat:
		return compareFloat(floatOf(a), floatOf(b))
	case KInt:
		return compareInt(a, b)
	case KBool:
		return boolToInt(a.b) - boolToInt(b.b)
	case KObject, KFunction, KRange:
		// Same combined tier but different kinds: break ties by kind,
		// then by each type's own natural order.
		if a.kind != b.kind {
			return int(a.kind) - int(b.kind)
		}
		switch a.kind {
		case KRange:
			if c := compareValuesNumericOrChar(a.rng.Lo, b.rng.Lo); c != 0 {
				return c
			}
			return compareValuesNumericOrChar(a.rng.Hi, b.rng.Hi)
		case KFunction:
			if a.fn.ID < b.fn.ID {
				return -1
			} else if a.fn.ID > b.fn.ID {
				return 1
			}
			return 0
		default: // KObject
			if a.obj.Len() != b.obj.Len() {
				return a.obj.Len() - b.obj.Len()
			}
			for i, k := range a.obj.keys {
				if c := Compare(k, b.obj.keys[i]); c != 0 {
					return c
				}
				if c := Compare(a.obj.vals[i], b.obj.vals[i]); c != 0 {
					return c
				}
			}
			return 0
		}
	default: // Nil, Regex
		return 0
	}
}

func compareValuesNumericOrChar(a, b Value) int {
	if a.kind == KString {
		return strings.Compare(a.Str(), b.Str())
	}
	return compareInt(a, b)
}

func floatOf(v Value) float64 {
	if v.kind == KFloat {
		return v.f
	}
	return 0
}

// compareFixed compares two Fixed values numerically by rescaling both
// to their common (larger) scale before comparing unscaled magnitudes.
func compareFixed(a, b *Fixed) int {
	scale := a.Scale
	if b.Scale > scale {
		scale = b.Scale
	}
	return a.rescale(scale).Unscaled.Cmp(b.rescale(scale).Unscaled)
}

func compareFloat(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareInt(a, b Value) int {
	// Compare via big.Int so mixed signed/unsigned widths never wrap.
	ab := bigIntOf(a)
	bb := bigIntOf(b)
	return ab.Cmp(bb)
}

func bigIntOf(v Value) *big.Int {
	if v.iw.Signed() {
		return big.NewInt(v.AsInt64())
	}
	return new(big.Int).SetUint64(v.AsUint64())
}

func compareArrays(a, b *Array) int {
	n := len(a.Items)
	if len(b.Items) < n {
		n = len(b.Items)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a.Items[i], b.Items[i]); c != 0 {
			return c
		}
	}
	return len(a.Items) - len(b.Items)
}

// Equal reports structural/value equality under spec.md §3 ordering
// (EQ is defined as Compare == 0 for comparable tiers, but Nil/Regex
// and cross-kind Object/Function/Range need explicit same-kind checks
// since they don't have a meaningful natural order across kinds).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// Numeric cross-kind equality (2 == 2.0) is intentionally not
		// implied by spec.md; EQ compares like-kind or falls back to
		// the ordering law, which already separates tiers by kind.
		return false
	}
	switch a.kind {
	case KNil:
		return true
	case KRegex:
		return a.regex == b.regex
	default:
		return Compare(a, b) == 0
	}
}

// Display renders v for PRNT/string-concatenation/debug purposes.
func Display(v Value) string {
	switch v.kind {
	case KNil:
		return "nil"
	case KBool:
		if v.b {
			return "true"
		}
		return "false"
	case KInt:
		if v.iw.Signed() {
			return fmt.Sprintf("%d", v.AsInt64())
		}
		return fmt.Sprintf("%d", v.AsUint64())
	case KFloat:
		return fmt.Sprintf("%g", v.f)
	case KFixed:
		return v.fixed.String()
	case KString:
		return string(v.str.Runes)
	case KArray:
		parts := make([]string, len(v.arr.Items))
		for i, it := range v.arr.Items {
			parts[i] = displayInContainer(it)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KObject:
		parts := make([]string, v.obj.Len())
		for i, k := range v.obj.keys {
			parts[i] = fmt.Sprintf("%s: %s", displayInContainer(k), displayInContainer(v.obj.vals[i]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KRange:
		return fmt.Sprintf("%s..%s", displayInContainer(v.rng.Lo), displayInContainer(v.rng.Hi))
	case KFunction:
		return fmt.Sprintf("<function %016x>", v.fn.ID)
	case KRegex:
		return "/" + v.regex.Pattern + "/" + v.regex.Flags
	default:
		return "?"
	}
}

// displayInContainer quotes strings when nested inside an array/object
// so that [1, "a"] doesn't read as [1, a].
func displayInContainer(v Value) string {
	if v.kind == KString {
		return fmt.Sprintf("%q", string(v.str.Runes))
	}
	return Display(v)
}
