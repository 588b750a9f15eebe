package vm

import (
	"math/big"
	"testing"
)

func TestIntWidthRoundTrip(t *testing.T) {
	cases := []struct {
		w    IntWidth
		n    int64
		want int64
	}{
		{W8, 127, 127},
		{W8, -128, -128},
		{W8, 255, -1}, // wraps into signed i8
		{WU8, 255, 255},
		{W16, -1, -1},
		{W64, -1, -1},
	}
	for _, c := range cases {
		v := FromInt(c.n, c.w)
		if got := v.AsInt64(); got != c.want {
			t.Errorf("FromInt(%d, %v).AsInt64() = %d, want %d", c.n, c.w, got, c.want)
		}
	}
}

func TestIntWidthTypeName(t *testing.T) {
	v := FromInt(5, WU32)
	if got := v.TypeName(); got != "u32" {
		t.Errorf("TypeName() = %q, want u32", got)
	}
}

func TestTruthiness(t *testing.T) {
	truthy := []Value{
		True, FromInt(1, W64), FromFloat64(1.5), FromString("x"),
		FromArray(&Array{Items: []Value{Nil}}),
	}
	for _, v := range truthy {
		if !v.IsTruthy() {
			t.Errorf("%v should be truthy", v)
		}
	}
	falsy := []Value{
		Nil, False, FromInt(0, W64), FromFloat64(0), FromString(""),
		FromArray(NewArray(0)), FromObject(NewObject()),
	}
	for _, v := range falsy {
		if v.IsTruthy() {
			t.Errorf("%v should be falsy", v)
		}
	}
}

func TestCompareTypeOrdering(t *testing.T) {
	// Array > String > Fixed > Float > Int > Bool > {Object, Function, Range}
	arr := FromArray(NewArray(0))
	str := FromString("a")
	fix := FromFixed(&Fixed{Unscaled: big.NewInt(1), Scale: 0})
	flt := FromFloat64(1)
	i := FromInt(1, W64)
	b := True
	obj := FromObject(NewObject())

	order := []Value{obj, b, i, flt, fix, str, arr}
	for i := 0; i < len(order)-1; i++ {
		if Compare(order[i], order[i+1]) >= 0 {
			t.Errorf("expected %v < %v in type ordering", order[i], order[i+1])
		}
	}
}

func TestCompareFixedNumericValue(t *testing.T) {
	a := FromFixed(&Fixed{Unscaled: big.NewInt(150), Scale: 2}) // 1.50
	b := FromFixed(&Fixed{Unscaled: big.NewInt(25), Scale: 1})  // 2.50
	if Compare(a, b) >= 0 {
		t.Error("expected 1.50 < 2.50")
	}
	if Compare(b, a) <= 0 {
		t.Error("expected 2.50 > 1.50")
	}
}

func TestCompareFixedEqualAcrossScales(t *testing.T) {
	a := FromFixed(&Fixed{Unscaled: big.NewInt(150), Scale: 2}) // 1.50
	b := FromFixed(&Fixed{Unscaled: big.NewInt(15), Scale: 1})  // 1.5
	if Compare(a, b) != 0 {
		t.Errorf("expected 1.50 == 1.5 regardless of scale, got Compare = %d", Compare(a, b))
	}
	if !Equal(a, b) {
		t.Error("expected Equal(1.50, 1.5) to be true")
	}
}

func TestEqualDistinguishesDifferentFixedValues(t *testing.T) {
	a := FromFixed(&Fixed{Unscaled: big.NewInt(150), Scale: 2}) // 1.50
	b := FromFixed(&Fixed{Unscaled: big.NewInt(151), Scale: 2}) // 1.51
	if Equal(a, b) {
		t.Error("expected Equal(1.50, 1.51) to be false")
	}
}

func TestCompareIntMixedWidth(t *testing.T) {
	a := FromInt(200, WU8)
	b := FromInt(-1, W8)
	if Compare(a, b) <= 0 {
		t.Errorf("expected 200 (u8) > -1 (i8)")
	}
}

func TestEqualDistinguishesIntFromFloat(t *testing.T) {
	if Equal(FromInt(2, W64), FromFloat64(2)) {
		t.Error("Int(2) should not equal Float(2.0) under spec's same-kind equality")
	}
}

func TestObjectKeyDistinguishesTaggedTypes(t *testing.T) {
	o := NewObject()
	o.Set(FromInt(0, W64), FromString("int-zero"))
	o.Set(False, FromString("bool-false"))
	o.Set(FromFloat64(0), FromString("float-zero"))
	if o.Len() != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", o.Len())
	}
	if v, ok := o.Get(FromInt(0, W64)); !ok || v.Str() != "int-zero" {
		t.Errorf("lookup by Int(0) failed: %v %v", v, ok)
	}
}

func TestObjectPreservesInsertionOrderAcrossDelete(t *testing.T) {
	o := NewObject()
	o.Set(FromString("a"), FromInt(1, W64))
	o.Set(FromString("b"), FromInt(2, W64))
	o.Set(FromString("c"), FromInt(3, W64))
	o.Delete(FromString("b"))
	keys := o.Keys()
	if len(keys) != 2 || keys[0].Str() != "a" || keys[1].Str() != "c" {
		t.Errorf("unexpected key order after delete: %v", keys)
	}
	if v, ok := o.Get(FromString("c")); !ok || v.AsInt64() != 3 {
		t.Errorf("lookup after delete failed: %v %v", v, ok)
	}
}

func TestFixedArithmeticScaling(t *testing.T) {
	f := &Fixed{Unscaled: big.NewInt(12340), Scale: 3} // 12.340
	if got := f.String(); got != "12.340" {
		t.Errorf("String() = %q, want 12.340", got)
	}
	r := f.rescale(5)
	if got := r.String(); got != "12.34000" {
		t.Errorf("rescale(5).String() = %q, want 12.34000", got)
	}
}

func TestFixedNegative(t *testing.T) {
	f := &Fixed{Unscaled: big.NewInt(-500), Scale: 2}
	if got := f.String(); got != "-5.00" {
		t.Errorf("String() = %q, want -5.00", got)
	}
}

func TestRangeIntLenAndAt(t *testing.T) {
	r := &Range{Lo: FromInt(3, W64), Hi: FromInt(7, W64)}
	if got := r.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
	if got := r.At(2).AsInt64(); got != 5 {
		t.Errorf("At(2) = %d, want 5", got)
	}
}

func TestRangeCharLenAndAt(t *testing.T) {
	r := &Range{Lo: FromString("a"), Hi: FromString("e"), IsChar: true}
	if got := r.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
	if got := r.At(2).Str(); got != "c" {
		t.Errorf("At(2) = %q, want c", got)
	}
}

func TestDisplayQuotesStringsInContainers(t *testing.T) {
	arr := FromArray(&Array{Items: []Value{FromInt(1, W64), FromString("a")}})
	if got := Display(arr); got != `[1, "a"]` {
		t.Errorf("Display(arr) = %q, want [1, \"a\"]", got)
	}
	if got := Display(FromString("bare")); got != "bare" {
		t.Errorf("Display(string) = %q, want unquoted bare", got)
	}
}

func TestDisplayObject(t *testing.T) {
	o := NewObject()
	o.Set(FromString("k"), FromInt(1, W64))
	if got := Display(FromObject(o)); got != `{"k": 1}` {
		t.Errorf("Display(object) = %q, want {\"k\": 1}", got)
	}
}
