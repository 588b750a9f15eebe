package vm

import "testing"

func buildAndInstall(t *testing.T, reg *Registry, id uint64, params []ParamSpec, code []byte) {
	t.Helper()
	if err := reg.Install(&FuncEntry{ID: id, Name: "fn", Params: params, Code: code}); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
}

func TestRunArithmetic(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 2)
	b.EmitInt(W64, 3)
	b.Emit(OpADD)
	b.EmitInt(W64, 4)
	b.Emit(OpMUL)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, nil, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.AsInt64(); got != 20 {
		t.Errorf("(2+3)*4 = %d, want 20", got)
	}
}

func TestRunRefWriteReadDeref(t *testing.T) {
	consts := []Value{FromString("x")}
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 10) // value
	b.EmitUint16(OpREF, 0)
	b.Emit(OpWREF)
	b.Emit(OpPOP)
	b.EmitUint16(OpREF, 0)
	b.Emit(OpDEREF)
	b.EmitInt(W64, 5)
	b.Emit(OpADD)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.AsInt64(); got != 15 {
		t.Errorf("x=10, x+5 = %d, want 15", got)
	}
}

func TestRunCallUserFunction(t *testing.T) {
	consts := []Value{FromString("a"), FromString("b")}

	// add(a, b): REF a; DEREF; REF b; DEREF; ADD; RET
	addB := NewBytecodeBuilder()
	addB.EmitUint16(OpREF, 0)
	addB.Emit(OpDEREF)
	addB.EmitUint16(OpREF, 1)
	addB.Emit(OpDEREF)
	addB.Emit(OpADD)
	addB.Emit(OpRET)

	// main(): PUSH 2; PUSH 3; CALL add 2; RET
	mainB := NewBytecodeBuilder()
	mainB.EmitInt(W64, 2)
	mainB.EmitInt(W64, 3)
	mainB.EmitCall(42, 2)
	mainB.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 42, []ParamSpec{{Name: "a"}, {Name: "b"}}, addB.Bytes())
	buildAndInstall(t, reg, 1, nil, mainB.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.AsInt64(); got != 5 {
		t.Errorf("add(2, 3) = %d, want 5", got)
	}
}

func TestRunJumpIfFalseSkipsThen(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpPushFalse)
	skip := b.NewLabel()
	b.EmitJump(OpJMPF, skip)
	b.EmitInt(W64, 1) // skipped
	b.Emit(OpRET)
	b.Mark(skip)
	b.EmitInt(W64, 2)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, nil, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.AsInt64(); got != 2 {
		t.Errorf("expected the else branch's 2, got %d", got)
	}
}

func TestRunComprehensionDoublesEachElement(t *testing.T) {
	consts := []Value{FromString("a"), FromString("$iter"), FromString("$coll")}
	const cA, cIter, cColl = 0, 1, 2

	b := NewBytecodeBuilder()

	// a = []
	b.EmitUint16(OpMKAR, 0)
	b.EmitUint16(OpREF, cA)
	b.Emit(OpWREF)
	b.Emit(OpPOP)

	appendLiteral := func(n int64) {
		b.EmitInt(W64, uint64(n))
		b.EmitUint16(OpREF, cA)
		b.Emit(OpDEREF)
		b.Emit(OpIDXA)
		b.Emit(OpWREF)
		b.Emit(OpPOP)
	}
	appendLiteral(1)
	appendLiteral(2)
	appendLiteral(3)

	// $iter = a
	b.EmitUint16(OpREF, cA)
	b.Emit(OpDEREF)
	b.EmitUint16(OpREF, cIter)
	b.Emit(OpWREF)
	b.Emit(OpPOP)

	// $coll = []
	b.EmitUint16(OpMKAR, 0)
	b.EmitUint16(OpREF, cColl)
	b.Emit(OpWREF)
	b.Emit(OpPOP)

	loopHead := b.NewLabel()
	b.Mark(loopHead)
	b.EmitUint16(OpREF, cIter) // Reference, for NEXT
	b.Emit(OpNEXT)
	b.Emit(OpSCI)
	b.EmitInt(W64, 2)
	b.Emit(OpMUL)
	b.Emit(OpPSAR)
	b.Emit(OpSCO)
	b.EmitUint16(OpREF, cIter)
	b.Emit(OpDEREF)
	b.EmitJump(OpJMPNE, loopHead)

	b.EmitUint16(OpREF, cColl)
	b.Emit(OpDEREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.IsArray() {
		t.Fatalf("expected an array result, got %v", result)
	}
	items := result.AsArray().Items
	want := []int64{2, 4, 6}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, v := range want {
		if items[i].AsInt64() != v {
			t.Errorf("items[%d] = %d, want %d", i, items[i].AsInt64(), v)
		}
	}
}

func TestRunSyscallLen(t *testing.T) {
	consts := []Value{FromString("hello")}
	b := NewBytecodeBuilder()
	b.EmitUint16(OpPushConst, 0)
	b.EmitSyscall(SysLen, 1)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, true)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.AsInt64(); got != 5 {
		t.Errorf("LEN(\"hello\") = %d, want 5", got)
	}
}

func TestRunSyscallRejectedWithoutAllowSyscalld(t *testing.T) {
	consts := []Value{FromString("hello")}
	b := NewBytecodeBuilder()
	b.EmitUint16(OpPushConst, 0)
	b.EmitSyscall(SysLen, 1)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	if _, err := interp.Run(1, nil); err == nil {
		t.Fatal("expected an error when SYSCALL runs on an image with syscalls disallowed")
	}
}

func TestWouldErrCatchesThrownErrorLocally(t *testing.T) {
	throws := NewBytecodeBuilder()
	throws.EmitInt(W64, 1)
	throws.EmitInt(W64, 0)
	throws.Emit(OpDIV)
	throws.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 99, nil, throws.Bytes())
	interp := NewInterpreter(reg, nil, false)

	got := interp.dispatchSyscall(SysWouldErr, []Value{FromFunction(&Function{ID: 99})}, SourceLoc{})
	if got != True {
		t.Errorf("would_err(divide-by-zero) = %v, want true", got)
	}
	if len(interp.frames) != 0 || len(interp.opstack) != 0 {
		t.Errorf("would_err must roll back frames/opstack after catching, got frames=%d opstack=%d",
			len(interp.frames), len(interp.opstack))
	}
}

func TestWouldErrReturnsFalseWhenCallSucceeds(t *testing.T) {
	safe := NewBytecodeBuilder()
	safe.Emit(OpPushNil)
	safe.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 99, nil, safe.Bytes())
	interp := NewInterpreter(reg, nil, false)

	got := interp.dispatchSyscall(SysWouldErr, []Value{FromFunction(&Function{ID: 99})}, SourceLoc{})
	if got != False {
		t.Errorf("would_err(succeeds) = %v, want false", got)
	}
}

func TestWouldErrDoesNotUnwindTheCallingFrame(t *testing.T) {
	// main(fn): would_err(fn) discarded, then returns 7 — proves the
	// nested throw never reaches main's own frame, only the syscall's
	// local recover.
	throws := NewBytecodeBuilder()
	throws.EmitInt(W64, 1)
	throws.EmitInt(W64, 0)
	throws.Emit(OpDIV)
	throws.Emit(OpRET)

	consts := []Value{FromString("fn")}
	main := NewBytecodeBuilder()
	main.EmitUint16(OpREF, 0)
	main.Emit(OpDEREF)
	main.EmitSyscall(SysWouldErr, 1)
	main.Emit(OpPOP)
	main.EmitInt(W64, 7)
	main.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 99, nil, throws.Bytes())
	buildAndInstall(t, reg, 1, []ParamSpec{{Name: "fn"}}, main.Bytes())
	interp := NewInterpreter(reg, consts, true)

	result, err := interp.Run(1, []Value{FromFunction(&Function{ID: 99})})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.AsInt64(); got != 7 {
		t.Errorf("main(fn) after would_err = %d, want 7", got)
	}
}

func TestRunDivideByZeroPropagatesAsError(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 1)
	b.EmitInt(W64, 0)
	b.Emit(OpDIV)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, nil, false)

	if _, err := interp.Run(1, nil); err == nil {
		t.Fatal("expected a division-by-zero error")
	}
}

func TestRunDelCellRemovesAndRefReCreatesFresh(t *testing.T) {
	consts := []Value{FromString("x")}
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 10)
	b.EmitUint16(OpREF, 0)
	b.Emit(OpWREF)
	b.Emit(OpPOP)
	b.EmitUint16(OpREF, 0)
	b.Emit(OpDEL)
	b.Emit(OpPOP) // discard the deleted value
	b.EmitUint16(OpREF, 0)
	b.Emit(OpDEREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.IsNil() {
		t.Errorf("expected x to be Nil after DEL and re-REF, got %v", Display(result))
	}
}

func TestRunDelReturnsRemovedValue(t *testing.T) {
	consts := []Value{FromString("x")}
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 42)
	b.EmitUint16(OpREF, 0)
	b.Emit(OpWREF)
	b.Emit(OpPOP)
	b.EmitUint16(OpREF, 0)
	b.Emit(OpDEL)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.AsInt64(); got != 42 {
		t.Errorf("DEL should return the removed value 42, got %d", got)
	}
}

func TestRunDelArrayIndexShiftsDown(t *testing.T) {
	consts := []Value{FromString("arr")}
	b := NewBytecodeBuilder()
	b.EmitUint16(OpMKAR, 0)
	b.EmitUint16(OpREF, 0)
	b.Emit(OpWREF)
	b.Emit(OpPOP)

	appendLiteral := func(n int64) {
		b.EmitInt(W64, uint64(n))
		b.EmitUint16(OpREF, 0)
		b.Emit(OpDEREF)
		b.Emit(OpIDXA)
		b.Emit(OpWREF)
		b.Emit(OpPOP)
	}
	appendLiteral(1)
	appendLiteral(2)
	appendLiteral(3)

	// arr now [1,2,3]; del arr[1] -> [1,3]
	b.EmitUint16(OpREF, 0)
	b.Emit(OpDEREF)
	b.EmitInt(W64, 1)
	b.Emit(OpIDEX)
	b.Emit(OpDEL)
	b.Emit(OpPOP)

	b.EmitUint16(OpREF, 0)
	b.Emit(OpDEREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	items := result.AsArray().Items
	want := []int64{1, 3}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, v := range want {
		if items[i].AsInt64() != v {
			t.Errorf("items[%d] = %d, want %d", i, items[i].AsInt64(), v)
		}
	}
}

func TestRunDelObjectKeyDropsIt(t *testing.T) {
	consts := []Value{FromString("a"), FromString("b"), FromString("obj")}
	const cA, cB, cObj = 0, 1, 2
	b := NewBytecodeBuilder()
	b.Emit(OpMKOB)
	b.EmitUint16(OpREF, cObj)
	b.Emit(OpWREF)
	b.Emit(OpPOP)

	setKey := func(key int, val int64) {
		b.EmitInt(W64, uint64(val))
		b.EmitUint16(OpREF, cObj)
		b.Emit(OpDEREF)
		b.EmitUint16(OpPushConst, uint16(key))
		b.Emit(OpIDEX)
		b.Emit(OpWREF)
		b.Emit(OpPOP)
	}
	setKey(cA, 1)
	setKey(cB, 2)

	// del obj["a"]
	b.EmitUint16(OpREF, cObj)
	b.Emit(OpDEREF)
	b.EmitUint16(OpPushConst, cA)
	b.Emit(OpIDEX)
	b.Emit(OpDEL)
	b.Emit(OpPOP)

	b.EmitUint16(OpREF, cObj)
	b.Emit(OpDEREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	obj := result.AsObject()
	if obj.Len() != 1 {
		t.Fatalf("expected 1 key remaining after DEL, got %d", obj.Len())
	}
	if v, ok := obj.Get(FromString("b")); !ok || v.AsInt64() != 2 {
		t.Errorf("remaining key b should still map to 2, got %v %v", v, ok)
	}
	if _, ok := obj.Get(FromString("a")); ok {
		t.Error("key a should have been removed by DEL")
	}
}

func TestDelOnFunctionReturnsSignature(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Install(&FuncEntry{
		ID:     7,
		Name:   "greet",
		Params: []ParamSpec{{Name: "who", Type: "String"}},
		Return: "String",
	}); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	interp := NewInterpreter(reg, nil, false)

	got := interp.del(FromFunction(&Function{ID: 7}), SourceLoc{})
	want := "greet(String) -> String"
	if got.Str() != want {
		t.Errorf("del(function) = %q, want %q", got.Str(), want)
	}
}

func TestRunIndexStringYieldsCodepoint(t *testing.T) {
	consts := []Value{FromString("hello")}
	b := NewBytecodeBuilder()
	b.EmitUint16(OpPushConst, 0)
	b.EmitInt(W64, 1)
	b.Emit(OpIDEX)
	b.Emit(OpDEREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.Str(); got != "e" {
		t.Errorf("\"hello\"[1] = %q, want %q", got, "e")
	}
}

func TestRunWriteIntoStringIndexFails(t *testing.T) {
	consts := []Value{FromString("hello")}
	b := NewBytecodeBuilder()
	b.EmitUint16(OpPushConst, 0)
	b.EmitInt(W64, 0)
	b.Emit(OpIDEX)
	b.EmitInt(W64, 99)
	b.Emit(OpSWP)
	b.Emit(OpWREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	if _, err := interp.Run(1, nil); err == nil {
		t.Fatal("expected a type error writing into a string index")
	}
}

func TestRunIndexRangeYieldsElementReadOnly(t *testing.T) {
	interp := NewInterpreter(NewRegistry(), nil, false)

	ref := interp.indexRef(FromRange(&Range{Lo: FromInt(3, W64), Hi: FromInt(7, W64)}), FromInt(2, W64))
	if got := ref.AsRef().Read(SourceLoc{}); got.AsInt64() != 5 {
		t.Errorf("(3..7)[2] = %d, want 5", got.AsInt64())
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected DEL on a range index to throw a type error")
			}
		}()
		ref.AsRef().Delete(SourceLoc{})
	}()
}

func TestRunMKRGConstructsIntRangeAndIndexesBothEnds(t *testing.T) {
	// a = 1..5; r = []; r[] = a[0]; r[] = a[4] -> r == [1, 5]
	consts := []Value{FromString("a"), FromString("r")}
	const cA, cR = 0, 1
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 1)
	b.EmitInt(W64, 5)
	b.Emit(OpMKRG)
	b.EmitUint16(OpREF, cA)
	b.Emit(OpWREF)
	b.Emit(OpPOP)

	b.EmitUint16(OpMKAR, 0)
	b.EmitUint16(OpREF, cR)
	b.Emit(OpWREF)
	b.Emit(OpPOP)

	appendIndexed := func(i int64) {
		// push a[i] (the value), then push the r array base, IDXA -> ref, WREF
		b.EmitUint16(OpREF, cA)
		b.Emit(OpDEREF)
		b.EmitInt(W64, uint64(i))
		b.Emit(OpIDEX)
		b.Emit(OpDEREF)
		b.EmitUint16(OpREF, cR)
		b.Emit(OpDEREF)
		b.Emit(OpIDXA)
		b.Emit(OpWREF)
		b.Emit(OpPOP)
	}
	appendIndexed(0)
	appendIndexed(4)

	b.EmitUint16(OpREF, cR)
	b.Emit(OpDEREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	items := result.AsArray().Items
	if len(items) != 2 || items[0].AsInt64() != 1 || items[1].AsInt64() != 5 {
		t.Errorf("[a[0], a[4]] = %v, want [1, 5]", items)
	}
}

func TestRunMKRGRejectsMismatchedEndpointKinds(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 1)
	b.EmitUint16(OpPushConst, 0)
	b.Emit(OpMKRG)
	b.Emit(OpRET)

	consts := []Value{FromString("z")}
	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	if _, err := interp.Run(1, nil); err == nil {
		t.Fatal("expected a type error constructing a mixed Int/String range")
	}
}

func TestRunMKRGConstructsCharRange(t *testing.T) {
	consts := []Value{FromString("a"), FromString("e")}
	b := NewBytecodeBuilder()
	b.EmitUint16(OpPushConst, 0)
	b.EmitUint16(OpPushConst, 1)
	b.Emit(OpMKRG)
	b.EmitInt(W64, 2)
	b.Emit(OpIDEX)
	b.Emit(OpDEREF)
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, consts, false)

	result, err := interp.Run(1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.Str(); got != "c" {
		t.Errorf("('a'..'e')[2] = %q, want %q", got, "c")
	}
}

func TestRunRecursionDepthExceeded(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitCall(1, 0) // infinite self-recursion
	b.Emit(OpRET)

	reg := NewRegistry()
	buildAndInstall(t, reg, 1, nil, b.Bytes())
	interp := NewInterpreter(reg, nil, false)
	interp.MaxCallDepth = 8

	if _, err := interp.Run(1, nil); err == nil {
		t.Fatal("expected a recursion-depth error")
	}
}
