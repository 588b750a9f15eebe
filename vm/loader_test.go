package vm

import "testing"

func fn(id uint64, params int, code []byte) *FuncEntry {
	ps := make([]ParamSpec, params)
	for i := range ps {
		ps[i] = ParamSpec{Name: "p"}
	}
	return &FuncEntry{ID: id, Name: "f", Params: ps, Code: code}
}

func TestVerifyDuplicateFuncID(t *testing.T) {
	img := &Image{Functions: []*FuncEntry{
		fn(1, 0, []byte{byte(OpRET)}),
		fn(1, 0, []byte{byte(OpRET)}),
	}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for duplicate function ids")
	}
}

func TestVerifyUnknownEntryID(t *testing.T) {
	img := &Image{
		Functions:   []*FuncEntry{fn(1, 0, []byte{byte(OpRET)})},
		EntryFuncID: 2,
	}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for an entry id with no matching function")
	}
}

func TestVerifyJumpOutOfBounds(t *testing.T) {
	b := NewBytecodeBuilder()
	lbl := b.NewLabel()
	b.EmitJump(OpJMP, lbl)
	code := b.Bytes()
	// Corrupt the 2-byte relative offset so it points past the function.
	code[len(code)-1] = 0x7F
	code[len(code)-2] = 0x7F

	img := &Image{Functions: []*FuncEntry{fn(1, 0, code)}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for an out-of-bounds jump target")
	}
}

func TestVerifySCIWithoutSCO(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpSCI)
	b.Emit(OpRET)
	img := &Image{Functions: []*FuncEntry{fn(1, 0, b.Bytes())}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for an unclosed SCI scope")
	}
}

func TestVerifySCOWithoutSCI(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpSCO)
	img := &Image{Functions: []*FuncEntry{fn(1, 0, b.Bytes())}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for SCO with no matching SCI")
	}
}

func TestVerifyBalancedScopes(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpSCI)
	b.Emit(OpSCO)
	b.Emit(OpRET)
	img := &Image{Functions: []*FuncEntry{fn(1, 0, b.Bytes())}}
	if err := Verify(img); err != nil {
		t.Fatalf("expected balanced SCI/SCO to pass, got %v", err)
	}
}

func TestVerifyJMPNEWithoutPrecedingNEXT(t *testing.T) {
	b := NewBytecodeBuilder()
	lbl := b.NewLabel()
	b.EmitJump(OpJMPNE, lbl)
	b.Mark(lbl)
	b.Emit(OpRET)
	img := &Image{Functions: []*FuncEntry{fn(1, 0, b.Bytes())}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for JMPNE with no preceding NEXT")
	}
}

func TestVerifyJMPNEAfterNEXT(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpNEXT)
	lbl := b.NewLabel()
	b.EmitJump(OpJMPNE, lbl)
	b.Mark(lbl)
	b.Emit(OpRET)
	img := &Image{Functions: []*FuncEntry{fn(1, 0, b.Bytes())}}
	if err := Verify(img); err != nil {
		t.Fatalf("expected NEXT-then-JMPNE to pass, got %v", err)
	}
}

func TestVerifyCallUnknownCallee(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitCall(0xdead, 0)
	b.Emit(OpRET)
	img := &Image{Functions: []*FuncEntry{fn(1, 0, b.Bytes())}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for a CALL to an id not in the image")
	}
}

func TestVerifyCallArityMismatch(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitCall(2, 1)
	b.Emit(OpRET)
	callee := fn(2, 0, []byte{byte(OpRET)}) // takes 0 params, CALL passes 1
	img := &Image{Functions: []*FuncEntry{fn(1, 0, b.Bytes()), callee}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for CALL argc not matching callee arity")
	}
}

func TestVerifyUnknownOpcode(t *testing.T) {
	img := &Image{Functions: []*FuncEntry{fn(1, 0, []byte{0xFE})}}
	if err := Verify(img); err == nil {
		t.Fatal("expected an error for an unknown opcode")
	}
}

func TestLoadInstallsFunctions(t *testing.T) {
	callee := fn(2, 0, []byte{byte(OpPushTrue), byte(OpRET)})
	img := &Image{Functions: []*FuncEntry{callee}, EntryFuncID: 2}
	reg, interp, err := Load(img)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reg.Lookup(2) == nil {
		t.Fatal("expected function 2 to be installed in the registry")
	}
	result, err := interp.Run(2, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.IsTruthy() {
		t.Errorf("expected a truthy result, got %v", result)
	}
}
