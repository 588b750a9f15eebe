package vm

import "testing"

func TestLabelDefinedTracksMark(t *testing.T) {
	b := NewBytecodeBuilder()
	lbl := b.NewLabel()
	if lbl.Defined() {
		t.Fatal("a fresh label must not be Defined")
	}
	b.Mark(lbl)
	if !lbl.Defined() {
		t.Fatal("Mark must set Defined")
	}
}

func TestMarkPanicsOnDoubleResolve(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Mark to panic when called twice on the same label")
		}
	}()
	b := NewBytecodeBuilder()
	lbl := b.NewLabel()
	b.Mark(lbl)
	b.Mark(lbl)
}

func TestEmitJumpForwardReferenceResolves(t *testing.T) {
	b := NewBytecodeBuilder()
	lbl := b.NewLabel()
	b.EmitJump(OpJMP, lbl)
	b.Emit(OpNOP)
	b.Mark(lbl)
	b.Emit(OpRET)

	code := b.Bytes()
	r := NewBytecodeReader(code)
	if op := r.ReadOpcode(); op != OpJMP {
		t.Fatalf("first opcode = %v, want OpJMP", op)
	}
	offset := r.ReadInt16()
	target := r.Position() + int(offset)
	if code[target] != byte(OpRET) {
		t.Errorf("jump target byte = %#x, want OpRET (%#x)", code[target], byte(OpRET))
	}
}

func TestEmitJumpBackwardReferenceResolves(t *testing.T) {
	b := NewBytecodeBuilder()
	head := b.NewLabel()
	b.Mark(head)
	b.Emit(OpNOP)
	b.EmitJump(OpJMP, head)

	code := b.Bytes()
	r := NewBytecodeReader(code)
	r.ReadOpcode() // NOP
	if op := r.ReadOpcode(); op != OpJMP {
		t.Fatalf("second opcode = %v, want OpJMP", op)
	}
	offset := r.ReadInt16()
	target := r.Position() + int(offset)
	if target != 0 {
		t.Errorf("backward jump target = %d, want 0", target)
	}
}

func TestBytecodeReaderRoundTripsOperandWidths(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt(W64, 12345)
	b.EmitUint16(OpREF, 999)
	b.EmitCall(0xdeadbeef, 3)

	r := NewBytecodeReader(b.Bytes())

	if op := r.ReadOpcode(); op != OpPushInt {
		t.Fatalf("opcode = %v, want OpPushInt", op)
	}
	if w := IntWidth(r.ReadByte()); w != W64 {
		t.Errorf("width = %v, want W64", w)
	}
	if v := r.ReadUint64(); v != 12345 {
		t.Errorf("int operand = %d, want 12345", v)
	}

	if op := r.ReadOpcode(); op != OpREF {
		t.Fatalf("opcode = %v, want OpREF", op)
	}
	if v := r.ReadUint16(); v != 999 {
		t.Errorf("ref index = %d, want 999", v)
	}

	if op := r.ReadOpcode(); op != OpCALL {
		t.Fatalf("opcode = %v, want OpCALL", op)
	}
	if v := r.ReadUint64(); v != 0xdeadbeef {
		t.Errorf("callee id = %#x, want %#x", v, 0xdeadbeef)
	}
	if v := r.ReadByte(); v != 3 {
		t.Errorf("argc = %d, want 3", v)
	}
}

func TestHasMoreReflectsPosition(t *testing.T) {
	r := NewBytecodeReader([]byte{byte(OpNOP)})
	if !r.HasMore() {
		t.Fatal("expected HasMore true before reading")
	}
	r.ReadOpcode()
	if r.HasMore() {
		t.Fatal("expected HasMore false after consuming the only byte")
	}
}

func TestDisassembleInstructionFormatsJump(t *testing.T) {
	b := NewBytecodeBuilder()
	lbl := b.NewLabel()
	b.EmitJump(OpJMPF, lbl)
	b.Mark(lbl)

	r := NewBytecodeReader(b.Bytes())
	out := DisassembleInstruction(r)
	if out == "" {
		t.Fatal("expected a non-empty disassembly line")
	}
}
