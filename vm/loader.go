package vm

import "fmt"

// Verify walks every function's code and rejects a malformed image with a
// single structured error, per spec.md §4.2: jump targets must land
// inside their own function, SCI/SCO must nest and balance, every JMPNE
// must come after at least one NEXT in the function's code (a NEXT with
// no JMPNE is not rejected), and every CALL must name a function
// present in the image with matching arity. SYSCALL opcodes are not
// checked here; the interpreter rejects them at run time unless the
// image allows syscalls. This
// is pure control-flow validation over one function's own opcode
// stream — nothing in the ecosystem does this better than a hand-rolled
// basic-block walk, so it stays on the standard library.
func Verify(img *Image) error {
	byID := make(map[uint64]*FuncEntry, len(img.Functions))
	for _, fn := range img.Functions {
		if _, dup := byID[fn.ID]; dup {
			return loadErrorf("duplicate function id %016x (%s)", fn.ID, fn.Name)
		}
		byID[fn.ID] = fn
	}
	if img.EntryFuncID != 0 {
		if _, ok := byID[img.EntryFuncID]; !ok {
			return loadErrorf("entry function id %016x not present in image", img.EntryFuncID)
		}
	}
	for _, fn := range img.Functions {
		if err := verifyFunc(fn, byID); err != nil {
			return fmt.Errorf("vm: function %q: %w", fn.Name, err)
		}
	}
	return nil
}

func verifyFunc(fn *FuncEntry, byID map[uint64]*FuncEntry) error {
	code := fn.Code
	n := len(code)
	scopeDepth := 0
	// A JMPNE is accepted only when some NEXT appears earlier in this
	// function's code; jump targets themselves are not matched against
	// any particular NEXT.
	sawNext := false

	r := NewBytecodeReader(code)
	for r.HasMore() {
		pos := r.Position()
		op := decodeOpcodeSafe(r, n)
		if op == -1 {
			return loadErrorf("truncated instruction at offset %d", pos)
		}
		opcode := Opcode(op)
		info, known := opcodeTable[opcode]
		if !known {
			return loadErrorf("unknown opcode 0x%02X at offset %d", op, pos)
		}

		switch opcode {
		case OpSCI:
			scopeDepth++
			skipOperand(r, info.OperandBytes)
		case OpSCO:
			scopeDepth--
			if scopeDepth < 0 {
				return loadErrorf("SCO without matching SCI at offset %d", pos)
			}
			skipOperand(r, info.OperandBytes)
		case OpNEXT:
			sawNext = true
			skipOperand(r, info.OperandBytes)
		case OpJMP, OpJMPT, OpJMPF, OpJMPNE:
			if r.Position()+2 > n {
				return loadErrorf("truncated jump operand at offset %d", pos)
			}
			offset := int(r.ReadInt16())
			target := r.Position() + offset
			if target < 0 || target > n {
				return loadErrorf("jump at offset %d targets %d, outside function (len %d)", pos, target, n)
			}
			if opcode == OpJMPNE && !sawNext {
				return loadErrorf("JMPNE at offset %d has no preceding NEXT in this function", pos)
			}
		case OpCALL:
			if r.Position()+9 > n {
				return loadErrorf("truncated CALL operand at offset %d", pos)
			}
			fid := r.ReadUint64()
			argc := int(r.ReadByte())
			callee, ok := byID[fid]
			if !ok {
				return loadErrorf("CALL at offset %d references unknown function id %016x", pos, fid)
			}
			if argc != len(callee.Params) {
				return loadErrorf("CALL at offset %d passes %d args, %s wants %d", pos, argc, callee.Name, len(callee.Params))
			}
		default:
			skipOperand(r, info.OperandBytes)
		}
	}
	if scopeDepth != 0 {
		return loadErrorf("%d unclosed SCI scope(s) at end of function", scopeDepth)
	}
	return nil
}

// decodeOpcodeSafe reads one opcode without panicking on EOF, returning
// -1 if the function's code ends mid-instruction header.
func decodeOpcodeSafe(r *BytecodeReader, n int) int {
	if r.Position() >= n {
		return -1
	}
	return int(r.ReadOpcode())
}

func skipOperand(r *BytecodeReader, nbytes int) {
	for i := 0; i < nbytes; i++ {
		if !r.HasMore() {
			return
		}
		r.ReadByte()
	}
}

// Load installs every function from a verified image into a fresh
// Registry and returns a ready-to-run Interpreter over the image's
// constant pool. Callers that need debug-info spans decode
// img.DebugBlob separately (package dist) and attach it via
// Interpreter.SetDebugInfo — vm itself never reaches for that codec.
func Load(img *Image) (*Registry, *Interpreter, error) {
	reg := NewRegistry()
	for _, fn := range img.Functions {
		if err := reg.Install(fn); err != nil {
			return nil, nil, err
		}
	}
	interp := NewInterpreter(reg, img.Constants, img.AllowAllSyscalls)
	return reg, interp, nil
}
