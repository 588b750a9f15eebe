package asm

import (
	"fmt"
	"strings"

	"github.com/lavendeux-lang/lavendeux/vm"
)

// Disassemble renders one function's code back to the textual mnemonic
// form Assemble accepts, resolving constant-pool references and jump
// offsets to synthetic "L<offset>" labels. CALL is rendered with the
// raw 64-bit callee id ("CALL 0x<id> <argc>") rather than a function
// name, and Assemble resolves CALL only by name, so output containing
// a CALL does not reassemble as-is.
func Disassemble(fn *vm.FuncEntry, pool []vm.Value) ([]string, error) {
	code := fn.Code
	r := vm.NewBytecodeReader(code)
	targets := collectJumpTargets(code)

	var lines []string
	for r.HasMore() {
		pos := r.Position()
		if targets[pos] {
			lines = append(lines, fmt.Sprintf("L%d:", pos))
		}
		op := r.ReadOpcode()
		line, err := disasmOne(r, op, pool)
		if err != nil {
			return nil, fmt.Errorf("asm: disassemble %s at offset %d: %w", fn.Name, pos, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// collectJumpTargets pre-scans the code to find every absolute offset a
// JMP/JMPT/JMPF/JMPNE lands on, so Disassemble can emit a label exactly
// where one is needed and nowhere else.
func collectJumpTargets(code []byte) map[int]bool {
	targets := make(map[int]bool)
	r := vm.NewBytecodeReader(code)
	for r.HasMore() {
		op := r.ReadOpcode()
		info := op.Info()
		switch op {
		case vm.OpJMP, vm.OpJMPT, vm.OpJMPF, vm.OpJMPNE:
			offset := int(r.ReadInt16())
			targets[r.Position()+offset] = true
		default:
			for i := 0; i < info.OperandBytes; i++ {
				if !r.HasMore() {
					break
				}
				r.ReadByte()
			}
		}
	}
	return targets
}

var plainOpNames = reversePlainOps()

func reversePlainOps() map[vm.Opcode]string {
	out := make(map[vm.Opcode]string, len(plainOps))
	for name, op := range plainOps {
		out[op] = name
	}
	for name, op := range jumpOps {
		out[op] = name
	}
	return out
}

var intWidthTokens = reverseIntWidths()

func reverseIntWidths() map[vm.IntWidth]string {
	out := make(map[vm.IntWidth]string, len(intWidthNames))
	for name, w := range intWidthNames {
		out[w] = name
	}
	return out
}

var castTypeTokens = reverseCastTypes()

func reverseCastTypes() map[vm.CastType]string {
	out := make(map[vm.CastType]string, len(castTypeNames))
	for name, t := range castTypeNames {
		out[t] = name
	}
	return out
}

func disasmOne(r *vm.BytecodeReader, op vm.Opcode, pool []vm.Value) (string, error) {
	if name, ok := plainOpNames[op]; ok {
		if _, isJump := jumpOps[name]; isJump {
			offset := int(r.ReadInt16())
			target := r.Position() + offset
			return fmt.Sprintf("%s L%d", name, target), nil
		}
		return name, nil
	}

	switch op {
	case vm.OpPushInt:
		w := vm.IntWidth(r.ReadByte())
		raw := r.ReadUint64()
		return fmt.Sprintf("PUSH_INT %s %d", intWidthTokens[w], int64(raw)), nil
	case vm.OpPushFloat:
		return fmt.Sprintf("PUSH_FLOAT %g", r.ReadFloat64()), nil
	case vm.OpPushConst:
		idx := r.ReadUint16()
		return disasmConst(idx, pool)
	case vm.OpREF:
		idx := r.ReadUint16()
		if int(idx) >= len(pool) {
			return "", fmt.Errorf("REF: pool index %d out of range", idx)
		}
		return fmt.Sprintf("REF %q", pool[idx].Str()), nil
	case vm.OpCAST:
		t := vm.CastType(r.ReadByte())
		return fmt.Sprintf("CAST %s", castTypeTokens[t]), nil
	case vm.OpMKAR:
		n := r.ReadUint16()
		return fmt.Sprintf("MKAR %d", n), nil
	case vm.OpCALL:
		fid := r.ReadUint64()
		argc := r.ReadByte()
		return fmt.Sprintf("CALL 0x%016x %d", fid, argc), nil
	case vm.OpSyscall:
		id := vm.SyscallID(r.ReadByte())
		argc := r.ReadByte()
		return fmt.Sprintf("SYSCALL %s %d", id, argc), nil
	default:
		return "", fmt.Errorf("unknown opcode 0x%02X", byte(op))
	}
}

func disasmConst(idx uint16, pool []vm.Value) (string, error) {
	if int(idx) >= len(pool) {
		return "", fmt.Errorf("PUSH_CONST: pool index %d out of range", idx)
	}
	v := pool[idx]
	switch v.Kind() {
	case vm.KString:
		return fmt.Sprintf("PUSH_STR %q", v.Str()), nil
	case vm.KFixed:
		return fmt.Sprintf("PUSH_FIXED %s", v.AsFixed().String()), nil
	case vm.KRegex:
		re := v.AsRegex()
		return fmt.Sprintf("PUSH_REGEX /%s/%s", re.Pattern, re.Flags), nil
	default:
		return "", fmt.Errorf("PUSH_CONST: unexpected pool kind %s", v.Kind())
	}
}

// Join renders a disassembled instruction list as a single newline
// terminated block, one MKFN/WRFN-bracketed function at a time would be
// layered on by the caller; Disassemble itself only emits the body.
func Join(lines []string) string { return strings.Join(lines, "\n") + "\n" }
