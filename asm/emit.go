package asm

import (
	"strconv"

	"github.com/lavendeux-lang/lavendeux/vm"
)

// plainOps are the zero-operand opcodes: a bare mnemonic with no
// arguments to parse or validate beyond arity.
var plainOps = map[string]vm.Opcode{
	"NOP": vm.OpNOP, "POP": vm.OpPOP, "DUP": vm.OpDUP, "SWP": vm.OpSWP,
	"PUSH_NIL": vm.OpPushNil, "PUSH_TRUE": vm.OpPushTrue, "PUSH_FALSE": vm.OpPushFalse,
	"WREF": vm.OpWREF, "DEREF": vm.OpDEREF, "IDEX": vm.OpIDEX, "IDXA": vm.OpIDXA, "DEL": vm.OpDEL,
	"MKOB": vm.OpMKOB, "MKRG": vm.OpMKRG,
	"ADD":  vm.OpADD, "SUB": vm.OpSUB, "MUL": vm.OpMUL, "DIV": vm.OpDIV, "MOD": vm.OpMOD, "POW": vm.OpPOW,
	"EQ": vm.OpEQ, "NE": vm.OpNE, "LT": vm.OpLT, "LE": vm.OpLE, "GT": vm.OpGT, "GE": vm.OpGE,
	"LAND": vm.OpLAND, "LOR": vm.OpLOR, "LNOT": vm.OpLNOT,
	"BAND": vm.OpBAND, "BOR": vm.OpBOR, "BXOR": vm.OpBXOR, "BNOT": vm.OpBNOT,
	"RET": vm.OpRET,
	"SCI": vm.OpSCI, "SCO": vm.OpSCO, "NEXT": vm.OpNEXT, "PSAR": vm.OpPSAR, "LCST": vm.OpLCST,
	"CNTN": vm.OpCNTN, "STWT": vm.OpSTWT, "SSPLT": vm.OpSSPLT,
}

var jumpOps = map[string]vm.Opcode{
	"JMP": vm.OpJMP, "JMPT": vm.OpJMPT, "JMPF": vm.OpJMPF, "JMPNE": vm.OpJMPNE,
}

func (st *asmState) emit(b *vm.BytecodeBuilder, labels map[string]*vm.Label, used map[string]bool, w []string, lineNo int) error {
	mnem := w[0]
	args := w[1:]

	if op, ok := plainOps[mnem]; ok {
		if len(args) != 0 {
			return &AsmError{st.name, lineNo, mnem + " takes no operands"}
		}
		b.Emit(op)
		return nil
	}
	if op, ok := jumpOps[mnem]; ok {
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, mnem + " requires exactly one label operand"}
		}
		lbl := labels[args[0]]
		if lbl == nil {
			lbl = b.NewLabel()
			labels[args[0]] = lbl
		}
		b.EmitJump(op, lbl)
		return nil
	}

	switch mnem {
	case "PUSH_INT":
		if len(args) != 2 {
			return &AsmError{st.name, lineNo, "PUSH_INT requires width and value"}
		}
		width, ok := intWidthNames[args[0]]
		if !ok {
			return &AsmError{st.name, lineNo, "unknown int width " + args[0]}
		}
		raw, err := parseIntOperand(args[1])
		if err != nil {
			return &AsmError{st.name, lineNo, err.Error()}
		}
		b.EmitInt(width, raw)
	case "PUSH_FLOAT":
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, "PUSH_FLOAT requires exactly one value"}
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return &AsmError{st.name, lineNo, "invalid float literal " + args[0]}
		}
		b.EmitFloat64(f)
	case "PUSH_STR":
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, "PUSH_STR requires exactly one string literal"}
		}
		idx := st.internString(unquote(args[0]))
		b.EmitUint16(vm.OpPushConst, idx)
	case "PUSH_FIXED":
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, "PUSH_FIXED requires exactly one decimal literal"}
		}
		f, err := parseFixedLiteral(args[0])
		if err != nil {
			return &AsmError{st.name, lineNo, err.Error()}
		}
		idx := st.internFixed(f)
		b.EmitUint16(vm.OpPushConst, idx)
	case "PUSH_REGEX":
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, "PUSH_REGEX requires exactly one /pattern/flags literal"}
		}
		pattern, flags, err := parseRegexLiteral(args[0])
		if err != nil {
			return &AsmError{st.name, lineNo, err.Error()}
		}
		idx := st.internRegex(pattern, flags)
		b.EmitUint16(vm.OpPushConst, idx)
	case "REF":
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, "REF requires exactly one cell name"}
		}
		name := unquote(args[0])
		used[name] = true
		idx := st.internString(name)
		b.EmitUint16(vm.OpREF, idx)
	case "CAST":
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, "CAST requires exactly one type operand"}
		}
		t, ok := castTypeNames[args[0]]
		if !ok {
			return &AsmError{st.name, lineNo, "unknown cast type " + args[0]}
		}
		b.EmitByte(vm.OpCAST, byte(t))
	case "MKAR":
		if len(args) != 1 {
			return &AsmError{st.name, lineNo, "MKAR requires exactly one capacity-hint operand"}
		}
		n, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return &AsmError{st.name, lineNo, "invalid MKAR capacity " + args[0]}
		}
		b.EmitUint16(vm.OpMKAR, uint16(n))
	case "CALL":
		if len(args) != 2 {
			return &AsmError{st.name, lineNo, "CALL requires a function name and an argument count"}
		}
		argc, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return &AsmError{st.name, lineNo, "invalid CALL argc " + args[1]}
		}
		sig := selectOverload(st.sigsByID[args[0]], int(argc))
		if sig == nil {
			return &AsmError{st.name, lineNo, "CALL: no function " + args[0] + " with arity " + args[1]}
		}
		b.EmitCall(sig.id, uint8(argc))
	case "SYSCALL":
		if len(args) != 2 {
			return &AsmError{st.name, lineNo, "SYSCALL requires a syscall name and an argument count"}
		}
		id, ok := vm.SyscallByName(args[0])
		if !ok {
			return &AsmError{st.name, lineNo, "unknown syscall " + args[0]}
		}
		argc, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return &AsmError{st.name, lineNo, "invalid SYSCALL argc " + args[1]}
		}
		b.EmitSyscall(id, uint8(argc))
	default:
		return &AsmError{st.name, lineNo, "unknown mnemonic " + mnem}
	}
	return nil
}

func selectOverload(candidates []*funcSig, argc int) *funcSig {
	for _, s := range candidates {
		if len(s.params) == argc {
			return s
		}
	}
	return nil
}

func parseIntOperand(tok string) (uint64, error) {
	if n, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return uint64(n), nil
	}
	return strconv.ParseUint(tok, 0, 64)
}
