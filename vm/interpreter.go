package vm

import "github.com/lavendeux-lang/lavendeux/vm/funcid"

// DefaultMaxCallDepth is the default recursion depth ceiling (spec.md
// §9: "configurable depth limit (default >= 1024)").
const DefaultMaxCallDepth = 1024

// CallFrame is one activation record on the call stack.
type CallFrame struct {
	FuncID uint64
	fn     *FuncEntry
	code   *BytecodeReader
	scope  *Scope
}

// SpanLookup resolves a (function id, bytecode offset) pair to a
// SourceLoc. An image loaded without debug info leaves this nil, and
// every location reports SourceLoc{}'s "<no debug info>" string.
type SpanLookup interface {
	SpanFor(funcID uint64, offset int) SourceLoc
}

// Interpreter is the Lavendeux stack machine: operand stack, call
// stack, and the scope chain of the currently executing frame.
type Interpreter struct {
	registry      *Registry
	constants     []Value
	allowSyscalls bool
	MaxCallDepth  int

	opstack []Value
	frames  []*CallFrame
	debug   SpanLookup // nil if the loaded image carries no debug info
}

// NewInterpreter builds an interpreter bound to a function registry
// and constant pool produced by the loader.
func NewInterpreter(reg *Registry, constants []Value, allowSyscalls bool) *Interpreter {
	return &Interpreter{
		registry:      reg,
		constants:     constants,
		allowSyscalls: allowSyscalls,
		MaxCallDepth:  DefaultMaxCallDepth,
		opstack:       make([]Value, 0, 64),
	}
}

// SetDebugInfo attaches the span lookup produced by an image built
// with -D, enabling source locations in thrown errors.
func (in *Interpreter) SetDebugInfo(d SpanLookup) { in.debug = d }

func (in *Interpreter) push(v Value)    { in.opstack = append(in.opstack, v) }
func (in *Interpreter) pop() Value {
	n := len(in.opstack) - 1
	v := in.opstack[n]
	in.opstack = in.opstack[:n]
	return v
}
func (in *Interpreter) top() Value { return in.opstack[len(in.opstack)-1] }

func (in *Interpreter) currentLoc() SourceLoc {
	if len(in.frames) == 0 {
		return SourceLoc{}
	}
	f := in.frames[len(in.frames)-1]
	if in.debug == nil {
		return SourceLoc{}
	}
	return in.debug.SpanFor(f.FuncID, f.code.Position())
}

// Run executes the function identified by fid with args, returning its
// result. A THRW or internal VMError propagates as a Go error.
func (in *Interpreter) Run(fid uint64, args []Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(thrownSignal)
			if !ok {
				panic(r)
			}
			err = sig.err
		}
	}()
	result = in.call(fid, args)
	return result, nil
}

// call pushes a fresh frame for fid, binds args, executes to RET, and
// returns the result. Shared by top-level Run and the CALL opcode.
func (in *Interpreter) call(fid uint64, args []Value) Value {
	if len(in.frames) >= in.MaxCallDepth {
		throwVM(recursionErrorf(in.currentLoc(), in.MaxCallDepth))
	}
	entry := in.registry.Lookup(fid)
	if entry == nil {
		throwVM(loadErrorf("call to unknown function id %016x", fid))
	}
	bound := entry.BindArgs(args, in.currentLoc())

	root := newScope(nil)
	for i, p := range entry.Params {
		root.cells[p.Name] = &Cell{Value: bound[i]}
	}
	frame := &CallFrame{
		FuncID: fid,
		fn:     entry,
		code:   NewBytecodeReader(entry.Code),
		scope:  root,
	}
	in.frames = append(in.frames, frame)
	defer func() { in.frames = in.frames[:len(in.frames)-1] }()

	return in.runFrame(frame)
}

// runFrame is the dispatch loop: read the next opcode and execute it
// until RET.
func (in *Interpreter) runFrame(f *CallFrame) Value {
	base := len(in.opstack)
	for f.code.HasMore() {
		op := f.code.ReadOpcode()
		switch op {
		case OpNOP:

		case OpPOP:
			in.pop()
		case OpDUP:
			in.push(in.top())
		case OpSWP:
			n := len(in.opstack)
			in.opstack[n-1], in.opstack[n-2] = in.opstack[n-2], in.opstack[n-1]

		case OpPushNil:
			in.push(Nil)
		case OpPushTrue:
			in.push(True)
		case OpPushFalse:
			in.push(False)
		case OpPushInt:
			w := IntWidth(f.code.ReadByte())
			raw := f.code.ReadUint64()
			in.push(Value{kind: KInt, iw: w, i: raw & widthMask(w)})
		case OpPushFloat:
			in.push(FromFloat64(f.code.ReadFloat64()))
		case OpPushConst:
			idx := f.code.ReadUint16()
			if int(idx) >= len(in.constants) {
				throwVM(loadErrorf("constant index %d out of range", idx))
			}
			in.push(in.constants[idx])

		case OpREF:
			idx := f.code.ReadUint16()
			name := in.constantName(idx)
			cell := f.scope.resolveOrCreate(name)
			ref := NewCellRef(f.scope, name, cell)
			in.push(FromRef(&ref))
		case OpWREF:
			ref := in.pop().AsRef()
			val := in.pop()
			ref.Write(val, in.currentLoc())
			in.push(val)
		case OpDEREF:
			ref := in.pop().AsRef()
			in.push(ref.Read(in.currentLoc()))
		case OpDEL:
			in.push(in.del(in.pop(), in.currentLoc()))
		case OpIDEX:
			key := in.pop()
			base := in.pop()
			in.push(in.indexRef(base, key))
		case OpIDXA:
			base := in.pop()
			in.push(in.appendRef(base))
		case OpCAST:
			t := f.code.ReadByte()
			in.push(castTo(in.pop(), CastType(t), in.currentLoc()))

		case OpMKAR:
			n := f.code.ReadUint16()
			in.push(FromArray(NewArray(int(n))))
		case OpMKOB:
			in.push(FromObject(NewObject()))
		case OpMKRG:
			hi := in.pop()
			lo := in.pop()
			in.push(FromRange(in.mkRange(lo, hi)))

		case OpADD, OpSUB, OpMUL, OpDIV, OpMOD, OpPOW:
			b := in.pop()
			a := in.pop()
			in.push(arith(op, a, b, in.currentLoc()))

		case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
			b := in.pop()
			a := in.pop()
			in.push(compareOp(op, a, b))

		case OpLAND:
			b := in.pop()
			a := in.pop()
			in.push(FromBool(a.IsTruthy() && b.IsTruthy()))
		case OpLOR:
			b := in.pop()
			a := in.pop()
			in.push(FromBool(a.IsTruthy() || b.IsTruthy()))
		case OpLNOT:
			in.push(FromBool(!in.pop().IsTruthy()))

		case OpBAND, OpBOR, OpBXOR:
			b := in.pop()
			a := in.pop()
			in.push(bitwiseOp(op, a, b, in.currentLoc()))
		case OpBNOT:
			v := in.pop()
			in.push(bitwiseNot(v, in.currentLoc()))

		case OpJMP:
			off := f.code.ReadInt16()
			f.code.Seek(f.code.Position() + int(off))
		case OpJMPT:
			off := f.code.ReadInt16()
			if in.pop().IsTruthy() {
				f.code.Seek(f.code.Position() + int(off))
			}
		case OpJMPF:
			off := f.code.ReadInt16()
			if !in.pop().IsTruthy() {
				f.code.Seek(f.code.Position() + int(off))
			}
		case OpJMPNE:
			off := f.code.ReadInt16()
			v := in.pop()
			if v.IsRef() {
				v = v.AsRef().Read(in.currentLoc())
			}
			if lengthOf(v, in.currentLoc()) > 0 {
				f.code.Seek(f.code.Position() + int(off))
			}

		case OpCALL:
			fid := f.code.ReadUint64()
			argc := int(f.code.ReadByte())
			args := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = in.pop()
			}
			in.push(in.call(fid, args))
		case OpRET:
			result := in.pop()
			in.opstack = in.opstack[:base]
			return result

		case OpSCI:
			f.scope = newScope(f.scope)
		case OpSCO:
			f.scope = f.scope.parent

		case OpNEXT:
			// NEXT addresses its iterator through a Reference (to the
			// hidden "$iter" cell the comprehension lowering opened in
			// this scope), not through stack position: pop the Ref,
			// split its current value, write the remainder back, and
			// push the element the body executes against.
			ref := in.pop().AsRef()
			cur := ref.Read(in.currentLoc())
			element, rest := popFront(cur, in.currentLoc())
			ref.Write(rest, in.currentLoc())
			in.push(element)
		case OpPSAR:
			// PSAR locates its collector the same way: by name ("$coll")
			// in the enclosing scope chain, not by indexing the operand
			// stack. An Array result is spliced and any other value is
			// appended (appendCollector); after LCST the value is always
			// an Array, so PSAR takes the splice path.
			v := in.pop()
			cell := f.scope.lookup("$coll")
			if cell == nil {
				throwVM(iterationErrorf(in.currentLoc(), "PSAR used outside a comprehension"))
			}
			appendCollector(cell, v)
		case OpLCST:
			v := in.pop()
			if !v.IsArray() {
				v = FromArray(&Array{Items: []Value{v}})
			}
			in.push(v)

		case OpCNTN:
			needle := in.pop()
			container := in.pop()
			in.push(FromBool(contains(container, needle)))
		case OpSTWT:
			prefix := in.pop()
			s := in.pop()
			in.push(FromBool(stringsHasPrefix(s.Str(), prefix.Str())))
		case OpSSPLT:
			sep := in.pop()
			s := in.pop()
			in.push(splitString(s.Str(), sep.Str()))

		case OpSyscall:
			id := SyscallID(f.code.ReadByte())
			argc := int(f.code.ReadByte())
			if !in.allowSyscalls {
				throwVM(loadErrorf("syscall %v not allowed by this image", id))
			}
			args := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = in.pop()
			}
			in.push(in.dispatchSyscall(id, args, in.currentLoc()))

		default:
			throwVM(loadErrorf("unimplemented opcode %s", op))
		}
	}
	// A function body that falls off the end without RET returns nil.
	in.opstack = in.opstack[:base]
	return Nil
}

func (in *Interpreter) constantName(idx uint16) string {
	if int(idx) >= len(in.constants) {
		throwVM(loadErrorf("name-pool index %d out of range", idx))
	}
	return in.constants[idx].Str()
}

// indexRef implements IDEX: push a Reference into base[key].
func (in *Interpreter) indexRef(base, key Value) Value {
	loc := in.currentLoc()
	switch base.Kind() {
	case KArray:
		arr := base.AsArray()
		i := resolveIndex(key, len(arr.Items), loc)
		return FromRef(&Reference{Target: RefArrayIndex, Arr: arr, Index: i})
	case KObject:
		return FromRef(&Reference{Target: RefObjectKey, Obj: base.AsObject(), Key: key})
	case KString:
		str := base.AsLString()
		i := resolveIndex(key, len(str.Runes), loc)
		return FromRef(&Reference{Target: RefStringIndex, Str: str, Index: i})
	case KRange:
		rng := base.AsRange()
		i := resolveIndex(key, rng.Len(), loc)
		return FromRef(&Reference{Target: RefRangeIndex, Rng: rng, Index: i})
	default:
		throwVM(typeErrorf(loc, "cannot index into %s", base.TypeName()))
		panic("unreachable")
	}
}

// mkRange implements MKRG: construct lo..hi (§8). Both endpoints must be
// Int, or both must be single-codepoint Strings (a char range); any
// other pairing is a type error.
func (in *Interpreter) mkRange(lo, hi Value) *Range {
	loc := in.currentLoc()
	switch {
	case lo.IsInt() && hi.IsInt():
		return &Range{Lo: lo, Hi: hi}
	case lo.Kind() == KString && hi.Kind() == KString:
		if len(lo.AsLString().Runes) != 1 || len(hi.AsLString().Runes) != 1 {
			throwVM(typeErrorf(loc, "char range endpoints must be single characters"))
		}
		return &Range{Lo: lo, Hi: hi, IsChar: true}
	default:
		throwVM(typeErrorf(loc, "range endpoints must both be Int or both be single-character String, got %s..%s", lo.TypeName(), hi.TypeName()))
		panic("unreachable")
	}
}

// appendRef implements IDXA, the key-less index form: base[]
// addresses the append position (write) or the last element (read).
func (in *Interpreter) appendRef(base Value) Value {
	if !base.IsArray() {
		throwVM(typeErrorf(in.currentLoc(), "append place requires an array, got %s", base.TypeName()))
	}
	return FromRef(&Reference{Target: RefArrayAppend, Arr: base.AsArray()})
}

// del implements DEL (§4.6): applied to a Reference it removes the
// place (a named cell outright, an indexed slot with array-shift or
// object-key-drop); applied to a Function value it returns that
// function's textual signature instead of mutating anything.
func (in *Interpreter) del(v Value, loc SourceLoc) Value {
	switch {
	case v.IsRef():
		return v.AsRef().Delete(loc)
	case v.IsFunction():
		entry := in.registry.Lookup(v.AsFunction().ID)
		if entry == nil {
			throwVM(typeErrorf(loc, "del: function id %016x is not registered", v.AsFunction().ID))
		}
		params := make([]funcid.Param, len(entry.Params))
		for i, p := range entry.Params {
			params[i] = funcid.Param{Type: p.Type, ByRef: p.ByRef}
		}
		return FromString(funcid.Signature(entry.Name, params, entry.Return))
	default:
		throwVM(typeErrorf(loc, "cannot del a %s", v.TypeName()))
		panic("unreachable")
	}
}

func stringsHasPrefix(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}

func contains(container, needle Value) bool {
	switch container.Kind() {
	case KArray:
		for _, v := range container.AsArray().Items {
			if Equal(v, needle) {
				return true
			}
		}
		return false
	case KObject:
		_, ok := container.AsObject().Get(needle)
		return ok
	case KString:
		return needle.IsString() && indexOfSubstring(container.Str(), needle.Str())
	case KRange:
		r := container.AsRange()
		for i := 0; i < r.Len(); i++ {
			if Equal(r.At(i), needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func indexOfSubstring(s, sub string) bool {
	if sub == "" {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// popFront splits a native iterable into its first element and the
// remainder (§4.5's NEXT contract). It accepts Array, String and Range;
// an Object is rejected with an iteration error, and iterating its keys
// takes a KEYS syscall first to turn them into an Array.
func popFront(v Value, loc SourceLoc) (element, rest Value) {
	switch v.Kind() {
	case KArray:
		items := v.AsArray().Items
		if len(items) == 0 {
			throwVM(iterationErrorf(loc, "NEXT on exhausted iterator"))
		}
		return items[0], FromArray(&Array{Items: items[1:]})
	case KString:
		runes := v.AsLString().Runes
		if len(runes) == 0 {
			throwVM(iterationErrorf(loc, "NEXT on exhausted iterator"))
		}
		return FromString(string(runes[0])), FromLString(&LString{Runes: runes[1:]})
	case KRange:
		r := v.AsRange()
		if r.Len() <= 0 {
			throwVM(iterationErrorf(loc, "NEXT on exhausted iterator"))
		}
		element = r.At(0)
		if r.IsChar {
			lo := []rune(r.Lo.Str())[0]
			rest = FromRange(&Range{Lo: FromString(string(lo + 1)), Hi: r.Hi, IsChar: true})
		} else {
			rest = FromRange(&Range{Lo: FromInt(r.Lo.AsInt64()+1, W64), Hi: r.Hi})
		}
		return element, rest
	default:
		throwVM(iterationErrorf(loc, "cannot iterate over %s", v.TypeName()))
		panic("unreachable")
	}
}

// appendCollector implements PSAR's accumulation rule: splice an
// Array's elements (the path every LCST-wrapped value takes), or
// append any other Value as a single element. cell holds the
// collector Array directly; Array being a pointer type means this
// mutates it in place with no write-back needed.
func appendCollector(cell *Cell, v Value) {
	arr := cell.Value.AsArray()
	if v.IsArray() {
		arr.Items = append(arr.Items, v.AsArray().Items...)
	} else {
		arr.Items = append(arr.Items, v)
	}
}
