package vm

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
)

// SyscallID identifies a host intrinsic invoked via OpSyscall (§4.7).
type SyscallID byte

const (
	SysLstfn SyscallID = iota
	SysPrnt
	SysPrntm
	SysThrow
	SysType
	SysSort
	SysLen
	SysSsplt
	SysRound
	SysLog
	SysIlog
	SysRoot
	SysSin
	SysCos
	SysTan
	SysAsin
	SysAcos
	SysAtan
	SysAtan2
	SysSinh
	SysCosh
	SysTanh
	SysStrCase
	SysTrim
	SysReplace
	SysJoin
	SysKeys
	SysValues
	SysRange2Arr
	SysDocumentFunction
	SysRandom
	SysSeed
	SysDrawCoolBox
	SysWouldErr
)

var syscallNames = map[SyscallID]string{
	SysLstfn:            "LSTFN",
	SysPrnt:             "PRNT",
	SysPrntm:            "PRNTM",
	SysThrow:            "THRW",
	SysType:              "TYPE",
	SysSort:             "SORT",
	SysLen:              "LEN",
	SysSsplt:            "SSPLT",
	SysRound:            "ROUND",
	SysLog:              "LOG",
	SysIlog:             "ILOG",
	SysRoot:             "ROOT",
	SysSin:              "SIN",
	SysCos:              "COS",
	SysTan:              "TAN",
	SysAsin:             "ASIN",
	SysAcos:             "ACOS",
	SysAtan:             "ATAN",
	SysAtan2:            "ATAN2",
	SysSinh:             "SINH",
	SysCosh:             "COSH",
	SysTanh:             "TANH",
	SysStrCase:          "STRCASE",
	SysTrim:             "TRIM",
	SysReplace:          "REPLACE",
	SysJoin:             "JOIN",
	SysKeys:             "KEYS",
	SysValues:           "VALUES",
	SysRange2Arr:        "RANGE2ARR",
	SysDocumentFunction: "DOCUMENT_FUNCTION",
	SysRandom:           "RANDOM",
	SysSeed:             "SEED",
	SysDrawCoolBox:      "__DRAW_COOL_BOX",
	SysWouldErr:         "WOULD_ERR",
}

func (id SyscallID) String() string {
	if n, ok := syscallNames[id]; ok {
		return n
	}
	return fmt.Sprintf("SYSCALL_%d", byte(id))
}

var syscallByName map[string]SyscallID

// SyscallByName resolves a mnemonic (as it appears in syscallNames) back
// to its id, for the assembler's SYSCALL directive.
func SyscallByName(name string) (SyscallID, bool) {
	if syscallByName == nil {
		syscallByName = make(map[string]SyscallID, len(syscallNames))
		for id, n := range syscallNames {
			syscallByName[n] = id
		}
	}
	id, ok := syscallByName[name]
	return id, ok
}

// stdoutWrite is the host sink PRNT/PRNTM write to; it prints to
// os.Stdout unless SetStdout replaces it.
var stdoutWrite = func(s string) { fmt.Print(s) }

// SetStdout redirects PRNT/PRNTM output, for embedders that need to
// capture syscall side effects.
func SetStdout(w func(string)) { stdoutWrite = w }

// rng backs RANDOM/SEED. Defaulting to a fixed seed (rather than
// wall-clock time) keeps exec pure absent an explicit SEED call,
// preserving Testable Property 1.
var rng = rand.New(rand.NewSource(1))

// dispatchSyscall executes the intrinsic id with args popped by the
// interpreter (left-to-right, args[0] is the first pushed). It returns
// the single Value pushed back onto the operand stack.
func (in *Interpreter) dispatchSyscall(id SyscallID, args []Value, loc SourceLoc) Value {
	switch id {
	case SysPrnt:
		s := Display(args[0])
		stdoutWrite(s)
		return FromString(s)

	case SysPrntm:
		s := fmt.Sprintf("frames=%d", len(in.frames))
		stdoutWrite(s)
		return FromString(s)

	case SysLstfn:
		return in.registry.describeAll()

	case SysThrow:
		throwVM(userError(loc, args[0]))
		panic("unreachable")

	case SysType:
		return FromString(args[0].TypeName())

	case SysSort:
		return sortValue(args[0])

	case SysLen:
		return FromInt(int64(lengthOf(args[0], loc)), W64)

	case SysSsplt:
		s := args[0].Str()
		sep := args[1].Str()
		return splitString(s, sep)

	case SysStrCase:
		s := args[0].Str()
		mode := args[1].Str()
		if mode == "upper" {
			return FromString(strings.ToUpper(s))
		}
		return FromString(strings.ToLower(s))

	case SysTrim:
		return FromString(strings.TrimSpace(args[0].Str()))

	case SysReplace:
		s, old, new_ := args[0].Str(), args[1].Str(), args[2].Str()
		return FromString(strings.ReplaceAll(s, old, new_))

	case SysJoin:
		return joinArray(args[0].AsArray(), args[1].Str(), loc)

	case SysKeys:
		o := args[0].AsObject()
		return FromArray(&Array{Items: append([]Value(nil), o.Keys()...)})

	case SysValues:
		o := args[0].AsObject()
		return FromArray(&Array{Items: append([]Value(nil), o.Values()...)})

	case SysRange2Arr:
		r := args[0].AsRange()
		items := make([]Value, r.Len())
		for i := range items {
			items[i] = r.At(i)
		}
		return FromArray(&Array{Items: items})

	case SysDocumentFunction:
		fid := args[0].AsFunction().ID
		short, desc, example := "", "", ""
		if len(args) > 1 {
			short = args[1].Str()
		}
		if len(args) > 2 {
			desc = args[2].Str()
		}
		if len(args) > 3 {
			example = args[3].Str()
		}
		in.registry.document(fid, short, desc, example)
		return Nil

	case SysRandom:
		return FromFloat64(rng.Float64())

	case SysSeed:
		rng = rand.New(rand.NewSource(args[0].AsInt64()))
		return Nil

	case SysWouldErr:
		return in.wouldErr(args[0], loc)

	case SysDrawCoolBox:
		title := args[0].Str()
		lines := make([]string, len(args[1].AsArray().Items))
		for i, v := range args[1].AsArray().Items {
			lines[i] = v.Str()
		}
		return FromString(drawCoolBox(title, lines))

	case SysRound, SysLog, SysIlog, SysRoot,
		SysSin, SysCos, SysTan, SysAsin, SysAcos, SysAtan, SysAtan2,
		SysSinh, SysCosh, SysTanh:
		return dispatchMath(id, args, loc)

	default:
		throwVM(typeErrorf(loc, "unknown syscall %v", id))
		panic("unreachable")
	}
}

// wouldErr implements the would_err(fn) host predicate (§7): fn (a
// zero-argument closure built by the surface compiler around the guarded
// expression) runs in a nested protected call. A thrown VMError is
// caught right here, never reaching the caller's own frame, and reported
// as a Bool. The aborted call's deferred frame pop still runs during the
// panic, but runFrame only truncates the opstack on RET, so the opstack
// is cut back to its pre-call depth here (frames is reset too, which is
// then a no-op).
func (in *Interpreter) wouldErr(v Value, loc SourceLoc) (result Value) {
	if !v.IsFunction() {
		throwVM(typeErrorf(loc, "would_err: expected a function, got %s", v.TypeName()))
	}
	frameDepth := len(in.frames)
	stackDepth := len(in.opstack)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(thrownSignal); !ok {
				panic(r)
			}
			in.frames = in.frames[:frameDepth]
			in.opstack = in.opstack[:stackDepth]
			result = True
		}
	}()
	in.call(v.AsFunction().ID, nil)
	return False
}

func dispatchMath(id SyscallID, args []Value, loc SourceLoc) Value {
	f := func(i int) float64 { return numericFloat(args[i], loc) }
	switch id {
	case SysSin:
		return FromFloat64(math.Sin(f(0)))
	case SysCos:
		return FromFloat64(math.Cos(f(0)))
	case SysTan:
		return FromFloat64(math.Tan(f(0)))
	case SysAsin:
		return FromFloat64(math.Asin(f(0)))
	case SysAcos:
		return FromFloat64(math.Acos(f(0)))
	case SysAtan:
		return FromFloat64(math.Atan(f(0)))
	case SysAtan2:
		return FromFloat64(math.Atan2(f(0), f(1)))
	case SysSinh:
		return FromFloat64(math.Sinh(f(0)))
	case SysCosh:
		return FromFloat64(math.Cosh(f(0)))
	case SysTanh:
		return FromFloat64(math.Tanh(f(0)))
	case SysLog:
		base := f(1)
		return FromFloat64(math.Log(f(0)) / math.Log(base))
	case SysIlog:
		base := f(1)
		return FromFloat64(math.Floor(math.Log(f(0)) / math.Log(base)))
	case SysRoot:
		k := f(1)
		if k == 0 {
			throwVM(arithmeticErrorf(loc, "root of degree 0"))
		}
		return FromFloat64(math.Pow(f(0), 1/k))
	case SysRound:
		n := f(0)
		prec := 0.0
		if len(args) > 1 {
			prec = f(1)
		}
		mul := math.Pow(10, prec)
		return FromFloat64(math.RoundToEven(n*mul) / mul)
	default:
		throwVM(typeErrorf(loc, "unhandled math syscall %v", id))
		panic("unreachable")
	}
}

func numericFloat(v Value, loc SourceLoc) float64 {
	switch v.Kind() {
	case KFloat:
		return v.Float64()
	case KInt:
		return float64(v.AsInt64())
	case KFixed:
		return v.AsFixed().Float64()
	default:
		throwVM(typeErrorf(loc, "expected numeric, got %s", v.TypeName()))
		panic("unreachable")
	}
}

func lengthOf(v Value, loc SourceLoc) int {
	switch v.Kind() {
	case KString:
		return v.AsLString().Len()
	case KArray:
		return len(v.AsArray().Items)
	case KObject:
		return v.AsObject().Len()
	case KRange:
		return v.AsRange().Len()
	default:
		return 1
	}
}

func sortValue(v Value) Value {
	switch v.Kind() {
	case KArray:
		a := v.AsArray()
		out := append([]Value(nil), a.Items...)
		sort.SliceStable(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
		return FromArray(&Array{Items: out})
	case KObject:
		o := v.AsObject()
		keys := append([]Value(nil), o.Keys()...)
		sort.SliceStable(keys, func(i, j int) bool { return Compare(keys[i], keys[j]) < 0 })
		return FromArray(&Array{Items: keys})
	default:
		return v
	}
}

func splitString(s, sep string) Value {
	var parts []string
	if sep == "" {
		for _, r := range s {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(s, sep)
	}
	items := make([]Value, len(parts))
	for i, p := range parts {
		items[i] = FromString(p)
	}
	return FromArray(&Array{Items: items})
}

func joinArray(a *Array, sep string, loc SourceLoc) Value {
	parts := make([]string, len(a.Items))
	for i, v := range a.Items {
		if !v.IsString() {
			throwVM(typeErrorf(loc, "join: element %d is not a string", i))
		}
		parts[i] = v.Str()
	}
	return FromString(strings.Join(parts, sep))
}

// drawCoolBox renders the help-rendering box from spec.md §8: a box of
// exactly len(lines)+2 rows (top border, one row per line, bottom
// border — 4 rows for the spec's 2-line example), whose width between
// the ║ borders is max(len(title), max content line length) + 2. The
// title contributes only to the width; it is the caller's header text
// and is not itself a row of the box.
func drawCoolBox(title string, lines []string) string {
	width := len([]rune(title))
	for _, l := range lines {
		if n := len([]rune(l)); n > width {
			width = n
		}
	}
	width += 2

	var b strings.Builder
	b.WriteString("╔" + strings.Repeat("═", width) + "╗")
	for _, l := range lines {
		b.WriteString("\n║ " + padRight(l, width-1) + "║")
	}
	b.WriteString("\n╚" + strings.Repeat("═", width) + "╝")
	return b.String()
}

func padRight(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
