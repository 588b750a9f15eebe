package vm

import "fmt"

// ErrorKind discriminates the typed error categories of §7.
type ErrorKind byte

const (
	KindLoad ErrorKind = iota
	KindType
	KindArithmetic
	KindIndex
	KindUser
	KindIteration
	KindRecursion
)

func (k ErrorKind) String() string {
	switch k {
	case KindLoad:
		return "LoadError"
	case KindType:
		return "TypeError"
	case KindArithmetic:
		return "ArithmeticError"
	case KindIndex:
		return "IndexError"
	case KindUser:
		return "UserError"
	case KindIteration:
		return "IterationError"
	case KindRecursion:
		return "RecursionError"
	default:
		return "Error"
	}
}

// SourceLoc is a source position, present only when an image carries
// debug info (built with -D).
type SourceLoc struct {
	Offset int
	Line   int
	Column int
}

func (l SourceLoc) String() string {
	if l.Line == 0 {
		return "<no debug info>"
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// VMError is the error type surfaced to callers and raised by THRW.
// It carries a SourceLoc when the executing image has debug info.
type VMError struct {
	Kind    ErrorKind
	Message string
	Loc     SourceLoc
	// Payload carries the raw thrown Value for UserError, so that
	// would_err and any surrounding match/ternary guard can inspect it.
	Payload Value
}

func (e *VMError) Error() string {
	if e.Loc.Line != 0 {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Loc, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, loc SourceLoc, format string, args ...any) *VMError {
	return &VMError{Kind: kind, Message: fmt.Sprintf(format, args...), Loc: loc}
}

func loadErrorf(format string, args ...any) *VMError {
	return newError(KindLoad, SourceLoc{}, format, args...)
}

func typeErrorf(loc SourceLoc, format string, args ...any) *VMError {
	return newError(KindType, loc, format, args...)
}

func arithmeticErrorf(loc SourceLoc, format string, args ...any) *VMError {
	return newError(KindArithmetic, loc, format, args...)
}

func indexErrorf(loc SourceLoc, format string, args ...any) *VMError {
	return newError(KindIndex, loc, format, args...)
}

func iterationErrorf(loc SourceLoc, format string, args ...any) *VMError {
	return newError(KindIteration, loc, format, args...)
}

func recursionErrorf(loc SourceLoc, limit int) *VMError {
	return newError(KindRecursion, loc, "call depth exceeded limit of %d", limit)
}

// userError builds the error THRW raises, carrying the thrown value itself.
func userError(loc SourceLoc, payload Value) *VMError {
	return &VMError{Kind: KindUser, Message: Display(payload), Loc: loc, Payload: payload}
}

// thrownSignal is panicked by the interpreter's THRW syscall and by any
// internal VMError, then recovered at the top of Run (or locally by
// wouldErr for the WOULD_ERR syscall). This mirrors
// the teacher's SignaledException: panic/recover instead of threading
// an error return through every opcode case in the dispatch loop.
type thrownSignal struct {
	err *VMError
}

func throwVM(err *VMError) {
	panic(thrownSignal{err: err})
}
