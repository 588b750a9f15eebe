package asm

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/lavendeux-lang/lavendeux/vm"
	"github.com/lavendeux-lang/lavendeux/vm/funcid"
)

// AsmError reports a line-numbered assembly failure. name identifies the
// source (a file path, when read from a file).
type AsmError struct {
	Name string
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Name, e.Line, e.Msg)
}

var intWidthNames = map[string]vm.IntWidth{
	"i8": vm.W8, "i16": vm.W16, "i32": vm.W32, "i64": vm.W64,
	"u8": vm.WU8, "u16": vm.WU16, "u32": vm.WU32, "u64": vm.WU64,
}

var castTypeNames = map[string]vm.CastType{
	"i8": vm.CastI8, "i16": vm.CastI16, "i32": vm.CastI32, "i64": vm.CastI64,
	"u8": vm.CastU8, "u16": vm.CastU16, "u32": vm.CastU32, "u64": vm.CastU64,
	"float": vm.CastFloat, "fixed": vm.CastFixed, "string": vm.CastString, "bool": vm.CastBool,
}

type sourceLine struct {
	no    int
	words []string
}

// funcSig is the signature-affecting subset of a MKFN...WRFN block,
// collected in the first pass so CALL sites (including forward and
// mutually recursive references) can resolve a callee's id before its
// body is assembled.
type funcSig struct {
	name     string
	params   []vm.ParamSpec
	ret      string
	category string
	short    string
	desc     string
	example  string
	entry    bool
	id       uint64
	consumed bool
}

type asmState struct {
	name  string
	lines []sourceLine

	sigs     []*funcSig
	sigsByID map[string][]*funcSig // name -> overloads, in declared order

	pool     []vm.PoolConst
	poolIdx  map[string]uint16 // dedup key -> index
}

// Assemble compiles textual assembly source into a Module. name is used
// only in error messages (pass a file path when reading from a file).
func Assemble(name string, r io.Reader) (*Module, error) {
	lines, err := tokenizeSource(name, r)
	if err != nil {
		return nil, err
	}
	st := &asmState{
		name:     name,
		lines:    lines,
		sigsByID: make(map[string][]*funcSig),
		poolIdx:  make(map[string]uint16),
	}
	if err := st.collectSignatures(); err != nil {
		return nil, err
	}
	fns, entryID, err := st.assembleBodies()
	if err != nil {
		return nil, err
	}
	return &Module{Consts: st.pool, Functions: fns, EntryFuncID: entryID}, nil
}

// tokenizeSource splits src into comment-stripped, quote-aware word
// lists, one per non-blank physical line.
func tokenizeSource(name string, r io.Reader) ([]sourceLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []sourceLine
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := stripComment(sc.Text())
		words, err := splitWords(raw)
		if err != nil {
			return nil, &AsmError{name, lineNo, err.Error()}
		}
		if len(words) == 0 {
			continue
		}
		out = append(out, sourceLine{no: lineNo, words: words})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asm: read %s: %w", name, err)
	}
	return out, nil
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

func splitWords(line string) ([]string, error) {
	var words []string
	i, n := 0, len(line)
	for i < n {
		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n {
			break
		}
		switch line[i] {
		case '"':
			j := i + 1
			for j < n && line[j] != '"' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated string literal")
			}
			words = append(words, line[i:j+1])
			i = j + 1
		case '/':
			j := i + 1
			for j < n && line[j] != '/' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated regex literal")
			}
			j++
			for j < n && isAlpha(line[j]) {
				j++
			}
			words = append(words, line[i:j])
			i = j
		default:
			j := i
			for j < n && !isSpace(line[j]) {
				j++
			}
			words = append(words, line[i:j])
			i = j
		}
	}
	return words, nil
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' }
func isAlpha(b byte) bool { return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' }

func unquote(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	return tok
}

// ---------------------------------------------------------------------------
// Pass 1: collect every function's signature, independent of body/labels.
// ---------------------------------------------------------------------------

func (st *asmState) collectSignatures() error {
	var cur *funcSig
	for _, ln := range st.lines {
		w := ln.words
		switch w[0] {
		case "MKFN":
			if cur != nil {
				return &AsmError{st.name, ln.no, "MKFN before previous WRFN"}
			}
			if len(w) != 2 {
				return &AsmError{st.name, ln.no, "MKFN requires exactly one name argument"}
			}
			cur = &funcSig{name: w[1]}
		case "FSIG":
			if cur == nil {
				return &AsmError{st.name, ln.no, "FSIG outside MKFN block"}
			}
			p, err := parseFSIG(w, ln.no, st.name)
			if err != nil {
				return err
			}
			cur.params = append(cur.params, p)
		case ".returns":
			if cur == nil || len(w) != 2 {
				return &AsmError{st.name, ln.no, ".returns requires exactly one type argument inside MKFN"}
			}
			cur.ret = w[1]
		case ".cat":
			if cur != nil && len(w) == 2 {
				cur.category = w[1]
			}
		case ".short":
			if cur != nil && len(w) == 2 {
				cur.short = unquote(w[1])
			}
		case ".desc":
			if cur != nil && len(w) == 2 {
				cur.desc = unquote(w[1])
			}
		case ".example":
			if cur != nil && len(w) == 2 {
				cur.example = unquote(w[1])
			}
		case ".entry":
			if cur != nil {
				cur.entry = true
			}
		case "WRFN":
			if cur == nil {
				return &AsmError{st.name, ln.no, "WRFN without matching MKFN"}
			}
			params := make([]funcid.Param, len(cur.params))
			for i, p := range cur.params {
				params[i] = funcid.Param{Type: p.Type, ByRef: p.ByRef}
			}
			cur.id = funcid.ID(cur.name, params, cur.ret)
			st.sigs = append(st.sigs, cur)
			st.sigsByID[cur.name] = append(st.sigsByID[cur.name], cur)
			cur = nil
		}
	}
	if cur != nil {
		return &AsmError{st.name, st.lines[len(st.lines)-1].no, "unterminated MKFN block (missing WRFN)"}
	}
	return nil
}

func parseFSIG(w []string, lineNo int, name string) (vm.ParamSpec, error) {
	if len(w) < 2 {
		return vm.ParamSpec{}, &AsmError{name, lineNo, "FSIG requires a parameter name"}
	}
	p := vm.ParamSpec{Name: w[1]}
	rest := w[2:]
	for i := 0; i < len(rest); i++ {
		switch {
		case rest[i] == "&":
			p.ByRef = true
		case rest[i] == "=":
			if i+1 >= len(rest) {
				return vm.ParamSpec{}, &AsmError{name, lineNo, "FSIG: '=' with no default value"}
			}
			v, err := parseLiteralDefault(rest[i+1])
			if err != nil {
				return vm.ParamSpec{}, &AsmError{name, lineNo, err.Error()}
			}
			p.Default = &v
			i++
		case p.Type == "":
			p.Type = rest[i]
		default:
			return vm.ParamSpec{}, &AsmError{name, lineNo, "FSIG: unexpected token " + rest[i]}
		}
	}
	return p, nil
}

func parseLiteralDefault(tok string) (vm.Value, error) {
	switch tok {
	case "nil":
		return vm.Nil, nil
	case "true":
		return vm.True, nil
	case "false":
		return vm.False, nil
	}
	if strings.HasPrefix(tok, "\"") {
		return vm.FromString(unquote(tok)), nil
	}
	if strings.ContainsAny(tok, ".eE") {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return vm.Value{}, fmt.Errorf("invalid default %q: %v", tok, err)
		}
		return vm.FromFloat64(f), nil
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return vm.Value{}, fmt.Errorf("invalid default %q: %v", tok, err)
	}
	return vm.FromInt(n, vm.W64), nil
}

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

func (st *asmState) internString(s string) uint16 {
	return st.intern("s:"+s, vm.PoolConst{Tag: 0, Str: s})
}

func (st *asmState) internFixed(f *vm.Fixed) uint16 {
	key := fmt.Sprintf("f:%s/%d", f.Unscaled.String(), f.Scale)
	return st.intern(key, vm.PoolConst{Tag: 1, Fixed: f})
}

func (st *asmState) internRegex(pattern, flags string) uint16 {
	key := "r:" + pattern + "\x00" + flags
	return st.intern(key, vm.PoolConst{Tag: 2, RegexPattern: pattern, RegexFlags: flags})
}

func (st *asmState) intern(key string, pc vm.PoolConst) uint16 {
	if idx, ok := st.poolIdx[key]; ok {
		return idx
	}
	idx := uint16(len(st.pool))
	st.pool = append(st.pool, pc)
	st.poolIdx[key] = idx
	return idx
}

// parseFixedLiteral parses a decimal string like "12.3400" or "-7" into
// a Fixed (Unscaled / 10^Scale).
func parseFixedLiteral(tok string) (*vm.Fixed, error) {
	neg := false
	s := tok
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	intPart, fracPart, hasFrac := s, "", false
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
		hasFrac = true
	}
	digits := intPart + fracPart
	if digits == "" {
		return nil, fmt.Errorf("invalid fixed literal %q", tok)
	}
	u, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid fixed literal %q", tok)
	}
	if neg {
		u.Neg(u)
	}
	scale := 0
	if hasFrac {
		scale = len(fracPart)
	}
	return &vm.Fixed{Unscaled: u, Scale: scale}, nil
}

func parseRegexLiteral(tok string) (pattern, flags string, err error) {
	if len(tok) < 2 || tok[0] != '/' {
		return "", "", fmt.Errorf("invalid regex literal %q", tok)
	}
	end := strings.LastIndexByte(tok, '/')
	if end <= 0 {
		return "", "", fmt.Errorf("invalid regex literal %q", tok)
	}
	return tok[1:end], tok[end+1:], nil
}

// ---------------------------------------------------------------------------
// Pass 2: assemble each function body.
// ---------------------------------------------------------------------------

func (st *asmState) assembleBodies() ([]*vm.FuncEntry, uint64, error) {
	var fns []*vm.FuncEntry
	var entryID uint64
	var cur *funcSig
	var b *vm.BytecodeBuilder
	var labels map[string]*vm.Label
	var usedNames map[string]bool

	finish := func() {
		locals := make([]string, 0, len(usedNames))
		for n := range usedNames {
			locals = append(locals, n)
		}
		fn := &vm.FuncEntry{
			ID:       cur.id,
			Name:     cur.name,
			Category: cur.category,
			Params:   cur.params,
			Return:   cur.ret,
			Code:     b.Bytes(),
			Locals:   locals,
			Short:    cur.short,
			Desc:     cur.desc,
			Example:  cur.example,
		}
		fns = append(fns, fn)
		if cur.entry {
			entryID = cur.id
		}
	}

	for _, ln := range st.lines {
		w := ln.words
		mnem := w[0]

		if strings.HasSuffix(mnem, ":") && len(mnem) > 1 && len(w) == 1 {
			if b == nil {
				return nil, 0, &AsmError{st.name, ln.no, "label outside function body"}
			}
			name := mnem[:len(mnem)-1]
			lbl := labels[name]
			if lbl == nil {
				lbl = b.NewLabel()
				labels[name] = lbl
			} else if lbl.Defined() {
				return nil, 0, &AsmError{st.name, ln.no, "label redefined: " + name}
			}
			b.Mark(lbl)
			continue
		}

		switch mnem {
		case "MKFN":
			cur = popSig(st.sigs, w[1])
			if cur == nil {
				return nil, 0, &AsmError{st.name, ln.no, "internal: signature missing for " + w[1]}
			}
			b = vm.NewBytecodeBuilder()
			labels = make(map[string]*vm.Label)
			usedNames = make(map[string]bool)
			for _, p := range cur.params {
				usedNames[p.Name] = true
			}
		case "FSIG", ".returns", ".cat", ".short", ".desc", ".example", ".entry":
			// signature-affecting, already consumed in pass 1
		case "WRFN":
			if cur == nil {
				return nil, 0, &AsmError{st.name, ln.no, "WRFN without matching MKFN"}
			}
			finish()
			cur, b, labels, usedNames = nil, nil, nil, nil
		default:
			if b == nil {
				return nil, 0, &AsmError{st.name, ln.no, "instruction outside MKFN/WRFN block: " + mnem}
			}
			if err := st.emit(b, labels, usedNames, w, ln.no); err != nil {
				return nil, 0, err
			}
		}
	}
	return fns, entryID, nil
}

// popSig consumes and returns the next not-yet-assembled signature for
// name, in declaration order, so repeated MKFN blocks for overloaded
// names line up with the order collectSignatures saw them in.
func popSig(sigs []*funcSig, name string) *funcSig {
	for _, s := range sigs {
		if s.name == name && !s.consumed {
			s.consumed = true
			return s
		}
	}
	return nil
}

