// Package dist implements the optional debug-info side channel for a
// compiled image: per-instruction source spans and a local-variable name
// table, keyed by function ID, plus a build identifier that ties an image
// back to the compile that produced it. vm deliberately treats this as an
// opaque blob (vm.ImageWriter.DebugBlob / vm.Image.DebugBlob) so that
// package never needs to import the CBOR codec that reads it.
package dist

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/lavendeux-lang/lavendeux/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// SpanEntry records the source position instructions at and after Offset
// (a bytecode.BytecodeReader position within one function's Code) map to,
// until the next entry's Offset.
type SpanEntry struct {
	Offset int           `cbor:"1,keyasint"`
	Loc    vm.SourceLoc  `cbor:"2,keyasint"`
}

// FuncDebug is one function's worth of debug data.
type FuncDebug struct {
	FuncID uint64      `cbor:"1,keyasint"`
	Spans  []SpanEntry `cbor:"2,keyasint"`       // sorted ascending by Offset
	Vars   []string    `cbor:"3,keyasint,omitempty"` // local slot index -> name, param slots first
}

// DebugInfo is the full decoded contents of an image's debug section.
type DebugInfo struct {
	BuildID uuid.UUID   `cbor:"1,keyasint"`
	Funcs   []FuncDebug `cbor:"2,keyasint"`

	byFunc map[uint64]FuncDebug
}

// New builds a DebugInfo stamped with a fresh build identifier. Callers
// (the assembler) append to Funcs as each function compiles.
func New() *DebugInfo {
	return &DebugInfo{BuildID: uuid.New()}
}

// Encode serializes d to canonical CBOR, the form vm.ImageWriter carries
// as DebugBlob.
func (d *DebugInfo) Encode() ([]byte, error) {
	b, err := cborEncMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("dist: encode debug info: %w", err)
	}
	return b, nil
}

// Decode parses a DebugInfo previously produced by Encode.
func Decode(data []byte) (*DebugInfo, error) {
	var d DebugInfo
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("dist: decode debug info: %w", err)
	}
	d.index()
	return &d, nil
}

func (d *DebugInfo) index() {
	d.byFunc = make(map[uint64]FuncDebug, len(d.Funcs))
	for _, fd := range d.Funcs {
		d.byFunc[fd.FuncID] = fd
	}
}

// SpanFor implements vm.SpanLookup: the source location of the
// instruction at offset within function funcID, found by locating the
// last span entry whose Offset does not exceed offset. Returns the zero
// SourceLoc (renders as "<no debug info>") for an unknown function or an
// offset before the first recorded span.
func (d *DebugInfo) SpanFor(funcID uint64, offset int) vm.SourceLoc {
	if d.byFunc == nil {
		d.index()
	}
	fd, ok := d.byFunc[funcID]
	if !ok || len(fd.Spans) == 0 {
		return vm.SourceLoc{}
	}
	i := sort.Search(len(fd.Spans), func(i int) bool { return fd.Spans[i].Offset > offset })
	if i == 0 {
		return vm.SourceLoc{}
	}
	return fd.Spans[i-1].Loc
}

// VarName returns the declared name of local slot idx in funcID, or ""
// if the function carries no variable table or the slot is out of range.
func (d *DebugInfo) VarName(funcID uint64, idx int) string {
	if d.byFunc == nil {
		d.index()
	}
	fd, ok := d.byFunc[funcID]
	if !ok || idx < 0 || idx >= len(fd.Vars) {
		return ""
	}
	return fd.Vars[idx]
}

// AddFunc appends one function's span table, keeping Spans sorted so
// SpanFor's binary search holds regardless of emission order.
func (d *DebugInfo) AddFunc(funcID uint64, spans []SpanEntry, vars []string) {
	sort.Slice(spans, func(i, j int) bool { return spans[i].Offset < spans[j].Offset })
	d.Funcs = append(d.Funcs, FuncDebug{FuncID: funcID, Spans: spans, Vars: vars})
}
