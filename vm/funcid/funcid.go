// Package funcid computes the 64-bit function identifiers CALL sites and
// the function table key on (spec.md §4.1, §4.4: "Call function whose
// 64-bit id is fid"). An id is derived from a function's normalized
// signature rather than assigned by position, so two assembler runs over
// unchanged source produce the same ids, and CALL sites compiled against
// a library can resolve against a different build of that same library.
package funcid

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// Param is the normalized shape of one parameter: its declared type
// annotation (empty for untyped) and whether it's bound by reference.
// Parameter names never enter the hash — renaming a parameter must not
// change a function's id.
type Param struct {
	Type  string
	ByRef bool
}

// ID computes the function id for name with the given parameter list and
// return-type annotation. Built-ins and user functions share this scheme;
// a `__`-prefixed hidden name hashes like any other.
func ID(name string, params []Param, ret string) uint64 {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	for _, p := range params {
		h.Write([]byte(p.Type))
		if p.ByRef {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		h.Write([]byte{0})
	}
	h.Write([]byte(ret))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Signature renders the normalized form ID hashes, for diagnostics and
// the duplicate-id error the loader raises (spec.md §9: "the loader
// should nevertheless detect and reject duplicates").
func Signature(name string, params []Param, ret string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.ByRef {
			b.WriteString("&")
		}
		if p.Type != "" {
			b.WriteString(p.Type)
		} else {
			b.WriteString("any")
		}
	}
	b.WriteByte(')')
	if ret != "" {
		b.WriteString(" -> ")
		b.WriteString(ret)
	}
	return b.String()
}
