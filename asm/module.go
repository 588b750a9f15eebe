// Package asm implements the textual instruction-level assembler named
// in spec.md §4.1/§6.1: one mnemonic per line, `MKFN`/`FSIG`/`WRFN`
// function-table directives, labels for jump targets, and a shared
// constant pool for strings/fixed decimals/regexes and the name-pool
// entries REF/WREF address cells by. It is deliberately not the `.lav`
// expression/statement parser — that front end stays out of scope — but
// the assembler is the compiler driver's front end (cmd/lavc), turning
// source text into the in-memory Module vm.ImageWriter serializes.
package asm

import "github.com/lavendeux-lang/lavendeux/vm"

// Module is the fully-resolved output of Assemble: a constant pool and
// function table ready for vm.ImageWriter, mirroring the teacher's
// ImageWriter input shape one level up (text source instead of an AST).
type Module struct {
	Consts      []vm.PoolConst
	Functions   []*vm.FuncEntry
	EntryFuncID uint64
}
