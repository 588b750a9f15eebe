// Command lavc is the Lavendeux compiler driver: it assembles a .lasm
// source file into a framed .lvbc image.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lavendeux-lang/lavendeux/asm"
	"github.com/lavendeux-lang/lavendeux/dist"
	"github.com/lavendeux-lang/lavendeux/manifest"
	"github.com/lavendeux-lang/lavendeux/vm"
)

func main() {
	fullProgram := flag.Bool("F", false, "treat input as a full program (kept for CLI parity with the expression front end; assembly sources are always full programs)")
	srcPath := flag.String("f", "", "path to a .lasm source file")
	outPath := flag.String("o", "", "output image path (default: the manifest's output path if a manifest is loaded, else out.lvbc)")
	allowSyscalld := flag.Bool("allow-syscalld", false, "permit syscall opcodes in the compiled image")
	debugInfo := flag.Bool("D", false, "embed source-span debug info in the compiled image")
	manifestPath := flag.String("manifest", "", "load project defaults from the lavendeux.toml in this directory")
	flag.Parse()
	_ = fullProgram

	var m *manifest.Manifest
	if *manifestPath != "" {
		var err error
		m, err = manifest.Load(*manifestPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lavc: %v\n", err)
			os.Exit(1)
		}
	}

	src := *srcPath
	if src == "" && m != nil {
		src = m.Source.Entry
	}
	if src == "" {
		fmt.Fprintln(os.Stderr, "lavc: -f <src.lasm> is required (or --manifest with a source.entry)")
		os.Exit(1)
	}

	out := *outPath
	if out == "" && m != nil {
		out = m.OutputPath()
	}
	if out == "" {
		out = "out.lvbc"
	}

	allow := *allowSyscalld
	if !allow && m != nil {
		allow = m.Image.AllowSyscallD
	}
	debug := *debugInfo
	if !debug && m != nil {
		debug = m.Image.DebugInfo
	}

	f, err := os.Open(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lavc: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	mod, err := asm.Assemble(src, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lavc: %v\n", err)
		os.Exit(1)
	}

	if !allow {
		if err := rejectSyscalls(mod); err != nil {
			fmt.Fprintf(os.Stderr, "lavc: %v\n", err)
			os.Exit(1)
		}
	}

	w := &vm.ImageWriter{
		Constants:        mod.Consts,
		Functions:        mod.Functions,
		EntryFuncID:      mod.EntryFuncID,
		AllowAllSyscalls: allow,
	}
	if debug {
		blob, err := buildDebugBlob(mod)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lavc: %v\n", err)
			os.Exit(1)
		}
		w.DebugBlob = blob
	}

	outFile, err := os.Create(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lavc: %v\n", err)
		os.Exit(1)
	}
	defer outFile.Close()

	if _, err := w.WriteTo(outFile); err != nil {
		fmt.Fprintf(os.Stderr, "lavc: writing %s: %v\n", out, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s (%d functions)\n", out, len(mod.Functions))
}

// rejectSyscalls scans the assembled bytecode for SYSCALL opcodes when
// the image was not compiled with --allow-syscalld, per spec.md §6's
// "images compiled without it must not contain syscall opcodes".
func rejectSyscalls(mod *asm.Module) error {
	for _, fn := range mod.Functions {
		r := vm.NewBytecodeReader(fn.Code)
		for r.HasMore() {
			op := r.ReadOpcode()
			if op == vm.OpSyscall {
				return fmt.Errorf("function %q uses SYSCALL but --allow-syscalld was not given", fn.Name)
			}
			for i, n := 0, op.Info().OperandBytes; i < n && r.HasMore(); i++ {
				r.ReadByte()
			}
		}
	}
	return nil
}

// buildDebugBlob assembles a minimal debug-info section: one span per
// function covering its whole body, since .lasm source carries no
// line-level correlation to the assembled opcode stream. A future
// front end with real source positions would populate per-instruction
// spans instead of this one-entry-per-function placeholder.
func buildDebugBlob(mod *asm.Module) ([]byte, error) {
	d := dist.New()
	for _, fn := range mod.Functions {
		d.AddFunc(fn.ID, []dist.SpanEntry{{Offset: 0}}, fn.Locals)
	}
	return d.Encode()
}
