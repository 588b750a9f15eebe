// Command lavrun loads a compiled Lavendeux image and executes its
// entry point.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lavendeux-lang/lavendeux/dist"
	"github.com/lavendeux-lang/lavendeux/vm"
)

func main() {
	maxDepth := flag.Int("max-depth", 0, "override the call-depth ceiling (0 keeps the interpreter default)")
	allowSyscalld := flag.Bool("allow-syscalld", false, "run the image even if it was compiled without syscalls allowed")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lavrun [--max-depth N] [--allow-syscalld] <image.lvbc>")
		os.Exit(1)
	}
	path := flag.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lavrun: %v\n", err)
		os.Exit(1)
	}
	img, err := vm.ReadImage(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lavrun: %v\n", err)
		os.Exit(1)
	}

	if *allowSyscalld {
		img.AllowAllSyscalls = true
	}

	if err := vm.Verify(img); err != nil {
		fmt.Fprintf(os.Stderr, "lavrun: %v\n", err)
		os.Exit(1)
	}

	_, interp, err := vm.Load(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lavrun: %v\n", err)
		os.Exit(1)
	}

	if *maxDepth > 0 {
		interp.MaxCallDepth = *maxDepth
	}

	if img.DebugBlob != nil {
		di, err := dist.Decode(img.DebugBlob)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lavrun: decoding debug info: %v\n", err)
			os.Exit(1)
		}
		interp.SetDebugInfo(di)
	}

	if img.EntryFuncID == 0 {
		fmt.Fprintln(os.Stderr, "lavrun: image has no entry function (compile with .entry set)")
		os.Exit(1)
	}

	result, err := interp.Run(img.EntryFuncID, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lavrun: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(vm.Display(result))
}
