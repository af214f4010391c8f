// Command abcdump prints the assembler listing of a JSON program, or
// disassembles a program image.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/compiler"
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: abcdump program.json|program.bin")
		os.Exit(2)
	}
	path := os.Args[1]

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	if strings.HasSuffix(path, ".json") {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		defer f.Close()
		prog, err := compiler.DecodeProgram(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		out, err := compiler.Compile(prog, compiler.DefaultOptions())
		if err != nil {
			fmt.Fprintln(os.Stderr, "compile error:", err)
			os.Exit(1)
		}
		fmt.Fprint(w, out.Listing())
		return
	}

	img, err := vm.OpenImage(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read error:", err)
		os.Exit(1)
	}
	defer img.Close()
	disassemble(w, img.Bytes())
}

// disassemble writes one line per instruction. Bytes that do not decode
// are written as .BYTE.
func disassemble(w io.Writer, prog []byte) {
	fmt.Fprintf(w, "%06X  .SIG % X\n", 0, prog[:len(vm.Signature)])
	for pc := uint32(len(vm.Signature)); int(pc) < len(prog); {
		in, err := vm.Decode(prog, pc)
		if err != nil {
			fmt.Fprintf(w, "%06X  .BYTE %d\n", pc, prog[pc])
			pc++
			continue
		}
		fmt.Fprintf(w, "%06X  %s\n", pc, in)
		pc += uint32(vm.Info(in.Op).Len())
	}
}
