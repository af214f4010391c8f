//go:build !js

// Command ESPboy-ABCscript compiles a JSON-encoded ABC program into a
// stack machine image and optionally runs it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/asm"
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/compiler"
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

func main() {
	inPath := flag.String("in", "", "input program (JSON AST, or .asm listing)")
	outPath := flag.String("out", "", "output binary file path (default: input with .bin extension)")
	runProgram := flag.Bool("run", false, "run the generated binary on the virtual machine")
	optimize := flag.Bool("O", true, "run the peephole optimizer")
	noInline := flag.Bool("no-inline", false, "disable function inlining")
	noUnroll := flag.Bool("no-unroll", false, "disable loop unrolling")
	maxUnroll := flag.Int("max-unroll", compiler.DefaultMaxUnroll, "maximum unrolled loop iterations")
	trace := flag.Bool("trace", false, "log optimizer rounds to stderr")
	listing := flag.String("listing", "", "write the assembler listing to this file (- for stdout)")
	steps := flag.Int("steps", 10_000_000, "step limit for -run")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in <program.json>")
		flag.Usage()
		os.Exit(2)
	}

	opts := compiler.DefaultOptions()
	opts.Optimize = *optimize
	opts.Inline = !*noInline
	opts.Unroll = !*noUnroll
	opts.MaxUnroll = *maxUnroll
	if *trace {
		opts.Trace = log.New(os.Stderr, "opt: ", 0)
	}

	code, text, err := build(*inPath, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *listing != "" && text != "" {
		if *listing == "-" {
			fmt.Print(text)
		} else if err := os.WriteFile(*listing, []byte(text), 0o644); err != nil {
			log.Fatalf("failed to write listing %q: %v", *listing, err)
		}
	}

	output := *outPath
	if output == "" {
		output = defaultOutputPath(*inPath)
	}
	if err := writeBinary(output, code); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write binary file %q: %v\n", output, err)
		os.Exit(1)
	}
	fmt.Printf("assembled %d bytes -> %s\n", len(code), output)

	if !*runProgram {
		return
	}
	if err := runBinary(output, *steps); err != nil {
		fmt.Fprintf(os.Stderr, "run failed for %q: %v\n", output, err)
		os.Exit(1)
	}
}

// build compiles a JSON program, or assembles a listing when the input
// ends in .asm. It returns the image and the listing it came from.
func build(path string, opts compiler.Options) ([]byte, string, error) {
	if strings.HasSuffix(path, ".asm") {
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read input file %q: %w", path, err)
		}
		code, _, err := asm.Assemble(string(source))
		if err != nil {
			return nil, "", fmt.Errorf("assembly failed: %w", err)
		}
		return code, string(source), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read input file %q: %w", path, err)
	}
	defer f.Close()
	prog, err := compiler.DecodeProgram(f)
	if err != nil {
		return nil, "", err
	}
	code, out, err := compiler.Build(prog, opts)
	if err != nil {
		return nil, "", fmt.Errorf("compilation failed:\n%w", err)
	}
	return code, out.Listing(), nil
}

func defaultOutputPath(inPath string) string {
	ext := filepath.Ext(inPath)
	if ext == "" {
		return inPath + ".bin"
	}
	return strings.TrimSuffix(inPath, ext) + ".bin"
}

func writeBinary(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func runBinary(path string, steps int) error {
	img, err := vm.OpenImage(path)
	if err != nil {
		return err
	}
	defer img.Close()

	m := vm.NewMachine()
	if err := m.Load(img.Bytes()); err != nil {
		return err
	}
	if err := m.Run(steps); err != nil {
		return err
	}

	fmt.Printf("run complete (%s): PC=0x%06X SP=%d steps=%d stack=% X\n",
		path, m.PC, m.SP, m.Steps, m.Stack[:m.SP])
	return nil
}
