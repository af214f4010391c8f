package compiler

import (
	"fmt"
	"log"
	"strings"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/asm"
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// globInitName is the synthetic function that runs global initializers.
const globInitName = "$globinit"

// Options controls code generation and optimization.
type Options struct {
	Optimize bool
	Inline   bool
	// InlineSmall also inlines functions with several callers when the
	// copies stay small.
	InlineSmall bool
	Unroll      bool
	MaxUnroll   int
	// Parallel rewrites functions concurrently between inlining steps.
	Parallel bool
	// Trace, when set, receives one line per optimizer round.
	Trace *log.Logger
}

func DefaultOptions() Options {
	return Options{
		Optimize:    true,
		Inline:      true,
		InlineSmall: true,
		Unroll:      true,
		MaxUnroll:   DefaultMaxUnroll,
		Parallel:    true,
	}
}

// Compile lowers prog to optimized instruction lists. Diagnostics from
// every function are collected before it gives up.
func Compile(prog *Program, opts Options) (*Output, error) {
	out, err := generate(prog, opts)
	if err != nil {
		return nil, err
	}
	if opts.Optimize {
		if err := optimize(out, opts); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Build compiles and assembles prog into a loadable image.
func Build(prog *Program, opts Options) ([]byte, *Output, error) {
	out, err := Compile(prog, opts)
	if err != nil {
		return nil, nil, err
	}
	bin, _, err := asm.Assemble(out.Listing())
	if err != nil {
		return nil, out, fmt.Errorf("assembly error: %w", err)
	}
	return bin, out, nil
}

func generate(prog *Program, opts Options) (*Output, error) {
	var diags Diagnostics
	lt := NewLabelTable()
	out := &Output{Labels: lt}
	cg := &codegen{
		lt:      lt,
		opts:    opts,
		funcs:   make(map[string]*FuncDecl),
		fnLabel: make(map[string]LabelID),
		globals: make(map[string]*Global),
	}

	needInit := false
	for _, g := range prog.Globals {
		if g.Init != nil && !g.Type.Prog {
			needInit = true
		}
	}
	if needInit {
		cg.fnLabel[globInitName] = lt.New(globInitName, LabelFunc)
	}

	var mainFn *FuncDecl
	for _, fd := range prog.Funcs {
		switch {
		case fd.Name == "" || strings.HasPrefix(fd.Name, "$"):
			diags.add(errorf(fd.Line, "bad function name %q", fd.Name))
			continue
		case cg.funcs[fd.Name] != nil:
			diags.add(errorf(fd.Line, "redefinition of function %q", fd.Name))
			continue
		case fd.Ret.Kind != KindPrim:
			diags.add(errorf(fd.Line, "function %s cannot return %s", fd.Name, fd.Ret))
		}
		for _, p := range fd.Params {
			if p.Type.IsVoid() || p.Type.Kind == KindArray {
				diags.add(errorf(fd.Line, "parameter %s of %s has type %s; pass arrays by reference", p.Name, fd.Name, p.Type))
			}
		}
		cg.funcs[fd.Name] = fd
		cg.fnLabel[fd.Name] = lt.New(fd.Name, LabelFunc)
		if fd.Name == "main" {
			mainFn = fd
		}
	}
	if mainFn == nil {
		diags.add(errorf(0, "program has no main function"))
	} else {
		if len(mainFn.Params) != 0 {
			diags.add(errorf(mainFn.Line, "main cannot take parameters"))
		}
		out.MainRet = mainFn.Ret.Size
	}

	addr := 0
	for _, d := range prog.Globals {
		if cg.globals[d.Name] != nil || cg.funcs[d.Name] != nil {
			diags.add(errorf(d.Line, "redefinition of %q", d.Name))
			continue
		}
		if d.Type.Size == 0 || d.Type.Kind == KindRef || d.Type.Kind == KindArrayRef {
			diags.add(errorf(d.Line, "global %q cannot have type %s", d.Name, d.Type))
			continue
		}
		g := &Global{Name: d.Name, Type: d.Type, Init: d.Init, Line: d.Line}
		if d.Type.Prog {
			g.Label = lt.New(d.Name, LabelData)
		} else {
			g.Label = lt.New(d.Name, LabelGlobal)
			g.Addr = addr
			addr += d.Type.Size
			if addr > vm.GlobalSize {
				diags.add(errorf(d.Line, "global %q does not fit in %d bytes of global memory", d.Name, vm.GlobalSize))
			}
		}
		cg.globals[d.Name] = g
		out.Globals = append(out.Globals, g)
	}

	for _, g := range out.Globals {
		if !g.Type.Prog {
			continue
		}
		blk, err := cg.progData(g)
		diags.add(err)
		out.Data = append(out.Data, blk)
	}

	if len(diags) > 0 {
		return nil, diags
	}

	if needInit {
		f, err := cg.globalInit(prog.Globals)
		diags.add(err)
		out.Funcs = append(out.Funcs, f)
	}
	for _, fd := range prog.Funcs {
		f, err := cg.function(fd)
		diags.add(err)
		out.Funcs = append(out.Funcs, f)
	}
	if err := diags.err(); err != nil {
		return nil, err
	}
	return out, nil
}
