package compiler

import (
	"fmt"
	"strings"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// Instr is one instruction of a function body. A label marker has IsLabel
// set and only names a position.
type Instr struct {
	Op      vm.Opcode
	Imm     uint32
	Imm2    uint32
	Label   LabelID
	Line    int
	IsLabel bool
}

// is reports whether in is a real instruction with opcode op.
func (in Instr) is(op vm.Opcode) bool { return !in.IsLabel && in.Op == op }

func (in Instr) isPush() bool { return in.is(vm.OpPUSH) }

func ins(op vm.Opcode, imm uint32, line int) Instr {
	return Instr{Op: op, Imm: imm, Line: line}
}

func labelRef(op vm.Opcode, l LabelID, line int) Instr {
	return Instr{Op: op, Label: l, Line: line}
}

func marker(l LabelID, line int) Instr {
	return Instr{IsLabel: true, Label: l, Line: line}
}

// format renders in the way the assembler reads it.
func (in Instr) format(lt *LabelTable) string {
	if in.IsLabel {
		return lt.Name(in.Label) + ":"
	}
	info := vm.Info(in.Op)
	var ops []string
	if info.Args[0] != 0 {
		if in.Label.IsValid() {
			if in.Imm != 0 {
				ops = append(ops, fmt.Sprintf("%s+%d", lt.Name(in.Label), in.Imm))
			} else {
				ops = append(ops, lt.Name(in.Label))
			}
		} else {
			ops = append(ops, fmt.Sprint(in.Imm))
		}
	}
	if info.Args[1] != 0 {
		ops = append(ops, fmt.Sprint(in.Imm2))
	}
	if len(ops) == 0 {
		return "\t" + info.Name
	}
	return "\t" + info.Name + " " + strings.Join(ops, ", ")
}

// Function is a compiled function and, until code generation finishes, its
// source.
type Function struct {
	Name   string
	Label  LabelID
	Params []Param
	Ret    Type
	Body   *BlockStmt
	Line   int
	Instrs []Instr

	labels int
}

// newLabel allocates a function-local code label.
func (f *Function) newLabel(lt *LabelTable) LabelID {
	id := lt.New(fmt.Sprintf("$L_%s_%d", f.Name, f.labels), LabelCode)
	f.labels++
	return id
}

// Global is a variable in global memory or, for prog arrays, in program data.
type Global struct {
	Name  string
	Type  Type
	Addr  int
	Label LabelID
	Init  Expr
	Line  int
}

// Reloc asks for the 3-byte program address of Label+Addend to be written at
// Offset within a data block.
type Reloc struct {
	Offset int
	Label  LabelID
	Addend uint32
}

// DataBlock is a read-only blob placed in program memory.
type DataBlock struct {
	Label  LabelID
	Bytes  []byte
	Relocs []Reloc
	Offset uint32
	Placed bool
	Line   int
}

// fixed reports whether bytes [off, off+n) hold no relocation.
func (d *DataBlock) fixed(off, n int) bool {
	if off < 0 || off+n > len(d.Bytes) {
		return false
	}
	for _, r := range d.Relocs {
		if r.Offset < off+n && off < r.Offset+3 {
			return false
		}
	}
	return true
}

// Output is a compiled program ready for assembly.
type Output struct {
	Labels  *LabelTable
	Funcs   []*Function
	Globals []*Global
	Data    []*DataBlock
	// MainRet is the byte size of main's return value.
	MainRet int
}

func (o *Output) function(name string) *Function {
	for _, f := range o.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// InstrCount sums the real instructions of all functions.
func (o *Output) InstrCount() int {
	n := 0
	for _, f := range o.Funcs {
		for _, in := range f.Instrs {
			if !in.IsLabel {
				n++
			}
		}
	}
	return n
}

// Listing renders the program as assembler source: signature, entry stub,
// program data from vm.ReservedLow, then functions.
func (o *Output) Listing() string {
	var sb strings.Builder
	lt := o.Labels
	w := func(format string, args ...any) { fmt.Fprintf(&sb, format+"\n", args...) }

	w("; ABC program")
	for _, g := range o.Globals {
		if !g.Type.Prog {
			w(".EQU %s, %d\t; %s", lt.Name(g.Label), g.Addr, g.Type)
		}
	}
	w(".SIG")
	if o.function(globInitName) != nil {
		w("\tCALL %s", globInitName)
	}
	for i := 0; i < o.MainRet; i++ {
		w("\tPUSH 0")
	}
	w("\tCALL main")
	w("\tHALT")
	w(".ORG %d", vm.ReservedLow)

	for _, d := range o.Data {
		w("%s:", lt.Name(d.Label))
		relocAt := make(map[int]Reloc, len(d.Relocs))
		for _, r := range d.Relocs {
			relocAt[r.Offset] = r
		}
		var run []string
		flush := func() {
			if len(run) > 0 {
				w("\t.BYTE %s", strings.Join(run, ", "))
				run = run[:0]
			}
		}
		for i := 0; i < len(d.Bytes); {
			if r, ok := relocAt[i]; ok {
				flush()
				if r.Addend != 0 {
					w("\t.ADDR %s+%d", lt.Name(r.Label), r.Addend)
				} else {
					w("\t.ADDR %s", lt.Name(r.Label))
				}
				i += 3
				continue
			}
			run = append(run, fmt.Sprint(d.Bytes[i]))
			if len(run) == 16 {
				flush()
			}
			i++
		}
		flush()
	}

	for _, f := range o.Funcs {
		w("")
		w("%s:", lt.Name(f.Label))
		for _, in := range f.Instrs {
			w("%s", in.format(lt))
		}
	}
	return sb.String()
}
