package compiler

import (
	"fmt"

	"modernc.org/mathutil"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// rule rewrites the instructions at the start of a window. It returns how
// many instructions it consumed and their replacement; n == 0 means the
// rule does not apply.
type rule struct {
	name  string
	apply func(w *window) (n int, repl []Instr)
}

// window is a view of a function's code at position i.
type window struct {
	code []Instr
	i    int
	data map[LabelID]*DataBlock
}

// none is what at returns outside the code: a label marker matches no
// instruction pattern.
var none = Instr{IsLabel: true}

func (w *window) at(k int) Instr {
	j := w.i + k
	if j < 0 || j >= len(w.code) {
		return none
	}
	return w.code[j]
}

func (w *window) line() int { return w.at(0).Line }

// pushes returns the immediates of n consecutive PUSH instructions
// starting at k.
func (w *window) pushes(k, n int) ([]byte, bool) {
	bs := make([]byte, n)
	for j := 0; j < n; j++ {
		in := w.at(k + j)
		if !in.isPush() {
			return nil, false
		}
		bs[j] = byte(in.Imm)
	}
	return bs, true
}

// labelIndex finds the marker of l.
func (w *window) labelIndex(l LabelID) int {
	for j, in := range w.code {
		if in.IsLabel && in.Label == l {
			return j
		}
	}
	return -1
}

// after returns the first real instruction following the marker of l,
// skipping further markers, and its index.
func (w *window) after(l LabelID) (Instr, int) {
	j := w.labelIndex(l)
	if j < 0 {
		return none, -1
	}
	for j++; j < len(w.code); j++ {
		if !w.code[j].IsLabel {
			return w.code[j], j
		}
	}
	return none, -1
}

// le decodes little-endian bytes, first pushed is least significant.
func le(bs []byte) uint32 {
	var v uint32
	for i := len(bs) - 1; i >= 0; i-- {
		v = v<<8 | uint32(bs[i])
	}
	return v
}

func pushBytes(v uint32, n, line int) []Instr {
	out := make([]Instr, n)
	for i := range out {
		out[i] = ins(vm.OpPUSH, uint32(byte(v>>(8*i))), line)
	}
	return out
}

// maxRewrites bounds one reduce call; hitting it means a rule set that
// oscillates.
const maxRewrites = 1 << 20

// reduce applies rules until no window of f matches any of them. After a
// rewrite the scan resumes a few instructions back, far enough for every
// rule window that could now match.
func reduce(f *Function, rules []rule, data map[LabelID]*DataBlock) (bool, error) {
	code := f.Instrs
	fired := 0
	for i := 0; i < len(code); {
		w := window{code: code, i: i, data: data}
		matched := false
		for _, r := range rules {
			n, repl := r.apply(&w)
			if n == 0 {
				continue
			}
			checkEffect(r.name, code[i:i+n], repl)
			next := make([]Instr, 0, len(code)-n+len(repl))
			next = append(next, code[:i]...)
			next = append(next, repl...)
			next = append(next, code[i+n:]...)
			code = next
			matched = true
			if fired++; fired > maxRewrites {
				return true, fmt.Errorf("optimizer: %s did not reach a fixed point after %d rewrites", f.Name, fired)
			}
			break
		}
		if !matched {
			i++
			continue
		}
		i = mathutil.Max(0, i-maxWindow)
	}
	f.Instrs = code
	return fired > 0, nil
}

// maxWindow is the longest pattern any rule inspects.
const maxWindow = 9

// checkEffect panics when a rewrite changes the net stack effect of
// straight-line code.
func checkEffect(name string, before, after []Instr) {
	a, ok := netEffect(before)
	if !ok {
		return
	}
	b, ok := netEffect(after)
	if ok && a != b {
		internalError("peephole rule %s changes stack effect from %d to %d", name, a, b)
	}
}

// netEffect sums the stack effect of a straight-line sequence. Counted
// moves need the count pushed inside the sequence.
func netEffect(code []Instr) (int, bool) {
	net := 0
	count, known := 0, false
	for _, in := range code {
		if in.IsLabel {
			return 0, false
		}
		pop, push, ok := stackEffect(in)
		if !ok {
			switch in.Op {
			case vm.OpGETLN, vm.OpGETGN, vm.OpSETLN, vm.OpSETGN:
				if !known {
					return 0, false
				}
				pop, push = 1, 0
				if in.Op == vm.OpGETLN || in.Op == vm.OpGETGN {
					push = count
				} else {
					pop += count
				}
			default:
				return 0, false
			}
		}
		net += push - pop
		count, known = int(in.Imm), in.isPush()
	}
	return net, true
}

// stackEffect reports the bytes an instruction pops and pushes when that
// does not depend on run-time values or control flow.
func stackEffect(in Instr) (pop, push int, ok bool) {
	op := in.Op
	if _, n, isP := vm.PushValue(op); isP {
		return 0, n, true
	}
	switch {
	case op >= vm.OpDUP && op <= vm.OpDUP8:
		return 0, 1, true
	case op >= vm.OpDUPW && op <= vm.OpDUPW8:
		return 0, 2, true
	case op >= vm.OpBOOL && op <= vm.OpBOOL4:
		return op.Width(), 1, true
	case op.IsCompare():
		return 2 * op.Width(), 1, true
	case op.IsBinary():
		return 2 * op.Width(), op.Width(), true
	}
	switch op {
	case vm.OpNOP:
		return 0, 0, true
	case vm.OpPUSH:
		return 0, 1, true
	case vm.OpPUSH2, vm.OpPUSH3, vm.OpPUSH4:
		return 0, int(op-vm.OpPUSH2) + 2, true
	case vm.OpGETL, vm.OpGETG:
		return 0, 1, true
	case vm.OpGETL2, vm.OpGETG2:
		return 0, 2, true
	case vm.OpGETL4, vm.OpGETG4:
		return 0, 4, true
	case vm.OpSETL, vm.OpSETG:
		return 1, 0, true
	case vm.OpSETL2, vm.OpSETG2:
		return 2, 0, true
	case vm.OpSETL4, vm.OpSETG4:
		return 4, 0, true
	case vm.OpGETP:
		return 3, 1, true
	case vm.OpGETPN:
		return 3, int(in.Imm), true
	case vm.OpGETR:
		return 2, 1, true
	case vm.OpGETR2:
		return 2, 2, true
	case vm.OpGETRN:
		return 2, int(in.Imm), true
	case vm.OpSETR:
		return 3, 0, true
	case vm.OpSETR2:
		return 4, 0, true
	case vm.OpSETRN:
		return 2 + int(in.Imm), 0, true
	case vm.OpREFL, vm.OpREFG:
		return 0, 2, true
	case vm.OpPUSHL:
		return 0, 3, true
	case vm.OpAIDX, vm.OpAIDXB, vm.OpAIXB1:
		idx := 2
		if op != vm.OpAIDX {
			idx = 1
		}
		return 2 + idx, 2, true
	case vm.OpPIDX:
		return 5, 3, true
	case vm.OpPIDXB:
		return 4, 3, true
	case vm.OpPOP, vm.OpPOP2, vm.OpPOP3, vm.OpPOP4:
		return int(op-vm.OpPOP) + 1, 0, true
	case vm.OpPOPN:
		return int(in.Imm), 0, true
	case vm.OpSEXT, vm.OpSEXT2, vm.OpSEXT3:
		return 0, int(op-vm.OpSEXT) + 1, true
	case vm.OpNOT, vm.OpINC, vm.OpDEC:
		return 1, 1, true
	case vm.OpLINC:
		return 0, 0, true
	case vm.OpADD2B, vm.OpSUB2B, vm.OpMUL2B:
		return 3, 2, true
	case vm.OpADD3B:
		return 4, 3, true
	case vm.OpBZ, vm.OpBNZ:
		return 1, 0, true
	case vm.OpSYS:
		if in.Imm < vm.NumSysCalls {
			sc := vm.SysCalls[in.Imm]
			n := 0
			for _, a := range sc.Args {
				n += a
			}
			return n, sc.Ret, true
		}
	}
	return 0, 0, false
}
