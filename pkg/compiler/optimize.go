package compiler

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"modernc.org/mathutil"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// maxRounds bounds every optimizer loop. The rule sets only ever shrink
// the code, so reaching it is a compiler bug.
const maxRounds = 256

type optimizer struct {
	out     *Output
	lt      *LabelTable
	opts    Options
	byLabel map[LabelID]*Function
	data    map[LabelID]*DataBlock
}

func newOptimizer(out *Output, opts Options) *optimizer {
	o := &optimizer{
		out:  out,
		lt:   out.Labels,
		opts: opts,
		data: make(map[LabelID]*DataBlock),
	}
	for _, d := range out.Data {
		o.data[d.Label] = d
	}
	o.index()
	return o
}

func (o *optimizer) index() {
	o.byLabel = make(map[LabelID]*Function, len(o.out.Funcs))
	for _, f := range o.out.Funcs {
		o.byLabel[f.Label] = f
	}
}

// optimize rewrites out in place. Inlining and dead function removal
// alternate with local rewriting until nothing changes; then the
// specialized opcodes and tail calls are introduced; finally the short
// reference forms are fused in and pushes and pops are compacted.
func optimize(out *Output, opts Options) error {
	o := newOptimizer(out, opts)
	both := append(append([]rule{}, reduceRules...), specializeRules...)

	for round := 1; ; round++ {
		if round > maxRounds {
			return fmt.Errorf("optimizer: no fixed point after %d rounds", maxRounds)
		}
		changed := false

		for i := 0; ; i++ {
			if i > maxRounds {
				return fmt.Errorf("optimizer: inlining did not settle")
			}
			step := false
			if opts.Inline && o.inline() {
				step = true
			}
			if o.removeDead() {
				step = true
			}
			if o.layoutData() {
				step = true
			}
			r, err := o.reduceAll(reduceRules)
			if err != nil {
				return err
			}
			if o.cleanLabels() {
				step = true
			}
			if !step && !r {
				break
			}
			changed = true
		}

		for i := 0; ; i++ {
			if i > maxRounds {
				return fmt.Errorf("optimizer: rewriting did not settle")
			}
			r, err := o.reduceAll(both)
			if err != nil {
				return err
			}
			t := o.tailCalls()
			c := o.cleanLabels()
			if !r && !t && !c {
				break
			}
			changed = true
		}

		if opts.Trace != nil {
			opts.Trace.Printf("round %d: %d functions, %d instructions", round, len(out.Funcs), out.InstrCount())
		}
		if !changed {
			break
		}
	}

	if _, err := o.reduceAll(accessRules); err != nil {
		return err
	}
	for _, f := range out.Funcs {
		f.Instrs = compact(f.Instrs)
	}
	return nil
}

// reduceAll runs reduce on every function, concurrently when allowed.
func (o *optimizer) reduceAll(rules []rule) (bool, error) {
	changed := make([]bool, len(o.out.Funcs))
	var g errgroup.Group
	if o.opts.Parallel {
		g.SetLimit(runtime.GOMAXPROCS(0))
	} else {
		g.SetLimit(1)
	}
	for i, f := range o.out.Funcs {
		i, f := i, f
		g.Go(func() error {
			c, err := reduce(f, rules, o.data)
			changed[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, c := range changed {
		if c {
			return true, nil
		}
	}
	return false, nil
}

// refCounts counts references to every label from instructions and from
// program data relocations.
func (o *optimizer) refCounts() map[LabelID]int {
	refs := make(map[LabelID]int)
	for _, f := range o.out.Funcs {
		for _, in := range f.Instrs {
			if !in.IsLabel && in.Label.IsValid() {
				refs[in.Label]++
			}
		}
	}
	for _, d := range o.out.Data {
		for _, r := range d.Relocs {
			refs[r.Label]++
		}
	}
	return refs
}

// removeDead drops functions not reachable from main or the global
// initializer.
func (o *optimizer) removeDead() bool {
	live := make(map[*Function]bool)
	var worklist []*Function
	mark := func(f *Function) {
		if f != nil && !live[f] {
			live[f] = true
			worklist = append(worklist, f)
		}
	}
	mark(o.out.function("main"))
	mark(o.out.function(globInitName))
	for len(worklist) > 0 {
		f := worklist[0]
		worklist = worklist[1:]
		for _, g := range o.callees(f) {
			mark(g)
		}
	}

	kept := o.out.Funcs[:0]
	for _, f := range o.out.Funcs {
		if live[f] {
			kept = append(kept, f)
		}
	}
	removed := len(kept) != len(o.out.Funcs)
	for i := len(kept); i < len(o.out.Funcs); i++ {
		o.out.Funcs[i] = nil
	}
	o.out.Funcs = kept
	if removed {
		o.index()
	}
	return removed
}

// layoutData drops program data nothing refers to and places the rest
// from vm.ReservedLow on.
func (o *optimizer) layoutData() bool {
	used := make(map[LabelID]bool)
	var worklist []LabelID
	mark := func(l LabelID) {
		if o.data[l] != nil && !used[l] {
			used[l] = true
			worklist = append(worklist, l)
		}
	}
	for _, f := range o.out.Funcs {
		for _, in := range f.Instrs {
			if !in.IsLabel && in.Label.IsValid() {
				mark(in.Label)
			}
		}
	}
	for len(worklist) > 0 {
		l := worklist[0]
		worklist = worklist[1:]
		for _, r := range o.data[l].Relocs {
			mark(r.Label)
		}
	}

	var kept []*DataBlock
	off := uint32(vm.ReservedLow)
	for _, d := range o.out.Data {
		if !used[d.Label] {
			delete(o.data, d.Label)
			continue
		}
		d.Offset = off
		d.Placed = true
		off += uint32(len(d.Bytes))
		kept = append(kept, d)
	}
	removed := len(kept) != len(o.out.Data)
	o.out.Data = kept
	return removed
}

// cleanLabels merges runs of adjacent code labels into the first one and
// deletes code labels nothing jumps to.
func (o *optimizer) cleanLabels() bool {
	changed := false
	for _, f := range o.out.Funcs {
		alias := make(map[LabelID]LabelID)
		for i := 0; i < len(f.Instrs); i++ {
			in := f.Instrs[i]
			if !in.IsLabel || o.lt.Kind(in.Label) != LabelCode {
				continue
			}
			for j := i + 1; j < len(f.Instrs) && f.Instrs[j].IsLabel; j++ {
				alias[f.Instrs[j].Label] = in.Label
			}
			for i+1 < len(f.Instrs) && f.Instrs[i+1].IsLabel {
				i++
			}
		}
		if len(alias) > 0 {
			changed = true
			for i := range f.Instrs {
				if !f.Instrs[i].IsLabel {
					if to, ok := alias[f.Instrs[i].Label]; ok {
						f.Instrs[i].Label = to
					}
				}
			}
		}

		refs := make(map[LabelID]int)
		for _, in := range f.Instrs {
			if !in.IsLabel && in.Label.IsValid() {
				refs[in.Label]++
			}
		}
		kept := f.Instrs[:0]
		for _, in := range f.Instrs {
			if in.IsLabel {
				if _, dup := alias[in.Label]; dup || refs[in.Label] == 0 {
					changed = true
					continue
				}
			}
			kept = append(kept, in)
		}
		f.Instrs = kept
	}
	return changed
}

// tailCalls turns a call followed by a return into a jump. The callee's
// return then goes straight back to our caller.
func (o *optimizer) tailCalls() bool {
	changed := false
	for _, f := range o.out.Funcs {
		for i, in := range f.Instrs {
			if !in.is(vm.OpCALL) {
				continue
			}
			j := i + 1
			for j < len(f.Instrs) && f.Instrs[j].IsLabel {
				j++
			}
			if j < len(f.Instrs) && f.Instrs[j].is(vm.OpRET) {
				f.Instrs[i].Op = vm.OpJMP
				changed = true
			}
		}
	}
	return changed
}

// compact replaces runs of single-byte pushes and pops by their shortest
// encodings.
func compact(code []Instr) []Instr {
	var out []Instr
	for i := 0; i < len(code); {
		in := code[i]
		switch {
		case in.is(vm.OpPOP):
			n := 0
			for i < len(code) && code[i].is(vm.OpPOP) {
				n++
				i++
			}
			out = append(out, pops(n, in.Line)...)
		case in.isPush():
			var bs []byte
			for i < len(code) && code[i].isPush() {
				bs = append(bs, byte(code[i].Imm))
				i++
			}
			out = append(out, pushRun(bs, in.Line)...)
		default:
			out = append(out, in)
			i++
		}
	}
	return out
}

func pops(n, line int) []Instr {
	var out []Instr
	for n > 0 {
		switch {
		case n >= 5:
			k := mathutil.Min(n, 255)
			out = append(out, ins(vm.OpPOPN, uint32(k), line))
			n -= k
		case n == 1:
			out = append(out, ins(vm.OpPOP, 0, line))
			n = 0
		default:
			out = append(out, ins(vm.OpPOP2+vm.Opcode(n-2), 0, line))
			n = 0
		}
	}
	return out
}

// shortPush maps byte values to their one-byte push opcodes.
var shortPush = func() map[byte]vm.Opcode {
	m := make(map[byte]vm.Opcode)
	for op := vm.OpP0; op <= vm.OpP128; op++ {
		if v, n, ok := vm.PushValue(op); ok && n == 1 {
			m[v] = op
		}
	}
	return m
}()

var zeroRuns = []struct {
	n  int
	op vm.Opcode
}{
	{16, vm.OpPZ16},
	{8, vm.OpPZ8},
	{4, vm.OpP0000},
	{3, vm.OpP000},
	{2, vm.OpP00},
	{1, vm.OpP0},
}

func pushRun(bs []byte, line int) []Instr {
	var out []Instr
	for i := 0; i < len(bs); {
		if bs[i] == 0 {
			z := 0
			for i+z < len(bs) && bs[i+z] == 0 {
				z++
			}
			for _, r := range zeroRuns {
				for z >= r.n {
					out = append(out, ins(r.op, 0, line))
					z -= r.n
					i += r.n
				}
			}
			continue
		}
		if op, ok := shortPush[bs[i]]; ok {
			out = append(out, ins(op, 0, line))
			i++
			continue
		}
		k := 1
		for limit := mathutil.Min(4, len(bs)-i); k < limit; {
			if _, short := shortPush[bs[i+k]]; short {
				break
			}
			k++
		}
		op := vm.OpPUSH
		if k > 1 {
			op = vm.OpPUSH2 + vm.Opcode(k-2)
		}
		out = append(out, ins(op, le(bs[i:i+k]), line))
		i += k
	}
	return out
}
