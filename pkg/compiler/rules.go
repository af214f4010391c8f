package compiler

import (
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// reduceRules are the rewrites run to a fixed point in every optimizer
// phase. Each one shrinks the code or trades an instruction for a cheaper
// one, which is what makes the fixed point reachable.
var reduceRules = []rule{
	{"push_pop", pushPop},
	{"fold_unary", foldUnary},
	{"fold_bool", foldBoolN},
	{"fold_binary", foldBinary},
	{"fold_byte_op", foldByteOp},
	{"identity", identity},
	{"bool_pair", boolPair},
	{"const_branch", constBranch},
	{"fixed_access", fixedAccess},
	{"shrink_get", shrinkGet},
	{"merge_get", mergeGet},
	{"self_assign", selfAssign},
	{"direct_ref", directRef},
	{"const_index", constIndex},
	{"drop_ref", dropRef},
	{"bake_prog", bakeProg},
	{"jump_next", jumpNext},
	{"branch_over_jump", branchOverJump},
	{"branch_next", branchNext},
	{"dead_code", deadCode},
	{"jump_to_ret", jumpToRet},
	{"bzp_chain", bzpChain},
}

func pushPop(w *window) (int, []Instr) {
	if w.at(0).isPush() && w.at(1).is(vm.OpPOP) {
		return 2, nil
	}
	return 0, nil
}

// foldUnary evaluates single-byte operations on a pushed constant.
func foldUnary(w *window) (int, []Instr) {
	p := w.at(0)
	if !p.isPush() {
		return 0, nil
	}
	v := byte(p.Imm)
	line := w.line()
	next := w.at(1)
	if next.IsLabel {
		return 0, nil
	}
	switch op := next.Op; {
	case op == vm.OpSEXT || op == vm.OpSEXT2 || op == vm.OpSEXT3:
		var ext byte
		if v&0x80 != 0 {
			ext = 0xFF
		}
		out := []Instr{p}
		for k := 0; k <= int(op-vm.OpSEXT); k++ {
			out = append(out, ins(vm.OpPUSH, uint32(ext), line))
		}
		return 2, out
	case op == vm.OpBOOL:
		return 2, pushBytes(uint32(boolInt(v != 0)), 1, line)
	case op == vm.OpNOT:
		return 2, pushBytes(uint32(boolInt(v == 0)), 1, line)
	case op == vm.OpINC:
		return 2, pushBytes(uint32(v+1), 1, line)
	case op == vm.OpDEC:
		return 2, pushBytes(uint32(v-1), 1, line)
	case op == vm.OpDUP:
		return 2, []Instr{p, p}
	}
	return 0, nil
}

// foldBoolN collapses a pushed multi-byte constant.
func foldBoolN(w *window) (int, []Instr) {
	for n := 2; n <= 4; n++ {
		if !w.at(n).is(vm.OpBOOL.Sized(n)) {
			continue
		}
		bs, ok := w.pushes(0, n)
		if !ok {
			return 0, nil
		}
		return n + 1, pushBytes(uint32(boolInt(le(bs) != 0)), 1, w.line())
	}
	return 0, nil
}

// foldBinary evaluates a sized binary operation on two pushed constants.
// Division by zero is left for the machine to report.
func foldBinary(w *window) (int, []Instr) {
	for n := 1; n <= 4; n++ {
		op := w.at(2 * n)
		if op.IsLabel || !op.Op.IsBinary() || op.Op.Width() != n {
			continue
		}
		bs, ok := w.pushes(0, 2*n)
		if !ok {
			continue
		}
		r, fault := vm.EvalBinary(op.Op, le(bs[:n]), le(bs[n:]))
		if fault != vm.ErrNone {
			return 0, nil
		}
		if op.Op.IsCompare() {
			return 2*n + 1, pushBytes(r, 1, w.line())
		}
		return 2*n + 1, pushBytes(r, n, w.line())
	}
	return 0, nil
}

func foldByteOp(w *window) (int, []Instr) {
	var wide vm.Opcode
	n := 2
	switch w.at(3).Op {
	case vm.OpADD2B:
		wide = vm.OpADD2
	case vm.OpSUB2B:
		wide = vm.OpSUB2
	case vm.OpMUL2B:
		wide = vm.OpMUL2
	default:
		if !w.at(4).is(vm.OpADD3B) {
			return 0, nil
		}
		wide, n = vm.OpADD3, 3
	}
	if w.at(n+1).IsLabel {
		return 0, nil
	}
	bs, ok := w.pushes(0, n+1)
	if !ok {
		return 0, nil
	}
	r, _ := vm.EvalBinary(wide, le(bs[:n]), uint32(bs[n]))
	return n + 2, pushBytes(r, n, w.line())
}

// identity drops an operation whose constant right operand leaves the
// left operand unchanged.
func identity(w *window) (int, []Instr) {
	for n := 1; n <= 4; n++ {
		op := w.at(n)
		if op.IsLabel || !op.Op.IsBinary() || op.Op.IsCompare() || op.Op.Width() != n {
			continue
		}
		bs, ok := w.pushes(0, n)
		if !ok {
			return 0, nil
		}
		c := le(bs)
		var neutral bool
		switch op.Op.Family() {
		case vm.OpADD, vm.OpSUB, vm.OpOR, vm.OpXOR, vm.OpLSL, vm.OpLSR, vm.OpASR:
			neutral = c == 0
		case vm.OpMUL, vm.OpUDIV, vm.OpDIV:
			neutral = c == 1
		case vm.OpAND:
			neutral = c == uint32(1<<(8*n)-1)
		}
		if neutral {
			return n + 1, nil
		}
		return 0, nil
	}
	return 0, nil
}

func isBoolResult(in Instr) bool {
	if in.IsLabel {
		return false
	}
	return in.Op.IsCompare() || in.Op.Family() == vm.OpBOOL || in.Op == vm.OpNOT
}

// boolPair simplifies a 0/1 producer followed by a boolean consumer.
func boolPair(w *window) (int, []Instr) {
	a, b := w.at(0), w.at(1)
	if a.IsLabel || b.IsLabel {
		return 0, nil
	}
	switch {
	case a.Op == vm.OpNOT && b.Op == vm.OpNOT:
		return 2, []Instr{ins(vm.OpBOOL, 0, a.Line)}
	case isBoolResult(a) && b.Op == vm.OpBOOL:
		return 2, []Instr{a}
	case a.Op == vm.OpBOOL && b.Op == vm.OpNOT:
		return 2, []Instr{b}
	case a.Op == vm.OpBOOL && (b.Op == vm.OpBZ || b.Op == vm.OpBNZ || b.Op == vm.OpBZP):
		return 2, []Instr{b}
	case a.Op == vm.OpNOT && b.Op == vm.OpBZ:
		return 2, []Instr{labelRef(vm.OpBNZ, b.Label, b.Line)}
	case a.Op == vm.OpNOT && b.Op == vm.OpBNZ:
		return 2, []Instr{labelRef(vm.OpBZ, b.Label, b.Line)}
	}
	return 0, nil
}

// constBranch resolves a branch on a pushed constant.
func constBranch(w *window) (int, []Instr) {
	p, br := w.at(0), w.at(1)
	if !p.isPush() || br.IsLabel {
		return 0, nil
	}
	zero := byte(p.Imm) == 0
	jmp := labelRef(vm.OpJMP, br.Label, br.Line)
	switch br.Op {
	case vm.OpBZ:
		if zero {
			return 2, []Instr{jmp}
		}
		return 2, nil
	case vm.OpBNZ:
		if zero {
			return 2, nil
		}
		return 2, []Instr{jmp}
	case vm.OpBZP:
		if zero {
			return 2, []Instr{p, jmp}
		}
		return 2, nil
	case vm.OpBNZP:
		if zero {
			return 2, nil
		}
		return 2, []Instr{p, jmp}
	}
	return 0, nil
}

//  Memory access forms

type access struct {
	global bool
	store  bool
	// addr is the depth operand for locals and the address for globals.
	addr uint32
	n    int
	len  int
}

var fixedForms = map[vm.Opcode]access{
	vm.OpGETL: {n: 1}, vm.OpGETL2: {n: 2}, vm.OpGETL4: {n: 4},
	vm.OpSETL: {n: 1, store: true}, vm.OpSETL2: {n: 2, store: true}, vm.OpSETL4: {n: 4, store: true},
	vm.OpGETG: {n: 1, global: true}, vm.OpGETG2: {n: 2, global: true}, vm.OpGETG4: {n: 4, global: true},
	vm.OpSETG: {n: 1, global: true, store: true}, vm.OpSETG2: {n: 2, global: true, store: true},
	vm.OpSETG4: {n: 4, global: true, store: true},
}

var countedForms = map[vm.Opcode]access{
	vm.OpGETLN: {}, vm.OpSETLN: {store: true},
	vm.OpGETGN: {global: true}, vm.OpSETGN: {global: true, store: true},
}

// accessAt recognizes a local or global load or store at k, either a
// fixed-size opcode or a pushed count followed by a counted one.
func accessAt(w *window, k int) (access, bool) {
	in := w.at(k)
	if in.IsLabel {
		return access{}, false
	}
	if a, ok := fixedForms[in.Op]; ok {
		a.addr, a.len = in.Imm, 1
		return a, true
	}
	if !in.isPush() {
		return access{}, false
	}
	next := w.at(k + 1)
	if next.IsLabel {
		return access{}, false
	}
	a, ok := countedForms[next.Op]
	if !ok {
		return access{}, false
	}
	a.addr, a.n, a.len = next.Imm, int(byte(in.Imm)), 2
	return a, true
}

// emitAccess renders an access in its shortest form.
func emitAccess(a access, line int) []Instr {
	var fixed, counted vm.Opcode
	switch {
	case !a.global && !a.store:
		fixed, counted = vm.OpGETL, vm.OpGETLN
	case !a.global:
		fixed, counted = vm.OpSETL, vm.OpSETLN
	case !a.store:
		fixed, counted = vm.OpGETG, vm.OpGETGN
	default:
		fixed, counted = vm.OpSETG, vm.OpSETGN
	}
	switch a.n {
	case 0:
		return nil
	case 1:
		return []Instr{ins(fixed, a.addr, line)}
	case 2:
		return []Instr{ins(fixed+1, a.addr, line)}
	case 4:
		return []Instr{ins(fixed+2, a.addr, line)}
	}
	return []Instr{ins(vm.OpPUSH, uint32(a.n), line), ins(counted, a.addr, line)}
}

// fixedAccess turns a pushed count into the fixed-size opcode.
func fixedAccess(w *window) (int, []Instr) {
	a, ok := accessAt(w, 0)
	if !ok || a.len != 2 {
		return 0, nil
	}
	if a.n == 1 || a.n == 2 || a.n == 4 || a.n == 0 {
		return 2, emitAccess(a, w.line())
	}
	return 0, nil
}

// shrinkGet merges a pop into the instruction that pushed the byte.
func shrinkGet(w *window) (int, []Instr) {
	if a, ok := accessAt(w, 0); ok && !a.store && w.at(a.len).is(vm.OpPOP) {
		a.n--
		return a.len + 1, emitAccess(a, w.line())
	}
	in := w.at(0)
	if in.IsLabel || !w.at(1).is(vm.OpPOP) {
		return 0, nil
	}
	line := in.Line
	switch op := in.Op; {
	case op == vm.OpGETRN || op == vm.OpGETPN:
		if in.Imm >= 2 {
			return 2, []Instr{ins(op, in.Imm-1, line)}
		}
	case op >= vm.OpDUP && op <= vm.OpDUP8:
		return 2, nil
	case op >= vm.OpDUPW && op <= vm.OpDUPW8:
		return 2, []Instr{ins(vm.OpGETL, uint32(op-vm.OpDUPW)+2, line)}
	case op == vm.OpSEXT:
		return 2, nil
	case op == vm.OpSEXT2 || op == vm.OpSEXT3:
		return 2, []Instr{ins(op-1, 0, line)}
	case op == vm.OpBOOL || op == vm.OpNOT || op == vm.OpINC || op == vm.OpDEC:
		return 2, []Instr{ins(vm.OpPOP, 0, line)}
	}
	return 0, nil
}

// mergeGet joins two loads of adjacent bytes.
func mergeGet(w *window) (int, []Instr) {
	a, ok := accessAt(w, 0)
	if !ok || a.store {
		return 0, nil
	}
	b, ok := accessAt(w, a.len)
	if !ok || b.store || b.global != a.global || a.n+b.n > 255 {
		return 0, nil
	}
	// a local load moves the stack pointer along with the bytes it reads,
	// so the next byte has the same depth
	want := a.addr
	if a.global {
		want += uint32(a.n)
	}
	if b.addr != want {
		return 0, nil
	}
	a.n += b.n
	return a.len + b.len, emitAccess(a, w.line())
}

// selfAssign drops x = x.
func selfAssign(w *window) (int, []Instr) {
	a, ok := accessAt(w, 0)
	if !ok || a.store {
		return 0, nil
	}
	b, ok := accessAt(w, a.len)
	if !ok || !b.store || b.global != a.global || b.n != a.n || b.addr != a.addr {
		return 0, nil
	}
	return a.len + b.len, nil
}

// directRef replaces a dereference of a variable's own address by a
// direct access.
func directRef(w *window) (int, []Instr) {
	ref, op := w.at(0), w.at(1)
	if ref.IsLabel || op.IsLabel || (ref.Op != vm.OpREFL && ref.Op != vm.OpREFG) {
		return 0, nil
	}
	a := access{global: ref.Op == vm.OpREFG, addr: ref.Imm, n: int(op.Imm)}
	switch op.Op {
	case vm.OpGETRN:
	case vm.OpSETRN:
		a.store = true
	default:
		return 0, nil
	}
	if !a.global {
		// the bytes must lie below the stack pointer and, for a store,
		// below the value being stored
		n := uint32(a.n)
		if a.addr < n || (a.store && a.addr < 2*n) {
			return 0, nil
		}
		if a.store {
			// the address was taken above the value
			a.addr -= n
		}
	}
	return 2, emitAccess(a, ref.Line)
}

// constIndex folds a constant in-bounds index into the base reference.
func constIndex(w *window) (int, []Instr) {
	base, idx := w.at(0), w.at(3)
	if base.IsLabel || idx.IsLabel {
		return 0, nil
	}
	bs, ok := w.pushes(1, 2)
	if !ok {
		return 0, nil
	}
	i := le(bs)
	if i >= idx.Imm2 {
		return 0, nil
	}
	off := i * idx.Imm
	switch {
	case base.Op == vm.OpREFL && idx.Op == vm.OpAIDX:
		if off > base.Imm {
			return 0, nil
		}
		return 4, []Instr{ins(vm.OpREFL, base.Imm-off, base.Line)}
	case base.Op == vm.OpREFG && idx.Op == vm.OpAIDX:
		if base.Imm+off >= vm.GlobalSize {
			return 0, nil
		}
		return 4, []Instr{ins(vm.OpREFG, base.Imm+off, base.Line)}
	case base.Op == vm.OpPUSHL && idx.Op == vm.OpPIDX && base.Label.IsValid():
		return 4, []Instr{{Op: vm.OpPUSHL, Label: base.Label, Imm: base.Imm + off, Line: base.Line}}
	}
	return 0, nil
}

// dropRef removes an address that is computed and thrown away.
func dropRef(w *window) (int, []Instr) {
	in := w.at(0)
	n := 2
	switch {
	case in.is(vm.OpREFL) || in.is(vm.OpREFG):
	case in.is(vm.OpPUSHL):
		n = 3
	default:
		return 0, nil
	}
	for k := 1; k <= n; k++ {
		if !w.at(k).is(vm.OpPOP) {
			return 0, nil
		}
	}
	return n + 1, nil
}

// bakeProg reads constant bytes of program data at compile time.
func bakeProg(w *window) (int, []Instr) {
	ref, get := w.at(0), w.at(1)
	if !ref.is(vm.OpPUSHL) || !get.is(vm.OpGETPN) || !ref.Label.IsValid() {
		return 0, nil
	}
	blk := w.data[ref.Label]
	n := int(get.Imm)
	if blk == nil || !blk.fixed(int(ref.Imm), n) {
		return 0, nil
	}
	out := make([]Instr, n)
	for k := range out {
		out[k] = ins(vm.OpPUSH, uint32(blk.Bytes[int(ref.Imm)+k]), ref.Line)
	}
	return 2, out
}

//  Control flow

// labelsFollow reports whether l marks the position right after k.
func labelsFollow(w *window, k int, l LabelID) bool {
	for j := k + 1; ; j++ {
		in := w.at(j)
		if !in.IsLabel || !in.Label.IsValid() {
			return false
		}
		if in.Label == l {
			return true
		}
	}
}

func jumpNext(w *window) (int, []Instr) {
	if in := w.at(0); in.is(vm.OpJMP) && labelsFollow(w, 0, in.Label) {
		return 1, nil
	}
	return 0, nil
}

func branchOverJump(w *window) (int, []Instr) {
	br, j, l := w.at(0), w.at(1), w.at(2)
	if br.IsLabel || !j.is(vm.OpJMP) || !l.IsLabel || l.Label != br.Label {
		return 0, nil
	}
	switch br.Op {
	case vm.OpBZ:
		return 2, []Instr{labelRef(vm.OpBNZ, j.Label, br.Line)}
	case vm.OpBNZ:
		return 2, []Instr{labelRef(vm.OpBZ, j.Label, br.Line)}
	}
	return 0, nil
}

// branchNext drops a conditional branch to the next instruction, keeping
// its pop.
func branchNext(w *window) (int, []Instr) {
	br := w.at(0)
	if (br.is(vm.OpBZ) || br.is(vm.OpBNZ)) && labelsFollow(w, 0, br.Label) {
		return 1, []Instr{ins(vm.OpPOP, 0, br.Line)}
	}
	return 0, nil
}

func deadCode(w *window) (int, []Instr) {
	in := w.at(0)
	if !in.is(vm.OpJMP) && !in.is(vm.OpRET) {
		return 0, nil
	}
	if w.at(1).IsLabel {
		return 0, nil
	}
	return 2, []Instr{in}
}

// maxTail is the longest return sequence copied over a jump.
const maxTail = 8

// jumpToRet replaces a jump to a short straight-line return sequence with
// a copy of it.
func jumpToRet(w *window) (int, []Instr) {
	j := w.at(0)
	if !j.is(vm.OpJMP) {
		return 0, nil
	}
	_, start := w.after(j.Label)
	if start < 0 {
		return 0, nil
	}
	for k := start; k < len(w.code) && k-start < maxTail; k++ {
		in := w.code[k]
		if in.IsLabel || in.Op.IsBranch() {
			return 0, nil
		}
		if in.Op == vm.OpRET {
			tail := make([]Instr, k-start+1)
			copy(tail, w.code[start:k+1])
			return 1, tail
		}
	}
	return 0, nil
}

// bzpChain sends a BZP straight on when its target tests the same zero.
func bzpChain(w *window) (int, []Instr) {
	br := w.at(0)
	var want vm.Opcode
	switch {
	case br.is(vm.OpBZP):
		want = vm.OpBZ
	case br.is(vm.OpBNZP):
		want = vm.OpBNZ
	default:
		return 0, nil
	}
	next, _ := w.after(br.Label)
	if !next.is(want) {
		return 0, nil
	}
	return 1, []Instr{labelRef(want, next.Label, br.Line)}
}
