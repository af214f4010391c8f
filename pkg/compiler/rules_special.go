package compiler

import "github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"

// specializeRules introduce the short opcodes. They run after the reduce
// rules have settled so that folding sees the plain forms first.
var specializeRules = []rule{
	{"inc_dec", incDec},
	{"byte_operand", byteOperand},
	{"dup", dupForm},
	{"sext_chain", sextChain},
	{"local_inc", localInc},
	{"dup_branch", dupBranch},
}

func incDec(w *window) (int, []Instr) {
	p, op := w.at(0), w.at(1)
	if !p.isPush() || p.Imm != 1 {
		return 0, nil
	}
	switch {
	case op.is(vm.OpADD):
		return 2, []Instr{ins(vm.OpINC, 0, p.Line)}
	case op.is(vm.OpSUB):
		return 2, []Instr{ins(vm.OpDEC, 0, p.Line)}
	}
	return 0, nil
}

// byteOperand uses the mixed-width forms when the right operand was
// zero-extended from one byte.
func byteOperand(w *window) (int, []Instr) {
	p, op := w.at(0), w.at(1)
	if !p.isPush() || p.Imm != 0 || op.IsLabel {
		return 0, nil
	}
	switch op.Op {
	case vm.OpADD2:
		return 2, []Instr{ins(vm.OpADD2B, 0, op.Line)}
	case vm.OpSUB2:
		return 2, []Instr{ins(vm.OpSUB2B, 0, op.Line)}
	case vm.OpMUL2:
		return 2, []Instr{ins(vm.OpMUL2B, 0, op.Line)}
	case vm.OpPUSH:
		if op.Imm == 0 && w.at(2).is(vm.OpADD3) {
			return 3, []Instr{ins(vm.OpADD3B, 0, op.Line)}
		}
	}
	return 0, nil
}

// dupForm names short-distance reloads by their distance.
func dupForm(w *window) (int, []Instr) {
	in := w.at(0)
	switch {
	case in.is(vm.OpGETL) && in.Imm >= 1 && in.Imm <= 8:
		return 1, []Instr{ins(vm.OpDUP+vm.Opcode(in.Imm-1), 0, in.Line)}
	case in.is(vm.OpGETL2) && in.Imm >= 2 && in.Imm <= 9:
		return 1, []Instr{ins(vm.OpDUPW+vm.Opcode(in.Imm-2), 0, in.Line)}
	}
	return 0, nil
}

// sextChain merges repeated sign extension: the extension byte extends to
// itself.
func sextChain(w *window) (int, []Instr) {
	a, b := w.at(0), w.at(1)
	if a.IsLabel || b.IsLabel {
		return 0, nil
	}
	isSext := func(op vm.Opcode) bool { return op >= vm.OpSEXT && op <= vm.OpSEXT3 }
	if !isSext(a.Op) || !isSext(b.Op) {
		return 0, nil
	}
	n := int(a.Op-vm.OpSEXT) + int(b.Op-vm.OpSEXT) + 2
	if n > 3 {
		return 0, nil
	}
	return 2, []Instr{ins(vm.OpSEXT+vm.Opcode(n-1), 0, a.Line)}
}

// localDepth returns the depth operand of a single-byte local load.
func localDepth(in Instr) (uint32, bool) {
	switch {
	case in.is(vm.OpGETL):
		return in.Imm, true
	case !in.IsLabel && in.Op >= vm.OpDUP && in.Op <= vm.OpDUP8:
		return uint32(in.Op-vm.OpDUP) + 1, true
	}
	return 0, false
}

// localInc increments a byte local in place.
func localInc(w *window) (int, []Instr) {
	d, ok := localDepth(w.at(0))
	if !ok || !w.at(1).is(vm.OpINC) {
		return 0, nil
	}
	st := w.at(2)
	if !st.is(vm.OpSETL) || st.Imm != d {
		return 0, nil
	}
	return 3, []Instr{ins(vm.OpLINC, d, st.Line)}
}

// dupBranch keeps the tested value on the taken path only.
func dupBranch(w *window) (int, []Instr) {
	d, br, p := w.at(0), w.at(1), w.at(2)
	if !d.is(vm.OpDUP) || !p.is(vm.OpPOP) {
		return 0, nil
	}
	switch {
	case br.is(vm.OpBZ):
		return 3, []Instr{labelRef(vm.OpBZP, br.Label, br.Line)}
	case br.is(vm.OpBNZ):
		return 3, []Instr{labelRef(vm.OpBNZP, br.Label, br.Line)}
	}
	return 0, nil
}

// accessRules fuse the common reference shapes into their short opcodes.
// They run once after rewriting has settled: the reduce rules only know
// the general forms.
var accessRules = []rule{
	{"byte_index", byteIndex},
	{"short_ref", shortRef},
}

// byteIndex uses the one-byte index forms when the high byte of the index
// is a pushed zero.
func byteIndex(w *window) (int, []Instr) {
	p, idx := w.at(0), w.at(1)
	if !p.isPush() || p.Imm != 0 || idx.IsLabel || idx.Imm > 255 || idx.Imm2 > 255 {
		return 0, nil
	}
	switch idx.Op {
	case vm.OpAIDX:
		if idx.Imm == 1 {
			return 2, []Instr{ins(vm.OpAIXB1, idx.Imm2, idx.Line)}
		}
		return 2, []Instr{{Op: vm.OpAIDXB, Imm: idx.Imm, Imm2: idx.Imm2, Line: idx.Line}}
	case vm.OpPIDX:
		return 2, []Instr{{Op: vm.OpPIDXB, Imm: idx.Imm, Imm2: idx.Imm2, Line: idx.Line}}
	}
	return 0, nil
}

var shortRefs = map[vm.Opcode][3]vm.Opcode{
	vm.OpGETRN: {1: vm.OpGETR, 2: vm.OpGETR2},
	vm.OpSETRN: {1: vm.OpSETR, 2: vm.OpSETR2},
	vm.OpGETPN: {1: vm.OpGETP},
}

// shortRef drops the count operand of one- and two-byte dereferences.
func shortRef(w *window) (int, []Instr) {
	in := w.at(0)
	if in.IsLabel || in.Imm > 2 {
		return 0, nil
	}
	forms, ok := shortRefs[in.Op]
	if !ok || forms[in.Imm] == vm.OpNOP {
		return 0, nil
	}
	return 1, []Instr{ins(forms[in.Imm], 0, in.Line)}
}
