package compiler

import (
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// maxInlineSmall and inlineBudget gate inlining of functions with more
// than one caller.
const (
	maxInlineSmall = 8
	inlineBudget   = 128
)

// callees returns the functions f refers to by label, in order of first
// reference.
func (o *optimizer) callees(f *Function) []*Function {
	var out []*Function
	seen := make(map[LabelID]bool)
	for _, in := range f.Instrs {
		if in.IsLabel || !in.Label.IsValid() || seen[in.Label] {
			continue
		}
		seen[in.Label] = true
		if g := o.byLabel[in.Label]; g != nil {
			out = append(out, g)
		}
	}
	return out
}

// recursive marks every function that can reach itself through the call
// graph.
func (o *optimizer) recursive() map[*Function]bool {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[*Function]int)
	rec := make(map[*Function]bool)
	var stack []*Function
	var visit func(f *Function)
	visit = func(f *Function) {
		state[f] = active
		stack = append(stack, f)
		for _, g := range o.callees(f) {
			switch state[g] {
			case unvisited:
				visit(g)
			case active:
				// every function on the stack from g up is on the cycle
				for i := len(stack) - 1; i >= 0; i-- {
					rec[stack[i]] = true
					if stack[i] == g {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[f] = done
	}
	for _, f := range o.out.Funcs {
		if state[f] == unvisited {
			visit(f)
		}
	}
	return rec
}

// inlinable reports whether f's body can be copied into a caller: it may
// not be on a cycle and may not leave through a jump into another
// function, since that function's return would skip the caller.
func (o *optimizer) inlinable(f *Function, rec map[*Function]bool) bool {
	if rec[f] || f.Name == "main" || f.Name == globInitName {
		return false
	}
	for _, in := range f.Instrs {
		if !in.IsLabel && in.Op != vm.OpCALL && o.byLabel[in.Label] != nil {
			return false
		}
	}
	return true
}

func realLen(code []Instr) int {
	n := 0
	for _, in := range code {
		if !in.IsLabel {
			n++
		}
	}
	return n
}

// inline copies callees into their call sites. A function with one
// reference is always inlined; with InlineSmall, so is one whose copies
// stay within budget.
func (o *optimizer) inline() bool {
	rec := o.recursive()
	refs := o.refCounts()
	changed := false
	for _, callee := range o.out.Funcs {
		n := refs[callee.Label]
		if n == 0 || !o.inlinable(callee, rec) {
			continue
		}
		size := realLen(callee.Instrs)
		if n > 1 && !(o.opts.InlineSmall && (size <= maxInlineSmall || n*size < inlineBudget)) {
			continue
		}
		for _, caller := range o.out.Funcs {
			if caller != callee && o.inlineInto(caller, callee) {
				changed = true
			}
		}
		refs = o.refCounts()
	}
	return changed
}

// inlineInto replaces every CALL of callee in caller by a copy of its body
// whose returns jump past the copy.
func (o *optimizer) inlineInto(caller, callee *Function) bool {
	var out []Instr
	found := false
	for _, in := range caller.Instrs {
		if !in.is(vm.OpCALL) || in.Label != callee.Label {
			out = append(out, in)
			continue
		}
		found = true
		rename := make(map[LabelID]LabelID)
		fresh := func(l LabelID) LabelID {
			if r, ok := rename[l]; ok {
				return r
			}
			r := caller.newLabel(o.lt)
			rename[l] = r
			return r
		}
		ret := caller.newLabel(o.lt)
		for _, c := range callee.Instrs {
			switch {
			case c.IsLabel:
				c.Label = fresh(c.Label)
			case c.Op == vm.OpRET:
				c = labelRef(vm.OpJMP, ret, c.Line)
			case c.Label.IsValid() && o.lt.Kind(c.Label) == LabelCode:
				c.Label = fresh(c.Label)
			}
			out = append(out, c)
		}
		out = append(out, marker(ret, in.Line))
	}
	if found {
		caller.Instrs = out
	}
	return found
}
