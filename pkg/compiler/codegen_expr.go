package compiler

import (
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// arithOpcode maps an arithmetic or bitwise operator to the 1-byte member
// of its opcode family.
func arithOpcode(op string, signed bool) (vm.Opcode, bool) {
	switch op {
	case "+":
		return vm.OpADD, true
	case "-":
		return vm.OpSUB, true
	case "*":
		return vm.OpMUL, true
	case "/":
		if signed {
			return vm.OpDIV, true
		}
		return vm.OpUDIV, true
	case "%":
		if signed {
			return vm.OpMOD, true
		}
		return vm.OpUMOD, true
	case "&":
		return vm.OpAND, true
	case "|":
		return vm.OpOR, true
	case "^":
		return vm.OpXOR, true
	case "<<":
		return vm.OpLSL, true
	case ">>":
		if signed {
			return vm.OpASR, true
		}
		return vm.OpLSR, true
	}
	return 0, false
}

// expr pushes the value of an annotated expression.
func (cg *codegen) expr(e Expr) {
	before := cg.fr.Size
	cg.exprInner(e)
	if got := cg.fr.Size - before; got != e.TypeOf().Size {
		internalError("codegen: %s pushed %d bytes, want %d", e, got, e.TypeOf().Size)
	}
}

func (cg *codegen) exprInner(e Expr) {
	line := e.Pos()
	size := e.TypeOf().Size
	switch n := e.(type) {
	case *IntLit:
		cg.pushConst(truncate(n.Value, n.Type), size, line)

	case *Ident:
		l, g := cg.fr.lookup(n.Name)
		switch {
		case l != nil && l.Constexpr:
			cg.pushConst(truncate(l.Value, n.Type), size, line)
		case l != nil:
			cg.loadLocal(l.Offset, size, line)
		case g != nil && !g.Type.Prog:
			cg.loadGlobal(g.Addr, size, line)
		default:
			internalError("codegen: %q has no storage", n.Name)
		}

	case *UnaryExpr:
		xs := n.X.TypeOf().Size
		if n.Op == "-" {
			cg.pushConst(0, xs, line)
			cg.expr(n.X)
			cg.op(vm.OpSUB.Sized(xs), 0, line)
			cg.fr.Size -= xs
			return
		}
		cg.expr(n.X)
		cg.toBool(n.X.TypeOf(), line)
		cg.op(vm.OpNOT, 0, line)

	case *BinaryExpr:
		cg.binary(n)

	case *LogicalExpr:
		cg.expr(n.Left)
		cg.toBool(n.Left.TypeOf(), line)
		end := cg.newLabel()
		br := vm.OpBZP
		if n.Op == "||" {
			br = vm.OpBNZP
		}
		cg.jump(br, end, line)
		cg.fr.Size--
		cg.expr(n.Right)
		cg.toBool(n.Right.TypeOf(), line)
		cg.mark(end, line)

	case *AssignExpr:
		cg.assign(n, true)

	case *IndexExpr:
		cg.elemRef(n)

	case *CallExpr:
		cg.call(n)

	case *CastExpr:
		cg.convert(n)

	default:
		internalError("codegen: unexpected expression %T", e)
	}
}

// toBool collapses a value of type t to a single 0 or 1 byte.
func (cg *codegen) toBool(t Type, line int) {
	if t.Bool {
		return
	}
	cg.op(vm.OpBOOL.Sized(t.Size), 0, line)
	cg.fr.Size -= t.Size - 1
}

// cond pushes one byte that is non-zero when e holds. Branches only test
// for zero, so single-byte values need no normalizing.
func (cg *codegen) cond(e Expr) {
	cg.expr(e)
	if t := e.TypeOf(); t.Size > 1 {
		cg.toBool(t, e.Pos())
	}
}

func (cg *codegen) binary(b *BinaryExpr) {
	line := b.Line
	t := b.Left.TypeOf()
	n := t.Size
	l, r := b.Left, b.Right

	switch b.Op {
	case "==", "!=":
		cg.expr(l)
		cg.expr(r)
		cg.op(vm.OpSUB.Sized(n), 0, line)
		cg.fr.Size -= n
		cg.op(vm.OpBOOL.Sized(n), 0, line)
		cg.fr.Size -= n - 1
		if b.Op == "==" {
			cg.op(vm.OpNOT, 0, line)
		}
		return

	case "<", ">", "<=", ">=":
		op := vm.OpCULT
		if b.Op == "<=" || b.Op == ">=" {
			op = vm.OpCULE
		}
		if t.Signed {
			op += vm.OpCSLT - vm.OpCULT
		}
		if b.Op == ">" || b.Op == ">=" {
			l, r = r, l
		}
		cg.expr(l)
		cg.expr(r)
		cg.op(op.Sized(n), 0, line)
		cg.fr.Size -= 2*n - 1
		return
	}

	op, ok := arithOpcode(b.Op, t.Signed)
	if !ok {
		internalError("codegen: unknown operator %q", b.Op)
	}
	cg.expr(l)
	cg.expr(r)
	cg.op(op.Sized(n), 0, line)
	cg.fr.Size -= n
}

// assign stores the right side into the target. With keep set the stored
// value stays on the stack as the value of the expression.
func (cg *codegen) assign(a *AssignExpr, keep bool) {
	line := a.Line
	n := a.Type.Size
	cg.expr(a.Right)
	if keep {
		cg.dup(n, line)
	}
	switch t := a.Left.(type) {
	case *Ident:
		l, g := cg.fr.lookup(t.Name)
		switch {
		case l != nil && !l.Constexpr:
			cg.storeLocal(l.Offset, n, line)
		case g != nil && !g.Type.Prog:
			cg.storeGlobal(g.Addr, n, line)
		default:
			internalError("codegen: cannot store to %q", t.Name)
		}
	case *IndexExpr:
		cg.elemRef(t)
		cg.op(vm.OpSETRN, uint32(n), line)
		cg.fr.Size -= t.Type.Size + n
	default:
		internalError("codegen: bad assignment target %T", a.Left)
	}
}

// arrayBase pushes a reference to the first element of an array variable.
func (cg *codegen) arrayBase(e Expr) {
	id, ok := e.(*Ident)
	if !ok {
		internalError("codegen: array expression %T has no address", e)
	}
	line := id.Line
	l, g := cg.fr.lookup(id.Name)
	switch {
	case l != nil && !l.Constexpr:
		cg.op(vm.OpREFL, cg.reach(cg.fr.depth(l.Offset), line), line)
		cg.fr.Size += 2
	case g != nil && g.Type.Prog:
		cg.jump(vm.OpPUSHL, g.Label, line)
		cg.fr.Size += 3
	case g != nil:
		cg.op(vm.OpREFG, uint32(g.Addr), line)
		cg.fr.Size += 2
	default:
		internalError("codegen: %q has no address", id.Name)
	}
}

// elemRef pushes a bounds-checked reference to x[i].
func (cg *codegen) elemRef(ix *IndexExpr) {
	xt := ix.X.TypeOf()
	if xt.Kind == KindArray {
		cg.arrayBase(ix.X)
	} else {
		cg.expr(ix.X)
	}
	cg.expr(ix.Index)
	op := vm.OpAIDX
	if xt.Prog {
		op = vm.OpPIDX
	}
	cg.op2(op, uint32(xt.Elem.Size), uint32(xt.Count), ix.Line)
	cg.fr.Size -= 2
}

func (cg *codegen) call(c *CallExpr) {
	line := c.Line
	before := cg.fr.Size
	if s, ok := sysFuncs[c.Name]; ok && cg.funcs[c.Name] == nil {
		for _, a := range c.Args {
			cg.expr(a)
		}
		cg.op(vm.OpSYS, s.Index, line)
		cg.fr.Size = before + s.Ret.Size
		return
	}
	cg.pushConst(0, c.Type.Size, line)
	slot := cg.fr.Size
	for _, a := range c.Args {
		cg.expr(a)
	}
	cg.jump(vm.OpCALL, cg.fnLabel[c.Name], line)
	cg.fr.Size = slot
}

// convert lowers a cast: dereference, bool collapse, truncation or
// extension.
func (cg *codegen) convert(c *CastExpr) {
	line := c.Line
	to := c.To
	from := c.X.TypeOf()
	if to.Kind == KindArrayRef {
		if from.Kind == KindArray {
			cg.arrayBase(c.X)
		} else {
			cg.expr(c.X)
		}
		return
	}
	cg.expr(c.X)
	if from.Kind == KindRef {
		n := from.Elem.Size
		if from.Prog {
			cg.op(vm.OpGETPN, uint32(n), line)
			cg.fr.Size += n - 3
		} else {
			cg.op(vm.OpGETRN, uint32(n), line)
			cg.fr.Size += n - 2
		}
		from = *from.Elem
	}
	cg.resize(from, to, line)
}

func (cg *codegen) resize(from, to Type, line int) {
	if to.Bool && !from.Bool {
		cg.toBool(from, line)
		return
	}
	switch d := to.Size - from.Size; {
	case d < 0:
		cg.discard(-d, line)
		cg.fr.Size += d
	case d > 0 && from.Signed && !from.Bool:
		cg.op(vm.OpSEXT+vm.Opcode(d-1), 0, line)
		cg.fr.Size += d
	case d > 0:
		cg.pushConst(0, d, line)
	}
}

// constValue evaluates an annotated constant expression.
func constValue(e Expr) (int64, bool) {
	switch n := e.(type) {
	case *IntLit:
		return truncate(n.Value, n.Type), true
	case *CastExpr:
		if n.X.TypeOf().Kind != KindPrim {
			return 0, false
		}
		v, ok := constValue(n.X)
		if !ok {
			return 0, false
		}
		if n.To.Bool {
			return int64(boolInt(v != 0)), true
		}
		return truncate(v, n.To), true
	case *UnaryExpr:
		v, ok := constValue(n.X)
		if !ok {
			return 0, false
		}
		if n.Op == "!" {
			return int64(boolInt(v == 0)), true
		}
		return truncate(-v, n.Type), true
	case *LogicalExpr:
		l, ok := constValue(n.Left)
		if !ok {
			return 0, false
		}
		r, ok := constValue(n.Right)
		if !ok {
			return 0, false
		}
		if n.Op == "&&" {
			return int64(boolInt(l != 0 && r != 0)), true
		}
		return int64(boolInt(l != 0 || r != 0)), true
	case *BinaryExpr:
		l, ok := constValue(n.Left)
		if !ok {
			return 0, false
		}
		r, ok := constValue(n.Right)
		if !ok {
			return 0, false
		}
		t := n.Left.TypeOf()
		if isComparison(n.Op) {
			return int64(boolInt(holds(n.Op, l, r))), true
		}
		op, ok := arithOpcode(n.Op, t.Signed)
		if !ok {
			return 0, false
		}
		v, fault := vm.EvalBinary(op.Sized(t.Size), uint32(l), uint32(r))
		if fault != vm.ErrNone {
			return 0, false
		}
		return truncate(int64(v), t), true
	}
	return 0, false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
