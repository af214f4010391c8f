package compiler

import (
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// loopTarget is where break and continue go, and how deep the frame was
// when the loop started.
type loopTarget struct {
	brk, cont LabelID
	depth     int
}

// codegen lowers one function at a time. All stack arithmetic goes through
// the Frame so that Size always matches the runtime stack pointer.
type codegen struct {
	lt      *LabelTable
	opts    Options
	funcs   map[string]*FuncDecl
	fnLabel map[string]LabelID
	globals map[string]*Global

	fn    *Function
	fr    *Frame
	loops []loopTarget
	diags Diagnostics
	// deep is set once a function has reported an oversized frame.
	deep bool
}

func (cg *codegen) fail(err error) { cg.diags.add(err) }

func (cg *codegen) annotator() *annotator {
	return &annotator{fr: cg.fr, funcs: cg.funcs}
}

func (cg *codegen) emit(in Instr) { cg.fn.Instrs = append(cg.fn.Instrs, in) }

func (cg *codegen) op(op vm.Opcode, imm uint32, line int) { cg.emit(ins(op, imm, line)) }

func (cg *codegen) op2(op vm.Opcode, a, b uint32, line int) {
	cg.emit(Instr{Op: op, Imm: a, Imm2: b, Line: line})
}

func (cg *codegen) jump(op vm.Opcode, l LabelID, line int) { cg.emit(labelRef(op, l, line)) }

func (cg *codegen) mark(l LabelID, line int) { cg.emit(marker(l, line)) }

func (cg *codegen) newLabel() LabelID { return cg.fn.newLabel(cg.lt) }

// pushConst pushes the low n bytes of v.
func (cg *codegen) pushConst(v int64, n, line int) {
	for i := 0; i < n; i++ {
		cg.op(vm.OpPUSH, uint32(byte(v>>(8*i))), line)
	}
	cg.fr.Size += n
}

// discard emits n pops without touching the frame; callers account for
// the bytes themselves.
func (cg *codegen) discard(n, line int) {
	for ; n > 0; n-- {
		cg.op(vm.OpPOP, 0, line)
	}
}

// reach validates a local access operand.
func (cg *codegen) reach(d, line int) uint32 {
	if d < 0 || d > 255 {
		if !cg.deep {
			cg.fail(errorf(line, "stack frame exceeded 256 bytes in %s", cg.fn.Name))
			cg.deep = true
		}
		return 0
	}
	return uint32(d)
}

func (cg *codegen) count(n, line int) {
	if n > 255 {
		cg.fail(errorf(line, "value of %d bytes is too large to move", n))
	}
	cg.op(vm.OpPUSH, uint32(byte(n)), line)
}

// loadLocal pushes n bytes of the local at frame offset off.
func (cg *codegen) loadLocal(off, n, line int) {
	d := cg.reach(cg.fr.depth(off), line)
	cg.count(n, line)
	cg.op(vm.OpGETLN, d, line)
	cg.fr.Size += n
}

// storeLocal pops the n-byte value on top of the stack into the local at
// frame offset off.
func (cg *codegen) storeLocal(off, n, line int) {
	d := cg.reach(cg.fr.Size-n-off, line)
	cg.count(n, line)
	cg.op(vm.OpSETLN, d, line)
	cg.fr.Size -= n
}

func (cg *codegen) loadGlobal(addr, n, line int) {
	cg.count(n, line)
	cg.op(vm.OpGETGN, uint32(addr), line)
	cg.fr.Size += n
}

func (cg *codegen) storeGlobal(addr, n, line int) {
	cg.count(n, line)
	cg.op(vm.OpSETGN, uint32(addr), line)
	cg.fr.Size -= n
}

// dup copies the n bytes on top of the stack.
func (cg *codegen) dup(n, line int) {
	cg.count(n, line)
	cg.op(vm.OpGETLN, uint32(n), line)
	cg.fr.Size += n
}

//  Functions

func (cg *codegen) begin(f *Function) {
	cg.fn = f
	cg.fr = newFrame(cg.globals)
	cg.loops = nil
	cg.diags = nil
	cg.deep = false
}

// function generates the body of fd. The caller has reserved the return
// slot below the arguments; the callee pops its arguments and locals.
func (cg *codegen) function(fd *FuncDecl) (*Function, error) {
	f := &Function{
		Name:   fd.Name,
		Label:  cg.fnLabel[fd.Name],
		Params: fd.Params,
		Ret:    fd.Ret,
		Body:   fd.Body,
		Line:   fd.Line,
	}
	cg.begin(f)
	cg.fr.RetSize = fd.Ret.Size
	off := 0
	seen := make(map[string]bool)
	for _, p := range fd.Params {
		if seen[p.Name] {
			cg.fail(errorf(fd.Line, "duplicate parameter %q in %s", p.Name, fd.Name))
		}
		seen[p.Name] = true
		cg.fr.bindAt(p.Name, p.Type, off)
		off += p.Type.Size
	}
	cg.fr.Size = off
	cg.fr.top().bytes = off

	cg.stmt(fd.Body)

	end := fd.Line
	if n := len(fd.Body.Stmts); n > 0 {
		end = fd.Body.Stmts[n-1].Pos()
	}
	cg.discard(cg.fr.Size, end)
	cg.op(vm.OpRET, 0, end)
	f.Body = nil
	return f, cg.diags.err()
}

// globalInit builds the function that stores initial values of RAM
// globals before main runs.
func (cg *codegen) globalInit(decls []*GlobalDecl) (*Function, error) {
	f := &Function{Name: globInitName, Label: cg.fnLabel[globInitName], Ret: Void}
	cg.begin(f)
	for _, d := range decls {
		g := cg.globals[d.Name]
		if d.Init == nil || g == nil || g.Type.Prog {
			continue
		}
		init, err := cg.annotator().initializer(d.Init, g.Type)
		if err != nil {
			cg.fail(err)
			continue
		}
		cg.storeInit(init, g.Type, g.Addr, d.Line)
	}
	cg.op(vm.OpRET, 0, 0)
	return f, cg.diags.err()
}

func (cg *codegen) storeInit(e Expr, t Type, addr, line int) {
	list, ok := e.(*InitList)
	if !ok {
		cg.expr(e)
		cg.storeGlobal(addr, t.Size, line)
		return
	}
	es := t.Elem.Size
	for i, el := range list.Elems {
		cg.storeInit(el, *t.Elem, addr+i*es, line)
	}
}

// progData lays out the bytes of a read-only array. Elements naming
// another prog array become 3-byte relocations.
func (cg *codegen) progData(g *Global) (*DataBlock, error) {
	blk := &DataBlock{Label: g.Label, Bytes: make([]byte, g.Type.Size), Line: g.Line}
	if g.Init == nil {
		return blk, nil
	}
	ann := &annotator{fr: newFrame(cg.globals), funcs: cg.funcs}
	var diags Diagnostics
	var fill func(e Expr, t Type, off int)
	fill = func(e Expr, t Type, off int) {
		list, isList := e.(*InitList)
		if t.Kind == KindArray {
			if !isList {
				diags.add(errorf(e.Pos(), "array of type %s needs an initializer list", t))
				return
			}
			if len(list.Elems) > t.Count {
				diags.add(errorf(e.Pos(), "too many initializers for %s", t))
				return
			}
			for i, el := range list.Elems {
				fill(el, *t.Elem, off+i*t.Elem.Size)
			}
			return
		}
		if id, ok := e.(*Ident); ok && t.Size == 3 {
			if other, ok := cg.globals[id.Name]; ok && other.Type.Prog {
				blk.Relocs = append(blk.Relocs, Reloc{Offset: off, Label: other.Label})
				return
			}
		}
		x, err := ann.initializer(e, t)
		if err != nil {
			diags.add(err)
			return
		}
		v, ok := constValue(x)
		if !ok {
			diags.add(errorf(e.Pos(), "program data initializer %s is not constant", e))
			return
		}
		for i := 0; i < t.Size; i++ {
			blk.Bytes[off+i] = byte(v >> (8 * i))
		}
	}
	fill(g.Init, g.Type, 0)
	return blk, diags.err()
}

//  Statements

func (cg *codegen) stmt(s Stmt) {
	want := cg.fr.Size
	switch n := s.(type) {
	case *BlockStmt:
		cg.fr.push()
		for _, c := range n.Stmts {
			cg.stmt(c)
		}
		cg.discard(cg.fr.pop(), n.Line)

	case *DeclStmt:
		if cg.decl(n) {
			want += n.Type.Size
		}

	case *ExprStmt:
		cg.exprStmt(n.X, n.Line)

	case *IfStmt:
		cond, err := cg.annotator().value(n.Cond)
		if err != nil {
			cg.fail(err)
			return
		}
		elseL := cg.newLabel()
		cg.cond(cond)
		cg.jump(vm.OpBZ, elseL, n.Line)
		cg.fr.Size--
		cg.body(n.Then)
		if n.Else == nil {
			cg.mark(elseL, n.Line)
			break
		}
		end := cg.newLabel()
		cg.jump(vm.OpJMP, end, n.Line)
		cg.mark(elseL, n.Line)
		cg.body(n.Else)
		cg.mark(end, n.Line)

	case *WhileStmt:
		cond, err := cg.annotator().value(n.Cond)
		if err != nil {
			cg.fail(err)
			return
		}
		top, end := cg.newLabel(), cg.newLabel()
		cg.mark(top, n.Line)
		cg.cond(cond)
		cg.jump(vm.OpBZ, end, n.Line)
		cg.fr.Size--
		cg.loop(n.Body, end, top)
		cg.jump(vm.OpJMP, top, n.Line)
		cg.mark(end, n.Line)

	case *ForStmt:
		if cg.opts.Unroll {
			if info, ok := analyzeUnroll(n, cg.maxUnroll()); ok {
				cg.unrolled(n, info)
				break
			}
		}
		cg.forLoop(n)

	case *ReturnStmt:
		cg.ret(n)

	case *BreakStmt, *ContinueStmt:
		_, isCont := s.(*ContinueStmt)
		if len(cg.loops) == 0 {
			what := "break"
			if isCont {
				what = "continue"
			}
			cg.fail(errorf(s.Pos(), "%s outside a loop", what))
			return
		}
		l := cg.loops[len(cg.loops)-1]
		cg.discard(cg.fr.Size-l.depth, s.Pos())
		target := l.brk
		if isCont {
			target = l.cont
		}
		cg.jump(vm.OpJMP, target, s.Pos())

	default:
		internalError("codegen: unknown statement %T", s)
	}
	if cg.fr.Size != want {
		internalError("codegen: %T at line %d leaves frame at %d, want %d", s, s.Pos(), cg.fr.Size, want)
	}
}

func (cg *codegen) maxUnroll() int {
	if cg.opts.MaxUnroll > 0 {
		return cg.opts.MaxUnroll
	}
	return DefaultMaxUnroll
}

// body generates the branch of an if or the body of a loop in a scope of
// its own, so a bare declaration is popped when the branch ends.
func (cg *codegen) body(s Stmt) {
	if _, ok := s.(*BlockStmt); ok {
		cg.stmt(s)
		return
	}
	cg.fr.push()
	cg.stmt(s)
	cg.discard(cg.fr.pop(), s.Pos())
}

// loop generates a loop body with break and continue bound to brk and
// cont at the current frame depth.
func (cg *codegen) loop(body Stmt, brk, cont LabelID) {
	cg.loops = append(cg.loops, loopTarget{brk: brk, cont: cont, depth: cg.fr.Size})
	cg.body(body)
	cg.loops = cg.loops[:len(cg.loops)-1]
}

// decl reports whether the declaration took frame space.
func (cg *codegen) decl(n *DeclStmt) bool {
	t := n.Type
	if t.Size == 0 {
		cg.fail(errorf(n.Line, "zero-sized local %q", n.Name))
		return false
	}
	if t.Prog {
		cg.fail(errorf(n.Line, "local %q cannot live in program data", n.Name))
	}
	switch {
	case n.Init == nil:
		cg.pushConst(0, t.Size, n.Line)
	default:
		var init Expr
		var err error
		if t.Kind == KindArrayRef {
			init, err = cg.annotator().argument(n.Init, t)
		} else {
			init, err = cg.annotator().initializer(n.Init, t)
		}
		if err != nil {
			cg.fail(err)
			cg.pushConst(0, t.Size, n.Line)
			break
		}
		cg.initValue(init, t, n.Line)
	}
	if _, err := cg.fr.bind(n.Name, t, n.Line); err != nil {
		cg.fail(err)
		// keep the bytes owned so the block still pops them
		cg.fr.top().bytes += t.Size
	}
	return true
}

// initValue pushes an initial value, zero-filling short initializer lists.
func (cg *codegen) initValue(e Expr, t Type, line int) {
	list, ok := e.(*InitList)
	if !ok {
		cg.expr(e)
		return
	}
	for _, el := range list.Elems {
		cg.initValue(el, *t.Elem, line)
	}
	cg.pushConst(0, (t.Count-len(list.Elems))*t.Elem.Size, line)
}

// exprStmt evaluates e for its effect and drops whatever it leaves.
func (cg *codegen) exprStmt(e Expr, line int) {
	x, err := cg.annotator().stmt(e)
	if err != nil {
		cg.fail(err)
		return
	}
	before := cg.fr.Size
	if a, ok := x.(*AssignExpr); ok {
		cg.assign(a, false)
	} else {
		cg.expr(x)
	}
	cg.discard(cg.fr.Size-before, line)
	cg.fr.Size = before
}

func (cg *codegen) forLoop(n *ForStmt) {
	cg.fr.push()
	if n.Init != nil {
		cg.stmt(n.Init)
	}
	top, cont, end := cg.newLabel(), cg.newLabel(), cg.newLabel()
	cg.mark(top, n.Line)
	if n.Cond != nil {
		cond, err := cg.annotator().value(n.Cond)
		if err != nil {
			cg.fail(err)
		} else {
			cg.cond(cond)
			cg.jump(vm.OpBZ, end, n.Line)
			cg.fr.Size--
		}
	}
	cg.loop(n.Body, end, cont)
	cg.mark(cont, n.Line)
	if n.Post != nil {
		cg.exprStmt(n.Post, n.Line)
	}
	cg.jump(vm.OpJMP, top, n.Line)
	cg.mark(end, n.Line)
	cg.discard(cg.fr.pop(), n.Line)
}

// unrolled emits one copy of the body per iteration with the induction
// variable bound to its value for that iteration.
func (cg *codegen) unrolled(n *ForStmt, info UnrollInfo) {
	end := cg.newLabel()
	depth := cg.fr.Size
	x := info.Init
	for i := 0; i < info.Count; i++ {
		cont := cg.newLabel()
		cg.fr.push()
		cg.fr.bindConst(info.Var, info.Type, x)
		cg.loops = append(cg.loops, loopTarget{brk: end, cont: cont, depth: depth})
		cg.stmt(CloneStmt(n.Body))
		cg.loops = cg.loops[:len(cg.loops)-1]
		cg.discard(cg.fr.pop(), n.Line)
		cg.mark(cont, n.Line)
		x = truncate(x+info.Incr, info.Type)
	}
	cg.mark(end, n.Line)
}

// ret stores the result into the return slot below the arguments, drops
// the rest of the frame and returns.
func (cg *codegen) ret(n *ReturnStmt) {
	rt := cg.fn.Ret
	switch {
	case n.X == nil && !rt.IsVoid():
		cg.fail(errorf(n.Line, "missing return value in %s", cg.fn.Name))
		return
	case n.X != nil && rt.IsVoid():
		cg.fail(errorf(n.Line, "void function %s returns a value", cg.fn.Name))
		return
	}
	size := cg.fr.Size
	if n.X != nil {
		x, err := cg.annotator().convertTo(n.X, rt)
		if err != nil {
			cg.fail(err)
			return
		}
		cg.expr(x)
		cg.storeLocal(-rt.Size, rt.Size, n.Line)
	}
	cg.discard(cg.fr.Size, n.Line)
	cg.op(vm.OpRET, 0, n.Line)
	cg.fr.Size = size
}
