package compiler

// annotator assigns types to expressions. Every method returns a fresh tree;
// the input nodes are left untouched so an unrolled loop body can be
// annotated once per copy.
type annotator struct {
	fr    *Frame
	funcs map[string]*FuncDecl
}

func isComparison(op string) bool {
	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
		return true
	}
	return false
}

func isShift(op string) bool { return op == "<<" || op == ">>" }

// binaryOps lists the operators BinaryExpr accepts.
var binaryOps = map[string]struct{}{
	"+": {}, "-": {}, "*": {}, "/": {}, "%": {},
	"&": {}, "|": {}, "^": {}, "<<": {}, ">>": {},
	"==": {}, "!=": {}, "<": {}, ">": {}, "<=": {}, ">=": {},
}

// cast wraps e in a conversion to t unless it already has that type.
func cast(e Expr, t Type) Expr {
	if e.TypeOf().Equal(t) {
		return e
	}
	return &CastExpr{exprBase: exprBase{Line: e.Pos(), Type: t}, To: t, X: e}
}

// rvalue turns a reference to an element into a read of the element.
func rvalue(e Expr) Expr {
	t := e.TypeOf()
	if t.Kind != KindRef {
		return e
	}
	return cast(e, *t.Elem)
}

// value annotates e where a primitive value is required.
func (a *annotator) value(e Expr) (Expr, error) {
	x, err := a.expr(e)
	if err != nil {
		return nil, err
	}
	x = rvalue(x)
	t := x.TypeOf()
	switch {
	case t.IsVoid():
		return nil, errorf(e.Pos(), "void value used as operand")
	case !t.IsPrim():
		return nil, errorf(e.Pos(), "non-primitive operand %s of type %s", e, t)
	}
	return x, nil
}

func (a *annotator) convertTo(e Expr, t Type) (Expr, error) {
	x, err := a.value(e)
	if err != nil {
		return nil, err
	}
	return cast(x, t), nil
}

// stmt annotates an expression whose value is discarded. A postfix
// increment there is the same as a prefix one.
func (a *annotator) stmt(e Expr) (Expr, error) {
	if p, ok := e.(*IncDecExpr); ok && !p.Prefix {
		c := *p
		c.Prefix = true
		e = &c
	}
	return a.expr(e)
}

func (a *annotator) expr(e Expr) (Expr, error) {
	switch n := e.(type) {
	case *IntLit:
		c := *n
		if c.Type.IsVoid() {
			c.Type = literalType(c.Value)
		}
		return &c, nil

	case *Ident:
		t, ok := a.fr.typeOf(n.Name)
		if !ok {
			return nil, errorf(n.Line, "undefined variable %q", n.Name)
		}
		return &Ident{exprBase: exprBase{Line: n.Line, Type: t}, Name: n.Name}, nil

	case *UnaryExpr:
		x, err := a.value(n.X)
		if err != nil {
			return nil, err
		}
		t := x.TypeOf().WithoutBool()
		if n.Op == "!" {
			t = BoolT
		}
		return &UnaryExpr{exprBase: exprBase{Line: n.Line, Type: t}, Op: n.Op, X: x}, nil

	case *BinaryExpr:
		l, err := a.value(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := a.value(n.Right)
		if err != nil {
			return nil, err
		}
		var lt, rt Type
		if isShift(n.Op) {
			lt = l.TypeOf().WithoutBool()
			rt = lt
		} else {
			lt, rt = commonType(l.TypeOf(), r.TypeOf())
		}
		t := lt
		if isComparison(n.Op) {
			t = BoolT
		}
		return &BinaryExpr{
			exprBase: exprBase{Line: n.Line, Type: t},
			Op:       n.Op,
			Left:     cast(l, lt),
			Right:    cast(r, rt),
		}, nil

	case *LogicalExpr:
		l, err := a.value(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := a.value(n.Right)
		if err != nil {
			return nil, err
		}
		return &LogicalExpr{exprBase: exprBase{Line: n.Line, Type: BoolT}, Op: n.Op, Left: l, Right: r}, nil

	case *AssignExpr:
		if n.Op != "=" {
			op := n.Op[:len(n.Op)-1]
			return a.expr(&AssignExpr{
				exprBase: exprBase{Line: n.Line},
				Op:       "=",
				Left:     n.Left,
				Right: &BinaryExpr{
					exprBase: exprBase{Line: n.Line},
					Op:       op,
					Left:     CloneExpr(n.Left),
					Right:    n.Right,
				},
			})
		}
		left, vt, err := a.lvalue(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := a.convertTo(n.Right, vt)
		if err != nil {
			return nil, err
		}
		return &AssignExpr{exprBase: exprBase{Line: n.Line, Type: vt}, Op: "=", Left: left, Right: right}, nil

	case *IncDecExpr:
		_, vt, err := a.lvalue(n.X)
		if err != nil {
			return nil, err
		}
		op, undo := "+", "-"
		if n.Op == "--" {
			op, undo = "-", "+"
		}
		one := func() Expr {
			return &IntLit{exprBase: exprBase{Line: n.Line, Type: vt.WithoutBool()}, Value: 1}
		}
		var step Expr = &AssignExpr{
			exprBase: exprBase{Line: n.Line},
			Op:       "=",
			Left:     n.X,
			Right:    &BinaryExpr{exprBase: exprBase{Line: n.Line}, Op: op, Left: CloneExpr(n.X), Right: one()},
		}
		if !n.Prefix {
			// (x = x + 1) - 1 is the old value under wraparound
			step = &CastExpr{
				exprBase: exprBase{Line: n.Line},
				To:       vt,
				X:        &BinaryExpr{exprBase: exprBase{Line: n.Line}, Op: undo, Left: step, Right: one()},
			}
		}
		return a.expr(step)

	case *IndexExpr:
		x, err := a.expr(n.X)
		if err != nil {
			return nil, err
		}
		xt := x.TypeOf()
		if !xt.IsArray() {
			return nil, errorf(n.Line, "cannot index %s of type %s", n.X, xt)
		}
		idx, err := a.convertTo(n.Index, U16)
		if err != nil {
			return nil, err
		}
		elem := *xt.Elem
		t := RefTo(elem, xt.Prog)
		if elem.Kind == KindArray {
			t = ArrayRefOf(elem)
		}
		return &IndexExpr{exprBase: exprBase{Line: n.Line, Type: t}, X: x, Index: idx}, nil

	case *CallExpr:
		var params []Type
		var ret Type
		if f, ok := a.funcs[n.Name]; ok {
			for _, p := range f.Params {
				params = append(params, p.Type)
			}
			ret = f.Ret
		} else if s, ok := sysFuncs[n.Name]; ok {
			params, ret = s.Params, s.Ret
		} else {
			return nil, errorf(n.Line, "undefined function %q", n.Name)
		}
		if len(n.Args) != len(params) {
			return nil, errorf(n.Line, "wrong argument count calling %s: got %d, want %d", n.Name, len(n.Args), len(params))
		}
		c := &CallExpr{exprBase: exprBase{Line: n.Line, Type: ret}, Name: n.Name}
		for i, arg := range n.Args {
			x, err := a.argument(arg, params[i])
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, x)
		}
		return c, nil

	case *CastExpr:
		if !n.To.IsPrim() {
			return nil, errorf(n.Line, "cannot convert to %s", n.To)
		}
		return a.convertTo(n.X, n.To)

	case *InitList:
		return nil, errorf(n.Line, "initializer list outside a declaration")
	}
	internalError("annotate: unknown expression %T", e)
	return nil, nil
}

// lvalue annotates an assignment target and returns the type of the value
// it stores.
func (a *annotator) lvalue(e Expr) (Expr, Type, error) {
	switch n := e.(type) {
	case *Ident:
		l, g := a.fr.lookup(n.Name)
		var t Type
		switch {
		case l != nil && l.Constexpr:
			return nil, Void, errorf(n.Line, "cannot assign to loop constant %q", n.Name)
		case l != nil:
			t = l.Type
		case g != nil:
			if g.Type.Prog {
				return nil, Void, errorf(n.Line, "assignment to program data %q", n.Name)
			}
			t = g.Type
		default:
			return nil, Void, errorf(n.Line, "undefined variable %q", n.Name)
		}
		if !t.IsPrim() {
			return nil, Void, errorf(n.Line, "cannot assign to %q of type %s", n.Name, t)
		}
		return &Ident{exprBase: exprBase{Line: n.Line, Type: t}, Name: n.Name}, t, nil

	case *IndexExpr:
		x, err := a.expr(n)
		if err != nil {
			return nil, Void, err
		}
		t := x.TypeOf()
		if t.Prog {
			return nil, Void, errorf(n.Line, "assignment to program data %s", n)
		}
		if t.Kind != KindRef {
			return nil, Void, errorf(n.Line, "cannot assign to %s of type %s", n, t)
		}
		return x, *t.Elem, nil
	}
	return nil, Void, errorf(e.Pos(), "%s is not assignable", e)
}

// argument checks one call argument against its parameter type. Arrays
// are passed by reference and must match in shape.
func (a *annotator) argument(arg Expr, pt Type) (Expr, error) {
	if pt.Kind != KindArrayRef {
		return a.convertTo(arg, pt)
	}
	x, err := a.expr(arg)
	if err != nil {
		return nil, err
	}
	xt := x.TypeOf()
	if !xt.IsArray() || xt.Count != pt.Count || xt.Prog != pt.Prog || !xt.Elem.Equal(*pt.Elem) {
		return nil, errorf(arg.Pos(), "cannot pass %s of type %s as %s", arg, xt, pt)
	}
	return cast(x, pt), nil
}

// initializer annotates the initial value of a variable of type t.
func (a *annotator) initializer(e Expr, t Type) (Expr, error) {
	list, isList := e.(*InitList)
	if t.Kind != KindArray {
		if isList {
			return nil, errorf(e.Pos(), "initializer list for %s", t)
		}
		return a.convertTo(e, t)
	}
	if !isList {
		return nil, errorf(e.Pos(), "array of type %s needs an initializer list", t)
	}
	if len(list.Elems) > t.Count {
		return nil, errorf(e.Pos(), "too many initializers for %s", t)
	}
	out := &InitList{exprBase: exprBase{Line: list.Line, Type: t}}
	for _, el := range list.Elems {
		x, err := a.initializer(el, *t.Elem)
		if err != nil {
			return nil, err
		}
		out.Elems = append(out.Elems, x)
	}
	return out, nil
}
