package compiler

// UnrollInfo describes a counting loop whose trip count is known at
// compile time.
type UnrollInfo struct {
	Var   string
	Type  Type
	Init  int64
	Incr  int64
	Count int
}

// DefaultMaxUnroll caps the number of body copies an unrolled loop emits.
const DefaultMaxUnroll = 16

func stripCasts(e Expr) Expr {
	for {
		c, ok := e.(*CastExpr)
		if !ok {
			return e
		}
		e = c.X
	}
}

// constant evaluates a compile-time constant with the typing and
// wraparound code generation gives it. Expressions that read variables or
// call functions are not constant.
func constant(e Expr) (int64, Type, bool) {
	a := &annotator{fr: newFrame(nil)}
	x, err := a.value(e)
	if err != nil {
		return 0, Void, false
	}
	v, ok := constValue(x)
	return v, x.TypeOf(), ok
}

func isVar(e Expr, name string) bool {
	id, ok := stripCasts(e).(*Ident)
	return ok && id.Name == name
}

// analyzeUnroll decides whether f can be replaced by max or fewer copies of
// its body, simulating the induction variable with the wraparound of its
// declared type.
func analyzeUnroll(f *ForStmt, max int) (UnrollInfo, bool) {
	var info UnrollInfo
	if f.Init == nil || f.Cond == nil || f.Post == nil || f.Body == nil {
		return info, false
	}
	decl, ok := f.Init.(*DeclStmt)
	if !ok || decl.Init == nil || !decl.Type.IsPrim() || decl.Type.Bool {
		return info, false
	}
	init, _, ok := constant(decl.Init)
	if !ok {
		return info, false
	}
	info.Var, info.Type = decl.Name, decl.Type
	info.Init = truncate(init, decl.Type)

	if hasLvalue(f.Body, info.Var) {
		return info, false
	}
	if info.Incr, ok = increment(f.Post, info.Var); !ok || info.Incr == 0 {
		return info, false
	}

	cmp, ok := f.Cond.(*BinaryExpr)
	if !ok || !isComparison(cmp.Op) {
		return info, false
	}
	op, lit := cmp.Op, cmp.Right
	if !isVar(cmp.Left, info.Var) {
		if !isVar(cmp.Right, info.Var) {
			return info, false
		}
		op, lit = mirror(op), cmp.Left
	}
	limit, lt, ok := constant(lit)
	if !ok {
		return info, false
	}
	vt, ct := commonType(info.Type, lt)
	limit = truncate(limit, ct)

	x := info.Init
	for holds(op, truncate(x, vt), limit) {
		if info.Count >= max {
			return info, false
		}
		info.Count++
		x = truncate(x+info.Incr, info.Type)
	}
	return info, true
}

// mirror swaps the operands of a comparison.
func mirror(op string) string {
	switch op {
	case "<":
		return ">"
	case ">":
		return "<"
	case "<=":
		return ">="
	case ">=":
		return "<="
	}
	return op
}

func holds(op string, a, b int64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}

// increment recognizes i++, i--, i += c, i -= c, i = i + c, i = c + i and
// i = i - c.
func increment(e Expr, name string) (int64, bool) {
	switch n := e.(type) {
	case *IncDecExpr:
		if !isVar(n.X, name) {
			return 0, false
		}
		if n.Op == "--" {
			return -1, true
		}
		return 1, true
	case *AssignExpr:
		if !isVar(n.Left, name) {
			return 0, false
		}
		switch n.Op {
		case "+=", "-=":
			c, _, ok := constant(n.Right)
			if !ok {
				return 0, false
			}
			if n.Op == "-=" {
				c = -c
			}
			return c, true
		case "=":
			b, ok := stripCasts(n.Right).(*BinaryExpr)
			if !ok || (b.Op != "+" && b.Op != "-") {
				return 0, false
			}
			if isVar(b.Left, name) {
				c, _, ok := constant(b.Right)
				if !ok {
					return 0, false
				}
				if b.Op == "-" {
					c = -c
				}
				return c, true
			}
			if b.Op == "+" && isVar(b.Right, name) {
				c, _, ok := constant(b.Left)
				return c, ok
			}
		}
	}
	return 0, false
}

// hasLvalue reports whether s may change the variable name. A declaration
// shadowing it counts, since the scan does not track scopes.
func hasLvalue(s Stmt, name string) bool {
	found := false
	var expr func(Expr)
	expr = func(e Expr) {
		if e == nil || found {
			return
		}
		switch n := e.(type) {
		case *UnaryExpr:
			expr(n.X)
		case *BinaryExpr:
			expr(n.Left)
			expr(n.Right)
		case *LogicalExpr:
			expr(n.Left)
			expr(n.Right)
		case *AssignExpr:
			if isVar(n.Left, name) {
				found = true
				return
			}
			expr(n.Left)
			expr(n.Right)
		case *IncDecExpr:
			if isVar(n.X, name) {
				found = true
				return
			}
			expr(n.X)
		case *IndexExpr:
			expr(n.X)
			expr(n.Index)
		case *CallExpr:
			for _, a := range n.Args {
				expr(a)
			}
		case *CastExpr:
			expr(n.X)
		case *InitList:
			for _, el := range n.Elems {
				expr(el)
			}
		}
	}
	var stmt func(Stmt)
	stmt = func(s Stmt) {
		if s == nil || found {
			return
		}
		switch n := s.(type) {
		case *BlockStmt:
			for _, c := range n.Stmts {
				stmt(c)
			}
		case *DeclStmt:
			if n.Name == name {
				found = true
				return
			}
			expr(n.Init)
		case *ExprStmt:
			expr(n.X)
		case *IfStmt:
			expr(n.Cond)
			stmt(n.Then)
			stmt(n.Else)
		case *WhileStmt:
			expr(n.Cond)
			stmt(n.Body)
		case *ForStmt:
			stmt(n.Init)
			expr(n.Cond)
			expr(n.Post)
			stmt(n.Body)
		case *ReturnStmt:
			expr(n.X)
		}
	}
	stmt(s)
	return found
}
