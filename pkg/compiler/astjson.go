package compiler

import (
	"encoding/json"
	"fmt"
	"io"
)

// jsonNode is the wire form of every AST node. Only the fields relevant to
// Kind are set.
type jsonNode struct {
	Kind   string      `json:"kind"`
	Line   int         `json:"line"`
	Op     string      `json:"op"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Value  *int64      `json:"value"`
	Prefix bool        `json:"prefix"`
	X      *jsonNode   `json:"x"`
	L      *jsonNode   `json:"l"`
	R      *jsonNode   `json:"r"`
	Index  *jsonNode   `json:"index"`
	Init   *jsonNode   `json:"init"`
	Cond   *jsonNode   `json:"cond"`
	Then   *jsonNode   `json:"then"`
	Else   *jsonNode   `json:"else"`
	Post   *jsonNode   `json:"post"`
	Body   *jsonNode   `json:"body"`
	Args   []*jsonNode `json:"args"`
	Elems  []*jsonNode `json:"elems"`
	Stmts  []*jsonNode `json:"stmts"`
}

type jsonParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type jsonGlobal struct {
	Line int       `json:"line"`
	Name string    `json:"name"`
	Type string    `json:"type"`
	Init *jsonNode `json:"init"`
}

type jsonFunc struct {
	Line   int         `json:"line"`
	Name   string      `json:"name"`
	Ret    string      `json:"ret"`
	Params []jsonParam `json:"params"`
	Body   *jsonNode   `json:"body"`
}

type jsonProgram struct {
	Globals []jsonGlobal `json:"globals"`
	Funcs   []jsonFunc   `json:"funcs"`
}

// DecodeProgram reads a JSON-encoded AST as produced by the front end.
//
//	{"funcs": [{"name": "main", "ret": "u8", "body":
//	    {"kind": "block", "stmts": [
//	        {"kind": "return", "x": {"kind": "int", "value": 5}}]}}]}
func DecodeProgram(r io.Reader) (*Program, error) {
	var jp jsonProgram
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jp); err != nil {
		return nil, fmt.Errorf("decode ast: %w", err)
	}

	p := &Program{}
	for _, jg := range jp.Globals {
		t, err := ParseType(jg.Type)
		if err != nil {
			return nil, errorf(jg.Line, "global %s: %v", jg.Name, err)
		}
		g := &GlobalDecl{Line: jg.Line, Name: jg.Name, Type: t}
		if jg.Init != nil {
			if g.Init, err = decodeExpr(jg.Init); err != nil {
				return nil, err
			}
		}
		p.Globals = append(p.Globals, g)
	}
	for _, jf := range jp.Funcs {
		ret := Void
		if jf.Ret != "" {
			var err error
			if ret, err = ParseType(jf.Ret); err != nil {
				return nil, errorf(jf.Line, "function %s: %v", jf.Name, err)
			}
		}
		f := &FuncDecl{Line: jf.Line, Name: jf.Name, Ret: ret}
		for _, jp := range jf.Params {
			t, err := ParseType(jp.Type)
			if err != nil {
				return nil, errorf(jf.Line, "parameter %s of %s: %v", jp.Name, jf.Name, err)
			}
			f.Params = append(f.Params, Param{Name: jp.Name, Type: t})
		}
		if jf.Body == nil {
			return nil, errorf(jf.Line, "function %s has no body", jf.Name)
		}
		body, err := decodeStmt(jf.Body)
		if err != nil {
			return nil, err
		}
		blk, ok := body.(*BlockStmt)
		if !ok {
			blk = &BlockStmt{stmtBase: stmtBase{Line: body.Pos()}, Stmts: []Stmt{body}}
		}
		f.Body = blk
		p.Funcs = append(p.Funcs, f)
	}
	return p, nil
}

func need(n *jsonNode, field string, parent *jsonNode) error {
	if n == nil {
		return errorf(parent.Line, "%s node is missing %q", parent.Kind, field)
	}
	return nil
}

func decodeExpr(n *jsonNode) (Expr, error) {
	if n == nil {
		return nil, errorf(0, "null expression")
	}
	base := exprBase{Line: n.Line}
	switch n.Kind {
	case "int":
		if n.Value == nil {
			return nil, errorf(n.Line, "int node is missing \"value\"")
		}
		v := *n.Value
		base.Type = literalType(v)
		if n.Type != "" {
			t, err := ParseType(n.Type)
			if err != nil || !t.IsPrim() {
				return nil, errorf(n.Line, "bad literal type %q", n.Type)
			}
			base.Type = t
		}
		return &IntLit{exprBase: base, Value: v}, nil

	case "ident":
		return &Ident{exprBase: base, Name: n.Name}, nil

	case "unary":
		if err := need(n.X, "x", n); err != nil {
			return nil, err
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		if n.Op != "-" && n.Op != "!" {
			return nil, errorf(n.Line, "unknown unary operator %q", n.Op)
		}
		return &UnaryExpr{exprBase: base, Op: n.Op, X: x}, nil

	case "binary", "logical", "assign":
		if err := need(n.L, "l", n); err != nil {
			return nil, err
		}
		if err := need(n.R, "r", n); err != nil {
			return nil, err
		}
		l, err := decodeExpr(n.L)
		if err != nil {
			return nil, err
		}
		r, err := decodeExpr(n.R)
		if err != nil {
			return nil, err
		}
		switch n.Kind {
		case "binary":
			if _, ok := binaryOps[n.Op]; !ok {
				return nil, errorf(n.Line, "unknown binary operator %q", n.Op)
			}
			return &BinaryExpr{exprBase: base, Op: n.Op, Left: l, Right: r}, nil
		case "logical":
			if n.Op != "&&" && n.Op != "||" {
				return nil, errorf(n.Line, "unknown logical operator %q", n.Op)
			}
			return &LogicalExpr{exprBase: base, Op: n.Op, Left: l, Right: r}, nil
		}
		op := n.Op
		if op == "" {
			op = "="
		}
		if op != "=" {
			if _, ok := binaryOps[op[:len(op)-1]]; !ok || op[len(op)-1] != '=' {
				return nil, errorf(n.Line, "unknown assignment operator %q", n.Op)
			}
		}
		return &AssignExpr{exprBase: base, Op: op, Left: l, Right: r}, nil

	case "incdec":
		if err := need(n.X, "x", n); err != nil {
			return nil, err
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		if n.Op != "++" && n.Op != "--" {
			return nil, errorf(n.Line, "unknown increment operator %q", n.Op)
		}
		return &IncDecExpr{exprBase: base, Op: n.Op, Prefix: n.Prefix, X: x}, nil

	case "index":
		if err := need(n.X, "x", n); err != nil {
			return nil, err
		}
		if err := need(n.Index, "index", n); err != nil {
			return nil, err
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		idx, err := decodeExpr(n.Index)
		if err != nil {
			return nil, err
		}
		return &IndexExpr{exprBase: base, X: x, Index: idx}, nil

	case "call":
		c := &CallExpr{exprBase: base, Name: n.Name}
		for _, a := range n.Args {
			e, err := decodeExpr(a)
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, e)
		}
		return c, nil

	case "cast":
		if err := need(n.X, "x", n); err != nil {
			return nil, err
		}
		t, err := ParseType(n.Type)
		if err != nil {
			return nil, errorf(n.Line, "cast: %v", err)
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &CastExpr{To: t, X: x, exprBase: base}, nil

	case "list":
		l := &InitList{exprBase: base}
		for _, el := range n.Elems {
			e, err := decodeExpr(el)
			if err != nil {
				return nil, err
			}
			l.Elems = append(l.Elems, e)
		}
		return l, nil
	}
	return nil, errorf(n.Line, "unknown expression kind %q", n.Kind)
}

func decodeOptStmt(n *jsonNode) (Stmt, error) {
	if n == nil {
		return nil, nil
	}
	return decodeStmt(n)
}

func decodeOptExpr(n *jsonNode) (Expr, error) {
	if n == nil {
		return nil, nil
	}
	return decodeExpr(n)
}

func decodeStmt(n *jsonNode) (Stmt, error) {
	if n == nil {
		return nil, errorf(0, "null statement")
	}
	base := stmtBase{Line: n.Line}
	switch n.Kind {
	case "block":
		b := &BlockStmt{stmtBase: base}
		for _, c := range n.Stmts {
			s, err := decodeStmt(c)
			if err != nil {
				return nil, err
			}
			b.Stmts = append(b.Stmts, s)
		}
		return b, nil

	case "decl":
		t, err := ParseType(n.Type)
		if err != nil {
			return nil, errorf(n.Line, "declaration of %s: %v", n.Name, err)
		}
		init, err := decodeOptExpr(n.Init)
		if err != nil {
			return nil, err
		}
		return &DeclStmt{stmtBase: base, Name: n.Name, Type: t, Init: init}, nil

	case "expr":
		if err := need(n.X, "x", n); err != nil {
			return nil, err
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &ExprStmt{stmtBase: base, X: x}, nil

	case "if":
		if err := need(n.Cond, "cond", n); err != nil {
			return nil, err
		}
		if err := need(n.Then, "then", n); err != nil {
			return nil, err
		}
		cond, err := decodeExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		then, err := decodeStmt(n.Then)
		if err != nil {
			return nil, err
		}
		els, err := decodeOptStmt(n.Else)
		if err != nil {
			return nil, err
		}
		return &IfStmt{stmtBase: base, Cond: cond, Then: then, Else: els}, nil

	case "while":
		if err := need(n.Cond, "cond", n); err != nil {
			return nil, err
		}
		if err := need(n.Body, "body", n); err != nil {
			return nil, err
		}
		cond, err := decodeExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		body, err := decodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &WhileStmt{stmtBase: base, Cond: cond, Body: body}, nil

	case "for":
		if err := need(n.Body, "body", n); err != nil {
			return nil, err
		}
		init, err := decodeOptStmt(n.Init)
		if err != nil {
			return nil, err
		}
		cond, err := decodeOptExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		post, err := decodeOptExpr(n.Post)
		if err != nil {
			return nil, err
		}
		body, err := decodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &ForStmt{stmtBase: base, Init: init, Cond: cond, Post: post, Body: body}, nil

	case "return":
		x, err := decodeOptExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &ReturnStmt{stmtBase: base, X: x}, nil

	case "break":
		return &BreakStmt{stmtBase: base}, nil
	case "continue":
		return &ContinueStmt{stmtBase: base}, nil
	}
	return nil, errorf(n.Line, "unknown statement kind %q", n.Kind)
}
