package compiler

import (
	"os"
	"strings"
	"testing"
)

func TestDecodeExampleProgram(t *testing.T) {
	f, err := os.Open("../../examples/fib.json")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	p, err := DecodeProgram(f)
	if err != nil {
		t.Fatalf("DecodeProgram: %v", err)
	}
	if len(p.Funcs) != 2 || p.Funcs[0].Name != "fib" || p.Funcs[1].Name != "main" {
		t.Fatalf("decoded functions %v", p.Funcs)
	}
	fib := p.Funcs[0]
	if !fib.Ret.Equal(U16) || len(fib.Params) != 1 || !fib.Params[0].Type.Equal(U8) {
		t.Errorf("fib signature = (%v) %s", fib.Params, fib.Ret)
	}

	m := runProgram(t, p, DefaultOptions())
	if got := result(t, m, 2); got != 55 {
		t.Errorf("fib(10) = %d, want 55", got)
	}
}

func TestDecodeNodes(t *testing.T) {
	src := `{
	  "globals": [
	    {"line": 1, "name": "tbl", "type": "prog u8[3]", "init": {"kind": "list", "elems": [
	      {"kind": "int", "value": 1}, {"kind": "int", "value": 2}]}}
	  ],
	  "funcs": [
	    {"line": 3, "name": "main", "ret": "u8", "body":
	      {"kind": "block", "stmts": [
	        {"kind": "decl", "line": 4, "name": "s", "type": "u16", "init": {"kind": "int", "value": 300}},
	        {"kind": "for", "line": 5,
	          "init": {"kind": "decl", "name": "i", "type": "u8", "init": {"kind": "int", "value": 0}},
	          "cond": {"kind": "binary", "op": "<", "l": {"kind": "ident", "name": "i"}, "r": {"kind": "int", "value": 3}},
	          "post": {"kind": "incdec", "op": "++", "x": {"kind": "ident", "name": "i"}},
	          "body": {"kind": "expr", "x": {"kind": "assign", "op": "+=",
	            "l": {"kind": "ident", "name": "s"},
	            "r": {"kind": "index", "x": {"kind": "ident", "name": "tbl"}, "index": {"kind": "ident", "name": "i"}}}}},
	        {"kind": "while", "cond": {"kind": "logical", "op": "&&",
	            "l": {"kind": "ident", "name": "s"}, "r": {"kind": "unary", "op": "!", "x": {"kind": "int", "value": 0}}},
	          "body": {"kind": "break"}},
	        {"kind": "return", "line": 9, "x": {"kind": "cast", "type": "u8", "x": {"kind": "int", "value": 7, "type": "i32"}}}
	      ]}},
	    {"line": 11, "name": "noop", "body": {"kind": "return"}}
	  ]
	}`
	p, err := DecodeProgram(strings.NewReader(src))
	if err != nil {
		t.Fatalf("DecodeProgram: %v", err)
	}

	g := p.Globals[0]
	if !g.Type.Equal(ArrayOf(U8, 3, true)) {
		t.Errorf("global type = %s", g.Type)
	}
	if l, ok := g.Init.(*InitList); !ok || len(l.Elems) != 2 {
		t.Errorf("global init = %v", g.Init)
	}

	body := p.Funcs[0].Body.Stmts
	if len(body) != 4 {
		t.Fatalf("main has %d statements, want 4", len(body))
	}
	d, ok := body[0].(*DeclStmt)
	if !ok || d.Name != "s" || !d.Type.Equal(U16) || d.Pos() != 4 {
		t.Errorf("statement 0 = %v", body[0])
	}
	if lit, ok := d.Init.(*IntLit); !ok || lit.Value != 300 || !lit.TypeOf().Equal(U16) {
		t.Errorf("literal 300 decoded as %v", d.Init)
	}
	loop, ok := body[1].(*ForStmt)
	if !ok {
		t.Fatalf("statement 1 = %T", body[1])
	}
	if _, ok := loop.Init.(*DeclStmt); !ok {
		t.Errorf("for init = %T", loop.Init)
	}
	if post, ok := loop.Post.(*IncDecExpr); !ok || post.Prefix || post.Op != "++" {
		t.Errorf("for post = %v", loop.Post)
	}
	as := loop.Body.(*ExprStmt).X.(*AssignExpr)
	if as.Op != "+=" {
		t.Errorf("assignment op = %q", as.Op)
	}
	if _, ok := as.Right.(*IndexExpr); !ok {
		t.Errorf("assignment source = %T", as.Right)
	}
	w, ok := body[2].(*WhileStmt)
	if !ok {
		t.Fatalf("statement 2 = %T", body[2])
	}
	if _, ok := w.Cond.(*LogicalExpr); !ok {
		t.Errorf("while cond = %T", w.Cond)
	}
	if _, ok := w.Body.(*BreakStmt); !ok {
		t.Errorf("while body = %T", w.Body)
	}
	c := body[3].(*ReturnStmt).X.(*CastExpr)
	if !c.To.Equal(U8) || !c.X.TypeOf().Equal(I32) {
		t.Errorf("cast = %v from %s", c, c.X.TypeOf())
	}

	noop := p.Funcs[1]
	if !noop.Ret.IsVoid() {
		t.Errorf("missing ret decoded as %s", noop.Ret)
	}
	if len(noop.Body.Stmts) != 1 {
		t.Errorf("a lone statement body was not wrapped in a block")
	}

	// tbl[0] + tbl[1] + tbl[2] added to 300, then 7 is returned
	m := runProgram(t, p, DefaultOptions())
	if got := result(t, m, 1); got != 7 {
		t.Errorf("result = %d, want 7", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	wrap := func(stmt string) string {
		return `{"funcs": [{"name": "main", "body": {"kind": "block", "stmts": [` + stmt + `]}}]}`
	}
	expr := func(x string) string {
		return wrap(`{"kind": "expr", "line": 3, "x": ` + x + `}`)
	}
	tests := []struct {
		name, src, want string
	}{
		{"not json", `{"funcs": [`, "decode ast"},
		{"unknown field", `{"funcs": [], "macros": []}`, "decode ast"},
		{"bad global type", `{"globals": [{"line": 2, "name": "g", "type": "u9"}]}`, "line 2: global g:"},
		{"bad return type", `{"funcs": [{"name": "f", "ret": "u8[", "body": {"kind": "block"}}]}`, "function f:"},
		{"bad parameter type", `{"funcs": [{"name": "f", "params": [{"name": "p", "type": "x"}], "body": {"kind": "block"}}]}`, "parameter p of f:"},
		{"missing body", `{"funcs": [{"line": 5, "name": "main"}]}`, "line 5: function main has no body"},
		{"unknown statement", wrap(`{"kind": "goto", "line": 4}`), `line 4: unknown statement kind "goto"`},
		{"unknown expression", expr(`{"kind": "lambda", "line": 3}`), `unknown expression kind "lambda"`},
		{"missing condition", wrap(`{"kind": "if", "line": 4, "then": {"kind": "break"}}`), `line 4: if node is missing "cond"`},
		{"missing loop body", wrap(`{"kind": "while", "cond": {"kind": "int", "value": 1}}`), `while node is missing "body"`},
		{"missing operand", expr(`{"kind": "binary", "op": "+", "l": {"kind": "int", "value": 1}}`), `binary node is missing "r"`},
		{"int without value", expr(`{"kind": "int"}`), `int node is missing "value"`},
		{"bad literal type", expr(`{"kind": "int", "value": 1, "type": "u8[2]"}`), `bad literal type "u8[2]"`},
		{"unknown binary operator", expr(`{"kind": "binary", "op": "**", "l": {"kind": "int", "value": 1}, "r": {"kind": "int", "value": 1}}`), `unknown binary operator "**"`},
		{"unknown logical operator", expr(`{"kind": "logical", "op": "^^", "l": {"kind": "int", "value": 1}, "r": {"kind": "int", "value": 1}}`), `unknown logical operator "^^"`},
		{"unknown assignment", expr(`{"kind": "assign", "op": "**=", "l": {"kind": "ident", "name": "a"}, "r": {"kind": "int", "value": 1}}`), `unknown assignment operator "**="`},
		{"unknown unary operator", expr(`{"kind": "unary", "op": "~", "x": {"kind": "int", "value": 1}}`), `unknown unary operator "~"`},
		{"unknown increment", expr(`{"kind": "incdec", "op": "+=", "x": {"kind": "ident", "name": "a"}}`), `unknown increment operator "+="`},
		{"bad cast type", expr(`{"kind": "cast", "type": "void[]", "x": {"kind": "int", "value": 1}}`), "cast:"},
		{"bad declaration type", wrap(`{"kind": "decl", "name": "v", "type": "u7"}`), "declaration of v:"},
		{"null argument", expr(`{"kind": "call", "name": "f", "args": [null]}`), "null expression"},
		{"null statement", wrap(`null`), "null statement"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeProgram(strings.NewReader(tc.src))
			if err == nil {
				t.Fatalf("DecodeProgram succeeded, want error containing %q", tc.want)
			}
			assertContains(t, err.Error(), tc.want)
		})
	}
}

func TestDecodeDeclarationBody(t *testing.T) {
	src := `{"funcs": [{"line": 1, "name": "main", "ret": "u8", "body": {"kind": "block", "stmts": [
	  {"kind": "while", "line": 2, "cond": {"kind": "int", "value": 0},
	    "body": {"kind": "decl", "line": 2, "name": "x", "type": "u8", "init": {"kind": "int", "value": 1}}},
	  {"kind": "return", "line": 3, "x": {"kind": "int", "value": 5}}
	]}}]}`
	p, err := DecodeProgram(strings.NewReader(src))
	if err != nil {
		t.Fatalf("DecodeProgram: %v", err)
	}
	m := runProgram(t, p, unoptimized())
	if got := result(t, m, 1); got != 5 {
		t.Errorf("result = %d, want 5", got)
	}
}
