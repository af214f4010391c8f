package compiler

import (
	"strconv"
	"strings"
	"testing"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// AST builders. Line numbers are left at zero unless a test needs them.

func lit(v int64) Expr { return &IntLit{Value: v} }

func typedLit(v int64, t Type) Expr { return &IntLit{exprBase: exprBase{Type: t}, Value: v} }

func ident(name string) Expr { return &Ident{Name: name} }

func bin(op string, l, r Expr) Expr { return &BinaryExpr{Op: op, Left: l, Right: r} }

func logical(op string, l, r Expr) Expr { return &LogicalExpr{Op: op, Left: l, Right: r} }

func set(l Expr, op string, r Expr) Expr { return &AssignExpr{Op: op, Left: l, Right: r} }

func incr(x Expr, prefix bool) Expr { return &IncDecExpr{Op: "++", Prefix: prefix, X: x} }

func index(x, i Expr) Expr { return &IndexExpr{X: x, Index: i} }

func call(name string, args ...Expr) Expr { return &CallExpr{Name: name, Args: args} }

func conv(t Type, x Expr) Expr { return &CastExpr{To: t, X: x} }

func list(elems ...Expr) Expr { return &InitList{Elems: elems} }

func block(stmts ...Stmt) *BlockStmt { return &BlockStmt{Stmts: stmts} }

func decl(name string, t Type, init Expr) Stmt { return &DeclStmt{Name: name, Type: t, Init: init} }

func do(x Expr) Stmt { return &ExprStmt{X: x} }

func ret(x Expr) Stmt { return &ReturnStmt{X: x} }

func ifs(cond Expr, then, els Stmt) Stmt { return &IfStmt{Cond: cond, Then: then, Else: els} }

func while(cond Expr, body Stmt) Stmt { return &WhileStmt{Cond: cond, Body: body} }

func forLoop(init Stmt, cond, post Expr, body Stmt) *ForStmt {
	return &ForStmt{Init: init, Cond: cond, Post: post, Body: body}
}

func fn(name string, rt Type, params []Param, body ...Stmt) *FuncDecl {
	return &FuncDecl{Name: name, Ret: rt, Params: params, Body: block(body...)}
}

func arr(elem Type, n int) Type { return ArrayOf(elem, n, false) }

// program builds a program from globals and functions in any order.
func program(parts ...any) *Program {
	p := &Program{}
	for _, x := range parts {
		switch v := x.(type) {
		case *GlobalDecl:
			p.Globals = append(p.Globals, v)
		case *FuncDecl:
			p.Funcs = append(p.Funcs, v)
		}
	}
	return p
}

func global(name string, t Type, init Expr) *GlobalDecl {
	return &GlobalDecl{Name: name, Type: t, Init: init}
}

// assertContains checks if the generated code contains the expected substring.
func assertContains(t *testing.T, code, expected string) {
	t.Helper()
	if !strings.Contains(code, expected) {
		t.Errorf("Expected code to contain %q, but it didn't.\nCode:\n%s", expected, code)
	}
}

func unoptimized() Options {
	opts := DefaultOptions()
	opts.Optimize = false
	return opts
}

// runProgram compiles, assembles and runs p until it halts. A runtime
// fault fails the test.
func runProgram(t *testing.T, p *Program, opts Options) *vm.Machine {
	t.Helper()
	m, out, err := execProgram(t, p, opts)
	if err != nil {
		t.Fatalf("run failed: %v\nListing:\n%s", err, out.Listing())
	}
	return m
}

func execProgram(t *testing.T, p *Program, opts Options) (*vm.Machine, *Output, error) {
	t.Helper()
	bin, out, err := Build(p, opts)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	m := vm.NewMachine()
	if err := m.Load(bin); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return m, out, m.Run(1_000_000)
}

// result reads main's return value, which the entry stub leaves at the
// bottom of the stack.
func result(t *testing.T, m *vm.Machine, size int) uint32 {
	t.Helper()
	if m.SP != size {
		t.Fatalf("SP = %d after main returned, want %d\nstack: % X", m.SP, size, m.Stack[:m.SP])
	}
	return m.StackWord(0, size)
}

// realCode strips label markers.
func realCode(code []Instr) []Instr {
	var out []Instr
	for _, in := range code {
		if !in.IsLabel {
			out = append(out, in)
		}
	}
	return out
}

func opsOf(code []Instr) string {
	var parts []string
	for _, in := range realCode(code) {
		s := vm.Info(in.Op).Name
		if vm.Info(in.Op).Args[0] != 0 && !in.Label.IsValid() {
			s += " " + strconv.Itoa(int(in.Imm))
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}
