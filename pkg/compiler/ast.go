package compiler

import (
	"fmt"
	"strings"
)

//  Expression nodes

// Expr is implemented by every node that produces a value. Type is empty
// until the annotator has produced a typed copy of the node.
type Expr interface {
	exprNode()
	Pos() int
	TypeOf() Type
	String() string
}

type exprBase struct {
	Line int
	Type Type
}

func (exprBase) exprNode()      {}
func (e exprBase) Pos() int     { return e.Line }
func (e exprBase) TypeOf() Type { return e.Type }

// IntLit is an integer constant. The parser picks its type.
//
//	u8 x = 10;
//	       ^^  IntLit{Value: 10, Type: u8}
type IntLit struct {
	exprBase
	Value int64
}

func (l *IntLit) String() string { return fmt.Sprintf("%d", l.Value) }

// Ident is a read of a named variable.
type Ident struct {
	exprBase
	Name string
}

func (i *Ident) String() string { return i.Name }

// UnaryExpr is Op X for "-" and "!".
type UnaryExpr struct {
	exprBase
	Op string
	X  Expr
}

func (u *UnaryExpr) String() string { return fmt.Sprintf("(%s%s)", u.Op, u.X) }

// BinaryExpr represents Left Op Right.
//
//	x + 1
//	^ ^ ^
//	| | Right
//	| Op
//	Left
type BinaryExpr struct {
	exprBase
	Op          string
	Left, Right Expr
}

func (b *BinaryExpr) String() string { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }

// LogicalExpr is && or ||. It is kept apart from BinaryExpr because the
// right side is only evaluated when needed.
type LogicalExpr struct {
	exprBase
	Op          string
	Left, Right Expr
}

func (l *LogicalExpr) String() string { return fmt.Sprintf("(%s %s %s)", l.Left, l.Op, l.Right) }

// AssignExpr is Left Op Right where Op is "=" or a compound form like "+=".
type AssignExpr struct {
	exprBase
	Op          string
	Left, Right Expr
}

func (a *AssignExpr) String() string { return fmt.Sprintf("(%s %s %s)", a.Left, a.Op, a.Right) }

// IncDecExpr is ++x, --x, x++ or x--.
type IncDecExpr struct {
	exprBase
	Op     string
	Prefix bool
	X      Expr
}

func (p *IncDecExpr) String() string {
	if p.Prefix {
		return fmt.Sprintf("(%s%s)", p.Op, p.X)
	}
	return fmt.Sprintf("(%s%s)", p.X, p.Op)
}

// IndexExpr is X[Index]. Its type is a reference to the element.
type IndexExpr struct {
	exprBase
	X, Index Expr
}

func (i *IndexExpr) String() string { return fmt.Sprintf("%s[%s]", i.X, i.Index) }

// CallExpr represents name(args).
type CallExpr struct {
	exprBase
	Name string
	Args []Expr
}

func (c *CallExpr) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
}

// CastExpr converts X to To. The annotator inserts these for promotions and
// to read through references.
type CastExpr struct {
	exprBase
	To Type
	X  Expr
}

func (c *CastExpr) String() string { return fmt.Sprintf("(%s)%s", c.To, c.X) }

// InitList is { a, b, ... } in an array declaration.
type InitList struct {
	exprBase
	Elems []Expr
}

func (l *InitList) String() string {
	parts := make([]string, len(l.Elems))
	for i, e := range l.Elems {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

//  Statement nodes

type Stmt interface {
	stmtNode()
	Pos() int
	String() string
}

type stmtBase struct{ Line int }

func (stmtBase) stmtNode()  {}
func (s stmtBase) Pos() int { return s.Line }

type BlockStmt struct {
	stmtBase
	Stmts []Stmt
}

func (b *BlockStmt) String() string {
	parts := make([]string, len(b.Stmts))
	for i, s := range b.Stmts {
		parts[i] = s.String()
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

// DeclStmt declares a local, optionally initialised.
type DeclStmt struct {
	stmtBase
	Name string
	Type Type
	Init Expr
}

func (d *DeclStmt) String() string {
	if d.Init != nil {
		return fmt.Sprintf("%s %s = %s;", d.Type, d.Name, d.Init)
	}
	return fmt.Sprintf("%s %s;", d.Type, d.Name)
}

type ExprStmt struct {
	stmtBase
	X Expr
}

func (e *ExprStmt) String() string { return e.X.String() + ";" }

type IfStmt struct {
	stmtBase
	Cond Expr
	Then Stmt
	Else Stmt
}

func (s *IfStmt) String() string {
	if s.Else != nil {
		return fmt.Sprintf("if (%s) %s else %s", s.Cond, s.Then, s.Else)
	}
	return fmt.Sprintf("if (%s) %s", s.Cond, s.Then)
}

type WhileStmt struct {
	stmtBase
	Cond Expr
	Body Stmt
}

func (s *WhileStmt) String() string { return fmt.Sprintf("while (%s) %s", s.Cond, s.Body) }

// ForStmt is for(Init; Cond; Post) Body. Any clause may be nil.
type ForStmt struct {
	stmtBase
	Init Stmt
	Cond Expr
	Post Expr
	Body Stmt
}

func (s *ForStmt) String() string {
	init := ";"
	if s.Init != nil {
		init = s.Init.String()
	}
	return fmt.Sprintf("for (%s %v; %v) %s", init, s.Cond, s.Post, s.Body)
}

type ReturnStmt struct {
	stmtBase
	X Expr
}

func (r *ReturnStmt) String() string {
	if r.X == nil {
		return "return;"
	}
	return fmt.Sprintf("return %s;", r.X)
}

type BreakStmt struct{ stmtBase }

func (*BreakStmt) String() string { return "break;" }

type ContinueStmt struct{ stmtBase }

func (*ContinueStmt) String() string { return "continue;" }

//  Declarations

type Param struct {
	Name string
	Type Type
}

type GlobalDecl struct {
	Line int
	Name string
	Type Type
	Init Expr
}

type FuncDecl struct {
	Line   int
	Name   string
	Params []Param
	Ret    Type
	Body   *BlockStmt
}

// Program is the parser's output for one translation unit.
type Program struct {
	Globals []*GlobalDecl
	Funcs   []*FuncDecl
}

//  Cloning

// CloneExpr deep-copies an expression tree.
func CloneExpr(e Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *IntLit:
		c := *n
		return &c
	case *Ident:
		c := *n
		return &c
	case *UnaryExpr:
		c := *n
		c.X = CloneExpr(n.X)
		return &c
	case *BinaryExpr:
		c := *n
		c.Left, c.Right = CloneExpr(n.Left), CloneExpr(n.Right)
		return &c
	case *LogicalExpr:
		c := *n
		c.Left, c.Right = CloneExpr(n.Left), CloneExpr(n.Right)
		return &c
	case *AssignExpr:
		c := *n
		c.Left, c.Right = CloneExpr(n.Left), CloneExpr(n.Right)
		return &c
	case *IncDecExpr:
		c := *n
		c.X = CloneExpr(n.X)
		return &c
	case *IndexExpr:
		c := *n
		c.X, c.Index = CloneExpr(n.X), CloneExpr(n.Index)
		return &c
	case *CallExpr:
		c := *n
		c.Args = make([]Expr, len(n.Args))
		for i, a := range n.Args {
			c.Args[i] = CloneExpr(a)
		}
		return &c
	case *CastExpr:
		c := *n
		c.X = CloneExpr(n.X)
		return &c
	case *InitList:
		c := *n
		c.Elems = make([]Expr, len(n.Elems))
		for i, a := range n.Elems {
			c.Elems[i] = CloneExpr(a)
		}
		return &c
	}
	internalError("CloneExpr: unknown node %T", e)
	return nil
}

// CloneStmt deep-copies a statement tree.
func CloneStmt(s Stmt) Stmt {
	switch n := s.(type) {
	case nil:
		return nil
	case *BlockStmt:
		c := *n
		c.Stmts = make([]Stmt, len(n.Stmts))
		for i, st := range n.Stmts {
			c.Stmts[i] = CloneStmt(st)
		}
		return &c
	case *DeclStmt:
		c := *n
		c.Init = CloneExpr(n.Init)
		return &c
	case *ExprStmt:
		c := *n
		c.X = CloneExpr(n.X)
		return &c
	case *IfStmt:
		c := *n
		c.Cond, c.Then, c.Else = CloneExpr(n.Cond), CloneStmt(n.Then), CloneStmt(n.Else)
		return &c
	case *WhileStmt:
		c := *n
		c.Cond, c.Body = CloneExpr(n.Cond), CloneStmt(n.Body)
		return &c
	case *ForStmt:
		c := *n
		c.Init, c.Cond, c.Post, c.Body = CloneStmt(n.Init), CloneExpr(n.Cond), CloneExpr(n.Post), CloneStmt(n.Body)
		return &c
	case *ReturnStmt:
		c := *n
		c.X = CloneExpr(n.X)
		return &c
	case *BreakStmt:
		c := *n
		return &c
	case *ContinueStmt:
		c := *n
		return &c
	}
	internalError("CloneStmt: unknown node %T", s)
	return nil
}
