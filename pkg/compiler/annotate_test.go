package compiler

import (
	"strings"
	"testing"
)

func TestCommonType(t *testing.T) {
	tests := []struct {
		a, b         Type
		wantA, wantB Type
	}{
		{U8, U8, U8, U8},
		{U8, U16, U16, U16},
		{I8, I16, I16, I16},
		{I8, U16, U16, U16},
		{I16, U16, U16, U16},
		{I16, U8, I16, I16},
		{U8, I8, U8, U8},
		{I32, U16, I32, I32},
		{U24, I32, I32, I32},
		{BoolT, U8, U8, U8},
		{BoolT, BoolT, U8, U8},
	}
	for _, tc := range tests {
		gotA, gotB := commonType(tc.a, tc.b)
		if !gotA.Equal(tc.wantA) || !gotB.Equal(tc.wantB) {
			t.Errorf("commonType(%s, %s) = %s, %s; want %s, %s", tc.a, tc.b, gotA, gotB, tc.wantA, tc.wantB)
		}
		// operand order does not matter
		revB, revA := commonType(tc.b, tc.a)
		if !revA.Equal(gotA) || !revB.Equal(gotB) {
			t.Errorf("commonType(%s, %s) is not symmetric", tc.a, tc.b)
		}
	}
}

func TestLiteralType(t *testing.T) {
	tests := []struct {
		v    int64
		want Type
	}{
		{0, U8}, {255, U8}, {-1, I8}, {-128, I8}, {256, U16}, {-129, I16},
		{0xFFFF, U16}, {0x10000, U24}, {-0x8001, I24}, {0x1000000, U32}, {-0x800001, I32},
	}
	for _, tc := range tests {
		if got := literalType(tc.v); !got.Equal(tc.want) {
			t.Errorf("literalType(%d) = %s, want %s", tc.v, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		v    int64
		t    Type
		want int64
	}{
		{300, U8, 44},
		{-1, U8, 255},
		{255, I8, -1},
		{128, I8, -128},
		{0x12345, U16, 0x2345},
		{0xFFFF, I16, -1},
		{-5, U32, 0xFFFFFFFB},
		{0x80000000, I32, -0x80000000},
	}
	for _, tc := range tests {
		if got := truncate(tc.v, tc.t); got != tc.want {
			t.Errorf("truncate(%d, %s) = %d, want %d", tc.v, tc.t, got, tc.want)
		}
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"u8", U8},
		{"int", I16},
		{"bool", BoolT},
		{"void", Void},
		{"u16[4]", ArrayOf(U16, 4, false)},
		{"u8[4]&", ArrayRefOf(ArrayOf(U8, 4, false))},
		{"prog u8[3]", ArrayOf(U8, 3, true)},
		{" prog  i16[2]& ", ArrayRefOf(ArrayOf(I16, 2, true))},
	}
	for _, tc := range tests {
		got, err := ParseType(tc.in)
		if err != nil {
			t.Errorf("ParseType(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseType(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	grid, err := ParseType("u8[2][3]")
	if err != nil {
		t.Fatalf("ParseType nested: %v", err)
	}
	if grid.Size != 6 || grid.Count*grid.Elem.Count != 6 {
		t.Errorf("nested array has size %d and %dx%d elements", grid.Size, grid.Count, grid.Elem.Count)
	}

	for _, bad := range []string{"u9", "prog u8", "u8&", "u8[0]", "u8[x]", "void[2]", "u8]"} {
		if _, err := ParseType(bad); err == nil {
			t.Errorf("ParseType(%q) succeeded", bad)
		}
	}
}

func TestTypeString(t *testing.T) {
	tests := map[string]Type{
		"u8":         U8,
		"i32":        I32,
		"bool":       BoolT,
		"void":       Void,
		"u16[4]":     ArrayOf(U16, 4, false),
		"u8[4]&":     ArrayRefOf(ArrayOf(U8, 4, false)),
		"prog u8[3]": ArrayOf(U8, 3, true),
		"prog i8&":   RefTo(I8, true),
	}
	for want, typ := range tests {
		if got := typ.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

// testAnnotator returns an annotator over a frame holding a few locals,
// a global u16 g and a prog array tbl.
func testAnnotator() *annotator {
	globals := map[string]*Global{
		"g":   {Name: "g", Type: U16},
		"tbl": {Name: "tbl", Type: ArrayOf(U8, 3, true)},
	}
	fr := newFrame(globals)
	for _, l := range []struct {
		name string
		t    Type
	}{
		{"a", I8}, {"b", U16}, {"s", I16}, {"flag", BoolT}, {"buf", ArrayOf(U8, 4, false)},
	} {
		fr.Size += l.t.Size
		if _, err := fr.bind(l.name, l.t, 0); err != nil {
			panic(err)
		}
	}
	fr.bindConst("k", U8, 2)
	funcs := map[string]*FuncDecl{
		"f":    fn("f", U8, []Param{{Name: "x", Type: U8}, {Name: "y", Type: I16}}),
		"noop": fn("noop", Void, nil),
		"sum4": fn("sum4", U8, []Param{{Name: "v", Type: ArrayRefOf(ArrayOf(U8, 4, false))}}),
	}
	return &annotator{fr: fr, funcs: funcs}
}

func TestAnnotateTypes(t *testing.T) {
	tests := []struct {
		name string
		in   Expr
		want Type
	}{
		{"literal", lit(300), U16},
		{"typed literal", typedLit(1, I32), I32},
		{"local", ident("a"), I8},
		{"global", ident("g"), U16},
		{"loop constant", ident("k"), U8},
		{"mixed sign widens to unsigned", bin("+", ident("a"), ident("b")), U16},
		{"signed wins when wider", bin("*", ident("s"), lit(3)), I16},
		{"comparison", bin("<", ident("a"), ident("b")), BoolT},
		{"shift keeps left type", bin(">>", ident("s"), ident("b")), I16},
		{"bool operand is a byte", bin("+", ident("flag"), ident("flag")), U8},
		{"logical", logical("&&", ident("a"), ident("g")), BoolT},
		{"negate", &UnaryExpr{Op: "-", X: ident("a")}, I8},
		{"not", &UnaryExpr{Op: "!", X: ident("g")}, BoolT},
		{"assign", set(ident("b"), "=", ident("a")), U16},
		{"compound assign", set(ident("a"), "+=", lit(1)), I8},
		{"postfix", incr(ident("b"), false), U16},
		{"index", index(ident("buf"), ident("k")), RefTo(U8, false)},
		{"prog index", index(ident("tbl"), lit(1)), RefTo(U8, true)},
		{"call", call("f", lit(1), lit(2)), U8},
		{"system call", call("next_frame"), BoolT},
		{"cast", conv(U32, ident("a")), U32},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := testAnnotator().expr(tc.in)
			if err != nil {
				t.Fatalf("expr(%s): %v", tc.in, err)
			}
			if !got.TypeOf().Equal(tc.want) {
				t.Errorf("type of %s = %s, want %s", tc.in, got.TypeOf(), tc.want)
			}
		})
	}
}

func TestAnnotateInsertsCasts(t *testing.T) {
	a := testAnnotator()
	got, err := a.expr(bin("+", ident("a"), ident("b")))
	if err != nil {
		t.Fatal(err)
	}
	b := got.(*BinaryExpr)
	c, ok := b.Left.(*CastExpr)
	if !ok || !c.To.Equal(U16) {
		t.Fatalf("left operand = %s, want a cast to u16", b.Left)
	}
	if _, ok := b.Right.(*CastExpr); ok {
		t.Errorf("right operand %s was cast although it already has the common type", b.Right)
	}

	// reads through a reference become casts to the element
	v, err := a.value(index(ident("buf"), lit(0)))
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := v.(*CastExpr); !ok || !c.To.Equal(U8) {
		t.Errorf("value of buf[0] = %s (%T), want a cast to u8", v, v)
	}

	// an index is always a u16
	ix, _ := a.expr(index(ident("buf"), ident("a")))
	if it := ix.(*IndexExpr).Index.TypeOf(); !it.Equal(U16) {
		t.Errorf("index type = %s, want u16", it)
	}
}

func TestAnnotateLeavesInputUntouched(t *testing.T) {
	in := bin("+", ident("a"), lit(1))
	if _, err := testAnnotator().expr(in); err != nil {
		t.Fatal(err)
	}
	b := in.(*BinaryExpr)
	if !b.TypeOf().IsVoid() || !b.Left.TypeOf().IsVoid() || !b.Right.TypeOf().IsVoid() {
		t.Errorf("input tree was typed: %s", in)
	}
	if _, ok := b.Left.(*Ident); !ok {
		t.Errorf("input operand replaced by %T", b.Left)
	}
}

func TestAnnotateStatementPostfix(t *testing.T) {
	// a postfix increment whose value is unused needs no undo step
	got, err := testAnnotator().stmt(incr(ident("b"), false))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.(*AssignExpr); !ok {
		t.Errorf("statement x++ annotated to %T, want an assignment", got)
	}
}

func TestAnnotateErrors(t *testing.T) {
	tests := []struct {
		name string
		in   Expr
		want string
	}{
		{"undefined variable", ident("nope"), `undefined variable "nope"`},
		{"undefined function", call("nope"), `undefined function "nope"`},
		{"argument count", call("f", lit(1)), "wrong argument count calling f: got 1, want 2"},
		{"void operand", bin("+", call("noop"), lit(1)), "void value used as operand"},
		{"index non-array", index(ident("a"), lit(0)), "cannot index a"},
		{"array as value", bin("+", ident("buf"), lit(1)), "non-primitive operand buf"},
		{"assign to loop constant", set(ident("k"), "=", lit(1)), `cannot assign to loop constant "k"`},
		{"assign to program data", set(index(ident("tbl"), lit(0)), "=", lit(1)), "assignment to program data"},
		{"assign to array", set(ident("buf"), "=", lit(1)), `cannot assign to "buf"`},
		{"assign to call", set(call("f", lit(1), lit(2)), "=", lit(1)), "is not assignable"},
		{"increment constant", incr(ident("k"), true), "loop constant"},
		{"list outside declaration", list(lit(1)), "initializer list outside a declaration"},
		{"array argument shape", call("sum4", ident("tbl")), "cannot pass tbl"},
		{"cast to array", conv(ArrayOf(U8, 2, false), lit(0)), "cannot convert to u8[2]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := testAnnotator().expr(tc.in)
			if err == nil {
				t.Fatalf("expr(%s) succeeded", tc.in)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestInitializer(t *testing.T) {
	a := testAnnotator()
	grid := ArrayOf(ArrayOf(U8, 2, false), 2, false)
	got, err := a.initializer(list(list(lit(1), lit(2)), list(lit(3))), grid)
	if err != nil {
		t.Fatal(err)
	}
	if l := got.(*InitList); len(l.Elems) != 2 || !l.TypeOf().Equal(grid) {
		t.Errorf("initializer = %s of type %s", got, got.TypeOf())
	}

	for _, tc := range []struct {
		in   Expr
		t    Type
		want string
	}{
		{list(lit(1), lit(2), lit(3)), ArrayOf(U8, 2, false), "too many initializers"},
		{lit(1), ArrayOf(U8, 2, false), "needs an initializer list"},
		{list(lit(1)), U8, "initializer list for u8"},
	} {
		_, err := a.initializer(tc.in, tc.t)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("initializer(%s, %s) error = %v, want %q", tc.in, tc.t, err, tc.want)
		}
	}
}
