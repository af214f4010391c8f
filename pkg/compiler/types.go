package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes plain values from arrays and references.
type Kind uint8

const (
	KindPrim Kind = iota
	KindArray
	KindArrayRef
	KindRef
)

// Type describes a value. Size is the byte size of the value as it sits on
// the stack or in memory; zero is void. For arrays Size is the total size
// and Count the element count. References are 2-byte data addresses, or
// 3-byte program addresses when Prog is set.
type Type struct {
	Size   int
	Signed bool
	Bool   bool
	Kind   Kind
	Count  int
	Elem   *Type
	Prog   bool
}

var (
	Void    = Type{}
	BoolT   = Type{Size: 1, Bool: true}
	U8      = Type{Size: 1}
	I8      = Type{Size: 1, Signed: true}
	U16     = Type{Size: 2}
	I16     = Type{Size: 2, Signed: true}
	U24     = Type{Size: 3}
	I24     = Type{Size: 3, Signed: true}
	U32     = Type{Size: 4}
	I32     = Type{Size: 4, Signed: true}
	primMap = map[string]Type{
		"void": Void, "bool": BoolT,
		"u8": U8, "i8": I8, "u16": U16, "i16": I16,
		"u24": U24, "i24": I24, "u32": U32, "i32": I32,
		"uint8": U8, "int8": I8, "uint16": U16, "int16": I16,
		"uint24": U24, "int24": I24, "uint32": U32, "int32": I32,
		"char": U8, "byte": U8, "int": I16, "uint": U16, "long": I32, "ulong": U32,
	}
)

func refSize(prog bool) int {
	if prog {
		return 3
	}
	return 2
}

// ArrayOf builds an array of n elements.
func ArrayOf(elem Type, n int, prog bool) Type {
	e := elem
	return Type{Size: elem.Size * n, Kind: KindArray, Count: n, Elem: &e, Prog: prog}
}

// RefTo builds a reference to a single element.
func RefTo(elem Type, prog bool) Type {
	e := elem
	return Type{Size: refSize(prog), Kind: KindRef, Elem: &e, Prog: prog}
}

// ArrayRefOf builds a reference to an array of the given shape.
func ArrayRefOf(arr Type) Type {
	e := *arr.Elem
	return Type{Size: refSize(arr.Prog), Kind: KindArrayRef, Count: arr.Count, Elem: &e, Prog: arr.Prog}
}

func (t Type) IsVoid() bool { return t.Kind == KindPrim && t.Size == 0 }

// IsPrim reports whether t is a non-void primitive.
func (t Type) IsPrim() bool { return t.Kind == KindPrim && t.Size > 0 }

func (t Type) IsArray() bool { return t.Kind == KindArray || t.Kind == KindArrayRef }

func (t Type) WithoutBool() Type {
	t.Bool = false
	return t
}

// Equal compares structurally.
func (t Type) Equal(u Type) bool {
	if t.Size != u.Size || t.Signed != u.Signed || t.Bool != u.Bool ||
		t.Kind != u.Kind || t.Count != u.Count || t.Prog != u.Prog {
		return false
	}
	if (t.Elem == nil) != (u.Elem == nil) {
		return false
	}
	return t.Elem == nil || t.Elem.Equal(*u.Elem)
}

func (t Type) String() string {
	var sb strings.Builder
	if t.Prog {
		sb.WriteString("prog ")
	}
	switch t.Kind {
	case KindArray:
		fmt.Fprintf(&sb, "%s[%d]", t.Elem.String(), t.Count)
	case KindArrayRef:
		fmt.Fprintf(&sb, "%s[%d]&", t.Elem.String(), t.Count)
	case KindRef:
		fmt.Fprintf(&sb, "%s&", t.Elem.String())
	default:
		switch {
		case t.Size == 0:
			sb.WriteString("void")
		case t.Bool:
			sb.WriteString("bool")
		case t.Signed:
			fmt.Fprintf(&sb, "i%d", t.Size*8)
		default:
			fmt.Fprintf(&sb, "u%d", t.Size*8)
		}
	}
	return sb.String()
}

// ParseType reads the textual type syntax used by the AST decoder:
//
//	u8  i16  bool  void
//	u8[4]        array of four bytes
//	u8[4]&       reference to such an array
//	prog u8[4]   read-only array in program data
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	prog := false
	if rest, ok := strings.CutPrefix(s, "prog "); ok {
		prog = true
		s = strings.TrimSpace(rest)
	}
	ref := false
	if rest, ok := strings.CutSuffix(s, "&"); ok {
		ref = true
		s = strings.TrimSpace(rest)
	}
	var dims []int
	for strings.HasSuffix(s, "]") {
		open := strings.LastIndexByte(s, '[')
		if open < 0 {
			return Void, fmt.Errorf("bad type %q", s)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s[open+1 : len(s)-1]))
		if err != nil || n <= 0 {
			return Void, fmt.Errorf("bad array length in type %q", s)
		}
		dims = append(dims, n)
		s = strings.TrimSpace(s[:open])
	}
	t, ok := primMap[s]
	if !ok {
		return Void, fmt.Errorf("unknown type %q", s)
	}
	// dims were collected outermost last; build innermost first
	for i := 0; i < len(dims); i++ {
		if t.IsVoid() {
			return Void, fmt.Errorf("array of void")
		}
		t = ArrayOf(t, dims[i], prog)
	}
	if prog && t.Kind != KindArray {
		return Void, fmt.Errorf("prog applies to arrays only")
	}
	if ref {
		if t.Kind != KindArray {
			return Void, fmt.Errorf("only arrays can be passed by reference")
		}
		t = ArrayRefOf(t)
	}
	return t, nil
}

// promote applies the implicit conversion of a against b and returns the
// type a is converted to.
func promote(a, b Type) Type {
	if a.Equal(b) {
		return a
	}
	if a.Signed == b.Signed {
		if a.Size < b.Size {
			return b
		}
		return a
	}
	if a.Signed {
		// the signed side only wins when strictly wider
		if a.Size <= b.Size {
			return b
		}
		return a
	}
	if b.Size > a.Size {
		return b
	}
	return a
}

// commonType returns the types both operands of a binary operator are
// converted to. The bool flag is stripped first.
func commonType(a, b Type) (Type, Type) {
	a, b = a.WithoutBool(), b.WithoutBool()
	return promote(a, b), promote(b, a)
}

// truncate reduces v to the width and signedness of t.
func truncate(v int64, t Type) int64 {
	bits := uint(t.Size * 8)
	if bits == 0 || bits >= 64 {
		return v
	}
	v &= 1<<bits - 1
	if t.Signed && v&(1<<(bits-1)) != 0 {
		v -= 1 << bits
	}
	return v
}

// literalType picks the narrowest type holding v.
func literalType(v int64) Type {
	switch {
	case v >= 0 && v <= 0xFF:
		return U8
	case v >= -0x80 && v < 0:
		return I8
	case v >= 0 && v <= 0xFFFF:
		return U16
	case v >= -0x8000 && v < 0:
		return I16
	case v >= 0 && v <= 0xFFFFFF:
		return U24
	case v >= -0x800000 && v < 0:
		return I24
	case v >= 0:
		return U32
	}
	return I32
}
