package compiler

// Local is a variable bound in a Frame. Offset is the byte distance of its
// first byte from the frame base; the return slot has a negative offset.
type Local struct {
	Offset int
	Type   Type
	// Constexpr locals have no storage; reads push Value.
	Constexpr bool
	Value     int64
}

type scope struct {
	vars map[string]*Local
	// base is the frame size when the scope was entered.
	base int
	// bytes is the storage owned by the scope's locals.
	bytes int
}

// Frame models the runtime value stack of one function activation while
// its code is generated. Size is the number of bytes above the frame base
// at the current point of the instruction stream.
type Frame struct {
	Size    int
	RetSize int

	scopes  []*scope
	globals map[string]*Global
}

func newFrame(globals map[string]*Global) *Frame {
	fr := &Frame{globals: globals}
	fr.push()
	return fr
}

func (fr *Frame) push() {
	fr.scopes = append(fr.scopes, &scope{vars: make(map[string]*Local), base: fr.Size})
}

// pop leaves the innermost scope and returns the number of bytes its locals
// held. The caller emits the matching pops.
func (fr *Frame) pop() int {
	if len(fr.scopes) == 0 {
		internalError("frame: pop without scope")
	}
	s := fr.scopes[len(fr.scopes)-1]
	if fr.Size-s.base != s.bytes {
		internalError("frame: scope holds %d bytes, frame grew by %d", s.bytes, fr.Size-s.base)
	}
	fr.scopes = fr.scopes[:len(fr.scopes)-1]
	fr.Size = s.base
	return s.bytes
}

func (fr *Frame) top() *scope { return fr.scopes[len(fr.scopes)-1] }

// bind names the t.Size bytes on top of the frame. They must already be
// counted in Size.
func (fr *Frame) bind(name string, t Type, line int) (*Local, error) {
	s := fr.top()
	if _, dup := s.vars[name]; dup {
		return nil, errorf(line, "redeclaration of %q", name)
	}
	l := &Local{Offset: fr.Size - t.Size, Type: t}
	s.vars[name] = l
	s.bytes += t.Size
	return l, nil
}

// bindAt names storage outside the scope's own bytes: parameters and the
// return slot.
func (fr *Frame) bindAt(name string, t Type, off int) *Local {
	l := &Local{Offset: off, Type: t}
	fr.top().vars[name] = l
	return l
}

func (fr *Frame) bindConst(name string, t Type, v int64) *Local {
	l := &Local{Type: t, Constexpr: true, Value: truncate(v, t)}
	fr.top().vars[name] = l
	return l
}

// lookup resolves name innermost scope first, then among the globals.
func (fr *Frame) lookup(name string) (*Local, *Global) {
	for i := len(fr.scopes) - 1; i >= 0; i-- {
		if l, ok := fr.scopes[i].vars[name]; ok {
			return l, nil
		}
	}
	if g, ok := fr.globals[name]; ok {
		return nil, g
	}
	return nil, nil
}

func (fr *Frame) typeOf(name string) (Type, bool) {
	l, g := fr.lookup(name)
	switch {
	case l != nil:
		return l.Type, true
	case g != nil:
		return g.Type, true
	}
	return Void, false
}

// depth returns the distance from the stack pointer to byte off of the
// frame, the operand of local access instructions.
func (fr *Frame) depth(off int) int { return fr.Size - off }
