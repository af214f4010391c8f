package vm

import (
	"encoding/binary"
	"fmt"
)

const (
	StackSize  = 256
	GlobalSize = 1024
	CallDepth  = 32

	// ReservedLow is the size of the header region (signature and entry
	// stub). Program data starts here.
	ReservedLow = 256

	// Data references address the stack and the globals through one space.
	StackBase  = 0x100
	GlobalBase = 0x200
)

// Signature prefixes every program image.
var Signature = [4]byte{0xAB, 0xC0, 0x0A, 0xBC}

// Instr is a decoded instruction.
type Instr struct {
	Op Opcode
	A  uint32
	B  uint32
}

func (in Instr) String() string {
	info := Info(in.Op)
	switch {
	case info.Args[1] != 0:
		return fmt.Sprintf("%s %d, %d", info.Name, in.A, in.B)
	case info.Args[0] != 0:
		return fmt.Sprintf("%s %d", info.Name, in.A)
	}
	return info.Name
}

// Decode reads the instruction at pc.
func Decode(prog []byte, pc uint32) (Instr, error) {
	if int(pc) >= len(prog) {
		return Instr{}, fmt.Errorf("decode: pc 0x%06X past end of program", pc)
	}
	op := Opcode(prog[pc])
	if op >= NumOps {
		return Instr{}, fmt.Errorf("decode: illegal opcode 0x%02X at 0x%06X", prog[pc], pc)
	}
	info := opTable[op]
	if int(pc)+info.Len() > len(prog) {
		return Instr{}, fmt.Errorf("decode: %s at 0x%06X is truncated", info.Name, pc)
	}
	in := Instr{Op: op}
	p := pc + 1
	in.A = readLE(prog[p:], int(info.Args[0]))
	p += uint32(info.Args[0])
	in.B = readLE(prog[p:], int(info.Args[1]))
	return in, nil
}

func readLE(b []byte, n int) uint32 {
	var v uint32
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// Machine is the reference interpreter of the stack machine.
type Machine struct {
	Stack   [StackSize]byte
	SP      int
	Globals [GlobalSize]byte
	Calls   [CallDepth]uint32
	CSP     int
	PC      uint32

	// Prog is the read-only instruction and data store.
	Prog []byte

	Err    Error
	Halted bool
	// Waiting is set while next_frame has no frame to hand out.
	Waiting bool
	Steps   uint64

	FrameRate uint8
	Screen    *Framebuffer
	Host      Host
}

func NewMachine() *Machine {
	return &Machine{
		Screen:    NewFramebuffer(),
		Host:      NullHost{},
		FrameRate: 60,
	}
}

// Load installs prog and resets the machine. A bad signature leaves the
// machine halted with ErrSig.
func (m *Machine) Load(prog []byte) error {
	m.Reset()
	m.Prog = prog
	if len(prog) < len(Signature) || binary.BigEndian.Uint32(prog) != binary.BigEndian.Uint32(Signature[:]) {
		m.fault(ErrSig)
		return ErrSig
	}
	m.PC = uint32(len(Signature))
	return nil
}

func (m *Machine) Reset() {
	m.Stack = [StackSize]byte{}
	m.Globals = [GlobalSize]byte{}
	m.Calls = [CallDepth]uint32{}
	m.SP, m.CSP, m.PC = 0, 0, 0
	m.Err, m.Halted, m.Waiting, m.Steps = ErrNone, false, false, 0
	m.FrameRate = 60
	if m.Screen == nil {
		m.Screen = NewFramebuffer()
	}
	m.Screen.Clear()
	if m.Host == nil {
		m.Host = NullHost{}
	}
}

func (m *Machine) fault(e Error) {
	if m.Err == ErrNone {
		m.Err = e
	}
	m.Halted = true
}

func (m *Machine) push(b byte) {
	if m.SP >= StackSize {
		m.fault(ErrDst)
		return
	}
	m.Stack[m.SP] = b
	m.SP++
}

func (m *Machine) pop() byte {
	if m.SP <= 0 {
		m.fault(ErrDst)
		return 0
	}
	m.SP--
	return m.Stack[m.SP]
}

// pushN pushes the low n bytes of v, least significant first.
func (m *Machine) pushN(v uint32, n int) {
	for i := 0; i < n; i++ {
		m.push(byte(v >> (8 * i)))
	}
}

// popN pops an n-byte little-endian value.
func (m *Machine) popN(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<8 | uint32(m.pop())
	}
	return v
}

// local returns the stack index off bytes below the stack pointer.
func (m *Machine) local(off uint32) (int, bool) {
	idx := m.SP - int(off)
	if idx < 0 || idx >= StackSize {
		m.fault(ErrDst)
		return 0, false
	}
	return idx, true
}

// dataPtr resolves a data reference into a byte of stack or global memory.
func (m *Machine) dataPtr(ref uint32) *byte {
	switch {
	case ref >= StackBase && ref < StackBase+StackSize:
		return &m.Stack[ref-StackBase]
	case ref >= GlobalBase && ref < GlobalBase+GlobalSize:
		return &m.Globals[ref-GlobalBase]
	}
	m.fault(ErrIdx)
	return nil
}

func (m *Machine) progByte(addr uint32) byte {
	if int(addr) >= len(m.Prog) {
		m.fault(ErrIdx)
		return 0
	}
	return m.Prog[addr]
}

func (m *Machine) getLocal(off uint32, n int) {
	for i := 0; i < n && !m.Halted; i++ {
		idx, ok := m.local(off)
		if !ok {
			return
		}
		m.push(m.Stack[idx])
	}
}

// setLocal stores the top n bytes to the location off bytes below the
// stack pointer as it is after the value has been popped.
func (m *Machine) setLocal(off uint32, n int) {
	if m.SP < n {
		m.fault(ErrDst)
		return
	}
	dst := m.SP - n - int(off)
	if dst < 0 {
		m.fault(ErrDst)
		return
	}
	copy(m.Stack[dst:dst+n], m.Stack[m.SP-n:m.SP])
	m.SP -= n
}

func (m *Machine) getGlobal(addr uint32, n int) {
	if int(addr)+n > GlobalSize {
		m.fault(ErrIdx)
		return
	}
	for i := 0; i < n; i++ {
		m.push(m.Globals[int(addr)+i])
	}
}

func (m *Machine) setGlobal(addr uint32, n int) {
	if int(addr)+n > GlobalSize {
		m.fault(ErrIdx)
		return
	}
	if m.SP < n {
		m.fault(ErrDst)
		return
	}
	copy(m.Globals[addr:int(addr)+n], m.Stack[m.SP-n:m.SP])
	m.SP -= n
}

func (m *Machine) getRef(n int) {
	ref := m.popN(2)
	var buf [256]byte
	for i := 0; i < n; i++ {
		p := m.dataPtr(ref + uint32(i))
		if p == nil {
			return
		}
		buf[i] = *p
	}
	for i := 0; i < n; i++ {
		m.push(buf[i])
	}
}

func (m *Machine) setRef(n int) {
	ref := m.popN(2)
	if m.SP < n {
		m.fault(ErrDst)
		return
	}
	for i := 0; i < n; i++ {
		p := m.dataPtr(ref + uint32(i))
		if p == nil {
			return
		}
		*p = m.Stack[m.SP-n+i]
	}
	m.SP -= n
}

func (m *Machine) getProg(n int) {
	addr := m.popN(3)
	for i := 0; i < n && !m.Halted; i++ {
		m.push(m.progByte(addr + uint32(i)))
	}
}

func (m *Machine) index(refBytes, idxBytes int, elem, count uint32) {
	idx := m.popN(idxBytes)
	ref := m.popN(refBytes)
	if idx >= count {
		m.fault(ErrIdx)
		return
	}
	m.pushN(ref+idx*elem, refBytes)
}

func (m *Machine) call(target uint32) {
	if m.CSP >= CallDepth {
		m.fault(ErrCst)
		return
	}
	m.Calls[m.CSP] = m.PC
	m.CSP++
	m.PC = target
}

// Step executes a single instruction.
func (m *Machine) Step() {
	if m.Halted || m.Waiting {
		return
	}
	in, err := Decode(m.Prog, m.PC)
	if err != nil {
		m.fault(ErrOp)
		return
	}
	m.PC += uint32(opTable[in.Op].Len())
	m.Steps++
	m.Execute(in)
}

// Run steps until the machine halts, waits for a frame, or maxSteps
// instructions have run. maxSteps <= 0 means no limit.
func (m *Machine) Run(maxSteps int) error {
	for n := 0; !m.Halted && !m.Waiting; n++ {
		if maxSteps > 0 && n >= maxSteps {
			return fmt.Errorf("vm: step limit %d reached at pc 0x%06X", maxSteps, m.PC)
		}
		m.Step()
	}
	if m.Err != ErrNone {
		return m.Err
	}
	return nil
}

// Execute applies one decoded instruction to the machine state.
func (m *Machine) Execute(in Instr) {
	op := in.Op
	switch {
	case op >= OpP0 && op <= OpPZ16:
		v, n, _ := PushValue(op)
		for i := 0; i < n; i++ {
			m.push(v)
		}
		return
	case op >= OpDUP && op <= OpDUP8:
		m.getLocal(uint32(op-OpDUP)+1, 1)
		return
	case op >= OpDUPW && op <= OpDUPW8:
		m.getLocal(uint32(op-OpDUPW)+2, 2)
		return
	case op >= OpBOOL && op <= OpBOOL4:
		v := m.popN(op.Width())
		m.push(boolByte(v != 0))
		return
	case op.IsBinary():
		w := op.Width()
		b := m.popN(w)
		a := m.popN(w)
		r, e := EvalBinary(op, a, b)
		if e != ErrNone {
			m.fault(e)
			return
		}
		if op.IsCompare() {
			m.push(byte(r))
		} else {
			m.pushN(r, w)
		}
		return
	}

	switch op {
	case OpNOP:
	case OpHALT:
		m.Halted = true

	case OpPUSH:
		m.push(byte(in.A))
	case OpPUSH2:
		m.pushN(in.A, 2)
	case OpPUSH3:
		m.pushN(in.A, 3)
	case OpPUSH4:
		m.pushN(in.A, 4)

	case OpGETL:
		m.getLocal(in.A, 1)
	case OpGETL2:
		m.getLocal(in.A, 2)
	case OpGETL4:
		m.getLocal(in.A, 4)
	case OpGETLN:
		m.getLocal(in.A, int(m.pop()))
	case OpSETL:
		m.setLocal(in.A, 1)
	case OpSETL2:
		m.setLocal(in.A, 2)
	case OpSETL4:
		m.setLocal(in.A, 4)
	case OpSETLN:
		m.setLocal(in.A, int(m.pop()))
	case OpGETG:
		m.getGlobal(in.A, 1)
	case OpGETG2:
		m.getGlobal(in.A, 2)
	case OpGETG4:
		m.getGlobal(in.A, 4)
	case OpGETGN:
		m.getGlobal(in.A, int(m.pop()))
	case OpSETG:
		m.setGlobal(in.A, 1)
	case OpSETG2:
		m.setGlobal(in.A, 2)
	case OpSETG4:
		m.setGlobal(in.A, 4)
	case OpSETGN:
		m.setGlobal(in.A, int(m.pop()))
	case OpGETP:
		m.getProg(1)
	case OpGETPN:
		m.getProg(int(in.A))
	case OpGETR:
		m.getRef(1)
	case OpGETR2:
		m.getRef(2)
	case OpGETRN:
		m.getRef(int(in.A))
	case OpSETR:
		m.setRef(1)
	case OpSETR2:
		m.setRef(2)
	case OpSETRN:
		m.setRef(int(in.A))

	case OpREFL:
		m.pushN(uint32(StackBase+m.SP)-in.A, 2)
	case OpREFG:
		m.pushN(GlobalBase+in.A, 2)
	case OpPUSHL:
		m.pushN(in.A, 3)
	case OpAIDX:
		m.index(2, 2, in.A, in.B)
	case OpAIDXB:
		m.index(2, 1, in.A, in.B)
	case OpAIXB1:
		m.index(2, 1, 1, in.A)
	case OpPIDX:
		m.index(3, 2, in.A, in.B)
	case OpPIDXB:
		m.index(3, 1, in.A, in.B)

	case OpPOP, OpPOP2, OpPOP3, OpPOP4, OpPOPN:
		n := int(op-OpPOP) + 1
		if op == OpPOPN {
			n = int(in.A)
		}
		if m.SP < n {
			m.fault(ErrDst)
			return
		}
		m.SP -= n

	case OpSEXT, OpSEXT2, OpSEXT3:
		if m.SP == 0 {
			m.fault(ErrDst)
			return
		}
		var ext byte
		if m.Stack[m.SP-1]&0x80 != 0 {
			ext = 0xFF
		}
		for i := 0; i <= int(op-OpSEXT); i++ {
			m.push(ext)
		}
	case OpNOT:
		m.push(boolByte(m.pop() == 0))
	case OpINC:
		m.push(m.pop() + 1)
	case OpDEC:
		m.push(m.pop() - 1)
	case OpLINC:
		if idx, ok := m.local(in.A); ok {
			m.Stack[idx]++
		}

	case OpADD2B, OpSUB2B, OpMUL2B:
		b := uint32(m.pop())
		a := m.popN(2)
		wide := OpADD2
		switch op {
		case OpSUB2B:
			wide = OpSUB2
		case OpMUL2B:
			wide = OpMUL2
		}
		r, _ := EvalBinary(wide, a, b)
		m.pushN(r, 2)
	case OpADD3B:
		b := uint32(m.pop())
		a := m.popN(3)
		m.pushN(a+b, 3)

	case OpBZ:
		if m.pop() == 0 {
			m.PC = in.A
		}
	case OpBNZ:
		if m.pop() != 0 {
			m.PC = in.A
		}
	case OpBZP, OpBNZP:
		if m.SP == 0 {
			m.fault(ErrDst)
			return
		}
		if (m.Stack[m.SP-1] == 0) == (op == OpBZP) {
			m.PC = in.A
		} else {
			m.SP--
		}
	case OpJMP:
		m.PC = in.A
	case OpCALL:
		m.call(in.A)
	case OpRET:
		if m.CSP <= 0 {
			m.fault(ErrCst)
			return
		}
		m.CSP--
		m.PC = m.Calls[m.CSP]
	case OpSYS:
		m.syscall(in.A)

	default:
		m.fault(ErrOp)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func signExtend(v uint32, w int) int32 {
	shift := uint(32 - 8*w)
	return int32(v<<shift) >> shift
}

func mask(w int) uint32 {
	if w >= 4 {
		return 0xFFFFFFFF
	}
	return 1<<(8*uint(w)) - 1
}

// EvalBinary computes a sized binary operation on operands already
// truncated to the operand width. Compares yield 0 or 1.
func EvalBinary(op Opcode, a, b uint32) (uint32, Error) {
	w := op.Width()
	a &= mask(w)
	b &= mask(w)
	var r uint32
	switch op.Family() {
	case OpADD:
		r = a + b
	case OpSUB:
		r = a - b
	case OpMUL:
		r = a * b
	case OpUDIV:
		if b == 0 {
			return 0, ErrDiv
		}
		r = a / b
	case OpUMOD:
		if b == 0 {
			return 0, ErrDiv
		}
		r = a % b
	case OpDIV:
		if b == 0 {
			return 0, ErrDiv
		}
		sa, sb := signExtend(a, w), signExtend(b, w)
		if sb == -1 {
			r = uint32(-sa)
		} else {
			r = uint32(sa / sb)
		}
	case OpMOD:
		if b == 0 {
			return 0, ErrDiv
		}
		sa, sb := signExtend(a, w), signExtend(b, w)
		if sb == -1 {
			r = 0
		} else {
			r = uint32(sa % sb)
		}
	case OpAND:
		r = a & b
	case OpOR:
		r = a | b
	case OpXOR:
		r = a ^ b
	case OpLSL:
		if b >= 32 {
			r = 0
		} else {
			r = a << b
		}
	case OpLSR:
		if b >= 32 {
			r = 0
		} else {
			r = a >> b
		}
	case OpASR:
		if b >= 32 {
			b = 31
		}
		r = uint32(signExtend(a, w) >> b)
	case OpCULT:
		return uint32(boolByte(a < b)), ErrNone
	case OpCULE:
		return uint32(boolByte(a <= b)), ErrNone
	case OpCSLT:
		return uint32(boolByte(signExtend(a, w) < signExtend(b, w))), ErrNone
	case OpCSLE:
		return uint32(boolByte(signExtend(a, w) <= signExtend(b, w))), ErrNone
	default:
		return 0, ErrOp
	}
	return r & mask(w), ErrNone
}
