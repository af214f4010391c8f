package vm

// Error is a halt code. ErrNone means the machine is healthy or stopped at
// HALT; every other code is fatal.
type Error uint8

const (
	ErrNone Error = iota
	ErrSig        // program signature mismatch
	ErrIdx        // index or address out of bounds
	ErrDiv        // division by zero
	ErrAss        // failed assertion
	ErrDst        // data stack overflow or underflow
	ErrCst        // call stack overflow or underflow
	ErrFrm        // bad sprite frame
	ErrStr        // overlapping string operands
	ErrOp         // illegal opcode or system call
)

var errNames = [...]string{
	ErrNone: "none",
	ErrSig:  "signature mismatch",
	ErrIdx:  "index out of bounds",
	ErrDiv:  "division by zero",
	ErrAss:  "assertion failed",
	ErrDst:  "data stack overflow",
	ErrCst:  "call stack overflow",
	ErrFrm:  "bad frame",
	ErrStr:  "overlapping string operands",
	ErrOp:   "illegal instruction",
}

func (e Error) Error() string {
	if int(e) < len(errNames) {
		return "vm: " + errNames[e]
	}
	return "vm: unknown error"
}
