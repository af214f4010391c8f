package vm

import "fmt"

// Opcode is the first byte of every encoded instruction.
type Opcode uint8

const (
	OpNOP Opcode = iota
	OpHALT

	OpPUSH
	OpP0
	OpP1
	OpP2
	OpP3
	OpP4
	OpP5
	OpP6
	OpP7
	OpP8
	OpP16
	OpP32
	OpP64
	OpP128
	OpP00
	OpP000
	OpP0000
	OpPZ8
	OpPZ16
	OpPUSH2
	OpPUSH3
	OpPUSH4

	OpDUP
	OpDUP2
	OpDUP3
	OpDUP4
	OpDUP5
	OpDUP6
	OpDUP7
	OpDUP8
	OpDUPW
	OpDUPW2
	OpDUPW3
	OpDUPW4
	OpDUPW5
	OpDUPW6
	OpDUPW7
	OpDUPW8

	OpGETL
	OpGETL2
	OpGETL4
	OpGETLN
	OpSETL
	OpSETL2
	OpSETL4
	OpSETLN
	OpGETG
	OpGETG2
	OpGETG4
	OpGETGN
	OpSETG
	OpSETG2
	OpSETG4
	OpSETGN
	OpGETP
	OpGETPN
	OpGETR
	OpGETR2
	OpGETRN
	OpSETR
	OpSETR2
	OpSETRN

	OpREFL
	OpREFG
	OpPUSHL
	OpAIDX
	OpAIDXB
	OpAIXB1
	OpPIDX
	OpPIDXB

	OpPOP
	OpPOP2
	OpPOP3
	OpPOP4
	OpPOPN

	OpSEXT
	OpSEXT2
	OpSEXT3
	OpBOOL
	OpBOOL2
	OpBOOL3
	OpBOOL4
	OpNOT
	OpINC
	OpDEC
	OpLINC

	OpADD
	OpADD2
	OpADD3
	OpADD4
	OpSUB
	OpSUB2
	OpSUB3
	OpSUB4
	OpMUL
	OpMUL2
	OpMUL3
	OpMUL4
	OpUDIV
	OpUDIV2
	OpUDIV3
	OpUDIV4
	OpDIV
	OpDIV2
	OpDIV3
	OpDIV4
	OpUMOD
	OpUMOD2
	OpUMOD3
	OpUMOD4
	OpMOD
	OpMOD2
	OpMOD3
	OpMOD4
	OpAND
	OpAND2
	OpAND3
	OpAND4
	OpOR
	OpOR2
	OpOR3
	OpOR4
	OpXOR
	OpXOR2
	OpXOR3
	OpXOR4
	OpLSL
	OpLSL2
	OpLSL3
	OpLSL4
	OpLSR
	OpLSR2
	OpLSR3
	OpLSR4
	OpASR
	OpASR2
	OpASR3
	OpASR4
	OpCULT
	OpCULT2
	OpCULT3
	OpCULT4
	OpCSLT
	OpCSLT2
	OpCSLT3
	OpCSLT4
	OpCULE
	OpCULE2
	OpCULE3
	OpCULE4
	OpCSLE
	OpCSLE2
	OpCSLE3
	OpCSLE4
	OpADD2B
	OpADD3B
	OpSUB2B
	OpMUL2B

	OpBZ
	OpBNZ
	OpBZP
	OpBNZP
	OpJMP
	OpCALL
	OpRET
	OpSYS

	NumOps
)

// OpInfo describes the encoding of one opcode. Args holds the byte width of
// each immediate operand; a zero width means the operand is absent.
type OpInfo struct {
	Name string
	Args [2]uint8
	// Target is set for opcodes whose first operand is a code address.
	Target bool
}

// Len is the encoded size in bytes, opcode included.
func (i OpInfo) Len() int { return 1 + int(i.Args[0]) + int(i.Args[1]) }

var (
	opTable  [NumOps]OpInfo
	opByName = make(map[string]Opcode)
)

func def(op Opcode, name string, args ...uint8) {
	info := OpInfo{Name: name}
	copy(info.Args[:], args)
	opTable[op] = info
	opByName[name] = op
}

// sized returns the family member of base for an operand width of 1 to 4 bytes.
func sized(name string, w int) string {
	if w == 1 {
		return name
	}
	return fmt.Sprintf("%s%d", name, w)
}

func init() {
	def(OpNOP, "NOP")
	def(OpHALT, "HALT")

	def(OpPUSH, "PUSH", 1)
	for i, v := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 16, 32, 64, 128} {
		def(OpP0+Opcode(i), fmt.Sprintf("P%d", v))
	}
	def(OpP00, "P00")
	def(OpP000, "P000")
	def(OpP0000, "P0000")
	def(OpPZ8, "PZ8")
	def(OpPZ16, "PZ16")
	def(OpPUSH2, "PUSH2", 2)
	def(OpPUSH3, "PUSH3", 3)
	def(OpPUSH4, "PUSH4", 4)

	for n := 1; n <= 8; n++ {
		def(OpDUP+Opcode(n-1), sized("DUP", n))
		def(OpDUPW+Opcode(n-1), sized("DUPW", n))
	}

	def(OpGETL, "GETL", 1)
	def(OpGETL2, "GETL2", 1)
	def(OpGETL4, "GETL4", 1)
	def(OpGETLN, "GETLN", 1)
	def(OpSETL, "SETL", 1)
	def(OpSETL2, "SETL2", 1)
	def(OpSETL4, "SETL4", 1)
	def(OpSETLN, "SETLN", 1)
	def(OpGETG, "GETG", 2)
	def(OpGETG2, "GETG2", 2)
	def(OpGETG4, "GETG4", 2)
	def(OpGETGN, "GETGN", 2)
	def(OpSETG, "SETG", 2)
	def(OpSETG2, "SETG2", 2)
	def(OpSETG4, "SETG4", 2)
	def(OpSETGN, "SETGN", 2)
	def(OpGETP, "GETP")
	def(OpGETPN, "GETPN", 1)
	def(OpGETR, "GETR")
	def(OpGETR2, "GETR2")
	def(OpGETRN, "GETRN", 1)
	def(OpSETR, "SETR")
	def(OpSETR2, "SETR2")
	def(OpSETRN, "SETRN", 1)

	def(OpREFL, "REFL", 1)
	def(OpREFG, "REFG", 2)
	def(OpPUSHL, "PUSHL", 3)
	def(OpAIDX, "AIDX", 2, 2)
	def(OpAIDXB, "AIDXB", 1, 1)
	def(OpAIXB1, "AIXB1", 1)
	def(OpPIDX, "PIDX", 2, 2)
	def(OpPIDXB, "PIDXB", 1, 1)

	def(OpPOP, "POP")
	def(OpPOP2, "POP2")
	def(OpPOP3, "POP3")
	def(OpPOP4, "POP4")
	def(OpPOPN, "POPN", 1)

	def(OpSEXT, "SEXT")
	def(OpSEXT2, "SEXT2")
	def(OpSEXT3, "SEXT3")
	for w := 1; w <= 4; w++ {
		def(OpBOOL+Opcode(w-1), sized("BOOL", w))
	}
	def(OpNOT, "NOT")
	def(OpINC, "INC")
	def(OpDEC, "DEC")
	def(OpLINC, "LINC", 1)

	for _, fam := range []struct {
		base Opcode
		name string
	}{
		{OpADD, "ADD"}, {OpSUB, "SUB"}, {OpMUL, "MUL"},
		{OpUDIV, "UDIV"}, {OpDIV, "DIV"}, {OpUMOD, "UMOD"}, {OpMOD, "MOD"},
		{OpAND, "AND"}, {OpOR, "OR"}, {OpXOR, "XOR"},
		{OpLSL, "LSL"}, {OpLSR, "LSR"}, {OpASR, "ASR"},
		{OpCULT, "CULT"}, {OpCSLT, "CSLT"}, {OpCULE, "CULE"}, {OpCSLE, "CSLE"},
	} {
		for w := 1; w <= 4; w++ {
			def(fam.base+Opcode(w-1), sized(fam.name, w))
		}
	}
	def(OpADD2B, "ADD2B")
	def(OpADD3B, "ADD3B")
	def(OpSUB2B, "SUB2B")
	def(OpMUL2B, "MUL2B")

	def(OpBZ, "BZ", 3)
	def(OpBNZ, "BNZ", 3)
	def(OpBZP, "BZP", 3)
	def(OpBNZP, "BNZP", 3)
	def(OpJMP, "JMP", 3)
	def(OpCALL, "CALL", 3)
	for _, op := range []Opcode{OpBZ, OpBNZ, OpBZP, OpBNZP, OpJMP, OpCALL} {
		opTable[op].Target = true
	}
	def(OpRET, "RET")
	def(OpSYS, "SYS", 1)

	for op := Opcode(0); op < NumOps; op++ {
		if opTable[op].Name == "" {
			panic(fmt.Sprintf("vm: opcode %d has no table entry", op))
		}
	}
}

// Info returns the encoding description of op.
func Info(op Opcode) OpInfo {
	if op >= NumOps {
		return OpInfo{Name: fmt.Sprintf("?%02X", uint8(op))}
	}
	return opTable[op]
}

// Lookup finds an opcode by mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := opByName[name]
	return op, ok
}

func (op Opcode) String() string { return Info(op).Name }

// Width returns the operand width of a sized arithmetic, compare or BOOL
// opcode, and 0 for anything else.
func (op Opcode) Width() int {
	switch {
	case op >= OpBOOL && op <= OpBOOL4:
		return int(op-OpBOOL) + 1
	case op >= OpADD && op <= OpCSLE4:
		return int(op-OpADD)%4 + 1
	}
	return 0
}

// Family returns the 1-byte member of a sized opcode family, or op itself.
func (op Opcode) Family() Opcode {
	switch {
	case op >= OpBOOL && op <= OpBOOL4:
		return OpBOOL
	case op >= OpADD && op <= OpCSLE4:
		return op - Opcode(int(op-OpADD)%4)
	}
	return op
}

// Sized returns the width-w member of the family of op.
func (op Opcode) Sized(w int) Opcode {
	if w < 1 || w > 4 {
		panic(fmt.Sprintf("vm: bad operand width %d for %s", w, op))
	}
	return op.Family() + Opcode(w-1)
}

// IsCompare reports whether op is an ordered comparison.
func (op Opcode) IsCompare() bool {
	return op >= OpCULT && op <= OpCSLE4
}

// IsBinary reports whether op pops two equal-width operands.
func (op Opcode) IsBinary() bool {
	return op >= OpADD && op <= OpCSLE4
}

// IsBranch reports whether op transfers control to its operand.
func (op Opcode) IsBranch() bool {
	return opTable[op].Target
}

// PushValue reports the constant pushed by a P-form push and how many bytes
// of it are pushed. PZ forms push zeros.
func PushValue(op Opcode) (v byte, n int, ok bool) {
	switch {
	case op >= OpP0 && op <= OpP8:
		return byte(op - OpP0), 1, true
	case op == OpP16:
		return 16, 1, true
	case op == OpP32:
		return 32, 1, true
	case op == OpP64:
		return 64, 1, true
	case op == OpP128:
		return 128, 1, true
	case op == OpP00:
		return 0, 2, true
	case op == OpP000:
		return 0, 3, true
	case op == OpP0000:
		return 0, 4, true
	case op == OpPZ8:
		return 0, 8, true
	case op == OpPZ16:
		return 0, 16, true
	}
	return 0, 0, false
}
