// Package asm assembles the text listing produced by the compiler into a
// program image for the stack machine.
package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// MaxProgram is the size of the program address space; code addresses
// are three bytes wide.
const MaxProgram = 1 << 24

type Assembler struct {
	symbols map[string]uint32
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

func NewAssembler() *Assembler {
	return &Assembler{
		symbols: make(map[string]uint32),
	}
}

// Assemble translates code and returns the image and a map from program
// address to source line.
func Assemble(code string) ([]byte, map[uint32]int, error) {
	return NewAssembler().Assemble(code)
}

func (a *Assembler) Assemble(code string) ([]byte, map[uint32]int, error) {
	lines := strings.Split(code, "\n")
	parsed := make([]parsedLine, len(lines))
	for i, raw := range lines {
		p, err := parseLine(raw, i+1)
		if err != nil {
			return nil, nil, err
		}
		parsed[i] = p
	}

	if err := a.pass1(parsed); err != nil {
		return nil, nil, err
	}
	return a.pass2(parsed)
}

func (a *Assembler) define(name string, v uint32, lineNo int) error {
	if _, exists := a.symbols[name]; exists {
		return fmt.Errorf("duplicate symbol '%s' on line %d", name, lineNo)
	}
	a.symbols[name] = v
	return nil
}

// pass1 assigns addresses to labels and values to .EQU symbols.
func (a *Assembler) pass1(lines []parsedLine) error {
	var address uint32

	for _, p := range lines {
		for _, lbl := range p.labels {
			if err := a.define(lbl, address, p.lineNo); err != nil {
				return err
			}
		}
		if p.mnemonic == "" {
			continue
		}

		var length uint32
		switch p.mnemonic {
		case ".EQU":
			if len(p.operands) != 2 || !isIdentifier(p.operands[0]) {
				return fmt.Errorf(".EQU expects a name and a value on line %d", p.lineNo)
			}
			v, err := strconv.ParseUint(p.operands[1], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid .EQU value on line %d: %s", p.lineNo, p.operands[1])
			}
			if err := a.define(p.operands[0], uint32(v), p.lineNo); err != nil {
				return err
			}
			continue
		case ".SIG":
			length = uint32(len(vm.Signature))
		case ".ORG":
			if len(p.operands) != 1 {
				return fmt.Errorf(".ORG expects exactly one operand on line %d", p.lineNo)
			}
			target, err := strconv.ParseUint(p.operands[0], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid .ORG value on line %d: %s", p.lineNo, p.operands[0])
			}
			if uint32(target) < address {
				return fmt.Errorf("cannot move origin backward on line %d", p.lineNo)
			}
			address = uint32(target)
		case ".BYTE":
			length = uint32(len(p.operands))
		case ".ADDR":
			length = 3 * uint32(len(p.operands))
		default:
			op, ok := vm.Lookup(p.mnemonic)
			if !ok {
				return fmt.Errorf("unknown instruction on line %d: %s", p.lineNo, p.mnemonic)
			}
			length = uint32(vm.Info(op).Len())
		}

		if address+length > MaxProgram {
			return fmt.Errorf("program too large near line %d", p.lineNo)
		}
		address += length
	}

	return nil
}

func (a *Assembler) pass2(lines []parsedLine) ([]byte, map[uint32]int, error) {
	program := make([]byte, 0)
	sourceMap := make(map[uint32]int)

	for _, p := range lines {
		if p.mnemonic == "" || p.mnemonic == ".EQU" {
			continue
		}
		lineNo := p.lineNo
		ops := p.operands

		switch p.mnemonic {
		case ".SIG":
			if len(ops) != 0 {
				return nil, nil, fmt.Errorf(".SIG takes no operands on line %d", lineNo)
			}
			program = append(program, vm.Signature[:]...)
			continue
		case ".ORG":
			target, _ := strconv.ParseUint(ops[0], 0, 32)
			if padding := int(target) - len(program); padding > 0 {
				program = append(program, make([]byte, padding)...)
			}
			continue
		case ".BYTE":
			sourceMap[uint32(len(program))] = lineNo
			for _, tok := range ops {
				v, err := a.parseImmediate(tok, 1, lineNo)
				if err != nil {
					return nil, nil, err
				}
				program = append(program, byte(v))
			}
			continue
		case ".ADDR":
			sourceMap[uint32(len(program))] = lineNo
			for _, tok := range ops {
				v, err := a.parseImmediate(tok, 3, lineNo)
				if err != nil {
					return nil, nil, err
				}
				program = appendLE(program, v, 3)
			}
			continue
		}

		op, _ := vm.Lookup(p.mnemonic)
		info := vm.Info(op)
		want := 0
		for _, w := range info.Args {
			if w != 0 {
				want++
			}
		}
		if len(ops) != want {
			return nil, nil, fmt.Errorf("%s expects %d operands on line %d", info.Name, want, lineNo)
		}

		sourceMap[uint32(len(program))] = lineNo
		program = append(program, byte(op))
		for i := 0; i < want; i++ {
			w := int(info.Args[i])
			v, err := a.parseImmediate(ops[i], w, lineNo)
			if err != nil {
				return nil, nil, err
			}
			program = appendLE(program, v, w)
		}
	}

	return program, sourceMap, nil
}

func appendLE(b []byte, v uint32, n int) []byte {
	for i := 0; i < n; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}
		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t") {
			break
		}
		if !isIdentifier(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}
		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	p.mnemonic = strings.ToUpper(fields[0])
	if len(fields) > 1 {
		p.operands = fields[1:]
	}
	return p, nil
}

func stripComments(line string) string {
	if semicolon := strings.IndexByte(line, ';'); semicolon >= 0 {
		return line[:semicolon]
	}
	return line
}

// parseImmediate resolves a number or a symbol with an optional +offset,
// checking that it fits in width bytes.
func (a *Assembler) parseImmediate(token string, width, lineNo int) (uint32, error) {
	value, err := a.resolve(token, lineNo)
	if err != nil {
		return 0, err
	}
	if width < 4 && value >= 1<<(8*width) {
		return 0, fmt.Errorf("operand out of range on line %d: %s", lineNo, token)
	}
	return value, nil
}

func (a *Assembler) resolve(token string, lineNo int) (uint32, error) {
	if value, err := strconv.ParseUint(token, 0, 32); err == nil {
		return uint32(value), nil
	}

	name, offset := token, uint64(0)
	if plus := strings.IndexByte(token, '+'); plus > 0 {
		off, err := strconv.ParseUint(token[plus+1:], 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid offset '%s' on line %d", token, lineNo)
		}
		name, offset = token[:plus], off
	}

	if v, ok := a.symbols[name]; ok {
		return v + uint32(offset), nil
	}
	if isIdentifier(name) {
		return 0, fmt.Errorf("undefined symbol '%s' on line %d", name, lineNo)
	}
	return 0, fmt.Errorf("invalid immediate '%s' on line %d", token, lineNo)
}

// isIdentifier accepts the compiler's generated names, which may start
// with '$'.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '$' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '$' {
			return false
		}
	}
	return true
}
