package asm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"abc", true},
		{"_abc", true},
		{"abc1", true},
		{"$globinit", true},
		{"$L_main_3", true},
		{"1abc", false},
		{"", false},
		{"ab-c", false},
	}
	for _, tc := range tests {
		if got := isIdentifier(tc.input); got != tc.want {
			t.Errorf("isIdentifier(%q) = %v; want %v", tc.input, got, tc.want)
		}
	}

	if got := stripComments("PUSH 1 ; note: here"); got != "PUSH 1 " {
		t.Errorf("stripComments = %q", got)
	}
}

func TestParseLine(t *testing.T) {
	p, err := parseLine("a: b:  AIDX 2, 10 ; x", 4)
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if len(p.labels) != 2 || p.labels[0] != "a" || p.labels[1] != "b" {
		t.Errorf("labels = %v", p.labels)
	}
	if p.mnemonic != "AIDX" || len(p.operands) != 2 || p.operands[1] != "10" {
		t.Errorf("got %q %v", p.mnemonic, p.operands)
	}

	if _, err := parseLine("1bad: NOP", 1); err == nil {
		t.Error("expected an invalid label error")
	}
}

func TestAssembleEncoding(t *testing.T) {
	code := `
.SIG
start:
	PUSH 7
	GETG 300
	AIDX 2, 10
	JMP start
	HALT
`
	bin, _, err := Assemble(code)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	want := append([]byte{}, vm.Signature[:]...)
	want = append(want,
		byte(vm.OpPUSH), 7,
		byte(vm.OpGETG), 0x2C, 0x01,
		byte(vm.OpAIDX), 2, 0, 10, 0,
		byte(vm.OpJMP), 4, 0, 0,
		byte(vm.OpHALT),
	)
	if !bytes.Equal(bin, want) {
		t.Errorf("got  % X\nwant % X", bin, want)
	}
}

func TestAssembleDirectives(t *testing.T) {
	code := `
.EQU counter, 12
.SIG
	GETG counter+1
	PUSHL table+2
.ORG 16
table:
	.BYTE 1, 2, 3
	.ADDR table+1
`
	bin, sourceMap, err := Assemble(code)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(bin) != 16+3+3 {
		t.Fatalf("image is %d bytes", len(bin))
	}
	if bin[4] != byte(vm.OpGETG) || bin[5] != 13 || bin[6] != 0 {
		t.Errorf("GETG encoded as % X", bin[4:7])
	}
	if bin[7] != byte(vm.OpPUSHL) || bin[8] != 18 {
		t.Errorf("PUSHL encoded as % X", bin[7:11])
	}
	if !bytes.Equal(bin[16:], []byte{1, 2, 3, 17, 0, 0}) {
		t.Errorf("data = % X", bin[16:])
	}
	if sourceMap[4] != 4 || sourceMap[16] != 8 || sourceMap[19] != 9 {
		t.Errorf("sourceMap = %v", sourceMap)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"unknown", "FOO", "unknown instruction on line 1"},
		{"undefined", "JMP nowhere", "undefined symbol 'nowhere'"},
		{"duplicate", "a:\na:", "duplicate symbol 'a' on line 2"},
		{"range", "PUSH 256", "operand out of range"},
		{"count", "AIDX 1", "AIDX expects 2 operands"},
		{"backward", ".SIG\n.ORG 2", "cannot move origin backward"},
		{"equ", ".EQU x", ".EQU expects a name and a value"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Assemble(tc.code)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}
