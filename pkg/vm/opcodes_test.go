package vm_test

import (
	"strings"
	"testing"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

func TestEvalBinary(t *testing.T) {
	tests := []struct {
		op   vm.Opcode
		a, b uint32
		want uint32
	}{
		{vm.OpADD, 200, 100, 44},
		{vm.OpADD, 0x1FF, 1, 0},
		{vm.OpADD2, 0xFFFF, 1, 0},
		{vm.OpSUB, 0, 1, 0xFF},
		{vm.OpMUL2, 300, 300, 24464},
		{vm.OpMUL4, 0x10000, 0x10000, 0},
		{vm.OpUDIV, 200, 7, 28},
		{vm.OpDIV, 0xF9, 2, 0xFD},
		{vm.OpMOD, 0xF9, 2, 0xFF},
		{vm.OpDIV, 0x80, 0xFF, 0x80},
		{vm.OpMOD, 0x80, 0xFF, 0},
		{vm.OpDIV2, 0xFF9C, 10, 0xFFF6},
		{vm.OpUMOD2, 1000, 7, 6},
		{vm.OpAND, 0xF0, 0x3C, 0x30},
		{vm.OpOR, 0xF0, 0x0F, 0xFF},
		{vm.OpXOR, 0xFF, 0x0F, 0xF0},
		{vm.OpLSL, 1, 7, 0x80},
		{vm.OpLSL, 1, 8, 0},
		{vm.OpLSL4, 1, 40, 0},
		{vm.OpLSR2, 0x8000, 15, 1},
		{vm.OpASR, 0x80, 3, 0xF0},
		{vm.OpASR2, 0x8000, 40, 0xFFFF},
		{vm.OpASR, 0x40, 2, 0x10},
		{vm.OpCULT, 1, 0xFF, 1},
		{vm.OpCSLT, 1, 0xFF, 0},
		{vm.OpCULE, 5, 5, 1},
		{vm.OpCSLE2, 0xFFFF, 0, 1},
		{vm.OpCULT3, 0x800000, 0x7FFFFF, 0},
		{vm.OpCSLT3, 0x800000, 0x7FFFFF, 1},
	}
	for _, tc := range tests {
		got, err := vm.EvalBinary(tc.op, tc.a, tc.b)
		if err != vm.ErrNone {
			t.Errorf("%s(0x%X, 0x%X) faulted: %v", tc.op, tc.a, tc.b, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s(0x%X, 0x%X) = 0x%X, want 0x%X", tc.op, tc.a, tc.b, got, tc.want)
		}
	}

	for _, op := range []vm.Opcode{vm.OpUDIV, vm.OpDIV2, vm.OpUMOD3, vm.OpMOD4} {
		if _, err := vm.EvalBinary(op, 5, 0); err != vm.ErrDiv {
			t.Errorf("%s by zero = %v, want %v", op, err, vm.ErrDiv)
		}
	}
	if _, err := vm.EvalBinary(vm.OpNOT, 1, 1); err != vm.ErrOp {
		t.Errorf("EvalBinary(NOT) = %v, want %v", err, vm.ErrOp)
	}
}

func TestOpcodeFamilies(t *testing.T) {
	if w := vm.OpADD3.Width(); w != 3 {
		t.Errorf("ADD3 width = %d", w)
	}
	if w := vm.OpBOOL4.Width(); w != 4 {
		t.Errorf("BOOL4 width = %d", w)
	}
	if w := vm.OpPOP.Width(); w != 0 {
		t.Errorf("POP width = %d", w)
	}
	if f := vm.OpCSLE4.Family(); f != vm.OpCSLE {
		t.Errorf("CSLE4 family = %s", f)
	}
	if op := vm.OpSUB.Sized(4); op != vm.OpSUB4 {
		t.Errorf("SUB sized 4 = %s", op)
	}
	if op := vm.OpMUL3.Sized(2); op != vm.OpMUL2 {
		t.Errorf("MUL3 sized 2 = %s", op)
	}
	if op := vm.OpBOOL.Sized(2); op != vm.OpBOOL2 {
		t.Errorf("BOOL sized 2 = %s", op)
	}
	if !vm.OpCULT2.IsCompare() || vm.OpADD.IsCompare() {
		t.Error("IsCompare")
	}
	if !vm.OpADD4.IsBinary() || vm.OpBOOL.IsBinary() || vm.OpADD2B.IsBinary() {
		t.Error("IsBinary")
	}
	if !vm.OpBZP.IsBranch() || !vm.OpCALL.IsBranch() || vm.OpRET.IsBranch() {
		t.Error("IsBranch")
	}

	defer func() {
		if recover() == nil {
			t.Error("Sized(5) did not panic")
		}
	}()
	vm.OpADD.Sized(5)
}

func TestOpcodeNames(t *testing.T) {
	for name, op := range map[string]vm.Opcode{
		"DUP":   vm.OpDUP,
		"DUP8":  vm.OpDUP8,
		"DUPW":  vm.OpDUPW,
		"DUPW3": vm.OpDUPW3,
		"P128":  vm.OpP128,
		"PZ16":  vm.OpPZ16,
		"CSLE2": vm.OpCSLE2,
		"ADD3B": vm.OpADD3B,
		"SYS":   vm.OpSYS,
	} {
		got, ok := vm.Lookup(name)
		if !ok || got != op {
			t.Errorf("Lookup(%q) = %v, %v", name, got, ok)
		}
		if op.String() != name {
			t.Errorf("%d.String() = %q, want %q", op, op.String(), name)
		}
	}
	if _, ok := vm.Lookup("ADD5"); ok {
		t.Error("Lookup(ADD5) succeeded")
	}
	if name := vm.Info(vm.NumOps).Name; !strings.HasPrefix(name, "?") {
		t.Errorf("name of an unknown opcode = %q", name)
	}
	if n := vm.Info(vm.OpAIDX).Len(); n != 5 {
		t.Errorf("AIDX length = %d, want 5", n)
	}
}

func TestPushValue(t *testing.T) {
	tests := []struct {
		op   vm.Opcode
		v    byte
		n    int
		isOK bool
	}{
		{vm.OpP0, 0, 1, true},
		{vm.OpP8, 8, 1, true},
		{vm.OpP64, 64, 1, true},
		{vm.OpP000, 0, 3, true},
		{vm.OpPZ16, 0, 16, true},
		{vm.OpPUSH, 0, 0, false},
		{vm.OpPUSH2, 0, 0, false},
	}
	for _, tc := range tests {
		v, n, ok := vm.PushValue(tc.op)
		if v != tc.v || n != tc.n || ok != tc.isOK {
			t.Errorf("PushValue(%s) = %d, %d, %v", tc.op, v, n, ok)
		}
	}
}

func TestDecode(t *testing.T) {
	prog := []byte{
		byte(vm.OpPUSH2), 0x34, 0x12,
		byte(vm.OpAIDX), 2, 0, 10, 0,
		byte(vm.OpHALT),
		0xFF,
		byte(vm.OpJMP), 1,
	}
	tests := []struct {
		pc   uint32
		want string
		len  int
	}{
		{0, "PUSH2 4660", 3},
		{3, "AIDX 2, 10", 5},
		{8, "HALT", 1},
	}
	for _, tc := range tests {
		in, err := vm.Decode(prog, tc.pc)
		if err != nil {
			t.Fatalf("Decode at %d: %v", tc.pc, err)
		}
		if in.String() != tc.want {
			t.Errorf("Decode at %d = %q, want %q", tc.pc, in, tc.want)
		}
		if n := vm.Info(in.Op).Len(); n != tc.len {
			t.Errorf("length at %d = %d, want %d", tc.pc, n, tc.len)
		}
	}

	for _, bad := range []struct {
		pc   uint32
		want string
	}{
		{9, "illegal opcode"},
		{10, "truncated"},
		{12, "past end"},
	} {
		_, err := vm.Decode(prog, bad.pc)
		if err == nil || !strings.Contains(err.Error(), bad.want) {
			t.Errorf("Decode at %d = %v, want %q", bad.pc, err, bad.want)
		}
	}
}
