package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/compiler"
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

func build(t *testing.T, path string, opts compiler.Options) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	prog, err := compiler.DecodeProgram(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	bin, out, err := compiler.Build(prog, opts)
	if err != nil {
		t.Fatalf("build %s: %v", path, err)
	}
	t.Logf("Generated Assembly:\n%s", out.Listing())
	return bin
}

// TestCompilerAndVM compiles fib.json under every optimizer setting,
// writes the image to disk and runs it from a mapped file.
func TestCompilerAndVM(t *testing.T) {
	configs := map[string]func(*compiler.Options){
		"default":     func(*compiler.Options) {},
		"unoptimized": func(o *compiler.Options) { o.Optimize = false },
		"no inline":   func(o *compiler.Options) { o.Inline = false },
		"no unroll":   func(o *compiler.Options) { o.Unroll = false },
		"sequential":  func(o *compiler.Options) { o.Parallel = false },
	}
	for name, configure := range configs {
		t.Run(name, func(t *testing.T) {
			opts := compiler.DefaultOptions()
			configure(&opts)
			bin := build(t, "../examples/fib.json", opts)

			path := filepath.Join(t.TempDir(), "fib.bin")
			if err := os.WriteFile(path, bin, 0644); err != nil {
				t.Fatal(err)
			}
			img, err := vm.OpenImage(path)
			if err != nil {
				t.Fatal(err)
			}
			defer img.Close()

			m := vm.NewMachine()
			if err := m.Load(img.Bytes()); err != nil {
				t.Fatal(err)
			}
			if err := m.Run(10_000_000); err != nil {
				t.Fatalf("run: %v", err)
			}

			// fib(10) = 55, left in main's two-byte return slot
			if m.SP != 2 {
				t.Fatalf("SP = %d, want 2 (stack fully unwound)", m.SP)
			}
			if got := m.StackWord(0, 2); got != 55 {
				t.Errorf("fib(10) = %d, want 55", got)
			}
			if m.CSP != 0 {
				t.Errorf("CSP = %d", m.CSP)
			}
		})
	}
}

func TestResumeFromSnapshot(t *testing.T) {
	bin := build(t, "../examples/fib.json", compiler.DefaultOptions())

	m := vm.NewMachine()
	if err := m.Load(bin); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(500); err == nil || !strings.Contains(err.Error(), "step limit") {
		t.Fatalf("first leg = %v, want the step limit", err)
	}
	path := filepath.Join(t.TempDir(), "fib.zip")
	if err := m.SnapshotToFile(path); err != nil {
		t.Fatal(err)
	}

	resumed := vm.NewMachine()
	if err := resumed.Load(bin); err != nil {
		t.Fatal(err)
	}
	if err := resumed.RestoreFromFile(path); err != nil {
		t.Fatal(err)
	}
	if err := resumed.Run(0); err != nil {
		t.Fatal(err)
	}
	if resumed.SP != 2 || resumed.StackWord(0, 2) != 55 {
		t.Errorf("resumed run left % X", resumed.Stack[:resumed.SP])
	}
}

func TestBounceHeadless(t *testing.T) {
	bin := build(t, "../examples/bounce.json", compiler.DefaultOptions())

	m := vm.NewMachine()
	if err := m.Load(bin); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(50_000); err == nil || !strings.Contains(err.Error(), "step limit") {
		t.Fatalf("Run = %v, want the step limit", err)
	}
	if m.Err != vm.ErrNone {
		t.Fatalf("fault: %v", m.Err)
	}
	if m.Screen.Frames < 10 {
		t.Fatalf("only %d frames displayed", m.Screen.Frames)
	}

	lit := 0
	for y := 0; y < vm.ScreenHeight; y++ {
		for x := 0; x < vm.ScreenWidth; x++ {
			if m.Screen.Pixel(x, y) {
				lit++
				if y < 60 {
					t.Fatalf("pixel (%d,%d) lit outside the box row", x, y)
				}
			}
		}
	}
	if lit != 32 {
		t.Errorf("%d pixels lit, want an 8x4 box", lit)
	}
}
