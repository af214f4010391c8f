// Command console runs an ABC program headless. Frames are handed out
// back to back; the step limit ends programs that never halt.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/compiler"
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

// consoleHost logs frames and breakpoints instead of drawing them.
type consoleHost struct {
	vm.NullHost
	verbose bool
}

func (h consoleHost) Present(fb *vm.Framebuffer) {
	if h.verbose {
		log.Printf("frame %d", fb.Frames)
	}
}

func (h consoleHost) DebugBreak(m *vm.Machine) {
	log.Printf("break at pc 0x%06X sp=%d stack=% X", m.PC, m.SP, m.Stack[:m.SP])
}

func main() {
	steps := flag.Int("steps", 1_000_000, "step limit (0 for none)")
	shot := flag.String("shot", "", "save the final screen as a PNG")
	scale := flag.Int("scale", 4, "screenshot scale")
	dump := flag.String("dump", "", "save a machine snapshot when the run ends")
	restore := flag.String("restore", "", "resume from a machine snapshot")
	verbose := flag.Bool("v", false, "log every displayed frame")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: console [flags] program.json|program.bin")
		flag.PrintDefaults()
		os.Exit(2)
	}

	prog, err := load(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	m := vm.NewMachine()
	m.Host = consoleHost{verbose: *verbose}
	if err := m.Load(prog); err != nil {
		log.Fatalf("load %s: %v", flag.Arg(0), err)
	}
	if *restore != "" {
		if err := m.RestoreFromFile(*restore); err != nil {
			log.Fatalf("restore %s: %v", *restore, err)
		}
	}

	runErr := m.Run(*steps)

	if *shot != "" {
		if err := m.Screen.SaveScreenshot(*shot, *scale); err != nil {
			log.Printf("screenshot: %v", err)
		}
	}
	if *dump != "" {
		if err := m.SnapshotToFile(*dump); err != nil {
			log.Printf("snapshot: %v", err)
		}
	}

	fmt.Printf("pc=0x%06X sp=%d steps=%d frames=%d stack=% X\n",
		m.PC, m.SP, m.Steps, m.Screen.Frames, m.Stack[:m.SP])
	if runErr != nil {
		log.Fatal(runErr)
	}
}

// load compiles a JSON program or reads a prebuilt image.
func load(path string) ([]byte, error) {
	if !strings.HasSuffix(path, ".json") {
		img, err := vm.OpenImage(path)
		if err != nil {
			return nil, err
		}
		defer img.Close()
		return append([]byte(nil), img.Bytes()...), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	prog, err := compiler.DecodeProgram(f)
	if err != nil {
		return nil, err
	}
	bin, _, err := compiler.Build(prog, compiler.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("compilation failed:\n%w", err)
	}
	return bin, nil
}
