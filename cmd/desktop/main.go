package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"modernc.org/mathutil"

	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/compiler"
	"github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"
)

const (
	scale        = 4
	stepsPerTick = 200_000
	snapshotPath = "abc_snapshot.zip"
)

// frameHost paces next_frame against the game loop. A frame period is
// tps/fps ticks; when none has elapsed the machine is parked until the
// next tick.
type frameHost struct {
	m     *vm.Machine
	tps   int
	ticks int
}

func (h *frameHost) tick() {
	h.ticks++
	h.m.Waiting = false
}

func (h *frameHost) Present(*vm.Framebuffer) {}

func (h *frameHost) NextFrame(fps uint8) bool {
	if fps == 0 {
		return true
	}
	period := mathutil.Max(1, h.tps/int(fps))
	if h.ticks >= period {
		h.ticks = 0
		return true
	}
	h.m.Waiting = true
	return false
}

func (h *frameHost) Idle() { h.m.Waiting = true }

func (h *frameHost) DebugBreak(m *vm.Machine) {
	log.Printf("break at pc 0x%06X sp=%d stack=% X", m.PC, m.SP, m.Stack[:m.SP])
}

type Game struct {
	m      *vm.Machine
	host   *frameHost
	screen *ebiten.Image // reused 128×64 canvas
}

func newGame(prog []byte, tps int) (*Game, error) {
	m := vm.NewMachine()
	host := &frameHost{m: m, tps: tps}
	m.Host = host
	if err := m.Load(prog); err != nil {
		return nil, err
	}
	return &Game{m: m, host: host}, nil
}

// step advances the machine by one game tick.
func (g *Game) step() {
	g.host.tick()
	for i := 0; i < stepsPerTick; i++ {
		if g.m.Halted || g.m.Waiting {
			break
		}
		g.m.Step()
	}
}

func (g *Game) Update() error {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyF12):
		name := fmt.Sprintf("abc-%s.png", time.Now().Format("20060102-150405"))
		if err := g.m.Screen.SaveScreenshot(name, scale); err != nil {
			log.Printf("screenshot: %v", err)
		} else {
			log.Printf("saved %s", name)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyF5):
		if err := g.m.SnapshotToFile(snapshotPath); err != nil {
			log.Printf("snapshot: %v", err)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyF9):
		if err := g.m.RestoreFromFile(snapshotPath); err != nil {
			log.Printf("restore: %v", err)
		}
	}
	g.step()
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	if g.screen == nil {
		g.screen = ebiten.NewImage(vm.ScreenWidth, vm.ScreenHeight)
	}
	g.screen.WritePixels(g.m.Screen.RGBA())

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	screen.DrawImage(g.screen, op)

	if g.m.Err != vm.ErrNone {
		ebitenutil.DebugPrint(screen, fmt.Sprintf("%v at pc 0x%06X", g.m.Err, g.m.PC))
	} else if g.m.Halted {
		ebitenutil.DebugPrint(screen, "halted")
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return vm.ScreenWidth * scale, vm.ScreenHeight * scale
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: desktop program.json|program.bin")
		os.Exit(2)
	}

	prog, err := load(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	game, err := newGame(prog, ebiten.TPS())
	if err != nil {
		log.Fatalf("load %s: %v", flag.Arg(0), err)
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(vm.ScreenWidth*scale, vm.ScreenHeight*scale)
	ebiten.SetWindowTitle("ABC Desktop")
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}

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
