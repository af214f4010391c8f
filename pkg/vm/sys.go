package vm

// System call numbers. The compiler's call-site code and the handlers below
// agree on the argument layout of each entry in SysCalls.
const (
	SysDisplay = iota
	SysDrawPixel
	SysDrawFilledRect
	SysSetFrameRate
	SysNextFrame
	SysIdle
	SysDebugBreak
	SysAssert
	NumSysCalls
)

// SysCall describes the stack signature of a system call: the byte width of
// each argument in push order and the width of the result.
type SysCall struct {
	Name   string
	Args   []int
	Signed []bool
	Ret    int
}

var SysCalls = [NumSysCalls]SysCall{
	SysDisplay:        {Name: "display"},
	SysDrawPixel:      {Name: "draw_pixel", Args: []int{2, 2, 1}, Signed: []bool{true, true, false}},
	SysDrawFilledRect: {Name: "draw_filled_rect", Args: []int{2, 2, 1, 1, 1}, Signed: []bool{true, true, false, false, false}},
	SysSetFrameRate:   {Name: "set_frame_rate", Args: []int{1}, Signed: []bool{false}},
	SysNextFrame:      {Name: "next_frame", Ret: 1},
	SysIdle:           {Name: "idle"},
	SysDebugBreak:     {Name: "debug_break"},
	SysAssert:         {Name: "assert", Args: []int{1}, Signed: []bool{false}},
}

// Host receives the calls that leave the machine.
type Host interface {
	// Present is called after display has committed the back buffer.
	Present(fb *Framebuffer)
	// NextFrame reports whether a new frame period has started.
	NextFrame(fps uint8) bool
	Idle()
	DebugBreak(m *Machine)
}

// NullHost runs frames back to back and ignores everything else.
type NullHost struct{}

func (NullHost) Present(*Framebuffer) {}
func (NullHost) NextFrame(uint8) bool { return true }
func (NullHost) Idle()                {}
func (NullHost) DebugBreak(*Machine)  {}

func (m *Machine) syscall(idx uint32) {
	switch idx {
	case SysDisplay:
		m.Screen.Commit()
		m.Host.Present(m.Screen)
	case SysDrawPixel:
		color := m.pop()
		y := int16(m.popN(2))
		x := int16(m.popN(2))
		m.Screen.Set(int(x), int(y), color)
	case SysDrawFilledRect:
		color := m.pop()
		h := m.pop()
		w := m.pop()
		y := int16(m.popN(2))
		x := int16(m.popN(2))
		m.Screen.FillRect(int(x), int(y), int(w), int(h), color)
	case SysSetFrameRate:
		m.FrameRate = m.pop()
	case SysNextFrame:
		m.push(boolByte(m.Host.NextFrame(m.FrameRate)))
	case SysIdle:
		m.Host.Idle()
	case SysDebugBreak:
		m.Host.DebugBreak(m)
	case SysAssert:
		if m.pop() == 0 {
			m.fault(ErrAss)
		}
	default:
		m.fault(ErrOp)
	}
}
