package compiler

import "github.com/ESPboy-edu/ESPboy-ABCscript/pkg/vm"

// sysFunc is the compiler's view of a host primitive: typed parameters in
// push order and a result the SYS instruction itself pushes.
type sysFunc struct {
	Index  uint32
	Params []Type
	Ret    Type
}

var sysFuncs = map[string]sysFunc{
	"display":          {Index: vm.SysDisplay},
	"draw_pixel":       {Index: vm.SysDrawPixel, Params: []Type{I16, I16, U8}},
	"draw_filled_rect": {Index: vm.SysDrawFilledRect, Params: []Type{I16, I16, U8, U8, U8}},
	"set_frame_rate":   {Index: vm.SysSetFrameRate, Params: []Type{U8}},
	"next_frame":       {Index: vm.SysNextFrame, Ret: BoolT},
	"idle":             {Index: vm.SysIdle},
	"debug_break":      {Index: vm.SysDebugBreak},
	"assert":           {Index: vm.SysAssert, Params: []Type{BoolT}},
}
