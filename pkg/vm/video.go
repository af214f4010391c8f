package vm

import (
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

const (
	ScreenWidth  = 128
	ScreenHeight = 64
)

// Framebuffer is the monochrome display. Drawing goes to Back; display
// copies it to Front and clears Back.
type Framebuffer struct {
	Back  [ScreenWidth * ScreenHeight]byte
	Front [ScreenWidth * ScreenHeight]byte
	// Frames counts display commits.
	Frames uint64
}

func NewFramebuffer() *Framebuffer { return &Framebuffer{} }

func (fb *Framebuffer) Clear() {
	fb.Back = [ScreenWidth * ScreenHeight]byte{}
	fb.Front = [ScreenWidth * ScreenHeight]byte{}
	fb.Frames = 0
}

// Set draws one pixel. Off-screen coordinates are clipped.
func (fb *Framebuffer) Set(x, y int, color byte) {
	if x < 0 || y < 0 || x >= ScreenWidth || y >= ScreenHeight {
		return
	}
	fb.Back[y*ScreenWidth+x] = boolByte(color != 0)
}

func (fb *Framebuffer) FillRect(x, y, w, h int, color byte) {
	for j := y; j < y+h; j++ {
		for i := x; i < x+w; i++ {
			fb.Set(i, j, color)
		}
	}
}

func (fb *Framebuffer) Commit() {
	fb.Front = fb.Back
	fb.Back = [ScreenWidth * ScreenHeight]byte{}
	fb.Frames++
}

// Pixel reports a committed pixel.
func (fb *Framebuffer) Pixel(x, y int) bool {
	return fb.Front[y*ScreenWidth+x] != 0
}

// RGBA decodes the front buffer into a 128×64 RGBA8888 byte slice.
func (fb *Framebuffer) RGBA() []byte {
	pixels := make([]byte, ScreenWidth*ScreenHeight*4)
	for i, p := range fb.Front {
		var v byte
		if p != 0 {
			v = 0xFF
		}
		pixels[i*4+0] = v
		pixels[i*4+1] = v
		pixels[i*4+2] = v
		pixels[i*4+3] = 0xFF
	}
	return pixels
}

// Image returns the front buffer as an *image.RGBA.
func (fb *Framebuffer) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    fb.RGBA(),
		Stride: ScreenWidth * 4,
		Rect:   image.Rect(0, 0, ScreenWidth, ScreenHeight),
	}
}

// Scaled returns the front buffer enlarged by an integer factor with
// nearest-neighbour sampling.
func (fb *Framebuffer) Scaled(scale int) *image.RGBA {
	if scale < 1 {
		scale = 1
	}
	src := fb.Image()
	dst := image.NewRGBA(image.Rect(0, 0, ScreenWidth*scale, ScreenHeight*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// SaveScreenshot encodes the front buffer as a PNG and writes it to filename.
func (fb *Framebuffer) SaveScreenshot(filename string, scale int) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, fb.Scaled(scale))
}
