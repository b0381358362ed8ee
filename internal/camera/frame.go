package camera

import (
	"fmt"
	"image"
	"time"
)

// Frame is one acquired image. Pixels is packed RGB24 (width*height*3).
// After a frame is published to the ring it is shared read-only; consumers
// copy before mutating.
type Frame struct {
	Pixels      []byte
	Width       int
	Height      int
	TimestampUS int64
	IsFallback  bool
}

// NowMicros is the wall-clock fallback timestamp for backends without a
// hardware clock.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}

// Validate checks the pixel buffer matches the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height*3 {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(f.Pixels), f.Width*f.Height*3)
	}
	return nil
}

// ToImage converts the RGB24 buffer to an *image.RGBA for the encoders.
// The frame itself is not mutated.
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := y * f.Width * 3
		dst := y * img.Stride
		for x := 0; x < f.Width; x++ {
			img.Pix[dst+0] = f.Pixels[src+0]
			img.Pix[dst+1] = f.Pixels[src+1]
			img.Pix[dst+2] = f.Pixels[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return img
}

// BlackFrame builds a fallback frame of the given geometry.
func BlackFrame(width, height int) *Frame {
	return &Frame{
		Pixels:      make([]byte, width*height*3),
		Width:       width,
		Height:      height,
		TimestampUS: NowMicros(),
		IsFallback:  true,
	}
}
