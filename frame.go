package tofu

import (
	"errors"
	"fmt"
)

// ErrFrameSize indicates frame data does not match its declared dimensions.
var ErrFrameSize = errors.New("tofu: frame data does not match dimensions")

// Frame is a dense float32 image or volume stored row-major, slice after slice.
// Complex frames store interleaved (re, im) pairs, so Width counts floats and a
// complex row holds Width/2 samples.
type Frame struct {
	Width   int
	Height  int
	Depth   int
	Complex bool
	Data    []float32
}

// Stream is the ordered sequence of frames travelling along one edge of a graph.
// Streams may be shared by several consumers and must be treated as read-only.
type Stream []*Frame

// NewFrame allocates a zeroed two-dimensional frame.
func NewFrame(width, height int) *Frame {
	return NewVolume(width, height, 1)
}

// NewVolume allocates a zeroed frame holding depth slices.
func NewVolume(width, height, depth int) *Frame {
	if depth < 1 {
		depth = 1
	}
	return &Frame{
		Width:  width,
		Height: height,
		Depth:  depth,
		Data:   make([]float32, width*height*depth),
	}
}

// NewComplexFrame allocates a complex frame with samples values per row.
func NewComplexFrame(samples, height int) *Frame {
	f := NewFrame(2*samples, height)
	f.Complex = true
	return f
}

// FrameFromData wraps data as a two-dimensional frame.
func FrameFromData(width, height int, data []float32) (*Frame, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrFrameSize, len(data), width, height)
	}
	return &Frame{Width: width, Height: height, Depth: 1, Data: data}, nil
}

// Samples returns the number of samples per row, halving Width for complex frames.
func (f *Frame) Samples() int {
	if f.Complex {
		return f.Width / 2
	}
	return f.Width
}

// At returns the value at column x and row y of the first slice.
func (f *Frame) At(x, y int) float32 {
	return f.Data[y*f.Width+x]
}

// Set stores v at column x and row y of the first slice.
func (f *Frame) Set(x, y int, v float32) {
	f.Data[y*f.Width+x] = v
}

// Row returns row y of the first slice. The slice aliases the frame data.
func (f *Frame) Row(y int) []float32 {
	return f.Data[y*f.Width : (y+1)*f.Width]
}

// Slice returns slice z of a volume as a two-dimensional frame sharing its data.
func (f *Frame) Slice(z int) *Frame {
	size := f.Width * f.Height
	return &Frame{
		Width:   f.Width,
		Height:  f.Height,
		Depth:   1,
		Complex: f.Complex,
		Data:    f.Data[z*size : (z+1)*size],
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	data := make([]float32, len(f.Data))
	copy(data, f.Data)
	return &Frame{Width: f.Width, Height: f.Height, Depth: f.Depth, Complex: f.Complex, Data: data}
}

// SameShape reports whether both frames share dimensions and representation.
func (f *Frame) SameShape(other *Frame) bool {
	return other != nil &&
		f.Width == other.Width &&
		f.Height == other.Height &&
		f.Depth == other.Depth &&
		f.Complex == other.Complex
}

func (f *Frame) String() string {
	kind := "real"
	if f.Complex {
		kind = "complex"
	}
	return fmt.Sprintf("%dx%dx%d %s", f.Width, f.Height, f.Depth, kind)
}
