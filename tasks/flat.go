package tasks

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/bpradana/tofu"
)

type flatFieldTask struct {
	base
	absorption bool
	fixNaN     bool
	darkScale  float64
}

func newFlatFieldCorrect() tofu.Task {
	t := &flatFieldTask{base: newBase(), darkScale: 1}
	t.props.Bool("absorption-correct", &t.absorption)
	t.props.Bool("fix-nan-and-inf", &t.fixNaN)
	t.props.Float("dark-scale", &t.darkScale)
	return t
}

func (t *flatFieldTask) NumInputs() int { return 3 }

// Process normalises radiographs (input 0) with a dark (input 1) and flats
// (input 2): (radio - s*dark) / (flat - s*dark). A single flat serves every
// radiograph; otherwise flats pair up with radiographs by position.
func (t *flatFieldTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	radios, darks, flats := in[0], in[1], in[2]
	for _, s := range in {
		if err := requireFrames(s); err != nil {
			return nil, err
		}
	}
	if len(flats) != 1 && len(flats) != len(radios) {
		return nil, fmt.Errorf("%w: %d flats for %d radiographs", ErrShapeMismatch, len(flats), len(radios))
	}
	dark := darks[0]
	scale := float32(t.darkScale)

	out := make(tofu.Stream, len(radios))
	err := forRangeErr(ctx, len(radios), func(i int) error {
		radio := radios[i]
		flat := flats[0]
		if len(flats) > 1 {
			flat = flats[i]
		}
		if !radio.SameShape(dark) || !radio.SameShape(flat) {
			return fmt.Errorf("%w: radio %s, dark %s, flat %s", ErrShapeMismatch, radio, dark, flat)
		}
		res := tofu.NewFrame(radio.Width, radio.Height)
		for j, r := range radio.Data {
			d := scale * dark.Data[j]
			v := (r - d) / (flat.Data[j] - d)
			if t.absorption {
				v = float32(-math.Log(float64(v)))
			}
			if t.fixNaN && (math.IsNaN(float64(v)) || math.IsInf(float64(v), 0)) {
				v = 0
			}
			res.Data[j] = v
		}
		out[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type averageTask struct {
	filter1
}

func newAverage() tofu.Task {
	return &averageTask{filter1{newBase()}}
}

// Process returns the pixel-wise mean of the stream.
func (t *averageTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	frames := in[0]
	if err := requireFrames(frames); err != nil {
		return nil, err
	}
	sum := make([]float64, len(frames[0].Data))
	for _, f := range frames {
		if !f.SameShape(frames[0]) {
			return nil, fmt.Errorf("%w: cannot average %s with %s", ErrShapeMismatch, f, frames[0])
		}
		for i, v := range f.Data {
			sum[i] += float64(v)
		}
	}
	out := &tofu.Frame{Width: frames[0].Width, Height: frames[0].Height, Depth: frames[0].Depth, Complex: frames[0].Complex, Data: make([]float32, len(sum))}
	for i, v := range sum {
		out.Data[i] = float32(v / float64(len(frames)))
	}
	return tofu.Stream{out}, nil
}

type stackTask struct {
	filter1
	number int
}

func newStack() tofu.Task {
	t := &stackTask{filter1: filter1{newBase()}}
	t.props.Size("number", &t.number)
	return t
}

// Process groups number consecutive frames into volumes. Zero stacks the
// whole stream; a short trailing group becomes a thinner volume.
func (t *stackTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	frames := in[0]
	if err := requireFrames(frames); err != nil {
		return nil, err
	}
	n := t.number
	if n == 0 {
		n = len(frames)
	}
	var out tofu.Stream
	for chunk := range slices.Chunk(frames, n) {
		first := chunk[0]
		vol := tofu.NewVolume(first.Width, first.Height, len(chunk))
		size := first.Width * first.Height
		for z, f := range chunk {
			if f.Width != first.Width || f.Height != first.Height || f.Complex {
				return nil, fmt.Errorf("%w: cannot stack %s on %s", ErrShapeMismatch, f, first)
			}
			copy(vol.Data[z*size:(z+1)*size], f.Data[:size])
		}
		out = append(out, vol)
	}
	return out, nil
}

type flattenTask struct {
	filter1
	mode string
}

func newFlatten() tofu.Task {
	t := &flattenTask{filter1: filter1{newBase()}, mode: "sum"}
	t.props.Enum("mode", &t.mode, "median", "mean", "min", "max", "sum")
	return t
}

// Process reduces every volume along its depth.
func (t *flattenTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(vol *tofu.Frame) (*tofu.Frame, error) {
		size := vol.Width * vol.Height
		out := tofu.NewFrame(vol.Width, vol.Height)
		column := make([]float64, vol.Depth)
		for i := range size {
			for z := range vol.Depth {
				column[z] = float64(vol.Data[z*size+i])
			}
			out.Data[i] = float32(reduce(t.mode, column))
		}
		return out, nil
	})
}

func reduce(mode string, values []float64) float64 {
	switch mode {
	case "median":
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2]
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2
	case "mean":
		return stat.Mean(values, nil)
	case "min":
		return slices.Min(values)
	case "max":
		return slices.Max(values)
	default:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	}
}

type interpolateTask struct {
	base
	number int
}

func newInterpolate() tofu.Task {
	t := &interpolateTask{base: newBase(), number: 1}
	t.props.Size("number", &t.number)
	return t
}

func (t *interpolateTask) NumInputs() int { return 2 }

// Process emits number frames blending linearly from input 0 to input 1.
func (t *interpolateTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	for _, s := range in {
		if err := requireFrames(s); err != nil {
			return nil, err
		}
	}
	a, b := in[0][0], in[1][0]
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: cannot interpolate %s and %s", ErrShapeMismatch, a, b)
	}
	if t.number == 0 {
		return nil, fmt.Errorf("%w: interpolate number must be positive", ErrBadProperty)
	}
	out := make(tofu.Stream, t.number)
	for i := range out {
		var w float32
		if t.number > 1 {
			w = float32(i) / float32(t.number-1)
		}
		f := a.Clone()
		for j := range f.Data {
			f.Data[j] = a.Data[j]*(1-w) + b.Data[j]*w
		}
		out[i] = f
	}
	return out, nil
}
