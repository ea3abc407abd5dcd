package tasks

import (
	"context"
	"fmt"
	"math"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/spectral"
)

type fftTask struct {
	filter1
	dimensions int
	autoPad    bool
}

func newFFT() tofu.Task {
	t := &fftTask{filter1: filter1{newBase()}, dimensions: 1, autoPad: true}
	t.props.Int("dimensions", &t.dimensions)
	t.props.Bool("auto-zeropadding", &t.autoPad)
	return t
}

// Process transforms rows (dimensions=1) or whole frames (dimensions=2) into
// complex spectra, zero-padding to powers of two when auto-zeropadding is set.
func (t *fftTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	if t.dimensions != 1 && t.dimensions != 2 {
		return nil, fmt.Errorf("%w: fft dimensions %d", ErrBadProperty, t.dimensions)
	}
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		n, m := f.Samples(), f.Height
		if t.autoPad {
			n = spectral.NextPow2(n)
			if t.dimensions == 2 {
				m = spectral.NextPow2(m)
			}
		}
		buf := make([]complex128, n*m)
		row := make([]complex128, 0, f.Samples())
		for y := range f.Height {
			row = complexRow(f, y, row)
			copy(buf[y*n:], row)
		}
		if t.dimensions == 1 {
			for y := range m {
				spectral.Forward(buf[y*n:(y+1)*n], buf[y*n:(y+1)*n])
			}
		} else {
			spectral.Forward2D(buf, n, m)
		}
		out := tofu.NewComplexFrame(n, m)
		for y := range m {
			setComplexRow(out, y, buf[y*n:(y+1)*n])
		}
		return out, nil
	})
}

type ifftTask struct {
	filter1
	dimensions int
	cropWidth  int
	cropHeight int
}

func newIFFT() tofu.Task {
	t := &ifftTask{filter1: filter1{newBase()}, dimensions: 1}
	t.props.Int("dimensions", &t.dimensions)
	t.props.Size("crop-width", &t.cropWidth)
	t.props.Size("crop-height", &t.cropHeight)
	return t
}

// Process inverts fft and keeps the real part, optionally cropped to
// crop-width x crop-height from the top-left corner.
func (t *ifftTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	if t.dimensions != 1 && t.dimensions != 2 {
		return nil, fmt.Errorf("%w: ifft dimensions %d", ErrBadProperty, t.dimensions)
	}
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		if !f.Complex {
			return nil, fmt.Errorf("%w: ifft expects complex input, got %s", ErrShapeMismatch, f)
		}
		n, m := f.Samples(), f.Height
		buf := make([]complex128, n*m)
		for y := range m {
			complexRow(f, y, buf[y*n:(y+1)*n])
		}
		if t.dimensions == 1 {
			for y := range m {
				spectral.Inverse(buf[y*n:(y+1)*n], buf[y*n:(y+1)*n])
			}
		} else {
			spectral.Inverse2D(buf, n, m)
		}

		w, h := n, m
		if t.cropWidth > 0 {
			w = min(t.cropWidth, n)
		}
		if t.cropHeight > 0 {
			h = min(t.cropHeight, m)
		}
		out := tofu.NewFrame(w, h)
		for y := range h {
			row := out.Row(y)
			for x := range w {
				row[x] = float32(real(buf[y*n+x]))
			}
		}
		return out, nil
	})
}

type filterTask struct {
	filter1
	kind   string
	cutoff float64
	order  float64
	scale  float64
}

func newFilter() tofu.Task {
	t := &filterTask{filter1: filter1{newBase()}, kind: "ramp-fromreal", cutoff: 0.5, order: 4, scale: 1}
	t.props.Enum("filter", &t.kind, "ramp", "ramp-fromreal", "butterworth")
	t.props.Float("cutoff", &t.cutoff)
	t.props.Float("order", &t.order)
	t.props.Float("scale", &t.scale)
	return t
}

// filterWeights returns the real frequency response for an n-point spectrum.
// Frequencies are in cycles per pixel so that back-projection over the angle
// step yields correctly scaled slices.
func filterWeights(kind string, n int, cutoff, order float64) []float64 {
	w := make([]float64, n)
	switch kind {
	case "ramp-fromreal":
		h := make([]complex128, n)
		h[0] = 0.25
		for k := 1; k <= n/2; k++ {
			if k%2 == 1 {
				v := complex(-1/(math.Pi*math.Pi*float64(k*k)), 0)
				h[k] = v
				h[n-k] = v
			}
		}
		spec := spectral.Forward(nil, h)
		for i, v := range spec {
			w[i] = real(v)
		}
	default:
		for i := range w {
			f := float64(min(i, n-i)) / float64(n)
			w[i] = f
			if kind == "butterworth" && cutoff > 0 {
				w[i] *= 1 / (1 + math.Pow(f/cutoff, 2*order))
			}
		}
	}
	return w
}

func (t *filterTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	if err := requireFrames(in[0]); err != nil {
		return nil, err
	}
	weights := make(map[int][]float64)
	for _, f := range in[0] {
		if !f.Complex {
			return nil, fmt.Errorf("%w: filter expects spectra, got %s", ErrShapeMismatch, f)
		}
		if _, ok := weights[f.Samples()]; !ok {
			w := filterWeights(t.kind, f.Samples(), t.cutoff, t.order)
			for i := range w {
				w[i] *= t.scale
			}
			weights[f.Samples()] = w
		}
	}
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		w := weights[f.Samples()]
		out := f.Clone()
		for y := range out.Height * out.Depth {
			row := out.Data[y*out.Width : (y+1)*out.Width]
			for i, v := range w {
				row[2*i] *= float32(v)
				row[2*i+1] *= float32(v)
			}
		}
		return out, nil
	})
}

type swapQuadrantsTask struct {
	filter1
}

func newSwapQuadrants() tofu.Task {
	return &swapQuadrantsTask{filter1{newBase()}}
}

// Process moves the zero frequency to the centre and back.
func (t *swapQuadrantsTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		n, m := f.Samples(), f.Height
		out := &tofu.Frame{Width: f.Width, Height: m, Depth: 1, Complex: f.Complex}
		if f.Complex {
			pairs := make([][2]float32, n*m)
			for i := range pairs {
				pairs[i] = [2]float32{f.Data[2*i], f.Data[2*i+1]}
			}
			pairs = spectral.Shift(pairs, n, m)
			out.Data = make([]float32, 2*n*m)
			for i, p := range pairs {
				out.Data[2*i], out.Data[2*i+1] = p[0], p[1]
			}
			return out, nil
		}
		out.Data = spectral.Shift(f.Data[:n*m], n, m)
		return out, nil
	})
}

type zeropadTask struct {
	filter1
	center       float64
	oversampling int
}

func newZeropad() tofu.Task {
	t := &zeropadTask{filter1: filter1{newBase()}, center: -1, oversampling: 1}
	t.props.Float("center-of-rotation", &t.center)
	t.props.Size("oversampling", &t.oversampling)
	return t
}

// Process widens sinogram rows to a power of two times oversampling and
// rotates them so that the rotation centre lands on index zero, with the
// left half wrapped to the end of the row.
func (t *zeropadTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		if f.Complex {
			return nil, fmt.Errorf("%w: zeropad expects real sinograms", ErrShapeMismatch)
		}
		n := spectral.NextPow2(f.Width) * max(t.oversampling, 1)
		c := int(math.Floor(defaultCenter(t.center, f.Width)))
		if c < 0 || c > f.Width {
			return nil, fmt.Errorf("%w: center %d outside width %d", ErrBadProperty, c, f.Width)
		}
		out := tofu.NewFrame(n, f.Height)
		for y := range f.Height {
			src, dst := f.Row(y), out.Row(y)
			copy(dst, src[c:])
			copy(dst[n-c:], src[:c])
		}
		return out, nil
	})
}

type dfiSincTask struct {
	filter1
	kernelSize int
	angleStep  float64
	roiSize    int
}

func newDFISinc() tofu.Task {
	t := &dfiSincTask{filter1: filter1{newBase()}, kernelSize: 7}
	t.props.Size("kernel-size", &t.kernelSize)
	t.props.Float("angle-step", &t.angleStep)
	t.props.Size("roi-size", &t.roiSize)
	return t
}

// Process resamples the row spectra of a sinogram (one angle per row, over
// half a turn) onto a centred Cartesian frequency grid. Radial positions use a
// Hann-windowed sinc kernel, angles are interpolated linearly.
func (t *dfiSincTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		if !f.Complex {
			return nil, fmt.Errorf("%w: dfi-sinc expects spectra", ErrShapeMismatch)
		}
		n, angles := f.Samples(), f.Height
		step := defaultAngleStep(t.angleStep, angles)
		rows := make([][]complex128, angles)
		for a := range angles {
			rows[a] = complexRow(f, a, nil)
		}
		half := max(t.kernelSize, 1) / 2
		roi := n
		if t.roiSize > 0 {
			roi = min(t.roiSize, n)
		}

		radial := func(a int, r float64) complex128 {
			var sum complex128
			base := int(math.Round(r))
			for j := base - half; j <= base+half; j++ {
				d := r - float64(j)
				w := sinc(d) * hann(d, float64(half+1))
				if w == 0 {
					continue
				}
				idx := ((j % n) + n) % n
				sum += rows[a][idx] * complex(w, 0)
			}
			return sum
		}

		out := tofu.NewComplexFrame(n, n)
		grid := make([]complex128, n)
		for v := range n {
			ky := float64(v - n/2)
			for u := range n {
				kx := float64(u - n/2)
				grid[u] = 0
				if math.Abs(kx) > float64(roi)/2 || math.Abs(ky) > float64(roi)/2 {
					continue
				}
				r := math.Hypot(kx, ky)
				if r > float64(n)/2 {
					continue
				}
				theta := math.Atan2(ky, kx)
				switch {
				case theta < 0:
					theta += math.Pi
					r = -r
				case theta >= math.Pi:
					theta -= math.Pi
					r = -r
				}
				pos := theta / step
				a0 := int(pos)
				frac := pos - float64(a0)
				a0 %= angles
				a1, r1 := a0+1, r
				if a1 >= angles {
					a1, r1 = 0, -r
				}
				grid[u] = radial(a0, r)*complex(1-frac, 0) + radial(a1, r1)*complex(frac, 0)
			}
			setComplexRow(out, v, grid)
		}
		return out, nil
	})
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// hann is a Hann window of half-width w centred on zero.
func hann(x, w float64) float64 {
	if math.Abs(x) >= w {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x/w))
}
