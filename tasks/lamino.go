package tasks

import (
	"context"
	"fmt"
	"math"

	"github.com/bpradana/tofu"
)

type laminoRampTask struct {
	source
	width  int
	height int
	fwidth float64
	theta  float64
	tau    float64
}

func newLaminoRamp() tofu.Task {
	t := &laminoRampTask{source: source{newBase()}, tau: 1}
	t.props.Size("width", &t.width)
	t.props.Size("height", &t.height)
	t.props.Float("fwidth", &t.fwidth)
	t.props.Float("theta", &t.theta)
	t.props.Float("tau", &t.tau)
	return t
}

// Process builds the spatial ramp kernel on the first row of a width x height
// frame, centred on column zero with negative offsets wrapped to the end. Taps
// farther than fwidth/2 are dropped and the kernel is scaled by
// 1/(tau*|sin(theta)|).
func (t *laminoRampTask) Process(ctx context.Context, _ []tofu.Stream) (tofu.Stream, error) {
	if t.width == 0 || t.height == 0 {
		return nil, fmt.Errorf("%w: lamino-ramp needs width and height", ErrBadProperty)
	}
	scale := 1 / t.tau
	if s := math.Abs(math.Sin(t.theta)); s > 1e-6 {
		scale /= s
	}
	limit := t.fwidth / 2
	if limit <= 0 {
		limit = float64(t.width)
	}

	kernel := tofu.NewFrame(t.width, t.height)
	row := kernel.Row(0)
	for x := range t.width {
		k := x
		if x > t.width/2 {
			k = x - t.width
		}
		if math.Abs(float64(k)) > limit {
			continue
		}
		var v float64
		switch {
		case k == 0:
			v = 0.25
		case k%2 != 0:
			v = -1 / (math.Pi * math.Pi * float64(k*k))
		}
		row[x] = float32(v * scale)
	}
	return tofu.Stream{kernel}, nil
}

type laminoConvTask struct {
	base
}

func newLaminoConv() tofu.Task {
	return &laminoConvTask{newBase()}
}

func (t *laminoConvTask) NumInputs() int { return 2 }

// Process multiplies every spectrum of input 0 with the kernel spectrum of
// input 1. A single kernel is broadcast over the stream.
func (t *laminoConvTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	kernels := in[1]
	if err := requireFrames(kernels); err != nil {
		return nil, err
	}
	if len(kernels) != 1 && len(kernels) != len(in[0]) {
		return nil, fmt.Errorf("%w: %d kernels for %d frames", ErrShapeMismatch, len(kernels), len(in[0]))
	}
	index := make(map[*tofu.Frame]int, len(in[0]))
	for i, f := range in[0] {
		index[f] = i
	}
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		k := kernels[0]
		if len(kernels) > 1 {
			k = kernels[index[f]]
		}
		if !f.Complex || !f.SameShape(k) {
			return nil, fmt.Errorf("%w: spectrum %s, kernel %s", ErrShapeMismatch, f, k)
		}
		out := f.Clone()
		for i := 0; i < len(out.Data); i += 2 {
			ar, ai := f.Data[i], f.Data[i+1]
			br, bi := k.Data[i], k.Data[i+1]
			out.Data[i] = ar*br - ai*bi
			out.Data[i+1] = ar*bi + ai*br
		}
		return out, nil
	})
}

type laminoBPTask struct {
	filter1
	theta     float64
	angleStep float64
	psi       float64
	projOX    float64
	projOY    float64
	volSX     int
	volSY     int
	volSZ     int
	volOX     float64
	volOY     float64
	volOZ     float64
}

func newLaminoBP() tofu.Task {
	t := &laminoBPTask{filter1: filter1{newBase()}}
	t.props.Float("theta", &t.theta)
	t.props.Float("angle-step", &t.angleStep)
	t.props.Float("psi", &t.psi)
	t.props.Float("proj-ox", &t.projOX)
	t.props.Float("proj-oy", &t.projOY)
	t.props.Size("vol-sx", &t.volSX)
	t.props.Size("vol-sy", &t.volSY)
	t.props.Size("vol-sz", &t.volSZ)
	t.props.Float("vol-ox", &t.volOX)
	t.props.Float("vol-oy", &t.volOY)
	t.props.Float("vol-oz", &t.volOZ)
	return t
}

// Process back-projects every filtered projection into one volume. A voxel at
// (x, y, z) relative to (vol-ox, vol-oy, vol-oz) is rotated by the projection
// angle about the sample axis, tilted by theta and turned by psi in the
// detector plane before sampling at (proj-ox, proj-oy). Projections default to
// a full turn.
func (t *laminoBPTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	projs := in[0]
	if err := requireFrames(projs); err != nil {
		return nil, err
	}
	if t.volSX == 0 || t.volSY == 0 || t.volSZ == 0 {
		return nil, fmt.Errorf("%w: lamino-bp needs a volume size", ErrBadProperty)
	}
	for i, p := range projs {
		if p.Complex || !p.SameShape(projs[0]) {
			return nil, fmt.Errorf("%w: projection %d is %s", ErrShapeMismatch, i, p)
		}
	}
	step := t.angleStep
	if step == 0 {
		step = 2 * math.Pi / float64(len(projs))
	}
	cosT, sinT := math.Cos(t.theta), math.Sin(t.theta)
	cosP, sinP := math.Cos(t.psi), math.Sin(t.psi)
	cosA := make([]float64, len(projs))
	sinA := make([]float64, len(projs))
	for a := range projs {
		cosA[a], sinA[a] = math.Cos(float64(a)*step), math.Sin(float64(a)*step)
	}

	vol := tofu.NewVolume(t.volSX, t.volSY, t.volSZ)
	plane := t.volSX * t.volSY
	err := forRange(ctx, t.volSZ, func(z int) {
		Z := float64(z) + 0.5 - t.volOZ
		for y := range t.volSY {
			Y := float64(y) + 0.5 - t.volOY
			for x := range t.volSX {
				X := float64(x) + 0.5 - t.volOX
				var sum float64
				for a, p := range projs {
					xr := X*cosA[a] - Y*sinA[a]
					yr := X*sinA[a] + Y*cosA[a]
					u := xr
					v := yr*cosT + Z*sinT
					pu := u*cosP - v*sinP + t.projOX
					pv := u*sinP + v*cosP + t.projOY
					sum += bilinear(p, pu-0.5, pv-0.5)
				}
				vol.Data[z*plane+y*t.volSX+x] = float32(sum * step)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return tofu.Stream{vol}, nil
}

// bilinear samples f at fractional index (x, y), returning zero outside.
func bilinear(f *tofu.Frame, x, y float64) float64 {
	if x < 0 || y < 0 || x > float64(f.Width-1) || y > float64(f.Height-1) {
		return 0
	}
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, f.Width-1), min(y0+1, f.Height-1)
	tx, ty := x-float64(x0), y-float64(y0)
	top := float64(f.At(x0, y0))*(1-tx) + float64(f.At(x1, y0))*tx
	bottom := float64(f.At(x0, y1))*(1-tx) + float64(f.At(x1, y1))*tx
	return top*(1-ty) + bottom*ty
}
