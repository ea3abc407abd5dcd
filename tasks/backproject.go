package tasks

import (
	"context"
	"fmt"
	"math"

	"github.com/bpradana/tofu"
)

// parallelGeometry describes a parallel-beam scan of a width x width slice.
// Pixel and detector index i covers [i, i+1), so its centre is i+0.5.
type parallelGeometry struct {
	width  int
	axis   float64
	cos    []float64
	sin    []float64
	weight float64
}

func newParallelGeometry(width, angles int, axis, step, offset float64) parallelGeometry {
	g := parallelGeometry{
		width:  width,
		axis:   defaultCenter(axis, width),
		cos:    make([]float64, angles),
		sin:    make([]float64, angles),
		weight: defaultAngleStep(step, angles),
	}
	for a := range angles {
		theta := offset + float64(a)*g.weight
		g.cos[a], g.sin[a] = math.Cos(theta), math.Sin(theta)
	}
	return g
}

// detector returns the fractional detector index hit by pixel (x, y) at angle a.
func (g parallelGeometry) detector(x, y, a int) float64 {
	rx := float64(x) + 0.5 - g.axis
	ry := float64(y) + 0.5 - g.axis
	return rx*g.cos[a] + ry*g.sin[a] + g.axis - 0.5
}

// backproject smears every row of sino across the slice, scaled by the angle step.
func (g parallelGeometry) backproject(sino *tofu.Frame, slice []float64) {
	for y := range g.width {
		for x := range g.width {
			var sum float64
			for a := range g.cos {
				sum += sample(sino.Row(a), g.detector(x, y, a))
			}
			slice[y*g.width+x] += sum * g.weight
		}
	}
}

type backprojectTask struct {
	filter1
	axis        float64
	angleStep   float64
	angleOffset float64
	numProj     int
}

func newBackproject() tofu.Task {
	t := &backprojectTask{filter1: filter1{newBase()}, axis: -1}
	t.props.Float("axis-pos", &t.axis)
	t.props.Float("angle-step", &t.angleStep)
	t.props.Float("angle-offset", &t.angleOffset)
	t.props.Size("num-projections", &t.numProj)
	return t
}

// Process reconstructs one width x width slice from every filtered sinogram.
func (t *backprojectTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(sino *tofu.Frame) (*tofu.Frame, error) {
		if sino.Complex {
			return nil, fmt.Errorf("%w: backproject expects real sinograms", ErrShapeMismatch)
		}
		angles := sino.Height
		if t.numProj > 0 {
			angles = min(t.numProj, sino.Height)
		}
		g := newParallelGeometry(sino.Width, angles, t.axis, t.angleStep, t.angleOffset)
		slice := make([]float64, sino.Width*sino.Width)
		g.backproject(sino, slice)
		out := tofu.NewFrame(sino.Width, sino.Width)
		for i, v := range slice {
			out.Data[i] = float32(v)
		}
		return out, nil
	})
}

// project computes the pixel-driven forward projection of slice at angle a:
// each pixel's value is split linearly between its two nearest detector bins.
// Per-bin weight sums go to norm.
func (g parallelGeometry) project(slice []float64, a int, proj, norm []float64) {
	clear(proj)
	clear(norm)
	for y := range g.width {
		for x := range g.width {
			p := g.detector(x, y, a)
			i := int(math.Floor(p))
			t := p - float64(i)
			v := slice[y*g.width+x]
			if i >= 0 && i < g.width {
				proj[i] += v * (1 - t)
				norm[i] += 1 - t
			}
			if i+1 >= 0 && i+1 < g.width {
				proj[i+1] += v * t
				norm[i+1] += t
			}
		}
	}
}

// adjoint spreads residual back with the weights used by project and
// accumulates the pixel weights in coverage.
func (g parallelGeometry) adjoint(residual []float64, a int, update, coverage []float64) {
	for y := range g.width {
		for x := range g.width {
			p := g.detector(x, y, a)
			i := int(math.Floor(p))
			t := p - float64(i)
			idx := y*g.width + x
			if i >= 0 && i < g.width {
				update[idx] += residual[i] * (1 - t)
				coverage[idx] += 1 - t
			}
			if i+1 >= 0 && i+1 < g.width {
				update[idx] += residual[i+1] * t
				coverage[idx] += t
			}
		}
	}
}

type irTask struct {
	filter1
	method        string
	relaxation    float64
	maxIterations int
	angleStep     float64
	numAngles     int
	axis          float64
	positivity    bool
}

func newIR() tofu.Task {
	t := &irTask{filter1: filter1{newBase()}, method: "sart", relaxation: 0.25, maxIterations: 10, axis: -1}
	t.props.Enum("method", &t.method, "sart", "sirt")
	t.props.Float("relaxation-factor", &t.relaxation)
	t.props.Size("max-iterations", &t.maxIterations)
	t.props.Float("angle-step", &t.angleStep)
	t.props.Size("num-angles", &t.numAngles)
	t.props.Float("axis-pos", &t.axis)
	t.props.Bool("positivity", &t.positivity)
	return t
}

// Process reconstructs each sinogram iteratively. SART updates the slice
// after every angle, SIRT once per sweep with the residuals of all angles.
func (t *irTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(sino *tofu.Frame) (*tofu.Frame, error) {
		if sino.Complex {
			return nil, fmt.Errorf("%w: ir expects real sinograms", ErrShapeMismatch)
		}
		angles := sino.Height
		if t.numAngles > 0 {
			angles = min(t.numAngles, sino.Height)
		}
		w := sino.Width
		g := newParallelGeometry(w, angles, t.axis, t.angleStep, 0)

		slice := make([]float64, w*w)
		proj := make([]float64, w)
		norm := make([]float64, w)
		residual := make([]float64, w)
		update := make([]float64, w*w)
		coverage := make([]float64, w*w)

		for range t.maxIterations {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if t.method == "sirt" {
				clear(update)
				clear(coverage)
			}
			for a := range angles {
				g.project(slice, a, proj, norm)
				row := sino.Row(a)
				for i := range residual {
					residual[i] = 0
					if norm[i] > 0 {
						residual[i] = (float64(row[i]) - proj[i]) / norm[i]
					}
				}
				if t.method == "sart" {
					clear(update)
					clear(coverage)
				}
				g.adjoint(residual, a, update, coverage)
				if t.method == "sart" {
					t.apply(slice, update, coverage)
				}
			}
			if t.method == "sirt" {
				t.apply(slice, update, coverage)
			}
		}

		out := tofu.NewFrame(w, w)
		for i, v := range slice {
			out.Data[i] = float32(v)
		}
		return out, nil
	})
}

func (t *irTask) apply(slice, update, coverage []float64) {
	for i := range slice {
		if coverage[i] == 0 {
			continue
		}
		slice[i] += t.relaxation * update[i] / coverage[i]
		if t.positivity && slice[i] < 0 {
			slice[i] = 0
		}
	}
}
