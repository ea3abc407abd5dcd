// Package tasks provides the builtin processing plugins: readers and writers,
// Fourier filtering, back-projection, iterative and direct Fourier
// reconstruction, flat-field correction and laminography.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bpradana/tofu"
)

var (
	// ErrEmptyInput indicates a task received a stream without frames.
	ErrEmptyInput = errors.New("tasks: empty input stream")
	// ErrShapeMismatch indicates frames whose dimensions do not fit together.
	ErrShapeMismatch = errors.New("tasks: frame shape mismatch")
	// ErrBadProperty indicates a property combination the task cannot run with.
	ErrBadProperty = errors.New("tasks: invalid property")
)

var builtin = map[string]tofu.Factory{
	"read":                  newRead,
	"write":                 newWrite,
	"null":                  newNull,
	"generate":              newGenerate,
	"transpose-projections": newTransposeProjections,
	"fft":                   newFFT,
	"ifft":                  newIFFT,
	"filter":                newFilter,
	"backproject":           newBackproject,
	"pad":                   newPad,
	"cut-roi":               newCutROI,
	"zeropad":               newZeropad,
	"dfi-sinc":              newDFISinc,
	"swap-quadrants":        newSwapQuadrants,
	"ir":                    newIR,
	"flat-field-correct":    newFlatFieldCorrect,
	"average":               newAverage,
	"stack":                 newStack,
	"flatten":               newFlatten,
	"interpolate":           newInterpolate,
	"downsample":            newDownsample,
	"padding-2d":            newPadding2D,
	"lamino-ramp":           newLaminoRamp,
	"lamino-conv":           newLaminoConv,
	"lamino-bp":             newLaminoBP,
}

// Register installs every builtin plugin into pm.
func Register(pm *tofu.PluginManager) error {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := pm.Register(name, builtin[name]); err != nil {
			return err
		}
	}
	return nil
}

// NewPluginManager returns a manager with all builtin plugins registered.
func NewPluginManager() *tofu.PluginManager {
	pm := tofu.NewPluginManager()
	if err := Register(pm); err != nil {
		panic(err)
	}
	return pm
}

type base struct {
	props *tofu.PropertySet
}

func newBase() base {
	return base{props: tofu.NewPropertySet()}
}

func (b base) Properties() *tofu.PropertySet {
	return b.props
}

// source and filter1 supply NumInputs for tasks with zero and one input.
type source struct{ base }

func (source) NumInputs() int { return 0 }

type filter1 struct{ base }

func (filter1) NumInputs() int { return 1 }

// mapFrames applies fn to every frame concurrently, bounded by GOMAXPROCS,
// and keeps the stream order.
func mapFrames(ctx context.Context, in tofu.Stream, fn func(*tofu.Frame) (*tofu.Frame, error)) (tofu.Stream, error) {
	out := make(tofu.Stream, len(in))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range in {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(f)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// forRange runs fn for every index in [0, n) concurrently.
func forRange(ctx context.Context, n int, fn func(i int)) error {
	return forRangeErr(ctx, n, func(i int) error {
		fn(i)
		return nil
	})
}

func requireFrames(in tofu.Stream) error {
	if len(in) == 0 {
		return ErrEmptyInput
	}
	return nil
}

// defaultAngleStep spreads n projections over half a turn when step is unset.
func defaultAngleStep(step float64, n int) float64 {
	if step != 0 || n == 0 {
		return step
	}
	return math.Pi / float64(n)
}

// defaultCenter maps the unset marker (any negative value) to the middle of width.
func defaultCenter(center float64, width int) float64 {
	if center < 0 {
		return float64(width) / 2
	}
	return center
}

func complexRow(f *tofu.Frame, y int, dst []complex128) []complex128 {
	row := f.Row(y)
	n := f.Samples()
	if cap(dst) < n {
		dst = make([]complex128, n)
	}
	dst = dst[:n]
	if f.Complex {
		for i := range n {
			dst[i] = complex(float64(row[2*i]), float64(row[2*i+1]))
		}
	} else {
		for i := range n {
			dst[i] = complex(float64(row[i]), 0)
		}
	}
	return dst
}

func setComplexRow(f *tofu.Frame, y int, src []complex128) {
	row := f.Row(y)
	for i, v := range src {
		row[2*i] = float32(real(v))
		row[2*i+1] = float32(imag(v))
	}
}

// sample linearly interpolates row at position p, returning zero outside it.
func sample(row []float32, p float64) float64 {
	if p < 0 || p > float64(len(row)-1) {
		return 0
	}
	i := int(p)
	if i == len(row)-1 {
		return float64(row[i])
	}
	t := p - float64(i)
	return float64(row[i])*(1-t) + float64(row[i+1])*t
}

func forRangeErr(ctx context.Context, n int, fn func(i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}
	return g.Wait()
}
