package reco

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpradana/tofu"
)

// mirrored returns a projection with an asymmetric profile and its mirror
// image about axis, both three rows high.
func mirrored(width int, axis float64) (*tofu.Frame, *tofu.Frame) {
	profile := func(i int) float64 {
		x := float64(i)
		return math.Exp(-math.Pow((x-20)/3, 2)) + 0.5*math.Exp(-math.Pow((x-30)/2, 2))
	}
	first, last := tofu.NewFrame(width, 3), tofu.NewFrame(width, 3)
	for y := range 3 {
		for i := range width {
			first.Set(i, y, float32(profile(i)))
			if j := int(2*axis) - 1 - i; j >= 0 && j < width {
				last.Set(i, y, float32(profile(j)))
			}
		}
	}
	return first, last
}

func TestComputeRotationAxis(t *testing.T) {
	for _, axis := range []float64{28, 28.5, 31} {
		first, last := mirrored(64, axis)
		assert.InDelta(t, axis, ComputeRotationAxis(first, last), 1e-9, axis)
	}
}

func TestFlatCorrectProjection(t *testing.T) {
	flat := constant(3, 1, 3)
	dark := constant(3, 1, 1)
	radio := tofu.NewFrame(3, 1)
	copy(radio.Data, []float32{5, 1, 0})
	out := flatCorrect(flat, dark, radio)
	assert.InDelta(t, math.Log(0.5), out.Data[0], 1e-6)
	assert.Zero(t, out.Data[1])
	assert.Zero(t, out.Data[2])
}

func TestEstimateCenterByCorrelation(t *testing.T) {
	first, last := mirrored(64, 30)
	middle := constant(64, 3, 7)
	p := params()
	p.EstimateMethod = "correlation"
	p.Input = writeFrames(t, tofu.Stream{first, middle, last})
	r := New(nil)

	axis, err := r.EstimateCenter(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, 30, axis, 1e-9)

	p.Y, p.Height = 1, 1
	axis, err = r.EstimateCenter(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, 30, axis, 1e-9)

	p.Number = 5
	_, err = r.EstimateCenter(context.Background(), p)
	assert.Error(t, err)

	p.Number = 0
	p.Y = 3
	_, err = r.EstimateCenter(context.Background(), p)
	assert.Error(t, err)
}

func TestEstimateCenterByCorrelationFlatCorrected(t *testing.T) {
	first, last := mirrored(64, 29.5)
	// radio = dark + (flat - dark) * exp(-profile) corrects back to profile.
	absorb := func(f *tofu.Frame) *tofu.Frame {
		out := f.Clone()
		for i, v := range f.Data {
			out.Data[i] = float32(1 + 2*math.Exp(-float64(v)))
		}
		return out
	}
	p := params()
	p.Input = writeFrames(t, tofu.Stream{absorb(first), absorb(last)})
	p.Darks = writeFrames(t, tofu.Stream{constant(64, 3, 1)})
	p.Flats = writeFrames(t, tofu.Stream{constant(64, 3, 3)})

	axis, err := New(nil).EstimateCenterByCorrelation(p)
	require.NoError(t, err)
	assert.InDelta(t, 29.5, axis, 1e-9)

	p.Flats = writeFrames(t, tofu.Stream{constant(32, 3, 3)})
	_, err = New(nil).EstimateCenterByCorrelation(p)
	assert.Error(t, err)
}

// shiftedSinograms writes count phantom sinograms whose rotation axis sits
// shift pixels right of their centre.
func shiftedSinograms(t *testing.T, width, angles, count, shift int) string {
	t.Helper()
	sinos := generate(t, "generate", tofu.Properties{"width": width, "number": angles, "height": count})
	for i, s := range sinos {
		shifted := tofu.NewFrame(width+shift, s.Height)
		for y := range s.Height {
			copy(shifted.Row(y)[shift:], s.Row(y))
		}
		sinos[i] = shifted
	}
	return writeFrames(t, sinos)
}

func TestEstimateCenterByReconstruction(t *testing.T) {
	p := params()
	p.Input = shiftedSinograms(t, 32, 64, 3, 0)
	p.NumIterations = 2
	center, err := New(nil).EstimateCenter(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, 16, center, 1)

	p.Input = shiftedSinograms(t, 64, 64, 3, 4)
	p.NumIterations = 4
	center, err = New(nil).EstimateCenter(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, 36, center, 1)

	p.Input = shiftedSinograms(t, 128, 64, 3, 6)
	center, err = New(nil).EstimateCenter(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, 70, center, 1)
}

func TestEstimateCenterByReconstructionErrors(t *testing.T) {
	p := params()
	p.FromProjections = true
	_, err := New(nil).EstimateCenterByReconstruction(context.Background(), p)
	assert.ErrorIs(t, err, ErrFromProjections)

	p.FromProjections = false
	p.Input = t.TempDir()
	_, err = New(nil).EstimateCenterByReconstruction(context.Background(), p)
	assert.ErrorIs(t, err, ErrNoSinograms)
}
