package tasks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpradana/tofu"
)

func TestLaminoRampTaps(t *testing.T) {
	out := process(t, "lamino-ramp", tofu.Properties{"width": 8, "height": 2, "theta": math.Pi / 2})
	require.Len(t, out, 1)
	k := out[0]
	pi2 := math.Pi * math.Pi
	want := []float64{0.25, -1 / pi2, 0, -1 / (9 * pi2), 0, -1 / (9 * pi2), 0, -1 / pi2}
	for x, w := range want {
		assert.InDelta(t, w, k.At(x, 0), 1e-6, "tap %d", x)
		assert.Zero(t, k.At(x, 1))
	}

	narrow := process(t, "lamino-ramp", tofu.Properties{"width": 8, "height": 2, "theta": math.Pi / 6, "fwidth": 4})[0]
	assert.InDelta(t, 0.5, narrow.At(0, 0), 1e-6)
	assert.InDelta(t, -2/pi2, narrow.At(1, 0), 1e-6)
	assert.Zero(t, narrow.At(3, 0))
	assert.Zero(t, narrow.At(5, 0))

	_, err := processErr("lamino-ramp", nil)
	assert.ErrorIs(t, err, ErrBadProperty)
}

func TestLaminoConvBroadcastsKernel(t *testing.T) {
	spectrum := func(re, im float32) *tofu.Frame {
		f := tofu.NewComplexFrame(1, 1)
		f.Data[0], f.Data[1] = re, im
		return f
	}
	spectra := tofu.Stream{spectrum(1, 2), spectrum(0, 1)}
	kernel := tofu.Stream{spectrum(3, 4)}

	out := process(t, "lamino-conv", nil, spectra, kernel)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{-5, 10}, out[0].Data)
	assert.Equal(t, []float32{-4, 3}, out[1].Data)

	_, err := processErr("lamino-conv", nil, spectra, tofu.Stream{spectrum(1, 0), spectrum(1, 0), spectrum(1, 0)})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLaminoBackprojectConstantProjections(t *testing.T) {
	const n = 8
	projs := make(tofu.Stream, n)
	for i := range projs {
		p := tofu.NewFrame(16, 16)
		for j := range p.Data {
			p.Data[j] = 1
		}
		projs[i] = p
	}
	props := tofu.Properties{
		"theta":   math.Pi / 2,
		"proj-ox": 8.0, "proj-oy": 8.0,
		"vol-sx": 4, "vol-sy": 4, "vol-sz": 2,
		"vol-ox": 2.0, "vol-oy": 2.0, "vol-oz": 1.0,
	}
	out := process(t, "lamino-bp", props, projs)
	require.Len(t, out, 1)
	vol := out[0]
	assert.Equal(t, 2, vol.Depth)
	for _, v := range vol.Data {
		assert.InDelta(t, 2*math.Pi, v, 1e-4)
	}

	_, err := processErr("lamino-bp", nil, projs)
	assert.ErrorIs(t, err, ErrBadProperty)
}
