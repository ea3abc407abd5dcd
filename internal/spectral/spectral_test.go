package spectral

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPow2(t *testing.T) {
	for in, want := range map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 100: 128, 1024: 1024, 1056: 2048} {
		assert.Equal(t, want, NextPow2(in), "NextPow2(%d)", in)
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	x := []complex128{1, 2, 3, 4, 0, -1, 2.5, 7}
	coeff := Forward(nil, x)
	assert.InDelta(t, 18.5, real(coeff[0]), 1e-9)

	back := Inverse(nil, coeff)
	require.Len(t, back, len(x))
	for i := range x {
		assert.InDelta(t, 0, cmplx.Abs(back[i]-x[i]), 1e-9, "index %d", i)
	}
}

func TestForward2DImpulse(t *testing.T) {
	const w, h = 4, 2
	data := make([]complex128, w*h)
	data[0] = 1
	Forward2D(data, w, h)
	for i, v := range data {
		assert.InDelta(t, 1, real(v), 1e-12, "index %d", i)
		assert.InDelta(t, 0, imag(v), 1e-12, "index %d", i)
	}
	Inverse2D(data, w, h)
	assert.InDelta(t, 1, real(data[0]), 1e-12)
	assert.InDelta(t, 0, real(data[5]), 1e-12)
}

func TestConvolve2DSameWithDelta(t *testing.T) {
	a := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	// A centred 3x3 delta leaves the input unchanged in "same" mode.
	delta := []float64{
		0, 0, 0,
		0, 1, 0,
		0, 0, 0,
	}
	got := Convolve2D(a, 3, 2, delta, 3, 3)
	require.Len(t, got, len(a))
	for i := range a {
		assert.InDelta(t, a[i], got[i], 1e-9, "index %d", i)
	}

	// A shifted delta moves the image one column right.
	shifted := []float64{
		0, 0, 0,
		0, 0, 1,
		0, 0, 0,
	}
	got = Convolve2D(a, 3, 2, shifted, 3, 3)
	want := []float64{0, 1, 2, 0, 4, 5}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

func TestShift(t *testing.T) {
	in := []int{
		0, 1, 2, 3,
		4, 5, 6, 7,
	}
	out := Shift(in, 4, 2)
	assert.Equal(t, []int{6, 7, 4, 5, 2, 3, 0, 1}, out)
	assert.Equal(t, in, Shift(out, 4, 2))
}
