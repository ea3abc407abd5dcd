// Package spectral wraps gonum's FFT for the one and two dimensional
// transforms used by the reconstruction tasks.
package spectral

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// plans caches one pool of transforms per length. A CmplxFFT keeps work
// buffers and must not be shared between goroutines.
var plans sync.Map

func plan(n int) *sync.Pool {
	if p, ok := plans.Load(n); ok {
		return p.(*sync.Pool)
	}
	p, _ := plans.LoadOrStore(n, &sync.Pool{
		New: func() any { return fourier.NewCmplxFFT(n) },
	})
	return p.(*sync.Pool)
}

// NextPow2 returns the smallest power of two >= n, and 1 for n < 1.
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Forward computes the unnormalised DFT of x into dst, which may alias x.
func Forward(dst, x []complex128) []complex128 {
	pool := plan(len(x))
	fft := pool.Get().(*fourier.CmplxFFT)
	defer pool.Put(fft)
	return fft.Coefficients(dst, x)
}

// Inverse computes the inverse DFT of x scaled by 1/len(x).
func Inverse(dst, x []complex128) []complex128 {
	pool := plan(len(x))
	fft := pool.Get().(*fourier.CmplxFFT)
	defer pool.Put(fft)
	dst = fft.Sequence(dst, x)
	scale := complex(1/float64(len(x)), 0)
	for i := range dst {
		dst[i] *= scale
	}
	return dst
}

// Forward2D transforms a row-major w x h array in place.
func Forward2D(data []complex128, w, h int) {
	transform2D(data, w, h, Forward)
}

// Inverse2D inverts Forward2D in place, including the 1/(w*h) scaling.
func Inverse2D(data []complex128, w, h int) {
	transform2D(data, w, h, Inverse)
}

func transform2D(data []complex128, w, h int, fn func(dst, x []complex128) []complex128) {
	row := make([]complex128, w)
	for y := range h {
		copy(row, data[y*w:(y+1)*w])
		fn(data[y*w:(y+1)*w], row)
	}
	col := make([]complex128, h)
	out := make([]complex128, h)
	for x := range w {
		for y := range h {
			col[y] = data[y*w+x]
		}
		fn(out, col)
		for y := range h {
			data[y*w+x] = out[y]
		}
	}
}

// Convolve2D returns the central ah x aw part of the full linear convolution
// of a (ah x aw) with b (bh x bw), matching the "same" mode of fftconvolve.
func Convolve2D(a []float64, aw, ah int, b []float64, bw, bh int) []float64 {
	fw, fh := aw+bw-1, ah+bh-1
	pw, ph := NextPow2(fw), NextPow2(fh)

	fa := embed(a, aw, ah, pw, ph)
	fb := embed(b, bw, bh, pw, ph)
	Forward2D(fa, pw, ph)
	Forward2D(fb, pw, ph)
	for i := range fa {
		fa[i] *= fb[i]
	}
	Inverse2D(fa, pw, ph)

	x0, y0 := (fw-aw)/2, (fh-ah)/2
	out := make([]float64, aw*ah)
	for y := range ah {
		for x := range aw {
			out[y*aw+x] = real(fa[(y+y0)*pw+x+x0])
		}
	}
	return out
}

func embed(src []float64, w, h, pw, ph int) []complex128 {
	dst := make([]complex128, pw*ph)
	for y := range h {
		for x := range w {
			dst[y*pw+x] = complex(src[y*w+x], 0)
		}
	}
	return dst
}

// Shift moves the zero frequency of a w x h array to its centre. It swaps
// quadrants, so applying it twice restores the input for even sizes.
func Shift[T any](data []T, w, h int) []T {
	out := make([]T, len(data))
	hw, hh := w/2, h/2
	for y := range h {
		ny := (y + hh) % h
		for x := range w {
			nx := (x + hw) % w
			out[ny*w+nx] = data[y*w+x]
		}
	}
	return out
}
