package reco

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/config"
	"github.com/bpradana/tofu/internal/imageio"
	"github.com/bpradana/tofu/internal/spectral"
)

// EstimateCenter estimates the rotation axis with the configured method.
func (r *Reconstructor) EstimateCenter(ctx context.Context, p *config.Params) (float64, error) {
	if p.EstimateMethod == "correlation" {
		return r.EstimateCenterByCorrelation(p)
	}
	return r.EstimateCenterByReconstruction(ctx, p)
}

// EstimateCenterByReconstruction reconstructs the middle sinogram around
// five axis guesses per iteration and keeps the one with the lowest
// integrated absolute slice value, halving the search window every
// iteration.
func (r *Reconstructor) EstimateCenterByReconstruction(ctx context.Context, p *config.Params) (float64, error) {
	if p.FromProjections {
		return 0, ErrFromProjections
	}
	sinos, err := filepath.Glob(filepath.Join(p.Input, "*.tif"))
	if err != nil {
		return 0, err
	}
	if len(sinos) == 0 {
		return 0, fmt.Errorf("%w in %s", ErrNoSinograms, p.Input)
	}
	slices.Sort(sinos)

	// Use a sinogram that probably has some interesting data.
	filename := sinos[len(sinos)/2]
	sinogram, err := imageio.ReadImage(filename)
	if err != nil {
		return 0, err
	}
	rowSums := make([]float64, sinogram.Height)
	for y := range sinogram.Height {
		for _, v := range sinogram.Row(y) {
			rowSums[y] += float64(v)
		}
	}
	m0 := stat.Mean(rowSums, nil)

	tmpDir, err := os.MkdirTemp("", "tofu-estimate-")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.log.Info("Could not remove temporary directory", zap.String("dir", tmpDir), zap.Error(err))
		}
	}()

	q := *p
	q.Input = filename
	q.Output = filepath.Join(tmpDir, "slice-%i.tif")
	q.Start, q.Number, q.PassSize = 0, 0, 0
	q.DryRun, q.GenerateInput = false, false
	q.Darks, q.Flats, q.Flats2 = "", "", ""
	q.DumpGraph, q.EnableTracing = "", false
	tmpOutput := filepath.Join(tmpDir, "slice-0.tif")

	score := func(guess float64) (float64, error) {
		q.Axis = guess
		if _, err := r.Tomo(ctx, &q); err != nil {
			return 0, err
		}
		slice, err := imageio.ReadImage(tmpOutput)
		if err != nil {
			return 0, err
		}
		var absSum, negSum float64
		for _, v := range slice.Data {
			absSum += math.Abs(float64(v))
			if v < 0 {
				negSum -= float64(v)
			}
		}
		qia, qin := absSum/m0, negSum/m0
		r.log.Info("Scored axis guess", zap.Float64("axis", guess), zap.Float64("Q_IA", qia), zap.Float64("Q_IN", qin))
		return qia, nil
	}

	type trial struct {
		guess float64
		score float64
	}
	center := float64(sinogram.Width) / 2
	width := float64(sinogram.Width) / 2
	for i := range p.NumIterations {
		r.log.Info(fmt.Sprintf("Estimate iteration: %d", i))
		trials := make([]trial, 0, 5)
		for x := -2; x <= 2; x++ {
			guess := center + width/4*float64(x)
			s, err := score(guess)
			if err != nil {
				return 0, err
			}
			trials = append(trials, trial{guess, s})
		}
		best := slices.MinFunc(trials, func(a, b trial) int { return cmp.Compare(a.score, b.score) })
		center = best.guess
		r.log.Info(fmt.Sprintf("Currently best center: %g", center))
		width /= 2
	}
	return center, nil
}

// EstimateCenterByCorrelation correlates the first projection with the one
// half a turn later, flat-field corrected when darks and flats are set.
func (r *Reconstructor) EstimateCenterByCorrelation(p *config.Params) (float64, error) {
	files, err := imageio.GetFilenames(p.Input)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w: %s", imageio.ErrNoFiles, p.Input)
	}
	lastIndex := len(files) - 1
	if p.Number > 0 {
		lastIndex = p.Start + p.Number
	}
	if lastIndex >= len(files) {
		return 0, fmt.Errorf("%w: projection %d of %d", imageio.ErrNoFiles, lastIndex, len(files))
	}
	first, err := imageio.ReadImage(files[0])
	if err != nil {
		return 0, err
	}
	last, err := imageio.ReadImage(files[lastIndex])
	if err != nil {
		return 0, err
	}
	if !first.SameShape(last) {
		return 0, fmt.Errorf("reco: projections %s and %s differ in shape", first, last)
	}

	if p.Darks != "" && p.Flats != "" {
		dark, err := imageio.ReadFirst(p.Darks)
		if err != nil {
			return 0, err
		}
		flat, err := imageio.ReadFirst(p.Flats)
		if err != nil {
			return 0, err
		}
		if !dark.SameShape(first) || !flat.SameShape(first) {
			return 0, fmt.Errorf("reco: dark %s or flat %s does not match projection %s", dark, flat, first)
		}
		first = flatCorrect(flat, dark, first)
		last = flatCorrect(flat, dark, last)
	}

	end := first.Height
	if p.Height > 0 {
		end = min(p.Y+p.Height, first.Height)
	}
	if p.Y >= end {
		return 0, fmt.Errorf("reco: y=%d outside %d rows", p.Y, first.Height)
	}
	first = rowRegion(first, p.Y, end, p.YStep)
	last = rowRegion(last, p.Y, end, p.YStep)

	axis := ComputeRotationAxis(first, last)
	r.log.Debug("Correlation axis", zap.Float64("axis", axis))
	return axis, nil
}

// flatCorrect returns log((flat-dark)/(radio-dark)) with non-positive
// ratios and zero denominators mapped to zero.
func flatCorrect(flat, dark, radio *tofu.Frame) *tofu.Frame {
	out := tofu.NewFrame(radio.Width, radio.Height)
	for i := range out.Data {
		den := float64(radio.Data[i] - dark.Data[i])
		ratio := 0.0
		if den != 0 {
			ratio = float64(flat.Data[i]-dark.Data[i]) / den
		}
		if ratio <= 0 {
			ratio = 1
		}
		out.Data[i] = float32(math.Log(ratio))
	}
	return out
}

func rowRegion(f *tofu.Frame, start, end, step int) *tofu.Frame {
	step = max(step, 1)
	n := (end - start + step - 1) / step
	out := tofu.NewFrame(f.Width, n)
	for i := range n {
		copy(out.Row(i), f.Row(start+i*step))
	}
	return out
}

// ComputeRotationAxis estimates the rotation axis from the projections at 0
// and 180 degrees. The last projection is flipped vertically so that the
// convolution acts as a horizontal mirror correlation; the peak column c of
// the result gives the axis (width/2 + c) / 2.
func ComputeRotationAxis(first, last *tofu.Frame) float64 {
	w, h := first.Width, first.Height
	a := make([]float64, w*h)
	b := make([]float64, w*h)
	for i := range a {
		a[i] = float64(first.Data[i])
	}
	for y := range h {
		src := last.Row(h - 1 - y)
		for x, v := range src {
			b[y*w+x] = float64(v)
		}
	}
	floats.AddConst(-stat.Mean(a, nil), a)
	floats.AddConst(-stat.Mean(b, nil), b)

	convolved := spectral.Convolve2D(a, w, h, b, w, h)
	column := floats.MaxIdx(convolved) % w
	return (float64(w)/2 + float64(column)) / 2
}
