package reco

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/config"
)

// BuildLaminoGraph builds the laminographic pipeline: projections are
// optionally downsampled, padded by border replication to the requested size,
// filtered with the laminographic ramp in Fourier space and back-projected
// into the bounding box.
func (r *Reconstructor) BuildLaminoGraph(p *config.Params) (*tofu.TaskGraph, error) {
	width, height := p.Width, p.Height
	if !p.GenerateInput {
		var err error
		if width, height, err = DetermineShape(p); err != nil {
			r.log.Info(err.Error())
		}
	}
	if width == 0 || height == 0 {
		return nil, ErrShapeRequired
	}
	vx, vy, vz := p.BBox[0], p.BBox[1], p.BBox[2]
	padWidth, padHeight := p.Pad[0], p.Pad[1]
	switch {
	case vx == 0 || vy == 0 || vz == 0:
		return nil, fmt.Errorf("%w: bbox not set", ErrGeometryRequired)
	case padWidth == 0 || padHeight == 0:
		return nil, fmt.Errorf("%w: pad not set", ErrGeometryRequired)
	case math.IsNaN(p.Tilt):
		return nil, fmt.Errorf("%w: tilt not set", ErrGeometryRequired)
	case padWidth < width || padHeight < height:
		return nil, fmt.Errorf("%w: pad %dx%d smaller than input %dx%d", ErrGeometryRequired, padWidth, padHeight, width, height)
	}

	ds := max(p.Downsample, 1)
	xpad := (padWidth - width) / 2 / ds
	ypad := (padHeight - height) / 2 / ds
	// The right and bottom borders absorb odd remainders so that padded
	// projections match the ramp size.
	xr := padWidth/ds - width/ds - xpad
	yb := padHeight/ds - height/ds - ypad

	outname, err := OutputName(p.Output)
	if err != nil {
		return nil, err
	}

	g := tofu.NewTaskGraph()
	b := r.builder(g)

	var first *tofu.Node
	switch {
	case p.GenerateInput:
		first = b.task("generate", tofu.Properties{"kind": "projection", "width": width, "height": height})
		b.set(first, tofu.Properties{"number": optional(p.Number)})
	case p.Darks != "" && p.Flats != "":
		first = r.flatField(b, p)
	default:
		first = b.task("read", tofu.Properties{"path": p.Input})
		b.set(first, readingProps(p))
	}

	pad := b.task("padding-2d", tofu.Properties{"xl": xpad, "xr": xr, "yt": ypad, "yb": yb, "mode": "brep"})
	ramp := b.task("lamino-ramp", tofu.Properties{
		"width":  padWidth / ds,
		"height": padHeight / ds,
		"fwidth": float64(vx),
		"theta":  p.Tilt,
		"tau":    p.Tau,
	})
	conv := b.task("lamino-conv", nil)
	fft1 := b.task("fft", tofu.Properties{"dimensions": 2})
	fft2 := b.task("fft", tofu.Properties{"dimensions": 2})
	ifft := b.task("ifft", tofu.Properties{"dimensions": 2, "crop-width": padWidth / ds, "crop-height": padHeight / ds})
	rec := b.task("lamino-bp", tofu.Properties{
		"theta":   p.Tilt,
		"psi":     p.Psi,
		"proj-ox": p.LaminoAxis[0]/float64(ds) + float64(xpad),
		"proj-oy": p.LaminoAxis[1]/float64(ds) + float64(ypad),
		"vol-sx":  vx,
		"vol-sy":  vy,
		"vol-sz":  vz,
		"vol-ox":  float64(vx) / 2,
		"vol-oy":  float64(vy) / 2,
		"vol-oz":  float64(vz) / 2,
	})
	b.set(rec, tofu.Properties{"angle-step": nonZero(p.Angle)})
	writer := b.task("write", tofu.Properties{"filename": outname})

	if ds > 1 {
		downsample := b.task("downsample", tofu.Properties{"factor": ds})
		b.chain(first, downsample, pad)
	} else {
		b.chain(first, pad)
	}
	b.chain(pad, fft1)
	b.chain(ramp, fft2)
	b.connectFull(fft1, conv, 0)
	b.connectFull(fft2, conv, 1)
	b.chain(conv, ifft, rec, writer)
	if b.err != nil {
		return nil, b.err
	}
	r.log.Debug(fmt.Sprintf("Write to %s", outname))
	return g, nil
}

// Lamino reconstructs a laminographic volume.
func (r *Reconstructor) Lamino(ctx context.Context, p *config.Params) (time.Duration, error) {
	g, err := r.BuildLaminoGraph(p)
	if err != nil {
		return 0, err
	}
	elapsed, err := r.run(ctx, g, p)
	if err != nil {
		return 0, err
	}
	r.log.Info("Laminographic reconstruction finished", zap.Duration("elapsed", elapsed))
	return elapsed, nil
}
