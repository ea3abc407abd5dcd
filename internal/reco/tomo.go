package reco

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/config"
)

// Methods lists the tomographic reconstruction methods.
var Methods = []string{"fbp", "dfi", "sart", "sirt"}

func validMethod(method string) error {
	for _, m := range Methods {
		if m == method {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
}

// BuildTomoGraph builds the reconstruction graph for p.Method: a reader (or
// generator, or flat-field pipeline), an optional projection transpose, the
// method's chain and a writer.
func (r *Reconstructor) BuildTomoGraph(p *config.Params) (*tofu.TaskGraph, error) {
	return r.buildTomo(p, 0)
}

func (r *Reconstructor) buildTomo(p *config.Params, startIndex int) (*tofu.TaskGraph, error) {
	if err := validMethod(p.Method); err != nil {
		return nil, err
	}
	g := tofu.NewTaskGraph()
	b := r.builder(g)

	var reader *tofu.Node
	width, height := p.Width, p.Height
	fromProjections := p.FromProjections || p.GenerateInput
	if p.GenerateInput {
		reader = b.task("generate", tofu.Properties{"kind": "projection"})
		b.set(reader, tofu.Properties{"width": optional(p.Width), "height": optional(p.Height), "number": optional(p.Number)})
		if b.err == nil {
			width, height = intProperty(reader, "width"), intProperty(reader, "height")
		}
	} else {
		if p.FromProjections && p.Darks != "" && p.Flats != "" {
			reader = r.flatField(b, p)
		} else {
			reader = b.task("read", tofu.Properties{"path": p.Input})
			b.set(reader, readingProps(p))
		}
		var err error
		if width, height, err = DetermineShape(p); err != nil {
			r.log.Info(err.Error())
		}
	}

	var writer *tofu.Node
	if p.DryRun {
		writer = b.task("null", nil)
	} else {
		outname, err := OutputName(p.Output)
		if err != nil {
			return nil, err
		}
		writer = b.task("write", tofu.Properties{"filename": outname, "start-index": startIndex})
		r.log.Debug(fmt.Sprintf("Write to %s", outname))
	}

	sinoOutput := reader
	if fromProjections {
		var n int
		if p.GenerateInput {
			if reader != nil {
				n = intProperty(reader, "number")
			}
		} else {
			files, err := selectFiles(p.Input, p.Start, p.Number, p.Step)
			if err != nil {
				return nil, err
			}
			n = len(files)
		}
		r.log.Debug(fmt.Sprintf("num_projections = %d", n))
		sinoOutput = b.task("transpose-projections", tofu.Properties{"number": n})
		b.chain(reader, sinoOutput)
		if height > 0 {
			// Sinogram height is the one needed for further padding.
			height = n
		}
	}

	switch p.Method {
	case "fbp":
		r.fbp(b, p, sinoOutput, writer, width, height)
	case "sart", "sirt":
		ir := b.task("ir", tofu.Properties{
			"method":            p.Method,
			"relaxation-factor": p.RelaxationFactor,
			"max-iterations":    p.NumIterations,
		})
		b.set(ir, tofu.Properties{
			"angle-step": nonZero(p.Angle),
			"num-angles": optional(p.NumAngles),
			"axis-pos":   optionalFloat(p.Axis),
		})
		b.chain(sinoOutput, ir, writer)
	case "dfi":
		pad := b.task("zeropad", tofu.Properties{"oversampling": max(p.Oversampling, 1)})
		b.set(pad, tofu.Properties{"center-of-rotation": optionalFloat(p.Axis)})
		fft := b.task("fft", tofu.Properties{"dimensions": 1, "auto-zeropadding": false})
		dfi := b.task("dfi-sinc", nil)
		b.set(dfi, tofu.Properties{"angle-step": nonZero(p.Angle)})
		ifft := b.task("ifft", tofu.Properties{"dimensions": 2})
		swapForward := b.task("swap-quadrants", nil)
		swapBackward := b.task("swap-quadrants", nil)
		b.chain(sinoOutput, pad, fft, dfi, swapForward, ifft, swapBackward, writer)
	}
	if b.err != nil {
		return nil, b.err
	}
	return g, nil
}

func (r *Reconstructor) fbp(b *builder, p *config.Params, src, writer *tofu.Node, width, height int) {
	fft := b.task("fft", tofu.Properties{"dimensions": 1})
	ifft := b.task("ifft", tofu.Properties{"dimensions": 1})
	filter := b.task("filter", tofu.Properties{"filter": p.ProjectionFilter})
	bp := b.task("backproject", nil)
	b.set(bp, tofu.Properties{
		"axis-pos":     optionalFloat(p.Axis),
		"angle-step":   nonZero(p.Angle),
		"angle-offset": nonZero(p.Offset),
	})

	if width > 0 && height > 0 {
		// Pad the image with its extent to prevent reconstruction rings.
		pad := b.task("pad", nil)
		crop := b.task("cut-roi", nil)
		if b.err == nil {
			b.err = SetupPadding(pad, crop, width, height)
		}
		if b.err == nil {
			r.log.Debug(fmt.Sprintf("Padding to %dx%d pixels", intProperty(pad, "width"), intProperty(pad, "height")))
		}
		b.chain(src, pad, fft, filter, ifft, crop, bp, writer)
		return
	}
	if p.CropWidth > 0 {
		b.set(ifft, tofu.Properties{"crop-width": p.CropWidth})
		r.log.Debug(fmt.Sprintf("Cropping to %d pixels", p.CropWidth))
	}
	b.chain(src, fft, filter, ifft, bp, writer)
}

// Tomo reconstructs slices and returns the time spent in the scheduler. With
// pass-size set, sinograms are processed in several runs of at most that many
// sinograms each.
func (r *Reconstructor) Tomo(ctx context.Context, p *config.Params) (time.Duration, error) {
	if p.PassSize == 0 || p.FromProjections || p.GenerateInput {
		g, err := r.BuildTomoGraph(p)
		if err != nil {
			return 0, err
		}
		elapsed, err := r.run(ctx, g, p)
		if err != nil {
			return 0, err
		}
		r.log.Info("Reconstruction finished", zap.String("method", p.Method), zap.Duration("elapsed", elapsed))
		return elapsed, nil
	}

	if err := validMethod(p.Method); err != nil {
		return 0, err
	}
	files, err := selectFiles(p.Input, p.Start, p.Number, p.Step)
	if err != nil {
		return 0, err
	}
	var total time.Duration
	step := max(p.Step, 1)
	for first := 0; first < len(files); first += p.PassSize {
		pass := *p
		pass.Start = p.Start + first*step
		pass.Number = min(p.PassSize, len(files)-first)
		g, err := r.buildTomo(&pass, first)
		if err != nil {
			return 0, err
		}
		r.log.Debug("Reconstructing pass", zap.Int("first", first), zap.Int("sinograms", pass.Number))
		elapsed, err := r.run(ctx, g, &pass)
		if err != nil {
			return 0, err
		}
		total += elapsed
	}
	r.log.Info("Reconstruction finished", zap.String("method", p.Method), zap.Duration("elapsed", total))
	return total, nil
}

func nonZero(f float64) any {
	if f == 0 {
		return nil
	}
	return optionalFloat(f)
}

func intProperty(node *tofu.Node, name string) int {
	v, _ := node.Property(name)
	n, _ := v.(int)
	return n
}
