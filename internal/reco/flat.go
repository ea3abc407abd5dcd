package reco

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/config"
	"github.com/bpradana/tofu/internal/imageio"
)

// CreateFlatFieldPipeline adds readers for the input, darks and flats to g,
// reduces darks and flats by the configured mode and returns the
// flat-field-correct node fed by them. With flats2 set, flats are
// interpolated between the two flat series over the read projections.
func (r *Reconstructor) CreateFlatFieldPipeline(p *config.Params, g *tofu.TaskGraph) (*tofu.Node, error) {
	b := r.builder(g)
	ffc := r.flatField(b, p)
	if b.err != nil {
		return nil, b.err
	}
	return ffc, nil
}

func (r *Reconstructor) flatField(b *builder, p *config.Params) *tofu.Node {
	reader := b.task("read", tofu.Properties{"path": p.Input})
	darkReader := b.task("read", tofu.Properties{"path": p.Darks})
	flatReader := b.task("read", tofu.Properties{"path": p.Flats})
	ffc := b.task("flat-field-correct", tofu.Properties{
		"dark-scale":         p.DarkScale,
		"absorption-correct": p.Absorptivity,
		"fix-nan-and-inf":    p.FixNaNAndInf,
	})
	b.set(reader, readingProps(p))
	b.set(darkReader, roiProps(p))
	b.set(flatReader, roiProps(p))

	mode := strings.ToLower(p.ReductionMode)
	r.log.Debug(fmt.Sprintf("Doing flat field correction using reduction mode `%s'", mode))

	var flatAfterReader, interpolate *tofu.Node
	if p.Flats2 != "" {
		flatAfterReader = b.task("read", tofu.Properties{"path": p.Flats2})
		b.set(flatAfterReader, roiProps(p))
		numFiles := count(b, p.Input)
		canRead := 0
		if numFiles > p.Start {
			canRead = (numFiles - p.Start + max(p.Step, 1) - 1) / max(p.Step, 1)
		}
		number := numFiles
		if p.Number > 0 {
			number = p.Number
		}
		interpolate = b.task("interpolate", tofu.Properties{"number": max(min(canRead, number), 1)})
	}

	var darkReduced, flatReduced, flatAfterReduced *tofu.Node
	switch mode {
	case "median":
		median := func(reader *tofu.Node, path string) *tofu.Node {
			stack := b.task("stack", tofu.Properties{"number": count(b, path)})
			flatten := b.task("flatten", tofu.Properties{"mode": "median"})
			b.chain(reader, stack, flatten)
			return flatten
		}
		darkReduced = median(darkReader, p.Darks)
		flatReduced = median(flatReader, p.Flats)
		if p.Flats2 != "" {
			flatAfterReduced = median(flatAfterReader, p.Flats2)
		}
	case "average":
		darkReduced = b.task("average", nil)
		flatReduced = b.task("average", nil)
		b.chain(darkReader, darkReduced)
		b.chain(flatReader, flatReduced)
		if p.Flats2 != "" {
			flatAfterReduced = b.task("average", nil)
			b.chain(flatAfterReader, flatAfterReduced)
		}
	default:
		b.fail(fmt.Errorf("%w: %q", ErrInvalidReductionMode, p.ReductionMode))
		return nil
	}

	b.connectFull(reader, ffc, 0)
	b.connectFull(darkReduced, ffc, 1)
	if p.Flats2 != "" {
		b.connectFull(flatReduced, interpolate, 0)
		b.connectFull(flatAfterReduced, interpolate, 1)
		b.connectFull(interpolate, ffc, 2)
	} else {
		b.connectFull(flatReduced, ffc, 2)
	}
	return ffc
}

// count returns the number of files under path, recording lookup errors.
func count(b *builder, path string) int {
	files, err := imageio.GetFilenames(path)
	if err != nil {
		b.fail(err)
		return 0
	}
	return len(files)
}

// BuildFlatCorrectGraph connects the flat-field pipeline to a writer.
func (r *Reconstructor) BuildFlatCorrectGraph(p *config.Params) (*tofu.TaskGraph, error) {
	if p.Darks == "" || p.Flats == "" {
		return nil, ErrFlatsRequired
	}
	outname, err := OutputName(p.Output)
	if err != nil {
		return nil, err
	}
	g := tofu.NewTaskGraph()
	b := r.builder(g)
	ffc := r.flatField(b, p)
	writer := b.task("write", tofu.Properties{"filename": outname})
	b.chain(ffc, writer)
	if b.err != nil {
		return nil, b.err
	}
	r.log.Debug(fmt.Sprintf("Write to %s", outname))
	return g, nil
}

// FlatCorrect writes flat-field corrected projections.
func (r *Reconstructor) FlatCorrect(ctx context.Context, p *config.Params) (time.Duration, error) {
	g, err := r.BuildFlatCorrectGraph(p)
	if err != nil {
		return 0, err
	}
	elapsed, err := r.run(ctx, g, p)
	if err != nil {
		return 0, err
	}
	r.log.Info("Flat field correction finished", zap.Duration("elapsed", elapsed))
	return elapsed, nil
}
