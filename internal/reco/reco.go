// Package reco builds and runs the reconstruction pipelines: flat-field
// correction, tomographic reconstruction by filtered back-projection, direct
// Fourier inversion or iterative methods, laminography and rotation axis
// estimation.
package reco

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/config"
	"github.com/bpradana/tofu/internal/imageio"
	"github.com/bpradana/tofu/internal/logging"
	"github.com/bpradana/tofu/tasks"
)

var (
	// ErrInvalidMethod indicates an unknown tomographic reconstruction method.
	ErrInvalidMethod = errors.New("reco: invalid reconstruction method")
	// ErrInvalidReductionMode indicates a flat-field reduction mode other than average or median.
	ErrInvalidReductionMode = errors.New("reco: invalid reduction mode")
	// ErrShapeRequired indicates that laminography could not determine the input shape.
	ErrShapeRequired = errors.New("reco: both width and height must be specified")
	// ErrGeometryRequired indicates missing laminographic geometry.
	ErrGeometryRequired = errors.New("reco: laminographic geometry incomplete")
	// ErrFlatsRequired indicates flat correction without darks or flats.
	ErrFlatsRequired = errors.New("reco: darks and flats are required")
	// ErrFromProjections indicates axis estimation requested on projections.
	ErrFromProjections = errors.New("reco: cannot estimate axis from projections")
	// ErrNoSinograms indicates that no sinograms were found for axis estimation.
	ErrNoSinograms = errors.New("reco: no sinograms found")
)

// Reconstructor builds task graphs from parameters and runs them.
type Reconstructor struct {
	pm  *tofu.PluginManager
	log *zap.Logger
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithPluginManager replaces the builtin plugins.
func WithPluginManager(pm *tofu.PluginManager) Option {
	return func(r *Reconstructor) {
		if pm != nil {
			r.pm = pm
		}
	}
}

// New returns a Reconstructor logging to log, which may be nil.
func New(log *zap.Logger, opts ...Option) *Reconstructor {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reconstructor{pm: tasks.NewPluginManager(), log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run executes g according to the general parameters and returns the
// scheduler's elapsed time.
func (r *Reconstructor) run(ctx context.Context, g *tofu.TaskGraph, p *config.Params) (time.Duration, error) {
	if p.DumpGraph != "" {
		if err := dumpGraph(g, p.DumpGraph); err != nil {
			return 0, err
		}
		r.log.Debug("Wrote task graph", zap.String("path", p.DumpGraph))
	}
	opts := []tofu.SchedulerOption{tofu.WithHooks(logging.TaskHooks(r.log))}
	if p.Workers > 0 {
		opts = append(opts, tofu.WithWorkers(p.Workers))
	}
	r.log.Debug("Use tracing", zap.Bool("enabled", p.EnableTracing))
	if p.EnableTracing {
		opts = append(opts, tofu.WithTracing(""))
	}
	sched := tofu.NewScheduler(opts...)
	if err := sched.Run(ctx, g); err != nil {
		return 0, err
	}
	return sched.Time(), nil
}

func dumpGraph(g *tofu.TaskGraph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.ExportDOT(f, tofu.DOTWithProperties()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// builder creates and connects nodes, keeping the first error.
type builder struct {
	pm  *tofu.PluginManager
	g   *tofu.TaskGraph
	err error
}

func (r *Reconstructor) builder(g *tofu.TaskGraph) *builder {
	return &builder{pm: r.pm, g: g}
}

func (b *builder) task(name string, props tofu.Properties) *tofu.Node {
	if b.err != nil {
		return nil
	}
	node, err := b.pm.GetTask(name, props)
	if err != nil {
		b.err = err
		return nil
	}
	return node
}

// set assigns props through SetNodeProps.
func (b *builder) set(node *tofu.Node, props tofu.Properties) {
	if b.err != nil {
		return
	}
	b.err = SetNodeProps(node, props)
}

func (b *builder) connectFull(src, dst *tofu.Node, input int) {
	if b.err != nil {
		return
	}
	b.err = b.g.ConnectNodesFull(src, dst, input)
}

// chain connects every node to the next one on input 0.
func (b *builder) chain(nodes ...*tofu.Node) {
	for i := 1; i < len(nodes); i++ {
		b.connectFull(nodes[i-1], nodes[i], 0)
	}
}

func (b *builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

var outputPattern = regexp.MustCompile(`%[0-9]*i`)

// OutputName returns the absolute output path, with slice-%05i.tif appended
// unless path already carries an index pattern.
func OutputName(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if outputPattern.MatchString(path) {
		return abs, nil
	}
	return filepath.Join(abs, "slice-%05i.tif"), nil
}

// NextPowerOfTwo returns the smallest power of two not below n.
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// SetupPadding configures pad to widen frames to the next power of two
// above width+32 with clamped borders, and crop to cut the original width
// back out after filtering.
func SetupPadding(pad, crop *tofu.Node, width, height int) error {
	padding := NextPowerOfTwo(width+32) - width
	if err := pad.SetProperties(tofu.Properties{
		"width":           width + padding,
		"height":          height,
		"x":               padding / 2,
		"y":               0,
		"addressing-mode": "clamp_to_edge",
	}); err != nil {
		return err
	}
	return crop.SetProperties(tofu.Properties{
		"width":  width,
		"height": height,
		"x":      padding / 2,
		"y":      0,
	})
}

// SetNodeProps assigns every value the node has a property for. Nil values
// and properties the node lacks are skipped.
func SetNodeProps(node *tofu.Node, values tofu.Properties) error {
	for name, v := range values {
		if v == nil || !node.HasProperty(name) {
			continue
		}
		if err := node.SetProperty(name, v); err != nil {
			return err
		}
	}
	return nil
}

// readingProps maps the reading section onto reader properties.
func readingProps(p *config.Params) tofu.Properties {
	props := roiProps(p)
	props["start"] = p.Start
	props["step"] = p.Step
	props["number"] = optional(p.Number)
	return props
}

// roiProps holds the vertical region of interest.
func roiProps(p *config.Params) tofu.Properties {
	return tofu.Properties{
		"y":      p.Y,
		"height": optional(p.Height),
		"y-step": p.YStep,
	}
}

func optional(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func optionalFloat(f float64) any {
	if math.IsNaN(f) {
		return nil
	}
	return f
}

// DetermineShape returns the input width and height, taken from the
// parameters when set and from the first input file otherwise. The height
// accounts for the vertical region of interest. A read failure is returned
// together with whatever the parameters provided.
func DetermineShape(p *config.Params) (int, int, error) {
	width, height := p.Width, p.Height
	if width > 0 && height > 0 {
		return width, height, nil
	}
	img, err := imageio.ReadFirst(p.Input)
	if err != nil {
		return width, height, fmt.Errorf("couldn't determine image dimensions from %q: %w", p.Input, err)
	}
	if width == 0 {
		width = img.Width
	}
	if height == 0 && p.Y < img.Height {
		step := max(p.YStep, 1)
		height = (img.Height - p.Y + step - 1) / step
	}
	return width, height, nil
}

// selectFiles returns the input files the reader will use.
func selectFiles(path string, start, number, step int) ([]string, error) {
	all, err := imageio.GetFilenames(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for i := start; i < len(all); i += max(step, 1) {
		if number > 0 && len(files) == number {
			break
		}
		files = append(files, all[i])
	}
	return files, nil
}
