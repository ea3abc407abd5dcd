package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

type option struct {
	section string
	name    string
	usage   string
	value   func(p *Params) pflag.Value
}

type stringValue struct{ dst *string }

func (v *stringValue) String() string {
	if v.dst == nil {
		return ""
	}
	return *v.dst
}
func (v *stringValue) Set(s string) error { *v.dst = s; return nil }
func (v *stringValue) Type() string       { return "string" }

type boolValue struct{ dst *bool }

func (v *boolValue) String() string {
	if v.dst == nil {
		return "false"
	}
	return strconv.FormatBool(*v.dst)
}

func (v *boolValue) Set(s string) error {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: %q must be true or false", ErrInvalidValue, s)
	}
	*v.dst = b
	return nil
}

func (v *boolValue) Type() string     { return "bool" }
func (v *boolValue) IsBoolFlag() bool { return true }

type floatValue struct{ dst *float64 }

func (v *floatValue) String() string {
	if v.dst == nil {
		return "0"
	}
	return strconv.FormatFloat(*v.dst, 'g', -1, 64)
}

func (v *floatValue) Set(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	*v.dst = f
	return nil
}

func (v *floatValue) Type() string { return "float" }

func str(field func(*Params) *string) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &stringValue{field(p)} }
}

func flag(field func(*Params) *bool) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &boolValue{field(p)} }
}

func float(field func(*Params) *float64) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &floatValue{field(p)} }
}

func optFloat(field func(*Params) *float64) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &optFloatValue{field(p)} }
}

func size(field func(*Params) *int) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &sizeValue{dst: field(p)} }
}

func optSize(field func(*Params) *int) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &sizeValue{dst: field(p), optional: true} }
}

func ints(field func(*Params) []int) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &tupleValue[int]{field(p)} }
}

func floats(field func(*Params) []float64) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &tupleValue[float64]{field(p)} }
}

func rng(field func(*Params) *Range) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &rangeValue{field(p)} }
}

func enum(field func(*Params) *string, choices ...string) func(*Params) pflag.Value {
	return func(p *Params) pflag.Value { return &enumValue{dst: field(p), choices: choices} }
}

var options = []option{
	{"general", "config", "File name of configuration", str(func(p *Params) *string { return &p.Config })},
	{"general", "verbose", "Verbose output", flag(func(p *Params) *bool { return &p.Verbose })},
	{"general", "enable-tracing", "Enable tracing and store result in .PID.json", flag(func(p *Params) *bool { return &p.EnableTracing })},
	{"general", "input", "Location with sinograms or projections", str(func(p *Params) *string { return &p.Input })},
	{"general", "output", "Path to location or format-specified file path for storing reconstructed slices", str(func(p *Params) *string { return &p.Output })},
	{"general", "width", "Input width", optSize(func(p *Params) *int { return &p.Width })},
	{"general", "generate-input", "Ignore input field and generate input data", flag(func(p *Params) *bool { return &p.GenerateInput })},
	{"general", "workers", "Run nodes on a pool of this many workers instead of one goroutine each", size(func(p *Params) *int { return &p.Workers })},
	{"general", "dump-graph", "Write the task graph in DOT format to this file", str(func(p *Params) *string { return &p.DumpGraph })},

	{"reading", "y", "Vertical coordinate from where to start reading the input image", size(func(p *Params) *int { return &p.Y })},
	{"reading", "height", "Number of rows which will be read", optSize(func(p *Params) *int { return &p.Height })},
	{"reading", "y-step", "Read every \"step\" row from the input", size(func(p *Params) *int { return &p.YStep })},
	{"reading", "start", "Offset to the first read file", size(func(p *Params) *int { return &p.Start })},
	{"reading", "number", "Number of files to read", optSize(func(p *Params) *int { return &p.Number })},
	{"reading", "step", "Read every \"step\" file", size(func(p *Params) *int { return &p.Step })},

	{"flat-correction", "darks", "Location with darks", str(func(p *Params) *string { return &p.Darks })},
	{"flat-correction", "dark-scale", "Scaling dark", float(func(p *Params) *float64 { return &p.DarkScale })},
	{"flat-correction", "reduction-mode", "Flat-field correction options: Average (darks) or median (flats)", str(func(p *Params) *string { return &p.ReductionMode })},
	{"flat-correction", "fix-nan-and-inf", "Fix nan and inf", flag(func(p *Params) *bool { return &p.FixNaNAndInf })},
	{"flat-correction", "flats", "Location with flats", str(func(p *Params) *string { return &p.Flats })},
	{"flat-correction", "flats2", "Location with flats 2 for interpolation correction", str(func(p *Params) *string { return &p.Flats2 })},
	{"flat-correction", "absorptivity", "Do absorption correction", flag(func(p *Params) *bool { return &p.Absorptivity })},

	{"sinos", "pass-size", "Number of sinograms to process per pass", size(func(p *Params) *int { return &p.PassSize })},

	{"reconstruction", "angle", "Angle step between projections in radians", optFloat(func(p *Params) *float64 { return &p.Angle })},
	{"reconstruction", "projection-filter", "Projection filter", enum(func(p *Params) *string { return &p.ProjectionFilter }, "ramp", "ramp-fromreal", "butterworth")},

	{"tomographic-reconstruction", "axis", "Axis position", optFloat(func(p *Params) *float64 { return &p.Axis })},
	{"tomographic-reconstruction", "dry-run", "Reconstruct without writing data", flag(func(p *Params) *bool { return &p.DryRun })},
	{"tomographic-reconstruction", "offset", "Angle offset of first projection in radians", float(func(p *Params) *float64 { return &p.Offset })},
	{"tomographic-reconstruction", "method", "Reconstruction method: fbp, dfi, sart or sirt", str(func(p *Params) *string { return &p.Method })},

	{"laminographic-reconstruction", "axis", "Axis position as x,y", floats(func(p *Params) []float64 { return p.LaminoAxis[:] })},
	{"laminographic-reconstruction", "bbox", "Bounding box of reconstructed volume as x,y,z", ints(func(p *Params) []int { return p.BBox[:] })},
	{"laminographic-reconstruction", "downsample", "Downsampling factor", size(func(p *Params) *int { return &p.Downsample })},
	{"laminographic-reconstruction", "pad", "Final padded size of input as width,height", ints(func(p *Params) []int { return p.Pad[:] })},
	{"laminographic-reconstruction", "tau", "Pixel size in microns", float(func(p *Params) *float64 { return &p.Tau })},
	{"laminographic-reconstruction", "tilt", "Tilt angle of sample in radians", optFloat(func(p *Params) *float64 { return &p.Tilt })},
	{"laminographic-reconstruction", "psi", "Axis misalignment angle in radians", float(func(p *Params) *float64 { return &p.Psi })},

	{"fbp", "crop-width", "Width of final slice", optSize(func(p *Params) *int { return &p.CropWidth })},
	{"fbp", "from-projections", "Reconstruct from projections instead of sinograms", flag(func(p *Params) *bool { return &p.FromProjections })},

	{"dfi", "oversampling", "Oversample factor", optSize(func(p *Params) *int { return &p.Oversampling })},

	{"ir", "num-iterations", "Maximum number of iterations", size(func(p *Params) *int { return &p.NumIterations })},

	{"sart", "relaxation-factor", "Relaxation factor", float(func(p *Params) *float64 { return &p.RelaxationFactor })},
	{"sart", "num-angles", "Sinogram height", optSize(func(p *Params) *int { return &p.NumAngles })},

	{"estimate", "estimate-method", "Rotation axis estimation algorithm: reconstruction or correlation", enum(func(p *Params) *string { return &p.EstimateMethod }, "reconstruction", "correlation")},

	{"perf", "num-runs", "Number of runs", size(func(p *Params) *int { return &p.NumRuns })},
	{"perf", "width-range", "Width or range of widths of generated projections", rng(func(p *Params) *Range { return &p.WidthRange })},
	{"perf", "height-range", "Height or range of heights of generated projections", rng(func(p *Params) *Range { return &p.HeightRange })},
	{"perf", "num-projection-range", "Number or range of number of projections", rng(func(p *Params) *Range { return &p.NumProjectionRange })},
	{"perf", "database", "SQLite file recording every run", str(func(p *Params) *string { return &p.Database })},
	{"perf", "plot", "PNG file with a chart of run times", str(func(p *Params) *string { return &p.Plot })},
}
