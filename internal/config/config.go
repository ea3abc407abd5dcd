// Package config holds the sectioned reconstruction parameters and binds
// them to command-line flags, a YAML config file and TOFU_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file read when --config is not given.
const DefaultFile = "reco.yaml"

// EnvPrefix prefixes environment variables that override config file values.
const EnvPrefix = "TOFU_"

var (
	// ErrInvalidValue indicates a parameter value that cannot be parsed.
	ErrInvalidValue = errors.New("config: invalid value")
	// ErrConfigFile indicates an unreadable or malformed config file.
	ErrConfigFile = errors.New("config: bad config file")
)

// Params carries every parameter of every section. Unset optional sizes are
// zero and unset optional floats are NaN.
type Params struct {
	// general
	Config        string
	Verbose       bool
	EnableTracing bool
	Input         string
	Output        string
	Width         int
	GenerateInput bool
	Workers       int
	DumpGraph     string

	// reading
	Y      int
	Height int
	YStep  int
	Start  int
	Number int
	Step   int

	// flat-correction
	Darks         string
	DarkScale     float64
	ReductionMode string
	FixNaNAndInf  bool
	Flats         string
	Flats2        string
	Absorptivity  bool

	// sinos
	PassSize int

	// reconstruction
	Angle            float64
	ProjectionFilter string

	// tomographic-reconstruction
	Axis   float64
	DryRun bool
	Offset float64
	Method string

	// laminographic-reconstruction
	LaminoAxis [2]float64
	BBox       [3]int
	Downsample int
	Pad        [2]int
	Tau        float64
	Tilt       float64
	Psi        float64

	// fbp
	CropWidth       int
	FromProjections bool

	// dfi
	Oversampling int

	// ir
	NumIterations int

	// sart
	RelaxationFactor float64
	NumAngles        int

	// estimate
	EstimateMethod string

	// perf
	NumRuns            int
	WidthRange         Range
	HeightRange        Range
	NumProjectionRange Range
	Database           string
	Plot               string
}

// Defaults returns the parameters used when nothing else is configured.
func Defaults() Params {
	return Params{
		Config:             DefaultFile,
		Input:              ".",
		Output:             ".",
		YStep:              1,
		Step:               1,
		DarkScale:          1,
		ReductionMode:      "Average",
		Angle:              math.NaN(),
		ProjectionFilter:   "ramp-fromreal",
		Axis:               math.NaN(),
		Method:             "fbp",
		Downsample:         1,
		Tau:                1,
		Tilt:               math.NaN(),
		NumIterations:      10,
		RelaxationFactor:   0.25,
		EstimateMethod:     "reconstruction",
		NumRuns:            3,
		WidthRange:         Range{From: 1024, To: 1025, Step: 1},
		HeightRange:        Range{From: 1024, To: 1025, Step: 1},
		NumProjectionRange: Range{From: 512, To: 513, Step: 1},
	}
}

// Section groups of the commands.
var (
	TomoSections   = []string{"flat-correction", "sinos", "reconstruction", "tomographic-reconstruction", "fbp", "dfi", "ir", "sart"}
	LaminoSections = []string{"flat-correction", "reconstruction", "laminographic-reconstruction"}
)

// Sections lists every section in file order.
func Sections() []string {
	var names []string
	for _, o := range options {
		if len(names) == 0 || names[len(names)-1] != o.section {
			names = append(names, o.section)
		}
	}
	return names
}

// Binding ties a flag set to the parameters of the sections it registered.
type Binding struct {
	fs      *pflag.FlagSet
	params  *Params
	options []option
}

// Bind registers the flags of general, reading and the given sections on fs,
// backed by a fresh set of defaults.
func Bind(fs *pflag.FlagSet, sections ...string) *Binding {
	p := Defaults()
	b := &Binding{fs: fs, params: &p}
	want := map[string]bool{"general": true, "reading": true}
	for _, s := range sections {
		want[s] = true
	}
	for _, o := range options {
		if !want[o.section] || fs.Lookup(o.name) != nil {
			continue
		}
		fs.Var(o.value(b.params), o.name, o.usage)
		if f := fs.Lookup(o.name); f != nil && f.Value.Type() == "bool" {
			f.NoOptDefVal = "true"
		}
		b.options = append(b.options, o)
	}
	return b
}

// Params returns the bound parameters. Values reflect parsed flags only
// until Load has run.
func (b *Binding) Params() *Params {
	return b.params
}

// Load fills every parameter not given on the command line, first from the
// config file and then from TOFU_* variables found through lookupEnv. A
// missing default config file is not an error.
func (b *Binding) Load(lookupEnv func(string) (string, bool)) (*Params, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	explicit := b.fs.Changed("config")
	if !explicit {
		if v, ok := lookupEnv(envName("config")); ok && v != "" {
			b.params.Config = v
			explicit = true
		}
	}

	values, err := readFile(b.params.Config)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	}

	for _, o := range b.options {
		if o.name == "config" || b.fs.Changed(o.name) {
			continue
		}
		f := b.fs.Lookup(o.name)
		if v, ok := values[o.section][o.name]; ok {
			if err := f.Value.Set(v); err != nil {
				return nil, fmt.Errorf("%s: [%s] %s: %w", b.params.Config, o.section, o.name, err)
			}
		}
		if v, ok := lookupEnv(envName(o.name)); ok {
			if err := f.Value.Set(v); err != nil {
				return nil, fmt.Errorf("%s: %w", envName(o.name), err)
			}
		}
	}
	return b.params, nil
}

func envName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// readFile returns section -> name -> raw value. Null values are skipped and
// sequences are joined with commas so that tuples can be written as lists.
func readFile(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigFile, err)
	}
	var doc map[string]map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, path, err)
	}
	out := make(map[string]map[string]string, len(doc))
	for section, entries := range doc {
		out[section] = make(map[string]string, len(entries))
		for name, node := range entries {
			switch node.Kind {
			case yaml.ScalarNode:
				if node.Tag == "!!null" {
					continue
				}
				out[section][name] = node.Value
			case yaml.SequenceNode:
				items := make([]string, len(node.Content))
				for i, item := range node.Content {
					items[i] = item.Value
				}
				out[section][name] = strings.Join(items, ",")
			default:
				return nil, fmt.Errorf("%w: %s: [%s] %s must be a scalar or a list", ErrConfigFile, path, section, name)
			}
		}
	}
	return out, nil
}
