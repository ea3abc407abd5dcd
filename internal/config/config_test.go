package config

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func bind(t *testing.T, args []string, sections ...string) (*Binding, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	b := Bind(fs, sections...)
	return b, fs.Parse(args)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reco.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	b, err := bind(t, nil, TomoSections...)
	require.NoError(t, err)
	p, err := b.Load(noEnv)
	require.NoError(t, err)

	want := Defaults()
	if diff := cmp.Diff(want, *p, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, math.IsNaN(p.Axis))
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, `
general:
  input: from-file
  width: 100
  output: file-out
tomographic-reconstruction:
  method: dfi
  axis: 12.5
reading:
  height: 7
`)
	b, err := bind(t, []string{"--config", path, "--method", "sart"}, TomoSections...)
	require.NoError(t, err)
	p, err := b.Load(envMap(map[string]string{"TOFU_WIDTH": "200", "TOFU_OUTPUT": "env-out"}))
	require.NoError(t, err)

	assert.Equal(t, "from-file", p.Input)
	assert.Equal(t, 200, p.Width)
	assert.Equal(t, "env-out", p.Output)
	assert.Equal(t, "sart", p.Method)
	assert.Equal(t, 12.5, p.Axis)
	assert.Equal(t, 7, p.Height)
}

func TestConfigFromEnvironment(t *testing.T) {
	path := writeConfig(t, "general:\n  input: env-file\n")
	b, err := bind(t, nil)
	require.NoError(t, err)
	p, err := b.Load(envMap(map[string]string{"TOFU_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "env-file", p.Input)
}

func TestConfigFileErrors(t *testing.T) {
	b, err := bind(t, []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
	_, err = b.Load(noEnv)
	assert.ErrorIs(t, err, ErrConfigFile)
	assert.ErrorIs(t, err, os.ErrNotExist)

	b, err = bind(t, []string{"--config", writeConfig(t, "general: [1, 2]\n")})
	require.NoError(t, err)
	_, err = b.Load(noEnv)
	assert.ErrorIs(t, err, ErrConfigFile)

	b, err = bind(t, []string{"--config", writeConfig(t, "reading:\n  start: -3\n")})
	require.NoError(t, err)
	_, err = b.Load(noEnv)
	assert.ErrorIs(t, err, ErrInvalidValue)

	b, err = bind(t, []string{"--config", writeConfig(t, "general:\n  input: {a: 1}\n")})
	require.NoError(t, err)
	_, err = b.Load(noEnv)
	assert.ErrorIs(t, err, ErrConfigFile)
}

func TestSectionsOutsideCommandAreIgnored(t *testing.T) {
	path := writeConfig(t, `
laminographic-reconstruction:
  axis: [10, 20.5]
  bbox: 4,5,6
  tilt: 0.5
tomographic-reconstruction:
  axis: 99
`)
	b, err := bind(t, []string{"--config", path}, LaminoSections...)
	require.NoError(t, err)
	p, err := b.Load(noEnv)
	require.NoError(t, err)

	assert.Equal(t, [2]float64{10, 20.5}, p.LaminoAxis)
	assert.Equal(t, [3]int{4, 5, 6}, p.BBox)
	assert.Equal(t, 0.5, p.Tilt)
	assert.True(t, math.IsNaN(p.Axis))
}

func TestFlagValues(t *testing.T) {
	b, err := bind(t, []string{
		"--verbose", "--absorptivity=false", "--pad", "256,128",
		"--width-range", "64:256:64", "--estimate-method", "Correlation",
	}, "flat-correction", "laminographic-reconstruction", "estimate", "perf")
	require.NoError(t, err)
	p := b.Params()
	assert.True(t, p.Verbose)
	assert.False(t, p.Absorptivity)
	assert.Equal(t, [2]int{256, 128}, p.Pad)
	assert.Equal(t, []int{64, 128, 192}, p.WidthRange.Values())
	assert.Equal(t, "correlation", p.EstimateMethod)

	tests := []struct {
		name string
		args []string
	}{
		{"negative size", []string{"--width=-1"}},
		{"short tuple", []string{"--bbox", "1,2"}},
		{"bad tuple item", []string{"--pad", "1,x"}},
		{"bad enum", []string{"--estimate-method", "guess"}},
		{"bad range", []string{"--height-range", "5:2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bind(t, tt.args, "laminographic-reconstruction", "estimate", "perf")
			assert.Error(t, err)
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in   string
		want Range
	}{
		{"1024", Range{1024, 1025, 1}},
		{"8:12", Range{8, 12, 1}},
		{"8:32:8", Range{8, 32, 8}},
	}
	for _, tt := range tests {
		got, err := ParseRange(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}
	for _, bad := range []string{"", "a", "4:4", "1:2:3:4", "1:4:0"} {
		_, err := ParseRange(bad)
		assert.ErrorIs(t, err, ErrInvalidValue, bad)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	p := Defaults()
	p.Input = "sinos/*.tif"
	p.Width = 512
	p.Method = "sirt"
	p.Axis = 255.5
	p.DryRun = true
	p.Flats = "true"
	p.NumIterations = 4

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &p, append([]string{"general", "reading"}, TomoSections...)...))
	text := buf.String()
	assert.Contains(t, text, "# Axis position\n")
	assert.Contains(t, text, "height: null")
	assert.NotContains(t, text, "config:")
	assert.Contains(t, text, "perf:")

	path := writeConfig(t, text)
	b, err := bind(t, []string{"--config", path}, TomoSections...)
	require.NoError(t, err)
	got, err := b.Load(noEnv)
	require.NoError(t, err)

	p.Config = path
	if diff := cmp.Diff(p, *got, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteUsesDefaultsForOtherSections(t *testing.T) {
	p := Defaults()
	p.NumRuns = 9
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &p, "general"))
	assert.Contains(t, buf.String(), "num-runs: 3")
	for _, section := range Sections() {
		assert.True(t, strings.HasPrefix(buf.String(), section+":") || strings.Contains(buf.String(), "\n"+section+":"), section)
	}
}
