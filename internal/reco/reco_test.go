package reco

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/config"
	"github.com/bpradana/tofu/internal/imageio"
	"github.com/bpradana/tofu/tasks"
)

func params() *config.Params {
	p := config.Defaults()
	return &p
}

// generate runs a builtin source or filter task directly.
func generate(t *testing.T, name string, props tofu.Properties, inputs ...tofu.Stream) tofu.Stream {
	t.Helper()
	node, err := tasks.NewPluginManager().GetTask(name, props)
	require.NoError(t, err)
	out, err := node.Task().Process(context.Background(), inputs)
	require.NoError(t, err)
	return out
}

// writeFrames stores every frame as its own TIFF file in a new directory.
func writeFrames(t *testing.T, frames tofu.Stream) string {
	t.Helper()
	dir := t.TempDir()
	for i, f := range frames {
		require.NoError(t, imageio.WriteTIFFFile(filepath.Join(dir, fmt.Sprintf("frame-%03d.tif", i)), []*tofu.Frame{f}))
	}
	return dir
}

func constant(width, height int, v float32) *tofu.Frame {
	f := tofu.NewFrame(width, height)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func plugins(g *tofu.TaskGraph) []string {
	var names []string
	for _, n := range g.Nodes() {
		names = append(names, n.Plugin())
	}
	slices.Sort(names)
	return names
}

func nodeByPlugin(t *testing.T, g *tofu.TaskGraph, plugin string) *tofu.Node {
	t.Helper()
	for _, n := range g.Nodes() {
		if n.Plugin() == plugin {
			return n
		}
	}
	t.Fatalf("no %s node in graph", plugin)
	return nil
}

func TestOutputName(t *testing.T) {
	abs, err := filepath.Abs("out")
	require.NoError(t, err)

	name, err := OutputName("out")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(abs, "slice-%05i.tif"), name)

	name, err = OutputName("out/s-%03i.tif")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(abs, "s-%03i.tif"), name)

	name, err = OutputName("out/s-%i.tif")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(abs, "s-%i.tif"), name)
}

func TestNextPowerOfTwo(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 2, 5: 8, 96: 128, 128: 128, 129: 256} {
		assert.Equal(t, want, NextPowerOfTwo(n), n)
	}
}

func TestSetupPadding(t *testing.T) {
	pm := tasks.NewPluginManager()
	pad, err := pm.GetTask("pad", nil)
	require.NoError(t, err)
	crop, err := pm.GetTask("cut-roi", nil)
	require.NoError(t, err)

	require.NoError(t, SetupPadding(pad, crop, 100, 180))
	props := pad.Task().Properties().Values()
	assert.Equal(t, 256, props["width"])
	assert.Equal(t, 180, props["height"])
	assert.Equal(t, 78, props["x"])
	assert.Equal(t, "clamp_to_edge", props["addressing-mode"])

	props = crop.Task().Properties().Values()
	assert.Equal(t, 100, props["width"])
	assert.Equal(t, 78, props["x"])
}

func TestSetNodeProps(t *testing.T) {
	node, err := tasks.NewPluginManager().GetTask("read", nil)
	require.NoError(t, err)
	require.NoError(t, SetNodeProps(node, tofu.Properties{"start": 3, "number": nil, "method": "sart"}))
	v, _ := node.Property("start")
	assert.Equal(t, 3, v)
	v, _ = node.Property("number")
	assert.Equal(t, 0, v)

	assert.Error(t, SetNodeProps(node, tofu.Properties{"start": "many"}))
}

func TestDetermineShape(t *testing.T) {
	p := params()
	p.Width, p.Height = 10, 20
	w, h, err := DetermineShape(p)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, []int{w, h})

	p = params()
	p.Input = writeFrames(t, tofu.Stream{tofu.NewFrame(12, 9)})
	p.Y, p.YStep = 1, 2
	w, h, err = DetermineShape(p)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 4}, []int{w, h})

	p = params()
	p.Input = t.TempDir()
	p.Width = 7
	w, h, err = DetermineShape(p)
	assert.ErrorIs(t, err, imageio.ErrNoFiles)
	assert.Equal(t, []int{7, 0}, []int{w, h})
}
