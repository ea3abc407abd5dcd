package tasks

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/imageio"
)

type readTask struct {
	source
	path   string
	start  int
	number int
	step   int
	y      int
	height int
	yStep  int
}

func newRead() tofu.Task {
	t := &readTask{source: source{newBase()}, path: ".", step: 1, yStep: 1}
	t.props.String("path", &t.path)
	t.props.Size("start", &t.start)
	t.props.Size("number", &t.number)
	t.props.Size("step", &t.step)
	t.props.Size("y", &t.y)
	t.props.Size("height", &t.height)
	t.props.Size("y-step", &t.yStep)
	return t
}

// files returns the selected file names: every step-th file from start, at
// most number of them when number is set.
func (t *readTask) files() ([]string, error) {
	all, err := imageio.GetFilenames(t.path)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", imageio.ErrNoFiles, t.path)
	}
	step := max(t.step, 1)
	var selected []string
	for i := t.start; i < len(all); i += step {
		if t.number > 0 && len(selected) == t.number {
			break
		}
		selected = append(selected, all[i])
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: start %d beyond %d files in %s", imageio.ErrNoFiles, t.start, len(all), t.path)
	}
	return selected, nil
}

func (t *readTask) Process(ctx context.Context, _ []tofu.Stream) (tofu.Stream, error) {
	files, err := t.files()
	if err != nil {
		return nil, err
	}
	pages := make([][]*tofu.Frame, len(files))
	err = forRangeErr(ctx, len(files), func(i int) error {
		frames, err := imageio.Read(files[i])
		if err != nil {
			return err
		}
		for j, f := range frames {
			if frames[j], err = t.rows(f); err != nil {
				return fmt.Errorf("%s: %w", files[i], err)
			}
		}
		pages[i] = frames
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out tofu.Stream
	for _, frames := range pages {
		out = append(out, frames...)
	}
	return out, nil
}

// rows applies the vertical region of interest.
func (t *readTask) rows(f *tofu.Frame) (*tofu.Frame, error) {
	step := max(t.yStep, 1)
	if t.y == 0 && t.height == 0 && step == 1 {
		return f, nil
	}
	if t.y >= f.Height {
		return nil, fmt.Errorf("%w: y=%d outside %d rows", ErrBadProperty, t.y, f.Height)
	}
	end := f.Height
	if t.height > 0 {
		end = min(t.y+t.height, f.Height)
	}
	n := (end - t.y + step - 1) / step
	out := tofu.NewFrame(f.Width, n)
	for i := range n {
		copy(out.Row(i), f.Row(t.y+i*step))
	}
	return out, nil
}

type writeTask struct {
	filter1
	filename   string
	startIndex int
}

func newWrite() tofu.Task {
	t := &writeTask{filter1: filter1{newBase()}, filename: "output-%05i.tif"}
	t.props.String("filename", &t.filename)
	t.props.Size("start-index", &t.startIndex)
	return t
}

// Process writes one file per frame when the file name carries an index
// placeholder, numbered from start-index, and a single multipage file
// otherwise.
func (t *writeTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	if err := requireFrames(in[0]); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(t.filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if !imageio.HasIndexPattern(t.filename) {
		return nil, imageio.WriteTIFFFile(t.filename, in[0])
	}

	var pages []*tofu.Frame
	for _, f := range in[0] {
		for z := range f.Depth {
			pages = append(pages, f.Slice(z))
		}
	}
	return nil, forRangeErr(ctx, len(pages), func(i int) error {
		return imageio.WriteTIFFFile(imageio.FormatIndex(t.filename, t.startIndex+i), pages[i:i+1])
	})
}

type nullTask struct {
	filter1
	download bool
}

func newNull() tofu.Task {
	t := &nullTask{filter1: filter1{newBase()}}
	// download is accepted so existing graph files load; frames are always in memory.
	t.props.Bool("download", &t.download)
	return t
}

func (t *nullTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return nil, nil
}

// disk is a homogeneous cylinder of the generated phantom, in pixels
// relative to the rotation centre.
type disk struct {
	x, y, r, density float64
}

// phantom holds a large disk with two smaller inserts, scaled to the width.
func phantom(width int) []disk {
	w := float64(width)
	return []disk{
		{x: 0, y: 0, r: 0.35 * w, density: 1},
		{x: 0.12 * w, y: 0.05 * w, r: 0.08 * w, density: 0.5},
		{x: -0.1 * w, y: -0.12 * w, r: 0.05 * w, density: -0.3},
	}
}

// project returns the line integral of the phantom at detector offset s for angle theta.
func project(disks []disk, s, theta float64) float64 {
	cos, sin := math.Cos(theta), math.Sin(theta)
	var sum float64
	for _, d := range disks {
		dist := s - (d.x*cos + d.y*sin)
		if r2 := d.r*d.r - dist*dist; r2 > 0 {
			sum += 2 * math.Sqrt(r2) * d.density
		}
	}
	return sum
}

type generateTask struct {
	source
	width  int
	height int
	number int
	kind   string
}

func newGenerate() tofu.Task {
	t := &generateTask{source: source{newBase()}, width: 256, height: 1, number: 256, kind: "sinogram"}
	t.props.Size("width", &t.width)
	t.props.Size("height", &t.height)
	t.props.Size("number", &t.number)
	t.props.Enum("kind", &t.kind, "sinogram", "projection")
	return t
}

// Process renders parallel-beam data of the disk phantom with number angles
// over half a turn. Sinograms are width x number, one per detector row;
// projections are width x height, one per angle.
func (t *generateTask) Process(ctx context.Context, _ []tofu.Stream) (tofu.Stream, error) {
	if t.width == 0 || t.height == 0 || t.number == 0 {
		return nil, fmt.Errorf("%w: generate needs non-zero width, height and number", ErrBadProperty)
	}
	disks := phantom(t.width)
	step := math.Pi / float64(t.number)
	sino := tofu.NewFrame(t.width, t.number)
	for a := range t.number {
		row := sino.Row(a)
		for i := range row {
			s := float64(i) + 0.5 - float64(t.width)/2
			row[i] = float32(project(disks, s, float64(a)*step))
		}
	}

	if t.kind == "sinogram" {
		out := make(tofu.Stream, t.height)
		for i := range out {
			out[i] = sino.Clone()
		}
		return out, nil
	}
	out := make(tofu.Stream, t.number)
	for a := range out {
		p := tofu.NewFrame(t.width, t.height)
		for y := range t.height {
			copy(p.Row(y), sino.Row(a))
		}
		out[a] = p
	}
	return out, nil
}
