package tasks

import (
	"context"
	"fmt"

	"github.com/bpradana/tofu"
)

type padTask struct {
	filter1
	width  int
	height int
	x      int
	y      int
	mode   string
}

func newPad() tofu.Task {
	t := &padTask{filter1: filter1{newBase()}, mode: "clamp"}
	t.props.Size("width", &t.width)
	t.props.Size("height", &t.height)
	t.props.Int("x", &t.x)
	t.props.Int("y", &t.y)
	t.props.Enum("addressing-mode", &t.mode, "clamp", "clamp_to_edge", "repeat", "mirrored_repeat")
	return t
}

// address maps i onto [0, n) according to mode. It returns -1 for positions
// that read as zero.
func address(mode string, i, n int) int {
	if i >= 0 && i < n {
		return i
	}
	switch mode {
	case "clamp_to_edge":
		return min(max(i, 0), n-1)
	case "repeat":
		return ((i % n) + n) % n
	case "mirrored_repeat":
		period := 2 * n
		m := ((i % period) + period) % period
		if m >= n {
			m = period - 1 - m
		}
		return m
	default:
		return -1
	}
}

// Process places each frame at (x, y) inside a width x height frame and fills
// the border according to addressing-mode.
func (t *padTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		if f.Complex {
			return nil, fmt.Errorf("%w: pad expects real frames", ErrShapeMismatch)
		}
		w, h := t.width, t.height
		if w == 0 {
			w = f.Width
		}
		if h == 0 {
			h = f.Height
		}
		out := tofu.NewFrame(w, h)
		for oy := range h {
			sy := address(t.mode, oy-t.y, f.Height)
			if sy < 0 {
				continue
			}
			src, dst := f.Row(sy), out.Row(oy)
			for ox := range w {
				if sx := address(t.mode, ox-t.x, f.Width); sx >= 0 {
					dst[ox] = src[sx]
				}
			}
		}
		return out, nil
	})
}

type cutROITask struct {
	filter1
	x      int
	y      int
	width  int
	height int
}

func newCutROI() tofu.Task {
	t := &cutROITask{filter1: filter1{newBase()}}
	t.props.Size("x", &t.x)
	t.props.Size("y", &t.y)
	t.props.Size("width", &t.width)
	t.props.Size("height", &t.height)
	return t
}

// Process crops a region; zero width or height extend to the frame border.
func (t *cutROITask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		if f.Complex {
			return nil, fmt.Errorf("%w: cut-roi expects real frames", ErrShapeMismatch)
		}
		w, h := t.width, t.height
		if w == 0 {
			w = f.Width - t.x
		}
		if h == 0 {
			h = f.Height - t.y
		}
		if w <= 0 || h <= 0 || t.x+w > f.Width || t.y+h > f.Height {
			return nil, fmt.Errorf("%w: roi %dx%d+%d+%d outside %s", ErrShapeMismatch, w, h, t.x, t.y, f)
		}
		out := tofu.NewFrame(w, h)
		for y := range h {
			copy(out.Row(y), f.Row(t.y+y)[t.x:t.x+w])
		}
		return out, nil
	})
}

type padding2DTask struct {
	filter1
	xl   int
	xr   int
	yt   int
	yb   int
	mode string
}

func newPadding2D() tofu.Task {
	t := &padding2DTask{filter1: filter1{newBase()}, mode: "zero"}
	t.props.Size("xl", &t.xl)
	t.props.Size("xr", &t.xr)
	t.props.Size("yt", &t.yt)
	t.props.Size("yb", &t.yb)
	t.props.Enum("mode", &t.mode, "zero", "brep")
	return t
}

// Process adds borders of xl, xr, yt and yb pixels, either zero or
// replicating the outermost pixels (brep).
func (t *padding2DTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	mode := "clamp"
	if t.mode == "brep" {
		mode = "clamp_to_edge"
	}
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		w, h := f.Width+t.xl+t.xr, f.Height+t.yt+t.yb
		out := tofu.NewFrame(w, h)
		for oy := range h {
			sy := address(mode, oy-t.yt, f.Height)
			if sy < 0 {
				continue
			}
			src, dst := f.Row(sy), out.Row(oy)
			for ox := range w {
				if sx := address(mode, ox-t.xl, f.Width); sx >= 0 {
					dst[ox] = src[sx]
				}
			}
		}
		return out, nil
	})
}

type downsampleTask struct {
	filter1
	factor int
}

func newDownsample() tofu.Task {
	t := &downsampleTask{filter1: filter1{newBase()}, factor: 2}
	t.props.Size("factor", &t.factor)
	return t
}

// Process averages factor x factor blocks, dropping incomplete border blocks.
func (t *downsampleTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	k := t.factor
	if k < 1 {
		return nil, fmt.Errorf("%w: downsample factor %d", ErrBadProperty, k)
	}
	return mapFrames(ctx, in[0], func(f *tofu.Frame) (*tofu.Frame, error) {
		w, h := f.Width/k, f.Height/k
		if w == 0 || h == 0 {
			return nil, fmt.Errorf("%w: %s smaller than factor %d", ErrShapeMismatch, f, k)
		}
		out := tofu.NewFrame(w, h)
		norm := 1 / float32(k*k)
		for y := range h {
			for x := range w {
				var sum float32
				for dy := range k {
					row := f.Row(y*k + dy)
					for dx := range k {
						sum += row[x*k+dx]
					}
				}
				out.Set(x, y, sum*norm)
			}
		}
		return out, nil
	})
}

type transposeTask struct {
	filter1
	number int
}

func newTransposeProjections() tofu.Task {
	t := &transposeTask{filter1: filter1{newBase()}}
	t.props.Size("number", &t.number)
	return t
}

// Process turns number projections of W x H into H sinograms of W x number.
func (t *transposeTask) Process(ctx context.Context, in []tofu.Stream) (tofu.Stream, error) {
	projs := in[0]
	if err := requireFrames(projs); err != nil {
		return nil, err
	}
	if t.number > 0 && t.number != len(projs) {
		return nil, fmt.Errorf("%w: expected %d projections, got %d", ErrShapeMismatch, t.number, len(projs))
	}
	first := projs[0]
	for i, p := range projs {
		if p.Width != first.Width || p.Height != first.Height || p.Complex {
			return nil, fmt.Errorf("%w: projection %d is %s, first is %s", ErrShapeMismatch, i, p, first)
		}
	}
	out := make(tofu.Stream, first.Height)
	err := forRange(ctx, first.Height, func(y int) {
		sino := tofu.NewFrame(first.Width, len(projs))
		for a, p := range projs {
			copy(sino.Row(a), p.Row(y))
		}
		out[y] = sino
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
