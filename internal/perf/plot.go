package perf

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Plot saves a chart of the mean reconstruction time against the number of
// voxel updates of every measured configuration. The image format follows the
// extension of path.
func Plot(path string, results []Result) error {
	if len(results) == 0 {
		return fmt.Errorf("perf: nothing to plot")
	}
	summaries := Summarize(results)
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Updates() < summaries[j].Updates() })

	pts := make(plotter.XYs, len(summaries))
	for i, s := range summaries {
		pts[i] = plotter.XY{X: float64(s.Updates()), Y: s.Mean.Seconds()}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Reconstruction time (%s)", summaries[0].Method)
	p.X.Label.Text = "Voxel updates"
	p.Y.Label.Text = "Time (s)"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("perf: plot line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("perf: plot points: %w", err)
	}
	scatter.Color = line.Color
	p.Add(scatter)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("perf: save plot %s: %w", path, err)
	}
	return nil
}
