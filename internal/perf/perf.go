// Package perf measures the tomographic pipeline on generated input over
// ranges of problem sizes.
package perf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/bpradana/tofu/internal/config"
	"github.com/bpradana/tofu/internal/reco"
)

// ErrNoRuns indicates a configuration that yields no measurements.
var ErrNoRuns = errors.New("perf: num-runs must be positive")

// Result is one timed reconstruction.
type Result struct {
	RunID       string
	StartedAt   time.Time
	Method      string
	Width       int
	Height      int
	Projections int
	Repetition  int
	Elapsed     time.Duration
}

// Updates returns the number of voxel updates of the reconstruction: every
// projection touches every voxel of every slice once.
func (r Result) Updates() int64 {
	return int64(r.Width) * int64(r.Width) * int64(r.Height) * int64(r.Projections)
}

// Summary aggregates the repetitions of one configuration.
type Summary struct {
	Method      string
	Width       int
	Height      int
	Projections int
	Runs        int
	Mean        time.Duration
	StdDev      time.Duration
}

// Updates returns the voxel updates of one repetition.
func (s Summary) Updates() int64 {
	return Result{Width: s.Width, Height: s.Height, Projections: s.Projections}.Updates()
}

// GUPS returns giga voxel updates per second at the mean time.
func (s Summary) GUPS() float64 {
	if s.Mean <= 0 {
		return 0
	}
	return float64(s.Updates()) / s.Mean.Seconds() / 1e9
}

// Summarize groups results by configuration, in order of first appearance.
func Summarize(results []Result) []Summary {
	type key struct {
		method                     string
		width, height, projections int
	}
	var order []key
	times := make(map[key][]float64)
	for _, r := range results {
		k := key{r.Method, r.Width, r.Height, r.Projections}
		if _, ok := times[k]; !ok {
			order = append(order, k)
		}
		times[k] = append(times[k], float64(r.Elapsed))
	}
	out := make([]Summary, len(order))
	for i, k := range order {
		mean, std := stat.MeanStdDev(times[k], nil)
		if len(times[k]) < 2 {
			std = 0
		}
		out[i] = Summary{
			Method:      k.method,
			Width:       k.width,
			Height:      k.height,
			Projections: k.projections,
			Runs:        len(times[k]),
			Mean:        time.Duration(mean),
			StdDev:      time.Duration(std),
		}
	}
	return out
}

// Runner reconstructs generated data for every combination of the perf
// ranges.
type Runner struct {
	rec   *reco.Reconstructor
	log   *zap.Logger
	store *Store
}

// NewRunner returns a Runner. store may be nil to skip persisting results.
func NewRunner(rec *reco.Reconstructor, log *zap.Logger, store *Store) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{rec: rec, log: log, store: store}
}

// Run measures num-runs dry-run reconstructions of generated projections per
// width, height and projection count. Every invocation gets its own run id.
func (r *Runner) Run(ctx context.Context, p *config.Params) ([]Result, error) {
	if p.NumRuns == 0 {
		return nil, ErrNoRuns
	}
	runID := uuid.NewString()
	r.log.Info("Starting performance run", zap.String("run_id", runID), zap.String("method", p.Method))

	var results []Result
	for _, width := range p.WidthRange.Values() {
		for _, height := range p.HeightRange.Values() {
			for _, n := range p.NumProjectionRange.Values() {
				q := *p
				q.GenerateInput, q.FromProjections, q.DryRun = true, true, true
				q.Width, q.Height, q.Number = width, height, n
				q.PassSize = 0
				for i := range p.NumRuns {
					started := time.Now()
					elapsed, err := r.rec.Tomo(ctx, &q)
					if err != nil {
						return results, fmt.Errorf("perf: %dx%dx%d: %w", width, height, n, err)
					}
					res := Result{
						RunID:       runID,
						StartedAt:   started,
						Method:      p.Method,
						Width:       width,
						Height:      height,
						Projections: n,
						Repetition:  i,
						Elapsed:     elapsed,
					}
					if r.store != nil {
						if err := r.store.Record(ctx, res); err != nil {
							return results, err
						}
					}
					results = append(results, res)
				}
				s := Summarize(results[len(results)-p.NumRuns:])[0]
				r.log.Info("Measured",
					zap.Int("width", width),
					zap.Int("height", height),
					zap.Int("projections", n),
					zap.Duration("mean", s.Mean),
					zap.Duration("stddev", s.StdDev),
					zap.Float64("gups", s.GUPS()),
				)
			}
		}
	}
	return results, nil
}
