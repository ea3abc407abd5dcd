package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bpradana/tofu"
	"github.com/bpradana/tofu/internal/config"
	"github.com/bpradana/tofu/internal/logging"
	"github.com/bpradana/tofu/internal/perf"
	"github.com/bpradana/tofu/internal/reco"
	"github.com/bpradana/tofu/tasks"
)

var errConfigExists = errors.New("config file already exists")

func (a *app) tomoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tomo",
		Short: "Run tomographic reconstruction",
		Args:  cobra.NoArgs,
	}
	b := config.Bind(cmd.Flags(), config.TomoSections...)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		p, err := a.load(b)
		if err != nil {
			return err
		}
		_, err = reco.New(a.log).Tomo(cmd.Context(), p)
		return err
	}
	return cmd
}

func (a *app) laminoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lamino",
		Short: "Run laminographic reconstruction",
		Args:  cobra.NoArgs,
	}
	b := config.Bind(cmd.Flags(), config.LaminoSections...)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		p, err := a.load(b)
		if err != nil {
			return err
		}
		_, err = reco.New(a.log).Lamino(cmd.Context(), p)
		return err
	}
	return cmd
}

func (a *app) estimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate center of rotation",
		Args:  cobra.NoArgs,
	}
	b := config.Bind(cmd.Flags(), append(config.TomoSections, "estimate")...)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		p, err := a.load(b)
		if err != nil {
			return err
		}
		center, err := reco.New(a.log).EstimateCenter(cmd.Context(), p)
		if err != nil {
			return err
		}
		a.log.Info("Best axis", zap.Float64("axis", center))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%g\n", center)
		return err
	}
	return cmd
}

func (a *app) flatCorrectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flatcorrect",
		Short: "Run flat field correction",
		Args:  cobra.NoArgs,
	}
	b := config.Bind(cmd.Flags(), "flat-correction")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		p, err := a.load(b)
		if err != nil {
			return err
		}
		_, err = reco.New(a.log).FlatCorrect(cmd.Context(), p)
		return err
	}
	return cmd
}

func (a *app) perfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Check reconstruction performance",
		Args:  cobra.NoArgs,
	}
	b := config.Bind(cmd.Flags(), append(config.TomoSections, "perf")...)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		p, err := a.load(b)
		if err != nil {
			return err
		}
		var store *perf.Store
		if p.Database != "" {
			if store, err = perf.OpenStore(p.Database); err != nil {
				return err
			}
			defer store.Close()
		}
		results, err := perf.NewRunner(reco.New(a.log), a.log, store).Run(cmd.Context(), p)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WIDTH\tHEIGHT\tPROJECTIONS\tMEAN\tSTDDEV\tGUPS")
		for _, s := range perf.Summarize(results) {
			fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%.3f\n", s.Width, s.Height, s.Projections, s.Mean, s.StdDev, s.GUPS())
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if p.Plot != "" {
			if err := perf.Plot(p.Plot, results); err != nil {
				return err
			}
			a.log.Info("Wrote plot", zap.String("path", p.Plot))
		}
		return nil
	}
	return cmd
}

func (a *app) initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create configuration file",
		Args:  cobra.NoArgs,
	}
	b := config.Bind(cmd.Flags(), config.Sections()...)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		// The file to create is not read, flags alone describe it.
		p := b.Params()
		if err := a.setLogger(p.Verbose); err != nil {
			return err
		}
		if _, err := os.Stat(p.Config); err == nil {
			return fmt.Errorf("%w: %s", errConfigExists, p.Config)
		}
		if err := config.WriteFile(p.Config, p, config.Sections()...); err != nil {
			return err
		}
		a.log.Info("Wrote config file", zap.String("path", p.Config))
		return nil
	}
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var (
		verbose   bool
		workers   int
		tracing   bool
		dumpGraph string
	)
	cmd := &cobra.Command{
		Use:   "run GRAPH",
		Short: "Run a task graph described in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setLogger(verbose); err != nil {
				return err
			}
			g, err := tofu.ReadGraphFile(args[0], tasks.NewPluginManager())
			if err != nil {
				return err
			}
			if dumpGraph != "" {
				f, err := os.Create(dumpGraph)
				if err != nil {
					return err
				}
				if err := g.ExportDOT(f, tofu.DOTWithProperties()); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}
			opts := []tofu.SchedulerOption{tofu.WithHooks(logging.TaskHooks(a.log))}
			if workers > 0 {
				opts = append(opts, tofu.WithWorkers(workers))
			}
			if tracing {
				opts = append(opts, tofu.WithTracing(""))
			}
			sched := tofu.NewScheduler(opts...)
			if err := sched.Run(cmd.Context(), g); err != nil {
				return err
			}
			a.log.Info("Graph finished", zap.String("graph", args[0]), zap.Duration("elapsed", sched.Time()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Verbose output")
	cmd.Flags().IntVar(&workers, "workers", 0, "Run nodes on a pool of this many workers instead of one goroutine each")
	cmd.Flags().BoolVar(&tracing, "enable-tracing", false, "Enable tracing and store result in .PID.json")
	cmd.Flags().StringVar(&dumpGraph, "dump-graph", "", "Write the task graph in DOT format to this file")
	return cmd
}

func (a *app) pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List available task plugins and their properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pm := tasks.NewPluginManager()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range pm.Names() {
				node, err := pm.GetTask(name, nil)
				if err != nil {
					return err
				}
				props := node.Task().Properties()
				fmt.Fprintf(w, "%s\t%d\t", name, node.Task().NumInputs())
				for i, prop := range props.Names() {
					if i > 0 {
						fmt.Fprint(w, " ")
					}
					fmt.Fprint(w, prop)
				}
				fmt.Fprintln(w)
			}
			return w.Flush()
		},
	}
}
