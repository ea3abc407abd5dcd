// Command tofu builds and runs tomographic and laminographic reconstruction
// pipelines.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bpradana/tofu/internal/config"
	"github.com/bpradana/tofu/internal/logging"
)

// app carries what every command shares.
type app struct {
	out io.Writer
	log *zap.Logger
	env func(string) (string, bool)
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, log: zap.NewNop(), env: os.LookupEnv}
	root := &cobra.Command{
		Use:   "tofu",
		Short: "Tomographic reconstruction pipelines",
		Long: `tofu reconstructs slices from sinograms or projections by filtered
back-projection, direct Fourier inversion or iterative methods, reconstructs
laminographic volumes, flat-field corrects projections and estimates the
rotation axis.

Parameters come from flags, TOFU_* environment variables (also read from a
.env file) and a YAML config file, in that order of precedence.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}
	root.SetOut(out)
	root.AddCommand(
		a.tomoCmd(),
		a.laminoCmd(),
		a.estimateCmd(),
		a.flatCorrectCmd(),
		a.perfCmd(),
		a.initCmd(),
		a.runCmd(),
		a.pluginsCmd(),
	)
	return root
}

// load resolves the parameters of a command and builds the logger they ask
// for.
func (a *app) load(b *config.Binding) (*config.Params, error) {
	p, err := b.Load(a.env)
	if err != nil {
		return nil, err
	}
	if err := a.setLogger(p.Verbose); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *app) setLogger(verbose bool) error {
	log, err := logging.New(verbose)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
