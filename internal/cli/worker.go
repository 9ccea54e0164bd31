package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// DrainResult reports a --drain run.
type DrainResult struct {
	Processed int `json:"processed"`
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	var withScheduler, drain bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker pool",
		Long: `Lease and execute queued jobs until SIGINT or SIGTERM.

With --drain the command instead executes runnable jobs one at a time until
none is left, prints how many ran and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, rootOpts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if drain {
				n, err := drainQueue(ctx, a)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), rootOpts.Format, DrainResult{Processed: n})
			}

			var wg sync.WaitGroup
			if err := startBackground(ctx, &wg, a, true, withScheduler); err != nil {
				return err
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "schedule", false, "also run the periodic scheduler")
	cmd.Flags().BoolVar(&drain, "drain", false, "run queued jobs until the queue is empty, then exit")
	return cmd
}

// drainQueue executes runnable jobs sequentially until a lease comes back
// empty. Bulk jobs that fan out are followed by their children.
func drainQueue(ctx context.Context, a *app) (int, error) {
	p := a.pool()
	workerID := p.ID + "-drain"
	n := 0
	for ctx.Err() == nil {
		ran, err := p.RunOnce(ctx, workerID)
		if err != nil {
			return n, err
		}
		if !ran {
			break
		}
		n++
	}
	log.Ctx(ctx).Info().Int("processed", n).Msg("queue drained")
	return n, nil
}
