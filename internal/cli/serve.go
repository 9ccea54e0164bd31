package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/go-catalog-ingest/internal/http"
	"github.com/tbourn/go-catalog-ingest/internal/observability"
)

// shutdownTimeout bounds the graceful HTTP drain.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var withWorker, withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Long: `Serve the admin HTTP API until SIGINT or SIGTERM.

With --with-worker the job worker pool runs in the same process, and with
--with-scheduler the periodic triggers do too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, withWorker, withScheduler)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the job worker pool")
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the periodic scheduler")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, withWorker, withScheduler bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.cfg
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, opts.Version, cfg.Worker.ID)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, a.db, a.store, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	var wg sync.WaitGroup
	if err := startBackground(ctx, &wg, a, withWorker, withScheduler); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		wg.Wait()
		return err
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(sctx)
	wg.Wait()
	if shutdownErr != nil {
		return shutdownErr
	}
	log.Info().Msg("server stopped")
	return nil
}

// startBackground launches the worker pool and scheduler requested by the
// flags. Both stop when ctx is cancelled; wg tracks them. Invalid schedule
// specs are reported before anything starts.
func startBackground(ctx context.Context, wg *sync.WaitGroup, a *app, withWorker, withScheduler bool) error {
	if withScheduler {
		s := a.scheduler()
		if _, err := s.Build(ctx); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				log.Error().Err(err).Msg("scheduler stopped")
			}
		}()
	}
	if withWorker {
		p := a.pool()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(ctx)
		}()
	}
	return nil
}
