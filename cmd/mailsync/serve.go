package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/nhle/mailsync/internal/handler"
	appsync "github.com/nhle/mailsync/internal/sync"
)

const shutdownTimeout = 10 * time.Second

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the engine over HTTP and reconcile in the background",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "listen address (overrides server.addr)",
		},
	},
	Action: serveAction,
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
		addr := e.cfg.Server.Addr
		if a := cmd.String("addr"); a != "" {
			addr = a
		}

		rec := appsync.New(e.svc, e.cfg.Reconcile.Interval, e.log)
		rec.Start()
		defer rec.Stop()
		go logResults(ctx, e, rec)

		app := handler.NewApp()
		handler.SetupRoutes(app, handler.NewMailHandler(e.svc), handler.NewAdminHandler(e.svc), e.log)

		errCh := make(chan error, 1)
		go func() {
			e.log.Info().Str("addr", addr).Msg("http server listening")
			errCh <- app.Listen(addr)
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
		}

		e.log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})
}

// logResults reports reconciliation runs until ctx is done.
func logResults(ctx context.Context, e *engine, rec *appsync.Reconciler) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-rec.Results():
			if res.Error != nil {
				e.log.Warn().Err(res.Error).Msg("background cleanup failed")
				continue
			}
			e.log.Info().Int("removed", res.Removed).Int("swept", res.Swept).Msg("background cleanup")
		}
	}
}
