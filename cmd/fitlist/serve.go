package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pders01/fitlist/internal/api"
	"github.com/pders01/fitlist/internal/debuglog"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workout library over HTTP",
	Long: `Serve the workout library as a JSON API. The refresh worker runs in the
same process and drains scrape requests submitted through POST /api/process.

Logs are written to stderr as JSON lines. The server shuts down gracefully
on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address (overrides server.address)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, runtimeOptions{
		logTarget: logToJSON,
		archive:   true,
		search:    true,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	if serveAddress != "" {
		rt.cfg.Server.Address = serveAddress
	}
	log := debuglog.WithComponent("serve")

	srv := api.NewServer(rt.store, rt.coord, rt.searcher, rt.cfg.Server)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := rt.coord.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("refresh worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(gctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		// A clean server exit ends the worker too.
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
