package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dbvault/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server with the background schedulers",
	Long: `Starts the HTTP API and the periodic jobs: the schedule scan,
the cloud sync pass, the retention cleanup and, when enabled, the
native pg_dump cadence. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	// A typed nil *cloud.Syncer would defeat the handler's nil
	// checks, so the disabled case passes untyped nils.
	var h *server.Handler
	if a.syncer != nil {
		h = server.NewHandler(
			a.engine, a.restorer, a.scheduler, a.schedules, a.retention,
			a.syncer, a.store, a.files, a.logger,
			a.cfg.Backup.DefaultTenant, a.cfg.Cloud.KeyPrefix)
	} else {
		h = server.NewHandler(
			a.engine, a.restorer, a.scheduler, a.schedules, a.retention,
			nil, nil, a.files, a.logger,
			a.cfg.Backup.DefaultTenant, a.cfg.Cloud.KeyPrefix)
	}

	var srv *server.Server
	if a.native != nil {
		srv = server.New(a.cfg, h, a.native, a.logger)
	} else {
		srv = server.New(a.cfg, h, nil, a.logger)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
