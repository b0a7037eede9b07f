package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"multidb-backup/internal/api"
	apperrors "multidb-backup/internal/errors"
)

var serveAddress string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the backup, restore and ledger operations over HTTP.

Endpoints:
  POST /api/backup                  run a backup (alias POST /api/backup/run)
  POST /api/backup/test-connection  test a database connection
  POST /api/restore                 restore an artifact
  GET  /api/logs[/{id}]             browse runs
  GET  /api/metadata[/{id}]         browse artifacts
  GET  /api/metadata/{id}/lineage   artifact lineage
  GET  /api/health                  liveness and ledger check

The server stops on SIGINT or SIGTERM after in-flight requests finish or the
shutdown timeout expires.`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (default from server.address)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddress != "" {
		appConfig.Server.Address = serveAddress
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdown := apperrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		logger.Info("Shutdown signal received")
		cancel()
		return nil
	})
	shutdown.Start()
	defer shutdown.Stop()

	handler := api.NewHandler(a.backups, a.restores, a.ledger, logger, api.WithRunTimeout(appConfig.Orchestrator.Timeout))
	server := api.NewServer(appConfig.Server, api.NewRouter(handler), logger)
	return server.ListenAndServe(ctx)
}
