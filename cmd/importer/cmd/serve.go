package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"statement-import-service/internal/api"
	"statement-import-service/internal/app"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the import HTTP API and commit workers",
	Long: `Serve builds the pipeline for the configured backend, starts the
commit workers and listens for API requests until interrupted.

The memory backend keeps everything in process and accepts uploads on
PUT /blobs/{bucket}/{key}. The cloud backend uses DynamoDB for import
records, BigQuery for the ledger and GCS for raw files.

Examples:
  importer serve
  IMPORTER_BACKEND=cloud IMPORTER_BIGQUERY_PROJECT_ID=my-proj importer serve
  importer serve --config importer.yaml --verbose`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServiceConfig()
	if err != nil {
		return err
	}
	log, err := setupLogger(&cfg.Log)
	if err != nil {
		return errors.InternalError(errors.CodeInvalidConfig, "setup_logger", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return multierr.Append(err, a.Close(context.Background()))
	}

	// a nil *memblob.Store must not become a non-nil Uploads
	var uploads api.Uploads
	if a.Uploads != nil {
		uploads = a.Uploads
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(a.Orchestrator, uploads, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(logger.Fields{
			"addr":    cfg.Server.Addr,
			"backend": cfg.Backend,
		}).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err = <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP server failed")
			err = errors.InternalError(errors.CodeUnexpectedError, "listen", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = multierr.Combine(err, server.Shutdown(shutdownCtx), a.Close(shutdownCtx))
	if err == nil {
		log.Info("Server stopped")
	}
	return err
}
