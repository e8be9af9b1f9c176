package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"statement-import-service/internal/app"
	"statement-import-service/internal/config"
	"statement-import-service/internal/invoker"
	"statement-import-service/pkg/logger"
)

// Processor commits a confirmed import
type Processor interface {
	ProcessImport(ctx context.Context, req invoker.ProcessImportRequest) error
}

var processor Processor

func init() {
	cfg, err := config.Load(config.New(), os.Getenv("IMPORTER_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogger(log)

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		fmt.Printf("Error building pipeline: %v\n", err)
		os.Exit(1)
	}
	processor = a.Executor
}

// handleRequest runs the commit phase. Failures are recorded on the import
// by the executor; the error is still returned so the invocation shows as
// failed.
func handleRequest(ctx context.Context, req invoker.ProcessImportRequest) error {
	logger.WithFields(logger.Fields{
		"account_id":         req.AccountID,
		"upload_id":          req.UploadID,
		"duplicate_handling": req.DuplicateHandling,
	}).Info("Process import invoked")

	return processor.ProcessImport(ctx, req)
}

func main() {
	lambda.Start(handleRequest)
}
