package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"statement-import-service/internal/api"
	"statement-import-service/internal/app"
	"statement-import-service/internal/config"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// RawFileHandler is the part of the orchestrator this function drives
type RawFileHandler interface {
	OnRawFileArrived(ctx context.Context, bucket, key string) error
}

var handler RawFileHandler

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
	handler = a.Orchestrator
}

// handleRequest analyzes the uploaded object named by the storage event.
// Failures a redelivery cannot fix are acknowledged; dependency and internal
// failures are returned for the platform to retry.
func handleRequest(ctx context.Context, event api.RawFileNotification) error {
	log := logger.WithFields(logger.Fields{
		"bucket": event.Bucket,
		"key":    event.Name,
	})

	if event.Bucket == "" || event.Name == "" {
		log.Warn("Ignoring storage event without bucket or object name")
		return nil
	}

	err := handler.OnRawFileArrived(ctx, event.Bucket, event.Name)
	if err == nil {
		return nil
	}

	if importErr, ok := errors.AsImportError(err); ok && !retryable(importErr) {
		log.WithError(err).Warn("Raw file rejected")
		return nil
	}

	log.WithError(err).Error("Raw file handling failed")
	return err
}

func retryable(err *errors.ImportError) bool {
	return err.Category == errors.CategoryDependency || err.Category == errors.CategoryInternal
}

func main() {
	lambda.Start(handleRequest)
}
