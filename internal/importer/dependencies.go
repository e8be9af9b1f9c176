// Package importer runs the statement import pipeline.
//
// An import moves through PENDING -> ANALYZING -> ANALYZED -> PROCESSING ->
// COMPLETED | FAILED. The Orchestrator drives the caller-facing stages
// (initiate, analyze, confirm, retry) and the CommitExecutor writes the
// ledger. Every stage is a separate invocation; state travels only through
// the ImportStore.
package importer

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"statement-import-service/internal/accounts"
	"statement-import-service/internal/blob"
	"statement-import-service/internal/invoker"
	"statement-import-service/internal/ledger"
	"statement-import-service/internal/matcher"
	"statement-import-service/internal/models"
	"statement-import-service/internal/parsers"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// DefaultReferenceWindowDays is the trailing window of ledger entries that
// candidates are compared against
const DefaultReferenceWindowDays = 30

// Config holds the pipeline settings
type Config struct {
	UploadURLTTL        time.Duration
	ReferenceWindowDays int
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		UploadURLTTL:        blob.DefaultUploadTTL,
		ReferenceWindowDays: DefaultReferenceWindowDays,
	}
}

// Dependencies are the collaborators shared by the pipeline stages
type Dependencies struct {
	Store    store.ImportStore
	Blobs    blob.Store
	Ledger   ledger.Ledger
	Balances accounts.BalanceRecomputer
	Invoker  invoker.Invoker
	Parser   *parsers.TransactionParser
	Engine   *matcher.MatchingEngine

	// MismatchDetector is optional
	MismatchDetector AccountMismatchDetector

	Logger logger.Logger
	Now    func() time.Time
	NewID  func() string
}

func (d *Dependencies) withDefaults() (*Dependencies, error) {
	c := *d
	if c.Store == nil || c.Blobs == nil || c.Ledger == nil {
		return nil, errors.InternalError(errors.CodeInvalidConfig, "importer dependencies", stderrors.New("store, blob store and ledger are required"))
	}
	if c.Parser == nil {
		p, err := parsers.NewTransactionParser(nil, c.Logger)
		if err != nil {
			return nil, err
		}
		c.Parser = p
	}
	if c.Engine == nil {
		c.Engine = matcher.NewMatchingEngine(nil, c.Logger)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	c.Logger = logger.OrGlobal(c.Logger)
	return &c, nil
}

func (d *Dependencies) now() time.Time {
	return d.Now().UTC()
}

// loadTransactions reads the stored raw file and parses it
func (d *Dependencies) loadTransactions(ctx context.Context, record *models.ImportRecord) ([]*models.Transaction, error) {
	if record.Bucket == "" || record.StorageKey == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "storageKey", record.StorageKey, nil)
	}

	content, err := d.Blobs.GetContent(ctx, record.Bucket, record.StorageKey)
	if err != nil {
		return nil, errors.DependencyError(errors.CodeBlobStore, "read_raw_file", err).
			WithContext("bucket", record.Bucket).
			WithContext("key", record.StorageKey)
	}

	return d.Parser.ParseWithContext(ctx, content)
}

// windowFloor is the earliest date the reference window covers
func (d *Dependencies) windowFloor(days int) time.Time {
	return models.NormalizeDate(d.now()).AddDate(0, 0, -days)
}

// referenceWindow returns the account's ledger entries from the window floor on
func (d *Dependencies) referenceWindow(ctx context.Context, accountID string, days int) ([]*models.Transaction, error) {
	return d.entriesSince(ctx, accountID, d.windowFloor(days))
}

func (d *Dependencies) entriesSince(ctx context.Context, accountID string, since time.Time) ([]*models.Transaction, error) {
	existing, err := d.Ledger.QueryByAccountAndDateFloor(ctx, accountID, since)
	if err != nil {
		return nil, errors.DependencyError(errors.CodeLedger, "query_reference_window", err).
			WithContext("account_id", accountID)
	}
	return existing, nil
}

// fail writes FAILED for the record. A failed write is logged, not returned,
// so the caller still reports the original cause.
func (d *Dependencies) fail(ctx context.Context, log logger.Logger, record *models.ImportRecord, cause error) {
	failure := store.FailureFrom(cause)
	if _, err := d.Store.Update(ctx, record.AccountID, record.UploadID, store.Failed(failure, d.now())); err != nil {
		log.WithError(err).WithField("failure_code", failure.Code).Error("Failed to record import failure")
		return
	}
	log.WithFields(logger.Fields{
		"status":       models.StatusFailed,
		"failure_code": failure.Code,
	}).Warn("Import failed")
}
