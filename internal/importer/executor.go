package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"statement-import-service/internal/invoker"
	"statement-import-service/internal/ledger"
	"statement-import-service/internal/matcher"
	"statement-import-service/internal/models"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// CommitExecutor writes a confirmed import into the ledger.
//
// Transactions are re-derived from the stored raw file and reconciled
// against a freshly queried reference window, not the analysis snapshot.
// Writes run sequentially in file order.
type CommitExecutor struct {
	deps   *Dependencies
	config Config
	logger logger.Logger
}

// NewCommitExecutor creates a new commit executor
func NewCommitExecutor(deps Dependencies, config Config) (*CommitExecutor, error) {
	d, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if d.Balances == nil {
		return nil, errors.InternalError(errors.CodeInvalidConfig, "importer dependencies", stderrors.New("balance recomputer is required"))
	}
	if config.ReferenceWindowDays <= 0 {
		config.ReferenceWindowDays = DefaultReferenceWindowDays
	}

	return &CommitExecutor{
		deps:   d,
		config: config,
		logger: d.Logger.WithComponent("commit_executor"),
	}, nil
}

// HandleMessage adapts ProcessImport to the invoker
func (e *CommitExecutor) HandleMessage(ctx context.Context, msg *invoker.Message) error {
	var req invoker.ProcessImportRequest
	if err := msg.Decode(&req); err != nil {
		// a malformed payload never succeeds on redelivery
		e.logger.WithError(err).WithField("message_id", msg.ID).Error("Dropping undecodable commit request")
		return nil
	}
	return e.ProcessImport(ctx, req)
}

// ProcessImport runs the commit to a terminal status. Terminal records are
// left alone so a redelivered request is a no-op. When the batch cannot
// start the record is FAILED and the cause is returned.
func (e *CommitExecutor) ProcessImport(ctx context.Context, req invoker.ProcessImportRequest) (err error) {
	log := e.logger.WithFields(logger.Fields{
		"account_id": req.AccountID,
		"upload_id":  req.UploadID,
	})

	record, err := e.deps.Store.Get(ctx, req.AccountID, req.UploadID)
	if err != nil {
		return err
	}
	if record.Status.IsTerminal() {
		log.WithField("status", record.Status).Info("Import already finished, ignoring commit request")
		return nil
	}
	if record.Status != models.StatusProcessing {
		return errors.ValidationError(errors.CodeInvalidState, "status", record.Status, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.InternalError(errors.CodeUnexpectedError, "process_import", fmt.Errorf("panic: %v", r))
			e.deps.fail(ctx, log, record, err)
		}
	}()

	strategy := req.DuplicateHandling
	if !strategy.IsValid() && record.ProcessingOptions != nil {
		strategy = record.ProcessingOptions.DuplicateHandling
	}
	if !strategy.IsValid() {
		err = errors.ValidationError(errors.CodeInvalidStrategy, "duplicateHandling", req.DuplicateHandling, nil)
		e.deps.fail(ctx, log, record, err)
		return err
	}

	summary, err := e.commit(ctx, record, strategy)
	if err != nil {
		e.deps.fail(ctx, log, record, err)
		return err
	}

	completed := store.Transition(models.StatusCompleted, e.deps.now())
	completed.Summary = summary
	if _, err := e.deps.Store.Update(ctx, record.AccountID, record.UploadID, completed); err != nil {
		log.WithError(err).Error("Failed to record completed import")
		return err
	}

	log.WithFields(logger.Fields{
		"status":             models.StatusCompleted,
		"duplicate_handling": strategy,
		"transactions_added": summary.TransactionsAdded,
		"duplicates_handled": summary.DuplicatesHandled,
		"errors":             len(summary.Errors),
	}).Info("Import committed")
	return nil
}

// commit applies the strategy to every candidate. An error is returned only
// when the batch cannot start; per-transaction failures go into the summary.
//
// Entries already carrying this upload's batch id were written by an earlier
// run of the same commit. They are kept out of the reference set and the
// candidates they match are counted without being written again.
func (e *CommitExecutor) commit(ctx context.Context, record *models.ImportRecord, strategy models.DuplicateHandlingStrategy) (*models.ImportSummary, error) {
	transactions, err := e.deps.loadTransactions(ctx, record)
	if err != nil {
		return nil, err
	}

	floor := e.deps.windowFloor(e.config.ReferenceWindowDays)
	since := floor
	for _, tx := range transactions {
		if tx.Date.Before(since) {
			since = tx.Date
		}
	}
	stored, err := e.deps.entriesSince(ctx, record.AccountID, since)
	if err != nil {
		return nil, err
	}
	reference, written := splitByBatch(stored, record.UploadID, floor)
	if len(written) > 0 {
		e.logger.WithFields(logger.Fields{
			"upload_id": record.UploadID,
			"written":   len(written),
		}).Info("Resuming partially written import")
	}

	result := e.deps.Engine.FindDuplicates(transactions, reference)

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "commit_import",
		Total:     int64(len(result.Results)),
		Logger:    e.logger,
	})

	summary := &models.ImportSummary{Errors: []string{}}
	var writeErrs error
	now := e.deps.now()
	for _, match := range result.Results {
		if prior := written.take(match.Candidate); prior != nil {
			if prior.IsDuplicate || prior.ContentHash != models.LedgerKeyOf(record.AccountID, match.Candidate).ContentHash {
				summary.DuplicatesHandled++
			} else {
				summary.TransactionsAdded++
			}
			progress.Increment()
			continue
		}

		entry := match.Candidate.Clone()
		entry.AccountID = record.AccountID
		entry.ImportBatchID = record.UploadID
		entry.CreatedAt = now

		handled, err := e.apply(ctx, record.AccountID, entry, match, strategy)
		switch {
		case err != nil:
			writeErr := writeError(err)
			writeErrs = multierr.Append(writeErrs, writeErr)
			summary.Errors = append(summary.Errors, summaryLine(match.Candidate.LineNumber, writeErr))
		case match.IsDuplicate() && handled:
			summary.DuplicatesHandled++
		case !match.IsDuplicate():
			summary.TransactionsAdded++
		}
		progress.Increment()
	}
	if writeErrs != nil {
		progress.CompleteWithError(writeErrs)
	} else {
		progress.Complete()
	}

	if err := e.deps.Balances.RecomputeBalance(ctx, record.AccountID); err != nil {
		depErr := errors.DependencyError(errors.CodeAccount, "recompute_balance", err)
		e.logger.WithError(depErr).WithField("account_id", record.AccountID).Error("Balance recompute failed")
		public := depErr.Public()
		summary.Errors = append(summary.Errors, fmt.Sprintf("[%s] %s", public.Code, public.Message))
	}

	return summary, nil
}

// writeError classifies a failed ledger write. Collaborator detail stays in
// the logs; only the public code and message reach the summary.
func writeError(err error) *errors.ImportError {
	if stderrors.Is(err, ledger.ErrEntryExists) {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeEntryExists, "transaction already exists in the ledger")
	}
	return errors.WrapIfNeeded(err, errors.CategoryDependency, errors.CodeLedger, "ledger write failed")
}

func summaryLine(line int, err *errors.ImportError) string {
	public := err.Public()
	return fmt.Sprintf("line %d: [%s] %s", line, public.Code, public.Message)
}

// batchEntries are ledger entries written by one upload, in ledger order
type batchEntries []*models.Transaction

// splitByBatch separates this upload's own entries from the reference set.
// Entries of other batches older than floor are dropped.
func splitByBatch(stored []*models.Transaction, uploadID string, floor time.Time) ([]*models.Transaction, batchEntries) {
	var reference []*models.Transaction
	var written batchEntries
	for _, tx := range stored {
		switch {
		case tx.ImportBatchID == uploadID:
			written = append(written, tx)
		case !tx.Date.Before(floor):
			reference = append(reference, tx)
		}
	}
	return reference, written
}

// take removes and returns the first entry with the candidate's content
func (b *batchEntries) take(candidate *models.Transaction) *models.Transaction {
	for i, tx := range *b {
		if tx.SameContent(candidate) {
			*b = append((*b)[:i], (*b)[i+1:]...)
			return tx
		}
	}
	return nil
}

// apply writes one candidate. It reports whether a duplicate counts as handled.
func (e *CommitExecutor) apply(ctx context.Context, accountID string, entry *models.Transaction, match *matcher.MatchResult, strategy models.DuplicateHandlingStrategy) (bool, error) {
	if !match.IsDuplicate() {
		return false, e.deps.Ledger.Put(ctx, accountID, entry)
	}

	switch strategy {
	case models.StrategySkip:
		return true, nil
	case models.StrategyReplace:
		entry.ContentHash = models.LedgerKeyOf(accountID, match.Existing).ContentHash
		if err := e.deps.Ledger.PutOrReplace(ctx, accountID, entry); err != nil {
			return false, err
		}
		return true, nil
	case models.StrategyMarkDuplicate:
		entry.IsDuplicate = true
		entry.ContentHash = models.DuplicateContentHash(entry)
		if err := e.deps.Ledger.Put(ctx, accountID, entry); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("unsupported duplicate handling strategy %q", strategy)
	}
}
