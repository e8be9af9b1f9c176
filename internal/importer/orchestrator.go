package importer

import (
	"context"
	stderrors "errors"

	"statement-import-service/internal/invoker"
	"statement-import-service/internal/models"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// Orchestrator drives an import from initiation to the commit hand-off
type Orchestrator struct {
	deps   *Dependencies
	config Config
	logger logger.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(deps Dependencies, config Config) (*Orchestrator, error) {
	d, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if d.Invoker == nil {
		return nil, errors.InternalError(errors.CodeInvalidConfig, "importer dependencies", stderrors.New("invoker is required"))
	}

	defaults := DefaultConfig()
	if config.UploadURLTTL <= 0 {
		config.UploadURLTTL = defaults.UploadURLTTL
	}
	if config.ReferenceWindowDays <= 0 {
		config.ReferenceWindowDays = defaults.ReferenceWindowDays
	}

	return &Orchestrator{
		deps:   d,
		config: config,
		logger: d.Logger.WithComponent("import_orchestrator"),
	}, nil
}

func (o *Orchestrator) recordLogger(accountID, uploadID string) logger.Logger {
	return o.logger.WithFields(logger.Fields{
		"account_id": accountID,
		"upload_id":  uploadID,
	})
}

// InitiateImport creates a PENDING record and returns a time-boxed upload URL
func (o *Orchestrator) InitiateImport(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ContentType == "" {
		req.ContentType = DefaultContentType
	}

	now := o.deps.now()
	uploadID := o.deps.NewID()
	key := models.NewStorageKey(req.UserID, req.AccountID, uploadID, req.FileName, now)

	record := &models.ImportRecord{
		UploadID:    uploadID,
		AccountID:   req.AccountID,
		UserID:      req.UserID,
		FileName:    key.FileName,
		FileType:    req.FileType,
		ContentType: req.ContentType,
		Bucket:      o.deps.Blobs.Bucket(),
		StorageKey:  key.String(),
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	op := logger.NewOperationLogger("initiate_import", o.logger, logger.Fields{
		"account_id": req.AccountID,
		"upload_id":  uploadID,
	})

	if err := o.deps.Store.Create(ctx, record); err != nil {
		op.Error(err, "Failed to create import record")
		return nil, err
	}

	url, err := o.deps.Blobs.PutWithSignedURL(ctx, record.StorageKey, record.ContentType, o.config.UploadURLTTL)
	if err != nil {
		depErr := errors.DependencyError(errors.CodeBlobStore, "sign_upload_url", err)
		o.deps.fail(ctx, op.Logger(), record, depErr)
		op.Error(depErr, "Failed to issue upload URL")
		return nil, depErr
	}

	op.Success("Import initiated", logger.Fields{"status": record.Status})
	return &InitiateResponse{
		UploadID:  uploadID,
		UploadURL: url,
		ExpiresIn: int(o.config.UploadURLTTL.Seconds()),
	}, nil
}

// OnRawFileArrived handles the storage notification for an uploaded file
// and runs analysis. Notifications for records already past ANALYZING are
// ignored so redelivery is harmless.
func (o *Orchestrator) OnRawFileArrived(ctx context.Context, bucket, key string) error {
	sk, err := models.ParseStorageKey(key)
	if err != nil {
		o.logger.WithError(err).WithField("key", key).Warn("Ignoring notification for unrecognized key")
		return err
	}

	log := o.recordLogger(sk.AccountID, sk.UploadID)

	record, err := o.deps.Store.Get(ctx, sk.AccountID, sk.UploadID)
	if err != nil {
		return err
	}
	if record.StorageKey != key || record.Bucket != bucket {
		return errors.ValidationError(errors.CodeInvalidKey, "storage key", bucket+"/"+key, nil).
			WithContext("expected_key", record.Bucket+"/"+record.StorageKey)
	}
	if record.Status != models.StatusPending && record.Status != models.StatusAnalyzing {
		log.WithField("status", record.Status).Info("Raw file notification already handled")
		return nil
	}

	updated, err := o.deps.Store.Update(ctx, record.AccountID, record.UploadID, store.Transition(models.StatusAnalyzing, o.deps.now()))
	if err != nil {
		if errors.HasCode(err, errors.CodeStatusConflict) {
			log.WithError(err).Info("Import moved on concurrently, skipping analysis")
			return nil
		}
		return err
	}

	return o.analyze(ctx, updated)
}

// analyze parses the stored file, reconciles it against the reference
// window and writes ANALYZED with the snapshot. Any failure writes FAILED.
func (o *Orchestrator) analyze(ctx context.Context, record *models.ImportRecord) error {
	op := logger.NewOperationLogger("analyze_import", o.logger, logger.Fields{
		"account_id": record.AccountID,
		"upload_id":  record.UploadID,
	})

	fail := func(err error, message string) error {
		o.deps.fail(ctx, op.Logger(), record, err)
		op.Error(err, message)
		return err
	}

	op.Step("parse")
	transactions, err := o.deps.loadTransactions(ctx, record)
	if err != nil {
		return fail(err, "Failed to load transactions")
	}

	op.Step("reconcile")
	existing, err := o.deps.referenceWindow(ctx, record.AccountID, o.config.ReferenceWindowDays)
	if err != nil {
		return fail(err, "Failed to load reference window")
	}
	snapshot := o.deps.Engine.Analyze(transactions, existing, o.deps.now())

	wrongAccount := false
	if o.deps.MismatchDetector != nil {
		wrongAccount, err = o.deps.MismatchDetector(ctx, record, transactions)
		if err != nil {
			return fail(errors.DependencyError(errors.CodeAccount, "detect_account_mismatch", err), "Account mismatch check failed")
		}
	}

	analyzed := store.Transition(models.StatusAnalyzed, o.deps.now())
	analyzed.AnalysisSnapshot = snapshot
	if _, err := o.deps.Store.Update(ctx, record.AccountID, record.UploadID, analyzed); err != nil {
		op.Error(err, "Failed to store analysis")
		return err
	}

	status := models.StatusAnalyzed
	if wrongAccount {
		if _, err := o.deps.Store.Update(ctx, record.AccountID, record.UploadID, store.Transition(models.StatusWrongAccountDetected, o.deps.now())); err != nil {
			op.Error(err, "Failed to flag wrong account")
			return err
		}
		status = models.StatusWrongAccountDetected
	}

	op.Success("Import analyzed", logger.Fields{
		"status":               status,
		"transaction_count":    snapshot.FileStats.TransactionCount,
		"potential_duplicates": snapshot.OverlapStats.PotentialDuplicates,
	})
	return nil
}

// ConfirmImport records the user's decisions, moves the import to
// PROCESSING and hands it to the commit stage. A rejected request leaves
// the record untouched.
func (o *Orchestrator) ConfirmImport(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	log := o.recordLogger(req.AccountID, req.UploadID)

	record, err := o.deps.Store.Get(ctx, req.AccountID, req.UploadID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(record, req.UserID); err != nil {
		log.WithField("user_id", req.UserID).Warn("Rejected confirmation from non-owner")
		return nil, err
	}
	if err := req.Confirmations.Validate(); err != nil {
		return nil, err
	}
	strategy := models.ParseStrategy(req.DuplicateHandling)
	if !strategy.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidStrategy, "duplicateHandling", req.DuplicateHandling, nil)
	}
	if record.Status != models.StatusAnalyzed {
		return nil, errors.ValidationError(errors.CodeInvalidState, "status", record.Status, nil)
	}

	now := o.deps.now()
	update := store.Transition(models.StatusProcessing, now)
	update.FromStatuses = []models.ImportStatus{models.StatusAnalyzed}
	update.ProcessingOptions = &models.ProcessingOptions{
		DuplicateHandling: strategy,
		ConfirmedAt:       now,
	}

	updated, err := o.deps.Store.Update(ctx, record.AccountID, record.UploadID, update)
	if err != nil {
		return nil, err
	}

	if err := o.dispatchCommit(ctx, updated, strategy); err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"status":             updated.Status,
		"duplicate_handling": strategy,
	}).Info("Import confirmed")
	return &ConfirmResponse{UploadID: updated.UploadID, Status: updated.Status}, nil
}

// dispatchCommit invokes the commit stage; if the hand-off fails the
// record is failed so it is not left in PROCESSING.
func (o *Orchestrator) dispatchCommit(ctx context.Context, record *models.ImportRecord, strategy models.DuplicateHandlingStrategy) error {
	err := o.deps.Invoker.InvokeFireAndForget(ctx, invoker.FunctionProcessImport, invoker.ProcessImportRequest{
		AccountID:         record.AccountID,
		UploadID:          record.UploadID,
		DuplicateHandling: strategy,
	})
	if err == nil {
		return nil
	}

	depErr := errors.DependencyError(errors.CodeInvoker, "invoke_process_import", err)
	o.deps.fail(ctx, o.recordLogger(record.AccountID, record.UploadID), record, depErr)
	return depErr
}

// GetImportStatus returns the stored record
func (o *Orchestrator) GetImportStatus(ctx context.Context, accountID, uploadID string) (*models.ImportRecord, error) {
	return o.deps.Store.Get(ctx, accountID, uploadID)
}

// RetryImport restarts a FAILED import. A confirmed import is committed
// again with its recorded options; otherwise analysis is re-run from the
// stored raw file.
func (o *Orchestrator) RetryImport(ctx context.Context, userID, accountID, uploadID string) (*models.ImportRecord, error) {
	log := o.recordLogger(accountID, uploadID)

	record, err := o.deps.Store.Get(ctx, accountID, uploadID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(record, userID); err != nil {
		return nil, err
	}
	if record.Status != models.StatusFailed {
		return nil, errors.ValidationError(errors.CodeInvalidState, "status", record.Status, nil).
			WithSuggestion("only failed imports can be retried")
	}

	if record.ProcessingOptions != nil {
		update := store.RetryTransition(models.StatusProcessing, o.deps.now())
		update.FromStatuses = []models.ImportStatus{models.StatusFailed}
		updated, err := o.deps.Store.Update(ctx, accountID, uploadID, update)
		if err != nil {
			return nil, err
		}
		log.WithField("stage", "commit").Info("Retrying import")
		if err := o.dispatchCommit(ctx, updated, updated.ProcessingOptions.DuplicateHandling); err != nil {
			return nil, err
		}
		return updated, nil
	}

	update := store.RetryTransition(models.StatusAnalyzing, o.deps.now())
	update.FromStatuses = []models.ImportStatus{models.StatusFailed}
	updated, err := o.deps.Store.Update(ctx, accountID, uploadID, update)
	if err != nil {
		return nil, err
	}
	log.WithField("stage", "analyze").Info("Retrying import")
	if err := o.analyze(ctx, updated); err != nil {
		return nil, err
	}
	return o.deps.Store.Get(ctx, accountID, uploadID)
}
