// Package app builds the import pipeline for the configured backend.
package app

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/bigquery"
	"go.uber.org/multierr"

	"statement-import-service/internal/accounts"
	bqaccounts "statement-import-service/internal/accounts/bigquery"
	memaccounts "statement-import-service/internal/accounts/inmemory"
	"statement-import-service/internal/blob"
	"statement-import-service/internal/blob/gcs"
	memblob "statement-import-service/internal/blob/inmemory"
	"statement-import-service/internal/config"
	"statement-import-service/internal/importer"
	"statement-import-service/internal/invoker"
	"statement-import-service/internal/invoker/queue"
	"statement-import-service/internal/ledger"
	bqledger "statement-import-service/internal/ledger/bigquery"
	memledger "statement-import-service/internal/ledger/inmemory"
	"statement-import-service/internal/matcher"
	"statement-import-service/internal/parsers"
	"statement-import-service/internal/store"
	"statement-import-service/internal/store/dynamodb"
	memstore "statement-import-service/internal/store/inmemory"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// App holds the wired pipeline and the resources it owns
type App struct {
	Config *config.Config

	Store    store.ImportStore
	Blobs    blob.Store
	Ledger   ledger.Ledger
	Balances accounts.BalanceRecomputer
	Queue    *queue.Queue

	Orchestrator *importer.Orchestrator
	Executor     *importer.CommitExecutor

	// Uploads accepts direct uploads; set only for the memory backend
	Uploads *memblob.Store

	logger  logger.Logger
	closers []io.Closer
}

// Option customizes the pipeline before it is built
type Option func(*importer.Dependencies)

// WithMismatchDetector installs a wrong-account check
func WithMismatchDetector(d importer.AccountMismatchDetector) Option {
	return func(deps *importer.Dependencies) {
		deps.MismatchDetector = d
	}
}

// New builds the collaborators for cfg.Backend and the pipeline over them
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*App, error) {
	log = logger.OrGlobal(log)

	a := &App{
		Config: cfg,
		logger: log.WithComponent("app"),
	}

	var err error
	switch cfg.Backend {
	case config.BackendMemory:
		a.buildMemory(log)
	case config.BackendCloud:
		err = a.buildCloud(ctx, log)
	default:
		err = errors.InternalError(errors.CodeInvalidConfig, "build_app", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, multierr.Append(err, a.closeResources())
	}

	a.Queue = queue.NewQueue(cfg.WorkerConfig(), log)
	a.closers = append(a.closers, a.Queue)

	parser, err := parsers.NewTransactionParser(nil, log)
	if err != nil {
		return nil, multierr.Append(err, a.closeResources())
	}

	deps := importer.Dependencies{
		Store:    a.Store,
		Blobs:    a.Blobs,
		Ledger:   a.Ledger,
		Balances: a.Balances,
		Invoker:  a.Queue,
		Parser:   parser,
		Engine:   matcher.NewMatchingEngine(cfg.MatchingConfig(), log),
		Logger:   log,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	if a.Orchestrator, err = importer.NewOrchestrator(deps, cfg.PipelineConfig()); err != nil {
		return nil, multierr.Append(err, a.closeResources())
	}
	if a.Executor, err = importer.NewCommitExecutor(deps, cfg.PipelineConfig()); err != nil {
		return nil, multierr.Append(err, a.closeResources())
	}

	a.logger.WithFields(logger.Fields{
		"backend": cfg.Backend,
		"bucket":  a.Blobs.Bucket(),
	}).Info("Import pipeline ready")
	return a, nil
}

func (a *App) buildMemory(log logger.Logger) {
	l := memledger.NewLedger()
	uploads := memblob.NewStore(a.Config.Import.Bucket, a.Config.Server.PublicBaseURL)

	a.Store = memstore.NewStore()
	a.Ledger = l
	a.Balances = memaccounts.NewBalances(l, log)
	a.Blobs = uploads
	a.Uploads = uploads
}

func (a *App) buildCloud(ctx context.Context, log logger.Logger) error {
	cfg := a.Config

	imports, err := dynamodb.NewStore(ctx, dynamodb.Config{
		Region:    cfg.DynamoDB.Region,
		TableName: cfg.DynamoDB.ImportsTable,
		Endpoint:  cfg.DynamoDB.Endpoint,
	}, log)
	if err != nil {
		return errors.DependencyError(errors.CodeStore, "connect_dynamodb", err)
	}
	a.Store = imports

	// the ledger and the balance aggregate share one client
	bq, err := bigquery.NewClient(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		return errors.DependencyError(errors.CodeLedger, "connect_bigquery", err)
	}
	a.closers = append(a.closers, bq)

	a.Ledger = bqledger.NewLedgerWithClient(bq, bqledger.Config{
		ProjectID: cfg.BigQuery.ProjectID,
		Dataset:   cfg.BigQuery.Dataset,
		Table:     cfg.BigQuery.TransactionsTable,
	}, log)
	a.Balances = bqaccounts.NewBalancesWithClient(bq, bqaccounts.Config{
		ProjectID:         cfg.BigQuery.ProjectID,
		Dataset:           cfg.BigQuery.Dataset,
		TransactionsTable: cfg.BigQuery.TransactionsTable,
		BalancesTable:     cfg.BigQuery.BalancesTable,
	}, log)

	blobs, err := gcs.NewStore(ctx, gcs.Config{
		Bucket:         cfg.Import.Bucket,
		SigningAccount: cfg.GCS.SigningAccount,
	}, log)
	if err != nil {
		return errors.DependencyError(errors.CodeBlobStore, "connect_gcs", err)
	}
	a.Blobs = blobs
	a.closers = append(a.closers, blobs)

	return nil
}

// Router maps function refs to the stages that serve them
func (a *App) Router() invoker.Router {
	return invoker.Router{
		invoker.FunctionProcessImport: a.Executor.HandleMessage,
	}
}

// Start runs the queue workers so confirmed imports get committed
func (a *App) Start(ctx context.Context) error {
	return a.Queue.Start(ctx, a.Router().Handle)
}

// Close stops the workers and releases clients
func (a *App) Close(ctx context.Context) error {
	err := a.Queue.Stop(ctx)
	return multierr.Append(err, a.closeResources())
}

// closeResources closes in reverse order of creation
func (a *App) closeResources() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}
