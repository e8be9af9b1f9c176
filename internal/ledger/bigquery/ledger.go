// Package bigquery implements the ledger on a BigQuery table.
//
// Expected schema:
//
//	account_id STRING, content_hash STRING, transaction_id STRING,
//	transaction_date DATE, description STRING, amount NUMERIC,
//	import_batch_id STRING, is_duplicate BOOL, created_ts TIMESTAMP
//
// Writes are MERGE statements keyed on (account_id, transaction_date,
// content_hash) so a duplicate insert is detected by the affected-row count.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"statement-import-service/internal/ledger"
	"statement-import-service/internal/models"
	"statement-import-service/pkg/logger"
)

// NUMERIC scale
const amountScale = 9

// Config holds the configuration for the BigQuery ledger
type Config struct {
	ProjectID string
	Dataset   string
	Table     string
}

// TableRef returns the backtick-quoted, fully qualified table name
func (c Config) TableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", c.ProjectID, c.Dataset, c.Table)
}

// Ledger is a BigQuery implementation of ledger.Ledger
type Ledger struct {
	client *bigquery.Client
	config Config
	now    func() time.Time
	logger logger.Logger
}

// TransactionRow is the stored shape of a ledger entry
type TransactionRow struct {
	AccountID       string     `bigquery:"account_id"`
	ContentHash     string     `bigquery:"content_hash"`
	TransactionID   string     `bigquery:"transaction_id"`
	TransactionDate civil.Date `bigquery:"transaction_date"`
	Description     string     `bigquery:"description"`
	Amount          *big.Rat   `bigquery:"amount"`
	ImportBatchID   string     `bigquery:"import_batch_id"`
	IsDuplicate     bool       `bigquery:"is_duplicate"`
	CreatedTS       time.Time  `bigquery:"created_ts"`
}

// NewLedger opens a BigQuery client for the configured project
func NewLedger(ctx context.Context, cfg Config, log logger.Logger) (*Ledger, error) {
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewLedger: bigquery client: %w", err)
	}
	return NewLedgerWithClient(client, cfg, log), nil
}

// NewLedgerWithClient creates a ledger over an existing client
func NewLedgerWithClient(client *bigquery.Client, cfg Config, log logger.Logger) *Ledger {
	return &Ledger{
		client: client,
		config: cfg,
		now:    time.Now,
		logger: logger.OrGlobal(log).WithComponent("bigquery_ledger"),
	}
}

// Close releases the underlying client
func (l *Ledger) Close() error {
	return l.client.Close()
}

// QueryByAccountAndDateFloor implements ledger.Ledger.
func (l *Ledger) QueryByAccountAndDateFloor(ctx context.Context, accountID string, since time.Time) ([]*models.Transaction, error) {
	q := l.client.Query(selectByFloorSQL(l.config.TableRef()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "since", Value: civil.DateOf(since)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryByAccountAndDateFloor: query read: %w", err)
	}

	var result []*models.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryByAccountAndDateFloor: iter next: %w", err)
		}
		result = append(result, r.toTransaction())
	}

	l.logger.WithFields(logger.Fields{
		"account_id": accountID,
		"since":      since.Format(models.DateLayout),
		"rows":       len(result),
	}).Debug("Queried ledger")
	return result, nil
}

// Put implements ledger.Ledger.
func (l *Ledger) Put(ctx context.Context, accountID string, transaction *models.Transaction) error {
	if err := ledger.Validate(accountID, transaction); err != nil {
		return err
	}

	row := l.rowOf(accountID, transaction)
	affected, err := l.runDML(ctx, insertSQL(l.config.TableRef()), row)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if affected == 0 {
		return ledger.EntryExists(models.LedgerKeyOf(accountID, transaction))
	}
	return nil
}

// PutOrReplace implements ledger.Ledger.
func (l *Ledger) PutOrReplace(ctx context.Context, accountID string, transaction *models.Transaction) error {
	if err := ledger.Validate(accountID, transaction); err != nil {
		return err
	}

	row := l.rowOf(accountID, transaction)
	if _, err := l.runDML(ctx, upsertSQL(l.config.TableRef()), row); err != nil {
		return fmt.Errorf("PutOrReplace: %w", err)
	}
	return nil
}

func (l *Ledger) runDML(ctx context.Context, sql string, row *TransactionRow) (int64, error) {
	q := l.client.Query(sql)
	q.Parameters = row.parameters()

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job: %w", err)
	}

	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if details, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return details.NumDMLAffectedRows
	}
	return 0
}

func (l *Ledger) rowOf(accountID string, t *models.Transaction) *TransactionRow {
	key := models.LedgerKeyOf(accountID, t)
	created := t.CreatedAt
	if created.IsZero() {
		created = l.now().UTC()
	}
	return &TransactionRow{
		AccountID:       accountID,
		ContentHash:     key.ContentHash,
		TransactionID:   t.ID,
		TransactionDate: civil.DateOf(t.Date),
		Description:     t.Description,
		Amount:          t.Amount.Rat(),
		ImportBatchID:   t.ImportBatchID,
		IsDuplicate:     t.IsDuplicate,
		CreatedTS:       created,
	}
}

func (r *TransactionRow) parameters() []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "account_id", Value: r.AccountID},
		{Name: "content_hash", Value: r.ContentHash},
		{Name: "transaction_id", Value: r.TransactionID},
		{Name: "transaction_date", Value: r.TransactionDate},
		{Name: "description", Value: r.Description},
		{Name: "amount", Value: r.Amount},
		{Name: "import_batch_id", Value: r.ImportBatchID},
		{Name: "is_duplicate", Value: r.IsDuplicate},
		{Name: "created_ts", Value: r.CreatedTS},
	}
}

func (r *TransactionRow) toTransaction() *models.Transaction {
	amount := decimal.Zero
	if r.Amount != nil {
		amount = decimal.NewFromBigRat(r.Amount, amountScale)
	}
	return &models.Transaction{
		ID:            r.TransactionID,
		AccountID:     r.AccountID,
		Date:          r.TransactionDate.In(time.UTC),
		Description:   r.Description,
		Amount:        amount,
		ImportBatchID: r.ImportBatchID,
		ContentHash:   r.ContentHash,
		CreatedAt:     r.CreatedTS,
		IsDuplicate:   r.IsDuplicate,
	}
}

func selectByFloorSQL(table string) string {
	return `
		SELECT
			account_id,
			content_hash,
			transaction_id,
			transaction_date,
			description,
			amount,
			import_batch_id,
			is_duplicate,
			created_ts
		FROM ` + table + `
		WHERE account_id = @account_id
		  AND transaction_date >= @since
		ORDER BY transaction_date, created_ts, content_hash
	`
}

const mergeSource = `
		USING (SELECT
			@account_id AS account_id,
			@content_hash AS content_hash,
			@transaction_date AS transaction_date) s
		ON t.account_id = s.account_id
		  AND t.transaction_date = s.transaction_date
		  AND t.content_hash = s.content_hash`

const insertClause = `
		WHEN NOT MATCHED THEN
		  INSERT (account_id, content_hash, transaction_id, transaction_date, description,
		          amount, import_batch_id, is_duplicate, created_ts)
		  VALUES (@account_id, @content_hash, @transaction_id, @transaction_date, @description,
		          @amount, @import_batch_id, @is_duplicate, @created_ts)`

func insertSQL(table string) string {
	return `MERGE ` + table + ` t` + mergeSource + insertClause
}

func upsertSQL(table string) string {
	return `MERGE ` + table + ` t` + mergeSource + `
		WHEN MATCHED THEN
		  UPDATE SET
			transaction_id = @transaction_id,
			description = @description,
			amount = @amount,
			import_batch_id = @import_batch_id,
			is_duplicate = @is_duplicate,
			created_ts = @created_ts` + insertClause
}

// Ensure Ledger implements the ledger.Ledger interface.
var _ ledger.Ledger = (*Ledger)(nil)
