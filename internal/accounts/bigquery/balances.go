// Package bigquery recomputes account balances with a single MERGE over the
// ledger table.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"statement-import-service/internal/accounts"
	"statement-import-service/pkg/logger"
)

// Config names the ledger and balance tables
type Config struct {
	ProjectID         string
	Dataset           string
	TransactionsTable string
	BalancesTable     string
}

func (c Config) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.ProjectID, c.Dataset, name)
}

// Balances is a BigQuery implementation of accounts.BalanceRecomputer
type Balances struct {
	client *bigquery.Client
	config Config
	logger logger.Logger
}

// NewBalancesWithClient creates the aggregate over an existing client.
// The client is owned by the caller.
func NewBalancesWithClient(client *bigquery.Client, cfg Config, log logger.Logger) *Balances {
	return &Balances{
		client: client,
		config: cfg,
		logger: logger.OrGlobal(log).WithComponent("bigquery_balances"),
	}
}

// RecomputeBalance implements accounts.BalanceRecomputer.
func (b *Balances) RecomputeBalance(ctx context.Context, accountID string) error {
	q := b.client.Query(recomputeSQL(b.config))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("RecomputeBalance: run: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("RecomputeBalance: wait: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("RecomputeBalance: job: %w", err)
	}

	b.logger.WithField("account_id", accountID).Debug("Recomputed balance")
	return nil
}

func recomputeSQL(cfg Config) string {
	return `
		MERGE ` + cfg.table(cfg.BalancesTable) + ` b
		USING (
			SELECT
				@account_id AS account_id,
				COALESCE(SUM(IF(is_duplicate, CAST(0 AS NUMERIC), amount)), CAST(0 AS NUMERIC)) AS balance
			FROM ` + cfg.table(cfg.TransactionsTable) + `
			WHERE account_id = @account_id
		) s
		ON b.account_id = s.account_id
		WHEN MATCHED THEN
		  UPDATE SET balance = s.balance, updated_ts = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
		  INSERT (account_id, balance, updated_ts)
		  VALUES (s.account_id, s.balance, CURRENT_TIMESTAMP())
	`
}

var _ accounts.BalanceRecomputer = (*Balances)(nil)
