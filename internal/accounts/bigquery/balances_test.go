package bigquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecomputeSQL(t *testing.T) {
	sql := recomputeSQL(Config{
		ProjectID:         "p",
		Dataset:           "finance",
		TransactionsTable: "ledger",
		BalancesTable:     "balances",
	})

	assert.Contains(t, sql, "MERGE `p.finance.balances` b")
	assert.Contains(t, sql, "FROM `p.finance.ledger`")
	assert.Contains(t, sql, "IF(is_duplicate, CAST(0 AS NUMERIC), amount)")
	assert.Contains(t, sql, "WHEN NOT MATCHED THEN")
}
