// Package accounts maintains the per-account aggregate derived from the ledger.
package accounts

import (
	"context"

	"github.com/shopspring/decimal"

	"statement-import-service/internal/models"
)

// BalanceRecomputer refreshes an account's stored balance from its ledger
type BalanceRecomputer interface {
	RecomputeBalance(ctx context.Context, accountID string) error
}

// SumBalance adds up ledger amounts. Entries flagged as duplicates are
// excluded so marking a duplicate never counts an amount twice.
func SumBalance(entries []*models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e == nil || e.IsDuplicate {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}
