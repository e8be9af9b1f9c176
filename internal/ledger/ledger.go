// Package ledger defines the store of committed transactions per account.
//
// Entries are addressed by (accountId, date, contentHash), so re-submitting
// an identical row lands on the same key.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"statement-import-service/internal/models"
)

// ErrEntryExists is returned by Put when the key is already taken
var ErrEntryExists = stderrors.New("ledger entry already exists")

// Ledger is the durable store of committed transactions
type Ledger interface {
	// QueryByAccountAndDateFloor returns entries dated on or after since,
	// ordered by date then insertion.
	QueryByAccountAndDateFloor(ctx context.Context, accountID string, since time.Time) ([]*models.Transaction, error)

	// Put inserts a new entry and fails with ErrEntryExists on a taken key.
	Put(ctx context.Context, accountID string, transaction *models.Transaction) error

	// PutOrReplace writes the entry, overwriting whatever is at its key.
	PutOrReplace(ctx context.Context, accountID string, transaction *models.Transaction) error
}

// EntryExists wraps ErrEntryExists with the key
func EntryExists(key models.LedgerKey) error {
	return fmt.Errorf("%w: %s", ErrEntryExists, key)
}

// Validate checks a transaction can be written
func Validate(accountID string, transaction *models.Transaction) error {
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if transaction == nil {
		return fmt.Errorf("transaction cannot be nil")
	}
	if transaction.Date.IsZero() {
		return fmt.Errorf("transaction date is required")
	}
	return nil
}
