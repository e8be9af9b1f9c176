package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"statement-import-service/internal/accounts"
	"statement-import-service/internal/ledger"
	"statement-import-service/pkg/logger"
)

// Balances recomputes balances from a ledger and keeps them in memory
type Balances struct {
	mu       sync.RWMutex
	ledger   ledger.Ledger
	balances map[string]decimal.Decimal
	logger   logger.Logger
}

// NewBalances creates a balance aggregate over the given ledger
func NewBalances(l ledger.Ledger, log logger.Logger) *Balances {
	return &Balances{
		ledger:   l,
		balances: make(map[string]decimal.Decimal),
		logger:   logger.OrGlobal(log).WithComponent("account_balances"),
	}
}

// RecomputeBalance implements accounts.BalanceRecomputer.
func (b *Balances) RecomputeBalance(ctx context.Context, accountID string) error {
	entries, err := b.ledger.QueryByAccountAndDateFloor(ctx, accountID, time.Time{})
	if err != nil {
		return fmt.Errorf("recompute balance for %s: %w", accountID, err)
	}

	total := accounts.SumBalance(entries)

	b.mu.Lock()
	b.balances[accountID] = total
	b.mu.Unlock()

	b.logger.WithFields(logger.Fields{
		"account_id": accountID,
		"entries":    len(entries),
		"balance":    total.String(),
	}).Debug("Recomputed balance")
	return nil
}

// Balance returns the last computed balance
func (b *Balances) Balance(accountID string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.balances[accountID]
	return v, ok
}

var _ accounts.BalanceRecomputer = (*Balances)(nil)
