package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"statement-import-service/internal/ledger"
	"statement-import-service/internal/models"
)

// Ledger is an in-memory implementation of ledger.Ledger.
// It is safe for concurrent use; data is lost on restart.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntries
	now      func() time.Time
}

type accountEntries struct {
	order   []string
	entries map[string]*models.Transaction
}

// NewLedger creates a new in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*accountEntries),
		now:      time.Now,
	}
}

// WithClock replaces the clock used for CreatedAt
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) account(accountID string) *accountEntries {
	a, exists := l.accounts[accountID]
	if !exists {
		a = &accountEntries{entries: make(map[string]*models.Transaction)}
		l.accounts[accountID] = a
	}
	return a
}

func (l *Ledger) prepare(accountID string, transaction *models.Transaction) (string, *models.Transaction) {
	key := models.LedgerKeyOf(accountID, transaction)
	entry := transaction.Clone()
	entry.AccountID = accountID
	entry.ContentHash = key.ContentHash
	entry.LineNumber = 0
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	return key.SortKey(), entry
}

// QueryByAccountAndDateFloor implements ledger.Ledger.
func (l *Ledger) QueryByAccountAndDateFloor(ctx context.Context, accountID string, since time.Time) ([]*models.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, exists := l.accounts[accountID]
	if !exists {
		return nil, nil
	}

	var result []*models.Transaction
	for _, k := range a.order {
		entry := a.entries[k]
		if entry.Date.Before(since) {
			continue
		}
		result = append(result, entry.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// Put implements ledger.Ledger.
func (l *Ledger) Put(ctx context.Context, accountID string, transaction *models.Transaction) error {
	if err := ledger.Validate(accountID, transaction); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k, entry := l.prepare(accountID, transaction)
	a := l.account(accountID)
	if _, exists := a.entries[k]; exists {
		return ledger.EntryExists(models.LedgerKeyOf(accountID, entry))
	}

	a.entries[k] = entry
	a.order = append(a.order, k)
	return nil
}

// PutOrReplace implements ledger.Ledger. A replaced entry keeps its position.
func (l *Ledger) PutOrReplace(ctx context.Context, accountID string, transaction *models.Transaction) error {
	if err := ledger.Validate(accountID, transaction); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k, entry := l.prepare(accountID, transaction)
	a := l.account(accountID)
	if _, exists := a.entries[k]; !exists {
		a.order = append(a.order, k)
	}
	a.entries[k] = entry
	return nil
}

// Entries returns every entry for the account ordered by date, then insertion
func (l *Ledger) Entries(accountID string) []*models.Transaction {
	all, _ := l.QueryByAccountAndDateFloor(context.Background(), accountID, time.Time{})
	return all
}

// Ensure Ledger implements the ledger.Ledger interface.
var _ ledger.Ledger = (*Ledger)(nil)
