package matcher

import (
	"sort"
	"time"

	"statement-import-service/internal/models"
)

// LedgerIndex buckets existing transactions by calendar day. Each bucket
// keeps reference order, which makes first-match lookups stable.
type LedgerIndex struct {
	// DateIndex maps date strings (YYYY-MM-DD) to transactions in reference order
	DateIndex map[string][]*models.Transaction

	// AllTransactions holds all indexed transactions in reference order
	AllTransactions []*models.Transaction

	dates []time.Time
}

// IndexStats summarizes an index
type IndexStats struct {
	TotalTransactions int
	UniqueDates       int
	LargestBucket     int
	DateRange         *models.DateRange
}

// NewLedgerIndex creates an index over the reference set
func NewLedgerIndex(transactions []*models.Transaction) *LedgerIndex {
	index := &LedgerIndex{
		DateIndex:       make(map[string][]*models.Transaction),
		AllTransactions: transactions,
	}

	index.buildIndexes()
	return index
}

func (li *LedgerIndex) buildIndexes() {
	for _, tx := range li.AllTransactions {
		if tx == nil {
			continue
		}
		key := tx.Date.Format(models.DateLayout)
		if _, exists := li.DateIndex[key]; !exists {
			li.dates = append(li.dates, tx.Date)
		}
		li.DateIndex[key] = append(li.DateIndex[key], tx)
	}

	sort.Slice(li.dates, func(i, j int) bool {
		return li.dates[i].Before(li.dates[j])
	})
}

// GetByDate returns existing transactions on the given calendar day
func (li *LedgerIndex) GetByDate(date time.Time) []*models.Transaction {
	return li.DateIndex[date.Format(models.DateLayout)]
}

// Size returns the number of indexed transactions
func (li *LedgerIndex) Size() int {
	return len(li.AllTransactions)
}

// DateRange returns the earliest and latest indexed dates, or nil when empty
func (li *LedgerIndex) DateRange() *models.DateRange {
	if len(li.dates) == 0 {
		return nil
	}
	return &models.DateRange{Start: li.dates[0], End: li.dates[len(li.dates)-1]}
}

// GetStats returns statistics about the index
func (li *LedgerIndex) GetStats() IndexStats {
	stats := IndexStats{
		TotalTransactions: len(li.AllTransactions),
		UniqueDates:       len(li.DateIndex),
		DateRange:         li.DateRange(),
	}
	for _, bucket := range li.DateIndex {
		if len(bucket) > stats.LargestBucket {
			stats.LargestBucket = len(bucket)
		}
	}
	return stats
}
