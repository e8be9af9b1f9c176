package matcher

import (
	"time"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/logger"
)

// MatchingEngine classifies candidate transactions against a reference set
type MatchingEngine struct {
	Config *MatchingConfig
	logger logger.Logger
}

// MatchResult is the classification of one candidate
type MatchResult struct {
	Candidate  *models.Transaction
	Existing   *models.Transaction // nil when the candidate is unique
	Similarity float64
}

// IsDuplicate reports whether the candidate matched an existing entry
func (mr *MatchResult) IsDuplicate() bool {
	return mr.Existing != nil
}

// ReconciliationResult holds the classification of every candidate
type ReconciliationResult struct {
	// Results has one entry per candidate, in candidate order
	Results    []*MatchResult
	Unique     []*models.Transaction
	Duplicates []*MatchResult
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig, log logger.Logger) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &MatchingEngine{
		Config: config,
		logger: logger.OrGlobal(log).WithComponent("matching_engine"),
	}
}

// IsPotentialDuplicate reports whether two transactions fall on the same
// calendar day with exactly equal amounts
func (me *MatchingEngine) IsPotentialDuplicate(a, b *models.Transaction) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Date.Equal(b.Date) || !a.Amount.Equal(b.Amount) {
		return false
	}
	diff := a.Date.Sub(b.Date)
	if diff < 0 {
		diff = -diff
	}
	return diff < me.Config.DateTolerance
}

// Similarity scores how alike two transactions are, in [0, 1]
func (me *MatchingEngine) Similarity(a, b *models.Transaction) float64 {
	if a == nil || b == nil {
		return 0
	}

	score := 0.0
	if a.Date.Equal(b.Date) {
		score += me.Config.Weights.DateWeight
	}
	if a.Amount.Equal(b.Amount) {
		score += me.Config.Weights.AmountWeight
	}
	if models.NormalizeDescription(a.Description) == models.NormalizeDescription(b.Description) {
		score += me.Config.Weights.DescriptionWeight
	}

	if score > 1 {
		return 1
	}
	return score
}

// FindDuplicates classifies each candidate as unique or as a duplicate of
// the first existing entry that satisfies IsPotentialDuplicate
func (me *MatchingEngine) FindDuplicates(candidates, existing []*models.Transaction) *ReconciliationResult {
	return me.FindDuplicatesWithIndex(candidates, NewLedgerIndex(existing))
}

// FindDuplicatesWithIndex is FindDuplicates over a prebuilt index
func (me *MatchingEngine) FindDuplicatesWithIndex(candidates []*models.Transaction, index *LedgerIndex) *ReconciliationResult {
	result := &ReconciliationResult{
		Results: make([]*MatchResult, 0, len(candidates)),
	}

	for _, candidate := range candidates {
		match := &MatchResult{Candidate: candidate}
		for _, existing := range index.GetByDate(candidate.Date) {
			if me.IsPotentialDuplicate(candidate, existing) {
				match.Existing = existing
				match.Similarity = me.Similarity(candidate, existing)
				break
			}
		}

		result.Results = append(result.Results, match)
		if match.IsDuplicate() {
			result.Duplicates = append(result.Duplicates, match)
		} else {
			result.Unique = append(result.Unique, candidate)
		}
	}

	stats := index.GetStats()
	me.logger.WithFields(logger.Fields{
		"candidates":      len(candidates),
		"existing":        stats.TotalTransactions,
		"reference_dates": stats.UniqueDates,
		"largest_bucket":  stats.LargestBucket,
		"unique":          len(result.Unique),
		"duplicates":      len(result.Duplicates),
	}).Debug("Classified candidate transactions")

	return result
}

// Analyze reconciles candidates against the reference set and freezes the
// outcome in a snapshot generated at now
func (me *MatchingEngine) Analyze(candidates, existing []*models.Transaction, now time.Time) *models.AnalysisSnapshot {
	index := NewLedgerIndex(existing)
	result := me.FindDuplicatesWithIndex(candidates, index)

	fileRange := FileDateRange(candidates, now)

	snapshot := &models.AnalysisSnapshot{
		GeneratedAt: now,
		FileStats: models.FileStats{
			TransactionCount: len(candidates),
			DateRange:        fileRange,
		},
		OverlapStats: models.OverlapStats{
			ExistingTransactions: len(existing),
			NewTransactions:      len(result.Unique),
			PotentialDuplicates:  len(result.Duplicates),
		},
		SampleTransactions: models.SampleTransactions{
			New:        cloneFirst(result.Unique, me.Config.SampleSize),
			Existing:   cloneFirst(existing, me.Config.SampleSize),
			Duplicates: me.samplePairs(result.Duplicates),
		},
	}

	if len(candidates) > 0 {
		snapshot.OverlapStats.OverlapPeriod = intersect(fileRange, index.DateRange())
	}

	me.logger.WithFields(logger.Fields{
		"transaction_count":    snapshot.FileStats.TransactionCount,
		"existing":             snapshot.OverlapStats.ExistingTransactions,
		"potential_duplicates": snapshot.OverlapStats.PotentialDuplicates,
	}).Info("Analysis snapshot generated")

	return snapshot
}

// FileDateRange returns the min and max candidate dates, or (now, now) for
// an empty set
func FileDateRange(transactions []*models.Transaction, now time.Time) models.DateRange {
	if len(transactions) == 0 {
		return models.DateRange{Start: now, End: now}
	}

	r := models.DateRange{Start: transactions[0].Date, End: transactions[0].Date}
	for _, tx := range transactions[1:] {
		if tx.Date.Before(r.Start) {
			r.Start = tx.Date
		}
		if tx.Date.After(r.End) {
			r.End = tx.Date
		}
	}
	return r
}

func intersect(a models.DateRange, b *models.DateRange) *models.DateRange {
	if b == nil {
		return nil
	}
	start, end := a.Start, a.End
	if b.Start.After(start) {
		start = b.Start
	}
	if b.End.Before(end) {
		end = b.End
	}
	if start.After(end) {
		return nil
	}
	return &models.DateRange{Start: start, End: end}
}

func (me *MatchingEngine) samplePairs(duplicates []*MatchResult) []models.DuplicatePair {
	n := min(len(duplicates), me.Config.SampleSize)
	pairs := make([]models.DuplicatePair, 0, n)
	for _, d := range duplicates[:n] {
		pairs = append(pairs, models.DuplicatePair{
			New:        d.Candidate.Clone(),
			Existing:   d.Existing.Clone(),
			Similarity: d.Similarity,
		})
	}
	return pairs
}

func cloneFirst(transactions []*models.Transaction, limit int) []*models.Transaction {
	n := min(len(transactions), limit)
	out := make([]*models.Transaction, 0, n)
	for _, tx := range transactions[:n] {
		out = append(out, tx.Clone())
	}
	return out
}
