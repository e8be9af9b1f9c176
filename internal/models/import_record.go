package models

import (
	"slices"
	"strings"
	"time"
)

// ImportStatus is the lifecycle state of one import
type ImportStatus string

const (
	StatusPending              ImportStatus = "PENDING"
	StatusAnalyzing            ImportStatus = "ANALYZING"
	StatusAnalyzed             ImportStatus = "ANALYZED"
	StatusWrongAccountDetected ImportStatus = "WRONG_ACCOUNT_DETECTED"
	StatusProcessing           ImportStatus = "PROCESSING"
	StatusCompleted            ImportStatus = "COMPLETED"
	StatusFailed               ImportStatus = "FAILED"
)

// predecessors lists, for each status, the statuses it may be entered from
// during normal forward progress. ANALYZING and PROCESSING may be re-entered
// so a redelivered trigger can resume a stage.
var predecessors = map[ImportStatus][]ImportStatus{
	StatusAnalyzing:            {StatusPending, StatusAnalyzing},
	StatusAnalyzed:             {StatusAnalyzing},
	StatusWrongAccountDetected: {StatusAnalyzed},
	StatusProcessing:           {StatusAnalyzed, StatusProcessing},
	StatusCompleted:            {StatusProcessing},
	StatusFailed:               {StatusPending, StatusAnalyzing, StatusAnalyzed, StatusProcessing},
}

// IsValid checks if the status is known
func (s ImportStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusAnalyzed, StatusWrongAccountDetected,
		StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further automatic transition is possible
func (s ImportStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Predecessors returns the statuses from which next may be entered. A retry
// additionally allows leaving FAILED.
func Predecessors(next ImportStatus, retry bool) []ImportStatus {
	allowed := append([]ImportStatus(nil), predecessors[next]...)
	if retry && (next == StatusAnalyzing || next == StatusProcessing) {
		allowed = append(allowed, StatusFailed)
	}
	return allowed
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to ImportStatus, retry bool) bool {
	for _, s := range Predecessors(to, retry) {
		if s == from {
			return true
		}
	}
	return false
}

// DuplicateHandlingStrategy is the user's policy for overlapping transactions
type DuplicateHandlingStrategy string

const (
	StrategySkip          DuplicateHandlingStrategy = "SKIP"
	StrategyReplace       DuplicateHandlingStrategy = "REPLACE"
	StrategyMarkDuplicate DuplicateHandlingStrategy = "MARK_DUPLICATE"
)

// IsValid checks membership in the closed set of strategies
func (s DuplicateHandlingStrategy) IsValid() bool {
	return s == StrategySkip || s == StrategyReplace || s == StrategyMarkDuplicate
}

// ParseStrategy accepts any casing; the result must still be checked with IsValid
func ParseStrategy(s string) DuplicateHandlingStrategy {
	return DuplicateHandlingStrategy(strings.ToUpper(strings.TrimSpace(s)))
}

// DateRange is an inclusive calendar range
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FileStats describes the parsed file
type FileStats struct {
	TransactionCount int       `json:"transactionCount"`
	DateRange        DateRange `json:"dateRange"`
}

// OverlapStats describes how the file relates to the reference window
type OverlapStats struct {
	ExistingTransactions int        `json:"existingTransactions"`
	NewTransactions      int        `json:"newTransactions"`
	PotentialDuplicates  int        `json:"potentialDuplicates"`
	OverlapPeriod        *DateRange `json:"overlapPeriod,omitempty"`
}

// DuplicatePair is a candidate and the existing entry it matched
type DuplicatePair struct {
	New        *Transaction `json:"new"`
	Existing   *Transaction `json:"existing"`
	Similarity float64      `json:"similarity"`
}

// SampleTransactions holds the first few items of each class
type SampleTransactions struct {
	New        []*Transaction  `json:"new"`
	Existing   []*Transaction  `json:"existing"`
	Duplicates []DuplicatePair `json:"duplicates"`
}

// AnalysisSnapshot freezes what reconciliation saw at analysis time
type AnalysisSnapshot struct {
	GeneratedAt        time.Time          `json:"generatedAt"`
	FileStats          FileStats          `json:"fileStats"`
	OverlapStats       OverlapStats       `json:"overlapStats"`
	SampleTransactions SampleTransactions `json:"sampleTransactions"`
}

// ProcessingOptions are the user's decisions recorded at confirmation
type ProcessingOptions struct {
	DuplicateHandling DuplicateHandlingStrategy `json:"duplicateHandling"`
	ConfirmedAt       time.Time                 `json:"confirmedAt"`
}

// ImportSummary is written with the terminal status
type ImportSummary struct {
	TransactionsAdded int      `json:"transactionsAdded"`
	DuplicatesHandled int      `json:"duplicatesHandled"`
	Errors            []string `json:"errors"`
}

// ImportFailure is the public part of the error that failed an import
type ImportFailure struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ImportRecord is the persisted state of one upload attempt
type ImportRecord struct {
	UploadID    string       `json:"uploadId"`
	AccountID   string       `json:"accountId"`
	UserID      string       `json:"userId"`
	FileName    string       `json:"fileName"`
	FileType    string       `json:"fileType,omitempty"`
	ContentType string       `json:"contentType,omitempty"`
	Bucket      string       `json:"bucket,omitempty"`
	StorageKey  string       `json:"storageKey,omitempty"`
	Status      ImportStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`

	AnalysisSnapshot  *AnalysisSnapshot  `json:"analysisSnapshot,omitempty"`
	ProcessingOptions *ProcessingOptions `json:"processingOptions,omitempty"`
	Summary           *ImportSummary     `json:"summary,omitempty"`
	Error             *ImportFailure     `json:"error,omitempty"`
}

// Clone returns a deep copy of the record
func (r *ImportRecord) Clone() *ImportRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.AnalysisSnapshot != nil {
		c.AnalysisSnapshot = r.AnalysisSnapshot.Clone()
	}
	if r.ProcessingOptions != nil {
		opts := *r.ProcessingOptions
		c.ProcessingOptions = &opts
	}
	if r.Summary != nil {
		summary := *r.Summary
		summary.Errors = slices.Clone(r.Summary.Errors)
		c.Summary = &summary
	}
	if r.Error != nil {
		failure := *r.Error
		c.Error = &failure
	}
	return &c
}

// Clone returns a deep copy of the snapshot
func (s *AnalysisSnapshot) Clone() *AnalysisSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.OverlapStats.OverlapPeriod != nil {
		period := *s.OverlapStats.OverlapPeriod
		c.OverlapStats.OverlapPeriod = &period
	}
	c.SampleTransactions.New = cloneTransactions(s.SampleTransactions.New)
	c.SampleTransactions.Existing = cloneTransactions(s.SampleTransactions.Existing)
	if s.SampleTransactions.Duplicates != nil {
		c.SampleTransactions.Duplicates = make([]DuplicatePair, len(s.SampleTransactions.Duplicates))
		for i, p := range s.SampleTransactions.Duplicates {
			c.SampleTransactions.Duplicates[i] = DuplicatePair{
				New:        p.New.Clone(),
				Existing:   p.Existing.Clone(),
				Similarity: p.Similarity,
			}
		}
	}
	return &c
}

func cloneTransactions(in []*Transaction) []*Transaction {
	if in == nil {
		return nil
	}
	out := make([]*Transaction, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
