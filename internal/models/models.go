package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date representation
const DateLayout = "2006-01-02"

// Transaction is one statement line in canonical form. Date carries no
// time-of-day: it is always midnight UTC of the calendar day.
type Transaction struct {
	ID            string
	AccountID     string
	Date          time.Time
	Description   string
	Amount        decimal.Decimal
	ImportBatchID string
	ContentHash   string
	CreatedAt     time.Time
	IsDuplicate   bool

	// LineNumber is the source line in the uploaded file, 0 for ledger rows.
	LineNumber int
}

type transactionJSON struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"accountId,omitempty"`
	Date          string          `json:"date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	ImportBatchID string          `json:"importBatchId,omitempty"`
	ContentHash   string          `json:"contentHash,omitempty"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
	IsDuplicate   bool            `json:"isDuplicate,omitempty"`
	LineNumber    int             `json:"lineNumber,omitempty"`
}

// MarshalJSON renders Date as YYYY-MM-DD
func (t *Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		ID:            t.ID,
		AccountID:     t.AccountID,
		Date:          t.Date.Format(DateLayout),
		Description:   t.Description,
		Amount:        t.Amount,
		ImportBatchID: t.ImportBatchID,
		ContentHash:   t.ContentHash,
		IsDuplicate:   t.IsDuplicate,
		LineNumber:    t.LineNumber,
	}
	if !t.CreatedAt.IsZero() {
		created := t.CreatedAt
		out.CreatedAt = &created
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the format produced by MarshalJSON
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var in transactionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	date, err := time.Parse(DateLayout, in.Date)
	if err != nil {
		return fmt.Errorf("invalid transaction date %q: %w", in.Date, err)
	}

	*t = Transaction{
		ID:            in.ID,
		AccountID:     in.AccountID,
		Date:          date,
		Description:   in.Description,
		Amount:        in.Amount,
		ImportBatchID: in.ImportBatchID,
		ContentHash:   in.ContentHash,
		IsDuplicate:   in.IsDuplicate,
		LineNumber:    in.LineNumber,
	}
	if in.CreatedAt != nil {
		t.CreatedAt = *in.CreatedAt
	}
	return nil
}

// String returns a compact representation for logs and error lists
func (t *Transaction) String() string {
	return fmt.Sprintf("%s %q %s", t.Date.Format(DateLayout), t.Description, t.Amount.String())
}

// Clone returns a copy that shares no mutable state with t
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// SameContent reports whether two transactions carry identical date, amount
// and description. Identifiers and bookkeeping fields are ignored.
func (t *Transaction) SameContent(other *Transaction) bool {
	if other == nil {
		return false
	}
	return t.Date.Equal(other.Date) &&
		t.Amount.Equal(other.Amount) &&
		t.Description == other.Description
}

// NormalizeDate drops time-of-day and zone, keeping the calendar day the
// value had in its own location.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeDescription is the form used for similarity and hashing
func NormalizeDescription(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ContentHash derives the content part of a ledger identity
func ContentHash(date time.Time, amount decimal.Decimal, description string) string {
	return hashParts(date.Format(DateLayout), amount.String(), NormalizeDescription(description))
}

// DuplicateContentHash is the content hash for an entry written as a flagged
// duplicate, so it never lands on the key of the entry it duplicates.
func DuplicateContentHash(t *Transaction) string {
	return hashParts(t.Date.Format(DateLayout), t.Amount.String(), NormalizeDescription(t.Description), "duplicate", t.ImportBatchID)
}

func hashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

// ParseAmount parses a signed decimal. Whitespace, a currency symbol,
// thousands separators and accounting-style parentheses are tolerated.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, ",", "")
	switch {
	case strings.HasPrefix(s, "-$"):
		s = "-" + s[2:]
	case strings.HasPrefix(s, "$"):
		s = s[1:]
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

var dateFormats = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate parses a calendar date in one of the accepted layouts and
// normalizes it to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date cannot be empty")
	}

	var lastErr error
	for _, format := range dateFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return NormalizeDate(t), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
