package models

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"statement-import-service/pkg/errors"
)

const originalSegment = "original"

// StorageKey is the structured path of an uploaded raw file:
// {userId}/{accountId}/{year}/{month}/original/{uploadId}_{fileName}
type StorageKey struct {
	UserID    string
	AccountID string
	Year      int
	Month     int
	UploadID  string
	FileName  string
}

// String renders the key
func (k StorageKey) String() string {
	return fmt.Sprintf("%s/%s/%04d/%02d/%s/%s_%s",
		k.UserID, k.AccountID, k.Year, k.Month, originalSegment, k.UploadID, k.FileName)
}

// NewStorageKey builds the key for an upload created at the given instant.
// Path separators in the file name are flattened.
func NewStorageKey(userID, accountID, uploadID, fileName string, at time.Time) StorageKey {
	at = at.UTC()
	return StorageKey{
		UserID:    userID,
		AccountID: accountID,
		Year:      at.Year(),
		Month:     int(at.Month()),
		UploadID:  uploadID,
		FileName:  SanitizeFileName(fileName),
	}
}

// SanitizeFileName keeps only the base name and removes path separators
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return "upload"
	}
	return name
}

// ParseStorageKey recovers the identifiers encoded in a storage key
func ParseStorageKey(key string) (StorageKey, error) {
	invalid := func(reason string) error {
		return errors.ValidationError(errors.CodeInvalidKey, "storage key", key, fmt.Errorf("%s", reason))
	}

	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) != 6 {
		return StorageKey{}, invalid("expected 6 path segments")
	}
	if parts[4] != originalSegment {
		return StorageKey{}, invalid("fifth segment must be 'original'")
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil || year < 1 {
		return StorageKey{}, invalid("year segment is not a number")
	}
	month, err := strconv.Atoi(parts[3])
	if err != nil || month < 1 || month > 12 {
		return StorageKey{}, invalid("month segment is not in 1..12")
	}

	uploadID, fileName, ok := strings.Cut(parts[5], "_")
	if !ok || fileName == "" {
		return StorageKey{}, invalid("last segment must be {uploadId}_{fileName}")
	}
	if _, err := uuid.Parse(uploadID); err != nil {
		return StorageKey{}, invalid("upload id is not a UUID")
	}
	if parts[0] == "" || parts[1] == "" {
		return StorageKey{}, invalid("user and account segments are required")
	}

	return StorageKey{
		UserID:    parts[0],
		AccountID: parts[1],
		Year:      year,
		Month:     month,
		UploadID:  uploadID,
		FileName:  fileName,
	}, nil
}

// LedgerKey addresses one ledger entry
type LedgerKey struct {
	AccountID   string
	Date        time.Time
	ContentHash string
}

// SortKey is the per-account ordering key: date first so range queries on
// a date floor are prefix scans.
func (k LedgerKey) SortKey() string {
	return k.Date.Format(DateLayout) + "#" + k.ContentHash
}

// String renders the full key
func (k LedgerKey) String() string {
	return k.AccountID + "/" + k.SortKey()
}

// LedgerKeyOf returns the ledger identity of a transaction for an account.
// An empty ContentHash is derived from content.
func LedgerKeyOf(accountID string, t *Transaction) LedgerKey {
	hash := t.ContentHash
	if hash == "" {
		hash = ContentHash(t.Date, t.Amount, t.Description)
	}
	return LedgerKey{AccountID: accountID, Date: t.Date, ContentHash: hash}
}
