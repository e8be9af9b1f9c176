package importer

import (
	"context"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
)

// DefaultContentType is used when the caller does not name one
const DefaultContentType = "text/csv"

// AccountMismatchDetector reports whether the parsed file most likely
// belongs to a different account than the one it was uploaded to
type AccountMismatchDetector func(ctx context.Context, record *models.ImportRecord, transactions []*models.Transaction) (bool, error)

// InitiateRequest starts a new import
type InitiateRequest struct {
	UserID      string `json:"-"`
	AccountID   string `json:"-"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	ContentType string `json:"contentType"`
}

// Validate checks the required fields
func (r *InitiateRequest) Validate() error {
	if r.UserID == "" {
		return errors.ValidationError(errors.CodeMissingField, "userId", r.UserID, nil)
	}
	if r.AccountID == "" {
		return errors.ValidationError(errors.CodeMissingField, "accountId", r.AccountID, nil)
	}
	if r.FileName == "" {
		return errors.ValidationError(errors.CodeMissingField, "fileName", r.FileName, nil)
	}
	return nil
}

// InitiateResponse tells the caller where to upload the raw file
type InitiateResponse struct {
	UploadID  string `json:"uploadId"`
	UploadURL string `json:"uploadUrl"`
	// ExpiresIn is the URL validity in seconds
	ExpiresIn int `json:"expiresIn"`
}

// Confirmations are the user's explicit acknowledgements before commit
type Confirmations struct {
	AccountCorrect   bool `json:"accountCorrect"`
	DateRangeCorrect bool `json:"dateRangeCorrect"`
	SamplesReviewed  bool `json:"samplesReviewed"`
}

// Validate requires every acknowledgement
func (c Confirmations) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"accountCorrect", c.AccountCorrect},
		{"dateRangeCorrect", c.DateRangeCorrect},
		{"samplesReviewed", c.SamplesReviewed},
	}
	for _, check := range checks {
		if !check.ok {
			return errors.ValidationError(errors.CodeConfirmationRequired, check.name, false, nil)
		}
	}
	return nil
}

// ConfirmRequest approves an analyzed import for commit
type ConfirmRequest struct {
	UserID            string        `json:"-"`
	AccountID         string        `json:"-"`
	UploadID          string        `json:"-"`
	Confirmations     Confirmations `json:"confirmations"`
	DuplicateHandling string        `json:"duplicateHandling"`
}

// ConfirmResponse reports the status after confirmation
type ConfirmResponse struct {
	UploadID string              `json:"uploadId"`
	Status   models.ImportStatus `json:"status"`
}

// Authorize checks that userID owns the record
func Authorize(record *models.ImportRecord, userID string) error {
	if record.UserID != userID {
		return errors.AuthorizationError(userID, "import "+record.UploadID)
	}
	return nil
}
