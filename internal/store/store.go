// Package store defines the persisted import state contract shared by every
// pipeline stage. Implementations live in sub-packages.
package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
)

// ImportStore persists one ImportRecord per upload. Reads after writes on
// the same (accountID, uploadID) must be consistent.
type ImportStore interface {
	// Create stores a new record. It fails if the key already exists.
	Create(ctx context.Context, record *models.ImportRecord) error

	// Get returns the record or a NOT_FOUND_IMPORT error.
	Get(ctx context.Context, accountID, uploadID string) (*models.ImportRecord, error)

	// Update applies a partial update atomically and returns the new record.
	// When FromStatuses is set and the stored status is not among them the
	// update fails with VALIDATION_STATUS_CONFLICT and nothing is written.
	Update(ctx context.Context, accountID, uploadID string, update RecordUpdate) (*models.ImportRecord, error)
}

// RecordUpdate is a partial update of an ImportRecord. Status and UpdatedAt
// are always written; the optional parts only when set.
type RecordUpdate struct {
	Status    models.ImportStatus
	UpdatedAt time.Time

	// FromStatuses guards the write; empty means unconditional.
	FromStatuses []models.ImportStatus

	AnalysisSnapshot  *models.AnalysisSnapshot
	ProcessingOptions *models.ProcessingOptions
	Summary           *models.ImportSummary
	Error             *models.ImportFailure

	// ClearOutcome removes a previous summary and error
	ClearOutcome bool
}

// Transition returns an update to next guarded by its legal predecessors
func Transition(next models.ImportStatus, at time.Time) RecordUpdate {
	return RecordUpdate{
		Status:       next,
		UpdatedAt:    at,
		FromStatuses: models.Predecessors(next, false),
	}
}

// RetryTransition is Transition for an explicit retry out of FAILED
func RetryTransition(next models.ImportStatus, at time.Time) RecordUpdate {
	return RecordUpdate{
		Status:       next,
		UpdatedAt:    at,
		FromStatuses: models.Predecessors(next, true),
		ClearOutcome: true,
	}
}

// Failed returns a guarded update to FAILED carrying the public error and a
// zero summary listing the failure
func Failed(failure models.ImportFailure, at time.Time) RecordUpdate {
	update := Transition(models.StatusFailed, at)
	update.Error = &failure
	update.Summary = &models.ImportSummary{Errors: []string{failure.Message}}
	return update
}

// FailureFrom builds the public failure from any error
func FailureFrom(err error) models.ImportFailure {
	importErr, ok := errors.AsImportError(err)
	if !ok {
		importErr = errors.InternalError(errors.CodeUnexpectedError, "import", err)
	}
	public := importErr.Public()
	return models.ImportFailure{Message: public.Message, Code: string(public.Code)}
}

// Validate checks the update is well formed
func (u RecordUpdate) Validate() error {
	if !u.Status.IsValid() {
		return errors.ValidationError(errors.CodeMissingField, "status", u.Status, nil)
	}
	if u.UpdatedAt.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "updatedAt", u.UpdatedAt, nil)
	}
	return nil
}

// Allows reports whether the guard accepts the current status
func (u RecordUpdate) Allows(current models.ImportStatus) bool {
	if len(u.FromStatuses) == 0 {
		return true
	}
	for _, s := range u.FromStatuses {
		if s == current {
			return true
		}
	}
	return false
}

// Apply writes the update into record in place
func (u RecordUpdate) Apply(record *models.ImportRecord) {
	record.Status = u.Status
	record.UpdatedAt = u.UpdatedAt

	if u.ClearOutcome {
		record.Summary = nil
		record.Error = nil
	}
	if u.AnalysisSnapshot != nil {
		record.AnalysisSnapshot = u.AnalysisSnapshot.Clone()
	}
	if u.ProcessingOptions != nil {
		opts := *u.ProcessingOptions
		record.ProcessingOptions = &opts
	}
	if u.Summary != nil {
		summary := *u.Summary
		summary.Errors = slices.Clone(u.Summary.Errors)
		record.Summary = &summary
	}
	if u.Error != nil {
		failure := *u.Error
		record.Error = &failure
	}
}

// ValidateNew checks a record before Create
func ValidateNew(record *models.ImportRecord) error {
	if record == nil {
		return errors.ValidationError(errors.CodeMissingField, "record", nil, nil)
	}
	if record.AccountID == "" {
		return errors.ValidationError(errors.CodeMissingField, "accountId", record.AccountID, nil)
	}
	if record.UploadID == "" {
		return errors.ValidationError(errors.CodeMissingField, "uploadId", record.UploadID, nil)
	}
	if !record.Status.IsValid() {
		return errors.ValidationError(errors.CodeMissingField, "status", record.Status, nil)
	}
	return nil
}

// StatusConflict is returned when a guarded update finds an unexpected status
func StatusConflict(uploadID string, current, next models.ImportStatus) error {
	return errors.ValidationError(
		errors.CodeStatusConflict,
		uploadID,
		fmt.Sprintf("%s -> %s", current, next),
		nil,
	).WithContext("current_status", string(current)).
		WithContext("next_status", string(next))
}

// AlreadyExists is returned by Create for a duplicate key
func AlreadyExists(uploadID string) error {
	return errors.ValidationError(
		errors.CodeStatusConflict,
		uploadID,
		"record already exists",
		nil,
	)
}
