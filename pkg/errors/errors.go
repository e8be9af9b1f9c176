// Package errors defines the error taxonomy shared by every stage of the
// import pipeline.
//
// Each error carries a category, a stable machine-readable code and a
// human-readable message. Callers at a system boundary (HTTP handlers, the
// persisted ImportRecord, the CLI) expose only Public(); the cause and stack
// trace stay inside the process for logging.
package errors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorCategory groups error codes by the kind of failure
type ErrorCategory string

const (
	CategorySchema        ErrorCategory = "schema"
	CategoryRowFormat     ErrorCategory = "row_format"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryDependency    ErrorCategory = "dependency"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode is a stable identifier surfaced to callers
type ErrorCode string

const (
	// Schema errors
	CodeMissingColumn ErrorCode = "SCHEMA_MISSING_COLUMN"
	CodeTooFewLines   ErrorCode = "SCHEMA_TOO_FEW_LINES"

	// Row format errors
	CodeColumnCount   ErrorCode = "ROW_COLUMN_COUNT"
	CodeInvalidAmount ErrorCode = "ROW_INVALID_AMOUNT"
	CodeInvalidDate   ErrorCode = "ROW_INVALID_DATE"
	CodeMalformedRow  ErrorCode = "ROW_MALFORMED"

	// Validation errors
	CodeConfirmationRequired ErrorCode = "VALIDATION_CONFIRMATION_REQUIRED"
	CodeInvalidStrategy      ErrorCode = "VALIDATION_INVALID_STRATEGY"
	CodeInvalidKey           ErrorCode = "VALIDATION_INVALID_KEY"
	CodeInvalidState         ErrorCode = "VALIDATION_INVALID_STATE"
	CodeMissingField         ErrorCode = "VALIDATION_MISSING_FIELD"
	CodeStatusConflict       ErrorCode = "VALIDATION_STATUS_CONFLICT"
	CodeInvalidValue         ErrorCode = "VALIDATION_INVALID_VALUE"
	CodeEntryExists          ErrorCode = "VALIDATION_ENTRY_EXISTS"

	// Authorization errors
	CodeNotOwner ErrorCode = "AUTHORIZATION_NOT_OWNER"

	// Not found errors
	CodeImportNotFound ErrorCode = "NOT_FOUND_IMPORT"

	// Dependency errors
	CodeBlobStore ErrorCode = "DEPENDENCY_BLOB"
	CodeLedger    ErrorCode = "DEPENDENCY_LEDGER"
	CodeStore     ErrorCode = "DEPENDENCY_STORE"
	CodeAccount   ErrorCode = "DEPENDENCY_ACCOUNT"
	CodeInvoker   ErrorCode = "DEPENDENCY_INVOKER"

	// Internal errors
	CodeUnexpectedError ErrorCode = "INTERNAL_UNEXPECTED"
	CodeInvalidConfig   ErrorCode = "INTERNAL_CONFIG"
)

// ImportError is the base error type for all application errors
type ImportError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// PublicError is the shape exposed past the service boundary
type PublicError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface
func (e *ImportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ImportError) Unwrap() error {
	return e.Cause
}

// Public strips cause and stack detail.
func (e *ImportError) Public() PublicError {
	return PublicError{Code: e.Code, Message: e.Message}
}

// HTTPStatus maps the error category to a response status code
func (e *ImportError) HTTPStatus() int {
	switch e.Category {
	case CategorySchema, CategoryRowFormat, CategoryValidation:
		if e.Code == CodeStatusConflict || e.Code == CodeInvalidState {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetExitCode returns an appropriate exit code for the error
func (e *ImportError) GetExitCode() int {
	switch e.Category {
	case CategorySchema, CategoryRowFormat:
		return 3
	case CategoryValidation, CategoryAuthorization:
		return 4
	case CategoryNotFound:
		return 2
	case CategoryDependency:
		return 6
	case CategoryInternal:
		return 5
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ImportError) WithContext(key string, value interface{}) *ImportError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ImportError) WithSuggestion(suggestion string) *ImportError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ImportError
func New(category ErrorCategory, code ErrorCode, message string) *ImportError {
	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ImportError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ImportError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// SchemaError reports a file whose overall shape is unusable
func SchemaError(code ErrorCode, detail string) *ImportError {
	var message, suggestion string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column: %s", detail)
		suggestion = "the header row must name date, description and amount columns"
	case CodeTooFewLines:
		message = "file must contain a header row and at least one data row"
		suggestion = "check that the uploaded file is not empty or truncated"
	default:
		message = fmt.Sprintf("invalid file schema: %s", detail)
		suggestion = "check the file header and structure"
	}

	return New(CategorySchema, code, message).
		WithSuggestion(suggestion).
		WithContext("detail", detail)
}

// RowFormatError reports a malformed data row. Line is 1-based with the
// header on line 1.
func RowFormatError(code ErrorCode, line int, field string, value string, err error) *ImportError {
	var message, suggestion string

	switch code {
	case CodeColumnCount:
		message = fmt.Sprintf("line %d: column count does not match header", line)
		suggestion = "every row must have the same number of columns as the header"
	case CodeInvalidAmount:
		message = fmt.Sprintf("line %d: invalid amount %q", line, value)
		suggestion = "amounts must be signed decimal numbers such as -12.34"
	case CodeInvalidDate:
		message = fmt.Sprintf("line %d: invalid date %q", line, value)
		suggestion = "use a date such as 2024-01-31 or 01/31/2024"
	default:
		message = fmt.Sprintf("line %d: malformed row", line)
		suggestion = "check quoting and delimiters on this line"
	}

	return build(CategoryRowFormat, code, message, err).
		WithSuggestion(suggestion).
		WithContext("line", line).
		WithContext("field", field).
		WithContext("value", value)
}

// ValidationError reports an invalid caller-supplied value
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ImportError {
	var message, suggestion string

	switch code {
	case CodeConfirmationRequired:
		message = fmt.Sprintf("confirmation '%s' must be true", field)
		suggestion = "review the analysis and acknowledge every confirmation"
	case CodeInvalidStrategy:
		message = fmt.Sprintf("invalid duplicate handling strategy: %v", value)
		suggestion = "use one of SKIP, REPLACE or MARK_DUPLICATE"
	case CodeInvalidKey:
		message = fmt.Sprintf("invalid %s: %v", field, value)
		suggestion = "storage keys must look like {userId}/{accountId}/{year}/{month}/original/{uploadId}_{fileName}"
	case CodeInvalidState:
		message = fmt.Sprintf("import is in status %v", value)
		suggestion = "the requested operation is not allowed in the current import status"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeStatusConflict:
		message = fmt.Sprintf("import %s: status conflict (%v)", field, value)
		suggestion = "reload the import and retry"
	case CodeInvalidValue:
		message = fmt.Sprintf("invalid value for '%s': %v", field, value)
		suggestion = "check the value and its format"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// AuthorizationError reports that a caller does not own a resource
func AuthorizationError(userID, resource string) *ImportError {
	return New(CategoryAuthorization, CodeNotOwner, fmt.Sprintf("user is not allowed to access %s", resource)).
		WithContext("user_id", userID).
		WithContext("resource", resource)
}

// NotFoundError reports a missing import record
func NotFoundError(accountID, uploadID string) *ImportError {
	return New(CategoryNotFound, CodeImportNotFound, fmt.Sprintf("import %s not found for account %s", uploadID, accountID)).
		WithContext("account_id", accountID).
		WithContext("upload_id", uploadID)
}

// DependencyError reports a failed collaborator call
func DependencyError(code ErrorCode, operation string, err error) *ImportError {
	var collaborator string

	switch code {
	case CodeBlobStore:
		collaborator = "blob store"
	case CodeLedger:
		collaborator = "ledger"
	case CodeStore:
		collaborator = "import state store"
	case CodeAccount:
		collaborator = "account service"
	case CodeInvoker:
		collaborator = "async invoker"
	default:
		collaborator = "dependency"
	}

	return build(CategoryDependency, code, fmt.Sprintf("%s failed during %s", collaborator, operation), err).
		WithSuggestion("the operation can be retried once the dependency recovers").
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ImportError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration: %s", operation)
		suggestion = "check the config file and IMPORTER_* environment variables"
	default:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	}

	return build(CategoryInternal, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// IsImportError checks if an error is an ImportError
func IsImportError(err error) bool {
	_, ok := err.(*ImportError)
	return ok
}

// AsImportError extracts an ImportError from an error chain
func AsImportError(err error) (*ImportError, bool) {
	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	importErr, ok := AsImportError(err)
	return ok && importErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already an ImportError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	if importErr, ok := AsImportError(err); ok {
		return importErr
	}

	return Wrap(err, category, code, message)
}
