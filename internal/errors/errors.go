package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for indexhost.
// It carries enough context to log it, show it to an operator, and decide
// whether the failed operation is worth retrying.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_207_WRITE_LOCK_CONTENTION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an IndexError with the same code, so the
// package sentinels match any error built from the same code.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the operator-facing suggestion.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is. They match on code only.
var (
	ErrUnsupportedLifetime = &IndexError{Code: ErrCodeUnsupportedLifetime}
	ErrMissingRegistration = &IndexError{Code: ErrCodeMissingRegistration}
	ErrWriteLockContention = &IndexError{Code: ErrCodeWriteLockContention}
	ErrReplicationNetwork  = &IndexError{Code: ErrCodeReplicationNetwork}
	ErrReplicationApply    = &IndexError{Code: ErrCodeReplicationApply}
	ErrResourceClosed      = &IndexError{Code: ErrCodeResourceClosed}
	ErrIndexNotFound       = &IndexError{Code: ErrCodeIndexNotFound}
	ErrCorruptIndex        = &IndexError{Code: ErrCodeCorruptIndex}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *IndexError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *IndexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// UnsupportedLifetime reports a lifetime value outside the recognized set.
// It fails the request that hit it, never the process.
func UnsupportedLifetime(role, index string, lifetime fmt.Stringer) *IndexError {
	return New(ErrCodeUnsupportedLifetime,
		fmt.Sprintf("unsupported %s lifetime %q for index %q", role, lifetime.String(), index), nil).
		WithDetail("role", role).
		WithDetail("index", index).
		WithSuggestion("use one of: singleton, scoped, transient")
}

// MissingRegistration reports a role requested for an index that has no
// registration for it, naming the configuration that is missing.
func MissingRegistration(role, index string) *IndexError {
	msg := fmt.Sprintf("no %s is registered for index %q", role, index)
	if index == "" {
		msg = fmt.Sprintf("no %s is registered: index name is empty", role)
	}
	return New(ErrCodeMissingRegistration, msg, nil).
		WithDetail("role", role).
		WithDetail("index", index).
		WithSuggestion(fmt.Sprintf("add a %s section to the configuration of index %q", role, index))
}

// WriteLockContention reports that another writer holds the exclusive lock.
func WriteLockContention(path string, cause error) *IndexError {
	return New(ErrCodeWriteLockContention, "index write lock is held by another writer", cause).
		WithDetail("path", path).
		WithSuggestion("is another process writing to the index?")
}

// ReplicationNetwork wraps a transport failure talking to a replication source.
func ReplicationNetwork(message string, cause error) *IndexError {
	return New(ErrCodeReplicationNetwork, message, cause).
		WithSuggestion("check that the replication server is reachable")
}

// ReplicationApply wraps a failure to validate or install a pulled revision.
func ReplicationApply(message string, cause error) *IndexError {
	return New(ErrCodeReplicationApply, message, cause).
		WithSuggestion("local index stays at its last good generation; check the server's index")
}

// ResourceClosed reports use of a handle or registration after Close.
func ResourceClosed(what string) *IndexError {
	return New(ErrCodeResourceClosed, what+" is closed", nil)
}

// IndexNotFound reports a request for an index the host does not serve.
func IndexNotFound(index string) *IndexError {
	return New(ErrCodeIndexNotFound, fmt.Sprintf("index %q not found", index), nil).
		WithDetail("index", index)
}

// CorruptIndex reports an index directory that fails validation.
func CorruptIndex(path string, cause error) *IndexError {
	return New(ErrCodeCorruptIndex, "index is corrupted", cause).
		WithDetail("path", path)
}

// asIndexError finds the first IndexError in err's chain.
func asIndexError(err error) (*IndexError, bool) {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if any IndexError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := asIndexError(err); ok {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := asIndexError(err); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first IndexError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ie, ok := asIndexError(err); ok {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from the first IndexError in the chain.
func GetCategory(err error) Category {
	if ie, ok := asIndexError(err); ok {
		return ie.Category
	}
	return ""
}

// Is, As and Join are the standard library functions, re-exported so
// packages importing this one need not alias either.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
