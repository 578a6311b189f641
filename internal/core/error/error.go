package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// GatewayErrorMessage describes a failed LLM gateway call.
	GatewayErrorMessage = "llm gateway call failed"
	// ContractErrorMessage describes a caller breaking a component contract.
	ContractErrorMessage = "contract violation"
)

// Kind groups errors by how the orchestration core reacts to them.
type Kind string

const (
	KindInternal  Kind = "internal"
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
	KindContract  Kind = "contract"
	KindStale     Kind = "stale"
)

var (
	// ErrStaleQuery is returned when a newer query superseded the running one.
	ErrStaleQuery = &AppError{Status: http.StatusConflict, Message: "query superseded by a newer query", Kind: KindStale}
	// ErrBatchOutOfOrder is returned when a merge does not target the next batch.
	ErrBatchOutOfOrder = &AppError{Status: http.StatusConflict, Message: "batch number out of order", Kind: KindContract}
	// ErrDraftSealed is returned when a completed draft is modified.
	ErrDraftSealed = &AppError{Status: http.StatusConflict, Message: "response draft is sealed", Kind: KindContract}
	// ErrAttemptOutOfRange is returned when retry params are requested beyond the cap.
	ErrAttemptOutOfRange = &AppError{Status: http.StatusBadRequest, Message: "attempt index out of range", Kind: KindContract}
	// ErrNothingToContinue is returned when no continuation is on offer.
	ErrNothingToContinue = &AppError{Status: http.StatusConflict, Message: "no continuation is pending", Kind: KindContract}
	// ErrFirstAttemptFailed marks an unrecoverable failure of a query's first attempt.
	ErrFirstAttemptFailed = &AppError{Status: http.StatusBadGateway, Message: "first attempt failed", Kind: KindPermanent}
	// ErrEmptyQuery is returned when a blank query is submitted.
	ErrEmptyQuery = &AppError{Status: http.StatusBadRequest, Message: "query text is empty", Kind: KindContract}
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
	Kind    Kind
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
		Kind:    KindInternal,
	}
}

// Wrap attaches err as the cause of a sentinel so both match errors.Is.
func Wrap(sentinel *AppError, err error) *AppError {
	return &AppError{
		Err:     err,
		Status:  sentinel.Status,
		Message: sentinel.Message,
		Kind:    sentinel.Kind,
	}
}

// Contract builds a contract violation with a formatted detail.
func Contract(sentinel *AppError, format string, args ...any) *AppError {
	return Wrap(sentinel, fmt.Errorf(format, args...))
}

// Is reports whether the target matches the underlying error or the AppError itself.
// Two AppErrors match when they share kind and message, which lets wrapped
// copies of a sentinel compare equal to it.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) && t != nil && t.Kind == e.Kind && t.Message == e.Message {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return e.Err != nil && errors.As(e.Err, target)
}

// KindOf returns the kind of the first AppError in the chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
