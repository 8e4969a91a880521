package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a logtrains error code.
type ErrorCode string

const (
	// Entry Store
	ErrIOFailure ErrorCode = "IO_FAILURE"
	ErrNotFound  ErrorCode = "NOT_FOUND"
	ErrCorrupt   ErrorCode = "CORRUPT"

	// History Selector
	ErrEmpty      ErrorCode = "EMPTY"
	ErrOutOfRange ErrorCode = "OUT_OF_RANGE"

	// Window Assembler
	ErrBudgetExhausted ErrorCode = "BUDGET_EXHAUSTED"

	// Inference Gateway
	ErrModelUnavailable  ErrorCode = "MODEL_UNAVAILABLE"
	ErrResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCancelled         ErrorCode = "CANCELLED"

	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternal       ErrorCode = "INTERNAL"
)

// Stage names the pipeline stage an error was raised in.
type Stage string

const (
	StageStore     Stage = "store"
	StageSelect    Stage = "select"
	StageAssemble  Stage = "assemble"
	StagePrompt    Stage = "prompt"
	StageInference Stage = "inference"
	StageRequest   Stage = "request"
	StageConfig    Stage = "config"
)

// Error represents a structured error with code, stage, and details.
type Error struct {
	Code    ErrorCode
	Stage   Stage
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may reasonably retry the request.
// Only inference failures qualify; store, selection and budget errors
// cannot succeed on a retry.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrModelUnavailable, ErrResourceExhausted, ErrCancelled:
		return true
	}
	return false
}

// RetryHint returns caller-facing guidance for retryable errors.
func (e *Error) RetryHint() string {
	switch e.Code {
	case ErrModelUnavailable:
		return "model is not available locally; run `logtrains model pull` or retry once it has downloaded"
	case ErrResourceExhausted:
		return "the engine ran out of memory or compute; try --preset tiny or a smaller --max-tokens"
	case ErrCancelled:
		return "generation was cancelled; run the command again to retry"
	}
	return ""
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewIOFailure creates a store error for read/write/flush failures.
func NewIOFailure(op, path string, err error) *Error {
	return (&Error{
		Code:    ErrIOFailure,
		Stage:   StageStore,
		Message: fmt.Sprintf("%s %s: %v", op, path, err),
		Err:     err,
	}).with("op", op).with("path", path)
}

// NewNotFound creates a store error for an entry that no longer exists.
func NewNotFound(identifier string) *Error {
	return (&Error{
		Code:    ErrNotFound,
		Stage:   StageStore,
		Message: fmt.Sprintf("entry not found: %s", identifier),
	}).with("identifier", identifier)
}

// NewCorrupt creates a store error for records that fail to decode.
func NewCorrupt(identifier, reason string) *Error {
	return (&Error{
		Code:    ErrCorrupt,
		Stage:   StageStore,
		Message: fmt.Sprintf("entry %s is corrupt: %s", identifier, reason),
	}).with("identifier", identifier).with("reason", reason)
}

// NewEmpty creates a selection error for an empty history.
func NewEmpty() *Error {
	return &Error{
		Code:    ErrEmpty,
		Stage:   StageSelect,
		Message: "history is empty; record a command first or pipe input directly",
	}
}

// NewOutOfRange creates a selection error for an offset past the oldest entry.
func NewOutOfRange(offset, available int) *Error {
	return (&Error{
		Code:    ErrOutOfRange,
		Stage:   StageSelect,
		Message: fmt.Sprintf("offset %d out of range: only %d entries recorded", offset, available),
	}).with("offset", offset).with("available", available)
}

// NewBudgetExhausted creates an assembly error when the preamble leaves no room for data.
func NewBudgetExhausted(maxTokens, reserved int) *Error {
	return (&Error{
		Code:    ErrBudgetExhausted,
		Stage:   StageAssemble,
		Message: fmt.Sprintf("preamble needs %d tokens but the budget is %d; raise max_tokens or shorten the prompt template", reserved, maxTokens),
	}).with("max_tokens", maxTokens).with("reserved_for_preamble", reserved)
}

// NewModelUnavailable creates an inference error for a model that is not loaded or downloaded.
func NewModelUnavailable(model string, err error) *Error {
	return (&Error{
		Code:    ErrModelUnavailable,
		Stage:   StageInference,
		Message: fmt.Sprintf("model %s unavailable: %v", model, err),
		Err:     err,
	}).with("model", model)
}

// NewResourceExhausted creates an inference error for memory/compute exhaustion.
func NewResourceExhausted(model string, err error) *Error {
	return (&Error{
		Code:    ErrResourceExhausted,
		Stage:   StageInference,
		Message: fmt.Sprintf("model %s exhausted resources: %v", model, err),
		Err:     err,
	}).with("model", model)
}

// NewCancelled creates an inference error for a cancelled generation.
func NewCancelled(err error) *Error {
	return &Error{
		Code:    ErrCancelled,
		Stage:   StageInference,
		Message: "generation cancelled",
		Err:     err,
	}
}

// NewInvalidRequest creates an error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Stage:   StageRequest,
		Message: msg,
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Message: msg,
		Err:     err,
	}
}

// WithDetail attaches a detail to e and returns it.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.with(key, value)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is checks if err is (or wraps) an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}
