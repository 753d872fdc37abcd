package services

import (
	"errors"
	"fmt"
)

// Kind classifies service failures for the transport boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUpload
	KindPersistence
	KindAuth
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUpload:
		return "upload"
	case KindPersistence:
		return "persistence"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the single error type returned by service operations.
// Message is safe to show to clients; Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) with(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = map[string]any{}
	}
	e.Detail[key] = value
	return e
}

// ValidationError reports missing or malformed client input.
func ValidationError(message string) *Error {
	return newError(KindValidation, message, nil)
}

// ConflictError reports a uniqueness violation.
func ConflictError(message string, err error) *Error {
	return newError(KindConflict, message, err)
}

// UploadError reports a media store failure for the named asset.
func UploadError(asset string, err error) *Error {
	return newError(KindUpload, fmt.Sprintf("failed to upload %s", asset), err).with("asset", asset)
}

// PersistenceError reports a repository failure.
func PersistenceError(message string, err error) *Error {
	return newError(KindPersistence, message, err)
}

// AuthError reports a rejected credential or identity token.
func AuthError(message string, err error) *Error {
	return newError(KindAuth, message, err)
}

// NotFoundError reports a missing referenced entity.
func NotFoundError(message string) *Error {
	return newError(KindNotFound, message, nil)
}

// KindOf returns the kind of a service error, or KindInternal for anything else.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}
