package template

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind identifies one member of the closed error taxonomy surfaced by the
// gateways and the store.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindEmptyUpdate    Kind = "EMPTY_UPDATE"
	KindDuplicateName  Kind = "DUPLICATE_NAME"
	KindLimitExceeded  Kind = "LIMIT_EXCEEDED"
	KindInvalidContent Kind = "INVALID_MEDICAL_CONTENT"
	KindNotFound       Kind = "NOT_FOUND"
	KindAuthRequired   Kind = "AUTH_REQUIRED"
	KindAuthExpired    Kind = "AUTH_EXPIRED"
	KindConnection     Kind = "CONNECTION_ERROR"
)

// FieldError describes a single rejected field of a create or update request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the only error type that leaves a Gateway.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "; %s: %s", f.Field, f.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%v)", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// against wrapped gateway errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Cause == nil && len(t.Fields) == 0
}

// UserMessage is the text shown to the clinician. Validation and business-rule
// kinds are specific; transport and session kinds are generic banners.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindValidation:
		if len(e.Fields) > 0 {
			return e.Fields[0].Message
		}
		return "invalid template"
	case KindEmptyUpdate:
		return "no changes to save"
	case KindDuplicateName:
		return "name already in use"
	case KindLimitExceeded:
		return "template limit reached"
	case KindInvalidContent:
		return "template content does not look like a medical report"
	case KindNotFound:
		return "template not found"
	case KindAuthRequired:
		return "please sign in to continue"
	case KindAuthExpired:
		return "your session has expired, please sign in again"
	default:
		return "failed to reach server, try again"
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrEmptyUpdate    = &Error{Kind: KindEmptyUpdate}
	ErrDuplicateName  = &Error{Kind: KindDuplicateName}
	ErrLimitExceeded  = &Error{Kind: KindLimitExceeded}
	ErrInvalidContent = &Error{Kind: KindInvalidContent}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrAuthRequired   = &Error{Kind: KindAuthRequired}
	ErrAuthExpired    = &Error{Kind: KindAuthExpired}
	ErrConnection     = &Error{Kind: KindConnection}
)

func NewValidationError(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "template failed validation", Fields: fields}
}

func NewEmptyUpdateError() *Error {
	return &Error{Kind: KindEmptyUpdate, Message: "update must change at least one field"}
}

func NewDuplicateNameError(name string) *Error {
	return &Error{Kind: KindDuplicateName, Message: fmt.Sprintf("a template named %q already exists", name)}
}

func NewLimitExceededError(limit int) *Error {
	return &Error{Kind: KindLimitExceeded, Message: fmt.Sprintf("owner already holds %d templates", limit)}
}

func NewNotFoundError(id fmt.Stringer) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("template %s not found", id)}
}

func NewAuthRequiredError(msg string) *Error {
	return &Error{Kind: KindAuthRequired, Message: msg}
}

func NewAuthExpiredError(msg string) *Error {
	return &Error{Kind: KindAuthExpired, Message: msg}
}

func NewConnectionError(cause error) *Error {
	return &Error{Kind: KindConnection, Message: "backend unavailable", Cause: cause}
}

// KindOf returns the taxonomy kind of err. Anything that is not an *Error is
// reported as a connection error, matching how gateways normalize unknown
// failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindConnection
}

// IsKind reports whether err belongs to kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Retryable reports whether a failed operation may succeed when repeated.
// Business-rule, validation and session errors are terminal on first
// occurrence, as is caller cancellation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindNotFound, KindDuplicateName, KindLimitExceeded, KindInvalidContent,
		KindEmptyUpdate, KindValidation, KindAuthRequired, KindAuthExpired:
		return false
	}
	return true
}

// HTTPStatus maps a kind onto the status code used by the REST API.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation, KindEmptyUpdate, KindInvalidContent:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateName:
		return http.StatusConflict
	case KindLimitExceeded:
		return http.StatusForbidden
	case KindAuthRequired, KindAuthExpired:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// kindFromStatus is the client-side inverse of HTTPStatus, used when the
// response body carries no code.
func kindFromStatus(status int) Kind {
	switch status {
	case http.StatusUnprocessableEntity, http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindDuplicateName
	case http.StatusForbidden:
		return KindLimitExceeded
	case http.StatusUnauthorized:
		return KindAuthRequired
	default:
		return KindConnection
	}
}

// errorBody is the JSON shape of an error response.
type errorBody struct {
	Code    Kind         `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}
