package template

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("deleting: %w", NewNotFoundError(uuid.New()))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected wrapped NOT_FOUND to match sentinel")
	}
	if errors.Is(err, ErrConnection) {
		t.Error("NOT_FOUND must not match CONNECTION_ERROR")
	}
	if errors.Is(NewNotFoundError(uuid.New()), NewNotFoundError(uuid.New())) {
		t.Error("specific errors should only match sentinels")
	}
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewConnectionError(cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause reachable through Unwrap")
	}
	if got := err.Error(); got != "CONNECTION_ERROR: backend unavailable (dial tcp: refused)" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestError_MessageListsFields(t *testing.T) {
	err := NewValidationError(
		FieldError{Field: "name", Message: "name is required"},
		FieldError{Field: "structure", Message: "structure is required"},
	)
	want := "VALIDATION_ERROR: template failed validation; name: name is required; structure: structure is required"
	if err.Error() != want {
		t.Errorf("got %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Error("expected empty kind for nil")
	}
	if KindOf(errors.New("raw")) != KindConnection {
		t.Error("expected unknown errors to be CONNECTION_ERROR")
	}
	if KindOf(fmt.Errorf("wrap: %w", NewLimitExceededError(50))) != KindLimitExceeded {
		t.Error("expected wrapped kind")
	}
	if !IsKind(NewEmptyUpdateError(), KindEmptyUpdate) || IsKind(nil, KindEmptyUpdate) {
		t.Error("IsKind mismatch")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{NewConnectionError(errors.New("reset")), true},
		{errors.New("raw"), true},
		{context.Canceled, false},
		{NewConnectionError(context.DeadlineExceeded), false},
		{NewNotFoundError(uuid.New()), false},
		{NewDuplicateNameError("a"), false},
		{NewLimitExceededError(50), false},
		{NewValidationError(), false},
		{NewEmptyUpdateError(), false},
		{NewAuthRequiredError("x"), false},
		{NewAuthExpiredError("x"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestHTTPStatusRoundTrip(t *testing.T) {
	kinds := []Kind{KindValidation, KindNotFound, KindDuplicateName, KindLimitExceeded, KindAuthRequired, KindConnection}
	for _, k := range kinds {
		if got := kindFromStatus(HTTPStatus(k)); got != k {
			t.Errorf("%s: status %d maps back to %s", k, HTTPStatus(k), got)
		}
	}
	if kindFromStatus(http.StatusBadGateway) != KindConnection {
		t.Error("expected 5xx to be CONNECTION_ERROR")
	}
	if kindFromStatus(http.StatusRequestEntityTooLarge) != KindValidation {
		t.Error("expected 413 to be VALIDATION_ERROR")
	}
}

func TestUserMessage(t *testing.T) {
	if got := NewLimitExceededError(50).UserMessage(); got != "template limit reached" {
		t.Errorf("unexpected %q", got)
	}
	if got := NewConnectionError(nil).UserMessage(); got != "failed to reach server, try again" {
		t.Errorf("unexpected %q", got)
	}
	if got := NewValidationError().UserMessage(); got != "invalid template" {
		t.Errorf("unexpected %q", got)
	}
}
