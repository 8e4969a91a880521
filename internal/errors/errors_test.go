package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Code:    ErrNotFound,
		Message: "entry not found",
	}

	expected := "NOT_FOUND: entry not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01HZX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Stage != StageStore {
		t.Errorf("Stage = %q, want %q", err.Stage, StageStore)
	}
	if err.Details["identifier"] != "01HZX" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01HZX")
	}
}

func TestNewIOFailure_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewIOFailure("write", "/tmp/x.entry", cause)

	if !stderrors.Is(err, cause) {
		t.Error("IO failure should unwrap to its cause")
	}
	if err.Details["path"] != "/tmp/x.entry" {
		t.Errorf("Details[path] = %v", err.Details["path"])
	}
}

func TestNewOutOfRange(t *testing.T) {
	err := NewOutOfRange(5, 3)

	if err.Code != ErrOutOfRange {
		t.Errorf("Code = %q, want %q", err.Code, ErrOutOfRange)
	}
	if err.Details["offset"] != 5 || err.Details["available"] != 3 {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestNewBudgetExhausted(t *testing.T) {
	err := NewBudgetExhausted(100, 150)

	if err.Stage != StageAssemble {
		t.Errorf("Stage = %q, want %q", err.Stage, StageAssemble)
	}
	if err.Details["max_tokens"] != 100 || err.Details["reserved_for_preamble"] != 150 {
		t.Errorf("Details = %v", err.Details)
	}
	if err.Retryable() {
		t.Error("budget errors must not be retryable")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{NewModelUnavailable("tinyllama", nil), true},
		{NewResourceExhausted("tinyllama", nil), true},
		{NewCancelled(nil), true},
		{NewNotFound("x"), false},
		{NewEmpty(), false},
		{NewOutOfRange(1, 0), false},
		{NewInvalidRequest("bad"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
			if tt.want && tt.err.RetryHint() == "" {
				t.Error("retryable errors should carry a hint")
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := NewEmpty()
	if !Is(err, ErrEmpty) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, ErrNotFound) {
		t.Error("Is() should return false for non-matching code")
	}

	wrapped := fmt.Errorf("select: %w", err)
	if !Is(wrapped, ErrEmpty) {
		t.Error("Is() should see through wrapping")
	}

	if Is(fmt.Errorf("plain"), ErrEmpty) {
		t.Error("Is() should return false for non-Error")
	}
	if Is(nil, ErrEmpty) {
		t.Error("Is() should return false for nil")
	}
}
