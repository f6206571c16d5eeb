// internal/core/errors_test.go
package core

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "TEST_ERROR", Message: "test message"}
	if err.Error() != "[TEST_ERROR] test message" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Code: "WRAP", Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should return cause")
	}
}

func TestError_Is(t *testing.T) {
	if !errors.Is(ErrLookahead, ErrLookahead) {
		t.Error("same error should match")
	}

	wrapped := WrapError(ErrNavMismatch, errors.New("nav 100 != 99"))
	if !errors.Is(wrapped, ErrNavMismatch) {
		t.Error("wrapped error should match base by code")
	}
	if errors.Is(wrapped, ErrMissingPrice) {
		t.Error("different codes should not match")
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("original")
	wrapped := WrapError(ErrMissingPrice, cause)
	if wrapped.Cause != cause {
		t.Error("cause not set")
	}
	if wrapped.Code != ErrMissingPrice.Code {
		t.Error("code not preserved")
	}
}
