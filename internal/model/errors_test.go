package model

import (
	"errors"
	"testing"
)

func TestInternal_WrapsKindAndInternalFailure(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(ErrUserResolutionFailed, cause)

	if !errors.Is(err, ErrUserResolutionFailed) {
		t.Error("expected error to wrap ErrUserResolutionFailed")
	}
	if !errors.Is(err, ErrInternalFailure) {
		t.Error("expected error to wrap ErrInternalFailure")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to wrap the cause")
	}
}

func TestInternal_NilKind(t *testing.T) {
	err := Internal(nil, errors.New("boom"))
	if !errors.Is(err, ErrInternalFailure) {
		t.Error("expected error to wrap ErrInternalFailure")
	}
	if errors.Is(err, ErrAPIKeyInvalid) {
		t.Error("unexpected ErrAPIKeyInvalid")
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewUnauthorizedError()
	if got := err.Error(); got != "[UNAUTHORIZED] 認証が必要です。" {
		t.Errorf("Error() = %q", got)
	}
}
