package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("SM-TEST-1000", "test message"),
			expected: "[SM-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      ErrFieldOverflow.WithDetails("aux 70000 bytes"),
			expected: "[SM-FRM-4002] header field overflow: aux 70000 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	detailed := ErrHeaderCRC.WithDetails("msgid 7")

	if !errors.Is(detailed, ErrHeaderCRC) {
		t.Error("errors.Is should match the same code")
	}
	if errors.Is(detailed, ErrAuxCRC) {
		t.Error("errors.Is should not match a different code")
	}
	if errors.Is(detailed, fmt.Errorf("header crc mismatch")) {
		t.Error("errors.Is should not match a plain error")
	}

	wrapped := fmt.Errorf("read frame: %w", detailed)
	if !errors.Is(wrapped, ErrHeaderCRC) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestDomainError_WithCause(t *testing.T) {
	cause := fmt.Errorf("connection reset by peer")
	err := ErrSocket.WithCause(cause)

	if ErrSocket.Cause != nil {
		t.Error("WithCause should not modify the sentinel")
	}
	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if err.Code != ErrSocket.Code {
		t.Errorf("Code = %q, want %q", err.Code, ErrSocket.Code)
	}
	if got := ErrSocket.Wrap(cause).Cause; got != cause {
		t.Errorf("Wrap() cause = %v, want %v", got, cause)
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrTransaction, "SM-TRN-4000"},
		{"wrapped domain error", fmt.Errorf("x: %w", ErrSequenceViolation), "SM-FRM-4006"},
		{"regular error", fmt.Errorf("regular"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsDomainError(t *testing.T) {
	if !IsDomainError(ErrBadMagic, "") {
		t.Error("IsDomainError(\"\") should accept any DomainError")
	}
	if !IsDomainError(ErrBadMagic, "SM-FRM-4001") {
		t.Error("IsDomainError should match its own code")
	}
	if IsDomainError(errors.New("plain"), "") {
		t.Error("IsDomainError should reject plain errors")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		fatal bool
	}{
		{ErrBadMagic, true},
		{ErrAuxCRC, true},
		{ErrSequenceViolation, true},
		{ErrSocket.WithCause(errors.New("reset")), true},
		{ErrQueueOverflow, true},
		{ErrTransaction, false},
		{ErrAlreadyTerminated, false},
		{ErrInvalidConfig, false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}
