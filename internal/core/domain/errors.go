package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError represents an error with a stable, structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "SM-FRM-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Framing Errors (FRM)
// ============================================================================

var (
	// ErrSync indicates the stream lost frame synchronization.
	ErrSync = NewDomainError("SM-FRM-4000", "frame sync lost")

	// ErrBadMagic indicates the header magic matched neither byte order.
	ErrBadMagic = NewDomainError("SM-FRM-4001", "bad header magic")

	// ErrFieldOverflow indicates a header or payload size field is out of range.
	ErrFieldOverflow = NewDomainError("SM-FRM-4002", "header field overflow")

	// ErrHeaderCRC indicates the header checksum did not match.
	ErrHeaderCRC = NewDomainError("SM-FRM-4003", "header crc mismatch")

	// ErrExtHeaderCRC indicates the extended header checksum did not match.
	ErrExtHeaderCRC = NewDomainError("SM-FRM-4004", "extended header crc mismatch")

	// ErrAuxCRC indicates the auxiliary payload checksum did not match.
	ErrAuxCRC = NewDomainError("SM-FRM-4005", "aux payload crc mismatch")

	// ErrSequenceViolation indicates a frame arrived out of sequence.
	ErrSequenceViolation = NewDomainError("SM-FRM-4006", "sequence violation")

	// ErrShortBuffer indicates a buffer is smaller than the structure it must hold.
	ErrShortBuffer = NewDomainError("SM-FRM-4007", "short buffer")

	// ErrDecrypt indicates the link filter rejected a record.
	ErrDecrypt = NewDomainError("SM-FRM-4008", "record decryption failed")
)

// ============================================================================
// Socket Errors (SOK)
// ============================================================================

var (
	// ErrEOF indicates the peer closed the link.
	ErrEOF = NewDomainError("SM-SOK-4000", "link closed by peer")

	// ErrSocket indicates a read or write failure on the link.
	ErrSocket = NewDomainError("SM-SOK-5000", "socket error")

	// ErrQueueOverflow indicates the transmit queue exceeded its bound.
	ErrQueueOverflow = NewDomainError("SM-SOK-5001", "transmit queue overflow")

	// ErrConnClosed indicates an operation on a link that has terminated.
	ErrConnClosed = NewDomainError("SM-SOK-5002", "link closed")

	// ErrHandshake indicates the link handshake failed.
	ErrHandshake = NewDomainError("SM-SOK-5003", "handshake failed")
)

// ============================================================================
// Transaction Errors (TRN)
// ============================================================================

var (
	// ErrTransaction indicates a message violated the transaction protocol.
	ErrTransaction = NewDomainError("SM-TRN-4000", "transaction protocol error")

	// ErrAlreadyTerminated indicates an abort raced with an earlier termination.
	ErrAlreadyTerminated = NewDomainError("SM-TRN-4001", "transaction already terminated")

	// ErrNotSupported indicates the peer does not handle the command.
	ErrNotSupported = NewDomainError("SM-TRN-4002", "command not supported")

	// ErrTransactionClosed indicates a send on a transaction that already sent DELETE.
	ErrTransactionClosed = NewDomainError("SM-TRN-4003", "transaction closed")
)

// ============================================================================
// Configuration Errors (CFG)
// ============================================================================

var (
	// ErrInvalidConfig indicates the configuration failed verification.
	ErrInvalidConfig = NewDomainError("SM-CFG-4000", "invalid configuration")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an internal error.
	ErrInternal = NewDomainError("SM-SYS-5000", "internal error")

	// ErrStorage indicates a local storage failure.
	ErrStorage = NewDomainError("SM-SYS-5001", "storage error")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = NewDomainError("SM-SYS-4040", "not found")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("SM-SYS-4290", "too many requests")

	// ErrInvalidArgument indicates a malformed admin request.
	ErrInvalidArgument = NewDomainError("SM-SYS-4000", "invalid argument")

	// ErrForbidden indicates the caller is not allowed to use the admin API.
	ErrForbidden = NewDomainError("SM-SYS-4030", "forbidden")

	// ErrUnavailable indicates the node is not serving yet or any more.
	ErrUnavailable = NewDomainError("SM-SYS-5030", "unavailable")
)

// IsFatal reports whether err terminates the link it occurred on.
// Framing and socket errors are fatal; transaction errors are not.
func IsFatal(err error) bool {
	code := GetErrorCode(err)
	return strings.HasPrefix(code, "SM-FRM-") || strings.HasPrefix(code, "SM-SOK-")
}
