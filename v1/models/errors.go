package models

import (
	"errors"
	"fmt"
	"time"
)

// MemberErrorCode is the machine readable code returned in error responses
type MemberErrorCode string

const (
	ErrorCodeValidation          MemberErrorCode = "VALIDATION_ERROR"
	ErrorCodeDuplicateIdentifier MemberErrorCode = "DUPLICATE_IDENTIFIER"
	ErrorCodeMemberNotFound      MemberErrorCode = "MEMBER_NOT_FOUND"
	ErrorCodeScanThrottled       MemberErrorCode = "SCAN_THROTTLED"
	ErrorCodeMethodNotAllowed    MemberErrorCode = "METHOD_NOT_ALLOWED"
	ErrorCodeBadRequest          MemberErrorCode = "BAD_REQUEST"
	ErrorCodeInternalError       MemberErrorCode = "INTERNAL_ERROR"
)

// Domain errors. Storage implementations translate driver errors into these.
var (
	ErrValidation      = errors.New("validation error")
	ErrDuplicateMember = errors.New("member with this ID already exists")
	ErrMemberNotFound  = errors.New("member not found")
	ErrScanThrottled   = errors.New("you can only scan once per day. Please come back tomorrow")

	// ErrScanNotAllowed is returned by the store when the conditional scan update did not match
	ErrScanNotAllowed = errors.New("scan predicate not satisfied")

	// ErrEncoding is returned when a QR payload cannot be produced or read
	ErrEncoding = errors.New("qr encoding error")
)

// ScanThrottledError carries the remaining wait before the member may be scanned again
type ScanThrottledError struct {
	MemberID   int64
	RetryAfter time.Duration
}

func (e *ScanThrottledError) Error() string {
	return fmt.Sprintf("member %d: %s (retry after %s)", e.MemberID, ErrScanThrottled.Error(), e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrScanThrottled) match
func (e *ScanThrottledError) Is(target error) bool {
	return target == ErrScanThrottled
}

// NewValidationError wraps a field level message with ErrValidation
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
