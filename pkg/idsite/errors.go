package idsite

import (
	"errors"
	"fmt"
)

// ErrorCode identifies why an ID Site operation failed.
type ErrorCode string

const (
	ErrCodeMissingToken            ErrorCode = "missing_token"
	ErrCodeUnsupportedMethod       ErrorCode = "unsupported_method"
	ErrCodeMalformedToken          ErrorCode = "malformed_token"
	ErrCodeInvalidKeyID            ErrorCode = "invalid_key_id"
	ErrCodeInvalidSignature        ErrorCode = "invalid_signature"
	ErrCodeMissingClaim            ErrorCode = "missing_claim"
	ErrCodeExpired                 ErrorCode = "token_expired"
	ErrCodeReplayedToken           ErrorCode = "replayed_token"
	ErrCodeMissingSubject          ErrorCode = "missing_subject"
	ErrCodeUnknownStatus           ErrorCode = "unknown_status"
	ErrCodeRemoteError             ErrorCode = "remote_error"
	ErrCodeSessionTimeout          ErrorCode = "session_timeout"
	ErrCodeUnrecognizedRemoteError ErrorCode = "unrecognized_remote_error"
	ErrCodeIllegalState            ErrorCode = "illegal_state"
	ErrCodeNonceStoreFailure       ErrorCode = "nonce_store_failure"
	ErrCodeKeyUnavailable          ErrorCode = "key_unavailable"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeMissingToken:            "Missing jwtResponse parameter",
	ErrCodeUnsupportedMethod:       "Unsupported HTTP method",
	ErrCodeMalformedToken:          "Malformed token",
	ErrCodeInvalidKeyID:            "Token was not signed with the expected key",
	ErrCodeInvalidSignature:        "Invalid token signature",
	ErrCodeMissingClaim:            "Required claim is missing",
	ErrCodeExpired:                 "Token expired",
	ErrCodeReplayedToken:           "Token has already been used",
	ErrCodeMissingSubject:          "Account href is required unless the status is LOGOUT",
	ErrCodeUnknownStatus:           "Unknown result status",
	ErrCodeRemoteError:             "ID Site returned an error",
	ErrCodeSessionTimeout:          "ID Site session timed out",
	ErrCodeUnrecognizedRemoteError: "Unrecognized ID Site error type",
	ErrCodeIllegalState:            "Illegal state",
	ErrCodeNonceStoreFailure:       "Nonce store failure",
	ErrCodeKeyUnavailable:          "Signing key unavailable",
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrMissingToken            = &Error{Code: ErrCodeMissingToken}
	ErrUnsupportedMethod       = &Error{Code: ErrCodeUnsupportedMethod}
	ErrMalformedToken          = &Error{Code: ErrCodeMalformedToken}
	ErrInvalidKeyID            = &Error{Code: ErrCodeInvalidKeyID}
	ErrInvalidSignature        = &Error{Code: ErrCodeInvalidSignature}
	ErrMissingClaim            = &Error{Code: ErrCodeMissingClaim}
	ErrExpired                 = &Error{Code: ErrCodeExpired}
	ErrReplayedToken           = &Error{Code: ErrCodeReplayedToken}
	ErrMissingSubject          = &Error{Code: ErrCodeMissingSubject}
	ErrUnknownStatus           = &Error{Code: ErrCodeUnknownStatus}
	ErrRemoteError             = &Error{Code: ErrCodeRemoteError}
	ErrSessionTimeout          = &Error{Code: ErrCodeSessionTimeout}
	ErrUnrecognizedRemoteError = &Error{Code: ErrCodeUnrecognizedRemoteError}
	ErrIllegalState            = &Error{Code: ErrCodeIllegalState}
	ErrNonceStoreFailure       = &Error{Code: ErrCodeNonceStoreFailure}
	ErrKeyUnavailable          = &Error{Code: ErrCodeKeyUnavailable}
)

// Error wraps ID Site failures with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error

	// Remote is set for errors reported by ID Site through the err claim.
	Remote *RemoteError
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Remote != nil {
		base = fmt.Sprintf("%s: %s", base, e.Remote)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, err error) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func newErrorf(code ErrorCode, format string, args ...interface{}) *Error {
	return newError(code, fmt.Errorf(format, args...))
}

func missingClaim(name string) *Error {
	return newErrorf(ErrCodeMissingClaim, "claim %q", name)
}
