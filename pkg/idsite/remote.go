package idsite

import (
	"fmt"
)

// RemoteCause classifies an error code reported by ID Site.
type RemoteCause string

const (
	CauseInvalidToken          RemoteCause = "invalid_token"
	CauseIssuedInFuture        RemoteCause = "issued_at_in_future"
	CauseExpiredToken          RemoteCause = "expired_token"
	CauseOrganizationNotFound  RemoteCause = "organization_not_found"
	CauseOrganizationDisabled  RemoteCause = "organization_disabled"
	CauseOrganizationNotMapped RemoteCause = "organization_not_mapped"
	CauseSessionTimeout        RemoteCause = "session_timeout"
)

// remoteCauses is closed: a code missing here is reported as unrecognized.
var remoteCauses = map[int]RemoteCause{
	10011: CauseInvalidToken,
	10012: CauseIssuedInFuture,
	10013: CauseExpiredToken,
	11001: CauseOrganizationNotFound,
	11002: CauseOrganizationDisabled,
	11003: CauseOrganizationNotMapped,
	12001: CauseSessionTimeout,
}

// RemoteError is the content of the err claim of a response token.
type RemoteError struct {
	Code             int         `json:"code"`
	Status           int         `json:"status"`
	Message          string      `json:"message,omitempty"`
	DeveloperMessage string      `json:"developerMessage,omitempty"`
	MoreInfo         string      `json:"moreInfo,omitempty"`
	RequestID        string      `json:"requestId,omitempty"`
	Cause            RemoteCause `json:"cause,omitempty"`
}

func (r *RemoteError) Error() string {
	msg := r.DeveloperMessage
	if msg == "" {
		msg = r.Message
	}
	s := fmt.Sprintf("HTTP %d, code %d: %s", r.Status, r.Code, msg)
	if r.RequestID != "" {
		s += fmt.Sprintf(" (request id %s)", r.RequestID)
	}
	return s
}

// parseRemoteError reads the err claim. Numeric fields may arrive as numbers or strings.
func parseRemoteError(claims Claims, requestID string) (*RemoteError, error) {
	raw, ok := claims.Map(ClaimError)
	if !ok {
		return nil, newErrorf(ErrCodeMalformedToken, "claim %q is not an object", ClaimError)
	}
	obj := Claims(raw)

	code, err := obj.Int64("code")
	if err != nil {
		return nil, newErrorf(ErrCodeMalformedToken, "error code: %w", err)
	}
	status, _ := obj.Int64("status")
	remote := &RemoteError{
		Code:      int(code),
		Status:    int(status),
		RequestID: requestID,
	}
	remote.Message, _ = obj.String("message")
	remote.DeveloperMessage, _ = obj.String("developerMessage")
	remote.MoreInfo, _ = obj.String("moreInfo")
	return remote, nil
}

// classifyRemoteError turns a reported error into the returned *Error.
// Session timeouts get their own code, every other known code is a RemoteError,
// and unknown codes fail as UnrecognizedRemoteError.
func classifyRemoteError(remote *RemoteError) *Error {
	cause, ok := remoteCauses[remote.Code]
	if !ok {
		e := newError(ErrCodeUnrecognizedRemoteError, nil)
		e.Remote = remote
		return e
	}
	remote.Cause = cause

	code := ErrCodeRemoteError
	if cause == CauseSessionTimeout {
		code = ErrCodeSessionTimeout
	}
	e := newError(code, nil)
	e.Remote = remote
	return e
}

// LookupRemoteCause returns the classification of an ID Site error code.
func LookupRemoteCause(code int) (RemoteCause, bool) {
	c, ok := remoteCauses[code]
	return c, ok
}
