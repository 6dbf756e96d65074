package idsite

import (
	"context"
	"fmt"
)

// Status is the outcome ID Site reports in the status claim.
type Status string

const (
	StatusRegistered    Status = "REGISTERED"
	StatusAuthenticated Status = "AUTHENTICATED"
	StatusLogout        Status = "LOGOUT"
)

// ParseStatus maps a status claim to a Status. Unknown values are rejected.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRegistered, StatusAuthenticated, StatusLogout:
		return Status(s), nil
	default:
		return "", newErrorf(ErrCodeUnknownStatus, "status %q", s)
	}
}

func (s Status) String() string {
	return string(s)
}

// AccountResult is the validated outcome of an ID Site callback.
type AccountResult struct {
	// AccountHref is empty only for LOGOUT results.
	AccountHref  string `json:"account_href,omitempty"`
	IsNewAccount bool   `json:"is_new_account"`
	State        string `json:"state,omitempty"`
	Status       Status `json:"status"`
}

// HasAccount reports whether the result references an account.
func (r *AccountResult) HasAccount() bool {
	return r.AccountHref != ""
}

// ResultListener receives validated results. Listeners run synchronously on the
// request goroutine, in registration order, before AccountResult returns.
type ResultListener interface {
	OnResult(ctx context.Context, result *AccountResult)
}

// ResultListenerFunc adapts a function to ResultListener.
type ResultListenerFunc func(ctx context.Context, result *AccountResult)

// OnResult implements ResultListener.
func (f ResultListenerFunc) OnResult(ctx context.Context, result *AccountResult) {
	f(ctx, result)
}

// ListenerFuncs dispatches a result to the callback matching its status.
// Nil callbacks are skipped.
type ListenerFuncs struct {
	OnRegistered    func(ctx context.Context, result *AccountResult)
	OnAuthenticated func(ctx context.Context, result *AccountResult)
	OnLogout        func(ctx context.Context, result *AccountResult)
}

// OnResult implements ResultListener.
func (l ListenerFuncs) OnResult(ctx context.Context, result *AccountResult) {
	var fn func(context.Context, *AccountResult)
	switch result.Status {
	case StatusRegistered:
		fn = l.OnRegistered
	case StatusAuthenticated:
		fn = l.OnAuthenticated
	case StatusLogout:
		fn = l.OnLogout
	default:
		panic(fmt.Sprintf("idsite: unhandled status %q", result.Status))
	}
	if fn != nil {
		fn(ctx, result)
	}
}
