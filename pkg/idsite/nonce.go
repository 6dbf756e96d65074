package idsite

import "context"

// NonceStore remembers response ids (the irt claim) so a token is accepted once.
//
// PutIfAbsent must be a single atomic insert-if-absent: when several callers race
// on the same nonce exactly one of them observes true. Entries must outlive the
// longest window in which a response token can still pass the expiry check.
type NonceStore interface {
	Has(ctx context.Context, nonce string) (bool, error)
	PutIfAbsent(ctx context.Context, nonce string) (bool, error)
}
