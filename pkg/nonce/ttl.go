package nonce

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTTL keeps nonces long enough for ID Site's default response lifetime.
const DefaultTTL = 10 * time.Minute

// ErrTTLTooShort is returned when a store would forget nonces while the tokens
// carrying them can still pass the expiry check.
var ErrTTLTooShort = errors.New("nonce TTL must exceed token max age plus clock skew")

// ValidateTTL checks that ttl outlives maxAge + skew.
func ValidateTTL(ttl, maxAge, skew time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("nonce TTL must be positive, got %s", ttl)
	}
	if maxAge <= 0 {
		return fmt.Errorf("token max age must be positive, got %s", maxAge)
	}
	if skew < 0 {
		return fmt.Errorf("clock skew must not be negative, got %s", skew)
	}
	if ttl <= maxAge+skew {
		return fmt.Errorf("%w: ttl=%s max_age=%s skew=%s", ErrTTLTooShort, ttl, maxAge, skew)
	}
	return nil
}
