package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/idsite/pkg/observability"
)

const backendMemory = "memory"

// DefaultMemorySize bounds the number of nonces kept by a MemoryStore.
const DefaultMemorySize = 100000

// MemoryStore keeps nonces in an expiring LRU. It is only correct for a single
// process; use RedisStore or SQLStore when several instances share callbacks.
//
// When more than size nonces are live at once the oldest are evicted early,
// which reopens a replay window for them. Size the store for peak login rate
// times TTL and watch idsite_nonce_evictions_total, which counts only those
// capacity evictions and never ordinary expiry.
type MemoryStore struct {
	mu      sync.Mutex
	cache   *lru.LRU[string, struct{}]
	metrics *observability.Metrics
}

// NewMemoryStore creates a store holding up to size nonces for ttl each.
func NewMemoryStore(size int, ttl time.Duration, metrics *observability.Metrics) (*MemoryStore, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory nonce store size must be positive, got %d", size)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("memory nonce store TTL must be positive, got %s", ttl)
	}

	return &MemoryStore{
		cache:   lru.NewLRU[string, struct{}](size, nil, ttl),
		metrics: metrics,
	}, nil
}

// Has reports whether nonce is recorded and not expired.
func (s *MemoryStore) Has(_ context.Context, nonce string) (bool, error) {
	start := time.Now()
	_, ok := s.cache.Peek(nonce)
	s.metrics.ObserveNonceOperation(backendMemory, "has", hitResult(ok), start)
	return ok, nil
}

// PutIfAbsent records nonce unless a live entry exists.
func (s *MemoryStore) PutIfAbsent(_ context.Context, nonce string) (bool, error) {
	start := time.Now()

	var evicted bool
	s.mu.Lock()
	_, exists := s.cache.Peek(nonce)
	if !exists {
		evicted = s.cache.Add(nonce, struct{}{})
	}
	s.mu.Unlock()

	if evicted && s.metrics != nil {
		s.metrics.NonceEvictionsTotal.WithLabelValues(backendMemory).Inc()
	}

	s.metrics.ObserveNonceOperation(backendMemory, "put", putResult(!exists), start)
	return !exists, nil
}

// Len returns the number of entries, including expired ones not yet reaped.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func hitResult(ok bool) string {
	if ok {
		return "hit"
	}
	return "miss"
}

func putResult(stored bool) string {
	if stored {
		return "stored"
	}
	return "duplicate"
}
