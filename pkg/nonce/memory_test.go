package nonce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idsite/pkg/observability"
)

func TestNewMemoryStore_Validation(t *testing.T) {
	_, err := NewMemoryStore(0, time.Minute, nil)
	assert.Error(t, err)

	_, err = NewMemoryStore(10, 0, nil)
	assert.Error(t, err)

	store, err := NewMemoryStore(10, time.Minute, nil)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestMemoryStore_PutIfAbsent(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(10, time.Minute, nil)
	require.NoError(t, err)

	has, err := store.Has(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, has)

	stored, err := store.PutIfAbsent(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = store.PutIfAbsent(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, stored, "second put of the same nonce must fail")

	has, err = store.Has(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, has)

	stored, err = store.PutIfAbsent(ctx, "n2")
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(10, 50*time.Millisecond, nil)
	require.NoError(t, err)

	stored, err := store.PutIfAbsent(ctx, "short-lived")
	require.NoError(t, err)
	require.True(t, stored)

	time.Sleep(120 * time.Millisecond)

	has, err := store.Has(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, has)

	stored, err = store.PutIfAbsent(ctx, "short-lived")
	require.NoError(t, err)
	assert.True(t, stored, "an expired nonce can be recorded again")
}

func TestMemoryStore_ConcurrentPut(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(100, time.Minute, nil)
	require.NoError(t, err)

	const workers = 64
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			stored, err := store.PutIfAbsent(ctx, "shared")
			assert.NoError(t, err)
			if stored {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemoryStore_Metrics(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store, err := NewMemoryStore(1, time.Minute, metrics)
	require.NoError(t, err)

	_, _ = store.PutIfAbsent(ctx, "a")
	_, _ = store.PutIfAbsent(ctx, "a")
	_, _ = store.PutIfAbsent(ctx, "b") // evicts "a"

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.NonceOperationsTotal.WithLabelValues("memory", "put", "stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NonceOperationsTotal.WithLabelValues("memory", "put", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NonceEvictionsTotal.WithLabelValues("memory")))
}

func TestMemoryStore_ExpiryIsNotEviction(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store, err := NewMemoryStore(1000, 50*time.Millisecond, metrics)
	require.NoError(t, err)

	for _, n := range []string{"a", "b", "c"} {
		stored, err := store.PutIfAbsent(ctx, n)
		require.NoError(t, err)
		require.True(t, stored)
	}

	assert.Eventually(t, func() bool { return store.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.NonceEvictionsTotal.WithLabelValues("memory")))
}
